// Package testutil provides fixtures for testing artifact resolution in
// isolation: a throwaway signing keypair and an HTTP server that mimics a
// release download host, serving files with detached signature siblings.
package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// Keypair is an ephemeral signing identity for tests.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// NewKeypair generates a fresh Ed25519 keypair.
func NewKeypair(t *testing.T) *Keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return &Keypair{Public: pub, Private: priv}
}

// Sign produces a raw detached signature over payload.
func (k *Keypair) Sign(payload []byte) []byte {
	return ed25519.Sign(k.Private, payload)
}

// ReleaseServer serves release files and their detached signatures over
// HTTP. Paths are opaque; whatever path a file is added under is the path
// it is served at, with the signature at the same path plus ".sig".
type ReleaseServer struct {
	Server   *httptest.Server
	Keys     *Keypair
	files    map[string][]byte
	requests atomic.Int64
}

// NewReleaseServer starts a release fixture server. The server is shut
// down automatically when the test ends.
func NewReleaseServer(t *testing.T) *ReleaseServer {
	t.Helper()
	rs := &ReleaseServer{
		Keys:  NewKeypair(t),
		files: make(map[string][]byte),
	}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.handle))
	t.Cleanup(rs.Server.Close)
	return rs
}

// URL returns the base URL of the server, ending in "/".
func (rs *ReleaseServer) URL() string {
	return rs.Server.URL + "/"
}

// AddFile serves content at path with a valid signature sibling.
func (rs *ReleaseServer) AddFile(path string, content []byte) {
	rs.files[path] = content
	rs.files[path+".sig"] = rs.Keys.Sign(content)
}

// AddFileBadSignature serves content at path with a signature that does
// not verify.
func (rs *ReleaseServer) AddFileBadSignature(path string, content []byte) {
	rs.files[path] = content
	sig := rs.Keys.Sign(content)
	sig[0] ^= 0xff
	rs.files[path+".sig"] = sig
}

// AddRaw serves content at path with no signature sibling.
func (rs *ReleaseServer) AddRaw(path string, content []byte) {
	rs.files[path] = content
}

// Requests returns the number of HTTP requests the server has handled.
func (rs *ReleaseServer) Requests() int64 {
	return rs.requests.Load()
}

func (rs *ReleaseServer) handle(w http.ResponseWriter, r *http.Request) {
	rs.requests.Add(1)
	content, ok := rs.files[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
