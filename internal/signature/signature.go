// Package signature verifies detached Ed25519 signatures over release files.
//
// Every published file has a binary signature sibling at <file>.sig. The
// signature is a raw 64-byte Ed25519 signature over the full file content,
// verifiable with the 32-byte public key from the project configuration.
package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrInvalidPublicKey indicates a public key that is not valid hex or
	// does not decode to exactly 32 bytes.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSignature indicates a signature blob of the wrong length.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrSignatureMismatch indicates a well-formed signature that does not
	// verify against the payload and public key.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// PublicKeySize is the required public key length in bytes.
const PublicKeySize = ed25519.PublicKeySize

// SignatureSize is the required detached signature length in bytes.
const SignatureSize = ed25519.SignatureSize

// ParsePublicKeyHex decodes a hex-encoded Ed25519 public key.
func ParsePublicKeyHex(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not a hex string", ErrInvalidPublicKey)
	}
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Verify checks a detached signature over payload.
// It returns nil when the signature is valid, ErrSignatureMismatch when it
// is well-formed but does not verify, and a length error otherwise.
func Verify(publicKey ed25519.PublicKey, payload, sig []byte) error {
	if len(publicKey) != PublicKeySize {
		return fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(publicKey))
	}
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidSignature, SignatureSize, len(sig))
	}
	if !ed25519.Verify(publicKey, payload, sig) {
		return ErrSignatureMismatch
	}
	return nil
}
