package resolve

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stax/libforge-go/internal/platform"
	"github.com/stax/libforge-go/internal/release"
	"github.com/stax/libforge-go/internal/testutil"
)

const (
	testBuildID = "b1-1111111111111111111111111111111111111111111111111111111111111111"
	testTriple  = "x86_64-unknown-linux-gnu"
)

// writeCrate lays out a crate directory configured against the fixture
// server.
func writeCrate(t *testing.T, server *testutil.ReleaseServer, mode string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"Cargo.toml": "[package]\nname = \"demo\"\n",
		"Cargo.lock": "# lockfile\n",
		"libforge.yaml": fmt.Sprintf(
			"precompiled_binaries:\n  repository: stax/demo\n  public_key: %s\n  url_prefix: %s\n  mode: %s\n",
			hex.EncodeToString(server.Keys.Public), server.URL(), mode),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func libraryArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	content := []byte("shared object bytes")
	if err := tw.WriteHeader(&tar.Header{
		Name: "lib/libdemo.so", Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func publishRelease(t *testing.T, server *testutil.ReleaseServer) {
	t.Helper()
	manifest := fmt.Sprintf(`{"platforms":[{"name":%q,"artifacts":["libdemo.tar.gz"]}]}`, testTriple)
	server.AddFile("/"+testBuildID+"/manifest.json", []byte(manifest))
	server.AddFile("/"+testBuildID+"/libdemo.tar.gz", libraryArchive(t))
}

func newTestResolver(toolchain bool) *Resolver {
	return NewWith(platform.StaticTriple(testTriple), StaticToolchain(toolchain), nil)
}

func TestResolveDownloads(t *testing.T) {
	server := testutil.NewReleaseServer(t)
	publishRelease(t, server)
	crate := writeCrate(t, server, "auto")

	res := newTestResolver(true).Resolve(context.Background(), Options{
		CrateDir: crate,
		BuildID:  testBuildID,
		CacheDir: t.TempDir(),
	})
	if res.Kind != KindDownloaded {
		t.Fatalf("Kind = %v, reason=%q err=%v", res.Kind, res.Reason, res.Err)
	}
	if filepath.Base(res.LibraryPath) != "libdemo.so" {
		t.Errorf("LibraryPath = %q", res.LibraryPath)
	}
	data, err := os.ReadFile(res.LibraryPath)
	if err != nil {
		t.Fatalf("read resolved library: %v", err)
	}
	if string(data) != "shared object bytes" {
		t.Errorf("library content mismatch")
	}
	if res.BuildID != testBuildID || res.Triple != testTriple {
		t.Errorf("metadata: buildId=%q triple=%q", res.BuildID, res.Triple)
	}
}

func TestResolveComputesBuildIDWhenUnset(t *testing.T) {
	server := testutil.NewReleaseServer(t)
	crate := writeCrate(t, server, "always")

	res := newTestResolver(true).Resolve(context.Background(), Options{
		CrateDir: crate,
		CacheDir: t.TempDir(),
	})
	// No release is published for the computed identity, so resolution
	// fails, but the identity itself must have been established.
	if res.Kind != KindFatal {
		t.Fatalf("Kind = %v", res.Kind)
	}
	if len(res.BuildID) != len("b1-")+64 || res.BuildID[:3] != "b1-" {
		t.Errorf("BuildID = %q", res.BuildID)
	}
}

func TestResolveNoConfigFallsBack(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := newTestResolver(false).Resolve(context.Background(), Options{CrateDir: dir})
	if res.Kind != KindFallback {
		t.Fatalf("Kind = %v, err=%v", res.Kind, res.Err)
	}
}

func TestResolveModeNeverSkipsNetwork(t *testing.T) {
	server := testutil.NewReleaseServer(t)
	publishRelease(t, server)
	crate := writeCrate(t, server, "never")

	res := newTestResolver(true).Resolve(context.Background(), Options{
		CrateDir: crate,
		BuildID:  testBuildID,
		CacheDir: t.TempDir(),
	})
	if res.Kind != KindFallback {
		t.Fatalf("Kind = %v", res.Kind)
	}
	if server.Requests() != 0 {
		t.Errorf("mode never made %d network requests", server.Requests())
	}
}

func TestResolveInvalidConfigIsFatal(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"Cargo.toml":    "[package]\n",
		"libforge.yaml": "precompiled_binaries:\n  repository: stax/demo\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	res := newTestResolver(true).Resolve(context.Background(), Options{CrateDir: dir})
	if res.Kind != KindFatal {
		t.Fatalf("Kind = %v", res.Kind)
	}
}

func TestResolveStageFailureRouting(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		toolchain bool
		want      Kind
	}{
		{name: "auto with toolchain falls back", mode: "auto", toolchain: true, want: KindFallback},
		{name: "auto without toolchain is fatal", mode: "auto", toolchain: false, want: KindFatal},
		{name: "always is fatal regardless of toolchain", mode: "always", toolchain: true, want: KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Empty server: the manifest fetch 404s.
			server := testutil.NewReleaseServer(t)
			crate := writeCrate(t, server, tt.mode)

			res := newTestResolver(tt.toolchain).Resolve(context.Background(), Options{
				CrateDir: crate,
				BuildID:  testBuildID,
				CacheDir: t.TempDir(),
			})
			if res.Kind != tt.want {
				t.Errorf("Kind = %v, want %v (reason=%q err=%v)", res.Kind, tt.want, res.Reason, res.Err)
			}
		})
	}
}

func TestResolveBadSignatureAlwaysIsFatal(t *testing.T) {
	server := testutil.NewReleaseServer(t)
	manifest := fmt.Sprintf(`{"platforms":[{"name":%q,"artifacts":["libdemo.tar.gz"]}]}`, testTriple)
	server.AddFileBadSignature("/"+testBuildID+"/manifest.json", []byte(manifest))
	crate := writeCrate(t, server, "always")

	res := newTestResolver(true).Resolve(context.Background(), Options{
		CrateDir: crate,
		BuildID:  testBuildID,
		CacheDir: t.TempDir(),
	})
	if res.Kind != KindFatal {
		t.Fatalf("Kind = %v", res.Kind)
	}
	if !errors.Is(res.Err, release.ErrManifestSignatureInvalid) {
		t.Errorf("Err = %v, want ErrManifestSignatureInvalid", res.Err)
	}
}

func TestResolvePlatformNotServed(t *testing.T) {
	server := testutil.NewReleaseServer(t)
	manifest := `{"platforms":[{"name":"aarch64-apple-darwin","artifacts":["lib.tar.gz"]}]}`
	server.AddFile("/"+testBuildID+"/manifest.json", []byte(manifest))
	crate := writeCrate(t, server, "auto")

	res := newTestResolver(true).Resolve(context.Background(), Options{
		CrateDir: crate,
		BuildID:  testBuildID,
		CacheDir: t.TempDir(),
	})
	if res.Kind != KindFallback {
		t.Fatalf("Kind = %v, err=%v", res.Kind, res.Err)
	}
}

func TestResolveTargetOverride(t *testing.T) {
	server := testutil.NewReleaseServer(t)
	manifest := `{"platforms":[{"name":"aarch64-apple-darwin","artifacts":["libdemo.tar.gz"]}]}`
	server.AddFile("/"+testBuildID+"/manifest.json", []byte(manifest))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	content := []byte("mach-o bytes")
	if err := tw.WriteHeader(&tar.Header{
		Name: "lib/libdemo.dylib", Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gz.Close()
	server.AddFile("/"+testBuildID+"/libdemo.tar.gz", buf.Bytes())

	crate := writeCrate(t, server, "always")
	res := newTestResolver(false).Resolve(context.Background(), Options{
		CrateDir: crate,
		BuildID:  testBuildID,
		Target:   "aarch64-apple-darwin",
		CacheDir: t.TempDir(),
	})
	if res.Kind != KindDownloaded {
		t.Fatalf("Kind = %v, err=%v", res.Kind, res.Err)
	}
	if filepath.Base(res.LibraryPath) != "libdemo.dylib" {
		t.Errorf("LibraryPath = %q", res.LibraryPath)
	}
}

func TestResolveRepeatUsesCache(t *testing.T) {
	server := testutil.NewReleaseServer(t)
	publishRelease(t, server)
	crate := writeCrate(t, server, "auto")
	cacheDir := t.TempDir()

	opts := Options{CrateDir: crate, BuildID: testBuildID, CacheDir: cacheDir}
	resolver := newTestResolver(true)

	first := resolver.Resolve(context.Background(), opts)
	if first.Kind != KindDownloaded {
		t.Fatalf("first Kind = %v", first.Kind)
	}
	before := server.Requests()

	second := resolver.Resolve(context.Background(), opts)
	if second.Kind != KindDownloaded {
		t.Fatalf("second Kind = %v", second.Kind)
	}
	if server.Requests() != before {
		t.Errorf("repeat resolution made %d network requests", server.Requests()-before)
	}
	if second.LibraryPath != first.LibraryPath {
		t.Errorf("library path changed between runs: %q vs %q", first.LibraryPath, second.LibraryPath)
	}
}
