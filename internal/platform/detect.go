// Package platform detects the running target triple and selects the
// manifest entry that serves it.
package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// Detector is the interface for target triple detection. The CLI's --target
// flag and tests substitute their own implementation.
type Detector interface {
	Detect(ctx context.Context) (string, error)
}

// RealDetector implements Detector using the actual host.
type RealDetector struct{}

// NewDetector creates a platform detector for the running host.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect maps the running OS and architecture to a Rust-style target triple.
//
// On Linux the libc flavor matters: Alpine-family hosts get the musl
// triple. Distribution detection failures degrade gracefully to the glibc
// triple; most hosts are glibc, and a wrong guess surfaces later as
// PlatformNotFound rather than a crash.
func (d *RealDetector) Detect(ctx context.Context) (string, error) {
	arch, err := tripleArch(runtime.GOARCH)
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "linux":
		abi := "gnu"
		if isMuslHost(ctx) {
			abi = "musl"
		}
		return fmt.Sprintf("%s-unknown-linux-%s", arch, abi), nil
	case "darwin":
		return fmt.Sprintf("%s-apple-darwin", arch), nil
	case "windows":
		return fmt.Sprintf("%s-pc-windows-msvc", arch), nil
	case "android":
		return fmt.Sprintf("%s-linux-android", arch), nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// tripleArch converts GOARCH values to triple architecture names.
func tripleArch(goarch string) (string, error) {
	switch goarch {
	case "amd64":
		return "x86_64", nil
	case "arm64":
		return "aarch64", nil
	case "386":
		return "i686", nil
	case "arm":
		return "armv7", nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", goarch)
	}
}

// isMuslHost reports whether the Linux host is an Alpine-family system.
// Detection failures fall back to false.
func isMuslHost(ctx context.Context) bool {
	platform, family, _, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		return false
	}
	for _, value := range []string{platform, family} {
		if strings.Contains(strings.ToLower(value), "alpine") {
			return true
		}
	}
	return false
}

// LibraryExtension returns the shared-library file extension for a triple.
func LibraryExtension(triple string) string {
	switch {
	case strings.Contains(triple, "windows"):
		return ".dll"
	case strings.Contains(triple, "apple"):
		return ".dylib"
	default:
		return ".so"
	}
}

// StaticTriple is a Detector that always returns a fixed triple. Used for
// the --target override and in tests.
type StaticTriple string

// Detect returns the fixed triple.
func (s StaticTriple) Detect(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty target triple")
	}
	return string(s), nil
}
