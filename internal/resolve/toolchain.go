package resolve

import "os/exec"

// ToolchainDetector reports whether a local build toolchain is available.
// In auto mode a download failure only falls back to a local build when
// one is.
type ToolchainDetector interface {
	Available() bool
}

// CargoDetector looks for cargo on PATH.
type CargoDetector struct{}

// Available reports whether cargo can be found.
func (CargoDetector) Available() bool {
	_, err := exec.LookPath("cargo")
	return err == nil
}

// StaticToolchain is a fixed-answer detector for tests.
type StaticToolchain bool

// Available returns the fixed answer.
func (s StaticToolchain) Available() bool { return bool(s) }
