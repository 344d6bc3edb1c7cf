// Package buildid computes the deterministic build identity for a crate.
//
// The identity covers every build-affecting input: the crate descriptor, the
// lockfile, the optional project config, and the optional interface
// definition. Identical byte content of the present inputs and an identical
// absence pattern of the optional ones produce the same BuildId on every
// platform and in every consumer implementation.
package buildid

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Canonical input names. These are part of the hashed wire contract and
// must never change without bumping HashVersion.
const (
	inputDescriptor   = "cargo.toml"
	inputLockfile     = "cargo.lock"
	inputConfig       = "libforge.yaml"
	inputInterfaceDef = "uniffi.udl"
)

var (
	// ErrDescriptorMissing indicates the crate descriptor is absent.
	ErrDescriptorMissing = errors.New("crate descriptor not found")

	// ErrLockfileMissing indicates no lockfile exists in the crate
	// directory or any ancestor.
	ErrLockfileMissing = errors.New("lockfile not found in crate directory or any ancestor")
)

// Input is one named build input. A nil Content records explicit absence;
// absence is hashed, not omitted.
type Input struct {
	Name    string
	Content *string
}

// CollectInputs reads the fixed input set for the crate at crateDir.
//
// Cargo.toml must exist in crateDir. Cargo.lock is located by walking
// ancestor directories up to the filesystem root, matching workspace
// layouts. libforge.yaml and the UniFFI UDL are optional.
func CollectInputs(crateDir string) ([]Input, error) {
	descriptor, err := readRequired(filepath.Join(crateDir, "Cargo.toml"), ErrDescriptorMissing)
	if err != nil {
		return nil, err
	}

	lockfile, err := findLockfile(crateDir)
	if err != nil {
		return nil, err
	}

	projectConfig, err := readOptional(filepath.Join(crateDir, "libforge.yaml"))
	if err != nil {
		return nil, err
	}

	interfaceDef, err := findInterfaceDefinition(crateDir)
	if err != nil {
		return nil, err
	}

	return []Input{
		{Name: inputDescriptor, Content: &descriptor},
		{Name: inputLockfile, Content: &lockfile},
		{Name: inputConfig, Content: projectConfig},
		{Name: inputInterfaceDef, Content: interfaceDef},
	}, nil
}

func readRequired(path string, missing error) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", missing, path)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func readOptional(path string) (*string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)
	return &content, nil
}

// findLockfile walks from crateDir up to the filesystem root.
func findLockfile(crateDir string) (string, error) {
	current, err := filepath.Abs(crateDir)
	if err != nil {
		return "", fmt.Errorf("resolve crate dir: %w", err)
	}
	for {
		path := filepath.Join(current, "Cargo.lock")
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%w: searched from %s", ErrLockfileMissing, crateDir)
		}
		current = parent
	}
}

// findInterfaceDefinition looks for a single .udl file in crateDir, then in
// crateDir/src. The lexically first match wins so the choice is stable.
func findInterfaceDefinition(crateDir string) (*string, error) {
	for _, dir := range []string{crateDir, filepath.Join(crateDir, "src")} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		var candidates []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".udl") {
				continue
			}
			candidates = append(candidates, filepath.Join(dir, entry.Name()))
		}
		if len(candidates) == 0 {
			continue
		}
		sort.Strings(candidates)
		return readOptional(candidates[0])
	}
	return nil, nil
}
