// Package config loads the typed precompiled-binaries settings consumed by
// the resolution engine.
//
// Settings live in the `precompiled_binaries` block of libforge.yaml. The
// block is validated eagerly: a malformed repository, public key, or mode is
// rejected at load time, never silently defaulted. A missing file or missing
// block is a routing decision (ErrMissing), not an error.
package config

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stax/libforge-go/internal/logging"
	"github.com/stax/libforge-go/internal/signature"
)

// FileName is the project configuration file holding the
// precompiled_binaries block.
const FileName = "libforge.yaml"

var (
	// ErrMissing indicates no config file or no precompiled_binaries block
	// was found. Callers route to the local-build fallback on this.
	ErrMissing = errors.New("precompiled binaries config not present")

	// ErrInvalid indicates a present but malformed configuration.
	ErrInvalid = errors.New("invalid precompiled binaries config")
)

// Mode controls how aggressively the engine falls back to a local build.
type Mode int

const (
	// ModeAuto downloads when possible and falls back to a local build
	// when the toolchain is available. The default.
	ModeAuto Mode = iota
	// ModeAlways requires a verified download; any failure is fatal.
	ModeAlways
	// ModeNever skips downloading entirely.
	ModeNever
)

// String returns the canonical name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeAlways:
		return "always"
	case ModeNever:
		return "never"
	default:
		return "unknown"
	}
}

// ParseMode maps a config value to a Mode. Aliases accepted: "download" for
// always; "build", "off", and "disabled" for never. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "always", "download":
		return ModeAlways, nil
	case "never", "build", "off", "disabled":
		return ModeNever, nil
	default:
		return ModeAuto, fmt.Errorf("%w: unknown mode %q", ErrInvalid, s)
	}
}

// Settings holds the validated precompiled_binaries configuration.
type Settings struct {
	// Repository is the normalized "owner/repo" release source.
	Repository string
	// PublicKey is the 32-byte Ed25519 release signing key.
	PublicKey ed25519.PublicKey
	// URLPrefix is the download URL prefix ending before "<buildId>/<file>".
	// Empty means the default GitHub releases prefix for Repository.
	URLPrefix string
	// Mode is the fallback policy knob.
	Mode Mode
}

// precompiledYAML is the on-disk shape of the precompiled_binaries block.
type precompiledYAML struct {
	Repository string `yaml:"repository"`
	PublicKey  string `yaml:"public_key"`
	URLPrefix  string `yaml:"url_prefix"`
	Mode       string `yaml:"mode"`
}

// Load reads settings for the crate at dir. The config file is located by
// walking ancestor directories from dir to the filesystem root, matching how
// the producer resolves its settings.
func Load(dir string, logger logging.Logger) (*Settings, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	path, data, err := findConfigFile(dir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		logger.Debug("no config file found", "dir", dir)
		return nil, ErrMissing
	}

	settings, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if settings == nil {
		logger.Debug("config file has no precompiled_binaries block", "path", path)
		return nil, ErrMissing
	}

	logger.Debug("loaded precompiled binaries config",
		"path", path, "repository", settings.Repository, "mode", settings.Mode)
	return settings, nil
}

// parse decodes and validates the precompiled_binaries block. A nil result
// with nil error means the block is absent.
func parse(data []byte) (*Settings, error) {
	// The file carries producer-facing sections (build targets and so on)
	// the engine does not consume. Only the precompiled_binaries block is
	// decoded strictly.
	// yaml.v3 only fills value Node fields; a pointer field stays nil even
	// when the key is present.
	var doc struct {
		PrecompiledBinaries yaml.Node `yaml:"precompiled_binaries"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc.PrecompiledBinaries.IsZero() || doc.PrecompiledBinaries.Tag == "!!null" {
		return nil, nil
	}

	var raw precompiledYAML
	if err := decodeStrict(&doc.PrecompiledBinaries, &raw); err != nil {
		return nil, fmt.Errorf("%w: precompiled_binaries: %v", ErrInvalid, err)
	}

	repository, err := normalizeRepository(raw.Repository)
	if err != nil {
		return nil, err
	}

	if raw.PublicKey == "" {
		return nil, fmt.Errorf("%w: missing required field public_key", ErrInvalid)
	}
	publicKey, err := signature.ParsePublicKeyHex(strings.TrimSpace(raw.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: public_key: %v", ErrInvalid, err)
	}

	mode, err := ParseMode(raw.Mode)
	if err != nil {
		return nil, err
	}

	return &Settings{
		Repository: repository,
		PublicKey:  publicKey,
		URLPrefix:  strings.TrimSpace(raw.URLPrefix),
		Mode:       mode,
	}, nil
}

// normalizeRepository validates the "owner/repo" invariant: exactly two
// non-empty segments.
func normalizeRepository(s string) (string, error) {
	repository := strings.TrimSpace(s)
	if repository == "" {
		return "", fmt.Errorf("%w: missing required field repository", ErrInvalid)
	}
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: repository %q must be owner/repo", ErrInvalid, repository)
	}
	return repository, nil
}

// decodeStrict decodes a YAML node rejecting unknown fields.
func decodeStrict(node *yaml.Node, out interface{}) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// findConfigFile walks from dir up to the filesystem root looking for the
// config file. It returns empty path when no file exists anywhere.
func findConfigFile(dir string) (string, []byte, error) {
	current, err := filepath.Abs(dir)
	if err != nil {
		return "", nil, fmt.Errorf("resolve dir: %w", err)
	}
	for {
		path := filepath.Join(current, FileName)
		data, err := os.ReadFile(path)
		if err == nil {
			return path, data, nil
		}
		if !os.IsNotExist(err) {
			return "", nil, fmt.Errorf("read config: %w", err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, nil
		}
		current = parent
	}
}
