// Package resolve orchestrates artifact resolution end to end: load
// configuration, compute the build identity, fetch and verify the release
// files, extract the library, and route every failure through the
// fallback policy.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stax/libforge-go/internal/archive"
	"github.com/stax/libforge-go/internal/buildid"
	"github.com/stax/libforge-go/internal/cache"
	"github.com/stax/libforge-go/internal/config"
	"github.com/stax/libforge-go/internal/logging"
	"github.com/stax/libforge-go/internal/platform"
	"github.com/stax/libforge-go/internal/release"
)

// Kind classifies a resolution outcome.
type Kind int

const (
	// KindDownloaded means a verified library was produced.
	KindDownloaded Kind = iota
	// KindFallback means the caller should build locally.
	KindFallback
	// KindFatal means resolution failed and no fallback applies.
	KindFatal
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindDownloaded:
		return "downloaded"
	case KindFallback:
		return "fallback"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Options are the caller-supplied inputs to a resolution.
type Options struct {
	// CrateDir is the crate root holding the build descriptor and config.
	CrateDir string
	// BuildID overrides hashing the crate inputs when non-empty.
	BuildID string
	// Target overrides host platform detection when non-empty.
	Target string
	// CacheDir overrides the default cache location when non-empty.
	CacheDir string
}

// Resolution is the outcome of a resolution attempt.
type Resolution struct {
	Kind Kind
	// LibraryPath is the verified extracted library. Set only for
	// KindDownloaded.
	LibraryPath string
	// BuildID is the identity used, when one was established.
	BuildID string
	// Triple is the target triple used, when one was established.
	Triple string
	// Reason explains a fallback in one line. Set only for KindFallback.
	Reason string
	// Err is the failure. Set only for KindFatal.
	Err error
}

// Resolver runs resolutions. The zero value is not usable; construct with
// New.
type Resolver struct {
	detector  platform.Detector
	toolchain ToolchainDetector
	logger    logging.Logger
}

// New creates a resolver for the running host.
func New(logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{
		detector:  platform.NewDetector(),
		toolchain: CargoDetector{},
		logger:    logger,
	}
}

// NewWith creates a resolver with explicit platform and toolchain
// detection. Used by tests.
func NewWith(detector platform.Detector, toolchain ToolchainDetector, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{detector: detector, toolchain: toolchain, logger: logger}
}

// Resolve attempts to produce a verified precompiled library for the crate
// described by opts. It never returns nil.
func (r *Resolver) Resolve(ctx context.Context, opts Options) *Resolution {
	settings, err := config.Load(opts.CrateDir, r.logger)
	if err != nil {
		if errors.Is(err, config.ErrMissing) {
			return r.fallback("precompiled binaries are not configured")
		}
		return r.fatal(err)
	}

	// Mode "never" short-circuits before any hashing or network traffic.
	if settings.Mode == config.ModeNever {
		return r.fallback("precompiled binaries are disabled by mode")
	}

	res := &Resolution{}

	res.BuildID = opts.BuildID
	if res.BuildID == "" {
		res.BuildID, err = buildid.Compute(opts.CrateDir)
		if err != nil {
			return r.fatal(fmt.Errorf("compute build identity: %w", err))
		}
	}

	detector := r.detector
	if opts.Target != "" {
		detector = platform.StaticTriple(opts.Target)
	}
	res.Triple, err = detector.Detect(ctx)
	if err != nil {
		return r.fatal(fmt.Errorf("detect target platform: %w", err))
	}

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir, err = defaultCacheDir()
		if err != nil {
			return r.fatal(err)
		}
	}
	store, err := cache.NewStore(cacheDir, r.logger)
	if err != nil {
		return r.fatal(err)
	}

	urlPrefix := settings.URLPrefix
	if urlPrefix == "" {
		urlPrefix = release.DefaultURLPrefix(settings.Repository)
	}
	client := release.NewClient(store, settings.PublicKey, urlPrefix, r.logger)

	r.logger.Info("resolving precompiled library",
		"buildId", res.BuildID, "target", res.Triple, "mode", settings.Mode.String())

	m, err := client.FetchManifest(ctx, res.BuildID)
	if err != nil {
		return r.stageFailure(settings.Mode, res, fmt.Errorf("fetch manifest: %w", err))
	}

	sel, err := platform.Select(m, res.Triple)
	if err != nil {
		return r.stageFailure(settings.Mode, res, err)
	}

	archivePath, err := client.FetchArtifact(ctx, res.BuildID, sel.Artifact)
	if err != nil {
		return r.stageFailure(settings.Mode, res, fmt.Errorf("fetch artifact %s: %w", sel.Artifact, err))
	}

	libPath, err := archive.ExtractLibrary(
		archivePath,
		store.ExtractionDir(res.BuildID, res.Triple),
		platform.LibraryExtension(res.Triple),
	)
	if err != nil {
		return r.stageFailure(settings.Mode, res, fmt.Errorf("extract %s: %w", sel.Artifact, err))
	}

	res.Kind = KindDownloaded
	res.LibraryPath = libPath
	r.logger.Info("resolved precompiled library", "path", libPath)
	return res
}

// stageFailure routes a post-config failure through the fallback policy.
func (r *Resolver) stageFailure(mode config.Mode, res *Resolution, err error) *Resolution {
	var out *Resolution
	switch {
	case mode == config.ModeAlways:
		out = r.fatal(err)
	case r.toolchain.Available():
		out = r.fallback(err.Error())
	default:
		out = r.fatal(fmt.Errorf("%w (and no local build toolchain is available)", err))
	}
	out.BuildID = res.BuildID
	out.Triple = res.Triple
	return out
}

func (r *Resolver) fallback(reason string) *Resolution {
	r.logger.Info("falling back to local build", "reason", reason)
	return &Resolution{Kind: KindFallback, Reason: reason}
}

func (r *Resolver) fatal(err error) *Resolution {
	r.logger.Error("resolution failed", "error", err)
	return &Resolution{Kind: KindFatal, Err: err}
}

// defaultCacheDir is <user cache>/libforge.
func defaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate user cache dir: %w", err)
	}
	return filepath.Join(base, "libforge"), nil
}
