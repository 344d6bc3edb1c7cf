// Package cache implements the content-addressed local store backing all
// release downloads.
//
// Files live under <root>/<buildId>/<fileName> with detached signatures as
// .sig siblings. Once on disk a file is trusted until a verification step
// explicitly evicts it; eviction is always the caller's responsibility.
// Writes are atomic (temp file + rename) so concurrent readers never observe
// a partial file, and an aborted fetch leaves the cache fully-completed-or-
// absent, never partial.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stax/libforge-go/internal/logging"
)

const (
	// DefaultTimeout bounds each HTTP request so an unreachable release
	// host cannot hang the consumer's build.
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "libforge-go/1.0"

	// SignatureSuffix is appended to a file name to locate its detached
	// signature sibling, on disk and on the release host alike.
	SignatureSuffix = ".sig"

	// memoryEntries bounds the in-process LRU fronting disk reads. A
	// multi-target resolution touches a handful of files per target.
	memoryEntries = 32
)

var (
	// ErrNotFound indicates the release host answered 404 for the URL.
	ErrNotFound = errors.New("release file not found")

	// errPermanent marks HTTP failures that retrying cannot fix.
	errPermanent = errors.New("permanent download failure")
)

// Store is a content-addressed cache over a root directory.
type Store struct {
	root      string
	client    *http.Client
	retries   int
	userAgent string
	mem       *lru.Cache[string, []byte]
	logger    logging.Logger
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, logger logging.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	mem, err := lru.New[string, []byte](memoryEntries)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &Store{
		root: dir,
		client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		retries:   DefaultRetries,
		userAgent: DefaultUserAgent,
		mem:       mem,
		logger:    logger,
	}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// LocalPath returns the on-disk location for a release file.
func (s *Store) LocalPath(buildID, fileName string) string {
	return filepath.Join(s.root, buildID, fileName)
}

// ExtractionDir returns the directory extracted libraries are keyed under.
func (s *Store) ExtractionDir(buildID, triple string) string {
	return filepath.Join(s.root, buildID, triple)
}

// GetOrFetch returns the bytes at localPath, downloading from url first when
// the file does not exist. A cached file is returned without any network
// call.
func (s *Store) GetOrFetch(ctx context.Context, localPath, url string) ([]byte, error) {
	if data, ok := s.mem.Get(localPath); ok {
		return data, nil
	}
	if fileExists(localPath) {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return nil, fmt.Errorf("read cached file: %w", err)
		}
		s.mem.Add(localPath, data)
		return data, nil
	}

	if err := s.download(ctx, url, localPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read downloaded file: %w", err)
	}
	s.mem.Add(localPath, data)
	return data, nil
}

// Evict removes a cached payload together with its signature sibling. A
// missing file is not an error; eviction must leave both gone.
func (s *Store) Evict(localPath string) error {
	sigPath := localPath + SignatureSuffix
	s.mem.Remove(localPath)
	s.mem.Remove(sigPath)
	for _, path := range []string{localPath, sigPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("evict %s: %w", path, err)
		}
	}
	s.logger.Debug("evicted cached file", "path", localPath)
	return nil
}

// download fetches url to destPath with bounded retries and exponential
// backoff on transient failures only. 4xx responses are never retried.
func (s *Store) download(ctx context.Context, url, destPath string) error {
	var lastErr error

	for attempt := 0; attempt <= s.retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			s.logger.Debug("retrying download", "url", url, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.downloadOnce(ctx, url, destPath)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, errPermanent) {
			return err
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("download failed after %d retries: %w", s.retries, lastErr)
}

// downloadOnce performs a single download attempt with an atomic write.
func (s *Store) downloadOnce(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to the write below.
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited: %s", errPermanent, url)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: unexpected status %d for %s", errPermanent, resp.StatusCode, url)
	default:
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(destDir, filepath.Base(destPath)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return fmt.Errorf("copy response body: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	cleanupNeeded = false
	s.logger.Debug("downloaded file", "url", url, "path", destPath)
	return nil
}

// fileExists reports whether path is a non-empty regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}
