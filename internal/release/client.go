package release

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/stax/libforge-go/internal/cache"
	"github.com/stax/libforge-go/internal/logging"
	"github.com/stax/libforge-go/internal/manifest"
	"github.com/stax/libforge-go/internal/signature"
)

var (
	// ErrManifestSignatureInvalid indicates the manifest failed signature
	// verification. The offending files are evicted before this is returned.
	ErrManifestSignatureInvalid = errors.New("manifest signature verification failed")

	// ErrArtifactSignatureInvalid indicates an artifact failed signature
	// verification. The offending files are evicted before this is returned.
	ErrArtifactSignatureInvalid = errors.New("artifact signature verification failed")
)

// Client fetches release files through the cache and verifies them.
type Client struct {
	store     *cache.Store
	publicKey ed25519.PublicKey
	urlPrefix string
	logger    logging.Logger
}

// NewClient creates a release client. urlPrefix must end in "/".
func NewClient(store *cache.Store, publicKey ed25519.PublicKey, urlPrefix string, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		store:     store,
		publicKey: publicKey,
		urlPrefix: urlPrefix,
		logger:    logger,
	}
}

// FetchManifest downloads, verifies and parses the manifest for a build
// identity. Cached copies are re-served without network traffic; a copy
// that fails verification is evicted so the next call re-downloads.
func (c *Client) FetchManifest(ctx context.Context, buildID string) (*manifest.Manifest, error) {
	data, err := c.fetchVerified(ctx, buildID, manifest.FileName, ErrManifestSignatureInvalid)
	if err != nil {
		return nil, err
	}

	m, err := manifest.Parse(data, buildID)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	c.logger.Debug("fetched manifest", "buildId", buildID, "platforms", len(m.Entries))
	return m, nil
}

// FetchArtifact downloads and verifies an artifact, returning the path of
// the verified local copy.
func (c *Client) FetchArtifact(ctx context.Context, buildID, fileName string) (string, error) {
	if _, err := c.fetchVerified(ctx, buildID, fileName, ErrArtifactSignatureInvalid); err != nil {
		return "", err
	}
	path := c.store.LocalPath(buildID, fileName)
	c.logger.Debug("fetched artifact", "buildId", buildID, "file", fileName)
	return path, nil
}

// fetchVerified fetches a payload and its detached signature sibling, then
// checks the signature. On mismatch both cached files are evicted and
// mismatchErr is returned wrapped.
func (c *Client) fetchVerified(ctx context.Context, buildID, fileName string, mismatchErr error) ([]byte, error) {
	payloadPath := c.store.LocalPath(buildID, fileName)
	payloadURL := FileURL(c.urlPrefix, buildID, fileName)

	payload, err := c.store.GetOrFetch(ctx, payloadPath, payloadURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fileName, err)
	}

	sigName := fileName + cache.SignatureSuffix
	sig, err := c.store.GetOrFetch(ctx, c.store.LocalPath(buildID, sigName), FileURL(c.urlPrefix, buildID, sigName))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", sigName, err)
	}

	if err := signature.Verify(c.publicKey, payload, sig); err != nil {
		if evictErr := c.store.Evict(payloadPath); evictErr != nil {
			c.logger.Warn("evict after failed verification", "path", payloadPath, "error", evictErr)
		}
		return nil, fmt.Errorf("%w: %s: %v", mismatchErr, fileName, err)
	}
	return payload, nil
}
