package platform

import (
	"errors"
	"fmt"

	"github.com/stax/libforge-go/internal/manifest"
)

var (
	// ErrPlatformNotFound means no manifest entry serves the target triple.
	ErrPlatformNotFound = errors.New("no platform entry for target")
	// ErrArtifactNotFound means the matched entry lists no artifacts.
	ErrArtifactNotFound = errors.New("platform entry has no artifacts")
)

// Selection is the artifact chosen for a target triple.
type Selection struct {
	Platform manifest.Entry
	Artifact string
}

// Select finds the first manifest entry serving the triple, in document
// order. An entry serves a triple either by name or by listing it in its
// triples set. The entry's first artifact is selected.
func Select(m *manifest.Manifest, triple string) (*Selection, error) {
	for _, entry := range m.Entries {
		if !entryServes(entry, triple) {
			continue
		}
		if len(entry.Artifacts) == 0 {
			return nil, fmt.Errorf("platform %q: %w", entry.Name, ErrArtifactNotFound)
		}
		return &Selection{
			Platform: entry,
			Artifact: entry.Artifacts[0],
		}, nil
	}
	return nil, fmt.Errorf("target %q: %w", triple, ErrPlatformNotFound)
}

func entryServes(entry manifest.Entry, triple string) bool {
	if entry.Name == triple {
		return true
	}
	for _, t := range entry.Triples {
		if t == triple {
			return true
		}
	}
	return false
}
