// Package manifest parses the signed release manifest for one build
// identity.
//
// Producers have emitted three shapes for the platforms section over time: a
// map of entries keyed by platform name, a plain list of entries, and a
// nested object with a `targets` list. All three are normalized at the parse
// boundary into one ordered entry list so nothing downstream branches on
// shape. Manifest order is authoritative: entries are scanned in document
// order and the first artifact of an entry is the one selected.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// FileName is the manifest's file name within a release.
const FileName = "manifest.json"

// ErrMalformed indicates manifest bytes that verified but do not parse into
// the expected shape. Malformed shapes are errors, never soft defaults.
var ErrMalformed = errors.New("malformed manifest")

// Entry is one named platform group sharing an artifact set.
type Entry struct {
	// Name is the platform entry name, e.g. "linux-x86_64". Never empty.
	Name string
	// Triples are the target triples this entry serves.
	Triples []string
	// Artifacts are archive file names in authoritative order. An entry
	// with no artifacts is "not found", never an empty success.
	Artifacts []string
}

// Manifest is the normalized in-memory form of a release manifest.
type Manifest struct {
	// BuildID is the build identity the manifest describes.
	BuildID string
	// Entries are the platform entries in document order.
	Entries []Entry
}

// entryJSON is the wire form of a platform entry. Extra fields produced by
// newer tooling (bindings, descriptions) are tolerated; triples and
// artifacts must be string lists when present.
type entryJSON struct {
	Name      string   `json:"name"`
	Triples   []string `json:"triples"`
	Artifacts []string `json:"artifacts"`
}

// Parse decodes verified manifest bytes. wantBuildID is the identity the
// manifest was fetched for; when the document carries a build id it must
// match.
func Parse(data []byte, wantBuildID string) (*Manifest, error) {
	var doc struct {
		Build *struct {
			ID string `json:"id"`
		} `json:"build"`
		Platforms json.RawMessage `json:"platforms"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(doc.Platforms) == 0 {
		return nil, fmt.Errorf("%w: missing platforms section", ErrMalformed)
	}

	buildID := wantBuildID
	if doc.Build != nil && doc.Build.ID != "" {
		if wantBuildID != "" && doc.Build.ID != wantBuildID {
			return nil, fmt.Errorf("%w: build id %q does not match requested %q",
				ErrMalformed, doc.Build.ID, wantBuildID)
		}
		buildID = doc.Build.ID
	}

	entries, err := normalizePlatforms(doc.Platforms)
	if err != nil {
		return nil, err
	}

	return &Manifest{BuildID: buildID, Entries: entries}, nil
}

// normalizePlatforms accepts the list, map, and targets-nested wire shapes.
func normalizePlatforms(raw json.RawMessage) ([]Entry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty platforms section", ErrMalformed)
	}

	switch trimmed[0] {
	case '[':
		return entriesFromList(trimmed)
	case '{':
		return entriesFromObject(trimmed)
	default:
		return nil, fmt.Errorf("%w: platforms must be a list or object", ErrMalformed)
	}
}

func entriesFromList(raw []byte) ([]Entry, error) {
	var list []entryJSON
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: platforms list: %v", ErrMalformed, err)
	}
	entries := make([]Entry, 0, len(list))
	for i, item := range list {
		entry, err := validateEntry(item, fmt.Sprintf("index %d", i))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// entriesFromObject handles both the map-of-entries shape and the nested
// {"default": ..., "targets": [...]} shape. Document order of a map is
// preserved by decoding at the token level.
func entriesFromObject(raw []byte) ([]Entry, error) {
	keys, values, err := objectPairs(raw)
	if err != nil {
		return nil, err
	}

	// Nested producer form: a targets list wins when present.
	for i, key := range keys {
		if key == "targets" {
			value := bytes.TrimSpace(values[i])
			if len(value) > 0 && value[0] == '[' {
				return entriesFromList(value)
			}
		}
	}

	entries := make([]Entry, 0, len(keys))
	for i, key := range keys {
		var item entryJSON
		if err := json.Unmarshal(values[i], &item); err != nil {
			return nil, fmt.Errorf("%w: platform %q: %v", ErrMalformed, key, err)
		}
		entry, err := validateEntry(item, fmt.Sprintf("key %q", key))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// objectPairs decodes a JSON object into keys and raw values preserving
// document order, which encoding/json's map decoding would lose.
func objectPairs(raw []byte) ([]string, []json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: platforms object: %v", ErrMalformed, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("%w: platforms must be an object", ErrMalformed)
	}

	var keys []string
	var values []json.RawMessage
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: platforms object: %v", ErrMalformed, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("%w: platforms object key", ErrMalformed)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, fmt.Errorf("%w: platform %q: %v", ErrMalformed, key, err)
		}
		keys = append(keys, key)
		values = append(values, value)
	}
	return keys, values, nil
}

func validateEntry(item entryJSON, where string) (Entry, error) {
	if item.Name == "" {
		return Entry{}, fmt.Errorf("%w: platform entry at %s has no name", ErrMalformed, where)
	}
	return Entry{
		Name:      item.Name,
		Triples:   item.Triples,
		Artifacts: item.Artifacts,
	}, nil
}
