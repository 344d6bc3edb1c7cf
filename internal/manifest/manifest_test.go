package manifest

import (
	"errors"
	"testing"
)

func TestParseMapShape(t *testing.T) {
	data := []byte(`{
		"build": {"id": "b1-abc"},
		"platforms": {
			"linux-x86_64": {
				"name": "linux-x86_64",
				"triples": ["x86_64-unknown-linux-gnu"],
				"artifacts": ["demo-linux-x86_64.tar.gz"]
			},
			"macos-arm64": {
				"name": "macos-arm64",
				"triples": ["aarch64-apple-darwin"],
				"artifacts": ["demo-macos-arm64.zip"]
			}
		}
	}`)

	m, err := Parse(data, "b1-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.BuildID != "b1-abc" {
		t.Errorf("build id: %q", m.BuildID)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m.Entries))
	}
	// Document order, not key order.
	if m.Entries[0].Name != "linux-x86_64" || m.Entries[1].Name != "macos-arm64" {
		t.Errorf("entry order lost: %v, %v", m.Entries[0].Name, m.Entries[1].Name)
	}
	if m.Entries[0].Artifacts[0] != "demo-linux-x86_64.tar.gz" {
		t.Errorf("artifacts: %v", m.Entries[0].Artifacts)
	}
}

func TestParseMapShapePreservesDocumentOrder(t *testing.T) {
	// Keys deliberately in reverse-alphabetic order.
	data := []byte(`{
		"platforms": {
			"z-platform": {"name": "z-platform", "artifacts": ["z.tar.gz"]},
			"a-platform": {"name": "a-platform", "artifacts": ["a.tar.gz"]}
		}
	}`)

	m, err := Parse(data, "b1-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Entries[0].Name != "z-platform" {
		t.Errorf("expected document order, got %q first", m.Entries[0].Name)
	}
}

func TestParseListShape(t *testing.T) {
	data := []byte(`{
		"build": {"id": "b1-abc"},
		"platforms": [
			{"name": "linux-x86_64", "triples": ["x86_64-unknown-linux-gnu"], "artifacts": ["a.tar.gz"]},
			{"name": "windows-x86_64", "artifacts": ["a.zip"]}
		]
	}`)

	m, err := Parse(data, "b1-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m.Entries))
	}
	if m.Entries[1].Name != "windows-x86_64" {
		t.Errorf("entries: %+v", m.Entries)
	}
	if len(m.Entries[1].Triples) != 0 {
		t.Errorf("triples should default empty: %v", m.Entries[1].Triples)
	}
}

func TestParseTargetsNestedShape(t *testing.T) {
	data := []byte(`{
		"build": {"id": "b1-abc"},
		"platforms": {
			"default": "linux-x86_64",
			"targets": [
				{"name": "linux-x86_64", "triples": ["x86_64-unknown-linux-gnu"], "artifacts": ["a.tar.gz"], "bindings": ["dart"]},
				{"name": "android-arm64", "triples": ["aarch64-linux-android"], "artifacts": ["b.tar.gz"]}
			]
		}
	}`)

	m, err := Parse(data, "b1-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m.Entries))
	}
	if m.Entries[1].Name != "android-arm64" {
		t.Errorf("entries: %+v", m.Entries)
	}
}

func TestParseBuildIDHandling(t *testing.T) {
	t.Run("mismatch_is_error", func(t *testing.T) {
		data := []byte(`{"build": {"id": "b1-other"}, "platforms": []}`)
		if _, err := Parse(data, "b1-abc"); !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed, got %v", err)
		}
	})

	t.Run("absent_build_section_uses_requested", func(t *testing.T) {
		data := []byte(`{"platforms": [{"name": "p", "artifacts": ["a.zip"]}]}`)
		m, err := Parse(data, "b1-abc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.BuildID != "b1-abc" {
			t.Errorf("build id: %q", m.BuildID)
		}
	})
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not_json", data: `not json`},
		{name: "missing_platforms", data: `{"build": {"id": "b1-abc"}}`},
		{name: "platforms_scalar", data: `{"platforms": 7}`},
		{name: "entry_without_name", data: `{"platforms": [{"artifacts": ["a.zip"]}]}`},
		{name: "map_entry_without_name", data: `{"platforms": {"linux": {"artifacts": ["a.zip"]}}}`},
		{name: "triples_not_strings", data: `{"platforms": [{"name": "p", "triples": [1, 2]}]}`},
		{name: "artifacts_not_a_list", data: `{"platforms": [{"name": "p", "artifacts": "a.zip"}]}`},
		{name: "map_value_scalar", data: `{"platforms": {"linux": "x86_64"}}`},
		{name: "targets_entry_bad_shape", data: `{"platforms": {"targets": [{"name": "p", "artifacts": {"a": 1}}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data), "b1-abc"); !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParseEmptyArtifactsIsNotAnError(t *testing.T) {
	// Empty artifacts parse fine; the matcher turns them into
	// ArtifactNotFound at selection time.
	data := []byte(`{"platforms": [{"name": "p", "triples": ["t"], "artifacts": []}]}`)
	m, err := Parse(data, "b1-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Entries[0].Artifacts) != 0 {
		t.Errorf("artifacts: %v", m.Entries[0].Artifacts)
	}
}
