package common

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeSources(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "energy-sources.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write sources: %v", err)
	}
	return path
}

func TestLoadEnergySources(t *testing.T) {
	path := writeSources(t, `
sources:
  - name: Solar
    renewable: true
  - name: wind
    renewable: true
  - name: grid
`)
	sources, err := LoadEnergySources(path)
	if err != nil {
		t.Fatalf("LoadEnergySources: %v", err)
	}
	if !sources.Contains("solar") || !sources.Contains("SOLAR") || !sources.Contains("grid") {
		t.Error("expected catalogued sources to be accepted")
	}
	if sources.Contains("coal") {
		t.Error("expected unknown source to be rejected")
	}
	names := sources.Names()
	sort.Strings(names)
	if len(names) != 3 || names[0] != "grid" {
		t.Errorf("unexpected names %v", names)
	}

	var nilSources *EnergySources
	if !nilSources.Contains("anything") {
		t.Error("nil catalogue should accept every source")
	}
}

func TestLoadEnergySources_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":     "sources: []\n",
		"no name":   "sources:\n  - renewable: true\n",
		"duplicate": "sources:\n  - name: solar\n  - name: SOLAR\n",
		"malformed": "sources: [",
	}
	for name, body := range tests {
		if _, err := LoadEnergySources(writeSources(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := LoadEnergySources(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
