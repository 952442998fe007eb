package task

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRegistryFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadRegistryJSON(t *testing.T) {
	t.Parallel()
	path := writeRegistryFile(t, "scrapers.json", `{
		"scrapers": {
			"flight_prices": {
				"script": "scrapers/flight_prices.py",
				"accepted_parameters": ["season", "route_ids"]
			},
			"hotel_rates": {"script": "scrapers/hotel_rates.py"}
		}
	}`)

	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry error: %v", err)
	}
	e, ok := r.Lookup("flight_prices")
	if !ok {
		t.Fatal("flight_prices not found")
	}
	if e.Script != "scrapers/flight_prices.py" {
		t.Fatalf("Script = %q", e.Script)
	}
	if !e.Accepts("season") || e.Accepts("verbose") {
		t.Fatal("Accepts must reflect the declared whitelist")
	}
	if _, ok := r.Lookup("unknown"); ok {
		t.Fatal("unknown scraper resolved")
	}
	if got := len(r.Names()); got != 2 {
		t.Fatalf("Names() returned %d entries, want 2", got)
	}
}

func TestLoadRegistryYAML(t *testing.T) {
	t.Parallel()
	path := writeRegistryFile(t, "scrapers.yaml", `
scrapers:
  flight_prices:
    script: scrapers/flight_prices.py
    accepted_parameters:
      - season
`)

	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry error: %v", err)
	}
	e, ok := r.Lookup("flight_prices")
	if !ok || !e.Accepts("season") {
		t.Fatalf("yaml registry entry = %+v (ok=%v)", e, ok)
	}
}

func TestLoadRegistryRejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unknown top-level key", file: "r.json", content: `{"scrapers": {"a": {"script": "a.py"}}, "extra": 1}`},
		{name: "no scrapers", file: "r.json", content: `{"scrapers": {}}`},
		{name: "missing script", file: "r.json", content: `{"scrapers": {"a": {"accepted_parameters": ["x"]}}}`},
		{name: "broken yaml", file: "r.yaml", content: "scrapers:\n  - not\n a: map"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeRegistryFile(t, tt.file, tt.content)
			if _, err := LoadRegistry(path); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}
