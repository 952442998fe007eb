package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"harvest/internal/config"
)

// RegistryEntry describes one scraper: where its script lives and which
// parameter names it accepts. Parameters are a whitelist; task params not
// listed here are never forwarded to the process.
type RegistryEntry struct {
	Script             string   `json:"script"`
	AcceptedParameters []string `json:"accepted_parameters"`
}

// Registry is the scraper registry, read-only after load.
type Registry struct {
	entries map[string]RegistryEntry
}

type registryFile struct {
	Scrapers map[string]RegistryEntry `json:"scrapers"`
}

// LoadRegistry parses the scraper registry (JSON or YAML by extension).
// A missing or malformed registry is fatal to the run.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scraper registry: %w", err)
	}
	jb, err := config.CoerceJSON(path, b)
	if err != nil {
		return nil, fmt.Errorf("scraper registry %s: %w", path, err)
	}

	var rf registryFile
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("scraper registry %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("scraper registry %s: trailing data", path)
	}
	if len(rf.Scrapers) == 0 {
		return nil, fmt.Errorf("scraper registry %s: no scrapers defined", path)
	}

	entries := make(map[string]RegistryEntry, len(rf.Scrapers))
	for name, e := range rf.Scrapers {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("scraper registry %s: empty scraper name", path)
		}
		if strings.TrimSpace(e.Script) == "" {
			return nil, fmt.Errorf("scraper registry %s: scraper %q has no script", path, name)
		}
		entries[name] = e
	}
	return &Registry{entries: entries}, nil
}

// Lookup returns the entry for a scraper name.
func (r *Registry) Lookup(name string) (RegistryEntry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registered scraper names (unordered).
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

// Accepts reports whether the scraper declares the given parameter name.
func (e RegistryEntry) Accepts(param string) bool {
	for _, p := range e.AcceptedParameters {
		if p == param {
			return true
		}
	}
	return false
}
