// Package config persists the backend descriptor list as a JSON document.
// The document keys descriptors by backend name, keeps disabled entries, and
// tolerates a missing file so a fresh deployment starts empty.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/nradchenko/mcp-aggregator-go/pkg/backend"
)

// Document is the on-disk shape of the aggregator configuration.
type Document struct {
	Servers map[string]backend.Descriptor `json:"servers"`
}

// New returns an empty document.
func New() *Document {
	return &Document{Servers: make(map[string]backend.Descriptor)}
}

// Load reads a document from path. A missing file yields an empty document;
// malformed JSON is an error.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	doc := New()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if doc.Servers == nil {
		doc.Servers = make(map[string]backend.Descriptor)
	}
	// The map key is authoritative for the name.
	for name, desc := range doc.Servers {
		desc.Name = name
		doc.Servers[name] = desc
	}
	return doc, nil
}

// Save writes the document to path, creating parent directories as needed.
// The write goes through a temp file and rename so readers never observe a
// half-written document.
func (d *Document) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("config: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename to %s: %w", path, err)
	}
	return nil
}

// Add validates and stores a descriptor under its name, replacing any prior
// entry.
func (d *Document) Add(desc backend.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	d.Servers[desc.Name] = desc
	return nil
}

// Remove drops a descriptor by name and reports whether it existed.
func (d *Document) Remove(name string) bool {
	if _, ok := d.Servers[name]; !ok {
		return false
	}
	delete(d.Servers, name)
	return true
}

// Descriptors returns every stored descriptor sorted by name, disabled
// entries included.
func (d *Document) Descriptors() []backend.Descriptor {
	out := make([]backend.Descriptor, 0, len(d.Servers))
	for _, desc := range d.Servers {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
