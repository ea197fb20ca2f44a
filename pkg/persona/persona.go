// Package persona loads minion personas from TOML files. A library is a
// directory of .toml files, one persona per file, keyed by the file's
// base name.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"legion/pkg/entity"
)

// LoadFile parses one persona file.
func LoadFile(path string) (entity.Persona, error) {
	var p entity.Persona
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read persona: %w", err)
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse persona %s: %w", filepath.Base(path), err)
	}
	if p.Name == "" {
		return p, &entity.ValidationError{Field: "name", Reason: fmt.Sprintf("persona %s has no name", filepath.Base(path))}
	}
	return p, nil
}

// Library is an in-memory snapshot of a persona directory. Reload swaps
// the whole snapshot, so readers never see a half-loaded set.
type Library struct {
	dir string

	mu       sync.RWMutex
	personas map[string]entity.Persona
}

// NewLibrary loads every .toml file in dir. A file that fails to parse is
// skipped with an error reported in the returned slice; the remaining
// personas still load.
func NewLibrary(dir string) (*Library, []error) {
	l := &Library{dir: dir, personas: make(map[string]entity.Persona)}
	errs := l.Reload()
	return l, errs
}

// Reload re-reads the directory and atomically replaces the snapshot.
func (l *Library) Reload() []error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return []error{fmt.Errorf("read persona dir: %w", err)}
	}

	var errs []error
	next := make(map[string]entity.Persona)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		p, err := LoadFile(filepath.Join(l.dir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".toml")
		next[key] = p
	}

	l.mu.Lock()
	l.personas = next
	l.mu.Unlock()
	return errs
}

// Get returns the persona stored under the given key.
func (l *Library) Get(key string) (entity.Persona, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.personas[key]
	return p, ok
}

// Keys returns the loaded persona keys, sorted.
func (l *Library) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.personas))
	for k := range l.personas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of loaded personas.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.personas)
}
