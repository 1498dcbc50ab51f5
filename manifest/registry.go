package manifest

import (
	"path/filepath"
	"sync"
)

// Registry memoizes loaded manifests by resolved absolute path, so repeated
// loads within one process share a single instance.
//
// The memo has process lifetime and is never invalidated by on-disk changes;
// callers that need fresh state must call Invalidate or Reset explicitly.
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	byPath map[string]*Manifest
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byPath: map[string]*Manifest{}}
}

// Load returns the memoized manifest for path, loading and caching it on
// first use. Load failures are not cached.
func (r *Registry) Load(path string) (*Manifest, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byPath[key]; ok {
		return m, nil
	}
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	r.byPath[key] = m
	return m, nil
}

// Invalidate drops the memoized manifest for path, if any.
func (r *Registry) Invalidate(path string) {
	key, err := filepath.Abs(path)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.byPath, key)
	r.mu.Unlock()
}

// Reset drops every memoized manifest.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.byPath = map[string]*Manifest{}
	r.mu.Unlock()
}
