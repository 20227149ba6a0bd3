// Package retrieval provides the pluggable retrieval layer: a registry of
// named retrieval modules and a two-tier TTL cache over their results.
package retrieval

import (
	"context"
	"fmt"
	"sync"
)

// Result is one retrieved passage.
type Result struct {
	// Title is a short label for the passage source.
	Title string `json:"title"`

	// URL is the passage origin, when it has one.
	URL string `json:"url"`

	// Content is the passage text.
	Content string `json:"content"`
}

// Module is a named retrieval backend. Implementations must be safe for
// concurrent use.
type Module interface {
	// Execute runs the retrieval for query and returns the passages found.
	Execute(ctx context.Context, query string) ([]Result, error)

	// Description is a one-line summary used in routing prompts.
	Description() string
}

// Registry maps module names to retrieval modules.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Module),
	}
}

// Register adds a module under name, replacing any existing registration.
func (r *Registry) Register(name string, module Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = module
}

// Get returns the module registered under name.
func (r *Registry) Get(name string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("Get: retrieval module %q not registered", name)
	}
	return module, nil
}

// Names returns the registered module names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}
