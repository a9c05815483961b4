package core

import (
	"context"

	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

// Backend is the interface every conversational model backend implements.
type Backend interface {
	// Name returns the backend identifier (e.g., "gemini", "openai").
	Name() string

	// Generate produces the next assistant reply for the request. It returns
	// the reply text or an error; there is no partial success.
	Generate(ctx context.Context, req *types.GenerateRequest) (string, error)
}

// BackendRegistry manages available backends.
type BackendRegistry interface {
	// Register adds a backend to the registry.
	Register(backend Backend)

	// Get returns a backend by name.
	Get(name string) (Backend, bool)

	// List returns all registered backend names.
	List() []string
}

// defaultRegistry is the default backend registry.
type defaultRegistry struct {
	backends map[string]Backend
}

// NewBackendRegistry creates a new backend registry.
func NewBackendRegistry() BackendRegistry {
	return &defaultRegistry{
		backends: make(map[string]Backend),
	}
}

func (r *defaultRegistry) Register(backend Backend) {
	r.backends[backend.Name()] = backend
}

func (r *defaultRegistry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

func (r *defaultRegistry) List() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}
