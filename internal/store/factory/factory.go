// Package factory registers pluggable Storage backend constructors, the
// way the teacher's internal/storage/factory registry lets "dolt" and
// other backends register themselves without the caller importing them
// directly. Only the "sqlite" backend is registered by this module today;
// the registry exists so a future backend can be added without touching
// internal/ops or internal/compile.
package factory

import (
	"context"
	"fmt"

	"github.com/WilliamJin123/tract-sub000/internal/store"
)

// Options configures how a backend opens its underlying database.
type Options struct {
	ReadOnly bool
}

// Backend constructs a Storage rooted at path.
type Backend func(ctx context.Context, path string, opts Options) (store.Storage, error)

var registry = make(map[string]Backend)

// Register adds a named backend constructor. Called from backend packages'
// init() functions (see internal/store/sqlite).
func Register(name string, b Backend) {
	registry[name] = b
}

// New opens a Storage using the named backend.
func New(ctx context.Context, name, path string) (store.Storage, error) {
	return NewWithOptions(ctx, name, path, Options{})
}

// NewWithOptions opens a Storage using the named backend with explicit options.
func NewWithOptions(ctx context.Context, name, path string, opts Options) (store.Storage, error) {
	b, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("store/factory: unknown backend %q", name)
	}
	return b(ctx, path, opts)
}
