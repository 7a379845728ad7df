package store

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"
)

// Factory builds an unconnected Connection from a connection string.
type Factory func(uri string) (Connection, error)

// Registry maps declared store type names to factories.
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in backend:
//
//	"memory"   - in-memory, uri must use the memory: scheme
//	"json"     - JSON files in a directory (path or file:// URI)
//	"sqlite"   - SQLite database file (path or sqlite:// URI)
//	"postgres" - PostgreSQL DSN
//	"mongodb"  - mongodb:// URI
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("memory", func(uri string) (Connection, error) {
		if !strings.HasPrefix(uri, "memory:") {
			return nil, errors.NotValidf("memory store uri %q", uri)
		}
		return NewMemoryStore(), nil
	})
	r.Register("json", func(uri string) (Connection, error) {
		dir, err := localPath(uri, "file")
		if err != nil {
			return nil, err
		}
		return NewJsonFileStore(dir), nil
	})
	r.Register("sqlite", func(uri string) (Connection, error) {
		path, err := localPath(uri, "sqlite")
		if err != nil {
			return nil, err
		}
		return NewSqliteStore(path), nil
	})
	r.Register("postgres", func(uri string) (Connection, error) {
		return NewPostgresStore(uri), nil
	})
	r.Register("mongodb", func(uri string) (Connection, error) {
		if !strings.HasPrefix(uri, "mongodb://") {
			return nil, errors.NotValidf("mongodb uri %q", uri)
		}
		return NewMongoStore(uri), nil
	})
	return r
}

// Register adds or replaces the factory for a store type.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New creates a Connection for the named store type.
func (r *Registry) New(name, uri string) (Connection, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFoundf("store type %q (supported: %s)", name, strings.Join(r.Types(), ", "))
	}
	conn, err := f(uri)
	if err != nil {
		return nil, errors.Annotatef(err, "creating %s store", name)
	}
	return conn, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// localPath accepts a plain filesystem path or a URI with the given scheme.
func localPath(uri, scheme string) (string, error) {
	if !strings.Contains(uri, "://") {
		if uri == "" {
			return "", errors.NotValidf("empty path")
		}
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Annotatef(err, "parsing %q", uri)
	}
	if u.Scheme != scheme {
		return "", errors.NotValidf("%q scheme %q, want %q", uri, u.Scheme, scheme)
	}
	path := u.Host + u.Path
	if path == "" {
		return "", errors.NotValidf("%q without a path", uri)
	}
	return path, nil
}
