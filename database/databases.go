// Package database coordinates a fleet of independently configured document
// stores, grouped in layers, as one logical read/write target.
//
// Writes fan out to every connection in declaration order with pre-image
// capture and best-effort rollback; reads go to the first connection;
// references are resolved by Populate. A Databases value holds the
// registered declarations and live connections; every operation runs on an
// immutable View of them, and a layer subset is simply a filtered View.
package database

import (
	"context"
	"slices"
	"sync"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/stevemurr/layerstore/store"
)

// Shell pairs a live connection with the layer it was declared under.
type Shell struct {
	Layer string
	Conn  store.Connection
}

// Databases is the registry of declarations and live connections.
// Safe for concurrent use; the connections themselves are shared.
type Databases struct {
	registry *store.Registry
	log      zerolog.Logger

	mu      sync.RWMutex
	configs []Declaration
	shells  []Shell
}

// Option configures a Databases.
type Option func(*Databases)

// WithLogger sets the logger used for debug diagnostics. The default
// logger discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Databases) {
		d.log = logger
	}
}

// New returns an empty Databases creating connections through registry.
// A nil registry means store.DefaultRegistry.
func New(registry *store.Registry, opts ...Option) *Databases {
	if registry == nil {
		registry = store.DefaultRegistry()
	}
	d := &Databases{
		registry: registry,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init connects every registered declaration and replaces the connection
// set with the ones that succeeded.
//
// A declaration is eligible when it has a type and a uri or url. Failing
// declarations are neither retried nor fatal: they are returned as
// diagnostics and the fleet runs degraded on whatever connected, possibly
// nothing. Connections from a previous Init are not closed.
func (d *Databases) Init(ctx context.Context) []Diagnostic {
	d.mu.RLock()
	configs := slices.Clone(d.configs)
	d.mu.RUnlock()

	var (
		shells []Shell
		diags  []Diagnostic
	)
	for _, decl := range configs {
		conn, err := d.open(ctx, decl)
		if err != nil {
			diags = append(diags, Diagnostic{Declaration: &decl, Reason: err})
			d.log.Debug().Stringer("database", decl).Err(err).Msg("database skipped")
			continue
		}
		shells = append(shells, Shell{Layer: decl.Layer, Conn: conn})
	}

	d.mu.Lock()
	d.shells = shells
	d.mu.Unlock()
	d.log.Debug().Int("connections", len(shells)).Int("skipped", len(diags)).Msg("databases initialized")
	return diags
}

func (d *Databases) open(ctx context.Context, decl Declaration) (store.Connection, error) {
	if !decl.Eligible() {
		return nil, ErrIneligibleDeclaration
	}
	conn, err := d.registry.New(decl.Type, decl.ConnectionString())
	if err != nil {
		return nil, errors.Trace(err)
	}
	conn = store.WithIDPattern(conn, decl.IDPattern)
	if err := conn.Connect(ctx); err != nil {
		return nil, errors.Annotatef(err, "connecting %s", decl)
	}
	return conn, nil
}

// View returns an immutable snapshot of all declarations and connections.
func (d *Databases) View() *View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return newView(d.configs, d.shells, d.log)
}

// PersistenceDatabases returns the subset in the persistence layer.
func (d *Databases) PersistenceDatabases() *View {
	return d.View().Layer(PersistenceLayer)
}

// PopulationDatabases returns the subset in the population layer.
func (d *Databases) PopulationDatabases() *View {
	return d.View().Layer(PopulationLayer)
}

// Layer returns the subset in the named layer.
func (d *Databases) Layer(name string) *View {
	return d.View().Layer(name)
}

// Configs returns a copy of the registered declarations.
func (d *Databases) Configs() []Declaration {
	return d.View().Configs()
}

// Connections returns the live connections in declaration order, or nil
// when none connected.
func (d *Databases) Connections() []store.Connection {
	return d.View().Connections()
}

// Shells returns the live connections with their layers.
func (d *Databases) Shells() []Shell {
	return d.View().Shells()
}

// Save writes doc to every connection. See View.Save.
func (d *Databases) Save(ctx context.Context, doc any, opts ...SaveOption) (*SaveResult, error) {
	return d.View().Save(ctx, doc, opts...)
}

// Find queries the first connection. See View.Find.
func (d *Databases) Find(ctx context.Context, query store.Query, collection string) ([]store.Document, error) {
	return d.View().Find(ctx, query, collection)
}

// Populate resolves references on doc. See View.Populate.
func (d *Databases) Populate(ctx context.Context, doc store.Document, properties, collections []string) (store.Document, error) {
	return d.View().Populate(ctx, doc, properties, collections)
}

// Rollback replays captured pre-images. See View.Rollback.
func (d *Databases) Rollback(ctx context.Context, state *PreSaveState) error {
	return d.View().Rollback(ctx, state)
}

// Remove deletes matching documents from every connection. See View.Remove.
func (d *Databases) Remove(ctx context.Context, query store.Query, collection string) (*RemoveResult, error) {
	return d.View().Remove(ctx, query, collection)
}
