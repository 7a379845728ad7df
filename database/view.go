package database

import (
	"slices"

	"github.com/rs/zerolog"

	"github.com/stevemurr/layerstore/store"
)

// View is an immutable set of declarations and connections. It owns its
// slices and hands out copies only, so a View taken from a Databases is
// never affected by later registration or Init calls.
type View struct {
	configs []Declaration
	shells  []Shell
	log     zerolog.Logger
}

func newView(configs []Declaration, shells []Shell, log zerolog.Logger) *View {
	return &View{
		configs: slices.Clone(configs),
		shells:  slices.Clone(shells),
		log:     log,
	}
}

// Layer returns the subset of v in the named layer.
func (v *View) Layer(name string) *View {
	var configs []Declaration
	for _, decl := range v.configs {
		if decl.Layer == name {
			configs = append(configs, decl)
		}
	}
	var shells []Shell
	for _, shell := range v.shells {
		if shell.Layer == name {
			shells = append(shells, shell)
		}
	}
	return &View{configs: configs, shells: shells, log: v.log}
}

// Configs returns a copy of the declarations in v.
func (v *View) Configs() []Declaration {
	return slices.Clone(v.configs)
}

// Shells returns a copy of the connections in v with their layers.
func (v *View) Shells() []Shell {
	return slices.Clone(v.shells)
}

// Connections returns the connections in declaration order, or nil when
// there are none.
func (v *View) Connections() []store.Connection {
	if len(v.shells) == 0 {
		return nil
	}
	conns := make([]store.Connection, len(v.shells))
	for i, shell := range v.shells {
		conns[i] = shell.Conn
	}
	return conns
}
