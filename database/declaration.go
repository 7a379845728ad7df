package database

import "fmt"

// Well-known layers.
const (
	PersistenceLayer = "persistence"
	PopulationLayer  = "population"
)

// Declaration describes one store to connect to.
type Declaration struct {
	Name      string `json:"name,omitempty"`
	Type      string `json:"type,omitempty"`
	URI       string `json:"uri,omitempty"`
	URL       string `json:"url,omitempty"`
	Layer     string `json:"layer,omitempty"`
	IDPattern string `json:"idPattern,omitempty"`
}

// ConnectionString returns URI, or URL when URI is empty.
func (d Declaration) ConnectionString() string {
	if d.URI != "" {
		return d.URI
	}
	return d.URL
}

// Eligible reports whether the declaration names a store type and a
// connection string.
func (d Declaration) Eligible() bool {
	return d.Type != "" && d.ConnectionString() != ""
}

// String omits the connection string, which may carry credentials.
func (d Declaration) String() string {
	name := d.Name
	if name == "" {
		name = "unnamed"
	}
	return fmt.Sprintf("%s (type %q, layer %q)", name, d.Type, d.Layer)
}
