// Package store defines the document store driver interface and its implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/juju/errors"
)

const (
	// ErrNotConnected is returned when a connection is used before Connect
	// or after Close.
	ErrNotConnected = errors.ConstError("store not connected")

	// ErrMissingCollection is returned when no collection name is given.
	ErrMissingCollection = errors.ConstError("missing collection name")

	// ErrMissingID is returned when a saved document has no value under
	// the connection's identifier field.
	ErrMissingID = errors.ConstError("document has no identifier")

	// ErrDocumentNotFound is returned by Save without upsert when there is
	// no existing document to replace.
	ErrDocumentNotFound = errors.ConstError("document not found")
)

// Document is a single structured record.
type Document map[string]any

// Query selects documents. See Match for the supported dialect.
type Query map[string]any

// Connection is the interface that all store drivers must implement.
// It operates on named collections of documents identified by the field
// returned from IDPattern.
type Connection interface {
	// Connect establishes (or re-establishes) the connection.
	Connect(ctx context.Context) error

	// Save writes a document keyed by its IDPattern field. With upsert the
	// document is inserted or replaced, without it only an existing document
	// is replaced. The stored record is returned.
	Save(ctx context.Context, doc Document, collection string, upsert bool) (Document, error)

	// Find returns every document in the collection matching query.
	Find(ctx context.Context, query Query, collection string) ([]Document, error)

	// Remove deletes every document in the collection matching query and
	// returns how many were removed.
	Remove(ctx context.Context, query Query, collection string) (int, error)

	// IDPattern names the identifier field.
	IDPattern() string

	// Close releases the underlying resources.
	Close() error
}

// Clone returns a deep copy of a document by round-tripping through JSON.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	b, _ := json.Marshal(d)
	var dst Document
	_ = json.Unmarshal(b, &dst)
	return dst
}

// KeyOf turns an identifier value into the string key used by the
// key/value backed drivers. Whole floats are printed without a fraction so
// that 1 and 1.0 address the same record.
func KeyOf(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", ErrMissingID
	case string:
		if id == "" {
			return "", ErrMissingID
		}
		return id, nil
	case float64:
		// Whole floats beyond the int64 range would overflow the conversion.
		if id == math.Trunc(id) && math.Abs(id) < 1<<63 {
			return strconv.FormatInt(int64(id), 10), nil
		}
		return strconv.FormatFloat(id, 'g', -1, 64), nil
	case float32:
		return KeyOf(float64(id))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(id), nil
	case json.Number:
		return id.String(), nil
	default:
		b, err := json.Marshal(id)
		if err != nil {
			return "", errors.Annotate(err, "cannot encode identifier")
		}
		return string(b), nil
	}
}

// idOf returns the key of doc under pattern.
func idOf(doc Document, pattern string) (string, error) {
	key, err := KeyOf(doc[pattern])
	if err != nil {
		return "", errors.Annotatef(err, "field %q", pattern)
	}
	return key, nil
}

// matchAll filters docs with query.
func matchAll(docs []Document, query Query) ([]Document, error) {
	result := make([]Document, 0, len(docs))
	for _, doc := range docs {
		ok, err := Match(doc, query)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, doc)
		}
	}
	return result, nil
}
