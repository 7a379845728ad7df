package database

import (
	"context"

	"github.com/juju/errors"

	"github.com/stevemurr/layerstore/store"
)

// Find runs query against the first connection only; reads are assumed to
// be served by a single authoritative store.
func (v *View) Find(ctx context.Context, query store.Query, collection string) ([]store.Document, error) {
	if len(v.shells) == 0 {
		return nil, ErrNoActiveConnections
	}
	docs, err := v.shells[0].Conn.Find(ctx, query, collection)
	if err != nil {
		return nil, errors.Annotatef(err, "find in %q", collection)
	}
	return docs, nil
}

// RemoveResult accounts for every connection a Remove attempted.
type RemoveResult struct {
	SuccessCount int
	ErrorCount   int
	// Removed is the number of documents removed across all connections.
	Removed int
	Errors  []error
}

// Remove deletes the documents matching query from every connection.
// Failures are counted, not rolled back; it fails only when no connection
// succeeded.
func (v *View) Remove(ctx context.Context, query store.Query, collection string) (*RemoveResult, error) {
	if len(v.shells) == 0 {
		return nil, ErrNoActiveConnections
	}
	result := &RemoveResult{}
	for _, shell := range v.shells {
		n, err := shell.Conn.Remove(ctx, query, collection)
		if err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, err)
			continue
		}
		result.SuccessCount++
		result.Removed += n
	}
	if result.SuccessCount == 0 {
		return result, &RemoveError{Result: result}
	}
	return result, nil
}
