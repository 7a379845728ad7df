package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/stevemurr/layerstore/store"
)

// SaveResult accounts for every connection a Save attempted.
type SaveResult struct {
	SuccessCount int
	ErrorCount   int
	Successes    []store.Document
	Errors       []error
	// Skipped lists connections left out of rollback: their pre-save
	// state was ambiguous or could not be read.
	Skipped []Diagnostic
}

type saveOptions struct {
	collection string
	upsert     bool
	rollback   bool
}

// SaveOption configures a Save.
type SaveOption func(*saveOptions)

// InCollection names the target collection, overriding the document's own.
func InCollection(name string) SaveOption {
	return func(o *saveOptions) {
		o.collection = name
	}
}

// Upsert controls whether missing documents are inserted. Default true.
func Upsert(upsert bool) SaveOption {
	return func(o *saveOptions) {
		o.upsert = upsert
	}
}

// RollbackOnError controls whether completed writes are undone when a
// connection fails. Default true.
func RollbackOnError(rollback bool) SaveOption {
	return func(o *saveOptions) {
		o.rollback = rollback
	}
}

// Save writes doc to every connection, one at a time, in declaration order.
//
// The collection is taken from InCollection, else from the document's
// "collection" property, else from its Collection method; the property is
// never written. The identifier is the document's "id", else "_id", else a
// generated UUID, and is written under each connection's IDPattern.
//
// With rollback enabled and a known collection, the current state of the
// document is read from each connection just before writing to it. When a
// connection fails, the writes already done are undone from those
// pre-images and Save returns a *SaveError of kind ErrPartialSave, or
// ErrRollbackFailed when the undo itself failed; connections after the
// failing one are not written. A connection holding several documents with
// the same identifier cannot be restored: it is reported in
// SaveResult.Skipped and left as written if a rollback happens.
//
// Without rollback, failures are counted and the remaining connections are
// still written; Save fails with ErrNothingSaved only when no connection
// succeeded. A failure without any collection name returns the store
// error, marked as ErrNoCollectionName.
func (v *View) Save(ctx context.Context, doc any, opts ...SaveOption) (*SaveResult, error) {
	o := saveOptions{upsert: true, rollback: true}
	for _, opt := range opts {
		opt(&o)
	}
	base, typeCollection, err := toDocument(doc)
	if err != nil {
		return nil, err
	}
	if len(v.shells) == 0 {
		return nil, ErrNoActiveConnections
	}

	collection := o.collection
	if collection == "" {
		collection, _ = base[collectionKey].(string)
	}
	if collection == "" {
		collection = typeCollection
	}
	delete(base, collectionKey)

	id := identifier(base)
	if id == nil {
		id = uuid.NewString()
	}

	result := &SaveResult{}
	preSave := NewPreSaveState()
	for _, shell := range v.shells {
		conn := shell.Conn
		if o.rollback && collection != "" {
			v.capture(ctx, preSave, result, conn, collection, id, o.upsert)
		}

		payload := make(store.Document, len(base)+1)
		for k, val := range base {
			payload[k] = val
		}
		payload[conn.IDPattern()] = id

		saved, err := conn.Save(ctx, payload, collection, o.upsert)
		if err == nil {
			result.SuccessCount++
			result.Successes = append(result.Successes, saved)
			continue
		}
		result.ErrorCount++
		result.Errors = append(result.Errors, err)

		if collection == "" {
			return result, &noCollectionError{cause: err}
		}
		if o.rollback {
			// The failing write never happened; nothing to undo there.
			preSave.Delete(conn)
			if rbErr := v.Rollback(ctx, preSave); rbErr != nil {
				v.log.Debug().Err(rbErr).Msg("rollback failed")
				return result, &SaveError{Kind: ErrRollbackFailed, Result: result, Cause: rbErr}
			}
			return result, &SaveError{Kind: ErrPartialSave, Result: result}
		}
	}
	if result.SuccessCount == 0 {
		return result, &SaveError{Kind: ErrNothingSaved, Result: result}
	}
	return result, nil
}

// capture records the pre-save state of the document on conn.
func (v *View) capture(ctx context.Context, state *PreSaveState, result *SaveResult, conn store.Connection, collection string, id any, upsert bool) {
	query := store.Query{conn.IDPattern(): id}
	found, err := conn.Find(ctx, query, collection)
	switch {
	case err != nil:
		err = errors.Annotate(err, "reading pre-save state")
		result.Skipped = append(result.Skipped, Diagnostic{Conn: conn, Reason: err})
		v.log.Debug().Err(err).Str("collection", collection).Msg("pre-save state skipped")
	case len(found) == 0:
		state.Set(Snapshot{Conn: conn, Document: store.Document(query), Collection: collection, Absent: true})
	case len(found) == 1:
		state.Set(Snapshot{Conn: conn, Document: found[0], Collection: collection, Upsert: upsert})
	default:
		result.Skipped = append(result.Skipped, Diagnostic{Conn: conn, Reason: ErrAmbiguousIdentifier})
		v.log.Debug().Str("collection", collection).Interface("id", id).Msg("pre-save state ambiguous")
	}
}
