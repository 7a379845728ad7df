package database

import (
	"context"

	"github.com/stevemurr/layerstore/store"
)

// Populate replaces reference identifiers in doc with the records they
// point to. properties[i] is looked up in collections[i] through Find,
// matching on the first connection's IDPattern.
//
// A list property is resolved with a single query and keeps its order and
// length: identifiers without a record stay in place, and the property is
// only partly resolved. A scalar property is replaced by the first matching
// record. Lookup errors only leave their property unresolved.
//
// doc is modified in place. When anything is left unresolved the partially
// populated document is returned with a *PopulateError of kind
// ErrPopulatePartial; when nothing could be substituted, the untouched
// document comes back with ErrPopulateUnresolved.
func (v *View) Populate(ctx context.Context, doc store.Document, properties, collections []string) (store.Document, error) {
	if len(properties) == 0 {
		return doc, nil
	}
	if len(v.shells) == 0 {
		return doc, ErrNoActiveConnections
	}
	pattern := v.shells[0].Conn.IDPattern()

	resolved, substituted := 0, 0
	for i, property := range properties {
		value, ok := doc[property]
		if !ok || !truthy(value) || i >= len(collections) {
			continue
		}
		collection := collections[i]

		if refs, ok := references(value); ok {
			records, err := v.Find(ctx, store.Query{pattern: store.Query{"$in": refs}}, collection)
			if err != nil || len(records) == 0 {
				v.log.Debug().Err(err).Str("property", property).Msg("reference unresolved")
				continue
			}
			projected, complete := project(refs, records, pattern)
			doc[property] = projected
			substituted++
			if complete {
				resolved++
			}
			continue
		}

		records, err := v.Find(ctx, store.Query{pattern: value}, collection)
		if err != nil || len(records) == 0 {
			v.log.Debug().Err(err).Str("property", property).Msg("reference unresolved")
			continue
		}
		doc[property] = records[0]
		substituted++
		resolved++
	}

	switch {
	case substituted == 0:
		return doc, &PopulateError{Kind: ErrPopulateUnresolved, Document: doc}
	case resolved < len(properties):
		return doc, &PopulateError{Kind: ErrPopulatePartial, Document: doc}
	}
	return doc, nil
}

// project maps every reference onto its record, leaving unknown ones as
// is. complete reports whether every reference had a record.
func project(refs []any, records []store.Document, pattern string) (out []any, complete bool) {
	out = make([]any, len(refs))
	complete = true
	for i, ref := range refs {
		out[i] = ref
		found := false
		for _, record := range records {
			if store.EqualValues(record[pattern], ref) {
				out[i] = record
				found = true
				break
			}
		}
		complete = complete && found
	}
	return out, complete
}
