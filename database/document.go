package database

import (
	"encoding/json"
	"reflect"

	"github.com/juju/errors"

	"github.com/stevemurr/layerstore/store"
)

// collectionKey is the document property naming its collection.
const collectionKey = "collection"

// Collectioner is implemented by document types that belong to a fixed
// collection.
type Collectioner interface {
	Collection() string
}

// toDocument deep-copies v into a Document and returns the type-level
// collection name, if any.
func toDocument(v any) (store.Document, string, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Map) && rv.IsNil() {
		return nil, "", ErrEmptyDocument
	}
	var typeCollection string
	if c, ok := v.(Collectioner); ok {
		typeCollection = c.Collection()
	}
	var doc store.Document
	switch m := v.(type) {
	case store.Document:
		doc = m.Clone()
	case map[string]any:
		doc = store.Document(m).Clone()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", errors.Annotatef(err, "encoding %T document", v)
		}
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, "", errors.NotValidf("document of type %T", v)
		}
	}
	if len(doc) == 0 {
		return nil, "", ErrEmptyDocument
	}
	return doc, typeCollection, nil
}

// identifier returns the document's id, falling back to _id.
func identifier(doc store.Document) any {
	for _, key := range []string{"id", "_id"} {
		if id, ok := doc[key]; ok && id != nil && id != "" {
			return id
		}
	}
	return nil
}

// truthy reports whether a property value holds something to resolve.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	}
	return true
}

// references returns v as a list of reference identifiers when it is a
// slice or array.
func references(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, true
}
