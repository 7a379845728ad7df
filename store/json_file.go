package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/juju/errors"
)

// JsonFileStore stores each collection as a separate JSON file on disk.
//
// Layout:
//
//	data_dir/
//	  cars.json      # "cars" collection, id -> document
//	  engines.json   # "engines" collection
type JsonFileStore struct {
	idField
	mu        sync.RWMutex
	dir       string
	connected bool
}

func NewJsonFileStore(dir string) *JsonFileStore {
	return &JsonFileStore{idField: idField{pattern: "id"}, dir: dir}
}

func (s *JsonFileStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Annotatef(err, "creating data directory %q", s.dir)
	}
	s.connected = true
	return nil
}

func (s *JsonFileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *JsonFileStore) collectionPath(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

// loadCollection reads a collection file; a missing file is an empty collection.
func (s *JsonFileStore) loadCollection(collection string) (map[string]Document, error) {
	data, err := os.ReadFile(s.collectionPath(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Document{}, nil
		}
		return nil, errors.Annotatef(err, "reading collection %q", collection)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotatef(err, "decoding collection %q", collection)
	}
	result := make(map[string]Document, len(raw))
	for k, v := range raw {
		if doc, ok := v.(map[string]any); ok {
			result[k] = doc
		}
	}
	return result, nil
}

func (s *JsonFileStore) saveCollection(collection string, coll map[string]Document) error {
	b, err := json.MarshalIndent(coll, "", "  ")
	if err != nil {
		return errors.Annotatef(err, "encoding collection %q", collection)
	}
	return os.WriteFile(s.collectionPath(collection), b, 0o644)
}

func (s *JsonFileStore) Save(ctx context.Context, doc Document, collection string, upsert bool) (Document, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	key, err := idOf(doc, s.IDPattern())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, ErrNotConnected
	}
	coll, err := s.loadCollection(collection)
	if err != nil {
		return nil, err
	}
	if _, exists := coll[key]; !exists && !upsert {
		return nil, ErrDocumentNotFound
	}
	stored := doc.Clone()
	coll[key] = stored
	if err := s.saveCollection(collection, coll); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *JsonFileStore) Find(ctx context.Context, query Query, collection string) ([]Document, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return nil, ErrNotConnected
	}
	coll, err := s.loadCollection(collection)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(coll))
	for k := range coll {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	docs := make([]Document, len(keys))
	for i, k := range keys {
		docs[i] = coll[k]
	}
	return matchAll(docs, query)
}

func (s *JsonFileStore) Remove(ctx context.Context, query Query, collection string) (int, error) {
	if collection == "" {
		return 0, ErrMissingCollection
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, ErrNotConnected
	}
	coll, err := s.loadCollection(collection)
	if err != nil {
		return 0, err
	}
	removed := 0
	for key, doc := range coll {
		ok, err := Match(doc, query)
		if err != nil {
			return 0, err
		}
		if ok {
			delete(coll, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveCollection(collection, coll)
}
