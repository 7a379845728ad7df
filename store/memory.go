package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps everything in memory. Data survives Close/Connect
// cycles but is lost on restart. Safe for concurrent use.
type MemoryStore struct {
	idField
	mu          sync.RWMutex
	connected   bool
	collections map[string]map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		idField:     idField{pattern: "_id"},
		collections: make(map[string]map[string]Document),
	}
}

func (m *MemoryStore) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close disconnects the store; the data is kept for the next Connect.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemoryStore) Save(ctx context.Context, doc Document, collection string, upsert bool) (Document, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	key, err := idOf(doc, m.IDPattern())
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	coll, ok := m.collections[collection]
	if !ok {
		if !upsert {
			return nil, ErrDocumentNotFound
		}
		coll = make(map[string]Document)
		m.collections[collection] = coll
	}
	if _, exists := coll[key]; !exists && !upsert {
		return nil, ErrDocumentNotFound
	}
	stored := doc.Clone()
	coll[key] = stored
	return stored.Clone(), nil
}

func (m *MemoryStore) Find(ctx context.Context, query Query, collection string) ([]Document, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	matched, err := matchAll(m.sorted(collection), query)
	if err != nil {
		return nil, err
	}
	for i, doc := range matched {
		matched[i] = doc.Clone()
	}
	return matched, nil
}

func (m *MemoryStore) Remove(ctx context.Context, query Query, collection string) (int, error) {
	if collection == "" {
		return 0, ErrMissingCollection
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, ErrNotConnected
	}
	coll := m.collections[collection]
	removed := 0
	for key, doc := range coll {
		ok, err := Match(doc, query)
		if err != nil {
			return removed, err
		}
		if ok {
			delete(coll, key)
			removed++
		}
	}
	return removed, nil
}

// sorted returns the documents of a collection ordered by key, so that
// Find results are stable.
func (m *MemoryStore) sorted(collection string) []Document {
	coll := m.collections[collection]
	keys := make([]string, 0, len(coll))
	for k := range coll {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	docs := make([]Document, len(keys))
	for i, k := range keys {
		docs[i] = coll[k]
	}
	return docs
}
