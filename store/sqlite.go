package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SqliteStore stores all collections in a single SQLite database.
//
// Tables:
//
//	documents(collection, key, data)  PRIMARY KEY (collection, key)
type SqliteStore struct {
	idField
	mu     sync.RWMutex
	dbPath string
	db     *sql.DB
}

func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{idField: idField{pattern: "id"}, dbPath: dbPath}
}

func (s *SqliteStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.PingContext(ctx)
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return errors.Trace(err)
	}
	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return errors.Annotatef(err, "opening %q", s.dbPath)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return errors.Annotatef(err, "opening %q", s.dbPath)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	)`); err != nil {
		db.Close()
		return errors.Annotate(err, "creating documents table")
	}
	s.db = db
	return nil
}

func (s *SqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SqliteStore) Save(ctx context.Context, doc Document, collection string, upsert bool) (Document, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	key, err := idOf(doc, s.IDPattern())
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	if upsert {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)
			 ON CONFLICT(collection, key) DO UPDATE SET data = excluded.data`,
			collection, key, string(b),
		)
		if err != nil {
			return nil, errors.Annotatef(err, "saving %s/%s", collection, key)
		}
		return doc.Clone(), nil
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET data = ? WHERE collection = ? AND key = ?",
		string(b), collection, key,
	)
	if err != nil {
		return nil, errors.Annotatef(err, "saving %s/%s", collection, key)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (s *SqliteStore) Find(ctx context.Context, query Query, collection string) ([]Document, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	docs, _, err := s.scan(ctx, collection, query)
	return docs, err
}

func (s *SqliteStore) Remove(ctx context.Context, query Query, collection string) (int, error) {
	if collection == "" {
		return 0, ErrMissingCollection
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrNotConnected
	}
	_, keys, err := s.scan(ctx, collection, query)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Trace(err)
	}
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE collection = ? AND key = ?",
			collection, key,
		); err != nil {
			tx.Rollback()
			return 0, errors.Annotatef(err, "removing %s/%s", collection, key)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Trace(err)
	}
	return len(keys), nil
}

// scan loads a collection ordered by key and returns the matching documents
// together with their keys.
func (s *SqliteStore) scan(ctx context.Context, collection string, query Query) ([]Document, []string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, data FROM documents WHERE collection = ? ORDER BY key", collection)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "reading collection %q", collection)
	}
	defer rows.Close()
	var (
		docs []Document
		keys []string
	)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, nil, errors.Trace(err)
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		ok, err := Match(doc, query)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			docs = append(docs, doc)
			keys = append(keys, key)
		}
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, keys, rows.Err()
}
