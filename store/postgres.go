package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/juju/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// documentRow is the single table backing every collection.
type documentRow struct {
	Collection string `gorm:"primaryKey;column:collection"`
	Key        string `gorm:"primaryKey;column:doc_key"`
	Data       string `gorm:"column:data;type:jsonb;not null"`
}

func (documentRow) TableName() string { return "documents" }

// PostgresStore stores all collections in one PostgreSQL table using GORM.
// Queries are evaluated client side with Match.
type PostgresStore struct {
	idField
	mu  sync.RWMutex
	dsn string
	db  *gorm.DB
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{idField: idField{pattern: "id"}, dsn: dsn}
}

func (s *PostgresStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		db, err := gorm.Open(postgres.Open(s.dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return errors.Annotate(err, "failed to connect to database")
		}
		if err := db.WithContext(ctx).AutoMigrate(&documentRow{}); err != nil {
			return errors.Annotate(err, "migrating documents table")
		}
		s.db = db
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sqlDB.PingContext(ctx))
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Trace(err)
	}
	s.db = nil
	return sqlDB.Close()
}

func (s *PostgresStore) getDB() (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

func (s *PostgresStore) Save(ctx context.Context, doc Document, collection string, upsert bool) (Document, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	key, err := idOf(doc, s.IDPattern())
	if err != nil {
		return nil, err
	}
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	row := documentRow{Collection: collection, Key: key, Data: string(b)}
	if upsert {
		err = db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data"}),
		}).Create(&row).Error
		if err != nil {
			return nil, errors.Annotatef(err, "saving %s/%s", collection, key)
		}
		return doc.Clone(), nil
	}
	res := db.WithContext(ctx).Model(&documentRow{}).
		Where("collection = ? AND doc_key = ?", collection, key).
		Update("data", row.Data)
	if res.Error != nil {
		return nil, errors.Annotatef(res.Error, "saving %s/%s", collection, key)
	}
	if res.RowsAffected == 0 {
		return nil, ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (s *PostgresStore) Find(ctx context.Context, query Query, collection string) ([]Document, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	docs, _, err := s.scan(ctx, db, collection, query)
	return docs, err
}

func (s *PostgresStore) Remove(ctx context.Context, query Query, collection string) (int, error) {
	if collection == "" {
		return 0, ErrMissingCollection
	}
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var removed int64
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, keys, err := s.scan(ctx, tx, collection, query)
		if err != nil || len(keys) == 0 {
			return err
		}
		res := tx.Where("collection = ? AND doc_key IN ?", collection, keys).Delete(&documentRow{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, errors.Annotatef(err, "removing from %q", collection)
	}
	return int(removed), nil
}

func (s *PostgresStore) scan(ctx context.Context, db *gorm.DB, collection string, query Query) ([]Document, []string, error) {
	var rows []documentRow
	err := db.WithContext(ctx).Where("collection = ?", collection).Order("doc_key").Find(&rows).Error
	if err != nil {
		return nil, nil, errors.Annotatef(err, "reading collection %q", collection)
	}
	docs := make([]Document, 0, len(rows))
	var keys []string
	for _, row := range rows {
		var doc Document
		if err := json.Unmarshal([]byte(row.Data), &doc); err != nil {
			continue
		}
		ok, err := Match(doc, query)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			docs = append(docs, doc)
			keys = append(keys, row.Key)
		}
	}
	return docs, keys, nil
}
