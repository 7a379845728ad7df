package store

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
)

// DefaultMongoDialTimeout bounds the initial dial in Connect.
const DefaultMongoDialTimeout = 10 * time.Second

// MongoStore stores collections in MongoDB. The database is taken from the
// URI path. Queries are passed to the server as they are.
type MongoStore struct {
	idField
	mu      sync.RWMutex
	uri     string
	session *mgo.Session
}

func NewMongoStore(uri string) *MongoStore {
	return &MongoStore{idField: idField{pattern: "_id"}, uri: uri}
}

func (s *MongoStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return errors.Trace(s.session.Ping())
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	timeout := DefaultMongoDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	session, err := mgo.DialWithTimeout(s.uri, timeout)
	if err != nil {
		return errors.Annotate(err, "cannot connect to mongo")
	}
	s.session = session
	return nil
}

func (s *MongoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	return nil
}

// collection returns a copied session and the named collection on it.
// The caller must close the session.
func (s *MongoStore) collection(name string) (*mgo.Session, *mgo.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, nil, ErrNotConnected
	}
	session := s.session.Copy()
	return session, session.DB("").C(name), nil
}

func (s *MongoStore) Save(ctx context.Context, doc Document, collection string, upsert bool) (Document, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	id, ok := doc[s.IDPattern()]
	if !ok || id == nil {
		return nil, ErrMissingID
	}
	selector := bson.M{s.IDPattern(): id}
	session, coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	if upsert {
		if _, err := coll.Upsert(selector, bson.M(doc)); err != nil {
			return nil, errors.Annotatef(err, "saving %s/%v", collection, id)
		}
		return doc.Clone(), nil
	}
	if err := coll.Update(selector, bson.M(doc)); err != nil {
		if err == mgo.ErrNotFound {
			return nil, ErrDocumentNotFound
		}
		return nil, errors.Annotatef(err, "saving %s/%v", collection, id)
	}
	return doc.Clone(), nil
}

func (s *MongoStore) Find(ctx context.Context, query Query, collection string) ([]Document, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	session, coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	var found []bson.M
	if err := coll.Find(bson.M(query)).All(&found); err != nil {
		return nil, errors.Annotatef(err, "reading collection %q", collection)
	}
	docs := make([]Document, len(found))
	for i, m := range found {
		docs[i] = Document(m)
	}
	return docs, nil
}

func (s *MongoStore) Remove(ctx context.Context, query Query, collection string) (int, error) {
	if collection == "" {
		return 0, ErrMissingCollection
	}
	session, coll, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	defer session.Close()
	info, err := coll.RemoveAll(bson.M(query))
	if err != nil {
		return 0, errors.Annotatef(err, "removing from %q", collection)
	}
	return info.Removed, nil
}
