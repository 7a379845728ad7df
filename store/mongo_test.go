package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stevemurr/layerstore/store"
)

func TestMongoConnectExpiredContext(t *testing.T) {
	s := store.NewMongoStore("mongodb://127.0.0.1:1/test")

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Connect(canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if err := s.Connect(expired); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	if _, err := s.Find(context.Background(), store.Query{}, "cars"); !errors.Is(err, store.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
