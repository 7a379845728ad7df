package database

import (
	"context"

	"github.com/stevemurr/layerstore/store"
)

// Snapshot is a one-shot undo action for one connection.
type Snapshot struct {
	Conn       store.Connection
	Document   store.Document
	Collection string
	Upsert     bool
	// Absent means there was no prior document: undo removes the
	// documents matching Document, used as a query.
	Absent bool
}

// PreSaveState maps connections to their snapshot, in insertion order.
type PreSaveState struct {
	snapshots []Snapshot
}

// NewPreSaveState returns an empty PreSaveState.
func NewPreSaveState() *PreSaveState {
	return &PreSaveState{}
}

// Set adds snap, replacing any snapshot for the same connection.
func (s *PreSaveState) Set(snap Snapshot) {
	for i := range s.snapshots {
		if s.snapshots[i].Conn == snap.Conn {
			s.snapshots[i] = snap
			return
		}
	}
	s.snapshots = append(s.snapshots, snap)
}

// Delete drops the snapshot for conn.
func (s *PreSaveState) Delete(conn store.Connection) {
	for i := range s.snapshots {
		if s.snapshots[i].Conn == conn {
			s.snapshots = append(s.snapshots[:i], s.snapshots[i+1:]...)
			return
		}
	}
}

// Len returns the number of snapshots.
func (s *PreSaveState) Len() int { return len(s.snapshots) }

// Snapshots returns a copy of the snapshots in insertion order.
func (s *PreSaveState) Snapshots() []Snapshot {
	return append([]Snapshot(nil), s.snapshots...)
}

// Rollback replays every snapshot on its own connection: prior documents
// are saved back, absent ones removed. It returns nil only if every replay
// succeeded, otherwise a *RollbackError. Failed replays leave their
// connection as it was.
func (v *View) Rollback(ctx context.Context, state *PreSaveState) error {
	if state == nil {
		return nil
	}
	var errs []error
	for _, snap := range state.snapshots {
		var err error
		if snap.Absent {
			_, err = snap.Conn.Remove(ctx, store.Query(snap.Document), snap.Collection)
		} else {
			_, err = snap.Conn.Save(ctx, snap.Document, snap.Collection, snap.Upsert)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &RollbackError{Errors: errs}
	}
	return nil
}
