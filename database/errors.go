package database

import (
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/stevemurr/layerstore/store"
)

const (
	// ErrEmptyDocument is returned by Save before any I/O when the
	// document is nil or has no fields.
	ErrEmptyDocument = errors.ConstError("refused to save empty or undefined document")

	// ErrNoActiveConnections is returned when no store connected.
	ErrNoActiveConnections = errors.ConstError("no active connections")

	// ErrNoCollectionName marks a raw store error from a Save that had
	// no collection name, and therefore no rollback target.
	ErrNoCollectionName = errors.ConstError("no collection name")

	// ErrPartialSave is returned when a store failed and every completed
	// write was rolled back.
	ErrPartialSave = errors.ConstError("save failed on one or more databases, rollback successful")

	// ErrRollbackFailed is returned when a store failed and the rollback
	// failed as well. The stores are left inconsistent.
	ErrRollbackFailed = errors.ConstError("save failed on one or more databases, rollback failed")

	// ErrNothingSaved is returned when no store accepted the write.
	ErrNothingSaved = errors.ConstError("save failed on all databases")

	// ErrNothingRemoved is returned when no store accepted the removal.
	ErrNothingRemoved = errors.ConstError("remove failed on all databases")

	ErrPopulateUnresolved = errors.ConstError("no reference could be populated")
	ErrPopulatePartial    = errors.ConstError("some references could not be populated")

	// ErrAmbiguousIdentifier is reported in SaveResult.Skipped when the
	// pre-save lookup matched more than one document.
	ErrAmbiguousIdentifier = errors.ConstError("identifier matches more than one document")

	// ErrIneligibleDeclaration is reported by Init for declarations
	// without a type or connection string.
	ErrIneligibleDeclaration = errors.ConstError("declaration has no type or connection string")
)

// Diagnostic records something that was skipped instead of failing the
// whole operation.
type Diagnostic struct {
	// Declaration is set for Init diagnostics.
	Declaration *Declaration
	// Conn is set for Save diagnostics.
	Conn   store.Connection
	Reason error
}

func (d Diagnostic) String() string {
	if d.Declaration != nil {
		return fmt.Sprintf("%s: %v", d.Declaration, d.Reason)
	}
	return d.Reason.Error()
}

// SaveError is returned by Save when the write did not durably succeed.
// Result accounts for every store that was attempted.
type SaveError struct {
	Kind   error
	Result *SaveResult
	// Cause is the rollback failure for ErrRollbackFailed.
	Cause error
}

func (e *SaveError) Error() string {
	msg := e.Kind.Error()
	if e.Result != nil && len(e.Result.Errors) > 0 {
		msg = fmt.Sprintf("%s: %v", msg, e.Result.Errors[len(e.Result.Errors)-1])
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	return msg
}

func (e *SaveError) Is(target error) bool { return target == e.Kind }

func (e *SaveError) Unwrap() error { return e.Cause }

// RollbackError lists the replays that failed during a rollback.
type RollbackError struct {
	Errors []error
}

func (e *RollbackError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("rollback failed on %d connection(s): %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *RollbackError) Is(target error) bool { return target == ErrRollbackFailed }

func (e *RollbackError) Unwrap() []error { return e.Errors }

// PopulateError carries the document, populated as far as possible.
type PopulateError struct {
	Kind     error
	Document store.Document
}

func (e *PopulateError) Error() string { return e.Kind.Error() }

func (e *PopulateError) Is(target error) bool { return target == e.Kind }

// RemoveError is returned by Remove when no store accepted the removal.
type RemoveError struct {
	Result *RemoveResult
}

func (e *RemoveError) Error() string {
	if e.Result != nil && len(e.Result.Errors) > 0 {
		return fmt.Sprintf("%s: %v", ErrNothingRemoved, e.Result.Errors[0])
	}
	return ErrNothingRemoved.Error()
}

func (e *RemoveError) Is(target error) bool { return target == ErrNothingRemoved }

func (e *RemoveError) Unwrap() []error {
	if e.Result == nil {
		return nil
	}
	return e.Result.Errors
}

// noCollectionError is a store error from a Save without collection name.
type noCollectionError struct {
	cause error
}

func (e *noCollectionError) Error() string { return e.cause.Error() }

func (e *noCollectionError) Is(target error) bool { return target == ErrNoCollectionName }

func (e *noCollectionError) Unwrap() error { return e.cause }
