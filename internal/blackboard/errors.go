package blackboard

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQueue is the normal, non-fatal answer to popping from an
	// empty queue; callers branch on it.
	ErrEmptyQueue = errors.New("queue is empty")

	// ErrOutOfRange is returned by indexed reads past the end of a queue.
	ErrOutOfRange = errors.New("queue index out of range")

	// ErrNotInTransaction is returned when a queue mutation is attempted
	// outside a blackboard transaction.
	ErrNotInTransaction = errors.New("queue mutation outside transaction")

	// ErrCorrupted marks a blackboard whose rollback failed. The in-memory
	// and on-disk views can no longer be reconciled automatically;
	// operator intervention is required.
	ErrCorrupted = errors.New("blackboard corrupted; operator intervention required")
)

// AccessError reports that a queue directory could not be read or created.
type AccessError struct {
	Queue string
	Err   error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("queue %s not accessible: %v", e.Queue, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// UpdateError reports that a transaction callback failed. Every queue has
// been rolled back to its pre-transaction state; disk was never touched.
type UpdateError struct {
	Err error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("transaction failed and was rolled back: %v", e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// PersistError reports a commit-phase I/O failure. When it is returned the
// disk and memory views have already been restored from the pre-transaction
// snapshot.
type PersistError struct {
	Queue string
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist queue %s: %v", e.Queue, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// RollbackError reports that restoring a queue from its snapshot failed; it
// always travels wrapped in ErrCorrupted.
type RollbackError struct {
	Queue string
	Err   error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("failed to roll back queue %s: %v", e.Queue, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }
