package store

import "errors"

var (
	// ErrStoreUnavailable indicates the durable backend could not be
	// reached even after the bounded retry budget. Callers count it and
	// rely on the next event or resync tick to repair.
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrConflictExceeded indicates the optimistic-concurrency retry
	// budget was exhausted on a single record. Same recovery path as
	// ErrStoreUnavailable: reconciliation is idempotent, the next trigger
	// repairs.
	ErrConflictExceeded = errors.New("concurrent update retries exceeded")
)
