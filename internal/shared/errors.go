package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockHeld occurs when another process owns a distributed lock.
	ErrLockHeld = errors.New("lock held by another process")
)
