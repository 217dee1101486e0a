package lockmgr

import (
	"errors"
	"time"
)

// ErrTransactionActive is returned when a lock operation is attempted while the
// database has an open transaction. Writes would only be staged, so the lock
// could neither be verified nor released.
var ErrTransactionActive = errors.New("lock operations are not allowed while a transaction is active")

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock acquires a lock for the given key with an optional timeout (0 = no timeout).
	// Return a boolean indicating whether the lock was acquired, an owner ID, and an error if any.
	AcquireLock(key string, timeout time.Duration) (ok bool, ownerID string, err error)

	// ReleaseLock releases the lock for the given key.
	// Return a boolean indicating whether the lock was released, and an error if any.
	// The method will also return true if the lock did not exist (or expired).
	ReleaseLock(key string, ownerID string) (ok bool, err error)
}
