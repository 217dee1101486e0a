// Package lockmgr implements a locking mechanism on top of a keybox database
// (any db.KVDB implementation). It provides a simple way to coordinate access to
// shared resources between goroutines or processes that share one database.
//
// The lock manager only ever stores in the provided database and has no other
// internal state. Therefore it is safe to be created multiple times on the same
// database. As long as the same database is used every time, all locks work as
// expected.
//
// Core Functionality:
//   - Lock acquisition with ownership verification
//   - Automatic lock expiration through configurable timeouts
//   - Safe release operations that verify ownership
//
// Implementation Approach:
//
//	- Lock Acquisition: Attempts to create the key with Add (or AddE with a
//	  timeout). Add fails with db.ErrAlreadyExists while a live record exists, so
//	  only one requester can create the key. The value is a random owner ID.
//
//	- Lock Verification: A successful Add is followed by a Get to confirm that the
//	  stored value matches the owner ID.
//
//	- Timeouts: A lock with a timeout is stored with a ttl. Once it expired, the
//	  next Add reclaims the key, so a crashed holder cannot block a resource forever.
//
//	- Safe Release: ReleaseLock first verifies that the requester is the owner by
//	  comparing owner IDs before it deletes the key.
//
//	- Transactions: While the database has an open transaction every write would
//	  only be staged. Both operations therefore fail with ErrTransactionActive.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(kv)
//
//	acquired, ownerID, err := locks.AcquireLock("resource:123", 30*time.Second)
//	if err != nil {
//	    // Handle error
//	}
//
//	if acquired {
//	    // Use the resource safely
//	    // ...
//	    released, err := locks.ReleaseLock("resource:123", ownerID)
//	}
//
// Security Considerations:
//
//	Owner IDs are random uuids, which protects against accidental lock stealing.
//	It is not designed to resist malicious users with direct access to the database.
package lockmgr
