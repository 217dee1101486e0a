// Package util provides utility components for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - expiryqueue: A min-heap of expiration deadlines that also supports key-based access,
//     so an expiration pass visits only the keys that are due
//   - statistics: A SizeHistogram for tracking the size distribution of records
//
// This package is particularly useful for:
//   - Database developers implementing the KVDB interface
//   - Monitoring code that needs to report database size and distribution metrics
//
// None of the types in this package are thread-safe. Callers synchronize access
// with the lock that guards the data the structures describe.
package util
