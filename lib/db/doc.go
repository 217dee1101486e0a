// Package db provides a standardized interface for embedded key-value database
// implementations with ttl based expiration and transactions.
//
// The package focuses on:
//   - A unified interface for keyed CRUD operations
//   - A typed error taxonomy that callers can match with errors.Is
//   - Single-writer transactions with a committed-read isolation contract
//   - Comprehensive metadata reporting
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     It provides methods for basic operations (Add, Get, Update, Delete, GetAll),
//     ttl variants (AddE, UpdateE), transactions (BeginTransaction, CommitTransaction,
//     RollbackTransaction), persistence (Persist) and metadata (GetInfo, WriteMetrics).
//
//   - Record: The value entity. It stores the value, the last modification time and an
//     optional expiration time. IsExpired reports whether the expiration time has passed.
//
//   - Error: The error type of all keyed operations. Each error carries an ErrCode
//     (AlreadyExists, NotFound, Expired, TransactionAlreadyActive, NoActiveTransaction,
//     PendingDeletion, Closed). The package exports one sentinel per code so callers can
//     write errors.Is(err, db.ErrExpired).
//
// Note on Expiration:
//   - Expiration is lazy on read: Get and Update report ErrExpired for an expired record
//     and evict it as a side effect. A background process (the reaper of an implementation)
//     reclaims the remaining expired records periodically.
//   - ErrExpired is distinct from ErrNotFound so callers can tell "never existed" from
//     "existed, expired". A second read of an evicted key reports ErrNotFound.
//   - GetAll does not filter expired records.
//
// Note on Transactions:
//   - At most one transaction is open per database. While it is open every write is staged.
//   - Reads never observe staged writes; they always run against the last committed state.
//   - Within a transaction, deleting a key and then adding it again fails with ErrPendingDeletion.
//
// Related Packages:
//
// The engines/box package (github.com/ValentinKolb/keybox/lib/db/engines/box) provides the
// implementation of the KVDB interface: a single map guarded by a reader/writer lock, a
// redundant index, transactions, an expiration reaper and snapshot persistence after every
// committed mutation.
//
// The testing package (github.com/ValentinKolb/keybox/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
