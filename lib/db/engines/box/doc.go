// Package box implements an embedded key-value database (KVDB) with ttl based
// expiration, single-writer transactions and snapshot persistence. It provides a
// complete implementation of the db.KVDB interface.
//
// The package focuses on:
//   - One authoritative map guarded by a single reader/writer lock
//   - Lazy expiration on read plus a periodic background reaper
//   - Buffered transactions that are applied atomically on commit
//   - Durability through a full snapshot after every committed mutation
//
// Key Components:
//
//   - boxImpl: The central database structure implementing db.KVDB. It owns the
//     record map, the index, the expiry queue, the open transaction and the
//     snapshotter. Every mutation takes the exclusive lock, reads take the shared lock.
//
//   - Index: A concurrent map from key to the last modification time of its record.
//     It is only mutated under the exclusive lock together with the record map, so
//     both always hold exactly the same key set. Lookups consult the index first.
//
//   - Expiry Queue: A min-heap of expiration deadlines (see util.ExpiryQueue). The
//     reaper pops only due keys instead of scanning all records.
//
//   - Transaction: The staged writes of the open transaction (see internal.Transaction).
//     Pending upserts and pending deletes are disjoint. Reads never observe them.
//
//   - Reaper: A goroutine that wakes every ReaperInterval, removes all expired
//     records and writes a snapshot. Close stops it and waits for a pass in flight.
//
//   - Snapshotter: The persistence layer. After every committed mutation the whole
//     committed state is handed to Snapshotter.Save while the exclusive lock is held,
//     so snapshots are written one at a time and always reflect a committed state.
//     A failed save is logged and counted but never fails the mutation.
//
// Note on Expiration:
//   - Get evicts an expired record and returns db.ErrExpired. The shared lock is
//     released and the exclusive lock acquired before the eviction. The record is
//     checked again under the exclusive lock, since it may have been replaced or reaped
//     in between.
//   - Add treats an expired record as absent and replaces it.
//   - GetAll returns expired records that were not reaped yet.
//
// Note on Transactions:
//   - Add in a transaction fails if the key is pending deletion, has a staged upsert
//     or has a live committed record.
//   - Update in a transaction is validated against the committed state and staged.
//   - Delete in a transaction is staged without any check. Deleting a key that no
//     longer exists at commit time is a no-op.
//   - Close discards an open transaction.
//
// Usage Example:
//
//	codec, _ := snapshot.NewCodec(storage.NewFileStorage("data.kbx"), serializer.NewJSONSerializer(), snapshot.CompressionGzip)
//	kv := box.NewBoxDB(&box.DBOptions{Snapshotter: codec})
//	defer kv.Close()
//
//	_ = kv.AddE("session", "token", 30*time.Second)
//	value, err := kv.Get("session")
package box
