// Package storage provides the backends that hold the persisted keybox snapshot.
//
// A backend stores exactly one opaque blob (the encoded snapshot produced by the
// snapshot codec) and replaces it atomically on every write:
//
//   - NewFileStorage: a single file, written through a temporary file and a rename.
//     A missing or empty file means that no snapshot exists.
//   - NewBoltStorage: a bbolt database (go.etcd.io/bbolt) with the blob stored under
//     bucket "snapshot", key "current".
//
// Backends are not required to be safe for concurrent writes. The engine serializes
// all snapshot writes under its exclusive lock.
package storage
