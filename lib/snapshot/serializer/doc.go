// Package serializer provides record serialization for keybox snapshots. It defines
// a common interface and multiple implementations for turning the records of a
// snapshot into bytes and back.
//
// Key Components:
//
//   - ISnapshotSerializer: Core interface that all serializer implementations must satisfy.
//     Each implementation has an id that the snapshot codec writes into the snapshot
//     header, so a snapshot can always be read back with the serializer that wrote it.
//
//   - binarySerializerImpl: Custom length prefixed binary format (id 3). Smallest
//     payload and fastest encoding, recommended for large databases.
//
//   - jsonSerializerImpl: JSON encoding (id 1) using github.com/goccy/go-json. Human
//     readable once decompressed, useful for debugging. This is the default.
//
//   - gobSerializerImpl: Go's gob encoding (id 2).
//
// Timestamps are preserved with nanosecond precision by all implementations. The
// monotonic clock reading and the location of a time.Time are not preserved, so
// restored timestamps must be compared with time.Time.Equal.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.FromName("binary")
//	data, err := s.Serialize(records)
//	// ... write data ...
//	records, err = s.Deserialize(data)
package serializer
