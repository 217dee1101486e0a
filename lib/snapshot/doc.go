// Package snapshot persists the full keybox key space as one encoded blob.
//
// The Codec implements the engine's Snapshotter interface. Save serializes all
// records (see package serializer), compresses the result and hands it to a storage
// backend (see package storage). Load reverses these steps.
//
// Every snapshot starts with a small header that names the format version, the
// serializer and the compression. Changing the configured serializer or compression
// therefore never makes an existing snapshot unreadable; the next save rewrites it
// in the new configuration.
//
// Supported compressions (github.com/klauspost/compress):
//   - none
//   - gzip (default)
//   - zstd
//   - s2
//
// Usage:
//
//	s, _ := serializer.FromName("json")
//	codec, err := snapshot.NewCodec(storage.NewFileStorage("data.kbx"), s, snapshot.CompressionGzip)
//	kv := box.NewBoxDB(&box.DBOptions{Snapshotter: codec})
package snapshot
