package snapshot

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/ValentinKolb/keybox/lib/snapshot/serializer"
	"github.com/ValentinKolb/keybox/lib/snapshot/storage"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("snapshot")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum      = "KEYBOX\x00"              // Snapshot format identifier
	formatVersion = 1                         // Snapshot format version
	headerSize    = len(magicNum) + 1 + 1 + 1 // magic | version | serializer id | compression id
)

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// Codec encodes snapshots and writes them to a storage backend.
// It implements the engine's Snapshotter interface.
//
// Encoded layout:
//
//	"KEYBOX\x00" | version uint8 | serializer id uint8 | compression id uint8 | payload
//
// The payload is the serializer output passed through the compression. Decoding
// reads serializer and compression from the header, so a snapshot written with any
// configuration can be loaded by a codec with any other configuration.
//
// Thread-safety: Encode and Decode are safe for concurrent use. Save must not be
// called concurrently (the engine serializes all saves).
type Codec struct {
	storage     storage.IStorage
	serializer  serializer.ISnapshotSerializer
	compression Compression
}

// NewCodec creates a codec that writes with the given serializer and compression
func NewCodec(store storage.IStorage, s serializer.ISnapshotSerializer, c Compression) (*Codec, error) {
	if store == nil {
		return nil, fmt.Errorf("snapshot storage must not be nil")
	}
	if s == nil {
		return nil, fmt.Errorf("snapshot serializer must not be nil")
	}
	if !c.valid() {
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
	return &Codec{storage: store, serializer: s, compression: c}, nil
}

// Encode serializes and compresses records and prepends the header
func (c *Codec) Encode(records []db.Record) ([]byte, error) {
	payload, err := c.serializer.Serialize(records)
	if err != nil {
		return nil, fmt.Errorf("serializing snapshot (%s): %w", c.serializer.Name(), err)
	}

	payload, err = c.compression.compress(payload)
	if err != nil {
		return nil, fmt.Errorf("compressing snapshot (%s): %w", c.compression, err)
	}

	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, magicNum...)
	out = append(out, formatVersion, c.serializer.ID(), uint8(c.compression))
	out = append(out, payload...)
	return out, nil
}

// Decode parses an encoded snapshot
func Decode(data []byte) ([]db.Record, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("snapshot too short for header (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:len(magicNum)], []byte(magicNum)) {
		return nil, fmt.Errorf("invalid snapshot format")
	}

	pos := len(magicNum)
	if version := data[pos]; version != formatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", version)
	}

	s, err := serializer.FromID(data[pos+1])
	if err != nil {
		return nil, err
	}

	compression := Compression(data[pos+2])
	if !compression.valid() {
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}

	payload, err := compression.decompress(data[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot (%s): %w", compression, err)
	}

	records, err := s.Deserialize(payload)
	if err != nil {
		return nil, fmt.Errorf("deserializing snapshot (%s): %w", s.Name(), err)
	}
	return records, nil
}

// Save encodes records and replaces the stored snapshot
func (c *Codec) Save(records []db.Record) error {
	start := time.Now()

	data, err := c.Encode(records)
	if err != nil {
		return err
	}
	if err := c.storage.Write(data); err != nil {
		return err
	}

	log.Debugf("saved snapshot to %s (%d records, %d bytes, %s)", c.storage, len(records), len(data), time.Since(start))
	return nil
}

// Load reads and decodes the stored snapshot.
// It returns no records and no error if no snapshot exists.
func (c *Codec) Load() ([]db.Record, error) {
	data, err := c.storage.Read()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		log.Infof("no snapshot found at %s", c.storage)
		return nil, nil
	}

	records, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot from %s: %w", c.storage, err)
	}
	return records, nil
}

// Close closes the storage backend
func (c *Codec) Close() error {
	return c.storage.Close()
}

// String describes the codec configuration
func (c *Codec) String() string {
	return fmt.Sprintf("%s (serializer: %s, compression: %s)", c.storage, c.serializer.Name(), c.compression)
}
