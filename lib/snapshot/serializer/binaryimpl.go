package serializer

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and size
func NewBinarySerializer() ISnapshotSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements ISnapshotSerializer using a custom binary format.
//
// Layout (all integers big endian):
//
//	count uint64
//	per record:
//	  keyLen uint32 | key | valueLen uint32 | value
//	  lastModified int64 (unix nano)
//	  hasExpiry uint8 | expiresAt int64 (unix nano, 0 if hasExpiry is 0)
type binarySerializerImpl struct {
}

const recordFixedSize = 4 + 4 + 8 + 1 + 8

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISnapshotSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) ID() uint8 { return IDBinary }

func (b binarySerializerImpl) Name() string { return "binary" }

func (b binarySerializerImpl) Serialize(records []db.Record) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, b.sizeBytes(records))

	binary.BigEndian.PutUint64(result[0:8], uint64(len(records)))
	pos := 8

	for _, r := range records {
		// Write key
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(r.Key)))
		pos += 4
		pos += copy(result[pos:], r.Key)

		// Write value
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(r.Value)))
		pos += 4
		pos += copy(result[pos:], r.Value)

		// Write timestamps
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(unixNano(r.LastModified)))
		pos += 8

		if r.HasExpiry() {
			result[pos] = 1
			binary.BigEndian.PutUint64(result[pos+1:pos+9], uint64(r.ExpiresAt.UnixNano()))
		}
		pos += 9
	}

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte) ([]db.Record, error) {
	// Check minimum size (count)
	if len(data) < 8 {
		return nil, fmt.Errorf("data too short for record count")
	}

	count := binary.BigEndian.Uint64(data[0:8])
	pos := 8

	// every record needs at least its fixed fields, reject counts that cannot fit
	if count > uint64(len(data)-pos)/recordFixedSize {
		return nil, fmt.Errorf("record count %d exceeds data size", count)
	}

	records := make([]db.Record, 0, count)
	for i := uint64(0); i < count; i++ {
		var r db.Record
		var err error

		if r.Key, pos, err = readString(data, pos); err != nil {
			return nil, fmt.Errorf("record %d: key: %w", i, err)
		}
		if r.Value, pos, err = readString(data, pos); err != nil {
			return nil, fmt.Errorf("record %d: value: %w", i, err)
		}

		if pos+17 > len(data) {
			return nil, fmt.Errorf("record %d: data too short for timestamps", i)
		}
		r.LastModified = fromUnixNano(int64(binary.BigEndian.Uint64(data[pos : pos+8])))
		pos += 8

		if data[pos] != 0 {
			r.ExpiresAt = time.Unix(0, int64(binary.BigEndian.Uint64(data[pos+1:pos+9])))
		}
		pos += 9

		records = append(records, r)
	}

	if pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after last record", len(data)-pos)
	}

	return records, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(records []db.Record) int {
	size := 8 // record count
	for _, r := range records {
		size += recordFixedSize + len(r.Key) + len(r.Value)
	}
	return size
}

// readString reads a length prefixed string starting at pos
func readString(data []byte, pos int) (string, int, error) {
	if pos+4 > len(data) {
		return "", pos, fmt.Errorf("data too short for length")
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4

	if n > len(data)-pos {
		return "", pos, fmt.Errorf("data too short for %d bytes", n)
	}
	return string(data[pos : pos+n]), pos + n, nil
}

// unixNano maps the zero time to 0 instead of an overflowing value
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
