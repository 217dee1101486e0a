package serializer

import (
	"fmt"

	"github.com/ValentinKolb/keybox/lib/db"
)

// Serializer ids as written into the snapshot header
const (
	IDJSON   uint8 = 1
	IDGOB    uint8 = 2
	IDBinary uint8 = 3
)

// ISnapshotSerializer is the interface for all snapshot serializers
type ISnapshotSerializer interface {
	// ID returns the id stored in the snapshot header
	ID() uint8
	// Name returns the configuration name of the serializer (json, gob, binary)
	Name() string
	// Serialize serializes all records of a snapshot into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(records []db.Record) ([]byte, error)
	// Deserialize deserializes a byte array into the records of a snapshot
	// It returns the records and an error if any
	Deserialize(b []byte) ([]db.Record, error)
}

// FromName returns the serializer with the given configuration name
func FromName(name string) (ISnapshotSerializer, error) {
	switch name {
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	case "binary":
		return NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q (valid: json, gob, binary)", name)
	}
}

// FromID returns the serializer with the given header id
func FromID(id uint8) (ISnapshotSerializer, error) {
	switch id {
	case IDJSON:
		return NewJSONSerializer(), nil
	case IDGOB:
		return NewGOBSerializer(), nil
	case IDBinary:
		return NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer id %d", id)
	}
}
