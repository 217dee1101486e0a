package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/keybox/lib/db"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() ISnapshotSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the ISnapshotSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISnapshotSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) ID() uint8 { return IDGOB }

func (g gobSerializerImpl) Name() string { return "gob" }

func (g gobSerializerImpl) Serialize(records []db.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte) ([]db.Record, error) {
	var records []db.Record
	dec := gob.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}
