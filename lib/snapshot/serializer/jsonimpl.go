package serializer

import (
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/goccy/go-json"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() ISnapshotSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the ISnapshotSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// jsonRecord is the json representation of a db.Record.
// A record without expiration has no expires_at field.
type jsonRecord struct {
	Key          string     `json:"key"`
	Value        string     `json:"value"`
	LastModified time.Time  `json:"last_modified"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISnapshotSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) ID() uint8 { return IDJSON }

func (j jsonSerializerImpl) Name() string { return "json" }

func (j jsonSerializerImpl) Serialize(records []db.Record) ([]byte, error) {
	wire := make([]jsonRecord, len(records))
	for i, r := range records {
		wire[i] = jsonRecord{
			Key:          r.Key,
			Value:        r.Value,
			LastModified: r.LastModified,
		}
		if r.HasExpiry() {
			expiresAt := r.ExpiresAt
			wire[i].ExpiresAt = &expiresAt
		}
	}
	return json.Marshal(wire)
}

func (j jsonSerializerImpl) Deserialize(b []byte) ([]db.Record, error) {
	var wire []jsonRecord
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, err
	}

	records := make([]db.Record, len(wire))
	for i, r := range wire {
		records[i] = db.Record{
			Key:          r.Key,
			Value:        r.Value,
			LastModified: r.LastModified,
		}
		if r.ExpiresAt != nil {
			records[i].ExpiresAt = *r.ExpiresAt
		}
	}
	return records, nil
}
