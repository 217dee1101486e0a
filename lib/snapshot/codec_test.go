package snapshot

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/ValentinKolb/keybox/lib/snapshot/serializer"
	"github.com/ValentinKolb/keybox/lib/snapshot/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allCompressions = []Compression{CompressionNone, CompressionGzip, CompressionZstd, CompressionS2}

func testRecords() []db.Record {
	now := time.Date(2025, 6, 1, 8, 0, 0, 123, time.UTC)
	records := make([]db.Record, 0, 50)
	for i := 0; i < 50; i++ {
		r := db.Record{Key: fmt.Sprintf("key-%02d", i), Value: fmt.Sprintf("value-%d", i), LastModified: now}
		if i%3 == 0 {
			r.ExpiresAt = now.Add(time.Duration(i) * time.Minute)
		}
		records = append(records, r)
	}
	return records
}

func requireSameRecords(t *testing.T, expected, actual []db.Record) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		assert.Equal(t, expected[i].Key, actual[i].Key)
		assert.Equal(t, expected[i].Value, actual[i].Value)
		assert.True(t, expected[i].LastModified.Equal(actual[i].LastModified))
		assert.True(t, expected[i].ExpiresAt.Equal(actual[i].ExpiresAt))
	}
}

// memStorage is an in-memory storage backend
type memStorage struct {
	data     []byte
	writeErr error
}

func (m *memStorage) Read() ([]byte, error) { return m.data, nil }
func (m *memStorage) Write(data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.data = append([]byte(nil), data...)
	return nil
}
func (m *memStorage) Close() error   { return nil }
func (m *memStorage) String() string { return "memory" }

// TestCodecRoundTrip saves and loads with every serializer and compression
func TestCodecRoundTrip(t *testing.T) {
	for _, name := range []string{"json", "gob", "binary"} {
		for _, c := range allCompressions {
			t.Run(name+"_"+c.String(), func(t *testing.T) {
				s, err := serializer.FromName(name)
				require.NoError(t, err)

				codec, err := NewCodec(&memStorage{}, s, c)
				require.NoError(t, err)

				records := testRecords()
				require.NoError(t, codec.Save(records))

				loaded, err := codec.Load()
				require.NoError(t, err)
				requireSameRecords(t, records, loaded)
			})
		}
	}
}

// TestCodecCrossConfiguration writes with one configuration and reads with another
func TestCodecCrossConfiguration(t *testing.T) {
	store := &memStorage{}

	writer, err := NewCodec(store, serializer.NewBinarySerializer(), CompressionZstd)
	require.NoError(t, err)
	require.NoError(t, writer.Save(testRecords()))

	reader, err := NewCodec(store, serializer.NewJSONSerializer(), CompressionGzip)
	require.NoError(t, err)
	loaded, err := reader.Load()
	require.NoError(t, err)
	requireSameRecords(t, testRecords(), loaded)
}

func TestCodecHeader(t *testing.T) {
	codec, err := NewCodec(&memStorage{}, serializer.NewGOBSerializer(), CompressionS2)
	require.NoError(t, err)

	data, err := codec.Encode([]db.Record{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), headerSize)

	assert.Equal(t, magicNum, string(data[:len(magicNum)]))
	assert.Equal(t, byte(formatVersion), data[len(magicNum)])
	assert.Equal(t, serializer.IDGOB, data[len(magicNum)+1])
	assert.Equal(t, byte(CompressionS2), data[len(magicNum)+2])
}

func TestCodecLoadMissing(t *testing.T) {
	codec, err := NewCodec(storage.NewFileStorage(filepath.Join(t.TempDir(), "missing.kbx")),
		serializer.NewJSONSerializer(), CompressionGzip)
	require.NoError(t, err)

	records, err := codec.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecodeCorrupt(t *testing.T) {
	valid, err := (&Codec{storage: &memStorage{}, serializer: serializer.NewJSONSerializer(), compression: CompressionGzip}).Encode(testRecords())
	require.NoError(t, err)

	badVersion := append([]byte(nil), valid...)
	badVersion[len(magicNum)] = 99

	badSerializer := append([]byte(nil), valid...)
	badSerializer[len(magicNum)+1] = 42

	badCompression := append([]byte(nil), valid...)
	badCompression[len(magicNum)+2] = 42

	cases := map[string][]byte{
		"TooShort":       []byte("KEY"),
		"BadMagic":       append([]byte("NOTKEYB\x00"), valid[len(magicNum):]...),
		"BadVersion":     badVersion,
		"BadSerializer":  badSerializer,
		"BadCompression": badCompression,
		"Truncated":      valid[:len(valid)-10],
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			assert.Error(t, err)
		})
	}
}

func TestCodecSaveError(t *testing.T) {
	writeErr := errors.New("disk full")
	codec, err := NewCodec(&memStorage{writeErr: writeErr}, serializer.NewJSONSerializer(), CompressionNone)
	require.NoError(t, err)

	assert.ErrorIs(t, codec.Save(testRecords()), writeErr)
}

func TestNewCodecValidation(t *testing.T) {
	_, err := NewCodec(nil, serializer.NewJSONSerializer(), CompressionNone)
	assert.Error(t, err)

	_, err = NewCodec(&memStorage{}, nil, CompressionNone)
	assert.Error(t, err)

	_, err = NewCodec(&memStorage{}, serializer.NewJSONSerializer(), Compression(9))
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for _, c := range allCompressions {
		parsed, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	_, err := ParseCompression("lz4")
	assert.Error(t, err)
}
