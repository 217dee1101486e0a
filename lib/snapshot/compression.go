package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// --------------------------------------------------------------------------
// Compression Types
// --------------------------------------------------------------------------

// Compression identifies the algorithm applied to the serialized snapshot.
// The value is written into the snapshot header.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionGzip Compression = 1
	CompressionZstd Compression = 2
	CompressionS2   Compression = 3
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionS2:
		return "s2"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression returns the compression with the given configuration name
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	case "s2":
		return CompressionS2, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (valid: none, gzip, zstd, s2)", name)
	}
}

func (c Compression) valid() bool {
	return c <= CompressionS2
}

// --------------------------------------------------------------------------
// Shared zstd encoder and decoder (safe for concurrent EncodeAll / DecodeAll)
// --------------------------------------------------------------------------

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil)
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// --------------------------------------------------------------------------
// Compress / Decompress
// --------------------------------------------------------------------------

// compress applies the compression to data
func (c Compression) compress(data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil

	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil

	case CompressionS2:
		return s2.Encode(nil, data), nil

	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

// decompress reverts the compression of data
func (c Compression) decompress(data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil

	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)

	case CompressionZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)

	case CompressionS2:
		return s2.Decode(nil, data)

	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}
