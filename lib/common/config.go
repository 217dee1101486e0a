package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/ValentinKolb/keybox/lib/db/engines/box"
	"github.com/ValentinKolb/keybox/lib/snapshot"
	"github.com/ValentinKolb/keybox/lib/snapshot/serializer"
	"github.com/ValentinKolb/keybox/lib/snapshot/storage"
)

// --------------------------------------------------------------------------
// Storage backends
// --------------------------------------------------------------------------

type StorageType string

const (
	StorageFile   StorageType = "file"
	StorageBolt   StorageType = "bolt"
	StorageMemory StorageType = "memory"
)

// --------------------------------------------------------------------------
// Engine configuration struct
// --------------------------------------------------------------------------

// EngineConfig holds all configuration parameters of an embedded keybox database
type EngineConfig struct {
	// Persistence
	DataPath    string      // Snapshot file (file) or database file (bolt)
	Storage     StorageType // file, bolt or memory
	Serializer  string      // json, gob or binary
	Compression string      // none, gzip, zstd or s2

	// Expiration
	ReaperInterval time.Duration // < 0 disables the reaper

	// Logging configuration
	LogLevel  string
	LogFormat string
}

// DefaultEngineConfig returns the default configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DataPath:       "keybox.kbx",
		Storage:        StorageFile,
		Serializer:     "json",
		Compression:    "gzip",
		ReaperInterval: 5 * time.Second,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Validate checks all enumerated settings
func (c *EngineConfig) Validate() error {
	switch c.Storage {
	case StorageFile, StorageBolt:
		if c.DataPath == "" {
			return fmt.Errorf("data path must be set for storage %q", c.Storage)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage %q (valid: file, bolt, memory)", c.Storage)
	}
	if _, err := serializer.FromName(c.Serializer); err != nil {
		return err
	}
	if _, err := snapshot.ParseCompression(c.Compression); err != nil {
		return err
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := parseLogFormat(c.LogFormat); err != nil {
		return err
	}
	return nil
}

// NewSnapshotter creates the snapshot codec of the configuration.
// It returns nil for the memory storage.
func (c *EngineConfig) NewSnapshotter() (*snapshot.Codec, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var store storage.IStorage
	switch c.Storage {
	case StorageMemory:
		return nil, nil
	case StorageBolt:
		var err error
		if store, err = storage.NewBoltStorage(c.DataPath); err != nil {
			return nil, err
		}
	default:
		store = storage.NewFileStorage(c.DataPath)
	}

	s, _ := serializer.FromName(c.Serializer)
	compression, _ := snapshot.ParseCompression(c.Compression)

	codec, err := snapshot.NewCodec(store, s, compression)
	if err != nil {
		store.Close()
		return nil, err
	}
	return codec, nil
}

// OpenDB creates the database of the configuration. The snapshot is loaded before
// OpenDB returns. The caller must Close the database.
func (c *EngineConfig) OpenDB() (db.KVDB, error) {
	codec, err := c.NewSnapshotter()
	if err != nil {
		return nil, err
	}

	opts := box.DefaultOptions()
	opts.ReaperInterval = c.ReaperInterval
	if c.ReaperInterval == 0 {
		// zero would select the engine default, the configuration uses it for "disabled"
		opts.ReaperInterval = -1
	}
	if codec != nil {
		opts.Snapshotter = codec
	}
	return box.NewBoxDB(opts), nil
}

// String returns a formatted string representation of the configuration
func (c *EngineConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Persistence
	addSection("Persistence")
	addField("Storage", string(c.Storage))
	if c.Storage != StorageMemory {
		addField("Data Path", c.DataPath)
		addField("Serializer", c.Serializer)
		addField("Compression", c.Compression)
	}

	// Expiration
	addSection("Expiration")
	if c.ReaperInterval > 0 {
		addField("Reaper Interval", c.ReaperInterval.String())
	} else {
		addField("Reaper Interval", "disabled")
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Log Format", c.LogFormat)

	return sb.String()
}
