package common

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfigIsValid(t *testing.T) {
	cfg := DefaultEngineConfig()
	assert.NoError(t, cfg.Validate())
}

func TestEngineConfigValidate(t *testing.T) {
	cases := map[string]func(c *EngineConfig){
		"Storage":     func(c *EngineConfig) { c.Storage = "s3" },
		"DataPath":    func(c *EngineConfig) { c.DataPath = "" },
		"Serializer":  func(c *EngineConfig) { c.Serializer = "xml" },
		"Compression": func(c *EngineConfig) { c.Compression = "lz4" },
		"LogLevel":    func(c *EngineConfig) { c.LogLevel = "trace" },
		"LogFormat":   func(c *EngineConfig) { c.LogFormat = "yaml" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("MemoryWithoutPath", func(t *testing.T) {
		cfg := DefaultEngineConfig()
		cfg.Storage = StorageMemory
		cfg.DataPath = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestEngineConfigOpenDB(t *testing.T) {
	for _, storageType := range []StorageType{StorageFile, StorageBolt, StorageMemory} {
		t.Run(string(storageType), func(t *testing.T) {
			cfg := DefaultEngineConfig()
			cfg.Storage = storageType
			cfg.DataPath = filepath.Join(t.TempDir(), "data")
			cfg.ReaperInterval = -1

			kv, err := cfg.OpenDB()
			require.NoError(t, err)
			require.NoError(t, kv.Add("key", "value"))
			require.NoError(t, kv.Close())

			// reopen: persistent storages keep the record
			kv, err = cfg.OpenDB()
			require.NoError(t, err)
			defer kv.Close()

			value, err := kv.Get("key")
			if storageType == StorageMemory {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "value", value)
		})
	}
}

func TestEngineConfigString(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.ReaperInterval = 2 * time.Second
	out := cfg.String()

	assert.Contains(t, out, "PERSISTENCE")
	assert.Contains(t, out, "keybox.kbx")
	assert.Contains(t, out, "2s")

	cfg.Storage = StorageMemory
	cfg.ReaperInterval = 0
	out = cfg.String()
	assert.NotContains(t, out, "Data Path")
	assert.Contains(t, out, "disabled")
}
