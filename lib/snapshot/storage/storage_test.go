package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBackends returns a factory per backend that creates a fresh instance in dir
var testBackends = map[string]func(t *testing.T, dir string) IStorage{
	"File": func(t *testing.T, dir string) IStorage {
		return NewFileStorage(filepath.Join(dir, "nested", "data.kbx"))
	},
	"Bolt": func(t *testing.T, dir string) IStorage {
		s, err := NewBoltStorage(filepath.Join(dir, "data.db"))
		require.NoError(t, err)
		return s
	},
}

func TestStorageBackends(t *testing.T) {
	for name, factory := range testBackends {
		t.Run(name, func(t *testing.T) {
			t.Run("EmptyRead", func(t *testing.T) {
				s := factory(t, t.TempDir())
				defer s.Close()

				data, err := s.Read()
				require.NoError(t, err)
				assert.Empty(t, data)
			})

			t.Run("WriteRead", func(t *testing.T) {
				s := factory(t, t.TempDir())
				defer s.Close()

				require.NoError(t, s.Write([]byte("first")))
				require.NoError(t, s.Write([]byte("second")))

				data, err := s.Read()
				require.NoError(t, err)
				assert.Equal(t, []byte("second"), data)
			})

			t.Run("Reopen", func(t *testing.T) {
				dir := t.TempDir()
				s := factory(t, dir)
				require.NoError(t, s.Write([]byte("persisted")))
				require.NoError(t, s.Close())

				s = factory(t, dir)
				defer s.Close()
				data, err := s.Read()
				require.NoError(t, err)
				assert.Equal(t, []byte("persisted"), data)
			})

			t.Run("String", func(t *testing.T) {
				s := factory(t, t.TempDir())
				defer s.Close()
				assert.NotEmpty(t, s.String())
			})
		})
	}
}

func TestFileStorageLeavesNoTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kbx")
	s := NewFileStorage(path)

	require.NoError(t, s.Write([]byte("data")))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must be renamed away")
}

func TestFileStorageEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kbx")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	data, err := NewFileStorage(path).Read()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFileStorageWriteFailureKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.kbx")
	s := NewFileStorage(path)
	require.NoError(t, s.Write([]byte("good")))

	// a directory in place of the temporary file makes the next write fail
	require.NoError(t, os.Mkdir(path+".tmp", 0o755))
	assert.Error(t, s.Write([]byte("bad")))

	data, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), data)
}
