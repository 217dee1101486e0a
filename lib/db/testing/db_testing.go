package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DBFactory creates a new instance of a KVDB implementation.
// dataDir is an empty directory owned by the calling test. Persistent implementations
// must keep their state there, so that a second call with the same directory reopens
// the database. In-memory implementations ignore it.
type DBFactory func(dataDir string) db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	newDB := func(t *testing.T) db.KVDB {
		database := factory(t.TempDir())
		t.Cleanup(func() { _ = database.Close() })
		return database
	}

	t.Run(name, func(t *testing.T) {
		t.Run("AddGet", func(t *testing.T) {
			testAddGet(t, newDB(t))
		})

		t.Run("UpdateDelete", func(t *testing.T) {
			testUpdateDelete(t, newDB(t))
		})

		t.Run("MissingKeys", func(t *testing.T) {
			testMissingKeys(t, newDB(t))
		})

		t.Run("Expire", func(t *testing.T) {
			testExpire(t, newDB(t))
		})

		t.Run("TTLBoundary", func(t *testing.T) {
			testTTLBoundary(t, newDB(t))
		})

		t.Run("ExpiredKeyReuse", func(t *testing.T) {
			testExpiredKeyReuse(t, newDB(t))
		})

		t.Run("GetAll", func(t *testing.T) {
			testGetAll(t, newDB(t))
		})

		t.Run("TransactionIsolation", func(t *testing.T) {
			testTransactionIsolation(t, newDB(t))
		})

		t.Run("TransactionStateMachine", func(t *testing.T) {
			testTransactionStateMachine(t, newDB(t))
		})

		t.Run("TransactionConflicts", func(t *testing.T) {
			testTransactionConflicts(t, newDB(t))
		})

		t.Run("TransactionNetZero", func(t *testing.T) {
			testTransactionNetZero(t, newDB(t))
		})

		t.Run("TransactionDeferredUpdate", func(t *testing.T) {
			testTransactionDeferredUpdate(t, newDB(t))
		})

		t.Run("TransactionDeleteAbsent", func(t *testing.T) {
			testTransactionDeleteAbsent(t, newDB(t))
		})

		t.Run("RollbackIdempotence", func(t *testing.T) {
			testRollbackIdempotence(t, newDB(t))
		})

		t.Run("ConcurrentAdds", func(t *testing.T) {
			testConcurrentAdds(t, newDB(t))
		})

		t.Run("ConcurrentMixed", func(t *testing.T) {
			testConcurrentMixed(t, newDB(t))
		})

		t.Run("ErrorDetails", func(t *testing.T) {
			testErrorDetails(t, newDB(t))
		})

		t.Run("InfoAndMetrics", func(t *testing.T) {
			testInfoAndMetrics(t, newDB(t))
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, factory(t.TempDir()))
		})
	})
}

// RunPersistenceTests runs the tests that reopen a database from its persisted snapshot.
// Only use it with factories of persistent implementations.
func RunPersistenceTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("TransactionDurability", func(t *testing.T) {
			testTransactionDurability(t, factory)
		})

		t.Run("ExplicitPersist", func(t *testing.T) {
			testExplicitPersist(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireCode asserts that err is a *db.Error with the given code
func requireCode(t testing.TB, err error, code db.ErrCode) {
	t.Helper()
	require.Error(t, err)
	var dbErr *db.Error
	require.True(t, errors.As(err, &dbErr), "expected *db.Error, got %T: %v", err, err)
	require.Equal(t, code, dbErr.Code, "unexpected error: %v", err)
}

// requireValue asserts that key holds value
func requireValue(t testing.TB, database db.KVDB, key, value string) {
	t.Helper()
	actual, err := database.Get(key)
	require.NoError(t, err, "get %s", key)
	require.Equal(t, value, actual, "value of %s", key)
}

// keysOf returns the keys of records in order
func keysOf(records []db.Record) []string {
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key
	}
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testAddGet(t *testing.T, database db.KVDB) {
	require.NoError(t, database.Add("a", "1"))

	// a second add with the same key fails and keeps the first value
	requireCode(t, database.Add("a", "2"), db.ErrCAlreadyExists)
	assert.ErrorIs(t, database.Add("a", "2"), db.ErrAlreadyExists)
	requireValue(t, database, "a", "1")

	// empty values and unusual keys are plain strings
	require.NoError(t, database.Add("empty", ""))
	requireValue(t, database, "empty", "")

	require.NoError(t, database.Add("ключ with spaces", "värde ✓"))
	requireValue(t, database, "ключ with spaces", "värde ✓")
}

func testUpdateDelete(t *testing.T, database db.KVDB) {
	require.NoError(t, database.AddE("k", "v1", time.Hour))
	before := database.GetAll()
	require.Len(t, before, 1)
	require.True(t, before[0].HasExpiry())

	// Update replaces the value and clears the expiration
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, database.Update("k", "v2"))
	requireValue(t, database, "k", "v2")

	after := database.GetAll()
	require.Len(t, after, 1)
	assert.False(t, after[0].HasExpiry(), "Update must clear the expiration")
	assert.True(t, after[0].LastModified.After(before[0].LastModified), "Update must refresh LastModified")
	assert.Equal(t, "k", after[0].Key)

	// UpdateE sets a new expiration
	require.NoError(t, database.UpdateE("k", "v3", time.Hour))
	requireValue(t, database, "k", "v3")
	assert.True(t, database.GetAll()[0].HasExpiry())

	// Delete removes the key
	require.NoError(t, database.Delete("k"))
	requireCode(t, getErr(database, "k"), db.ErrCNotFound)
	assert.Empty(t, database.GetAll())
}

func getErr(database db.KVDB, key string) error {
	_, err := database.Get(key)
	return err
}

func testMissingKeys(t *testing.T, database db.KVDB) {
	requireCode(t, getErr(database, "missing"), db.ErrCNotFound)
	requireCode(t, database.Update("missing", "v"), db.ErrCNotFound)
	requireCode(t, database.UpdateE("missing", "v", time.Minute), db.ErrCNotFound)
	requireCode(t, database.Delete("missing"), db.ErrCNotFound)
	assert.ErrorIs(t, database.Delete("missing"), db.ErrNotFound)
}

func testExpire(t *testing.T, database db.KVDB) {
	require.NoError(t, database.AddE("b", "x", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	// the first read reports the expiration and evicts the key
	requireCode(t, getErr(database, "b"), db.ErrCExpired)
	assert.ErrorIs(t, getErr(database, "b"), db.ErrNotFound)
	assert.NotContains(t, keysOf(database.GetAll()), "b")

	// Update on an expired key reports the expiration and evicts the key
	require.NoError(t, database.AddE("u", "x", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	requireCode(t, database.Update("u", "y"), db.ErrCExpired)
	requireCode(t, getErr(database, "u"), db.ErrCNotFound)

	// a live key with a ttl is readable
	require.NoError(t, database.AddE("live", "x", time.Hour))
	requireValue(t, database, "live", "x")
}

func testTTLBoundary(t *testing.T, database db.KVDB) {
	// an expiration in the past
	require.NoError(t, database.AddE("past", "x", -time.Second))
	requireCode(t, getErr(database, "past"), db.ErrCExpired)

	// a ttl of zero expires as soon as time advances
	require.NoError(t, database.AddE("zero", "x", 0))
	time.Sleep(time.Millisecond)
	requireCode(t, getErr(database, "zero"), db.ErrCExpired)
}

func testExpiredKeyReuse(t *testing.T, database db.KVDB) {
	require.NoError(t, database.AddE("session", "old", -time.Second))

	// the expired record does not block a new add
	require.NoError(t, database.Add("session", "new"))
	requireValue(t, database, "session", "new")

	// Delete on an expired but not yet evicted key succeeds
	require.NoError(t, database.AddE("stale", "x", -time.Second))
	require.NoError(t, database.Delete("stale"))
	requireCode(t, getErr(database, "stale"), db.ErrCNotFound)
}

func testGetAll(t *testing.T, database db.KVDB) {
	assert.Empty(t, database.GetAll())

	for _, key := range []string{"c", "a", "b"} {
		require.NoError(t, database.Add(key, "v-"+key))
	}
	require.NoError(t, database.AddE("expired", "x", -time.Second))

	records := database.GetAll()

	// sorted by key and including the expired record that was not reaped yet
	assert.Equal(t, []string{"a", "b", "c", "expired"}, keysOf(records))
	assert.True(t, records[3].IsExpired())
	assert.False(t, records[0].IsExpired())
	assert.Equal(t, "v-a", records[0].Value)

	// the result is a copy
	records[0].Value = "changed"
	requireValue(t, database, "a", "v-a")
}

func testTransactionIsolation(t *testing.T, database db.KVDB) {
	require.NoError(t, database.Add("committed", "old"))
	require.NoError(t, database.BeginTransaction())
	assert.True(t, database.InTransaction())

	require.NoError(t, database.Add("a", "1"))
	require.NoError(t, database.Delete("committed"))

	// reads observe committed state only
	requireCode(t, getErr(database, "a"), db.ErrCNotFound)
	requireValue(t, database, "committed", "old")
	assert.Equal(t, []string{"committed"}, keysOf(database.GetAll()))

	// concurrent readers observe the same
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := database.Get("a")
			assert.ErrorIs(t, err, db.ErrNotFound)
		}()
	}
	wg.Wait()

	require.NoError(t, database.CommitTransaction())
	assert.False(t, database.InTransaction())

	requireValue(t, database, "a", "1")
	requireCode(t, getErr(database, "committed"), db.ErrCNotFound)
}

func testTransactionStateMachine(t *testing.T, database db.KVDB) {
	assert.False(t, database.InTransaction())
	requireCode(t, database.CommitTransaction(), db.ErrCNoActiveTransaction)
	requireCode(t, database.RollbackTransaction(), db.ErrCNoActiveTransaction)

	require.NoError(t, database.BeginTransaction())
	requireCode(t, database.BeginTransaction(), db.ErrCTransactionAlreadyActive)
	require.NoError(t, database.RollbackTransaction())
	assert.False(t, database.InTransaction())

	// the database accepts a new transaction after a rollback
	require.NoError(t, database.BeginTransaction())
	require.NoError(t, database.CommitTransaction())
	requireCode(t, database.CommitTransaction(), db.ErrCNoActiveTransaction)
}

func testTransactionConflicts(t *testing.T, database db.KVDB) {
	require.NoError(t, database.Add("live", "1"))
	require.NoError(t, database.AddE("expired", "1", -time.Second))
	require.NoError(t, database.Add("x", "1"))

	require.NoError(t, database.BeginTransaction())

	// delete followed by add or update of the same key
	require.NoError(t, database.Delete("x"))
	requireCode(t, database.Add("x", "v"), db.ErrCPendingDeletion)
	assert.ErrorIs(t, database.Update("x", "v"), db.ErrPendingDeletion)

	// add of a live committed key and a second add of a staged key
	requireCode(t, database.Add("live", "2"), db.ErrCAlreadyExists)
	require.NoError(t, database.Add("new", "1"))
	requireCode(t, database.Add("new", "2"), db.ErrCAlreadyExists)

	// an expired committed key counts as absent
	require.NoError(t, database.Add("expired", "2"))

	// delete after a staged add drops the staged add
	require.NoError(t, database.Add("dropped", "1"))
	require.NoError(t, database.Delete("dropped"))

	require.NoError(t, database.CommitTransaction())

	requireCode(t, getErr(database, "x"), db.ErrCNotFound)
	requireValue(t, database, "live", "1")
	requireValue(t, database, "new", "1")
	requireValue(t, database, "expired", "2")
	requireCode(t, getErr(database, "dropped"), db.ErrCNotFound)
}

func testTransactionNetZero(t *testing.T, database db.KVDB) {
	require.NoError(t, database.BeginTransaction())
	require.NoError(t, database.Add("c", "1"))
	require.NoError(t, database.Delete("c"))
	require.NoError(t, database.CommitTransaction())

	requireCode(t, getErr(database, "c"), db.ErrCNotFound)
	assert.Empty(t, database.GetAll())
}

func testTransactionDeferredUpdate(t *testing.T, database db.KVDB) {
	require.NoError(t, database.Add("k", "old"))

	require.NoError(t, database.BeginTransaction())
	require.NoError(t, database.Update("k", "new"))
	requireCode(t, database.Update("missing", "v"), db.ErrCNotFound)

	// the update is staged
	requireValue(t, database, "k", "old")

	require.NoError(t, database.CommitTransaction())
	requireValue(t, database, "k", "new")

	// a rolled back update is discarded
	require.NoError(t, database.BeginTransaction())
	require.NoError(t, database.UpdateE("k", "discarded", time.Hour))
	require.NoError(t, database.RollbackTransaction())
	requireValue(t, database, "k", "new")
}

func testTransactionDeleteAbsent(t *testing.T, database db.KVDB) {
	require.NoError(t, database.Add("keep", "1"))

	require.NoError(t, database.BeginTransaction())
	require.NoError(t, database.Delete("never-existed"))
	require.NoError(t, database.CommitTransaction())

	assert.Equal(t, []string{"keep"}, keysOf(database.GetAll()))
}

func testRollbackIdempotence(t *testing.T, database db.KVDB) {
	for i := 0; i < 10; i++ {
		require.NoError(t, database.Add(fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i)))
	}
	require.NoError(t, database.AddE("ttl", "x", time.Hour))
	before := database.GetAll()

	// empty transaction
	require.NoError(t, database.BeginTransaction())
	require.NoError(t, database.RollbackTransaction())
	assert.Equal(t, before, database.GetAll())

	// transaction with staged writes of every kind
	require.NoError(t, database.BeginTransaction())
	require.NoError(t, database.Add("staged", "1"))
	require.NoError(t, database.Update("key-1", "changed"))
	require.NoError(t, database.Delete("key-2"))
	require.NoError(t, database.RollbackTransaction())
	assert.Equal(t, before, database.GetAll())
}

func testConcurrentAdds(t *testing.T, database db.KVDB) {
	const numGoroutines = 16
	const keysPerGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < keysPerGoroutine; i++ {
				assert.NoError(t, database.Add(fmt.Sprintf("g%d-k%d", g, i), "v"))
			}
		}(g)
	}
	wg.Wait()

	records := database.GetAll()
	require.Len(t, records, numGoroutines*keysPerGoroutine)
	assert.Equal(t, numGoroutines*keysPerGoroutine, database.GetInfo().Keys)
}

func testConcurrentMixed(t *testing.T, database db.KVDB) {
	const numKeys = 20
	for i := 0; i < numKeys; i++ {
		require.NoError(t, database.AddE(fmt.Sprintf("key-%d", i), "v", time.Duration(i)*time.Millisecond))
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d", (g+i)%numKeys)
				switch i % 4 {
				case 0:
					_, err := database.Get(key)
					if err != nil {
						assert.True(t, errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrExpired), "unexpected error: %v", err)
					}
				case 1:
					err := database.Add(key, "new")
					if err != nil {
						assert.ErrorIs(t, err, db.ErrAlreadyExists)
					}
				case 2:
					err := database.Update(key, "updated")
					if err != nil {
						assert.True(t, errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrExpired), "unexpected error: %v", err)
					}
				case 3:
					_ = database.GetAll()
				}
			}
		}(g)
	}
	wg.Wait()

	// every key still present holds one of the written values
	for _, r := range database.GetAll() {
		assert.Contains(t, []string{"v", "new", "updated"}, r.Value)
	}
}

func testErrorDetails(t *testing.T, database db.KVDB) {
	err := database.Delete("the-key")

	var dbErr *db.Error
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, "the-key", dbErr.Key)
	assert.Contains(t, err.Error(), "the-key")

	// sentinels match any key, a keyed target only its own key
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.ErrorIs(t, err, db.NewError(db.ErrCNotFound, "the-key"))
	assert.NotErrorIs(t, err, db.NewError(db.ErrCNotFound, "other-key"))
	assert.NotErrorIs(t, err, db.ErrExpired)
}

func testInfoAndMetrics(t *testing.T, database db.KVDB) {
	require.NoError(t, database.Add("a", "1"))
	require.NoError(t, database.Add("b", "2"))

	info := database.GetInfo()
	assert.Equal(t, 2, info.Keys)
	assert.NotEmpty(t, info.DbType)
	assert.Greater(t, info.SizeBytes, 0)
	assert.False(t, info.InTransaction)

	require.NoError(t, database.BeginTransaction())
	assert.True(t, database.GetInfo().InTransaction)
	require.NoError(t, database.RollbackTransaction())

	var buf bytes.Buffer
	database.WriteMetrics(&buf)
	assert.NotEmpty(t, buf.String())
}

func testClose(t *testing.T, database db.KVDB) {
	require.NoError(t, database.Add("a", "1"))
	require.NoError(t, database.BeginTransaction())

	// Close discards the open transaction
	require.NoError(t, database.Close())
	require.NoError(t, database.Close(), "a second Close is a no-op")

	requireCode(t, database.Add("b", "2"), db.ErrCClosed)
	requireCode(t, getErr(database, "a"), db.ErrCClosed)
	requireCode(t, database.Delete("a"), db.ErrCClosed)
	requireCode(t, database.BeginTransaction(), db.ErrCClosed)
	assert.ErrorIs(t, database.Persist(), db.ErrClosed)
	assert.False(t, database.InTransaction())
}

// --------------------------------------------------------------------------
// Persistence test functions
// --------------------------------------------------------------------------

func testSaveLoad(t *testing.T, factory DBFactory) {
	dir := t.TempDir()
	database := factory(dir)

	numEntries := 500
	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%04d", i)
		value := fmt.Sprintf("save-load-test-value-%d", i)
		if i%2 == 0 {
			require.NoError(t, database.AddE(key, value, time.Hour))
		} else {
			require.NoError(t, database.Add(key, value))
		}
	}
	original := database.GetAll()
	require.NoError(t, database.Close())

	database2 := factory(dir)
	defer database2.Close()

	loaded := database2.GetAll()
	require.Len(t, loaded, len(original))
	for i := range original {
		assert.Equal(t, original[i].Key, loaded[i].Key)
		assert.Equal(t, original[i].Value, loaded[i].Value)
		assert.True(t, original[i].LastModified.Equal(loaded[i].LastModified), "LastModified of %s", original[i].Key)
		assert.True(t, original[i].ExpiresAt.Equal(loaded[i].ExpiresAt), "ExpiresAt of %s", original[i].Key)
	}

	requireValue(t, database2, "save-load-test-key-0001", "save-load-test-value-1")
	requireCode(t, database2.Add("save-load-test-key-0001", "x"), db.ErrCAlreadyExists)
}

func testTransactionDurability(t *testing.T, factory DBFactory) {
	dir := t.TempDir()
	database := factory(dir)

	require.NoError(t, database.BeginTransaction())
	require.NoError(t, database.Add("committed", "1"))
	require.NoError(t, database.CommitTransaction())

	require.NoError(t, database.BeginTransaction())
	require.NoError(t, database.Add("staged", "1"))
	require.NoError(t, database.Close())

	database2 := factory(dir)
	defer database2.Close()

	requireValue(t, database2, "committed", "1")
	requireCode(t, getErr(database2, "staged"), db.ErrCNotFound)
	assert.False(t, database2.InTransaction())
}

func testExplicitPersist(t *testing.T, factory DBFactory) {
	dir := t.TempDir()
	database := factory(dir)

	require.NoError(t, database.Add("a", "1"))
	require.NoError(t, database.Persist())
	require.NoError(t, database.Close())

	database2 := factory(dir)
	defer database2.Close()
	requireValue(t, database2, "a", "1")
}
