package lockmgr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/keybox/lib/db/engines/box"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLockManager(t *testing.T) (ILockManager, func()) {
	kv := box.NewBoxDB(&box.DBOptions{ReaperInterval: -1})
	return NewLockManager(kv), func() { require.NoError(t, kv.Close()) }
}

func TestAcquireRelease(t *testing.T) {
	locks, closeFn := newTestLockManager(t)
	defer closeFn()

	ok, owner, err := locks.AcquireLock("resource", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, owner)

	// second acquire fails while the lock is held
	ok, other, err := locks.AcquireLock("resource", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, other)

	// release with a wrong owner fails
	ok, err = locks.ReleaseLock("resource", "not-the-owner")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = locks.ReleaseLock("resource", owner)
	require.NoError(t, err)
	assert.True(t, ok)

	// releasing a lock that does not exist succeeds
	ok, err = locks.ReleaseLock("resource", owner)
	require.NoError(t, err)
	assert.True(t, ok)

	// the lock can be acquired again
	ok, _, err = locks.AcquireLock("resource", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockTimeout(t *testing.T) {
	locks, closeFn := newTestLockManager(t)
	defer closeFn()

	ok, _, err := locks.AcquireLock("resource", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// the expired lock is reclaimed by the next acquire
	assert.Eventually(t, func() bool {
		ok, _, err := locks.AcquireLock("resource", time.Minute)
		return err == nil && ok
	}, time.Second, 10*time.Millisecond)
}

func TestLockRefusedInTransaction(t *testing.T) {
	kv := box.NewBoxDB(&box.DBOptions{ReaperInterval: -1})
	defer kv.Close()
	locks := NewLockManager(kv)

	require.NoError(t, kv.BeginTransaction())

	_, _, err := locks.AcquireLock("resource", 0)
	assert.ErrorIs(t, err, ErrTransactionActive)

	_, err = locks.ReleaseLock("resource", "owner")
	assert.ErrorIs(t, err, ErrTransactionActive)

	require.NoError(t, kv.RollbackTransaction())
}

func TestConcurrentAcquire(t *testing.T) {
	locks, closeFn := newTestLockManager(t)
	defer closeFn()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := locks.AcquireLock("contended", 0)
			assert.NoError(t, err)
			if ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load(), "exactly one goroutine must hold the lock")
}
