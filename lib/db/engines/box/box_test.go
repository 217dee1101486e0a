package box

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/ValentinKolb/keybox/lib/snapshot"
	"github.com/ValentinKolb/keybox/lib/snapshot/serializer"
	"github.com/ValentinKolb/keybox/lib/snapshot/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSnapshotter keeps saved snapshots in memory and can be told to fail
type recordingSnapshotter struct {
	mu      sync.Mutex
	saves   int
	last    []db.Record
	saveErr error
	load    []db.Record
	loadErr error
	closed  bool
}

func (s *recordingSnapshotter) Save(records []db.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.last = append([]db.Record(nil), records...)
	return nil
}

func (s *recordingSnapshotter) Load() ([]db.Record, error) {
	return s.load, s.loadErr
}

func (s *recordingSnapshotter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSnapshotter) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *recordingSnapshotter) Last() []db.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// newTestDB creates an engine with a fake clock, a recording snapshotter and no reaper
func newTestDB(t *testing.T) (*boxImpl, *fakeClock, *recordingSnapshotter) {
	clock := newFakeClock()
	snap := &recordingSnapshotter{}
	box := NewBoxDB(&DBOptions{
		ReaperInterval: -1,
		Snapshotter:    snap,
		Clock:          clock.Now,
	}).(*boxImpl)
	t.Cleanup(func() { _ = box.Close() })
	return box, clock, snap
}

func requireCoherent(t *testing.T, box *boxImpl) {
	t.Helper()
	require.NoError(t, box.checkIndexCoherence())
}

// --------------------------------------------------------------------------
// Index coherence
// --------------------------------------------------------------------------

func TestIndexCoherence(t *testing.T) {
	box, clock, _ := newTestDB(t)

	require.NoError(t, box.Add("a", "1"))
	require.NoError(t, box.AddE("b", "2", time.Second))
	require.NoError(t, box.AddE("c", "3", time.Minute))
	requireCoherent(t, box)

	require.NoError(t, box.Update("b", "2b"))
	require.NoError(t, box.UpdateE("a", "1b", time.Second))
	requireCoherent(t, box)

	require.NoError(t, box.Delete("c"))
	requireCoherent(t, box)

	// lazy eviction
	clock.Advance(2 * time.Second)
	_, err := box.Get("a")
	require.ErrorIs(t, err, db.ErrExpired)
	requireCoherent(t, box)

	// transaction
	require.NoError(t, box.BeginTransaction())
	require.NoError(t, box.AddE("d", "4", time.Second))
	require.NoError(t, box.Delete("b"))
	requireCoherent(t, box)
	require.NoError(t, box.CommitTransaction())
	requireCoherent(t, box)

	// reaper pass
	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, box.reap())
	requireCoherent(t, box)
	assert.Empty(t, box.GetAll())
}

func TestIndexCoherenceUnderConcurrency(t *testing.T) {
	snap := &recordingSnapshotter{}
	box := NewBoxDB(&DBOptions{ReaperInterval: time.Millisecond, Snapshotter: snap}).(*boxImpl)
	t.Cleanup(func() { _ = box.Close() })

	const numWorkers = 8
	const numKeys = 32
	const rounds = 300

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				key := fmt.Sprintf("key-%d", (w*7+i)%numKeys)
				switch i % 6 {
				case 0:
					_ = box.Add(key, "v")
				case 1:
					_ = box.AddE(key, "v", time.Duration(i%3)*time.Millisecond)
				case 2:
					_ = box.Update(key, "updated")
				case 3:
					_ = box.Delete(key)
				case 4:
					_, _ = box.Get(key)
				case 5:
					_ = box.UpdateE(key, "updated", time.Millisecond)
				}
			}
		}(w)
	}

	// one writer opens and commits transactions while the others write
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds/10; i++ {
			if err := box.BeginTransaction(); err != nil {
				continue
			}
			_ = box.AddE(fmt.Sprintf("tx-%d", i), "v", time.Millisecond)
			_ = box.Delete(fmt.Sprintf("key-%d", i%numKeys))
			_ = box.CommitTransaction()
		}
	}()

	wg.Wait()
	requireCoherent(t, box)

	// reaper passes after the remaining ttls keep the structures coherent as well
	time.Sleep(10 * time.Millisecond)
	requireCoherent(t, box)
	assert.Greater(t, box.stats.ReaperPasses.Get(), uint64(0))
}

func TestIndexTimestampFollowsUpdates(t *testing.T) {
	box, clock, _ := newTestDB(t)

	require.NoError(t, box.Add("k", "v"))
	clock.Advance(time.Second)
	require.NoError(t, box.Update("k", "v2"))

	ts, ok := box.index.Load("k")
	require.True(t, ok)
	assert.Equal(t, clock.Now().UnixNano(), ts)
	requireCoherent(t, box)
}

// --------------------------------------------------------------------------
// Expiration
// --------------------------------------------------------------------------

func TestTTLBoundaryWithClock(t *testing.T) {
	box, clock, _ := newTestDB(t)

	require.NoError(t, box.AddE("k", "v", time.Second))

	// exactly at the expiration time the record is still live
	clock.Advance(time.Second)
	value, err := box.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	clock.Advance(time.Nanosecond)
	_, err = box.Get("k")
	assert.ErrorIs(t, err, db.ErrExpired)
}

func TestConcurrentLazyEviction(t *testing.T) {
	box, clock, snap := newTestDB(t)

	require.NoError(t, box.AddE("k", "v", time.Second))
	clock.Advance(time.Minute)
	savesBefore := snap.Saves()

	var expired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := box.Get("k")
			switch {
			case errors.Is(err, db.ErrExpired):
				expired.Add(1)
			case errors.Is(err, db.ErrNotFound):
			default:
				t.Errorf("unexpected result: %v", err)
			}
		}()
	}
	wg.Wait()

	// exactly one reader evicts, the others see the eviction or lose the race
	assert.GreaterOrEqual(t, expired.Load(), int32(1))
	assert.Equal(t, uint64(1), box.stats.LazyEvictions.Get())
	assert.Equal(t, savesBefore+1, snap.Saves())
	requireCoherent(t, box)
}

func TestExpiredRecordReplacedBeforeEviction(t *testing.T) {
	box, clock, _ := newTestDB(t)

	require.NoError(t, box.AddE("k", "old", time.Second))
	clock.Advance(time.Minute)

	// Add reclaims the expired key, so the following Get must return the new value
	require.NoError(t, box.Add("k", "new"))
	value, err := box.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "new", value)
	assert.Equal(t, uint64(1), box.stats.LazyEvictions.Get())
}

// --------------------------------------------------------------------------
// Transactions and expiration
// --------------------------------------------------------------------------

func TestStagedUpdateOfReapedKeyIsDropped(t *testing.T) {
	box, clock, _ := newTestDB(t)

	require.NoError(t, box.AddE("k", "v1", time.Second))
	require.NoError(t, box.Add("live", "1"))

	require.NoError(t, box.BeginTransaction())
	require.NoError(t, box.Update("k", "v2"))
	require.NoError(t, box.Update("live", "2"))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, box.reap())

	require.NoError(t, box.CommitTransaction())

	_, err := box.Get("k")
	assert.ErrorIs(t, err, db.ErrNotFound)
	value, err := box.Get("live")
	require.NoError(t, err)
	assert.Equal(t, "2", value)
	requireCoherent(t, box)
}

func TestStagedUpdateOfExpiredKeyIsDropped(t *testing.T) {
	box, clock, snap := newTestDB(t)

	require.NoError(t, box.AddE("k", "v1", time.Second))

	require.NoError(t, box.BeginTransaction())
	require.NoError(t, box.UpdateE("k", "v2", time.Hour))

	// expired but neither reaped nor read
	clock.Advance(2 * time.Second)
	require.NoError(t, box.CommitTransaction())

	_, err := box.Get("k")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Empty(t, snap.Last())
	assert.Equal(t, uint64(1), box.stats.LazyEvictions.Get())
	requireCoherent(t, box)
}

func TestStagedAddOfExpiredKeyIsCommitted(t *testing.T) {
	box, clock, _ := newTestDB(t)

	require.NoError(t, box.AddE("k", "old", time.Second))
	clock.Advance(2 * time.Second)

	// an add reclaims the expired key, it is not bound to the old record
	require.NoError(t, box.BeginTransaction())
	require.NoError(t, box.Add("k", "new"))
	assert.Equal(t, 1, box.reap())
	require.NoError(t, box.CommitTransaction())

	value, err := box.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "new", value)
	requireCoherent(t, box)
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

func TestPersistOnEveryCommittedMutation(t *testing.T) {
	box, clock, snap := newTestDB(t)

	steps := []struct {
		name  string
		op    func() error
		saves int
	}{
		{"Add", func() error { return box.Add("a", "1") }, 1},
		{"AddE", func() error { return box.AddE("b", "2", time.Second) }, 1},
		{"FailedAdd", func() error { _ = box.Add("a", "x"); return nil }, 0},
		{"Update", func() error { return box.Update("a", "1b") }, 1},
		{"FailedUpdate", func() error { _ = box.Update("missing", "x"); return nil }, 0},
		{"Get", func() error { _, err := box.Get("a"); return err }, 0},
		{"Delete", func() error { return box.Delete("a") }, 1},
		{"LazyEviction", func() error {
			clock.Advance(time.Minute)
			_, _ = box.Get("b")
			return nil
		}, 1},
		{"Begin", box.BeginTransaction, 0},
		{"StagedAdd", func() error { return box.Add("c", "3") }, 0},
		{"StagedDelete", func() error { return box.Delete("c") }, 0},
		{"StagedAdd2", func() error { return box.Add("d", "4") }, 0},
		{"Commit", box.CommitTransaction, 1},
		{"Begin2", box.BeginTransaction, 0},
		{"StagedAdd3", func() error { return box.Add("e", "5") }, 0},
		{"Rollback", box.RollbackTransaction, 0},
		{"Persist", box.Persist, 1},
	}

	for _, step := range steps {
		before := snap.Saves()
		require.NoError(t, step.op(), step.name)
		assert.Equal(t, step.saves, snap.Saves()-before, "saves of step %s", step.name)
	}

	// the last snapshot reflects the committed state
	last := snap.Last()
	require.Len(t, last, 1)
	assert.Equal(t, "d", last[0].Key)
}

func TestPersistenceFailureIsolation(t *testing.T) {
	box, _, snap := newTestDB(t)
	snap.saveErr = errors.New("disk full")

	// mutations succeed and stay visible
	require.NoError(t, box.Add("a", "1"))
	require.NoError(t, box.Update("a", "2"))
	value, err := box.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "2", value)

	// the explicit persist surfaces the error
	assert.ErrorContains(t, box.Persist(), "disk full")

	persist := box.stats.Persist()
	assert.Equal(t, uint64(3), persist.Failures)
	assert.Equal(t, int64(3), persist.Count)
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	snap := &recordingSnapshotter{loadErr: errors.New("corrupt")}
	box := NewBoxDB(&DBOptions{ReaperInterval: -1, Snapshotter: snap})
	defer box.Close()

	assert.Empty(t, box.GetAll())
	require.NoError(t, box.Add("a", "1"))
}

func TestLoadRebuildsIndex(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := &recordingSnapshotter{load: []db.Record{
		{Key: "live", Value: "1", LastModified: now},
		{Key: "ttl", Value: "2", LastModified: now, ExpiresAt: now.Add(time.Hour)},
		{Key: "expired", Value: "3", LastModified: now, ExpiresAt: now.Add(-time.Hour)},
		{Key: "", Value: "skipped", LastModified: now},
	}}
	box := NewBoxDB(&DBOptions{ReaperInterval: -1, Snapshotter: snap, Clock: func() time.Time { return now }}).(*boxImpl)
	defer box.Close()

	requireCoherent(t, box)
	assert.Equal(t, 3, box.GetInfo().Keys)
	assert.Equal(t, 2, box.expiry.Len())

	_, err := box.Get("expired")
	assert.ErrorIs(t, err, db.ErrExpired)

	value, err := box.Get("ttl")
	require.NoError(t, err)
	assert.Equal(t, "2", value)
}

func TestCorruptSnapshotFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.kbx")
	require.NoError(t, os.WriteFile(path, []byte("this is not a snapshot"), 0o644))

	codec, err := snapshot.NewCodec(storage.NewFileStorage(path), serializer.NewJSONSerializer(), snapshot.CompressionGzip)
	require.NoError(t, err)

	kv := NewBoxDB(&DBOptions{ReaperInterval: -1, Snapshotter: codec})
	assert.Empty(t, kv.GetAll())

	// the next committed mutation overwrites the corrupt file
	require.NoError(t, kv.Add("a", "1"))
	require.NoError(t, kv.Close())

	codec, err = snapshot.NewCodec(storage.NewFileStorage(path), serializer.NewJSONSerializer(), snapshot.CompressionGzip)
	require.NoError(t, err)
	records, err := codec.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].Key)
}

func TestCloseWritesFinalSnapshot(t *testing.T) {
	box, _, snap := newTestDB(t)

	require.NoError(t, box.Add("a", "1"))
	require.NoError(t, box.BeginTransaction())
	require.NoError(t, box.Add("staged", "1"))

	before := snap.Saves()
	require.NoError(t, box.Close())

	assert.Equal(t, before+1, snap.Saves())
	assert.True(t, snap.closed)
	require.Len(t, snap.Last(), 1, "staged writes are discarded")
	assert.Equal(t, "a", snap.Last()[0].Key)

	// closing again neither saves nor fails
	require.NoError(t, box.Close())
	assert.Equal(t, before+1, snap.Saves())
}

// --------------------------------------------------------------------------
// Reaper
// --------------------------------------------------------------------------

func TestReapRemovesOnlyExpired(t *testing.T) {
	box, clock, snap := newTestDB(t)

	require.NoError(t, box.Add("forever", "1"))
	require.NoError(t, box.AddE("short", "2", time.Second))
	require.NoError(t, box.AddE("long", "3", time.Hour))

	clock.Advance(time.Minute)
	before := snap.Saves()
	assert.Equal(t, 1, box.reap())
	assert.Equal(t, before+1, snap.Saves())

	records := box.GetAll()
	require.Len(t, records, 2)
	assert.Equal(t, "forever", records[0].Key)
	assert.Equal(t, "long", records[1].Key)
	assert.Equal(t, uint64(1), box.stats.ReaperEvictions.Get())
}

func TestReapPersistsEveryPass(t *testing.T) {
	box, _, snap := newTestDB(t)

	before := snap.Saves()
	assert.Equal(t, 0, box.reap())
	assert.Equal(t, 0, box.reap())
	assert.Equal(t, before+2, snap.Saves())
	assert.Equal(t, uint64(2), box.stats.ReaperPasses.Get())
}

func TestReapIgnoresStagedWrites(t *testing.T) {
	box, clock, _ := newTestDB(t)

	require.NoError(t, box.AddE("committed", "1", time.Second))
	require.NoError(t, box.BeginTransaction())
	require.NoError(t, box.AddE("staged", "2", time.Second))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, box.reap())
	assert.True(t, box.InTransaction())

	// the staged record is committed unchanged, even though it is expired by now
	require.NoError(t, box.CommitTransaction())
	records := box.GetAll()
	require.Len(t, records, 1)
	assert.Equal(t, "staged", records[0].Key)
	assert.True(t, records[0].IsExpiredAt(clock.Now()))
}

func TestBackgroundReaper(t *testing.T) {
	snap := &recordingSnapshotter{}
	kv := NewBoxDB(&DBOptions{ReaperInterval: 5 * time.Millisecond, Snapshotter: snap})
	defer kv.Close()

	require.NoError(t, kv.AddE("short", "1", time.Millisecond))
	require.NoError(t, kv.Add("forever", "2"))

	assert.Eventually(t, func() bool {
		records := kv.GetAll()
		return len(records) == 1 && records[0].Key == "forever"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReaperRecoversFromPanic(t *testing.T) {
	var passes atomic.Int32
	r := newReaper(2*time.Millisecond, func() int {
		if passes.Add(1) == 1 {
			panic("boom")
		}
		return 0
	})
	r.start()
	defer r.stop()

	assert.Eventually(t, func() bool { return passes.Load() >= 3 }, 2*time.Second, time.Millisecond)
}

func TestReaperStop(t *testing.T) {
	var passes atomic.Int32
	r := newReaper(time.Millisecond, func() int {
		passes.Add(1)
		return 0
	})
	r.start()
	r.start() // no second goroutine

	assert.Eventually(t, func() bool { return passes.Load() > 0 }, 2*time.Second, time.Millisecond)
	r.stop()
	r.stop()

	stopped := passes.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, passes.Load(), "no pass may run after stop returned")

	// a reaper stopped before start never runs
	never := newReaper(time.Millisecond, func() int {
		t.Error("pass of a stopped reaper")
		return 0
	})
	never.stop()
	never.start()
	time.Sleep(10 * time.Millisecond)
}

func TestCloseStopsReaper(t *testing.T) {
	snap := &recordingSnapshotter{}
	kv := NewBoxDB(&DBOptions{ReaperInterval: time.Millisecond, Snapshotter: snap})

	assert.Eventually(t, func() bool { return snap.Saves() > 0 }, 2*time.Second, time.Millisecond)
	require.NoError(t, kv.Close())

	saves := snap.Saves()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, saves, snap.Saves())
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

func TestGetInfo(t *testing.T) {
	box, clock, _ := newTestDB(t)

	require.NoError(t, box.Add("a", "1234"))
	require.NoError(t, box.AddE("b", "5678", time.Second))
	clock.Advance(time.Minute)

	require.NoError(t, box.BeginTransaction())
	require.NoError(t, box.Add("c", "1"))
	require.NoError(t, box.Delete("a"))

	info := box.GetInfo()
	assert.Equal(t, db.ImplBox, info.DbType)
	assert.Equal(t, 2, info.Keys)
	assert.True(t, info.InTransaction)
	assert.Equal(t, 2*(1+4)+2*entryOverhead, info.SizeBytes)

	// engine specific metadata
	out := fmt.Sprintf("%+v", info.Metadata)
	assert.Contains(t, out, "ExpiredBacklog:0.5")
	assert.Contains(t, out, "PendingUpserts:1")
	assert.Contains(t, out, "PendingDeletes:1")
	assert.Contains(t, out, "IndexSize:2")
}

func TestWriteMetrics(t *testing.T) {
	box, _, _ := newTestDB(t)

	require.NoError(t, box.Add("a", "1"))
	require.NoError(t, box.Add("b", "2"))
	_ = box.Add("a", "again")

	var buf bytes.Buffer
	box.WriteMetrics(&buf)
	out := buf.String()

	assert.Contains(t, out, `keybox_operations_total{op="add"} 3`)
	assert.Contains(t, out, `keybox_errors_total{code="AlreadyExists"} 1`)
	assert.Contains(t, out, "keybox_keys 2")
}
