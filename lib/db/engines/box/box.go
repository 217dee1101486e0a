package box

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/ValentinKolb/keybox/lib/db/engines/box/internal"
	"github.com/ValentinKolb/keybox/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("box")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultReaperInterval = 5 * time.Second // Default interval between reaper passes
	entryOverhead         = 64              // Estimated bytes per record besides key and value
)

// --------------------------------------------------------------------------
// Core Box database structure
// --------------------------------------------------------------------------

// Snapshotter persists and restores the full key space as one unit.
type Snapshotter interface {
	// Save replaces the persisted snapshot with the given records
	Save(records []db.Record) error
	// Load returns the records of the persisted snapshot (none if no snapshot exists)
	Load() ([]db.Record, error)
}

// boxImpl implements db.KVDB with a single map guarded by one reader/writer lock
type boxImpl struct {
	mu     sync.RWMutex
	data   map[string]db.Record        // Authoritative key -> record map
	index  *xsync.MapOf[string, int64] // Key -> last modified (unix nano), mirrors data
	expiry *util.ExpiryQueue           // Deadlines of all records with an expiration
	tx     *internal.Transaction       // Open transaction (nil = idle)
	closed bool

	snapshotter Snapshotter
	now         func() time.Time
	reaper      *reaper
	stats       *internal.Stats
}

// DBOptions configures the boxImpl behavior during initialization
type DBOptions struct {
	ReaperInterval time.Duration    // Time between reaper passes (0 = default: 5 sec, < 0 = disabled)
	Snapshotter    Snapshotter      // Persistence layer (nil = in-memory only), closed by Close if it is an io.Closer
	Clock          func() time.Time // Time source (nil = time.Now)
}

// DefaultOptions returns the default boxImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		ReaperInterval: defaultReaperInterval,
		Snapshotter:    nil,
		Clock:          time.Now,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewBoxDB creates a new Box database with the specified options (optional).
// It synchronously loads the snapshot of the snapshotter (an unreadable snapshot
// results in an empty database) and starts the expiration reaper afterward.
//
// Thread-safety: This function is not thread-safe and should only be called once
// per database during initialization.
func NewBoxDB(opts *DBOptions) db.KVDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	interval := opts.ReaperInterval
	if interval == 0 {
		interval = defaultReaperInterval
	}

	newDB := &boxImpl{
		data:        make(map[string]db.Record),
		index:       xsync.NewMapOf[string, int64](),
		expiry:      util.NewExpiryQueue(),
		snapshotter: opts.Snapshotter,
		now:         clock,
	}
	newDB.stats = internal.NewStats(func() float64 {
		return float64(newDB.index.Size())
	})

	// load the persisted state before accepting operations
	newDB.load()

	// start the reaper
	if interval > 0 {
		newDB.reaper = newReaper(interval, newDB.reap)
		newDB.reaper.start()
	}

	return newDB
}

// load restores the persisted snapshot. Errors are logged and result in an empty database.
func (box *boxImpl) load() {
	if box.snapshotter == nil {
		return
	}

	records, err := box.snapshotter.Load()
	if err != nil {
		log.Warningf("could not load snapshot, starting with an empty database: %v", err)
		return
	}

	box.mu.Lock()
	defer box.mu.Unlock()

	for _, record := range records {
		if record.Key == "" {
			log.Warningf("skipping snapshot record without key")
			continue
		}
		box.putLocked(record)
	}

	log.Infof("loaded %d records from snapshot", len(box.data))
}

// --------------------------------------------------------------------------
// Internal Helpers (callers must hold the lock)
// --------------------------------------------------------------------------

// newRecord creates the record for a write at the given time
func newRecord(key, value string, now time.Time, ttl time.Duration, hasTTL bool) db.Record {
	record := db.Record{
		Key:          key,
		Value:        value,
		LastModified: now,
	}
	if hasTTL {
		record.ExpiresAt = now.Add(ttl)
	}
	return record
}

// lookupLocked returns the committed record for a key.
// The index is consulted first as the cheap existence check.
//
// Thread-safety: The caller must hold the shared or the exclusive lock.
func (box *boxImpl) lookupLocked(key string) (db.Record, bool) {
	if _, ok := box.index.Load(key); !ok {
		return db.Record{}, false
	}
	record, ok := box.data[key]
	return record, ok
}

// putLocked writes a record to the store, the index and the expiry queue.
//
// Thread-safety: The caller must hold the exclusive lock.
func (box *boxImpl) putLocked(record db.Record) {
	box.data[record.Key] = record
	box.index.Store(record.Key, record.LastModified.UnixNano())
	if record.HasExpiry() {
		box.expiry.Schedule(record.Key, record.ExpiresAt)
	} else {
		box.expiry.Remove(record.Key)
	}
}

// removeLocked removes a key from the store, the index and the expiry queue.
//
// Thread-safety: The caller must hold the exclusive lock.
func (box *boxImpl) removeLocked(key string) {
	delete(box.data, key)
	box.index.Delete(key)
	box.expiry.Remove(key)
}

// evictIfExpiredLocked removes the record of a key if it is expired at now and persists the change.
// It returns whether the record was evicted.
//
// Thread-safety: The caller must hold the exclusive lock.
func (box *boxImpl) evictIfExpiredLocked(key string, now time.Time) bool {
	record, ok := box.data[key]
	if !ok || !record.IsExpiredAt(now) {
		return false
	}

	box.removeLocked(key)
	box.stats.LazyEvictions.Inc()
	box.persistLocked()
	return true
}

// recordsLocked returns a copy of all committed records sorted by key.
//
// Thread-safety: The caller must hold the shared or the exclusive lock.
func (box *boxImpl) recordsLocked() []db.Record {
	records := make([]db.Record, 0, len(box.data))
	for _, record := range box.data {
		records = append(records, record)
	}
	slices.SortFunc(records, func(a, b db.Record) int {
		return strings.Compare(a.Key, b.Key)
	})
	return records
}

// saveLocked writes the committed state through the snapshotter.
//
// Thread-safety: The caller must hold the exclusive lock. Holding it for the whole
// write guarantees that at most one snapshot write is in flight.
func (box *boxImpl) saveLocked() error {
	if box.snapshotter == nil {
		return nil
	}

	start := time.Now()
	err := box.snapshotter.Save(box.recordsLocked())
	box.stats.TimePersist(start)

	if err != nil {
		box.stats.PersistFailures.Inc()
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// persistLocked saves the committed state and only logs a failure.
// The in-memory state stays authoritative if the snapshot cannot be written.
//
// Thread-safety: The caller must hold the exclusive lock.
func (box *boxImpl) persistLocked() {
	if err := box.saveLocked(); err != nil {
		log.Errorf("%v (in-memory state is kept)", err)
	}
}

// fail counts the error and returns it
func (box *boxImpl) fail(err *db.Error) error {
	box.stats.Err(err)
	return err
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Add inserts a record that never expires.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (box *boxImpl) Add(key, value string) error {
	return box.add(key, value, 0, false)
}

// AddE inserts a record that expires after ttl.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (box *boxImpl) AddE(key, value string, ttl time.Duration) error {
	return box.add(key, value, ttl, true)
}

// add is the shared implementation of Add and AddE.
// An expired record with the same key is reclaimed and does not count as existing.
// While a transaction is open the record is staged instead of written.
func (box *boxImpl) add(key, value string, ttl time.Duration, hasTTL bool) error {
	box.stats.Op(internal.OpTAdd)

	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return box.fail(db.NewError(db.ErrCClosed, key))
	}

	now := box.now()
	record := newRecord(key, value, now, ttl, hasTTL)

	// CASE TRANSACTION

	if box.tx != nil {
		if box.tx.IsPendingDelete(key) {
			return box.fail(db.NewError(db.ErrCPendingDeletion, key))
		}
		if box.tx.HasUpsert(key) {
			return box.fail(db.NewError(db.ErrCAlreadyExists, key))
		}
		if old, ok := box.lookupLocked(key); ok && !old.IsExpiredAt(now) {
			return box.fail(db.NewError(db.ErrCAlreadyExists, key))
		}
		if err := box.tx.StageUpsert(key, record); err != nil {
			return box.fail(err.(*db.Error))
		}
		return nil
	}

	// CASE COMMITTED WRITE

	if old, ok := box.lookupLocked(key); ok {
		if !old.IsExpiredAt(now) {
			return box.fail(db.NewError(db.ErrCAlreadyExists, key))
		}
		// the expired record is replaced below
		box.stats.LazyEvictions.Inc()
	}

	box.putLocked(record)
	box.persistLocked()
	return nil
}

// Update overwrites the value of a live record and clears its expiration.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (box *boxImpl) Update(key, value string) error {
	return box.update(key, value, 0, false)
}

// UpdateE overwrites the value of a live record and replaces its expiration.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (box *boxImpl) UpdateE(key, value string, ttl time.Duration) error {
	return box.update(key, value, ttl, true)
}

// update is the shared implementation of Update and UpdateE.
// The key is always validated against the committed state. While a transaction is
// open the new record is staged instead of written.
func (box *boxImpl) update(key, value string, ttl time.Duration, hasTTL bool) error {
	box.stats.Op(internal.OpTUpdate)

	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return box.fail(db.NewError(db.ErrCClosed, key))
	}

	now := box.now()

	if box.tx != nil && box.tx.IsPendingDelete(key) {
		return box.fail(db.NewError(db.ErrCPendingDeletion, key))
	}

	if _, ok := box.lookupLocked(key); !ok {
		return box.fail(db.NewError(db.ErrCNotFound, key))
	}

	if box.evictIfExpiredLocked(key, now) {
		return box.fail(db.NewError(db.ErrCExpired, key))
	}

	record := newRecord(key, value, now, ttl, hasTTL)

	if box.tx != nil {
		if err := box.tx.StageUpdate(key, record); err != nil {
			return box.fail(err.(*db.Error))
		}
		return nil
	}

	box.putLocked(record)
	box.persistLocked()
	return nil
}

// Delete removes a record. While a transaction is open the delete is staged
// without checking that the key exists.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (box *boxImpl) Delete(key string) error {
	box.stats.Op(internal.OpTDelete)

	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return box.fail(db.NewError(db.ErrCClosed, key))
	}

	if box.tx != nil {
		box.tx.StageDelete(key)
		return nil
	}

	if _, ok := box.lookupLocked(key); !ok {
		return box.fail(db.NewError(db.ErrCNotFound, key))
	}

	box.removeLocked(key)
	box.persistLocked()
	return nil
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get returns the value of a live record. An expired record is evicted and
// reported as db.ErrExpired.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (box *boxImpl) Get(key string) (string, error) {
	box.stats.Op(internal.OpTGet)

	box.mu.RLock()
	if box.closed {
		box.mu.RUnlock()
		return "", box.fail(db.NewError(db.ErrCClosed, key))
	}

	record, ok := box.lookupLocked(key)
	if !ok {
		box.mu.RUnlock()
		return "", box.fail(db.NewError(db.ErrCNotFound, key))
	}
	if !record.IsExpiredAt(box.now()) {
		box.mu.RUnlock()
		return record.Value, nil
	}
	box.mu.RUnlock()

	/*
		Note: The record looked expired under the shared lock. Eviction needs the exclusive lock,
		and the record may have been reaped, replaced or updated in between. evictIfExpiredLocked
		re-checks it, so only a record that is still expired is removed.
	*/

	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return "", box.fail(db.NewError(db.ErrCClosed, key))
	}

	record, ok = box.lookupLocked(key)
	if !ok {
		return "", box.fail(db.NewError(db.ErrCNotFound, key))
	}
	if box.evictIfExpiredLocked(key, box.now()) {
		return "", box.fail(db.NewError(db.ErrCExpired, key))
	}
	return record.Value, nil
}

// GetAll returns a copy of all committed records sorted by key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (box *boxImpl) GetAll() []db.Record {
	box.stats.Op(internal.OpTGetAll)

	box.mu.RLock()
	defer box.mu.RUnlock()

	if box.closed {
		return []db.Record{}
	}
	return box.recordsLocked()
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Transactions
// --------------------------------------------------------------------------

// BeginTransaction opens a new transaction.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (box *boxImpl) BeginTransaction() error {
	box.stats.Op(internal.OpTBegin)

	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return box.fail(db.NewError(db.ErrCClosed, ""))
	}
	if box.tx != nil {
		return box.fail(db.NewError(db.ErrCTransactionAlreadyActive, ""))
	}

	box.tx = internal.NewTransaction(box.now())
	log.Debugf("began transaction %s", box.tx.ID)
	return nil
}

// CommitTransaction applies all staged writes, persists once and closes the transaction.
// Staged deletes of keys that no longer exist are ignored. A staged update of a key that
// expired or was reaped after staging is dropped, so commit never brings back an expired key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (box *boxImpl) CommitTransaction() error {
	box.stats.Op(internal.OpTCommit)

	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return box.fail(db.NewError(db.ErrCClosed, ""))
	}
	if box.tx == nil {
		return box.fail(db.NewError(db.ErrCNoActiveTransaction, ""))
	}

	now := box.now()
	dropped := 0

	// upserts and deletes are disjoint, so the order of the two loops does not matter
	for key, record := range box.tx.Upserts() {
		if box.tx.IsUpdate(key) {
			old, ok := box.lookupLocked(key)
			if !ok || old.IsExpiredAt(now) {
				if ok {
					box.removeLocked(key)
					box.stats.LazyEvictions.Inc()
				}
				log.Warningf("dropping staged update of '%s' in transaction %s, the key expired before commit", key, box.tx.ID)
				dropped++
				continue
			}
		}
		box.putLocked(record)
	}
	for key := range box.tx.Deletes() {
		box.removeLocked(key)
	}

	box.persistLocked()

	upserts, deletes := box.tx.Len()
	log.Debugf("committed transaction %s (%d upserts, %d deletes, %d dropped updates)", box.tx.ID, upserts, deletes, dropped)
	box.tx = nil
	return nil
}

// RollbackTransaction discards all staged writes and closes the transaction.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (box *boxImpl) RollbackTransaction() error {
	box.stats.Op(internal.OpTRollback)

	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return box.fail(db.NewError(db.ErrCClosed, ""))
	}
	if box.tx == nil {
		return box.fail(db.NewError(db.ErrCNoActiveTransaction, ""))
	}

	log.Debugf("rolled back transaction %s", box.tx.ID)
	box.tx = nil
	return nil
}

// InTransaction returns whether a transaction is open
func (box *boxImpl) InTransaction() bool {
	box.mu.RLock()
	defer box.mu.RUnlock()
	return box.tx != nil
}

// --------------------------------------------------------------------------
// Expiration
// --------------------------------------------------------------------------

// reap removes every expired record and persists once, even if nothing was removed.
// Staged transaction state is never touched.
//
// Thread-safety: This method is thread-safe, it takes the exclusive lock.
func (box *boxImpl) reap() int {
	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return 0
	}

	// the expiry queue yields only the due keys, records without expiration are never visited
	now := box.now()
	removed := 0
	for key := range box.expiry.PopDue(now) {
		delete(box.data, key)
		box.index.Delete(key)
		removed++
	}

	box.stats.ReaperPasses.Inc()
	box.stats.ReaperEvictions.Add(removed)

	box.persistLocked()
	return removed
}

// --------------------------------------------------------------------------
// Persistence and Metadata
// --------------------------------------------------------------------------

// Persist writes a snapshot of the committed state and returns the save error.
func (box *boxImpl) Persist() error {
	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return db.NewError(db.ErrCClosed, "")
	}
	return box.saveLocked()
}

// GetInfo returns statistics about the database
func (box *boxImpl) GetInfo() db.DatabaseInfo {
	box.mu.RLock()
	defer box.mu.RUnlock()

	now := box.now()
	histogram := util.NewSizeHistogram()
	expired := 0
	for key, record := range box.data {
		histogram.AddSample(len(key) + len(record.Value))
		if record.IsExpiredAt(now) {
			expired++
		}
	}

	var pendingUpserts, pendingDeletes int
	if box.tx != nil {
		pendingUpserts, pendingDeletes = box.tx.Len()
	}

	var expiredBacklog float64
	if len(box.data) > 0 {
		expiredBacklog = float64(expired) / float64(len(box.data))
	}

	// Metadata for this specific database implementation
	meta := &struct {
		IndexSize      int                   `json:"index_size"`
		ExpiredBacklog float64               `json:"expired_backlog"`
		PendingUpserts int                   `json:"pending_upserts"`
		PendingDeletes int                   `json:"pending_deletes"`
		Persistent     bool                  `json:"persistent"`
		Persist        internal.PersistStats `json:"persist"`
		Sizes          util.SizeSummary      `json:"record_sizes"`
		Info           string                `json:"info"`
	}{
		IndexSize:      box.index.Size(),
		ExpiredBacklog: expiredBacklog, // share of records that are expired but not yet reaped
		PendingUpserts: pendingUpserts,
		PendingDeletes: pendingDeletes,
		Persistent:     box.snapshotter != nil,
		Persist:        box.stats.Persist(),
		Sizes:          histogram.Summary(),
		Info:           "SizeBytes is the sum of key and value sizes plus an estimated per record overhead.",
	}

	return db.DatabaseInfo{
		SizeBytes:     int(histogram.GetTotal()) + int(histogram.GetCount())*entryOverhead,
		DbType:        db.ImplBox,
		Keys:          len(box.data),
		InTransaction: box.tx != nil,
		Metadata:      meta,
	}
}

// WriteMetrics writes the metrics of this database in Prometheus text format
func (box *boxImpl) WriteMetrics(w io.Writer) {
	box.stats.WritePrometheus(w)
}

// Close stops the reaper, discards an open transaction, writes a final snapshot
// and closes the snapshotter. Calling Close more than once is a no-op.
func (box *boxImpl) Close() error {
	// stop the reaper first, a pass in flight completes before stop returns
	if box.reaper != nil {
		box.reaper.stop()
	}

	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		return nil
	}
	box.closed = true

	if box.tx != nil {
		log.Warningf("discarding open transaction %s on close", box.tx.ID)
		box.tx = nil
	}

	err := box.saveLocked()

	if closer, ok := box.snapshotter.(io.Closer); ok {
		if cErr := closer.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("failed to close snapshotter: %w", cErr)
		}
	}

	box.stats.Close()
	return err
}

// --------------------------------------------------------------------------
// Consistency Checks
// --------------------------------------------------------------------------

// checkIndexCoherence verifies that the index and the expiry queue mirror the store exactly.
// It returns a description of the first mismatch or nil.
func (box *boxImpl) checkIndexCoherence() error {
	box.mu.RLock()
	defer box.mu.RUnlock()

	for key, record := range box.data {
		ts, ok := box.index.Load(key)
		if !ok {
			return fmt.Errorf("key '%s' is in the store but not in the index", key)
		}
		if ts != record.LastModified.UnixNano() {
			return fmt.Errorf("key '%s' has index timestamp %d but record timestamp %d", key, ts, record.LastModified.UnixNano())
		}
	}

	expiring := 0
	for key, record := range box.data {
		if !record.HasExpiry() {
			continue
		}
		expiring++
		at, ok := box.expiry.Deadline(key)
		if !ok || !at.Equal(record.ExpiresAt) {
			return fmt.Errorf("key '%s' expires at %v but is scheduled at %v (scheduled=%v)", key, record.ExpiresAt, at, ok)
		}
	}
	if expiring != box.expiry.Len() {
		return fmt.Errorf("%d records expire but %d keys are scheduled", expiring, box.expiry.Len())
	}

	var err error
	box.index.Range(func(key string, _ int64) bool {
		if _, ok := box.data[key]; !ok {
			err = fmt.Errorf("key '%s' is in the index but not in the store", key)
			return false
		}
		return true
	})
	return err
}
