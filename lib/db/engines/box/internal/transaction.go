package internal

import (
	"iter"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Transaction Type (staged writes of one transaction)
// --------------------------------------------------------------------------

// Transaction buffers the writes of one transaction until commit.
// Upserts and deletes are kept disjoint: staging a delete drops a staged upsert for
// the same key, and staging an upsert for a key pending deletion is rejected.
// Upserts staged by an update are marked, because they only apply to a key that is
// still live at commit.
//
// Thread-safety: This type is not thread-safe. The engine only touches it while
// holding its exclusive lock.
type Transaction struct {
	ID        uuid.UUID
	StartedAt time.Time

	pendingUpserts map[string]db.Record
	pendingUpdates map[string]struct{} // subset of pendingUpserts
	pendingDeletes map[string]struct{}
}

// NewTransaction creates an empty transaction
func NewTransaction(startedAt time.Time) *Transaction {
	return &Transaction{
		ID:             uuid.New(),
		StartedAt:      startedAt,
		pendingUpserts: make(map[string]db.Record),
		pendingUpdates: make(map[string]struct{}),
		pendingDeletes: make(map[string]struct{}),
	}
}

// StageUpsert stages a record to be written on commit.
// It fails with db.ErrPendingDeletion if the key was deleted earlier in this transaction.
func (tx *Transaction) StageUpsert(key string, record db.Record) error {
	if _, ok := tx.pendingDeletes[key]; ok {
		return db.NewError(db.ErrCPendingDeletion, key)
	}
	tx.pendingUpserts[key] = record
	delete(tx.pendingUpdates, key)
	return nil
}

// StageUpdate stages a record that replaces an existing one on commit.
// It fails like StageUpsert. At commit the record must only be written if the key is still live.
func (tx *Transaction) StageUpdate(key string, record db.Record) error {
	if err := tx.StageUpsert(key, record); err != nil {
		return err
	}
	tx.pendingUpdates[key] = struct{}{}
	return nil
}

// StageDelete stages the removal of a key and drops any staged upsert for it.
// The key is not checked against the committed store.
func (tx *Transaction) StageDelete(key string) {
	delete(tx.pendingUpserts, key)
	delete(tx.pendingUpdates, key)
	tx.pendingDeletes[key] = struct{}{}
}

// HasUpsert reports whether an upsert is staged for the key
func (tx *Transaction) HasUpsert(key string) bool {
	_, ok := tx.pendingUpserts[key]
	return ok
}

// IsUpdate reports whether the staged upsert for the key was staged by an update
func (tx *Transaction) IsUpdate(key string) bool {
	_, ok := tx.pendingUpdates[key]
	return ok
}

// IsPendingDelete reports whether the key is staged for deletion
func (tx *Transaction) IsPendingDelete(key string) bool {
	_, ok := tx.pendingDeletes[key]
	return ok
}

// Upserts iterates over the staged upserts
func (tx *Transaction) Upserts() iter.Seq2[string, db.Record] {
	return func(yield func(string, db.Record) bool) {
		for k, r := range tx.pendingUpserts {
			if !yield(k, r) {
				return
			}
		}
	}
}

// Deletes iterates over the keys staged for deletion
func (tx *Transaction) Deletes() iter.Seq[string] {
	return func(yield func(string) bool) {
		for k := range tx.pendingDeletes {
			if !yield(k) {
				return
			}
		}
	}
}

// Len returns the number of staged upserts and deletes
func (tx *Transaction) Len() (upserts, deletes int) {
	return len(tx.pendingUpserts), len(tx.pendingDeletes)
}
