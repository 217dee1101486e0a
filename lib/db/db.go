package db

import (
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBox Implementation = "box"
)

type DatabaseInfo struct {
	SizeBytes     int            `json:"size_bytes"`
	DbType        Implementation `json:"db_type"`
	Keys          int            `json:"keys"`
	InTransaction bool           `json:"in_transaction"`
	Metadata      interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for an embedded key-value database with ttl based
// expiration and single-writer transactions.
//
// All keyed operations return a *Error (see errors.go) on failure. Persistence
// failures are never returned from write operations; they only degrade durability.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Add inserts a new record that never expires.
	// Fails with ErrAlreadyExists if a live record with the same key exists.
	Add(key, value string) (err error)

	// AddE inserts a new record that expires after ttl.
	// A ttl <= 0 creates a record that is already expired on the next read.
	AddE(key, value string, ttl time.Duration) (err error)

	// Update overwrites the value of an existing record and clears its expiration.
	// Fails with ErrNotFound if the key is absent and ErrExpired if it expired (the key is evicted).
	Update(key, value string) (err error)

	// UpdateE overwrites the value of an existing record and sets a new expiration.
	UpdateE(key, value string, ttl time.Duration) (err error)

	// Delete removes the record with the given key.
	// Fails with ErrNotFound if the key is absent.
	Delete(key string) (err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the value of a live record.
	// Fails with ErrNotFound if the key is absent and ErrExpired if it expired (the key is evicted).
	Get(key string) (value string, err error)

	// GetAll returns a copy of all committed records, including expired records
	// that were not reclaimed yet. Use Record.IsExpired to filter.
	GetAll() (records []Record)

	// --------------------------------------------------------------------------
	// Transaction Operations
	// --------------------------------------------------------------------------

	// BeginTransaction opens a transaction. While a transaction is open all writes are
	// staged and only applied by CommitTransaction. Reads always observe committed state.
	BeginTransaction() (err error)

	// CommitTransaction atomically applies all staged writes and persists once.
	CommitTransaction() (err error)

	// RollbackTransaction discards all staged writes.
	RollbackTransaction() (err error)

	// InTransaction returns whether a transaction is currently open.
	InTransaction() (ok bool)

	// --------------------------------------------------------------------------
	// Persistence and Metadata
	// --------------------------------------------------------------------------

	// Persist writes a snapshot of the committed state and returns the error of the save, if any.
	Persist() (err error)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// WriteMetrics writes the database metrics in Prometheus text format to w.
	WriteMetrics(w io.Writer)

	// Close stops background work, writes a final snapshot and closes the database.
	Close() (err error)
}
