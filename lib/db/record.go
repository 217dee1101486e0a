package db

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Record Type (key-value pair with timestamps)
// --------------------------------------------------------------------------

// Record stores a value together with its modification and expiration timestamps.
// A zero ExpiresAt means the record never expires.
type Record struct {
	Key          string    // Immutable once the record is created
	Value        string    // Current value
	LastModified time.Time // Set at creation and on every update
	ExpiresAt    time.Time // Zero = never expires
}

// HasExpiry reports whether the record carries an expiration timestamp.
func (r Record) HasExpiry() bool {
	return !r.ExpiresAt.IsZero()
}

// IsExpired reports whether the record is expired right now.
func (r Record) IsExpired() bool {
	return r.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether the record is expired at the given time.
// A record is expired once now is strictly after its expiration timestamp.
func (r Record) IsExpiredAt(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return now.After(r.ExpiresAt)
}

func (r Record) String() string {
	if r.HasExpiry() {
		return fmt.Sprintf("%s:%s (last updated %s, expires %s)",
			r.Key, r.Value, r.LastModified.Format(time.RFC3339), r.ExpiresAt.Format(time.RFC3339Nano))
	}
	return fmt.Sprintf("%s:%s (last updated %s)", r.Key, r.Value, r.LastModified.Format(time.RFC3339))
}
