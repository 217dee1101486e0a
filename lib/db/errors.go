package db

import "fmt"

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

type ErrCode uint8

const (
	ErrCAlreadyExists            ErrCode = iota + 1 // 1: Add on a live key.
	ErrCNotFound                                    // 2: Operation on an absent key.
	ErrCExpired                                     // 3: Operation on a key whose ttl has passed.
	ErrCTransactionAlreadyActive                    // 4: Begin while a transaction is open.
	ErrCNoActiveTransaction                         // 5: Commit or rollback without a transaction.
	ErrCPendingDeletion                             // 6: Write on a key staged for deletion in the same transaction.
	ErrCClosed                                      // 7: Operation on a closed database.
)

func (c ErrCode) String() string {
	switch c {
	case ErrCAlreadyExists:
		return "AlreadyExists"
	case ErrCNotFound:
		return "NotFound"
	case ErrCExpired:
		return "Expired"
	case ErrCTransactionAlreadyActive:
		return "TransactionAlreadyActive"
	case ErrCNoActiveTransaction:
		return "NoActiveTransaction"
	case ErrCPendingDeletion:
		return "PendingDeletion"
	case ErrCClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by KVDB operations.
// It carries a code and, for keyed operations, the key the operation was called with.
type Error struct {
	Code ErrCode
	Key  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case ErrCAlreadyExists:
		return fmt.Sprintf("key '%s' already exists", e.Key)
	case ErrCNotFound:
		return fmt.Sprintf("key '%s' not found", e.Key)
	case ErrCExpired:
		return fmt.Sprintf("key '%s' has expired", e.Key)
	case ErrCTransactionAlreadyActive:
		return "a transaction is already in progress"
	case ErrCNoActiveTransaction:
		return "no transaction in progress"
	case ErrCPendingDeletion:
		return fmt.Sprintf("key '%s' is marked for deletion in this transaction", e.Key)
	case ErrCClosed:
		return "database is closed"
	default:
		return fmt.Sprintf("unknown error (code %d) for key '%s'", e.Code, e.Key)
	}
}

// Is makes errors.Is match on the error code, so a keyed error matches the
// corresponding sentinel (e.g. errors.Is(err, db.ErrNotFound)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Key == "" || t.Key == e.Key)
}

// NewError creates a new Error with the given code and key.
func NewError(code ErrCode, key string) *Error {
	return &Error{
		Code: code,
		Key:  key,
	}
}

// Sentinels for use with errors.Is
var (
	ErrAlreadyExists            = &Error{Code: ErrCAlreadyExists}
	ErrNotFound                 = &Error{Code: ErrCNotFound}
	ErrExpired                  = &Error{Code: ErrCExpired}
	ErrTransactionAlreadyActive = &Error{Code: ErrCTransactionAlreadyActive}
	ErrNoActiveTransaction      = &Error{Code: ErrCNoActiveTransaction}
	ErrPendingDeletion          = &Error{Code: ErrCPendingDeletion}
	ErrClosed                   = &Error{Code: ErrCClosed}
)
