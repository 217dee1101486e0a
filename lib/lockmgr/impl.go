package lockmgr

import (
	"errors"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockmgr")

type lockMgrImpl struct {
	kv db.KVDB
}

func NewLockManager(kv db.KVDB) ILockManager {
	return &lockMgrImpl{
		kv: kv,
	}
}

func (lm *lockMgrImpl) AcquireLock(key string, timeout time.Duration) (bool, string, error) {
	if lm.kv.InTransaction() {
		return false, "", ErrTransactionActive
	}

	ownerID := generateOwnerID()

	// Try to acquire the lock (Add only succeeds if no live record exists - atomic under the db lock)
	var err error
	if timeout > 0 {
		err = lm.kv.AddE(key, ownerID, timeout)
	} else {
		err = lm.kv.Add(key, ownerID)
	}
	if errors.Is(err, db.ErrAlreadyExists) || errors.Is(err, db.ErrPendingDeletion) {
		log.Debugf("lock '%s' is held by someone else", key)
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	// Check if the lock was acquired
	value, err := lm.kv.Get(key)
	if errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrExpired) {
		// the add was staged by a transaction opened in the meantime, or the timeout already passed
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	// Return true if lock was acquired BY US
	if value == ownerID {
		log.Debugf("acquired lock '%s' (owner %s)", key, ownerID)
		return true, ownerID, nil
	}
	// Return false if lock was acquired BY SOMEONE ELSE in the meantime
	return false, "", nil
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID string) (bool, error) {
	if lm.kv.InTransaction() {
		return false, ErrTransactionActive
	}

	// Check if the lock exists
	value, err := lm.kv.Get(key)
	if errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrExpired) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	// Check if the lock is owned by us
	if value != ownerID {
		return false, nil
	}

	// Release the lock
	err = lm.kv.Delete(key)
	if errors.Is(err, db.ErrNotFound) {
		// reaped in the meantime
		return true, nil
	}
	if err == nil {
		log.Debugf("released lock '%s' (owner %s)", key, ownerID)
	}
	return err == nil, err
}
