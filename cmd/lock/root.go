package lock

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/keybox/cmd/util"
	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/ValentinKolb/keybox/lib/lockmgr"
	"github.com/spf13/cobra"
)

var (
	lockDB         db.KVDB
	lockMgr        lockmgr.ILockManager
	acquireTimeout time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		Long:               util.WrapString("Locks are records of the configured database, so a lock acquired by one invocation can be released by a later one."),
		PersistentPreRunE:  setupLockMgr,
		PersistentPostRunE: closeLockMgr,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and owner ID. The owner ID is the value printed by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	// Add flags specific to acquire
	acquireCmd.Flags().DurationVar(&acquireTimeout, "timeout", 30*time.Second, util.WrapString("Time after which the lock expires (0 for no timeout)"))
}

// setupLockMgr opens the database and creates the lock manager on top of it
func setupLockMgr(cmd *cobra.Command, _ []string) error {
	var err error
	if lockDB, err = util.OpenDB(cmd); err != nil {
		return err
	}
	lockMgr = lockmgr.NewLockManager(lockDB)
	return nil
}

// closeLockMgr closes the database, which persists the lock state
func closeLockMgr(_ *cobra.Command, _ []string) error {
	if lockDB == nil {
		return nil
	}
	err := lockDB.Close()
	lockDB, lockMgr = nil, nil
	return err
}

// runAcquire handles the acquire lock command
func runAcquire(_ *cobra.Command, args []string) error {
	key := args[0]

	// Attempt to acquire the lock
	acquired, ownerID, err := lockMgr.AcquireLock(key, acquireTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		fmt.Printf("acquired=false\n")
		return nil
	}

	fmt.Printf("acquired=true, ownerId=%s\n", ownerID)
	return nil
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	key := args[0]
	ownerID := args[1]

	// Attempt to release the lock
	released, err := lockMgr.ReleaseLock(key, ownerID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	fmt.Printf("released=%v\n", released)
	return nil
}
