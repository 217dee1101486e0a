package kv

import (
	"github.com/ValentinKolb/keybox/cmd/util"
	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/spf13/cobra"
)

var (
	kvDB db.KVDB

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value store operations",
		PersistentPreRunE:  openDB,
		PersistentPostRunE: closeDB,
	}
)

func init() {
	// Add subcommands
	KeyValueCommands.AddCommand(addCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(updateCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(listCmd)
	KeyValueCommands.AddCommand(saveCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(metricsCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// openDB opens the configured database for one command
func openDB(cmd *cobra.Command, _ []string) error {
	var err error
	kvDB, err = util.OpenDB(cmd)
	return err
}

// closeDB writes the final snapshot and releases the storage
func closeDB(_ *cobra.Command, _ []string) error {
	if kvDB == nil {
		return nil
	}
	err := kvDB.Close()
	kvDB = nil
	return err
}
