package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/keybox/cmd/kv"
	"github.com/ValentinKolb/keybox/cmd/lock"
	"github.com/ValentinKolb/keybox/cmd/shell"
	"github.com/ValentinKolb/keybox/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "keybox",
		Short: "embedded key-value store",
		Long: fmt.Sprintf(`keybox (v%s)

An embedded key-value store written in Go with expiring keys,
single-writer transactions and snapshot persistence.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of keybox",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("keybox v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(shell.ShellCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupEngineFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
