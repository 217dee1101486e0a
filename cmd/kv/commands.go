package kv

import (
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/keybox/cmd/util"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	addCmd = &cobra.Command{
		Use:   "add [key] [value]",
		Short: "Adds a new key",
		Long:  "Adds a new key. Fails if the key exists and is not expired.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, hasTTL, err := ttlFlag(cmd)
			if err != nil {
				return err
			}
			if hasTTL {
				err = kvDB.AddE(args[0], args[1], ttl)
			} else {
				err = kvDB.Add(args[0], args[1])
			}
			if err != nil {
				return err
			}
			fmt.Println("added successfully")
			return nil
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [key] [value]",
		Short: "Updates the value of an existing key",
		Long:  "Updates the value of an existing key. Without --ttl the key no longer expires.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, hasTTL, err := ttlFlag(cmd)
			if err != nil {
				return err
			}
			if hasTTL {
				err = kvDB.UpdateE(args[0], args[1], ttl)
			} else {
				err = kvDB.Update(args[0], args[1])
			}
			if err != nil {
				return err
			}
			fmt.Println("updated successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := kvDB.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, value=%s\n", args[0], value)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := kvDB.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists all records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records := kvDB.GetAll()
			for _, record := range records {
				fmt.Println(record)
			}
			fmt.Printf("(%d records)\n", len(records))
			return nil
		},
	}
	saveCmd = &cobra.Command{
		Use:   "save",
		Short: "Writes a snapshot of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := kvDB.Persist(); err != nil {
				return err
			}
			fmt.Println("saved successfully")
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints statistics about the database as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := json.MarshalIndent(kvDB.GetInfo(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	metricsCmd = &cobra.Command{
		Use:   "metrics",
		Short: "Prints the metrics of the database in Prometheus text format",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			kvDB.WriteMetrics(os.Stdout)
		},
	}
)

func init() {
	addCmd.Flags().String("ttl", "", util.WrapString("Time until the key expires (e.g. 30s, 5m), empty for no expiration"))
	updateCmd.Flags().String("ttl", "", util.WrapString("New time until the key expires (e.g. 30s, 5m), empty for no expiration"))
}

func ttlFlag(cmd *cobra.Command) (ttl time.Duration, hasTTL bool, err error) {
	s, _ := cmd.Flags().GetString("ttl")
	if ttl, hasTTL, err = util.ParseTTL(s); err != nil {
		return 0, false, fmt.Errorf("invalid ttl: %w", err)
	}
	return ttl, hasTTL, nil
}
