package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/keybox/lib/common"
	"github.com/ValentinKolb/keybox/lib/db"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space if not at the beginning of a line
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupEngineFlags adds the flags of the embedded database to a command.
// The defaults are taken from common.DefaultEngineConfig.
func SetupEngineFlags(cmd *cobra.Command) {
	defaults := common.DefaultEngineConfig()

	key := "data-path"
	cmd.PersistentFlags().String(key, defaults.DataPath, WrapString("Path of the snapshot file (storage file) or database file (storage bolt)"))

	key = "storage"
	cmd.PersistentFlags().String(key, string(defaults.Storage), WrapString("Snapshot storage backend (file, bolt, memory)"))

	key = "serializer"
	cmd.PersistentFlags().String(key, defaults.Serializer, WrapString("Serializer for new snapshots (json, gob, binary)"))

	key = "compression"
	cmd.PersistentFlags().String(key, defaults.Compression, WrapString("Compression for new snapshots (none, gzip, zstd, s2)"))

	key = "reaper-interval"
	cmd.PersistentFlags().Duration(key, defaults.ReaperInterval, WrapString("Interval between background passes that remove expired records (0 disables the reaper)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, defaults.LogLevel, WrapString("Log level (debug, info, warning, error)"))

	key = "log-format"
	cmd.PersistentFlags().String(key, defaults.LogFormat, WrapString("Log format (text, json)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("keybox")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetEngineConfig reads the engine configuration from viper
func GetEngineConfig() common.EngineConfig {
	return common.EngineConfig{
		DataPath:       viper.GetString("data-path"),
		Storage:        common.StorageType(viper.GetString("storage")),
		Serializer:     viper.GetString("serializer"),
		Compression:    viper.GetString("compression"),
		ReaperInterval: viper.GetDuration("reaper-interval"),
		LogLevel:       viper.GetString("log-level"),
		LogFormat:      viper.GetString("log-format"),
	}
}

// OpenDB binds the flags of cmd, initializes the loggers and opens the configured database
func OpenDB(cmd *cobra.Command) (db.KVDB, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}

	config := GetEngineConfig()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := common.InitLoggers(config); err != nil {
		return nil, err
	}
	return config.OpenDB()
}

// ParseTTL parses an optional ttl argument. An empty string means no expiration.
func ParseTTL(s string) (time.Duration, bool, error) {
	if s == "" {
		return 0, false, nil
	}
	ttl, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, err
	}
	return ttl, true, nil
}
