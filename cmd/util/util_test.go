package util

import (
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/keybox/lib/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
}

func TestParseTTL(t *testing.T) {
	ttl, ok, err := ParseTTL("")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, ttl)

	ttl, ok, err = ParseTTL("1m30s")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, ttl)

	_, _, err = ParseTTL("soon")
	assert.Error(t, err)
}

func TestGetEngineConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	SetupEngineFlags(cmd)
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--storage", "bolt", "--reaper-interval", "0"}))
	require.NoError(t, viper.BindPFlags(cmd.PersistentFlags()))

	t.Setenv("KEYBOX_SERIALIZER", "binary")
	InitConfig()

	config := GetEngineConfig()
	defaults := common.DefaultEngineConfig()

	assert.Equal(t, common.StorageBolt, config.Storage)
	assert.Equal(t, "binary", config.Serializer)
	assert.Equal(t, time.Duration(0), config.ReaperInterval)
	assert.Equal(t, defaults.DataPath, config.DataPath)
	assert.Equal(t, defaults.Compression, config.Compression)
	assert.Equal(t, defaults.LogLevel, config.LogLevel)
	assert.NoError(t, config.Validate())
}
