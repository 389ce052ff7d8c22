package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/harun/chatrelay/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag to its default so commands sharing the
// package-level root do not leak state between tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	resetFlags(cmd)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

// writeConfig saves cfg, or the defaults rooted in a temp dir, and returns
// the file path.
func writeConfig(t *testing.T, mutate func(*config.Config)) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "chatrelay.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))
	return path, cfg
}

func hasCommand(name string) bool {
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, err := runCLI(t, "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "chatrelay version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, err := runCLI(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "chatrelay")
		assert.Contains(t, out, "websocket chat relay")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)
	})

	t.Run("subcommands", func(t *testing.T) {
		for _, name := range []string{"serve", "stop", "status", "channels", "replay", "configure"} {
			assert.True(t, hasCommand(name), "%s command should exist", name)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	path, _ := writeConfig(t, nil)

	resetFlags(GetRootCmd())
	cfgFile = path
	logLevel = "debug"
	defer resetFlags(GetRootCmd())

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)

	logLevel = "loud"
	_, err = loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
