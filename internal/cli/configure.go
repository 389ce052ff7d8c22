package cli

import (
	"fmt"
	"os"

	"github.com/harun/chatrelay/internal/config"
	"github.com/spf13/cobra"
)

var (
	configureForce   bool
	configurePort    int
	configureDataDir string
	configureDriver  string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a configuration file",
	Long: `Write a configuration file populated with the default settings and
any values given as flags. An existing file is kept unless --force is set.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "overwrite an existing config file")
	configureCmd.Flags().IntVar(&configurePort, "port", 0, "listen port (default 1337)")
	configureCmd.Flags().StringVar(&configureDataDir, "data-dir", "", "directory for channel logs")
	configureCmd.Flags().StringVar(&configureDriver, "driver", "", "log store driver (file, sqlite)")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	configPath := loader.GetConfigPath()

	if _, err := os.Stat(configPath); err == nil && !configureForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = configurePort
	}
	if configureDataDir != "" {
		cfg.DataDir = configureDataDir
	}
	if configureDriver != "" {
		cfg.Store.Driver = configureDriver
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Save configuration
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration saved to: %s\n", configPath)
	fmt.Fprintln(out, "You can now start the relay with: chatrelay serve")
	return nil
}
