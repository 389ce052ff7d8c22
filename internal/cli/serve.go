package cli

import (
	"fmt"

	"github.com/harun/chatrelay/internal/daemon"
	"github.com/harun/chatrelay/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the chat relay in the foreground",
	Long: `Run the chat relay in the foreground until SIGINT or SIGTERM.
Open sessions are told the server is shutting down and every hub is drained
before the process exits.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.Logging.Level,
		File:     cfg.Logging.File,
		Console:  true,
		Pretty:   cfg.Logging.Pretty,
		MaxSize:  cfg.Logging.MaxSize,
		MaxAge:   cfg.Logging.MaxAge,
		Compress: cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Wait()
}
