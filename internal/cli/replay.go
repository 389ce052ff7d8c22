package cli

import (
	"fmt"

	"github.com/harun/chatrelay/pkg/logstore"
	"github.com/spf13/cobra"
)

var (
	replayFrom    int64
	replayLimit   int
	replayOffsets bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <channel>",
	Short: "Print a channel's log",
	Long: `Print the records of a channel's log in order, starting at --from.
Records are read straight from the configured log store.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().Int64Var(&replayFrom, "from", 0, "offset to start reading at")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 0, "maximum records to print (0 prints all)")
	replayCmd.Flags().BoolVar(&replayOffsets, "offsets", false, "prefix each line with its offset")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	set, err := cfg.ChannelSet()
	if err != nil {
		return err
	}

	channel := args[0]
	if !set.Contains(channel) {
		return fmt.Errorf("unknown channel %q", channel)
	}
	if replayFrom < 0 {
		return fmt.Errorf("--from must not be negative")
	}

	store, err := logstore.Open(cfg.Store.Driver, cfg.DataDir, logstore.Options{})
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	printed := 0
	for entry, err := range store.ReadFrom(cmd.Context(), channel, replayFrom) {
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", channel, err)
		}
		if replayOffsets {
			fmt.Fprintf(out, "%d\t%s\n", entry.Offset, entry.Line)
		} else {
			fmt.Fprintln(out, entry.Line)
		}
		printed++
		if replayLimit > 0 && printed >= replayLimit {
			break
		}
	}
	return nil
}
