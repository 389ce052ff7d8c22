package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the configured channels",
	Args:  cobra.NoArgs,
	RunE:  runChannels,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
}

func runChannels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	set, err := cfg.ChannelSet()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, ch := range set.All() {
		fmt.Fprintf(w, "%s\t%s\n", ch.ID, ch.DisplayName)
	}
	return w.Flush()
}
