package commands

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

var syncDays int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull recent gazette sumarios into the local store",
	Long: `Fetch the BOE sumario for every day in [today - days, today] and upsert
the entries into the local store. A failure part-way keeps the days fetched
before it and is reported in the "errors" list.

Examples:
  lexsync sync
  lexsync sync --days 30`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVarP(&syncDays, "days", "d", 7, "Number of days back to sync")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.legislation.BulkSync(cmd.Context(), syncDays)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
