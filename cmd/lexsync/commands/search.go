package commands

import (
	"fmt"
	"time"

	"github.com/lexsync/lexsync/internal/legislation"
	"github.com/lexsync/lexsync/internal/models"
	"github.com/spf13/cobra"
)

var (
	searchOrigin  string
	searchQuery   string
	searchFrom    string
	searchTo      string
	searchLimit   int
	searchOrgan   string
	searchPersist bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a federated search against the upstream sources",
	Long: `Query the BOE gazette and/or the CENDOJ case-law portal concurrently.

A failing source is reported in its own section of the output; the command
only fails when every requested source failed. --from/--to only apply to
the gazette.

Examples:
  lexsync search --query despido
  lexsync search --origin boe --query "real decreto" --from 2024-03-01 --to 2024-03-07
  lexsync search --origin cendoj --query despido --organ "Tribunal Supremo" --persist`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchOrigin, "origin", "o", "all", "Source: boe, cendoj or all")
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "Keywords to match")
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "First gazette day (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchTo, "to", "", "Last gazette day (YYYY-MM-DD)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 20, "Max records per source (0 keeps all)")
	searchCmd.Flags().StringVar(&searchOrgan, "organ", "", "Case-law issuing body filter")
	searchCmd.Flags().BoolVar(&searchPersist, "persist", false, "Upsert the results into the local store")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	origin, err := models.ParseOrigin(searchOrigin)
	if err != nil {
		return err
	}
	from, err := parseDay(searchFrom)
	if err != nil {
		return err
	}
	to, err := parseDay(searchTo)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.legislation.FederatedSearch(cmd.Context(), legislation.FederatedQuery{
		Origin:  origin,
		Query:   searchQuery,
		From:    from,
		To:      to,
		Limit:   searchLimit,
		Organ:   searchOrgan,
		Persist: searchPersist,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func parseDay(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return t, nil
}
