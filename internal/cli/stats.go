package cli

import (
	"github.com/spf13/cobra"

	"microloan-funnel/internal/database"
)

func newStatsCmd(opts *options) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show funnel analytics for the last days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.NewDB(opts.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			summary, err := db.AnalyticsSummary(cmd.Context(), days)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Window in days")
	return cmd
}
