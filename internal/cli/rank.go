package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"microloan-funnel/internal/catalog"
	"microloan-funnel/internal/funnel"
	"microloan-funnel/internal/matching"
	"microloan-funnel/internal/models"
	"microloan-funnel/internal/validation"
)

func newRankCmd(opts *options) *cobra.Command {
	var (
		c      models.Criteria
		preset string
	)

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Preview the ranked offers for a set of criteria",
		Example: `  funnelctl rank --country russia --age 30 --amount 15000
  funnelctl rank --preset zero_percent --country kazakhstan`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			criteria := c
			if preset != "" {
				p := models.Profile{}
				if criteria.Country != "" {
					p.Country = &criteria.Country
				}
				if criteria.Age > 0 {
					p.Age = &criteria.Age
				}
				var err error
				criteria, err = funnel.PresetCriteria(preset, p)
				if err != nil {
					return err
				}
			}

			if !validation.IsKnownCountry(criteria.Country) {
				return fmt.Errorf("unknown country %q", criteria.Country)
			}

			offers, err := catalog.LoadFile(opts.catalogPath, opts.logger())
			if err != nil {
				return err
			}
			active := catalog.NewSnapshot(offers).Active()

			return printJSON(cmd.OutOrStdout(), matching.Rank(criteria, active))
		},
	}

	cmd.Flags().StringVar(&c.Country, "country", "", "Country (russia or kazakhstan)")
	cmd.Flags().IntVar(&c.Age, "age", 0, "Applicant age")
	cmd.Flags().IntVar(&c.Amount, "amount", 0, "Requested amount")
	cmd.Flags().IntVar(&c.Term, "term", 0, "Loan term in days")
	cmd.Flags().StringVar(&c.PaymentMethod, "payment", "", "Payment method")
	cmd.Flags().BoolVar(&c.ZeroPercentOnly, "zero-percent", false, "Only zero percent offers")
	cmd.Flags().StringVar(&preset, "preset", "", fmt.Sprintf("Popular preset %v", funnel.PresetNames()))
	return cmd
}
