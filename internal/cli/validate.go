package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"microloan-funnel/internal/catalog"
	"microloan-funnel/internal/validation"
)

type invalidOffer struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type validateReport struct {
	Path    string         `json:"path"`
	Offers  int            `json:"offers"`
	Valid   int            `json:"valid"`
	Active  int            `json:"active"`
	Invalid []invalidOffer `json:"invalid,omitempty"`
}

func newValidateCmd(opts *options) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the offer catalog for invalid entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(opts.catalogPath)
			if err != nil {
				return fmt.Errorf("read catalog: %w", err)
			}
			offers, err := catalog.Decode(data)
			if err != nil {
				return fmt.Errorf("decode catalog: %w", err)
			}

			report := validateReport{Path: opts.catalogPath, Offers: len(offers)}
			for _, offer := range offers {
				if err := validation.ValidateOffer(offer); err != nil {
					report.Invalid = append(report.Invalid, invalidOffer{ID: offer.ID, Error: err.Error()})
					continue
				}
				report.Valid++
				if offer.Status.IsActive {
					report.Active++
				}
			}

			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if strict && len(report.Invalid) > 0 {
				return fmt.Errorf("%d invalid offers", len(report.Invalid))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when any offer is invalid")
	return cmd
}
