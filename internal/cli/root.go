// Package cli implements the funnelctl operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"microloan-funnel/internal/logging"
)

type options struct {
	catalogPath string
	dbPath      string
	logLevel    string
}

// NewRootCmd builds the funnelctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "funnelctl",
		Short:         "Operate the microloan funnel",
		Long:          "Validate the offer catalog, preview rankings and read funnel analytics.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.catalogPath, "catalog", envOr("CATALOG_PATH", "./offers.json"), "Offer catalog path")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("DATABASE_PATH", "./funnel.db"), "Database path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level")

	root.AddCommand(
		newValidateCmd(opts),
		newRankCmd(opts),
		newStatsCmd(opts),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (o *options) logger() *zap.Logger {
	logger, err := logging.New(logging.Config{Level: o.logLevel, Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
