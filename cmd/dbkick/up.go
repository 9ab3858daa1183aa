package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/dbkick"
)

// loadOptions decodes the configuration and builds the run logger. The caller
// closes the logger.
func loadOptions(cmd *cobra.Command, v *viper.Viper) (*ConfigDoc, dbkick.Options, *dbkick.Logger, error) {
	var doc ConfigDoc
	if err := doc.Load(v); err != nil {
		return nil, dbkick.Options{}, nil, err
	}
	logger, err := doc.NewLogger(cmd.OutOrStdout())
	if err != nil {
		return nil, dbkick.Options{}, nil, err
	}
	opts, err := doc.Options(logger)
	if err != nil {
		_ = logger.Close()
		return nil, dbkick.Options{}, nil, err
	}
	opts.Input = cmd.InOrStdin()
	return &doc, opts, logger, nil
}

func newUpCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Create or update the database and run every script folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, opts, logger, err := loadOptions(cmd, v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Close() }()

			res, err := dbkick.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func printSummary(w io.Writer, res *dbkick.Result) {
	if res.Dropped {
		_, _ = fmt.Fprintf(w, "dropped %s (change drop: %s)\n", res.Database, res.ChangeDrop)
		return
	}
	_, _ = fmt.Fprintf(w, "%s: %s -> %s, %d scripts run, %d skipped in %s (change drop: %s)\n",
		res.Database, res.OldVersion, res.NewVersion, len(res.Executed), res.Skipped, res.Duration.Round(time.Millisecond), res.ChangeDrop)
}
