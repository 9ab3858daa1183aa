package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/dbkick"
)

func newDropCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Drop the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, opts, logger, err := loadOptions(cmd, v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Close() }()

			opts.Drop = true
			res, err := dbkick.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
}
