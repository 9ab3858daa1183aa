package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/dbkick"
	"github.com/loykin/dbkick/internal/server"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the version and script run history read-only over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, opts, logger, err := loadOptions(cmd, v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Close() }()

			h, err := dbkick.OpenHistory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = h.Close() }()

			return server.New(h, logger).ListenAndServe(cmd.Context(), doc.Serve.Address)
		},
	}
	cmd.Flags().String("addr", v.GetString("serve.address"), "listen address")
	_ = v.BindPFlag("serve.address", cmd.Flags().Lookup("addr"))
	return cmd
}
