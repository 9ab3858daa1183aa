package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/dbkick"
)

type statusReport struct {
	Database   string                   `json:"database"`
	Version    string                   `json:"version"`
	ScriptRuns []dbkick.ScriptRunRecord `json:"script_runs"`
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current version and the most recent script runs",
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

			current, err := h.CurrentVersion(cmd.Context(), doc.Run.RepositoryPath)
			if err != nil {
				return err
			}
			runs, err := h.ListScriptRuns(cmd.Context(), v.GetInt("status.limit"))
			if err != nil {
				return err
			}
			report := statusReport{Database: h.Database(), Version: current, ScriptRuns: runs}
			if v.GetBool("status.json") {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printStatus(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().Int("limit", v.GetInt("status.limit"), "number of script runs to show")
	cmd.Flags().Bool("json", false, "print the report as JSON")
	_ = v.BindPFlag("status.limit", cmd.Flags().Lookup("limit"))
	_ = v.BindPFlag("status.json", cmd.Flags().Lookup("json"))
	return cmd
}

func printStatus(w io.Writer, r statusReport) error {
	version := r.Version
	if version == "" {
		version = "(none)"
	}
	_, _ = fmt.Fprintf(w, "database: %s\nversion:  %s\n", r.Database, version)
	if len(r.ScriptRuns) == 0 {
		_, _ = fmt.Fprintln(w, "no scripts have run")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tVERSION ID\tSCRIPT\tONE TIME\tEXECUTED AT\tBY")
	for _, s := range r.ScriptRuns {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%t\t%s\t%s\n", s.ID, s.VersionID, s.ScriptName, s.RunOnce, s.ExecutedAt, s.ExecutedBy)
	}
	return tw.Flush()
}
