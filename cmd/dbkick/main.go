package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/dbkick/internal/constants"
)

// defaults are registered so every key is visible to AutomaticEnv and Unmarshal.
var defaults = map[string]any{
	"config":                           "",
	"database.provider":                "sqlserver",
	"database.server":                  "",
	"database.name":                    "",
	"database.connection_string":       "",
	"database.admin_connection_string": "",
	"database.command_timeout":         constants.DefaultCommandTimeout.String(),
	"database.admin_command_timeout":   constants.DefaultAdminCommandTimeout.String(),
	"scripts.root":                     ".",
	"scripts.extension":                constants.DefaultScriptExtension,
	"scripts.up":                       constants.DefaultUpFolder,
	"scripts.run_first_after_up":       constants.DefaultRunFirstAfterUpFolder,
	"scripts.functions":                constants.DefaultFunctionsFolder,
	"scripts.views":                    constants.DefaultViewsFolder,
	"scripts.stored_procedures":        constants.DefaultStoredProceduresFolder,
	"scripts.permissions":              constants.DefaultPermissionsFolder,
	"output.change_drop":               constants.DefaultChangeDropFolder,
	"output.log_file":                  "",
	"tracking.schema":                  constants.DefaultTrackingSchema,
	"tracking.version_table":           constants.DefaultVersionTable,
	"tracking.scripts_run_table":       constants.DefaultScriptsRunTable,
	"run.transaction":                  false,
	"run.drop":                         false,
	"run.dont_create":                  false,
	"run.simple_recovery":              false,
	"run.interactive":                  false,
	"run.restore_from":                 "",
	"run.restore_options":              "",
	"run.backup":                       false,
	"run.repository_path":              constants.DefaultRepositoryPath,
	"run.executed_by":                  "",
	"run.on_changed_run_once":          "warn",
	"version.type":                     "static",
	"version.value":                    "",
	"version.file":                     "",
	"version.path":                     "",
	"version.env":                      "",
	"wait.url":                         "",
	"wait.method":                      constants.DefaultWaitMethod,
	"wait.status":                      constants.DefaultWaitStatus,
	"wait.timeout":                     constants.DefaultWaitTimeout.String(),
	"wait.interval":                    constants.DefaultWaitInterval.String(),
	"wait.database_timeout":            "",
	"client.insecure":                  false,
	"client.min_tls_version":           "",
	"client.max_tls_version":           "",
	"logging.level":                    "info",
	"logging.format":                   "text",
	"serve.address":                    constants.DefaultServeAddr,
	"status.limit":                     10,
	"status.json":                      false,
}

// flag name -> config key
var persistentFlags = []struct {
	name, key, usage string
}{
	{"config", "config", "path to a config yaml"},
	{"provider", "database.provider", "database provider: sqlserver, postgresql, mysql, sqlite"},
	{"server", "database.server", "database server"},
	{"database", "database.name", "database name"},
	{"connection-string", "database.connection_string", "connection string (semicolon separated key=value pairs)"},
	{"admin-connection-string", "database.admin_connection_string", "connection string for create, restore and drop"},
	{"scripts", "scripts.root", "scripts root directory"},
	{"change-drop", "output.change_drop", "output directory for executed scripts, backups and the log"},
	{"log-file", "output.log_file", "log file copied into the change drop"},
	{"log-level", "logging.level", "log level: error, warn, info, debug"},
	{"repository-path", "run.repository_path", "repository path recorded with each version"},
}

var runFlags = []struct {
	name, key, usage string
	isBool           bool
}{
	{"transaction", "run.transaction", "run all scripts in one transaction", true},
	{"dont-create", "run.dont_create", "never create or restore the database", true},
	{"simple", "run.simple_recovery", "switch the database to simple recovery", true},
	{"interactive", "run.interactive", "wait for enter before kicking the database", true},
	{"backup", "run.backup", "back up the database before running", true},
	{"restore-from", "run.restore_from", "restore the database from this backup instead of creating it", false},
	{"version", "version.value", "version recorded for this run (static resolver)", false},
	{"on-changed", "run.on_changed_run_once", "changed run-once scripts: warn, error, skip", false},
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Environment variables support: DBKICK_DATABASE_NAME, ...
	v.SetEnvPrefix("DBKICK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	up := newUpCmd(v)
	root := &cobra.Command{
		Use:           "dbkick",
		Short:         "Kick a database to the version of its SQL scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          up.RunE,
	}
	for _, f := range persistentFlags {
		root.PersistentFlags().String(f.name, v.GetString(f.key), f.usage)
		_ = v.BindPFlag(f.key, root.PersistentFlags().Lookup(f.name))
	}
	// up is the default command; its flags also work without the subcommand
	for _, cmd := range []*cobra.Command{root, up} {
		for _, f := range runFlags {
			if f.isBool {
				cmd.Flags().Bool(f.name, v.GetBool(f.key), f.usage)
			} else {
				cmd.Flags().String(f.name, v.GetString(f.key), f.usage)
			}
		}
	}
	bindChanged(v, root, up)

	root.AddCommand(up, newDropCmd(v), newStatusCmd(v), newServeCmd(v))
	return root
}

// bindChanged binds the run flags of whichever command the user invoked.
// Binding both commands to one key statically would let the unused one shadow
// the other.
func bindChanged(v *viper.Viper, cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		prev := cmd.PreRunE
		cmd.PreRunE = func(c *cobra.Command, args []string) error {
			for _, f := range runFlags {
				_ = v.BindPFlag(f.key, c.Flags().Lookup(f.name))
			}
			if prev != nil {
				return prev(c, args)
			}
			return nil
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		stop()
		exitHandler.LogFatalError(err, "command execution failed")
	}
}
