package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/dbkick"
	"github.com/loykin/dbkick/internal/common"
	"github.com/loykin/dbkick/internal/httpc"
	"github.com/loykin/dbkick/internal/migration"
	"github.com/loykin/dbkick/internal/util"
)

type DatabaseConfig struct {
	Provider              string `mapstructure:"provider" yaml:"provider"`
	Server                string `mapstructure:"server" yaml:"server"`
	Name                  string `mapstructure:"name" yaml:"name"`
	ConnectionString      string `mapstructure:"connection_string" yaml:"connection_string"`
	AdminConnectionString string `mapstructure:"admin_connection_string" yaml:"admin_connection_string"`
	CommandTimeout        string `mapstructure:"command_timeout" yaml:"command_timeout"`
	AdminCommandTimeout   string `mapstructure:"admin_command_timeout" yaml:"admin_command_timeout"`
}

type ScriptsConfig struct {
	Root             string `mapstructure:"root" yaml:"root"`
	Extension        string `mapstructure:"extension" yaml:"extension"`
	Up               string `mapstructure:"up" yaml:"up"`
	RunFirstAfterUp  string `mapstructure:"run_first_after_up" yaml:"run_first_after_up"`
	Functions        string `mapstructure:"functions" yaml:"functions"`
	Views            string `mapstructure:"views" yaml:"views"`
	StoredProcedures string `mapstructure:"stored_procedures" yaml:"stored_procedures"`
	Permissions      string `mapstructure:"permissions" yaml:"permissions"`
}

type OutputConfig struct {
	ChangeDrop string `mapstructure:"change_drop" yaml:"change_drop"`
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
}

type TrackingConfig struct {
	Schema          string `mapstructure:"schema" yaml:"schema"`
	VersionTable    string `mapstructure:"version_table" yaml:"version_table"`
	ScriptsRunTable string `mapstructure:"scripts_run_table" yaml:"scripts_run_table"`
}

type RunConfig struct {
	Transaction      bool   `mapstructure:"transaction" yaml:"transaction"`
	Drop             bool   `mapstructure:"drop" yaml:"drop"`
	DontCreate       bool   `mapstructure:"dont_create" yaml:"dont_create"`
	SimpleRecovery   bool   `mapstructure:"simple_recovery" yaml:"simple_recovery"`
	Interactive      bool   `mapstructure:"interactive" yaml:"interactive"`
	RestoreFrom      string `mapstructure:"restore_from" yaml:"restore_from"`
	RestoreOptions   string `mapstructure:"restore_options" yaml:"restore_options"`
	Backup           bool   `mapstructure:"backup" yaml:"backup"`
	RepositoryPath   string `mapstructure:"repository_path" yaml:"repository_path"`
	ExecutedBy       string `mapstructure:"executed_by" yaml:"executed_by"`
	OnChangedRunOnce string `mapstructure:"on_changed_run_once" yaml:"on_changed_run_once"`
}

type VersionConfig struct {
	Type  string `mapstructure:"type" yaml:"type"`
	Value string `mapstructure:"value" yaml:"value"`
	File  string `mapstructure:"file" yaml:"file"`
	Path  string `mapstructure:"path" yaml:"path"`
	Env   string `mapstructure:"env" yaml:"env"`
}

type ClientConfig struct {
	Insecure      bool   `mapstructure:"insecure"`
	MinTLSVersion string `mapstructure:"min_tls_version"`
	MaxTLSVersion string `mapstructure:"max_tls_version"`
}

type WaitConfig struct {
	URL             string `mapstructure:"url"`
	Method          string `mapstructure:"method"`
	Status          int    `mapstructure:"status"`
	Timeout         string `mapstructure:"timeout"`
	Interval        string `mapstructure:"interval"`
	DatabaseTimeout string `mapstructure:"database_timeout"`
}

type EnvConfig struct {
	Name         string `mapstructure:"name" yaml:"name"`
	Value        string `mapstructure:"value" yaml:"value"`
	ValueFromEnv string `mapstructure:"valueFromEnv" yaml:"valueFromEnv"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json, color
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable sensitive data masking
	Color         *bool  `mapstructure:"color" yaml:"color"`                   // enable/disable colorized output
}

type ServeConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

type ConfigDoc struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Scripts  ScriptsConfig  `mapstructure:"scripts" yaml:"scripts"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Tracking TrackingConfig `mapstructure:"tracking" yaml:"tracking"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	Version  VersionConfig  `mapstructure:"version" yaml:"version"`
	Wait     WaitConfig     `mapstructure:"wait" yaml:"wait"`
	Client   ClientConfig   `mapstructure:"client" yaml:"client"`
	Env      []EnvConfig    `mapstructure:"env" yaml:"env"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Serve    ServeConfig    `mapstructure:"serve" yaml:"serve"`
}

// Load reads the config file named by the "config" key, if any, and decodes
// every key with flag > env > file > default precedence.
func (c *ConfigDoc) Load(v *viper.Viper) error {
	if path, ok := util.TrimEmptyCheck(v.GetString("config")); ok {
		clean := filepath.Clean(path)
		// Ensure path points to a regular file to avoid opening directories/special files
		info, err := os.Stat(clean)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("not a regular file: %s", clean)
		}
		v.SetConfigFile(clean)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", clean, err)
		}
	}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (c *ConfigDoc) GetEnv(logger *dbkick.Logger) *dbkick.Env {
	base := dbkick.NewEnv()
	for _, kv := range c.Env {
		if kv.Name == "" {
			continue
		}
		val := kv.Value
		if envVar, hasEnvVar := util.TrimEmptyCheck(kv.ValueFromEnv); val == "" && hasEnvVar {
			val = os.Getenv(envVar)
			if val == "" && logger != nil {
				logger.Warn("env variable requested but empty or not set", "name", kv.Name, "env_var", kv.ValueFromEnv)
			}
		}
		base.Set(kv.Name, val)
	}
	return base
}

// NewLogger builds the run logger writing to out and, when output.log_file is
// set, to that file.
func (c *ConfigDoc) NewLogger(out io.Writer) (*dbkick.Logger, error) {
	level, err := parseLogLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := parseLogFormat(c.Logging.Format, c.Logging.Color)
	if err != nil {
		return nil, err
	}
	maskingEnabled := true
	if c.Logging.MaskSensitive != nil {
		maskingEnabled = *c.Logging.MaskSensitive
	}
	return dbkick.NewLogger(dbkick.LoggerOptions{
		Level:          level,
		Format:         format,
		Output:         out,
		FilePath:       c.Output.LogFile,
		DisableMasking: !maskingEnabled,
	})
}

func parseDuration(key, s string) (time.Duration, error) {
	s, ok := util.TrimEmptyCheck(s)
	if !ok {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, s, err)
	}
	return d, nil
}

func (c *ConfigDoc) versionConfig() dbkick.VersionConfig {
	opts := map[string]any{}
	for k, val := range map[string]string{"value": c.Version.Value, "file": c.Version.File, "path": c.Version.Path, "env": c.Version.Env} {
		if s, ok := util.TrimEmptyCheck(val); ok {
			opts[k] = s
		}
	}
	return dbkick.VersionConfig{Type: c.Version.Type, Options: opts}
}

// Options maps the document onto dbkick.Options.
func (c *ConfigDoc) Options(logger *dbkick.Logger) (dbkick.Options, error) {
	var o dbkick.Options
	cmdTimeout, err := parseDuration("database.command_timeout", c.Database.CommandTimeout)
	if err != nil {
		return o, err
	}
	adminTimeout, err := parseDuration("database.admin_command_timeout", c.Database.AdminCommandTimeout)
	if err != nil {
		return o, err
	}
	waitTimeout, err := parseDuration("wait.timeout", c.Wait.Timeout)
	if err != nil {
		return o, err
	}
	waitInterval, err := parseDuration("wait.interval", c.Wait.Interval)
	if err != nil {
		return o, err
	}
	dbTimeout, err := parseDuration("wait.database_timeout", c.Wait.DatabaseTimeout)
	if err != nil {
		return o, err
	}
	onChanged, err := parseChangedPolicy(c.Run.OnChangedRunOnce)
	if err != nil {
		return o, err
	}

	o = dbkick.Options{
		Provider:              c.Database.Provider,
		Server:                c.Database.Server,
		Database:              c.Database.Name,
		ConnectionString:      c.Database.ConnectionString,
		AdminConnectionString: c.Database.AdminConnectionString,
		CommandTimeout:        cmdTimeout,
		AdminCommandTimeout:   adminTimeout,

		ScriptsRoot:     c.Scripts.Root,
		ScriptExtension: c.Scripts.Extension,
		Folders: dbkick.Folders{
			Up:               c.Scripts.Up,
			RunFirstAfterUp:  c.Scripts.RunFirstAfterUp,
			Functions:        c.Scripts.Functions,
			Views:            c.Scripts.Views,
			StoredProcedures: c.Scripts.StoredProcedures,
			Permissions:      c.Scripts.Permissions,
		},
		ChangeDrop: c.Output.ChangeDrop,
		Tracking: dbkick.TrackingNames{
			Schema:          c.Tracking.Schema,
			VersionTable:    c.Tracking.VersionTable,
			ScriptsRunTable: c.Tracking.ScriptsRunTable,
		},

		UseTransaction:   c.Run.Transaction,
		Drop:             c.Run.Drop,
		DontCreate:       c.Run.DontCreate,
		SimpleRecovery:   c.Run.SimpleRecovery,
		Interactive:      c.Run.Interactive,
		RestoreFrom:      c.Run.RestoreFrom,
		RestoreOptions:   c.Run.RestoreOptions,
		Backup:           c.Run.Backup,
		RepositoryPath:   c.Run.RepositoryPath,
		ExecutedBy:       c.Run.ExecutedBy,
		OnChangedRunOnce: onChanged,

		Version: c.versionConfig(),
		Wait: dbkick.WaitOptions{
			HTTP: dbkick.HTTPWait{
				URL:      c.Wait.URL,
				Method:   c.Wait.Method,
				Status:   c.Wait.Status,
				Timeout:  waitTimeout,
				Interval: waitInterval,
				Client: httpc.Options{
					Insecure:      c.Client.Insecure,
					MinTLSVersion: c.Client.MinTLSVersion,
					MaxTLSVersion: c.Client.MaxTLSVersion,
				},
			},
			DatabaseTimeout: dbTimeout,
			Interval:        waitInterval,
		},
		Env:    c.GetEnv(logger),
		Logger: logger,
	}
	return o, nil
}

func parseLogLevel(s string) (dbkick.LogLevel, error) { return common.ParseLogLevel(s) }

// parseLogFormat honours an explicit color setting over the text format.
func parseLogFormat(s string, color *bool) (common.Format, error) {
	f, err := common.ParseFormat(s)
	if err != nil {
		return f, err
	}
	if color != nil && f != common.FormatJSON {
		if *color {
			return common.FormatColor, nil
		}
		if f == common.FormatColor {
			return common.FormatText, nil
		}
	}
	return f, nil
}

func parseChangedPolicy(s string) (dbkick.ChangedPolicy, error) { return migration.ParseChangedPolicy(s) }
