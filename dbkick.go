package dbkick

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"

	"github.com/loykin/dbkick/internal/common"
	"github.com/loykin/dbkick/internal/database"
	"github.com/loykin/dbkick/internal/env"
	"github.com/loykin/dbkick/internal/filesystem"
	"github.com/loykin/dbkick/internal/folder"
	"github.com/loykin/dbkick/internal/migration"
	"github.com/loykin/dbkick/internal/retry"
	"github.com/loykin/dbkick/internal/store/connector"
	"github.com/loykin/dbkick/internal/version"
	"github.com/loykin/dbkick/internal/wait"
)

// Re-export commonly used types for public API

// Logger is the structured logger handed to every component.
type Logger = common.Logger

// LoggerOptions configures NewLogger.
type LoggerOptions = common.Options

// LogLevel is the logging verbosity.
type LogLevel = common.LogLevel

const (
	LogLevelError = common.LogLevelError
	LogLevelWarn  = common.LogLevelWarn
	LogLevelInfo  = common.LogLevelInfo
	LogLevelDebug = common.LogLevelDebug
)

// NewLogger builds a logger, optionally teeing into a log file that becomes
// the run's log artifact.
func NewLogger(opts LoggerOptions) (*Logger, error) { return common.NewLoggerWithOptions(opts) }

// Provider keys accepted in Options.Provider.
const (
	ProviderSQLServer  = "sqlserver"
	ProviderPostgreSQL = "postgresql"
	ProviderMySQL      = "mysql"
	ProviderSQLite     = "sqlite"
)

// Env holds variables referenced from connection strings as {{.env.NAME}}.
type Env = env.Env

// NewEnv returns an empty Env.
func NewEnv() *Env { return env.New() }

// TrackingNames names the tracking schema and its tables.
type TrackingNames = connector.TrackingNames

// RetryConfig governs connection retries.
type RetryConfig = retry.Config

// VersionConfig selects a version resolver by type (static, env, file).
type VersionConfig = version.Config

// VersionResolver yields the version recorded for a run.
type VersionResolver = version.Resolver

// RegisterVersionResolver adds a custom resolver type for VersionConfig.Type.
func RegisterVersionResolver(typ string, f version.Factory) { version.Register(typ, f) }

// ChangedPolicy decides what happens to a changed run-once script.
type ChangedPolicy = migration.ChangedPolicy

const (
	OnChangedWarn  = migration.OnChangedWarn
	OnChangedError = migration.OnChangedError
	OnChangedSkip  = migration.OnChangedSkip
)

// Result, VersionRecord and ScriptRunRecord are the outputs of runs and history reads.
type (
	Result          = migration.Result
	ExecutedScript  = migration.ExecutedScript
	VersionRecord   = migration.VersionRecord
	ScriptRunRecord = migration.ScriptRunRecord
	RunError        = migration.RunError
)

// Folders overrides the script folder names under Options.ScriptsRoot.
type Folders struct {
	Up               string
	RunFirstAfterUp  string
	Functions        string
	Views            string
	StoredProcedures string
	Permissions      string
}

// WaitOptions are the readiness checks done before connecting.
type WaitOptions struct {
	HTTP wait.HTTPConfig
	// DatabaseTimeout polls the admin connection until it answers. Zero skips it.
	DatabaseTimeout time.Duration
	Interval        time.Duration
}

// HTTPWait is the HTTP readiness probe configuration.
type HTTPWait = wait.HTTPConfig

// Options configures Run and OpenHistory.
type Options struct {
	Provider              string
	Server                string
	Database              string
	ConnectionString      string
	AdminConnectionString string
	CommandTimeout        time.Duration
	AdminCommandTimeout   time.Duration
	Retry                 *RetryConfig

	ScriptsRoot     string
	Folders         Folders
	ScriptExtension string
	ChangeDrop      string
	Tracking        TrackingNames

	UseTransaction   bool
	Drop             bool
	DontCreate       bool
	SimpleRecovery   bool
	Interactive      bool
	RestoreFrom      string
	RestoreOptions   string
	Backup           bool
	RepositoryPath   string
	ExecutedBy       string
	OnChangedRunOnce ChangedPolicy

	// Version selects the resolver; Resolver, when set, wins.
	Version  VersionConfig
	Resolver VersionResolver

	Wait WaitOptions
	// Input is read for the interactive pause. Defaults to os.Stdin.
	Input io.Reader
	// Env renders templates in connection strings, the restore path and the wait URL.
	Env *Env
	// Fs holds the scripts and the change drop. Defaults to the OS filesystem.
	Fs     afero.Fs
	Logger *Logger
}

func (o Options) render() (Options, error) {
	e := o.Env
	if e == nil {
		e = env.New()
	}
	for _, f := range []*string{&o.ConnectionString, &o.AdminConnectionString, &o.RestoreFrom, &o.Wait.HTTP.URL} {
		out, err := e.Render(*f)
		if err != nil {
			return o, err
		}
		*f = out
	}
	return o, nil
}

func (o Options) gateway() (*database.Gateway, error) {
	return database.New(database.Config{
		Provider:              o.Provider,
		Server:                o.Server,
		Database:              o.Database,
		ConnectionString:      o.ConnectionString,
		AdminConnectionString: o.AdminConnectionString,
		CommandTimeout:        o.CommandTimeout,
		AdminCommandTimeout:   o.AdminCommandTimeout,
		Retry:                 o.Retry,
	}, o.Logger)
}

func (o Options) catalog() *folder.Catalog {
	return folder.New(folder.Config{
		Root:             o.ScriptsRoot,
		Up:               o.Folders.Up,
		RunFirstAfterUp:  o.Folders.RunFirstAfterUp,
		Functions:        o.Folders.Functions,
		Views:            o.Folders.Views,
		StoredProcedures: o.Folders.StoredProcedures,
		Permissions:      o.Folders.Permissions,
		ChangeDrop:       o.ChangeDrop,
	})
}

// Run performs one migration run: it waits for readiness, creates or restores
// the database, runs every script folder in order and records the new version.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts, err := opts.render()
	if err != nil {
		return nil, err
	}
	logger := common.OrNop(opts.Logger)

	if err := wait.HTTP(ctx, opts.Wait.HTTP, logger); err != nil {
		return nil, err
	}
	g, err := opts.gateway()
	if err != nil {
		return nil, err
	}
	if opts.Wait.DatabaseTimeout > 0 {
		if err := wait.Database(ctx, g, opts.Wait.DatabaseTimeout, opts.Wait.Interval, logger); err != nil {
			_ = g.Abort()
			return nil, err
		}
	}

	resolver := opts.Resolver
	if resolver == nil {
		if resolver, err = version.New(opts.Version); err != nil {
			_ = g.Abort()
			return nil, &migration.ResolutionError{Err: err}
		}
	}
	if opts.Fs != nil {
		if f, ok := resolver.(*version.File); ok && f.Fs == nil {
			f.Fs = opts.Fs
		}
	}

	catalog := opts.catalog()
	m := migration.NewDatabaseMigrator(g, migration.MigratorConfig{
		Tracking:       opts.Tracking,
		RestoreFrom:    opts.RestoreFrom,
		RestoreOptions: opts.RestoreOptions,
		Backup:         opts.Backup,
		BackupDir:      catalog.Backups(),
		ExecutedBy:     opts.ExecutedBy,
		OnChanged:      opts.OnChangedRunOnce,
	}, logger)

	r := migration.NewRunner(m, catalog, filesystem.New(opts.Fs), resolver, migration.RunnerOptions{
		RepositoryPath:  opts.RepositoryPath,
		UseTransaction:  opts.UseTransaction,
		Drop:            opts.Drop,
		DontCreate:      opts.DontCreate,
		SimpleRecovery:  opts.SimpleRecovery,
		Interactive:     opts.Interactive,
		ScriptExtension: opts.ScriptExtension,
		Input:           opts.Input,
	}, logger)
	return r.Run(ctx)
}

// History reads the tracking tables of an existing database.
type History struct {
	m *migration.DatabaseMigrator
	g *database.Gateway
}

// OpenHistory connects to the target database without creating or changing
// anything.
func OpenHistory(ctx context.Context, opts Options) (*History, error) {
	opts, err := opts.render()
	if err != nil {
		return nil, err
	}
	g, err := opts.gateway()
	if err != nil {
		return nil, err
	}
	if err := g.Open(ctx, false); err != nil {
		return nil, err
	}
	if err := g.TransferToDatabase(ctx); err != nil {
		return nil, errors.Join(err, g.Abort())
	}
	m := migration.NewDatabaseMigrator(g, migration.MigratorConfig{Tracking: opts.Tracking}, opts.Logger)
	return &History{m: m, g: g}, nil
}

// CurrentVersion returns the latest version of repositoryPath, or "" when
// none was recorded.
func (h *History) CurrentVersion(ctx context.Context, repositoryPath string) (string, error) {
	v, _, err := h.m.CurrentVersion(ctx, repositoryPath)
	if err != nil {
		return "", fmt.Errorf("current version: %w", err)
	}
	return v, nil
}

// ListVersions returns up to limit version rows, newest first.
func (h *History) ListVersions(ctx context.Context, limit int) ([]VersionRecord, error) {
	return h.m.ListVersions(ctx, limit)
}

// ListScriptRuns returns up to limit script runs, newest first.
func (h *History) ListScriptRuns(ctx context.Context, limit int) ([]ScriptRunRecord, error) {
	return h.m.ListScriptRuns(ctx, limit)
}

// Database is the target database name resolved from the connection settings.
func (h *History) Database() string { return h.g.Descriptor().Database }

// Close releases the connections.
func (h *History) Close() error { return h.g.Close() }
