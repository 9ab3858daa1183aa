package connector

import (
	"errors"
	"fmt"
	"strings"
)

// Provider identifies a database engine. The zero value is SQL Server, whose
// T-SQL dialect is the default.
type Provider int

const (
	ProviderSQLServer Provider = iota
	ProviderPostgres
	ProviderMySQL
	ProviderSQLite
)

// ErrUnknownProvider is returned by ParseProvider for unrecognised keys.
var ErrUnknownProvider = errors.New("unknown database provider")

var providerNames = map[Provider]string{
	ProviderSQLServer: "sqlserver",
	ProviderPostgres:  "postgresql",
	ProviderMySQL:     "mysql",
	ProviderSQLite:    "sqlite",
}

func (p Provider) String() string {
	if n, ok := providerNames[p]; ok {
		return n
	}
	return fmt.Sprintf("provider(%d)", int(p))
}

// ParseProvider maps a configured provider key onto a Provider. An empty key
// selects SQL Server. Unknown keys return SQL Server together with
// ErrUnknownProvider so callers can warn and continue on the default dialect.
func ParseProvider(key string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "", "sqlserver", "mssql", "sql2005", "sql2008", "t-sql", "tsql":
		return ProviderSQLServer, nil
	case "postgres", "postgresql", "pgsql", "pgx":
		return ProviderPostgres, nil
	case "mysql", "mariadb":
		return ProviderMySQL, nil
	case "sqlite", "sqlite3":
		return ProviderSQLite, nil
	default:
		return ProviderSQLServer, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
}

// Descriptor is the resolved connection target of a run. It is built once by
// the gateway and never mutated afterwards.
type Descriptor struct {
	Server                string
	Database              string
	Provider              Provider
	ConnectionString      string
	AdminConnectionString string
}

// TrackingNames names the tracking schema and its two tables.
type TrackingNames struct {
	Schema          string
	VersionTable    string
	ScriptsRunTable string
}

// Dialect is the per-provider template set. Every template returns SQL text
// using the dialect's own placeholders. An empty string means the provider has
// no equivalent statement and the step is skipped.
type Dialect interface {
	Provider() Provider
	DriverName() string
	// SystemDatabase is the database the admin connection targets.
	SystemDatabase() string
	// AmbientAuthOption is appended to connection options when no credentials
	// option was supplied. Empty when the provider has none.
	AmbientAuthOption() string
	// DSN converts a semicolon separated connection string into the driver's format.
	DSN(connectionString string) (string, error)
	Placeholder(index int) string
	// SplitStatements breaks a script into batches executed one at a time.
	SplitStatements(script string) []string

	DatabaseExists(database string) string
	CreateDatabase(database string) string
	RestoreDatabase(database, fromPath, options string) string
	BackupDatabase(database, toPath string) string
	DeleteDatabase(database string) string
	UseDatabase(database string) string
	SetRecoveryMode(database string, simple bool) string

	CreateSchema(n TrackingNames) string
	CreateVersionTable(n TrackingNames) string
	CreateScriptRunTable(n TrackingNames) string
	// InsertVersion takes repository_path, version, entered_by.
	InsertVersion(n TrackingNames) string
	// GetVersion takes repository_path and yields the latest version.
	GetVersion(n TrackingNames) string
	// GetVersionID takes repository_path and yields the latest id.
	GetVersionID(n TrackingNames) string
	// InsertScriptRun takes version_id, script_name, script_text, hash, run_once, entered_by.
	InsertScriptRun(n TrackingNames) string
	// GetScriptHash takes script_name and yields the most recent hash.
	GetScriptHash(n TrackingNames) string
	// HasScriptRun takes script_name and hash and yields a row count.
	HasScriptRun(n TrackingNames) string
	// ListVersions takes a limit and yields entry_id, repository_path, version, entry_date, entered_by newest first.
	ListVersions(n TrackingNames) string
	// ListScriptRuns takes a limit and yields entry_id, version_id, script_name, hash, run_once, entry_date, entered_by newest first.
	ListScriptRuns(n TrackingNames) string

	// Savepoint returns the statements that open, roll back to and release a
	// savepoint inside a transaction. release may be empty.
	Savepoint(name string) (open, rollback, release string)
}

// DatabaseRemover is implemented by dialects whose databases are files and are
// dropped by removing them.
type DatabaseRemover interface {
	RemoveDatabase(database string) error
}
