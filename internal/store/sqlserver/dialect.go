package sqlserver

import (
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/store/connector"
)

// Dialect implements the T-SQL template set. It is the default dialect.
type Dialect struct{}

// NewDialect creates a new SQL Server dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Provider() connector.Provider { return connector.ProviderSQLServer }

// DriverName returns the database/sql driver registered by go-mssqldb
func (d *Dialect) DriverName() string { return "sqlserver" }

func (d *Dialect) SystemDatabase() string { return constants.DefaultSQLServerSystem }

func (d *Dialect) AmbientAuthOption() string { return constants.DefaultIntegratedSuffix }

// DSN passes the connection string through; go-mssqldb understands the
// semicolon separated form natively. Blank segments are dropped.
func (d *Dialect) DSN(connectionString string) (string, error) {
	opts := connector.ParseOptions(connectionString)
	if _, ok := connector.Lookup(opts, connector.ServerKeys...); !ok {
		return "", fmt.Errorf("sqlserver: connection string has no server")
	}
	return connector.FormatOptions(opts), nil
}

// Placeholder returns go-mssqldb ordinal parameters (@p1, @p2, ...)
func (d *Dialect) Placeholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

// SplitStatements splits on GO batch separators
func (d *Dialect) SplitStatements(script string) []string {
	return connector.SplitOnGo(script)
}

func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func quoteLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func table(n connector.TrackingNames, name string) string {
	return quoteIdent(n.Schema) + "." + quoteIdent(name)
}

func (d *Dialect) DatabaseExists(database string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM sys.databases WHERE [name] = %s", quoteLiteral(database))
}

func (d *Dialect) CreateDatabase(database string) string {
	return fmt.Sprintf("IF NOT EXISTS (SELECT * FROM sys.databases WHERE [name] = %s) CREATE DATABASE %s",
		quoteLiteral(database), quoteIdent(database))
}

func (d *Dialect) RestoreDatabase(database, fromPath, options string) string {
	with := "REPLACE, RECOVERY"
	if o := strings.TrimSpace(options); o != "" {
		with += ", " + strings.TrimPrefix(o, ",")
	}
	return fmt.Sprintf(`IF EXISTS (SELECT * FROM sys.databases WHERE [name] = %[1]s)
    ALTER DATABASE %[2]s SET SINGLE_USER WITH ROLLBACK IMMEDIATE;
RESTORE DATABASE %[2]s FROM DISK = %[3]s WITH %[4]s;
ALTER DATABASE %[2]s SET MULTI_USER;`,
		quoteLiteral(database), quoteIdent(database), quoteLiteral(fromPath), with)
}

func (d *Dialect) BackupDatabase(database, toPath string) string {
	return fmt.Sprintf("BACKUP DATABASE %s TO DISK = %s WITH INIT, NAME = %s",
		quoteIdent(database), quoteLiteral(toPath), quoteLiteral(database+" dbkick backup"))
}

func (d *Dialect) DeleteDatabase(database string) string {
	return fmt.Sprintf(`IF EXISTS (SELECT * FROM sys.databases WHERE [name] = %[1]s)
BEGIN
    ALTER DATABASE %[2]s SET SINGLE_USER WITH ROLLBACK IMMEDIATE;
    DROP DATABASE %[2]s;
END`, quoteLiteral(database), quoteIdent(database))
}

func (d *Dialect) UseDatabase(database string) string {
	return "USE " + quoteIdent(database)
}

func (d *Dialect) SetRecoveryMode(database string, simple bool) string {
	mode := "FULL"
	if simple {
		mode = "SIMPLE"
	}
	return fmt.Sprintf("ALTER DATABASE %s SET RECOVERY %s", quoteIdent(database), mode)
}

func (d *Dialect) CreateSchema(n connector.TrackingNames) string {
	return fmt.Sprintf("IF NOT EXISTS (SELECT * FROM sys.schemas WHERE [name] = %s) EXEC('CREATE SCHEMA %s')",
		quoteLiteral(n.Schema), strings.ReplaceAll(quoteIdent(n.Schema), "'", "''"))
}

func (d *Dialect) CreateVersionTable(n connector.TrackingNames) string {
	t := table(n, n.VersionTable)
	return fmt.Sprintf(`IF OBJECT_ID(%s, N'U') IS NULL
CREATE TABLE %s (
    entry_id BIGINT IDENTITY(1,1) NOT NULL PRIMARY KEY,
    repository_path NVARCHAR(255) NULL,
    version NVARCHAR(50) NULL,
    entry_date DATETIME2 NOT NULL DEFAULT (SYSUTCDATETIME()),
    entered_by NVARCHAR(50) NULL
)`, quoteLiteral(t), t)
}

func (d *Dialect) CreateScriptRunTable(n connector.TrackingNames) string {
	t := table(n, n.ScriptsRunTable)
	return fmt.Sprintf(`IF OBJECT_ID(%s, N'U') IS NULL
CREATE TABLE %s (
    entry_id BIGINT IDENTITY(1,1) NOT NULL PRIMARY KEY,
    version_id BIGINT NULL REFERENCES %s (entry_id),
    script_name NVARCHAR(255) NULL,
    script_text NVARCHAR(MAX) NULL,
    hash NVARCHAR(512) NULL,
    run_once BIT NOT NULL DEFAULT (0),
    entry_date DATETIME2 NOT NULL DEFAULT (SYSUTCDATETIME()),
    entered_by NVARCHAR(50) NULL
)`, quoteLiteral(t), t, table(n, n.VersionTable))
}

func (d *Dialect) InsertVersion(n connector.TrackingNames) string {
	return fmt.Sprintf("INSERT INTO %s (repository_path, version, entered_by) VALUES (@p1, @p2, @p3)", table(n, n.VersionTable))
}

func (d *Dialect) GetVersion(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT TOP 1 version FROM %s WHERE repository_path = @p1 ORDER BY entry_id DESC", table(n, n.VersionTable))
}

func (d *Dialect) GetVersionID(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT MAX(entry_id) FROM %s WHERE repository_path = @p1", table(n, n.VersionTable))
}

func (d *Dialect) InsertScriptRun(n connector.TrackingNames) string {
	return fmt.Sprintf("INSERT INTO %s (version_id, script_name, script_text, hash, run_once, entered_by) VALUES (@p1, @p2, @p3, @p4, @p5, @p6)",
		table(n, n.ScriptsRunTable))
}

func (d *Dialect) GetScriptHash(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT TOP 1 hash FROM %s WHERE script_name = @p1 ORDER BY entry_id DESC", table(n, n.ScriptsRunTable))
}

func (d *Dialect) HasScriptRun(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE script_name = @p1 AND hash = @p2", table(n, n.ScriptsRunTable))
}

func (d *Dialect) ListVersions(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT TOP (@p1) entry_id, repository_path, version, entry_date, entered_by FROM %s ORDER BY entry_id DESC",
		table(n, n.VersionTable))
}

func (d *Dialect) ListScriptRuns(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT TOP (@p1) entry_id, version_id, script_name, hash, run_once, entry_date, entered_by FROM %s ORDER BY entry_id DESC",
		table(n, n.ScriptsRunTable))
}

// Savepoint uses SAVE TRANSACTION; T-SQL has no release statement.
func (d *Dialect) Savepoint(name string) (string, string, string) {
	return "SAVE TRANSACTION " + quoteIdent(name), "ROLLBACK TRANSACTION " + quoteIdent(name), ""
}
