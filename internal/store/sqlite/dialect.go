package sqlite

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/store/connector"
)

// SQLite connection parameters understood by modernc.org/sqlite
const (
	busyTimeoutParam = "_pragma=busy_timeout(5000)"
	foreignKeysParam = "_pragma=foreign_keys(1)"
)

// Dialect implements the SQLite template set. A database is a file: creating
// it is implicit on first open and dropping it removes the file. The admin
// connection is an in-memory database.
type Dialect struct{}

// NewDialect creates a new SQLite dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Provider() connector.Provider { return connector.ProviderSQLite }

func (d *Dialect) DriverName() string { return "sqlite" }

func (d *Dialect) SystemDatabase() string { return constants.DefaultSQLiteSystem }

func (d *Dialect) AmbientAuthOption() string { return "" }

// DSN maps the database (or data source) option onto a file: DSN.
func (d *Dialect) DSN(connectionString string) (string, error) {
	path, ok := connector.Lookup(connector.ParseOptions(connectionString), connector.FileDatabaseKeys...)
	path = strings.TrimSpace(path)
	if !ok || path == "" {
		return "", fmt.Errorf("sqlite: connection string has no database path")
	}
	if path == constants.DefaultSQLiteSystem {
		return path, nil
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	return fmt.Sprintf("file:%s?%s&%s", path, busyTimeoutParam, foreignKeysParam), nil
}

// RemoveDatabase deletes the database file and its journal files. A missing
// file is not an error.
func (d *Dialect) RemoveDatabase(database string) error {
	database = strings.TrimSpace(database)
	if database == "" || database == constants.DefaultSQLiteSystem {
		return nil
	}
	for _, p := range []string{database, database + "-wal", database + "-shm", database + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Placeholder returns SQLite-style placeholders (?)
func (d *Dialect) Placeholder(int) string { return "?" }

// SplitStatements returns one batch per GO separated section. modernc.org/sqlite
// runs every statement of a batch in one Exec, so trigger bodies stay whole.
func (d *Dialect) SplitStatements(script string) []string {
	return connector.Batches(script, connector.SplitOptions{})
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func table(n connector.TrackingNames, name string) string {
	if n.Schema == "" {
		return quoteIdent(name)
	}
	return quoteIdent(n.Schema + constants.TablePrefixSeparator + name)
}

func (d *Dialect) DatabaseExists(string) string { return "" }

func (d *Dialect) CreateDatabase(string) string { return "" }

func (d *Dialect) RestoreDatabase(string, string, string) string { return "" }

func (d *Dialect) BackupDatabase(string, string) string { return "" }

func (d *Dialect) DeleteDatabase(string) string { return "" }

func (d *Dialect) UseDatabase(string) string { return "" }

func (d *Dialect) SetRecoveryMode(string, bool) string { return "" }

func (d *Dialect) CreateSchema(connector.TrackingNames) string { return "" }

func (d *Dialect) CreateVersionTable(n connector.TrackingNames) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    entry_id INTEGER PRIMARY KEY AUTOINCREMENT,
    repository_path TEXT NULL,
    version TEXT NULL,
    entry_date TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now')),
    entered_by TEXT NULL
)`, table(n, n.VersionTable))
}

func (d *Dialect) CreateScriptRunTable(n connector.TrackingNames) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    entry_id INTEGER PRIMARY KEY AUTOINCREMENT,
    version_id INTEGER NULL REFERENCES %s (entry_id),
    script_name TEXT NULL,
    script_text TEXT NULL,
    hash TEXT NULL,
    run_once INTEGER NOT NULL DEFAULT 0,
    entry_date TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now')),
    entered_by TEXT NULL
)`, table(n, n.ScriptsRunTable), table(n, n.VersionTable))
}

func (d *Dialect) InsertVersion(n connector.TrackingNames) string {
	return fmt.Sprintf("INSERT INTO %s (repository_path, version, entered_by) VALUES (?, ?, ?)", table(n, n.VersionTable))
}

func (d *Dialect) GetVersion(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT version FROM %s WHERE repository_path = ? ORDER BY entry_id DESC LIMIT 1", table(n, n.VersionTable))
}

func (d *Dialect) GetVersionID(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT MAX(entry_id) FROM %s WHERE repository_path = ?", table(n, n.VersionTable))
}

func (d *Dialect) InsertScriptRun(n connector.TrackingNames) string {
	return fmt.Sprintf("INSERT INTO %s (version_id, script_name, script_text, hash, run_once, entered_by) VALUES (?, ?, ?, ?, ?, ?)",
		table(n, n.ScriptsRunTable))
}

func (d *Dialect) GetScriptHash(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT hash FROM %s WHERE script_name = ? ORDER BY entry_id DESC LIMIT 1", table(n, n.ScriptsRunTable))
}

func (d *Dialect) HasScriptRun(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE script_name = ? AND hash = ?", table(n, n.ScriptsRunTable))
}

func (d *Dialect) ListVersions(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT entry_id, repository_path, version, entry_date, entered_by FROM %s ORDER BY entry_id DESC LIMIT ?",
		table(n, n.VersionTable))
}

func (d *Dialect) ListScriptRuns(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT entry_id, version_id, script_name, hash, run_once, entry_date, entered_by FROM %s ORDER BY entry_id DESC LIMIT ?",
		table(n, n.ScriptsRunTable))
}

func (d *Dialect) Savepoint(name string) (string, string, string) {
	q := quoteIdent(name)
	return "SAVEPOINT " + q, "ROLLBACK TO SAVEPOINT " + q, "RELEASE SAVEPOINT " + q
}
