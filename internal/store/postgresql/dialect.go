package postgresql

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/store/connector"
	"github.com/loykin/dbkick/internal/util"
)

// passthroughKeys are libpq keywords copied verbatim into the DSN.
var passthroughKeys = []string{
	"sslmode", "sslrootcert", "sslcert", "sslkey", "application_name",
	"search_path", "target_session_attrs", "options", "connect_timeout",
}

// Dialect implements the PostgreSQL template set
type Dialect struct{}

// NewDialect creates a new PostgreSQL dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Provider() connector.Provider { return connector.ProviderPostgres }

// DriverName returns the pgx stdlib driver name
func (d *Dialect) DriverName() string { return "pgx" }

func (d *Dialect) SystemDatabase() string { return constants.DefaultPostgresSystem }

// AmbientAuthOption is empty; libpq falls back to PGPASSWORD / .pgpass on its own.
func (d *Dialect) AmbientAuthOption() string { return "" }

// DSN builds a keyword/value DSN accepted by pgx. Server may carry a port as
// "host,port" or "host:port".
func (d *Dialect) DSN(connectionString string) (string, error) {
	opts := connector.ParseOptions(connectionString)
	server, ok := connector.Lookup(opts, connector.ServerKeys...)
	if !ok || strings.TrimSpace(server) == "" {
		return "", fmt.Errorf("postgresql: connection string has no server")
	}
	host, port := splitHostPort(server)
	if p, ok := connector.Lookup(opts, connector.PortKeys...); ok && strings.TrimSpace(p) != "" {
		port = strings.TrimSpace(p)
	}
	if port == "" {
		port = strconv.Itoa(constants.DefaultPostgresPort)
	}

	pairs := [][2]string{{"host", host}, {"port", port}}
	if db, ok := connector.Lookup(opts, connector.DatabaseKeys...); ok {
		pairs = append(pairs, [2]string{"dbname", db})
	}
	if u, ok := connector.Lookup(opts, connector.UserKeys...); ok {
		pairs = append(pairs, [2]string{"user", u})
	}
	if pw, ok := connector.Lookup(opts, connector.PasswordKeys...); ok {
		pairs = append(pairs, [2]string{"password", pw})
	}
	ssl := constants.DefaultPostgresSSLMode
	for _, o := range opts {
		if connector.KeyIs(o.Key, passthroughKeys...) {
			key := util.TrimAndLower(o.Key)
			if key == "sslmode" {
				ssl = o.Value
				continue
			}
			pairs = append(pairs, [2]string{key, o.Value})
		}
	}
	pairs = append(pairs, [2]string{"sslmode", ssl})

	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		parts = append(parts, kv[0]+"="+quoteValue(kv[1]))
	}
	return strings.Join(parts, " "), nil
}

func splitHostPort(server string) (string, string) {
	server = strings.TrimSpace(server)
	if h, p, ok := strings.Cut(server, ","); ok {
		return strings.TrimSpace(h), strings.TrimSpace(p)
	}
	if h, p, err := net.SplitHostPort(server); err == nil {
		return h, p
	}
	return server, ""
}

// quoteValue quotes a keyword/value DSN value when needed
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Placeholder returns PostgreSQL-style placeholders ($1, $2, etc.)
func (d *Dialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// SplitStatements returns one batch per GO separated section. pgx sends an
// Exec without arguments over the simple protocol, which accepts several
// statements, so DO blocks and BEGIN ATOMIC bodies are never cut.
func (d *Dialect) SplitStatements(script string) []string {
	return connector.Batches(script, connector.SplitOptions{DollarQuotes: true})
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func table(n connector.TrackingNames, name string) string {
	return quoteIdent(n.Schema) + "." + quoteIdent(name)
}

func (d *Dialect) DatabaseExists(database string) string {
	return "SELECT COUNT(*) FROM pg_database WHERE datname = " + quoteLiteral(database)
}

// CreateDatabase has no IF NOT EXISTS form; callers check DatabaseExists first.
func (d *Dialect) CreateDatabase(database string) string {
	return "CREATE DATABASE " + quoteIdent(database)
}

// RestoreDatabase is unsupported: PostgreSQL restores run through pg_restore.
func (d *Dialect) RestoreDatabase(string, string, string) string { return "" }

func (d *Dialect) BackupDatabase(string, string) string { return "" }

func (d *Dialect) DeleteDatabase(database string) string {
	return "DROP DATABASE IF EXISTS " + quoteIdent(database)
}

// UseDatabase is empty: a PostgreSQL session cannot switch databases.
func (d *Dialect) UseDatabase(string) string { return "" }

func (d *Dialect) SetRecoveryMode(string, bool) string { return "" }

func (d *Dialect) CreateSchema(n connector.TrackingNames) string {
	return "CREATE SCHEMA IF NOT EXISTS " + quoteIdent(n.Schema)
}

func (d *Dialect) CreateVersionTable(n connector.TrackingNames) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    entry_id BIGSERIAL PRIMARY KEY,
    repository_path VARCHAR(255) NULL,
    version VARCHAR(50) NULL,
    entry_date TIMESTAMPTZ NOT NULL DEFAULT now(),
    entered_by VARCHAR(50) NULL
)`, table(n, n.VersionTable))
}

func (d *Dialect) CreateScriptRunTable(n connector.TrackingNames) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    entry_id BIGSERIAL PRIMARY KEY,
    version_id BIGINT NULL REFERENCES %s (entry_id),
    script_name VARCHAR(255) NULL,
    script_text TEXT NULL,
    hash VARCHAR(512) NULL,
    run_once BOOLEAN NOT NULL DEFAULT FALSE,
    entry_date TIMESTAMPTZ NOT NULL DEFAULT now(),
    entered_by VARCHAR(50) NULL
)`, table(n, n.ScriptsRunTable), table(n, n.VersionTable))
}

func (d *Dialect) InsertVersion(n connector.TrackingNames) string {
	return fmt.Sprintf("INSERT INTO %s (repository_path, version, entered_by) VALUES ($1, $2, $3)", table(n, n.VersionTable))
}

func (d *Dialect) GetVersion(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT version FROM %s WHERE repository_path = $1 ORDER BY entry_id DESC LIMIT 1", table(n, n.VersionTable))
}

func (d *Dialect) GetVersionID(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT MAX(entry_id) FROM %s WHERE repository_path = $1", table(n, n.VersionTable))
}

func (d *Dialect) InsertScriptRun(n connector.TrackingNames) string {
	return fmt.Sprintf("INSERT INTO %s (version_id, script_name, script_text, hash, run_once, entered_by) VALUES ($1, $2, $3, $4, $5, $6)",
		table(n, n.ScriptsRunTable))
}

func (d *Dialect) GetScriptHash(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT hash FROM %s WHERE script_name = $1 ORDER BY entry_id DESC LIMIT 1", table(n, n.ScriptsRunTable))
}

func (d *Dialect) HasScriptRun(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE script_name = $1 AND hash = $2", table(n, n.ScriptsRunTable))
}

func (d *Dialect) ListVersions(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT entry_id, repository_path, version, entry_date, entered_by FROM %s ORDER BY entry_id DESC LIMIT $1",
		table(n, n.VersionTable))
}

func (d *Dialect) ListScriptRuns(n connector.TrackingNames) string {
	return fmt.Sprintf("SELECT entry_id, version_id, script_name, hash, run_once, entry_date, entered_by FROM %s ORDER BY entry_id DESC LIMIT $1",
		table(n, n.ScriptsRunTable))
}

func (d *Dialect) Savepoint(name string) (string, string, string) {
	q := quoteIdent(name)
	return "SAVEPOINT " + q, "ROLLBACK TO SAVEPOINT " + q, "RELEASE SAVEPOINT " + q
}
