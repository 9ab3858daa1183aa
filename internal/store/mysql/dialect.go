package mysql

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/store/connector"
	"github.com/loykin/dbkick/internal/util"
)

// ignoredKeys belong to other providers' connection strings and are not
// forwarded as session variables.
var ignoredKeys = []string{
	"integrated security", "trusted_connection", "encrypt", "trustservercertificate",
	"multipleactiveresultsets", "app name", "application name", "sslmode",
}

// Dialect implements the MySQL template set. MySQL has no schemas inside a
// database, so tracking tables are prefixed with the schema name instead.
type Dialect struct{}

// NewDialect creates a new MySQL dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Provider() connector.Provider { return connector.ProviderMySQL }

func (d *Dialect) DriverName() string { return "mysql" }

func (d *Dialect) SystemDatabase() string { return constants.DefaultMySQLSystem }

func (d *Dialect) AmbientAuthOption() string { return "" }

// DSN builds a go-sql-driver DSN through mysql.Config so escaping follows the driver.
func (d *Dialect) DSN(connectionString string) (string, error) {
	opts := connector.ParseOptions(connectionString)
	server, ok := connector.Lookup(opts, connector.ServerKeys...)
	if !ok || strings.TrimSpace(server) == "" {
		return "", fmt.Errorf("mysql: connection string has no server")
	}

	cfg := driver.NewConfig()
	cfg.Net = "tcp"
	cfg.ParseTime = true
	cfg.Addr = hostPort(server, opts)
	if db, ok := connector.Lookup(opts, connector.DatabaseKeys...); ok {
		cfg.DBName = db
	}
	if u, ok := connector.Lookup(opts, connector.UserKeys...); ok {
		cfg.User = u
	}
	if pw, ok := connector.Lookup(opts, connector.PasswordKeys...); ok {
		cfg.Passwd = pw
	}
	if t, ok := connector.Lookup(opts, connector.ConnectTimeouts...); ok {
		if secs, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			cfg.Timeout = time.Duration(secs) * time.Second
		} else if dur, err := time.ParseDuration(strings.TrimSpace(t)); err == nil {
			cfg.Timeout = dur
		}
	}

	known := slices.Concat(connector.ServerKeys, connector.DatabaseKeys, connector.UserKeys,
		connector.PasswordKeys, connector.PortKeys, connector.ConnectTimeouts, ignoredKeys)
	for _, o := range opts {
		if connector.KeyIs(o.Key, known...) {
			continue
		}
		switch key := util.TrimAndLower(o.Key); key {
		case "tls":
			cfg.TLSConfig = o.Value
		case "collation":
			cfg.Collation = o.Value
		default:
			if cfg.Params == nil {
				cfg.Params = map[string]string{}
			}
			cfg.Params[key] = o.Value
		}
	}
	return cfg.FormatDSN(), nil
}

func hostPort(server string, opts []connector.Option) string {
	server = strings.TrimSpace(server)
	host, port := server, ""
	if h, p, ok := strings.Cut(server, ","); ok {
		host, port = strings.TrimSpace(h), strings.TrimSpace(p)
	} else if h, p, err := net.SplitHostPort(server); err == nil {
		host, port = h, p
	}
	if p, ok := connector.Lookup(opts, connector.PortKeys...); ok && strings.TrimSpace(p) != "" {
		port = strings.TrimSpace(p)
	}
	if port == "" {
		port = strconv.Itoa(constants.DefaultMySQLPort)
	}
	return net.JoinHostPort(host, port)
}

// Placeholder returns MySQL-style placeholders (?)
func (d *Dialect) Placeholder(int) string { return "?" }

var splitOptions = connector.SplitOptions{
	BackslashEscapes: true,
	HashComments:     true,
	Blocks:           true,
	Delimiters:       true,
}

// SplitStatements splits each GO separated batch into statements. The server
// takes one statement per Exec, so BEGIN ... END bodies and DELIMITER
// sections are kept whole.
func (d *Dialect) SplitStatements(script string) []string {
	var out []string
	for _, batch := range connector.SplitOnGo(script) {
		out = append(out, connector.SplitOnSemicolons(batch, splitOptions)...)
	}
	return out
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteLiteral(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `''`)
	return "'" + r.Replace(s) + "'"
}

func table(n connector.TrackingNames, name string) string {
	if n.Schema == "" {
		return quoteIdent(name)
	}
	return quoteIdent(n.Schema + constants.TablePrefixSeparator + name)
}

func (d *Dialect) DatabaseExists(database string) string {
	return "SELECT COUNT(*) FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = " + quoteLiteral(database)
}

func (d *Dialect) CreateDatabase(database string) string {
	return "CREATE DATABASE IF NOT EXISTS " + quoteIdent(database)
}

func (d *Dialect) RestoreDatabase(string, string, string) string { return "" }

func (d *Dialect) BackupDatabase(string, string) string { return "" }

func (d *Dialect) DeleteDatabase(database string) string {
	return "DROP DATABASE IF EXISTS " + quoteIdent(database)
}

func (d *Dialect) UseDatabase(database string) string {
	return "USE " + quoteIdent(database)
}

func (d *Dialect) SetRecoveryMode(string, bool) string { return "" }

// CreateSchema is empty; see the Dialect doc.
func (d *Dialect) CreateSchema(connector.TrackingNames) string { return "" }

func (d *Dialect) CreateVersionTable(n connector.TrackingNames) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    entry_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    repository_path VARCHAR(255) NULL,
    version VARCHAR(50) NULL,
    entry_date DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    entered_by VARCHAR(50) NULL
)`, table(n, n.VersionTable))
}

func (d *Dialect) CreateScriptRunTable(n connector.TrackingNames) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    entry_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    version_id BIGINT NULL,
    script_name VARCHAR(255) NULL,
    script_text LONGTEXT NULL,
    hash VARCHAR(512) NULL,
    run_once BOOLEAN NOT NULL DEFAULT FALSE,
    entry_date DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    entered_by VARCHAR(50) NULL,
    FOREIGN KEY (version_id) REFERENCES %s (entry_id)
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
