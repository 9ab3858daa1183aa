package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/dbkick/internal/common"
	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/retry"
	"github.com/loykin/dbkick/internal/store"
	"github.com/loykin/dbkick/internal/store/connector"
)

// Opener opens a database/sql pool. sql.Open is used when nil.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Config describes the connection target of a gateway.
type Config struct {
	// Provider is the provider key (sqlserver, postgresql, mysql, sqlite).
	// Unknown keys fall back to the SQL Server dialect with a warning.
	Provider              string
	Server                string
	Database              string
	ConnectionString      string
	AdminConnectionString string

	// CommandTimeout bounds each target statement. Zero disables it.
	CommandTimeout time.Duration
	// AdminCommandTimeout bounds each admin statement. Zero disables it.
	AdminCommandTimeout time.Duration
	// Retry governs the connection pings. Nil uses retry.DefaultRetryConfig.
	Retry *retry.Config

	Opener Opener
}

// Gateway owns the physical connections of one run: an autocommit admin
// connection to the system database and, after TransferToDatabase, a pinned
// connection to the target database with an optional transaction.
//
// A Gateway is not safe for concurrent use.
type Gateway struct {
	desc    connector.Descriptor
	dialect connector.Dialect
	logger  *common.Logger
	retry   *retry.Config
	opener  Opener

	commandTimeout      time.Duration
	adminCommandTimeout time.Duration

	useTx bool
	admin *sql.DB
	db    *sql.DB
	conn  *sql.Conn
	tx    *sql.Tx
}

// New resolves the descriptor and dialect for cfg. No connection is opened.
func New(cfg Config, logger *common.Logger) (*Gateway, error) {
	logger = common.OrNop(logger).WithComponent("gateway")

	d, err := store.Lookup(cfg.Provider)
	if err != nil {
		logger.Warn("unknown provider, using default dialect", "provider", cfg.Provider, "dialect", d.Provider().String())
	}

	desc := Initialize(cfg.ConnectionString, cfg.AdminConnectionString, cfg.Server, cfg.Database, d)
	if strings.TrimSpace(desc.Database) == "" {
		return nil, fmt.Errorf("no database name: set a database or include one in the connection string")
	}

	rc := cfg.Retry
	if rc == nil {
		rc = retry.DefaultRetryConfig()
	}
	if rc.Logger == nil {
		copied := *rc
		copied.Logger = logger
		rc = &copied
	}

	opener := cfg.Opener
	if opener == nil {
		opener = sql.Open
	}

	return &Gateway{
		desc:                desc,
		dialect:             d,
		logger:              logger.WithProvider(d.Provider().String()),
		retry:               rc,
		opener:              opener,
		commandTimeout:      cfg.CommandTimeout,
		adminCommandTimeout: cfg.AdminCommandTimeout,
	}, nil
}

// Descriptor returns the resolved connection target.
func (g *Gateway) Descriptor() connector.Descriptor { return g.desc }

// Dialect returns the selected template set. It is never nil.
func (g *Gateway) Dialect() connector.Dialect { return g.dialect }

// InTransaction reports whether target statements run inside a transaction.
func (g *Gateway) InTransaction() bool { return g.tx != nil }

// Open connects the admin connection and remembers whether the target
// connection should run in a transaction.
func (g *Gateway) Open(ctx context.Context, useTransaction bool) error {
	g.useTx = useTransaction
	if useTransaction && g.dialect.Provider() == connector.ProviderMySQL {
		g.logger.Warn("mysql commits DDL implicitly; the transaction only protects data changes")
	}
	if err := g.openAdmin(ctx); err != nil {
		return err
	}
	g.logger.Debug("admin connection open", "server", g.desc.Server, "transaction", useTransaction)
	return nil
}

// Ping checks the admin connection, opening it first when needed. A failed
// ping leaves the gateway unopened so the next call dials again.
func (g *Gateway) Ping(ctx context.Context) error {
	if g.admin == nil {
		return g.openAdmin(ctx)
	}
	return g.ping(ctx, g.admin, g.dialect.SystemDatabase())
}

func (g *Gateway) openAdmin(ctx context.Context) error {
	if g.admin != nil {
		return nil
	}
	db, err := g.openPool(ctx, g.desc.AdminConnectionString, g.dialect.SystemDatabase())
	if err != nil {
		return err
	}
	g.admin = db
	return nil
}

func (g *Gateway) openPool(ctx context.Context, connectionString, database string) (*sql.DB, error) {
	dsn, err := g.dialect.DSN(connectionString)
	if err != nil {
		return nil, &ConnectionError{Server: g.desc.Server, Database: database, Err: err}
	}
	db, err := g.opener(g.dialect.DriverName(), dsn)
	if err != nil {
		return nil, &ConnectionError{Server: g.desc.Server, Database: database, Err: err}
	}
	configurePool(db, g.dialect.Provider())

	if err := g.ping(ctx, db, database); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (g *Gateway) ping(ctx context.Context, db *sql.DB, database string) error {
	err := retry.WithRetry(ctx, g.retry, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, constants.DefaultConnectTimeout)
		defer cancel()
		return db.PingContext(pctx)
	})
	if err != nil {
		return &ConnectionError{Server: g.desc.Server, Database: database, Err: err}
	}
	return nil
}

func configurePool(db *sql.DB, p connector.Provider) {
	if p == connector.ProviderSQLite {
		db.SetMaxOpenConns(constants.DefaultSQLiteMaxConns)
		db.SetMaxIdleConns(constants.DefaultSQLiteMaxConns)
		return
	}
	db.SetMaxOpenConns(constants.DefaultMaxOpenConns)
	db.SetMaxIdleConns(constants.DefaultMaxIdleConns)
	db.SetConnMaxLifetime(constants.DefaultMaxConnLifetime)
	db.SetConnMaxIdleTime(constants.DefaultMaxIdleTime)
}

// AdminExecute runs sql on the admin connection, outside any transaction.
func (g *Gateway) AdminExecute(ctx context.Context, query string, args ...any) error {
	if g.admin == nil {
		return ErrNotConnected
	}
	ctx, cancel := withTimeout(ctx, g.adminCommandTimeout)
	defer cancel()
	for _, stmt := range g.batches(query) {
		g.logger.Debug("admin execute", "sql", abbreviate(stmt))
		if _, err := g.admin.ExecContext(ctx, stmt, args...); err != nil {
			return &ExecutionError{SQL: stmt, Err: err}
		}
	}
	return nil
}

// AdminScalar returns the first column of the first row, or nil when the
// query yields no rows.
func (g *Gateway) AdminScalar(ctx context.Context, query string, args ...any) (any, error) {
	if g.admin == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := withTimeout(ctx, g.adminCommandTimeout)
	defer cancel()
	return scalar(g.admin.QueryRowContext(ctx, query, args...), query)
}

// TransferToDatabase opens the target connection, pins one physical
// connection for the rest of the run and begins the transaction when Open
// asked for one.
func (g *Gateway) TransferToDatabase(ctx context.Context) error {
	if g.conn != nil {
		return nil
	}
	db, err := g.openPool(ctx, g.desc.ConnectionString, g.desc.Database)
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return &ConnectionError{Server: g.desc.Server, Database: g.desc.Database, Err: err}
	}
	g.db, g.conn = db, conn

	if use := g.dialect.UseDatabase(g.desc.Database); use != "" {
		if _, err := conn.ExecContext(ctx, use); err != nil {
			return &ExecutionError{SQL: use, Err: err}
		}
	}
	if g.useTx {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return &ConnectionError{Server: g.desc.Server, Database: g.desc.Database, Err: fmt.Errorf("begin transaction: %w", err)}
		}
		g.tx = tx
	}
	g.logger.Info("connected to target database", "database", g.desc.Database, "transaction", g.tx != nil)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (g *Gateway) target() (execer, error) {
	if g.tx != nil {
		return g.tx, nil
	}
	if g.conn != nil {
		return g.conn, nil
	}
	return nil, ErrNotConnected
}

// Execute runs one statement on the target connection and returns the rows
// affected, or -1 when the driver does not report it.
func (g *Gateway) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	t, err := g.target()
	if err != nil {
		return 0, err
	}
	ctx, cancel := withTimeout(ctx, g.commandTimeout)
	defer cancel()
	res, err := t.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &ExecutionError{SQL: query, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return n, nil
}

// ExecuteScript splits script into the dialect's batches and executes them in
// order. It returns the number of batches run.
func (g *Gateway) ExecuteScript(ctx context.Context, script string) (int, error) {
	n := 0
	for _, stmt := range g.batches(script) {
		if _, err := g.Execute(ctx, stmt); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ExecuteScalar returns the first column of the first row, or nil when the
// query yields no rows.
func (g *Gateway) ExecuteScalar(ctx context.Context, query string, args ...any) (any, error) {
	t, err := g.target()
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, g.commandTimeout)
	defer cancel()
	return scalar(t.QueryRowContext(ctx, query, args...), query)
}

// ExecuteQuery returns the rows of query. The caller closes them.
func (g *Gateway) ExecuteQuery(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	t, err := g.target()
	if err != nil {
		return nil, err
	}
	rows, err := t.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ExecutionError{SQL: query, Err: err}
	}
	return rows, nil
}

// WithSavepoint runs fn inside a savepoint when a transaction is open, so a
// failing statement does not poison the transaction. Outside a transaction fn
// simply runs.
func (g *Gateway) WithSavepoint(ctx context.Context, name string, fn func() error) error {
	if g.tx == nil {
		return fn()
	}
	open, rollback, release := g.dialect.Savepoint(name)
	if _, err := g.tx.ExecContext(ctx, open); err != nil {
		return &ExecutionError{SQL: open, Err: err}
	}
	if err := fn(); err != nil {
		if _, rbErr := g.tx.ExecContext(ctx, rollback); rbErr != nil {
			return errors.Join(err, &ExecutionError{SQL: rollback, Err: rbErr})
		}
		if release != "" {
			_, _ = g.tx.ExecContext(ctx, release)
		}
		return err
	}
	if release != "" {
		if _, err := g.tx.ExecContext(ctx, release); err != nil {
			return &ExecutionError{SQL: release, Err: err}
		}
	}
	return nil
}

// Close commits the open transaction, if any, and closes every connection.
func (g *Gateway) Close() error {
	var errs []error
	if g.tx != nil {
		if err := g.tx.Commit(); err != nil {
			errs = append(errs, fmt.Errorf("commit: %w", err))
		} else {
			g.logger.Info("transaction committed")
		}
		g.tx = nil
	}
	errs = append(errs, g.release())
	return errors.Join(errs...)
}

// Abort rolls the open transaction back, if any, and closes every connection.
// It is used on failure so nothing executed on the target is committed.
func (g *Gateway) Abort() error {
	var errs []error
	if g.tx != nil {
		if err := g.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("rollback: %w", err))
		} else {
			g.logger.Warn("transaction rolled back")
		}
		g.tx = nil
	}
	errs = append(errs, g.release())
	return errors.Join(errs...)
}

func (g *Gateway) release() error {
	var errs []error
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		g.conn = nil
	}
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			errs = append(errs, err)
		}
		g.db = nil
	}
	if g.admin != nil {
		if err := g.admin.Close(); err != nil {
			errs = append(errs, err)
		}
		g.admin = nil
	}
	return errors.Join(errs...)
}

func (g *Gateway) batches(script string) []string {
	return g.dialect.SplitStatements(script)
}

func scalar(row *sql.Row, query string) (any, error) {
	var v any
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &ExecutionError{SQL: query, Err: err}
	}
	return v, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
