package migration

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/dbkick/internal/common"
	"github.com/loykin/dbkick/internal/store"
	"github.com/loykin/dbkick/internal/store/connector"
	"github.com/loykin/dbkick/internal/util"
)

// Database is the connection owner the migrator works through.
// *database.Gateway implements it.
type Database interface {
	Descriptor() connector.Descriptor
	Dialect() connector.Dialect
	InTransaction() bool

	Open(ctx context.Context, useTransaction bool) error
	TransferToDatabase(ctx context.Context) error
	AdminExecute(ctx context.Context, query string, args ...any) error
	AdminScalar(ctx context.Context, query string, args ...any) (any, error)
	Execute(ctx context.Context, query string, args ...any) (int64, error)
	ExecuteScript(ctx context.Context, script string) (int, error)
	ExecuteScalar(ctx context.Context, query string, args ...any) (any, error)
	ExecuteQuery(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	WithSavepoint(ctx context.Context, name string, fn func() error) error
	Close() error
	Abort() error
}

// ChangedPolicy decides what happens to a run-once script whose text no longer
// matches the hash recorded when it ran.
type ChangedPolicy string

const (
	// OnChangedWarn runs the script again and logs a warning.
	OnChangedWarn ChangedPolicy = "warn"
	// OnChangedError fails the run with ErrScriptChanged.
	OnChangedError ChangedPolicy = "error"
	// OnChangedSkip logs a warning and leaves the script unexecuted.
	OnChangedSkip ChangedPolicy = "skip"
)

// ParseChangedPolicy maps a config value onto a ChangedPolicy. Empty means warn.
func ParseChangedPolicy(s string) (ChangedPolicy, error) {
	switch p := ChangedPolicy(util.TrimAndLower(s)); p {
	case "":
		return OnChangedWarn, nil
	case OnChangedWarn, OnChangedError, OnChangedSkip:
		return p, nil
	default:
		return OnChangedWarn, fmt.Errorf("invalid on_changed_run_once policy: %s (valid: warn, error, skip)", s)
	}
}

// MigratorConfig configures a DatabaseMigrator.
type MigratorConfig struct {
	Tracking connector.TrackingNames
	// RestoreFrom selects restore instead of create when set.
	RestoreFrom    string
	RestoreOptions string
	// Backup enables BackupDatabaseIfItExists; BackupDir receives the file.
	Backup    bool
	BackupDir string
	// ExecutedBy is recorded with every row. Defaults to the OS user.
	ExecutedBy string
	OnChanged  ChangedPolicy
}

// Script is one script handed to RunScript.
type Script struct {
	Name         string
	Text         string
	RunOnce      bool
	RunEveryTime bool
	VersionID    int64
}

// DatabaseMigrator holds the mid-level migration operations: database
// lifecycle, tracking schema bootstrap, version recording and the per-script
// run decision.
type DatabaseMigrator struct {
	db     Database
	cfg    MigratorConfig
	names  connector.TrackingNames
	logger *common.Logger

	adminChanges bool
}

// NewDatabaseMigrator creates a migrator over db.
func NewDatabaseMigrator(db Database, cfg MigratorConfig, logger *common.Logger) *DatabaseMigrator {
	cfg.ExecutedBy = util.TrimWithDefault(cfg.ExecutedBy, CurrentUser())
	if cfg.OnChanged == "" {
		cfg.OnChanged = OnChangedWarn
	}
	return &DatabaseMigrator{
		db:     db,
		cfg:    cfg,
		names:  store.TrackingNames(cfg.Tracking),
		logger: common.OrNop(logger).WithComponent("migrator"),
	}
}

// CurrentUser names the OS user running the migration.
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return util.FirstNonEmpty(os.Getenv("USER"), os.Getenv("USERNAME"), "unknown")
}

// Database exposes the underlying connection owner.
func (m *DatabaseMigrator) Database() Database { return m.db }

// TrackingNames returns the resolved tracking schema and table names.
func (m *DatabaseMigrator) TrackingNames() connector.TrackingNames { return m.names }

// ExecutedBy is the user recorded with every row.
func (m *DatabaseMigrator) ExecutedBy() string { return m.cfg.ExecutedBy }

// AdminChangesMade reports whether a create, restore, drop or recovery mode
// statement has run.
func (m *DatabaseMigrator) AdminChangesMade() bool { return m.adminChanges }

func (m *DatabaseMigrator) databaseName() string { return m.db.Descriptor().Database }

// Connect opens the connection, in a transaction when useTransaction is set.
func (m *DatabaseMigrator) Connect(ctx context.Context, useTransaction bool) error {
	return m.db.Open(ctx, useTransaction)
}

// databaseExists returns whether the target database exists and whether the
// provider could tell.
func (m *DatabaseMigrator) databaseExists(ctx context.Context) (exists, known bool, err error) {
	q := m.db.Dialect().DatabaseExists(m.databaseName())
	if q == "" {
		return false, false, nil
	}
	v, err := m.db.AdminScalar(ctx, q)
	if err != nil {
		return false, false, err
	}
	n, _ := connector.Int64FromStorage(v)
	return n > 0, true, nil
}

// CreateOrRestoreDatabase restores the database when a restore source is
// configured, otherwise creates it when missing. Both run on the admin
// connection.
func (m *DatabaseMigrator) CreateOrRestoreDatabase(ctx context.Context) error {
	d := m.db.Dialect()
	name := m.databaseName()

	if from := strings.TrimSpace(m.cfg.RestoreFrom); from != "" {
		q := d.RestoreDatabase(name, from, m.cfg.RestoreOptions)
		if q == "" {
			return fmt.Errorf("restore %s on %s: %w", name, d.Provider(), ErrRestoreUnsupported)
		}
		m.logger.Info("restoring database", "database", name, "from", from)
		m.adminChanges = true
		return m.db.AdminExecute(ctx, q)
	}

	exists, known, err := m.databaseExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		m.logger.Debug("database already exists", "database", name)
		return nil
	}
	q := d.CreateDatabase(name)
	if q == "" {
		m.logger.Debug("database is created on first connection", "database", name)
		return nil
	}
	m.adminChanges = true
	if err := m.db.AdminExecute(ctx, q); err != nil {
		return err
	}
	if known {
		m.logger.Info("created database", "database", name)
	}
	return nil
}

// SetRecoveryMode switches the recovery model on the admin connection. A
// failure is returned, never tolerated.
func (m *DatabaseMigrator) SetRecoveryMode(ctx context.Context, simple bool) error {
	q := m.db.Dialect().SetRecoveryMode(m.databaseName(), simple)
	if q == "" {
		m.logger.Debug("provider has no recovery mode", "simple", simple)
		return nil
	}
	m.adminChanges = true
	return m.db.AdminExecute(ctx, q)
}

// BackupDatabaseIfItExists writes a backup into the backup directory when
// backups are enabled, the provider can take one and the database exists.
// It returns the backup path, or "" when nothing was written.
func (m *DatabaseMigrator) BackupDatabaseIfItExists(ctx context.Context) (string, error) {
	if !m.cfg.Backup {
		m.logger.Debug("backup disabled")
		return "", nil
	}
	name := m.databaseName()
	stamp := time.Now().UTC().Format("20060102_150405")
	path := filepath.Join(m.cfg.BackupDir, fmt.Sprintf("%s_%s.bak", name, stamp))
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	q := m.db.Dialect().BackupDatabase(name, path)
	if q == "" {
		m.logger.Debug("provider cannot back up databases", "database", name)
		return "", nil
	}
	exists, known, err := m.databaseExists(ctx)
	if err != nil {
		return "", err
	}
	if known && !exists {
		m.logger.Debug("nothing to back up", "database", name)
		return "", nil
	}
	if err := m.db.AdminExecute(ctx, q); err != nil {
		return "", err
	}
	m.logger.Info("backed up database", "database", name, "path", path)
	return path, nil
}

// DeleteDatabase drops the target database. File-backed providers remove the
// database file instead.
func (m *DatabaseMigrator) DeleteDatabase(ctx context.Context) error {
	d := m.db.Dialect()
	name := m.databaseName()
	m.adminChanges = true
	if r, ok := d.(connector.DatabaseRemover); ok {
		if err := r.RemoveDatabase(name); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
		m.logger.Info("removed database", "database", name)
		return nil
	}
	q := d.DeleteDatabase(name)
	if q == "" {
		return fmt.Errorf("drop %s: provider %s has no drop statement", name, d.Provider())
	}
	if err := m.db.AdminExecute(ctx, q); err != nil {
		return err
	}
	m.logger.Info("dropped database", "database", name)
	return nil
}

// TransferToDatabase points the live connection at the migration database.
func (m *DatabaseMigrator) TransferToDatabase(ctx context.Context) error {
	return m.db.TransferToDatabase(ctx)
}

// VerifyOrCreateTrackingSchema creates the tracking schema and its tables.
// Each failing step is returned as a warning and the remaining steps still
// run; the error is reserved for a broken connection or transaction.
func (m *DatabaseMigrator) VerifyOrCreateTrackingSchema(ctx context.Context) ([]BootstrapWarning, error) {
	d := m.db.Dialect()
	steps := []struct {
		name string
		sql  string
	}{
		{"schema " + m.names.Schema, d.CreateSchema(m.names)},
		{"table " + m.names.VersionTable, d.CreateVersionTable(m.names)},
		{"table " + m.names.ScriptsRunTable, d.CreateScriptRunTable(m.names)},
	}
	var warnings []BootstrapWarning
	for _, s := range steps {
		if s.sql == "" {
			continue
		}
		var stepErr error
		err := m.db.WithSavepoint(ctx, "dbkick_bootstrap", func() error {
			_, stepErr = m.db.Execute(ctx, s.sql)
			return stepErr
		})
		if stepErr != nil {
			warnings = append(warnings, BootstrapWarning{Step: s.name, Err: stepErr})
			if err != nil && err != stepErr {
				// the savepoint itself could not be rolled back
				return warnings, err
			}
			continue
		}
		if err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}

// CurrentVersion returns the latest recorded version of repositoryPath. ok is
// false when the repository was never migrated.
func (m *DatabaseMigrator) CurrentVersion(ctx context.Context, repositoryPath string) (string, bool, error) {
	v, err := m.db.ExecuteScalar(ctx, m.db.Dialect().GetVersion(m.names), repositoryPath)
	if err != nil {
		return "", false, err
	}
	s, ok := connector.StringFromStorage(v)
	return s, ok, nil
}

// RecordNewVersion inserts a version row and returns its id. Both statements
// run on the same pinned connection and transaction.
func (m *DatabaseMigrator) RecordNewVersion(ctx context.Context, repositoryPath, version string) (int64, error) {
	d := m.db.Dialect()
	if _, err := m.db.Execute(ctx, d.InsertVersion(m.names), repositoryPath, version, m.cfg.ExecutedBy); err != nil {
		return 0, err
	}
	v, err := m.db.ExecuteScalar(ctx, d.GetVersionID(m.names), repositoryPath)
	if err != nil {
		return 0, err
	}
	id, ok := connector.Int64FromStorage(v)
	if !ok {
		return 0, fmt.Errorf("version id for %q: unexpected value %v", repositoryPath, v)
	}
	return id, nil
}

// Hash returns the content hash recorded for a script.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// RunScript executes s unless it is a run-once script already recorded with
// the same hash. It reports whether the script ran.
func (m *DatabaseMigrator) RunScript(ctx context.Context, s Script) (bool, error) {
	d := m.db.Dialect()
	hash := Hash(s.Text)
	log := m.logger.WithScript(s.Name)
	runOnce := s.RunOnce && !s.RunEveryTime

	if runOnce {
		v, err := m.db.ExecuteScalar(ctx, d.HasScriptRun(m.names), s.Name, hash)
		if err != nil {
			return false, err
		}
		if n, _ := connector.Int64FromStorage(v); n > 0 {
			log.Debug("skipping script, already run", "hash", hash)
			return false, nil
		}
		prev, err := m.db.ExecuteScalar(ctx, d.GetScriptHash(m.names), s.Name)
		if err != nil {
			return false, err
		}
		if old, ok := connector.StringFromStorage(prev); ok && old != hash {
			switch m.cfg.OnChanged {
			case OnChangedError:
				return false, fmt.Errorf("%w: %s (recorded hash %s, file hash %s)", ErrScriptChanged, s.Name, old, hash)
			case OnChangedSkip:
				log.Warn("run-once script changed since it ran, skipping", "recorded_hash", old, "hash", hash)
				return false, nil
			default:
				log.Warn("run-once script changed since it ran, running it again", "recorded_hash", old, "hash", hash)
			}
		}
	}

	batches, err := m.db.ExecuteScript(ctx, s.Text)
	if err != nil {
		return false, fmt.Errorf("run %s: %w", s.Name, err)
	}
	if _, err := m.db.Execute(ctx, d.InsertScriptRun(m.names), s.VersionID, s.Name, s.Text, hash, runOnce, m.cfg.ExecutedBy); err != nil {
		return false, fmt.Errorf("record %s: %w", s.Name, err)
	}
	log.Info("script executed", "batches", batches, "one_time", runOnce)
	return true, nil
}

// Disconnect commits the open transaction, if any, and closes the connection.
func (m *DatabaseMigrator) Disconnect() error {
	return m.db.Close()
}

// Abort rolls back the open transaction, if any, and closes the connection.
func (m *DatabaseMigrator) Abort() error {
	return m.db.Abort()
}
