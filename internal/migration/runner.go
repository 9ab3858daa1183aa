package migration

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/dbkick/internal/common"
	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/filesystem"
	"github.com/loykin/dbkick/internal/folder"
	"github.com/loykin/dbkick/internal/version"
)

const appName = "dbkick"

// versionZero is reported for a repository that was never migrated.
const versionZero = "0"

// RunnerOptions controls one run.
type RunnerOptions struct {
	RepositoryPath  string
	UseTransaction  bool
	Drop            bool
	DontCreate      bool
	SimpleRecovery  bool
	Interactive     bool
	ScriptExtension string
	// Input is read for the interactive pause. Defaults to os.Stdin.
	Input io.Reader
}

// ExecutedScript is a script that ran during the run.
type ExecutedScript struct {
	Folder string `json:"folder"`
	Path   string `json:"path"`
	Mirror string `json:"mirror"`
}

// Result summarises a run.
type Result struct {
	RunID      string             `json:"run_id"`
	Database   string             `json:"database"`
	Dropped    bool               `json:"dropped"`
	OldVersion string             `json:"old_version,omitempty"`
	NewVersion string             `json:"new_version,omitempty"`
	VersionID  int64              `json:"version_id,omitempty"`
	Executed   []ExecutedScript   `json:"executed"`
	Skipped    int                `json:"skipped"`
	Warnings   []BootstrapWarning `json:"-"`
	Backup     string             `json:"backup,omitempty"`
	ChangeDrop string             `json:"change_drop"`
	Duration   time.Duration      `json:"duration"`
}

// Runner drives one end-to-end migration.
type Runner struct {
	migrator *DatabaseMigrator
	catalog  *folder.Catalog
	fs       *filesystem.FileSystem
	resolver version.Resolver
	opts     RunnerOptions
	logger   *common.Logger
}

// NewRunner wires a runner. A nil resolver uses the static default version.
func NewRunner(m *DatabaseMigrator, catalog *folder.Catalog, fs *filesystem.FileSystem, resolver version.Resolver, opts RunnerOptions, logger *common.Logger) *Runner {
	if fs == nil {
		fs = filesystem.OS()
	}
	if resolver == nil {
		resolver = version.Static{}
	}
	if opts.ScriptExtension == "" {
		opts.ScriptExtension = constants.DefaultScriptExtension
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	return &Runner{
		migrator: m,
		catalog:  catalog,
		fs:       fs,
		resolver: resolver,
		opts:     opts,
		logger:   common.OrNop(logger),
	}
}

// Run performs the migration. On failure nothing executed on the target
// connection is committed, and the returned error is a *RunError.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	desc := r.migrator.Database().Descriptor()
	res := &Result{
		RunID:      uuid.NewString(),
		Database:   desc.Database,
		ChangeDrop: r.catalog.ChangeDrop(),
	}
	log := r.logger.WithComponent("runner").WithRun(res.RunID)

	log.Info(fmt.Sprintf("Running %s against %s - %s. Looking in %s for scripts to run.",
		appName, desc.Server, desc.Database, r.catalog.Root()))
	if r.opts.Interactive {
		log.Info("Please press enter when ready to kick...")
		if _, err := bufio.NewReader(r.opts.Input).ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
			return res, fmt.Errorf("interactive pause: %w", err)
		}
	}

	if err := r.fs.CreateDirectory(r.catalog.ChangeDrop()); err != nil {
		return res, err
	}
	log.Debug("change drop folder ready", "path", r.catalog.ChangeDrop())
	defer r.copyLogFile(log)

	if err := r.run(ctx, log, res); err != nil {
		transactional := r.migrator.Database().InTransaction()
		if abortErr := r.migrator.Abort(); abortErr != nil {
			log.Error("closing the connection after a failure", "error", abortErr)
		}
		runErr := &RunError{
			Database:         desc.Database,
			Transactional:    transactional,
			AdminChangesMade: r.migrator.AdminChangesMade(),
			Err:              err,
		}
		log.Error(appName+" encountered an error", "error", runErr.Error())
		res.Duration = time.Since(start)
		return res, runErr
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (r *Runner) run(ctx context.Context, log *common.Logger, res *Result) error {
	m := r.migrator
	if err := m.Connect(ctx, r.opts.UseTransaction); err != nil {
		return err
	}

	r.createShare(log)
	backup, err := m.BackupDatabaseIfItExists(ctx)
	if err != nil {
		return err
	}
	res.Backup = backup
	r.removeShare(log)

	if r.opts.Drop {
		if err := m.DeleteDatabase(ctx); err != nil {
			return err
		}
		res.Dropped = true
		log.Info(fmt.Sprintf("%s has removed database (%s). All changes and backups can be found at %q.",
			appName, res.Database, r.catalog.ChangeDrop()))
		return m.Disconnect()
	}

	if !r.opts.DontCreate {
		if err := m.CreateOrRestoreDatabase(ctx); err != nil {
			return err
		}
		if err := m.SetRecoveryMode(ctx, r.opts.SimpleRecovery); err != nil {
			return err
		}
	}
	if err := m.TransferToDatabase(ctx); err != nil {
		return err
	}

	warnings, err := m.VerifyOrCreateTrackingSchema(ctx)
	for _, w := range warnings {
		log.Warn("tracking schema step failed, continuing", "step", w.Step, "error", w.Err)
	}
	res.Warnings = warnings
	if err != nil {
		return err
	}

	current, ok, err := m.CurrentVersion(ctx, r.opts.RepositoryPath)
	if err != nil {
		return err
	}
	if !ok {
		current = versionZero
	}
	next, err := r.resolver.Resolve(ctx)
	if err != nil {
		return &ResolutionError{Err: err}
	}
	res.OldVersion, res.NewVersion = current, next
	log.Info(fmt.Sprintf("Migrating %s from version %s to %s.", res.Database, current, next))

	versionID, err := m.RecordNewVersion(ctx, r.opts.RepositoryPath, next)
	if err != nil {
		return err
	}
	res.VersionID = versionID

	for _, f := range r.catalog.Folders() {
		if err := r.traverse(ctx, log, f, versionID, res); err != nil {
			return err
		}
	}

	if err := m.Disconnect(); err != nil {
		return err
	}
	log.Info(fmt.Sprintf("%s has kicked your database (%s)! You are now at version %s. All changes and backups can be found at %q.",
		appName, res.Database, next, r.catalog.ChangeDrop()))
	return nil
}

// traverse runs every script of f in pre-order and mirrors the ones that ran.
func (r *Runner) traverse(ctx context.Context, log *common.Logger, f folder.MigrationsFolder, versionID int64, res *Result) error {
	flog := log.WithFolder(f.Name)
	msg := fmt.Sprintf("Looking for %s scripts in %q.", f.Description, f.FullPath)
	if f.RunOnce() {
		msg += " These should be one time only scripts."
	}
	flog.Info(msg)

	for path, err := range r.fs.Scripts(f.FullPath, r.opts.ScriptExtension) {
		if err != nil {
			return err
		}
		text, err := r.fs.ReadText(path)
		if err != nil {
			return err
		}
		flog.Debug("Found and running script", "path", path)
		ran, err := r.migrator.RunScript(ctx, Script{
			Name:         filesystem.FileName(path),
			Text:         text,
			RunOnce:      f.RunOnce(),
			RunEveryTime: f.RunEveryTime(),
			VersionID:    versionID,
		})
		if err != nil {
			return err
		}
		if !ran {
			res.Skipped++
			continue
		}
		mirror := r.catalog.MirrorPath(f, path)
		flog.Debug("Copying script to change drop", "script", filesystem.FileName(path), "destination", mirror)
		if err := r.fs.CopyFile(path, mirror, true); err != nil {
			return &ArtifactCopyError{Source: path, Destination: mirror, Err: err}
		}
		res.Executed = append(res.Executed, ExecutedScript{Folder: f.Name, Path: path, Mirror: mirror})
	}
	return nil
}

// createShare and removeShare are hooks around the backup for exposing the
// change-drop folder to the database server. Neither is implemented.
func (r *Runner) createShare(log *common.Logger) {
	log.Debug("no share created for change drop folder")
}

func (r *Runner) removeShare(log *common.Logger) {
	log.Debug("no share to remove from change drop folder")
}

// copyLogFile copies the log file into the change-drop folder. Failures are
// logged and never returned.
func (r *Runner) copyLogFile(log *common.Logger) {
	src := r.logger.LogFile()
	if src == "" {
		log.Debug("no log file to copy")
		return
	}
	if err := r.logger.Sync(); err != nil {
		log.Debug("flush log file", "error", err)
	}
	dst := filesystem.Combine(r.catalog.ChangeDrop(), filesystem.FileName(src))
	if samePath(src, dst) {
		return
	}
	if err := r.fs.CopyFromOS(src, dst, true); err != nil {
		copyErr := &ArtifactCopyError{Source: src, Destination: dst, Err: err}
		log.Error(appName+" encountered an error copying the log file", "error", copyErr.Error())
	}
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
