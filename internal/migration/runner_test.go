package migration

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/loykin/dbkick/internal/common"
	"github.com/loykin/dbkick/internal/database"
	"github.com/loykin/dbkick/internal/filesystem"
	"github.com/loykin/dbkick/internal/folder"
	"github.com/loykin/dbkick/internal/retry"
	"github.com/loykin/dbkick/internal/store/sqlserver"
	"github.com/loykin/dbkick/internal/version"
)

const (
	createUsers = "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL);\n"
	seedUsers   = "INSERT INTO users (name) VALUES ('alice');\nINSERT INTO users (name) VALUES ('bob');\n"
	usersView   = "DROP VIEW IF EXISTS v_users;\nCREATE VIEW v_users AS SELECT name FROM users;\n"
)

type harness struct {
	t      *testing.T
	dbPath string
	fs     *filesystem.FileSystem
	root   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		dbPath: filepath.Join(t.TempDir(), "app.db"),
		fs:     filesystem.New(afero.NewMemMapFs()),
		root:   "/scripts",
	}
	h.write("up/0001_create_users.sql", createUsers)
	h.write("up/0002_seed_users.sql", seedUsers)
	h.write("views/v_users.sql", usersView)
	return h
}

func (h *harness) write(rel, text string) {
	h.t.Helper()
	path := filepath.Join(h.root, rel)
	if err := h.fs.CreateDirectory(filepath.Dir(path)); err != nil {
		h.t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := afero.WriteFile(h.fs.Fs(), path, []byte(text), 0o644); err != nil {
		h.t.Fatalf("write %s: %v", rel, err)
	}
}

func (h *harness) gateway() *database.Gateway {
	h.t.Helper()
	g, err := database.New(database.Config{Provider: "sqlite", Database: h.dbPath, Retry: retry.Disabled()}, nil)
	if err != nil {
		h.t.Fatalf("database.New: %v", err)
	}
	return g
}

func (h *harness) runner(changeDrop, ver string, cfg MigratorConfig, opts RunnerOptions, logger *common.Logger) *Runner {
	m := NewDatabaseMigrator(h.gateway(), cfg, logger)
	catalog := folder.New(folder.Config{Root: h.root, ChangeDrop: changeDrop})
	return NewRunner(m, catalog, h.fs, version.Static{C: version.StaticConfig{Value: ver}}, opts, logger)
}

// open returns a migrator connected to the target database outside any run.
func (h *harness) open() *DatabaseMigrator {
	h.t.Helper()
	g := h.gateway()
	ctx := context.Background()
	if err := g.Open(ctx, false); err != nil {
		h.t.Fatalf("Open: %v", err)
	}
	if err := g.TransferToDatabase(ctx); err != nil {
		h.t.Fatalf("TransferToDatabase: %v", err)
	}
	h.t.Cleanup(func() { _ = g.Close() })
	return NewDatabaseMigrator(g, MigratorConfig{}, nil)
}

func (h *harness) tableExists(m *DatabaseMigrator, name string) bool {
	h.t.Helper()
	v, err := m.Database().ExecuteScalar(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	if err != nil {
		h.t.Fatalf("table lookup: %v", err)
	}
	n, _ := v.(int64)
	return n > 0
}

func TestRunner_FirstAndSecondRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.runner("/out/run1", "1.0.0", MigratorConfig{}, RunnerOptions{UseTransaction: true}, nil).Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.OldVersion != "0" || res.NewVersion != "1.0.0" || res.VersionID == 0 {
		t.Fatalf("versions = %q -> %q (id %d)", res.OldVersion, res.NewVersion, res.VersionID)
	}
	if len(res.Executed) != 3 || res.Skipped != 0 {
		t.Fatalf("executed = %+v, skipped = %d", res.Executed, res.Skipped)
	}
	wantOrder := []string{folder.Up, folder.Up, folder.Views}
	for i, e := range res.Executed {
		if e.Folder != wantOrder[i] {
			t.Fatalf("executed[%d] folder = %q, want %q", i, e.Folder, wantOrder[i])
		}
	}
	mirror := "/out/run1/itemsRan/up/0001_create_users.sql"
	if res.Executed[0].Mirror != mirror || !h.fs.FileExists(mirror) {
		t.Fatalf("mirror %q missing (got %q)", mirror, res.Executed[0].Mirror)
	}
	if text, _ := h.fs.ReadText(mirror); text != createUsers {
		t.Fatalf("mirror text = %q", text)
	}
	if res.RunID == "" || res.ChangeDrop != "/out/run1" {
		t.Fatalf("result = %+v", res)
	}

	res, err = h.runner("/out/run2", "1.0.1", MigratorConfig{}, RunnerOptions{UseTransaction: true}, nil).Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.OldVersion != "1.0.0" || res.NewVersion != "1.0.1" {
		t.Fatalf("versions = %q -> %q", res.OldVersion, res.NewVersion)
	}
	if len(res.Executed) != 1 || res.Executed[0].Folder != folder.Views || res.Skipped != 2 {
		t.Fatalf("executed = %+v, skipped = %d", res.Executed, res.Skipped)
	}
	if h.fs.FileExists("/out/run2/itemsRan/up/0001_create_users.sql") {
		t.Fatal("skipped script was mirrored")
	}

	m := h.open()
	versions, err := m.ListVersions(ctx, 0)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != "1.0.1" || versions[1].Version != "1.0.0" {
		t.Fatalf("versions = %+v", versions)
	}
	runs, err := m.ListScriptRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListScriptRuns: %v", err)
	}
	if len(runs) != 4 {
		t.Fatalf("script runs = %+v", runs)
	}
	if runs[0].ScriptName != "v_users.sql" || runs[0].RunOnce || runs[0].Hash != Hash(usersView) {
		t.Fatalf("latest run = %+v", runs[0])
	}
	v, err := m.Database().ExecuteScalar(ctx, "SELECT COUNT(*) FROM users")
	if err != nil || v.(int64) != 2 {
		t.Fatalf("seed ran more than once: %v %v", v, err)
	}
}

func TestRunner_TransactionRollsBackOnFailure(t *testing.T) {
	h := newHarness(t)
	h.write("up/0003_broken.sql", "INSERT INTO missing_table VALUES (1);\n")

	res, err := h.runner("/out", "1.0.0", MigratorConfig{}, RunnerOptions{UseTransaction: true}, nil).Run(context.Background())
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if !runErr.Transactional || runErr.AdminChangesMade {
		t.Fatalf("run error = %+v", runErr)
	}
	if !strings.Contains(runErr.Error(), "in a transaction") || !strings.Contains(runErr.Error(), "0003_broken.sql") {
		t.Fatalf("message = %q", runErr.Error())
	}
	if res == nil || len(res.Executed) != 2 {
		t.Fatalf("result = %+v", res)
	}

	m := h.open()
	if h.tableExists(m, "users") || h.tableExists(m, "RoundhousE_Version") {
		t.Fatal("changes survived the rollback")
	}
}

func TestRunner_TriggerBodyRunsWhole(t *testing.T) {
	h := newHarness(t)
	h.write("up/0003_audit.sql", "CREATE TABLE audit (name TEXT);\n"+
		"CREATE TRIGGER trg_users AFTER INSERT ON users\nBEGIN\n  INSERT INTO audit (name) VALUES (NEW.name);\nEND;\n"+
		"INSERT INTO users (name) VALUES ('carol');\n")

	res, err := h.runner("/out", "1.0.0", MigratorConfig{}, RunnerOptions{UseTransaction: true}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Executed) != 4 {
		t.Fatalf("executed = %+v", res.Executed)
	}
	v, err := h.open().Database().ExecuteScalar(context.Background(), "SELECT COUNT(*) FROM audit")
	if err != nil {
		t.Fatalf("audit count: %v", err)
	}
	if n, _ := v.(int64); n != 1 {
		t.Fatalf("audit rows = %v, want 1", v)
	}
}

func TestRunner_WithoutTransactionKeepsPartialWork(t *testing.T) {
	h := newHarness(t)
	h.write("up/0003_broken.sql", "INSERT INTO missing_table VALUES (1);\n")

	_, err := h.runner("/out", "1.0.0", MigratorConfig{}, RunnerOptions{}, nil).Run(context.Background())
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Transactional {
		t.Fatalf("expected a non-transactional *RunError, got %v", err)
	}
	if strings.Contains(runErr.Error(), "in a transaction") {
		t.Fatalf("message claims a rollback: %q", runErr.Error())
	}
	if !h.tableExists(h.open(), "users") {
		t.Fatal("committed statements were lost")
	}
}

func TestRunner_ChangedRunOnceScript(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		policy   ChangedPolicy
		wantErr  error
		executed int
	}{
		{OnChangedWarn, nil, 2},
		{OnChangedSkip, nil, 1},
		{OnChangedError, ErrScriptChanged, 0},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			h := newHarness(t)
			if _, err := h.runner("/out/1", "1", MigratorConfig{}, RunnerOptions{}, nil).Run(ctx); err != nil {
				t.Fatalf("first run: %v", err)
			}
			h.write("up/0002_seed_users.sql", "INSERT INTO users (name) VALUES ('carol');\n")

			res, err := h.runner("/out/2", "2", MigratorConfig{OnChanged: tc.policy}, RunnerOptions{}, nil).Run(ctx)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil && len(res.Executed) != tc.executed {
				t.Fatalf("executed = %+v, want %d", res.Executed, tc.executed)
			}
		})
	}
}

func TestRunner_Drop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.runner("/out/1", "1", MigratorConfig{}, RunnerOptions{}, nil).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(h.dbPath); err != nil {
		t.Fatalf("database file missing after run: %v", err)
	}

	res, err := h.runner("/out/2", "1", MigratorConfig{}, RunnerOptions{Drop: true}, nil).Run(ctx)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if !res.Dropped || len(res.Executed) != 0 || res.NewVersion != "" {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(h.dbPath); !os.IsNotExist(err) {
		t.Fatalf("database file still present: %v", err)
	}
}

func TestRunner_RecoveryModeFailureAborts(t *testing.T) {
	d := sqlserver.NewDialect()
	db := newFakeDB(d, "app")
	db.scalars[d.DatabaseExists("app")] = int64(1)
	denied := errors.New("ALTER DATABASE permission denied")
	db.failOn[d.SetRecoveryMode("app", true)] = denied

	fs := filesystem.New(afero.NewMemMapFs())
	_ = fs.CreateDirectory("/scripts/up")
	_ = afero.WriteFile(fs.Fs(), "/scripts/up/0001.sql", []byte("CREATE TABLE t (id int)"), 0o644)

	m := NewDatabaseMigrator(db, MigratorConfig{}, nil)
	r := NewRunner(m, folder.New(folder.Config{Root: "/scripts", ChangeDrop: "/out"}), fs, nil,
		RunnerOptions{UseTransaction: true, SimpleRecovery: true}, nil)

	_, err := r.Run(context.Background())
	var runErr *RunError
	if !errors.As(err, &runErr) || !errors.Is(err, denied) {
		t.Fatalf("expected *RunError wrapping the recovery failure, got %v", err)
	}
	if !runErr.AdminChangesMade || runErr.Transactional {
		t.Fatalf("run error = %+v", runErr)
	}
	if db.transferred || len(db.executed) != 0 || !db.aborted {
		t.Fatalf("transferred=%v executed=%v aborted=%v", db.transferred, db.executed, db.aborted)
	}
}

func TestRunner_ResolutionError(t *testing.T) {
	db := newFakeDB(sqlserver.NewDialect(), "app")
	failing := version.ResolverFunc(func(context.Context) (string, error) {
		return "", errors.New("no VERSION file")
	})
	m := NewDatabaseMigrator(db, MigratorConfig{}, nil)
	r := NewRunner(m, folder.New(folder.Config{Root: "/scripts", ChangeDrop: "/out"}),
		filesystem.New(afero.NewMemMapFs()), failing, RunnerOptions{}, nil)

	_, err := r.Run(context.Background())
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected *ResolutionError, got %v", err)
	}
	if db.ran(db.dialect.InsertVersion(m.TrackingNames())) {
		t.Fatal("version recorded without a resolved version")
	}
}

func TestRunner_MirrorFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "scripts")
	changeDrop := filepath.Join(dir, "out")
	if err := os.MkdirAll(filepath.Join(root, "up"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "up", "0001.sql"), []byte(createUsers), 0o644); err != nil {
		t.Fatal(err)
	}
	// a file where the mirror directory should be
	if err := os.MkdirAll(filepath.Join(changeDrop, "itemsRan"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(changeDrop, "itemsRan", "up"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &harness{t: t, dbPath: filepath.Join(dir, "app.db"), fs: filesystem.OS(), root: root}
	_, err := h.runner(changeDrop, "1", MigratorConfig{}, RunnerOptions{UseTransaction: true}, nil).Run(context.Background())
	var copyErr *ArtifactCopyError
	if !errors.As(err, &copyErr) {
		t.Fatalf("expected *ArtifactCopyError, got %v", err)
	}
	if h.tableExists(h.open(), "users") {
		t.Fatal("script survived a failed mirror")
	}
}

func TestRunner_CopiesLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "dbkick.log")
	logger, err := common.NewLoggerWithOptions(common.Options{Level: common.LogLevelDebug, Output: io.Discard, FilePath: logPath})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Close() }()

	h := newHarness(t)
	h.fs = filesystem.OS()
	h.root = filepath.Join(dir, "scripts")
	h.write("up/0001.sql", createUsers)

	changeDrop := filepath.Join(dir, "out")
	if _, err := h.runner(changeDrop, "1", MigratorConfig{}, RunnerOptions{}, logger).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(changeDrop, "dbkick.log"))
	if err != nil {
		t.Fatalf("log artifact: %v", err)
	}
	if !strings.Contains(string(b), "has kicked your database") {
		t.Fatalf("log artifact is missing the completion line:\n%s", b)
	}
}

func TestRunner_InteractiveWaitsForInput(t *testing.T) {
	h := newHarness(t)
	opts := RunnerOptions{Interactive: true, Input: strings.NewReader("\n")}
	if _, err := h.runner("/out", "1", MigratorConfig{}, opts, nil).Run(context.Background()); err != nil {
		t.Fatalf("interactive run: %v", err)
	}
}
