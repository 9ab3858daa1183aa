// Package storetest holds a shared conformance check run by every dialect's
// tests against a live database.
package storetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/loykin/dbkick/internal/store/connector"
)

// Names are the tracking names used by ExerciseTracking.
var Names = connector.TrackingNames{Schema: "RoundhousE", VersionTable: "Version", ScriptsRunTable: "ScriptsRun"}

// ExerciseTracking creates the tracking schema on db and walks every tracking
// template through one version and one script run.
func ExerciseTracking(t testing.TB, ctx context.Context, db *sql.DB, d connector.Dialect) {
	t.Helper()

	exec := func(q string, args ...any) {
		t.Helper()
		if q == "" {
			return
		}
		if _, err := db.ExecContext(ctx, q, args...); err != nil {
			t.Fatalf("exec %q: %v", q, err)
		}
	}
	scalar := func(q string, args ...any) any {
		t.Helper()
		var v any
		if err := db.QueryRowContext(ctx, q, args...).Scan(&v); err != nil {
			t.Fatalf("scalar %q: %v", q, err)
		}
		return v
	}

	// twice: every bootstrap statement must be idempotent
	for i := 0; i < 2; i++ {
		exec(d.CreateSchema(Names))
		exec(d.CreateVersionTable(Names))
		exec(d.CreateScriptRunTable(Names))
	}

	var none any
	err := db.QueryRowContext(ctx, d.GetVersion(Names), "repo").Scan(&none)
	if err != sql.ErrNoRows {
		t.Fatalf("GetVersion on empty table: want sql.ErrNoRows, got %v (%v)", err, none)
	}

	exec(d.InsertVersion(Names), "repo", "1.0.0", "tester")
	if v, _ := connector.StringFromStorage(scalar(d.GetVersion(Names), "repo")); v != "1.0.0" {
		t.Fatalf("GetVersion = %q", v)
	}
	id, ok := connector.Int64FromStorage(scalar(d.GetVersionID(Names), "repo"))
	if !ok || id <= 0 {
		t.Fatalf("GetVersionID = %d, %v", id, ok)
	}

	exec(d.InsertScriptRun(Names), id, "0001_create.sql", "SELECT 1", "h1", true, "tester")
	if n, _ := connector.Int64FromStorage(scalar(d.HasScriptRun(Names), "0001_create.sql", "h1")); n != 1 {
		t.Fatalf("HasScriptRun(h1) = %d", n)
	}
	if n, _ := connector.Int64FromStorage(scalar(d.HasScriptRun(Names), "0001_create.sql", "h2")); n != 0 {
		t.Fatalf("HasScriptRun(h2) = %d", n)
	}
	if h, _ := connector.StringFromStorage(scalar(d.GetScriptHash(Names), "0001_create.sql")); h != "h1" {
		t.Fatalf("GetScriptHash = %q", h)
	}

	rows, err := db.QueryContext(ctx, d.ListScriptRuns(Names), 10)
	if err != nil {
		t.Fatalf("ListScriptRuns: %v", err)
	}
	defer func() { _ = rows.Close() }()
	count := 0
	for rows.Next() {
		var entryID, versionID int64
		var name, hash, by sql.NullString
		var runOnce, entered any
		if err := rows.Scan(&entryID, &versionID, &name, &hash, &runOnce, &entered, &by); err != nil {
			t.Fatalf("scan script run: %v", err)
		}
		if versionID != id || name.String != "0001_create.sql" || !connector.BoolFromStorage(runOnce) {
			t.Fatalf("unexpected script run row: %d %d %q %v", entryID, versionID, name.String, runOnce)
		}
		if connector.TimeFromStorage(entered) == "" {
			t.Fatalf("entry_date not readable: %#v", entered)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("ListScriptRuns returned %d rows", count)
	}
}
