package migration

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/store/connector"
)

// VersionRecord is one row of the version table.
type VersionRecord struct {
	ID             int64  `json:"id"`
	RepositoryPath string `json:"repository_path"`
	Version        string `json:"version"`
	RecordedAt     string `json:"recorded_at"`
	EnteredBy      string `json:"entered_by"`
}

// ScriptRunRecord is one row of the scripts-run table. The script text is
// left out of listings.
type ScriptRunRecord struct {
	ID         int64  `json:"id"`
	VersionID  int64  `json:"version_id"`
	ScriptName string `json:"script_name"`
	Hash       string `json:"hash"`
	RunOnce    bool   `json:"run_once"`
	ExecutedAt string `json:"executed_at"`
	ExecutedBy string `json:"executed_by"`
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultHistoryLimit
	}
	if limit > constants.MaxHistoryLimit {
		return constants.MaxHistoryLimit
	}
	return limit
}

// ListVersions returns up to limit version rows, newest first.
func (m *DatabaseMigrator) ListVersions(ctx context.Context, limit int) ([]VersionRecord, error) {
	rows, err := m.db.ExecuteQuery(ctx, m.db.Dialect().ListVersions(m.names), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []VersionRecord
	for rows.Next() {
		var id, repo, version, at, by any
		if err := rows.Scan(&id, &repo, &version, &at, &by); err != nil {
			return nil, fmt.Errorf("scan version row: %w", err)
		}
		r := VersionRecord{RecordedAt: connector.TimeFromStorage(at)}
		r.ID, _ = connector.Int64FromStorage(id)
		r.RepositoryPath, _ = connector.StringFromStorage(repo)
		r.Version, _ = connector.StringFromStorage(version)
		r.EnteredBy, _ = connector.StringFromStorage(by)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListScriptRuns returns up to limit script run rows, newest first.
func (m *DatabaseMigrator) ListScriptRuns(ctx context.Context, limit int) ([]ScriptRunRecord, error) {
	rows, err := m.db.ExecuteQuery(ctx, m.db.Dialect().ListScriptRuns(m.names), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanScriptRuns(rows)
}

func scanScriptRuns(rows *sql.Rows) ([]ScriptRunRecord, error) {
	var out []ScriptRunRecord
	for rows.Next() {
		var id, versionID, name, hash, runOnce, at, by any
		if err := rows.Scan(&id, &versionID, &name, &hash, &runOnce, &at, &by); err != nil {
			return nil, fmt.Errorf("scan script run row: %w", err)
		}
		r := ScriptRunRecord{
			RunOnce:    connector.BoolFromStorage(runOnce),
			ExecutedAt: connector.TimeFromStorage(at),
		}
		r.ID, _ = connector.Int64FromStorage(id)
		r.VersionID, _ = connector.Int64FromStorage(versionID)
		r.ScriptName, _ = connector.StringFromStorage(name)
		r.Hash, _ = connector.StringFromStorage(hash)
		r.ExecutedBy, _ = connector.StringFromStorage(by)
		out = append(out, r)
	}
	return out, rows.Err()
}
