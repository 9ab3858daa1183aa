package migration

import (
	"context"
	"database/sql"
	"errors"

	"github.com/loykin/dbkick/internal/store/connector"
)

// fakeDB records every statement and answers scalars from a table keyed by SQL.
type fakeDB struct {
	dialect connector.Dialect
	desc    connector.Descriptor

	failOn  map[string]error
	scalars map[string]any

	admin    []string
	executed []string

	useTx       bool
	opened      bool
	transferred bool
	closed      bool
	aborted     bool
}

func newFakeDB(d connector.Dialect, database string) *fakeDB {
	return &fakeDB{
		dialect: d,
		desc:    connector.Descriptor{Server: "fake", Database: database, Provider: d.Provider()},
		failOn:  map[string]error{},
		scalars: map[string]any{},
	}
}

func (f *fakeDB) Descriptor() connector.Descriptor { return f.desc }
func (f *fakeDB) Dialect() connector.Dialect       { return f.dialect }
func (f *fakeDB) InTransaction() bool              { return f.transferred && f.useTx && !f.closed && !f.aborted }

func (f *fakeDB) Open(_ context.Context, useTransaction bool) error {
	f.opened, f.useTx = true, useTransaction
	return f.failOn["open"]
}

func (f *fakeDB) TransferToDatabase(context.Context) error {
	f.transferred = true
	return f.failOn["transfer"]
}

func (f *fakeDB) AdminExecute(_ context.Context, query string, _ ...any) error {
	f.admin = append(f.admin, query)
	return f.failOn[query]
}

func (f *fakeDB) AdminScalar(_ context.Context, query string, _ ...any) (any, error) {
	f.admin = append(f.admin, query)
	if err := f.failOn[query]; err != nil {
		return nil, err
	}
	return f.scalars[query], nil
}

func (f *fakeDB) Execute(_ context.Context, query string, _ ...any) (int64, error) {
	f.executed = append(f.executed, query)
	if err := f.failOn[query]; err != nil {
		return 0, err
	}
	return 0, nil
}

func (f *fakeDB) ExecuteScript(ctx context.Context, script string) (int, error) {
	n := 0
	for _, stmt := range f.dialect.SplitStatements(script) {
		if _, err := f.Execute(ctx, stmt); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (f *fakeDB) ExecuteScalar(_ context.Context, query string, _ ...any) (any, error) {
	if err := f.failOn[query]; err != nil {
		return nil, err
	}
	return f.scalars[query], nil
}

func (f *fakeDB) ExecuteQuery(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("fakeDB: queries are not supported")
}

func (f *fakeDB) WithSavepoint(_ context.Context, _ string, fn func() error) error {
	return fn()
}

func (f *fakeDB) Close() error {
	f.closed = true
	return nil
}

func (f *fakeDB) Abort() error {
	f.aborted = true
	return nil
}

func (f *fakeDB) ran(query string) bool {
	for _, q := range f.executed {
		if q == query {
			return true
		}
	}
	return false
}

func (f *fakeDB) ranAdmin(query string) bool {
	for _, q := range f.admin {
		if q == query {
			return true
		}
	}
	return false
}
