package database

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConnected is returned when a target operation runs before
// TransferToDatabase or after Close.
var ErrNotConnected = errors.New("gateway is not connected to the target database")

// ConnectionError reports that the server could not be reached or refused the
// credentials. It always aborts a run.
type ConnectionError struct {
	Server   string
	Database string
	Err      error
}

func (e *ConnectionError) Error() string {
	server := e.Server
	if server == "" {
		server = "(local)"
	}
	return fmt.Sprintf("connect to database %q on %s: %v", e.Database, server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ExecutionError reports a failed statement together with its SQL text.
type ExecutionError struct {
	SQL string
	Err error
}

const maxSQLInError = 240

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %q: %v", abbreviate(e.SQL), e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func abbreviate(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) <= maxSQLInError {
		return s
	}
	return s[:maxSQLInError] + "..."
}
