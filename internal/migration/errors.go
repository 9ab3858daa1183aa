package migration

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRestoreUnsupported is returned when a restore source is configured for
	// a provider without a restore statement.
	ErrRestoreUnsupported = errors.New("restore is not supported by this provider")
	// ErrScriptChanged is returned under the "error" policy when a run-once
	// script no longer matches the hash recorded when it ran.
	ErrScriptChanged = errors.New("run-once script changed since it was run")
)

// BootstrapWarning is the outcome of a tracking schema step that failed. It is
// logged and the run continues.
type BootstrapWarning struct {
	Step string
	Err  error
}

func (w BootstrapWarning) Error() string {
	return fmt.Sprintf("create %s: %v", w.Step, w.Err)
}

func (w BootstrapWarning) Unwrap() error { return w.Err }

// ResolutionError reports that no version could be resolved for the run.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string { return fmt.Sprintf("resolve version: %v", e.Err) }

func (e *ResolutionError) Unwrap() error { return e.Err }

// ArtifactCopyError reports a failed copy into the change-drop directory.
type ArtifactCopyError struct {
	Source      string
	Destination string
	Err         error
}

func (e *ArtifactCopyError) Error() string {
	return fmt.Sprintf("copy %s to %s: %v", e.Source, e.Destination, e.Err)
}

func (e *ArtifactCopyError) Unwrap() error { return e.Err }

// RunError is the error returned by a failed run. Its message says whether a
// transaction protected the partial state.
type RunError struct {
	Database string
	// Transactional is true when target changes were rolled back.
	Transactional bool
	// AdminChangesMade is true when a create, restore, drop or recovery mode
	// change already ran; those are never rolled back.
	AdminChangesMade bool
	Err              error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migrating %s failed: %v", e.Database, e.Err)
	if e.Transactional {
		b.WriteString(". The run was in a transaction, so the database should be as it was before the run")
		b.WriteString(". This does not include creating, restoring or dropping the database or changing its recovery mode, which cannot run in a transaction")
	}
	if e.AdminChangesMade {
		b.WriteString(". Administrative changes made during this run were not undone")
	}
	return b.String()
}

func (e *RunError) Unwrap() error { return e.Err }
