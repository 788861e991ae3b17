package cds

import "fmt"

// InvalidObjectError is raised when Object.Validate fails - fatal to the
// enclosing operation; the caller logs and skips the offending object.
type InvalidObjectError struct {
	ID     ID
	Reason string
}

func NewInvalidObjectError(id ID, reason string) *InvalidObjectError {
	return &InvalidObjectError{ID: id, Reason: reason}
}

func (e *InvalidObjectError) Error() string {
	return fmt.Sprintf("invalid object %d: %s", e.ID, e.Reason)
}

// NotFoundError is raised when a lookup (loadObject, findObjectByPath, ...)
// fails to resolve its target. Callers recover locally when the lookup was
// optional (e.g. a stale FANART_OBJ_ID triggers clearing the resource
// instead of propagating the error) and surface it otherwise.
type NotFoundError struct {
	What string
	Key  string
}

func NewNotFoundError(what, key string) *NotFoundError {
	return &NotFoundError{What: what, Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.What, e.Key)
}

// DuplicateAutoscanError is raised when AutoscanRegistry.Add is called with
// a location that already has a monitor. Surfaced to the caller (UI
// rejection).
type DuplicateAutoscanError struct {
	Location string
}

func (e *DuplicateAutoscanError) Error() string {
	return fmt.Sprintf("autoscan already exists for %s", e.Location)
}

// OverlappingAutoscanError is raised when two autoscans would cover
// overlapping subtrees.
type OverlappingAutoscanError struct {
	Location string
	Existing string
}

func (e *OverlappingAutoscanError) Error() string {
	return fmt.Sprintf("autoscan at %s overlaps existing autoscan at %s", e.Location, e.Existing)
}

// IOError wraps a filesystem failure (readDir, stat, addWatch) encountered
// while walking or watching a path. Per-entry: the import state cache
// records the entry Broken and the run continues with siblings.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("i/o error at %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ErrShutdownRequested is the sentinel a task observes at a cancellation
// checkpoint once the engine's shutdown flag is set. It is the one error in
// this core used as a control-flow signal rather than a failure to report.
var ErrShutdownRequested = fmt.Errorf("shutdown requested")

// DatabaseFatalError is raised when the database returns a result that
// would break Invariant 2 (e.g. an inconsistent update after commit).
// Receiving one must terminate the process rather than continue against a
// catalog subscribers can no longer trust.
type DatabaseFatalError struct {
	Op  string
	Err error
}

func (e *DatabaseFatalError) Error() string {
	return fmt.Sprintf("fatal database error during %s: %v", e.Op, e.Err)
}

func (e *DatabaseFatalError) Unwrap() error { return e.Err }
