package outline

import "errors"

// Error kinds surfaced to command callers. Match with errors.Is; the
// wrapped message carries the specifics.
var (
	// ErrNotFound means a referenced node, container, or position does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrParentPrevInconsistent means prev_id names a node in a different
	// sibling group than parent_id.
	ErrParentPrevInconsistent = errors.New("parent and prev are inconsistent")

	// ErrCycle means the proposed move would place a node under its own
	// descendant.
	ErrCycle = errors.New("move would create a cycle")

	// ErrCannotIndent means the node has no previous sibling to indent under.
	ErrCannotIndent = errors.New("cannot indent")

	// ErrCannotOutdent means the node is already at root level.
	ErrCannotOutdent = errors.New("cannot outdent")

	// ErrNoOp means the command matched the current state. Not a failure
	// for the caller, but no event was emitted.
	ErrNoOp = errors.New("no-op")

	// ErrInvalidSelection means a split selection is out of range or does
	// not fall on UTF-8 rune boundaries.
	ErrInvalidSelection = errors.New("invalid selection")

	// ErrConflict means the store detected a concurrent modification.
	// The caller may retry with the same event_id and uuid.
	ErrConflict = errors.New("conflict")

	// ErrTimeout means the command did not reach its serializer in time.
	ErrTimeout = errors.New("command timed out")

	// ErrTransient means transport or infrastructure failure; retryable.
	ErrTransient = errors.New("transient failure")
)
