// Package kerrors defines the structural error kinds shared across KYCo's
// core components (spec §7). Components wrap one of these sentinels with
// fmt.Errorf("...: %w", ...) so callers can classify failures with errors.Is
// while still getting a descriptive message.
package kerrors

import "errors"

var (
	// ErrConfig marks a missing or malformed configuration value.
	ErrConfig = errors.New("config error")
	// ErrNotFound marks a job/group/worktree/session lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState marks a disallowed job state transition.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrTransport marks a network/IO failure talking to the bridge or git.
	ErrTransport = errors.New("transport error")
	// ErrProtocol marks a malformed NDJSON line or missing required event field.
	ErrProtocol = errors.New("protocol error")
	// ErrWorktree marks a git subprocess failure.
	ErrWorktree = errors.New("worktree error")
	// ErrMergeConflict is a recoverable ErrWorktree subtype.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrAgentFailure marks an agent-reported failure.
	ErrAgentFailure = errors.New("agent failure")
	// ErrCancelled marks an explicit user abort or kill.
	ErrCancelled = errors.New("cancelled")
	// ErrTimeout marks a read/connect deadline exceeded.
	ErrTimeout = errors.New("timeout")
)
