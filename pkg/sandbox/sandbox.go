// Package sandbox defines the provider-agnostic contract for ZeroBuild
// execution sandboxes.
//
// Two providers implement the Client interface:
//
//   - e2b.Client — cloud MicroVM behind the E2B REST API (requires an API key)
//   - docker.Client — local container on the host's Docker daemon
//
// The provider is selected once at construction; every other layer works
// against Client and never knows which backend is live.
package sandbox

import (
	"context"
	"time"
)

// CommandResult is the outcome of a command executed inside a sandbox.
// A non-zero ExitCode is data, not an error — the caller decides what
// counts as failure.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Client manages a single sandbox and runs operations inside it.
//
// At most one sandbox is live per Client. Every operation other than
// CreateSandbox and the identity accessors requires an active handle and
// fails with ErrNoActiveSandbox otherwise.
type Client interface {
	// CreateSandbox provisions a sandbox and returns its handle. When
	// reset is false and a handle already exists, that handle is returned
	// without any provider call. When reset is true, any prior sandbox is
	// torn down best-effort first. timeout is passed to the provider as a
	// lifetime hint where supported.
	CreateSandbox(ctx context.Context, reset bool, template string, timeout time.Duration) (string, error)

	// KillSandbox terminates the active sandbox and returns a status
	// message. Calling it with no active sandbox is a successful no-op.
	// Local identity is cleared even when the remote teardown fails.
	KillSandbox(ctx context.Context) (string, error)

	// RunCommand runs a shell command in workdir, bounded by a client-side
	// timeout. Exceeding the timeout yields a *TimeoutError, distinct from
	// a normal non-zero exit.
	RunCommand(ctx context.Context, command, workdir string, timeout time.Duration) (*CommandResult, error)

	// WriteFile writes content to path, creating parent directories.
	WriteFile(ctx context.Context, path, content string) error

	// ReadFile returns the file's content as UTF-8 text. A missing file
	// reports ErrNotFound, distinct from transport failures.
	ReadFile(ctx context.Context, path string) (string, error)

	// ListFiles returns a human-readable listing of a directory.
	ListFiles(ctx context.Context, path string) (string, error)

	// PreviewURL resolves the externally reachable URL for a sandbox port.
	// It only resolves routing; it does not check that anything listens.
	PreviewURL(ctx context.Context, port int) (string, error)

	// CollectSnapshotFiles walks workdir recursively, skipping build
	// artifact directories, and returns a fresh path → content map.
	// Unreadable entries are logged and skipped.
	CollectSnapshotFiles(ctx context.Context, workdir string) (map[string]string, error)

	// CurrentID returns the active handle, if any.
	CurrentID() (string, bool)

	// SetID restores a previously known handle without re-provisioning.
	// No liveness check is performed; a stale handle surfaces as
	// ErrNotFound on first real use.
	SetID(id string)

	// ClearID drops the handle (and any port mapping) without teardown.
	ClearID()

	// RequireID returns the active handle or ErrNoActiveSandbox.
	RequireID() (string, error)
}

// SkipDirs are directory names excluded from snapshot traversal at any depth.
var SkipDirs = []string{"node_modules", ".next", ".git", "dist", "build", ".cache"}

// SkipDir reports whether a directory name is on the snapshot skip-list.
func SkipDir(name string) bool {
	for _, d := range SkipDirs {
		if name == d {
			return true
		}
	}
	return false
}
