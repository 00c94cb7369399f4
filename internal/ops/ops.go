// Package ops executes the mutating operations the browser can request:
// delete, move, create, edit-in-editor and drop-to-shell. Each operation
// talks to the remote first and patches the listing cache only after the
// remote confirmed the change.
package ops

import (
	"context"
	"fmt"
	"path"

	"github.com/rovetools/rove/internal/remotefs"
	"github.com/rovetools/rove/internal/session"
)

// Request is one operation to execute. The set of implementations is
// closed; Execute rejects anything else.
type Request interface {
	isRequest()
}

// Delete removes a file, or a directory tree recursively.
type Delete struct {
	Path string
}

// Move renames a file or directory to a new path.
type Move struct {
	Src string
	Dst string
}

// CreateFile creates an empty remote file.
type CreateFile struct {
	Path string
}

// CreateDir creates a remote directory.
type CreateDir struct {
	Path string
}

// Edit downloads a file, opens it in the local editor and uploads it
// back if it changed.
type Edit struct {
	Path string
}

// Shell opens an interactive remote shell in the given directory.
type Shell struct {
	Dir string
}

func (Delete) isRequest()     {}
func (Move) isRequest()       {}
func (CreateFile) isRequest() {}
func (CreateDir) isRequest()  {}
func (Edit) isRequest()       {}
func (Shell) isRequest()      {}

// ShellRunner is the part of the session that can open an interactive
// shell. *session.Session implements it.
type ShellRunner interface {
	Shell(ctx context.Context, dir string) error
}

// ErrDestinationExists rejects a move whose target name is already taken.
type ErrDestinationExists struct {
	Dst string
}

func (e *ErrDestinationExists) Error() string {
	return fmt.Sprintf("%s: destination already exists", e.Dst)
}

// Executor runs requests against one session and keeps the tree cache
// consistent with what the remote confirmed.
type Executor struct {
	fs    session.FS
	tree  *remotefs.Tree
	shell ShellRunner

	// BufferSize is the chunk size for edit transfers.
	BufferSize int

	// RunEditor opens the local editor on a file and blocks until it
	// exits. Defaults to launching the configured editor; tests
	// substitute their own.
	RunEditor func(ctx context.Context, localPath string) error
}

// NewExecutor wires an executor to a filesystem and cache. shell may be
// nil when no interactive shell is available.
func NewExecutor(fs session.FS, tree *remotefs.Tree, shell ShellRunner) *Executor {
	return &Executor{fs: fs, tree: tree, shell: shell}
}

// Execute dispatches one request. Delete reports partial failures as a
// *DeleteError via the returned error; callers wanting the full
// accounting use Delete directly.
func (e *Executor) Execute(ctx context.Context, req Request) error {
	switch r := req.(type) {
	case Delete:
		report, err := e.Delete(ctx, r)
		if err != nil {
			return err
		}
		return report.Err()
	case Move:
		return e.Move(ctx, r)
	case CreateFile:
		return e.CreateFile(ctx, r)
	case CreateDir:
		return e.CreateDir(ctx, r)
	case Edit:
		return e.Edit(ctx, r)
	case Shell:
		return e.OpenShell(ctx, r)
	default:
		return fmt.Errorf("unknown request type %T", req)
	}
}

// Move renames src to dst. A destination name already present in the
// cached listing fails fast without a network call; any remote rejection
// is returned as-is.
func (e *Executor) Move(ctx context.Context, r Move) error {
	if err := ctx.Err(); err != nil {
		return session.ErrCancelled
	}
	src := path.Clean(r.Src)
	dst := path.Clean(r.Dst)
	if src == dst {
		return nil
	}
	if _, exists := e.tree.Entry(dst); exists {
		return &ErrDestinationExists{Dst: dst}
	}
	if err := e.fs.Rename(src, dst); err != nil {
		return err
	}
	e.tree.ApplyRename(src, dst)
	return nil
}

// CreateFile creates an empty file and invalidates the parent listing so
// the next view reflects what the server actually did.
func (e *Executor) CreateFile(ctx context.Context, r CreateFile) error {
	if err := ctx.Err(); err != nil {
		return session.ErrCancelled
	}
	p := path.Clean(r.Path)
	if err := e.fs.Touch(p); err != nil {
		return err
	}
	e.tree.Invalidate(path.Dir(p))
	return nil
}

// CreateDir creates a directory and invalidates the parent listing.
func (e *Executor) CreateDir(ctx context.Context, r CreateDir) error {
	if err := ctx.Err(); err != nil {
		return session.ErrCancelled
	}
	p := path.Clean(r.Path)
	if err := e.fs.Mkdir(p); err != nil {
		return err
	}
	e.tree.Invalidate(path.Dir(p))
	return nil
}

// OpenShell drops into an interactive shell in dir. The cache is not
// touched; anything the user did in the shell shows up on the next
// explicit refresh.
func (e *Executor) OpenShell(ctx context.Context, r Shell) error {
	if e.shell == nil {
		return fmt.Errorf("no interactive shell available")
	}
	return e.shell.Shell(ctx, r.Dir)
}
