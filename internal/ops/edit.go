package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/rovetools/rove/internal/session"
	"github.com/rovetools/rove/internal/transfer"
)

// Edit pulls the file into a scoped temp directory, blocks on the local
// editor and pushes the file back only when its mtime moved. The temp
// directory is removed on every path out.
func (e *Executor) Edit(ctx context.Context, r Edit) error {
	remote := path.Clean(r.Path)

	tmpDir, err := os.MkdirTemp("", "rove-edit-")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	local := filepath.Join(tmpDir, path.Base(remote))
	if err := e.fetchFile(ctx, remote, local); err != nil {
		return err
	}

	before, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", local, err)
	}

	runEditor := e.RunEditor
	if runEditor == nil {
		runEditor = defaultRunEditor
	}
	if err := runEditor(ctx, local); err != nil {
		return fmt.Errorf("editor: %w", err)
	}

	after, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("inspecting %s after edit: %w", local, err)
	}
	if after.ModTime().Equal(before.ModTime()) && after.Size() == before.Size() {
		// Untouched; nothing to push back.
		return nil
	}

	return transfer.PutFile(ctx, e.fs, local, remote, e.BufferSize)
}

func (e *Executor) fetchFile(ctx context.Context, remote, local string) error {
	rc, _, err := e.fs.Open(remote)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("creating %s: %w", local, err)
	}
	if err := ctx.Err(); err != nil {
		out.Close()
		return session.ErrCancelled
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("downloading %s: %w", remote, err)
	}
	return out.Close()
}

// EditorRunner builds a RunEditor that launches the given editor command
// attached to the caller's terminal. The command may carry arguments.
func EditorRunner(editor string) func(ctx context.Context, localPath string) error {
	return func(ctx context.Context, localPath string) error {
		parts := strings.Fields(editor)
		if len(parts) == 0 {
			return fmt.Errorf("empty editor command")
		}
		args := append(parts[1:], localPath)
		cmd := exec.CommandContext(ctx, parts[0], args...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	}
}

// defaultRunEditor resolves $VISUAL, then $EDITOR, then vi.
func defaultRunEditor(ctx context.Context, localPath string) error {
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	return EditorRunner(editor)(ctx, localPath)
}
