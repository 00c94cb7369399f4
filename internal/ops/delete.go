package ops

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rovetools/rove/internal/session"
)

// DeleteFailure records one path that survived a recursive delete.
type DeleteFailure struct {
	Path string
	Err  error
}

// DeleteReport accounts for every node visited by a delete.
type DeleteReport struct {
	Removed int
	Failed  []DeleteFailure
}

// Err folds the failures into a single error, nil when everything went.
func (r *DeleteReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d entries not removed:", len(r.Failed), r.Removed+len(r.Failed))
	for i, f := range r.Failed {
		if i == 3 {
			fmt.Fprintf(&b, " and %d more", len(r.Failed)-3)
			break
		}
		fmt.Fprintf(&b, " %s (%v);", f.Path, f.Err)
	}
	return fmt.Errorf("%s", b.String())
}

// Delete removes r.Path. A directory is walked depth-first with an
// explicit stack and children are removed before their parent; a failed
// child is recorded and the walk moves on, which necessarily leaves the
// ancestors of that child in place. The cache is patched only when the
// whole subtree went away; otherwise the stale region is invalidated so
// the next view re-lists it.
func (e *Executor) Delete(ctx context.Context, r Delete) (*DeleteReport, error) {
	target := path.Clean(r.Path)
	info, err := e.fs.Stat(target)
	if err != nil {
		return nil, err
	}

	report := &DeleteReport{}
	if !info.IsDir() {
		if err := e.fs.Remove(target); err != nil {
			report.Failed = append(report.Failed, DeleteFailure{Path: target, Err: err})
		} else {
			report.Removed++
			e.tree.ApplyRemove(target)
		}
		return report, nil
	}

	e.deleteTree(ctx, target, report)

	if len(report.Failed) == 0 {
		e.tree.ApplyRemove(target)
	} else {
		e.tree.Collapse(target)
		e.tree.Invalidate(path.Dir(target))
	}
	return report, nil
}

type deleteFrame struct {
	path     string
	isDir    bool
	expanded bool
}

func (e *Executor) deleteTree(ctx context.Context, root string, report *DeleteReport) {
	stack := []deleteFrame{{path: root, isDir: true}}

	for len(stack) > 0 {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, DeleteFailure{Path: root, Err: session.ErrCancelled})
			return
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case f.isDir && !f.expanded:
			children, err := e.fs.List(f.path)
			if err != nil {
				report.Failed = append(report.Failed, DeleteFailure{Path: f.path, Err: err})
				continue
			}
			// Revisit the directory itself after its children.
			stack = append(stack, deleteFrame{path: f.path, isDir: true, expanded: true})
			for _, c := range children {
				stack = append(stack, deleteFrame{
					path:  path.Join(f.path, c.Name),
					isDir: c.IsDir(),
				})
			}
		case f.isDir:
			if err := e.fs.RemoveDir(f.path); err != nil {
				report.Failed = append(report.Failed, DeleteFailure{Path: f.path, Err: err})
			} else {
				report.Removed++
			}
		default:
			if err := e.fs.Remove(f.path); err != nil {
				report.Failed = append(report.Failed, DeleteFailure{Path: f.path, Err: err})
			} else {
				report.Removed++
			}
		}
	}
}
