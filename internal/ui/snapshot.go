package ui

import (
	"sort"

	"github.com/rovetools/rove/internal/remotefs"
	"github.com/rovetools/rove/internal/session"
	"github.com/rovetools/rove/internal/transfer"
)

// nextTaskWindow bounds how many upcoming tasks a job status carries.
const nextTaskWindow = 5

// JobStatus is the live view of one download job.
type JobStatus struct {
	ID         string
	Remote     string
	FilesDone  int
	FilesTotal int
	BytesDone  int64
	BytesTotal int64
	Next       []transfer.Snapshot
	Done       bool
}

// State is everything the rendering boundary needs to draw a frame.
type State struct {
	Mode       Mode
	Cwd        string
	Loading    bool
	Entries    []session.Entry
	ShowHidden bool
	NameFilter string

	PendingDelete string

	MetaPath      string
	Meta          session.Entry
	Preview       string
	PreviewBinary bool

	Err  error
	Dead bool

	Jobs []JobStatus
}

// Snapshot captures the current engine state for rendering. Call it from
// the foreground loop. Finished jobs are folded in here too, so the mode
// leaves Downloading even when the JobDone event was dropped under load.
func (e *Engine) Snapshot() State {
	e.reconcileJobs()
	entries, _ := e.tree.View(e.cwd, remotefs.ViewOptions{
		ShowHidden: e.showHidden,
		NameFilter: e.nameFilter,
	})

	s := State{
		Mode:          e.mode,
		Cwd:           e.cwd,
		Loading:       e.loading,
		Entries:       entries,
		ShowHidden:    e.showHidden,
		NameFilter:    e.nameFilter,
		PendingDelete: e.pendingDelete,
		MetaPath:      e.metaPath,
		Meta:          e.meta,
		Preview:       e.preview,
		PreviewBinary: e.previewBinary,
		Err:           e.lastErr,
		Dead:          e.dead,
	}

	for _, h := range e.jobs {
		filesDone, filesTotal, bytesDone, bytesTotal := h.job.Progress()
		status := JobStatus{
			ID:         h.job.ID,
			Remote:     h.remote,
			FilesDone:  filesDone,
			FilesTotal: filesTotal,
			BytesDone:  bytesDone,
			BytesTotal: bytesTotal,
			Done:       h.terminal(),
		}
		for _, task := range h.job.Tasks() {
			if task.State.IsTerminal() {
				continue
			}
			status.Next = append(status.Next, task)
			if len(status.Next) == nextTaskWindow {
				break
			}
		}
		s.Jobs = append(s.Jobs, status)
	}
	sort.Slice(s.Jobs, func(i, j int) bool { return s.Jobs[i].ID < s.Jobs[j].ID })
	return s
}
