// Package ui holds the interaction engine behind the interactive
// browser: which mode the user is in, what the current listing shows and
// which jobs are running. Rendering and key handling live elsewhere; the
// engine exposes inputs as methods and output as Snapshot values.
//
// The engine is single-threaded: inputs and HandleEvent must be called
// from one goroutine (the foreground loop). Blocking work runs in
// background goroutines that report back over the event bus, so the loop
// observes results in one deterministic order.
package ui

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/rovetools/rove/internal/events"
	"github.com/rovetools/rove/internal/logging"
	"github.com/rovetools/rove/internal/ops"
	"github.com/rovetools/rove/internal/remotefs"
	"github.com/rovetools/rove/internal/session"
	"github.com/rovetools/rove/internal/transfer"
)

// Mode is the single foreground interaction mode.
type Mode int

const (
	ModeBrowsing Mode = iota
	ModeConfirmingDestructive
	ModeViewingMetadata
	ModeEditingExternally
	ModeDownloading
	ModeErrorDisplayed
)

func (m Mode) String() string {
	switch m {
	case ModeBrowsing:
		return "browsing"
	case ModeConfirmingDestructive:
		return "confirming"
	case ModeViewingMetadata:
		return "metadata"
	case ModeEditingExternally:
		return "editing"
	case ModeDownloading:
		return "downloading"
	case ModeErrorDisplayed:
		return "error"
	default:
		return "unknown"
	}
}

// Options tunes the engine.
type Options struct {
	Concurrency int
	BufferSize  int
	ShowHidden  bool
	Editor      string
}

type jobHandle struct {
	job    *transfer.Job
	remote string
	cancel context.CancelFunc
	done   bool
	// finished is closed by the download goroutine when Run returns.
	// The bus can drop events under load, so job completion must not
	// depend on a JobDoneEvent arriving.
	finished chan struct{}
}

// terminal reports whether the job reached its end, from either the
// JobDone event or the download goroutine itself.
func (h *jobHandle) terminal() bool {
	if h.done {
		return true
	}
	select {
	case <-h.finished:
		return true
	default:
		return false
	}
}

// Engine is the interaction state machine.
type Engine struct {
	fs   session.FS
	tree *remotefs.Tree
	exec *ops.Executor
	bus  *events.Bus
	log  *logging.Logger
	opts Options

	eventCh <-chan events.Event

	mode       Mode
	cwd        string
	loading    bool
	showHidden bool
	nameFilter string

	pendingDelete string
	metaPath      string
	meta          session.Entry
	preview       string
	previewBinary bool
	lastErr       error
	dead          bool

	jobs map[string]*jobHandle
}

// New builds an engine over one session. shell may be nil in
// non-interactive surfaces.
func New(fs session.FS, shell ops.ShellRunner, bus *events.Bus, log *logging.Logger, opts Options) *Engine {
	tree := remotefs.New(fs, "/")
	exec := ops.NewExecutor(fs, tree, shell)
	exec.BufferSize = opts.BufferSize
	if opts.Editor != "" {
		exec.RunEditor = ops.EditorRunner(opts.Editor)
	}
	return &Engine{
		fs:         fs,
		tree:       tree,
		exec:       exec,
		bus:        bus,
		log:        log,
		opts:       opts,
		eventCh:    bus.SubscribeAll(),
		mode:       ModeBrowsing,
		showHidden: opts.ShowHidden,
		jobs:       make(map[string]*jobHandle),
	}
}

// Events is the ordered channel the foreground loop drains.
func (e *Engine) Events() <-chan events.Event {
	return e.eventCh
}

// Tree exposes the listing cache, mainly for tests and the CLI surface.
func (e *Engine) Tree() *remotefs.Tree {
	return e.tree
}

// Executor exposes the operation executor for editor overrides.
func (e *Engine) Executor() *ops.Executor {
	return e.exec
}

// Start resolves the entry path in the background and loads its listing.
// The canonical form arrives as a PathResolvedEvent.
func (e *Engine) Start(entry string) {
	e.cwd = path.Clean(entry)
	e.loading = true
	go func() {
		canon, err := e.fs.Canonicalize(entry)
		if err != nil {
			e.publishFailure(err)
			return
		}
		e.bus.Publish(&events.PathResolvedEvent{
			BaseEvent: events.Base(events.EventPathResolved),
			Path:      canon,
		})
		e.fetchListing(canon)
	}()
}

// fetchListing runs on a background goroutine.
func (e *Engine) fetchListing(p string) {
	entries, err := e.fs.List(p)
	var ce *session.ConnError
	if errors.As(err, &ce) {
		e.bus.Publish(&events.ConnLostEvent{BaseEvent: events.Base(events.EventConnLost), Err: ce})
		return
	}
	e.bus.Publish(&events.ListingLoadedEvent{
		BaseEvent: events.Base(events.EventListingLoaded),
		Path:      p,
		Entries:   entries,
		Err:       err,
	})
}

func (e *Engine) publishFailure(err error) {
	var ce *session.ConnError
	if errors.As(err, &ce) {
		e.bus.Publish(&events.ConnLostEvent{BaseEvent: events.Base(events.EventConnLost), Err: ce})
		return
	}
	e.bus.Publish(&events.RemoteErrorEvent{BaseEvent: events.Base(events.EventRemoteError), Err: err})
}

// HandleEvent applies one bus event to the engine state.
func (e *Engine) HandleEvent(ev events.Event) {
	switch ev := ev.(type) {
	case *events.PathResolvedEvent:
		e.cwd = ev.Path

	case *events.ListingLoadedEvent:
		if ev.Err != nil {
			if ev.Path == e.cwd {
				e.loading = false
			}
			e.fail(ev.Err)
			return
		}
		e.tree.SetChildren(ev.Path, ev.Entries)
		if ev.Path == e.cwd {
			e.loading = false
		}

	case *events.FilePreviewEvent:
		if e.mode == ModeViewingMetadata && ev.Path == e.metaPath && ev.Err == nil {
			e.preview = ev.Content
			e.previewBinary = ev.Binary
		}

	case *events.JobDoneEvent:
		if h, ok := e.jobs[ev.JobID]; ok {
			h.done = true
		}
		e.reconcileJobs()

	case *events.OpDoneEvent:
		if ev.Err != nil {
			e.fail(ev.Err)
		}

	case *events.RemoteErrorEvent:
		e.fail(ev.Err)

	case *events.ConnLostEvent:
		e.dead = true
		e.fail(ev.Err)
	}
}

// reconcileJobs folds terminal job state back into the engine. It runs
// on every snapshot as well as on JobDone events, so a dropped event
// cannot leave the engine stuck in Downloading with its registry full.
func (e *Engine) reconcileJobs() {
	if len(e.jobs) == 0 {
		return
	}
	for _, h := range e.jobs {
		if !h.terminal() {
			return
		}
		h.done = true
	}
	e.jobs = make(map[string]*jobHandle)
	if e.mode == ModeDownloading {
		e.mode = ModeBrowsing
	}
}

// fail surfaces an error. A transport failure marks the engine dead; a
// remote rejection is recoverable and dismissable.
func (e *Engine) fail(err error) {
	e.lastErr = err
	var ce *session.ConnError
	if errors.As(err, &ce) {
		e.dead = true
	}
	e.mode = ModeErrorDisplayed
}

// Dead reports whether the transport is gone.
func (e *Engine) Dead() bool {
	return e.dead
}

// Open navigates into a directory, loading it if the cache misses.
func (e *Engine) Open(p string) {
	if e.dead {
		return
	}
	p = path.Clean(p)
	e.cwd = p
	e.nameFilter = ""
	if e.tree.Loaded(p) {
		e.loading = false
		return
	}
	e.loading = true
	go e.fetchListing(p)
}

// Up navigates to the parent directory.
func (e *Engine) Up() {
	if e.cwd == "/" {
		return
	}
	e.Open(path.Dir(e.cwd))
}

// Refresh drops the current listing and refetches it.
func (e *Engine) Refresh() {
	if e.dead {
		return
	}
	e.tree.Invalidate(e.cwd)
	e.loading = true
	go e.fetchListing(e.cwd)
}

// ToggleHidden flips dot-file visibility. Purely a view change.
func (e *Engine) ToggleHidden() {
	e.showHidden = !e.showHidden
}

// SetNameFilter narrows the listing to names containing the substring.
func (e *Engine) SetNameFilter(filter string) {
	e.nameFilter = filter
}

// ShowMetadata opens the metadata overlay for an entry of the current
// listing. Regular files additionally get a content preview fetched in
// the background.
func (e *Engine) ShowMetadata(p string) error {
	p = path.Clean(p)
	entry, ok := e.tree.Entry(p)
	if !ok {
		return fmt.Errorf("%s: not in the current listing", p)
	}
	e.mode = ModeViewingMetadata
	e.metaPath = p
	e.meta = entry
	e.preview = ""
	e.previewBinary = false
	if entry.Mode.IsRegular() {
		go e.fetchPreview(p)
	}
	return nil
}

// CloseOverlay returns from a transient overlay to browsing. A dead
// engine keeps its error on screen.
func (e *Engine) CloseOverlay() {
	if e.dead {
		return
	}
	e.reconcileJobs()
	switch e.mode {
	case ModeViewingMetadata, ModeErrorDisplayed, ModeConfirmingDestructive:
		e.pendingDelete = ""
		if len(e.jobs) > 0 {
			e.mode = ModeDownloading
		} else {
			e.mode = ModeBrowsing
		}
	}
}

// RequestDelete asks for confirmation before a destructive delete.
func (e *Engine) RequestDelete(p string) {
	if e.dead {
		return
	}
	e.pendingDelete = path.Clean(p)
	e.mode = ModeConfirmingDestructive
}

// ConfirmDelete runs the pending delete in the background. The outcome
// arrives as an OpDoneEvent.
func (e *Engine) ConfirmDelete() {
	if e.mode != ModeConfirmingDestructive || e.pendingDelete == "" {
		return
	}
	target := e.pendingDelete
	e.pendingDelete = ""
	e.mode = ModeBrowsing
	go func() {
		report, err := e.exec.Delete(context.Background(), ops.Delete{Path: target})
		if err == nil {
			err = report.Err()
		}
		e.bus.Publish(&events.OpDoneEvent{
			BaseEvent: events.Base(events.EventOpDone),
			Kind:      "delete",
			Path:      target,
			Err:       err,
		})
	}()
}

// Decline abandons the pending delete.
func (e *Engine) Decline() {
	e.pendingDelete = ""
	if e.mode == ModeConfirmingDestructive {
		e.mode = ModeBrowsing
	}
}

// Move renames src to dst. A collision with a cached destination entry
// is rejected immediately, before any network traffic; the rename itself
// runs in the background.
func (e *Engine) Move(src, dst string) error {
	if e.dead {
		return e.lastErr
	}
	dst = path.Clean(dst)
	if _, exists := e.tree.Entry(dst); exists {
		return &ops.ErrDestinationExists{Dst: dst}
	}
	go func() {
		err := e.exec.Move(context.Background(), ops.Move{Src: src, Dst: dst})
		e.bus.Publish(&events.OpDoneEvent{
			BaseEvent: events.Base(events.EventOpDone),
			Kind:      "move",
			Path:      src,
			Err:       err,
		})
	}()
	return nil
}

// CreateFile creates an empty file in the background.
func (e *Engine) CreateFile(p string) {
	e.runOp("create-file", p, ops.CreateFile{Path: p})
}

// CreateDir creates a directory in the background.
func (e *Engine) CreateDir(p string) {
	e.runOp("create-dir", p, ops.CreateDir{Path: p})
}

func (e *Engine) runOp(kind, p string, req ops.Request) {
	if e.dead {
		return
	}
	go func() {
		err := e.exec.Execute(context.Background(), req)
		e.bus.Publish(&events.OpDoneEvent{
			BaseEvent: events.Base(events.EventOpDone),
			Kind:      kind,
			Path:      p,
			Err:       err,
		})
	}()
}

// Download starts a background job pulling remote to local. A second
// request for a path already being downloaded is rejected; jobs for
// unrelated paths run side by side.
func (e *Engine) Download(remote, local string) error {
	if e.dead {
		return e.lastErr
	}
	remote = path.Clean(remote)
	e.reconcileJobs()
	for _, h := range e.jobs {
		if !h.terminal() && h.remote == remote {
			return fmt.Errorf("%s: already downloading", remote)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := transfer.NewJob(e.fs, e.bus, transfer.Options{
		Concurrency: e.opts.Concurrency,
		BufferSize:  e.opts.BufferSize,
	})
	h := &jobHandle{job: job, remote: remote, cancel: cancel, finished: make(chan struct{})}
	e.jobs[job.ID] = h
	e.mode = ModeDownloading

	go func() {
		defer cancel()
		defer close(h.finished)
		_, err := job.Run(ctx, remote, local)
		var ce *session.ConnError
		if errors.As(err, &ce) {
			e.bus.Publish(&events.ConnLostEvent{BaseEvent: events.Base(events.EventConnLost), Err: ce})
		}
	}()
	return nil
}

// CancelDownloads stops every running job. Tasks in flight drop their
// partial files; the jobs still report terminally via JobDone.
func (e *Engine) CancelDownloads() {
	for _, h := range e.jobs {
		h.cancel()
	}
}

// EditFile blocks the foreground on the edit round trip: the editor owns
// the terminal until it exits.
func (e *Engine) EditFile(ctx context.Context, p string) error {
	if e.dead {
		return e.lastErr
	}
	e.mode = ModeEditingExternally
	err := e.exec.Edit(ctx, ops.Edit{Path: path.Clean(p)})
	e.mode = ModeBrowsing
	if err != nil {
		e.fail(err)
	}
	return err
}

// OpenShell blocks the foreground on an interactive shell in cwd.
func (e *Engine) OpenShell(ctx context.Context) error {
	if e.dead {
		return e.lastErr
	}
	err := e.exec.OpenShell(ctx, ops.Shell{Dir: e.cwd})
	if err != nil {
		e.fail(err)
	}
	return err
}
