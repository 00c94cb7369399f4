package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rovetools/rove/internal/bufpool"
	"github.com/rovetools/rove/internal/diskspace"
	"github.com/rovetools/rove/internal/events"
	"github.com/rovetools/rove/internal/session"
)

const progressInterval = 150 * time.Millisecond

// Options tunes a job's worker pool.
type Options struct {
	// Concurrency bounds simultaneous file transfers.
	Concurrency int
	// BufferSize is the copy chunk size in bytes.
	BufferSize int
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 32 * 1024
	}
}

// TaskError records one file that could not be transferred.
type TaskError struct {
	RemotePath string
	Err        error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.RemotePath, e.Err)
}

// Report summarizes a finished job. The job is terminal when Run returns:
// every discovered task is completed, failed or cancelled. Bytes counts
// completed files only; partial files of failed or cancelled tasks are
// removed from disk and do not count.
type Report struct {
	Completed int
	Failed    []TaskError
	Cancelled int
	Bytes     int64
	Elapsed   time.Duration
}

// Job downloads one remote file or directory tree. Directory discovery
// and file transfers run concurrently; the pool size bounds both.
type Job struct {
	ID   string
	fs   session.FS
	bus  *events.Bus
	opts Options
	pool *bufpool.Pool

	mu    sync.Mutex
	tasks []*Task

	filesTotal atomic.Int64
	filesDone  atomic.Int64
	bytesTotal atomic.Int64
	bytesDone  atomic.Int64

	fatal atomic.Value // *session.ConnError
}

var jobCounter atomic.Int64

// NewJob creates a job. bus may be nil when no one is watching.
func NewJob(fs session.FS, bus *events.Bus, opts Options) *Job {
	opts.normalize()
	return &Job{
		ID:   fmt.Sprintf("job-%d-%d", time.Now().UnixNano(), jobCounter.Add(1)),
		fs:   fs,
		bus:  bus,
		opts: opts,
		pool: bufpool.New(opts.BufferSize),
	}
}

// Tasks returns display snapshots of every discovered task.
func (j *Job) Tasks() []Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Snapshot, len(j.tasks))
	for i, t := range j.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Progress returns the live aggregate counters.
func (j *Job) Progress() (filesDone, filesTotal int, bytesDone, bytesTotal int64) {
	return int(j.filesDone.Load()), int(j.filesTotal.Load()),
		j.bytesDone.Load(), j.bytesTotal.Load()
}

// Run transfers remoteRoot to localRoot and blocks until every task is
// terminal. Cancelling ctx stops in-flight transfers, removes their
// partial local files and prevents pending tasks from starting; the
// report still accounts for every discovered task. A transport failure
// aborts the job and is returned alongside the report.
func (j *Job) Run(ctx context.Context, remoteRoot, localRoot string) (*Report, error) {
	start := time.Now()

	rootInfo, err := j.fs.Stat(remoteRoot)
	if err != nil {
		return nil, err
	}

	if !rootInfo.IsDir() {
		dest := singleFileDest(remoteRoot, localRoot)
		if err := diskspace.CheckAvailableSpace(dest, rootInfo.Size, diskspace.SafetyMargin); err != nil {
			return nil, err
		}
	}

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	taskCh := make(chan *Task)

	var workWG sync.WaitGroup
	for i := 0; i < j.opts.Concurrency; i++ {
		workWG.Add(1)
		go func() {
			defer workWG.Done()
			for task := range taskCh {
				if jobCtx.Err() != nil || j.fatal.Load() != nil {
					j.cancelTask(task)
					continue
				}
				j.runTask(jobCtx, cancelJob, task)
			}
		}()
	}

	if rootInfo.IsDir() {
		j.walkTree(jobCtx, remoteRoot, localRoot, taskCh)
	} else {
		dest := singleFileDest(remoteRoot, localRoot)
		j.emitTask(taskCh, remoteRoot, dest, rootInfo.Size)
	}
	close(taskCh)
	workWG.Wait()

	report := j.buildReport(start)
	j.publish(&events.JobDoneEvent{BaseEvent: events.Base(events.EventJobDone), JobID: j.ID})

	if f := j.fatal.Load(); f != nil {
		return report, f.(*session.ConnError)
	}
	return report, nil
}

// singleFileDest resolves where a lone file lands: into localRoot when it
// is an existing directory, at localRoot otherwise.
func singleFileDest(remotePath, localRoot string) string {
	if fi, err := os.Stat(localRoot); err == nil && fi.IsDir() {
		return filepath.Join(localRoot, path.Base(remotePath))
	}
	return localRoot
}

// dirWork is one directory waiting to be scanned.
type dirWork struct {
	remote string
	local  string
}

// walker is a shared work queue for directory discovery. Workers pop
// directories and push the subdirectories they find; pending counts
// directories queued or mid-scan, so workers know when the tree is
// exhausted rather than merely momentarily idle.
type walker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	stack   []dirWork
	pending int
	aborted bool
}

func newWalker() *walker {
	w := &walker{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *walker) push(work dirWork) {
	w.mu.Lock()
	w.stack = append(w.stack, work)
	w.pending++
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *walker) pop() (dirWork, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.stack) == 0 && w.pending > 0 && !w.aborted {
		w.cond.Wait()
	}
	if w.aborted || len(w.stack) == 0 {
		return dirWork{}, false
	}
	work := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	return work, true
}

func (w *walker) finish() {
	w.mu.Lock()
	w.pending--
	done := w.pending == 0
	w.mu.Unlock()
	if done {
		w.cond.Broadcast()
	}
}

func (w *walker) abort() {
	w.mu.Lock()
	w.aborted = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// walkTree discovers every file under remoteRoot with a small pool of
// scanners, feeding tasks to the transfer workers as it goes.
func (j *Job) walkTree(ctx context.Context, remoteRoot, localRoot string, taskCh chan<- *Task) {
	w := newWalker()
	w.push(dirWork{remote: path.Clean(remoteRoot), local: localRoot})

	stop := context.AfterFunc(ctx, w.abort)
	defer stop()

	scanners := j.opts.Concurrency
	if scanners > 4 {
		scanners = 4
	}

	var wg sync.WaitGroup
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				work, ok := w.pop()
				if !ok {
					return
				}
				j.scanDir(ctx, work, w, taskCh)
				w.finish()
			}
		}()
	}
	wg.Wait()
}

func (j *Job) scanDir(ctx context.Context, work dirWork, w *walker, taskCh chan<- *Task) {
	if err := os.MkdirAll(work.local, 0o755); err != nil {
		j.recordFailure(work.remote, err)
		return
	}

	entries, err := j.fs.List(work.remote)
	if err != nil {
		var ce *session.ConnError
		if errors.As(err, &ce) {
			j.fatal.CompareAndSwap(nil, ce)
			w.abort()
			return
		}
		// One unreadable directory does not stop the rest of the tree.
		j.recordFailure(work.remote, err)
		return
	}

	for _, e := range entries {
		remote := path.Join(work.remote, e.Name)
		local := filepath.Join(work.local, e.Name)
		switch {
		case e.IsDir():
			w.push(dirWork{remote: remote, local: local})
		case e.Mode.IsRegular():
			select {
			case taskCh <- j.newDiscoveredTask(remote, local, e.Size):
			case <-ctx.Done():
				return
			}
		default:
			// Symlinks and specials are skipped rather than followed;
			// a link cycle would make the walk unbounded.
		}
	}
}

func (j *Job) newDiscoveredTask(remote, local string, size int64) *Task {
	task := NewTask(remote, local, size)
	j.mu.Lock()
	j.tasks = append(j.tasks, task)
	j.mu.Unlock()
	j.filesTotal.Add(1)
	j.bytesTotal.Add(size)
	j.publishJobProgress()
	return task
}

func (j *Job) emitTask(taskCh chan<- *Task, remote, local string, size int64) {
	taskCh <- j.newDiscoveredTask(remote, local, size)
}

// recordFailure tracks a failure that never became a runnable task, such
// as an unlistable directory. The task goes straight from pending to
// failed; it never transferred anything.
func (j *Job) recordFailure(remotePath string, err error) {
	task := NewTask(remotePath, "", 0)
	task.Fail(err)
	j.mu.Lock()
	j.tasks = append(j.tasks, task)
	j.mu.Unlock()
}

// cancelTask retires a task that never started. Pending moves straight
// to cancelled; the task must not pass through active.
func (j *Job) cancelTask(task *Task) {
	task.SetState(TaskCancelled)
	j.publishTaskDone(task)
}

func (j *Job) runTask(ctx context.Context, cancelJob context.CancelFunc, task *Task) {
	task.SetState(TaskActive)
	j.publish(&events.TaskEvent{
		BaseEvent:  events.Base(events.EventTaskStarted),
		JobID:      j.ID,
		RemotePath: task.RemotePath,
		LocalPath:  task.LocalPath,
		Total:      task.Size,
	})

	err := j.copyFile(ctx, task)
	switch {
	case err == nil:
		task.SetState(TaskCompleted)
		j.filesDone.Add(1)
	case errors.Is(err, context.Canceled) || errors.Is(err, session.ErrCancelled):
		task.SetState(TaskCancelled)
	default:
		var ce *session.ConnError
		if errors.As(err, &ce) {
			j.fatal.CompareAndSwap(nil, ce)
			cancelJob()
		}
		task.Fail(err)
	}
	j.publishTaskDone(task)
	j.publishJobProgress()
}

// copyFile streams one remote file to disk, checking for cancellation
// between chunks. The partial local file is removed on any failure.
func (j *Job) copyFile(ctx context.Context, task *Task) error {
	rc, _, err := j.fs.Open(task.RemotePath)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(task.LocalPath), 0o755); err != nil {
		return err
	}
	if err := diskspace.CheckAvailableSpace(task.LocalPath, task.Size, diskspace.SafetyMargin); err != nil {
		return err
	}
	out, err := os.Create(task.LocalPath)
	if err != nil {
		return err
	}

	cleanup := func(cause error) error {
		out.Close()
		os.Remove(task.LocalPath)
		return cause
	}

	bufp := j.pool.Get()
	defer j.pool.Put(bufp)
	buf := *bufp
	lastEmit := time.Now()
	for {
		if ctx.Err() != nil {
			return cleanup(context.Canceled)
		}
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return cleanup(werr)
			}
			task.AddTransferred(int64(n))
			j.bytesDone.Add(int64(n))
			if time.Since(lastEmit) >= progressInterval {
				lastEmit = time.Now()
				j.publishTaskProgress(task)
				j.publishJobProgress()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return cleanup(rerr)
		}
	}
	return out.Close()
}

func (j *Job) buildReport(start time.Time) *Report {
	report := &Report{Elapsed: time.Since(start)}
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range j.tasks {
		switch t.State() {
		case TaskCompleted:
			report.Completed++
			report.Bytes += t.Transferred()
		case TaskFailed:
			report.Failed = append(report.Failed, TaskError{RemotePath: t.RemotePath, Err: t.Err()})
		case TaskCancelled:
			report.Cancelled++
		}
	}
	return report
}

func (j *Job) publish(ev events.Event) {
	if j.bus != nil {
		j.bus.Publish(ev)
	}
}

func (j *Job) publishTaskProgress(task *Task) {
	snap := task.Clone()
	j.publish(&events.TaskEvent{
		BaseEvent:   events.Base(events.EventTaskProgress),
		JobID:       j.ID,
		RemotePath:  snap.RemotePath,
		LocalPath:   snap.LocalPath,
		Transferred: snap.Transferred,
		Total:       snap.Size,
	})
}

func (j *Job) publishTaskDone(task *Task) {
	snap := task.Clone()
	j.publish(&events.TaskEvent{
		BaseEvent:   events.Base(events.EventTaskDone),
		JobID:       j.ID,
		RemotePath:  snap.RemotePath,
		LocalPath:   snap.LocalPath,
		Transferred: snap.Transferred,
		Total:       snap.Size,
		Err:         snap.Err,
	})
}

func (j *Job) publishJobProgress() {
	j.publish(&events.JobProgressEvent{
		BaseEvent:  events.Base(events.EventJobProgress),
		JobID:      j.ID,
		FilesDone:  int(j.filesDone.Load()),
		FilesTotal: int(j.filesTotal.Load()),
		BytesDone:  j.bytesDone.Load(),
		BytesTotal: j.bytesTotal.Load(),
	})
}
