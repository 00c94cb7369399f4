// Package transfer moves files between the remote host and the local
// filesystem. A Job discovers files and copies them with a bounded worker
// pool; discovery and copying overlap, so totals grow while transfers are
// already running.
package transfer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TaskState represents the current state of a transfer task.
type TaskState string

const (
	TaskPending   TaskState = "pending"   // Discovered, waiting for a worker
	TaskActive    TaskState = "active"    // Transferring bytes
	TaskCompleted TaskState = "completed" // All bytes written locally
	TaskFailed    TaskState = "failed"    // Gave up on this file
	TaskCancelled TaskState = "cancelled" // Stopped by cancellation
)

// IsTerminal reports whether no further transition can happen.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

var taskCounter atomic.Int64

func generateTaskID() string {
	return fmt.Sprintf("task-%d-%d", time.Now().UnixNano(), taskCounter.Add(1))
}

// Task is one file transfer inside a job. Use the methods; fields behind
// the mutex are shared between the worker and progress readers.
type Task struct {
	ID         string
	RemotePath string
	LocalPath  string
	Size       int64

	mu          sync.RWMutex
	state       TaskState
	transferred int64
	err         error

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewTask creates a task in the pending state.
func NewTask(remotePath, localPath string, size int64) *Task {
	return &Task{
		ID:         generateTaskID(),
		RemotePath: remotePath,
		LocalPath:  localPath,
		Size:       size,
		state:      TaskPending,
		createdAt:  time.Now(),
	}
}

// State returns the current state.
func (t *Task) State() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// SetState transitions the task. Transitions out of a terminal state and
// back to pending are ignored, so status moves in one direction only.
func (t *Task) SetState(state TaskState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() || state == TaskPending {
		return false
	}
	t.state = state
	if state == TaskActive && t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
	if state.IsTerminal() {
		t.completedAt = time.Now()
	}
	return true
}

// Fail marks the task failed with its cause.
func (t *Task) Fail(err error) {
	t.mu.Lock()
	if !t.state.IsTerminal() {
		t.state = TaskFailed
		t.err = err
		t.completedAt = time.Now()
	}
	t.mu.Unlock()
}

// AddTransferred records n more bytes, clamped so the counter never
// exceeds Size.
func (t *Task) AddTransferred(n int64) {
	t.mu.Lock()
	t.transferred += n
	if t.Size > 0 && t.transferred > t.Size {
		t.transferred = t.Size
	}
	t.mu.Unlock()
}

// Transferred returns bytes written so far.
func (t *Task) Transferred() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transferred
}

// Err returns the failure cause, if any.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Snapshot is a consistent copy of a task for display.
type Snapshot struct {
	ID          string
	RemotePath  string
	LocalPath   string
	Size        int64
	Transferred int64
	State       TaskState
	Err         error
}

// Clone returns a display snapshot taken under the lock.
func (t *Task) Clone() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:          t.ID,
		RemotePath:  t.RemotePath,
		LocalPath:   t.LocalPath,
		Size:        t.Size,
		Transferred: t.transferred,
		State:       t.state,
		Err:         t.err,
	}
}
