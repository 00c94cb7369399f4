// Package events provides the event bus that carries results from
// background work (network calls, transfers, child processes) into the
// foreground loop. Background goroutines never touch shared state
// directly; they publish here and the foreground loop applies the result.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rovetools/rove/internal/session"
)

// EventType identifies the kind of an event on the bus.
type EventType string

const (
	EventListingLoaded EventType = "listing_loaded"
	EventPathResolved  EventType = "path_resolved"
	EventFilePreview   EventType = "file_preview"

	EventTaskStarted  EventType = "task_started"
	EventTaskProgress EventType = "task_progress"
	EventTaskDone     EventType = "task_done"
	EventJobProgress  EventType = "job_progress"
	EventJobDone      EventType = "job_done"

	EventOpDone EventType = "op_done"

	EventRemoteError EventType = "remote_error"
	EventConnLost    EventType = "conn_lost"
)

// Event is the base interface for everything published on the bus.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides the common fields.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// Base constructs a BaseEvent stamped with the current time.
func Base(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// ListingLoadedEvent carries the result of a directory listing round
// trip. Entries is nil when Err is set.
type ListingLoadedEvent struct {
	BaseEvent
	Path    string
	Entries []session.Entry
	Err     error
}

// PathResolvedEvent carries the canonicalized form of the entry path.
type PathResolvedEvent struct {
	BaseEvent
	Path string
}

// FilePreviewEvent carries the content of a remote file for the details
// pane. Content is empty and Binary true when the file does not look like
// text.
type FilePreviewEvent struct {
	BaseEvent
	Path    string
	Content string
	Binary  bool
	Err     error
}

// TaskEvent reports one transfer task's lifecycle. Transferred is
// non-decreasing across events for the same task.
type TaskEvent struct {
	BaseEvent
	JobID       string
	RemotePath  string
	LocalPath   string
	Transferred int64
	Total       int64
	Err         error
}

// JobProgressEvent is the aggregate snapshot of a running download job.
// BytesTotal and FilesTotal grow while discovery is still running.
type JobProgressEvent struct {
	BaseEvent
	JobID      string
	FilesDone  int
	FilesTotal int
	BytesDone  int64
	BytesTotal int64
}

// JobDoneEvent signals that every task of a job reached a terminal state.
type JobDoneEvent struct {
	BaseEvent
	JobID string
}

// OpDoneEvent reports completion of a mutating operation.
type OpDoneEvent struct {
	BaseEvent
	Kind string
	Path string
	Err  error
}

// RemoteErrorEvent surfaces a protocol-level rejection outside of any
// specific task or operation.
type RemoteErrorEvent struct {
	BaseEvent
	Err error
}

// ConnLostEvent signals a transport failure. The session is dead; every
// outstanding operation on it is gone.
type ConnLostEvent struct {
	BaseEvent
	Err error
}

const defaultBuffer = 256

// Bus fans events out to subscribers. Publish never blocks; a subscriber
// that falls behind loses events and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]chan Event
	all     []chan Event
	buffer  int
	closed  bool
	dropped atomic.Int64
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		subs:   make(map[EventType][]chan Event),
		buffer: buffer,
	}
}

// Subscribe returns a channel receiving events of one type.
func (b *Bus) Subscribe(t EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, b.buffer)
	b.subs[t] = append(b.subs[t], ch)
	return ch
}

// SubscribeAll returns a channel receiving every event, in publish order.
// This is the channel the foreground loop drains.
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, b.buffer)
	b.all = append(b.all, ch)
	return ch
}

// Publish delivers an event to all matching subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[ev.Type()] {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
