// Package progress renders transfer progress for the plain-CLI surface:
// an mpb multi-bar display for directory jobs and a single progressbar
// for one-file fetches. Everything draws to stderr so stdout stays
// scriptable.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/rovetools/rove/internal/events"
)

// DownloadUI renders one bar per in-flight file, driven by transfer
// events. Feed it from the goroutine draining the bus; it is not safe
// for concurrent Handle calls.
type DownloadUI struct {
	progress   *mpb.Progress
	isTerminal bool
	bars       map[string]*fileBar
	completed  int
	failed     int
}

type fileBar struct {
	bar        *mpb.Bar
	remote     string
	size       int64
	lastBytes  int64
	lastUpdate time.Time
	startTime  time.Time
}

// NewDownloadUI creates the multi-bar display. Off-terminal it degrades
// to one line per file.
func NewDownloadUI() *DownloadUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &DownloadUI{
		progress:   p,
		isTerminal: isTerminal,
		bars:       make(map[string]*fileBar),
	}
}

// Handle consumes one bus event. Events that are not transfer task
// events are ignored.
func (u *DownloadUI) Handle(ev events.Event) {
	te, ok := ev.(*events.TaskEvent)
	if !ok {
		return
	}
	switch ev.Type() {
	case events.EventTaskStarted:
		u.addBar(te)
	case events.EventTaskProgress:
		u.updateBar(te)
	case events.EventTaskDone:
		u.completeBar(te)
	}
}

func (u *DownloadUI) addBar(te *events.TaskEvent) {
	fb := &fileBar{
		remote:     te.RemotePath,
		size:       te.Total,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
	}

	if u.isTerminal {
		name := truncatePath(te.LocalPath, 2)
		fb.bar = u.progress.New(te.Total,
			mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("%s ← %s", name, te.RemotePath), decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		fmt.Fprintf(os.Stderr, "downloading %s (%.1f MiB)\n",
			te.RemotePath, float64(te.Total)/(1024*1024))
	}
	u.bars[te.RemotePath] = fb
}

func (u *DownloadUI) updateBar(te *events.TaskEvent) {
	fb, ok := u.bars[te.RemotePath]
	if !ok || fb.bar == nil {
		return
	}
	now := time.Now()
	delta := te.Transferred - fb.lastBytes
	if delta <= 0 {
		return
	}
	fb.bar.EwmaIncrBy(int(delta), now.Sub(fb.lastUpdate))
	fb.lastBytes = te.Transferred
	fb.lastUpdate = now
}

func (u *DownloadUI) completeBar(te *events.TaskEvent) {
	fb, ok := u.bars[te.RemotePath]
	if !ok {
		return
	}
	delete(u.bars, te.RemotePath)

	if te.Err == nil {
		u.completed++
		if fb.bar != nil {
			fb.bar.SetCurrent(fb.size)
			fb.bar.SetTotal(fb.size, true)
		}
		elapsed := time.Since(fb.startTime)
		speed := 0.0
		if elapsed > 0 {
			speed = float64(fb.size) / elapsed.Seconds() / (1024 * 1024)
		}
		u.println(fmt.Sprintf("✓ %s (%.1f MiB, %.1f MiB/s)",
			te.RemotePath, float64(fb.size)/(1024*1024), speed))
		return
	}

	u.failed++
	if fb.bar != nil {
		fb.bar.Abort(true)
	}
	u.println(fmt.Sprintf("✗ %s: %v", te.RemotePath, te.Err))
}

// println writes above the live bars without disturbing them.
func (u *DownloadUI) println(msg string) {
	if u.isTerminal {
		u.progress.Write([]byte(msg + "\n"))
		return
	}
	fmt.Fprintln(os.Stderr, msg)
}

// Wait blocks until every bar has drained.
func (u *DownloadUI) Wait() {
	u.progress.Wait()
}

// LogWriter returns a writer that prints above the bars, for redirecting
// logs while the display owns stderr.
func (u *DownloadUI) LogWriter() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return os.Stderr
}

// Completed returns how many files finished cleanly.
func (u *DownloadUI) Completed() int {
	return u.completed
}

// Failed returns how many files ended in error.
func (u *DownloadUI) Failed() int {
	return u.failed
}

// truncatePath keeps the last n path components.
func truncatePath(p string, n int) string {
	parts := strings.Split(filepath.ToSlash(p), "/")
	if len(parts) <= n {
		return p
	}
	return ".../" + strings.Join(parts[len(parts)-n:], "/")
}
