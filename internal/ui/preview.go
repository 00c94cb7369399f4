package ui

import (
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/rovetools/rove/internal/events"
)

// previewLimit caps how much of a file the details pane reads.
const previewLimit = 64 * 1024

// fetchPreview runs on a background goroutine and publishes the file
// head for the metadata overlay.
func (e *Engine) fetchPreview(p string) {
	rc, _, err := e.fs.Open(p)
	if err != nil {
		e.bus.Publish(&events.FilePreviewEvent{
			BaseEvent: events.Base(events.EventFilePreview),
			Path:      p,
			Err:       err,
		})
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, previewLimit))
	if err != nil {
		e.bus.Publish(&events.FilePreviewEvent{
			BaseEvent: events.Base(events.EventFilePreview),
			Path:      p,
			Err:       err,
		})
		return
	}

	ev := &events.FilePreviewEvent{
		BaseEvent: events.Base(events.EventFilePreview),
		Path:      p,
	}
	if looksBinary(data) {
		ev.Binary = true
	} else {
		ev.Content = string(data)
	}
	e.bus.Publish(ev)
}

// looksBinary flags content that would garble a text pane: NUL bytes, or
// mostly invalid UTF-8.
func looksBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	invalid := 0
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		data = data[size:]
	}
	return invalid > 16
}
