package progress

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Reporter is a single-operation progress display.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
}

// BarReporter renders one progressbar on stderr, used for single-file
// fetches where a multi-bar display would be noise.
type BarReporter struct {
	bar *progressbar.ProgressBar
}

// NewBarReporter creates an idle reporter; Start arms it.
func NewBarReporter() *BarReporter {
	return &BarReporter{}
}

func (r *BarReporter) Start(total int64, description string) {
	r.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (r *BarReporter) Update(current int64) {
	if r.bar != nil {
		_ = r.bar.Set64(current)
	}
}

func (r *BarReporter) Finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

func (r *BarReporter) Error(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
	}
}

// NopReporter discards all progress, for quiet or scripted runs.
type NopReporter struct{}

func (NopReporter) Start(total int64, description string) {}
func (NopReporter) Update(current int64)                  {}
func (NopReporter) Finish()                               {}
func (NopReporter) Error(err error)                       {}
