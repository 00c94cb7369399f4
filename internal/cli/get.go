package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovetools/rove/internal/events"
	"github.com/rovetools/rove/internal/pathutil"
	"github.com/rovetools/rove/internal/progress"
	"github.com/rovetools/rove/internal/session"
	"github.com/rovetools/rove/internal/transfer"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> <local-path>",
		Short: "Download a remote file or directory tree",
		Long: `Download a remote file or directory recursively.

Directory downloads discover files while earlier ones are already
transferring, so large trees start producing output immediately. A file
that fails does not stop the rest; failures are listed at the end.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := args[0]
			local, err := pathutil.ResolveLocal(args[1])
			if err != nil {
				return fmt.Errorf("resolving destination: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			sess, err := dial()
			if err != nil {
				return err
			}
			defer sess.Close()

			info, err := sess.Stat(remote)
			if err != nil {
				return err
			}

			if info.Mode.IsRegular() {
				return getSingleFile(sess, remote, local, cfg.Concurrency, cfg.BufferSize)
			}
			return getTree(sess, remote, local, cfg.Concurrency, cfg.BufferSize)
		},
	}
}

// getSingleFile renders one progressbar for one file.
func getSingleFile(sess *session.Session, remote, local string, concurrency, bufferSize int) error {
	bus := events.NewBus(1024)
	reporter := progress.NewBarReporter()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range bus.SubscribeAll() {
			switch te := ev.(type) {
			case *events.TaskEvent:
				switch ev.Type() {
				case events.EventTaskStarted:
					reporter.Start(te.Total, "downloading "+te.RemotePath)
				case events.EventTaskProgress:
					reporter.Update(te.Transferred)
				case events.EventTaskDone:
					if te.Err == nil {
						reporter.Update(te.Total)
					}
				}
			}
		}
	}()

	job := transfer.NewJob(sess, bus, transfer.Options{
		Concurrency: concurrency,
		BufferSize:  bufferSize,
	})
	report, err := job.Run(GetContext(), remote, local)
	bus.Close()
	<-done

	if err != nil {
		reporter.Error(err)
		return err
	}
	reporter.Finish()
	return summarize(report)
}

// getTree renders the mpb multi-bar display for a directory job.
func getTree(sess *session.Session, remote, local string, concurrency, bufferSize int) error {
	bus := events.NewBus(4096)
	ui := progress.NewDownloadUI()

	log := GetLogger()
	prevOut := log.Output()
	log.SetOutput(ui.LogWriter())
	defer log.SetOutput(prevOut)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range bus.SubscribeAll() {
			ui.Handle(ev)
		}
	}()

	job := transfer.NewJob(sess, bus, transfer.Options{
		Concurrency: concurrency,
		BufferSize:  bufferSize,
	})
	report, err := job.Run(GetContext(), remote, local)
	bus.Close()
	<-done
	ui.Wait()

	if err != nil {
		return err
	}
	return summarize(report)
}

func summarize(report *transfer.Report) error {
	total := report.Completed + len(report.Failed) + report.Cancelled
	fmt.Printf("%d/%d files, %.1f MiB in %s\n",
		report.Completed, total,
		float64(report.Bytes)/(1024*1024),
		report.Elapsed.Round(10*time.Millisecond))

	for _, f := range report.Failed {
		fmt.Printf("  failed: %s: %v\n", f.RemotePath, f.Err)
	}
	if report.Cancelled > 0 {
		fmt.Printf("  cancelled: %d files\n", report.Cancelled)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d files failed", len(report.Failed), total)
	}
	return nil
}
