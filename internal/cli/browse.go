package cli

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovetools/rove/internal/events"
	"github.com/rovetools/rove/internal/pathutil"
	"github.com/rovetools/rove/internal/ui"
)

func newBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse [path]",
		Short: "Browse the remote filesystem interactively",
		Long: `Open an interactive session on the remote host. Directory listings
are cached; toggling hidden files or filtering never refetches.

Commands inside the session:
  ls                 show the current listing
  cd <dir>           enter a directory        up        go to the parent
  get <name> [dest]  download file or tree    jobs      show running downloads
  info <name>        metadata and preview     cancel    stop downloads
  rm <name>          delete (asks first)      mv <a> <b>  rename
  touch <name>       create empty file        mkdir <name>  create directory
  edit <name>        edit in local $EDITOR    shell     open a remote shell
  hidden             toggle dot-files         filter [s]  narrow by substring
  refresh            re-list from the server  quit      leave`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := "."
			if len(args) == 1 {
				entry = args[0]
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

			bus := events.NewBus(4096)
			defer bus.Close()

			engine := ui.New(sess, sess, bus, GetLogger(), ui.Options{
				Concurrency: cfg.Concurrency,
				BufferSize:  cfg.BufferSize,
				ShowHidden:  cfg.ShowHidden,
				Editor:      cfg.ResolveEditor(),
			})
			engine.Start(entry)

			return browseLoop(engine)
		},
	}
}

// browseLoop is the foreground loop: it drains engine events between
// commands so state changes apply in order, then reads the next input.
func browseLoop(engine *ui.Engine) error {
	scanner := bufio.NewScanner(os.Stdin)
	settle(engine, 2*time.Second)
	printListing(engine.Snapshot())

	for {
		if engine.Dead() {
			s := engine.Snapshot()
			return fmt.Errorf("connection lost: %v", s.Err)
		}

		fmt.Printf("%s> ", engine.Snapshot().Cwd)
		if !scanner.Scan() {
			engine.CancelDownloads()
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			pump(engine)
			continue
		}

		if quit := runCommand(engine, scanner, fields); quit {
			engine.CancelDownloads()
			settle(engine, time.Second)
			return nil
		}
		pump(engine)
		render(engine)
	}
}

func runCommand(engine *ui.Engine, scanner *bufio.Scanner, fields []string) (quit bool) {
	s := engine.Snapshot()
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true

	case "ls":
		settle(engine, 2*time.Second)
		printListing(engine.Snapshot())

	case "cd":
		if len(args) != 1 {
			fmt.Println("usage: cd <dir>")
			return false
		}
		engine.Open(resolve(s.Cwd, args[0]))
		settle(engine, 5*time.Second)
		printListing(engine.Snapshot())

	case "up":
		engine.Up()
		settle(engine, 5*time.Second)
		printListing(engine.Snapshot())

	case "refresh":
		engine.Refresh()
		settle(engine, 5*time.Second)
		printListing(engine.Snapshot())

	case "hidden":
		engine.ToggleHidden()
		printListing(engine.Snapshot())

	case "filter":
		engine.SetNameFilter(strings.Join(args, " "))
		printListing(engine.Snapshot())

	case "info":
		if len(args) != 1 {
			fmt.Println("usage: info <name>")
			return false
		}
		if err := engine.ShowMetadata(resolve(s.Cwd, args[0])); err != nil {
			fmt.Println(err)
			return false
		}
		settle(engine, 2*time.Second)
		printMetadata(engine.Snapshot())
		engine.CloseOverlay()

	case "get":
		if len(args) < 1 || len(args) > 2 {
			fmt.Println("usage: get <name> [dest]")
			return false
		}
		dest := "."
		if len(args) == 2 {
			dest = args[1]
		}
		dest, err := pathutil.ResolveLocal(dest)
		if err != nil {
			fmt.Println(err)
			return false
		}
		if err := engine.Download(resolve(s.Cwd, args[0]), dest); err != nil {
			fmt.Println(err)
		}

	case "jobs":
		printJobs(engine.Snapshot())

	case "cancel":
		engine.CancelDownloads()

	case "rm":
		if len(args) != 1 {
			fmt.Println("usage: rm <name>")
			return false
		}
		target := resolve(s.Cwd, args[0])
		engine.RequestDelete(target)
		fmt.Printf("delete %s? [y/N] ", target)
		if confirmed(scanner) {
			engine.ConfirmDelete()
		} else {
			engine.Decline()
		}

	case "mv":
		if len(args) != 2 {
			fmt.Println("usage: mv <src> <dst>")
			return false
		}
		if err := engine.Move(resolve(s.Cwd, args[0]), resolve(s.Cwd, args[1])); err != nil {
			fmt.Println(err)
		}

	case "touch":
		if len(args) != 1 {
			fmt.Println("usage: touch <name>")
			return false
		}
		engine.CreateFile(resolve(s.Cwd, args[0]))

	case "mkdir":
		if len(args) != 1 {
			fmt.Println("usage: mkdir <name>")
			return false
		}
		engine.CreateDir(resolve(s.Cwd, args[0]))

	case "edit":
		if len(args) != 1 {
			fmt.Println("usage: edit <name>")
			return false
		}
		if err := engine.EditFile(GetContext(), resolve(s.Cwd, args[0])); err != nil {
			fmt.Println(err)
			engine.CloseOverlay()
		}

	case "shell":
		if err := engine.OpenShell(GetContext()); err != nil {
			fmt.Println(err)
			engine.CloseOverlay()
		}

	case "help":
		fmt.Println("ls cd up refresh hidden filter info get jobs cancel rm mv touch mkdir edit shell quit")

	default:
		fmt.Printf("unknown command %q (try help)\n", cmd)
	}
	return false
}

// confirmed reads the answer line through the same scanner the command
// loop uses, so buffered piped input is not skipped past.
func confirmed(scanner *bufio.Scanner) bool {
	if !scanner.Scan() {
		return false
	}
	answer := strings.TrimSpace(scanner.Text())
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

// pump applies whatever events are already queued without blocking.
func pump(engine *ui.Engine) {
	for {
		select {
		case ev, ok := <-engine.Events():
			if !ok {
				return
			}
			engine.HandleEvent(ev)
		default:
			return
		}
	}
}

// settle pumps events until the engine stops loading or the timeout
// expires, so commands that triggered a fetch can show its result.
func settle(engine *ui.Engine, timeout time.Duration) {
	deadline := time.After(timeout)
	for engine.Snapshot().Loading {
		select {
		case ev, ok := <-engine.Events():
			if !ok {
				return
			}
			engine.HandleEvent(ev)
		case <-deadline:
			return
		}
	}
	pump(engine)
}

// render surfaces a pending error overlay, if any.
func render(engine *ui.Engine) {
	s := engine.Snapshot()
	if s.Mode == ui.ModeErrorDisplayed && s.Err != nil {
		fmt.Printf("error: %v\n", s.Err)
		engine.CloseOverlay()
	}
}

func resolve(cwd, name string) string {
	if path.IsAbs(name) {
		return path.Clean(name)
	}
	return path.Join(cwd, name)
}

func printListing(s ui.State) {
	if s.Loading {
		fmt.Println("(still loading)")
		return
	}
	for _, e := range s.Entries {
		marker := ""
		if e.IsDir() {
			marker = "/"
		}
		fmt.Printf("  %-10s %10d  %s%s\n", e.Mode, e.Size, e.Name, marker)
	}
	if s.NameFilter != "" {
		fmt.Printf("  (filter: %q)\n", s.NameFilter)
	}
}

func printMetadata(s ui.State) {
	if s.MetaPath == "" {
		return
	}
	e := s.Meta
	fmt.Printf("%s\n  size: %d\n  mode: %s\n  modified: %s\n  uid/gid: %d/%d\n",
		s.MetaPath, e.Size, e.Mode, e.ModTime.Format(time.RFC3339), e.UID, e.GID)
	if e.Mode&fs.ModeSymlink != 0 {
		fmt.Println("  (symlink)")
	}
	if s.PreviewBinary {
		fmt.Println("  (binary file)")
	} else if s.Preview != "" {
		fmt.Println("---")
		fmt.Println(s.Preview)
	}
}

func printJobs(s ui.State) {
	if len(s.Jobs) == 0 {
		fmt.Println("no downloads running")
		return
	}
	for _, j := range s.Jobs {
		fmt.Printf("%s: %d/%d files, %.1f/%.1f MiB\n",
			j.Remote, j.FilesDone, j.FilesTotal,
			float64(j.BytesDone)/(1024*1024), float64(j.BytesTotal)/(1024*1024))
		for _, t := range j.Next {
			fmt.Printf("    %s (%s)\n", t.RemotePath, t.State)
		}
	}
}
