package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Shell opens an interactive login shell on the existing connection,
// started in dir. It blocks until the shell exits or ctx is cancelled.
// The caller must not render to the terminal while this runs.
func (s *Session) Shell(ctx context.Context, dir string) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return &ConnError{Err: fmt.Errorf("opening shell channel: %w", err)}
	}
	defer sess.Close()

	fd := int(os.Stdin.Fd())
	width, height := 80, 24
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			width, height = w, h
		}
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		defer term.Restore(fd, oldState)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	termName := os.Getenv("TERM")
	if termName == "" {
		termName = "xterm-256color"
	}
	if err := sess.RequestPty(termName, height, width, modes); err != nil {
		return &ConnError{Err: fmt.Errorf("requesting pty: %w", err)}
	}

	sess.Stdin = os.Stdin
	sess.Stdout = os.Stdout
	sess.Stderr = os.Stderr

	cmd := fmt.Sprintf("cd %s && exec $SHELL -l", shellQuote(dir))
	if err := sess.Start(cmd); err != nil {
		return &ConnError{Err: fmt.Errorf("starting shell: %w", err)}
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGHUP)
		sess.Close()
		<-done
		return ErrCancelled
	case err := <-done:
		var exitErr *ssh.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return classify(dir, err)
		}
		// A nonzero shell exit status is not an error for the browser.
		return nil
	}
}

// shellQuote wraps a path in single quotes, escaping embedded quotes so
// the remote shell treats it as one literal word.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
