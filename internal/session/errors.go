package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/pkg/sftp"
)

// ErrCancelled reports that an operation stopped because its context was
// cancelled before completion.
var ErrCancelled = errors.New("operation cancelled")

// ErrClosed reports use of a session after Close.
var ErrClosed = errors.New("session closed")

// Kind classifies a remote rejection.
type Kind int

const (
	KindOther Kind = iota
	KindNotFound
	KindPermissionDenied
	KindAlreadyExists
	KindNotEmpty
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindAlreadyExists:
		return "already exists"
	case KindNotEmpty:
		return "directory not empty"
	default:
		return "remote error"
	}
}

// RemoteError is a protocol-level rejection of one request. The connection
// is still healthy; the caller can retry or move on.
type RemoteError struct {
	Kind    Kind
	Path    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Path, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Kind)
}

// ConnError is a transport failure. The session is unusable; everything
// in flight on it is lost.
type ConnError struct {
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connection lost: %v", e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// classify maps an error from the sftp layer into the session error
// taxonomy. Status errors become RemoteError; transport-level failures
// become ConnError.
func classify(path string, err error) error {
	if err == nil {
		return nil
	}

	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	var ce *ConnError
	if errors.As(err, &ce) {
		return err
	}

	if isTransport(err) {
		return &ConnError{Err: err}
	}

	var se *sftp.StatusError
	if errors.As(err, &se) {
		return &RemoteError{
			Kind:    kindFromStatus(se),
			Path:    path,
			Message: strings.TrimSpace(se.Error()),
		}
	}

	if errors.Is(err, os.ErrNotExist) {
		return &RemoteError{Kind: KindNotFound, Path: path, Message: err.Error()}
	}
	if errors.Is(err, os.ErrPermission) {
		return &RemoteError{Kind: KindPermissionDenied, Path: path, Message: err.Error()}
	}
	if errors.Is(err, os.ErrExist) {
		return &RemoteError{Kind: KindAlreadyExists, Path: path, Message: err.Error()}
	}

	return &RemoteError{Kind: KindOther, Path: path, Message: err.Error()}
}

func isTransport(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func kindFromStatus(se *sftp.StatusError) Kind {
	switch se.FxCode() {
	case sftp.ErrSSHFxNoSuchFile:
		return KindNotFound
	case sftp.ErrSSHFxPermissionDenied:
		return KindPermissionDenied
	case sftp.ErrSSHFxFailure:
		// The v3 protocol reports both "exists" and "not empty" as a
		// generic failure; the server message is all there is.
		msg := strings.ToLower(se.Error())
		switch {
		case strings.Contains(msg, "exist"):
			return KindAlreadyExists
		case strings.Contains(msg, "not empty"):
			return KindNotEmpty
		}
	}
	return KindOther
}
