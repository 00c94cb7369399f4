package session

import (
	"io"
	"io/fs"
	"time"
)

// Entry describes one remote directory entry.
type Entry struct {
	Name    string
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	UID     uint32
	GID     uint32
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Mode.IsDir()
}

// IsSymlink reports whether the entry is a symbolic link.
func (e Entry) IsSymlink() bool {
	return e.Mode&fs.ModeSymlink != 0
}

// FS is the remote filesystem surface consumed by the tree cache, the
// transfer engine and the operation executor. *Session implements it;
// tests substitute fakes.
type FS interface {
	List(path string) ([]Entry, error)
	Stat(path string) (Entry, error)
	Open(path string) (io.ReadCloser, int64, error)
	Create(path string) (io.WriteCloser, error)
	Remove(path string) error
	RemoveDir(path string) error
	Rename(oldPath, newPath string) error
	Mkdir(path string) error
	Touch(path string) error
	ReadLink(path string) (string, error)
	Canonicalize(path string) (string, error)
}
