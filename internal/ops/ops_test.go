package ops

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"testing"
	"time"

	"github.com/rovetools/rove/internal/remotefs"
	"github.com/rovetools/rove/internal/session"
)

// fakeFS is a small live remote tree: removals actually mutate it, and a
// directory with children refuses RemoveDir like a real server.
type fakeFS struct {
	dirs  map[string][]session.Entry
	files map[string][]byte

	removeErr map[string]error
	renameErr error

	removed   []string
	renames   [][2]string
	touched   []string
	mkdirs    []string
	listCalls int
	created   map[string]*bytes.Buffer
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		dirs:      map[string][]session.Entry{"/": nil},
		files:     make(map[string][]byte),
		removeErr: make(map[string]error),
		created:   make(map[string]*bytes.Buffer),
	}
}

func (f *fakeFS) addDir(p string) {
	parent := path.Dir(p)
	f.dirs[p] = nil
	f.dirs[parent] = append(f.dirs[parent], session.Entry{
		Name: path.Base(p), Mode: fs.ModeDir | 0o755,
	})
}

func (f *fakeFS) addFile(p string, content []byte) {
	parent := path.Dir(p)
	f.files[p] = content
	f.dirs[parent] = append(f.dirs[parent], session.Entry{
		Name: path.Base(p), Size: int64(len(content)), Mode: 0o644,
	})
}

func (f *fakeFS) dropChild(p string) {
	parent := path.Dir(p)
	name := path.Base(p)
	out := f.dirs[parent][:0]
	for _, e := range f.dirs[parent] {
		if e.Name != name {
			out = append(out, e)
		}
	}
	f.dirs[parent] = out
}

func (f *fakeFS) List(p string) ([]session.Entry, error) {
	f.listCalls++
	entries, ok := f.dirs[p]
	if !ok {
		return nil, &session.RemoteError{Kind: session.KindNotFound, Path: p}
	}
	out := make([]session.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (f *fakeFS) Stat(p string) (session.Entry, error) {
	if _, ok := f.dirs[p]; ok {
		return session.Entry{Name: path.Base(p), Mode: fs.ModeDir | 0o755}, nil
	}
	if content, ok := f.files[p]; ok {
		return session.Entry{Name: path.Base(p), Size: int64(len(content)), Mode: 0o644}, nil
	}
	return session.Entry{}, &session.RemoteError{Kind: session.KindNotFound, Path: p}
}

func (f *fakeFS) Open(p string) (io.ReadCloser, int64, error) {
	content, ok := f.files[p]
	if !ok {
		return nil, 0, &session.RemoteError{Kind: session.KindNotFound, Path: p}
	}
	return io.NopCloser(bytes.NewReader(content)), int64(len(content)), nil
}

type bufCloser struct{ *bytes.Buffer }

func (bufCloser) Close() error { return nil }

func (f *fakeFS) Create(p string) (io.WriteCloser, error) {
	buf := &bytes.Buffer{}
	f.created[p] = buf
	return bufCloser{buf}, nil
}

func (f *fakeFS) Remove(p string) error {
	if err := f.removeErr[p]; err != nil {
		return err
	}
	if _, ok := f.files[p]; !ok {
		return &session.RemoteError{Kind: session.KindNotFound, Path: p}
	}
	delete(f.files, p)
	f.dropChild(p)
	f.removed = append(f.removed, p)
	return nil
}

func (f *fakeFS) RemoveDir(p string) error {
	if err := f.removeErr[p]; err != nil {
		return err
	}
	children, ok := f.dirs[p]
	if !ok {
		return &session.RemoteError{Kind: session.KindNotFound, Path: p}
	}
	if len(children) > 0 {
		return &session.RemoteError{Kind: session.KindNotEmpty, Path: p}
	}
	delete(f.dirs, p)
	f.dropChild(p)
	f.removed = append(f.removed, p)
	return nil
}

func (f *fakeFS) Rename(oldPath, newPath string) error {
	if f.renameErr != nil {
		return f.renameErr
	}
	f.renames = append(f.renames, [2]string{oldPath, newPath})
	return nil
}

func (f *fakeFS) Mkdir(p string) error {
	f.mkdirs = append(f.mkdirs, p)
	return nil
}

func (f *fakeFS) Touch(p string) error {
	f.touched = append(f.touched, p)
	return nil
}

func (f *fakeFS) ReadLink(p string) (string, error)     { return "", nil }
func (f *fakeFS) Canonicalize(p string) (string, error) { return p, nil }

func setup(t *testing.T) (*fakeFS, *remotefs.Tree, *Executor) {
	t.Helper()
	ffs := newFakeFS()
	tree := remotefs.New(ffs, "/")
	return ffs, tree, NewExecutor(ffs, tree, nil)
}

func TestDeleteFile(t *testing.T) {
	ffs, tree, ex := setup(t)
	ffs.addDir("/d")
	ffs.addFile("/d/a.txt", []byte("x"))
	tree.Ensure("/d")
	before := ffs.listCalls

	report, err := ex.Delete(context.Background(), Delete{Path: "/d/a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Removed != 1 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if entries, _ := tree.Children("/d"); len(entries) != 0 {
		t.Error("cache should drop the removed entry")
	}
	if ffs.listCalls != before {
		t.Error("file delete must not re-list")
	}
}

func TestDeleteDirRemovesChildrenFirst(t *testing.T) {
	ffs, tree, ex := setup(t)
	ffs.addDir("/d")
	ffs.addDir("/d/sub")
	ffs.addFile("/d/a.txt", []byte("x"))
	ffs.addFile("/d/sub/b.txt", []byte("y"))
	tree.Ensure("/")
	tree.Ensure("/d")

	report, err := ex.Delete(context.Background(), Delete{Path: "/d"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Removed != 4 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}

	// The live fake rejects RemoveDir on a non-empty directory, so this
	// order check is implicit; verify the root went last anyway.
	if ffs.removed[len(ffs.removed)-1] != "/d" {
		t.Errorf("removal order = %v, want /d last", ffs.removed)
	}
	if tree.Loaded("/d") {
		t.Error("deleted subtree should leave the cache")
	}
	if entries, _ := tree.Children("/"); len(entries) != 0 {
		t.Error("parent listing should drop the removed directory")
	}
}

func TestDeletePartialFailureKeepsGoing(t *testing.T) {
	ffs, tree, ex := setup(t)
	ffs.addDir("/d")
	ffs.addFile("/d/a.txt", []byte("1"))
	ffs.addFile("/d/b.txt", []byte("2"))
	ffs.addFile("/d/c.txt", []byte("3"))
	ffs.removeErr["/d/b.txt"] = &session.RemoteError{
		Kind: session.KindPermissionDenied, Path: "/d/b.txt",
	}
	tree.Ensure("/")
	tree.Ensure("/d")

	report, err := ex.Delete(context.Background(), Delete{Path: "/d"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Removed != 2 {
		t.Errorf("Removed = %d, want the two deletable files", report.Removed)
	}
	// b.txt fails, and /d itself then fails as non-empty.
	if len(report.Failed) != 2 {
		t.Errorf("Failed = %+v, want file and its parent", report.Failed)
	}
	if report.Err() == nil {
		t.Error("partial failure must fold into a non-nil error")
	}
	if tree.Loaded("/d") || tree.Loaded("/") {
		t.Error("partially deleted region must be invalidated, not patched")
	}
}

func TestDeleteCancelled(t *testing.T) {
	ffs, _, ex := setup(t)
	ffs.addDir("/d")
	ffs.addFile("/d/a.txt", []byte("1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := ex.Delete(ctx, Delete{Path: "/d"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Removed != 0 {
		t.Errorf("Removed = %d, want 0 after immediate cancel", report.Removed)
	}
	if len(report.Failed) == 0 || !errors.Is(report.Failed[0].Err, session.ErrCancelled) {
		t.Errorf("Failed = %+v, want cancellation recorded", report.Failed)
	}
}

func TestMoveCollisionFailsFastWithoutNetwork(t *testing.T) {
	ffs, tree, ex := setup(t)
	ffs.addDir("/d")
	ffs.addFile("/d/a.txt", []byte("1"))
	ffs.addFile("/d/b.txt", []byte("2"))
	tree.Ensure("/d")

	err := ex.Move(context.Background(), Move{Src: "/d/a.txt", Dst: "/d/b.txt"})
	var dee *ErrDestinationExists
	if !errors.As(err, &dee) {
		t.Fatalf("err = %v, want ErrDestinationExists", err)
	}
	if len(ffs.renames) != 0 {
		t.Error("collision must be rejected before any network call")
	}
}

func TestMoveRenamesOnceAndPatchesCache(t *testing.T) {
	ffs, tree, ex := setup(t)
	ffs.addDir("/a")
	ffs.addDir("/b")
	ffs.addFile("/a/x.txt", []byte("1"))
	tree.Ensure("/a")
	tree.Ensure("/b")
	before := ffs.listCalls

	if err := ex.Move(context.Background(), Move{Src: "/a/x.txt", Dst: "/b/y.txt"}); err != nil {
		t.Fatal(err)
	}
	if len(ffs.renames) != 1 || ffs.renames[0] != [2]string{"/a/x.txt", "/b/y.txt"} {
		t.Errorf("renames = %v, want exactly one", ffs.renames)
	}
	if entries, _ := tree.Children("/a"); len(entries) != 0 {
		t.Error("source listing should drop the entry")
	}
	entries, _ := tree.Children("/b")
	if len(entries) != 1 || entries[0].Name != "y.txt" {
		t.Errorf("destination listing = %+v", entries)
	}
	if ffs.listCalls != before {
		t.Error("move must patch the cache without re-listing")
	}
}

func TestMoveRemoteErrorSurfaces(t *testing.T) {
	ffs, tree, ex := setup(t)
	ffs.addDir("/a")
	ffs.addFile("/a/x.txt", []byte("1"))
	tree.Ensure("/a")
	want := &session.RemoteError{Kind: session.KindPermissionDenied, Path: "/a/x.txt"}
	ffs.renameErr = want

	err := ex.Move(context.Background(), Move{Src: "/a/x.txt", Dst: "/a/z.txt"})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want the remote rejection verbatim", err)
	}
	if entries, _ := tree.Children("/a"); len(entries) != 1 || entries[0].Name != "x.txt" {
		t.Error("failed move must leave the cache untouched")
	}
}

func TestCreateFileInvalidatesParent(t *testing.T) {
	ffs, tree, ex := setup(t)
	ffs.addDir("/d")
	tree.Ensure("/d")

	if err := ex.Execute(context.Background(), CreateFile{Path: "/d/new.txt"}); err != nil {
		t.Fatal(err)
	}
	if len(ffs.touched) != 1 || ffs.touched[0] != "/d/new.txt" {
		t.Errorf("touched = %v", ffs.touched)
	}
	if tree.Loaded("/d") {
		t.Error("parent must be invalidated, not optimistically patched")
	}
}

func TestCreateDirInvalidatesParent(t *testing.T) {
	ffs, tree, ex := setup(t)
	ffs.addDir("/d")
	tree.Ensure("/d")

	if err := ex.Execute(context.Background(), CreateDir{Path: "/d/newdir"}); err != nil {
		t.Fatal(err)
	}
	if len(ffs.mkdirs) != 1 || ffs.mkdirs[0] != "/d/newdir" {
		t.Errorf("mkdirs = %v", ffs.mkdirs)
	}
	if tree.Loaded("/d") {
		t.Error("parent must be invalidated")
	}
}

func TestEditUploadsOnChange(t *testing.T) {
	ffs, _, ex := setup(t)
	ffs.addDir("/d")
	ffs.addFile("/d/notes.txt", []byte("original"))

	var editedPath string
	ex.RunEditor = func(ctx context.Context, localPath string) error {
		editedPath = localPath
		if err := os.WriteFile(localPath, []byte("rewritten"), 0o644); err != nil {
			return err
		}
		// Push the mtime forward; some filesystems are coarse.
		future := time.Now().Add(2 * time.Second)
		return os.Chtimes(localPath, future, future)
	}

	if err := ex.Edit(context.Background(), Edit{Path: "/d/notes.txt"}); err != nil {
		t.Fatal(err)
	}
	buf, ok := ffs.created["/d/notes.txt"]
	if !ok {
		t.Fatal("changed file was not uploaded")
	}
	if buf.String() != "rewritten" {
		t.Errorf("uploaded = %q", buf.String())
	}
	if _, err := os.Stat(editedPath); !os.IsNotExist(err) {
		t.Error("scratch dir must be removed after the round trip")
	}
}

func TestEditUntouchedSkipsUpload(t *testing.T) {
	ffs, _, ex := setup(t)
	ffs.addDir("/d")
	ffs.addFile("/d/notes.txt", []byte("original"))

	ex.RunEditor = func(ctx context.Context, localPath string) error { return nil }

	if err := ex.Edit(context.Background(), Edit{Path: "/d/notes.txt"}); err != nil {
		t.Fatal(err)
	}
	if len(ffs.created) != 0 {
		t.Error("unchanged file must not be re-uploaded")
	}
}

func TestEditEditorFailureCleansUp(t *testing.T) {
	ffs, _, ex := setup(t)
	ffs.addDir("/d")
	ffs.addFile("/d/notes.txt", []byte("original"))

	var editedPath string
	ex.RunEditor = func(ctx context.Context, localPath string) error {
		editedPath = localPath
		return errors.New("editor crashed")
	}

	if err := ex.Edit(context.Background(), Edit{Path: "/d/notes.txt"}); err == nil {
		t.Fatal("expected editor failure to surface")
	}
	if len(ffs.created) != 0 {
		t.Error("no upload after a failed editor")
	}
	if _, err := os.Stat(editedPath); !os.IsNotExist(err) {
		t.Error("scratch dir must be removed even on failure")
	}
}

func TestOpenShellWithoutRunner(t *testing.T) {
	_, _, ex := setup(t)
	if err := ex.Execute(context.Background(), Shell{Dir: "/d"}); err == nil {
		t.Error("expected error when no shell runner is wired")
	}
}
