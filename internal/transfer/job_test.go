package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rovetools/rove/internal/session"
)

// fakeFS serves a small remote tree from memory.
type fakeFS struct {
	dirs    map[string][]session.Entry
	files   map[string][]byte
	listErr map[string]error
	openErr map[string]error
	openFn  map[string]func() (io.ReadCloser, int64, error)
	created map[string]*bytes.Buffer
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		dirs:    make(map[string][]session.Entry),
		files:   make(map[string][]byte),
		listErr: make(map[string]error),
		openErr: make(map[string]error),
		openFn:  make(map[string]func() (io.ReadCloser, int64, error)),
		created: make(map[string]*bytes.Buffer),
	}
}

func (f *fakeFS) addFile(dir, name string, content []byte) {
	full := dir + "/" + name
	if dir == "/" {
		full = "/" + name
	}
	f.files[full] = content
	f.dirs[dir] = append(f.dirs[dir], session.Entry{
		Name: name, Size: int64(len(content)), Mode: 0o644,
	})
}

func (f *fakeFS) addDir(parent, name string) string {
	full := parent + "/" + name
	if parent == "/" {
		full = "/" + name
	}
	if _, ok := f.dirs[full]; !ok {
		f.dirs[full] = nil
	}
	f.dirs[parent] = append(f.dirs[parent], session.Entry{
		Name: name, Mode: fs.ModeDir | 0o755,
	})
	return full
}

func (f *fakeFS) List(path string) ([]session.Entry, error) {
	if err := f.listErr[path]; err != nil {
		return nil, err
	}
	entries, ok := f.dirs[path]
	if !ok {
		return nil, &session.RemoteError{Kind: session.KindNotFound, Path: path}
	}
	return entries, nil
}

func (f *fakeFS) Stat(path string) (session.Entry, error) {
	if _, ok := f.dirs[path]; ok {
		return session.Entry{Name: filepath.Base(path), Mode: fs.ModeDir | 0o755}, nil
	}
	if content, ok := f.files[path]; ok {
		return session.Entry{Name: filepath.Base(path), Size: int64(len(content)), Mode: 0o644}, nil
	}
	return session.Entry{}, &session.RemoteError{Kind: session.KindNotFound, Path: path}
}

func (f *fakeFS) Open(path string) (io.ReadCloser, int64, error) {
	if err := f.openErr[path]; err != nil {
		return nil, 0, err
	}
	if fn, ok := f.openFn[path]; ok {
		return fn()
	}
	content, ok := f.files[path]
	if !ok {
		return nil, 0, &session.RemoteError{Kind: session.KindNotFound, Path: path}
	}
	return io.NopCloser(bytes.NewReader(content)), int64(len(content)), nil
}

type bufCloser struct{ *bytes.Buffer }

func (bufCloser) Close() error { return nil }

func (f *fakeFS) Create(path string) (io.WriteCloser, error) {
	buf := &bytes.Buffer{}
	f.created[path] = buf
	return bufCloser{buf}, nil
}

func (f *fakeFS) Remove(path string) error                 { return nil }
func (f *fakeFS) RemoveDir(path string) error              { return nil }
func (f *fakeFS) Rename(oldPath, newPath string) error     { return nil }
func (f *fakeFS) Mkdir(path string) error                  { return nil }
func (f *fakeFS) Touch(path string) error                  { return nil }
func (f *fakeFS) ReadLink(path string) (string, error)     { return "", nil }
func (f *fakeFS) Canonicalize(path string) (string, error) { return path, nil }

func sampleTree() *fakeFS {
	ffs := newFakeFS()
	ffs.dirs["/data"] = nil
	ffs.addFile("/data", "a.txt", bytes.Repeat([]byte("a"), 10))
	ffs.addFile("/data", "b.txt", bytes.Repeat([]byte("b"), 20))
	sub := ffs.addDir("/data", "sub")
	ffs.addFile(sub, "c.txt", bytes.Repeat([]byte("c"), 5))
	return ffs
}

func TestRunDownloadsTree(t *testing.T) {
	ffs := sampleTree()
	dest := t.TempDir()

	job := NewJob(ffs, nil, Options{Concurrency: 2})
	report, err := job.Run(context.Background(), "/data", dest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Completed != 3 {
		t.Errorf("Completed = %d, want 3", report.Completed)
	}
	if len(report.Failed) != 0 || report.Cancelled != 0 {
		t.Errorf("Failed = %v, Cancelled = %d", report.Failed, report.Cancelled)
	}
	if report.Bytes != 35 {
		t.Errorf("Bytes = %d, want 35", report.Bytes)
	}

	checks := map[string]int{
		filepath.Join(dest, "a.txt"):        10,
		filepath.Join(dest, "b.txt"):        20,
		filepath.Join(dest, "sub", "c.txt"): 5,
	}
	for p, size := range checks {
		fi, err := os.Stat(p)
		if err != nil {
			t.Errorf("missing %s: %v", p, err)
			continue
		}
		if fi.Size() != int64(size) {
			t.Errorf("%s size = %d, want %d", p, fi.Size(), size)
		}
	}

	files, total, bytesDone, bytesTotal := job.Progress()
	if files != 3 || total != 3 || bytesDone != 35 || bytesTotal != 35 {
		t.Errorf("progress = %d/%d files %d/%d bytes", files, total, bytesDone, bytesTotal)
	}
}

func TestRunSingleFileIntoDirectory(t *testing.T) {
	ffs := newFakeFS()
	ffs.dirs["/data"] = nil
	ffs.addFile("/data", "a.txt", []byte("hello"))
	dest := t.TempDir()

	job := NewJob(ffs, nil, Options{})
	report, err := job.Run(context.Background(), "/data/a.txt", dest)
	if err != nil {
		t.Fatal(err)
	}
	if report.Completed != 1 {
		t.Fatalf("Completed = %d, want 1", report.Completed)
	}
	content, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello" {
		t.Errorf("content = %q", content)
	}
}

func TestRunMissingRoot(t *testing.T) {
	job := NewJob(newFakeFS(), nil, Options{})
	_, err := job.Run(context.Background(), "/nope", t.TempDir())
	var re *session.RemoteError
	if !errors.As(err, &re) || re.Kind != session.KindNotFound {
		t.Errorf("expected not-found remote error, got %v", err)
	}
}

func TestRunContinuesPastFileFailure(t *testing.T) {
	ffs := sampleTree()
	ffs.openErr["/data/b.txt"] = &session.RemoteError{
		Kind: session.KindPermissionDenied, Path: "/data/b.txt",
	}
	dest := t.TempDir()

	job := NewJob(ffs, nil, Options{Concurrency: 2})
	report, err := job.Run(context.Background(), "/data", dest)
	if err != nil {
		t.Fatalf("file failures must not abort the job: %v", err)
	}
	if report.Completed != 2 {
		t.Errorf("Completed = %d, want 2", report.Completed)
	}
	if len(report.Failed) != 1 || report.Failed[0].RemotePath != "/data/b.txt" {
		t.Errorf("Failed = %v", report.Failed)
	}
	if _, err := os.Stat(filepath.Join(dest, "b.txt")); !os.IsNotExist(err) {
		t.Error("failed transfer must not leave a local artifact")
	}
}

func TestRunContinuesPastUnlistableDir(t *testing.T) {
	ffs := sampleTree()
	ffs.listErr["/data/sub"] = &session.RemoteError{
		Kind: session.KindPermissionDenied, Path: "/data/sub",
	}
	dest := t.TempDir()

	job := NewJob(ffs, nil, Options{Concurrency: 2})
	report, err := job.Run(context.Background(), "/data", dest)
	if err != nil {
		t.Fatal(err)
	}
	if report.Completed != 2 {
		t.Errorf("Completed = %d, want 2", report.Completed)
	}
	var failed []string
	for _, f := range report.Failed {
		failed = append(failed, f.RemotePath)
	}
	sort.Strings(failed)
	if len(failed) != 1 || failed[0] != "/data/sub" {
		t.Errorf("Failed = %v, want [/data/sub]", failed)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ffs := newFakeFS()
	ffs.dirs["/data"] = nil
	ffs.addFile("/data", "a.txt", []byte("hello"))
	dest := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := NewJob(ffs, nil, Options{})
	report, err := job.Run(ctx, "/data/a.txt", dest)
	if err != nil {
		t.Fatal(err)
	}
	if report.Completed != 0 || report.Cancelled != 1 {
		t.Errorf("report = %+v, want 1 cancelled", report)
	}
	if _, err := os.Stat(filepath.Join(dest, "a.txt")); !os.IsNotExist(err) {
		t.Error("cancelled task must not start writing")
	}
}

// cancellingReader hands out one chunk, triggers cancellation, then
// reports more data available so the copy loop has to notice the context.
type cancellingReader struct {
	chunk  []byte
	cancel context.CancelFunc
	sent   bool
}

func (r *cancellingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		n := copy(p, r.chunk)
		r.cancel()
		return n, nil
	}
	n := copy(p, []byte("more"))
	return n, nil
}

func (r *cancellingReader) Close() error { return nil }

func TestRunCancelMidTransferRemovesPartial(t *testing.T) {
	ffs := newFakeFS()
	ffs.dirs["/data"] = nil
	ffs.addFile("/data", "big.bin", bytes.Repeat([]byte("x"), 1<<20))
	dest := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ffs.openFn["/data/big.bin"] = func() (io.ReadCloser, int64, error) {
		return &cancellingReader{chunk: []byte("partial"), cancel: cancel}, 1 << 20, nil
	}

	job := NewJob(ffs, nil, Options{Concurrency: 1})
	report, err := job.Run(ctx, "/data/big.bin", dest)
	if err != nil {
		t.Fatal(err)
	}
	if report.Cancelled != 1 {
		t.Errorf("Cancelled = %d, want 1", report.Cancelled)
	}
	if _, err := os.Stat(filepath.Join(dest, "big.bin")); !os.IsNotExist(err) {
		t.Error("partial local file must be removed on cancellation")
	}
	if report.Bytes != 0 {
		t.Errorf("Bytes = %d, want 0: removed partials must not count", report.Bytes)
	}
}

func TestCancelBeforeStartSkipsActive(t *testing.T) {
	job := NewJob(newFakeFS(), nil, Options{})
	task := NewTask("/data/a.txt", "/tmp/a.txt", 10)

	job.cancelTask(task)

	snap := task.Clone()
	if snap.State != TaskCancelled {
		t.Errorf("State = %v, want %v", snap.State, TaskCancelled)
	}
	if !task.startedAt.IsZero() {
		t.Error("a task cancelled before starting must not be stamped as started")
	}
}

func TestRecordFailureSkipsActive(t *testing.T) {
	job := NewJob(newFakeFS(), nil, Options{})
	job.recordFailure("/data/broken", errors.New("unlistable"))

	tasks := job.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	if tasks[0].State != TaskFailed {
		t.Errorf("State = %v, want %v", tasks[0].State, TaskFailed)
	}
	job.mu.Lock()
	startedAt := job.tasks[0].startedAt
	job.mu.Unlock()
	if !startedAt.IsZero() {
		t.Error("a task that never ran must not be stamped as started")
	}
}

func TestRunConnErrorIsFatal(t *testing.T) {
	ffs := newFakeFS()
	ffs.dirs["/data"] = nil
	ffs.addFile("/data", "a.txt", []byte("hello"))
	ffs.openErr["/data/a.txt"] = &session.ConnError{Err: io.ErrUnexpectedEOF}
	dest := t.TempDir()

	job := NewJob(ffs, nil, Options{})
	report, err := job.Run(context.Background(), "/data/a.txt", dest)
	var ce *session.ConnError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conn error, got %v", err)
	}
	if len(report.Failed) != 1 {
		t.Errorf("Failed = %v, want the broken task", report.Failed)
	}
}

func TestPutFile(t *testing.T) {
	local := filepath.Join(t.TempDir(), "edit.txt")
	if err := os.WriteFile(local, []byte("edited content"), 0o644); err != nil {
		t.Fatal(err)
	}
	ffs := newFakeFS()

	if err := PutFile(context.Background(), ffs, local, "/remote/edit.txt", 4); err != nil {
		t.Fatal(err)
	}
	got := ffs.created["/remote/edit.txt"].String()
	if got != "edited content" {
		t.Errorf("uploaded = %q", got)
	}
}

func TestPutFileCancelled(t *testing.T) {
	local := filepath.Join(t.TempDir(), "edit.txt")
	if err := os.WriteFile(local, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := PutFile(ctx, newFakeFS(), local, "/remote/edit.txt", 0)
	if !errors.Is(err, session.ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
}
