// Package remotefs caches remote directory listings so the browser never
// refetches a directory it has already seen. Listings are fetched
// elsewhere and applied here; the cache itself is safe for concurrent
// use, so operations can patch it the moment the remote confirms a
// mutation.
package remotefs

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/rovetools/rove/internal/session"
)

// Tree is a lazy cache of remote directory listings keyed by clean
// absolute path. A directory is in one of two states: not loaded, or
// loaded with a (possibly empty) child list.
type Tree struct {
	fs   session.FS
	root string

	mu   sync.RWMutex
	dirs map[string]*dirNode
}

type dirNode struct {
	entries []session.Entry
}

// New creates a cache rooted at the given absolute path.
func New(fs session.FS, root string) *Tree {
	return &Tree{
		fs:   fs,
		root: path.Clean(root),
		dirs: make(map[string]*dirNode),
	}
}

// Root returns the cache root path.
func (t *Tree) Root() string {
	return t.root
}

// Children returns the cached child list of dir. ok is false when the
// directory has not been loaded.
func (t *Tree) Children(dir string) ([]session.Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.dirs[path.Clean(dir)]
	if !ok {
		return nil, false
	}
	out := make([]session.Entry, len(n.entries))
	copy(out, n.entries)
	return out, true
}

// Load fetches dir from the remote and stores the result. A failed load
// leaves the directory unloaded and does not disturb any other cached
// directory.
func (t *Tree) Load(dir string) ([]session.Entry, error) {
	dir = path.Clean(dir)
	entries, err := t.fs.List(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	t.SetChildren(dir, entries)
	out, _ := t.Children(dir)
	return out, nil
}

// Ensure returns cached children, loading them on a miss.
func (t *Tree) Ensure(dir string) ([]session.Entry, error) {
	if entries, ok := t.Children(dir); ok {
		return entries, nil
	}
	return t.Load(dir)
}

// SetChildren stores a listing obtained elsewhere, replacing whatever was
// cached for dir. Entries are kept sorted directories-first.
func (t *Tree) SetChildren(dir string, entries []session.Entry) {
	dir = path.Clean(dir)
	sorted := make([]session.Entry, len(entries))
	copy(sorted, entries)
	sortEntries(sorted)
	t.mu.Lock()
	t.dirs[dir] = &dirNode{entries: sorted}
	t.mu.Unlock()
}

// Loaded reports whether dir has a cached listing.
func (t *Tree) Loaded(dir string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.dirs[path.Clean(dir)]
	return ok
}

// Entry looks up one path in its parent's cached listing.
func (t *Tree) Entry(p string) (session.Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p = path.Clean(p)
	n, ok := t.dirs[path.Dir(p)]
	if !ok {
		return session.Entry{}, false
	}
	name := path.Base(p)
	for _, e := range n.entries {
		if e.Name == name {
			return e, true
		}
	}
	return session.Entry{}, false
}

// Invalidate forgets the listing of dir. Cached listings of descendants
// survive; a later reload that shows the same names leaves them valid.
func (t *Tree) Invalidate(dir string) {
	t.mu.Lock()
	delete(t.dirs, path.Clean(dir))
	t.mu.Unlock()
}

// Collapse drops the cached listings of dir and everything below it.
func (t *Tree) Collapse(dir string) {
	t.mu.Lock()
	t.collapseLocked(dir)
	t.mu.Unlock()
}

func (t *Tree) collapseLocked(dir string) {
	dir = path.Clean(dir)
	prefix := dir + "/"
	if dir == "/" {
		prefix = "/"
	}
	for k := range t.dirs {
		if k == dir || strings.HasPrefix(k, prefix) {
			delete(t.dirs, k)
		}
	}
}

// ApplyRemove patches the cache after a successful remote removal: the
// entry leaves its parent's listing and any cached subtree is dropped.
func (t *Tree) ApplyRemove(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p = path.Clean(p)
	if n, ok := t.dirs[path.Dir(p)]; ok {
		n.entries = removeByName(n.entries, path.Base(p))
	}
	t.collapseLocked(p)
}

// ApplyRename patches the cache after a successful remote rename. The
// entry moves from src's parent to dst's parent (when that listing is
// cached) and cached listings under src are rekeyed to dst.
func (t *Tree) ApplyRename(src, dst string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	src = path.Clean(src)
	dst = path.Clean(dst)

	var moved session.Entry
	found := false
	if n, ok := t.dirs[path.Dir(src)]; ok {
		for _, e := range n.entries {
			if e.Name == path.Base(src) {
				moved = e
				found = true
				break
			}
		}
		n.entries = removeByName(n.entries, path.Base(src))
	}

	if n, ok := t.dirs[path.Dir(dst)]; ok && found {
		moved.Name = path.Base(dst)
		n.entries = removeByName(n.entries, moved.Name)
		n.entries = append(n.entries, moved)
		sortEntries(n.entries)
	}

	prefix := src + "/"
	rekeyed := make(map[string]*dirNode)
	for k, v := range t.dirs {
		switch {
		case k == src:
			rekeyed[dst] = v
			delete(t.dirs, k)
		case strings.HasPrefix(k, prefix):
			rekeyed[dst+"/"+strings.TrimPrefix(k, prefix)] = v
			delete(t.dirs, k)
		}
	}
	for k, v := range rekeyed {
		t.dirs[k] = v
	}
}

// View filters dir's cached listing for display. Filtering is purely a
// read-side predicate; toggling it never touches the network.
func (t *Tree) View(dir string, opts ViewOptions) ([]session.Entry, bool) {
	entries, ok := t.Children(dir)
	if !ok {
		return nil, false
	}
	out := entries[:0]
	for _, e := range entries {
		if !opts.ShowHidden && IsHiddenName(e.Name) {
			continue
		}
		if opts.NameFilter != "" &&
			!strings.Contains(strings.ToLower(e.Name), strings.ToLower(opts.NameFilter)) {
			continue
		}
		out = append(out, e)
	}
	return out, true
}

// ViewOptions controls display filtering of a cached listing.
type ViewOptions struct {
	ShowHidden bool
	NameFilter string
}

func removeByName(entries []session.Entry, name string) []session.Entry {
	out := entries[:0]
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return out
}

// sortEntries orders directories before files, then by case-insensitive
// name within each group.
func sortEntries(entries []session.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}
