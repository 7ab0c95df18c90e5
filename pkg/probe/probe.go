// Package probe memoizes filesystem queries over one unpacked artifact.
//
// Detectors overlap heavily: the dynamic-library, provided-library and
// needed-library detectors all list lib/ and glob lib/**/*.so. A [Probe]
// answers each distinct query once per run. Results are never invalidated;
// the tree must not change while a Probe is in use.
package probe

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/matzehuels/cudaredist/pkg/errors"
)

// Entry is an immediate child of a directory.
type Entry struct {
	Name  string
	IsDir bool
	Mode  fs.FileMode
}

type listResult struct {
	entries []Entry
	err     error
}

type globKey struct {
	dir, pattern string
	filesOnly    bool
}

type globResult struct {
	matches []string
	err     error
}

// Probe answers existence, type, listing and glob queries relative to an
// artifact root. Paths passed to and returned from a Probe are
// slash-separated and relative to the root; "" and "." name the root.
// A Probe is safe for concurrent use.
type Probe struct {
	root string

	mu    sync.RWMutex
	stats map[string]fs.FileInfo // nil value records a missing path
	lists map[string]listResult
	globs map[globKey]globResult
}

// New creates a Probe over root.
func New(root string) *Probe {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	return &Probe{
		root:  abs,
		stats: make(map[string]fs.FileInfo),
		lists: make(map[string]listResult),
		globs: make(map[globKey]globResult),
	}
}

// Root returns the absolute artifact root.
func (p *Probe) Root() string { return p.root }

// Abs returns the absolute filesystem path of rel.
func (p *Probe) Abs(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(clean(rel)))
}

func clean(rel string) string {
	c := path.Clean("/" + filepath.ToSlash(rel))
	return strings.TrimPrefix(c, "/")
}

func (p *Probe) stat(rel string) fs.FileInfo {
	key := p.Abs(rel)
	p.mu.RLock()
	fi, ok := p.stats[key]
	p.mu.RUnlock()
	if ok {
		return fi
	}

	fi, err := os.Stat(key)
	if err != nil {
		fi = nil
	}
	p.mu.Lock()
	p.stats[key] = fi
	p.mu.Unlock()
	return fi
}

// Exists reports whether rel exists.
func (p *Probe) Exists(rel string) bool { return p.stat(rel) != nil }

// IsDir reports whether rel exists and is a directory.
func (p *Probe) IsDir(rel string) bool {
	fi := p.stat(rel)
	return fi != nil && fi.IsDir()
}

// Mode returns the mode bits of rel, or 0 if it does not exist.
func (p *Probe) Mode(rel string) fs.FileMode {
	if fi := p.stat(rel); fi != nil {
		return fi.Mode()
	}
	return 0
}

// List returns the immediate children of directory rel sorted by name.
func (p *Probe) List(rel string) ([]Entry, error) {
	key := p.Abs(rel)
	p.mu.RLock()
	r, ok := p.lists[key]
	p.mu.RUnlock()
	if ok {
		return r.entries, r.err
	}

	r = p.list(key)
	p.mu.Lock()
	p.lists[key] = r
	p.mu.Unlock()
	return r.entries, r.err
}

func (p *Probe) list(abs string) listResult {
	des, err := os.ReadDir(abs)
	if err != nil {
		return listResult{err: errors.Wrap(errors.ErrCodeInvalidPath, err, "list %s", abs)}
	}
	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		e := Entry{Name: de.Name(), IsDir: de.IsDir(), Mode: de.Type()}
		// Resolve symlinks so that a link to a directory groups like one.
		if de.Type()&fs.ModeSymlink != 0 {
			if fi, err := os.Stat(filepath.Join(abs, de.Name())); err == nil {
				e.IsDir = fi.IsDir()
				e.Mode = fi.Mode()
			}
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return listResult{entries: entries}
}

// HasContents reports whether rel is a directory with at least one entry.
func (p *Probe) HasContents(rel string) bool {
	if !p.IsDir(rel) {
		return false
	}
	entries, err := p.List(rel)
	return err == nil && len(entries) > 0
}

// Glob returns the paths under directory rel matching a doublestar pattern
// (e.g. "**/*.so"), sorted and relative to the root. A missing directory
// yields no matches. With filesOnly, directories are excluded.
func (p *Probe) Glob(rel, pattern string, filesOnly bool) ([]string, error) {
	dir := clean(rel)
	key := globKey{dir: p.Abs(dir), pattern: pattern, filesOnly: filesOnly}
	p.mu.RLock()
	r, ok := p.globs[key]
	p.mu.RUnlock()
	if ok {
		return r.matches, r.err
	}

	r = p.glob(dir, key)
	p.mu.Lock()
	p.globs[key] = r
	p.mu.Unlock()
	return r.matches, r.err
}

func (p *Probe) glob(dir string, key globKey) globResult {
	if !p.IsDir(dir) {
		return globResult{}
	}
	opts := []doublestar.GlobOption{}
	if key.filesOnly {
		opts = append(opts, doublestar.WithFilesOnly())
	}
	matches, err := doublestar.Glob(os.DirFS(key.dir), key.pattern, opts...)
	if err != nil {
		return globResult{err: errors.Wrap(errors.ErrCodeInvalidInput, err, "glob %q in %s", key.pattern, key.dir)}
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = path.Join(dir, m)
	}
	slices.Sort(out)
	return globResult{matches: out}
}
