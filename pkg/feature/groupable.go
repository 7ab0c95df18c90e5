package feature

import (
	"cmp"
	"context"
	"path"
	"slices"
	"strings"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/probe"
)

// DefaultIgnoredDirs are lib/ children that never form a group.
var DefaultIgnoredDirs = []string{"stubs", "cmake", "Win32", "x64"}

// FileDetector extracts values from one file, given its absolute path.
type FileDetector[T cmp.Ordered] func(ctx context.Context, file string) ([]T, error)

// SharedObjects keeps *.so file names.
func SharedObjects(name string) bool { return strings.HasSuffix(name, ".so") }

// Groupable applies a FileDetector over the immediate contents of Dir.
//
// Filter selects which files are inspected. Directories are group
// candidates when they directly hold at least one selected file; the others
// are skipped, as are the Ignored names.
type Groupable[T cmp.Ordered] struct {
	Dir     string
	Ignored []string
	Filter  func(name string) bool
	Detect  FileDetector[T]
}

// Find runs the detector. ok is false when Dir is missing or contains no
// candidates.
func (g Groupable[T]) Find(ctx context.Context, p *probe.Probe) (result Grouped[T], ok bool, err error) {
	dir, found := DirDetector{Dir: g.dir()}.Find(p)
	if !found {
		return result, false, nil
	}
	children, err := p.List(dir)
	if err != nil {
		return result, false, err
	}

	var files, dirs []string
	for _, c := range children {
		if slices.Contains(g.Ignored, c.Name) {
			continue
		}
		rel := path.Join(dir, c.Name)
		if !c.IsDir {
			if g.keep(c.Name) {
				files = append(files, rel)
			}
			continue
		}
		inner, err := g.filesIn(p, rel)
		if err != nil {
			return result, false, err
		}
		if len(inner) > 0 {
			dirs = append(dirs, rel)
		}
	}

	switch {
	case len(files) == 0 && len(dirs) == 0:
		return result, false, nil
	case len(files) > 0 && len(dirs) > 0:
		return result, false, errors.New(errors.ErrCodeIntegrity,
			"found both subdirectories and files directly under %s: dirs %v, files %v", p.Abs(dir), dirs, files)
	case len(files) > 0:
		flat, err := g.union(ctx, p, files)
		return Grouped[T]{Flat: flat}, err == nil, err
	}

	groups := make(map[string][]T, len(dirs))
	for _, d := range dirs {
		inner, err := g.filesIn(p, d)
		if err != nil {
			return result, false, err
		}
		vs, err := g.union(ctx, p, inner)
		if err != nil {
			return result, false, err
		}
		groups[path.Base(d)] = vs
	}
	return Grouped[T]{Groups: groups}, true, nil
}

func (g Groupable[T]) dir() string {
	if g.Dir == "" {
		return "lib"
	}
	return g.Dir
}

func (g Groupable[T]) keep(name string) bool {
	return g.Filter == nil || g.Filter(name)
}

// filesIn returns the selected immediate files of dir.
func (g Groupable[T]) filesIn(p *probe.Probe, dir string) ([]string, error) {
	children, err := p.List(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, c := range children {
		if !c.IsDir && g.keep(c.Name) {
			files = append(files, path.Join(dir, c.Name))
		}
	}
	return files, nil
}

func (g Groupable[T]) union(ctx context.Context, p *probe.Probe, files []string) ([]T, error) {
	var all []T
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vs, err := g.Detect(ctx, p.Abs(f))
		if err != nil {
			return nil, err
		}
		all = append(all, vs...)
	}
	return nonNil(sortedSet(all)), nil
}
