package feature

import (
	"context"
	"path"
	"strings"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/probe"
)

// Detector reports whether an artifact has some feature.
type Detector interface {
	Detect(ctx context.Context, p *probe.Probe) (bool, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, p *probe.Probe) (bool, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(ctx context.Context, p *probe.Probe) (bool, error) { return f(ctx, p) }

// AnyOf is satisfied when any of its detectors is.
type AnyOf []Detector

// Detect implements Detector.
func (a AnyOf) Detect(ctx context.Context, p *probe.Probe) (bool, error) {
	for _, d := range a {
		ok, err := d.Detect(ctx, p)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// DirDetector finds a non-empty directory. Every path component from the
// root down to and including Dir must exist, be a directory and have
// contents.
type DirDetector struct {
	Dir string
}

// Find returns Dir if it satisfies the detector.
func (d DirDetector) Find(p *probe.Probe) (string, bool) {
	dir := path.Clean(d.Dir)
	if dir == "." {
		return "", p.HasContents("")
	}
	cur := ""
	for _, part := range strings.Split(dir, "/") {
		cur = path.Join(cur, part)
		if !p.Exists(cur) || !p.IsDir(cur) || !p.HasContents(cur) {
			return "", false
		}
	}
	return dir, true
}

// Detect implements Detector.
func (d DirDetector) Detect(_ context.Context, p *probe.Probe) (bool, error) {
	_, ok := d.Find(p)
	return ok, nil
}

// globDetector lists files matching pattern below a non-empty dir.
type globDetector struct {
	dir      string
	patterns []string
	keep     func(p *probe.Probe, file string) bool
}

func (g globDetector) Find(p *probe.Probe) ([]string, error) {
	dir, ok := DirDetector{Dir: g.dir}.Find(p)
	if !ok {
		return nil, nil
	}
	var found []string
	for _, pattern := range g.patterns {
		files, err := p.Glob(dir, pattern, true)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if g.keep == nil || g.keep(p, f) {
				found = append(found, f)
			}
		}
	}
	return sortedSet(found), nil
}

func (g globDetector) Detect(_ context.Context, p *probe.Probe) (bool, error) {
	found, err := g.Find(p)
	return len(found) > 0, err
}

var windowsExecutableExts = []string{".bat", ".dll", ".exe"}

func isExecutable(p *probe.Probe, file string) bool {
	if p.Mode(file)&0o111 != 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(file))
	for _, e := range windowsExecutableExts {
		if ext == e {
			return true
		}
	}
	return false
}

// ExecutableDetector finds executables anywhere under bin/: files with an
// execute bit, or with a Windows executable extension.
type ExecutableDetector struct{ globDetector }

// NewExecutableDetector returns the bin/ detector.
func NewExecutableDetector() ExecutableDetector {
	return ExecutableDetector{globDetector{dir: "bin", patterns: []string{"**/*"}, keep: isExecutable}}
}

// DynamicLibraryDetector finds *.so files anywhere under lib/.
type DynamicLibraryDetector struct{ globDetector }

// NewDynamicLibraryDetector returns the lib/**/*.so detector.
func NewDynamicLibraryDetector() DynamicLibraryDetector {
	return DynamicLibraryDetector{globDetector{dir: "lib", patterns: []string{"**/*.so"}}}
}

// StaticLibraryDetector finds *.a files anywhere under lib/.
type StaticLibraryDetector struct{ globDetector }

// NewStaticLibraryDetector returns the lib/**/*.a detector.
func NewStaticLibraryDetector() StaticLibraryDetector {
	return StaticLibraryDetector{globDetector{dir: "lib", patterns: []string{"**/*.a"}}}
}

// HeaderDetector finds C and C++ headers anywhere under include/.
type HeaderDetector struct{ globDetector }

// NewHeaderDetector returns the include/ header detector.
func NewHeaderDetector() HeaderDetector {
	return HeaderDetector{globDetector{dir: "include", patterns: []string{"**/*.{h,hh,hpp,hxx}"}}}
}

// StubsDetector finds shared or static stub libraries under stubs/ or
// lib/stubs/.
type StubsDetector struct{}

// Find returns the stub libraries found.
func (StubsDetector) Find(p *probe.Probe) ([]string, error) {
	var found []string
	for _, dir := range []string{"stubs", "lib/stubs"} {
		libs, err := globDetector{dir: dir, patterns: []string{"**/*.so", "**/*.a"}}.Find(p)
		if err != nil {
			return nil, err
		}
		found = append(found, libs...)
	}
	return sortedSet(found), nil
}

// Detect implements Detector.
func (d StubsDetector) Detect(_ context.Context, p *probe.Probe) (bool, error) {
	found, err := d.Find(p)
	return len(found) > 0, err
}

// PythonModuleDetector looks for Python modules in the single
// lib/python*/site-packages directory.
type PythonModuleDetector struct {
	OnMissing func(msg string) // called when lib/ has no site-packages; may be nil
}

// Find returns the site-packages directory and the *.py files inside it.
// More than one site-packages directory, or an empty one, is an integrity
// violation.
func (d PythonModuleDetector) Find(p *probe.Probe) (string, []string, error) {
	lib, ok := DirDetector{Dir: "lib"}.Find(p)
	if !ok {
		return "", nil, nil
	}
	children, err := p.List(lib)
	if err != nil {
		return "", nil, err
	}
	var sitePackages []string
	for _, c := range children {
		if !c.IsDir || !strings.HasPrefix(c.Name, "python") {
			continue
		}
		sp := path.Join(lib, c.Name, "site-packages")
		if p.IsDir(sp) {
			sitePackages = append(sitePackages, sp)
		}
	}

	switch {
	case len(sitePackages) == 0:
		if d.OnMissing != nil {
			d.OnMissing("No site-packages dir found")
		}
		return "", nil, nil
	case len(sitePackages) > 1:
		return "", nil, errors.New(errors.ErrCodeIntegrity, "found multiple site-packages dirs: %v", sitePackages)
	}
	sp := sitePackages[0]
	if !p.HasContents(sp) {
		return "", nil, errors.New(errors.ErrCodeIntegrity, "found empty site-packages dir: %s", sp)
	}
	modules, err := p.Glob(sp, "**/*.py", true)
	return sp, modules, err
}

// Detect implements Detector.
func (d PythonModuleDetector) Detect(_ context.Context, p *probe.Probe) (bool, error) {
	_, modules, err := d.Find(p)
	return len(modules) > 0, err
}

// LibSubdirDetector lists the non-empty immediate subdirectories of lib/.
type LibSubdirDetector struct{}

// Find returns the sorted subdirectory names.
func (LibSubdirDetector) Find(p *probe.Probe) ([]string, error) {
	lib, ok := DirDetector{Dir: "lib"}.Find(p)
	if !ok {
		return nil, nil
	}
	children, err := p.List(lib)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, c := range children {
		if c.IsDir && p.HasContents(path.Join(lib, c.Name)) {
			dirs = append(dirs, c.Name)
		}
	}
	return dirs, nil
}
