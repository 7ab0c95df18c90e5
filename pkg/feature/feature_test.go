package feature

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature/tools"
	"github.com/matzehuels/cudaredist/pkg/probe"
)

// mkTree creates files (mode 0644), executables (suffix "*", mode 0755)
// and empty directories (suffix "/") under a fresh root.
func mkTree(t *testing.T, entries ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e, "/"):
			require.NoError(t, os.MkdirAll(filepath.Join(root, e), 0o755))
		case strings.HasSuffix(e, "*"):
			p := filepath.Join(root, strings.TrimSuffix(e, "*"))
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
			require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755))
		default:
			p := filepath.Join(root, e)
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
			require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		}
	}
	return root
}

// fakeTools answers cuobjdump and patchelf from the file's base name.
type fakeTools struct{}

func (fakeTools) Run(ctx context.Context, name string, args ...string) (tools.Result, error) {
	file := args[len(args)-1]
	base := filepath.Base(file)
	switch {
	case name == "cuobjdump" && strings.Contains(base, "host"):
		return tools.Result{ExitCode: 255, Stderr: []byte("File '" + file + "' does not contain device code")}, nil
	case name == "cuobjdump":
		return tools.Result{Stdout: []byte("arch = sm_80\narch = sm_90\n")}, nil
	case args[0] == "--print-soname":
		return tools.Result{Stdout: []byte(base + ".1\n")}, nil
	case args[0] == "--print-needed":
		return tools.Result{Stdout: []byte("libc.so.6\nlibm.so.6\n")}, nil
	}
	return tools.Result{ExitCode: 1}, nil
}

func TestDirDetector(t *testing.T) {
	tests := []struct {
		name  string
		tree  []string
		dir   string
		found bool
	}{
		{"non-empty leaf", []string{"include/foo.h"}, "include", true},
		{"empty leaf", []string{"include/"}, "include", false},
		{"missing", []string{"lib/libfoo.so"}, "include", false},
		{"file not dir", []string{"include"}, "include", false},
		{"nested", []string{"share/doc/README"}, "share/doc", true},
		{"intermediate holds only the deeper path", []string{"a/b/c/file"}, "a/b/c", true},
		{"empty nested leaf", []string{"share/doc/", "share/other"}, "share/doc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := probe.New(mkTree(t, tt.tree...))
			_, ok := DirDetector{Dir: tt.dir}.Find(p)
			assert.Equal(t, tt.found, ok)
		})
	}
}

func TestExecutableDetector(t *testing.T) {
	p := probe.New(mkTree(t, "bin/nvcc*", "bin/README", "bin/sub/tool.exe", "bin/x.DLL"))
	found, err := NewExecutableDetector().Find(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"bin/nvcc", "bin/sub/tool.exe", "bin/x.DLL"}, found)

	p = probe.New(mkTree(t, "bin/README"))
	ok, err := NewExecutableDetector().Detect(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLibraryDetectors(t *testing.T) {
	p := probe.New(mkTree(t, "lib/x64/libfoo.so", "lib/libfoo.a", "lib/stubs/libcuda.so", "include/a/b.hpp", "include/c.txt"))

	so, err := NewDynamicLibraryDetector().Find(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/stubs/libcuda.so", "lib/x64/libfoo.so"}, so)

	a, err := NewStaticLibraryDetector().Find(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/libfoo.a"}, a)

	stubs, err := StubsDetector{}.Find(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/stubs/libcuda.so"}, stubs)

	headers, err := NewHeaderDetector().Find(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"include/a/b.hpp"}, headers)

	subdirs, err := LibSubdirDetector{}.Find(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"stubs", "x64"}, subdirs)
}

func TestPythonModuleDetector(t *testing.T) {
	ctx := context.Background()

	ok, err := PythonModuleDetector{}.Detect(ctx, probe.New(mkTree(t, "lib/python3.11/site-packages/pkg/__init__.py")))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = PythonModuleDetector{}.Detect(ctx, probe.New(mkTree(t, "lib/python3.11/site-packages/pkg/data.bin")))
	require.NoError(t, err)
	assert.False(t, ok)

	var missing string
	d := PythonModuleDetector{OnMissing: func(msg string) { missing = msg }}
	ok, err = d.Detect(ctx, probe.New(mkTree(t, "lib/libfoo.so")))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, missing)

	_, err = PythonModuleDetector{}.Detect(ctx, probe.New(mkTree(t, "lib/python3.10/site-packages/a.py", "lib/python3.11/site-packages/b.py")))
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity), "got %v", err)

	_, err = PythonModuleDetector{}.Detect(ctx, probe.New(mkTree(t, "lib/python3.11/site-packages/", "lib/libfoo.so")))
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity), "got %v", err)
}

func sonames(ctx context.Context, file string) ([]string, error) {
	return []string{filepath.Base(file) + ".1"}, nil
}

func TestGroupable(t *testing.T) {
	ctx := context.Background()
	g := Groupable[string]{Dir: "lib", Ignored: DefaultIgnoredDirs, Filter: SharedObjects, Detect: sonames}

	t.Run("grouped", func(t *testing.T) {
		p := probe.New(mkTree(t, "lib/sm90/libX.so", "lib/sm80/libY.so", "lib/sm80/libZ.so", "lib/stubs/libS.so", "lib/pkgconfig/x.pc"))
		got, ok, err := g.Find(ctx, p)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, map[string][]string{
			"sm80": {"libY.so.1", "libZ.so.1"},
			"sm90": {"libX.so.1"},
		}, got.Groups)
	})

	t.Run("flat", func(t *testing.T) {
		p := probe.New(mkTree(t, "lib/libY.so", "lib/libX.so", "lib/libX.a", "lib/cmake/x.cmake"))
		got, ok, err := g.Find(ctx, p)
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, got.IsGrouped())
		assert.Equal(t, []string{"libX.so.1", "libY.so.1"}, got.Flat)
	})

	t.Run("mixed", func(t *testing.T) {
		p := probe.New(mkTree(t, "lib/libX.so", "lib/cuda12/libY.so"))
		_, _, err := g.Find(ctx, p)
		assert.True(t, errors.Is(err, errors.ErrCodeIntegrity), "got %v", err)
	})

	t.Run("nothing", func(t *testing.T) {
		p := probe.New(mkTree(t, "lib/libX.a"))
		_, ok, err := g.Find(ctx, p)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = g.Find(ctx, probe.New(mkTree(t, "include/x.h")))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestEngineDetectFlat(t *testing.T) {
	root := mkTree(t, "bin/exe*", "lib/libfoo.so", "include/foo.h")
	pkg, err := NewEngine(fakeTools{}, nil).Detect(context.Background(), "test", root)
	require.NoError(t, err)

	assert.Equal(t, Outputs{Bin: true, Dev: true, Lib: true}, pkg.Outputs)
	assert.Equal(t, []string{"sm_80", "sm_90"}, pkg.CudaArchitectures.Flat)
	assert.Equal(t, []string{"libfoo.so.1"}, pkg.ProvidedLibs.Flat)
	assert.Equal(t, []string{"libc.so.6", "libm.so.6"}, pkg.NeededLibs.Flat)
	assert.True(t, pkg.Dependencies.IsEmpty())
}

func TestEngineDetectVariantDirs(t *testing.T) {
	root := mkTree(t, "lib/cuda11/libfoo.so", "lib/cuda12/libfoo_host.so")
	pkg, err := NewEngine(fakeTools{}, nil).Detect(context.Background(), "test", root)
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{
		"cuda11": {"sm_80", "sm_90"},
		"cuda12": {},
	}, pkg.CudaArchitectures.Groups)
	assert.Equal(t, map[string][]string{
		"cuda11": {"libfoo.so.1"},
		"cuda12": {"libfoo_host.so.1"},
	}, pkg.ProvidedLibs.Groups)
	assert.True(t, pkg.Outputs.Lib)
}

func TestLibSubdirDetector(t *testing.T) {
	root := mkTree(t, "lib/cuda12/libfoo.so", "lib/cuda11/libfoo.so", "lib/empty/", "lib/libbar.so")
	dirs, err := LibSubdirDetector{}.Find(probe.New(root))
	require.NoError(t, err)
	assert.Equal(t, []string{"cuda11", "cuda12"}, dirs)

	dirs, err = LibSubdirDetector{}.Find(probe.New(mkTree(t, "bin/exe*")))
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestEngineDetectLogsLibSubdirs(t *testing.T) {
	root := mkTree(t, "lib/cuda11/libfoo.so", "lib/cuda12/libfoo.so", "include/foo.h")
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})

	pkg, err := NewEngine(fakeTools{}, logger).Detect(context.Background(), "libfoo", root)
	require.NoError(t, err)
	assert.Equal(t, Outputs{Dev: true, Lib: true}, pkg.Outputs)
	assert.True(t, pkg.ProvidedLibs.IsGrouped())

	out := buf.String()
	assert.Contains(t, out, "Found lib subdirectories")
	assert.Contains(t, out, "cuda11")
	assert.Contains(t, out, "cuda12")
	assert.Contains(t, out, "Found headers")
}

func TestOutputsNames(t *testing.T) {
	assert.Equal(t, []string{"bin", "lib", "stubs"}, Outputs{Bin: true, Lib: true, Stubs: true}.Names())
	assert.Empty(t, Outputs{}.Names())
}

func TestDetectOutputsAll(t *testing.T) {
	root := mkTree(t,
		"bin/tool*",
		"lib/pkgconfig/foo.pc",
		"share/man/man1/tool.1",
		"lib/libfoo.so",
		"lib/libfoo.a",
		"lib/python3.12/site-packages/foo.py",
		"samples/sample.cu",
		"stubs/libcuda.so",
	)
	o, err := DetectOutputs(context.Background(), probe.New(root), PythonModuleDetector{})
	require.NoError(t, err)
	assert.Equal(t, Outputs{Bin: true, Dev: true, Doc: true, Lib: true, Python: true, Sample: true, Static: true, Stubs: true}, o)
}
