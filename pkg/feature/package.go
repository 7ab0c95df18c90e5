package feature

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cudaredist/pkg/feature/tools"
	"github.com/matzehuels/cudaredist/pkg/observability"
	"github.com/matzehuels/cudaredist/pkg/probe"
)

// Package is the detected feature set of one platform package. Fields are
// declared in JSON key order.
type Package struct {
	CudaArchitectures Grouped[string] `json:"cudaArchitectures"`
	Dependencies      Grouped[string] `json:"dependencies"`
	NeededLibs        Grouped[string] `json:"neededLibs"`
	Outputs           Outputs         `json:"outputs"`
	ProvidedLibs      Grouped[string] `json:"providedLibs"`
}

// Engine runs the detectors over unpacked archives.
type Engine struct {
	Cuobjdump   tools.Cuobjdump
	Patchelf    tools.Patchelf
	IgnoredDirs []string // lib/ children excluded from grouping; DefaultIgnoredDirs if nil
	Logger      *log.Logger
}

// NewEngine returns an Engine using the tools on PATH and the given runner.
func NewEngine(runner tools.Runner, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		Cuobjdump: tools.Cuobjdump{Runner: runner},
		Patchelf:  tools.Patchelf{Runner: runner},
		Logger:    logger,
	}
}

func (e *Engine) logger() *log.Logger {
	if e.Logger == nil {
		return log.Default()
	}
	return e.Logger
}

func (e *Engine) groupable(detect FileDetector[string]) Groupable[string] {
	ignored := e.IgnoredDirs
	if ignored == nil {
		ignored = DefaultIgnoredDirs
	}
	return Groupable[string]{Dir: "lib", Ignored: ignored, Filter: SharedObjects, Detect: detect}
}

// Detect classifies the tree at root. label identifies the package in logs
// and hooks. Dependencies is left empty; it is filled by the resolver.
func (e *Engine) Detect(ctx context.Context, label, root string) (Package, error) {
	start := time.Now()
	observability.Pipeline().OnDetectStart(ctx, label)
	pkg, err := e.detect(ctx, label, probe.New(root))
	observability.Pipeline().OnDetectComplete(ctx, label, time.Since(start), err)
	return pkg, err
}

func (e *Engine) detect(ctx context.Context, label string, p *probe.Probe) (Package, error) {
	logger := e.logger().With("package", label)

	python := PythonModuleDetector{OnMissing: func(msg string) { logger.Info(msg) }}
	outputs, err := DetectOutputs(ctx, p, python)
	if err != nil {
		return Package{}, err
	}
	logger.Debug("Detected outputs", "outputs", outputs.Names())

	if headers, err := NewHeaderDetector().Find(p); err == nil && len(headers) > 0 {
		logger.Debug("Found headers", "count", len(headers))
	}
	var libDirs LibSubdirDetector
	if subdirs, err := libDirs.Find(p); err == nil && len(subdirs) > 0 {
		logger.Debug("Found lib subdirectories", "dirs", subdirs)
	}

	pkg := Package{Outputs: outputs}
	detectors := []struct {
		name string
		dst  *Grouped[string]
		fn   FileDetector[string]
	}{
		{"cuda architectures", &pkg.CudaArchitectures, e.Cuobjdump.Architectures},
		{"provided libs", &pkg.ProvidedLibs, e.Patchelf.Soname},
		{"needed libs", &pkg.NeededLibs, e.Patchelf.Needed},
	}
	for _, d := range detectors {
		start := time.Now()
		g, ok, err := e.groupable(d.fn).Find(ctx, p)
		if err != nil {
			return Package{}, err
		}
		if ok {
			*d.dst = g
		}
		logger.Debug("Got "+d.name, "value", g.All(), "elapsed", time.Since(start).Round(time.Millisecond))
	}
	return pkg, nil
}
