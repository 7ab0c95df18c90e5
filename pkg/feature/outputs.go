package feature

import (
	"context"

	"github.com/matzehuels/cudaredist/pkg/probe"
)

// Outputs records which installable outputs an archive can be split into.
// The checks follow the nixpkgs multiple-outputs conventions.
type Outputs struct {
	Bin    bool `json:"hasBin"`
	Dev    bool `json:"hasDev"`
	Doc    bool `json:"hasDoc"`
	Lib    bool `json:"hasLib"`
	Python bool `json:"hasPython"`
	Sample bool `json:"hasSample"`
	Static bool `json:"hasStatic"`
	Stubs  bool `json:"hasStubs"`
}

// Names returns the names of the outputs that are present, in the order
// the fields are declared.
func (o Outputs) Names() []string {
	var names []string
	for _, f := range []struct {
		name string
		ok   bool
	}{
		{"bin", o.Bin}, {"dev", o.Dev}, {"doc", o.Doc}, {"lib", o.Lib},
		{"python", o.Python}, {"sample", o.Sample}, {"static", o.Static}, {"stubs", o.Stubs},
	} {
		if f.ok {
			names = append(names, f.name)
		}
	}
	return names
}

var devDirs = AnyOf{
	DirDetector{Dir: "include"},
	DirDetector{Dir: "lib/pkgconfig"},
	DirDetector{Dir: "share/pkgconfig"},
	DirDetector{Dir: "lib/cmake"},
	DirDetector{Dir: "share/aclocal"},
}

var docDirs = AnyOf{
	DirDetector{Dir: "share/info"},
	DirDetector{Dir: "share/doc"},
	DirDetector{Dir: "share/gtk-doc"},
	DirDetector{Dir: "share/devhelp"},
	DirDetector{Dir: "share/man"},
}

// DetectOutputs runs every output detector against p.
func DetectOutputs(ctx context.Context, p *probe.Probe, python PythonModuleDetector) (Outputs, error) {
	var o Outputs
	checks := []struct {
		dst *bool
		d   Detector
	}{
		{&o.Bin, NewExecutableDetector()},
		{&o.Dev, devDirs},
		{&o.Doc, docDirs},
		{&o.Lib, NewDynamicLibraryDetector()},
		{&o.Python, python},
		{&o.Sample, DirDetector{Dir: "samples"}},
		{&o.Static, NewStaticLibraryDetector()},
		{&o.Stubs, StubsDetector{}},
	}
	for _, c := range checks {
		ok, err := c.d.Detect(ctx, p)
		if err != nil {
			return Outputs{}, err
		}
		*c.dst = ok
	}
	return o, nil
}
