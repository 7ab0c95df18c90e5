// Package pipeline runs the feature detection workflow end to end.
//
// A process run has five stages:
//
//  1. Discover: list manifest refs for a redistributable under a constraint
//  2. Parse: load every manifest, one task per manifest
//  3. Detect: fetch, unpack and classify every platform package, one task each
//  4. Resolve: merge provided libraries into the resolver table and fill in
//     each package's dependencies from its needed libraries
//  5. Write: emit feature_<version>.json per manifest and save the snapshot
//
// A download run only discovers remote manifests and copies them to disk.
//
// # Usage
//
//	runner := pipeline.NewRunner(src, store, engine, logger)
//	res, err := runner.Process(ctx, pipeline.Options{
//	    Name:      "cutensor",
//	    OutputDir: "feature_manifests/cutensor",
//	})
package pipeline

import (
	"time"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature"
	"github.com/matzehuels/cudaredist/pkg/manifest"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/resolver"
	"github.com/matzehuels/cudaredist/pkg/task"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// =============================================================================
// Options
// =============================================================================

// Options configures a process run.
type Options struct {
	// Name selects the redistributable. Required.
	Name redist.Name

	// Constraint selects manifest versions. The zero value accepts all.
	Constraint version.Constraint

	// Discover and Parse are passed through to the manifest package.
	Discover []manifest.DiscoverOption
	Parse    []manifest.ParseOption

	// URLPrefix is prepended to each package's relative path. Defaults to
	// Name.URLPrefix(redist.DefaultURLBase).
	URLPrefix string

	// OutputDir receives the feature manifests. Required.
	OutputDir string

	// Cleanup deletes fetched archives and unpacked trees after detection.
	Cleanup bool

	// Snapshots seeds the resolver before the run and receives the merged
	// table after it. Optional.
	Snapshots resolver.Store

	// ConflictPolicy is applied when merging provided libraries.
	ConflictPolicy resolver.ConflictPolicy

	// Pool, View, Interval and Collect drive the parse and detect tasks.
	Pool     *task.Pool
	View     task.View
	Interval time.Duration
	Collect  task.CollectPolicy

	validated bool
}

// ValidateAndSetDefaults checks required fields and applies defaults.
// Safe to call more than once.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if o.Name == "" {
		return errors.New(errors.ErrCodeInvalidInput, "redistributable name is required")
	}
	if _, err := redist.ParseName(string(o.Name)); err != nil {
		return err
	}
	if o.OutputDir == "" {
		return errors.New(errors.ErrCodeInvalidInput, "output directory is required")
	}
	if o.URLPrefix == "" {
		o.URLPrefix = o.Name.URLPrefix(redist.DefaultURLBase)
	}
	if o.Pool == nil {
		o.Pool = task.NewPool(0)
	}
	o.validated = true
	return nil
}

func (o *Options) batch() task.Batch {
	return task.Batch{Pool: o.Pool, View: o.View, Interval: o.Interval, Policy: o.Collect}
}

// DownloadOptions configures a download run.
type DownloadOptions struct {
	Name       redist.Name
	Constraint version.Constraint
	Discover   []manifest.DiscoverOption

	// Dir receives redistrib_<version>.json files. Required.
	Dir string

	Pool     *task.Pool
	View     task.View
	Interval time.Duration
	Collect  task.CollectPolicy
}

func (o *DownloadOptions) validate() error {
	if _, err := redist.ParseName(string(o.Name)); err != nil {
		return err
	}
	if o.Dir == "" {
		return errors.New(errors.ErrCodeInvalidInput, "manifest directory is required")
	}
	if o.Pool == nil {
		o.Pool = task.NewPool(0)
	}
	return nil
}

// =============================================================================
// Results
// =============================================================================

// Result is the outcome of a process run.
type Result struct {
	RunID     string
	Manifests []*Processed
	Conflicts []resolver.Conflict
	Stats     Stats
}

// Processed is one feature manifest and the file it was written to.
type Processed struct {
	Ref      manifest.Ref
	Manifest *feature.Manifest
	Path     string
}

// Stats summarizes a run.
type Stats struct {
	Manifests int
	Packages  int
	Failed    int
	Providers int
	Duration  time.Duration
}
