package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature"
	"github.com/matzehuels/cudaredist/pkg/manifest"
	"github.com/matzehuels/cudaredist/pkg/nixstore"
	"github.com/matzehuels/cudaredist/pkg/observability"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/resolver"
	"github.com/matzehuels/cudaredist/pkg/task"
)

// Detector classifies an unpacked package tree. *feature.Engine
// implements it.
type Detector interface {
	Detect(ctx context.Context, label, root string) (feature.Package, error)
}

// Runner wires a manifest source, an artifact store and a detector.
//
// The Runner holds no per-run state, so one Runner may serve several runs
// with different options.
type Runner struct {
	Source   manifest.Source
	Store    nixstore.Store
	Detector Detector
	Logger   *log.Logger
}

// NewRunner creates a runner. A nil logger selects log.Default().
func NewRunner(src manifest.Source, store nixstore.Store, detector Detector, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{Source: src, Store: store, Detector: detector, Logger: logger}
}

type loaded struct {
	ref      manifest.Ref
	manifest *manifest.Manifest
}

// unit is one platform package to fetch and classify.
type unit struct {
	index   int // into the loaded manifests
	release string
	entry   manifest.Entry
	id      redist.PackageID
}

func (u unit) label() string {
	s := u.id.String()
	if u.entry.Variant != "" {
		s += " " + string(u.entry.Variant)
	}
	return s
}

type detected struct {
	unit
	pkg feature.Package
}

// Process runs discover, parse, detect, resolve and write. Under the
// CollectAll policy a partial result is returned alongside the joined
// errors and the manifests are written without the failed packages.
func (r *Runner) Process(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	logger := r.Logger.With("run", res.RunID[:8])

	table, err := r.seed(ctx, opts, logger)
	if err != nil {
		return nil, err
	}

	refs, err := r.Source.Discover(ctx, opts.Name, opts.Constraint, opts.Discover...)
	if err != nil {
		return nil, err
	}
	logger.Info("Discovered manifests", "redist", opts.Name, "count", len(refs), "constraint", opts.Constraint)
	if len(refs) == 0 {
		res.Stats.Duration = time.Since(start)
		return res, nil
	}

	var errs []error
	manifests, err := task.Run(ctx, opts.batch(), refs,
		func(ref manifest.Ref) string { return "parse " + ref.Version.String() },
		func(ctx context.Context, ref manifest.Ref) (loaded, error) {
			observability.Pipeline().OnManifestStart(ctx, string(ref.Name), ref.Version.String())
			m, err := manifest.Load(ctx, r.Source, ref, logger, opts.Parse...)
			return loaded{ref: ref, manifest: m}, err
		})
	if err != nil {
		if opts.Collect == task.FailFast {
			return nil, err
		}
		errs = append(errs, err)
	}

	units, err := collectUnits(manifests)
	if err != nil {
		return nil, err
	}
	logger.Info("Detecting features", "packages", len(units), "workers", opts.Pool.Size())

	found, err := task.Run(ctx, opts.batch(), units, unit.label,
		func(ctx context.Context, u unit) (detected, error) {
			pkg, err := r.detect(ctx, opts, logger, u)
			return detected{unit: u, pkg: pkg}, err
		})
	if err != nil {
		if opts.Collect == task.FailFast {
			return nil, err
		}
		errs = append(errs, err)
	}
	res.Stats.Packages = len(found)
	res.Stats.Failed = len(units) - len(found)

	if err := table.BulkMerge(ctx, providers(found)); err != nil {
		return nil, err
	}
	res.Conflicts = table.Conflicts()
	res.Stats.Providers = table.Len()

	out := make([]*feature.Manifest, len(manifests))
	for i, l := range manifests {
		out[i] = feature.NewManifest(l.manifest)
		for _, name := range l.manifest.Names() {
			out[i].Releases[name] = feature.NewRelease(l.manifest.Releases[name])
		}
	}
	for _, d := range found {
		pkg := table.Resolve(ctx, d.id, d.pkg)
		out[d.index].Releases[d.release].Set(d.entry.Platform, d.entry.Variant, pkg)
	}

	for i, fm := range out {
		ref := manifests[i].ref
		path, err := fm.Write(opts.OutputDir)
		observability.Pipeline().OnManifestComplete(ctx, string(ref.Name), ref.Version.String(),
			len(fm.Releases), time.Since(start), err)
		if err != nil {
			return nil, err
		}
		logger.Info("Wrote feature manifest", "path", path)
		res.Manifests = append(res.Manifests, &Processed{Ref: ref, Manifest: fm, Path: path})
	}
	res.Stats.Manifests = len(res.Manifests)

	if opts.Snapshots != nil {
		if err := opts.Snapshots.Save(ctx, table.Snapshot()); err != nil {
			return nil, err
		}
		logger.Info("Saved resolver snapshot", "entries", table.Len())
	}

	res.Stats.Duration = time.Since(start)
	return res, errors.Join(errs...)
}

func (r *Runner) seed(ctx context.Context, opts Options, logger *log.Logger) (*resolver.Resolver, error) {
	resolverOpts := []resolver.Option{resolver.WithPolicy(opts.ConflictPolicy), resolver.WithLogger(logger)}
	if opts.Snapshots != nil {
		snap, err := opts.Snapshots.Load(ctx)
		if err != nil {
			return nil, err
		}
		logger.Debug("Loaded resolver snapshot", "entries", snap.Len())
		resolverOpts = append(resolverOpts, resolver.WithSnapshot(snap))
	}
	return resolver.New(resolverOpts...), nil
}

func collectUnits(manifests []loaded) ([]unit, error) {
	var units []unit
	for i, l := range manifests {
		for _, name := range l.manifest.Names() {
			rel := l.manifest.Releases[name]
			for _, e := range rel.Entries() {
				id, err := manifest.PackageID(name, rel, e.Platform)
				if err != nil {
					return nil, err
				}
				units = append(units, unit{index: i, release: name, entry: e, id: id})
			}
		}
	}
	return units, nil
}

// detect materializes one package and runs the detector over it.
func (r *Runner) detect(ctx context.Context, opts Options, logger *log.Logger, u unit) (feature.Package, error) {
	logger = logger.With("package", u.label())
	pkg := u.entry.Package
	logger.Debug("Package archive", "relative_path", pkg.RelativePath, "sha256", pkg.SHA256, "md5", pkg.MD5, "size", pkg.Size)

	url := strings.TrimSuffix(opts.URLPrefix, "/") + "/" + pkg.RelativePath
	archive, err := r.Store.Fetch(ctx, url, pkg.SHA256)
	if err != nil {
		return feature.Package{}, err
	}
	unpacked, err := r.Store.Unpack(ctx, archive)
	if err != nil {
		return feature.Package{}, err
	}

	found, err := r.Detector.Detect(ctx, u.label(), unpacked.StorePath)
	if err != nil {
		return feature.Package{}, errors.Wrap(errors.GetCode(err), err, "detect %s", u.label())
	}

	if opts.Cleanup {
		logger.Debug("Cleaning up", "archive", archive.StorePath, "unpacked", unpacked.StorePath)
		if err := r.Store.Delete(ctx, archive.StorePath, unpacked.StorePath); err != nil {
			logger.Warn("Cleanup failed", "err", err)
		}
	}
	return found, nil
}

// providers merges the provided libraries of every variant of a package
// under its PackageID.
func providers(found []detected) map[redist.PackageID]feature.Package {
	items := make(map[redist.PackageID]feature.Package, len(found))
	for _, d := range found {
		prev, ok := items[d.id]
		if !ok {
			items[d.id] = feature.Package{ProvidedLibs: feature.FlatOf(d.pkg.ProvidedLibs.All()...)}
			continue
		}
		libs := append(prev.ProvidedLibs.All(), d.pkg.ProvidedLibs.All()...)
		items[d.id] = feature.Package{ProvidedLibs: feature.FlatOf(libs...)}
	}
	return items
}

// Download copies every remote manifest matching opts into opts.Dir, one
// task per manifest, and returns local refs to the copies.
func (r *Runner) Download(ctx context.Context, opts DownloadOptions) ([]manifest.Ref, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := r.Logger.With("run", uuid.NewString()[:8])

	refs, err := r.Source.Discover(ctx, opts.Name, opts.Constraint, opts.Discover...)
	if err != nil {
		return nil, err
	}
	logger.Info("Discovered manifests", "redist", opts.Name, "count", len(refs))

	batch := task.Batch{Pool: opts.Pool, View: opts.View, Interval: opts.Interval, Policy: opts.Collect}
	return task.Run(ctx, batch, refs,
		func(ref manifest.Ref) string { return ref.Version.String() },
		func(ctx context.Context, ref manifest.Ref) (manifest.Ref, error) {
			return manifest.Download(ctx, r.Source, ref, opts.Dir, logger)
		})
}
