package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cudaredist/pkg/manifest"
	"github.com/matzehuels/cudaredist/pkg/pipeline"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/task"
)

type processOptions struct {
	redist     string
	versions   versionFlags
	source     sourceFlags
	urlBase    string
	featureDir string
	overrides  string
	cleanup    bool
	noParallel bool
	keepGoing  bool
}

// processCommand creates the process command.
func (c *CLI) processCommand() *cobra.Command {
	var opts processOptions

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Detect package features and write feature manifests",
		Long: `Process reads redistrib_<version>.json manifests, fetches and unpacks every
package they list into the Nix store, detects the features each package provides and
writes feature_<version>.json with dependencies resolved against the provider table.`,
		Example: `  cudaredist process --redist cutensor
  cudaredist process --redist cuda --min-version 12.0.0 --cleanup --keep-going`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runProcess(cmd.Context(), opts)
		},
	}

	redistFlag(cmd, &opts.redist)
	opts.versions.register(cmd)
	opts.source.register(cmd, "manifest directory or index URL (default manifest_dir)")
	cmd.Flags().StringVar(&opts.urlBase, "url", "", "base URL for package archives (default url_prefix)")
	cmd.Flags().StringVarP(&opts.featureDir, "output", "o", "", "feature manifest directory (default feature_dir)")
	cmd.Flags().StringVar(&opts.overrides, "overrides", "", "provider snapshot file (default overrides)")
	cmd.Flags().BoolVar(&opts.cleanup, "cleanup", false, "delete fetched archives and unpacked trees after detection")
	cmd.Flags().BoolVar(&opts.noParallel, "no-parallel", false, "process one package at a time")
	cmd.Flags().BoolVar(&opts.keepGoing, "keep-going", false, "write partial manifests when some packages fail")

	return cmd
}

func (c *CLI) runProcess(ctx context.Context, opts processOptions) error {
	cfg := c.Config
	logger := loggerFromContext(ctx)
	prog := newProgress(logger)

	name, err := redist.ParseName(opts.redist)
	if err != nil {
		return err
	}
	constraint, err := opts.versions.constraint()
	if err != nil {
		return err
	}

	src, backend, err := c.manifestSource(opts.source)
	if err != nil {
		return err
	}
	defer backend.Close()

	store, err := cfg.snapshotStore(ctx, opts.overrides)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	urlBase := opts.urlBase
	if urlBase == "" {
		urlBase = cfg.URLPrefix
	}
	featureDir := opts.featureDir
	if featureDir == "" {
		featureDir = cfg.FeatureDir
	}
	collect := cfg.collect
	if opts.keepGoing {
		collect = task.CollectAll
	}

	view, stop := c.progressFor(fmt.Sprintf("Processing %s", name), os.Stderr)
	defer stop()

	runner := pipeline.NewRunner(src, cfg.nixStore(logger), cfg.engine(logger), logger)
	res, err := runner.Process(ctx, pipeline.Options{
		Name:           name,
		Constraint:     constraint,
		Discover:       opts.versions.discover(cfg),
		Parse:          []manifest.ParseOption{manifest.VerifyRelativePaths(cfg.VerifyRelativePaths)},
		URLPrefix:      name.URLPrefix(urlBase),
		OutputDir:      filepath.Join(featureDir, string(name)),
		Cleanup:        opts.cleanup,
		Snapshots:      store,
		ConflictPolicy: cfg.conflict,
		Pool:           cfg.workers(opts.noParallel),
		View:           view,
		Interval:       cfg.PollInterval,
		Collect:        collect,
	})
	stop()

	if res != nil {
		printProcessResult(res)
	}
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Processed %d %s manifests", res.Stats.Manifests, name))
	return nil
}

func printProcessResult(res *pipeline.Result) {
	if len(res.Manifests) == 0 {
		printInfo("No manifests matched")
		return
	}
	printSuccess("Wrote %d feature manifests", len(res.Manifests))
	for _, p := range res.Manifests {
		printFile(p.Path)
	}
	printStats(res.Stats)
	for _, conflict := range res.Conflicts {
		printWarning("Provider conflict %s: %s vs %s, kept %s",
			conflict.Key, conflict.Existing, conflict.Incoming, conflict.Kept)
	}
}
