package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cudaredist/pkg/pipeline"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/task"
)

type downloadOptions struct {
	redist      string
	versions    versionFlags
	source      sourceFlags
	manifestDir string
	noParallel  bool
	keepGoing   bool
}

// downloadCommand creates the download command.
func (c *CLI) downloadCommand() *cobra.Command {
	var opts downloadOptions

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download redistrib manifests from the NVIDIA index",
		Long: `Download lists the manifests published for a redistributable and saves every
version matching the constraint as <manifest_dir>/<redist>/redistrib_<version>.json.`,
		Example: `  cudaredist download --redist cudnn --min-version 9.0.0
  cudaredist download --redist cuda --version 12.3.2 -o manifests`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDownload(cmd.Context(), opts)
		},
	}

	redistFlag(cmd, &opts.redist)
	opts.versions.register(cmd)
	opts.source.register(cmd, "index base URL (default url_prefix)")
	cmd.Flags().StringVarP(&opts.manifestDir, "output", "o", "", "manifest directory (default manifest_dir)")
	cmd.Flags().BoolVar(&opts.noParallel, "no-parallel", false, "download one manifest at a time")
	cmd.Flags().BoolVar(&opts.keepGoing, "keep-going", false, "keep downloading when some manifests fail")

	return cmd
}

func (c *CLI) runDownload(ctx context.Context, opts downloadOptions) error {
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

	base := opts.source.source
	if base == "" {
		base = cfg.URLPrefix
	}
	src, backend, err := c.remoteSource(base, opts.source)
	if err != nil {
		return err
	}
	defer backend.Close()

	dir := opts.manifestDir
	if dir == "" {
		dir = cfg.ManifestDir
	}
	collect := cfg.collect
	if opts.keepGoing {
		collect = task.CollectAll
	}

	view, stop := c.progressFor(fmt.Sprintf("Downloading %s", name), os.Stderr)
	defer stop()

	runner := pipeline.NewRunner(src, nil, nil, logger)
	refs, err := runner.Download(ctx, pipeline.DownloadOptions{
		Name:       name,
		Constraint: constraint,
		Discover:   opts.versions.discover(cfg),
		Dir:        filepath.Join(dir, string(name)),
		Pool:       cfg.workers(opts.noParallel),
		View:       view,
		Interval:   cfg.PollInterval,
		Collect:    collect,
	})
	stop()

	if len(refs) > 0 {
		printSuccess("Downloaded %d manifests", len(refs))
		for _, ref := range refs {
			printFile(ref.Location)
		}
	} else if err == nil {
		printInfo("No manifests matched")
	}
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Downloaded %d %s manifests", len(refs), name))
	return nil
}
