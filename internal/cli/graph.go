package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cudaredist/pkg/depgraph"
	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

type graphOptions struct {
	redist       string
	version      string
	platform     string
	format       string
	output       string
	featureDir   string
	detailed     bool
	hideExternal bool
}

// graphCommand creates the graph command.
func (c *CLI) graphCommand() *cobra.Command {
	var opts graphOptions

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the package dependency graph of a feature manifest",
		Example: `  cudaredist graph --redist cuda --version 12.3.2 > cuda.dot
  cudaredist graph --redist cudnn --version 9.0.0 --format svg -o cudnn.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runGraph(cmd.Context(), opts)
		},
	}

	redistFlag(cmd, &opts.redist)
	cmd.Flags().StringVar(&opts.version, "version", "", "feature manifest version")
	_ = cmd.MarkFlagRequired("version")
	cmd.Flags().StringVar(&opts.platform, "platform", string(redist.LinuxX8664), "platform to draw")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "dot", "output format: dot or svg")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&opts.featureDir, "features", "", "feature manifest directory (default feature_dir)")
	cmd.Flags().BoolVar(&opts.detailed, "detailed", false, "label nodes with version and outputs")
	cmd.Flags().BoolVar(&opts.hideExternal, "hide-external", false, "omit packages outside the manifest")
	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions([]string{"dot", "svg"}, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

func (c *CLI) runGraph(ctx context.Context, opts graphOptions) error {
	logger := loggerFromContext(ctx)
	prog := newProgress(logger)

	name, err := redist.ParseName(opts.redist)
	if err != nil {
		return err
	}
	v, err := version.Parse(opts.version)
	if err != nil {
		return err
	}
	platform, err := redist.ParsePlatform(opts.platform)
	if err != nil {
		return err
	}
	if opts.format != "dot" && opts.format != "svg" {
		return errors.New(errors.ErrCodeInvalidInput, "unknown format %q (want dot or svg)", opts.format)
	}

	dir := opts.featureDir
	if dir == "" {
		dir = c.Config.FeatureDir
	}
	m, err := feature.ReadManifest(filepath.Join(dir, string(name)), v)
	if err != nil {
		return err
	}
	g, err := depgraph.Build(m, platform)
	if err != nil {
		return err
	}
	if cycle := g.Cycle(); cycle != nil {
		logger.Warn("Dependency cycle", "packages", cycle)
	}

	data, err := renderGraph(ctx, g, opts)
	if err != nil {
		return err
	}
	if opts.output == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(opts.output, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "write %s", opts.output)
	}
	printSuccess("Graph of %d packages", g.NodeCount())
	printFile(opts.output)
	prog.done(fmt.Sprintf("Rendered %s %s graph", name, v))
	return nil
}

func renderGraph(ctx context.Context, g *depgraph.Graph, opts graphOptions) ([]byte, error) {
	dot := depgraph.ToDOT(g, depgraph.Options{Detailed: opts.detailed, HideExternal: opts.hideExternal})
	if opts.format == "dot" {
		return []byte(dot), nil
	}
	spinner := newSpinnerWithContext(ctx, "Rendering SVG...")
	spinner.Start()
	defer spinner.Stop()
	return depgraph.RenderSVG(ctx, dot)
}
