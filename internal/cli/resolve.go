package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/resolver"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// resolveCommand creates the resolve command.
func (c *CLI) resolveCommand() *cobra.Command {
	var overrides string

	cmd := &cobra.Command{
		Use:   "resolve <platform> <soname> <version>",
		Short: "Look up the package providing a library",
		Long: `Resolve looks up which package provides soname on platform at the given release
version, using the provider snapshot written by process.`,
		Example: `  cudaredist resolve linux-x86_64 libcudart.so.12 12.3.52`,
		Args:    cobra.ExactArgs(3),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				platforms := make([]string, len(redist.Platforms))
				for i, p := range redist.Platforms {
					platforms[i] = string(p)
				}
				return platforms, cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runResolve(cmd.Context(), args[0], args[1], args[2], overrides)
		},
	}
	cmd.Flags().StringVar(&overrides, "overrides", "", "provider snapshot file (default overrides)")

	return cmd
}

func (c *CLI) runResolve(ctx context.Context, platformArg, soname, versionArg, overrides string) error {
	platform, err := redist.ParsePlatform(platformArg)
	if err != nil {
		return err
	}
	if !resolver.ValidSoname(soname) {
		return errors.New(errors.ErrCodeInvalidInput, "%q is not a shared object name", soname)
	}
	v, err := version.Parse(versionArg)
	if err != nil {
		return err
	}

	table, err := c.loadResolver(ctx, overrides)
	if err != nil {
		return err
	}
	id, ok := table.Lookup(ctx, platform, soname, v)
	if !ok {
		printWarning("No provider for %s on %s at %s", soname, platform, v)
		return errors.New(errors.ErrCodeNotFound, "no provider for %s", resolver.Key{Platform: platform, Soname: soname, Version: v.String()})
	}
	printKeyValue("package", id.Name)
	printKeyValue("version", id.Version.String())
	printKeyValue("platform", string(id.Platform))
	return nil
}

// loadResolver seeds a resolver from the configured snapshot store.
func (c *CLI) loadResolver(ctx context.Context, overrides string) (*resolver.Resolver, error) {
	logger := loggerFromContext(ctx)
	opts := []resolver.Option{resolver.WithLogger(logger), resolver.WithPolicy(c.Config.conflict)}

	store, err := c.Config.snapshotStore(ctx, overrides)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return resolver.New(opts...), nil
	}
	defer store.Close()

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded provider snapshot", "entries", snap.Len())
	return resolver.New(append(opts, resolver.WithSnapshot(snap))...), nil
}
