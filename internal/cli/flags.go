package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cudaredist/pkg/cache"
	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/manifest"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// versionFlags selects manifest versions. --version excludes both bounds.
type versionFlags struct {
	exact  string
	min    string
	max    string
	latest bool
}

func (f *versionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.exact, "version", "", "only this manifest version")
	cmd.Flags().StringVar(&f.min, "min-version", "", "lowest manifest version (inclusive)")
	cmd.Flags().StringVar(&f.max, "max-version", "", "highest manifest version (inclusive)")
	cmd.Flags().BoolVar(&f.latest, "latest", false, "keep only the newest version of each release series")
	cmd.MarkFlagsMutuallyExclusive("version", "min-version")
	cmd.MarkFlagsMutuallyExclusive("version", "max-version")
}

func (f versionFlags) constraint() (version.Constraint, error) {
	var parts [3]version.Version
	for i, s := range []string{f.exact, f.min, f.max} {
		if s == "" {
			continue
		}
		v, err := version.Parse(s)
		if err != nil {
			return version.Constraint{}, err
		}
		parts[i] = v
	}
	return version.NewConstraint(parts[0], parts[1], parts[2])
}

func (f versionFlags) discover(cfg *Config) []manifest.DiscoverOption {
	return []manifest.DiscoverOption{
		manifest.SkipNonconforming(cfg.SkipNonconforming),
		manifest.LatestOnly(f.latest),
	}
}

// redistFlag registers the required --redist flag with completion.
func redistFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "redist", "", "redistributable: "+strings.Join(redist.NameStrings(), ", "))
	_ = cmd.MarkFlagRequired("redist")
	_ = cmd.RegisterFlagCompletionFunc("redist", cobra.FixedCompletions(redist.NameStrings(), cobra.ShellCompDirectiveNoFileComp))
}

// sourceFlags picks where manifests are read from.
type sourceFlags struct {
	source  string
	noCache bool
	refresh bool
}

func (f *sourceFlags) register(cmd *cobra.Command, usage string) {
	cmd.Flags().StringVar(&f.source, "source", "", usage)
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable the HTTP response cache")
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "bypass cached index pages and manifests")
}

func isURL(s string) bool { return errors.ValidateURL(s) == nil }

// remoteSource builds a RemoteSource rooted at base. The returned cache
// must be closed by the caller.
func (c *CLI) remoteSource(base string, f sourceFlags) (*manifest.RemoteSource, cache.Cache, error) {
	if err := errors.ValidateURL(base); err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "source %q", base)
	}
	backend, err := c.Config.newCache(f.noCache)
	if err != nil {
		return nil, nil, err
	}
	src := manifest.NewRemoteSource(c.Config.nvidiaClient(backend, base), c.Logger)
	src.Refresh = f.refresh
	return src, backend, nil
}

// manifestSource resolves --source: a URL selects remote discovery, a path
// or nothing selects the local manifest directory.
func (c *CLI) manifestSource(f sourceFlags) (manifest.Source, cache.Cache, error) {
	if isURL(f.source) {
		return c.remoteSource(f.source, f)
	}
	dir := f.source
	if dir == "" {
		dir = c.Config.ManifestDir
	}
	return manifest.NewLocalSource(dir, c.Logger), cache.NewNullCache(), nil
}
