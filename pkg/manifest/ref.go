package manifest

import (
	"context"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// Ref locates one manifest. Location is a URL when Remote is set and a file
// path otherwise.
type Ref struct {
	Name     redist.Name
	Version  version.Version
	Location string
	Remote   bool
}

func (r Ref) String() string { return r.Location }

// Source discovers and retrieves manifests.
type Source interface {
	// Discover returns refs for the manifests of name satisfying c, sorted
	// by version.
	Discover(ctx context.Context, name redist.Name, c version.Constraint, opts ...DiscoverOption) ([]Ref, error)
	// Retrieve returns the raw manifest bytes.
	Retrieve(ctx context.Context, ref Ref) ([]byte, error)
}

type discoverConfig struct {
	skipNonconforming bool
	latest            bool
}

// DiscoverOption configures Discover.
type DiscoverOption func(*discoverConfig)

// SkipNonconforming toggles skipping manifests whose layout predates the
// current schema (see redist.Nonconforming). It is on by default.
func SkipNonconforming(on bool) DiscoverOption {
	return func(c *discoverConfig) { c.skipNonconforming = on }
}

// LatestOnly keeps only the newest version of each release series.
func LatestOnly(on bool) DiscoverOption {
	return func(c *discoverConfig) { c.latest = on }
}

// selectVersions applies the constraint and the discover options to vs and
// returns the survivors sorted ascending.
func selectVersions(logger *log.Logger, name redist.Name, vs []version.Version, c version.Constraint, opts []DiscoverOption) []version.Version {
	cfg := discoverConfig{skipNonconforming: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	var keep []version.Version
	for _, v := range vs {
		if ok, reason := c.IsSatisfiedBy(v); !ok {
			logger.Debug("Skipping manifest", "redist", name, "version", v, "reason", reason)
			continue
		}
		if cfg.skipNonconforming {
			if skip, reason := redist.Nonconforming(name, v); skip {
				logger.Info("Skipping manifest", "redist", name, "version", v, "reason", reason)
				continue
			}
		}
		keep = append(keep, v)
	}
	if cfg.latest {
		return redist.Latest(name, keep)
	}
	slices.SortFunc(keep, version.Compare)
	return keep
}

func orDefault(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.Default()
	}
	return logger
}
