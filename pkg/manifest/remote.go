package manifest

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cudaredist/pkg/integrations/nvidia"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// RemoteSource discovers manifests by scraping the vendor index page.
type RemoteSource struct {
	Client  *nvidia.Client
	Refresh bool // bypass cached index pages and manifests
	Logger  *log.Logger
}

// NewRemoteSource creates a RemoteSource over client.
func NewRemoteSource(client *nvidia.Client, logger *log.Logger) *RemoteSource {
	return &RemoteSource{Client: client, Logger: orDefault(logger)}
}

// Discover implements Source.
func (s *RemoteSource) Discover(ctx context.Context, name redist.Name, c version.Constraint, opts ...DiscoverOption) ([]Ref, error) {
	logger := orDefault(s.Logger)
	start := time.Now()
	logger.Debug("Fetching manifests", "from", s.Client.IndexURL(name))

	all, err := s.Client.ListVersions(ctx, name, s.Refresh)
	if err != nil {
		return nil, err
	}
	vs := selectVersions(logger, name, all, c, opts)
	refs := make([]Ref, len(vs))
	for i, v := range vs {
		refs[i] = Ref{Name: name, Version: v, Location: s.Client.ManifestURL(name, v), Remote: true}
	}
	logger.Debug("Found manifests", "count", len(refs), "elapsed", time.Since(start).Round(time.Millisecond))
	return refs, nil
}

// Retrieve implements Source.
func (s *RemoteSource) Retrieve(ctx context.Context, ref Ref) ([]byte, error) {
	orDefault(s.Logger).Info("Reading manifest", "from", ref.Location)
	return s.Client.Manifest(ctx, ref.Name, ref.Version, s.Refresh)
}
