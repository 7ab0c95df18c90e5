// Package nvidia fetches redistributable indexes and manifests from the
// NVIDIA download server.
package nvidia

import (
	"context"
	"encoding/json"
	"regexp"
	"slices"
	"time"

	"github.com/matzehuels/cudaredist/pkg/cache"
	"github.com/matzehuels/cudaredist/pkg/integrations"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// manifestLinkRe matches href attributes naming a redistrib_X.Y.Z[.W].json
// manifest relative to the index page.
var manifestLinkRe = regexp.MustCompile(`href=['"]redistrib_(\d+\.\d+\.\d+(?:\.\d+)?)\.json['"]`)

// Client fetches manifests for any redistributable below a URL base.
type Client struct {
	*integrations.Client
	base string
}

// NewClient creates a Client rooted at base (redist.DefaultURLBase if empty).
func NewClient(backend cache.Cache, base string, ttl time.Duration, opts ...integrations.Option) *Client {
	return &Client{
		Client: integrations.NewClient(backend, "nvidia:", ttl, map[string]string{"Accept": "text/html, application/json"}, opts...),
		base:   base,
	}
}

// IndexURL returns the directory listing URL for n.
func (c *Client) IndexURL(n redist.Name) string {
	return n.URLPrefix(c.base) + "/"
}

// ManifestURL returns the manifest URL for n at v.
func (c *Client) ManifestURL(n redist.Name, v version.Version) string {
	return n.URLPrefix(c.base) + "/redistrib_" + v.String() + ".json"
}

// ListVersions scrapes the index page for manifest links and returns the
// distinct versions found, sorted ascending.
func (c *Client) ListVersions(ctx context.Context, n redist.Name, refresh bool) ([]version.Version, error) {
	url := c.IndexURL(n)
	body, err := c.Cached(ctx, "index:"+string(n), refresh, func() ([]byte, error) {
		page, err := c.GetText(ctx, url)
		return []byte(page), err
	})
	if err != nil {
		return nil, err
	}
	return ParseIndex(string(body)), nil
}

// Manifest returns the raw manifest JSON for n at v. A body that is not
// JSON is a schema error and is not cached.
func (c *Client) Manifest(ctx context.Context, n redist.Name, v version.Version, refresh bool) ([]byte, error) {
	url := c.ManifestURL(n, v)
	return c.Cached(ctx, "manifest:"+string(n)+":"+v.String(), refresh, func() ([]byte, error) {
		var raw json.RawMessage
		if err := c.GetWithHeaders(ctx, url, map[string]string{"Accept": "application/json"}, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
}

// ParseIndex extracts manifest versions from the href links of an index
// page. Only major.minor.patch[.build] versions are accepted.
func ParseIndex(html string) []version.Version {
	seen := make(map[string]bool)
	var out []version.Version
	for _, m := range manifestLinkRe.FindAllStringSubmatch(html, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		v, err := version.ParseStrict(m[1])
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	slices.SortFunc(out, version.Compare)
	return out
}
