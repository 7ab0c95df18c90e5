package manifest

import (
	"encoding/json"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// Reserved top-level metadata keys.
const (
	keyReleaseDate    = "release_date"
	keyReleaseLabel   = "release_label"
	keyReleaseProduct = "release_product"
)

// Manifest is one parsed redistrib_<version>.json.
type Manifest struct {
	Version        version.Version
	ReleaseDate    string
	ReleaseLabel   string
	ReleaseProduct string
	Releases       map[string]Release
}

// Names returns the package names in sorted order.
func (m *Manifest) Names() []string { return sortedKeys(m.Releases) }

// LogSummary logs the manifest's version and metadata at info level.
func (m *Manifest) LogSummary(logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	logger.Info("Manifest version", "version", m.Version)
	logger.Info("Manifest date", "date", orUnknown(m.ReleaseDate))
	logger.Info("Manifest label", "label", orUnknown(m.ReleaseLabel))
	logger.Info("Manifest product", "product", orUnknown(m.ReleaseProduct))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

type parseConfig struct {
	verifyRelativePaths bool
}

// ParseOption configures Parse.
type ParseOption func(*parseConfig)

// VerifyRelativePaths toggles the check that every package's relative_path
// equals the path derived from its name, platform, version and variant.
// It is on by default.
func VerifyRelativePaths(on bool) ParseOption {
	return func(c *parseConfig) { c.verifyRelativePaths = on }
}

// Parse decodes data as the manifest for version v.
func Parse(data []byte, v version.Version, opts ...ParseOption) (*Manifest, error) {
	cfg := parseConfig{verifyRelativePaths: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSchema, err, "manifest %s is not a JSON object", v)
	}

	m := &Manifest{Version: v, Releases: make(map[string]Release, len(top))}
	meta := map[string]*string{
		keyReleaseDate:    &m.ReleaseDate,
		keyReleaseLabel:   &m.ReleaseLabel,
		keyReleaseProduct: &m.ReleaseProduct,
	}

	for _, key := range sortedKeys(top) {
		raw := top[key]
		if dst, ok := meta[key]; ok {
			if string(raw) == "null" {
				continue
			}
			if err := json.Unmarshal(raw, dst); err != nil {
				return nil, errors.Wrap(errors.ErrCodeSchema, err, "manifest %s: field %s", v, key)
			}
			continue
		}
		// Other release_* keys are metadata this tool does not use.
		if strings.HasPrefix(key, "release_") {
			continue
		}
		r, err := parseRelease(key, raw, cfg.verifyRelativePaths)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeSchema, err, "manifest %s", v)
		}
		m.Releases[key] = r
	}
	return m, nil
}
