package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/cudaredist/pkg/cache"
	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature"
	"github.com/matzehuels/cudaredist/pkg/feature/tools"
	"github.com/matzehuels/cudaredist/pkg/httputil"
	"github.com/matzehuels/cudaredist/pkg/integrations"
	"github.com/matzehuels/cudaredist/pkg/integrations/nvidia"
	"github.com/matzehuels/cudaredist/pkg/nixstore"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/resolver"
	"github.com/matzehuels/cudaredist/pkg/server"
	"github.com/matzehuels/cudaredist/pkg/task"
)

// Store backends accepted in [store] backend.
const (
	storeFile  = "file"
	storeMongo = "mongo"
)

// Config is the on-disk configuration. Flags override it; zero values are
// replaced by defaults in Validate.
type Config struct {
	URLPrefix           string        `toml:"url_prefix"`
	ManifestDir         string        `toml:"manifest_dir"`
	FeatureDir          string        `toml:"feature_dir"`
	Overrides           string        `toml:"overrides"`
	Workers             int           `toml:"workers"`
	PollInterval        time.Duration `toml:"poll_interval"`
	CollectPolicy       string        `toml:"collect_policy"`
	ConflictPolicy      string        `toml:"conflict_policy"`
	VerifyRelativePaths bool          `toml:"verify_relative_paths"`
	SkipNonconforming   bool          `toml:"skip_nonconforming"`

	Tools  ToolsConfig  `toml:"tools"`
	Detect DetectConfig `toml:"detect"`
	Cache  CacheConfig  `toml:"cache"`
	HTTP   HTTPConfig   `toml:"http"`
	Store  StoreConfig  `toml:"store"`
	Serve  ServeConfig  `toml:"serve"`

	collect  task.CollectPolicy
	conflict resolver.ConflictPolicy
}

// ToolsConfig names the external binaries.
type ToolsConfig struct {
	Cuobjdump string `toml:"cuobjdump"`
	Patchelf  string `toml:"patchelf"`
	Nix       string `toml:"nix"`
}

// DetectConfig tunes the feature detectors.
type DetectConfig struct {
	IgnoredDirs []string `toml:"ignored_dirs"`
}

// CacheConfig selects the HTTP response cache.
type CacheConfig struct {
	Backend  string        `toml:"backend"`
	Dir      string        `toml:"dir"`
	TTL      time.Duration `toml:"ttl"`
	RedisURL string        `toml:"redis_url"`
	Size     int           `toml:"size"`
}

// HTTPConfig tunes remote manifest fetches.
type HTTPConfig struct {
	Timeout time.Duration `toml:"timeout"`
	Retries int           `toml:"retries"`
}

// StoreConfig selects where the resolver snapshot lives.
type StoreConfig struct {
	Backend         string `toml:"backend"`
	MongoURI        string `toml:"mongo_uri"`
	MongoDatabase   string `toml:"mongo_database"`
	MongoCollection string `toml:"mongo_collection"`
}

// ServeConfig configures the query API.
type ServeConfig struct {
	Addr string `toml:"addr"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		URLPrefix:         redist.DefaultURLBase,
		ManifestDir:       "redistrib_manifests",
		FeatureDir:        "feature_manifests",
		Overrides:         "overrides.json",
		PollInterval:      task.DefaultInterval,
		CollectPolicy:     task.FailFast.String(),
		ConflictPolicy:    resolver.LastWriterWins.String(),
		SkipNonconforming: true,
		Cache:             CacheConfig{Backend: cache.BackendFile, TTL: 24 * time.Hour},
		HTTP:              HTTPConfig{Timeout: integrations.DefaultTimeout},
		Store:             StoreConfig{Backend: storeFile},
		Serve:             ServeConfig{Addr: server.DefaultAddr},
	}
}

// configPath returns $XDG_CONFIG_HOME/cudaredist/config.toml, falling back
// to ~/.config.
func configPath() (string, error) {
	if home := os.Getenv("XDG_CONFIG_HOME"); home != "" {
		return filepath.Join(home, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// LoadConfig reads path over the defaults. A missing file at the default
// location yields the defaults; a missing file named explicitly is an
// error.
func LoadConfig(path string, logger *log.Logger) (*Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		p, err := configPath()
		if err != nil {
			return cfg, cfg.Validate()
		}
		path = p
	}

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case os.IsNotExist(err) && !explicit:
		return cfg, cfg.Validate()
	case os.IsNotExist(err):
		return nil, errors.Wrap(errors.ErrCodeNotFound, err, "config file %s", path)
	case err != nil:
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		logger.Warn("Unknown config keys", "path", path, "keys", strings.Join(keys, ", "))
	}
	logger.Debug("Loaded config", "path", path)
	return cfg, cfg.Validate()
}

// Validate fills in defaults and checks enumerated values.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.URLPrefix == "" {
		c.URLPrefix = def.URLPrefix
	}
	if err := errors.ValidateURL(c.URLPrefix); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "url_prefix")
	}
	if c.ManifestDir == "" {
		c.ManifestDir = def.ManifestDir
	}
	if c.FeatureDir == "" {
		c.FeatureDir = def.FeatureDir
	}
	if c.Workers < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "workers must not be negative, got %d", c.Workers)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.HTTP.Retries < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "http.retries must not be negative, got %d", c.HTTP.Retries)
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = def.Serve.Addr
	}

	if c.ConflictPolicy == "" {
		c.ConflictPolicy = def.ConflictPolicy
	}

	var err error
	if c.collect, err = task.ParseCollectPolicy(c.CollectPolicy); err != nil {
		return err
	}
	if c.conflict, err = resolver.ParseConflictPolicy(c.ConflictPolicy); err != nil {
		return err
	}

	switch c.Cache.Backend {
	case "", cache.BackendFile, cache.BackendMemory, cache.BackendNone:
	case cache.BackendRedis:
		if c.Cache.RedisURL == "" {
			return errors.New(errors.ErrCodeInvalidInput, "cache.redis_url is required for the redis backend")
		}
	default:
		return errors.New(errors.ErrCodeInvalidInput, "unknown cache backend %q", c.Cache.Backend)
	}

	switch c.Store.Backend {
	case "":
		c.Store.Backend = storeFile
	case storeFile:
	case storeMongo:
		if c.Store.MongoURI == "" {
			return errors.New(errors.ErrCodeInvalidInput, "store.mongo_uri is required for the mongo backend")
		}
	default:
		return errors.New(errors.ErrCodeInvalidInput, "unknown store backend %q (want file or mongo)", c.Store.Backend)
	}
	return nil
}

// =============================================================================
// Component factories
// =============================================================================

func (c *Config) cacheConfig() (cache.Config, error) {
	cc := cache.Config{
		Backend:  c.Cache.Backend,
		Dir:      c.Cache.Dir,
		Size:     c.Cache.Size,
		RedisURL: c.Cache.RedisURL,
		TTL:      c.Cache.TTL,
	}
	if (cc.Backend == "" || cc.Backend == cache.BackendFile) && cc.Dir == "" {
		dir, err := cacheDir()
		if err != nil {
			return cc, errors.Wrap(errors.ErrCodeInvalidPath, err, "locate cache directory")
		}
		cc.Dir = dir
	}
	return cc, nil
}

func (c *Config) newCache(noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	cc, err := c.cacheConfig()
	if err != nil {
		return nil, err
	}
	return cache.New(cc)
}

// nvidiaClient builds the index and manifest client rooted at base.
func (c *Config) nvidiaClient(backend cache.Cache, base string) *nvidia.Client {
	opts := []integrations.Option{
		integrations.WithHTTPClient(integrations.NewHTTPClientWithTimeout(c.HTTP.Timeout)),
	}
	if c.Cache.Backend == cache.BackendRedis {
		opts = append(opts, integrations.WithKeyer(sharedKeyer()))
	}
	if c.HTTP.Retries > 0 {
		opts = append(opts, integrations.WithRetry(httputil.Policy{Attempts: c.HTTP.Retries + 1, Delay: httputil.Backoff.Delay}))
	}
	return nvidia.NewClient(backend, base, c.Cache.TTL, opts...)
}

// snapshotStore opens the configured resolver snapshot store. overrides
// replaces the file path when non-empty.
func (c *Config) snapshotStore(ctx context.Context, overrides string) (resolver.Store, error) {
	if c.Store.Backend == storeMongo {
		s, err := resolver.NewMongoStore(ctx, resolver.MongoConfig{
			URI:        c.Store.MongoURI,
			Database:   c.Store.MongoDatabase,
			Collection: c.Store.MongoCollection,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if overrides == "" {
		overrides = c.Overrides
	}
	if overrides == "" {
		return nil, nil
	}
	return resolver.NewFileStore(overrides), nil
}

// sharedKeyer namespaces keys written to a cache other programs may share.
func sharedKeyer() cache.Keyer {
	return cache.NewScopedKeyer(cache.NewDefaultKeyer(), appName+":")
}

func (c *Config) engine(logger *log.Logger) *feature.Engine {
	e := feature.NewEngine(tools.ExecRunner{}, logger)
	e.Cuobjdump.Path = c.Tools.Cuobjdump
	e.Patchelf.Path = c.Tools.Patchelf
	if len(c.Detect.IgnoredDirs) > 0 {
		e.IgnoredDirs = c.Detect.IgnoredDirs
	}
	return e
}

func (c *Config) nixStore(logger *log.Logger) *nixstore.NixStore {
	s := nixstore.New(tools.ExecRunner{}, logger)
	s.Path = c.Tools.Nix
	return s
}

func (c *Config) workers(noParallel bool) *task.Pool {
	if noParallel {
		return task.NewPool(1)
	}
	return task.NewPool(c.Workers)
}
