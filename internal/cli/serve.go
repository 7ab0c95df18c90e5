package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cudaredist/pkg/cache"
	"github.com/matzehuels/cudaredist/pkg/server"
)

// shutdownTimeout bounds how long in-flight requests may take on exit.
const shutdownTimeout = 5 * time.Second

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var addr, featureDir, overrides string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve feature manifests and provider lookups over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), addr, featureDir, overrides)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default serve.addr)")
	cmd.Flags().StringVar(&featureDir, "features", "", "feature manifest directory (default feature_dir)")
	cmd.Flags().StringVar(&overrides, "overrides", "", "provider snapshot file (default overrides)")

	return cmd
}

func (c *CLI) runServe(ctx context.Context, addr, featureDir, overrides string) error {
	cfg := c.Config
	logger := loggerFromContext(ctx)
	if addr == "" {
		addr = cfg.Serve.Addr
	}
	if featureDir == "" {
		featureDir = cfg.FeatureDir
	}

	table, err := c.loadResolver(ctx, overrides)
	if err != nil {
		return err
	}
	backend, err := c.serveCache()
	if err != nil {
		return err
	}
	defer backend.Close()

	srv, err := server.New(server.Config{
		Addr:       addr,
		FeatureDir: featureDir,
		Resolver:   table,
		Cache:      backend,
		Keyer:      sharedKeyer(),
		TTL:        cfg.Cache.TTL,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	printInfo("Serving %s on %s", StyleHighlight.Render(featureDir), StyleLink.Render(srv.Addr()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// serveCache keeps encoded manifests in process unless a shared redis
// cache is configured.
func (c *CLI) serveCache() (cache.Cache, error) {
	if c.Config.Cache.Backend == cache.BackendRedis {
		return c.Config.newCache(false)
	}
	return cache.NewMemoryCache(c.Config.Cache.Size)
}
