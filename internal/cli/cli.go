// Package cli implements the cudaredist command-line interface.
package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/cudaredist/pkg/buildinfo"
	"github.com/matzehuels/cudaredist/pkg/errors"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "cudaredist"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogWarn  = log.WarnLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	Config *Config

	configFile string
	logLevel   string
	verbose    bool
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level), Config: DefaultConfig()}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "cudaredist finds the features of NVIDIA redistributable packages",
		Long: `cudaredist downloads NVIDIA redistributable manifests, fetches and unpacks every
package they list, detects what each package provides and writes feature manifests
with resolved library dependencies.`,
		Version:           buildinfo.Version,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	root.SetVersionTemplate(buildinfo.Template())

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/cudaredist/config.toml)")
	flags.StringVar(&c.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	_ = root.RegisterFlagCompletionFunc("log-level", cobra.FixedCompletions(
		[]string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp))

	root.AddCommand(c.processCommand())
	root.AddCommand(c.downloadCommand())
	root.AddCommand(c.resolveCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// setup applies the log level and loads the config before any command runs.
func (c *CLI) setup(cmd *cobra.Command, args []string) error {
	level, err := parseLevel(c.logLevel)
	if err != nil {
		return err
	}
	if c.verbose {
		level = log.DebugLevel
	}
	c.SetLogLevel(level)
	cmd.SetContext(withLogger(cmd.Context(), c.Logger))

	cfg, err := LoadConfig(c.configFile, c.Logger)
	if err != nil {
		return err
	}
	c.Config = cfg
	return nil
}

// showProgress reports whether the live progress table should be drawn.
// It is shown only when logs are quiet enough not to interleave with it.
func (c *CLI) showProgress() bool {
	return c.Logger.GetLevel() >= log.WarnLevel && isTerminal(os.Stderr)
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/cudaredist/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

func parseLevel(s string) (log.Level, error) {
	level, err := log.ParseLevel(s)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidInput, err, "log level %q", s)
	}
	return level, nil
}
