package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/cudaredist/pkg/cache"
	"github.com/matzehuels/cudaredist/pkg/errors"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the HTTP response cache",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear all cached index pages and manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := c.Config.cacheConfig()
			if err != nil {
				return err
			}
			if cc.Backend != "" && cc.Backend != cache.BackendFile {
				return errors.New(errors.ErrCodeUnsupported, "cache clear only supports the file backend, configured: %s", cc.Describe())
			}

			count, err := clearDir(cc.Dir)
			if err != nil {
				return err
			}
			if count == 0 {
				printInfo("Cache is empty")
				return nil
			}
			printSuccess("Cleared %d cached entries", count)
			printDetail("Directory: %s", cc.Dir)
			return nil
		},
	}
}

// clearDir removes every file below dir and then the emptied
// subdirectories. It returns the number of files removed.
func clearDir(dir string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	count := 0
	var dirs []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || path == dir {
			return nil
		}
		if info.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if err := os.Remove(path); err == nil {
			count++
		}
		return nil
	})
	if err != nil {
		return count, errors.Wrap(errors.ErrCodeInvalidPath, err, "clear %s", dir)
	}
	// Deepest first.
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}
	return count, nil
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := c.Config.cacheConfig()
			if err != nil {
				return err
			}
			if cc.Backend != "" && cc.Backend != cache.BackendFile {
				fmt.Println(cc.Describe())
				return nil
			}
			fmt.Println(cc.Dir)
			return nil
		},
	}
}
