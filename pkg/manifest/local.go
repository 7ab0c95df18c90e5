package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

const (
	filePrefix = "redistrib_"
	fileSuffix = ".json"

	// The leading digit keeps feature manifests and other siblings out.
	localPattern = filePrefix + "[0-9]*" + fileSuffix
)

// FileName returns the manifest file name for v.
func FileName(v version.Version) string {
	return filePrefix + v.String() + fileSuffix
}

// LocalSource discovers manifests in Root/<name>/.
type LocalSource struct {
	Root   string
	Logger *log.Logger
}

// NewLocalSource creates a LocalSource rooted at root.
func NewLocalSource(root string, logger *log.Logger) *LocalSource {
	return &LocalSource{Root: root, Logger: orDefault(logger)}
}

// Dir returns the directory holding name's manifests.
func (s *LocalSource) Dir(name redist.Name) string {
	return filepath.Join(s.Root, string(name))
}

// Discover implements Source.
func (s *LocalSource) Discover(ctx context.Context, name redist.Name, c version.Constraint, opts ...DiscoverOption) ([]Ref, error) {
	logger := orDefault(s.Logger)
	dir := s.Dir(name)
	logger.Debug("Globbing for manifests", "pattern", localPattern, "dir", dir)

	matches, err := doublestar.Glob(os.DirFS(dir), localPattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "glob %s", dir)
	}

	byVersion := make(map[string]string, len(matches))
	var vs []version.Version
	for _, m := range matches {
		raw := strings.TrimSuffix(strings.TrimPrefix(m, filePrefix), fileSuffix)
		v, err := version.Parse(raw)
		if err != nil {
			logger.Debug("Ignoring file", "file", m, "err", err)
			continue
		}
		byVersion[v.String()] = filepath.Join(dir, m)
		vs = append(vs, v)
	}

	vs = selectVersions(logger, name, vs, c, opts)
	refs := make([]Ref, len(vs))
	for i, v := range vs {
		refs[i] = Ref{Name: name, Version: v, Location: byVersion[v.String()]}
	}
	return refs, nil
}

// Retrieve implements Source. Remote refs are rejected.
func (s *LocalSource) Retrieve(ctx context.Context, ref Ref) ([]byte, error) {
	if ref.Remote {
		return nil, errors.New(errors.ErrCodeInvalidInput, "local source cannot retrieve %s", ref.Location)
	}
	return readFile(orDefault(s.Logger), ref.Location)
}

func readFile(logger *log.Logger, path string) ([]byte, error) {
	logger.Info("Reading manifest", "from", path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrCodeNotFound, err, "manifest %s", path)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "read manifest %s", path)
	}
	return data, nil
}
