package manifest

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cudaredist/pkg/errors"
)

// Load retrieves ref from src, parses it and logs its summary.
func Load(ctx context.Context, src Source, ref Ref, logger *log.Logger, opts ...ParseOption) (*Manifest, error) {
	data, err := src.Retrieve(ctx, ref)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data, ref.Version, opts...)
	if err != nil {
		return nil, err
	}
	m.LogSummary(logger)
	return m, nil
}

// Download copies the manifest behind ref into dir as redistrib_<v>.json,
// overwriting any existing file, and returns a local ref to the copy.
func Download(ctx context.Context, src Source, ref Ref, dir string, logger *log.Logger) (Ref, error) {
	logger = orDefault(logger)
	name := FileName(ref.Version)
	if err := errors.ValidateManifestFilename(name); err != nil {
		return Ref{}, err
	}
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); err == nil {
		logger.Info("Manifest already exists, overwriting", "path", dest)
	}

	data, err := src.Retrieve(ctx, ref)
	if err != nil {
		return Ref{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Ref{}, errors.Wrap(errors.ErrCodeInvalidPath, err, "create %s", dir)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return Ref{}, errors.Wrap(errors.ErrCodeInvalidPath, err, "write %s", dest)
	}
	logger.Info("Wrote manifest", "path", dest)
	return Ref{Name: ref.Name, Version: ref.Version, Location: dest}, nil
}
