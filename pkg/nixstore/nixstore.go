// Package nixstore materializes archives through the Nix store.
//
// Archives are fetched by URL and expected SHA-256 (nix store prefetch-file),
// unpacked in place (nix flake prefetch on a file:// URI) and optionally
// deleted again after detection.
package nixstore

import (
	"context"
	"encoding/json"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature/tools"
	"github.com/matzehuels/cudaredist/pkg/redist"
)

// Entry is a store path together with its hash, as printed by nix --json.
type Entry struct {
	Hash      string `json:"hash"`
	StorePath string `json:"storePath"`
}

// Store fetches, unpacks and deletes artifacts.
type Store interface {
	// Fetch adds the file at url to the store, verifying sha256 (hex).
	Fetch(ctx context.Context, url, sha256 string) (Entry, error)
	// Unpack extracts an archive already in the store.
	Unpack(ctx context.Context, archive Entry) (Entry, error)
	// Delete removes paths from the store.
	Delete(ctx context.Context, paths ...string) error
}

// NixStore implements Store with the nix CLI.
type NixStore struct {
	Path   string // nix binary, "nix" if empty
	Runner tools.Runner
	Logger *log.Logger
}

// New creates a NixStore.
func New(runner tools.Runner, logger *log.Logger) *NixStore {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &NixStore{Runner: runner, Logger: logger}
}

func (s *NixStore) bin() string {
	if s.Path == "" {
		return "nix"
	}
	return s.Path
}

func (s *NixStore) run(ctx context.Context, args ...string) ([]byte, error) {
	res, err := s.Runner.Run(ctx, s.bin(), args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, errors.New(errors.ErrCodeExternalTool, "%s %s exited with status %d: %s",
			s.bin(), strings.Join(args, " "), res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return res.Stdout, nil
}

func decodeEntry(out []byte, what string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(out, &e); err != nil {
		return Entry{}, errors.Wrap(errors.ErrCodeExternalTool, err, "decode %s output", what)
	}
	if e.StorePath == "" {
		return Entry{}, errors.New(errors.ErrCodeExternalTool, "%s output has no storePath", what)
	}
	return e, nil
}

// Fetch implements Store. The hex digest is passed to nix in SRI form and
// the hash nix reports back must match it.
func (s *NixStore) Fetch(ctx context.Context, rawURL, sha256 string) (Entry, error) {
	want, err := redist.SRI(sha256)
	if err != nil {
		return Entry{}, err
	}
	s.Logger.Info("Adding to the Nix store", "url", rawURL)
	start := time.Now()
	out, err := s.run(ctx, "store", "prefetch-file", "--json", "--hash-type", "sha256", "--expected-hash", want, rawURL)
	if err != nil {
		return Entry{}, err
	}
	s.Logger.Info("Added to the Nix store", "url", rawURL, "elapsed", time.Since(start).Round(time.Millisecond))
	e, err := decodeEntry(out, "prefetch-file")
	if err != nil {
		return Entry{}, err
	}
	if e.Hash != want {
		return Entry{}, errors.New(errors.ErrCodeIntegrity, "%s: nix reported hash %s, want %s", rawURL, e.Hash, want)
	}
	return e, nil
}

// Unpack implements Store.
func (s *NixStore) Unpack(ctx context.Context, archive Entry) (Entry, error) {
	uri := FileURI(archive.StorePath)
	s.Logger.Info("Unpacking", "uri", uri)
	start := time.Now()
	out, err := s.run(ctx, "flake", "prefetch", "--json", uri)
	if err != nil {
		return Entry{}, err
	}
	s.Logger.Info("Unpacked", "uri", uri, "elapsed", time.Since(start).Round(time.Millisecond))
	return decodeEntry(out, "flake prefetch")
}

// Delete implements Store.
func (s *NixStore) Delete(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	s.Logger.Info("Deleting from the Nix store", "paths", strings.Join(paths, ", "))
	start := time.Now()
	if _, err := s.run(ctx, append([]string{"store", "delete"}, paths...)...); err != nil {
		return err
	}
	s.Logger.Info("Deleted from the Nix store", "count", len(paths), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// FileURI returns the file:// URI of an absolute path.
func FileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
