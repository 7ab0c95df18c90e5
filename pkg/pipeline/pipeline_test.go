package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature"
	"github.com/matzehuels/cudaredist/pkg/manifest"
	"github.com/matzehuels/cudaredist/pkg/nixstore"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/resolver"
	"github.com/matzehuels/cudaredist/pkg/task"
	"github.com/matzehuels/cudaredist/pkg/version"
)

const sha = "2f171783c7b5382905ec3b04b0d2c890e36c39cc3b2ae1794a3fa0d9d63a583d"

func release(name, v string) string {
	rp := redist.RelativePath(name, redist.LinuxX8664, v, "")
	return `"` + name + `": {
    "name": "` + name + `", "license": "CUDA Toolkit", "version": "` + v + `",
    "linux-x86_64": {"relative_path": "` + rp + `", "sha256": "` + sha + `", "size": "1"}
  }`
}

func writeManifest(t *testing.T, dir, v string, releases ...string) {
	t.Helper()
	body := `{"release_date": "2024-01-01", ` + strings.Join(releases, ", ") + `}`
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName(version.MustParse(v))), []byte(body), 0o644))
}

// fakeStore hands out store paths derived from the archive URL.
type fakeStore struct {
	mu      sync.Mutex
	fetched []string
	deleted []string
}

func (s *fakeStore) Fetch(ctx context.Context, url, sha256 string) (nixstore.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, url)
	return nixstore.Entry{StorePath: "/nix/store/archive-" + filepath.Base(url)}, nil
}

func (s *fakeStore) Unpack(ctx context.Context, archive nixstore.Entry) (nixstore.Entry, error) {
	return nixstore.Entry{StorePath: strings.Replace(archive.StorePath, "archive-", "source-", 1)}, nil
}

func (s *fakeStore) Delete(ctx context.Context, paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, paths...)
	return nil
}

// fakeDetector answers from the package name embedded in the store path.
type fakeDetector struct{}

func (fakeDetector) Detect(ctx context.Context, label, root string) (feature.Package, error) {
	base := filepath.Base(root)
	switch {
	case strings.Contains(base, "broken"):
		return feature.Package{}, errors.New(errors.ErrCodeIntegrity, "mixed layout in %s", root)
	case strings.Contains(base, "cuda_cudart"):
		return feature.Package{
			Outputs:      feature.Outputs{Lib: true},
			ProvidedLibs: feature.FlatOf("libcudart.so.12"),
			NeededLibs:   feature.FlatOf("libc.so.6"),
		}, nil
	case strings.Contains(base, "libcublas"):
		return feature.Package{
			Outputs:      feature.Outputs{Lib: true, Dev: true},
			ProvidedLibs: feature.FlatOf("libcublas.so.12"),
			NeededLibs:   feature.FlatOf("libc.so.6", "libcudart.so.12"),
		}, nil
	}
	return feature.Package{}, nil
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

func TestProcess(t *testing.T) {
	root := t.TempDir()
	manifests := filepath.Join(root, "manifests")
	out := filepath.Join(root, "features")
	writeManifest(t, filepath.Join(manifests, "cuda"), "12.3.2",
		release("cuda_cudart", "12.3.52"), release("libcublas", "12.3.52"))

	store := &fakeStore{}
	snapshots := resolver.NewFileStore(filepath.Join(root, "overrides.json"))
	runner := NewRunner(manifest.NewLocalSource(manifests, quietLogger()), store, fakeDetector{}, quietLogger())

	res, err := runner.Process(context.Background(), Options{
		Name:      "cuda",
		OutputDir: out,
		Cleanup:   true,
		Snapshots: snapshots,
		Pool:      task.NewPool(2),
	})
	require.NoError(t, err)
	require.Len(t, res.Manifests, 1)
	assert.Equal(t, 2, res.Stats.Packages)
	assert.Equal(t, 0, res.Stats.Failed)
	assert.Equal(t, 2, res.Stats.Providers)
	assert.NotEmpty(t, res.RunID)

	assert.Len(t, store.fetched, 2)
	assert.True(t, strings.HasPrefix(store.fetched[0], "https://developer.download.nvidia.com/compute/cuda/redist/"))
	assert.Len(t, store.deleted, 4)

	p := res.Manifests[0]
	assert.Equal(t, filepath.Join(out, "feature_12.3.2.json"), p.Path)
	cublas := p.Manifest.Releases["libcublas"].Packages[redist.LinuxX8664]
	assert.Equal(t, []string{"cuda_cudart"}, cublas.Dependencies.Flat)
	cudart := p.Manifest.Releases["cuda_cudart"].Packages[redist.LinuxX8664]
	assert.Equal(t, []string{}, cudart.Dependencies.Flat)

	back, err := feature.ReadManifest(out, version.MustParse("12.3.2"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", back.ReleaseDate)
	assert.Equal(t, "12.3.52", back.Releases["libcublas"].Info.Version)

	snap, err := snapshots.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
}

func TestProcessFailurePolicies(t *testing.T) {
	root := t.TempDir()
	manifests := filepath.Join(root, "manifests")
	writeManifest(t, filepath.Join(manifests, "cuda"), "12.3.2",
		release("cuda_cudart", "12.3.52"), release("broken_pkg", "12.3.52"))
	newRunner := func() *Runner {
		return NewRunner(manifest.NewLocalSource(manifests, quietLogger()), &fakeStore{}, fakeDetector{}, quietLogger())
	}

	t.Run("fail fast", func(t *testing.T) {
		out := filepath.Join(root, "ff")
		res, err := newRunner().Process(context.Background(), Options{Name: "cuda", OutputDir: out})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
		assert.Nil(t, res)
		_, statErr := os.Stat(out)
		assert.True(t, os.IsNotExist(statErr), "nothing is written on failure")
	})

	t.Run("collect all", func(t *testing.T) {
		out := filepath.Join(root, "ca")
		res, err := newRunner().Process(context.Background(), Options{Name: "cuda", OutputDir: out, Collect: task.CollectAll})
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Equal(t, 1, res.Stats.Packages)
		assert.Equal(t, 1, res.Stats.Failed)

		data, readErr := os.ReadFile(filepath.Join(out, "feature_12.3.2.json"))
		require.NoError(t, readErr)
		var top map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &top))
		var cudart, broken map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(top["cuda_cudart"], &cudart))
		require.NoError(t, json.Unmarshal(top["broken_pkg"], &broken))
		assert.Contains(t, cudart, "linux-x86_64")
		assert.NotContains(t, broken, "linux-x86_64")
	})
}

func TestProcessNoManifests(t *testing.T) {
	runner := NewRunner(manifest.NewLocalSource(t.TempDir(), quietLogger()), &fakeStore{}, fakeDetector{}, quietLogger())
	res, err := runner.Process(context.Background(), Options{Name: "cutensor", OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, res.Manifests)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"missing name", Options{OutputDir: "out"}},
		{"unknown name", Options{Name: "cublas", OutputDir: "out"}},
		{"missing output", Options{Name: "cuda"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.ValidateAndSetDefaults()
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "got %v", err)
		})
	}

	opts := Options{Name: "cudnn", OutputDir: "out"}
	require.NoError(t, opts.ValidateAndSetDefaults())
	assert.Equal(t, "https://developer.download.nvidia.com/compute/cudnn/redist", opts.URLPrefix)
	assert.NotNil(t, opts.Pool)
}

func TestDownload(t *testing.T) {
	src := t.TempDir()
	writeManifest(t, filepath.Join(src, "cutensor"), "2.0.1", release("libcutensor", "2.0.1.2"))
	writeManifest(t, filepath.Join(src, "cutensor"), "2.0.2", release("libcutensor", "2.0.2.4"))

	dest := filepath.Join(t.TempDir(), "copy")
	runner := NewRunner(manifest.NewLocalSource(src, quietLogger()), nil, nil, quietLogger())
	refs, err := runner.Download(context.Background(), DownloadOptions{Name: "cutensor", Dir: dest})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, filepath.Join(dest, "redistrib_2.0.1.json"), refs[0].Location)
	assert.FileExists(t, refs[1].Location)
}
