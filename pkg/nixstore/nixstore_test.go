package nixstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature/tools"
)

const (
	digest    = "2f17178307b538245fc03b04b0d2c891e36c39cc772ae1794a3fa0d9d63a583d"
	digestSRI = "sha256-LxcXgwe1OCRfwDsEsNLIkeNsOcx3KuF5Sj+g2dY6WD0="
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	out   map[string]tools.Result // keyed by first two args
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (tools.Result, error) {
	f.calls = append(f.calls, call{name, args})
	if r, ok := f.out[args[0]+" "+args[1]]; ok {
		return r, nil
	}
	return tools.Result{}, nil
}

func TestFetchAndUnpack(t *testing.T) {
	r := &fakeRunner{out: map[string]tools.Result{
		"store prefetch-file": {Stdout: []byte(`{"hash":"` + digestSRI + `","storePath":"/nix/store/aaa-archive.tar.xz"}`)},
		"flake prefetch":      {Stdout: []byte(`{"hash":"sha256-def=","storePath":"/nix/store/bbb-source","locked":{}}`)},
	}}
	s := New(r, nil)
	ctx := context.Background()

	archive, err := s.Fetch(ctx, "https://example.test/a.tar.xz", digest)
	require.NoError(t, err)
	assert.Equal(t, Entry{Hash: digestSRI, StorePath: "/nix/store/aaa-archive.tar.xz"}, archive)
	assert.Equal(t, []string{"store", "prefetch-file", "--json", "--hash-type", "sha256", "--expected-hash", digestSRI, "https://example.test/a.tar.xz"}, r.calls[0].args)
	assert.Equal(t, "nix", r.calls[0].name)

	unpacked, err := s.Unpack(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/bbb-source", unpacked.StorePath)
	assert.Equal(t, []string{"flake", "prefetch", "--json", "file:///nix/store/aaa-archive.tar.xz"}, r.calls[1].args)
}

func TestDelete(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, nil)
	require.NoError(t, s.Delete(context.Background(), "/nix/store/a", "/nix/store/b"))
	assert.Equal(t, []string{"store", "delete", "/nix/store/a", "/nix/store/b"}, r.calls[0].args)

	require.NoError(t, s.Delete(context.Background()))
	assert.Len(t, r.calls, 1)
}

func TestFailures(t *testing.T) {
	r := &fakeRunner{out: map[string]tools.Result{
		"store prefetch-file": {ExitCode: 1, Stderr: []byte("hash mismatch")},
		"flake prefetch":      {Stdout: []byte(`not json`)},
	}}
	s := New(r, nil)
	s.Path = "/run/current-system/sw/bin/nix"
	ctx := context.Background()

	_, err := s.Fetch(ctx, "https://example.test/a.tar.xz", digest)
	assert.True(t, errors.Is(err, errors.ErrCodeExternalTool))
	assert.Contains(t, err.Error(), "hash mismatch")
	assert.Equal(t, "/run/current-system/sw/bin/nix", r.calls[0].name)

	_, err = s.Unpack(ctx, Entry{StorePath: "/nix/store/x"})
	assert.True(t, errors.Is(err, errors.ErrCodeExternalTool))
}

func TestFetchVerifiesHash(t *testing.T) {
	r := &fakeRunner{out: map[string]tools.Result{
		"store prefetch-file": {Stdout: []byte(`{"hash":"sha256-AAAA","storePath":"/nix/store/aaa-archive.tar.xz"}`)},
	}}
	s := New(r, nil)
	ctx := context.Background()

	_, err := s.Fetch(ctx, "https://example.test/a.tar.xz", digest)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity), "got %v", err)

	_, err = s.Fetch(ctx, "https://example.test/a.tar.xz", "ff00")
	assert.True(t, errors.Is(err, errors.ErrCodeSchema), "got %v", err)
	assert.Len(t, r.calls, 1)
}

func TestFileURI(t *testing.T) {
	assert.Equal(t, "file:///nix/store/abc-foo.tar.xz", FileURI("/nix/store/abc-foo.tar.xz"))
}
