package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/cudaredist/pkg/errors"
)

type fakeRunner struct {
	res  Result
	err  error
	last []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	f.last = append([]string{name}, args...)
	return f.res, f.err
}

func TestCuobjdumpArchitectures(t *testing.T) {
	out := strings.Join([]string{
		"Fatbin elf code:",
		"================",
		"arch = sm_90",
		"code version = [1,7]",
		"arch = sm_50",
		"arch = sm_90",
		"  arch = sm_00",
	}, "\n")
	r := &fakeRunner{res: Result{Stdout: []byte(out)}}
	c := Cuobjdump{Runner: r}

	archs, err := c.Architectures(context.Background(), "/x/libfoo.so")
	require.NoError(t, err)
	assert.Equal(t, []string{"sm_50", "sm_90"}, archs)
	assert.Equal(t, []string{"cuobjdump", "/x/libfoo.so"}, r.last)
}

func TestCuobjdumpNoDeviceCode(t *testing.T) {
	r := &fakeRunner{res: Result{ExitCode: 255, Stderr: []byte("cuobjdump info    : File '/x/libfoo.so' does not contain device code")}}
	archs, err := Cuobjdump{Runner: r}.Architectures(context.Background(), "/x/libfoo.so")
	require.NoError(t, err)
	assert.Empty(t, archs)
}

func TestCuobjdumpFailure(t *testing.T) {
	r := &fakeRunner{res: Result{ExitCode: 1, Stderr: []byte("fatal: bad elf")}}
	_, err := Cuobjdump{Path: "/opt/cuobjdump", Runner: r}.Architectures(context.Background(), "/x/libfoo.so")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeExternalTool))
	assert.Contains(t, err.Error(), "bad elf")
	assert.Equal(t, "/opt/cuobjdump", r.last[0])
}

func TestPatchelfSoname(t *testing.T) {
	r := &fakeRunner{res: Result{Stdout: []byte("libcublas.so.12\n")}}
	p := Patchelf{Runner: r}

	names, err := p.Soname(context.Background(), "lib/libcublas.so")
	require.NoError(t, err)
	assert.Equal(t, []string{"libcublas.so.12"}, names)
	assert.Equal(t, []string{"patchelf", "--print-soname", "lib/libcublas.so"}, r.last)

	r.res = Result{Stdout: []byte("\n")}
	names, err = p.Soname(context.Background(), "lib/libnone.so")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestPatchelfNeeded(t *testing.T) {
	r := &fakeRunner{res: Result{Stdout: []byte("libm.so.6\nlibc.so.6\n\nlibm.so.6\n")}}
	libs, err := Patchelf{Runner: r}.Needed(context.Background(), "lib/libfoo.so")
	require.NoError(t, err)
	assert.Equal(t, []string{"libc.so.6", "libm.so.6"}, libs)

	r.res = Result{ExitCode: 1, Stderr: []byte("not an ELF executable")}
	_, err = Patchelf{Runner: r}.Needed(context.Background(), "lib/libfoo.so")
	assert.True(t, errors.Is(err, errors.ErrCodeExternalTool))
}

func TestExecRunner(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Equal(t, 3, res.ExitCode)

	_, err = ExecRunner{}.Run(context.Background(), "/nonexistent/tool")
	assert.True(t, errors.Is(err, errors.ErrCodeExternalTool))
}
