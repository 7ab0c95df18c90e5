package redist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/version"
)

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("linux-x86_64")
	require.NoError(t, err)
	assert.Equal(t, LinuxX8664, p)
	assert.False(t, p.IsWindows())

	_, err = ParsePlatform("darwin-arm64")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	assert.True(t, WindowsX86_64.IsWindows())
	assert.Equal(t, "zip", WindowsX86_64.ArchiveExt())
}

func TestParseName(t *testing.T) {
	n, err := ParseName("cudnn")
	require.NoError(t, err)
	assert.Equal(t, "https://developer.download.nvidia.com/compute/cudnn/redist", n.URLPrefix(""))
	assert.Equal(t, "http://mirror/cudnn/redist", n.URLPrefix("http://mirror/"))

	_, err = ParseName("tensorrt")
	assert.Error(t, err)
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		name     string
		pkg      string
		platform Platform
		version  string
		variant  CudaVariant
		want     string
	}{
		{
			name: "flat", pkg: "libcublas", platform: LinuxX8664, version: "12.3.4.1",
			want: "libcublas/linux-x86_64/libcublas-linux-x86_64-12.3.4.1-archive.tar.xz",
		},
		{
			name: "variant", pkg: "cudnn", platform: LinuxSBSA, version: "9.0.0.312", variant: "cuda12",
			want: "cudnn/linux-sbsa/cudnn-linux-sbsa-9.0.0.312_cuda12-archive.tar.xz",
		},
		{
			name: "windows", pkg: "cuda_nvcc", platform: WindowsX86_64, version: "12.3.107",
			want: "cuda_nvcc/windows-x86_64/cuda_nvcc-windows-x86_64-12.3.107-archive.zip",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RelativePath(tt.pkg, tt.platform, tt.version, tt.variant))
		})
	}
}

func TestCudaVariant(t *testing.T) {
	v, err := VariantFromMajor("11")
	require.NoError(t, err)
	assert.Equal(t, CudaVariant("cuda11"), v)

	_, err = ParseCudaVariant("cudaX")
	assert.True(t, errors.Is(err, errors.ErrCodeSchema))
}

func TestSRI(t *testing.T) {
	got, err := SRI("2f17178307b538245fc03b04b0d2c891e36c39cc772ae1794a3fa0d9d63a583d")
	require.NoError(t, err)
	assert.Equal(t, "sha256-LxcXgwe1OCRfwDsEsNLIkeNsOcx3KuF5Sj+g2dY6WD0=", got)

	_, err = SRI("xyz")
	assert.Error(t, err)
}

func TestComparePackageIDs(t *testing.T) {
	a := PackageID{Platform: LinuxAarch64, Name: "libcublas", Version: version.MustParse("12.0.0")}
	b := PackageID{Platform: LinuxX8664, Name: "libcublas", Version: version.MustParse("12.0.0")}
	c := PackageID{Platform: LinuxX8664, Name: "libcublas", Version: version.MustParse("12.1.0")}
	assert.Negative(t, ComparePackageIDs(a, b))
	assert.Negative(t, ComparePackageIDs(b, c))
	assert.Zero(t, ComparePackageIDs(c, c))
	assert.Equal(t, "linux-x86_64/libcublas@12.1.0", c.String())
}

func TestNonconforming(t *testing.T) {
	skip, reason := Nonconforming("cuda", version.MustParse("11.2.1"))
	assert.True(t, skip)
	assert.NotEmpty(t, reason)

	skip, _ = Nonconforming("cuda", version.MustParse("11.4.2"))
	assert.False(t, skip)

	skip, _ = Nonconforming("cudnn", version.MustParse("8.9.7.29"))
	assert.True(t, skip)

	skip, _ = Nonconforming("cudnn", version.MustParse("9.0.0"))
	assert.False(t, skip)
}

func TestLatest(t *testing.T) {
	parse := func(ss ...string) []version.Version {
		out := make([]version.Version, len(ss))
		for i, s := range ss {
			out[i] = version.MustParse(s)
		}
		return out
	}

	got := Latest("cuda", parse("12.2.0", "12.2.2", "12.3.0", "12.2.1", "11.8.0"))
	assert.Equal(t, parse("11.8.0", "12.2.2", "12.3.0"), got)

	got = Latest("cutensor", parse("2.0.0", "2.0.1", "1.7.0.1", "1.7.0.2", "2.0.1"))
	assert.Equal(t, parse("1.7.0.2", "2.0.0", "2.0.1"), got)
}
