package feature

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/cudaredist/pkg/manifest"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

func TestGroupedJSON(t *testing.T) {
	tests := []struct {
		name string
		in   Grouped[string]
		want string
	}{
		{"zero", Grouped[string]{}, `[]`},
		{"flat", FlatOf("b", "a", "b"), `["a","b"]`},
		{"groups", Grouped[string]{Groups: map[string][]string{"cuda12": {"x"}, "cuda11": nil}}, `{"cuda11":[],"cuda12":["x"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))

			var back Grouped[string]
			require.NoError(t, json.Unmarshal(got, &back))
			assert.Equal(t, tt.in.IsGrouped(), back.IsGrouped())
			assert.Equal(t, tt.in.All(), nilIfEmpty(back.All()))
		})
	}
}

func nilIfEmpty(vs []string) []string {
	if len(vs) == 0 {
		return nil
	}
	return vs
}

func TestGroupedAllAndMap(t *testing.T) {
	g := Grouped[string]{Groups: map[string][]string{"a": {"x", "y"}, "b": {"y", "z"}}}
	assert.Equal(t, []string{"x", "y", "z"}, g.All())

	upper := Map(g, func(s string) (string, bool) { return strings.ToUpper(s), s != "z" })
	assert.Equal(t, map[string][]string{"a": {"X", "Y"}, "b": {"Y"}}, upper.Groups)

	flat := Map(FlatOf("b", "a"), func(s string) (string, bool) { return "lib" + s, true })
	assert.Equal(t, []string{"liba", "libb"}, flat.Flat)
}

func sampleManifest() *Manifest {
	pkg := Package{
		Outputs:           Outputs{Dev: true, Lib: true},
		CudaArchitectures: FlatOf("sm_90", "sm_50"),
		ProvidedLibs:      FlatOf("libcublas.so.12"),
		NeededLibs:        FlatOf("libc.so.6"),
	}
	m := &Manifest{
		Version:     version.MustParse("12.3.2"),
		ReleaseDate: "2024-01-01",
		Releases: map[string]*Release{
			"libcublas": {
				Info:     manifest.ReleaseInfo{Name: "CUDA cuBLAS", License: "CUDA Toolkit", Version: "12.3.4.1"},
				Packages: map[redist.Platform]Package{redist.LinuxX8664: pkg},
			},
			"cudnn": {
				Info:         manifest.ReleaseInfo{Name: "cuDNN", License: "cudnn", Version: "9.0.0.312"},
				CudaVariants: []string{"12"},
				Variants: map[redist.Platform]map[redist.CudaVariant]Package{
					redist.LinuxSBSA: {"cuda12": pkg},
				},
			},
		},
	}
	return m
}

func TestManifestEncode(t *testing.T) {
	data, err := sampleManifest().Encode()
	require.NoError(t, err)

	s := string(data)
	assert.True(t, strings.HasSuffix(s, "}\n"))
	assert.Contains(t, s, "\n  \"cudnn\": {\n")
	assert.Contains(t, s, `"hasDev": true`)
	assert.Contains(t, s, `"cuda12": {`)
	assert.Less(t, strings.Index(s, `"cudnn"`), strings.Index(s, `"libcublas"`))
	assert.Less(t, strings.Index(s, `"libcublas"`), strings.Index(s, `"release_date"`))
	assert.NotContains(t, s, "release_label")

	// Deterministic
	again, err := sampleManifest().Encode()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	orig := sampleManifest()
	path, err := orig.Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "feature_12.3.2.json"), path)

	back, err := ReadManifest(dir, orig.Version)
	require.NoError(t, err)
	assert.Equal(t, []string{"cudnn", "libcublas"}, back.Names())
	assert.Equal(t, "2024-01-01", back.ReleaseDate)

	cublas := back.Releases["libcublas"]
	require.NotNil(t, cublas.Packages)
	assert.Equal(t, []string{"sm_50", "sm_90"}, cublas.Packages[redist.LinuxX8664].CudaArchitectures.Flat)

	cudnn := back.Releases["cudnn"]
	require.NotNil(t, cudnn.Variants)
	slots := cudnn.Slots()
	require.Len(t, slots, 1)
	assert.Equal(t, redist.CudaVariant("cuda12"), slots[0].Variant)
	assert.True(t, slots[0].Package.Outputs.Lib)

	vs, err := ListVersions(dir)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "12.3.2", vs[0].String())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature_x.json"), []byte("{}"), 0o644))
	vs, err = ListVersions(dir)
	require.NoError(t, err)
	assert.Len(t, vs, 1)
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "feature_12.3.2.json", FileName(version.MustParse("12.3.2")))
	assert.Equal(t, "feature_12.3.2.json", FileNameFor("redistrib_12.3.2.json"))
}

func TestNewRelease(t *testing.T) {
	flat := NewRelease(&manifest.FlatRelease{ReleaseInfo: manifest.ReleaseInfo{Name: "x"}})
	flat.Set(redist.LinuxX8664, "", Package{})
	assert.Len(t, flat.Packages, 1)
	assert.Nil(t, flat.Variants)

	vr := NewRelease(&manifest.VariantRelease{CudaVariants: []string{"11", "12"}})
	vr.Set(redist.LinuxX8664, "cuda11", Package{})
	vr.Set(redist.LinuxX8664, "cuda12", Package{})
	assert.Len(t, vr.Variants[redist.LinuxX8664], 2)
	assert.Len(t, vr.Slots(), 2)
}
