package feature

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/manifest"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// Release is the feature counterpart of a manifest release. Exactly one of
// Packages and Variants is populated, mirroring the input schema.
type Release struct {
	Info         manifest.ReleaseInfo
	CudaVariants []string
	Packages     map[redist.Platform]Package
	Variants     map[redist.Platform]map[redist.CudaVariant]Package
}

// NewRelease returns an empty Release shaped like r.
func NewRelease(r manifest.Release) *Release {
	out := &Release{Info: r.Info()}
	if vr, ok := r.(*manifest.VariantRelease); ok {
		out.CudaVariants = vr.CudaVariants
		out.Variants = make(map[redist.Platform]map[redist.CudaVariant]Package)
	} else {
		out.Packages = make(map[redist.Platform]Package)
	}
	return out
}

// Set stores pkg in the slot for platform and variant.
func (r *Release) Set(platform redist.Platform, variant redist.CudaVariant, pkg Package) {
	if r.Variants != nil {
		if r.Variants[platform] == nil {
			r.Variants[platform] = make(map[redist.CudaVariant]Package)
		}
		r.Variants[platform][variant] = pkg
		return
	}
	r.Packages[platform] = pkg
}

// Slot is one package of a Release with its location.
type Slot struct {
	Platform redist.Platform
	Variant  redist.CudaVariant
	Package  Package
}

// Slots returns every package sorted by platform, then variant.
func (r *Release) Slots() []Slot {
	var out []Slot
	for p, pkg := range r.Packages {
		out = append(out, Slot{Platform: p, Package: pkg})
	}
	for p, vs := range r.Variants {
		for v, pkg := range vs {
			out = append(out, Slot{Platform: p, Variant: v, Package: pkg})
		}
	}
	slices.SortFunc(out, func(a, b Slot) int {
		if c := strings.Compare(string(a.Platform), string(b.Platform)); c != 0 {
			return c
		}
		return strings.Compare(string(a.Variant), string(b.Variant))
	})
	return out
}

// Manifest is the feature manifest for one redistributable version.
type Manifest struct {
	Version        version.Version
	ReleaseDate    string
	ReleaseLabel   string
	ReleaseProduct string
	Releases       map[string]*Release
}

// NewManifest returns an empty feature manifest carrying m's metadata.
func NewManifest(m *manifest.Manifest) *Manifest {
	return &Manifest{
		Version:        m.Version,
		ReleaseDate:    m.ReleaseDate,
		ReleaseLabel:   m.ReleaseLabel,
		ReleaseProduct: m.ReleaseProduct,
		Releases:       make(map[string]*Release, len(m.Releases)),
	}
}

// Names returns the release names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Releases))
	for n := range m.Releases {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// MarshalJSON implements json.Marshaler. Object keys come out sorted.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	top := make(map[string]any, len(m.Releases)+3)
	for key, val := range map[string]string{
		"release_date":    m.ReleaseDate,
		"release_label":   m.ReleaseLabel,
		"release_product": m.ReleaseProduct,
	} {
		if val != "" {
			top[key] = val
		}
	}
	for name, r := range m.Releases {
		obj := map[string]any{
			"name":    r.Info.Name,
			"license": r.Info.License,
			"version": r.Info.Version,
		}
		if r.Info.LicensePath != "" {
			obj["license_path"] = r.Info.LicensePath
		}
		if r.CudaVariants != nil {
			obj["cuda_variant"] = r.CudaVariants
		}
		for p, pkg := range r.Packages {
			obj[string(p)] = pkg
		}
		for p, vs := range r.Variants {
			nested := make(map[string]Package, len(vs))
			for v, pkg := range vs {
				nested[string(v)] = pkg
			}
			obj[string(p)] = nested
		}
		top[name] = obj
	}
	return json.Marshal(top)
}

// UnmarshalJSON implements json.Unmarshaler. Version is not part of the
// encoding and is left untouched.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return errors.Wrap(errors.ErrCodeSchema, err, "feature manifest is not an object")
	}
	m.Releases = make(map[string]*Release, len(top))
	meta := map[string]*string{
		"release_date":    &m.ReleaseDate,
		"release_label":   &m.ReleaseLabel,
		"release_product": &m.ReleaseProduct,
	}
	for key, raw := range top {
		if dst, ok := meta[key]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return errors.Wrap(errors.ErrCodeSchema, err, "field %s", key)
			}
			continue
		}
		r, err := decodeRelease(raw)
		if err != nil {
			return errors.Wrap(errors.ErrCodeSchema, err, "release %q", key)
		}
		m.Releases[key] = r
	}
	return nil
}

func decodeRelease(raw json.RawMessage) (*Release, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	r := &Release{}
	strs := map[string]*string{
		"name":         &r.Info.Name,
		"license":      &r.Info.License,
		"version":      &r.Info.Version,
		"license_path": &r.Info.LicensePath,
	}
	for key, dst := range strs {
		if v, ok := fields[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return nil, err
			}
			delete(fields, key)
		}
	}
	if v, ok := fields["cuda_variant"]; ok {
		if err := json.Unmarshal(v, &r.CudaVariants); err != nil {
			return nil, err
		}
		delete(fields, "cuda_variant")
	}

	if r.CudaVariants != nil {
		r.Variants = make(map[redist.Platform]map[redist.CudaVariant]Package, len(fields))
	} else {
		r.Packages = make(map[redist.Platform]Package, len(fields))
	}
	for key, v := range fields {
		p, err := redist.ParsePlatform(key)
		if err != nil {
			return nil, err
		}
		if r.Variants == nil {
			var pkg Package
			if err := json.Unmarshal(v, &pkg); err != nil {
				return nil, err
			}
			r.Packages[p] = pkg
			continue
		}
		var nested map[redist.CudaVariant]Package
		if err := json.Unmarshal(v, &nested); err != nil {
			return nil, err
		}
		r.Variants[p] = nested
	}
	return r, nil
}

// Encode returns the deterministic on-disk form of m: two-space indent,
// sorted keys and a trailing newline.
func (m *Manifest) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode feature manifest")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "indent feature manifest")
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// FileName returns the feature manifest file name for v.
func FileName(v version.Version) string {
	return "feature_" + v.String() + ".json"
}

// FileNameFor maps a manifest file name to its feature manifest name by
// replacing "redistrib" with "feature".
func FileNameFor(manifestFile string) string {
	return strings.Replace(manifestFile, "redistrib", "feature", 1)
}

// Write encodes m into dir/feature_<version>.json and returns the path.
func (m *Manifest) Write(dir string) (string, error) {
	data, err := m.Encode()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidPath, err, "create %s", dir)
	}
	dest := filepath.Join(dir, FileName(m.Version))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidPath, err, "write %s", dest)
	}
	return dest, nil
}

// ReadManifest loads dir/feature_<v>.json.
func ReadManifest(dir string, v version.Version) (*Manifest, error) {
	path := filepath.Join(dir, FileName(v))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrCodeNotFound, err, "feature manifest %s", path)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "read %s", path)
	}
	m := &Manifest{Version: v}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListVersions returns the versions of the feature manifests in dir, sorted.
func ListVersions(dir string) ([]version.Version, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "list %s", dir)
	}
	var vs []version.Version
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "feature_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		v, err := version.Parse(strings.TrimSuffix(strings.TrimPrefix(name, "feature_"), ".json"))
		if err != nil {
			continue
		}
		vs = append(vs, v)
	}
	slices.SortFunc(vs, version.Compare)
	return vs, nil
}
