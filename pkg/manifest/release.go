package manifest

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

var (
	md5Re  = regexp.MustCompile(`^[0-9a-f]{32}$`)
	sizeRe = regexp.MustCompile(`^[0-9]+$`)
)

// Package is one downloadable archive.
type Package struct {
	RelativePath string `json:"relative_path"`
	SHA256       string `json:"sha256"`
	MD5          string `json:"md5,omitempty"`
	Size         string `json:"size"`
}

var packageKeys = []string{"relative_path", "sha256", "md5", "size"}

// ReleaseInfo holds the metadata fields common to both release generations.
type ReleaseInfo struct {
	Name        string `json:"name"`
	License     string `json:"license"`
	Version     string `json:"version"`
	LicensePath string `json:"license_path,omitempty"`
}

// Info returns the release metadata.
func (r ReleaseInfo) Info() ReleaseInfo { return r }

var releaseInfoKeys = []string{"name", "license", "version", "license_path"}

const cudaVariantKey = "cuda_variant"

// Entry is one package of a release together with its slot.
// Variant is empty for flat releases.
type Entry struct {
	Platform redist.Platform
	Variant  redist.CudaVariant
	Package  Package
}

// Release is either a *FlatRelease or a *VariantRelease.
type Release interface {
	Info() ReleaseInfo
	// Entries returns every package sorted by platform, then variant.
	Entries() []Entry
	release()
}

// FlatRelease is a release with one package per platform.
type FlatRelease struct {
	ReleaseInfo
	Packages map[redist.Platform]Package
}

// VariantRelease is a release with one package per platform and CUDA variant.
type VariantRelease struct {
	ReleaseInfo
	CudaVariants []string
	Packages     map[redist.Platform]map[redist.CudaVariant]Package
}

func (*FlatRelease) release()    {}
func (*VariantRelease) release() {}

// Entries implements Release.
func (r *FlatRelease) Entries() []Entry {
	out := make([]Entry, 0, len(r.Packages))
	for p, pkg := range r.Packages {
		out = append(out, Entry{Platform: p, Package: pkg})
	}
	sortEntries(out)
	return out
}

// Entries implements Release.
func (r *VariantRelease) Entries() []Entry {
	var out []Entry
	for p, variants := range r.Packages {
		for v, pkg := range variants {
			out = append(out, Entry{Platform: p, Variant: v, Package: pkg})
		}
	}
	sortEntries(out)
	return out
}

func sortEntries(es []Entry) {
	slices.SortFunc(es, func(a, b Entry) int {
		if c := strings.Compare(string(a.Platform), string(b.Platform)); c != 0 {
			return c
		}
		return strings.Compare(string(a.Variant), string(b.Variant))
	})
}

// PackageID returns the identity of a release's package on platform.
// The version is the release's own version, which must parse.
func PackageID(name string, r Release, platform redist.Platform) (redist.PackageID, error) {
	v, err := version.Parse(r.Info().Version)
	if err != nil {
		return redist.PackageID{}, errors.Wrap(errors.ErrCodeSchema, err, "release %q", name)
	}
	return redist.PackageID{Platform: platform, Name: name, Version: v}, nil
}

// parseRelease decodes one release object. name is the manifest key the
// release was found under.
func parseRelease(name string, raw json.RawMessage, verify bool) (Release, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSchema, err, "release %q is not an object", name)
	}

	info, err := parseReleaseInfo(name, fields)
	if err != nil {
		return nil, err
	}

	var variants []string
	if rawVariants, ok := fields[cudaVariantKey]; ok {
		if err := json.Unmarshal(rawVariants, &variants); err != nil {
			return nil, errors.Wrap(errors.ErrCodeSchema, err, "release %q: cuda_variant", name)
		}
		delete(fields, cudaVariantKey)
	}

	platforms := make(map[redist.Platform]map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		p := redist.Platform(key)
		if !p.Known() {
			return nil, errors.New(errors.ErrCodeSchema, "release %q: unexpected key %q", name, key)
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(value, &obj); err != nil {
			return nil, errors.Wrap(errors.ErrCodeSchema, err, "release %q: platform %s is not an object", name, p)
		}
		nested, err := cudaNested(obj)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeSchema, err, "release %q: platform %s", name, p)
		}
		if nested != (variants != nil) {
			if nested {
				return nil, errors.New(errors.ErrCodeSchema, "release %q: platform %s nests cuda variants but the release has no cuda_variant", name, p)
			}
			return nil, errors.New(errors.ErrCodeSchema, "release %q: platform %s must nest packages under cuda variants", name, p)
		}
		platforms[p] = obj
	}

	if variants == nil {
		r := &FlatRelease{ReleaseInfo: info, Packages: make(map[redist.Platform]Package, len(platforms))}
		for p, obj := range platforms {
			pkg, err := parsePackage(obj)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeSchema, err, "release %q: platform %s", name, p)
			}
			if err := checkRelativePath(verify, name, p, info.Version, "", pkg); err != nil {
				return nil, err
			}
			r.Packages[p] = pkg
		}
		return r, nil
	}

	allowed := make(map[redist.CudaVariant]bool, len(variants))
	for _, major := range variants {
		cv, err := redist.VariantFromMajor(major)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeSchema, err, "release %q: cuda_variant", name)
		}
		allowed[cv] = true
	}

	r := &VariantRelease{
		ReleaseInfo:  info,
		CudaVariants: variants,
		Packages:     make(map[redist.Platform]map[redist.CudaVariant]Package, len(platforms)),
	}
	for p, obj := range platforms {
		byVariant := make(map[redist.CudaVariant]Package, len(obj))
		for key, value := range obj {
			cv, err := redist.ParseCudaVariant(key)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeSchema, err, "release %q: platform %s", name, p)
			}
			if !allowed[cv] {
				return nil, errors.New(errors.ErrCodeSchema, "release %q: platform %s: variant %s not listed in cuda_variant %v", name, p, cv, variants)
			}
			var pobj map[string]json.RawMessage
			if err := json.Unmarshal(value, &pobj); err != nil {
				return nil, errors.Wrap(errors.ErrCodeSchema, err, "release %q: %s/%s is not an object", name, p, cv)
			}
			pkg, err := parsePackage(pobj)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeSchema, err, "release %q: %s/%s", name, p, cv)
			}
			if err := checkRelativePath(verify, name, p, info.Version, cv, pkg); err != nil {
				return nil, err
			}
			byVariant[cv] = pkg
		}
		r.Packages[p] = byVariant
	}
	return r, nil
}

// parseReleaseInfo removes the metadata keys from fields.
func parseReleaseInfo(name string, fields map[string]json.RawMessage) (ReleaseInfo, error) {
	var info ReleaseInfo
	targets := map[string]*string{
		"name":         &info.Name,
		"license":      &info.License,
		"version":      &info.Version,
		"license_path": &info.LicensePath,
	}
	for _, key := range releaseInfoKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		delete(fields, key)
		if string(raw) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, targets[key]); err != nil {
			return info, errors.Wrap(errors.ErrCodeSchema, err, "release %q: field %s", name, key)
		}
	}
	for _, key := range []string{"name", "license", "version"} {
		if *targets[key] == "" {
			return info, errors.New(errors.ErrCodeSchema, "release %q: missing %s", name, key)
		}
	}
	return info, nil
}

// cudaNested reports whether every key of obj is a cuda-prefixed variant key.
// A mix of variant and package keys is an error.
func cudaNested(obj map[string]json.RawMessage) (bool, error) {
	var prefixed int
	for key := range obj {
		if strings.HasPrefix(key, "cuda") {
			prefixed++
		}
	}
	if prefixed > 0 && prefixed != len(obj) {
		return false, errors.New(errors.ErrCodeSchema, "expected all package keys to start with 'cuda' or none to, got %v", sortedKeys(obj))
	}
	return prefixed > 0, nil
}

func parsePackage(obj map[string]json.RawMessage) (Package, error) {
	for key := range obj {
		if !slices.Contains(packageKeys, key) {
			return Package{}, errors.New(errors.ErrCodeSchema, "unexpected package key %q", key)
		}
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return Package{}, errors.Wrap(errors.ErrCodeInternal, err, "re-encode package")
	}
	var pkg Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return Package{}, errors.Wrap(errors.ErrCodeSchema, err, "decode package")
	}
	switch {
	case pkg.RelativePath == "":
		return pkg, errors.New(errors.ErrCodeSchema, "missing relative_path")
	case !redist.ValidSHA256(pkg.SHA256):
		return pkg, errors.New(errors.ErrCodeSchema, "invalid sha256 %q", pkg.SHA256)
	case pkg.MD5 != "" && !md5Re.MatchString(pkg.MD5):
		return pkg, errors.New(errors.ErrCodeSchema, "invalid md5 %q", pkg.MD5)
	case !sizeRe.MatchString(pkg.Size):
		return pkg, errors.New(errors.ErrCodeSchema, "invalid size %q", pkg.Size)
	}
	return pkg, nil
}

func checkRelativePath(verify bool, name string, p redist.Platform, v string, cv redist.CudaVariant, pkg Package) error {
	if err := errors.ValidatePath(pkg.RelativePath); err != nil {
		return errors.Wrap(errors.ErrCodeSchema, err, "release %q: relative_path %q", name, pkg.RelativePath)
	}
	if !verify {
		return nil
	}
	if want := redist.RelativePath(name, p, v, cv); pkg.RelativePath != want {
		return errors.New(errors.ErrCodeSchema, "release %q: expected relative path to be %s, got %s", name, want, pkg.RelativePath)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
