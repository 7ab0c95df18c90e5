// Package redist defines the identity types shared by manifests, detectors
// and the resolver: platforms, redistributable names, CUDA variants and
// package identifiers.
package redist

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// DefaultURLBase is the root under which every redistributable is published.
const DefaultURLBase = "https://developer.download.nvidia.com/compute"

// =============================================================================
// Platforms
// =============================================================================

// Platform is a target OS/CPU combination as spelled in manifests.
type Platform string

const (
	LinuxAarch64  Platform = "linux-aarch64"
	LinuxAll      Platform = "linux-all"
	LinuxPPC64LE  Platform = "linux-ppc64le"
	LinuxSBSA     Platform = "linux-sbsa"
	LinuxX8664    Platform = "linux-x86_64"
	Source        Platform = "source"
	WindowsX86_64 Platform = "windows-x86_64"
)

// Platforms lists every known platform in sorted order.
var Platforms = []Platform{
	LinuxAarch64,
	LinuxAll,
	LinuxPPC64LE,
	LinuxSBSA,
	LinuxX8664,
	Source,
	WindowsX86_64,
}

// ParsePlatform validates s as a known platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.Known() {
		return "", errors.New(errors.ErrCodeInvalidInput, "unknown platform %q", s)
	}
	return p, nil
}

// Known reports whether p is one of Platforms.
func (p Platform) Known() bool { return slices.Contains(Platforms, p) }

// IsWindows reports whether archives for p are zip files.
func (p Platform) IsWindows() bool { return strings.HasPrefix(string(p), "windows-") }

// ArchiveExt returns the archive extension used for packages on p.
func (p Platform) ArchiveExt() string {
	if p.IsWindows() {
		return "zip"
	}
	return "tar.xz"
}

func (p Platform) String() string { return string(p) }

// =============================================================================
// Redistributable names
// =============================================================================

// Name identifies a redistributable family published under its own
// directory.
type Name string

// Names lists the redistributables this tool knows how to process.
var Names = []Name{
	"cublasmp",
	"cuda",
	"cudnn",
	"cudss",
	"cuquantum",
	"cusolvermp",
	"cusparselt",
	"cutensor",
	"nvjpeg2000",
	"nvpl",
	"nvtiff",
}

// ParseName validates s as a known redistributable name.
func ParseName(s string) (Name, error) {
	n := Name(s)
	if !slices.Contains(Names, n) {
		return "", errors.New(errors.ErrCodeInvalidInput, "unknown redistributable %q (known: %s)", s, strings.Join(NameStrings(), ", "))
	}
	return n, nil
}

// NameStrings returns Names as strings, for flag help and completion.
func NameStrings() []string {
	out := make([]string, len(Names))
	for i, n := range Names {
		out[i] = string(n)
	}
	return out
}

// URLPrefix returns the directory holding n's manifests and archives.
// An empty base selects DefaultURLBase.
func (n Name) URLPrefix(base string) string {
	if base == "" {
		base = DefaultURLBase
	}
	return strings.TrimSuffix(base, "/") + "/" + string(n) + "/redist"
}

func (n Name) String() string { return string(n) }

// =============================================================================
// CUDA variants
// =============================================================================

// CudaVariant names a per-toolkit-major sub-package, e.g. "cuda12".
type CudaVariant string

var cudaVariantRe = regexp.MustCompile(`^cuda\d+$`)

// ParseCudaVariant validates s as a CUDA variant key.
func ParseCudaVariant(s string) (CudaVariant, error) {
	if !cudaVariantRe.MatchString(s) {
		return "", errors.New(errors.ErrCodeSchema, "invalid CUDA variant %q", s)
	}
	return CudaVariant(s), nil
}

// VariantFromMajor maps a cuda_variant list entry ("12") to its key.
func VariantFromMajor(major string) (CudaVariant, error) {
	return ParseCudaVariant("cuda" + major)
}

// =============================================================================
// Package identity
// =============================================================================

// PackageID identifies one platform-specific package of a release.
type PackageID struct {
	Platform Platform        `json:"platform"`
	Name     string          `json:"package_name"`
	Version  version.Version `json:"version"`
}

func (id PackageID) String() string {
	return fmt.Sprintf("%s/%s@%s", id.Platform, id.Name, id.Version)
}

// ComparePackageIDs orders by platform, then name, then version.
func ComparePackageIDs(a, b PackageID) int {
	if c := strings.Compare(string(a.Platform), string(b.Platform)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return version.Compare(a.Version, b.Version)
}

// RelativePath returns the archive path NVIDIA uses for a package, relative
// to the redistributable's URL prefix. variant may be empty.
func RelativePath(pkg string, platform Platform, v string, variant CudaVariant) string {
	stem := fmt.Sprintf("%s-%s-%s", pkg, platform, v)
	if variant != "" {
		stem += "_" + string(variant)
	}
	return fmt.Sprintf("%s/%s/%s-archive.%s", pkg, platform, stem, platform.ArchiveExt())
}

// =============================================================================
// Hashes
// =============================================================================

var sha256Re = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidSHA256 reports whether s is a lowercase hex SHA-256 digest.
func ValidSHA256(s string) bool { return sha256Re.MatchString(s) }

// SRI converts a hex SHA-256 digest to a subresource-integrity string.
func SRI(sha256hex string) (string, error) {
	if !ValidSHA256(sha256hex) {
		return "", errors.New(errors.ErrCodeSchema, "invalid sha256 %q", sha256hex)
	}
	raw, err := hex.DecodeString(sha256hex)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeSchema, err, "invalid sha256 %q", sha256hex)
	}
	return "sha256-" + base64.StdEncoding.EncodeToString(raw), nil
}
