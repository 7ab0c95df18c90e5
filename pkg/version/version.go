// Package version models the dotted version numbers used by redistributable
// manifests and the constraints used to select them.
//
// A [Version] has two to four non-negative integer components. Missing
// trailing components are absent, not zero: 12.3 and 12.3.0 are distinct and
// 12.3 sorts first.
package version

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/matzehuels/cudaredist/pkg/errors"
)

const (
	// MinComponents is the fewest dot-separated components Parse accepts.
	MinComponents = 2
	// MaxComponents is the most dot-separated components Parse accepts.
	MaxComponents = 4
)

// Version is an immutable dotted version. The zero value is invalid and
// reports IsZero.
//
// Version is comparable and safe to use as a map key. Two versions parsed
// from the same string are ==.
type Version struct {
	raw   string
	parts [MaxComponents]uint64
	n     int
}

// Parse parses s into a Version with between MinComponents and
// MaxComponents components.
func Parse(s string) (Version, error) {
	return ParseN(s, MinComponents)
}

// ParseStrict parses s requiring a major.minor.patch[.build] form.
func ParseStrict(s string) (Version, error) {
	return ParseN(s, 3)
}

// ParseN parses s requiring at least minComponents components.
func ParseN(s string, minComponents int) (Version, error) {
	fields := strings.Split(s, ".")
	if len(fields) < minComponents || len(fields) > MaxComponents {
		return Version{}, errors.New(errors.ErrCodeInvalidVersion,
			"version %q has %d components, want %d to %d", s, len(fields), minComponents, MaxComponents)
	}
	v := Version{raw: s, n: len(fields)}
	for i, f := range fields {
		if f == "" || strings.TrimLeft(f, "0123456789") != "" {
			return Version{}, errors.New(errors.ErrCodeInvalidVersion,
				"version %q: component %d (%q) is not a non-negative integer", s, i, f)
		}
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return Version{}, errors.Wrap(errors.ErrCodeInvalidVersion, err, "version %q", s)
		}
		v.parts[i] = n
	}
	return v, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level tables.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version exactly as it was parsed.
func (v Version) String() string { return v.raw }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.n == 0 }

// Len returns the number of components present.
func (v Version) Len() int { return v.n }

// Component returns the i'th component and whether it is present.
func (v Version) Component(i int) (uint64, bool) {
	if i < 0 || i >= v.n {
		return 0, false
	}
	return v.parts[i], true
}

// Prefix returns the first n components. Versions shorter than n are
// returned whole.
func (v Version) Prefix(n int) []uint64 {
	n = min(n, v.n)
	out := make([]uint64, n)
	copy(out, v.parts[:n])
	return out
}

// Compare returns -1, 0 or +1. Components are compared numerically left to
// right; when one version is a prefix of the other the shorter sorts first.
// Versions equal in every component but spelled differently (12.03 vs 12.3)
// are ordered by their text so that Compare is a total order consistent
// with ==.
func Compare(a, b Version) int {
	for i := range min(a.n, b.n) {
		switch {
		case a.parts[i] < b.parts[i]:
			return -1
		case a.parts[i] > b.parts[i]:
			return 1
		}
	}
	switch {
	case a.n < b.n:
		return -1
	case a.n > b.n:
		return 1
	}
	return strings.Compare(a.raw, b.raw)
}

// Less reports whether v sorts before w.
func (v Version) Less(w Version) bool { return Compare(v, w) < 0 }

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// MarshalJSON encodes v as a JSON string.
func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}

// UnmarshalJSON decodes a JSON string into v.
func (v *Version) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	return v.UnmarshalText([]byte(s))
}
