package resolver

import (
	"bytes"
	"encoding/json"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// Snapshot is the serializable form of the table:
// platform -> soname -> version -> provider.
type Snapshot map[redist.Platform]map[string]map[string]redist.PackageID

func (s Snapshot) get(k Key) (redist.PackageID, bool) {
	id, ok := s[k.Platform][k.Soname][k.Version]
	return id, ok
}

func (s Snapshot) set(k Key, id redist.PackageID) {
	if s[k.Platform] == nil {
		s[k.Platform] = make(map[string]map[string]redist.PackageID)
	}
	if s[k.Platform][k.Soname] == nil {
		s[k.Platform][k.Soname] = make(map[string]redist.PackageID)
	}
	s[k.Platform][k.Soname][k.Version] = id
}

// Len returns the number of entries.
func (s Snapshot) Len() int {
	n := 0
	for _, libs := range s {
		for _, versions := range libs {
			n += len(versions)
		}
	}
	return n
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	s.Each(func(k Key, id redist.PackageID) { out.set(k, id) })
	return out
}

// Each calls fn for every entry. Order is unspecified.
func (s Snapshot) Each(fn func(Key, redist.PackageID)) {
	for p, libs := range s {
		for soname, versions := range libs {
			for v, id := range versions {
				fn(Key{p, soname, v}, id)
			}
		}
	}
}

// Encode returns the snapshot as indented JSON with sorted keys and a
// trailing newline.
func (s Snapshot) Encode() ([]byte, error) {
	if s == nil {
		s = Snapshot{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode snapshot")
	}
	return append(data, '\n'), nil
}

// DecodeSnapshot parses and validates a snapshot. Every key must be a
// known platform, a soname and a version, and must agree with the
// provider it maps to.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSchema, err, "decode snapshot")
	}
	if s == nil {
		s = Snapshot{}
	}
	var bad error
	s.Each(func(k Key, id redist.PackageID) {
		if bad != nil {
			return
		}
		bad = validate(k, id)
	})
	if bad != nil {
		return nil, bad
	}
	return s, nil
}

func validate(k Key, id redist.PackageID) error {
	switch {
	case !k.Platform.Known():
		return errors.New(errors.ErrCodeSchema, "snapshot: unknown platform %q", k.Platform)
	case !ValidSoname(k.Soname):
		return errors.New(errors.ErrCodeSchema, "snapshot: %q is not a soname", k.Soname)
	case id.Platform != k.Platform:
		return errors.New(errors.ErrCodeSchema, "snapshot: entry %s has provider on platform %s", k, id.Platform)
	case id.Name == "":
		return errors.New(errors.ErrCodeSchema, "snapshot: entry %s has no package name", k)
	}
	v, err := version.Parse(k.Version)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSchema, err, "snapshot: entry %s", k)
	}
	if v != id.Version {
		return errors.New(errors.ErrCodeSchema, "snapshot: entry %s has provider version %s", k, id.Version)
	}
	return nil
}
