// Package resolver maps shared-library sonames to the packages that provide
// them.
//
// The table is keyed by platform, soname and release version. Lookups are
// exact: a library provided by cuBLAS 12.3 does not satisfy a consumer
// released as 12.4. Facts are added in batches with [Resolver.BulkMerge]
// once every detection of a run has finished, so the table is never written
// concurrently.
//
// A [Snapshot] of the table is persisted between runs; it seeds the next run
// and is where manual corrections go.
package resolver

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature"
	"github.com/matzehuels/cudaredist/pkg/observability"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

var sonameRe = regexp.MustCompile(`\.so(?:\.\d+)*$`)

// ValidSoname reports whether s looks like a shared object name.
func ValidSoname(s string) bool { return s != "" && !strings.ContainsRune(s, '/') && sonameRe.MatchString(s) }

// ConflictPolicy decides what BulkMerge does when a key already maps to a
// different package.
type ConflictPolicy int

const (
	// LastWriterWins replaces the existing entry.
	LastWriterWins ConflictPolicy = iota
	// FirstWriterWins keeps the existing entry.
	FirstWriterWins
	// FailOnConflict aborts the merge with a ResolutionConflict error.
	FailOnConflict
)

var policyNames = map[ConflictPolicy]string{
	LastWriterWins:  "last-writer-wins",
	FirstWriterWins: "first-writer-wins",
	FailOnConflict:  "error",
}

func (p ConflictPolicy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return "unknown"
}

// ParseConflictPolicy parses the String form of a policy.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return 0, errors.New(errors.ErrCodeInvalidInput, "unknown conflict policy %q (want last-writer-wins, first-writer-wins or error)", s)
}

// Key addresses one table entry.
type Key struct {
	Platform redist.Platform
	Soname   string
	Version  string
}

func (k Key) String() string {
	return string(k.Platform) + " -> " + k.Soname + " -> " + k.Version
}

// Conflict records a key that was claimed by two different packages.
type Conflict struct {
	Key      Key
	Existing redist.PackageID
	Incoming redist.PackageID
	Kept     redist.PackageID
}

// Resolver holds the soname table. The zero value is not usable; call New.
type Resolver struct {
	table     Snapshot
	policy    ConflictPolicy
	logger    *log.Logger
	conflicts []Conflict
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPolicy sets the conflict policy. The default is LastWriterWins.
func WithPolicy(p ConflictPolicy) Option { return func(r *Resolver) { r.policy = p } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSnapshot seeds the table. The snapshot is copied.
func WithSnapshot(s Snapshot) Option { return func(r *Resolver) { r.table = s.Clone() } }

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{table: Snapshot{}, logger: log.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the conflict policy in effect.
func (r *Resolver) Policy() ConflictPolicy { return r.policy }

// Snapshot returns a copy of the table.
func (r *Resolver) Snapshot() Snapshot { return r.table.Clone() }

// Len returns the number of entries.
func (r *Resolver) Len() int { return r.table.Len() }

// Conflicts returns every conflict seen by BulkMerge, in merge order.
func (r *Resolver) Conflicts() []Conflict { return slices.Clone(r.conflicts) }

// Lookup returns the package providing soname on platform at version v.
// A miss is logged and reported through ok; it is not an error.
func (r *Resolver) Lookup(ctx context.Context, platform redist.Platform, soname string, v version.Version) (redist.PackageID, bool) {
	id, ok := r.table.get(Key{platform, soname, v.String()})
	observability.Pipeline().OnResolve(ctx, string(platform), soname, ok)
	if ok {
		r.logger.Info("Found dependency", "entry", Key{platform, soname, v.String()}, "provider", id)
	} else {
		r.logger.Warn("No dependency found", "entry", Key{platform, soname, v.String()})
	}
	return id, ok
}

// BulkMerge adds every soname each package provides, keyed by the package's
// own platform and version. Packages are applied in ComparePackageIDs
// order so that the outcome of a conflict does not depend on map
// iteration. Under FailOnConflict the table is left unchanged on error.
func (r *Resolver) BulkMerge(ctx context.Context, items map[redist.PackageID]feature.Package) error {
	ids := make([]redist.PackageID, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, redist.ComparePackageIDs)

	next := r.table.Clone()
	var conflicts []Conflict
	for _, id := range ids {
		for _, soname := range items[id].ProvidedLibs.All() {
			if !ValidSoname(soname) {
				r.logger.Warn("Ignoring invalid soname", "package", id, "soname", soname)
				continue
			}
			key := Key{id.Platform, soname, id.Version.String()}
			existing, ok := next.get(key)
			switch {
			case !ok:
				r.logger.Debug("Adding entry", "entry", key, "provider", id)
				next.set(key, id)
			case existing == id:
				r.logger.Debug("Entry exists; skipping", "entry", key, "provider", id)
			default:
				c := Conflict{Key: key, Existing: existing, Incoming: id, Kept: existing}
				observability.Pipeline().OnConflict(ctx, string(key.Platform), key.Soname, key.Version)
				switch r.policy {
				case FailOnConflict:
					return errors.New(errors.ErrCodeResolutionConflict,
						"entry %s is provided by both %s and %s", key, existing, id)
				case FirstWriterWins:
					r.logger.Error("Entry exists; keeping existing value", "entry", key, "provider", existing, "ignored", id)
				default:
					r.logger.Error("Entry exists; replacing value", "entry", key, "provider", existing, "replacement", id)
					c.Kept = id
					next.set(key, id)
				}
				conflicts = append(conflicts, c)
			}
		}
	}
	r.table = next
	r.conflicts = append(r.conflicts, conflicts...)
	return nil
}

// Resolve fills pkg.Dependencies from its needed libraries. Each soname is
// looked up at the consumer's platform and version; the package's own name
// is dropped and names are deduplicated.
func (r *Resolver) Resolve(ctx context.Context, id redist.PackageID, pkg feature.Package) feature.Package {
	pkg.Dependencies = feature.Map(pkg.NeededLibs, func(soname string) (string, bool) {
		provider, ok := r.Lookup(ctx, id.Platform, soname, id.Version)
		if !ok || provider.Name == id.Name {
			return "", false
		}
		return provider.Name, true
	})
	return pkg
}
