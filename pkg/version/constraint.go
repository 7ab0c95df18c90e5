package version

import (
	"fmt"

	"github.com/matzehuels/cudaredist/pkg/errors"
)

// Constraint restricts which versions are accepted. It is either
// unconstrained, an exact version, or a range with optional inclusive
// bounds. Exact and range are mutually exclusive.
type Constraint struct {
	exact    Version
	min, max Version
}

// Any returns the unconstrained Constraint.
func Any() Constraint { return Constraint{} }

// Exactly returns a Constraint accepting only v.
func Exactly(v Version) Constraint { return Constraint{exact: v} }

// Between returns a range Constraint. Either bound may be the zero Version
// to leave that side open.
func Between(lo, hi Version) (Constraint, error) {
	return NewConstraint(Version{}, lo, hi)
}

// NewConstraint builds a Constraint from optional parts; pass the zero
// Version for any part that is absent. It fails if exact is combined with
// a bound or if lo > hi.
func NewConstraint(exact, lo, hi Version) (Constraint, error) {
	if !exact.IsZero() && (!lo.IsZero() || !hi.IsZero()) {
		return Constraint{}, errors.New(errors.ErrCodeInvalidConstraint,
			"cannot combine an exact version with a minimum or maximum")
	}
	if !lo.IsZero() && !hi.IsZero() && Compare(lo, hi) > 0 {
		return Constraint{}, errors.New(errors.ErrCodeInvalidConstraint,
			"minimum version %s is greater than maximum version %s", lo, hi)
	}
	return Constraint{exact: exact, min: lo, max: hi}, nil
}

// Exact returns the exact version, if the constraint is exact.
func (c Constraint) Exact() (Version, bool) { return c.exact, !c.exact.IsZero() }

// Min returns the lower bound, if any.
func (c Constraint) Min() (Version, bool) { return c.min, !c.min.IsZero() }

// Max returns the upper bound, if any.
func (c Constraint) Max() (Version, bool) { return c.max, !c.max.IsZero() }

// IsUnconstrained reports whether every version satisfies c.
func (c Constraint) IsUnconstrained() bool {
	return c.exact.IsZero() && c.min.IsZero() && c.max.IsZero()
}

// IsSatisfiedBy reports whether v satisfies c, together with a human
// readable reason suitable for debug logging.
func (c Constraint) IsSatisfiedBy(v Version) (bool, string) {
	switch {
	case !c.exact.IsZero():
		ok := v == c.exact
		return ok, fmt.Sprintf("version %s %s exactly %s", v, isOrNot(ok), c.exact)
	case !c.min.IsZero() && !c.max.IsZero():
		ok := Compare(c.min, v) <= 0 && Compare(v, c.max) <= 0
		return ok, fmt.Sprintf("version %s %s between %s and %s", v, isOrNot(ok), c.min, c.max)
	case !c.min.IsZero():
		if Compare(v, c.min) >= 0 {
			return true, fmt.Sprintf("version %s is greater than or equal to %s", v, c.min)
		}
		return false, fmt.Sprintf("version %s is less than %s", v, c.min)
	case !c.max.IsZero():
		if Compare(v, c.max) <= 0 {
			return true, fmt.Sprintf("version %s is less than or equal to %s", v, c.max)
		}
		return false, fmt.Sprintf("version %s is greater than %s", v, c.max)
	}
	return true, fmt.Sprintf("version %s is not constrained", v)
}

// String describes c for logs and progress output.
func (c Constraint) String() string {
	switch {
	case !c.exact.IsZero():
		return "=" + c.exact.String()
	case !c.min.IsZero() && !c.max.IsZero():
		return fmt.Sprintf(">=%s, <=%s", c.min, c.max)
	case !c.min.IsZero():
		return ">=" + c.min.String()
	case !c.max.IsZero():
		return "<=" + c.max.String()
	}
	return "*"
}

func isOrNot(ok bool) string {
	if ok {
		return "is"
	}
	return "is not"
}
