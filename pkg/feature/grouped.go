package feature

import (
	"bytes"
	"cmp"
	"encoding/json"
	"slices"
)

// Grouped is either a flat sorted list or a mapping from a subdirectory
// name to a sorted list. Groups takes precedence when non-nil.
//
// It is encoded as a JSON array or object respectively; the zero value
// encodes as [].
type Grouped[T cmp.Ordered] struct {
	Flat   []T
	Groups map[string][]T
}

// FlatOf returns a flat Grouped holding the sorted, distinct values.
func FlatOf[T cmp.Ordered](values ...T) Grouped[T] {
	return Grouped[T]{Flat: sortedSet(values)}
}

// IsGrouped reports whether g is keyed by subdirectory.
func (g Grouped[T]) IsGrouped() bool { return g.Groups != nil }

// IsEmpty reports whether g holds no values.
func (g Grouped[T]) IsEmpty() bool { return len(g.All()) == 0 }

// All returns the sorted union of every value in g.
func (g Grouped[T]) All() []T {
	if !g.IsGrouped() {
		return g.Flat
	}
	var all []T
	for _, vs := range g.Groups {
		all = append(all, vs...)
	}
	return sortedSet(all)
}

// Map applies fn to every value, keeping the shape of g. Values for which
// fn reports false are dropped; results are re-sorted and deduplicated.
func Map[T, U cmp.Ordered](g Grouped[T], fn func(T) (U, bool)) Grouped[U] {
	apply := func(vs []T) []U {
		out := make([]U, 0, len(vs))
		for _, v := range vs {
			if u, ok := fn(v); ok {
				out = append(out, u)
			}
		}
		return sortedSet(out)
	}
	if !g.IsGrouped() {
		return Grouped[U]{Flat: apply(g.Flat)}
	}
	groups := make(map[string][]U, len(g.Groups))
	for k, vs := range g.Groups {
		groups[k] = apply(vs)
	}
	return Grouped[U]{Groups: groups}
}

// MarshalJSON implements json.Marshaler.
func (g Grouped[T]) MarshalJSON() ([]byte, error) {
	if g.IsGrouped() {
		groups := make(map[string][]T, len(g.Groups))
		for k, vs := range g.Groups {
			groups[k] = nonNil(vs)
		}
		return json.Marshal(groups)
	}
	return json.Marshal(nonNil(g.Flat))
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Grouped[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*g = Grouped[T]{}
	if len(data) > 0 && data[0] == '{' {
		return json.Unmarshal(data, &g.Groups)
	}
	if string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, &g.Flat)
}

func sortedSet[T cmp.Ordered](vs []T) []T {
	out := slices.Clone(vs)
	slices.Sort(out)
	return slices.Compact(out)
}

func nonNil[T any](vs []T) []T {
	if vs == nil {
		return []T{}
	}
	return vs
}
