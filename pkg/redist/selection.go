package redist

import (
	"fmt"
	"slices"

	"github.com/matzehuels/cudaredist/pkg/version"
)

// cudaNonconforming lists CUDA manifests whose structure predates the
// schema every other manifest follows.
var cudaNonconforming = map[string]bool{
	"11.0.3": true,
	"11.1.1": true,
	"11.2.0": true,
	"11.2.1": true,
	"11.2.2": true,
	"11.3.0": true,
	"11.3.1": true,
	"11.4.0": true,
	"11.4.1": true,
}

// Nonconforming reports whether the manifest for n at v should be skipped,
// and why.
func Nonconforming(n Name, v version.Version) (bool, string) {
	switch n {
	case "cuda":
		if cudaNonconforming[v.String()] {
			return true, "does not conform to the expected structure"
		}
	case "cudnn":
		if v.Len() == 4 {
			return true, "uses lib directory structure instead of cuda variant"
		}
	}
	return false, ""
}

// SeriesLen is the number of leading components that define a release
// series for n. Only the newest version of each series is kept by Latest.
func SeriesLen(n Name) int {
	if n == "cuda" {
		return 2
	}
	return 3
}

// Latest keeps the newest version of each series and returns them sorted.
func Latest(n Name, vs []version.Version) []version.Version {
	k := SeriesLen(n)
	newest := make(map[string]version.Version)
	for _, v := range vs {
		key := fmt.Sprint(v.Prefix(k))
		if cur, ok := newest[key]; !ok || version.Compare(v, cur) > 0 {
			newest[key] = v
		}
	}
	out := make([]version.Version, 0, len(newest))
	for _, v := range newest {
		out = append(out, v)
	}
	slices.SortFunc(out, version.Compare)
	return out
}
