package tools

import (
	"context"
	"regexp"
	"slices"
	"strings"
)

var archLineRe = regexp.MustCompile(`(?m)^arch = (.+)$`)

const noDeviceCode = "does not contain device code"

// Cuobjdump lists the GPU architectures a library carries device code for.
type Cuobjdump struct {
	Path   string // binary, "cuobjdump" if empty
	Runner Runner
}

// Architectures returns the sorted, distinct arch tags found in file.
// A host-only library yields an empty result, not an error.
func (c Cuobjdump) Architectures(ctx context.Context, file string) ([]string, error) {
	bin := c.Path
	if bin == "" {
		bin = "cuobjdump"
	}
	args := []string{file}
	res, err := orExec(c.Runner).Run(ctx, bin, args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		if strings.Contains(string(res.Stderr), noDeviceCode) {
			return nil, nil
		}
		return nil, toolError(bin, args, res)
	}
	return parseArchitectures(string(res.Stdout)), nil
}

func parseArchitectures(out string) []string {
	var archs []string
	for _, m := range archLineRe.FindAllStringSubmatch(out, -1) {
		archs = append(archs, strings.TrimSpace(m[1]))
	}
	slices.Sort(archs)
	return slices.Compact(archs)
}
