package tools

import (
	"context"
	"slices"
	"strings"
)

// Patchelf reads sonames from ELF dynamic sections.
type Patchelf struct {
	Path   string // binary, "patchelf" if empty
	Runner Runner
}

func (p Patchelf) run(ctx context.Context, args ...string) (string, error) {
	bin := p.Path
	if bin == "" {
		bin = "patchelf"
	}
	res, err := orExec(p.Runner).Run(ctx, bin, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", toolError(bin, args, res)
	}
	return string(res.Stdout), nil
}

// Soname returns the DT_SONAME of file. A library without one yields nil.
func (p Patchelf) Soname(ctx context.Context, file string) ([]string, error) {
	out, err := p.run(ctx, "--print-soname", file)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(out); name != "" {
		return []string{name}, nil
	}
	return nil, nil
}

// Needed returns the sorted DT_NEEDED entries of file.
func (p Patchelf) Needed(ctx context.Context, file string) ([]string, error) {
	out, err := p.run(ctx, "--print-needed", file)
	if err != nil {
		return nil, err
	}
	var libs []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			libs = append(libs, line)
		}
	}
	slices.Sort(libs)
	return slices.Compact(libs), nil
}
