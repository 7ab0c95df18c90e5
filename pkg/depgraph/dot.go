package depgraph

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/cudaredist/pkg/errors"
)

// Options configures DOT output.
type Options struct {
	// Detailed adds version and outputs to node labels and the group
	// labels to edges.
	Detailed bool
	// HideExternal drops nodes outside the manifest and their edges.
	HideExternal bool
}

// ToDOT converts g to Graphviz DOT. Output is deterministic.
func ToDOT(g *Graph, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	fmt.Fprintf(&buf, "  label=%q;\n", string(g.Platform))
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	hidden := make(map[string]bool)
	for _, n := range g.Nodes() {
		if n.External && opts.HideExternal {
			hidden[n.ID] = true
			continue
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", n.ID, strings.Join(nodeAttrs(n, opts.Detailed), ", "))
	}

	buf.WriteString("\n")
	for _, e := range g.Edges() {
		if hidden[e.From] || hidden[e.To] {
			continue
		}
		if opts.Detailed && len(e.Groups) > 0 {
			fmt.Fprintf(&buf, "  %q -> %q [label=%q];\n", e.From, e.To, strings.Join(e.Groups, ", "))
			continue
		}
		fmt.Fprintf(&buf, "  %q -> %q;\n", e.From, e.To)
	}

	buf.WriteString("}\n")
	return buf.String()
}

func nodeAttrs(n Node, detailed bool) []string {
	label := n.ID
	if detailed && !n.External {
		label += "\n" + n.Version
		if len(n.Outputs) > 0 {
			label += "\n" + strings.Join(n.Outputs, " ")
		}
	}
	attrs := []string{fmt.Sprintf("label=%q", label)}
	if n.External {
		attrs = append(attrs, "style=\"rounded,filled,dashed\"", "fillcolor=lightgrey")
	}
	return attrs
}

// RenderSVG renders DOT source to SVG in-process.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "init graphviz")
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse DOT")
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "render")
	}
	return buf.Bytes(), nil
}
