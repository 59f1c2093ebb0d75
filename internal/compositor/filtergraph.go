// Package compositor builds and executes the composition pipeline: per-clip
// normalization chains, the transition chain, the audio mixing graph, and
// subtitle burn-in, compiled into a single ffmpeg filter_complex invocation.
package compositor

import (
	"fmt"
	"strings"
)

// Stream is a labeled edge in the filter graph, e.g. "[0:v]" or "[v3]".
type Stream string

// Chain is one filter chain: zero or more input streams, a filter sequence,
// and the streams it produces. Chains with no inputs are filter sources
// (anullsrc and friends).
type Chain struct {
	Inputs  []Stream
	Filters []string
	Outputs []Stream
}

// Graph accumulates chains and serializes them into a filter_complex
// expression. Label allocation goes through the graph so chains never
// collide.
type Graph struct {
	chains []Chain
	serial int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// Input returns the stream selector for stream kind ("v" or "a") of the
// numbered ffmpeg input.
func Input(index int, kind string) Stream {
	return Stream(fmt.Sprintf("[%d:%s]", index, kind))
}

// NewStream allocates a fresh intermediate label with the given prefix.
func (g *Graph) NewStream(prefix string) Stream {
	s := Stream(fmt.Sprintf("[%s%d]", prefix, g.serial))
	g.serial++
	return s
}

// Add appends a chain to the graph.
func (g *Graph) Add(c Chain) {
	g.chains = append(g.chains, c)
}

// Chain is shorthand for a single-input single-output chain: it allocates
// the output label, adds the chain, and returns the new stream.
func (g *Graph) Chain(in Stream, prefix string, filters ...string) Stream {
	out := g.NewStream(prefix)
	g.Add(Chain{Inputs: []Stream{in}, Filters: filters, Outputs: []Stream{out}})
	return out
}

// String serializes the graph in filter_complex syntax: chains separated by
// semicolons, each as inputs, comma-joined filters, outputs.
func (g *Graph) String() string {
	parts := make([]string, 0, len(g.chains))
	for _, c := range g.chains {
		var b strings.Builder
		for _, in := range c.Inputs {
			b.WriteString(string(in))
		}
		b.WriteString(strings.Join(c.Filters, ","))
		for _, out := range c.Outputs {
			b.WriteString(string(out))
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ";")
}

// Empty reports whether the graph holds no chains.
func (g *Graph) Empty() bool {
	return len(g.chains) == 0
}
