// Package graph implements the small chunk-graph IR the scheduler reads
// out of a Subtask: a tagged variant of operator nodes, scheduled by
// tag rather than by dynamic dispatch.
package graph

import "github.com/khryptorgraphics/subtaskscheduler/pkg/chunk"

// Kind tags a Node's variant.
type Kind int

const (
	// Compute is an ordinary operator node; it contributes nothing to
	// locality scoring and is never among FetchSources.
	Compute Kind = iota
	// Fetch reads a single chunk from wherever it currently resides.
	Fetch
	// FetchShuffle reads a globally scattered shuffle input; locality
	// is meaningless for these, so the Assigner treats them specially.
	FetchShuffle
)

// Node is one vertex of a subtask's chunk graph. Only the fields the
// scheduler actually reads are modeled; operator-specific payloads that
// the worker runtime needs are out of scope here.
type Node struct {
	Kind Kind

	// GPU marks this node as requiring GPU execution. The Assigner
	// scans every node for this to derive the subtask's device class.
	GPU bool

	// Key names the chunk this node fetches. Only meaningful when
	// Kind is Fetch or FetchShuffle.
	Key chunk.Key

	// IsBroadcaster marks a Fetch chunk as a broadcast input: it
	// contributes zero to locality sizing, preventing pile-up on
	// bands that happen to hold a broadcast chunk.
	IsBroadcaster bool

	// Deps lists the indices (into the owning Graph's Nodes slice) of
	// this node's inputs. Source nodes (iter_indep) have no deps.
	Deps []int
}

// Graph is a small DAG of chunk operators.
type Graph struct {
	Nodes []Node
}

// IndepNodes returns the source nodes of the graph, those with no
// dependencies.
func (g Graph) IndepNodes() []Node {
	var out []Node
	for _, n := range g.Nodes {
		if len(n.Deps) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// HasGPUOperator reports whether any node in the graph requires GPU
// execution, which the Assigner uses to pick the subtask's device
// class.
func (g Graph) HasGPUOperator() bool {
	for _, n := range g.Nodes {
		if n.GPU {
			return true
		}
	}
	return false
}

// HasFetchShuffle reports whether the graph contains a FetchShuffle
// source, which forces a uniform-random band pick rather than
// locality-based placement.
func (g Graph) HasFetchShuffle() bool {
	for _, n := range g.IndepNodes() {
		if n.Kind == FetchShuffle {
			return true
		}
	}
	return false
}

// FetchSources returns the Fetch-kind source nodes of the graph: the
// inputs the Assigner's locality pass accumulates size over.
func (g Graph) FetchSources() []Node {
	var out []Node
	for _, n := range g.IndepNodes() {
		if n.Kind == Fetch {
			out = append(out, n)
		}
	}
	return out
}
