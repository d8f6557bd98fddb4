package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/graph"
)

func TestHasGPUOperator(t *testing.T) {
	g := graph.Graph{Nodes: []graph.Node{
		{Kind: graph.Compute},
		{Kind: graph.Compute, GPU: true},
	}}
	assert.True(t, g.HasGPUOperator())

	g2 := graph.Graph{Nodes: []graph.Node{{Kind: graph.Compute}}}
	assert.False(t, g2.HasGPUOperator())
}

func TestHasFetchShuffleOnlyConsidersSources(t *testing.T) {
	g := graph.Graph{Nodes: []graph.Node{
		{Kind: graph.FetchShuffle},
		{Kind: graph.Compute, Deps: []int{0}},
	}}
	assert.True(t, g.HasFetchShuffle())

	notSource := graph.Graph{Nodes: []graph.Node{
		{Kind: graph.Fetch},
		{Kind: graph.FetchShuffle, Deps: []int{0}},
	}}
	assert.False(t, notSource.HasFetchShuffle())
}

func TestFetchSourcesExcludesNonSourceAndNonFetch(t *testing.T) {
	g := graph.Graph{Nodes: []graph.Node{
		{Kind: graph.Fetch, Key: "k1"},
		{Kind: graph.Compute},
		{Kind: graph.Fetch, Key: "k2", Deps: []int{1}},
	}}
	sources := g.FetchSources()
	assert.Len(t, sources, 1)
	assert.Equal(t, graph.Node{Kind: graph.Fetch, Key: "k1"}, sources[0])
}

func TestIndepNodes(t *testing.T) {
	g := graph.Graph{Nodes: []graph.Node{
		{Kind: graph.Fetch, Key: "k1"},
		{Kind: graph.Compute, Deps: []int{0}},
	}}
	indep := g.IndepNodes()
	assert.Len(t, indep, 1)
	assert.Equal(t, "k1", string(indep[0].Key))
}
