package tree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids[T any](branches []*Branch[T]) []int64 {
	out := make([]int64, 0, len(branches))
	for _, b := range branches {
		out = append(out, b.ID)
	}
	return out
}

func TestBuildNestsChain(t *testing.T) {
	nodes := []testNode{
		{id: 3, parent: ptr(2), scope: 1},
		{id: 1, scope: 1},
		{id: 2, parent: ptr(1), scope: 1},
	}
	forest := Build(nodes, testRef)

	require.Len(t, forest, 1)
	a := forest[0]
	assert.Equal(t, int64(1), a.ID)
	require.Len(t, a.Children, 1)
	b := a.Children[0]
	assert.Equal(t, int64(2), b.ID)
	assert.Equal(t, 1, b.Depth)
	require.Len(t, b.Children, 1)
	c := b.Children[0]
	assert.Equal(t, int64(3), c.ID)
	assert.Equal(t, 2, c.Depth)
	assert.Empty(t, c.Children)
}

func TestBuildOrdersSiblingsByID(t *testing.T) {
	nodes := []testNode{
		{id: 9, scope: 1},
		{id: 4, parent: ptr(2), scope: 1},
		{id: 2, scope: 1},
		{id: 8, parent: ptr(2), scope: 1},
		{id: 5, parent: ptr(2), scope: 1},
	}
	forest := Build(nodes, testRef)

	assert.Equal(t, []int64{2, 9}, ids(forest))
	assert.Equal(t, []int64{4, 5, 8}, ids(forest[0].Children))
}

func TestBuildPromotesNodesWithParentOutsideCollection(t *testing.T) {
	nodes := []testNode{
		{id: 5, parent: ptr(100), scope: 1},
		{id: 6, parent: ptr(5), scope: 1},
		{id: 2, scope: 1},
	}
	forest := Build(nodes, testRef)

	assert.Equal(t, []int64{2, 5}, ids(forest))
	assert.Equal(t, []int64{6}, ids(forest[1].Children))
}

func TestBuildSurvivesStoredCycles(t *testing.T) {
	nodes := []testNode{
		{id: 1, parent: ptr(2), scope: 1},
		{id: 2, parent: ptr(1), scope: 1},
		{id: 3, parent: ptr(3), scope: 1},
		{id: 4, scope: 1},
	}
	forest := Build(nodes, testRef)

	assert.Equal(t, 4, forest.Len())
	assert.Equal(t, []int64{3, 4, 1}, ids(forest))
	assert.Equal(t, []int64{2}, ids(forest[2].Children))
}

func TestBuildHandlesDeepChains(t *testing.T) {
	const depth = 5000
	nodes := make([]testNode, 0, depth)
	for i := int64(1); i <= depth; i++ {
		n := testNode{id: i, scope: 1}
		if i > 1 {
			n.parent = ptr(i - 1)
		}
		nodes = append(nodes, n)
	}
	forest := Build(nodes, testRef)

	require.Len(t, forest, 1)
	assert.Equal(t, depth, forest.Len())
	deepest := forest.Find(depth)
	require.NotNil(t, deepest)
	assert.Equal(t, depth-1, deepest.Depth)
}

func TestBuildEmpty(t *testing.T) {
	forest := Build[testNode](nil, testRef)
	assert.NotNil(t, forest)
	assert.Empty(t, forest)
}

func TestForestHelpers(t *testing.T) {
	nodes := []testNode{
		{id: 1, scope: 1},
		{id: 2, parent: ptr(1), scope: 1},
		{id: 3, parent: ptr(2), scope: 1},
		{id: 4, parent: ptr(1), scope: 1},
		{id: 5, scope: 1},
	}
	forest := Build(nodes, testRef)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(forest.Flatten()))
	assert.Nil(t, forest.Find(42))

	var below []int64
	for _, n := range forest.Descendants(1) {
		below = append(below, n.id)
	}
	assert.Equal(t, []int64{2, 3, 4}, below)
	assert.Empty(t, forest.Descendants(5))
}

func TestLinkMap(t *testing.T) {
	nodes := []testNode{
		{id: 1, scope: 1},
		{id: 2, parent: ptr(1), scope: 1},
		{id: 3, scope: 1},
	}
	links := LinkMap(Build(nodes, testRef), func(n testNode) string {
		return "/c/" + strings.Repeat("x", int(n.id))
	})

	assert.Equal(t, map[string]any{
		"1": map[string]any{
			"url": "/c/x",
			"childrenUrl": map[string]any{
				"2": map[string]any{"url": "/c/xx"},
			},
		},
		"3": map[string]any{"url": "/c/xxx"},
	}, links)
}

func TestRenderDrawsEveryNodeInOrder(t *testing.T) {
	nodes := []testNode{
		{id: 1, scope: 1, name: "alpha"},
		{id: 2, parent: ptr(1), scope: 1, name: "beta"},
		{id: 3, parent: ptr(2), scope: 1, name: "gamma"},
		{id: 4, scope: 1, name: "delta"},
	}
	out := Render(Build(nodes, testRef), func(n testNode) string { return n.name }, 2)

	for _, label := range []string{"alpha", "beta", "gamma", "delta"} {
		assert.Contains(t, out, label)
	}
	assert.Less(t, strings.Index(out, "alpha"), strings.Index(out, "beta"))
	assert.Less(t, strings.Index(out, "beta"), strings.Index(out, "gamma"))
	assert.Less(t, strings.Index(out, "gamma"), strings.Index(out, "delta"))
	assert.Empty(t, Render(Forest[testNode]{}, func(n testNode) string { return n.name }, 0))
}
