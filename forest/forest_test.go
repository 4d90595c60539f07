// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package forest

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestForestAveragesIdenticalTrees(t *testing.T) {
	// Three trees with identical fixed decisions and identical uniform
	// leaf distributions must predict exactly what one tree predicts.
	resp := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{0.7, 0.3, 0.9}))

	g := gorgonia.NewGraph()
	f, err := New(g, Config{InputShape: tensor.Shape{3}, Labels: 2, Depth: 1}, 3,
		WithScorerFactory(constFactory(resp)))
	require.NoError(t, err)
	require.Len(t, f.Trees(), 3)

	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(1, 3),
		gorgonia.WithName("x"), gorgonia.WithInit(gorgonia.Zeroes()))
	decisions, logProbs, err := f.Forward(x)
	require.NoError(t, err)

	for _, tree := range f.Trees() {
		zeros := tensor.New(tensor.WithShape(4, 2), tensor.WithBacking(make([]float32, 8)))
		require.NoError(t, gorgonia.Let(tree.LeafWeight(), zeros))
	}

	runGraph(t, g)

	// Per tree the leaves are (0.21, 0.49, 0.27, 0.03); the forest keeps
	// every other entry of the concatenation.
	want := []float32{0.21, 0.27, 0.21, 0.27, 0.21, 0.27}
	got := values(t, decisions)
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6, "entry %d", i)
	}

	// Uniform trees average to uniform; the output is its log.
	lp := values(t, logProbs)
	require.Len(t, lp, 2)
	wantLog := float32(math.Log(0.5))
	assert.InDelta(t, wantLog, lp[0], 1e-5)
	assert.InDelta(t, wantLog, lp[1], 1e-5)
}

func TestForestSingleTreeMatchesTree(t *testing.T) {
	g := gorgonia.NewGraph()
	tree, err := NewNeuralTree(g, Config{InputShape: tensor.Shape{5}, Labels: 3, Depth: 2},
		WithName("solo"))
	require.NoError(t, err)
	f, err := FromTrees(tree)
	require.NoError(t, err)

	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(4, 5),
		gorgonia.WithName("x"), gorgonia.WithInit(gorgonia.Gaussian(0, 1)))
	decisions, logProbs, err := f.Forward(x)
	require.NoError(t, err)

	runGraph(t, g)

	assert.Equal(t, tensor.Shape{4, tree.NLeafs() / 2}, decisions.Shape())
	assert.Equal(t, tensor.Shape{4, 3}, logProbs.Shape())

	// Log-probabilities exponentiate back to a distribution.
	lp := values(t, logProbs)
	for row := 0; row < 4; row++ {
		var sum float64
		for _, v := range lp[row*3 : (row+1)*3] {
			sum += math.Exp(float64(v))
		}
		assert.InDelta(t, 1.0, sum, 1e-4, "row %d", row)
	}
}

func TestForestTreesAreIndependentlyParameterized(t *testing.T) {
	g := gorgonia.NewGraph()
	f, err := New(g, Config{InputShape: tensor.Shape{4}, Labels: 2, Depth: 1}, 2,
		WithName("f"))
	require.NoError(t, err)

	named := f.NamedLearnables()
	_, ok0 := named["f/tree0/leafweight"]
	_, ok1 := named["f/tree1/leafweight"]
	assert.True(t, ok0 && ok1, "per-tree parameters missing, have %v", named)

	// 2 trees x (2 linear layers with bias + leaf weight).
	assert.Len(t, f.Learnables(), 10)
}

func TestNewForestInvalidTreeCount(t *testing.T) {
	g := gorgonia.NewGraph()
	_, err := New(g, Config{InputShape: tensor.Shape{4}, Labels: 2, Depth: 1}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration), "got %v", err)
}

func TestFromTreesConfigurationMismatch(t *testing.T) {
	g := gorgonia.NewGraph()
	a, err := NewNeuralTree(g, Config{InputShape: tensor.Shape{4}, Labels: 2, Depth: 1}, WithName("a"))
	require.NoError(t, err)
	b, err := NewNeuralTree(g, Config{InputShape: tensor.Shape{4}, Labels: 3, Depth: 1}, WithName("b"))
	require.NoError(t, err)
	c, err := NewNeuralTree(g, Config{InputShape: tensor.Shape{4}, Labels: 2, Depth: 2}, WithName("c"))
	require.NoError(t, err)
	d, err := NewNeuralTree(g, Config{InputShape: tensor.Shape{6}, Labels: 2, Depth: 1}, WithName("d"))
	require.NoError(t, err)

	for _, other := range []*NeuralTree{b, c, d} {
		_, err := FromTrees(a, other)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfigurationMismatch), "tree %q: got %v", other.Name(), err)
	}

	_, err = FromTrees()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration), "got %v", err)
}
