// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package forest

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// constScorer emits a fixed decision matrix regardless of input. Tests
// use it to pin the routing arithmetic to hand-computed values.
type constScorer struct {
	g    *gorgonia.ExprGraph
	vals *tensor.Dense
}

func (s *constScorer) Score(*gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.NodeFromAny(s.g, s.vals), nil
}

func (s *constScorer) Learnables() gorgonia.Nodes { return nil }

func constFactory(vals *tensor.Dense) ScorerFactory {
	return func(g *gorgonia.ExprGraph, name string, in, out int) (Scorer, error) {
		if vals.Shape()[1] != out {
			return nil, fmt.Errorf("const scorer has width %d, tree wants %d", vals.Shape()[1], out)
		}
		return &constScorer{g: g, vals: vals}, nil
	}
}

func runGraph(t *testing.T, g *gorgonia.ExprGraph) {
	t.Helper()
	m := gorgonia.NewTapeMachine(g)
	defer m.Close()
	require.NoError(t, m.RunAll())
}

func values(t *testing.T, n *gorgonia.Node) []float32 {
	t.Helper()
	v := n.Value()
	require.NotNil(t, v)
	data, ok := v.Data().([]float32)
	require.True(t, ok, "expected float32 data, got %T", v.Data())
	return data
}

func TestNeuralTreeRoutingDepthOne(t *testing.T) {
	// Depth 1: decisions (q0, q1, q2) = (0.7, 0.3, 0.9).
	// Root splits into (0.7, 0.3); the second level splits each side:
	//   leaf0 = 0.7*0.3, leaf1 = 0.7*0.7, leaf2 = 0.3*0.9, leaf3 = 0.3*0.1.
	resp := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{0.7, 0.3, 0.9}))

	g := gorgonia.NewGraph()
	tree, err := NewNeuralTree(g, Config{
		InputShape: tensor.Shape{3},
		Labels:     2,
		Depth:      1,
	}, WithScorerFactory(constFactory(resp)))
	require.NoError(t, err)

	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(1, 3), gorgonia.WithName("x"),
		gorgonia.WithInit(gorgonia.Zeroes()))
	decision, predictions, err := tree.Forward(x)
	require.NoError(t, err)

	// Uniform leaf distributions make the prediction uniform too.
	zeros := tensor.New(tensor.WithShape(4, 2), tensor.WithBacking(make([]float32, 8)))
	require.NoError(t, gorgonia.Let(tree.LeafWeight(), zeros))

	runGraph(t, g)

	want := []float32{0.21, 0.49, 0.27, 0.03}
	got := values(t, decision)
	require.Len(t, got, 4)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6, "leaf %d", i)
	}

	pred := values(t, predictions)
	require.Len(t, pred, 2)
	assert.InDelta(t, 0.5, pred[0], 1e-6)
	assert.InDelta(t, 0.5, pred[1], 1e-6)
}

func TestNeuralTreeDecisionRowsSumToOne(t *testing.T) {
	for _, depth := range []int{1, 2, 3, 4} {
		depth := depth
		t.Run(fmt.Sprintf("depth%d", depth), func(t *testing.T) {
			g := gorgonia.NewGraph()
			tree, err := NewNeuralTree(g, Config{
				InputShape: tensor.Shape{6},
				Labels:     3,
				Depth:      depth,
			})
			require.NoError(t, err)
			assert.Equal(t, 1<<(depth+1), tree.NLeafs())

			x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(5, 6),
				gorgonia.WithName("x"), gorgonia.WithInit(gorgonia.Gaussian(0, 1)))
			decision, predictions, err := tree.Forward(x)
			require.NoError(t, err)

			runGraph(t, g)

			require.NoError(t, CheckDecisions(decision.Value()))

			d := values(t, decision)
			nLeafs := tree.NLeafs()
			for row := 0; row < 5; row++ {
				var sum float64
				for _, v := range d[row*nLeafs : (row+1)*nLeafs] {
					require.GreaterOrEqual(t, float64(v), 0.0)
					sum += float64(v)
				}
				assert.InDelta(t, 1.0, sum, 1e-4, "row %d", row)
			}

			p := values(t, predictions)
			for row := 0; row < 5; row++ {
				var sum float64
				for _, v := range p[row*3 : (row+1)*3] {
					sum += float64(v)
				}
				assert.InDelta(t, 1.0, sum, 1e-4, "prediction row %d", row)
			}
		})
	}
}

func TestNeuralTreeFlattensHigherRankInput(t *testing.T) {
	g := gorgonia.NewGraph()
	tree, err := NewNeuralTree(g, Config{
		InputShape: tensor.Shape{2, 3, 3},
		Labels:     2,
		Depth:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, 18, tree.Features())

	x := gorgonia.NewTensor(g, tensor.Float32, 4, gorgonia.WithShape(4, 2, 3, 3),
		gorgonia.WithName("x"), gorgonia.WithInit(gorgonia.Gaussian(0, 1)))
	decision, predictions, err := tree.Forward(x)
	require.NoError(t, err)

	runGraph(t, g)
	assert.Equal(t, tensor.Shape{4, tree.NLeafs()}, decision.Shape())
	assert.Equal(t, tensor.Shape{4, 2}, predictions.Shape())
}

func TestNewNeuralTreeInvalidConfiguration(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero depth", Config{InputShape: tensor.Shape{4}, Labels: 2, Depth: 0}},
		{"negative depth", Config{InputShape: tensor.Shape{4}, Labels: 2, Depth: -1}},
		{"one label", Config{InputShape: tensor.Shape{4}, Labels: 1, Depth: 1}},
		{"empty shape", Config{InputShape: tensor.Shape{}, Labels: 2, Depth: 1}},
		{"zero dimension", Config{InputShape: tensor.Shape{4, 0}, Labels: 2, Depth: 1}},
		{"dropout one", Config{InputShape: tensor.Shape{4}, Labels: 2, Depth: 1, Dropout: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := gorgonia.NewGraph()
			_, err := NewNeuralTree(g, tc.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfiguration), "got %v", err)
		})
	}
}

func TestNeuralTreeForwardShapeMismatch(t *testing.T) {
	g := gorgonia.NewGraph()
	tree, err := NewNeuralTree(g, Config{InputShape: tensor.Shape{4}, Labels: 2, Depth: 1})
	require.NoError(t, err)

	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 7),
		gorgonia.WithName("x"), gorgonia.WithInit(gorgonia.Zeroes()))
	_, _, err = tree.Forward(x)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
}

func TestNeuralTreeLearnables(t *testing.T) {
	g := gorgonia.NewGraph()
	tree, err := NewNeuralTree(g, Config{InputShape: tensor.Shape{4}, Labels: 3, Depth: 2},
		WithName("t0"))
	require.NoError(t, err)

	// Two linear layers with bias plus the leaf weight.
	assert.Len(t, tree.Learnables(), 5)

	named := tree.NamedLearnables()
	lw, ok := named["t0/leafweight"]
	require.True(t, ok, "missing leaf weight, have %v", named)
	assert.Equal(t, tensor.Shape{tree.NLeafs(), 3}, lw.Shape())
	assert.Equal(t, "t0", tree.Name())
}

func TestNeuralTreeRowsAreIndependent(t *testing.T) {
	// Identical input rows must route identically: no cross-batch coupling.
	g := gorgonia.NewGraph()
	tree, err := NewNeuralTree(g, Config{InputShape: tensor.Shape{4}, Labels: 2, Depth: 2})
	require.NoError(t, err)

	row := []float32{0.5, -1.25, 2, 0.75}
	backing := append(append([]float32{}, row...), row...)
	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 4), gorgonia.WithName("x"))
	require.NoError(t, gorgonia.Let(x, tensor.New(tensor.WithShape(2, 4), tensor.WithBacking(backing))))

	decision, predictions, err := tree.Forward(x)
	require.NoError(t, err)

	runGraph(t, g)

	d := values(t, decision)
	nLeafs := tree.NLeafs()
	for i := 0; i < nLeafs; i++ {
		assert.InDelta(t, d[i], d[nLeafs+i], 1e-6, "leaf %d", i)
	}
	p := values(t, predictions)
	assert.InDelta(t, p[0], p[2], 1e-6)
	assert.InDelta(t, p[1], p[3], 1e-6)
}

func TestNeuralTreePredictionMixesLeafDistributions(t *testing.T) {
	// With decisions (0.7, 0.3, 0.9) the leaf reachabilities are
	// (0.21, 0.49, 0.27, 0.03). Strongly peaked leaf logits make each
	// leaf nearly one-hot, so the class mass approximates the summed
	// reachability per class.
	resp := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{0.7, 0.3, 0.9}))

	g := gorgonia.NewGraph()
	tree, err := NewNeuralTree(g, Config{InputShape: tensor.Shape{3}, Labels: 2, Depth: 1},
		WithScorerFactory(constFactory(resp)))
	require.NoError(t, err)

	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(1, 3),
		gorgonia.WithName("x"), gorgonia.WithInit(gorgonia.Zeroes()))
	_, predictions, err := tree.Forward(x)
	require.NoError(t, err)

	// Leaves 0 and 1 vote class 0, leaves 2 and 3 vote class 1.
	const hot = 20
	logits := tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float32{
		hot, 0,
		hot, 0,
		0, hot,
		0, hot,
	}))
	require.NoError(t, gorgonia.Let(tree.LeafWeight(), logits))

	runGraph(t, g)

	p := values(t, predictions)
	require.Len(t, p, 2)
	assert.InDelta(t, 0.21+0.49, p[0], 1e-4)
	assert.InDelta(t, 0.27+0.03, p[1], 1e-4)
	assert.False(t, math.IsNaN(float64(p[0])))
}
