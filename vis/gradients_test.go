// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestCollectGradients(t *testing.T) {
	// loss = sum(w * x): dloss/dw = x, so the gradient is known exactly.
	g := gorgonia.NewGraph()
	w := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 2),
		gorgonia.WithName("fc/weight"), gorgonia.WithInit(gorgonia.Ones()))
	x := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(2, 2), gorgonia.WithName("x"))
	require.NoError(t, gorgonia.Let(x, tensor.New(tensor.WithShape(2, 2),
		tensor.WithBacking([]float32{-1, 2, -3, 4}))))

	prod, err := gorgonia.HadamardProd(w, x)
	require.NoError(t, err)
	loss, err := gorgonia.Sum(prod)
	require.NoError(t, err)
	_, err = gorgonia.Grad(loss, w)
	require.NoError(t, err)

	m := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(w))
	defer m.Close()
	require.NoError(t, m.RunAll())

	stats, err := CollectGradients(map[string]*gorgonia.Node{
		"fc/weight": w,
		"fc/bias":   x, // filtered by name
	})
	require.NoError(t, err)
	require.Len(t, stats, 1)

	s := stats[0]
	assert.Equal(t, "fc/weight", s.Name)
	assert.InDelta(t, 1, s.Min, 1e-6)
	assert.InDelta(t, 4, s.Max, 1e-6)
	assert.InDelta(t, 2.5, s.Mean, 1e-6)
	assert.GreaterOrEqual(t, s.Q75, s.Median)
	assert.GreaterOrEqual(t, s.Median, s.Q25)
}

func TestSaveGradientPlotPNG(t *testing.T) {
	stats := []GradientStats{
		{Name: "a/weight", Min: 0.01, Q25: 0.02, Median: 0.05, Q75: 0.1, Max: 0.4, Mean: 0.08},
		{Name: "b/weight", Min: 0.001, Q25: 0.01, Median: 0.02, Q75: 0.03, Max: 0.09, Mean: 0.02},
	}
	path := filepath.Join(t.TempDir(), "grads.png")
	require.NoError(t, SaveGradientPlotPNG(path, stats))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, SaveGradientPlotPNG(path, nil))
}
