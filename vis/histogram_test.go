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
	"gorgonia.org/tensor"
)

func TestHistogramBinning(t *testing.T) {
	counts, edges := Histogram([]float32{0, 1, 2, 3}, 2)
	assert.Equal(t, []int{2, 2}, counts)
	require.Len(t, edges, 3)
	assert.InDelta(t, 0, edges[0], 1e-9)
	assert.InDelta(t, 1.5, edges[1], 1e-9)
	assert.InDelta(t, 3, edges[2], 1e-9)
}

func TestHistogramDegenerateInputs(t *testing.T) {
	counts, _ := Histogram(nil, 10)
	assert.Equal(t, []int{0}, counts)

	counts, _ = Histogram([]float32{2, 2, 2}, 10)
	assert.Equal(t, []int{3}, counts)
}

func TestHistogramDefaultBins(t *testing.T) {
	values := make([]float32, 1000)
	for i := range values {
		values[i] = float32(i)
	}
	counts, edges := Histogram(values, 0)
	assert.Len(t, counts, DefaultBins)
	assert.Len(t, edges, DefaultBins+1)

	total := 0
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, len(values), total)
}

func TestSaveStateDictHistograms(t *testing.T) {
	sd := StateDict{
		"fc/weight": tensor.New(tensor.WithShape(4, 4),
			tensor.WithBacking([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})),
		"fc/bias": tensor.New(tensor.WithShape(1, 4),
			tensor.WithBacking([]float32{0, 0, 0, 0})),
		"conv/gamma": tensor.New(tensor.WithShape(1, 4, 1, 1),
			tensor.WithBacking([]float32{1, 1, 1, 1})),
	}
	dir := t.TempDir()
	require.NoError(t, SaveStateDictHistograms(sd, dir, 8))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the weight should be plotted")
	assert.Equal(t, "fc__weight.png", entries[0].Name())

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSaveKernelGridPNG(t *testing.T) {
	// 8 kernels of 3 channels, 5x5.
	data := make([]float32, 8*3*5*5)
	for i := range data {
		data[i] = float32(i%17) - 8
	}
	d := tensor.New(tensor.WithShape(8, 3, 5, 5), tensor.WithBacking(data))

	path := filepath.Join(t.TempDir(), "kernels.png")
	require.NoError(t, SaveKernelGridPNG(path, d))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSaveKernelGridRejectsSmallKernels(t *testing.T) {
	d := tensor.New(tensor.WithShape(4, 1, 3, 3), tensor.WithBacking(make([]float32, 36)))
	err := SaveKernelGridPNG(filepath.Join(t.TempDir(), "k.png"), d)
	assert.Error(t, err)

	flat := tensor.New(tensor.WithShape(4, 9), tensor.WithBacking(make([]float32, 36)))
	err = SaveKernelGridPNG(filepath.Join(t.TempDir(), "k.png"), flat)
	assert.Error(t, err)
}

func TestSaveStateDictKernelsFilters(t *testing.T) {
	sd := StateDict{
		// Renderable: 4D weight with 5x5 kernels.
		"conv/weight": tensor.New(tensor.WithShape(2, 1, 5, 5),
			tensor.WithBacking(make([]float32, 50))),
		// Skipped: pointwise kernels and 2D weights.
		"proj/weight": tensor.New(tensor.WithShape(4, 4, 1, 1),
			tensor.WithBacking(make([]float32, 16))),
		"fc/weight": tensor.New(tensor.WithShape(4, 4),
			tensor.WithBacking(make([]float32, 16))),
	}
	dir := t.TempDir()
	require.NoError(t, SaveStateDictKernels(sd, dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "conv__weight.png", entries[0].Name())
}
