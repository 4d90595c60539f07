// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/floats"
)

// DefaultBins is the default histogram bin count.
const DefaultBins = 46

// Histogram bins values into equally spaced bins between the minimum and
// maximum value. It returns the per-bin counts and the bins+1 edges.
// Degenerate inputs (empty, or a single distinct value) produce a single
// bin holding everything.
func Histogram(values []float32, bins int) (counts []int, edges []float64) {
	if bins <= 0 {
		bins = DefaultBins
	}
	if len(values) == 0 {
		return []int{0}, []float64{0, 1}
	}
	v64 := make([]float64, len(values))
	for i, v := range values {
		v64[i] = float64(v)
	}
	lo, hi := floats.Min(v64), floats.Max(v64)
	if lo == hi {
		return []int{len(values)}, []float64{lo, lo + 1}
	}

	counts = make([]int, bins)
	edges = make([]float64, bins+1)
	width := (hi - lo) / float64(bins)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	for _, v := range v64 {
		idx := int((v - lo) / width)
		if idx >= bins { // the maximum lands in the last bin
			idx = bins - 1
		}
		counts[idx]++
	}
	return counts, edges
}

// SaveHistogramPNG renders a bar histogram of values to a PNG file.
func SaveHistogramPNG(path, title string, values []float32, bins int) error {
	counts, edges := Histogram(values, bins)

	const width, height = 640, 420
	const marginX, marginTop, marginBottom = 40.0, 40.0, 50.0

	maxCount := 1
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(title, width/2, marginTop/2, 0.5, 0.5)

	plotW := float64(width) - 2*marginX
	plotH := float64(height) - marginTop - marginBottom
	barW := plotW / float64(len(counts))
	for i, c := range counts {
		h := plotH * float64(c) / float64(maxCount)
		x := marginX + float64(i)*barW
		y := marginTop + plotH - h
		dc.SetRGB(0.31, 0.48, 0.65)
		dc.DrawRectangle(x, y, barW-1, h)
		dc.Fill()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(fmt.Sprintf("%.4g", edges[0]), marginX, float64(height)-marginBottom/2, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.4g", edges[len(edges)-1]), float64(width)-marginX, float64(height)-marginBottom/2, 0.5, 0.5)

	return dc.SavePNG(path)
}

// SaveStateDictHistograms renders one histogram PNG per weight parameter
// into dir. Bias and normalization parameters are skipped, mirroring the
// filter of the original monitoring tool.
func SaveStateDictHistograms(sd StateDict, dir string, bins int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vis: create histogram dir: %w", err)
	}
	for name, d := range sd {
		if !isWeightParam(name) {
			continue
		}
		data, ok := d.Data().([]float32)
		if !ok {
			return fmt.Errorf("vis: parameter %q is not float32", name)
		}
		path := filepath.Join(dir, encodeParamName(name)+".png")
		if err := SaveHistogramPNG(path, name, data, bins); err != nil {
			return fmt.Errorf("vis: histogram for %q: %w", name, err)
		}
	}
	return nil
}

// isWeightParam keeps weight matrices and filters, skipping biases and
// normalization gammas/betas.
func isWeightParam(name string) bool {
	if !strings.Contains(name, "weight") {
		return false
	}
	for _, skip := range []string{"bias", "gamma", "beta"} {
		if strings.Contains(name, skip) {
			return false
		}
	}
	return true
}
