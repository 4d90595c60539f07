// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vis

import (
	"fmt"
	"sort"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// GradientStats summarizes the absolute gradient of one parameter.
type GradientStats struct {
	Name   string
	Min    float64
	Q25    float64
	Median float64
	Q75    float64
	Max    float64
	Mean   float64
}

// CollectGradients reads the current gradients of the weight parameters
// and summarizes their absolute values. Parameters whose name does not
// mark them as a weight, or that have no gradient yet, are skipped.
// Results come back sorted by name.
func CollectGradients(params map[string]*gorgonia.Node) ([]GradientStats, error) {
	var all []GradientStats
	for name, n := range params {
		if !isWeightParam(name) {
			continue
		}
		gv, err := n.Grad()
		if err != nil || gv == nil {
			continue
		}
		d, ok := gv.(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("vis: gradient of %q is not a dense tensor (%T)", name, gv)
		}
		data, ok := d.Data().([]float32)
		if !ok {
			return nil, fmt.Errorf("vis: gradient of %q is not float32", name)
		}
		if len(data) == 0 {
			continue
		}
		abs := make([]float64, len(data))
		for i, v := range data {
			if v < 0 {
				v = -v
			}
			abs[i] = float64(v)
		}
		sort.Float64s(abs)
		all = append(all, GradientStats{
			Name:   name,
			Min:    abs[0],
			Q25:    stat.Quantile(0.25, stat.Empirical, abs, nil),
			Median: stat.Quantile(0.5, stat.Empirical, abs, nil),
			Q75:    stat.Quantile(0.75, stat.Empirical, abs, nil),
			Max:    abs[len(abs)-1],
			Mean:   stat.Mean(abs, nil),
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

// SaveGradientPlotPNG renders one box per parameter: whiskers at min/max,
// box between the quartiles, a line at the median. A training loop calls
// this after backprop to spot vanishing or exploding layers.
func SaveGradientPlotPNG(path string, stats []GradientStats) error {
	if len(stats) == 0 {
		return fmt.Errorf("vis: no gradient statistics to plot")
	}

	const width, height = 900, 480
	const marginX, marginTop, marginBottom = 60.0, 40.0, 120.0

	maxVal := 0.0
	for _, s := range stats {
		if s.Max > maxVal {
			maxVal = s.Max
		}
	}
	if maxVal == 0 {
		maxVal = 1
	}

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored("absolute gradients", width/2, marginTop/2, 0.5, 0.5)

	plotW := float64(width) - 2*marginX
	plotH := float64(height) - marginTop - marginBottom
	slotW := plotW / float64(len(stats))
	boxW := slotW * 0.4

	y := func(v float64) float64 { return marginTop + plotH*(1-v/maxVal) }

	for i, s := range stats {
		cx := marginX + (float64(i)+0.5)*slotW

		dc.SetRGB(0.2, 0.2, 0.2)
		dc.DrawLine(cx, y(s.Min), cx, y(s.Max))
		dc.Stroke()

		dc.SetRGB(0.31, 0.48, 0.65)
		dc.DrawRectangle(cx-boxW/2, y(s.Q75), boxW, y(s.Q25)-y(s.Q75))
		dc.Fill()

		dc.SetRGB(0.85, 0.33, 0.1)
		dc.DrawLine(cx-boxW/2, y(s.Median), cx+boxW/2, y(s.Median))
		dc.Stroke()

		dc.SetRGB(0, 0, 0)
		dc.Push()
		dc.RotateAbout(-gg.Radians(60), cx, float64(height)-marginBottom+10)
		dc.DrawStringAnchored(s.Name, cx, float64(height)-marginBottom+10, 0, 0.5)
		dc.Pop()
	}
	return dc.SavePNG(path)
}
