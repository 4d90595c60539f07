// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vis

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"gorgonia.org/tensor"
)

// maxKernelSamples caps how many kernels a grid renders.
const maxKernelSamples = 512

// kernelCellScale is the pixel magnification of one kernel cell.
const kernelCellScale = 8

// SaveKernelGridPNG renders the kernels of a 4D (out, in, kH, kW)
// convolution weight as an image grid. Each kernel is min-max normalized
// on its own. Kernels with 1 or 3 input channels render as gray/RGB
// tiles; any other channel count is split into per-channel gray tiles.
// Kernels smaller than 4x4 carry too little structure to look at and are
// rejected.
func SaveKernelGridPNG(path string, d *tensor.Dense) error {
	s := d.Shape()
	if len(s) != 4 {
		return fmt.Errorf("vis: kernel grid needs a 4D weight, got shape %v", s)
	}
	out, in, kh, kw := s[0], s[1], s[2], s[3]
	if kh < 4 || kw < 4 {
		return fmt.Errorf("vis: kernel grid needs kernels of at least 4x4, got %dx%d", kh, kw)
	}
	data, ok := d.Data().([]float32)
	if !ok {
		return fmt.Errorf("vis: kernel grid needs float32 weights, got %T", d.Data())
	}

	// Split into renderable tiles: (tile, channels, kh, kw).
	channels := in
	tiles := out
	if in != 1 && in != 3 {
		channels = 1
		tiles = out * in
	}
	if tiles > maxKernelSamples {
		tiles = maxKernelSamples
	}

	nrow := int(math.Ceil(math.Sqrt(float64(tiles))))
	if nrow < 4 {
		nrow = 4
	}
	ncol := (tiles + nrow - 1) / nrow

	const pad = 2
	cellW := kw*kernelCellScale + pad
	cellH := kh*kernelCellScale + pad
	dc := gg.NewContext(nrow*cellW+pad, ncol*cellH+pad)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	kernelSize := channels * kh * kw
	for t := 0; t < tiles; t++ {
		k := data[t*kernelSize : (t+1)*kernelSize]
		lo, hi := k[0], k[0]
		for _, v := range k {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		span := hi - lo + 1e-6

		x0 := float64(pad + (t%nrow)*cellW)
		y0 := float64(pad + (t/nrow)*cellH)
		for py := 0; py < kh; py++ {
			for px := 0; px < kw; px++ {
				var r, g, b float64
				if channels == 3 {
					r = float64((k[0*kh*kw+py*kw+px] - lo) / span)
					g = float64((k[1*kh*kw+py*kw+px] - lo) / span)
					b = float64((k[2*kh*kw+py*kw+px] - lo) / span)
				} else {
					v := float64((k[py*kw+px] - lo) / span)
					r, g, b = v, v, v
				}
				dc.SetRGB(r, g, b)
				dc.DrawRectangle(x0+float64(px*kernelCellScale), y0+float64(py*kernelCellScale),
					kernelCellScale, kernelCellScale)
				dc.Fill()
			}
		}
	}
	return dc.SavePNG(path)
}

// SaveStateDictKernels renders one kernel grid PNG per 4D weight with a
// kernel of at least 4x4, into dir. Parameters that are not convolution
// weights are skipped silently.
func SaveStateDictKernels(sd StateDict, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vis: create kernel dir: %w", err)
	}
	for name, d := range sd {
		s := d.Shape()
		if !isWeightParam(name) || len(s) != 4 || s[2] < 4 || s[3] < 4 {
			continue
		}
		path := filepath.Join(dir, encodeParamName(name)+".png")
		if err := SaveKernelGridPNG(path, d); err != nil {
			return fmt.Errorf("vis: kernel grid for %q: %w", name, err)
		}
	}
	return nil
}
