// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package vis provides training diagnostics for Canopy models: parameter
// snapshots on disk, weight histograms, convolution-kernel image grids,
// gradient summaries and decision-tree renderings.
//
// Snapshots are directories of NumPy .npy files, one per parameter, so
// they interoperate with Python tooling. Plots are rendered offline to
// PNG (fogleman/gg) and tree topologies to PNG/SVG/JPG (go-graphviz);
// there is no plot server.
package vis
