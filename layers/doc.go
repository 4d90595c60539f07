// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package layers provides differentiable building blocks for the Canopy
// model library.
//
// Every layer is a graph builder on top of gorgonia: it owns its parameter
// nodes inside a *gorgonia.ExprGraph and Forward composes operation nodes
// for one evaluation of the layer. Layers carry no hidden state between
// calls; all mutable state lives in the parameter values, which are updated
// by an external solver during training.
//
//   - Linear: optional input dropout, affine transform, named activation
//   - Convolution: 2D convolution with optional batch normalization,
//     activation and nearest-neighbor upsampling
//   - ResidualInverted: the MobileNetV2 inverted-residual block
//   - Sequential: chains modules
//
// Example:
//
//	g := gorgonia.NewGraph()
//	fc, err := layers.NewLinear(g, 64, 10, "relu", 0.2)
//	if err != nil { ... }
//	y, err := fc.Forward(x) // x: (batch, 64) node in g
package layers
