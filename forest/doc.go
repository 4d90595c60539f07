// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package forest implements differentiable decision forests: soft binary
// decision trees whose routing is expressed as dense tensor operations, so
// the whole classifier trains end to end by gradient descent.
//
// A NeuralTree routes each sample through a full binary tree of a fixed
// depth. An internal scoring network produces one value in [0, 1] per
// internal node, read as the probability of taking the right branch there.
// The probability of a sample reaching a leaf is the product of the branch
// probabilities along its path, accumulated level by level without ever
// materializing the tree as an object graph. Each leaf holds a learned
// class distribution; the tree's prediction is the reachability-weighted
// mixture of the leaf distributions.
//
// A NeuralDecisionForest owns several independently parameterized trees
// over the same input contract and averages their class probabilities,
// returning log probabilities suitable for a negative-log-likelihood loss.
//
// The routing design follows Deep Neural Decision Forests
// (https://ieeexplore.ieee.org/document/7410529).
//
// Example:
//
//	g := gorgonia.NewGraph()
//	f, err := forest.New(g, forest.Config{
//		InputShape: tensor.Shape{64},
//		Labels:     10,
//		Depth:      4,
//		Dropout:    0.2,
//	}, 8)
//	if err != nil { ... }
//	decisions, logProbs, err := f.Forward(x) // x: (batch, 64)
package forest
