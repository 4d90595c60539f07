// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package forest

import (
	"fmt"

	"gorgonia.org/gorgonia"

	"github.com/canopy-ml/canopy/layers"
)

// Scorer produces the raw decision values of a tree: anything mapping a
// batch of flattened feature vectors (batch, features) to a batch of
// (batch, nLeafs-1) values bounded to [0, 1]. The bound is the scorer's
// contract; end the network in a sigmoid-like nonlinearity. CheckDecisions
// can verify executed values defensively.
type Scorer interface {
	// Score maps a (batch, features) node to a (batch, nLeafs-1) node.
	Score(x *gorgonia.Node) (*gorgonia.Node, error)

	// Learnables returns the trainable parameters of the scorer.
	Learnables() gorgonia.Nodes
}

// ScorerFactory builds one independently parameterized Scorer per tree.
// name is unique per tree and should prefix any parameter node names; in
// and out are the flattened input width and the required output width
// (nLeafs-1).
type ScorerFactory func(g *gorgonia.ExprGraph, name string, in, out int) (Scorer, error)

// linearScorer is the default scorer: linear + relu + dropout into
// linear + sigmoid + dropout, with a hidden width of (nLeafs+1)*4.
type linearScorer struct {
	net *layers.Sequential
}

func newLinearScorer(g *gorgonia.ExprGraph, name string, in, out int, dropout float64) (*linearScorer, error) {
	hidden := (out + 2) * 4 // (nLeafs+1)*4, out being nLeafs-1
	l0, err := layers.NewLinear(g, in, hidden, layers.ActivationReLU, dropout,
		layers.WithName(name+"/score0"))
	if err != nil {
		return nil, fmt.Errorf("forest: default scorer: %w", err)
	}
	l1, err := layers.NewLinear(g, hidden, out, layers.ActivationSigmoid, dropout,
		layers.WithName(name+"/score1"))
	if err != nil {
		return nil, fmt.Errorf("forest: default scorer: %w", err)
	}
	return &linearScorer{net: layers.NewSequential(name+"/score", l0, l1)}, nil
}

func (s *linearScorer) Score(x *gorgonia.Node) (*gorgonia.Node, error) {
	return s.net.Forward(x)
}

func (s *linearScorer) Learnables() gorgonia.Nodes {
	return s.net.Learnables()
}
