// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package forest

import (
	"fmt"

	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NeuralDecisionForest aggregates independently parameterized NeuralTrees
// with identical configuration. Trees share nothing but the input batch;
// their evaluation is sequential here, results combined by a mean.
type NeuralDecisionForest struct {
	trees []*NeuralTree
	log   *zap.Logger
}

// New creates a forest of nTrees trees with parameters registered in g.
// Every tree gets its own scorer and leaf weights.
func New(g *gorgonia.ExprGraph, cfg Config, nTrees int, opts ...Option) (*NeuralDecisionForest, error) {
	if nTrees < 1 {
		return nil, fmt.Errorf("%w: tree count must be >= 1, got %d", ErrInvalidConfiguration, nTrees)
	}
	o := options{name: "forest", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	trees := make([]*NeuralTree, nTrees)
	for i := range trees {
		treeOpts := []Option{
			WithName(fmt.Sprintf("%s/tree%d", o.name, i)),
			WithLogger(o.logger),
		}
		if o.factory != nil {
			treeOpts = append(treeOpts, WithScorerFactory(o.factory))
		}
		t, err := NewNeuralTree(g, cfg, treeOpts...)
		if err != nil {
			return nil, err
		}
		trees[i] = t
	}
	o.logger.Debug("neural decision forest",
		zap.String("name", o.name),
		zap.Int("trees", nTrees),
		zap.Int("labels", cfg.Labels),
		zap.Int("depth", cfg.Depth))
	return &NeuralDecisionForest{trees: trees, log: o.logger}, nil
}

// FromTrees aggregates existing trees into a forest. All trees must agree
// on label count and depth; a divergence fails with
// ErrConfigurationMismatch.
func FromTrees(trees ...*NeuralTree) (*NeuralDecisionForest, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("%w: a forest needs at least one tree", ErrInvalidConfiguration)
	}
	first := trees[0].Config()
	for _, t := range trees[1:] {
		cfg := t.Config()
		if cfg.Labels != first.Labels || cfg.Depth != first.Depth {
			return nil, fmt.Errorf("%w: tree %q has labels=%d depth=%d, want labels=%d depth=%d",
				ErrConfigurationMismatch, t.Name(), cfg.Labels, cfg.Depth, first.Labels, first.Depth)
		}
		if t.Features() != trees[0].Features() {
			return nil, fmt.Errorf("%w: tree %q expects %d features, want %d",
				ErrConfigurationMismatch, t.Name(), t.Features(), trees[0].Features())
		}
	}
	return &NeuralDecisionForest{trees: trees, log: zap.NewNop()}, nil
}

// Forward runs every tree on the same batch.
//
// It returns the per-tree leaf decisions concatenated along the leaf axis
// and subsampled to every other entry (one branch side kept as
// representative), and the class log-probabilities (batch, Labels): the
// natural log of the per-tree class probabilities averaged across trees.
func (f *NeuralDecisionForest) Forward(x *gorgonia.Node) (decisions, logProbs *gorgonia.Node, err error) {
	nLeafs := f.trees[0].NLeafs()
	labels := f.trees[0].Config().Labels

	ds := make([]*gorgonia.Node, 0, len(f.trees))
	ps := make([]*gorgonia.Node, 0, len(f.trees))
	var batch int
	for _, t := range f.trees {
		d, p, err := t.Forward(x)
		if err != nil {
			return nil, nil, err
		}
		batch = d.Shape()[0]
		p3, err := gorgonia.Reshape(p, tensor.Shape{batch, labels, 1})
		if err != nil {
			return nil, nil, err
		}
		ds = append(ds, d)
		ps = append(ps, p3)
	}

	decisions = ds[0]
	if len(ds) > 1 {
		if decisions, err = gorgonia.Concat(1, ds...); err != nil {
			return nil, nil, fmt.Errorf("forest: concat decisions: %w", err)
		}
	}
	// Keep one branch side per decision pair as representative.
	total := len(f.trees) * nLeafs
	if decisions, err = gorgonia.Slice(decisions, nil, gorgonia.S(0, total, 2)); err != nil {
		return nil, nil, fmt.Errorf("forest: subsample decisions: %w", err)
	}

	stacked := ps[0]
	if len(ps) > 1 {
		if stacked, err = gorgonia.Concat(2, ps...); err != nil {
			return nil, nil, fmt.Errorf("forest: stack predictions: %w", err)
		}
	}
	mean, err := gorgonia.Mean(stacked, 2) // (batch, Labels)
	if err != nil {
		return nil, nil, fmt.Errorf("forest: average predictions: %w", err)
	}
	if logProbs, err = gorgonia.Log(mean); err != nil {
		return nil, nil, fmt.Errorf("forest: log predictions: %w", err)
	}
	return decisions, logProbs, nil
}

// Learnables returns the parameters of every tree.
func (f *NeuralDecisionForest) Learnables() gorgonia.Nodes {
	var params gorgonia.Nodes
	for _, t := range f.trees {
		params = append(params, t.Learnables()...)
	}
	return params
}

// NamedLearnables returns the parameters of every tree keyed by node name.
func (f *NeuralDecisionForest) NamedLearnables() map[string]*gorgonia.Node {
	named := make(map[string]*gorgonia.Node)
	for _, t := range f.trees {
		for name, n := range t.NamedLearnables() {
			named[name] = n
		}
	}
	return named
}

// Trees returns the underlying trees in order.
func (f *NeuralDecisionForest) Trees() []*NeuralTree { return f.trees }
