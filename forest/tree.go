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

// Config fixes the shape of a tree at construction time.
type Config struct {
	// InputShape is the per-sample input shape without the batch
	// dimension, e.g. {features} or {C, H, W}. Higher-rank inputs are
	// flattened before scoring.
	InputShape tensor.Shape

	// Labels is the number of classes. Must be >= 2.
	Labels int

	// Depth is the tree depth. Must be > 0. A tree of depth D has
	// 2^(D+1) leaves and 2^(D+1)-1 internal decision nodes.
	Depth int

	// Dropout is the dropout rate of the default scorer, in [0, 1).
	Dropout float64
}

// Option configures a tree or forest.
type Option func(*options)

type options struct {
	name    string
	logger  *zap.Logger
	factory ScorerFactory
}

// WithName sets the name prefix for parameter nodes. Defaults to "tree"
// (or "forest" for forests, which name their trees "<name>/tree<i>").
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger for construction-time diagnostics at Debug
// level. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithScorerFactory replaces the default linear+sigmoid scorer. The
// factory runs once per tree so every tree stays independently
// parameterized.
func WithScorerFactory(f ScorerFactory) Option {
	return func(o *options) { o.factory = f }
}

// NeuralTree is a soft binary decision tree of fixed depth over a fixed
// feature width. It is a pure function of its input and its parameters:
// no state is carried between Forward calls.
type NeuralTree struct {
	cfg      Config
	name     string
	features int
	nLeafs   int
	levels   [][2]int // per-depth [start, end) ranges into the decision vector

	scorer Scorer
	weight *gorgonia.Node // (nLeafs, Labels) leaf class-distribution logits

	log *zap.Logger
}

// NewNeuralTree creates a tree with parameters registered in g.
//
// Returns ErrInvalidConfiguration for a non-positive depth, fewer than two
// labels, an empty input shape or a dropout outside [0, 1).
func NewNeuralTree(g *gorgonia.ExprGraph, cfg Config, opts ...Option) (*NeuralTree, error) {
	if cfg.Depth <= 0 {
		return nil, fmt.Errorf("%w: depth must be > 0, got %d", ErrInvalidConfiguration, cfg.Depth)
	}
	if cfg.Labels < 2 {
		return nil, fmt.Errorf("%w: labels must be >= 2, got %d", ErrInvalidConfiguration, cfg.Labels)
	}
	if len(cfg.InputShape) == 0 {
		return nil, fmt.Errorf("%w: empty input shape", ErrInvalidConfiguration)
	}
	features := 1
	for _, d := range cfg.InputShape {
		if d <= 0 {
			return nil, fmt.Errorf("%w: input shape %v has a non-positive dimension", ErrInvalidConfiguration, cfg.InputShape)
		}
		features *= d
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, fmt.Errorf("%w: dropout must be in [0, 1), got %g", ErrInvalidConfiguration, cfg.Dropout)
	}

	o := options{name: "tree", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	t := &NeuralTree{
		cfg:      cfg,
		name:     o.name,
		features: features,
		nLeafs:   1 << (cfg.Depth + 1),
		log:      o.logger,
	}

	// Decision nodes live in one flat (nLeafs-1)-wide vector; level k
	// holds the 2^k nodes at depth k, at prefix-summed offsets.
	t.levels = make([][2]int, cfg.Depth+1)
	for k := 0; k <= cfg.Depth; k++ {
		t.levels[k] = [2]int{1<<k - 1, 1<<(k+1) - 1}
	}

	var err error
	if o.factory != nil {
		t.scorer, err = o.factory(g, o.name, features, t.nLeafs-1)
	} else {
		t.scorer, err = newLinearScorer(g, o.name, features, t.nLeafs-1, cfg.Dropout)
	}
	if err != nil {
		return nil, err
	}

	t.weight = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(t.nLeafs, cfg.Labels),
		gorgonia.WithName(o.name+"/leafweight"),
		gorgonia.WithInit(gorgonia.Gaussian(0, 0.02)))

	t.log.Debug("neural tree",
		zap.String("name", o.name),
		zap.Int("features", features),
		zap.Int("labels", cfg.Labels),
		zap.Int("depth", cfg.Depth),
		zap.Int("leafs", t.nLeafs))
	return t, nil
}

// Forward routes a batch through the tree.
//
// x is (batch, features) or any higher-rank node with the same total
// per-sample size, which is flattened first. It returns the leaf
// reachability distribution (batch, nLeafs), whose rows are non-negative
// and sum to 1, and the class probabilities (batch, Labels). The decision
// node has no internal consumers, so its executed value can be read
// directly after a machine run.
func (t *NeuralTree) Forward(x *gorgonia.Node) (decision, predictions *gorgonia.Node, err error) {
	if x.Dims() > 2 {
		s := x.Shape()
		if x, err = gorgonia.Reshape(x, tensor.Shape{s[0], s.TotalSize() / s[0]}); err != nil {
			return nil, nil, fmt.Errorf("forest: flatten input %v: %w", s, err)
		}
	}
	if x.Dims() != 2 {
		return nil, nil, fmt.Errorf("%w: expected a 2D input, got shape %v", ErrShapeMismatch, x.Shape())
	}
	if x.Shape()[1] != t.features {
		return nil, nil, fmt.Errorf("%w: tree %q expects %d features, got %d",
			ErrShapeMismatch, t.name, t.features, x.Shape()[1])
	}
	batch := x.Shape()[0]

	resp, err := t.scorer.Score(x)
	if err != nil {
		return nil, nil, err
	}
	if resp.Dims() != 2 || resp.Shape()[0] != batch || resp.Shape()[1] != t.nLeafs-1 {
		return nil, nil, fmt.Errorf("%w: scorer of tree %q produced shape %v, want (%d, %d)",
			ErrShapeMismatch, t.name, resp.Shape(), batch, t.nLeafs-1)
	}

	decision, split, err := t.route(resp, batch)
	if err != nil {
		return nil, nil, err
	}
	predictions, err = t.predict(split, batch)
	if err != nil {
		return nil, nil, err
	}
	return decision, predictions, nil
}

// route turns the flat decision vector into the leaf reachability
// distribution. The running distribution holds the probability of reaching
// each node of the current level; every level k replaces each entry r,
// whose node has decision value q, by the adjacent pair (r*q, r*(1-q)).
// Each step partitions its parent's mass exactly, so the final
// (batch, nLeafs) rows sum to 1.
//
// It returns the distribution both flat (batch, nLeafs) and as the last
// sibling-pair tensor (batch, nLeafs/2, 2). predict consumes only the
// latter; the flat node stays unconsumed, so its executed value is
// readable after a machine run.
func (t *NeuralTree) route(resp *gorgonia.Node, batch int) (dist, split *gorgonia.Node, err error) {
	one := gorgonia.NewConstant(float32(1))

	// Root level: the 2-entry distribution (q0, 1-q0). A width-1 slice
	// drops its axis, so restore the (batch, 1) shape before concatenating.
	q0, err := gorgonia.Slice(resp, nil, gorgonia.S(0, 1))
	if err != nil {
		return nil, nil, err
	}
	if q0, err = gorgonia.Reshape(q0, tensor.Shape{batch, 1}); err != nil {
		return nil, nil, err
	}
	comp, err := gorgonia.Sub(one, q0)
	if err != nil {
		return nil, nil, err
	}
	dist, err = gorgonia.Concat(1, q0, comp) // (batch, 2)
	if err != nil {
		return nil, nil, err
	}

	for k := 1; k <= t.cfg.Depth; k++ {
		lo, hi := t.levels[k][0], t.levels[k][1]
		width := hi - lo // 2^k, matches the running distribution width

		q, err := gorgonia.Slice(resp, nil, gorgonia.S(lo, hi)) // (batch, 2^k)
		if err != nil {
			return nil, nil, err
		}
		right, err := gorgonia.HadamardProd(dist, q)
		if err != nil {
			return nil, nil, err
		}
		qc, err := gorgonia.Sub(one, q)
		if err != nil {
			return nil, nil, err
		}
		left, err := gorgonia.HadamardProd(dist, qc)
		if err != nil {
			return nil, nil, err
		}

		// Interleave (r*q, r*(1-q)) so both children of a node stay adjacent.
		r3, err := gorgonia.Reshape(right, tensor.Shape{batch, width, 1})
		if err != nil {
			return nil, nil, err
		}
		l3, err := gorgonia.Reshape(left, tensor.Shape{batch, width, 1})
		if err != nil {
			return nil, nil, err
		}
		split, err = gorgonia.Concat(2, r3, l3) // (batch, 2^k, 2)
		if err != nil {
			return nil, nil, err
		}
		if dist, err = gorgonia.Reshape(split, tensor.Shape{batch, 2 * width}); err != nil {
			return nil, nil, err
		}
	}
	return dist, split, nil
}

// predict mixes the softmax-normalized leaf class distributions by leaf
// reachability: (batch, nLeafs, 1) * (1, nLeafs, Labels), summed over the
// leaf axis. It works from the sibling-pair tensor so the flat decision
// node keeps no internal consumers.
func (t *NeuralTree) predict(split *gorgonia.Node, batch int) (*gorgonia.Node, error) {
	softW, err := gorgonia.SoftMax(t.weight, 1) // (nLeafs, Labels), rows sum to 1
	if err != nil {
		return nil, err
	}
	w3, err := gorgonia.Reshape(softW, tensor.Shape{1, t.nLeafs, t.cfg.Labels})
	if err != nil {
		return nil, err
	}
	d3, err := gorgonia.Reshape(split, tensor.Shape{batch, t.nLeafs, 1})
	if err != nil {
		return nil, err
	}
	weighted, err := gorgonia.BroadcastHadamardProd(d3, w3, []byte{2}, []byte{0})
	if err != nil {
		return nil, err
	}
	return gorgonia.Sum(weighted, 1) // (batch, Labels)
}

// Learnables returns the scorer parameters and the leaf weight.
func (t *NeuralTree) Learnables() gorgonia.Nodes {
	return append(t.scorer.Learnables(), t.weight)
}

// NamedLearnables returns the parameters keyed by node name, for
// snapshotting and diagnostics.
func (t *NeuralTree) NamedLearnables() map[string]*gorgonia.Node {
	named := make(map[string]*gorgonia.Node)
	for _, n := range t.Learnables() {
		named[n.Name()] = n
	}
	return named
}

// Name returns the tree name.
func (t *NeuralTree) Name() string { return t.name }

// Config returns the tree configuration.
func (t *NeuralTree) Config() Config { return t.cfg }

// Features returns the flattened input width the tree expects.
func (t *NeuralTree) Features() int { return t.features }

// NLeafs returns the number of leaves, 2^(Depth+1).
func (t *NeuralTree) NLeafs() int { return t.nLeafs }

// LeafWeight returns the (nLeafs, Labels) leaf class-distribution logits.
// Rows are softmax-normalized at use time.
func (t *NeuralTree) LeafWeight() *gorgonia.Node { return t.weight }
