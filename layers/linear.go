// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package layers

import (
	"fmt"

	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Linear is a fully connected layer with a built-in activation and input
// dropout:
//
//	y = act(dropout(x) @ W + b)
//
// where x has shape (batch, in), W has shape (in, out) and b has shape
// (1, out). Weights use Glorot-uniform initialization, biases start at zero.
// Dropout is a graph operation: build a separate graph with dropout 0 for
// inference.
//
// Example:
//
//	fc, err := layers.NewLinear(g, 784, 128, "relu", 0.2)
//	y, err := fc.Forward(x) // (batch, 784) -> (batch, 128)
type Linear struct {
	name        string
	inFeatures  int
	outFeatures int
	activation  string
	dropout     float64
	w           *gorgonia.Node // (in, out)
	b           *gorgonia.Node // (1, out), nil when bias is disabled
}

// NewLinear creates a Linear layer with parameters registered in g.
//
// activation is one of the names accepted by Activation; dropout must lie
// in [0, 1).
func NewLinear(g *gorgonia.ExprGraph, inFeatures, outFeatures int, activation string, dropout float64, opts ...Option) (*Linear, error) {
	if inFeatures <= 0 || outFeatures <= 0 {
		return nil, fmt.Errorf("layers: Linear requires positive feature counts, got in=%d out=%d", inFeatures, outFeatures)
	}
	if !IsValidActivation(activation) {
		return nil, fmt.Errorf("layers: unknown activation %q", activation)
	}
	if dropout < 0 || dropout >= 1 {
		return nil, fmt.Errorf("layers: dropout must be in [0, 1), got %g", dropout)
	}
	o := newOptions("linear", opts...)

	l := &Linear{
		name:        o.name,
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		activation:  activation,
		dropout:     dropout,
	}
	l.w = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(inFeatures, outFeatures),
		gorgonia.WithName(o.name+"/weight"),
		gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	if o.bias {
		l.b = gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(1, outFeatures),
			gorgonia.WithName(o.name+"/bias"),
			gorgonia.WithInit(gorgonia.Zeroes()))
	}
	o.logger.Debug("linear layer",
		zap.String("name", o.name),
		zap.Int("in", inFeatures),
		zap.Int("out", outFeatures),
		zap.String("activation", activation),
		zap.Float64("dropout", dropout))
	return l, nil
}

// Forward computes act(dropout(x) @ W + b) for a (batch, in) input node.
func (l *Linear) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	if x.Dims() != 2 {
		return nil, fmt.Errorf("layers: Linear %q expects a 2D input, got shape %v", l.name, x.Shape())
	}
	if x.Shape()[1] != l.inFeatures {
		return nil, fmt.Errorf("layers: Linear %q expects %d input features, got %d", l.name, l.inFeatures, x.Shape()[1])
	}

	h := x
	var err error
	if l.dropout > 0 {
		if h, err = gorgonia.Dropout(h, l.dropout); err != nil {
			return nil, fmt.Errorf("layers: Linear %q dropout: %w", l.name, err)
		}
	}
	if h, err = gorgonia.Mul(h, l.w); err != nil {
		return nil, fmt.Errorf("layers: Linear %q matmul: %w", l.name, err)
	}
	if l.b != nil {
		if h, err = gorgonia.BroadcastAdd(h, l.b, nil, []byte{0}); err != nil {
			return nil, fmt.Errorf("layers: Linear %q bias: %w", l.name, err)
		}
	}
	return Activation(l.activation, h)
}

// Learnables returns [W, b], or [W] when bias is disabled.
func (l *Linear) Learnables() gorgonia.Nodes {
	if l.b != nil {
		return gorgonia.Nodes{l.w, l.b}
	}
	return gorgonia.Nodes{l.w}
}

// Name returns the module name.
func (l *Linear) Name() string { return l.name }

// InFeatures returns the expected input width.
func (l *Linear) InFeatures() int { return l.inFeatures }

// OutFeatures returns the output width.
func (l *Linear) OutFeatures() int { return l.outFeatures }

// Weight returns the weight node.
func (l *Linear) Weight() *gorgonia.Node { return l.w }

// Bias returns the bias node, or nil when bias is disabled.
func (l *Linear) Bias() *gorgonia.Node { return l.b }
