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

// ResidualConfig describes a ResidualInverted block.
type ResidualConfig struct {
	// InShape is the input shape without the batch dimension: (C, H, W).
	InShape tensor.Shape

	// Channels is the number of output channels.
	Channels int

	// Stride is the stride of the spatial convolution.
	Stride int

	// Expansion is the channel multiplier t of the bottleneck. With
	// Expansion 1 the expand stage is skipped.
	Expansion int

	// Activation used by the expand and spatial stages. The projection
	// stage is linear.
	Activation string

	// Normalization is "" or NormBatch, applied in every stage.
	Normalization string

	// PreNM flips each stage to normalization -> activation -> convolution.
	PreNM bool
}

// ResidualInverted is the MobileNetV2 inverted-residual bottleneck:
// a 1x1 expansion, a 3x3 spatial convolution and a linear 1x1 projection,
// with an identity skip when the stride is 1 and the channel count is
// unchanged.
//
// The spatial stage uses a dense 3x3 convolution rather than a depthwise
// one; see the package documentation.
type ResidualInverted struct {
	name     string
	cfg      ResidualConfig
	expand   *Convolution // nil when Expansion == 1
	spatial  *Convolution
	project  *Convolution
	skip     bool
	outShape tensor.Shape
}

// NewResidualInverted creates the block with parameters registered in g.
func NewResidualInverted(g *gorgonia.ExprGraph, cfg ResidualConfig, opts ...Option) (*ResidualInverted, error) {
	if len(cfg.InShape) != 3 {
		return nil, fmt.Errorf("layers: ResidualInverted requires a (C, H, W) input shape, got %v", cfg.InShape)
	}
	if cfg.Expansion <= 0 {
		return nil, fmt.Errorf("layers: ResidualInverted requires a positive expansion, got %d", cfg.Expansion)
	}
	o := newOptions("residual", opts...)

	r := &ResidualInverted{name: o.name, cfg: cfg}
	inC := cfg.InShape[0]
	shape := cfg.InShape
	var err error

	if cfg.Expansion > 1 {
		r.expand, err = NewConvolution(g, ConvConfig{
			InShape:       shape,
			Kernel:        1,
			Channels:      inC * cfg.Expansion,
			Stride:        1,
			Pad:           true,
			Activation:    cfg.Activation,
			Normalization: cfg.Normalization,
			PreNM:         cfg.PreNM,
		}, WithName(o.name+"/expand"), WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		shape = r.expand.OutShape()
	}

	r.spatial, err = NewConvolution(g, ConvConfig{
		InShape:       shape,
		Kernel:        3,
		Channels:      shape[0],
		Stride:        cfg.Stride,
		Pad:           true,
		Activation:    cfg.Activation,
		Normalization: cfg.Normalization,
		PreNM:         cfg.PreNM,
	}, WithName(o.name+"/spatial"), WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	shape = r.spatial.OutShape()

	r.project, err = NewConvolution(g, ConvConfig{
		InShape:       shape,
		Kernel:        1,
		Channels:      cfg.Channels,
		Stride:        1,
		Pad:           true,
		Activation:    ActivationNone,
		Normalization: cfg.Normalization,
		PreNM:         cfg.PreNM,
	}, WithName(o.name+"/project"), WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	r.outShape = r.project.OutShape()
	r.skip = cfg.Stride == 1 && inC == cfg.Channels

	o.logger.Debug("inverted residual block",
		zap.String("name", o.name),
		zap.Ints("in", cfg.InShape),
		zap.Ints("out", r.outShape),
		zap.Int("expansion", cfg.Expansion),
		zap.Bool("skip", r.skip))
	return r, nil
}

// Forward applies the block to a (batch, C, H, W) input node.
func (r *ResidualInverted) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	h := x
	var err error
	if r.expand != nil {
		if h, err = r.expand.Forward(h); err != nil {
			return nil, err
		}
	}
	if h, err = r.spatial.Forward(h); err != nil {
		return nil, err
	}
	if h, err = r.project.Forward(h); err != nil {
		return nil, err
	}
	if r.skip {
		if h, err = gorgonia.Add(x, h); err != nil {
			return nil, fmt.Errorf("layers: ResidualInverted %q skip: %w", r.name, err)
		}
	}
	return h, nil
}

// Learnables returns the parameters of all stages.
func (r *ResidualInverted) Learnables() gorgonia.Nodes {
	var params gorgonia.Nodes
	if r.expand != nil {
		params = append(params, r.expand.Learnables()...)
	}
	params = append(params, r.spatial.Learnables()...)
	params = append(params, r.project.Learnables()...)
	return params
}

// Name returns the module name.
func (r *ResidualInverted) Name() string { return r.name }

// OutShape returns the output shape without the batch dimension: (C, H, W).
func (r *ResidualInverted) OutShape() tensor.Shape { return r.outShape.Clone() }
