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

// NormBatch selects per-channel batch normalization in ConvConfig.
const NormBatch = "batch"

// ConvConfig describes a Convolution block.
type ConvConfig struct {
	// InShape is the input shape without the batch dimension: (C, H, W).
	InShape tensor.Shape

	// Kernel is the square kernel size.
	Kernel int

	// Channels is the number of output channels.
	Channels int

	// Stride is the convolution stride. Must be >= 1.
	Stride int

	// Pad keeps the spatial size at stride 1 ((Kernel-1)/2 zero padding).
	Pad bool

	// Activation is applied after the convolution (and normalization,
	// unless PreNM is set).
	Activation string

	// Normalization is "" (none) or NormBatch.
	Normalization string

	// PreNM flips the block to normalization -> activation -> convolution.
	PreNM bool

	// Upsample inserts a nearest-neighbor 2x upsampling before the
	// convolution. Stands in for a transposed convolution in decoders.
	Upsample bool
}

// Convolution is a 2D convolution block: an optional 2x upsample, the
// convolution itself, optional batch normalization and an activation.
// The block tracks its output shape so stacks can be sized at
// construction time.
//
// Batch normalization here uses the statistics of the current batch with
// learned gamma/beta; there are no running averages, so evaluation
// normalizes with evaluation-batch statistics.
type Convolution struct {
	name     string
	cfg      ConvConfig
	pad      int
	outShape tensor.Shape // (C, H, W)

	filter *gorgonia.Node // (out, in, k, k)
	gamma  *gorgonia.Node // (1, normC, 1, 1), nil without normalization
	beta   *gorgonia.Node
}

// NewConvolution creates a Convolution block with parameters registered in g.
func NewConvolution(g *gorgonia.ExprGraph, cfg ConvConfig, opts ...Option) (*Convolution, error) {
	if len(cfg.InShape) != 3 {
		return nil, fmt.Errorf("layers: Convolution requires a (C, H, W) input shape, got %v", cfg.InShape)
	}
	if cfg.Kernel <= 0 || cfg.Channels <= 0 || cfg.Stride <= 0 {
		return nil, fmt.Errorf("layers: Convolution requires positive kernel/channels/stride, got k=%d c=%d s=%d",
			cfg.Kernel, cfg.Channels, cfg.Stride)
	}
	if !IsValidActivation(cfg.Activation) {
		return nil, fmt.Errorf("layers: unknown activation %q", cfg.Activation)
	}
	if cfg.Normalization != "" && cfg.Normalization != NormBatch {
		return nil, fmt.Errorf("layers: unknown normalization %q", cfg.Normalization)
	}
	o := newOptions("conv", opts...)

	inC, inH, inW := cfg.InShape[0], cfg.InShape[1], cfg.InShape[2]
	if cfg.Upsample {
		inH, inW = inH*2, inW*2
	}
	pad := 0
	if cfg.Pad {
		pad = (cfg.Kernel - 1) / 2
	}
	outH := (inH+2*pad-cfg.Kernel)/cfg.Stride + 1
	outW := (inW+2*pad-cfg.Kernel)/cfg.Stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("layers: Convolution %q collapses %v to (%d, %d)", o.name, cfg.InShape, outH, outW)
	}

	c := &Convolution{
		name:     o.name,
		cfg:      cfg,
		pad:      pad,
		outShape: tensor.Shape{cfg.Channels, outH, outW},
	}
	c.filter = gorgonia.NewTensor(g, tensor.Float32, 4,
		gorgonia.WithShape(cfg.Channels, inC, cfg.Kernel, cfg.Kernel),
		gorgonia.WithName(o.name+"/weight"),
		gorgonia.WithInit(gorgonia.GlorotU(1.0)))

	if cfg.Normalization == NormBatch {
		normC := cfg.Channels
		if cfg.PreNM {
			normC = inC
		}
		c.gamma = gorgonia.NewTensor(g, tensor.Float32, 4,
			gorgonia.WithShape(1, normC, 1, 1),
			gorgonia.WithName(o.name+"/gamma"),
			gorgonia.WithInit(gorgonia.Ones()))
		c.beta = gorgonia.NewTensor(g, tensor.Float32, 4,
			gorgonia.WithShape(1, normC, 1, 1),
			gorgonia.WithName(o.name+"/beta"),
			gorgonia.WithInit(gorgonia.Zeroes()))
	}

	o.logger.Debug("convolution block",
		zap.String("name", o.name),
		zap.Ints("in", cfg.InShape),
		zap.Ints("out", c.outShape),
		zap.Int("kernel", cfg.Kernel),
		zap.Int("stride", cfg.Stride),
		zap.Bool("upsample", cfg.Upsample))
	return c, nil
}

// Forward applies the block to a (batch, C, H, W) input node.
func (c *Convolution) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	if x.Dims() != 4 {
		return nil, fmt.Errorf("layers: Convolution %q expects a 4D input, got shape %v", c.name, x.Shape())
	}
	if x.Shape()[1] != c.cfg.InShape[0] {
		return nil, fmt.Errorf("layers: Convolution %q expects %d input channels, got %d",
			c.name, c.cfg.InShape[0], x.Shape()[1])
	}

	h := x
	var err error
	if c.cfg.PreNM {
		if h, err = c.normalize(h); err != nil {
			return nil, err
		}
		if h, err = Activation(c.cfg.Activation, h); err != nil {
			return nil, err
		}
	}
	if c.cfg.Upsample {
		if h, err = upsample2x(h); err != nil {
			return nil, fmt.Errorf("layers: Convolution %q upsample: %w", c.name, err)
		}
	}
	h, err = gorgonia.Conv2d(h, c.filter,
		tensor.Shape{c.cfg.Kernel, c.cfg.Kernel},
		[]int{c.pad, c.pad},
		[]int{c.cfg.Stride, c.cfg.Stride},
		[]int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("layers: Convolution %q conv2d: %w", c.name, err)
	}
	if !c.cfg.PreNM {
		if h, err = c.normalize(h); err != nil {
			return nil, err
		}
		if h, err = Activation(c.cfg.Activation, h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// normalize applies per-channel batch normalization when configured.
func (c *Convolution) normalize(x *gorgonia.Node) (*gorgonia.Node, error) {
	if c.gamma == nil {
		return x, nil
	}
	channels := x.Shape()[1]

	mean, err := gorgonia.Mean(x, 0, 2, 3) // (C)
	if err != nil {
		return nil, fmt.Errorf("layers: Convolution %q batchnorm mean: %w", c.name, err)
	}
	mean4, err := gorgonia.Reshape(mean, tensor.Shape{1, channels, 1, 1})
	if err != nil {
		return nil, err
	}
	centered, err := gorgonia.BroadcastSub(x, mean4, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(centered)
	if err != nil {
		return nil, err
	}
	variance, err := gorgonia.Mean(sq, 0, 2, 3) // (C)
	if err != nil {
		return nil, err
	}
	var4, err := gorgonia.Reshape(variance, tensor.Shape{1, channels, 1, 1})
	if err != nil {
		return nil, err
	}
	eps, err := gorgonia.Add(var4, gorgonia.NewConstant(float32(1e-5)))
	if err != nil {
		return nil, err
	}
	std, err := gorgonia.Sqrt(eps)
	if err != nil {
		return nil, err
	}
	normed, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, err
	}
	scaled, err := gorgonia.BroadcastHadamardProd(normed, c.gamma, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(scaled, c.beta, nil, []byte{0, 2, 3})
}

// upsample2x doubles H and W by nearest-neighbor duplication, using only
// reshape and concat so it stays differentiable on any gorgonia backend.
func upsample2x(x *gorgonia.Node) (*gorgonia.Node, error) {
	s := x.Shape()
	x6, err := gorgonia.Reshape(x, tensor.Shape{s[0], s[1], s[2], 1, s[3], 1})
	if err != nil {
		return nil, err
	}
	h2, err := gorgonia.Concat(3, x6, x6)
	if err != nil {
		return nil, err
	}
	w2, err := gorgonia.Concat(5, h2, h2)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(w2, tensor.Shape{s[0], s[1], s[2] * 2, s[3] * 2})
}

// Learnables returns the filter and, when normalizing, gamma and beta.
func (c *Convolution) Learnables() gorgonia.Nodes {
	if c.gamma != nil {
		return gorgonia.Nodes{c.filter, c.gamma, c.beta}
	}
	return gorgonia.Nodes{c.filter}
}

// Name returns the module name.
func (c *Convolution) Name() string { return c.name }

// OutShape returns the output shape without the batch dimension: (C, H, W).
func (c *Convolution) OutShape() tensor.Shape { return c.outShape.Clone() }

// Filter returns the convolution filter node.
func (c *Convolution) Filter() *gorgonia.Node { return c.filter }
