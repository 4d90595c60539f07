// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package arch

import (
	"fmt"

	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/canopy-ml/canopy/layers"
)

// mobileNetBlocks is the inverted-residual table of the MobileNetV2 paper
// (https://arxiv.org/pdf/1801.04381.pdf): output channels, stride,
// expansion.
var mobileNetBlocks = [][3]int{
	{16, 1, 1},
	{24, 2, 6}, {24, 1, 6},
	{32, 2, 6}, {32, 1, 6}, {32, 1, 6},
	{64, 2, 6}, {64, 1, 6}, {64, 1, 6}, {64, 1, 6},
	{96, 1, 6}, {96, 1, 6}, {96, 1, 6},
	{160, 2, 6}, {160, 1, 6}, {160, 1, 6},
	{320, 1, 6},
}

// mobileNetWidth is the channel width after the final pointwise convolution.
const mobileNetWidth = 1280

// MobileNetConfig describes a MobileNetV2 backbone.
type MobileNetConfig struct {
	// InputShape is (C, H, W); min(H, W) must be >= 32 so the five
	// stride-2 stages keep a positive spatial extent.
	InputShape tensor.Shape

	// Activation of all stages. Defaults to "relu".
	Activation string

	// Normalization is "" or layers.NormBatch. Defaults to NormBatch.
	Normalization string

	// PreNM flips stages after the first to
	// normalization -> activation -> convolution.
	PreNM bool

	// Embedding, when > 0, appends a linear head and makes Forward
	// return (batch, Embedding) instead of (batch, 1280).
	Embedding int
}

// MobileNetV2 is the mobile convolutional backbone: a strided stem, the
// 17-block inverted-residual stack, a 1x1 width expansion and global
// average pooling, with an optional linear embedding head.
type MobileNetV2 struct {
	cfg    MobileNetConfig
	name   string
	first  *layers.Convolution
	blocks []*layers.ResidualInverted
	last   *layers.Convolution
	embed  *layers.Linear // nil without an embedding head
	out    int
	log    *zap.Logger
}

// NewMobileNetV2 creates the backbone with parameters registered in g.
func NewMobileNetV2(g *gorgonia.ExprGraph, cfg MobileNetConfig, opts ...Option) (*MobileNetV2, error) {
	if len(cfg.InputShape) != 3 {
		return nil, fmt.Errorf("arch: MobileNetV2 requires a (C, H, W) input shape, got %v", cfg.InputShape)
	}
	if cfg.InputShape[1] < 32 || cfg.InputShape[2] < 32 {
		return nil, fmt.Errorf("arch: MobileNetV2 requires min(H, W) >= 32, got %v", cfg.InputShape)
	}
	if cfg.Activation == "" {
		cfg.Activation = layers.ActivationReLU
	}
	if cfg.Normalization == "" {
		cfg.Normalization = layers.NormBatch
	}
	o := newOptions("mobilenetv2", opts...)

	m := &MobileNetV2{cfg: cfg, name: o.name, out: mobileNetWidth, log: o.logger}

	var err error
	m.first, err = layers.NewConvolution(g, layers.ConvConfig{
		InShape:       cfg.InputShape,
		Kernel:        3,
		Channels:      32,
		Stride:        2,
		Pad:           true,
		Activation:    cfg.Activation,
		Normalization: cfg.Normalization,
	}, layers.WithName(o.name+"/stem"), layers.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	shape := m.first.OutShape()
	o.logger.Debug("mobilenetv2 stem", zap.Ints("shape", shape))

	for i, b := range mobileNetBlocks {
		preNM := cfg.PreNM
		if i == 0 {
			preNM = false
		}
		block, err := layers.NewResidualInverted(g, layers.ResidualConfig{
			InShape:       shape,
			Channels:      b[0],
			Stride:        b[1],
			Expansion:     b[2],
			Activation:    cfg.Activation,
			Normalization: cfg.Normalization,
			PreNM:         preNM,
		}, layers.WithName(fmt.Sprintf("%s/block%d", o.name, i)), layers.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		m.blocks = append(m.blocks, block)
		shape = block.OutShape()
		o.logger.Debug("mobilenetv2 block", zap.Int("index", i), zap.Ints("shape", shape))
	}

	m.last, err = layers.NewConvolution(g, layers.ConvConfig{
		InShape:       shape,
		Kernel:        1,
		Channels:      mobileNetWidth,
		Stride:        1,
		Pad:           true,
		Activation:    cfg.Activation,
		Normalization: cfg.Normalization,
		PreNM:         cfg.PreNM,
	}, layers.WithName(o.name+"/head"), layers.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	o.logger.Debug("mobilenetv2 head", zap.Ints("shape", m.last.OutShape()))

	if cfg.Embedding > 0 {
		m.embed, err = layers.NewLinear(g, mobileNetWidth, cfg.Embedding, layers.ActivationNone, 0,
			layers.WithName(o.name+"/embedding"), layers.WithBias(false))
		if err != nil {
			return nil, err
		}
		m.out = cfg.Embedding
	}
	return m, nil
}

// Forward maps a (batch, C, H, W) input to a (batch, OutFeatures) embedding.
func (m *MobileNetV2) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	if x.Dims() != 4 {
		return nil, fmt.Errorf("arch: MobileNetV2 expects a 4D input, got shape %v", x.Shape())
	}
	h, err := m.first.Forward(x)
	if err != nil {
		return nil, err
	}
	for _, b := range m.blocks {
		if h, err = b.Forward(h); err != nil {
			return nil, err
		}
	}
	if h, err = m.last.Forward(h); err != nil {
		return nil, err
	}
	// Global average pooling over the spatial axes.
	if h, err = gorgonia.Mean(h, 2, 3); err != nil {
		return nil, fmt.Errorf("arch: MobileNetV2 pooling: %w", err)
	}
	if m.embed != nil {
		return m.embed.Forward(h)
	}
	return h, nil
}

// Learnables returns all trainable parameters of the backbone.
func (m *MobileNetV2) Learnables() gorgonia.Nodes {
	params := m.first.Learnables()
	for _, b := range m.blocks {
		params = append(params, b.Learnables()...)
	}
	params = append(params, m.last.Learnables()...)
	if m.embed != nil {
		params = append(params, m.embed.Learnables()...)
	}
	return params
}

// NamedLearnables returns the parameters keyed by node name.
func (m *MobileNetV2) NamedLearnables() map[string]*gorgonia.Node {
	named := make(map[string]*gorgonia.Node)
	for _, n := range m.Learnables() {
		named[n.Name()] = n
	}
	return named
}

// Name returns the model name.
func (m *MobileNetV2) Name() string { return m.name }

// OutFeatures returns the embedding width Forward produces.
func (m *MobileNetV2) OutFeatures() int { return m.out }
