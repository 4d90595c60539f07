// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package layers

import (
	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
)

// Module is the base interface for all graph-building blocks.
//
// Forward appends the operations of the module to the graph that the
// input node belongs to and returns the output node. Learnables returns
// the parameter nodes owned by the module, in a stable order, so that
// solvers and snapshot tooling can find them.
type Module interface {
	// Forward computes the output node of the module for the given input node.
	Forward(x *gorgonia.Node) (*gorgonia.Node, error)

	// Learnables returns all trainable parameter nodes of this module.
	//
	// Returns an empty slice for modules without trainable parameters.
	Learnables() gorgonia.Nodes

	// Name returns the module name, used as a prefix for parameter node names.
	Name() string
}

// Option configures optional layer settings.
type Option func(*options)

type options struct {
	name   string
	bias   bool
	logger *zap.Logger
}

func newOptions(defaultName string, opts ...Option) options {
	o := options{
		name:   defaultName,
		bias:   true,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithName sets the module name. Parameter nodes are named "<name>/weight",
// "<name>/bias" and so on; give every module in a graph a distinct name so
// snapshots stay unambiguous.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithBias controls whether the layer carries a bias term. Defaults to true.
func WithBias(bias bool) Option {
	return func(o *options) { o.bias = bias }
}

// WithLogger sets the logger used for construction-time diagnostics,
// emitted at Debug level. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}
