// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package layers

import "gorgonia.org/gorgonia"

// Sequential chains modules, feeding each output into the next module.
//
// Example:
//
//	net := layers.NewSequential("scorer", fc1, fc2)
//	y, err := net.Forward(x)
type Sequential struct {
	name    string
	modules []Module
}

// NewSequential creates a Sequential container.
func NewSequential(name string, modules ...Module) *Sequential {
	return &Sequential{name: name, modules: modules}
}

// Forward runs the input through every module in order.
func (s *Sequential) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	h := x
	var err error
	for _, m := range s.modules {
		if h, err = m.Forward(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Learnables returns the parameters of all contained modules.
func (s *Sequential) Learnables() gorgonia.Nodes {
	var params gorgonia.Nodes
	for _, m := range s.modules {
		params = append(params, m.Learnables()...)
	}
	return params
}

// Name returns the container name.
func (s *Sequential) Name() string { return s.name }

// Modules returns the contained modules in order.
func (s *Sequential) Modules() []Module { return s.modules }
