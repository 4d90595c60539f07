// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package arch

import "go.uber.org/zap"

// Option configures optional model settings.
type Option func(*options)

type options struct {
	name   string
	logger *zap.Logger
}

func newOptions(defaultName string, opts ...Option) options {
	o := options{name: defaultName, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithName sets the model name, used as the prefix of parameter node names.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger for construction-time shape diagnostics,
// emitted at Debug level. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}
