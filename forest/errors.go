// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package forest

import "errors"

// Error taxonomy of the package. All are detected at construction or at
// graph-build time and are not recoverable internally: the caller must fix
// the configuration or the upstream data.
var (
	// ErrInvalidConfiguration reports an impossible tree or forest
	// configuration, such as a non-positive depth.
	ErrInvalidConfiguration = errors.New("forest: invalid configuration")

	// ErrConfigurationMismatch reports trees with diverging label counts
	// or depths being aggregated into one forest.
	ErrConfigurationMismatch = errors.New("forest: configuration mismatch")

	// ErrShapeMismatch reports an input whose feature width disagrees with
	// the scoring network, or a scorer producing the wrong output width.
	ErrShapeMismatch = errors.New("forest: shape mismatch")

	// ErrNumericalDegeneracy reports decision values outside [0, 1]. A
	// correctly bounded scorer (for example one ending in a sigmoid) never
	// produces these.
	ErrNumericalDegeneracy = errors.New("forest: numerical degeneracy")
)
