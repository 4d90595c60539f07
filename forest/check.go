// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package forest

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// boundsTolerance absorbs float32 rounding at the interval edges.
const boundsTolerance = 1e-5

// CheckDecisions validates an executed decision tensor: every value must
// be finite and lie in [0, 1] (within a small tolerance). A violation
// means the scoring network is not properly bounded and returns
// ErrNumericalDegeneracy.
//
// Call it on the decision output value after a machine run when using a
// custom scorer whose bound is not obvious.
func CheckDecisions(v gorgonia.Value) error {
	dense, ok := v.(*tensor.Dense)
	if !ok {
		return fmt.Errorf("%w: expected a dense tensor, got %T", ErrNumericalDegeneracy, v)
	}
	data, ok := dense.Data().([]float32)
	if !ok {
		return fmt.Errorf("%w: expected float32 data, got %T", ErrNumericalDegeneracy, dense.Data())
	}
	for i, f := range data {
		f64 := float64(f)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return fmt.Errorf("%w: decision %d is %g", ErrNumericalDegeneracy, i, f64)
		}
		if f64 < -boundsTolerance || f64 > 1+boundsTolerance {
			return fmt.Errorf("%w: decision %d is %g, outside [0, 1]", ErrNumericalDegeneracy, i, f64)
		}
	}
	return nil
}
