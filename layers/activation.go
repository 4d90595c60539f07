// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package layers

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// Supported activation names.
//
// "sigm" and "relu6" matter to the decision-forest code: decision values
// must be bounded to [0, 1], which sigmoid guarantees.
const (
	ActivationNone    = ""
	ActivationReLU    = "relu"
	ActivationReLU6   = "relu6"
	ActivationLeaky   = "lklu"
	ActivationSigmoid = "sigm"
	ActivationTanh    = "tanh"
	ActivationSwish   = "swish"
)

const leakySlope = 0.01

// IsValidActivation reports whether name is a known activation.
func IsValidActivation(name string) bool {
	switch name {
	case ActivationNone, ActivationReLU, ActivationReLU6, ActivationLeaky,
		ActivationSigmoid, ActivationTanh, ActivationSwish:
		return true
	}
	return false
}

// Activation applies the named activation to x. The empty name is the
// identity. Unknown names return an error.
func Activation(name string, x *gorgonia.Node) (*gorgonia.Node, error) {
	switch name {
	case ActivationNone:
		return x, nil
	case ActivationReLU:
		return gorgonia.Rectify(x)
	case ActivationReLU6:
		return relu6(x)
	case ActivationLeaky:
		return leakyReLU(x)
	case ActivationSigmoid:
		return gorgonia.Sigmoid(x)
	case ActivationTanh:
		return gorgonia.Tanh(x)
	case ActivationSwish:
		return swish(x)
	default:
		return nil, fmt.Errorf("layers: unknown activation %q", name)
	}
}

// relu6(x) = min(max(x, 0), 6), composed as relu(x) - relu(x-6).
func relu6(x *gorgonia.Node) (*gorgonia.Node, error) {
	lo, err := gorgonia.Rectify(x)
	if err != nil {
		return nil, err
	}
	shifted, err := gorgonia.Sub(x, gorgonia.NewConstant(float32(6)))
	if err != nil {
		return nil, err
	}
	hi, err := gorgonia.Rectify(shifted)
	if err != nil {
		return nil, err
	}
	return gorgonia.Sub(lo, hi)
}

// leakyReLU(x) = x for x > 0, else slope*x, composed as
// relu(x) - slope*relu(-x).
func leakyReLU(x *gorgonia.Node) (*gorgonia.Node, error) {
	pos, err := gorgonia.Rectify(x)
	if err != nil {
		return nil, err
	}
	nx, err := gorgonia.Neg(x)
	if err != nil {
		return nil, err
	}
	neg, err := gorgonia.Rectify(nx)
	if err != nil {
		return nil, err
	}
	scaled, err := gorgonia.Mul(neg, gorgonia.NewConstant(float32(leakySlope)))
	if err != nil {
		return nil, err
	}
	return gorgonia.Sub(pos, scaled)
}

// swish(x) = x * sigmoid(x).
func swish(x *gorgonia.Node) (*gorgonia.Node, error) {
	sig, err := gorgonia.Sigmoid(x)
	if err != nil {
		return nil, err
	}
	return gorgonia.HadamardProd(x, sig)
}
