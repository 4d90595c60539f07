// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package runner

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ErrNoLoss is returned by LastLoss before the first Step.
var ErrNoLoss = errors.New("runner: no step has run yet")

// Runner executes training steps on a compiled graph. One Step is a full
// forward/backward pass followed by a solver update; the tape machine is
// reset afterwards so the next Step replays the same program on fresh
// input values.
type Runner struct {
	machine gorgonia.VM
	solver  gorgonia.Solver
	params  gorgonia.Nodes
	loss    *gorgonia.Node

	step     int
	lastLoss float64
	log      *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for per-step diagnostics at Debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.log = logger }
}

// WithLoss registers the scalar loss node so Step can report its value.
func WithLoss(loss *gorgonia.Node) Option {
	return func(r *Runner) { r.loss = loss }
}

// New compiles g into a tape machine with dual values bound to params.
// The solver may be nil for inference-only use; Step then runs the graph
// without updating anything.
func New(g *gorgonia.ExprGraph, params gorgonia.Nodes, solver gorgonia.Solver, opts ...Option) (*Runner, error) {
	if g == nil {
		return nil, errors.New("runner: nil graph")
	}
	r := &Runner{
		solver: solver,
		params: params,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.machine = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(params...))
	return r, nil
}

// Step runs one pass and applies the solver. It returns the loss value
// when a loss node was registered, otherwise NaN.
func (r *Runner) Step() (float64, error) {
	if err := r.machine.RunAll(); err != nil {
		return 0, fmt.Errorf("runner: step %d: %w", r.step, err)
	}

	loss := math.NaN()
	if r.loss != nil {
		if v := r.loss.Value(); v != nil {
			switch lv := v.Data().(type) {
			case float32:
				loss = float64(lv)
			case float64:
				loss = lv
			case []float32:
				if len(lv) == 1 {
					loss = float64(lv[0])
				}
			}
		}
	}

	if r.solver != nil {
		if err := r.solver.Step(gorgonia.NodesToValueGrads(r.params)); err != nil {
			return loss, fmt.Errorf("runner: solver step %d: %w", r.step, err)
		}
	}
	r.machine.Reset()

	r.step++
	r.lastLoss = loss
	r.log.Debug("step", zap.Int("step", r.step), zap.Float64("loss", loss))
	return loss, nil
}

// LastLoss returns the loss of the most recent Step.
func (r *Runner) LastLoss() (float64, error) {
	if r.step == 0 {
		return 0, ErrNoLoss
	}
	return r.lastLoss, nil
}

// Steps returns how many steps have run.
func (r *Runner) Steps() int { return r.step }

// Close releases the tape machine.
func (r *Runner) Close() error { return r.machine.Close() }

// ClipWeights clamps every 2D and 4D parameter value to [-clip, clip]
// in place. Call it after Step.
func (r *Runner) ClipWeights(clip float32) error {
	if clip <= 0 {
		return fmt.Errorf("runner: clip must be > 0, got %g", clip)
	}
	for _, n := range r.params {
		dims := n.Dims()
		if dims != 2 && dims != 4 {
			continue
		}
		data, err := paramData(n)
		if err != nil {
			return err
		}
		for i, v := range data {
			if v > clip {
				data[i] = clip
			} else if v < -clip {
				data[i] = -clip
			}
		}
	}
	return nil
}

// RegularizeWeights rescales parameters to unit L2 norm per output unit:
// columns of 2D weights and kernels of 4D weights. 1x1 kernels carry a
// single value per channel, so they are clamped to [-1, 1] instead of
// normalized. Biases and other low-rank parameters are untouched.
func (r *Runner) RegularizeWeights() error {
	for _, n := range r.params {
		s := n.Shape()
		switch len(s) {
		case 2:
			data, err := paramData(n)
			if err != nil {
				return err
			}
			if s[0] == 1 { // bias row
				continue
			}
			normalizeColumns(data, s[0], s[1])
		case 4:
			data, err := paramData(n)
			if err != nil {
				return err
			}
			if s[2] == 1 && s[3] == 1 {
				for i, v := range data {
					if v > 1 {
						data[i] = 1
					} else if v < -1 {
						data[i] = -1
					}
				}
				continue
			}
			kernel := s[1] * s[2] * s[3]
			for t := 0; t < s[0]; t++ {
				normalizeSlice(data[t*kernel : (t+1)*kernel])
			}
		}
	}
	return nil
}

// normalizeColumns rescales each column of a row-major (rows, cols)
// matrix to unit L2 norm.
func normalizeColumns(data []float32, rows, cols int) {
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			v := float64(data[i*cols+j])
			sum += v * v
		}
		norm := float32(math.Sqrt(sum))
		if norm < 1e-6 {
			continue
		}
		for i := 0; i < rows; i++ {
			data[i*cols+j] /= norm
		}
	}
}

func normalizeSlice(data []float32) {
	var sum float64
	for _, v := range data {
		sum += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sum))
	if norm < 1e-6 {
		return
	}
	for i := range data {
		data[i] /= norm
	}
}

func paramData(n *gorgonia.Node) ([]float32, error) {
	v := n.Value()
	if v == nil {
		return nil, fmt.Errorf("runner: parameter %q has no value", n.Name())
	}
	d, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("runner: parameter %q is not a dense tensor (%T)", n.Name(), v)
	}
	data, ok := d.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("runner: parameter %q is not float32", n.Name())
	}
	return data, nil
}
