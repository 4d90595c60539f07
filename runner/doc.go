// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package runner drives training of a Canopy graph: it owns the tape
// machine and the solver, runs one forward/backward pass per Step, and
// applies the post-step weight constraints (clipping, per-unit
// normalization) that keep the soft decision trees numerically stable.
package runner
