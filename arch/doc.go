// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package arch provides reference model architectures composed from the
// layers package: a convolutional variational autoencoder and the
// MobileNetV2 backbone. Both are plain graph builders; training loops,
// solvers and devices are the caller's concern (see the runner package).
package arch
