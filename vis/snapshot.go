// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vis

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sbinet/npyio"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// StateDict maps parameter names to dense value tensors. It is the
// persisted form of a model: snapshot the learnables of a trained graph,
// save, and later restore them into a freshly built graph (for example an
// inference graph without dropout).
type StateDict map[string]*tensor.Dense

// Snapshot copies the current values of the given parameter nodes.
// Nodes that have not been materialized yet (no value) are an error.
func Snapshot(params map[string]*gorgonia.Node) (StateDict, error) {
	sd := make(StateDict, len(params))
	for name, n := range params {
		v := n.Value()
		if v == nil {
			return nil, fmt.Errorf("vis: parameter %q has no value", name)
		}
		d, ok := v.(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("vis: parameter %q is not a dense tensor (%T)", name, v)
		}
		sd[name] = d.Clone().(*tensor.Dense)
	}
	return sd, nil
}

// Save writes the dictionary into dir, one .npy file per parameter.
// Slashes in parameter names become "__" on disk.
func (sd StateDict) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vis: create snapshot dir: %w", err)
	}
	for name, d := range sd {
		if err := writeNpy(filepath.Join(dir, encodeParamName(name)+".npy"), d); err != nil {
			return fmt.Errorf("vis: save %q: %w", name, err)
		}
	}
	return nil
}

// Load reads every .npy file in dir back into a StateDict.
func Load(dir string) (StateDict, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("vis: read snapshot dir: %w", err)
	}
	sd := make(StateDict)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".npy") {
			continue
		}
		name := decodeParamName(strings.TrimSuffix(e.Name(), ".npy"))
		d, err := ReadNpy(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("vis: load %q: %w", name, err)
		}
		sd[name] = d
	}
	return sd, nil
}

// Restore copies dictionary values into matching parameter nodes.
// Every given node must be present in the dictionary with an equal shape.
func Restore(sd StateDict, params map[string]*gorgonia.Node) error {
	for name, n := range params {
		d, ok := sd[name]
		if !ok {
			return fmt.Errorf("vis: snapshot is missing parameter %q", name)
		}
		if !d.Shape().Eq(n.Shape()) {
			return fmt.Errorf("vis: parameter %q has shape %v, snapshot has %v", name, n.Shape(), d.Shape())
		}
		if err := gorgonia.Let(n, d.Clone().(*tensor.Dense)); err != nil {
			return fmt.Errorf("vis: restore %q: %w", name, err)
		}
	}
	return nil
}

// ReadNpy reads one .npy file into a dense float32 tensor of the shape
// recorded in its header. Files written by Save parse directly; files
// from other producers (NumPy defaults to float64) go through the npyio
// parser and are converted.
func ReadNpy(path string) (*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := new(tensor.Dense)
	if err := d.ReadNpy(f); err == nil {
		return denseToFloat32(d)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return readNpyFallback(f)
}

// readNpyFallback parses headers the tensor reader rejects.
func readNpyFallback(f io.Reader) (*tensor.Dense, error) {
	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, err
	}
	shape := make([]int, len(r.Header.Descr.Shape))
	copy(shape, r.Header.Descr.Shape)
	if len(shape) == 0 {
		shape = []int{1}
	}

	var backing []float32
	if strings.HasSuffix(r.Header.Descr.Type, "f8") {
		var data []float64
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		backing = make([]float32, len(data))
		for i, v := range data {
			backing[i] = float32(v)
		}
	} else {
		if err := r.Read(&backing); err != nil {
			return nil, err
		}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}

// denseToFloat32 narrows float64 tensors; everything downstream
// (gorgonia.Let, plots) expects float32.
func denseToFloat32(d *tensor.Dense) (*tensor.Dense, error) {
	switch data := d.Data().(type) {
	case []float32:
		return d, nil
	case []float64:
		conv := make([]float32, len(data))
		for i, v := range data {
			conv[i] = float32(v)
		}
		return tensor.New(tensor.WithShape(d.Shape()...), tensor.WithBacking(conv)), nil
	default:
		return nil, fmt.Errorf("vis: unsupported npy element type %T", data)
	}
}

func writeNpy(path string, d *tensor.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.WriteNpy(f)
}

func encodeParamName(name string) string {
	return strings.ReplaceAll(name, "/", "__")
}

func decodeParamName(name string) string {
	return strings.ReplaceAll(name, "__", "/")
}
