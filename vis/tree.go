// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package vis

import (
	"fmt"
	"math"
	"math/bits"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"gorgonia.org/tensor"

	"github.com/canopy-ml/canopy/forest"
)

// treeFormats maps figure types to graphviz render formats.
var treeFormats = map[string]graphviz.Format{
	"png": graphviz.PNG,
	"svg": graphviz.SVG,
	"jpg": graphviz.JPG,
}

// RenderTree draws the topology of a tree to path. Internal nodes show
// their depth and flat decision index; leaves show their softmaxed class
// distribution. figureType is "png", "svg" or "jpg".
//
// The rendering reads the current leaf weights, so it reflects whatever
// state the graph was last run (or initialized) with.
func RenderTree(t *forest.NeuralTree, figureType, path string) error {
	format, ok := treeFormats[figureType]
	if !ok {
		return fmt.Errorf("vis: unknown figure type %q (want png, svg or jpg)", figureType)
	}
	leafDist, err := leafDistributions(t)
	if err != nil {
		return err
	}

	gv := graphviz.New()
	graph, err := gv.Graph()
	if err != nil {
		return fmt.Errorf("vis: create graph: %w", err)
	}
	defer func() {
		graph.Close()
		gv.Close()
	}()

	if err := drawTreeNode(graph, t, leafDist, 0, nil); err != nil {
		return err
	}
	if err := gv.RenderFilename(graph, format, path); err != nil {
		return fmt.Errorf("vis: render %q: %w", path, err)
	}
	return nil
}

// RenderForest draws every tree of the forest into dir as
// <prefix>_<index>.<figureType>.
func RenderForest(f *forest.NeuralDecisionForest, figureType, prefix, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vis: create render dir: %w", err)
	}
	for i, t := range f.Trees() {
		path := filepath.Join(dir, fmt.Sprintf("%s_%05d.%s", prefix, i, figureType))
		if err := RenderTree(t, figureType, path); err != nil {
			return err
		}
	}
	return nil
}

// drawTreeNode draws the heap-ordered node idx and recurses into its
// children. Node p's children sit at 2p+1 and 2p+2; indices past the
// internal range are leaves, the first child being the branch the
// decision value q routes to.
func drawTreeNode(g *cgraph.Graph, t *forest.NeuralTree, leafDist [][]float64, idx int, parent *cgraph.Node) error {
	nInternal := t.NLeafs() - 1

	var label, shape string
	if idx >= nInternal {
		leaf := idx - nInternal
		label = fmt.Sprintf("leaf %d\n%s", leaf, distributionLabel(leafDist[leaf]))
		shape = "box"
	} else {
		depth := bits.Len(uint(idx+1)) - 1
		label = fmt.Sprintf("d%d / n%d", depth, idx)
		shape = "ellipse"
	}

	node, err := g.CreateNode(fmt.Sprintf("n%d", idx))
	if err != nil {
		return fmt.Errorf("vis: create node %d: %w", idx, err)
	}
	node.Set("label", label)
	node.Set("shape", shape)

	if parent != nil {
		if _, err := g.CreateEdge("", parent, node); err != nil {
			return fmt.Errorf("vis: create edge to node %d: %w", idx, err)
		}
	}

	if idx < nInternal {
		if err := drawTreeNode(g, t, leafDist, 2*idx+1, node); err != nil {
			return err
		}
		if err := drawTreeNode(g, t, leafDist, 2*idx+2, node); err != nil {
			return err
		}
	}
	return nil
}

// leafDistributions softmax-normalizes the rows of the current leaf
// weight value.
func leafDistributions(t *forest.NeuralTree) ([][]float64, error) {
	v := t.LeafWeight().Value()
	if v == nil {
		return nil, fmt.Errorf("vis: tree %q has no leaf weight value", t.Name())
	}
	d, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("vis: leaf weight of %q is not a dense tensor (%T)", t.Name(), v)
	}
	data, ok := d.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("vis: leaf weight of %q is not float32", t.Name())
	}

	labels := t.Config().Labels
	dist := make([][]float64, t.NLeafs())
	for leaf := range dist {
		row := data[leaf*labels : (leaf+1)*labels]
		maxV := row[0]
		for _, v := range row {
			if v > maxV {
				maxV = v
			}
		}
		p := make([]float64, labels)
		sum := 0.0
		for i, v := range row {
			p[i] = math.Exp(float64(v - maxV))
			sum += p[i]
		}
		for i := range p {
			p[i] /= sum
		}
		dist[leaf] = p
	}
	return dist, nil
}

// distributionLabel formats a class distribution for a leaf label. Small
// distributions print in full; larger ones print only the top class.
func distributionLabel(p []float64) string {
	if len(p) <= 8 {
		parts := make([]string, len(p))
		for i, v := range p {
			parts[i] = fmt.Sprintf("%.2f", v)
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	best := 0
	for i, v := range p {
		if v > p[best] {
			best = i
		}
	}
	return fmt.Sprintf("class %d: %.2f", best, p[best])
}
