// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package main provides the Canopy CLI for inspecting model snapshots.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/canopy-ml/canopy/vis"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("Canopy %s\n", version)
	case "inspect":
		if len(os.Args) != 3 {
			usage()
			os.Exit(2)
		}
		err = inspect(os.Args[2])
	case "hist":
		if len(os.Args) != 4 {
			usage()
			os.Exit(2)
		}
		err = histograms(os.Args[2], os.Args[3])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "canopy:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Canopy - differentiable decision forests for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version                    Show version")
	fmt.Println("  inspect <snapshot-dir>     Summarize the parameters of a snapshot")
	fmt.Println("  hist <snapshot-dir> <out>  Render weight histograms to <out>")
}

// inspect prints one line per parameter: name, shape and value range.
func inspect(dir string) error {
	sd, err := vis.Load(dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(sd))
	for name := range sd {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := sd[name]
		data, ok := d.Data().([]float32)
		if !ok || len(data) == 0 {
			fmt.Printf("%-40s %v (empty)\n", name, d.Shape())
			continue
		}
		min, max := data[0], data[0]
		var sum float64
		for _, v := range data {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			sum += float64(v)
		}
		fmt.Printf("%-40s %-16v min=%+.4f mean=%+.4f max=%+.4f\n",
			name, d.Shape(), min, sum/float64(len(data)), max)
	}
	return nil
}

func histograms(dir, out string) error {
	sd, err := vis.Load(dir)
	if err != nil {
		return err
	}
	return vis.SaveStateDictHistograms(sd, out, vis.DefaultBins)
}
