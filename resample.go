// Copyright (C) The hicrep-go Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package hicrep

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/james-bowman/sparse"
)

// resample redraws `size` contacts across the nonzero cells of m, each
// cell weighted by its count, and returns the resampled matrix. The draw
// is a fixed-total multinomial realized as sequential conditional
// binomials, so the output always sums to exactly `size` and never
// places a contact in a cell where the input had none. The same src
// yields the same output.
func resample(m *sparse.COO, size int64, src rand.Source) *sparse.COO {
	nr, nc := m.Dims()
	rows, cols, vals := triplets(m)
	// weightLeft[k] is the total count in cells k..end
	weightLeft := make([]float64, len(vals)+1)
	for k := len(vals) - 1; k >= 0; k-- {
		weightLeft[k] = weightLeft[k+1] + vals[k]
	}
	var outRows, outCols []int
	var outVals []float64
	remaining := size
	for k := range vals {
		if remaining <= 0 {
			break
		}
		var draw int64
		if k == len(vals)-1 {
			draw = remaining
		} else {
			p := vals[k] / weightLeft[k]
			if p > 1 {
				p = 1
			}
			b := distuv.Binomial{N: float64(remaining), P: p, Src: src}
			draw = int64(b.Rand())
			if draw > remaining {
				draw = remaining
			}
		}
		if draw > 0 {
			outRows = append(outRows, rows[k])
			outCols = append(outCols, cols[k])
			outVals = append(outVals, float64(draw))
		}
		remaining -= draw
	}
	return sparse.NewCOO(nr, nc, outRows, outCols, outVals)
}
