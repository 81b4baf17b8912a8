// Copyright (C) The hicrep-go Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package hicrep

import (
	"sort"

	"github.com/james-bowman/sparse"
)

// triplets copies the stored entries of m into parallel row/col/value
// slices.
func triplets(m *sparse.COO) (rows, cols []int, vals []float64) {
	nnz := m.NNZ()
	rows = make([]int, 0, nnz)
	cols = make([]int, 0, nnz)
	vals = make([]float64, 0, nnz)
	m.DoNonZero(func(i, j int, v float64) {
		rows = append(rows, i)
		cols = append(cols, j)
		vals = append(vals, v)
	})
	return
}

func matrixSum(m *sparse.COO) float64 {
	sum := 0.0
	m.DoNonZero(func(i, j int, v float64) {
		sum += v
	})
	return sum
}

// scaleCOO returns f*m as a new matrix, leaving m untouched.
func scaleCOO(m *sparse.COO, f float64) *sparse.COO {
	nr, nc := m.Dims()
	rows, cols, vals := triplets(m)
	for k := range vals {
		vals[k] *= f
	}
	return sparse.NewCOO(nr, nc, rows, cols, vals)
}

// trimDiags restricts m to the band of diagonals 1 <= col-row < nDiags,
// dropping the main diagonal (self-ligation artifacts) and everything at
// or beyond the cutoff. Entry values are preserved.
func trimDiags(m *sparse.COO, nDiags int) *sparse.COO {
	nr, nc := m.Dims()
	var rows, cols []int
	var vals []float64
	m.DoNonZero(func(i, j int, v float64) {
		if d := j - i; d > 0 && d < nDiags {
			rows = append(rows, i)
			cols = append(cols, j)
			vals = append(vals, v)
		}
	})
	return sparse.NewCOO(nr, nc, rows, cols, vals)
}

// meanFilterSparse applies a (2h+1) x (2h+1) mean filter to m. The output
// keeps the sparsity support of the input: each stored entry (i,j) is
// replaced by the mean of the original entries in the window
// [i-h,i+h] x [j-h,j+h], where the averaging denominator is the window
// area clipped to the matrix bounds. h == 0 is the identity.
//
// The window sums are taken from per-row cumulative sums over the sorted
// support, so the cost is O(nnz * (2h+1) * log nnz) rather than a dense
// convolution.
func meanFilterSparse(m *sparse.COO, h int) *sparse.COO {
	nr, nc := m.Dims()
	rows, cols, vals := triplets(m)
	if h <= 0 {
		return sparse.NewCOO(nr, nc, rows, cols, vals)
	}
	order := make([]int, len(rows))
	for k := range order {
		order[k] = k
	}
	sort.Slice(order, func(a, b int) bool {
		ka, kb := order[a], order[b]
		if rows[ka] != rows[kb] {
			return rows[ka] < rows[kb]
		}
		return cols[ka] < cols[kb]
	})
	sr := make([]int, len(rows))
	sc := make([]int, len(cols))
	sv := make([]float64, len(vals))
	for k, o := range order {
		sr[k], sc[k], sv[k] = rows[o], cols[o], vals[o]
	}
	rowPtr := make([]int, nr+1)
	for _, r := range sr {
		rowPtr[r+1]++
	}
	for r := 0; r < nr; r++ {
		rowPtr[r+1] += rowPtr[r]
	}
	// cumulative sums restarting at each row
	cum := make([]float64, len(sv))
	for r := 0; r < nr; r++ {
		run := 0.0
		for k := rowPtr[r]; k < rowPtr[r+1]; k++ {
			run += sv[k]
			cum[k] = run
		}
	}
	rangeSum := func(r, c0, c1 int) float64 {
		lo, hi := rowPtr[r], rowPtr[r+1]
		seg := sc[lo:hi]
		i0 := sort.SearchInts(seg, c0)
		i1 := sort.SearchInts(seg, c1+1)
		if i0 >= i1 {
			return 0
		}
		sum := cum[lo+i1-1]
		if i0 > 0 {
			sum -= cum[lo+i0-1]
		}
		return sum
	}
	out := make([]float64, len(sv))
	for k := range sv {
		i, j := sr[k], sc[k]
		r0, r1 := maxInt(i-h, 0), minInt(i+h, nr-1)
		c0, c1 := maxInt(j-h, 0), minInt(j+h, nc-1)
		sum := 0.0
		for r := r0; r <= r1; r++ {
			sum += rangeSum(r, c0, c1)
		}
		out[k] = sum / float64((r1-r0+1)*(c1-c0+1))
	}
	return sparse.NewCOO(nr, nc, sr, sc, out)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
