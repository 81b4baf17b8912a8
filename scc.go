// Copyright (C) The hicrep-go Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

// Stratum-adjusted correlation coefficient (SCC) between two Hi-C
// contact matrices, computed per chromosome as in Yang et al., Genome
// Res. 2017 (doi:10.1101/gr.220640.117): per-diagonal Pearson
// correlations combined with variance-stabilizing weights.

package hicrep

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/james-bowman/sparse"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

type normStrategy int

const (
	// divide each matrix by its own file-wide contact total
	normByTotal normStrategy = iota
	// randomly thin the input with more contacts down to the other
	// input's total
	normDownSample
)

type sccParams struct {
	h          int   // mean filter half-window, 0 disables smoothing
	dBPMax     int64 // max genomic distance in bp, -1 for no cutoff
	norm       normStrategy
	chrNames   []string // ordered inclusion list, nil for all
	excludeChr map[string]bool
	seed       uint64
	threads    int // 0 means GOMAXPROCS
}

// sentinel score for a chromosome the per-chromosome loop never reached
const sccUnprocessed = -2.0

// varVstran returns the theoretical variance of rank-transformed
// ("vstran" in the original R implementation) data of sample size n:
// var(1/n, 2/n, ..., n/n) = (1 - 1/n^2) / 12. Degenerate sample sizes
// (n <= 2) yield NaN, which the caller absorbs to a zero weight.
func varVstran(n float64) float64 {
	if n <= 2 {
		return math.NaN()
	}
	return (1 - 1/(n*n)) / 12
}

// diagRow holds one diagonal of a banded matrix: entry (i, i+k) of
// diagonal k is stored at column i. Columns are kept sorted.
type diagRow struct {
	cols []int
	vals []float64
}

func (r diagRow) Len() int           { return len(r.cols) }
func (r diagRow) Less(i, j int) bool { return r.cols[i] < r.cols[j] }
func (r diagRow) Swap(i, j int) {
	r.cols[i], r.cols[j] = r.cols[j], r.cols[i]
	r.vals[i], r.vals[j] = r.vals[j], r.vals[i]
}

// upperDiagCsr reshapes the band 1 <= col-row < nDiags of m into one row
// per diagonal offset (offset k at index k-1), so per-diagonal statistics
// reduce to row-wise passes.
func upperDiagCsr(m *sparse.COO, nDiags int) []diagRow {
	if nDiags < 1 {
		nDiags = 1
	}
	rows := make([]diagRow, nDiags-1)
	m.DoNonZero(func(i, j int, v float64) {
		d := j - i
		if d < 1 || d >= nDiags {
			return
		}
		rows[d-1].cols = append(rows[d-1].cols, i)
		rows[d-1].vals = append(rows[d-1].vals, v)
	})
	for k := range rows {
		sort.Sort(rows[k])
	}
	return rows
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// sccByDiag computes the SCC between m1 and m2 over diagonals
// [1, nDiags). For each diagonal the Pearson correlation is taken over
// the cells that are nonzero in either input, using sufficient
// statistics accumulated in a single merge pass over the two sorted
// diagonal rows, and weighted by nSamples * varVstran(nSamples).
// Diagonals whose correlation or weight comes out NaN or Inf contribute
// nothing. Returns NaN when every diagonal is degenerate.
func sccByDiag(m1, m2 *sparse.COO, nDiags int) float64 {
	d1 := upperDiagCsr(m1, nDiags)
	d2 := upperDiagCsr(m2, nDiags)
	var sumW, sumRhoW float64
	for k := range d1 {
		r1, r2 := d1[k], d2[k]
		var sum1, sum2, sumSq1, sumSq2, sumProd float64
		nSamples := 0
		i1, i2 := 0, 0
		for i1 < len(r1.cols) || i2 < len(r2.cols) {
			switch {
			case i2 >= len(r2.cols) || (i1 < len(r1.cols) && r1.cols[i1] < r2.cols[i2]):
				v := r1.vals[i1]
				sum1 += v
				sumSq1 += v * v
				i1++
			case i1 >= len(r1.cols) || r2.cols[i2] < r1.cols[i1]:
				v := r2.vals[i2]
				sum2 += v
				sumSq2 += v * v
				i2++
			default:
				v1, v2 := r1.vals[i1], r2.vals[i2]
				sum1 += v1
				sumSq1 += v1 * v1
				sum2 += v2
				sumSq2 += v2 * v2
				sumProd += v1 * v2
				i1++
				i2++
			}
			nSamples++
		}
		n := float64(nSamples)
		cov := sumProd - sum1*sum2/n
		rho := cov / math.Sqrt((sumSq1-sum1*sum1/n)*(sumSq2-sum2*sum2/n))
		ws := n * varVstran(n)
		if !finite(rho) {
			rho = 0
		}
		if !finite(ws) {
			ws = 0
		}
		sumRhoW += rho * ws
		sumW += ws
	}
	return sumRhoW / sumW
}

// hicrepSCC computes one SCC score per selected chromosome, in selection
// order. Structural disagreements between the two inputs are errors;
// numerically degenerate diagonals are absorbed inside sccByDiag.
func hicrepSCC(f1, f2 contactFile, p sccParams) ([]float64, error) {
	bs1, uniform1 := f1.binSize()
	bs2, uniform2 := f2.binSize()
	if uniform1 != uniform2 || (uniform1 && bs1 != bs2) {
		return nil, fmt.Errorf("input files have different bin sizes")
	}
	if n1, n2 := f1.binCount(), f2.binCount(); n1 != n2 {
		return nil, fmt.Errorf("input files have different numbers of bins: %d vs %d", n1, n2)
	}
	ch1, ch2 := f1.chroms(), f2.chroms()
	if len(ch1) != len(ch2) {
		return nil, fmt.Errorf("input files have different numbers of chromosomes: %d vs %d", len(ch1), len(ch2))
	}
	for i := range ch1 {
		if ch1[i] != ch2[i] {
			return nil, fmt.Errorf("input files have different chromosomes: %+v vs %+v", ch1[i], ch2[i])
		}
	}
	binSize := bs1
	if !uniform1 {
		b1, b2 := f1.binTable(), f2.binTable()
		for i := range b1 {
			if b1[i] != b2[i] {
				return nil, fmt.Errorf("input files don't have a unique bin size and their bin tables differ at bin %d", i)
			}
		}
		binSize = medianBinWidth(b1)
		log.Warnf("input files don't have a unique bin size; using median bin width %d from the first file to determine the maximal diagonal index", binSize)
	}
	var dMax int
	if p.dBPMax == -1 {
		// no cutoff: every diagonal of every chromosome qualifies
		dMax = f1.binCount()
	} else {
		dMax = int(p.dBPMax/int64(binSize)) + 1
	}
	if dMax <= 1 {
		return nil, fmt.Errorf("dBPMax %d is smaller than the bin size %d", p.dBPMax, binSize)
	}

	var sel []string
	if p.chrNames != nil {
		// Preserving the caller's order is what makes the output
		// score order unambiguous, so duplicates are an error rather
		// than silently pruned.
		seen := map[string]bool{}
		for _, name := range p.chrNames {
			if seen[name] {
				return nil, fmt.Errorf("duplicate chromosome %q in chrNames", name)
			}
			seen[name] = true
		}
		sel = p.chrNames
	} else {
		for _, sp := range ch1 {
			sel = append(sel, sp.name)
		}
	}
	var names []string
	for _, name := range sel {
		if name == "ALL" || name == "All" {
			// genome-wide aggregate pseudo-chromosome in .hic files
			continue
		}
		if p.excludeChr[name] {
			continue
		}
		names = append(names, name)
	}

	total1 := f1.totalContacts()
	total2 := f2.totalContacts()
	threads := p.threads
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	scores := make([]float64, len(names))
	for i := range scores {
		scores[i] = sccUnprocessed
	}
	var tt throttle
	tt.Max = threads
	for i, name := range names {
		i, name := i, name
		// per-chromosome source so scores don't depend on scheduling
		src := rand.NewSource(p.seed + uint64(i))
		tt.Go(func() error {
			scc, err := chromSCC(f1, f2, name, dMax, p, total1, total2, src)
			if err != nil {
				return err
			}
			log.Printf("%s: scc %v", name, scc)
			scores[i] = scc
			return nil
		})
	}
	if err := tt.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func chromSCC(f1, f2 contactFile, name string, dMax int, p sccParams, total1, total2 float64, src rand.Source) (float64, error) {
	mS1, err := f1.subMatrix(name)
	if err != nil {
		return 0, err
	}
	mS2, err := f2.subMatrix(name)
	if err != nil {
		return 0, err
	}
	if mS1.NNZ() == 0 {
		return 0, fmt.Errorf("contact matrix 1 of chromosome %s is empty", name)
	}
	nr1, nc1 := mS1.Dims()
	if nr1 != nc1 {
		return 0, fmt.Errorf("contact matrix 1 of chromosome %s is not square", name)
	}
	if mS2.NNZ() == 0 {
		return 0, fmt.Errorf("contact matrix 2 of chromosome %s is empty", name)
	}
	nr2, nc2 := mS2.Dims()
	if nr2 != nc2 {
		return 0, fmt.Errorf("contact matrix 2 of chromosome %s is not square", name)
	}
	if nr1 != nr2 {
		return 0, fmt.Errorf("contact matrices of chromosome %s have different shapes: %d vs %d", name, nr1, nr2)
	}
	nDiags := minInt(dMax, nr1)
	m1 := trimDiags(mS1, nDiags)
	m2 := trimDiags(mS2, nDiags)
	switch p.norm {
	case normDownSample:
		size1 := matrixSum(m1)
		size2 := matrixSum(m2)
		if size1 > size2 {
			m1 = resample(m1, int64(math.Round(size2)), src)
		} else if size2 > size1 {
			m2 = resample(m2, int64(math.Round(size1)), src)
		}
	default:
		m1 = scaleCOO(m1, 1/total1)
		m2 = scaleCOO(m2, 1/total2)
	}
	if p.h > 0 {
		m1 = meanFilterSparse(m1, p.h)
		m2 = meanFilterSparse(m2, p.h)
	}
	return sccByDiag(m1, m2, nDiags), nil
}
