// Copyright (C) The hicrep-go Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package hicrep

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/james-bowman/sparse"
	"github.com/klauspost/pgzip"
)

// contactFile is the capability surface hicrepSCC needs from a contact
// matrix source.
type contactFile interface {
	// bin width in bp; false when the bins are not uniform
	binSize() (int, bool)
	binCount() int
	chroms() []chromSpan
	binTable() []coolBin
	// sum of all observed counts, including inter-chromosomal ones
	totalContacts() float64
	// upper-triangular sparse matrix over the chromosome's bins, in
	// chromosome-local bin indices
	subMatrix(name string) (*sparse.COO, error)
}

type coolBin struct {
	chrom string
	start int64
	end   int64
}

type chromSpan struct {
	name   string
	offset int // index of the chromosome's first bin
	nBins  int
}

// coolDir reads the tables "cooler dump" writes: bins.tsv[.gz] with
// (chrom, start, end) rows and pixels.tsv[.gz] with (bin1_id, bin2_id,
// count) rows, both optionally gzip-compressed.
type coolDir struct {
	dir     string
	bins    []coolBin
	spans   []chromSpan
	byName  map[string]int
	pixels  map[string]map[[2]int]float64
	total   float64
	size    int
	uniform bool
}

func openCool(dir string, binSize int) (*coolDir, error) {
	c := &coolDir{
		dir:    dir,
		byName: map[string]int{},
		pixels: map[string]map[[2]int]float64{},
	}
	if err := c.loadBins(); err != nil {
		return nil, err
	}
	if err := c.loadPixels(); err != nil {
		return nil, err
	}
	if binSize != 0 {
		if !c.uniform || c.size != binSize {
			return nil, fmt.Errorf("%s: bin size %d not available", dir, binSize)
		}
	}
	return c, nil
}

func (c *coolDir) loadBins() error {
	in, err := openTable(c.dir, "bins.tsv")
	if err != nil {
		return err
	}
	defer in.Close()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return fmt.Errorf("%s/bins.tsv line %d: expected chrom start end, got %q", c.dir, lineno, line)
		}
		start, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%s/bins.tsv line %d: %w", c.dir, lineno, err)
		}
		end, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("%s/bins.tsv line %d: %w", c.dir, lineno, err)
		}
		chrom := fields[0]
		if len(c.spans) == 0 || c.spans[len(c.spans)-1].name != chrom {
			if _, dup := c.byName[chrom]; dup {
				return fmt.Errorf("%s/bins.tsv line %d: bins of chromosome %s are not contiguous", c.dir, lineno, chrom)
			}
			c.byName[chrom] = len(c.spans)
			c.spans = append(c.spans, chromSpan{name: chrom, offset: len(c.bins)})
		}
		c.spans[len(c.spans)-1].nBins++
		c.bins = append(c.bins, coolBin{chrom: chrom, start: start, end: end})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s/bins.tsv: %w", c.dir, err)
	}
	if len(c.bins) == 0 {
		return fmt.Errorf("%s/bins.tsv: no bins", c.dir)
	}
	// The bin size is uniform if all bins are as wide as the first;
	// each chromosome's final bin may be clipped short.
	c.size = int(c.bins[0].end - c.bins[0].start)
	c.uniform = true
	for i, b := range c.bins {
		w := int(b.end - b.start)
		if w == c.size {
			continue
		}
		sp := c.spans[c.byName[b.chrom]]
		if i == sp.offset+sp.nBins-1 && w < c.size {
			continue
		}
		c.uniform = false
		break
	}
	return nil
}

func (c *coolDir) loadPixels() error {
	in, err := openTable(c.dir, "pixels.tsv")
	if err != nil {
		return err
	}
	defer in.Close()
	offsets := make([]int, len(c.spans))
	for i, sp := range c.spans {
		offsets[i] = sp.offset
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return fmt.Errorf("%s/pixels.tsv line %d: expected bin1_id bin2_id count, got %q", c.dir, lineno, line)
		}
		bin1, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("%s/pixels.tsv line %d: %w", c.dir, lineno, err)
		}
		bin2, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("%s/pixels.tsv line %d: %w", c.dir, lineno, err)
		}
		count, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fmt.Errorf("%s/pixels.tsv line %d: %w", c.dir, lineno, err)
		}
		if bin1 < 0 || bin1 >= len(c.bins) || bin2 < 0 || bin2 >= len(c.bins) {
			return fmt.Errorf("%s/pixels.tsv line %d: bin id out of range", c.dir, lineno)
		}
		c.total += count
		i1 := sort.SearchInts(offsets, bin1+1) - 1
		sp := c.spans[i1]
		if bin2 < sp.offset || bin2 >= sp.offset+sp.nBins {
			// inter-chromosomal contact: counts toward the total only
			continue
		}
		i, j := bin1-sp.offset, bin2-sp.offset
		if i > j {
			i, j = j, i
		}
		// accumulate, so a dump that stores both triangles of the
		// symmetric matrix folds into one entry per cell
		cells := c.pixels[sp.name]
		if cells == nil {
			cells = map[[2]int]float64{}
			c.pixels[sp.name] = cells
		}
		cells[[2]int{i, j}] += count
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s/pixels.tsv: %w", c.dir, err)
	}
	return nil
}

func (c *coolDir) binSize() (int, bool) {
	return c.size, c.uniform
}

func (c *coolDir) binCount() int {
	return len(c.bins)
}

func (c *coolDir) chroms() []chromSpan {
	return c.spans
}

func (c *coolDir) binTable() []coolBin {
	return c.bins
}

func (c *coolDir) totalContacts() float64 {
	return c.total
}

func (c *coolDir) subMatrix(name string) (*sparse.COO, error) {
	idx, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s: chromosome %q not found", c.dir, name)
	}
	n := c.spans[idx].nBins
	cells := c.pixels[name]
	keys := make([][2]int, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a][0] != keys[b][0] {
			return keys[a][0] < keys[b][0]
		}
		return keys[a][1] < keys[b][1]
	})
	rows := make([]int, 0, len(keys))
	cols := make([]int, 0, len(keys))
	vals := make([]float64, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, k[0])
		cols = append(cols, k[1])
		vals = append(vals, cells[k])
	}
	return sparse.NewCOO(n, n, rows, cols, vals), nil
}

// openTable opens dir/name, falling back to dir/name.gz with transparent
// decompression.
func openTable(dir, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	f, err = os.Open(filepath.Join(dir, name+".gz"))
	if err != nil {
		return nil, fmt.Errorf("open %s[.gz] in %s: %w", name, dir, err)
	}
	zr, err := pgzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s.gz in %s: %w", name, dir, err)
	}
	return gzReadCloser{zr, f}, nil
}

type gzReadCloser struct {
	*pgzip.Reader
	f *os.File
}

func (g gzReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// medianBinWidth averages the two middle widths for even-length tables.
func medianBinWidth(bins []coolBin) int {
	widths := make([]float64, len(bins))
	for i, b := range bins {
		widths[i] = float64(b.end - b.start)
	}
	sort.Float64s(widths)
	n := len(widths)
	med := widths[n/2]
	if n%2 == 0 {
		med = (widths[n/2-1] + widths[n/2]) / 2
	}
	return int(med)
}
