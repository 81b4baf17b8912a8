// Copyright (C) The hicrep-go Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package hicrep

import (
	"io/ioutil"
	"os"

	"github.com/klauspost/pgzip"
	"gopkg.in/check.v1"
)

type coolSuite struct{}

var _ = check.Suite(&coolSuite{})

const testBins = `chr1	0	10
chr1	10	20
chr1	20	30
chr1	30	40
chr1	40	50
chr1	50	60
chr1	60	70
chr1	70	80
chr2	0	10
chr2	10	20
chr2	20	30
chr2	30	37
`

const testPixels = `0	1	5
1	2	8
2	3	6
0	2	3
9	8	2
9	10	7
10	11	3
8	10	4
3	9	7
`

func writeCoolDir(c *check.C, bins, pixels string, gzPixels bool) string {
	dir := c.MkDir()
	err := ioutil.WriteFile(dir+"/bins.tsv", []byte(bins), 0644)
	c.Assert(err, check.IsNil)
	if gzPixels {
		f, err := os.Create(dir + "/pixels.tsv.gz")
		c.Assert(err, check.IsNil)
		zw := pgzip.NewWriter(f)
		_, err = zw.Write([]byte(pixels))
		c.Assert(err, check.IsNil)
		c.Assert(zw.Close(), check.IsNil)
		c.Assert(f.Close(), check.IsNil)
	} else {
		err = ioutil.WriteFile(dir+"/pixels.tsv", []byte(pixels), 0644)
		c.Assert(err, check.IsNil)
	}
	return dir
}

func (s *coolSuite) TestOpenCool(c *check.C) {
	for _, gz := range []bool{false, true} {
		dir := writeCoolDir(c, testBins, testPixels, gz)
		f, err := openCool(dir, 0)
		c.Assert(err, check.IsNil)

		size, uniform := f.binSize()
		c.Check(uniform, check.Equals, true, check.Commentf("clipped final chr2 bin should not break uniformity"))
		c.Check(size, check.Equals, 10)
		c.Check(f.binCount(), check.Equals, 12)
		c.Check(f.chroms(), check.DeepEquals, []chromSpan{
			{name: "chr1", offset: 0, nBins: 8},
			{name: "chr2", offset: 8, nBins: 4},
		})
		// includes the inter-chromosomal pixel (3,9)
		c.Check(f.totalContacts(), check.Equals, 45.0)

		m1, err := f.subMatrix("chr1")
		c.Assert(err, check.IsNil)
		nr, nc := m1.Dims()
		c.Check(nr, check.Equals, 8)
		c.Check(nc, check.Equals, 8)
		c.Check(m1.NNZ(), check.Equals, 4)
		c.Check(m1.At(0, 1), check.Equals, 5.0)
		c.Check(m1.At(0, 2), check.Equals, 3.0)

		m2, err := f.subMatrix("chr2")
		c.Assert(err, check.IsNil)
		nr, _ = m2.Dims()
		c.Check(nr, check.Equals, 4)
		// (9,8) was stored lower-triangular and must come back as (0,1)
		c.Check(m2.At(0, 1), check.Equals, 2.0)
		c.Check(m2.At(1, 2), check.Equals, 7.0)
		c.Check(m2.At(2, 3), check.Equals, 3.0)
		c.Check(m2.At(0, 2), check.Equals, 4.0)
		c.Check(m2.NNZ(), check.Equals, 4)

		_, err = f.subMatrix("chrX")
		c.Check(err, check.ErrorMatches, `.*chromosome "chrX" not found`)
	}
}

func (s *coolSuite) TestBothTrianglePixels(c *check.C) {
	// a dump that stores both triangles of the symmetric matrix must
	// coalesce the folded duplicates into one entry per cell
	bins := "chr1\t0\t10\nchr1\t10\t20\nchr1\t20\t30\nchr1\t30\t40\n"
	upper := "0\t1\t5\n0\t2\t3\n1\t2\t8\n2\t3\t6\n"
	both := upper + "1\t0\t5\n2\t0\t3\n2\t1\t8\n3\t2\t6\n"
	f1, err := openCool(writeCoolDir(c, bins, both, false), 0)
	c.Assert(err, check.IsNil)
	f2, err := openCool(writeCoolDir(c, bins, upper, false), 0)
	c.Assert(err, check.IsNil)
	m1, err := f1.subMatrix("chr1")
	c.Assert(err, check.IsNil)
	m2, err := f2.subMatrix("chr1")
	c.Assert(err, check.IsNil)
	c.Check(m1.NNZ(), check.Equals, m2.NNZ())
	c.Check(m1.At(0, 1), check.Equals, 10.0)
	c.Check(m1.At(0, 2), check.Equals, 6.0)
	// the two storage conventions describe the same contacts, so they
	// still correlate perfectly
	checkNear(c, sccByDiag(trimDiags(m1, 4), trimDiags(m2, 4), 4), 1, 1e-12)
}

func (s *coolSuite) TestBinSizeSelection(c *check.C) {
	dir := writeCoolDir(c, testBins, testPixels, false)
	_, err := openCool(dir, 10)
	c.Check(err, check.IsNil)
	_, err = openCool(dir, 5000)
	c.Check(err, check.ErrorMatches, ".*bin size 5000 not available")
}

func (s *coolSuite) TestNonUniformBins(c *check.C) {
	bins := `chr1	0	10
chr1	10	30
chr1	30	40
chr1	40	50
`
	dir := writeCoolDir(c, bins, "0\t1\t3\n1\t2\t4\n2\t3\t5\n", false)
	f, err := openCool(dir, 0)
	c.Assert(err, check.IsNil)
	_, uniform := f.binSize()
	c.Check(uniform, check.Equals, false)
	c.Check(medianBinWidth(f.binTable()), check.Equals, 10)

	_, err = openCool(dir, 10)
	c.Check(err, check.ErrorMatches, ".*bin size 10 not available")

	// even bin count with differing middle widths: the median averages
	// the two middle elements
	bins = `chr1	0	10
chr1	10	20
chr1	20	40
chr1	40	60
`
	dir = writeCoolDir(c, bins, "0\t1\t3\n", false)
	f, err = openCool(dir, 0)
	c.Assert(err, check.IsNil)
	c.Check(medianBinWidth(f.binTable()), check.Equals, 15)
}

func (s *coolSuite) TestBadInput(c *check.C) {
	dir := writeCoolDir(c, testBins, "0\t99\t1\n", false)
	_, err := openCool(dir, 0)
	c.Check(err, check.ErrorMatches, ".*bin id out of range")

	dir = writeCoolDir(c, "chr1\t0\tten\n", "", false)
	_, err = openCool(dir, 0)
	c.Check(err, check.NotNil)

	dir = c.MkDir()
	_, err = openCool(dir, 0)
	c.Check(err, check.ErrorMatches, `open bins.tsv\[.gz\] in .*`)

	// chromosome bins must be contiguous
	dir = writeCoolDir(c, "chr1\t0\t10\nchr2\t0\t10\nchr1\t10\t20\n", "", false)
	_, err = openCool(dir, 0)
	c.Check(err, check.ErrorMatches, ".*not contiguous")

	// an open failure other than "not exist" must not be masked by the
	// .gz fallback
	dir = c.MkDir()
	err = ioutil.WriteFile(dir+"/notadir", nil, 0644)
	c.Assert(err, check.IsNil)
	_, err = openCool(dir+"/notadir", 0)
	c.Check(err, check.ErrorMatches, "open .*/bins.tsv: not a directory")
}
