// Copyright (C) The hicrep-go Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package hicrep

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

const defaultExcludeChr = "chrM,M"

type sccCommand struct{}

func (cmd *sccCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	binSize := flags.Int("binSize", 0, "select this bin size (bp) from the input; 0 means the inputs are single-resolution")
	h := flags.Int("h", -1, "half-size of the 2d mean filter applied to the input matrices; the window is 1+2*h bins wide, 0 disables smoothing")
	dBPMax := flags.Int64("dBPMax", 0, "only consider contacts at most this `distance` (bp) from the diagonal; -1 means no cutoff (the original HiCRep paper used 5000000 for human)")
	bDownSample := flags.Bool("bDownSample", false, "downsample the input with more contacts to the total of the other, instead of dividing each input by its own total")
	chrNames := flags.String("chrNames", "", "comma-separated `names` of the chromosomes to score, in output order; default is all chromosomes in the first input")
	excludeChr := flags.String("excludeChr", defaultExcludeChr, "comma-separated `names` of chromosomes to skip; mitochondrial chromosomes are skipped by default")
	seed := flags.Uint64("seed", 10, "random `seed` for downsampling, for reproducible runs")
	threads := flags.Int("threads", 0, "max chromosomes scored concurrently (default GOMAXPROCS)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if flags.NArg() != 3 {
		err = fmt.Errorf("usage: %s [options] input1 input2 outputfile", prog)
		return 2
	}
	if *h < 0 {
		err = errors.New("-h is required and must be >= 0")
		return 2
	}
	if *dBPMax == 0 || *dBPMax < -1 {
		err = errors.New("-dBPMax is required and must be positive, or -1 for no cutoff")
		return 2
	}
	if *chrNames != "" && *excludeChr != defaultExcludeChr {
		err = errors.New("use -chrNames or -excludeChr, not both")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	params := sccParams{
		h:          *h,
		dBPMax:     *dBPMax,
		seed:       *seed,
		threads:    *threads,
		excludeChr: map[string]bool{},
	}
	if *bDownSample {
		params.norm = normDownSample
	}
	if *chrNames != "" {
		params.chrNames = splitNames(*chrNames)
	}
	for _, name := range splitNames(*excludeChr) {
		if params.excludeChr[name] {
			err = fmt.Errorf("duplicate chromosome %q in excludeChr", name)
			return 2
		}
		params.excludeChr[name] = true
	}

	log.Printf("loading %s", flags.Arg(0))
	f1, err := openCool(flags.Arg(0), *binSize)
	if err != nil {
		return 1
	}
	log.Printf("loading %s", flags.Arg(1))
	f2, err := openCool(flags.Arg(1), *binSize)
	if err != nil {
		return 1
	}

	scc, err := hicrepSCC(f1, f2, params)
	if err != nil {
		return 1
	}

	fout := flags.Arg(2)
	var output io.WriteCloser
	if fout == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(fout, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	if strings.HasSuffix(fout, ".npy") {
		var npw *gonpy.NpyWriter
		npw, err = gonpy.NewWriter(nopCloser{bufw})
		if err != nil {
			return 1
		}
		npw.Shape = []int{len(scc)}
		err = npw.WriteFloat64(scc)
		if err != nil {
			return 1
		}
	} else {
		// one score per chromosome, preceded by a header recording
		// the invocation
		fmt.Fprintf(bufw, "# %s %s\n", prog, strings.Join(args, " "))
		for _, v := range scc {
			fmt.Fprintf(bufw, "%30.15e\n", v)
		}
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func splitNames(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
