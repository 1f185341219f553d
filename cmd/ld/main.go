// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ld links LINK object files into an executable or shared
// image.
//
// Usage:
//
//	ld [flags] file.lk...
//
// Inputs, libraries, and layout parameters can also come from a YAML
// configuration given with -config. Flags override the configuration,
// and list flags append to it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/aclements/go-link/link"
)

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(s string) error {
	*l = append(*l, s)
	return nil
}

var (
	flagConfig  = flag.String("config", "", "read link configuration from `file`")
	flagOutput  = flag.String("o", "", "write output to `file` (default a.out)")
	flagMap     = flag.String("map", "", "write a link map to `file`")
	flagStubDir = flag.String("stubdir", "", "write the stub library of a shared output to `dir`")
	flagArch    = flag.String("arch", "", "target `arch`itecture: 386 or amd64 (default 386)")
	flagPIC     = flag.Bool("pic", false, "enable GOT and linkage stub relocations")
	flagShared  = flag.Bool("shared", false, "produce a shared image and its stub (implies -pic)")
	flagText    = flag.Uint64("T", 0, "start the text segment at `addr`")
	flagData    = flag.Uint64("D", 0, "align the start of data to `n` bytes")
	flagVerbose = flag.Bool("v", false, "trace link stages")

	flagWrap         stringList
	flagLib          stringList
	flagSharedImages stringList
)

func init() {
	flag.Var(&flagWrap, "wrap", "wrap references to `symbol` (repeatable)")
	flag.Var(&flagLib, "l", "search the static `library` (repeatable)")
	flag.Var(&flagSharedImages, "s", "import from the shared `image` stub (repeatable)")
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: ld [flags] file.lk...\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetPrefix("ld: ")
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	cfg := new(Config)
	if *flagConfig != "" {
		var err error
		if cfg, err = loadConfig(*flagConfig); err != nil {
			log.Fatal(err)
		}
	}
	applyFlags(cfg)
	cfg.Objects = append(cfg.Objects, flag.Args()...)
	cfg.withDefaults()
	if len(cfg.Objects) == 0 {
		usage()
	}

	req, err := cfg.request()
	if err != nil {
		log.Fatal(err)
	}
	if *flagVerbose {
		req.Logf = log.Printf
	}
	res, err := link.Link(req)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.write(res); err != nil {
		log.Fatal(err)
	}
}

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o":
			cfg.Output = *flagOutput
		case "map":
			cfg.Map = *flagMap
		case "stubdir":
			cfg.StubDir = *flagStubDir
		case "arch":
			cfg.Arch = *flagArch
		case "pic":
			cfg.PIC = *flagPIC
		case "shared":
			cfg.Shared = *flagShared
		case "T":
			cfg.TextStart = *flagText
		case "D":
			cfg.DataAlign = *flagData
		}
	})
	cfg.Wrap = append(cfg.Wrap, flagWrap...)
	cfg.Libraries = append(cfg.Libraries, flagLib...)
	cfg.SharedImages = append(cfg.SharedImages, flagSharedImages...)
}
