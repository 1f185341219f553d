// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ldlib builds static libraries from LINK object files.
//
// Usage:
//
//	ldlib [-file] lib file.lk...
//	ldlib -t lib
//
// By default ldlib creates a directory library. With -file it writes a
// single-file library. With -t it lists the members of an existing
// library and the symbols each defines.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/aclements/go-link/archive"
	"github.com/aclements/go-link/lib"
	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/objfile"
)

var (
	flagFile = flag.Bool("file", false, "write a single-file library")
	flagList = flag.Bool("t", false, "list the members of a library")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: ldlib [-file] lib file.lk...\n       ldlib -t lib\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetPrefix("ldlib: ")
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if *flagList {
		if flag.NArg() != 1 {
			usage()
		}
		if err := list(os.Stdout, flag.Arg(0)); err != nil {
			log.Fatal(err)
		}
		return
	}

	if flag.NArg() < 2 {
		usage()
	}
	if err := build(flag.Arg(0), flag.Args()[1:], *flagFile); err != nil {
		log.Fatal(err)
	}
}

// build creates library out from the object files paths. Members are
// named by the base names of their files.
func build(out string, paths []string, file bool) error {
	var mods []*obj.Module
	seen := make(map[string]bool)
	for _, path := range paths {
		m, err := objfile.ReadFile(path)
		if err != nil {
			return err
		}
		m.Name = filepath.Base(path)
		if seen[m.Name] {
			return fmt.Errorf("duplicate member %s", m.Name)
		}
		seen[m.Name] = true
		mods = append(mods, m)
	}
	if file {
		return archive.BuildFile(out, mods)
	}
	return archive.BuildDir(out, mods)
}

// list writes one line per member of the library at path: the member
// ID, its provenance, and the symbols it exports.
func list(w io.Writer, path string) error {
	l, err := archive.Open(path)
	if err != nil {
		return err
	}
	var ids []lib.MemberID
	switch l := l.(type) {
	case *archive.DirLib:
		ids = l.Members()
	case *archive.FileLib:
		ids = l.Members()
	}
	for _, id := range ids {
		m, err := l.Load(id)
		if err != nil {
			return &lib.MemberMissingError{Library: l.Name(), Member: string(id), Err: err}
		}
		fmt.Fprintf(w, "%s\t%s", id, m)
		for _, s := range lib.Exports(m) {
			fmt.Fprintf(w, " %s", s)
		}
		fmt.Fprintln(w)
	}
	return nil
}
