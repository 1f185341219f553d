// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aclements/go-link/symtab"
)

// StubMagic is the first line of an export table.
const StubMagic = "STUB"

// ReadStub reads an export table from r. Each line after the magic line
// is "sym value". A hex value is the symbol's absolute address. Any
// other value names the shared image that defines the symbol, which is
// recorded as a dependency of the returned image.
func ReadStub(r io.Reader, name string) (*symtab.SharedImage, error) {
	l := newLineReader(r, name)
	line, err := l.next("magic number")
	if err != nil {
		return nil, err
	}
	if line != StubMagic {
		return nil, l.errorf("bad magic number %q", line)
	}
	img := &symtab.SharedImage{Name: name, Exports: make(map[string]uint64)}
	deps := make(map[string]bool)
	for l.s.Scan() {
		l.line++
		f := strings.Fields(l.s.Text())
		if len(f) == 0 {
			continue
		}
		if len(f) != 2 {
			return nil, l.errorf("want sym value, got %q", l.s.Text())
		}
		if _, dup := img.Exports[f[0]]; dup {
			return nil, l.errorf("symbol %s listed twice", f[0])
		}
		if addr, ok := parseHex(f[1]); ok {
			img.Exports[f[0]] = addr
			continue
		}
		if !deps[f[1]] {
			deps[f[1]] = true
			img.Deps = append(img.Deps, f[1])
		}
	}
	if err := l.s.Err(); err != nil {
		return nil, err
	}
	return img, nil
}

// WriteStub writes the exports of img to w, sorted by name, followed by
// the dependencies of img as "sym lib" lines for each name in imports.
// imports maps symbol names to the shared image that defines them.
func WriteStub(w io.Writer, img *symtab.SharedImage, imports map[string]string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, StubMagic)
	names := make([]string, 0, len(img.Exports)+len(imports))
	for n := range img.Exports {
		names = append(names, n)
	}
	for n := range imports {
		if _, ok := img.Exports[n]; !ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for _, n := range names {
		if addr, ok := img.Exports[n]; ok {
			fmt.Fprintf(bw, "%s %X\n", n, addr)
		} else {
			fmt.Fprintf(bw, "%s %s\n", n, imports[n])
		}
	}
	return bw.Flush()
}
