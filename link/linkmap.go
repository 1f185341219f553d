// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/aclements/go-link/symtab"
)

// WriteMap writes a link map of res to w: the output segments and where
// each input segment landed, the global symbols by address, and the GOT
// slots and stubs of a position-independent link.
func (res *Result) WriteMap(w io.Writer) error {
	bw := bufio.NewWriter(w)
	mods := res.Map.Modules()

	fmt.Fprintf(bw, "segments:\n")
	for _, s := range res.Map.Segments {
		fmt.Fprintf(bw, "%s\t%#x\t%#x\t%s\n", s.Name, s.Addr, s.Size, s.Kind)
		for _, p := range s.Parts {
			fmt.Fprintf(bw, "\t%#x\t%#x\t%s(%s)\n", p.Addr, p.Size, mods[p.Module], mods[p.Module].Segments[p.Segment].Name)
		}
	}

	ents := append([]symtab.Entry(nil), res.Table.Entries()...)
	sort.SliceStable(ents, func(i, j int) bool { return ents[i].Addr < ents[j].Addr })
	fmt.Fprintf(bw, "\nsymbols:\n")
	for _, e := range ents {
		switch {
		case e.Shared != "":
			fmt.Fprintf(bw, "%#x\t%s\t[%s]\n", e.Addr, e.Name, e.Shared)
		case e.Module < 0 || e.Segment < 0:
			fmt.Fprintf(bw, "%#x\t%s\t(absolute)\n", e.Addr, e.Name)
		default:
			fmt.Fprintf(bw, "%#x\t%s\t%s\n", e.Addr, e.Name, mods[e.Module])
		}
	}

	if res.GOT != nil && len(res.GOT.Slots) > 0 {
		fmt.Fprintf(bw, "\ngot:\n")
		if err := res.GOT.Listing(bw, res.Image); err != nil {
			return err
		}
	}
	return bw.Flush()
}
