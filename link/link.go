// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package link combines object modules and library members into one
// linked image.
//
// A link runs in ordered stages: symbol wrapping, library search to a
// fixed point, GOT construction for position-independent links, segment
// layout, and relocation. Every stage works on values owned by the link,
// so independent links may run concurrently.
package link

import (
	"fmt"
	"sort"

	"github.com/aclements/go-link/arch"
	"github.com/aclements/go-link/got"
	"github.com/aclements/go-link/layout"
	"github.com/aclements/go-link/lib"
	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/reloc"
	"github.com/aclements/go-link/symtab"
	"github.com/aclements/go-link/wrap"
)

// A Request describes one link.
type Request struct {
	// Modules are the primary inputs, in link order. Link does not
	// modify them.
	Modules []*obj.Module

	// Libraries are searched in order for undefined symbols.
	Libraries []lib.Library

	// Shared lists the export tables of shared images that may satisfy
	// symbols no module or library defines.
	Shared []*symtab.SharedImage

	// Wrap lists the symbols whose references go through __wrap_
	// functions.
	Wrap []string

	// PIC enables the GOT-class and ER4 relocations.
	PIC bool

	// SharedOutput requests an export table for the linked image.
	SharedOutput bool

	// Arch is the target architecture. The default is arch.I386.
	Arch *arch.Arch

	Layout layout.Config

	// Name names the linked module. The default is "a.out".
	Name string

	// Logf, if non-nil, receives a line of progress for each stage.
	Logf func(format string, args ...interface{})
}

// An Export is one entry of the export table of a shared image.
type Export struct {
	Name string
	Addr uint64
}

// A Result is a successful link.
type Result struct {
	// Module is the linked image. Its segments are fixed at their
	// final addresses and carry relocated content, its symbols are
	// absolute, and it has no relocations.
	Module *obj.Module

	// Modules is the final input set: primary modules, pulled library
	// members, and synthetic modules.
	Modules []*obj.Module

	Map   *layout.Map
	Table *symtab.Table
	Image *layout.Image

	// GOT is nil unless the link is position-independent.
	GOT *got.Table

	// Exports and Deps are set for SharedOutput links. Exports is
	// sorted by name. Deps names the shared images this one uses.
	Exports []Export
	Deps    []string

	// Imports maps each symbol satisfied by a shared image to the name
	// of that image.
	Imports map[string]string
}

func (req *Request) logf(format string, args ...interface{}) {
	if req.Logf != nil {
		req.Logf(format, args...)
	}
}

// Link performs the link described by req.
func Link(req *Request) (*Result, error) {
	a := req.Arch
	if a == nil {
		a = arch.I386
	}
	name := req.Name
	if name == "" {
		name = "a.out"
	}

	w := wrap.New(req.Wrap)
	mods := make([]*obj.Module, len(req.Modules))
	for i, m := range req.Modules {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		mods[i] = m.Clone()
		w.Apply(mods[i])
	}

	opts := symtab.Options{Shared: req.Shared, Unwrap: w.Unwrap}
	r := &lib.Resolver{Libraries: req.Libraries, Wrap: w, Options: opts, Logf: req.Logf}
	mods, tab, err := r.Run(mods)
	if err != nil {
		return nil, err
	}
	req.logf("resolved %d modules, %d symbols", len(tab.Modules()), len(tab.Entries()))

	var g *got.Table
	if req.PIC {
		g, err = got.Build(mods, tab, a)
		if err != nil {
			return nil, err
		}
		if extra := g.Modules(); len(extra) > 0 {
			mods = append(mods, extra...)
			if tab, err = symtab.Resolve(mods, opts); err != nil {
				return nil, err
			}
			if err := tab.Check(); err != nil {
				return nil, err
			}
		}
		req.logf("GOT has %d slots, %d stubs", len(g.Slots), len(g.Stubs))
	}

	lay, err := layout.Lay(tab.Modules(), req.Layout)
	if err != nil {
		return nil, err
	}
	tab.Bind(lay.Base)
	if g != nil {
		g.Bind(tab)
	}
	req.logf("laid out %d segments ending at %#x", len(lay.Segments), lay.End())

	img := layout.NewImage(lay, a.Layout)
	if err := reloc.Apply(img, tab, g); err != nil {
		return nil, err
	}
	if g != nil {
		if err := g.VerifyStubs(img); err != nil {
			return nil, fmt.Errorf("internal error: %w", err)
		}
	}

	res := &Result{
		Modules: tab.Modules(),
		Map:     lay,
		Table:   tab,
		Image:   img,
		GOT:     g,
		Imports: make(map[string]string),
	}
	res.Module = res.output(name)
	for _, e := range tab.Entries() {
		if e.Shared != "" {
			res.Imports[e.Name] = e.Shared
		}
	}
	if req.SharedOutput {
		res.Exports = res.exports()
		res.Deps = tab.SharedDeps()
		req.logf("exported %d symbols", len(res.Exports))
	}
	return res, nil
}

// output builds the linked module.
func (res *Result) output(name string) *obj.Module {
	out := &obj.Module{Name: name}
	for i, s := range res.Map.Segments {
		var flags obj.SegmentFlags
		flags.SetReadable(true)
		flags.SetWritable(s.Kind != obj.CodeSeg)
		flags.SetPresent(s.Kind != obj.UninitSeg)
		flags.SetFixed(true)
		out.Segments = append(out.Segments, &obj.Segment{
			Name:         s.Name,
			Kind:         s.Kind,
			Size:         s.Size,
			Addr:         s.Addr,
			Data:         res.Image.Bytes[i],
			SegmentFlags: flags,
		})
	}
	for _, e := range res.Table.Entries() {
		if e.Shared != "" {
			continue
		}
		out.Syms = append(out.Syms, obj.Sym{Name: e.Name, Kind: obj.SymAbsolute, Segment: obj.NoSegment, Value: e.Addr})
	}
	return out
}

// exports lists the symbols the image defines for others.
func (res *Result) exports() []Export {
	var out []Export
	mods := res.Table.Modules()
	for _, e := range res.Table.Entries() {
		if e.Shared != "" {
			continue
		}
		if !e.Common {
			if s, ok := definition(mods[e.Module], e.Name); ok && s.Synthetic() {
				continue
			}
		}
		out = append(out, Export{e.Name, e.Addr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func definition(m *obj.Module, name string) (*obj.Sym, bool) {
	for i := range m.Syms {
		s := &m.Syms[i]
		if s.Name == name && !s.Local() && s.Defined() {
			return s, true
		}
	}
	return nil, false
}

// SharedImage returns the export table of a SharedOutput link as a
// shared image named name.
func (res *Result) SharedImage(name string) *symtab.SharedImage {
	img := &symtab.SharedImage{Name: name, Exports: make(map[string]uint64, len(res.Exports)), Deps: res.Deps}
	for _, e := range res.Exports {
		img.Exports[e.Name] = e.Addr
	}
	return img
}
