// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout assigns addresses to the segments of a set of modules
// and builds the bytes of the linked image.
//
// Segments are grouped by kind. The groups are laid out in the order
// code, data, GOT, uninitialized. Within a group, segments appear in
// module input order and then in declaration order. Fixed segments are
// placed at their declared address before anything else. Layout is a
// pure function of its inputs, so the same modules in the same order
// always produce the same addresses.
package layout

import (
	"fmt"

	"github.com/aclements/go-link/internal/span"
	"github.com/aclements/go-link/obj"
)

// Config controls where each group starts. Zero fields take their
// default value.
type Config struct {
	// TextStart is the address of the code group.
	TextStart uint64
	// DataAlign is the boundary the data group starts on. It need not
	// be a power of two.
	DataAlign uint64
	// GOTAlign is the boundary the GOT group starts on.
	GOTAlign uint64
	// BSSAlign is the boundary the uninitialized group starts on.
	BSSAlign uint64
}

const (
	DefaultTextStart = 0x1000
	DefaultDataAlign = 0x1000
	DefaultGOTAlign  = 4
	DefaultBSSAlign  = 4
)

func (c Config) withDefaults() Config {
	if c.TextStart == 0 {
		c.TextStart = DefaultTextStart
	}
	if c.DataAlign == 0 {
		c.DataAlign = DefaultDataAlign
	}
	if c.GOTAlign == 0 {
		c.GOTAlign = DefaultGOTAlign
	}
	if c.BSSAlign == 0 {
		c.BSSAlign = DefaultBSSAlign
	}
	return c
}

// boundary returns the boundary group kind k starts on.
func (c Config) boundary(k obj.SegmentKind) uint64 {
	switch k {
	case obj.DataSeg:
		return c.DataAlign
	case obj.GOTSeg:
		return c.GOTAlign
	case obj.UninitSeg:
		return c.BSSAlign
	}
	return 1
}

var groupNames = [obj.NumSegmentKinds]string{
	obj.CodeSeg:   ".text",
	obj.DataSeg:   ".data",
	obj.GOTSeg:    ".got",
	obj.UninitSeg: ".bss",
}

// A Segment is one segment of the linked image.
type Segment struct {
	Name  string
	Kind  obj.SegmentKind
	Addr  uint64
	Size  uint64
	Fixed bool

	// Parts lists the input segments placed in this segment, in
	// address order.
	Parts []Part
}

// End returns the address just past s.
func (s *Segment) End() uint64 {
	return s.Addr + s.Size
}

// A Part is an input segment placed in an output Segment.
type Part struct {
	Module, Segment int
	Addr            uint64
	Size            uint64
}

// A Map records the placement of every input segment.
type Map struct {
	// Segments lists the output segments: fixed segments first in
	// input order, then the kind groups in group order. Empty groups
	// are omitted. A group split by a fixed segment contributes one
	// output segment per piece.
	Segments []*Segment

	mods  []*obj.Module
	bases [][]uint64
	out   [][]int // index into Segments, by module and segment
}

// Lay places the segments of mods.
//
// Grouped segments flow around fixed segments: a segment that would
// overlap a fixed placement moves past it, and its group continues in a
// new output segment with the same name.
//
// It returns an *AlignmentError if a fixed segment's address is not a
// multiple of its alignment, or if two fixed segments overlap.
func Lay(mods []*obj.Module, cfg Config) (*Map, error) {
	cfg = cfg.withDefaults()
	m := &Map{
		mods:  mods,
		bases: make([][]uint64, len(mods)),
		out:   make([][]int, len(mods)),
	}
	for i, mod := range mods {
		m.bases[i] = make([]uint64, len(mod.Segments))
		m.out[i] = make([]int, len(mod.Segments))
	}

	var used span.Set
	place := func(mi, si int, addr uint64) error {
		seg := mods[mi].Segments[si]
		owner := mods[mi].String() + ":" + seg.Name
		sp := span.Span{Low: addr, High: addr + seg.Size, Owner: owner}
		if conflict, ok := used.Insert(sp); !ok {
			return &AlignmentError{
				Module:  mods[mi].String(),
				Segment: seg.Name,
				Addr:    addr,
				Detail:  fmt.Sprintf("overlaps %s", conflict),
			}
		}
		m.bases[mi][si] = addr
		return nil
	}

	// Fixed segments keep their declared address.
	for mi, mod := range mods {
		for si, seg := range mod.Segments {
			if !seg.Fixed() {
				continue
			}
			if a := seg.Alignment(); seg.Addr%a != 0 {
				return nil, &AlignmentError{
					Module:  mod.String(),
					Segment: seg.Name,
					Addr:    seg.Addr,
					Detail:  fmt.Sprintf("not aligned to %#x", a),
				}
			}
			if err := place(mi, si, seg.Addr); err != nil {
				return nil, err
			}
			m.out[mi][si] = len(m.Segments)
			m.Segments = append(m.Segments, &Segment{
				Name:  seg.Name,
				Kind:  seg.Kind,
				Addr:  seg.Addr,
				Size:  seg.Size,
				Fixed: true,
				Parts: []Part{{mi, si, seg.Addr, seg.Size}},
			})
		}
	}

	addr := cfg.TextStart
	for k := obj.SegmentKind(0); k < obj.NumSegmentKinds; k++ {
		if k != obj.CodeSeg {
			addr = obj.AlignUpTo(addr, cfg.boundary(k))
		}
		var out *Segment
		flush := func() {
			if out != nil && len(out.Parts) > 0 {
				out.Size = addr - out.Addr
				m.Segments = append(m.Segments, out)
			}
			out = nil
		}
		for mi, mod := range mods {
			for si, seg := range mod.Segments {
				if seg.Fixed() || seg.Kind != k {
					continue
				}
				a := seg.Alignment()
				base := obj.AlignUp(addr, a)
				moved := false
				for {
					c, ok := used.Overlap(span.Span{Low: base, High: base + seg.Size})
					if !ok {
						break
					}
					base = obj.AlignUp(c.High, a)
					moved = true
				}
				if moved {
					// A fixed segment sits in the way. Close the
					// current piece of the group and resume past it.
					flush()
				}
				if out == nil {
					start := addr
					if moved {
						start = base
					}
					out = &Segment{Name: groupNames[k], Kind: k, Addr: start}
				}
				if err := place(mi, si, base); err != nil {
					return nil, err
				}
				m.out[mi][si] = len(m.Segments)
				out.Parts = append(out.Parts, Part{mi, si, base, seg.Size})
				addr = base + seg.Size
			}
		}
		flush()
	}
	return m, nil
}

// Modules returns the modules m places.
func (m *Map) Modules() []*obj.Module {
	return m.mods
}

// Base returns the address of segment seg of module mod.
func (m *Map) Base(mod, seg int) uint64 {
	return m.bases[mod][seg]
}

// Output returns the output segment containing segment seg of module
// mod.
func (m *Map) Output(mod, seg int) *Segment {
	return m.Segments[m.out[mod][seg]]
}

// Group returns the first output segment of the kind group k, or nil if
// the group is empty.
func (m *Map) Group(k obj.SegmentKind) *Segment {
	for _, s := range m.Segments {
		if !s.Fixed && s.Kind == k {
			return s
		}
	}
	return nil
}

// End returns the address just past the highest placed segment.
func (m *Map) End() uint64 {
	var end uint64
	for _, s := range m.Segments {
		if e := s.End(); e > end {
			end = e
		}
	}
	return end
}

// An AlignmentError reports a segment that cannot be placed at its
// address.
type AlignmentError struct {
	Module  string
	Segment string
	Addr    uint64
	Detail  string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("%s: segment %s at %#x: %s", e.Module, e.Segment, e.Addr, e.Detail)
}
