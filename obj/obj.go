// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obj is the in-memory representation of relocatable object
// modules: their segments, symbols, and relocations.
//
// A Module owns its segments, symbols, and relocations. Relocations
// never point at symbols directly; they name them (or name a segment of
// their own module), and the linker resolves those names against a
// link-scoped symbol table. This keeps modules free to be merged,
// reordered, and rewritten without dangling references.
package obj

import (
	"fmt"
	"strings"
)

// A Module is one relocatable object module.
type Module struct {
	// Name identifies this module in diagnostics. For input files this
	// is usually the file name.
	Name string

	// Segments is the module's segment table, in declaration order.
	// Segment indexes used by Syms and Relocs refer to this slice.
	Segments []*Segment

	// Syms is the module's symbol table, in declaration order.
	Syms []Sym

	// Relocs lists the relocations of this module, in file order.
	Relocs []Reloc

	// Member records where this module came from if it was pulled out
	// of a library, or nil for a primary module.
	Member *Member
}

// A Member identifies a library member a module was loaded from.
type Member struct {
	Library string
	Name    string
}

func (m *Member) String() string {
	return m.Library + "(" + m.Name + ")"
}

// String returns a description of m suitable for diagnostics.
func (m *Module) String() string {
	if m == nil {
		return "<nil>"
	}
	if m.Member != nil {
		return m.Member.String()
	}
	return m.Name
}

// Segment returns the segment with the given index, or nil if i is out
// of range.
func (m *Module) Segment(i int) *Segment {
	if i < 0 || i >= len(m.Segments) {
		return nil
	}
	return m.Segments[i]
}

// Clone returns a deep copy of m. The linker rewrites the modules it is
// given, so libraries hand out clones of their members.
func (m *Module) Clone() *Module {
	c := *m
	c.Segments = make([]*Segment, len(m.Segments))
	for i, s := range m.Segments {
		cs := *s
		if s.Data != nil {
			cs.Data = append([]byte(nil), s.Data...)
		}
		c.Segments[i] = &cs
	}
	c.Syms = append([]Sym(nil), m.Syms...)
	c.Relocs = append([]Reloc(nil), m.Relocs...)
	if m.Member != nil {
		mem := *m.Member
		c.Member = &mem
	}
	return &c
}

// LocalSym returns the module-local definition of name, if any. A
// module-local definition shadows any global symbol of the same name
// for references made from this module.
func (m *Module) LocalSym(name string) (*Sym, bool) {
	for i := range m.Syms {
		s := &m.Syms[i]
		if s.Name == name && s.Local() && s.Defined() {
			return s, true
		}
	}
	return nil, false
}

// SegmentKind classifies a segment for layout purposes.
type SegmentKind uint8

const (
	// CodeSeg segments hold instructions and read-only data.
	CodeSeg SegmentKind = iota
	// DataSeg segments hold initialized writable data.
	DataSeg
	// GOTSeg is the kind of the synthesized global offset table.
	GOTSeg
	// UninitSeg segments have a length but no content (bss).
	UninitSeg

	NumSegmentKinds = iota
)

var segmentKindNames = [...]string{
	CodeSeg:   "code",
	DataSeg:   "data",
	GOTSeg:    "got",
	UninitSeg: "uninit",
}

func (k SegmentKind) String() string {
	if int(k) < len(segmentKindNames) {
		return segmentKindNames[k]
	}
	return fmt.Sprintf("SegmentKind(%d)", k)
}

// A Segment is a contiguous region of a module's content.
type Segment struct {
	// Name is the name of this segment, such as ".text" or ".data".
	Name string

	// Kind is the layout group this segment belongs to.
	Kind SegmentKind

	// Size is the declared length of the segment in bytes.
	Size uint64

	// Align is the required alignment of the segment's base address.
	// It must be a power of two. Zero is treated as 1.
	Align uint64

	// Addr is the declared start address. It is only meaningful for
	// Fixed segments; other segments are placed by the linker.
	Addr uint64

	// Data is the segment's content. It is nil for Uninit segments and
	// otherwise has length Size.
	Data []byte

	// SegmentFlags stores flags for this segment. This field is
	// embedded so Segment inherits the methods of SegmentFlags.
	SegmentFlags
}

// Alignment returns s's alignment, treating 0 as 1.
func (s *Segment) Alignment() uint64 {
	if s.Align == 0 {
		return 1
	}
	return s.Align
}

// HasData reports whether s carries content bytes.
func (s *Segment) HasData() bool {
	return s.Kind != UninitSeg
}

func (s *Segment) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}

// KindFromFlags returns the segment kind implied by a segment's
// readable/writable/present flags: segments not present in the object
// file are uninitialized, writable ones are data, and everything else is
// code.
func KindFromFlags(f SegmentFlags) SegmentKind {
	switch {
	case !f.Present():
		return UninitSeg
	case f.Writable():
		return DataSeg
	}
	return CodeSeg
}

// SegmentFlags is a set of segment flags.
type SegmentFlags struct {
	f segmentFlags
}

type segmentFlags uint8

const (
	segmentFlagReadable segmentFlags = 1 << iota
	segmentFlagWritable
	segmentFlagPresent
	segmentFlagFixed
)

// Readable indicates a segment is readable at run time ('R').
func (s SegmentFlags) Readable() bool { return s.f&segmentFlagReadable != 0 }

// Writable indicates a segment is writable at run time ('W').
func (s SegmentFlags) Writable() bool { return s.f&segmentFlagWritable != 0 }

// Present indicates a segment's content is present in the object file
// ('P').
func (s SegmentFlags) Present() bool { return s.f&segmentFlagPresent != 0 }

// Fixed indicates a segment is placed at its declared address rather
// than grouped with other segments of its kind ('F').
func (s SegmentFlags) Fixed() bool { return s.f&segmentFlagFixed != 0 }

func (s *SegmentFlags) set(bit segmentFlags, v bool) {
	if v {
		s.f |= bit
	} else {
		s.f &^= bit
	}
}

// SetReadable sets the Readable flag to v.
func (s *SegmentFlags) SetReadable(v bool) { s.set(segmentFlagReadable, v) }

// SetWritable sets the Writable flag to v.
func (s *SegmentFlags) SetWritable(v bool) { s.set(segmentFlagWritable, v) }

// SetPresent sets the Present flag to v.
func (s *SegmentFlags) SetPresent(v bool) { s.set(segmentFlagPresent, v) }

// SetFixed sets the Fixed flag to v.
func (s *SegmentFlags) SetFixed(v bool) { s.set(segmentFlagFixed, v) }

// String returns the flags in the object format's letter notation, for
// example "RWP".
func (s SegmentFlags) String() string {
	var buf strings.Builder
	if s.Readable() {
		buf.WriteByte('R')
	}
	if s.Writable() {
		buf.WriteByte('W')
	}
	if s.Present() {
		buf.WriteByte('P')
	}
	if s.Fixed() {
		buf.WriteByte('F')
	}
	return buf.String()
}

// AlignUp rounds x up to a multiple of y, where y must be a power of 2.
func AlignUp(x, y uint64) uint64 {
	if y == 0 {
		return x
	}
	if y&(y-1) != 0 {
		panic("y must be a power of 2")
	}
	return (x + y - 1) &^ (y - 1)
}

// AlignUpTo rounds x up to a multiple of n, where n need not be a power
// of two. Group boundaries in link configurations are arbitrary.
func AlignUpTo(x, n uint64) uint64 {
	if n == 0 {
		return x
	}
	if rem := x % n; rem != 0 {
		return x + (n - rem)
	}
	return x
}
