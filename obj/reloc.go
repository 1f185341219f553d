// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import "fmt"

// A Reloc is a relocation: an instruction to patch a location in one of
// a module's segments once final addresses are known.
type Reloc struct {
	// Segment is the index of the segment containing the patched
	// location.
	Segment int
	// Offset is the byte offset of the patched field within Segment.
	Offset uint64
	// Ref is the target of this relocation.
	Ref Ref
	// Kind determines how the patched value is computed and how wide
	// the patched field is.
	Kind RelocKind
	// Addend is added to the target address before the kind-specific
	// computation.
	Addend int64
	// Aux is auxiliary per-kind data filled in by the linker: the GOT
	// slot for GOT-class kinds, and the half index (0 high, 1 low) for
	// U2 and L2.
	Aux int
}

// Ref is the target of a relocation: either a symbol, by name, or one of
// the relocating module's own segments, by index.
type Ref struct {
	// Sym is the referenced symbol name, or "" for a segment reference.
	Sym string
	// Segment is the referenced segment index for a segment reference.
	Segment int
}

// SymRef returns a Ref to the symbol called name.
func SymRef(name string) Ref {
	return Ref{Sym: name, Segment: NoSegment}
}

// SegRef returns a Ref to segment i of the relocating module.
func SegRef(i int) Ref {
	return Ref{Segment: i}
}

// IsSym reports whether r refers to a symbol.
func (r Ref) IsSym() bool {
	return r.Sym != ""
}

func (r Ref) String() string {
	if r.IsSym() {
		return r.Sym
	}
	return fmt.Sprintf("segment %d", r.Segment)
}

// RelocKind is the kind of a relocation. The set of kinds is fixed by the
// object format; code that switches over kinds should handle all of them
// and panic in the default case.
type RelocKind uint8

const (
	// RelocA4 is a 4-byte absolute address.
	RelocA4 RelocKind = iota
	// RelocR4 is a 4-byte address relative to the patched location.
	RelocR4
	// RelocAS4 is the 4-byte absolute base address of the referenced
	// segment.
	RelocAS4
	// RelocRS4 is the 4-byte base address of the referenced segment,
	// relative to the patched location.
	RelocRS4
	// RelocU2 is the upper 16 bits of an address split across a U2/L2
	// pair.
	RelocU2
	// RelocL2 is the lower 16 bits of an address split across a U2/L2
	// pair.
	RelocL2
	// RelocGA4 is the 4-byte absolute address of the symbol's GOT slot.
	RelocGA4
	// RelocGP4 is the 4-byte offset of the symbol's GOT slot from the
	// GOT base.
	RelocGP4
	// RelocGR4 is the symbol's address, loaded through its GOT slot,
	// relative to the patched location.
	RelocGR4
	// RelocER4 is the 4-byte address of the symbol's procedure linkage
	// stub when the symbol lives in another shared image.
	RelocER4

	numRelocKinds
)

type relocKindInfo struct {
	name   string
	size   int
	signed bool
	got    bool // needs a GOT slot
}

var relocKinds = [numRelocKinds]relocKindInfo{
	RelocA4:  {"A4", 4, false, false},
	RelocR4:  {"R4", 4, true, false},
	RelocAS4: {"AS4", 4, false, false},
	RelocRS4: {"RS4", 4, true, false},
	RelocU2:  {"U2", 2, false, false},
	RelocL2:  {"L2", 2, false, false},
	RelocGA4: {"GA4", 4, false, true},
	RelocGP4: {"GP4", 4, false, true},
	RelocGR4: {"GR4", 4, true, true},
	RelocER4: {"ER4", 4, false, false},
}

func (k RelocKind) info() relocKindInfo {
	if k >= numRelocKinds {
		panic(fmt.Sprintf("bad relocation kind %d", k))
	}
	return relocKinds[k]
}

// String returns the object format's code for k, such as "A4".
func (k RelocKind) String() string {
	if k >= numRelocKinds {
		return fmt.Sprintf("RelocKind(%d)", k)
	}
	return relocKinds[k].name
}

// Size returns the width of the patched field in bytes.
func (k RelocKind) Size() int {
	return k.info().size
}

// Signed reports whether k's value is a signed displacement.
func (k RelocKind) Signed() bool {
	return k.info().signed
}

// GOT reports whether k addresses its symbol through a GOT slot.
func (k RelocKind) GOT() bool {
	return k.info().got
}

// SegmentRef reports whether k's value is derived from a segment base
// rather than a symbol address.
func (k RelocKind) SegmentRef() bool {
	return k == RelocAS4 || k == RelocRS4
}

// ParseRelocKind returns the RelocKind for the object format code s.
func ParseRelocKind(s string) (RelocKind, bool) {
	for k := range relocKinds {
		if relocKinds[k].name == s {
			return RelocKind(k), true
		}
	}
	return 0, false
}

// RelocKinds returns every relocation kind, in declaration order.
func RelocKinds() []RelocKind {
	out := make([]RelocKind, numRelocKinds)
	for i := range out {
		out[i] = RelocKind(i)
	}
	return out
}
