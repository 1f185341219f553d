// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"strings"
)

// NoSegment is a placeholder segment index used by symbols that are not
// defined relative to any segment (undefined, common, and absolute
// symbols).
const NoSegment = -1

// A Sym is an entry in a module's symbol table.
type Sym struct {
	// Name is the string name of this symbol.
	Name string
	// Kind gives the general kind of this symbol.
	Kind SymKind
	// Segment is the index of the segment this symbol is defined in, or
	// NoSegment.
	Segment int
	// Value is the offset of this symbol within Segment for defined
	// symbols, and the absolute value for absolute symbols.
	Value uint64
	// Size is the size of this symbol in bytes, or 0 if unknown. For
	// common symbols this is the requested size.
	Size uint64
	// SymFlags stores flags for this symbol. This field is embedded so Sym
	// inherits the methods of SymFlags.
	SymFlags
}

// SymKind indicates the general kind of a symbol.
type SymKind uint8

const (
	// SymUndef symbols are referenced by this module but not defined
	// in it.
	SymUndef SymKind = 'U'
	// SymDefined symbols are defined at an offset within one of the
	// module's segments.
	SymDefined SymKind = 'D'
	// SymCommon symbols may be declared by several modules; the linker
	// allocates one instance sized to the largest request.
	SymCommon SymKind = 'C'
	// SymAbsolute symbols have an absolute value that won't be changed
	// by linking.
	SymAbsolute SymKind = 'A'
)

// String returns a string representation of k. This is a single character
// in the style of "nm".
func (k SymKind) String() string {
	return string([]byte{byte(k)})
}

// Defined reports whether s has a definition in its module, either
// segment-relative or absolute. Common symbols are not definitions.
func (s *Sym) Defined() bool {
	return s.Kind == SymDefined || s.Kind == SymAbsolute
}

// String returns the name of symbol s.
func (s *Sym) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}

// SymFlags is a set of symbol flags.
type SymFlags struct {
	f symFlags
}

type symFlags uint8

const (
	symFlagLocal symFlags = 1 << iota
	symFlagSynthetic
	symFlagSizeSynthesized
)

// Local indicates a symbol's name is only meaningful within its defining
// module. Local symbols never enter the global symbol table.
func (s SymFlags) Local() bool {
	return s.f&symFlagLocal != 0
}

// SetLocal sets the Local flag to v.
func (s *SymFlags) SetLocal(v bool) {
	if v {
		s.f |= symFlagLocal
	} else {
		s.f &^= symFlagLocal
	}
}

// Synthetic indicates a symbol was created by the linker (GOT slots,
// linkage stubs, wrapper aliases) rather than read from an input.
func (s SymFlags) Synthetic() bool {
	return s.f&symFlagSynthetic != 0
}

// SetSynthetic sets the Synthetic flag to v.
func (s *SymFlags) SetSynthetic(v bool) {
	if v {
		s.f |= symFlagSynthetic
	} else {
		s.f &^= symFlagSynthetic
	}
}

// SizeSynthesized indicates the symbol's size was inferred from the
// offset of the next symbol rather than given by its module.
func (s SymFlags) SizeSynthesized() bool {
	return s.f&symFlagSizeSynthesized != 0
}

// SetSizeSynthesized sets the SizeSynthesized flag to v.
func (s *SymFlags) SetSizeSynthesized(v bool) {
	if v {
		s.f |= symFlagSizeSynthesized
	} else {
		s.f &^= symFlagSizeSynthesized
	}
}

// String returns a string representation of the flags set in s.
func (s SymFlags) String() string {
	if s.f == 0 {
		return "{}"
	}
	var buf strings.Builder
	var sep byte = '{'
	if s.Local() {
		buf.WriteByte(sep)
		buf.WriteString("Local")
		sep = ','
	}
	if s.Synthetic() {
		buf.WriteByte(sep)
		buf.WriteString("Synthetic")
		sep = ','
	}
	if s.SizeSynthesized() {
		buf.WriteByte(sep)
		buf.WriteString("SizeSynthesized")
	}
	buf.WriteByte('}')
	return buf.String()
}
