// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab builds the global symbol table of a link and resolves
// symbol references against it.
//
// A Table is owned by a single link. It is built once by Resolve, bound
// to final addresses once by Bind, and is read-only after that, so it
// may be shared by concurrent readers.
package symtab

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aclements/go-link/obj"
)

// CommonModuleName is the name of the synthetic module that holds the
// storage allocated for common symbols.
const CommonModuleName = "<common>"

// An Entry is a resolved global symbol.
type Entry struct {
	// Name is the symbol name.
	Name string
	// Kind is SymDefined for segment-relative definitions (including
	// allocated commons) and SymAbsolute for absolute values, which
	// includes symbols satisfied by a shared image.
	Kind obj.SymKind
	// Module is the index of the defining module in Table.Modules, or
	// -1 for symbols satisfied by a shared image.
	Module int
	// Segment is the defining segment index within Module, or
	// obj.NoSegment.
	Segment int
	// Value is the offset within Segment, or the absolute value.
	Value uint64
	// Size is the symbol size in bytes, or 0 if unknown.
	Size uint64
	// Shared is the name of the shared image that defines this symbol,
	// or "".
	Shared string
	// Common is set if this symbol was allocated from common
	// declarations.
	Common bool
	// Addr is the absolute address of the symbol. It is valid only
	// after Table.Bind.
	Addr uint64
}

// A SharedImage is the export table of a previously linked shared image.
// Symbols it exports have fixed absolute addresses.
type SharedImage struct {
	Name    string
	Exports map[string]uint64
	// Deps lists the shared images this image itself depends on.
	Deps []string
}

// Table is the global symbol table of one link.
type Table struct {
	mods    []*obj.Module // inputs plus common, if any
	common  *obj.Module
	entries []Entry
	name    map[string]int
	undef   []string
	shared  []string

	// Set by Bind.
	base func(mod, seg int) uint64
	addr []symAddr
}

type symAddr struct {
	addr uint64
	id   int
}

// Options controls Resolve.
type Options struct {
	// Shared lists shared images, in search order, that may satisfy
	// names no module defines.
	Shared []*SharedImage

	// Unwrap, if non-nil, maps a referenced name to the name it is
	// looked up under in shared images, so that __real_x reaches a
	// shared x.
	Unwrap func(name string) string
}

// Resolve scans mods in order and builds their global symbol table.
//
// An exported name defined by more than one module is a
// *DuplicateError. Names declared only as common are allocated once,
// sized to the largest declaration, in a synthetic module appended to
// the table's module list. Names that remain undefined are recorded but
// are not an error here; see Undefined and Check.
func Resolve(mods []*obj.Module, opts Options) (*Table, error) {
	t := &Table{
		mods: mods,
		name: make(map[string]int),
	}

	var commons []string
	commonSize := make(map[string]uint64)
	referenced := make(map[string]bool)
	var refOrder []string
	reference := func(name string) {
		if !referenced[name] {
			referenced[name] = true
			refOrder = append(refOrder, name)
		}
	}

	for mi, m := range mods {
		for si := range m.Syms {
			s := &m.Syms[si]
			if s.Local() {
				continue
			}
			switch s.Kind {
			case obj.SymDefined, obj.SymAbsolute:
				if i, ok := t.name[s.Name]; ok {
					prev := t.entries[i].Module
					if prev == mi {
						return nil, &DuplicateError{Name: s.Name, Modules: []string{m.String()}}
					}
					return nil, &DuplicateError{Name: s.Name, Modules: []string{mods[prev].String(), m.String()}}
				}
				t.name[s.Name] = len(t.entries)
				seg := s.Segment
				if s.Kind == obj.SymAbsolute {
					seg = obj.NoSegment
				}
				t.entries = append(t.entries, Entry{
					Name:    s.Name,
					Kind:    s.Kind,
					Module:  mi,
					Segment: seg,
					Value:   s.Value,
					Size:    s.Size,
				})
			case obj.SymCommon:
				size, ok := commonSize[s.Name]
				if !ok {
					commons = append(commons, s.Name)
				}
				if s.Size > size {
					size = s.Size
				}
				commonSize[s.Name] = size
			case obj.SymUndef:
				reference(s.Name)
			}
		}
		for ri := range m.Relocs {
			r := &m.Relocs[ri]
			if !r.Ref.IsSym() {
				continue
			}
			if _, ok := m.LocalSym(r.Ref.Sym); ok {
				continue
			}
			reference(r.Ref.Sym)
		}
	}

	// Allocate commons that no module defines.
	var cm *obj.Module
	for _, name := range commons {
		if _, ok := t.name[name]; ok {
			// A real definition wins over common declarations.
			continue
		}
		if cm == nil {
			cm = &obj.Module{Name: CommonModuleName}
			var flags obj.SegmentFlags
			flags.SetReadable(true)
			flags.SetWritable(true)
			cm.Segments = []*obj.Segment{{Name: ".bss", Kind: obj.UninitSeg, Align: 1, SegmentFlags: flags}}
		}
		seg := cm.Segments[0]
		size := commonSize[name]
		align := commonAlign(size)
		off := obj.AlignUp(seg.Size, align)
		seg.Size = off + size
		if align > seg.Align {
			seg.Align = align
		}
		var sf obj.SymFlags
		sf.SetSynthetic(true)
		cm.Syms = append(cm.Syms, obj.Sym{Name: name, Kind: obj.SymDefined, Segment: 0, Value: off, Size: size, SymFlags: sf})
		t.name[name] = len(t.entries)
		t.entries = append(t.entries, Entry{
			Name:    name,
			Kind:    obj.SymDefined,
			Module:  len(mods),
			Segment: 0,
			Value:   off,
			Size:    size,
			Common:  true,
		})
	}
	t.common = cm
	if cm != nil {
		t.mods = append(append([]*obj.Module(nil), mods...), cm)
	}

	// Whatever is referenced but not defined is either satisfied by a
	// shared image or still undefined.
	usedShared := make(map[string]bool)
	for _, name := range refOrder {
		if _, ok := t.name[name]; ok {
			continue
		}
		sharedName := name
		if opts.Unwrap != nil {
			sharedName = opts.Unwrap(name)
		}
		if img, addr, ok := lookupShared(opts.Shared, sharedName); ok {
			t.name[name] = len(t.entries)
			t.entries = append(t.entries, Entry{
				Name:    name,
				Kind:    obj.SymAbsolute,
				Module:  -1,
				Segment: obj.NoSegment,
				Value:   addr,
				Shared:  img.Name,
			})
			if !usedShared[img.Name] {
				usedShared[img.Name] = true
				t.shared = append(t.shared, img.Name)
			}
			continue
		}
		t.undef = append(t.undef, name)
	}
	return t, nil
}

func lookupShared(imgs []*SharedImage, name string) (*SharedImage, uint64, bool) {
	for _, img := range imgs {
		if addr, ok := img.Exports[name]; ok {
			return img, addr, true
		}
	}
	return nil, 0, false
}

// commonAlign returns the alignment given to a common symbol of the
// given size: the largest power of two no greater than the size, capped
// at 8.
func commonAlign(size uint64) uint64 {
	a := uint64(1)
	for a < 8 && a*2 <= size {
		a *= 2
	}
	return a
}

// Modules returns the modules this table resolves, including the
// synthetic common module if one was needed. Entry.Module indexes this
// slice.
func (t *Table) Modules() []*obj.Module {
	return t.mods
}

// CommonModule returns the synthetic module holding allocated commons,
// or nil.
func (t *Table) CommonModule() *obj.Module {
	return t.common
}

// Undefined returns the referenced names that no module or shared image
// defines, in order of first reference.
func (t *Table) Undefined() []string {
	return t.undef
}

// SharedDeps returns the names of the shared images that satisfied at
// least one symbol, in order of first use.
func (t *Table) SharedDeps() []string {
	return t.shared
}

// Check returns an *UndefinedError naming every undefined symbol, or nil.
func (t *Table) Check() error {
	if len(t.undef) == 0 {
		return nil
	}
	return &UndefinedError{Names: append([]string(nil), t.undef...)}
}

// Entries returns all entries of t in the order they were defined. The
// caller must not modify the returned slice.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Lookup returns the global symbol called name.
func (t *Table) Lookup(name string) (*Entry, bool) {
	i, ok := t.name[name]
	if !ok {
		return nil, false
	}
	return &t.entries[i], true
}

// Bind assigns absolute addresses to every entry given the base address
// of each laid-out segment, and indexes the entries by address. base is
// retained and must remain valid and unchanging for the life of t.
func (t *Table) Bind(base func(mod, seg int) uint64) {
	t.base = base
	t.addr = t.addr[:0]
	for i := range t.entries {
		e := &t.entries[i]
		if e.Segment == obj.NoSegment {
			e.Addr = e.Value
			continue
		}
		e.Addr = base(e.Module, e.Segment) + e.Value
		t.addr = append(t.addr, symAddr{e.Addr, i})
	}
	sort.SliceStable(t.addr, func(i, j int) bool {
		return t.addr[i].addr < t.addr[j].addr
	})
}

// Bound reports whether Bind has been called.
func (t *Table) Bound() bool {
	return t.base != nil
}

// A Target is the resolved destination of a relocation reference.
type Target struct {
	// Addr is the absolute address of the referenced symbol or segment.
	Addr uint64
	// Module and Segment identify the segment the target lives in, or
	// Segment is obj.NoSegment for absolute and shared targets.
	Module, Segment int
	// Shared is the shared image that defines the target, or "".
	Shared string
	// Name is the global symbol name, or "" for local symbols and
	// segment references.
	Name string
}

// Ref resolves reference r made from module mod. Symbol references
// resolve to a local definition in mod if there is one, and otherwise to
// the global symbol. Ref requires a bound table.
func (t *Table) Ref(mod int, r obj.Ref) (Target, bool) {
	if t.base == nil {
		panic("symtab: Ref on unbound table")
	}
	m := t.mods[mod]
	if !r.IsSym() {
		if m.Segment(r.Segment) == nil {
			return Target{}, false
		}
		return Target{Addr: t.base(mod, r.Segment), Module: mod, Segment: r.Segment}, true
	}
	if s, ok := m.LocalSym(r.Sym); ok {
		if s.Kind == obj.SymAbsolute {
			return Target{Addr: s.Value, Module: mod, Segment: obj.NoSegment}, true
		}
		return Target{Addr: t.base(mod, s.Segment) + s.Value, Module: mod, Segment: s.Segment}, true
	}
	e, ok := t.Lookup(r.Sym)
	if !ok {
		return Target{}, false
	}
	return Target{Addr: e.Addr, Module: e.Module, Segment: e.Segment, Shared: e.Shared, Name: e.Name}, true
}

// SegmentBase returns the bound base address of segment seg of module
// mod.
func (t *Table) SegmentBase(mod, seg int) uint64 {
	return t.base(mod, seg)
}

// Addr returns the symbol at or nearest below addr. A symbol with a
// known size only covers [Addr, Addr+Size). If several symbols share an
// address, the one defined first wins.
func (t *Table) Addr(addr uint64) (*Entry, bool) {
	i := sort.Search(len(t.addr), func(i int) bool {
		return addr < t.addr[i].addr
	}) - 1
	if i < 0 {
		return nil, false
	}
	// Walk back to the first symbol at this address.
	for i > 0 && t.addr[i-1].addr == t.addr[i].addr {
		i--
	}
	e := &t.entries[t.addr[i].id]
	if e.Size != 0 && e.Addr+e.Size <= addr {
		return nil, false
	}
	return e, true
}

// Symbolize returns the name and base address of the symbol containing
// addr, or "", 0. It has the shape disassemblers expect for symbol
// lookup callbacks.
func (t *Table) Symbolize(addr uint64) (string, uint64) {
	if e, ok := t.Addr(addr); ok {
		return e.Name, e.Addr
	}
	return "", 0
}

// A DuplicateError reports an exported symbol defined more than once.
type DuplicateError struct {
	Name string
	// Modules names the two defining modules, or just one if a
	// module defines Name twice.
	Modules []string
}

func (e *DuplicateError) Error() string {
	if len(e.Modules) == 1 {
		return fmt.Sprintf("duplicate definition of %s in %s", e.Name, e.Modules[0])
	}
	return fmt.Sprintf("duplicate definition of %s in %s and %s", e.Name, e.Modules[0], e.Modules[1])
}

// An UndefinedError reports every symbol that remains undefined.
type UndefinedError struct {
	Names []string
}

func (e *UndefinedError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("unresolved external symbol %s", e.Names[0])
	}
	return fmt.Sprintf("%d unresolved external symbols: %s", len(e.Names), strings.Join(e.Names, ", "))
}
