// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package got builds the global offset table and procedure linkage
// stubs of a position-independent link.
//
// The table and stubs are ordinary synthetic modules. Each GOT slot is
// a 4-byte word named name@got carrying an A4 relocation against name,
// so the relocation engine fills it in like any other word. Each stub
// is an indirect jump through a slot, named name@plt.
package got

import (
	"fmt"
	"io"

	"github.com/aclements/go-link/arch"
	"github.com/aclements/go-link/asm"
	"github.com/aclements/go-link/layout"
	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/symtab"
)

const (
	GOTModuleName = "<got>"
	PLTModuleName = "<plt>"

	SlotSize = 4
	StubSize = 8
)

// SlotName returns the name of the slot symbol for sym.
func SlotName(sym string) string { return sym + "@got" }

// StubName returns the name of the stub symbol for sym.
func StubName(sym string) string { return sym + "@plt" }

// A stubTemplate is the machine code of one stub. The 4-byte absolute
// address of the slot goes at offset field.
type stubTemplate struct {
	code  [StubSize]byte
	field uint64
}

var stubTemplates = map[string]stubTemplate{
	// JMP [addr32]; NOP; NOP
	"386": {[StubSize]byte{0xff, 0x25, 0, 0, 0, 0, 0x90, 0x90}, 2},
	// JMP [addr32] via SIB with no base or index; NOP
	"amd64": {[StubSize]byte{0xff, 0x24, 0x25, 0, 0, 0, 0, 0x90}, 3},
}

// Table is the GOT of one link. Slots are assigned in the order
// symbols are first added, and the table cannot grow once frozen.
type Table struct {
	Arch *arch.Arch

	// Slots lists the symbol of each slot in slot order.
	Slots []string
	// Stubs lists the symbols that have a stub, in stub order.
	Stubs []string

	// GOT and PLT are the synthetic modules holding the slots and
	// stubs. They are set by Freeze, and are nil if empty.
	GOT, PLT *obj.Module

	slot   map[string]int
	stub   map[string]int
	frozen bool
	tab    *symtab.Table
}

// New returns an empty table for a.
func New(a *arch.Arch) *Table {
	return &Table{Arch: a, slot: make(map[string]int), stub: make(map[string]int)}
}

// Build scans the relocations of mods and returns the frozen GOT they
// need. tab must be the symbol table of mods. A symbol gets a slot when
// first referenced by a GOT-class relocation, or by an ER4 relocation if
// a shared image defines it. ER4 references to shared symbols also get a
// stub.
func Build(mods []*obj.Module, tab *symtab.Table, a *arch.Arch) (*Table, error) {
	g := New(a)
	for _, m := range mods {
		for i := range m.Relocs {
			r := &m.Relocs[i]
			if !r.Kind.GOT() && r.Kind != obj.RelocER4 {
				continue
			}
			if !r.Ref.IsSym() {
				return nil, &obj.BoundsError{Module: m.String(), Segment: m.Segment(r.Segment).String(), Offset: r.Offset,
					Detail: fmt.Sprintf("%s relocation against %s", r.Kind, r.Ref)}
			}
			if _, ok := m.LocalSym(r.Ref.Sym); ok {
				if r.Kind == obj.RelocER4 {
					continue
				}
				return nil, &obj.BoundsError{Module: m.String(), Segment: m.Segment(r.Segment).String(), Offset: r.Offset,
					Detail: fmt.Sprintf("%s relocation against local symbol %s", r.Kind, r.Ref.Sym)}
			}
			if r.Kind.GOT() {
				g.Add(r.Ref.Sym, false)
			} else if e, ok := tab.Lookup(r.Ref.Sym); ok && e.Shared != "" {
				g.Add(r.Ref.Sym, true)
			}
		}
	}
	if err := g.Freeze(); err != nil {
		return nil, err
	}
	return g, nil
}

// Add gives sym a slot, and a stub if stub is set, and returns its slot
// index. Adding a symbol again returns its existing slot. Add panics if
// g is frozen.
func (g *Table) Add(sym string, stub bool) int {
	if g.frozen {
		panic("got: Add on frozen table")
	}
	i, ok := g.slot[sym]
	if !ok {
		i = len(g.Slots)
		g.slot[sym] = i
		g.Slots = append(g.Slots, sym)
	}
	if _, ok := g.stub[sym]; stub && !ok {
		g.stub[sym] = len(g.Stubs)
		g.Stubs = append(g.Stubs, sym)
	}
	return i
}

// Freeze synthesizes the GOT and PLT modules. No slots may be added
// after Freeze.
func (g *Table) Freeze() error {
	if g.frozen {
		return nil
	}
	var tmpl stubTemplate
	if len(g.Stubs) > 0 {
		var ok bool
		tmpl, ok = stubTemplates[g.Arch.GoArch]
		if !ok {
			return fmt.Errorf("no procedure linkage stub for architecture %s", g.Arch)
		}
	}
	g.frozen = true

	if len(g.Slots) > 0 {
		var flags obj.SegmentFlags
		flags.SetReadable(true)
		flags.SetWritable(true)
		flags.SetPresent(true)
		size := uint64(SlotSize * len(g.Slots))
		m := &obj.Module{
			Name:     GOTModuleName,
			Segments: []*obj.Segment{{Name: ".got", Kind: obj.GOTSeg, Size: size, Align: SlotSize, Data: make([]byte, size), SegmentFlags: flags}},
		}
		for i, sym := range g.Slots {
			off := uint64(SlotSize * i)
			m.Syms = append(m.Syms, synthetic(SlotName(sym), off, SlotSize))
			m.Relocs = append(m.Relocs, obj.Reloc{Segment: 0, Offset: off, Ref: obj.SymRef(sym), Kind: obj.RelocA4})
		}
		g.GOT = m
	}

	if len(g.Stubs) > 0 {
		var flags obj.SegmentFlags
		flags.SetReadable(true)
		flags.SetPresent(true)
		size := uint64(StubSize * len(g.Stubs))
		m := &obj.Module{
			Name:     PLTModuleName,
			Segments: []*obj.Segment{{Name: ".plt", Kind: obj.CodeSeg, Size: size, Align: StubSize, Data: make([]byte, 0, size), SegmentFlags: flags}},
		}
		for i, sym := range g.Stubs {
			off := uint64(StubSize * i)
			m.Segments[0].Data = append(m.Segments[0].Data, tmpl.code[:]...)
			m.Syms = append(m.Syms, synthetic(StubName(sym), off, StubSize))
			m.Relocs = append(m.Relocs, obj.Reloc{Segment: 0, Offset: off + tmpl.field, Ref: obj.SymRef(SlotName(sym)), Kind: obj.RelocA4})
		}
		g.PLT = m
	}
	return nil
}

func synthetic(name string, off, size uint64) obj.Sym {
	s := obj.Sym{Name: name, Kind: obj.SymDefined, Segment: 0, Value: off, Size: size}
	s.SetSynthetic(true)
	return s
}

// Frozen reports whether g can no longer grow.
func (g *Table) Frozen() bool {
	return g.frozen
}

// Modules returns the synthetic modules of g, in the order they should
// be appended to the link.
func (g *Table) Modules() []*obj.Module {
	var out []*obj.Module
	if g.GOT != nil {
		out = append(out, g.GOT)
	}
	if g.PLT != nil {
		out = append(out, g.PLT)
	}
	return out
}

// Slot returns the slot index of sym.
func (g *Table) Slot(sym string) (int, bool) {
	i, ok := g.slot[sym]
	return i, ok
}

// Bind records the final, bound symbol table of the link, which must
// include g's modules. The address methods require a bound table.
func (g *Table) Bind(tab *symtab.Table) {
	if !g.frozen {
		panic("got: Bind on unfrozen table")
	}
	g.tab = tab
}

func (g *Table) addr(name string) (uint64, bool) {
	if g.tab == nil {
		panic("got: address lookup on unbound table")
	}
	e, ok := g.tab.Lookup(name)
	if !ok {
		return 0, false
	}
	return e.Addr, true
}

// Base returns the address of the GOT.
func (g *Table) Base() uint64 {
	if len(g.Slots) == 0 {
		return 0
	}
	addr, _ := g.addr(SlotName(g.Slots[0]))
	return addr
}

// SlotAddr returns the address of the slot of sym.
func (g *Table) SlotAddr(sym string) (uint64, bool) {
	if _, ok := g.slot[sym]; !ok {
		return 0, false
	}
	return g.addr(SlotName(sym))
}

// SlotValue returns the value the slot of sym holds once relocated,
// which is the address of sym.
func (g *Table) SlotValue(sym string) (uint64, bool) {
	if _, ok := g.slot[sym]; !ok {
		return 0, false
	}
	return g.addr(sym)
}

// StubAddr returns the address of the stub of sym.
func (g *Table) StubAddr(sym string) (uint64, bool) {
	if _, ok := g.stub[sym]; !ok {
		return 0, false
	}
	return g.addr(StubName(sym))
}

// pltData returns the window of img holding the stubs.
func (g *Table) pltData(img *layout.Image) (*obj.Data, error) {
	for mi, m := range img.Map.Modules() {
		if m == g.PLT {
			return img.Data(mi, 0), nil
		}
	}
	return nil, fmt.Errorf("%s module not in image", PLTModuleName)
}

// VerifyStubs decodes every relocated stub in img and checks that it is
// an indirect jump through its slot.
func (g *Table) VerifyStubs(img *layout.Image) error {
	if g.PLT == nil {
		return nil
	}
	d, err := g.pltData(img)
	if err != nil {
		return err
	}
	for i, sym := range g.Stubs {
		pc := d.Addr + uint64(StubSize*i)
		want, ok := g.SlotAddr(sym)
		if !ok {
			return fmt.Errorf("stub %s: no slot", StubName(sym))
		}
		seq, err := asm.Disasm(g.Arch, d.P[StubSize*i:StubSize*(i+1)], pc)
		if err != nil {
			return err
		}
		c := seq.Get(0).Control()
		if c.Type != asm.ControlJump || c.Conditional || !c.Indirect {
			return fmt.Errorf("stub %s at %#x: not an indirect jump: %s", StubName(sym), pc, seq.Get(0).GoSyntax(nil))
		}
		if c.MemAddr != want {
			return fmt.Errorf("stub %s at %#x: jumps through %#x, want slot at %#x", StubName(sym), pc, c.MemAddr, want)
		}
	}
	return nil
}

// Listing writes the slots of g and a disassembly of its stubs to w.
func (g *Table) Listing(w io.Writer, img *layout.Image) error {
	for i, sym := range g.Slots {
		addr, _ := g.SlotAddr(sym)
		val, _ := g.SlotValue(sym)
		if _, err := fmt.Fprintf(w, "slot %d\t%#x\t%s\t= %#x\n", i, addr, sym, val); err != nil {
			return err
		}
	}
	if g.PLT == nil {
		return nil
	}
	d, err := g.pltData(img)
	if err != nil {
		return err
	}
	for i, sym := range g.Stubs {
		text := d.P[StubSize*i : StubSize*(i+1)]
		seq, err := asm.Disasm(g.Arch, text, d.Addr+uint64(StubSize*i))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s:\n", StubName(sym)); err != nil {
			return err
		}
		if err := asm.Fprint(w, seq, text, g.tab.Symbolize); err != nil {
			return err
		}
	}
	return nil
}
