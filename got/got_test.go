// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package got_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/aclements/go-link/arch"
	"github.com/aclements/go-link/got"
	"github.com/aclements/go-link/layout"
	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/reloc"
	"github.com/aclements/go-link/symtab"
)

var libc = &symtab.SharedImage{Name: "libc", Exports: map[string]uint64{"puts": 0x60000000, "exit": 0x60000100}}

func testModules() []*obj.Module {
	r := func(off uint64, sym string, kind obj.RelocKind) obj.Reloc {
		return obj.Reloc{Segment: 0, Offset: off, Ref: obj.SymRef(sym), Kind: kind}
	}
	return []*obj.Module{
		{
			Name:     "main.o",
			Segments: []*obj.Segment{{Name: ".text", Kind: obj.CodeSeg, Size: 16, Data: make([]byte, 16)}},
			Syms:     []obj.Sym{{Name: "main", Kind: obj.SymDefined, Segment: 0}},
			Relocs: []obj.Reloc{
				r(0, "counter", obj.RelocGR4),
				r(4, "puts", obj.RelocER4),
				r(8, "main", obj.RelocER4),
				r(12, "exit", obj.RelocER4),
			},
		},
		{
			Name:     "lib.o",
			Segments: []*obj.Segment{{Name: ".data", Kind: obj.DataSeg, Size: 8, Data: make([]byte, 8)}},
			Syms:     []obj.Sym{{Name: "counter", Kind: obj.SymDefined, Segment: 0}},
			Relocs: []obj.Reloc{
				r(0, "puts", obj.RelocER4),
				r(4, "counter", obj.RelocGA4),
			},
		},
	}
}

func build(t *testing.T, a *arch.Arch) *got.Table {
	t.Helper()
	mods := testModules()
	tab, err := symtab.Resolve(mods, symtab.Options{Shared: []*symtab.SharedImage{libc}})
	if err != nil {
		t.Fatal(err)
	}
	g, err := got.Build(mods, tab, a)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestBuild(t *testing.T) {
	g := build(t, arch.I386)
	if want := []string{"counter", "puts", "exit"}; !reflect.DeepEqual(g.Slots, want) {
		t.Errorf("want slots %v, got %v", want, g.Slots)
	}
	if want := []string{"puts", "exit"}; !reflect.DeepEqual(g.Stubs, want) {
		t.Errorf("want stubs %v, got %v", want, g.Stubs)
	}
	if !g.Frozen() {
		t.Errorf("built table not frozen")
	}

	gm := g.GOT
	if gm.Name != got.GOTModuleName || gm.Segments[0].Kind != obj.GOTSeg || gm.Segments[0].Size != 12 {
		t.Fatalf("bad GOT module %s: %+v", gm.Name, gm.Segments[0])
	}
	for i, s := range gm.Syms {
		if s.Name != got.SlotName(g.Slots[i]) || s.Value != uint64(4*i) {
			t.Errorf("slot symbol %d: got %s at %d", i, s.Name, s.Value)
		}
		if rel := gm.Relocs[i]; rel.Kind != obj.RelocA4 || rel.Ref.Sym != g.Slots[i] || rel.Offset != uint64(4*i) {
			t.Errorf("slot relocation %d: got %+v", i, rel)
		}
	}

	pm := g.PLT
	if pm.Segments[0].Size != 16 || len(pm.Segments[0].Data) != 16 {
		t.Fatalf("bad PLT segment %+v", pm.Segments[0])
	}
	if rel := pm.Relocs[1]; rel.Offset != 8+2 || rel.Ref.Sym != "exit@got" {
		t.Errorf("exit stub relocation: got %+v", rel)
	}
	if err := pm.Validate(); err != nil {
		t.Errorf("PLT module invalid: %v", err)
	}
	if err := gm.Validate(); err != nil {
		t.Errorf("GOT module invalid: %v", err)
	}
}

func TestBuildDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		g1, g2 := build(t, arch.AMD64), build(t, arch.AMD64)
		if !reflect.DeepEqual(g1.Slots, g2.Slots) || !reflect.DeepEqual(g1.PLT.Segments[0].Data, g2.PLT.Segments[0].Data) {
			t.Fatalf("GOT differs between runs")
		}
	}
}

func TestFrozen(t *testing.T) {
	g := build(t, arch.I386)
	defer func() {
		if recover() == nil {
			t.Errorf("Add on frozen table did not panic")
		}
	}()
	g.Add("late", false)
}

func TestNoTemplate(t *testing.T) {
	mods := testModules()
	tab, err := symtab.Resolve(mods, symtab.Options{Shared: []*symtab.SharedImage{libc}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = got.Build(mods, tab, &arch.Arch{Layout: arch.AMD64.Layout, GoArch: "arm64", Bits: 64})
	if err == nil || !strings.Contains(err.Error(), "arm64") {
		t.Errorf("want error naming arm64, got %v", err)
	}
}

func TestLocalGOTReference(t *testing.T) {
	m := &obj.Module{
		Name:     "local.o",
		Segments: []*obj.Segment{{Name: ".text", Kind: obj.CodeSeg, Size: 4, Data: make([]byte, 4)}},
		Syms:     []obj.Sym{{Name: "helper", Kind: obj.SymDefined, Segment: 0}},
		Relocs:   []obj.Reloc{{Segment: 0, Offset: 0, Ref: obj.SymRef("helper"), Kind: obj.RelocGA4}},
	}
	m.Syms[0].SetLocal(true)
	tab, err := symtab.Resolve([]*obj.Module{m}, symtab.Options{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = got.Build([]*obj.Module{m}, tab, arch.I386)
	var be *obj.BoundsError
	if !errors.As(err, &be) {
		t.Errorf("want *obj.BoundsError, got %v", err)
	}
}

func TestVerifyStubs(t *testing.T) {
	for _, a := range []*arch.Arch{arch.I386, arch.AMD64} {
		t.Run(a.String(), func(t *testing.T) {
			mods := testModules()
			opts := symtab.Options{Shared: []*symtab.SharedImage{libc}}
			tab, err := symtab.Resolve(mods, opts)
			if err != nil {
				t.Fatal(err)
			}
			g, err := got.Build(mods, tab, a)
			if err != nil {
				t.Fatal(err)
			}
			mods = append(mods, g.Modules()...)
			if tab, err = symtab.Resolve(mods, opts); err != nil {
				t.Fatal(err)
			}
			m, err := layout.Lay(tab.Modules(), layout.Config{})
			if err != nil {
				t.Fatal(err)
			}
			tab.Bind(m.Base)
			g.Bind(tab)
			img := layout.NewImage(m, a.Layout)
			if err := reloc.Apply(img, tab, g); err != nil {
				t.Fatal(err)
			}
			if err := g.VerifyStubs(img); err != nil {
				t.Fatalf("VerifyStubs: %v", err)
			}

			var buf strings.Builder
			if err := g.Listing(&buf, img); err != nil {
				t.Fatal(err)
			}
			for _, want := range []string{"slot 0", "counter", "puts@plt:", "exit@plt:", "JMP"} {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("listing missing %q:\n%s", want, buf.String())
				}
			}

			// Point the exit stub at the wrong slot.
			plt := img.Data(len(mods)-1, 0)
			slot, _ := g.SlotAddr("puts")
			field := uint64(2)
			if a == arch.AMD64 {
				field = 3
			}
			plt.PutField(plt.Addr+got.StubSize+field, 4, slot)
			err = g.VerifyStubs(img)
			if err == nil || !strings.Contains(err.Error(), "exit@plt") {
				t.Errorf("want error about exit@plt, got %v", err)
			}
		})
	}
}
