// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lib

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/symtab"
	"github.com/aclements/go-link/wrap"
)

// mod returns a module that defines each name in defs and references
// each name in refs.
func mod(name string, defs []string, refs ...string) *obj.Module {
	m := &obj.Module{
		Name:     name,
		Segments: []*obj.Segment{{Name: ".text", Kind: obj.CodeSeg, Size: 4 * uint64(len(refs)+1)}},
	}
	m.Segments[0].Data = make([]byte, m.Segments[0].Size)
	for _, d := range defs {
		m.Syms = append(m.Syms, obj.Sym{Name: d, Kind: obj.SymDefined})
	}
	for i, r := range refs {
		m.Relocs = append(m.Relocs, obj.Reloc{Segment: 0, Offset: 4 * uint64(i), Ref: obj.SymRef(r), Kind: obj.RelocA4})
	}
	return m
}

func names(mods []*obj.Module) []string {
	var out []string
	for _, m := range mods {
		out = append(out, m.String())
	}
	return out
}

func TestChain(t *testing.T) {
	libc := NewIndex("libc", []*obj.Module{
		mod("a.o", []string{"a"}, "b"),
		mod("b.o", []string{"b"}),
		mod("c.o", []string{"c"}),
	})
	r := &Resolver{Libraries: []Library{libc}}
	mods, tab, err := r.Run([]*obj.Module{mod("main.o", []string{"main"}, "a")})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"main.o", "libc(a.o)", "libc(b.o)"}; !reflect.DeepEqual(names(mods), want) {
		t.Errorf("want modules %v, got %v", want, names(mods))
	}
	if _, ok := tab.Lookup("c"); ok {
		t.Errorf("unneeded member c.o was pulled")
	}

	// Running again after the fixed point adds nothing.
	again, _, err := r.Run(mods)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != len(mods) {
		t.Errorf("second run added %v", names(again[len(mods):]))
	}
}

func TestLibraryOrder(t *testing.T) {
	lib1 := NewIndex("lib1", []*obj.Module{mod("x1.o", []string{"x"})})
	lib2 := NewIndex("lib2", []*obj.Module{mod("x2.o", []string{"x"}), mod("y2.o", []string{"y"})})
	r := &Resolver{Libraries: []Library{lib1, lib2}}
	mods, tab, err := r.Run([]*obj.Module{mod("main.o", nil, "x", "y")})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"main.o", "lib1(x1.o)", "lib2(y2.o)"}; !reflect.DeepEqual(names(mods), want) {
		t.Errorf("want modules %v, got %v", want, names(mods))
	}
	if e, _ := tab.Lookup("x"); e.Module != 1 {
		t.Errorf("x resolved to module %d, want lib1's", e.Module)
	}
}

func TestSameMemberOnce(t *testing.T) {
	libm := NewIndex("libm", []*obj.Module{mod("trig.o", []string{"sin", "cos"})})
	var log []string
	r := &Resolver{
		Libraries: []Library{libm},
		Logf:      func(format string, args ...interface{}) { log = append(log, fmt.Sprintf(format, args...)) },
	}
	mods, _, err := r.Run([]*obj.Module{mod("main.o", nil, "sin", "cos")})
	if err != nil {
		t.Fatal(err)
	}
	if len(mods) != 2 {
		t.Errorf("want 2 modules, got %v", names(mods))
	}
	if want := []string{"pulled libm(trig.o) for sin"}; !reflect.DeepEqual(log, want) {
		t.Errorf("want log %q, got %q", want, log)
	}
}

func TestUndefined(t *testing.T) {
	libc := NewIndex("libc", []*obj.Module{mod("a.o", []string{"a"}, "c")})
	r := &Resolver{Libraries: []Library{libc}}
	_, _, err := r.Run([]*obj.Module{mod("main.o", nil, "a", "b")})
	var ue *symtab.UndefinedError
	if !errors.As(err, &ue) {
		t.Fatalf("want *symtab.UndefinedError, got %v", err)
	}
	if want := []string{"b", "c"}; !reflect.DeepEqual(ue.Names, want) {
		t.Errorf("want undefined %v, got %v", want, ue.Names)
	}
}

type brokenLib struct{}

func (brokenLib) Name() string { return "broken" }

func (brokenLib) Lookup(sym string) (MemberID, bool) { return "gone.o", sym == "a" }

func (brokenLib) Load(id MemberID) (*obj.Module, error) {
	return nil, fmt.Errorf("open %s: no such file", id)
}

func TestMemberMissing(t *testing.T) {
	r := &Resolver{Libraries: []Library{brokenLib{}}}
	_, _, err := r.Run([]*obj.Module{mod("main.o", nil, "a")})
	var me *MemberMissingError
	if !errors.As(err, &me) {
		t.Fatalf("want *MemberMissingError, got %v", err)
	}
	if me.Library != "broken" || me.Member != "gone.o" {
		t.Errorf("want broken(gone.o), got %s(%s)", me.Library, me.Member)
	}
}

func TestSharedAfterLibraries(t *testing.T) {
	libc := NewIndex("libc", []*obj.Module{mod("puts.o", []string{"puts"})})
	shared := &symtab.SharedImage{Name: "libc.so", Exports: map[string]uint64{"puts": 0x60000000, "exit": 0x60000100}}
	r := &Resolver{Libraries: []Library{libc}, Options: symtab.Options{Shared: []*symtab.SharedImage{shared}}}
	mods, tab, err := r.Run([]*obj.Module{mod("main.o", nil, "puts", "exit")})
	if err != nil {
		t.Fatal(err)
	}
	if len(mods) != 2 {
		t.Errorf("want puts.o pulled, got %v", names(mods))
	}
	if e, _ := tab.Lookup("puts"); e.Shared != "" {
		t.Errorf("puts satisfied by %s, want the library member", e.Shared)
	}
	if e, _ := tab.Lookup("exit"); e.Shared != "libc.so" {
		t.Errorf("exit not satisfied by the shared image: %+v", e)
	}
}

func TestWrappedMember(t *testing.T) {
	libc := NewIndex("libc", []*obj.Module{mod("malloc.o", []string{"malloc"})})
	w := wrap.New([]string{"malloc"})
	main := mod("main.o", nil, "malloc")
	trace := mod("trace.o", []string{"__wrap_malloc"}, "__real_malloc")
	w.Apply(main)
	w.Apply(trace)
	r := &Resolver{Libraries: []Library{libc}, Wrap: w}
	mods, tab, err := r.Run([]*obj.Module{main, trace})
	if err != nil {
		t.Fatal(err)
	}
	if len(mods) != 3 {
		t.Fatalf("want malloc.o pulled, got %v", names(mods))
	}
	if e, ok := tab.Lookup("__real_malloc"); !ok || e.Module != 2 {
		t.Errorf("__real_malloc not bound to the library member: %+v", e)
	}
}

func TestIndexLoadCopies(t *testing.T) {
	orig := mod("a.o", []string{"a"})
	x := NewIndex("libc", []*obj.Module{orig})
	m, err := x.Load("a.o")
	if err != nil {
		t.Fatal(err)
	}
	m.Syms[0].Name = "changed"
	m.Segments[0].Data[0] = 1
	if orig.Syms[0].Name != "a" || orig.Segments[0].Data[0] != 0 || orig.Member != nil {
		t.Errorf("Load aliases the stored member")
	}
	if m.Member == nil || m.String() != "libc(a.o)" {
		t.Errorf("loaded member has provenance %v", m.Member)
	}
	if _, err := x.Load("b.o"); err == nil {
		t.Errorf("Load of unknown member succeeded")
	}
}
