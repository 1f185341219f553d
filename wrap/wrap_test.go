// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wrap

import (
	"testing"

	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/symtab"
)

func text(size uint64) []*obj.Segment {
	return []*obj.Segment{{Name: ".text", Kind: obj.CodeSeg, Size: size, Data: make([]byte, size)}}
}

func call(off uint64, sym string) obj.Reloc {
	return obj.Reloc{Segment: 0, Offset: off, Ref: obj.SymRef(sym), Kind: obj.RelocR4}
}

func mallocModules() []*obj.Module {
	return []*obj.Module{
		{
			Name:     "main.o",
			Segments: text(8),
			Syms:     []obj.Sym{{Name: "main", Kind: obj.SymDefined}, {Name: "malloc", Kind: obj.SymUndef, Segment: obj.NoSegment}},
			Relocs:   []obj.Reloc{call(0, "malloc"), call(4, "malloc")},
		},
		{
			Name:     "trace.o",
			Segments: text(4),
			Syms:     []obj.Sym{{Name: "__wrap_malloc", Kind: obj.SymDefined}},
			Relocs:   []obj.Reloc{call(0, "__real_malloc")},
		},
		{
			Name:     "malloc.o",
			Segments: text(16),
			Syms:     []obj.Sym{{Name: "free", Kind: obj.SymDefined}, {Name: "malloc", Kind: obj.SymDefined, Value: 8}},
		},
	}
}

func TestWrapMalloc(t *testing.T) {
	mods := mallocModules()
	w := New([]string{"malloc"})
	for _, m := range mods {
		w.Apply(m)
	}

	for _, r := range mods[0].Relocs {
		if r.Ref.Sym != "__wrap_malloc" {
			t.Errorf("call site not redirected: %s", r.Ref)
		}
	}
	if s := mods[0].Syms[1]; s.Name != "__wrap_malloc" || s.Kind != obj.SymUndef {
		t.Errorf("undefined malloc not renamed: %+v", s)
	}
	if r := mods[1].Relocs[0]; r.Ref.Sym != "__real_malloc" {
		t.Errorf("__real_malloc reference rewritten to %s", r.Ref)
	}

	tab, err := symtab.Resolve(mods, symtab.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := tab.Check(); err != nil {
		t.Fatal(err)
	}
	alias, ok := tab.Lookup("__real_malloc")
	if !ok {
		t.Fatal("__real_malloc not defined")
	}
	orig, _ := tab.Lookup("malloc")
	if alias.Module != 2 || alias.Module != orig.Module || alias.Segment != orig.Segment || alias.Value != orig.Value {
		t.Errorf("__real_malloc = %+v, want the original malloc %+v", alias, orig)
	}
	wrapper, _ := tab.Lookup("__wrap_malloc")
	if wrapper.Module != 1 {
		t.Errorf("__wrap_malloc resolved to module %d", wrapper.Module)
	}
}

func TestApplyIdempotent(t *testing.T) {
	mods := mallocModules()
	w := New([]string{"malloc", "malloc"})
	for _, m := range mods {
		w.Apply(m)
	}
	for _, m := range mods {
		if w.Apply(m) {
			t.Errorf("second Apply changed %s", m)
		}
	}
	if n := len(mods[2].Syms); n != 3 {
		t.Errorf("want 3 symbols in malloc.o, got %d", n)
	}
}

func TestLocalNotWrapped(t *testing.T) {
	m := &obj.Module{
		Name:     "static.o",
		Segments: text(8),
		Syms:     []obj.Sym{{Name: "malloc", Kind: obj.SymDefined}},
		Relocs:   []obj.Reloc{call(4, "malloc")},
	}
	m.Syms[0].SetLocal(true)
	if New([]string{"malloc"}).Apply(m) {
		t.Errorf("local malloc was rewritten")
	}
	if m.Relocs[0].Ref.Sym != "malloc" || len(m.Syms) != 1 {
		t.Errorf("module changed: %+v", m)
	}
}

func TestUnwrap(t *testing.T) {
	w := New([]string{"malloc"})
	check := func(in, want string) {
		t.Helper()
		if got := w.Unwrap(in); got != want {
			t.Errorf("Unwrap(%q) = %q, want %q", in, got, want)
		}
	}
	check("__real_malloc", "malloc")
	check("__real_free", "__real_free")
	check("malloc", "malloc")
	var nilw *Wrapper
	if nilw.Wrapped("malloc") || nilw.Apply(mallocModules()[0]) {
		t.Errorf("nil Wrapper wraps")
	}
}
