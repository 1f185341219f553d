// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/aclements/go-link/archive"
	"github.com/aclements/go-link/link"
	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/objfile"
)

func TestReadConfig(t *testing.T) {
	const in = `
output: prog
map: prog.map
arch: amd64
pic: true
text_start: 0x400000
data_align: 0x200000
wrap: [malloc, free]
libraries: [lib/libc]
shared_images: [libm.stub]
objects: [main.lk, util.lk]
`
	c, err := readConfig(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Output:       "prog",
		Map:          "prog.map",
		Arch:         "amd64",
		PIC:          true,
		TextStart:    0x400000,
		DataAlign:    0x200000,
		Wrap:         []string{"malloc", "free"},
		Libraries:    []string{"lib/libc"},
		SharedImages: []string{"libm.stub"},
		Objects:      []string{"main.lk", "util.lk"},
	}
	if !reflect.DeepEqual(c, want) {
		t.Errorf("want %+v, got %+v", want, c)
	}
}

func TestReadConfigEmpty(t *testing.T) {
	c, err := readConfig(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	c.withDefaults()
	if c.Output != "a.out" || c.Arch != "386" {
		t.Errorf("bad defaults %+v", c)
	}
}

func TestReadConfigUnknownField(t *testing.T) {
	if _, err := readConfig(strings.NewReader("outptu: x\n")); err == nil {
		t.Errorf("misspelled key accepted")
	}
}

func TestRequestUnknownArch(t *testing.T) {
	c := &Config{Arch: "vax", Objects: []string{"x.lk"}}
	if _, err := c.request(); err == nil || !strings.Contains(err.Error(), "vax") {
		t.Errorf("want unknown architecture error, got %v", err)
	}
}

func writeModule(t *testing.T, path string, m *obj.Module) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := objfile.Write(f, m); err != nil {
		t.Fatal(err)
	}
}

func textModule(name string, def string, refs ...string) *obj.Module {
	size := uint64(4 * (1 + len(refs)))
	m := &obj.Module{
		Name:     name,
		Segments: []*obj.Segment{{Name: ".text", Kind: obj.CodeSeg, Size: size, Data: make([]byte, size)}},
		Syms:     []obj.Sym{{Name: def, Kind: obj.SymDefined, Segment: 0}},
	}
	for i, r := range refs {
		m.Relocs = append(m.Relocs, obj.Reloc{Segment: 0, Offset: uint64(4 * (i + 1)), Ref: obj.SymRef(r), Kind: obj.RelocA4})
	}
	return m
}

func TestLinkFiles(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, filepath.Join(dir, "main.lk"), textModule("main.lk", "main", "puts"))
	if err := archive.BuildDir(filepath.Join(dir, "libc"), []*obj.Module{textModule("puts.o", "puts")}); err != nil {
		t.Fatal(err)
	}

	c := &Config{
		Output:    filepath.Join(dir, "libmain"),
		Map:       filepath.Join(dir, "libmain.map"),
		Shared:    true,
		Libraries: []string{filepath.Join(dir, "libc")},
		Objects:   []string{filepath.Join(dir, "main.lk")},
	}
	c.withDefaults()
	req, err := c.request()
	if err != nil {
		t.Fatal(err)
	}
	res, err := link.Link(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.write(res); err != nil {
		t.Fatal(err)
	}

	out, err := objfile.ReadFile(c.Output)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out.Segments, res.Module.Segments) {
		t.Errorf("written image differs from the link result")
	}
	if _, err := os.Stat(c.Map); err != nil {
		t.Errorf("no link map: %v", err)
	}
	img, err := archive.OpenShared(c.Output + ".stub")
	if err != nil {
		t.Fatal(err)
	}
	if len(img.Exports) != 2 || img.Exports["main"] != 0x1000 {
		t.Errorf("bad stub exports %v", img.Exports)
	}
}
