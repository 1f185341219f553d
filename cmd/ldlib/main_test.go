// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/objfile"
)

func writeObjects(t *testing.T, dir string) []string {
	t.Helper()
	var paths []string
	for _, name := range []string{"strlen", "memcpy"} {
		m := &obj.Module{
			Name:     name,
			Segments: []*obj.Segment{{Name: ".text", Kind: obj.CodeSeg, Size: 4, Data: make([]byte, 4)}},
			Syms:     []obj.Sym{{Name: name, Kind: obj.SymDefined, Segment: 0}},
		}
		var buf bytes.Buffer
		if err := objfile.Write(&buf, m); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, name+".lk")
		if err := os.WriteFile(path, buf.Bytes(), 0o666); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestBuildAndList(t *testing.T) {
	for _, tt := range []struct {
		name string
		file bool
		want string
	}{
		{"dir", false, "strlen.lk\tlibc(strlen.lk) strlen\nmemcpy.lk\tlibc(memcpy.lk) memcpy\n"},
		{"file", true, "0\tlibc(0) memcpy\n1\tlibc(1) strlen\n"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			paths := writeObjects(t, dir)
			out := filepath.Join(dir, "libc")
			if err := build(out, paths, tt.file); err != nil {
				t.Fatal(err)
			}
			var buf bytes.Buffer
			if err := list(&buf, out); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.want {
				t.Errorf("want\n%s\ngot\n%s", tt.want, buf.String())
			}
		})
	}
}

func TestBuildDuplicate(t *testing.T) {
	dir := t.TempDir()
	paths := writeObjects(t, dir)
	if err := build(filepath.Join(dir, "libc"), append(paths, paths[0]), false); err == nil {
		t.Errorf("duplicate member accepted")
	}
}
