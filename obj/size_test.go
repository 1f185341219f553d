// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import "testing"

func TestSynthesizeSizes(t *testing.T) {
	m := &Module{
		Name: "x.o",
		Segments: []*Segment{
			{Name: ".text", Kind: CodeSeg, Size: 100},
			{Name: ".data", Kind: DataSeg, Size: 100},
			{Name: ".bss", Kind: UninitSeg, Size: 100},
		},
	}
	type symTest struct {
		size int // -1 if not synthesized
		sym  Sym
	}
	test := []symTest{
		{-1, Sym{Kind: SymUndef, Segment: NoSegment}},
		{-1, Sym{Kind: SymAbsolute, Segment: NoSegment, Value: 10}},
		{-1, Sym{Kind: SymDefined, Segment: 0, Value: 0, Size: 8}}, // Has size
		{10, Sym{Kind: SymDefined, Segment: 0, Value: 90}},         // To end of segment
		{20, Sym{Kind: SymDefined, Segment: 1, Value: 30}},         // To next symbol
		{-1, Sym{Kind: SymDefined, Segment: 1, Value: 50, Size: 1}},
		// Several zero-sized symbols at one offset.
		{30, Sym{Kind: SymDefined, Segment: 2, Value: 0}},
		{30, Sym{Kind: SymDefined, Segment: 2, Value: 0}},
		{-1, Sym{Kind: SymDefined, Segment: 2, Value: 0, Size: 10}},
		{-1, Sym{Kind: SymDefined, Segment: 2, Value: 30, Size: 1}},
		{-1, Sym{Kind: SymDefined, Segment: 2, Value: 100}}, // At end, ignored
	}
	for _, tt := range test {
		m.Syms = append(m.Syms, tt.sym)
	}
	m.SynthesizeSizes()

	for i, want := range test {
		got := m.Syms[i]
		if want.size == -1 {
			if got.SizeSynthesized() {
				t.Errorf("symbol %d: incorrectly marked synthesized", i)
			} else if want.sym.Size != got.Size {
				t.Errorf("symbol %d: want size %d, got %d", i, want.sym.Size, got.Size)
			}
			continue
		}
		if !got.SizeSynthesized() {
			t.Errorf("symbol %d: incorrectly marked non-synthesized", i)
		} else if uint64(want.size) != got.Size {
			t.Errorf("symbol %d: want synthetic size %d, got %d", i, want.size, got.Size)
		}
	}
}
