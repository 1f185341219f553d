// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import "sort"

// SynthesizeSizes assigns sizes to the segment-relative symbols of m
// that don't have sizes. A symbol extends to the next symbol at a higher
// offset in its segment, or to the end of the segment.
func (m *Module) SynthesizeSizes() {
	// Gather symbols with a segment and sort by segment then offset
	// (without destroying order).
	todo := []int{}
	for i := range m.Syms {
		s := &m.Syms[i]
		if s.Kind != SymDefined || m.Segment(s.Segment) == nil {
			continue
		}
		// A symbol at or past the end of its segment has no
		// meaningful extent.
		if s.Value >= m.Segments[s.Segment].Size {
			continue
		}
		todo = append(todo, i)
	}
	sort.SliceStable(todo, func(i, j int) bool {
		si, sj := &m.Syms[todo[i]], &m.Syms[todo[j]]
		if si.Segment != sj.Segment {
			return si.Segment < sj.Segment
		}
		return si.Value < sj.Value
	})

	for len(todo) != 0 {
		// Collect symbols with the same segment and offset. Most
		// groups have one symbol, but aliases share an offset.
		s1 := &m.Syms[todo[0]]
		group := 1
		anyZero := s1.Size == 0
		for group < len(todo) {
			s2 := &m.Syms[todo[group]]
			if s1.Value != s2.Value || s1.Segment != s2.Segment {
				break
			}
			if s2.Size == 0 {
				anyZero = true
			}
			group++
		}
		if !anyZero {
			todo = todo[group:]
			continue
		}

		var size uint64
		if group == len(todo) || s1.Segment != m.Syms[todo[group]].Segment {
			size = m.Segments[s1.Segment].Size - s1.Value
		} else {
			size = m.Syms[todo[group]].Value - s1.Value
		}
		for _, symi := range todo[:group] {
			if m.Syms[symi].Size == 0 {
				m.Syms[symi].Size = size
				m.Syms[symi].SetSizeSynthesized(true)
			}
		}
		todo = todo[group:]
	}
}
