// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package span tracks which ranges of an address space are occupied.
package span

import (
	"fmt"
	"sort"
)

// A Span is a half-open address range [Low, High) with an owner label
// used in diagnostics.
type Span struct {
	Low, High uint64
	Owner     string
}

func (s Span) String() string {
	if s.Empty() {
		return "∅"
	}
	return fmt.Sprintf("%s[%#x,%#x)", s.Owner, s.Low, s.High)
}

func (s Span) Empty() bool {
	return s.High <= s.Low
}

func (s Span) Contains(addr uint64) bool {
	return s.Low <= addr && addr < s.High
}

// Overlaps reports whether s and o share at least one address.
func (s Span) Overlaps(o Span) bool {
	return !s.Empty() && !o.Empty() && s.Low < o.High && o.Low < s.High
}

// A Set is a set of non-overlapping spans ordered by address. The zero
// value is an empty set.
type Set struct {
	spans []Span
}

// search returns the index of the first span that ends after addr.
func (s *Set) search(addr uint64) int {
	return sort.Search(len(s.spans), func(i int) bool {
		return addr < s.spans[i].High
	})
}

// Insert adds sp to the set. If sp overlaps a span already in the set,
// Insert leaves the set unchanged and returns the lowest such span and
// false. Empty spans occupy nothing and are never inserted.
func (s *Set) Insert(sp Span) (Span, bool) {
	if sp.Empty() {
		return Span{}, true
	}
	if o, ok := s.Overlap(sp); ok {
		return o, false
	}
	i := s.search(sp.Low)
	s.spans = append(s.spans, Span{})
	copy(s.spans[i+1:], s.spans[i:])
	s.spans[i] = sp
	return Span{}, true
}

// Overlap returns the lowest span in s that overlaps sp.
func (s *Set) Overlap(sp Span) (Span, bool) {
	i := s.search(sp.Low)
	if i < len(s.spans) && s.spans[i].Overlaps(sp) {
		return s.spans[i], true
	}
	return Span{}, false
}

// Find returns the span containing addr.
func (s *Set) Find(addr uint64) (Span, bool) {
	i := s.search(addr)
	if i < len(s.spans) && s.spans[i].Contains(addr) {
		return s.spans[i], true
	}
	return Span{}, false
}

// Spans returns the spans in s in increasing address order. The caller
// must not modify the returned slice.
func (s *Set) Spans() []Span {
	return s.spans
}
