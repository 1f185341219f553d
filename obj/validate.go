// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"fmt"

	"github.com/aclements/go-link/internal/span"
)

// A BoundsError reports a module whose tables refer outside their
// owning segment: a relocation whose field does not fit in its segment
// or overlaps another relocation's field, a symbol or relocation naming
// a segment that doesn't exist, or segment content that doesn't match
// the declared length.
type BoundsError struct {
	Module  string
	Segment string // "" if the segment index itself is bad
	Offset  uint64
	Detail  string
}

func (e *BoundsError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("%s: %s", e.Module, e.Detail)
	}
	return fmt.Sprintf("%s: segment %s+0x%x: %s", e.Module, e.Segment, e.Offset, e.Detail)
}

// Validate checks that every segment, symbol, and relocation of m is
// internally consistent. It returns a *BoundsError describing the first
// problem found.
func (m *Module) Validate() error {
	bad := func(seg *Segment, off uint64, format string, args ...interface{}) error {
		e := &BoundsError{Module: m.String(), Offset: off, Detail: fmt.Sprintf(format, args...)}
		if seg != nil {
			e.Segment = seg.Name
		}
		return e
	}

	for _, seg := range m.Segments {
		if a := seg.Alignment(); a&(a-1) != 0 {
			return bad(seg, 0, "alignment %d is not a power of two", a)
		}
		if seg.HasData() && uint64(len(seg.Data)) != seg.Size {
			return bad(seg, 0, "has %d bytes of content, want %d", len(seg.Data), seg.Size)
		}
		if !seg.HasData() && seg.Data != nil {
			return bad(seg, 0, "uninitialized segment has content")
		}
	}

	for i := range m.Syms {
		s := &m.Syms[i]
		if s.Kind != SymDefined {
			continue
		}
		seg := m.Segment(s.Segment)
		if seg == nil {
			return bad(nil, 0, "symbol %s defined in nonexistent segment %d", s.Name, s.Segment)
		}
		if s.Value > seg.Size {
			return bad(seg, s.Value, "symbol %s is past the end of its segment", s.Name)
		}
	}

	for i := range m.Relocs {
		r := &m.Relocs[i]
		seg := m.Segment(r.Segment)
		if seg == nil {
			return bad(nil, 0, "relocation %d in nonexistent segment %d", i, r.Segment)
		}
		if !seg.HasData() {
			return bad(seg, r.Offset, "%s relocation in uninitialized segment", r.Kind)
		}
		size := uint64(r.Kind.Size())
		if r.Offset > seg.Size || seg.Size-r.Offset < size {
			return bad(seg, r.Offset, "%d-byte %s field outside segment of length 0x%x", size, r.Kind, seg.Size)
		}
		if !r.Ref.IsSym() && m.Segment(r.Ref.Segment) == nil {
			return bad(seg, r.Offset, "relocation references nonexistent segment %d", r.Ref.Segment)
		}
	}

	// Each byte is patched by at most one relocation.
	fields := make(map[int]*span.Set)
	for i := range m.Relocs {
		r := &m.Relocs[i]
		set := fields[r.Segment]
		if set == nil {
			set = new(span.Set)
			fields[r.Segment] = set
		}
		sp := span.Span{Low: r.Offset, High: r.Offset + uint64(r.Kind.Size()), Owner: fmt.Sprintf("relocation %d", i)}
		if c, ok := set.Insert(sp); !ok {
			return bad(m.Segments[r.Segment], r.Offset, "%s field overlaps %s", r.Kind, c)
		}
	}
	return nil
}
