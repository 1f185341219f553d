// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reloc patches the address-dependent fields of a laid-out
// image.
package reloc

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/aclements/go-link/got"
	"github.com/aclements/go-link/layout"
	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/symtab"
)

// Apply applies every relocation of the modules laid out in img. tab
// must be the bound symbol table of those modules. g is the GOT of the
// link, or nil if the link is not position-independent.
//
// Input segments are patched in parallel. If several relocations fail,
// Apply reports the first in module and segment order.
func Apply(img *layout.Image, tab *symtab.Table, g *got.Table) error {
	mods := img.Map.Modules()

	type job struct {
		mod, seg int
		relocs   []*obj.Reloc
	}
	var jobs []job
	for mi, m := range mods {
		bySeg := make([][]*obj.Reloc, len(m.Segments))
		for i := range m.Relocs {
			r := &m.Relocs[i]
			if m.Segment(r.Segment) == nil {
				return &obj.BoundsError{Module: m.String(), Detail: fmt.Sprintf("relocation %d in nonexistent segment %d", i, r.Segment)}
			}
			bySeg[r.Segment] = append(bySeg[r.Segment], r)
		}
		for si, rs := range bySeg {
			if len(rs) > 0 {
				jobs = append(jobs, job{mi, si, rs})
			}
		}
	}

	errs := make([]error, len(jobs))
	work := make(chan int)
	var wg sync.WaitGroup
	workers := runtime.GOMAXPROCS(0)
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				j := jobs[i]
				p := &patcher{img: img, tab: tab, got: g, mod: j.mod, seg: j.seg, m: mods[j.mod]}
				errs[i] = p.apply(j.relocs)
			}
		}()
	}
	for i := range jobs {
		work <- i
	}
	close(work)
	wg.Wait()

	// jobs is in module and segment order.
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// A patcher applies the relocations of one input segment.
type patcher struct {
	img      *layout.Image
	tab      *symtab.Table
	got      *got.Table
	mod, seg int
	m        *obj.Module
}

func (p *patcher) bounds(r *obj.Reloc, format string, args ...interface{}) error {
	return &obj.BoundsError{Module: p.m.String(), Segment: p.m.Segments[p.seg].Name, Offset: r.Offset, Detail: fmt.Sprintf(format, args...)}
}

func (p *patcher) apply(rs []*obj.Reloc) error {
	d := p.img.Data(p.mod, p.seg)
	if d == nil {
		return p.bounds(rs[0], "%s relocation in uninitialized segment", rs[0].Kind)
	}
	seg := p.m.Segments[p.seg]
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		size := uint64(r.Kind.Size())
		if r.Offset > seg.Size || seg.Size-r.Offset < size {
			return p.bounds(r, "%d-byte %s field outside segment of length 0x%x", size, r.Kind, seg.Size)
		}

		switch r.Kind {
		case obj.RelocU2:
			if i+1 >= len(rs) || rs[i+1].Kind != obj.RelocL2 || rs[i+1].Ref != r.Ref || rs[i+1].Addend != r.Addend {
				return p.bounds(r, "U2 relocation not followed by matching L2")
			}
			lo := rs[i+1]
			if lo.Offset > seg.Size || seg.Size-lo.Offset < 2 {
				return p.bounds(lo, "2-byte L2 field outside segment of length 0x%x", seg.Size)
			}
			v, err := p.value(r)
			if err != nil {
				return err
			}
			if err := p.check(r, v, false); err != nil {
				return err
			}
			r.Aux, lo.Aux = 0, 1
			d.PutField(d.Addr+r.Offset, 2, uint64(v)>>16)
			d.PutField(d.Addr+lo.Offset, 2, uint64(v)&0xffff)
			i++
			continue
		case obj.RelocL2:
			return p.bounds(r, "L2 relocation not preceded by U2")
		}

		v, err := p.value(r)
		if err != nil {
			return err
		}
		if err := p.check(r, v, r.Kind.Signed()); err != nil {
			return err
		}
		d.PutField(d.Addr+r.Offset, 4, uint64(v))
	}
	return nil
}

// check reports an *OverflowError if v does not fit in a 4-byte field.
func (p *patcher) check(r *obj.Reloc, v int64, signed bool) error {
	var ok bool
	if signed {
		ok = math.MinInt32 <= v && v <= math.MaxInt32
	} else {
		ok = 0 <= v && v <= math.MaxUint32
	}
	if ok {
		return nil
	}
	return &OverflowError{Module: p.m.String(), Segment: p.m.Segments[p.seg].Name, Offset: r.Offset, Kind: r.Kind, Value: v}
}

// value computes the field value of r, before narrowing.
func (p *patcher) value(r *obj.Reloc) (int64, error) {
	P := int64(p.tab.SegmentBase(p.mod, p.seg) + r.Offset)

	if r.Kind.GOT() || r.Kind == obj.RelocER4 {
		if p.got == nil {
			return 0, &PICRequiredError{Module: p.m.String(), Kind: r.Kind, Sym: r.Ref.String()}
		}
	}

	t, ok := p.tab.Ref(p.mod, r.Ref)
	if !ok {
		return 0, &symtab.UndefinedError{Names: []string{r.Ref.Sym}}
	}
	S := int64(t.Addr) + r.Addend

	switch r.Kind {
	case obj.RelocA4:
		return S, nil
	case obj.RelocR4:
		return S - P, nil
	case obj.RelocAS4, obj.RelocRS4:
		if t.Segment == obj.NoSegment {
			return 0, p.bounds(r, "%s relocation against absolute symbol %s", r.Kind, r.Ref)
		}
		base := int64(p.tab.SegmentBase(t.Module, t.Segment)) + r.Addend
		if r.Kind == obj.RelocRS4 {
			return base - P, nil
		}
		return base, nil
	case obj.RelocU2:
		return S, nil
	case obj.RelocGA4, obj.RelocGP4, obj.RelocGR4:
		slot, ok := p.got.SlotAddr(r.Ref.Sym)
		if !ok {
			return 0, p.bounds(r, "no GOT slot for %s", r.Ref)
		}
		switch r.Kind {
		case obj.RelocGA4:
			return int64(slot) + r.Addend, nil
		case obj.RelocGP4:
			return int64(slot-p.got.Base()) + r.Addend, nil
		}
		val, _ := p.got.SlotValue(r.Ref.Sym)
		return int64(val) + r.Addend - P, nil
	case obj.RelocER4:
		if t.Shared == "" {
			return S, nil
		}
		stub, ok := p.got.StubAddr(r.Ref.Sym)
		if !ok {
			return 0, p.bounds(r, "no stub for shared symbol %s", r.Ref)
		}
		return int64(stub) + r.Addend, nil
	}
	panic(fmt.Sprintf("unhandled relocation kind %s", r.Kind))
}

// An OverflowError reports a relocation value that does not fit its
// field.
type OverflowError struct {
	Module  string
	Segment string
	Offset  uint64
	Kind    obj.RelocKind
	Value   int64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%s: segment %s+0x%x: %s relocation value %#x does not fit", e.Module, e.Segment, e.Offset, e.Kind, e.Value)
}

// A PICRequiredError reports a GOT-class relocation in a link that is
// not position-independent.
type PICRequiredError struct {
	Module string
	Kind   obj.RelocKind
	Sym    string
}

func (e *PICRequiredError) Error() string {
	return fmt.Sprintf("%s: %s relocation against %s requires a position-independent link", e.Module, e.Kind, e.Sym)
}
