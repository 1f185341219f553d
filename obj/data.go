// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"fmt"

	"github.com/aclements/go-link/arch"
)

// Data is a window onto the content of one laid-out segment.
//
// The relocation engine patches fields through a Data. Each Data owns a
// disjoint range of its output buffer, so separate Datas may be patched
// concurrently.
type Data struct {
	// Addr is the address at which this data starts.
	Addr uint64

	// P stores the raw byte data.
	P []byte

	// Layout specifies the byte order of fields in this data.
	Layout arch.Layout
}

func (d *Data) check(addr uint64, size int) int {
	o := addr - d.Addr
	if addr < d.Addr || o+uint64(size) > uint64(len(d.P)) {
		panic(fmt.Sprintf("field [0x%x,0x%x) out of data's range [0x%x,0x%x)", addr, addr+uint64(size), d.Addr, d.Addr+uint64(len(d.P))))
	}
	return int(o)
}

// Field reads the size-byte unsigned field at address addr. It panics if
// the field is out of range.
func (d *Data) Field(addr uint64, size int) uint64 {
	o := d.check(addr, size)
	return d.Layout.Field(d.P[o:], size)
}

// PutField stores the low size bytes of v at address addr. It panics if
// the field is out of range.
func (d *Data) PutField(addr uint64, size int, v uint64) {
	o := d.check(addr, size)
	d.Layout.PutField(d.P[o:], size, v)
}

// Reader reads successive fields from a Data.
type Reader struct {
	d *Data
	p int // Offset into P
}

func NewReader(d *Data) *Reader {
	return &Reader{d, 0}
}

// SetAddr moves r's cursor to the given address. If addr is out of
// range for r's Data, it panics.
func (r *Reader) SetAddr(addr uint64) {
	r.p = r.d.check(addr, 0)
}

// Addr returns the current position of r's cursor as an address in r's Data.
func (r *Reader) Addr() uint64 {
	return r.d.Addr + uint64(r.p)
}

// Avail returns the number of bytes remaining in r's Data.
func (r *Reader) Avail() int {
	return len(r.d.P) - r.p
}

func (r *Reader) Uint16() uint16 {
	o := r.p
	r.p += 2
	return r.d.Layout.Uint16(r.d.P[o : o+2])
}

func (r *Reader) Uint32() uint32 {
	o := r.p
	r.p += 4
	return r.d.Layout.Uint32(r.d.P[o : o+4])
}
