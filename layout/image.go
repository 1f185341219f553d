// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"github.com/aclements/go-link/arch"
	"github.com/aclements/go-link/obj"
)

// An Image holds the bytes of every output segment of a Map.
//
// Each input segment's bytes are a disjoint window of its output
// segment's buffer, so the windows returned by Data may be written
// concurrently.
type Image struct {
	Map    *Map
	Layout arch.Layout

	// Bytes holds the content of each output segment, indexed like
	// Map.Segments. Uninitialized segments have nil content.
	Bytes [][]byte
}

// NewImage allocates the output segments of m and copies in the content
// of every input segment. Padding between input segments is zero.
func NewImage(m *Map, lay arch.Layout) *Image {
	img := &Image{Map: m, Layout: lay, Bytes: make([][]byte, len(m.Segments))}
	for i, out := range m.Segments {
		if out.Kind == obj.UninitSeg {
			continue
		}
		buf := make([]byte, out.Size)
		for _, p := range out.Parts {
			seg := m.mods[p.Module].Segments[p.Segment]
			copy(buf[p.Addr-out.Addr:], seg.Data)
		}
		img.Bytes[i] = buf
	}
	return img
}

// Data returns the window of the image holding segment seg of module
// mod, or nil if that segment is uninitialized.
func (img *Image) Data(mod, seg int) *obj.Data {
	oi := img.Map.out[mod][seg]
	buf := img.Bytes[oi]
	if buf == nil {
		return nil
	}
	out := img.Map.Segments[oi]
	base := img.Map.bases[mod][seg]
	size := img.Map.mods[mod].Segments[seg].Size
	lo := base - out.Addr
	return &obj.Data{Addr: base, P: buf[lo : lo+size : lo+size], Layout: img.Layout}
}

// Segment returns the content of output segment i as a Data.
func (img *Image) Segment(i int) *obj.Data {
	return &obj.Data{Addr: img.Map.Segments[i].Addr, P: img.Bytes[i], Layout: img.Layout}
}
