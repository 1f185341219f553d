// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arch

import (
	"bytes"
	"encoding/binary"
	"testing"
)

var randomData16K = generateData(16 << 10)

func generateData(size int) []byte {
	out := make([]byte, size)
	for i := 0; i < size; i += 8 {
		for j := 0; j < 8; j++ {
			out[i+j] = byte(i)
		}
	}
	return out
}

func TestLayoutOrder(t *testing.T) {
	data := []byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb, 0xfa, 0xf9, 0xf8}
	check := func(layout Layout, label string, want, got interface{}) {
		t.Helper()
		if want != got {
			t.Errorf("for %s %s: want %v, got %v", layout.Order(), label, want, got)
		}
	}

	l := NewLayout(binary.LittleEndian, 4)
	check(l, "Uint16", uint16(0xfeff), l.Uint16(data))
	check(l, "Uint32", uint32(0xfcfdfeff), l.Uint32(data))
	check(l, "Uint64", uint64(0xf8f9fafbfcfdfeff), l.Uint64(data))

	l = NewLayout(binary.BigEndian, 4)
	check(l, "Uint16", uint16(0xfffe), l.Uint16(data))
	check(l, "Uint32", uint32(0xfffefdfc), l.Uint32(data))
	check(l, "Uint64", uint64(0xfffefdfcfbfaf9f8), l.Uint64(data))
}

func TestLayoutPut(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		l := NewLayout(order, 4)
		check := func(size int, v uint64) {
			t.Helper()
			got := make([]byte, 8)
			want := make([]byte, 8)
			l.PutField(got, size, v)
			switch size {
			case 2:
				order.PutUint16(want, uint16(v))
			case 4:
				order.PutUint32(want, uint32(v))
			case 8:
				order.PutUint64(want, v)
			}
			if !bytes.Equal(want, got) {
				t.Errorf("%s PutField(%d, %#x): want % x, got % x", order, size, v, want, got)
			}
			if back := l.Field(got, size); back != v {
				t.Errorf("%s Field(%d): want %#x, got %#x", order, size, v, back)
			}
		}
		check(2, 0xbeef)
		check(4, 0xdeadbeef)
		check(8, 0x0123456789abcdef)
	}
}

func TestLookup(t *testing.T) {
	if Lookup("386") != I386 || Lookup("i386") != I386 {
		t.Errorf("Lookup(386) did not return I386")
	}
	if Lookup("amd64") != AMD64 {
		t.Errorf("Lookup(amd64) did not return AMD64")
	}
	if a := Lookup("pdp11"); a != nil {
		t.Errorf("Lookup(pdp11): want nil, got %v", a)
	}
}

func BenchmarkOrder(b *testing.B) {
	b.Run("size=16KiB/order=little/bits=32", func(b *testing.B) {
		benchmarkOrder32(b, NewLayout(binary.LittleEndian, 4))
	})
	b.Run("size=16KiB/order=big/bits=32", func(b *testing.B) {
		benchmarkOrder32(b, NewLayout(binary.BigEndian, 4))
	})
}

func benchmarkOrder32(b *testing.B, order Layout) {
	data := randomData16K
	for i := 0; i < b.N; i++ {
		var sum uint32
		for off := 0; off < len(data); off += 4 {
			sum += order.Uint32(data[off:])
		}
		if sum != 3351756800 {
			b.Fatalf("bad sum %d", sum)
		}
	}
}

func BenchmarkPut(b *testing.B) {
	buf := make([]byte, 16<<10)
	l := NewLayout(binary.LittleEndian, 4)
	for i := 0; i < b.N; i++ {
		for off := 0; off < len(buf); off += 4 {
			l.PutUint32(buf[off:], uint32(off))
		}
	}
}
