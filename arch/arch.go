// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch provides basic descriptions of the CPU architectures a
// link can target.
package arch

// An Arch describes a link target architecture.
type Arch struct {
	// Layout is the byte order and word size of this architecture.
	// Relocation fields are read and written in this byte order.
	Layout Layout

	// GoArch is the GOARCH value for this architecture.
	GoArch string

	// Bits is the processor mode used to decode generated code for
	// this architecture (16, 32, or 64).
	Bits int
}

var (
	AMD64 = &Arch{Layout{0, 8}, "amd64", 64}
	I386  = &Arch{Layout{0, 4}, "386", 32}
)

// Lookup returns the Arch with the given GOARCH name, or nil.
func Lookup(goarch string) *Arch {
	switch goarch {
	case "amd64":
		return AMD64
	case "386", "i386":
		return I386
	}
	return nil
}

// String returns the GOARCH value of a.
func (a *Arch) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.GoArch
}
