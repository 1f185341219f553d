// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package objfile reads and writes object modules in the LINK text
// format.
//
// A LINK file is line oriented and every number in it is hexadecimal:
//
//	LINK
//	nsegs nsyms nrels
//	name start len descr [align]     (nsegs lines)
//	name value seg type              (nsyms lines)
//	loc seg ref type [addend]        (nrels lines)
//	data                             (one line per present segment)
//
// Segments and symbols are numbered from 1 in the order they appear.
// The segment descriptor holds the letters R (readable), W (writable),
// P (present in the file), F (fixed at its start address), and G
// (global offset table). A symbol's seg is 0 for absolute and undefined
// symbols, and its type holds D (defined), U (undefined), or C (common,
// where value is the size), plus L for module-local symbols. A
// relocation's ref is a symbol number, or a segment number for AS4 and
// RS4 or when prefixed with S. Segment data is a hex string in which
// spaces are ignored.
package objfile

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aclements/go-link/obj"
)

// Magic is the first line of every LINK file.
const Magic = "LINK"

// A SyntaxError reports malformed input.
type SyntaxError struct {
	File string
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.File, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// ReadFile reads the module in the named file. The module is named
// after the file's base name.
func ReadFile(path string) (*obj.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, filepath.Base(path))
}

// A lineReader hands out the lines of a text file with their numbers.
type lineReader struct {
	s    *bufio.Scanner
	file string
	line int
}

func newLineReader(r io.Reader, file string) *lineReader {
	s := bufio.NewScanner(r)
	s.Buffer(nil, 1<<26)
	return &lineReader{s: s, file: file}
}

func (l *lineReader) errorf(format string, args ...interface{}) error {
	return &SyntaxError{File: l.file, Line: l.line, Msg: fmt.Sprintf(format, args...)}
}

// next returns the next line, or an error naming what was expected.
func (l *lineReader) next(what string) (string, error) {
	if !l.s.Scan() {
		if err := l.s.Err(); err != nil {
			return "", err
		}
		return "", &SyntaxError{File: l.file, Line: l.line, Msg: "unexpected end of file, want " + what}
	}
	l.line++
	return strings.TrimRight(l.s.Text(), "\r"), nil
}

func parseHex(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 16, 64)
	return v, err == nil
}

// Read reads one LINK module from r. name names the module.
func Read(r io.Reader, name string) (*obj.Module, error) {
	return readModule(newLineReader(r, name), name)
}

func readModule(l *lineReader, name string) (*obj.Module, error) {
	line, err := l.next("magic number")
	if err != nil {
		return nil, err
	}
	if line != Magic {
		return nil, l.errorf("bad magic number %q", line)
	}
	return readBody(l, name)
}

// readBody reads a module following its magic line.
func readBody(l *lineReader, name string) (*obj.Module, error) {
	line, err := l.next("segment, symbol, and relocation counts")
	if err != nil {
		return nil, err
	}
	f := strings.Fields(line)
	if len(f) != 3 {
		return nil, l.errorf("want nsegs nsyms nrels, got %q", line)
	}
	var counts [3]uint64
	for i, s := range f {
		v, ok := parseHex(s)
		if !ok {
			return nil, l.errorf("bad count %q", s)
		}
		counts[i] = v
	}

	m := &obj.Module{Name: name}
	for i := uint64(0); i < counts[0]; i++ {
		seg, err := readSegment(l)
		if err != nil {
			return nil, err
		}
		m.Segments = append(m.Segments, seg)
	}
	for i := uint64(0); i < counts[1]; i++ {
		sym, err := readSym(l, m)
		if err != nil {
			return nil, err
		}
		m.Syms = append(m.Syms, sym)
	}
	for i := uint64(0); i < counts[2]; i++ {
		r, err := readReloc(l, m)
		if err != nil {
			return nil, err
		}
		m.Relocs = append(m.Relocs, r)
	}
	for _, seg := range m.Segments {
		if !seg.Present() {
			continue
		}
		line, err := l.next("data for segment " + seg.Name)
		if err != nil {
			return nil, err
		}
		data, err := hex.DecodeString(strings.ReplaceAll(line, " ", ""))
		if err != nil {
			return nil, l.errorf("bad data for segment %s: %v", seg.Name, err)
		}
		if uint64(len(data)) != seg.Size {
			return nil, l.errorf("segment %s has %d bytes of data, want %d", seg.Name, len(data), seg.Size)
		}
		seg.Data = data
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	// LINK symbols carry no sizes.
	m.SynthesizeSizes()
	return m, nil
}

func readSegment(l *lineReader) (*obj.Segment, error) {
	line, err := l.next("segment")
	if err != nil {
		return nil, err
	}
	f := strings.Fields(line)
	if len(f) != 4 && len(f) != 5 {
		return nil, l.errorf("want name start len descr [align], got %q", line)
	}
	if !strings.HasPrefix(f[0], ".") {
		return nil, l.errorf("bad segment name %q", f[0])
	}
	seg := &obj.Segment{Name: f[0]}
	var ok bool
	if seg.Addr, ok = parseHex(f[1]); !ok {
		return nil, l.errorf("bad segment start %q", f[1])
	}
	if seg.Size, ok = parseHex(f[2]); !ok {
		return nil, l.errorf("bad segment length %q", f[2])
	}
	isGOT := false
	for _, c := range f[3] {
		switch c {
		case 'R':
			seg.SetReadable(true)
		case 'W':
			seg.SetWritable(true)
		case 'P':
			seg.SetPresent(true)
		case 'F':
			seg.SetFixed(true)
		case 'G':
			isGOT = true
		default:
			return nil, l.errorf("bad segment descriptor %q", f[3])
		}
	}
	seg.Kind = obj.KindFromFlags(seg.SegmentFlags)
	if isGOT {
		if seg.Kind != obj.DataSeg {
			return nil, l.errorf("GOT segment %s must be RWP", seg.Name)
		}
		seg.Kind = obj.GOTSeg
	}
	if len(f) == 5 {
		if seg.Align, ok = parseHex(f[4]); !ok || seg.Align&(seg.Align-1) != 0 {
			return nil, l.errorf("bad segment alignment %q", f[4])
		}
	}
	if !seg.Fixed() {
		// The start of a relocatable segment is only a hint.
		seg.Addr = 0
	}
	return seg, nil
}

func readSym(l *lineReader, m *obj.Module) (obj.Sym, error) {
	line, err := l.next("symbol")
	if err != nil {
		return obj.Sym{}, err
	}
	f := strings.Fields(line)
	if len(f) != 4 {
		return obj.Sym{}, l.errorf("want name value seg type, got %q", line)
	}
	s := obj.Sym{Name: f[0], Segment: obj.NoSegment}
	val, ok := parseHex(f[1])
	if !ok {
		return s, l.errorf("bad symbol value %q", f[1])
	}
	seg, ok := parseHex(f[2])
	if !ok || seg > uint64(len(m.Segments)) {
		return s, l.errorf("bad symbol segment %q", f[2])
	}
	var kind byte
	for _, c := range []byte(f[3]) {
		switch c {
		case 'D', 'U', 'C':
			if kind != 0 {
				return s, l.errorf("bad symbol type %q", f[3])
			}
			kind = c
		case 'L':
			s.SetLocal(true)
		default:
			return s, l.errorf("bad symbol type %q", f[3])
		}
	}
	switch kind {
	case 'D':
		s.Value = val
		if seg == 0 {
			s.Kind = obj.SymAbsolute
		} else {
			s.Kind = obj.SymDefined
			s.Segment = int(seg - 1)
		}
	case 'U':
		s.Kind = obj.SymUndef
	case 'C':
		s.Kind = obj.SymCommon
		s.Size = val
	default:
		return s, l.errorf("bad symbol type %q", f[3])
	}
	return s, nil
}

func readReloc(l *lineReader, m *obj.Module) (obj.Reloc, error) {
	line, err := l.next("relocation")
	if err != nil {
		return obj.Reloc{}, err
	}
	f := strings.Fields(line)
	if len(f) != 4 && len(f) != 5 {
		return obj.Reloc{}, l.errorf("want loc seg ref type [addend], got %q", line)
	}
	var r obj.Reloc
	var ok bool
	if r.Offset, ok = parseHex(f[0]); !ok {
		return r, l.errorf("bad relocation location %q", f[0])
	}
	seg, ok := parseHex(f[1])
	if !ok || seg == 0 || seg > uint64(len(m.Segments)) {
		return r, l.errorf("bad relocation segment %q", f[1])
	}
	r.Segment = int(seg - 1)
	if r.Kind, ok = obj.ParseRelocKind(f[3]); !ok {
		return r, l.errorf("bad relocation type %q", f[3])
	}
	ref := f[2]
	segRef := r.Kind.SegmentRef()
	if strings.HasPrefix(ref, "S") {
		segRef = true
		ref = ref[1:]
	}
	n, ok := parseHex(ref)
	if !ok || n == 0 {
		return r, l.errorf("bad relocation reference %q", f[2])
	}
	if segRef {
		if n > uint64(len(m.Segments)) {
			return r, l.errorf("relocation references segment %d of %d", n, len(m.Segments))
		}
		r.Ref = obj.SegRef(int(n - 1))
	} else {
		if n > uint64(len(m.Syms)) {
			return r, l.errorf("relocation references symbol %d of %d", n, len(m.Syms))
		}
		r.Ref = obj.SymRef(m.Syms[n-1].Name)
	}
	if len(f) == 5 {
		a, err := strconv.ParseInt(f[4], 16, 64)
		if err != nil {
			return r, l.errorf("bad relocation addend %q", f[4])
		}
		r.Addend = a
	}
	return r, nil
}

// Write writes m to w in LINK format. Relocations against symbols m
// does not list get undefined symbol entries.
func Write(w io.Writer, m *obj.Module) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, Magic)
	if err := writeBody(bw, m); err != nil {
		return err
	}
	return bw.Flush()
}

// writeBody writes m without its magic line.
func writeBody(w io.Writer, m *obj.Module) error {
	syms := m.Syms
	index := make(map[string]int)
	for i := range syms {
		if _, ok := index[syms[i].Name]; !ok {
			index[syms[i].Name] = i + 1
		}
	}
	for _, r := range m.Relocs {
		if !r.Ref.IsSym() {
			continue
		}
		if _, ok := index[r.Ref.Sym]; !ok {
			syms = append(syms, obj.Sym{Name: r.Ref.Sym, Kind: obj.SymUndef, Segment: obj.NoSegment})
			index[r.Ref.Sym] = len(syms)
		}
	}

	fmt.Fprintf(w, "%X %X %X\n", len(m.Segments), len(syms), len(m.Relocs))
	for _, seg := range m.Segments {
		flags := seg.SegmentFlags
		flags.SetPresent(seg.HasData())
		flags.SetWritable(seg.Kind != obj.CodeSeg)
		descr := flags.String()
		if seg.Kind == obj.GOTSeg {
			descr += "G"
		}
		fmt.Fprintf(w, "%s %X %X %s", seg.Name, seg.Addr, seg.Size, descr)
		if seg.Align > 1 {
			fmt.Fprintf(w, " %X", seg.Align)
		}
		fmt.Fprintln(w)
	}
	for i := range syms {
		s := &syms[i]
		var val, seg uint64
		var typ string
		switch s.Kind {
		case obj.SymDefined:
			val, seg, typ = s.Value, uint64(s.Segment+1), "D"
		case obj.SymAbsolute:
			val, typ = s.Value, "D"
		case obj.SymCommon:
			val, typ = s.Size, "C"
		case obj.SymUndef:
			typ = "U"
		default:
			return fmt.Errorf("%s: symbol %s has unknown kind %s", m, s.Name, s.Kind)
		}
		if s.Local() {
			typ += "L"
		}
		fmt.Fprintf(w, "%s %X %X %s\n", s.Name, val, seg, typ)
	}
	for _, r := range m.Relocs {
		var ref string
		switch {
		case !r.Ref.IsSym() && r.Kind.SegmentRef():
			ref = fmt.Sprintf("%X", r.Ref.Segment+1)
		case !r.Ref.IsSym():
			ref = fmt.Sprintf("S%X", r.Ref.Segment+1)
		default:
			ref = fmt.Sprintf("%X", index[r.Ref.Sym])
		}
		fmt.Fprintf(w, "%X %X %s %s", r.Offset, r.Segment+1, ref, r.Kind)
		if r.Addend != 0 {
			if r.Addend < 0 {
				fmt.Fprintf(w, " -%X", -r.Addend)
			} else {
				fmt.Fprintf(w, " %X", r.Addend)
			}
		}
		fmt.Fprintln(w)
	}
	for _, seg := range m.Segments {
		if !seg.HasData() {
			continue
		}
		fmt.Fprintf(w, "%X\n", seg.Data)
	}
	return nil
}
