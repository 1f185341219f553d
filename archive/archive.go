// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package archive reads and builds static libraries and shared-image
// stub libraries.
//
// A directory library is a directory holding one LINK file per member
// and a MAP file whose lines are "member sym sym ...". A file library
// packs the same information into one file:
//
//	LIBRARY nmods diroff
//	member text, without its magic line   (for each member)
//	offset len sym sym ...                (for each member)
//
// Numbers are hexadecimal. Line numbers count from 1, diroff is the line
// of the first directory entry, and each directory entry gives the
// first line and line count of its member.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aclements/go-link/lib"
	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/objfile"
)

const (
	MapFile      = "MAP"
	LibraryMagic = "LIBRARY"
)

// Open opens the static library at path. A directory is read as a
// directory library and anything else as a file library.
func Open(path string) (lib.Library, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return OpenDir(path)
	}
	return OpenFile(path)
}

var (
	_ lib.Library = (*DirLib)(nil)
	_ lib.Library = (*FileLib)(nil)
)

// symIndex maps symbols to the first member that defines them.
type symIndex struct {
	name    string
	syms    map[string]lib.MemberID
	members []lib.MemberID
}

func (x *symIndex) add(id lib.MemberID, syms []string) {
	x.members = append(x.members, id)
	for _, s := range syms {
		if _, ok := x.syms[s]; !ok {
			x.syms[s] = id
		}
	}
}

func (x *symIndex) Name() string { return x.name }

func (x *symIndex) Lookup(sym string) (lib.MemberID, bool) {
	id, ok := x.syms[sym]
	return id, ok
}

// Members returns the members of the library in index order.
func (x *symIndex) Members() []lib.MemberID { return x.members }

// DirLib is a directory library. Members are read when loaded.
type DirLib struct {
	symIndex
	dir string
}

// OpenDir reads the MAP file of the directory library dir.
func OpenDir(dir string) (*DirLib, error) {
	data, err := os.ReadFile(filepath.Join(dir, MapFile))
	if err != nil {
		return nil, err
	}
	d := &DirLib{symIndex{name: filepath.Base(dir), syms: make(map[string]lib.MemberID)}, dir}
	for i, line := range strings.Split(string(data), "\n") {
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		if strings.ContainsAny(f[0], `/\`) {
			return nil, &objfile.SyntaxError{File: filepath.Join(dir, MapFile), Line: i + 1, Msg: "bad member name " + strconv.Quote(f[0])}
		}
		d.add(lib.MemberID(f[0]), f[1:])
	}
	return d, nil
}

// Load reads member id from its file.
func (d *DirLib) Load(id lib.MemberID) (*obj.Module, error) {
	m, err := objfile.ReadFile(filepath.Join(d.dir, string(id)))
	if err != nil {
		return nil, err
	}
	m.Member = &obj.Member{Library: d.name, Name: string(id)}
	return m, nil
}

// FileLib is a file library held in memory. Members are parsed when
// loaded.
type FileLib struct {
	symIndex
	path  string
	lines []string
	spans map[lib.MemberID][2]int // first line index and count
}

// OpenFile reads the file library at path. Members are identified by
// their index in the directory, counting from 0.
func OpenFile(path string) (*FileLib, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	bad := func(line int, format string, args ...interface{}) error {
		return &objfile.SyntaxError{File: path, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	hdr := strings.Fields(lines[0])
	if len(hdr) != 3 || hdr[0] != LibraryMagic {
		return nil, bad(1, "want %s nmods diroff, got %q", LibraryMagic, lines[0])
	}
	nmods, err1 := strconv.ParseUint(hdr[1], 16, 32)
	diroff, err2 := strconv.ParseUint(hdr[2], 16, 32)
	if err1 != nil || err2 != nil || diroff == 0 || diroff-1+nmods > uint64(len(lines)) {
		return nil, bad(1, "bad library header %q", lines[0])
	}

	l := &FileLib{
		symIndex: symIndex{name: filepath.Base(path), syms: make(map[string]lib.MemberID)},
		path:     path,
		lines:    lines,
		spans:    make(map[lib.MemberID][2]int),
	}
	for i := 0; i < int(nmods); i++ {
		ln := int(diroff) + i
		f := strings.Fields(lines[ln-1])
		if len(f) < 2 {
			return nil, bad(ln, "want offset len syms..., got %q", lines[ln-1])
		}
		off, err1 := strconv.ParseUint(f[0], 16, 32)
		n, err2 := strconv.ParseUint(f[1], 16, 32)
		if err1 != nil || err2 != nil {
			return nil, bad(ln, "bad directory entry %q", lines[ln-1])
		}
		id := lib.MemberID(strconv.Itoa(i))
		l.spans[id] = [2]int{int(off) - 1, int(n)}
		l.add(id, f[2:])
	}
	return l, nil
}

// Load parses member id.
func (l *FileLib) Load(id lib.MemberID) (*obj.Module, error) {
	sp, ok := l.spans[id]
	if !ok {
		return nil, fmt.Errorf("no member %s", id)
	}
	if sp[0] < 1 || sp[0]+sp[1] > len(l.lines) {
		return nil, fmt.Errorf("member %s at lines %d+%d is outside the library", id, sp[0]+1, sp[1])
	}
	text := objfile.Magic + "\n" + strings.Join(l.lines[sp[0]:sp[0]+sp[1]], "\n") + "\n"
	name := l.name + "(" + string(id) + ")"
	m, err := objfile.Read(strings.NewReader(text), name)
	if err != nil {
		return nil, err
	}
	m.Name = string(id)
	m.Member = &obj.Member{Library: l.name, Name: string(id)}
	return m, nil
}

// BuildDir creates the directory library dir from mods. Each member is
// stored under its module name. dir must not already exist.
func BuildDir(dir string, mods []*obj.Module) error {
	if err := os.Mkdir(dir, 0o777); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("library %s already exists", dir)
		}
		return err
	}
	var mapFile bytes.Buffer
	for _, m := range mods {
		if m.Name == "" || strings.ContainsAny(m.Name, `/\`) || m.Name == MapFile {
			return fmt.Errorf("bad member name %q", m.Name)
		}
		var buf bytes.Buffer
		if err := objfile.Write(&buf, m); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, m.Name), buf.Bytes(), 0o666); err != nil {
			return err
		}
		fmt.Fprintln(&mapFile, strings.Join(append([]string{m.Name}, lib.Exports(m)...), " "))
	}
	return os.WriteFile(filepath.Join(dir, MapFile), mapFile.Bytes(), 0o666)
}

// BuildFile writes the file library path from mods. Members are stored
// sorted by module name.
func BuildFile(path string, mods []*obj.Module) error {
	mods = append([]*obj.Module(nil), mods...)
	sort.SliceStable(mods, func(i, j int) bool { return mods[i].Name < mods[j].Name })

	var body, dir bytes.Buffer
	line := 2 // The header is line 1.
	for _, m := range mods {
		var buf bytes.Buffer
		if err := objfile.Write(&buf, m); err != nil {
			return err
		}
		text := strings.TrimPrefix(buf.String(), objfile.Magic+"\n")
		n := strings.Count(text, "\n")
		body.WriteString(text)
		fmt.Fprintln(&dir, strings.Join(append([]string{fmt.Sprintf("%X %X", line, n)}, lib.Exports(m)...), " "))
		line += n
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "%s %X %X\n", LibraryMagic, len(mods), line)
	out.Write(body.Bytes())
	out.Write(dir.Bytes())
	return os.WriteFile(path, out.Bytes(), 0o666)
}
