// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aclements/go-link/objfile"
	"github.com/aclements/go-link/symtab"
)

// LibNameFile names the file of a stub library that holds the image's
// name on its first line and the images it depends on after that.
const LibNameFile = "LIBRARY NAME"

// stubMember is the member a built stub library stores its exports in.
const stubMember = "EXPORTS"

// OpenShared reads the export table of a shared image. path is either a
// single STUB file or a stub library directory, whose STUB members are
// merged.
func OpenShared(path string) (*symtab.SharedImage, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return objfile.ReadStub(f, filepath.Base(path))
	}

	img := &symtab.SharedImage{Name: filepath.Base(path), Exports: make(map[string]uint64)}
	if data, err := os.ReadFile(filepath.Join(path, LibNameFile)); err == nil {
		lines := strings.Fields(string(data))
		if len(lines) > 0 {
			img.Name = lines[0]
			img.Deps = append(img.Deps, lines[1:]...)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	ents, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	for _, ent := range ents {
		if ent.IsDir() || ent.Name() == MapFile || ent.Name() == LibNameFile {
			continue
		}
		f, err := os.Open(filepath.Join(path, ent.Name()))
		if err != nil {
			return nil, err
		}
		member, err := objfile.ReadStub(f, filepath.Join(path, ent.Name()))
		f.Close()
		if err != nil {
			return nil, err
		}
		for sym, addr := range member.Exports {
			if _, ok := img.Exports[sym]; ok {
				return nil, fmt.Errorf("%s: symbol %s exported by more than one member", path, sym)
			}
			img.Exports[sym] = addr
		}
		for _, d := range member.Deps {
			if !contains(img.Deps, d) {
				img.Deps = append(img.Deps, d)
			}
		}
	}
	return img, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// BuildShared creates the stub library directory dir describing img.
// imports maps the symbols img itself takes from other shared images to
// the images that define them.
func BuildShared(dir string, img *symtab.SharedImage, imports map[string]string) error {
	if err := os.Mkdir(dir, 0o777); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("stub library %s already exists", dir)
		}
		return err
	}

	var member bytes.Buffer
	if err := objfile.WriteStub(&member, img, imports); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, stubMember), member.Bytes(), 0o666); err != nil {
		return err
	}

	names := make([]string, 0, len(img.Exports))
	for n := range img.Exports {
		names = append(names, n)
	}
	sort.Strings(names)
	mapLine := strings.Join(append([]string{stubMember}, names...), " ") + "\n"
	if err := os.WriteFile(filepath.Join(dir, MapFile), []byte(mapLine), 0o666); err != nil {
		return err
	}

	nameFile := strings.Join(append([]string{img.Name}, img.Deps...), "\n") + "\n"
	return os.WriteFile(filepath.Join(dir, LibNameFile), []byte(nameFile), 0o666)
}
