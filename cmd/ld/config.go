// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aclements/go-link/arch"
	"github.com/aclements/go-link/archive"
	"github.com/aclements/go-link/layout"
	"github.com/aclements/go-link/link"
	"github.com/aclements/go-link/objfile"
)

// Config is a link configuration. It can be read from a YAML file, and
// command-line flags override it.
type Config struct {
	Output string `yaml:"output"`
	Map    string `yaml:"map"`
	// StubDir, if set, receives a stub library for a shared output
	// instead of the single STUB file Output+".stub".
	StubDir string `yaml:"stub_dir"`
	Arch    string `yaml:"arch"`
	PIC     bool   `yaml:"pic"`
	Shared  bool   `yaml:"shared"`

	TextStart uint64 `yaml:"text_start"`
	DataAlign uint64 `yaml:"data_align"`
	GOTAlign  uint64 `yaml:"got_align"`
	BSSAlign  uint64 `yaml:"bss_align"`

	Wrap         []string `yaml:"wrap"`
	Libraries    []string `yaml:"libraries"`
	SharedImages []string `yaml:"shared_images"`
	Objects      []string `yaml:"objects"`
}

// readConfig decodes a YAML configuration. Unknown keys are an error.
// An empty document is an empty configuration.
func readConfig(r io.Reader) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &c, nil
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := readConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// withDefaults fills in the output name and architecture.
func (c *Config) withDefaults() {
	if c.Output == "" {
		c.Output = "a.out"
	}
	if c.Arch == "" {
		c.Arch = "386"
	}
}

// request reads every input named by c and returns the link request.
func (c *Config) request() (*link.Request, error) {
	a := arch.Lookup(c.Arch)
	if a == nil {
		return nil, fmt.Errorf("unknown architecture %q", c.Arch)
	}
	if len(c.Objects) == 0 {
		return nil, errors.New("no object files")
	}
	req := &link.Request{
		Wrap:         c.Wrap,
		PIC:          c.PIC || c.Shared,
		SharedOutput: c.Shared,
		Arch:         a,
		Name:         c.Output,
		Layout: layout.Config{
			TextStart: c.TextStart,
			DataAlign: c.DataAlign,
			GOTAlign:  c.GOTAlign,
			BSSAlign:  c.BSSAlign,
		},
	}
	for _, path := range c.Objects {
		m, err := objfile.ReadFile(path)
		if err != nil {
			return nil, err
		}
		req.Modules = append(req.Modules, m)
	}
	for _, path := range c.Libraries {
		l, err := archive.Open(path)
		if err != nil {
			return nil, err
		}
		req.Libraries = append(req.Libraries, l)
	}
	for _, path := range c.SharedImages {
		img, err := archive.OpenShared(path)
		if err != nil {
			return nil, err
		}
		req.Shared = append(req.Shared, img)
	}
	return req, nil
}

// write stores the results of a link: the image, the map if requested,
// and the stub of a shared image.
func (c *Config) write(res *link.Result) error {
	if err := writeFile(c.Output, func(w io.Writer) error { return objfile.Write(w, res.Module) }); err != nil {
		return err
	}
	if c.Map != "" {
		if err := writeFile(c.Map, res.WriteMap); err != nil {
			return err
		}
	}
	if !c.Shared {
		return nil
	}
	img := res.SharedImage(filepath.Base(c.Output))
	if c.StubDir != "" {
		return archive.BuildShared(c.StubDir, img, res.Imports)
	}
	return writeFile(c.Output+".stub", func(w io.Writer) error { return objfile.WriteStub(w, img, res.Imports) })
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
