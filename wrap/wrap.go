// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wrap redirects references to selected symbols through
// wrapper functions.
//
// For each wrapped name x, references to x become references to
// __wrap_x, and the original definition of x stays reachable as
// __real_x. The rewrite only renames; it never computes addresses, so it
// must run on every module before symbol resolution.
package wrap

import (
	"strings"

	"github.com/aclements/go-link/obj"
)

const (
	WrapPrefix = "__wrap_"
	RealPrefix = "__real_"
)

// A Wrapper rewrites modules for a set of wrapped names.
type Wrapper struct {
	names map[string]bool
}

// New returns a Wrapper for names. Duplicate names are ignored.
func New(names []string) *Wrapper {
	w := &Wrapper{names: make(map[string]bool, len(names))}
	for _, n := range names {
		w.names[n] = true
	}
	return w
}

// Wrapped reports whether references to name are redirected.
func (w *Wrapper) Wrapped(name string) bool {
	return w != nil && w.names[name]
}

// Unwrap returns the name that defines name. For __real_x with x
// wrapped, that is x. Otherwise it is name itself.
func (w *Wrapper) Unwrap(name string) string {
	if x, ok := strings.CutPrefix(name, RealPrefix); ok && w.Wrapped(x) {
		return x
	}
	return name
}

// Apply rewrites m in place. It renames every undefined symbol x and
// every relocation reference to x, for wrapped x, to __wrap_x, and gives
// each exported definition of a wrapped x the alias __real_x. References
// that m satisfies with a local symbol are not renamed. Apply reports
// whether it changed m.
func (w *Wrapper) Apply(m *obj.Module) bool {
	if w == nil || len(w.names) == 0 {
		return false
	}
	changed := false
	var aliases []obj.Sym
	for i := range m.Syms {
		s := &m.Syms[i]
		if s.Local() || !w.names[s.Name] {
			continue
		}
		switch s.Kind {
		case obj.SymUndef:
			s.Name = WrapPrefix + s.Name
			changed = true
		case obj.SymDefined, obj.SymAbsolute:
			alias := *s
			alias.Name = RealPrefix + s.Name
			alias.SetSynthetic(true)
			aliases = append(aliases, alias)
		}
	}
	for i := range m.Relocs {
		r := &m.Relocs[i]
		if !r.Ref.IsSym() || !w.names[r.Ref.Sym] {
			continue
		}
		if _, ok := m.LocalSym(r.Ref.Sym); ok {
			continue
		}
		r.Ref.Sym = WrapPrefix + r.Ref.Sym
		changed = true
	}
	for _, a := range aliases {
		if hasSym(m, a.Name) {
			continue
		}
		m.Syms = append(m.Syms, a)
		changed = true
	}
	return changed
}

func hasSym(m *obj.Module, name string) bool {
	for i := range m.Syms {
		if m.Syms[i].Name == name && m.Syms[i].Defined() {
			return true
		}
	}
	return false
}
