// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lib pulls static library members into a link until every
// symbol they can define is defined.
package lib

import (
	"fmt"
	"sort"

	"github.com/aclements/go-link/obj"
	"github.com/aclements/go-link/symtab"
	"github.com/aclements/go-link/wrap"
)

// A MemberID identifies a member within one library.
type MemberID string

// A Library maps exported symbol names to the members that define them.
type Library interface {
	Name() string

	// Lookup returns the member that defines sym.
	Lookup(sym string) (MemberID, bool)

	// Load returns the module of member id. Each call returns a
	// module the caller may modify.
	Load(id MemberID) (*obj.Module, error)
}

// Index is a Library held in memory.
type Index struct {
	name    string
	members map[MemberID]*obj.Module
	order   []MemberID
	syms    map[string]MemberID
}

// NewIndex returns a library named name holding members. Each member is
// identified by its module name. If several members define a symbol,
// the first one wins.
func NewIndex(name string, members []*obj.Module) *Index {
	x := &Index{name: name, members: make(map[MemberID]*obj.Module), syms: make(map[string]MemberID)}
	for _, m := range members {
		id := MemberID(m.Name)
		x.members[id] = m
		x.order = append(x.order, id)
		for _, sym := range Exports(m) {
			if _, ok := x.syms[sym]; !ok {
				x.syms[sym] = id
			}
		}
	}
	return x
}

func (x *Index) Name() string { return x.name }

func (x *Index) Lookup(sym string) (MemberID, bool) {
	id, ok := x.syms[sym]
	return id, ok
}

func (x *Index) Load(id MemberID) (*obj.Module, error) {
	m, ok := x.members[id]
	if !ok {
		return nil, fmt.Errorf("no member %s", id)
	}
	c := m.Clone()
	c.Member = &obj.Member{Library: x.name, Name: string(id)}
	return c, nil
}

// Members returns the member IDs of x in insertion order.
func (x *Index) Members() []MemberID {
	return x.order
}

// Exports returns the sorted names of the symbols m defines for other
// modules, including common symbols.
func Exports(m *obj.Module) []string {
	var out []string
	for i := range m.Syms {
		s := &m.Syms[i]
		if s.Local() || s.Kind == obj.SymUndef {
			continue
		}
		out = append(out, s.Name)
	}
	sort.Strings(out)
	return out
}

// A Resolver runs library search for one link.
type Resolver struct {
	// Libraries are searched in order.
	Libraries []Library

	// Wrap, if non-nil, is applied to every pulled member, and
	// __real_ names of wrapped symbols are looked up by their
	// unwrapped name.
	Wrap *wrap.Wrapper

	// Options is used to build the final symbol table. Shared images
	// only satisfy what libraries cannot.
	Options symtab.Options

	// Logf, if non-nil, receives a line for each pulled member.
	Logf func(format string, args ...interface{})

	pulled map[memberKey]bool
}

type memberKey struct {
	lib int
	id  MemberID
}

// Run adds library members to mods until no library defines any
// undefined symbol, and returns the grown module list and its final
// symbol table.
//
// Each pass collects the undefined symbols and finds the first library
// that defines at least one of them. Every member of that library that
// defines an undefined symbol and has not been pulled before is added.
// A member is never pulled twice, so running again on the result adds
// nothing.
//
// If a member cannot be loaded, Run returns a *MemberMissingError. If
// symbols remain undefined after the last pass, it returns a
// *symtab.UndefinedError naming all of them.
func (r *Resolver) Run(mods []*obj.Module) ([]*obj.Module, *symtab.Table, error) {
	if r.pulled == nil {
		r.pulled = make(map[memberKey]bool)
	}
	mods = append([]*obj.Module(nil), mods...)
	for {
		tab, err := symtab.Resolve(mods, symtab.Options{})
		if err != nil {
			return nil, nil, err
		}
		queue := tab.Undefined()
		if len(queue) == 0 {
			break
		}
		added, err := r.pass(queue)
		if err != nil {
			return nil, nil, err
		}
		if len(added) == 0 {
			break
		}
		mods = append(mods, added...)
	}

	tab, err := symtab.Resolve(mods, r.Options)
	if err != nil {
		return nil, nil, err
	}
	if err := tab.Check(); err != nil {
		return nil, nil, err
	}
	return mods, tab, nil
}

// pass pulls the members of the first library that can satisfy any
// name in queue.
func (r *Resolver) pass(queue []string) ([]*obj.Module, error) {
	for li, l := range r.Libraries {
		var ids []MemberID
		why := make(map[MemberID]string)
		for _, name := range queue {
			id, ok := l.Lookup(r.Wrap.Unwrap(name))
			if !ok {
				continue
			}
			k := memberKey{li, id}
			if r.pulled[k] {
				continue
			}
			r.pulled[k] = true
			ids = append(ids, id)
			why[id] = name
		}
		if len(ids) == 0 {
			continue
		}
		var added []*obj.Module
		for _, id := range ids {
			m, err := l.Load(id)
			if err != nil {
				return nil, &MemberMissingError{Library: l.Name(), Member: string(id), Err: err}
			}
			if m.Member == nil {
				m.Member = &obj.Member{Library: l.Name(), Name: string(id)}
			}
			r.Wrap.Apply(m)
			if r.Logf != nil {
				r.Logf("pulled %s for %s", m, why[id])
			}
			added = append(added, m)
		}
		return added, nil
	}
	return nil, nil
}

// A MemberMissingError reports a library whose index names a member
// that cannot be loaded.
type MemberMissingError struct {
	Library string
	Member  string
	Err     error
}

func (e *MemberMissingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("library %s: member %s is missing", e.Library, e.Member)
	}
	return fmt.Sprintf("library %s: member %s is missing: %v", e.Library, e.Member, e.Err)
}

func (e *MemberMissingError) Unwrap() error {
	return e.Err
}
