// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package asm decodes the machine code the linker itself generates, such
// as procedure linkage stubs, so it can be checked and listed.
package asm

import (
	"fmt"
	"io"

	"github.com/aclements/go-link/arch"
)

// Disasm disassembles machine code for the given architecture. pc is
// the program counter at which text begins.
func Disasm(a *arch.Arch, text []byte, pc uint64) (Seq, error) {
	switch a.GoArch {
	case "amd64":
		return disasmX86(text, pc, 64), nil
	case "386":
		return disasmX86(text, pc, 32), nil
	}
	return nil, fmt.Errorf("unsupported assembly architecture: %s", a)
}

// Seq is a sequence of instructions.
type Seq interface {
	Len() int
	Get(i int) Inst
}

// Inst is a single machine instruction.
type Inst interface {
	// GoSyntax returns the Go assembler syntax representation of
	// this instruction. symname, if non-nil, must return the name
	// and base of the symbol containing address addr, or "" if
	// symbol lookup fails.
	GoSyntax(symName func(addr uint64) (string, uint64)) string

	// PC returns the address of this instruction.
	PC() uint64

	// Len returns the length of this instruction in bytes.
	Len() int

	// Control returns the control-flow effects of this
	// instruction.
	Control() Control
}

// Control captures control-flow effects of an instruction.
type Control struct {
	Type        ControlType
	Conditional bool
	TargetPC    uint64

	// Indirect is set if the target is loaded from memory at the
	// absolute address MemAddr.
	Indirect bool
	MemAddr  uint64
}

type ControlType uint8

const (
	ControlNone ControlType = iota
	ControlJump
	ControlCall
	ControlRet

	// ControlExit is like a call that never returns.
	ControlExit

	// ControlInvalid marks bytes that do not decode.
	ControlInvalid
)

// Fprint writes one line per instruction of seq to w: its address, its
// bytes taken from text, and its Go syntax. text must be the bytes seq
// was decoded from.
func Fprint(w io.Writer, seq Seq, text []byte, symName func(uint64) (string, uint64)) error {
	if seq.Len() == 0 {
		return nil
	}
	start := seq.Get(0).PC()
	for i := 0; i < seq.Len(); i++ {
		inst := seq.Get(i)
		off := inst.PC() - start
		n := inst.Len()
		if n == 0 {
			n = 1
		}
		if _, err := fmt.Fprintf(w, "\t%#x\t%-16x\t%s\n", inst.PC(), text[off:off+uint64(n)], inst.GoSyntax(symName)); err != nil {
			return err
		}
	}
	return nil
}
