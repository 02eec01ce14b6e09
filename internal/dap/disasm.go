// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import (
	"fmt"
	"strings"

	"github.com/uaedap/uaedap/arch"
	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/internal/srcmap"
)

// DisassembledInstruction is one entry of a disassembly window, with
// optional source attribution.
type DisassembledInstruction struct {
	Address     uint32
	Instruction string
	Bytes       []byte
	Invalid     bool

	Symbol    string
	HasSource bool
	Path      string
	Line      int
}

// DisassemblyManager produces stable instruction windows around
// arbitrary addresses. The emulator's disassembler only decodes
// forward from a byte address, and 68k instructions vary between 2 and
// 10 bytes, so windows that reach backward are computed conservatively
// and anchored on the requested address.
type DisassemblyManager struct {
	emu  emulator.Emulator
	src  *srcmap.SourceMap
	arch *arch.Architecture
}

func NewDisassemblyManager(emu emulator.Emulator, src *srcmap.SourceMap, a *arch.Architecture) *DisassemblyManager {
	return &DisassemblyManager{emu: emu, src: src, arch: a}
}

// Disassemble returns exactly count instructions positioned relative
// to baseAddress + instructionOffset, the offset counted in
// instructions.
func (m *DisassemblyManager) Disassemble(baseAddress uint32, instructionOffset, count int) ([]DisassembledInstruction, error) {
	if count <= 0 {
		return nil, nil
	}

	var (
		requestAddr  uint32
		requestCount int
	)
	if instructionOffset < 0 {
		// Reaching backward. Instruction lengths vary, so start at the
		// worst-case byte distance and request enough instructions to
		// cover the span even if every one is minimum length.
		back := int64(-instructionOffset) * int64(m.arch.MaxInstructionSize)
		start := int64(baseAddress) - back
		if start < 0 {
			start = 0
		}
		requestAddr = uint32(start)
		ratio := m.arch.MaxInstructionSize / m.arch.MinInstructionSize
		requestCount = count + (-instructionOffset)*ratio
	} else {
		requestAddr = baseAddress
		requestCount = count + instructionOffset
	}

	instructions, err := m.emu.Disassemble(requestAddr, requestCount)
	if err != nil {
		return nil, err
	}

	// Anchor the window on the entry that decodes baseAddress itself.
	anchor := -1
	for i, inst := range instructions {
		if inst.Address == baseAddress {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		// The anchor must exist when baseAddress really is an
		// instruction boundary; its absence is a contract violation,
		// not a recoverable condition.
		return nil, fmt.Errorf("start instruction %s not found in disassembly", arch.Hex32(baseAddress))
	}

	out := make([]DisassembledInstruction, 0, count)
	realStart := anchor + instructionOffset
	for realStart < 0 && len(out) < count {
		// More instructions requested behind baseAddress than exist;
		// pad the front with placeholders.
		out = append(out, invalidInstruction())
		realStart++
	}
	for i := realStart; i < len(instructions) && len(out) < count; i++ {
		out = append(out, m.annotate(instructions[i]))
	}
	return out, nil
}

// DisassembleCopper decodes count fixed-width copper instructions at a
// literal address, with the same source annotation but no offset
// arithmetic.
func (m *DisassemblyManager) DisassembleCopper(addr uint32, count int) ([]DisassembledInstruction, error) {
	instructions, err := m.emu.DisassembleCopper(addr, count)
	if err != nil {
		return nil, err
	}
	out := make([]DisassembledInstruction, 0, len(instructions))
	for _, inst := range instructions {
		out = append(out, m.annotate(inst))
	}
	return out, nil
}

func invalidInstruction() DisassembledInstruction {
	return DisassembledInstruction{
		Instruction: "invalid",
		Bytes:       make([]byte, 4),
		Invalid:     true,
	}
}

// annotate attaches source and symbol information and marks entries
// that decode padding rather than code: all-zero bytes or a raw data
// directive.
func (m *DisassemblyManager) annotate(inst emulator.Instruction) DisassembledInstruction {
	out := DisassembledInstruction{
		Address:     inst.Address,
		Instruction: inst.Instruction,
		Bytes:       inst.Bytes,
	}
	if allZero(inst.Bytes) || strings.HasPrefix(inst.Instruction, "dc.") {
		out.Invalid = true
	}
	if sym, off, ok := m.src.FindSymbolOffset(inst.Address); ok && off == 0 {
		out.Symbol = sym
	}
	if loc, ok := m.src.LookupAddress(inst.Address); ok {
		out.HasSource = true
		out.Path = loc.Path
		out.Line = loc.Line
	}
	return out
}

func allZero(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// formatInstructionBytes renders raw instruction bytes as 16-bit words
// ("4eb9 0000 1000"), the way 68k listings print them.
func formatInstructionBytes(b []byte) string {
	var s strings.Builder
	for i := 0; i < len(b); i += 2 {
		if i > 0 {
			s.WriteByte(' ')
		}
		if i+1 < len(b) {
			fmt.Fprintf(&s, "%02x%02x", b[i], b[i+1])
		} else {
			fmt.Fprintf(&s, "%02x", b[i])
		}
	}
	return s.String()
}
