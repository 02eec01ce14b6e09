// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/uaedap/uaedap/arch"
	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/internal/srcmap"
)

// Variable is one row of the variables tree. A non-zero Reference
// marks the row expandable; expansion goes back through the handle
// arena.
type Variable struct {
	Name            string
	Value           string
	Type            string
	Reference       int
	MemoryReference string
}

// Scope is one top-level group of the variables tree.
type Scope struct {
	Name      string
	Reference int
}

// scope node kinds held in the handle arena.
type scopeKind int

const (
	scopeRegisters scopeKind = iota
	scopeSymbols
	scopeSegments
	scopeCustom
	scopeStatusBits
)

type scopeNode struct {
	kind scopeKind
	// sr snapshot for scopeStatusBits
	sr uint16
}

// VariablesManager presents registers, symbols, segments and custom
// chip registers as a hierarchical variable tree with lazy expansion.
type VariablesManager struct {
	emu     emulator.Emulator
	src     *srcmap.SourceMap
	handles *handlesMap

	symbolLengths map[string]uint32
}

func NewVariablesManager(emu emulator.Emulator, src *srcmap.SourceMap, handles *handlesMap) *VariablesManager {
	return &VariablesManager{
		emu:           emu,
		src:           src,
		handles:       handles,
		symbolLengths: src.SymbolLengths(),
	}
}

// Scopes returns the top-level variable groups for a stack frame. The
// register file is per-machine, not per-frame, so every frame shows
// the same scopes.
func (m *VariablesManager) Scopes() []Scope {
	return []Scope{
		{Name: "Registers", Reference: m.handles.create(scopeNode{kind: scopeRegisters})},
		{Name: "Symbols", Reference: m.handles.create(scopeNode{kind: scopeSymbols})},
		{Name: "Segments", Reference: m.handles.create(scopeNode{kind: scopeSegments})},
		{Name: "Custom", Reference: m.handles.create(scopeNode{kind: scopeCustom})},
	}
}

// Variables expands a variablesReference previously handed out by
// Scopes, a nested variable, or an evaluate result.
func (m *VariablesManager) Variables(reference int) ([]Variable, error) {
	node, ok := m.handles.get(reference)
	if !ok {
		return nil, newProtocolError(codeVariablesFailed, nil, "unknown variablesReference %d", reference)
	}
	switch n := node.(type) {
	case scopeNode:
		switch n.kind {
		case scopeRegisters:
			return m.registerVariables()
		case scopeSymbols:
			return m.symbolVariables()
		case scopeSegments:
			return m.segmentVariables(), nil
		case scopeCustom:
			return m.customVariables()
		case scopeStatusBits:
			return statusBitVariables(n.sr), nil
		}
	case ArrayValue:
		return arrayVariables(n), nil
	case DisassemblyValue:
		return disassemblyVariables(n), nil
	}
	return nil, newProtocolError(codeVariablesFailed, nil, "unknown variablesReference %d", reference)
}

func (m *VariablesManager) registerVariables() ([]Variable, error) {
	info, err := m.emu.GetCPUInfo()
	if err != nil {
		return nil, newProtocolError(codeVariablesFailed, err, "reading CPU state")
	}
	var vars []Variable
	for i, name := range dataRegisterNames {
		vars = append(vars, Variable{
			Name:  name,
			Value: fmt.Sprintf("%s = %d", arch.Hex32(info.D[i]), arch.I32(info.D[i])),
			Type:  "register",
		})
	}
	for i, name := range addressRegisterNames {
		vars = append(vars, Variable{
			Name:            name,
			Value:           m.formatAddress(info.A[i]),
			Type:            "register",
			MemoryReference: arch.Hex32(info.A[i]),
		})
	}
	for _, name := range controlRegisterNames {
		v, _ := registerValue(&info, name)
		variable := Variable{Name: name, Type: "register"}
		switch name {
		case "sr":
			variable.Value = arch.Hex16(uint16(v))
			variable.Reference = m.handles.create(scopeNode{kind: scopeStatusBits, sr: uint16(v)})
		case "pc":
			variable.Value = m.formatAddress(v)
			variable.MemoryReference = arch.Hex32(v)
		default:
			variable.Value = arch.Hex32(v)
			variable.MemoryReference = arch.Hex32(v)
		}
		vars = append(vars, variable)
	}
	return vars, nil
}

// formatAddress renders an address with its nearest symbol, the same
// shape evaluate uses for address registers.
func (m *VariablesManager) formatAddress(addr uint32) string {
	s := arch.Hex32(addr)
	if sym, off, ok := m.src.FindSymbolOffset(addr); ok {
		if off == 0 {
			s += " = " + sym
		} else {
			s += fmt.Sprintf(" = %s+%#x", sym, off)
		}
	}
	return s
}

func (m *VariablesManager) symbolVariables() ([]Variable, error) {
	symbols := m.src.Symbols()
	names := make([]string, 0, len(symbols))
	for name := range symbols {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]Variable, 0, len(names))
	for _, name := range names {
		addr := symbols[name]
		v := Variable{
			Name:            name,
			Type:            "symbol",
			MemoryReference: arch.Hex32(addr),
		}
		// Machine-width symbols read their current value; anything
		// else shows the address only.
		switch m.symbolLengths[name] {
		case 1:
			if b, err := m.emu.Peek8(addr); err == nil {
				v.Value = fmt.Sprintf("0x%02x = %d", b, arch.I8(b))
			}
		case 2:
			if w, err := m.emu.Peek16(addr); err == nil {
				v.Value = fmt.Sprintf("0x%04x = %d", w, arch.I16(w))
			}
		case 4:
			if l, err := m.emu.Peek32(addr); err == nil {
				v.Value = arch.Hex32(l)
			}
		}
		if v.Value == "" {
			v.Value = arch.Hex32(addr)
		}
		vars = append(vars, v)
	}
	return vars, nil
}

func (m *VariablesManager) segmentVariables() []Variable {
	segments := m.src.Segments()
	vars := make([]Variable, 0, len(segments))
	for i, seg := range segments {
		name := seg.Name
		if name == "" {
			name = fmt.Sprintf("segment %d", i)
		}
		vars = append(vars, Variable{
			Name:            name,
			Value:           fmt.Sprintf("%s (%d bytes, %s)", arch.Hex32(seg.Address), seg.Size, seg.Class),
			Type:            "segment",
			MemoryReference: arch.Hex32(seg.Address),
		})
	}
	return vars
}

func (m *VariablesManager) customVariables() ([]Variable, error) {
	regs, err := m.emu.GetAllCustomRegisters()
	if err != nil {
		return nil, newProtocolError(codeVariablesFailed, err, "reading custom registers")
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Address < regs[j].Address })
	vars := make([]Variable, 0, len(regs))
	for _, reg := range regs {
		vars = append(vars, Variable{
			Name:            reg.Name,
			Value:           fmt.Sprintf("%s [%s]", arch.Hex16(uint16(reg.Value)), arch.Bin16(uint16(reg.Value))),
			Type:            "custom",
			MemoryReference: arch.Hex32(reg.Address),
		})
	}
	return vars, nil
}

// statusBitNames lists the user-relevant SR bits, high to low.
var statusBitNames = []struct {
	name string
	bit  uint
}{
	{"T1", 15}, {"T0", 14}, {"S", 13}, {"M", 12},
	{"X", 4}, {"N", 3}, {"Z", 2}, {"V", 1}, {"C", 0},
}

func statusBitVariables(sr uint16) []Variable {
	vars := make([]Variable, 0, len(statusBitNames)+1)
	for _, b := range statusBitNames {
		vars = append(vars, Variable{
			Name:  b.name,
			Value: strconv.Itoa(int(sr >> b.bit & 1)),
			Type:  "flag",
		})
	}
	vars = append(vars, Variable{
		Name:  "IPL",
		Value: strconv.Itoa(int(sr >> 8 & 7)),
		Type:  "flag",
	})
	return vars
}

func arrayVariables(a ArrayValue) []Variable {
	vars := make([]Variable, 0, len(a.Values))
	for i, v := range a.Values {
		addr := a.BaseAddress + uint32(i*a.ElemSize)
		vars = append(vars, Variable{
			Name:            strconv.Itoa(i),
			Value:           fmt.Sprintf("%0*x", a.ElemSize*2, v),
			Type:            "element",
			MemoryReference: arch.Hex32(addr),
		})
	}
	return vars
}

func disassemblyVariables(d DisassemblyValue) []Variable {
	vars := make([]Variable, 0, len(d.Instructions))
	for _, inst := range d.Instructions {
		vars = append(vars, Variable{
			Name:            arch.Hex32(inst.Address),
			Value:           inst.Instruction,
			Type:            "instruction",
			MemoryReference: arch.Hex32(inst.Address),
		})
	}
	return vars
}

// SetVariable writes a new value for a symbol variable: the symbol's
// memory cell is poked at its derived length (defaulting to a
// longword). Registers are read-only here; the emulator exposes no
// register-write primitive.
func (m *VariablesManager) SetVariable(reference int, name, value string) (Variable, error) {
	node, ok := m.handles.get(reference)
	if !ok {
		return Variable{}, newProtocolError(codeSetVarFailed, nil, "unknown variablesReference %d", reference)
	}
	sn, ok := node.(scopeNode)
	if !ok || sn.kind != scopeSymbols {
		return Variable{}, newProtocolError(codeSetVarFailed, nil, "%q is read-only", name)
	}
	addr, ok := m.src.SymbolAddress(name)
	if !ok {
		return Variable{}, newProtocolError(codeSetVarFailed, nil, "unknown symbol %q", name)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(value), 0, 64)
	if err != nil {
		return Variable{}, newProtocolError(codeSetVarFailed, nil, "cannot parse value %q", value)
	}
	switch m.symbolLengths[name] {
	case 1:
		err = m.emu.Poke8(addr, arch.U8(v))
	case 2:
		err = m.emu.Poke16(addr, arch.U16(v))
	default:
		err = m.emu.Poke32(addr, arch.U32(v))
	}
	if err != nil {
		return Variable{}, newProtocolError(codeMemoryWriteFailed, err, "writing %s", name)
	}
	return Variable{
		Name:            name,
		Value:           fmt.Sprintf("0x%x = %d", v, v),
		Type:            "symbol",
		MemoryReference: arch.Hex32(addr),
	}, nil
}

// CompleteSymbols returns the symbol names starting with prefix, for
// the memory viewer's address completion.
func (m *VariablesManager) CompleteSymbols(prefix string) []string {
	lower := strings.ToLower(prefix)
	var names []string
	for name := range m.src.Symbols() {
		if strings.HasPrefix(strings.ToLower(name), lower) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
