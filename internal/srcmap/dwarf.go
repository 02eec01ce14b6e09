// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package srcmap

import (
	"fmt"
	"sort"
	"strings"
)

// This file interprets pre-parsed DWARF line-number programs into a
// SourceMap. Container parsing (ELF structure, .debug_line headers) is
// done by the objfile package; what arrives here is one LineProgram per
// compilation unit plus the section table and ELF symbols needed to
// relocate DWARF virtual addresses to loaded ones.

// Section describes one allocatable ELF section: its address in the
// linked (DWARF) view and the address the loader actually placed it at.
type Section struct {
	Name           string
	VirtualAddress uint64
	Size           uint64
	LoadAddress    uint32
	Class          MemClass
}

// loadOffset is the delta from the linked view to the loaded view.
func (s *Section) loadOffset() int64 {
	return int64(s.LoadAddress) - int64(s.VirtualAddress)
}

func (s *Section) containsVirtual(addr uint64) bool {
	return addr >= s.VirtualAddress && addr < s.VirtualAddress+s.Size
}

// FileEntry is one entry of a line program's file table. DirIndex keeps
// the raw on-disk value; its interpretation is version-dependent.
type FileEntry struct {
	Name     string
	DirIndex int
}

// LineProgram is one compilation unit's line-number program with its
// decoded header parameters and the raw opcode stream.
type LineProgram struct {
	Version              int
	MinInstructionLength int
	DefaultIsStmt        bool
	LineBase             int
	LineRange            int
	OpcodeBase           int
	StdOpcodeLengths     []int
	IncludeDirs          []string
	Files                []FileEntry
	AddressSize          int
	Program              []byte
}

// ELFSymbol is one symbol table entry, with its address in the linked
// view.
type ELFSymbol struct {
	Name  string
	Value uint64
}

// DWARFData is the pre-parsed debug input for a DWARF-bearing
// executable.
type DWARFData struct {
	Sections []Section
	Programs []LineProgram
	Symbols  []ELFSymbol
}

// asmExtensions are source suffixes indicating hand-written assembly.
// Line programs covering assembly carry coarser info than compiler
// output, so they are consulted last when coverage overlaps.
var asmExtensions = []string{".s", ".asm", ".i"}

func isAsmSource(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range asmExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (p *LineProgram) hasAsmSource() bool {
	for _, f := range p.Files {
		if isAsmSource(f.Name) {
			return true
		}
	}
	return false
}

// BuildDWARF interprets every line program in data into a SourceMap.
// Programs without assembly sources are interpreted first, and within
// each category higher DWARF versions first; where two programs cover
// the same address the earlier (richer) program wins.
func BuildDWARF(data *DWARFData) (*SourceMap, error) {
	programs := make([]*LineProgram, len(data.Programs))
	for i := range data.Programs {
		programs[i] = &data.Programs[i]
	}
	sort.SliceStable(programs, func(i, j int) bool {
		ai, aj := programs[i].hasAsmSource(), programs[j].hasAsmSource()
		if ai != aj {
			return !ai
		}
		return programs[i].Version > programs[j].Version
	})

	segments := make([]Segment, len(data.Sections))
	for i, sec := range data.Sections {
		segments[i] = Segment{
			Name:    sec.Name,
			Address: sec.LoadAddress,
			Size:    uint32(sec.Size),
			Class:   sec.Class,
		}
	}

	symbols := make(map[string]uint32, len(data.Symbols))
	for _, sym := range data.Symbols {
		if sym.Name == "" {
			continue
		}
		if sec := sectionForVirtual(data.Sections, sym.Value); sec != nil {
			symbols[sym.Name] = uint32(int64(sym.Value) + sec.loadOffset())
		}
	}

	var (
		locations   []Location
		entrySource string
	)
	for _, prog := range programs {
		rows, err := runLineProgram(prog)
		if err != nil {
			return nil, fmt.Errorf("line program for %s: %v", programName(prog), err)
		}
		for _, row := range rows {
			sec := sectionForVirtual(data.Sections, row.address)
			if sec == nil {
				continue
			}
			addr := uint32(int64(row.address) + sec.loadOffset())
			loc := Location{
				Path:    row.file,
				Line:    row.line,
				Address: addr,
			}
			locations = append(locations, loc)
			if entrySource == "" {
				entrySource = row.file
			}
		}
	}
	if len(locations) == 0 {
		return nil, ErrNoDebugInfo
	}
	attributeLocations(locations, segments, symbols)
	return New(segments, symbols, locations, entrySource), nil
}

func sectionForVirtual(sections []Section, addr uint64) *Section {
	for i := range sections {
		if sections[i].containsVirtual(addr) {
			return &sections[i]
		}
	}
	return nil
}

func programName(p *LineProgram) string {
	if len(p.Files) > 0 {
		return p.Files[0].Name
	}
	return "?"
}

// attributeLocations fills in segment and nearest-preceding-symbol
// information for freshly built locations.
func attributeLocations(locations []Location, segments []Segment, symbols map[string]uint32) {
	m := &SourceMap{segments: segments, symbols: symbols}
	for i := range locations {
		loc := &locations[i]
		if _, segIndex, ok := m.FindSegmentForAddress(loc.Address); ok {
			loc.SegmentIndex = segIndex
			loc.SegmentOffset = loc.Address - segments[segIndex].Address
		}
		if sym, off, ok := m.FindSymbolOffset(loc.Address); ok {
			loc.Symbol = sym
			loc.SymbolOffset = off
		}
	}
}

// row is one emitted line-table row, in the linked address view.
type row struct {
	address uint64
	file    string
	line    int
}

// lineState is the DWARF line-number state machine's register file.
type lineState struct {
	address    uint64
	file       int
	line       int
	column     int
	isStmt     bool
	basicBlock bool
}

func initialState(p *LineProgram) lineState {
	s := lineState{line: 1, isStmt: p.DefaultIsStmt}
	if p.Version >= 5 {
		s.file = 0 // v5 indices are 0-based
	} else {
		s.file = 1
	}
	return s
}

// runLineProgram executes a line program and collects the rows marking
// statement boundaries: those emitted by the copy standard opcode and
// by special opcodes. Rows naming synthetic files (angle-bracketed
// compiler markers) are dropped.
func runLineProgram(p *LineProgram) ([]row, error) {
	var rows []row
	state := initialState(p)

	emit := func() {
		name, ok := p.resolveFile(state.file)
		if !ok {
			return
		}
		rows = append(rows, row{address: state.address, file: name, line: state.line})
	}

	buf := &lebReader{data: p.Program}
	for !buf.empty() {
		op, err := buf.byte()
		if err != nil {
			return nil, err
		}
		switch {
		case int(op) >= p.OpcodeBase:
			// Special opcode: combined address and line advance,
			// always emits a row.
			adj := int(op) - p.OpcodeBase
			state.address += uint64((adj / p.LineRange) * p.MinInstructionLength)
			state.line += p.LineBase + adj%p.LineRange
			emit()
			state.basicBlock = false

		case op == 0:
			// Extended opcode: length-prefixed.
			length, err := buf.uleb()
			if err != nil {
				return nil, err
			}
			sub, err := buf.take(int(length))
			if err != nil {
				return nil, err
			}
			if len(sub) == 0 {
				return nil, fmt.Errorf("empty extended opcode")
			}
			switch sub[0] {
			case 0x01: // end_sequence: reset to program defaults
				state = initialState(p)
			case 0x02: // set_address
				addrBytes := sub[1:]
				var addr uint64
				// DWARF stores target addresses little-endian for
				// little-endian targets and big-endian otherwise; the
				// m68k tools emit big-endian.
				for _, b := range addrBytes {
					addr = addr<<8 | uint64(b)
				}
				state.address = addr
			default:
				// define_file and vendor extensions: skipped.
			}

		default:
			switch op {
			case 0x01: // copy
				emit()
				state.basicBlock = false
			case 0x02: // advance_pc
				n, err := buf.uleb()
				if err != nil {
					return nil, err
				}
				state.address += n * uint64(p.MinInstructionLength)
			case 0x03: // advance_line
				n, err := buf.sleb()
				if err != nil {
					return nil, err
				}
				state.line += int(n)
			case 0x04: // set_file
				n, err := buf.uleb()
				if err != nil {
					return nil, err
				}
				state.file = int(n)
			case 0x05: // set_column
				n, err := buf.uleb()
				if err != nil {
					return nil, err
				}
				state.column = int(n)
			case 0x06: // negate_stmt
				state.isStmt = !state.isStmt
			case 0x07: // set_basic_block
				state.basicBlock = true
			case 0x08: // const_add_pc
				// Advances by the address increment of special opcode
				// 255, without emitting a row.
				adj := 255 - p.OpcodeBase
				state.address += uint64((adj / p.LineRange) * p.MinInstructionLength)
			case 0x09: // fixed_advance_pc: raw halfword, not scaled.
				// Like every multi-byte field in a m68k ELF, the
				// operand is big-endian.
				hi, err := buf.byte()
				if err != nil {
					return nil, err
				}
				lo, err := buf.byte()
				if err != nil {
					return nil, err
				}
				state.address += uint64(hi)<<8 | uint64(lo)
			default:
				// Unknown standard opcode: skip its declared operands.
				if int(op) <= len(p.StdOpcodeLengths) {
					for i := 0; i < p.StdOpcodeLengths[op-1]; i++ {
						if _, err := buf.uleb(); err != nil {
							return nil, err
						}
					}
				}
			}
		}
	}
	return rows, nil
}

// resolveFile maps a file register value to a full source path,
// following the version-dependent index bases: DWARF 5 uses 0-based
// file and directory indices, DWARF 2-4 1-based with file 0 reserved
// and directory 0 meaning "no directory prefix". Synthetic entries
// (angle-bracketed names) resolve to nothing.
func (p *LineProgram) resolveFile(index int) (string, bool) {
	var entry FileEntry
	if p.Version >= 5 {
		if index < 0 || index >= len(p.Files) {
			return "", false
		}
		entry = p.Files[index]
	} else {
		if index < 1 || index > len(p.Files) {
			return "", false
		}
		entry = p.Files[index-1]
	}
	if strings.HasPrefix(entry.Name, "<") {
		return "", false
	}
	if strings.HasPrefix(entry.Name, "/") || len(entry.Name) > 1 && entry.Name[1] == ':' {
		return entry.Name, true
	}
	var dir string
	if p.Version >= 5 {
		if entry.DirIndex >= 0 && entry.DirIndex < len(p.IncludeDirs) {
			dir = p.IncludeDirs[entry.DirIndex]
		}
	} else {
		if entry.DirIndex >= 1 && entry.DirIndex <= len(p.IncludeDirs) {
			dir = p.IncludeDirs[entry.DirIndex-1]
		}
	}
	if dir == "" {
		return entry.Name, true
	}
	return dir + "/" + entry.Name, true
}

// lebReader decodes the byte/ULEB128/SLEB128 stream of a line program.
type lebReader struct {
	data []byte
	off  int
}

func (r *lebReader) empty() bool { return r.off >= len(r.data) }

func (r *lebReader) byte() (byte, error) {
	if r.off >= len(r.data) {
		return 0, fmt.Errorf("truncated line program at offset %d", r.off)
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *lebReader) take(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, fmt.Errorf("truncated line program at offset %d", r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *lebReader) uleb() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

func (r *lebReader) sleb() (int64, error) {
	var v int64
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		v |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v, nil
		}
	}
}
