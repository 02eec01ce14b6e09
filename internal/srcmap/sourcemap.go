// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package srcmap builds and queries the mapping between loaded
// addresses and source locations for a debugged Amiga program. A
// SourceMap is built once per debug session, from either DWARF line
// programs or native hunk debug records, and is read-only afterwards.
package srcmap

import (
	"errors"
	"path"
	"sort"
	"strings"
)

// ErrLocationNotFound is returned when a source file or line cannot be
// resolved to a loaded address.
var ErrLocationNotFound = errors.New("location not found")

// ErrNoDebugInfo is returned when the program carries no line debug
// information at all. Source-level debugging is impossible without it,
// so callers treat this as fatal for the session.
var ErrNoDebugInfo = errors.New("no debug information")

// addressTolerance is how far past the last known line boundary an
// address may fall and still be attributed to that line. Lookups only
// ever search backward.
const addressTolerance = 10

// MemClass is the memory class a segment was loaded into.
type MemClass int

const (
	MemAny MemClass = iota
	MemChip
	MemFast
)

func (m MemClass) String() string {
	switch m {
	case MemChip:
		return "chip"
	case MemFast:
		return "fast"
	}
	return "any"
}

// Segment is one contiguous loaded memory region, corresponding to one
// hunk or one ELF section. Segments are created at attach time from the
// loader's reported offsets and never change.
type Segment struct {
	Name    string
	Address uint32
	Size    uint32
	Class   MemClass
}

// Contains reports whether addr falls inside the segment, half-open.
func (s *Segment) Contains(addr uint32) bool {
	return addr >= s.Address && addr < s.Address+s.Size
}

// Location binds one source line to one loaded address.
type Location struct {
	// Path is the source path as recorded in the debug info.
	Path string
	Line int

	Address       uint32
	SegmentIndex  int
	SegmentOffset uint32

	// Symbol is the nearest symbol at or before Address in the same
	// segment, when one is known. SymbolOffset is Address relative to it.
	Symbol       string
	SymbolOffset uint32
}

// SourceMap is the address<->source index for one debug session. It
// owns the segment list, the symbol table and a dual index of
// locations: by exact address and by (normalized path, line).
type SourceMap struct {
	segments []Segment
	symbols  map[string]uint32

	byAddress map[uint32]Location
	addresses []uint32 // sorted keys of byAddress

	byLine map[string]map[int]Location
	lines  map[string][]int // sorted keys of byLine[path]

	// original path spelling per normalized key, for display
	pathSpelling map[string]string

	entrySource string
}

// New indexes the given segments, symbols and locations into a
// SourceMap. Later symbol definitions with the same name overwrite
// earlier ones silently. entrySource names the canonical source file of
// the program's entry point.
func New(segments []Segment, symbols map[string]uint32, locations []Location, entrySource string) *SourceMap {
	m := &SourceMap{
		segments:     segments,
		symbols:      make(map[string]uint32, len(symbols)),
		byAddress:    make(map[uint32]Location, len(locations)),
		byLine:       make(map[string]map[int]Location),
		lines:        make(map[string][]int),
		pathSpelling: make(map[string]string),
		entrySource:  entrySource,
	}
	for name, addr := range symbols {
		m.symbols[name] = addr
	}
	// Earlier locations win on collision: builders order their input
	// richest-first (see BuildDWARF's program ordering).
	for _, loc := range locations {
		key := NormalizePath(loc.Path)
		if _, ok := m.pathSpelling[key]; !ok {
			m.pathSpelling[key] = loc.Path
		}
		if _, ok := m.byAddress[loc.Address]; !ok {
			m.byAddress[loc.Address] = loc
		}
		byLine := m.byLine[key]
		if byLine == nil {
			byLine = make(map[int]Location)
			m.byLine[key] = byLine
		}
		if _, ok := byLine[loc.Line]; !ok {
			byLine[loc.Line] = loc
		}
	}
	m.addresses = make([]uint32, 0, len(m.byAddress))
	for addr := range m.byAddress {
		m.addresses = append(m.addresses, addr)
	}
	sort.Slice(m.addresses, func(i, j int) bool { return m.addresses[i] < m.addresses[j] })
	for key, byLine := range m.byLine {
		lines := make([]int, 0, len(byLine))
		for line := range byLine {
			lines = append(lines, line)
		}
		sort.Ints(lines)
		m.lines[key] = lines
	}
	return m
}

// NormalizePath reduces a source path to the case-insensitive key used
// by the line index. Amiga toolchains mix path separator and case
// conventions freely, so both are folded.
func NormalizePath(p string) string {
	return strings.ToLower(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// EntrySource returns the canonical source file of the program's entry
// point, empty if unknown.
func (m *SourceMap) EntrySource() string { return m.entrySource }

// Segments returns the loaded segments in load order. The returned
// slice must not be modified.
func (m *SourceMap) Segments() []Segment { return m.segments }

// Symbols returns the symbol table. The returned map must not be
// modified.
func (m *SourceMap) Symbols() map[string]uint32 { return m.symbols }

// SymbolAddress returns the absolute address of a named symbol.
func (m *SourceMap) SymbolAddress(name string) (uint32, bool) {
	addr, ok := m.symbols[name]
	return addr, ok
}

// SourceFiles returns every known source file, in its original
// spelling.
func (m *SourceMap) SourceFiles() []string {
	files := make([]string, 0, len(m.pathSpelling))
	for _, p := range m.pathSpelling {
		files = append(files, p)
	}
	sort.Strings(files)
	return files
}

// LookupAddress finds the source location for an address. An exact
// match wins; otherwise the location with the greatest address at or
// below addr is used, but only when it lies within addressTolerance
// bytes. An address further past the last known statement boundary is
// not attributed to it. The search never looks forward.
func (m *SourceMap) LookupAddress(addr uint32) (Location, bool) {
	if loc, ok := m.byAddress[addr]; ok {
		return loc, true
	}
	// Index of the first known address > addr; the candidate precedes it.
	i := sort.Search(len(m.addresses), func(i int) bool { return m.addresses[i] > addr })
	if i == 0 {
		return Location{}, false
	}
	candidate := m.addresses[i-1]
	if addr-candidate > addressTolerance {
		return Location{}, false
	}
	return m.byAddress[candidate], true
}

// LookupSourceLine finds the location for a source line. An exact line
// match wins; otherwise the nearest location with a smaller line number
// in the same file is used, so a breakpoint set between statements
// resolves to the statement containing it.
func (m *SourceMap) LookupSourceLine(sourcePath string, line int) (Location, error) {
	key := NormalizePath(sourcePath)
	byLine, ok := m.byLine[key]
	if !ok {
		return Location{}, ErrLocationNotFound
	}
	if loc, ok := byLine[line]; ok {
		return loc, nil
	}
	lines := m.lines[key]
	i := sort.SearchInts(lines, line)
	// lines[i] >= line and an exact match was excluded above, so the
	// candidate is the line before the insertion point.
	if i == 0 {
		return Location{}, ErrLocationNotFound
	}
	return byLine[lines[i-1]], nil
}

// FindSegmentForAddress returns the segment containing addr and its
// index in load order.
func (m *SourceMap) FindSegmentForAddress(addr uint32) (Segment, int, bool) {
	for i := range m.segments {
		if m.segments[i].Contains(addr) {
			return m.segments[i], i, true
		}
	}
	return Segment{}, 0, false
}

// SymbolLengths derives a byte length for every symbol: the distance to
// the next symbol in address order within the same segment, or to the
// segment's end for the last one. The symbol table carries no ordering
// guarantee, so address order is established here rather than assumed.
func (m *SourceMap) SymbolLengths() map[string]uint32 {
	type sym struct {
		name string
		addr uint32
	}
	bySegment := make(map[int][]sym)
	for name, addr := range m.symbols {
		if _, i, ok := m.FindSegmentForAddress(addr); ok {
			bySegment[i] = append(bySegment[i], sym{name, addr})
		}
	}
	lengths := make(map[string]uint32, len(m.symbols))
	for i, syms := range bySegment {
		sort.Slice(syms, func(a, b int) bool { return syms[a].addr < syms[b].addr })
		end := m.segments[i].Address + m.segments[i].Size
		for j, s := range syms {
			if j+1 < len(syms) {
				lengths[s.name] = syms[j+1].addr - s.addr
			} else {
				lengths[s.name] = end - s.addr
			}
		}
	}
	return lengths
}

// FindSymbolOffset finds the symbol with the greatest address at or
// below addr within addr's own segment, and the offset from it. There
// is no result when addr lies outside every segment or its segment
// holds no symbol at or before it.
func (m *SourceMap) FindSymbolOffset(addr uint32) (string, uint32, bool) {
	_, segIndex, ok := m.FindSegmentForAddress(addr)
	if !ok {
		return "", 0, false
	}
	var (
		best     string
		bestAddr uint32
		found    bool
	)
	for name, symAddr := range m.symbols {
		if symAddr > addr {
			continue
		}
		if _, i, ok := m.FindSegmentForAddress(symAddr); !ok || i != segIndex {
			continue
		}
		if !found || symAddr > bestAddr || (symAddr == bestAddr && name < best) {
			best, bestAddr, found = name, symAddr, true
		}
	}
	if !found {
		return "", 0, false
	}
	return best, addr - bestAddr, true
}
