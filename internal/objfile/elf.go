// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/internal/srcmap"
)

// loadELF extracts sections, symbols and DWARF line programs from an
// ELF image and hands them to srcmap. Allocatable sections pair
// index-wise with the loader-reported segments: the Amiga ELF
// toolchains emit one loadable hunk per allocatable section, in
// section order.
func loadELF(data []byte, segments []emulator.LoadSegment) (*srcmap.SourceMap, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing ELF: %v", err)
	}
	defer f.Close()

	var sections []srcmap.Section
	for _, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		class := srcmap.MemAny
		if strings.Contains(strings.ToLower(s.Name), "chip") {
			class = srcmap.MemChip
		}
		sections = append(sections, srcmap.Section{
			Name:           s.Name,
			VirtualAddress: s.Addr,
			Size:           s.Size,
			LoadAddress:    uint32(s.Addr),
			Class:          class,
		})
	}
	for i := range sections {
		if i < len(segments) {
			sections[i].LoadAddress = segments[i].Address
		}
	}

	var symbols []srcmap.ELFSymbol
	if syms, err := f.Symbols(); err == nil {
		for _, sym := range syms {
			if sym.Name == "" {
				continue
			}
			switch elf.ST_TYPE(sym.Info) {
			case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
				symbols = append(symbols, srcmap.ELFSymbol{Name: sym.Name, Value: sym.Value})
			}
		}
	}

	lineSection := f.Section(".debug_line")
	if lineSection == nil {
		return nil, srcmap.ErrNoDebugInfo
	}
	lineData, err := lineSection.Data()
	if err != nil {
		return nil, fmt.Errorf("reading .debug_line: %v", err)
	}
	programs, err := parseLinePrograms(lineData, sectionData(f, ".debug_line_str"), sectionData(f, ".debug_str"), f.ByteOrder)
	if err != nil {
		return nil, err
	}

	return srcmap.BuildDWARF(&srcmap.DWARFData{
		Sections: sections,
		Programs: programs,
		Symbols:  symbols,
	})
}

func sectionData(f *elf.File, name string) []byte {
	s := f.Section(name)
	if s == nil {
		return nil
	}
	data, err := s.Data()
	if err != nil {
		return nil
	}
	return data
}

// DWARF v5 line-header content types and the forms used for them.
const (
	lnctPath     = 0x01
	lnctDirIndex = 0x02

	formData2   = 0x05
	formData4   = 0x06
	formData8   = 0x07
	formString  = 0x08
	formData1   = 0x0b
	formStrp    = 0x0e
	formUdata   = 0x0f
	formData16  = 0x1e
	formLineStr = 0x1f
)

// parseLinePrograms splits .debug_line into per-unit programs and
// decodes each unit's header. The opcode streams stay raw; srcmap runs
// them.
func parseLinePrograms(data, lineStr, str []byte, bo binary.ByteOrder) ([]srcmap.LineProgram, error) {
	var programs []srcmap.LineProgram
	for off := 0; off+4 <= len(data); {
		unitLen := bo.Uint32(data[off:])
		if unitLen == 0xffffffff {
			return nil, errors.New("64-bit DWARF is not supported")
		}
		unitEnd := off + 4 + int(unitLen)
		if unitEnd > len(data) {
			return nil, fmt.Errorf("truncated line program at %#x", off)
		}
		p, err := parseLineProgram(data[off+4:unitEnd], lineStr, str, bo)
		if err != nil {
			return nil, fmt.Errorf("line program at %#x: %v", off, err)
		}
		programs = append(programs, p)
		off = unitEnd
	}
	return programs, nil
}

func parseLineProgram(unit, lineStr, str []byte, bo binary.ByteOrder) (srcmap.LineProgram, error) {
	var p srcmap.LineProgram
	r := &byteReader{data: unit, bo: bo}

	version, err := r.u16()
	if err != nil {
		return p, err
	}
	p.Version = int(version)
	if p.Version < 2 || p.Version > 5 {
		return p, fmt.Errorf("unsupported DWARF line table version %d", p.Version)
	}

	p.AddressSize = 4
	if p.Version >= 5 {
		addrSize, err := r.u8()
		if err != nil {
			return p, err
		}
		p.AddressSize = int(addrSize)
		if _, err := r.u8(); err != nil { // segment selector size
			return p, err
		}
	}

	headerLen, err := r.u32()
	if err != nil {
		return p, err
	}
	programStart := r.off + int(headerLen)
	if programStart > len(unit) {
		return p, errors.New("header length exceeds unit")
	}

	minInst, err := r.u8()
	if err != nil {
		return p, err
	}
	p.MinInstructionLength = int(minInst)
	if p.Version >= 4 {
		if _, err := r.u8(); err != nil { // maximum_operations_per_instruction
			return p, err
		}
	}
	isStmt, err := r.u8()
	if err != nil {
		return p, err
	}
	p.DefaultIsStmt = isStmt != 0
	lineBase, err := r.u8()
	if err != nil {
		return p, err
	}
	p.LineBase = int(int8(lineBase))
	lineRange, err := r.u8()
	if err != nil {
		return p, err
	}
	p.LineRange = int(lineRange)
	opcodeBase, err := r.u8()
	if err != nil {
		return p, err
	}
	p.OpcodeBase = int(opcodeBase)
	p.StdOpcodeLengths = make([]int, p.OpcodeBase-1)
	for i := range p.StdOpcodeLengths {
		n, err := r.u8()
		if err != nil {
			return p, err
		}
		p.StdOpcodeLengths[i] = int(n)
	}

	if p.Version < 5 {
		err = r.readLegacyFileTable(&p)
	} else {
		err = r.readV5FileTable(&p, lineStr, str)
	}
	if err != nil {
		return p, err
	}

	p.Program = unit[programStart:]
	return p, nil
}

// readLegacyFileTable reads the v2-4 include directory and file name
// lists, both terminated by an empty entry.
func (r *byteReader) readLegacyFileTable(p *srcmap.LineProgram) error {
	for {
		dir, err := r.cstring()
		if err != nil {
			return err
		}
		if dir == "" {
			break
		}
		p.IncludeDirs = append(p.IncludeDirs, dir)
	}
	for {
		name, err := r.cstring()
		if err != nil {
			return err
		}
		if name == "" {
			break
		}
		dir, err := r.uleb()
		if err != nil {
			return err
		}
		if _, err := r.uleb(); err != nil { // mtime
			return err
		}
		if _, err := r.uleb(); err != nil { // size
			return err
		}
		p.Files = append(p.Files, srcmap.FileEntry{Name: name, DirIndex: int(dir)})
	}
	return nil
}

// readV5FileTable reads the v5 format-described directory and file
// tables. Only the path and directory index are kept; other content
// types (hashes, timestamps) are skipped by form.
func (r *byteReader) readV5FileTable(p *srcmap.LineProgram, lineStr, str []byte) error {
	dirs, err := r.readEntryTable(lineStr, str)
	if err != nil {
		return err
	}
	for _, e := range dirs {
		p.IncludeDirs = append(p.IncludeDirs, e.path)
	}
	files, err := r.readEntryTable(lineStr, str)
	if err != nil {
		return err
	}
	for _, e := range files {
		p.Files = append(p.Files, srcmap.FileEntry{Name: e.path, DirIndex: e.dirIndex})
	}
	return nil
}

type v5Entry struct {
	path     string
	dirIndex int
}

func (r *byteReader) readEntryTable(lineStr, str []byte) ([]v5Entry, error) {
	formatCount, err := r.u8()
	if err != nil {
		return nil, err
	}
	type format struct{ content, form uint64 }
	formats := make([]format, formatCount)
	for i := range formats {
		content, err := r.uleb()
		if err != nil {
			return nil, err
		}
		form, err := r.uleb()
		if err != nil {
			return nil, err
		}
		formats[i] = format{content, form}
	}
	count, err := r.uleb()
	if err != nil {
		return nil, err
	}
	entries := make([]v5Entry, count)
	for i := range entries {
		for _, f := range formats {
			s, n, err := r.readForm(f.form, lineStr, str)
			if err != nil {
				return nil, err
			}
			switch f.content {
			case lnctPath:
				entries[i].path = s
			case lnctDirIndex:
				entries[i].dirIndex = int(n)
			}
		}
	}
	return entries, nil
}

// readForm decodes one attribute value by form, returning the string
// or numeric interpretation as appropriate.
func (r *byteReader) readForm(form uint64, lineStr, str []byte) (string, uint64, error) {
	switch form {
	case formString:
		s, err := r.cstring()
		return s, 0, err
	case formLineStr:
		off, err := r.u32()
		if err != nil {
			return "", 0, err
		}
		return stringAt(lineStr, off), 0, nil
	case formStrp:
		off, err := r.u32()
		if err != nil {
			return "", 0, err
		}
		return stringAt(str, off), 0, nil
	case formData1:
		v, err := r.u8()
		return "", uint64(v), err
	case formData2:
		v, err := r.u16()
		return "", uint64(v), err
	case formData4:
		v, err := r.u32()
		return "", uint64(v), err
	case formData8:
		_, err := r.take(8)
		return "", 0, err
	case formData16:
		_, err := r.take(16)
		return "", 0, err
	case formUdata:
		v, err := r.uleb()
		return "", v, err
	}
	return "", 0, fmt.Errorf("unsupported line header form %#x", form)
}

func stringAt(data []byte, off uint32) string {
	if int(off) >= len(data) {
		return ""
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		return string(data[off:])
	}
	return string(data[off : int(off)+end])
}

// byteReader is a bounds-checked sequential reader over a DWARF unit.
type byteReader struct {
	data []byte
	off  int
	bo   binary.ByteOrder
}

func (r *byteReader) take(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, errors.New("unexpected end of data")
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return r.bo.Uint16(b), nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return r.bo.Uint32(b), nil
}

func (r *byteReader) cstring() (string, error) {
	end := bytes.IndexByte(r.data[r.off:], 0)
	if end < 0 {
		return "", errors.New("unterminated string")
	}
	s := string(r.data[r.off : r.off+end])
	r.off += end + 1
	return s, nil
}

func (r *byteReader) uleb() (uint64, error) {
	var (
		v     uint64
		shift uint
	)
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}
