// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package srcmap

import (
	"errors"
	"testing"
)

// progWriter assembles a line-number program byte stream for tests.
type progWriter struct{ b []byte }

func (w *progWriter) op(bytes ...byte) *progWriter {
	w.b = append(w.b, bytes...)
	return w
}

func (w *progWriter) uleb(v uint64) *progWriter {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.b = append(w.b, b)
		if v == 0 {
			return w
		}
	}
}

func (w *progWriter) sleb(v int64) *progWriter {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.b = append(w.b, b)
			return w
		}
		w.b = append(w.b, b|0x80)
	}
}

func (w *progWriter) setAddress(addr uint32) *progWriter {
	return w.op(0x00, 0x05, 0x02,
		byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}

func (w *progWriter) endSequence() *progWriter {
	return w.op(0x00, 0x01, 0x01)
}

// testProgram returns a LineProgram with small header constants:
// opcode base 10, line base 0, line range 4, min instruction length 2.
func testProgram(version int, files []FileEntry, dirs []string, program []byte) LineProgram {
	return LineProgram{
		Version:              version,
		MinInstructionLength: 2,
		DefaultIsStmt:        true,
		LineBase:             0,
		LineRange:            4,
		OpcodeBase:           10,
		StdOpcodeLengths:     []int{0, 1, 1, 1, 1, 0, 0, 0, 1},
		IncludeDirs:          dirs,
		Files:                files,
		AddressSize:          4,
		Program:              program,
	}
}

func TestRunLineProgramOpcodes(t *testing.T) {
	var w progWriter
	w.setAddress(0x1000)
	w.op(0x01)             // copy: row 0x1000 line 1
	w.op(0x02).uleb(4)     // advance_pc 4*2 = 8
	w.op(0x03).sleb(1)     // advance_line +1
	w.op(0x01)             // copy: row 0x1008 line 2
	w.op(0x0F)             // special adj=5: +1 instr, +1 line: row 0x100A line 3
	w.op(0x08)             // const_add_pc: adj=245, +(245/4)*2 = +122
	w.op(0x09, 0x01, 0x00) // fixed_advance_pc +0x100, unscaled
	w.op(0x06)             // negate_stmt
	w.op(0x05).uleb(7)     // set_column
	w.op(0x07)             // set_basic_block
	w.op(0x03).sleb(-1)    // advance_line -1
	w.op(0x01)             // copy: row 0x1184 line 2
	w.endSequence()

	prog := testProgram(3, []FileEntry{{Name: "main.c"}}, nil, w.b)
	rows, err := runLineProgram(&prog)
	if err != nil {
		t.Fatalf("runLineProgram: %v", err)
	}
	want := []row{
		{address: 0x1000, file: "main.c", line: 1},
		{address: 0x1008, file: "main.c", line: 2},
		{address: 0x100A, file: "main.c", line: 3},
		{address: 0x100A + 122 + 0x100, file: "main.c", line: 2},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows %+v, want %d", len(rows), rows, len(want))
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestRunLineProgramFileIndexing(t *testing.T) {
	// DWARF 2-4: 1-based files, directory 0 means no prefix.
	var w progWriter
	w.setAddress(0x1000)
	w.op(0x01)         // copy: file 1 = a.c
	w.op(0x04).uleb(2) // set_file 2 = sub/b.c
	w.op(0x0E)         // special adj=4: +1 instr, +0 lines
	w.op(0x04).uleb(3) // set_file 3 = synthetic, excluded
	w.op(0x0E)
	w.endSequence()

	files := []FileEntry{
		{Name: "a.c", DirIndex: 0},
		{Name: "b.c", DirIndex: 1},
		{Name: "<command line>", DirIndex: 0},
	}
	prog := testProgram(3, files, []string{"sub"}, w.b)
	rows, err := runLineProgram(&prog)
	if err != nil {
		t.Fatalf("runLineProgram: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows %+v, want 2 (synthetic file excluded)", len(rows), rows)
	}
	if rows[0].file != "a.c" || rows[1].file != "sub/b.c" {
		t.Errorf("files = %q, %q; want a.c, sub/b.c", rows[0].file, rows[1].file)
	}

	// DWARF 5: 0-based files and directories.
	var w5 progWriter
	w5.setAddress(0x1000)
	w5.op(0x01) // copy: file 0
	w5.endSequence()
	prog5 := testProgram(5, []FileEntry{{Name: "c.c", DirIndex: 1}}, []string{".", "src"}, w5.b)
	rows, err = runLineProgram(&prog5)
	if err != nil {
		t.Fatalf("runLineProgram v5: %v", err)
	}
	if len(rows) != 1 || rows[0].file != "src/c.c" {
		t.Errorf("v5 rows = %+v, want one row for src/c.c", rows)
	}
}

func TestBuildDWARFRelocatesAndOrders(t *testing.T) {
	// Two programs covering the same virtual address: the C program
	// must win over the assembly one, regardless of input order.
	var asm progWriter
	asm.setAddress(0x1000)
	asm.op(0x01)
	asm.endSequence()
	var c progWriter
	c.setAddress(0x1000)
	c.op(0x01)
	c.endSequence()

	data := &DWARFData{
		Sections: []Section{
			{Name: ".text", VirtualAddress: 0x1000, Size: 0x1000, LoadAddress: 0x20000},
		},
		Programs: []LineProgram{
			testProgram(3, []FileEntry{{Name: "startup.asm"}}, nil, asm.b),
			testProgram(3, []FileEntry{{Name: "main.c"}}, nil, c.b),
		},
		Symbols: []ELFSymbol{
			{Name: "main", Value: 0x1000},
			{Name: "discarded", Value: 0x99999}, // outside every section
		},
	}
	m, err := BuildDWARF(data)
	if err != nil {
		t.Fatalf("BuildDWARF: %v", err)
	}
	loc, ok := m.LookupAddress(0x20000)
	if !ok {
		t.Fatalf("relocated address not found")
	}
	if loc.Path != "main.c" {
		t.Errorf("winning program = %q, want main.c", loc.Path)
	}
	if loc.Symbol != "main" || loc.SymbolOffset != 0 {
		t.Errorf("symbol attribution = %q+%#x, want main+0", loc.Symbol, loc.SymbolOffset)
	}
	if addr, ok := m.SymbolAddress("main"); !ok || addr != 0x20000 {
		t.Errorf("SymbolAddress(main) = %#x, %v; want 0x20000", addr, ok)
	}
	if _, ok := m.SymbolAddress("discarded"); ok {
		t.Errorf("symbol outside all sections should have been dropped")
	}
}

func TestBuildDWARFVersionPreference(t *testing.T) {
	var v3, v5 progWriter
	v3.setAddress(0x1000)
	v3.op(0x01)
	v3.endSequence()
	v5.setAddress(0x1000)
	v5.op(0x01)
	v5.endSequence()

	data := &DWARFData{
		Sections: []Section{{Name: ".text", VirtualAddress: 0x1000, Size: 0x100, LoadAddress: 0x1000}},
		Programs: []LineProgram{
			testProgram(3, []FileEntry{{Name: "old.c"}}, nil, v3.b),
			testProgram(5, []FileEntry{{Name: "new.c"}}, nil, v5.b),
		},
	}
	m, err := BuildDWARF(data)
	if err != nil {
		t.Fatalf("BuildDWARF: %v", err)
	}
	if loc, _ := m.LookupAddress(0x1000); loc.Path != "new.c" {
		t.Errorf("winning program = %q, want new.c (higher version)", loc.Path)
	}
}

func TestBuildDWARFNoDebugInfo(t *testing.T) {
	data := &DWARFData{
		Sections: []Section{{Name: ".text", VirtualAddress: 0, Size: 0x100, LoadAddress: 0x1000}},
	}
	if _, err := BuildDWARF(data); !errors.Is(err, ErrNoDebugInfo) {
		t.Errorf("BuildDWARF with no programs: err = %v, want ErrNoDebugInfo", err)
	}
}
