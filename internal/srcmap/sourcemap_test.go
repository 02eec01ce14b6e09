// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package srcmap

import (
	"errors"
	"testing"
)

func testMap() *SourceMap {
	segments := []Segment{
		{Name: "code", Address: 0x1000, Size: 0x1000, Class: MemAny},
		{Name: "data", Address: 0x8000, Size: 0x800, Class: MemChip},
	}
	symbols := map[string]uint32{
		"main": 0x1000,
		"sub1": 0x1100,
		"sub2": 0x1200,
	}
	locations := []Location{
		{Path: "main.s", Line: 10, Address: 0x1000, Symbol: "main"},
		{Path: "main.s", Line: 12, Address: 0x1008, Symbol: "main", SymbolOffset: 8},
		{Path: "main.s", Line: 20, Address: 0x1100, Symbol: "sub1"},
		{Path: "util.s", Line: 5, Address: 0x1200, Symbol: "sub2"},
	}
	return New(segments, symbols, locations, "main.s")
}

func TestLookupAddressExactIdentity(t *testing.T) {
	m := testMap()
	for _, addr := range []uint32{0x1000, 0x1008, 0x1100, 0x1200} {
		loc, ok := m.LookupAddress(addr)
		if !ok {
			t.Fatalf("LookupAddress(%#x) found nothing", addr)
		}
		if loc.Address != addr {
			t.Errorf("LookupAddress(%#x).Address = %#x", addr, loc.Address)
		}
	}
}

func TestLookupAddressTolerance(t *testing.T) {
	m := testMap()
	// 0x1008 is the nearest preceding boundary for these addresses.
	if loc, ok := m.LookupAddress(0x1008 + 10); !ok || loc.Address != 0x1008 {
		t.Errorf("LookupAddress at tolerance edge: got %+v, ok=%v, want address 0x1008", loc, ok)
	}
	if _, ok := m.LookupAddress(0x1008 + 11); ok {
		t.Errorf("LookupAddress one past tolerance unexpectedly found a location")
	}
	// Never look forward.
	if _, ok := m.LookupAddress(0x0FFE); ok {
		t.Errorf("LookupAddress before the first location unexpectedly found one")
	}
}

func TestLookupSourceLine(t *testing.T) {
	m := testMap()
	// Exact match.
	loc, err := m.LookupSourceLine("main.s", 10)
	if err != nil || loc.Address != 0x1000 {
		t.Errorf("exact line: got %+v, %v", loc, err)
	}
	// Between statements resolves to the statement containing it.
	loc, err = m.LookupSourceLine("main.s", 15)
	if err != nil || loc.Line != 12 {
		t.Errorf("line 15: got line %d, %v; want 12", loc.Line, err)
	}
	// Case-insensitive path key.
	if _, err := m.LookupSourceLine("MAIN.S", 10); err != nil {
		t.Errorf("case-insensitive lookup failed: %v", err)
	}
	// Before the first known line.
	if _, err := m.LookupSourceLine("main.s", 5); !errors.Is(err, ErrLocationNotFound) {
		t.Errorf("line 5: err = %v, want ErrLocationNotFound", err)
	}
	// Unknown file.
	if _, err := m.LookupSourceLine("other.s", 10); !errors.Is(err, ErrLocationNotFound) {
		t.Errorf("unknown file: err = %v, want ErrLocationNotFound", err)
	}
}

func TestFindSegmentForAddress(t *testing.T) {
	m := testMap()
	if _, i, ok := m.FindSegmentForAddress(0x1000); !ok || i != 0 {
		t.Errorf("FindSegmentForAddress(0x1000) = %d, %v", i, ok)
	}
	if _, i, ok := m.FindSegmentForAddress(0x1FFF); !ok || i != 0 {
		t.Errorf("FindSegmentForAddress(0x1FFF) = %d, %v", i, ok)
	}
	// Half-open: the end address belongs to no segment.
	if _, _, ok := m.FindSegmentForAddress(0x2000); ok {
		t.Errorf("FindSegmentForAddress(0x2000) unexpectedly found a segment")
	}
	if _, i, ok := m.FindSegmentForAddress(0x8000); !ok || i != 1 {
		t.Errorf("FindSegmentForAddress(0x8000) = %d, %v", i, ok)
	}
}

func TestSymbolLengths(t *testing.T) {
	m := testMap()
	lengths := m.SymbolLengths()
	want := map[string]uint32{
		"main": 0x100,
		"sub1": 0x100,
		"sub2": 0xE00, // to the end of the segment
	}
	for name, wantLen := range want {
		if lengths[name] != wantLen {
			t.Errorf("SymbolLengths()[%q] = %#x, want %#x", name, lengths[name], wantLen)
		}
	}
}

func TestSymbolLengthsDerivesAddressOrder(t *testing.T) {
	// Symbol lengths must come from address order, not from the
	// table's iteration order, which a map does not define anyway.
	segments := []Segment{{Name: "code", Address: 0x1000, Size: 0x1000}}
	symbols := map[string]uint32{
		"zlast":  0x1000, // lexically last, first by address
		"amid":   0x1400,
		"bfirst": 0x1800,
	}
	m := New(segments, symbols, nil, "")
	lengths := m.SymbolLengths()
	if lengths["zlast"] != 0x400 || lengths["amid"] != 0x400 || lengths["bfirst"] != 0x800 {
		t.Errorf("SymbolLengths() = %#v", lengths)
	}
}

func TestFindSymbolOffset(t *testing.T) {
	m := testMap()
	sym, off, ok := m.FindSymbolOffset(0x1050)
	if !ok || sym != "main" || off != 0x50 {
		t.Errorf("FindSymbolOffset(0x1050) = %q, %#x, %v; want main, 0x50", sym, off, ok)
	}
	// Outside all segments.
	if _, _, ok := m.FindSymbolOffset(0x9000); ok {
		t.Errorf("FindSymbolOffset outside segments unexpectedly succeeded")
	}
	// Inside a segment that holds no symbol at or before the address.
	if _, _, ok := m.FindSymbolOffset(0x8010); ok {
		t.Errorf("FindSymbolOffset in symbol-free segment unexpectedly succeeded")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Work:Src/Main.s", "work:src/main.s"},
		{"src\\sub\\file.s", "src/sub/file.s"},
		{"./src/../main.s", "main.s"},
	}
	for _, test := range tests {
		if got := NormalizePath(test.in); got != test.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}
