// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package srcmap

import (
	"errors"
	"testing"
)

func TestBuildHunks(t *testing.T) {
	hunks := []Hunk{
		{
			Name:  "CODE",
			Class: MemAny,
			Size:  0x200,
			Symbols: map[string]uint32{
				"_start": 0x0,
				"loop":   0x40,
			},
			Lines: []HunkLine{
				{File: "main.s", Line: 1, Offset: 0x0},
				{File: "main.s", Line: 8, Offset: 0x44},
			},
		},
		{
			Name:  "DATA",
			Class: MemChip,
			Size:  0x100,
			Symbols: map[string]uint32{
				"sprite": 0x10,
			},
		},
	}
	m, err := BuildHunks(hunks, []uint32{0x21000, 0x40000})
	if err != nil {
		t.Fatalf("BuildHunks: %v", err)
	}

	if got := m.EntrySource(); got != "main.s" {
		t.Errorf("EntrySource() = %q, want main.s (first hunk's first file)", got)
	}

	segs := m.Segments()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Address != 0x21000 || segs[0].Size != 0x200 {
		t.Errorf("segment 0 = %+v", segs[0])
	}
	if segs[1].Class != MemChip {
		t.Errorf("segment 1 class = %v, want chip", segs[1].Class)
	}

	if addr, ok := m.SymbolAddress("sprite"); !ok || addr != 0x40010 {
		t.Errorf("SymbolAddress(sprite) = %#x, %v", addr, ok)
	}

	// Line records become absolute locations with nearest-preceding
	// symbol attribution within the same hunk.
	loc, ok := m.LookupAddress(0x21044)
	if !ok {
		t.Fatalf("line record at 0x21044 not found")
	}
	if loc.Line != 8 || loc.SegmentIndex != 0 || loc.SegmentOffset != 0x44 {
		t.Errorf("location = %+v", loc)
	}
	if loc.Symbol != "loop" || loc.SymbolOffset != 4 {
		t.Errorf("symbol attribution = %q+%d, want loop+4", loc.Symbol, loc.SymbolOffset)
	}
}

func TestBuildHunksNoDebugInfo(t *testing.T) {
	hunks := []Hunk{
		{Name: "CODE", Size: 0x100, Symbols: map[string]uint32{"_start": 0}},
	}
	if _, err := BuildHunks(hunks, []uint32{0x1000}); !errors.Is(err, ErrNoDebugInfo) {
		t.Errorf("BuildHunks without line records: err = %v, want ErrNoDebugInfo", err)
	}
}

func TestBuildHunksSegmentCountMismatch(t *testing.T) {
	hunks := []Hunk{
		{Name: "CODE", Size: 0x100, Lines: []HunkLine{{File: "main.s", Line: 1, Offset: 0}}},
		{Name: "DATA", Size: 0x100},
	}
	_, err := BuildHunks(hunks, []uint32{0x1000})
	if err == nil {
		t.Fatal("BuildHunks with fewer load addresses than hunks: err = nil, want error")
	}
	if got := err.Error(); got != "program declares 2 hunks but the loader reported 1 segments" {
		t.Errorf("error = %q", got)
	}
}

func TestBuildHunksEntrySourceSkipsLinelessHunks(t *testing.T) {
	hunks := []Hunk{
		{Name: "DATA", Size: 0x100},
		{Name: "CODE", Size: 0x100, Lines: []HunkLine{
			{File: "boot.s", Line: 3, Offset: 0},
			{File: "main.s", Line: 1, Offset: 8},
		}},
	}
	m, err := BuildHunks(hunks, []uint32{0x1000, 0x2000})
	if err != nil {
		t.Fatal(err)
	}
	if got := m.EntrySource(); got != "boot.s" {
		t.Errorf("EntrySource() = %q, want boot.s (first line record in load order)", got)
	}
}
