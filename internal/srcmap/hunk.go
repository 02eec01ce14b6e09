// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package srcmap

import (
	"fmt"
	"sort"
)

// This file builds a SourceMap from native Amiga hunk debug records.
// Hunk container parsing happens upstream; what arrives here is one
// Hunk value per loaded hunk, carrying the symbol and line-debug
// records the assembler emitted (LINE debug directives).

// HunkLine is one line-debug record: a source line bound to an offset
// within its hunk.
type HunkLine struct {
	File   string
	Line   int
	Offset uint32
}

// Hunk is the pre-parsed debug content of one loaded hunk.
type Hunk struct {
	Name string
	// Class is the memory-type tag from the hunk header.
	Class MemClass
	Size  uint32
	// Symbols maps symbol name to hunk-relative offset.
	Symbols map[string]uint32
	Lines   []HunkLine
}

// BuildHunks builds a SourceMap for a hunk-format program. hunks and
// loadAddresses correspond index-wise: the loader reports one load
// address per hunk, in load order, and each hunk becomes one segment.
// The entry source is the first source file named by any line record,
// scanning hunks in load order; a line-less first hunk defers to the
// next hunk that carries lines.
// BuildHunks fails with ErrNoDebugInfo when no hunk carries any line
// record, which means the program was built without line-debug
// directives; callers must treat that as fatal for source-level
// debugging rather than proceed with an empty map.
func BuildHunks(hunks []Hunk, loadAddresses []uint32) (*SourceMap, error) {
	if len(loadAddresses) < len(hunks) {
		return nil, fmt.Errorf("program declares %d hunks but the loader reported %d segments", len(hunks), len(loadAddresses))
	}
	segments := make([]Segment, len(hunks))
	symbols := make(map[string]uint32)
	var (
		locations   []Location
		entrySource string
	)

	for i, hunk := range hunks {
		base := loadAddresses[i]
		segments[i] = Segment{
			Name:    hunk.Name,
			Address: base,
			Size:    hunk.Size,
			Class:   hunk.Class,
		}

		// Sorted view of this hunk's symbols, for attributing each line
		// record to the nearest preceding symbol in the same hunk.
		type sym struct {
			name   string
			offset uint32
		}
		syms := make([]sym, 0, len(hunk.Symbols))
		for name, offset := range hunk.Symbols {
			symbols[name] = base + offset
			syms = append(syms, sym{name, offset})
		}
		sort.Slice(syms, func(a, b int) bool { return syms[a].offset < syms[b].offset })

		for _, line := range hunk.Lines {
			if entrySource == "" {
				entrySource = line.File
			}
			loc := Location{
				Path:          line.File,
				Line:          line.Line,
				Address:       base + line.Offset,
				SegmentIndex:  i,
				SegmentOffset: line.Offset,
			}
			// Greatest symbol offset <= the line's offset.
			j := sort.Search(len(syms), func(j int) bool { return syms[j].offset > line.Offset })
			if j > 0 {
				loc.Symbol = syms[j-1].name
				loc.SymbolOffset = line.Offset - syms[j-1].offset
			}
			locations = append(locations, loc)
		}
	}

	if entrySource == "" {
		return nil, ErrNoDebugInfo
	}
	return New(segments, symbols, locations, entrySource), nil
}
