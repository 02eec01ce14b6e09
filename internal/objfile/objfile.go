// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package objfile extracts debug information from Amiga executables.
// Two container formats are understood: ELF with DWARF line programs
// (the modern gcc/vbcc toolchains) and the native hunk format with
// LINE debug records (vasm and SAS/C). The containers are decoded
// here; interpreting the extracted line information is srcmap's job.
package objfile

import (
	"bytes"
	"fmt"
	"os"

	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/internal/srcmap"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// hunkHeaderMagic is the first longword of any loadable hunk file.
var hunkHeaderMagic = []byte{0x00, 0x00, 0x03, 0xf3}

// Load reads the program's debug information and binds it to the
// segment addresses the emulator's loader reported. The container
// format is sniffed from the file contents, not the file name.
func Load(path string, segments []emulator.LoadSegment) (*srcmap.SourceMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}
	switch {
	case bytes.HasPrefix(data, elfMagic):
		return loadELF(data, segments)
	case bytes.HasPrefix(data, hunkHeaderMagic):
		hunks, err := parseHunkFile(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %v", path, err)
		}
		addrs := make([]uint32, len(segments))
		for i, seg := range segments {
			addrs[i] = seg.Address
		}
		return srcmap.BuildHunks(hunks, addrs)
	}
	return nil, fmt.Errorf("%s: not an ELF or hunk executable", path)
}
