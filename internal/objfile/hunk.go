// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/uaedap/uaedap/internal/srcmap"
)

// Hunk block types used by loadable executables.
const (
	hunkName         = 0x3e8
	hunkCode         = 0x3e9
	hunkData         = 0x3ea
	hunkBSS          = 0x3eb
	hunkReloc32      = 0x3ec
	hunkSymbol       = 0x3f0
	hunkDebug        = 0x3f1
	hunkEnd          = 0x3f2
	hunkHeader       = 0x3f3
	hunkReloc32Short = 0x3fc
)

// Memory placement flags in the top bits of a header size longword.
const (
	memFlagMask = 0xc0000000
	memFlagChip = 0x40000000
	memFlagFast = 0x80000000
	memFlagExt  = 0xc0000000
	sizeMask    = 0x3fffffff
)

// typeMask strips the memory and advisory flag bits of a block type.
const typeMask = 0x1fffffff

// lineDebugMagic tags a "LINE" debug block, the line-record format
// emitted by vasm's and SAS/C's LINE debug directives.
const lineDebugMagic = 0x4c494e45

// parseHunkFile decodes a loadable hunk executable into one
// srcmap.Hunk per loaded hunk, collecting symbol and LINE debug
// blocks. Relocation blocks are skipped: the loader has already
// applied them in emulator memory, and the debug records are
// hunk-relative.
func parseHunkFile(data []byte) ([]srcmap.Hunk, error) {
	r := &hunkReader{data: data}

	magic, err := r.u32()
	if err != nil || magic != hunkHeader {
		return nil, errors.New("missing hunk header")
	}
	// Resident library names, unused in load files.
	for {
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		if _, err := r.take(int(n) * 4); err != nil {
			return nil, err
		}
	}
	if _, err := r.u32(); err != nil { // table size
		return nil, err
	}
	first, err := r.u32()
	if err != nil {
		return nil, err
	}
	last, err := r.u32()
	if err != nil {
		return nil, err
	}
	if last < first {
		return nil, errors.New("malformed hunk table range")
	}

	hunks := make([]srcmap.Hunk, last-first+1)
	for i := range hunks {
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		switch size & memFlagMask {
		case memFlagChip:
			hunks[i].Class = srcmap.MemChip
		case memFlagFast:
			hunks[i].Class = srcmap.MemFast
		case memFlagExt:
			if _, err := r.u32(); err != nil { // extended placement flags
				return nil, err
			}
		}
		hunks[i].Size = (size & sizeMask) * 4
		hunks[i].Symbols = make(map[string]uint32)
	}

	cur := -1
	pendingName := ""
	for !r.empty() {
		raw, err := r.u32()
		if err != nil {
			return nil, err
		}
		switch raw & typeMask {
		case hunkName:
			pendingName, err = r.lstring()
			if err != nil {
				return nil, err
			}

		case hunkCode, hunkData, hunkBSS:
			cur++
			if cur >= len(hunks) {
				return nil, errors.New("more hunks than the header declares")
			}
			hunks[cur].Name = pendingName
			if hunks[cur].Name == "" {
				hunks[cur].Name = map[uint32]string{
					hunkCode: "code", hunkData: "data", hunkBSS: "bss",
				}[raw&typeMask]
			}
			pendingName = ""
			n, err := r.u32()
			if err != nil {
				return nil, err
			}
			if raw&typeMask != hunkBSS {
				if _, err := r.take(int(n) * 4); err != nil {
					return nil, err
				}
			}

		case hunkReloc32:
			for {
				count, err := r.u32()
				if err != nil {
					return nil, err
				}
				if count == 0 {
					break
				}
				if _, err := r.take(4 + int(count)*4); err != nil {
					return nil, err
				}
			}

		case hunkReloc32Short:
			if err := r.skipShortRelocs(); err != nil {
				return nil, err
			}

		case hunkSymbol:
			if cur < 0 {
				return nil, errors.New("symbol block before any hunk")
			}
			for {
				name, err := r.lstringOrEnd()
				if err != nil {
					return nil, err
				}
				if name == "" {
					break
				}
				off, err := r.u32()
				if err != nil {
					return nil, err
				}
				hunks[cur].Symbols[name] = off
			}

		case hunkDebug:
			if cur < 0 {
				return nil, errors.New("debug block before any hunk")
			}
			n, err := r.u32()
			if err != nil {
				return nil, err
			}
			payload, err := r.take(int(n) * 4)
			if err != nil {
				return nil, err
			}
			lines, err := parseLineDebug(payload)
			if err != nil {
				return nil, err
			}
			hunks[cur].Lines = append(hunks[cur].Lines, lines...)

		case hunkEnd:
			// Block terminator; the next block starts a new hunk.

		default:
			return nil, fmt.Errorf("unsupported hunk type %#x", raw&typeMask)
		}
	}
	return hunks, nil
}

// parseLineDebug decodes one LINE debug payload: a base offset, the
// source file name, then (line, offset) pairs relative to the base.
// Debug payloads in other formats are ignored.
func parseLineDebug(payload []byte) ([]srcmap.HunkLine, error) {
	r := &hunkReader{data: payload}
	base, err := r.u32()
	if err != nil {
		return nil, err
	}
	magic, err := r.u32()
	if err != nil {
		return nil, err
	}
	if magic != lineDebugMagic {
		return nil, nil
	}
	file, err := r.lstring()
	if err != nil {
		return nil, err
	}
	var lines []srcmap.HunkLine
	for !r.empty() {
		line, err := r.u32()
		if err != nil {
			return nil, err
		}
		off, err := r.u32()
		if err != nil {
			return nil, err
		}
		lines = append(lines, srcmap.HunkLine{
			File:   file,
			Line:   int(line),
			Offset: base + off,
		})
	}
	return lines, nil
}

// hunkReader reads big-endian longwords and longword-padded strings.
type hunkReader struct {
	data []byte
	off  int
}

func (r *hunkReader) empty() bool { return r.off >= len(r.data) }

func (r *hunkReader) take(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, errors.New("truncated hunk file")
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *hunkReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *hunkReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// lstring reads a longword-counted, NUL-padded string.
func (r *hunkReader) lstring() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	return r.lstringBody(n)
}

// lstringOrEnd reads an lstring where a zero count terminates a list.
func (r *hunkReader) lstringOrEnd() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	return r.lstringBody(n)
}

func (r *hunkReader) lstringBody(n uint32) (string, error) {
	b, err := r.take(int(n) * 4)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// skipShortRelocs skips a 16-bit relocation block, including its
// padding back to longword alignment.
func (r *hunkReader) skipShortRelocs() error {
	start := r.off
	for {
		count, err := r.u16()
		if err != nil {
			return err
		}
		if count == 0 {
			break
		}
		if _, err := r.take(2 + int(count)*2); err != nil {
			return err
		}
	}
	if (r.off-start)%4 != 0 {
		if _, err := r.take(2); err != nil {
			return err
		}
	}
	return nil
}
