// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains architecture-specific definitions for the
// Motorola 68000 family as seen through an Amiga emulator.
package arch

import (
	"encoding/binary"
	"fmt"
)

// Architecture defines the architecture-specific details for a given machine.
type Architecture struct {
	// PointerSize is the size of an address, in bytes.
	PointerSize int
	// ByteOrder is the byte order for words and pointers.
	ByteOrder binary.ByteOrder
	// MinInstructionSize and MaxInstructionSize bound the encoded length
	// of a single instruction, in bytes.
	MinInstructionSize int
	MaxInstructionSize int
	// AddressTop is the first address beyond the usable address space.
	AddressTop uint32
	// ROMBase and ROMTop bound the Kickstart ROM region, half-open.
	ROMBase uint32
	ROMTop  uint32
}

// M68K describes the 68000 family as configured in Amiga emulators:
// big-endian, 32-bit registers, a 24-bit external address bus and the
// Kickstart ROM mapped at the top of the address space.
var M68K = Architecture{
	PointerSize:        4,
	ByteOrder:          binary.BigEndian,
	MinInstructionSize: 2,
	MaxInstructionSize: 10,
	AddressTop:         0x0100_0000,
	ROMBase:            0x00E0_0000,
	ROMTop:             0x0100_0000,
}

// Word decodes a 16-bit word from the start of buf.
func (a *Architecture) Word(buf []byte) uint16 {
	return a.ByteOrder.Uint16(buf[:2])
}

// Long decodes a 32-bit longword from the start of buf.
func (a *Architecture) Long(buf []byte) uint32 {
	return a.ByteOrder.Uint32(buf[:4])
}

// Uintptr decodes a pointer-sized value from buf.
func (a *Architecture) Uintptr(buf []byte) uint32 {
	if len(buf) < a.PointerSize {
		panic("bad PointerSize")
	}
	return a.ByteOrder.Uint32(buf[:4])
}

// IsPlausibleCodeAddress reports whether addr could hold 68k code: it
// must be non-null, even (the 68000 faults on odd instruction fetches)
// and inside the address space.
func (a *Architecture) IsPlausibleCodeAddress(addr uint32) bool {
	return addr != 0 && addr&1 == 0 && addr < a.AddressTop
}

// InROM reports whether addr falls inside the Kickstart ROM region.
func (a *Architecture) InROM(addr uint32) bool {
	return addr >= a.ROMBase && addr < a.ROMTop
}

// IsCallOpcode reports whether op encodes a subroutine call. The two
// 68000 call encodings are jsr (0100 1110 10xx xxxx, any effective
// address) and bsr (0110 0001 dddd dddd, 8- or 16-bit displacement).
func IsCallOpcode(op uint16) bool {
	return op&0xFFC0 == 0x4E80 || op&0xFF00 == 0x6100
}

// Width truncation helpers. Conversions through the sized unsigned types
// wrap two's-complement style, so U16(-256) == 0xFF00.

func U8(v int64) uint8   { return uint8(v) }
func U16(v int64) uint16 { return uint16(v) }
func U32(v int64) uint32 { return uint32(v) }

func I8(v uint8) int8    { return int8(v) }
func I16(v uint16) int16 { return int16(v) }
func I32(v uint32) int32 { return int32(v) }

// Hex formatting at fixed widths, matching the emulator's own displays.

func Hex8(v uint8) string   { return fmt.Sprintf("0x%02x", v) }
func Hex16(v uint16) string { return fmt.Sprintf("0x%04x", v) }
func Hex32(v uint32) string { return fmt.Sprintf("0x%08x", v) }

// Bin16 renders a 16-bit value as binary with a space every four bits,
// the layout used for custom chip register displays.
func Bin16(v uint16) string {
	s := fmt.Sprintf("%016b", v)
	return s[0:4] + " " + s[4:8] + " " + s[8:12] + " " + s[12:16]
}

// Bin32 renders a 32-bit value as binary with a space every eight bits.
func Bin32(v uint32) string {
	s := fmt.Sprintf("%032b", v)
	return s[0:8] + " " + s[8:16] + " " + s[16:24] + " " + s[24:32]
}
