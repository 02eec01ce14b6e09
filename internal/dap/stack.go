// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import (
	"fmt"

	"github.com/uaedap/uaedap/arch"
	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/internal/srcmap"
)

// stackWindowSize is how much stack memory a stack guess examines.
const stackWindowSize = 128

// callSiteLookbehind is how many bytes before a candidate return
// address are checked for a call opcode: the longest jsr encoding is 6
// bytes, and the opcode may sit at any of the 3 word positions inside
// that span.
const callSiteLookbehind = 6

// StackGuess is one guessed frame: the call-site address and the
// return address found on the stack. Frame 0 is always [pc, pc].
type StackGuess [2]uint32

// Frame is one DAP-visible stack frame.
type Frame struct {
	ID      int
	Name    string
	Address uint32

	// Source location, when the address resolves.
	HasSource bool
	Path      string
	Line      int
}

// StackManager reconstructs call frames from raw stack memory. The
// emulator tracks no frame information and the 68k guarantees no frame
// pointer, so frames are guessed: any plausible return address on the
// stack that is directly preceded by a call instruction is taken as a
// frame. Tail calls and computed calls are missed (accepted
// false-negative modes); opcode coincidence is the only false-positive
// risk.
type StackManager struct {
	emu  emulator.Emulator
	src  *srcmap.SourceMap
	arch *arch.Architecture
}

func NewStackManager(emu emulator.Emulator, src *srcmap.SourceMap, a *arch.Architecture) *StackManager {
	return &StackManager{emu: emu, src: src, arch: a}
}

// GuessStack scans up to stackWindowSize bytes of stack memory for
// plausible return addresses, collecting at most maxFrames frames.
// Guesses are recomputed per request and never persisted.
func (m *StackManager) GuessStack(maxFrames int) ([]StackGuess, error) {
	info, err := m.emu.GetCPUInfo()
	if err != nil {
		return nil, fmt.Errorf("reading CPU state: %v", err)
	}
	guesses := []StackGuess{{info.PC, info.PC}}
	if maxFrames <= 1 {
		return guesses, nil
	}

	sp := info.A[7]
	window, err := m.emu.ReadMemory(sp, stackWindowSize)
	if err != nil {
		// No readable stack; the pc frame is all there is.
		return guesses, nil
	}

	for off := 0; off+4 <= len(window) && len(guesses) < maxFrames; {
		candidate := m.arch.ByteOrder.Uint32(window[off : off+4])
		site, ok := m.probeCandidate(candidate)
		if !ok {
			off += 2
			continue
		}
		guesses = append(guesses, StackGuess{site, candidate})
		off += 4
	}
	return guesses, nil
}

// probeCandidate tests whether candidate looks like a return address:
// plausible as code, and preceded by a jsr or bsr opcode in one of the
// three word positions of the lookbehind span. It returns the call
// site (the opcode's address). Memory errors while probing mean "not a
// real return address".
func (m *StackManager) probeCandidate(candidate uint32) (uint32, bool) {
	if !m.arch.IsPlausibleCodeAddress(candidate) {
		return 0, false
	}
	if candidate < callSiteLookbehind {
		return 0, false
	}
	buf, err := m.emu.ReadMemory(candidate-callSiteLookbehind, callSiteLookbehind)
	if err != nil || len(buf) < callSiteLookbehind {
		return 0, false
	}
	for k := 0; k+2 <= callSiteLookbehind; k += 2 {
		if arch.IsCallOpcode(m.arch.ByteOrder.Uint16(buf[k : k+2])) {
			return candidate - callSiteLookbehind + uint32(k), true
		}
	}
	return 0, false
}

// StackFrames maps guessed frames to DAP stack frames via the source
// map. Once at least one source-backed frame has been emitted, a frame
// inside the Kickstart ROM ends the trace: execution has left user
// code for the OS, and unwinding past that boundary is meaningless.
func (m *StackManager) StackFrames(guesses []StackGuess, start, count int) []Frame {
	if count <= 0 {
		count = len(guesses)
	}
	var frames []Frame
	emittedSource := false
	for i := start; i < len(guesses) && len(frames) < count; i++ {
		addr := guesses[i][0]
		if emittedSource && m.arch.InROM(addr) {
			break
		}
		f := Frame{ID: i, Address: addr, Name: m.frameName(addr)}
		if loc, ok := m.src.LookupAddress(addr); ok {
			f.HasSource = true
			f.Path = loc.Path
			f.Line = loc.Line
			emittedSource = true
		}
		frames = append(frames, f)
	}
	return frames
}

// frameName formats a frame as symbol+offset when the address lies in
// a known segment, or the bare address otherwise.
func (m *StackManager) frameName(addr uint32) string {
	if sym, off, ok := m.src.FindSymbolOffset(addr); ok {
		if off == 0 {
			return sym
		}
		return fmt.Sprintf("%s+%#x", sym, off)
	}
	return arch.Hex32(addr)
}
