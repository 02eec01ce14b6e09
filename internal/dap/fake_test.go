// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import (
	"encoding/binary"
	"fmt"

	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/internal/srcmap"
)

// fakeEmulator is a scriptable in-process emulator for manager tests.
// Memory is sparse; unwritten bytes read as zero. Breakpoint calls are
// recorded so tests can assert on the emulator-visible state.
type fakeEmulator struct {
	cpu    emulator.CPUInfo
	custom []emulator.CustomRegister

	mem map[uint32]byte

	// listing is the linear disassembly the fake serves: Disassemble
	// returns consecutive entries starting at the first one at or past
	// the requested address.
	listing []emulator.Instruction
	copper  []emulator.Instruction

	breakpoints map[uint32]int
	watchpoints map[uint32]int
	catchpoints map[uint32]int

	setBreakpointCalls int
	readMemoryCalls    int

	readErr error
	cpuErr  error

	running bool
	events  chan emulator.Event
}

func newFakeEmulator() *fakeEmulator {
	return &fakeEmulator{
		mem:         make(map[uint32]byte),
		breakpoints: make(map[uint32]int),
		watchpoints: make(map[uint32]int),
		catchpoints: make(map[uint32]int),
		events:      make(chan emulator.Event, 16),
	}
}

func (f *fakeEmulator) setMemory(addr uint32, data []byte) {
	for i, b := range data {
		f.mem[addr+uint32(i)] = b
	}
}

func (f *fakeEmulator) setLong(addr uint32, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	f.setMemory(addr, buf[:])
}

func (f *fakeEmulator) setWord(addr uint32, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	f.setMemory(addr, buf[:])
}

func (f *fakeEmulator) GetCPUInfo() (emulator.CPUInfo, error) {
	if f.cpuErr != nil {
		return emulator.CPUInfo{}, f.cpuErr
	}
	return f.cpu, nil
}

func (f *fakeEmulator) GetAllCustomRegisters() ([]emulator.CustomRegister, error) {
	return f.custom, nil
}

func (f *fakeEmulator) ReadMemory(addr uint32, length int) ([]byte, error) {
	f.readMemoryCalls++
	if f.readErr != nil {
		return nil, f.readErr
	}
	data := make([]byte, length)
	for i := range data {
		data[i] = f.mem[addr+uint32(i)]
	}
	return data, nil
}

func (f *fakeEmulator) WriteMemory(addr uint32, data []byte) error {
	f.setMemory(addr, data)
	return nil
}

func (f *fakeEmulator) Peek8(addr uint32) (uint8, error) {
	b, err := f.ReadMemory(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (f *fakeEmulator) Peek16(addr uint32) (uint16, error) {
	b, err := f.ReadMemory(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (f *fakeEmulator) Peek32(addr uint32) (uint32, error) {
	b, err := f.ReadMemory(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (f *fakeEmulator) Poke8(addr uint32, v uint8) error {
	return f.WriteMemory(addr, []byte{v})
}

func (f *fakeEmulator) Poke16(addr uint32, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return f.WriteMemory(addr, buf[:])
}

func (f *fakeEmulator) Poke32(addr uint32, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return f.WriteMemory(addr, buf[:])
}

func (f *fakeEmulator) IsValidAddress(addr uint32) (bool, error) {
	return true, nil
}

func (f *fakeEmulator) Disassemble(addr uint32, count int) ([]emulator.Instruction, error) {
	var out []emulator.Instruction
	for _, inst := range f.listing {
		if inst.Address < addr {
			continue
		}
		out = append(out, inst)
		if len(out) == count {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("nothing to disassemble at %#x", addr)
	}
	return out, nil
}

func (f *fakeEmulator) DisassembleCopper(addr uint32, count int) ([]emulator.Instruction, error) {
	if count > len(f.copper) {
		count = len(f.copper)
	}
	return f.copper[:count], nil
}

func (f *fakeEmulator) SetBreakpoint(addr uint32, ignoreCount int) error {
	f.setBreakpointCalls++
	if _, ok := f.breakpoints[addr]; ok {
		return fmt.Errorf("breakpoint already set at %#x", addr)
	}
	f.breakpoints[addr] = ignoreCount
	return nil
}

func (f *fakeEmulator) RemoveBreakpoint(addr uint32) error {
	if _, ok := f.breakpoints[addr]; !ok {
		return fmt.Errorf("no breakpoint at %#x", addr)
	}
	delete(f.breakpoints, addr)
	return nil
}

func (f *fakeEmulator) SetWatchpoint(addr uint32, ignoreCount int) error {
	f.watchpoints[addr] = ignoreCount
	return nil
}

func (f *fakeEmulator) RemoveWatchpoint(addr uint32) error {
	delete(f.watchpoints, addr)
	return nil
}

func (f *fakeEmulator) SetCatchpoint(vector uint32, ignoreCount int) error {
	f.catchpoints[vector] = ignoreCount
	return nil
}

func (f *fakeEmulator) RemoveCatchpoint(vector uint32) error {
	delete(f.catchpoints, vector)
	return nil
}

func (f *fakeEmulator) Run() error             { f.running = true; return nil }
func (f *fakeEmulator) Pause() error           { f.running = false; return nil }
func (f *fakeEmulator) StepInto() error        { return nil }
func (f *fakeEmulator) StepBack() error        { return nil }
func (f *fakeEmulator) ContinueReverse() error { f.running = true; return nil }

func (f *fakeEmulator) Events() <-chan emulator.Event { return f.events }

func (f *fakeEmulator) Close() error {
	close(f.events)
	return nil
}

var _ emulator.Emulator = (*fakeEmulator)(nil)

// testSourceMap is the shared fixture: a code segment at 0x1000 with
// main and copperlist, and a chip data segment at 0x8000 with sprite
// and a longword counter at its very end.
//
//	main       0x1000  main.c:10 (0x1000), 11 (0x1008), 12 (0x1010)
//	copperlist 0x1100  main.c:30 (0x1100)
//	sprite     0x8000
//	counter    0x87fc
func testSourceMap() *srcmap.SourceMap {
	segments := []srcmap.Segment{
		{Name: "code", Address: 0x1000, Size: 0x1000},
		{Name: "data", Address: 0x8000, Size: 0x800, Class: srcmap.MemChip},
	}
	symbols := map[string]uint32{
		"main":       0x1000,
		"copperlist": 0x1100,
		"sprite":     0x8000,
		"counter":    0x87fc,
	}
	locations := []srcmap.Location{
		{Path: "src/main.c", Line: 10, Address: 0x1000, Symbol: "main"},
		{Path: "src/main.c", Line: 11, Address: 0x1008, Symbol: "main", SymbolOffset: 8},
		{Path: "src/main.c", Line: 12, Address: 0x1010, Symbol: "main", SymbolOffset: 0x10},
		{Path: "src/main.c", Line: 30, Address: 0x1100, Symbol: "copperlist"},
	}
	return srcmap.New(segments, symbols, locations, "src/main.c")
}
