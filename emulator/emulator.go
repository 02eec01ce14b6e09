// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package emulator provides the portable interface to a (possibly
// remote) Amiga emulator being debugged. The emulator runs as a
// separate process reached over an RPC channel; nothing here assumes
// synchronous completion beyond the individual round trip.
package emulator

// CPUInfo is a snapshot of the 68k register file.
type CPUInfo struct {
	D [8]uint32
	A [8]uint32

	PC  uint32
	SR  uint16
	USP uint32
	SSP uint32
	MSP uint32
	VBR uint32
}

// CustomRegister is one custom chip register with its chipset address
// and current value.
type CustomRegister struct {
	Name    string
	Address uint32
	Value   uint32
}

// Instruction is one disassembled instruction as reported by the
// emulator's own disassembler.
type Instruction struct {
	Address     uint32
	Instruction string
	Bytes       []byte
}

// State is the emulator's execution state.
type State int

const (
	StateRunning State = iota
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	}
	return "stopped"
}

// StopKind says which primitive caused an execution halt.
type StopKind int

const (
	// StopBreakpoint is a generic program-counter breakpoint hit; the
	// adapter classifies it further against its own tables.
	StopBreakpoint StopKind = iota
	StopWatchpoint
	StopCatchpoint
	StopStep
	StopPause
)

// StopInfo carries the details of a halt notification.
type StopInfo struct {
	Kind StopKind
	// PC is the program counter at the halt.
	PC uint32
	// Address is the memory address for watchpoint hits.
	Address uint32
	// Vector is the exception vector for catchpoint hits.
	Vector uint32
}

// LoadSegment is one loaded memory region as reported by the loader at
// attach time.
type LoadSegment struct {
	Address uint32
	Size    uint32
}

// EventKind discriminates asynchronous emulator notifications.
type EventKind int

const (
	EventAttached EventKind = iota
	EventStateChanged
	EventOutput
	EventExecReady
)

// Event is one asynchronous notification from the emulator. Events
// interleave freely with outstanding requests.
type Event struct {
	Kind EventKind

	// Segments is set for EventAttached.
	Segments []LoadSegment

	// State is set for EventStateChanged; Stop additionally when the
	// new state is a halt with known cause.
	State State
	Stop  *StopInfo

	// Output is set for EventOutput.
	Output string
}

// Emulator is the interface to the running emulator. Every method is a
// synchronous round trip over the RPC channel; implementations must be
// safe for use from the single protocol flow plus the event pump.
type Emulator interface {
	GetCPUInfo() (CPUInfo, error)
	GetAllCustomRegisters() ([]CustomRegister, error)

	Peek8(addr uint32) (uint8, error)
	Peek16(addr uint32) (uint16, error)
	Peek32(addr uint32) (uint32, error)
	Poke8(addr uint32, v uint8) error
	Poke16(addr uint32, v uint16) error
	Poke32(addr uint32, v uint32) error
	ReadMemory(addr uint32, length int) ([]byte, error)
	WriteMemory(addr uint32, data []byte) error
	IsValidAddress(addr uint32) (bool, error)

	// Disassemble decodes count instructions forward from addr using
	// the emulator's 68k disassembler. DisassembleCopper decodes
	// fixed-width copper instructions instead.
	Disassemble(addr uint32, count int) ([]Instruction, error)
	DisassembleCopper(addr uint32, count int) ([]Instruction, error)

	// SetBreakpoint arms an execution breakpoint at addr. ignoreCount
	// is the number of hits the emulator skips before halting.
	SetBreakpoint(addr uint32, ignoreCount int) error
	RemoveBreakpoint(addr uint32) error
	SetWatchpoint(addr uint32, ignoreCount int) error
	RemoveWatchpoint(addr uint32) error
	SetCatchpoint(vector uint32, ignoreCount int) error
	RemoveCatchpoint(vector uint32) error

	Run() error
	Pause() error
	StepInto() error
	StepBack() error
	ContinueReverse() error

	// Events returns the notification stream. The channel is closed
	// when the connection to the emulator goes away.
	Events() <-chan Event

	Close() error
}
