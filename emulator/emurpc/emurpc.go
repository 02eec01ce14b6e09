// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package emurpc defines the types used to represent the RPC calls to
// the emulator's debug server.
package emurpc

import "github.com/uaedap/uaedap/emulator"

// For regularity, each method has a unique Request and a Response type
// even when not strictly necessary.

// Register and CPU state.

type GetCPUInfoRequest struct {
}

type GetCPUInfoResponse struct {
	Info emulator.CPUInfo
}

type GetAllCustomRegistersRequest struct {
}

type GetAllCustomRegistersResponse struct {
	Registers []emulator.CustomRegister
}

// Memory access.

type PeekRequest struct {
	Address uint32
	Size    int // 1, 2 or 4
}

type PeekResponse struct {
	Value uint32
}

type PokeRequest struct {
	Address uint32
	Size    int // 1, 2 or 4
	Value   uint32
}

type PokeResponse struct {
}

type ReadMemoryRequest struct {
	Address uint32
	Length  int
}

type ReadMemoryResponse struct {
	Data []byte
}

type WriteMemoryRequest struct {
	Address uint32
	Data    []byte
}

type WriteMemoryResponse struct {
}

type IsValidAddressRequest struct {
	Address uint32
}

type IsValidAddressResponse struct {
	Valid bool
}

// Disassembly.

type DisassembleRequest struct {
	Address uint32
	Count   int
	// Copper selects the fixed-width copper instruction set.
	Copper bool
}

type DisassembleResponse struct {
	Instructions []emulator.Instruction
}

// Breakpoint primitives. The emulator keys all three kinds by address
// (or vector); everything richer lives in the adapter.

type SetBreakpointRequest struct {
	Address     uint32
	IgnoreCount int
}

type SetBreakpointResponse struct {
}

type RemoveBreakpointRequest struct {
	Address uint32
}

type RemoveBreakpointResponse struct {
}

type SetWatchpointRequest struct {
	Address     uint32
	IgnoreCount int
}

type SetWatchpointResponse struct {
}

type RemoveWatchpointRequest struct {
	Address uint32
}

type RemoveWatchpointResponse struct {
}

type SetCatchpointRequest struct {
	Vector      uint32
	IgnoreCount int
}

type SetCatchpointResponse struct {
}

type RemoveCatchpointRequest struct {
	Vector uint32
}

type RemoveCatchpointResponse struct {
}

// Execution control.

type RunRequest struct {
}

type RunResponse struct {
}

type PauseRequest struct {
}

type PauseResponse struct {
}

type StepIntoRequest struct {
}

type StepIntoResponse struct {
}

type StepBackRequest struct {
}

type StepBackResponse struct {
}

type ContinueReverseRequest struct {
}

type ContinueReverseResponse struct {
}

// Notifications. The client long-polls NextEvent; the server blocks
// until an event is available.

type NextEventRequest struct {
}

type NextEventResponse struct {
	Event emulator.Event
}
