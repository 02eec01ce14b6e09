// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/internal/srcmap"
)

// breakpointKind discriminates the independent DAP breakpoint families
// plus the adapter's own temporary breakpoints. All kinds multiplex
// onto the emulator's address-keyed primitives.
type breakpointKind int

const (
	bkSource breakpointKind = iota
	bkInstruction
	bkFunction
	bkData
	bkException
	bkTemporary
)

// breakpoint is one record in the manager's single polymorphic
// collection, carrying the payload of its kind.
type breakpoint struct {
	id       int
	kind     breakpointKind
	verified bool
	message  string

	// address is the armed emulator address; for bkException it holds
	// the exception vector instead.
	address uint32

	path         string // bkSource
	line         int    // bkSource
	functionName string // bkFunction
	dataID       string // bkData
	reason       string // bkTemporary: DAP stop reason to report
}

// BreakpointResult is the per-request outcome reported back to the
// client. Batches return one result per requested input, in order,
// pairing failures (unverified) with successes.
type BreakpointResult struct {
	ID       int
	Verified bool
	Message  string
	Address  uint32
	Path     string
	Line     int
}

// SourceBreakpointSpec is one requested source breakpoint. HitCount of
// n means "stop on the nth hit"; the emulator receives n-1 as its skip
// count.
type SourceBreakpointSpec struct {
	Line     int
	HitCount int
}

// InstructionBreakpointSpec addresses a breakpoint numerically: a
// memory reference plus a byte offset.
type InstructionBreakpointSpec struct {
	Reference string
	Offset    int
	HitCount  int
}

type FunctionBreakpointSpec struct {
	Name     string
	HitCount int
}

// DataBreakpointSpec identifies a watch target by structured dataId,
// either "registers:<name>" or "symbols:<name>".
type DataBreakpointSpec struct {
	DataID   string
	HitCount int
}

type ExceptionBreakpointSpec struct {
	Vector   uint32
	HitCount int
}

// StopClassification is the DAP-visible interpretation of an emulator
// halt.
type StopClassification struct {
	Reason string
	HitIDs []int
}

// BreakpointManager owns all breakpoint state for a session. Setting
// the breakpoints of one kind atomically replaces that kind's previous
// set; temporary breakpoints are additive and self-removing. Ids come
// from one session-scoped counter and are never reused.
type BreakpointManager struct {
	emu emulator.Emulator
	src *srcmap.SourceMap

	nextID      int
	breakpoints []*breakpoint
}

func NewBreakpointManager(emu emulator.Emulator, src *srcmap.SourceMap) *BreakpointManager {
	return &BreakpointManager{emu: emu, src: src, nextID: 1}
}

func (m *BreakpointManager) allocID() int {
	id := m.nextID
	m.nextID++
	return id
}

// armedAt reports whether any armed breakpoint (of any kind) already
// occupies addr at the emulator layer.
func (m *BreakpointManager) armedAt(addr uint32) bool {
	for _, b := range m.breakpoints {
		if b.verified && b.kind != bkData && b.kind != bkException && b.address == addr {
			return true
		}
	}
	return false
}

// removeKind disarms and forgets every breakpoint of one kind.
func (m *BreakpointManager) removeKind(kind breakpointKind) error {
	var errs []error
	kept := m.breakpoints[:0]
	for _, b := range m.breakpoints {
		if b.kind != kind {
			kept = append(kept, b)
			continue
		}
		if b.verified {
			if err := m.disarm(b); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.breakpoints = kept
	return errors.Join(errs...)
}

func (m *BreakpointManager) disarm(b *breakpoint) error {
	switch b.kind {
	case bkData:
		return m.emu.RemoveWatchpoint(b.address)
	case bkException:
		return m.emu.RemoveCatchpoint(b.address)
	default:
		return m.emu.RemoveBreakpoint(b.address)
	}
}

func skipCount(hitCount int) int {
	if hitCount > 1 {
		return hitCount - 1
	}
	return 0
}

// SetSourceBreakpoints replaces all source breakpoints with the given
// set for one file. A line that cannot be resolved yields an
// unverified result rather than failing the batch.
func (m *BreakpointManager) SetSourceBreakpoints(path string, specs []SourceBreakpointSpec) ([]BreakpointResult, error) {
	if err := m.removeKind(bkSource); err != nil {
		return nil, err
	}
	results := make([]BreakpointResult, len(specs))
	for i, spec := range specs {
		b := &breakpoint{
			id:   m.allocID(),
			kind: bkSource,
			path: path,
			line: spec.Line,
		}
		loc, err := m.src.LookupSourceLine(path, spec.Line)
		if err != nil {
			b.message = fmt.Sprintf("no code at %s:%d", path, spec.Line)
		} else if err := m.emu.SetBreakpoint(loc.Address, skipCount(spec.HitCount)); err != nil {
			b.message = err.Error()
		} else {
			b.verified = true
			b.address = loc.Address
			b.line = loc.Line
		}
		m.breakpoints = append(m.breakpoints, b)
		results[i] = BreakpointResult{
			ID:       b.id,
			Verified: b.verified,
			Message:  b.message,
			Address:  b.address,
			Path:     path,
			Line:     b.line,
		}
	}
	return results, nil
}

// SetInstructionBreakpoints replaces all instruction breakpoints.
// Addresses are numeric (reference + offset), so resolution cannot
// fail; only an emulator refusal leaves one unverified.
func (m *BreakpointManager) SetInstructionBreakpoints(specs []InstructionBreakpointSpec) ([]BreakpointResult, error) {
	if err := m.removeKind(bkInstruction); err != nil {
		return nil, err
	}
	results := make([]BreakpointResult, len(specs))
	for i, spec := range specs {
		b := &breakpoint{id: m.allocID(), kind: bkInstruction}
		ref, err := parseAddress(spec.Reference)
		if err != nil {
			b.message = err.Error()
		} else {
			addr := uint32(int64(ref) + int64(spec.Offset))
			if err := m.emu.SetBreakpoint(addr, skipCount(spec.HitCount)); err != nil {
				b.message = err.Error()
			} else {
				b.verified = true
				b.address = addr
			}
		}
		m.breakpoints = append(m.breakpoints, b)
		results[i] = BreakpointResult{ID: b.id, Verified: b.verified, Message: b.message, Address: b.address}
	}
	return results, nil
}

// SetFunctionBreakpoints replaces all function breakpoints. An unknown
// symbol yields an unverified result with a message; the id is still
// allocated and returned.
func (m *BreakpointManager) SetFunctionBreakpoints(specs []FunctionBreakpointSpec) ([]BreakpointResult, error) {
	if err := m.removeKind(bkFunction); err != nil {
		return nil, err
	}
	results := make([]BreakpointResult, len(specs))
	for i, spec := range specs {
		b := &breakpoint{id: m.allocID(), kind: bkFunction, functionName: spec.Name}
		addr, ok := m.src.SymbolAddress(spec.Name)
		if !ok {
			b.message = fmt.Sprintf("unknown symbol %q", spec.Name)
		} else if err := m.emu.SetBreakpoint(addr, skipCount(spec.HitCount)); err != nil {
			b.message = err.Error()
		} else {
			b.verified = true
			b.address = addr
		}
		m.breakpoints = append(m.breakpoints, b)
		results[i] = BreakpointResult{ID: b.id, Verified: b.verified, Message: b.message, Address: b.address}
	}
	return results, nil
}

// SetDataBreakpoints replaces all data breakpoints (watchpoints). The
// dataId selects the watch address: the current value of a register or
// the address of a symbol.
func (m *BreakpointManager) SetDataBreakpoints(specs []DataBreakpointSpec) ([]BreakpointResult, error) {
	if err := m.removeKind(bkData); err != nil {
		return nil, err
	}
	results := make([]BreakpointResult, len(specs))
	for i, spec := range specs {
		b := &breakpoint{id: m.allocID(), kind: bkData, dataID: spec.DataID}
		addr, err := m.resolveDataID(spec.DataID)
		if err != nil {
			b.message = err.Error()
		} else if err := m.emu.SetWatchpoint(addr, skipCount(spec.HitCount)); err != nil {
			b.message = err.Error()
		} else {
			b.verified = true
			b.address = addr
		}
		m.breakpoints = append(m.breakpoints, b)
		results[i] = BreakpointResult{ID: b.id, Verified: b.verified, Message: b.message, Address: b.address}
	}
	return results, nil
}

// resolveDataID maps "registers:<name>" to the register's current
// value and "symbols:<name>" to the symbol's address.
func (m *BreakpointManager) resolveDataID(dataID string) (uint32, error) {
	kind, name, ok := strings.Cut(dataID, ":")
	if !ok {
		return 0, fmt.Errorf("malformed dataId %q", dataID)
	}
	switch kind {
	case "registers":
		info, err := m.emu.GetCPUInfo()
		if err != nil {
			return 0, err
		}
		v, ok := registerValue(&info, name)
		if !ok {
			return 0, fmt.Errorf("unknown register %q", name)
		}
		return v, nil
	case "symbols":
		addr, ok := m.src.SymbolAddress(name)
		if !ok {
			return 0, fmt.Errorf("unknown symbol %q", name)
		}
		return addr, nil
	}
	return 0, fmt.Errorf("malformed dataId %q", dataID)
}

// SetExceptionBreakpoints replaces all catchpoints, one per requested
// exception vector. Vectors are always verified.
func (m *BreakpointManager) SetExceptionBreakpoints(specs []ExceptionBreakpointSpec) ([]BreakpointResult, error) {
	if err := m.removeKind(bkException); err != nil {
		return nil, err
	}
	results := make([]BreakpointResult, len(specs))
	for i, spec := range specs {
		b := &breakpoint{id: m.allocID(), kind: bkException, address: spec.Vector}
		if err := m.emu.SetCatchpoint(spec.Vector, skipCount(spec.HitCount)); err != nil {
			b.message = err.Error()
		} else {
			b.verified = true
		}
		m.breakpoints = append(m.breakpoints, b)
		results[i] = BreakpointResult{ID: b.id, Verified: b.verified, Message: b.message, Address: b.address}
	}
	return results, nil
}

// AddTemporary arms a single-shot, client-invisible breakpoint used
// for step control. If any breakpoint is already armed at addr the
// request is a no-op: execution already stops there and a second
// registration would clash at the emulator layer.
func (m *BreakpointManager) AddTemporary(addr uint32, reason string) error {
	if m.armedAt(addr) {
		return nil
	}
	if err := m.emu.SetBreakpoint(addr, 0); err != nil {
		return err
	}
	m.breakpoints = append(m.breakpoints, &breakpoint{
		id:       m.allocID(),
		kind:     bkTemporary,
		verified: true,
		address:  addr,
		reason:   reason,
	})
	return nil
}

// HandleBreakpointStop classifies an emulator halt into a DAP stop
// reason. For program-counter hits the precedence is: temporary (which
// is consumed and never exposed as a numbered breakpoint), then
// instruction, function and source breakpoints; anything unmatched
// falls through to a generic "breakpoint".
func (m *BreakpointManager) HandleBreakpointStop(stop emulator.StopInfo) StopClassification {
	switch stop.Kind {
	case emulator.StopWatchpoint:
		for _, b := range m.breakpoints {
			if b.kind == bkData && b.verified && b.address == stop.Address {
				return StopClassification{Reason: "data breakpoint", HitIDs: []int{b.id}}
			}
		}
	case emulator.StopCatchpoint:
		for _, b := range m.breakpoints {
			if b.kind == bkException && b.verified && b.address == stop.Vector {
				return StopClassification{Reason: "exception", HitIDs: []int{b.id}}
			}
		}
	default:
		if c, ok := m.consumeTemporary(stop.PC); ok {
			return c
		}
		for _, kind := range []breakpointKind{bkInstruction, bkFunction, bkSource} {
			for _, b := range m.breakpoints {
				if b.kind == kind && b.verified && b.address == stop.PC {
					reason := "breakpoint"
					switch kind {
					case bkInstruction:
						reason = "instruction breakpoint"
					case bkFunction:
						reason = "function breakpoint"
					}
					return StopClassification{Reason: reason, HitIDs: []int{b.id}}
				}
			}
		}
	}
	return StopClassification{Reason: "breakpoint"}
}

// consumeTemporary removes a pending temporary breakpoint at pc, both
// from the emulator and from bookkeeping, and reports its tagged
// reason. Removal failures do not invalidate the classification.
func (m *BreakpointManager) consumeTemporary(pc uint32) (StopClassification, bool) {
	for i, b := range m.breakpoints {
		if b.kind == bkTemporary && b.address == pc {
			m.emu.RemoveBreakpoint(b.address)
			m.breakpoints = append(m.breakpoints[:i], m.breakpoints[i+1:]...)
			return StopClassification{Reason: b.reason}, true
		}
	}
	return StopClassification{}, false
}

// ClearAll disarms every breakpoint of every kind at the emulator, not
// just locally; session disposal relies on this leaving the emulator
// clean.
func (m *BreakpointManager) ClearAll() error {
	var errs []error
	for _, b := range m.breakpoints {
		if b.verified {
			if err := m.disarm(b); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.breakpoints = nil
	return errors.Join(errs...)
}

// parseAddress parses a numeric memory reference, hex with 0x prefix
// or decimal.
func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad memory reference %q", s)
	}
	return uint32(v), nil
}
