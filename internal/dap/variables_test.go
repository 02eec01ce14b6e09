// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import (
	"testing"

	"github.com/uaedap/uaedap/emulator"
)

func newVars(emu *fakeEmulator) *VariablesManager {
	return NewVariablesManager(emu, testSourceMap(), newHandlesMap())
}

func scopeByName(t *testing.T, scopes []Scope, name string) Scope {
	t.Helper()
	for _, s := range scopes {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no scope %q in %v", name, scopes)
	return Scope{}
}

func variableByName(t *testing.T, vars []Variable, name string) Variable {
	t.Helper()
	for _, v := range vars {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("no variable %q", name)
	return Variable{}
}

func TestRegisterScope(t *testing.T) {
	emu := newFakeEmulator()
	emu.cpu.D[0] = 0xffffffff
	emu.cpu.A[0] = 0x1100
	emu.cpu.PC = 0x1010
	emu.cpu.SR = 0x2011
	m := newVars(emu)

	scopes := m.Scopes()
	if len(scopes) != 4 {
		t.Fatalf("got %d scopes; want 4", len(scopes))
	}
	vars, err := m.Variables(scopeByName(t, scopes, "Registers").Reference)
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 22 {
		t.Errorf("got %d registers; want 22", len(vars))
	}
	if d0 := variableByName(t, vars, "d0"); d0.Value != "0xffffffff = -1" {
		t.Errorf("d0 = %q; want signed rendering", d0.Value)
	}
	if a0 := variableByName(t, vars, "a0"); a0.Value != "0x00001100 = copperlist" || a0.MemoryReference != "0x00001100" {
		t.Errorf("a0 = %+v; want copperlist annotation", a0)
	}
	if pc := variableByName(t, vars, "pc"); pc.Value != "0x00001010 = main+0x10" {
		t.Errorf("pc = %q; want main+0x10 annotation", pc.Value)
	}

	sr := variableByName(t, vars, "sr")
	if sr.Reference == 0 {
		t.Fatal("sr not expandable")
	}
	bits, err := m.Variables(sr.Reference)
	if err != nil {
		t.Fatal(err)
	}
	if s := variableByName(t, bits, "S"); s.Value != "1" {
		t.Errorf("S = %q; want 1", s.Value)
	}
	if z := variableByName(t, bits, "Z"); z.Value != "0" {
		t.Errorf("Z = %q; want 0", z.Value)
	}
	if x := variableByName(t, bits, "X"); x.Value != "1" {
		t.Errorf("X = %q; want 1", x.Value)
	}
	if ipl := variableByName(t, bits, "IPL"); ipl.Value != "0" {
		t.Errorf("IPL = %q; want 0", ipl.Value)
	}
}

func TestSymbolScope(t *testing.T) {
	emu := newFakeEmulator()
	emu.setLong(0x87fc, 0xcafebabe)
	m := newVars(emu)

	vars, err := m.Variables(scopeByName(t, m.Scopes(), "Symbols").Reference)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"copperlist", "counter", "main", "sprite"}
	if len(vars) != len(want) {
		t.Fatalf("got %d symbols; want %d", len(vars), len(want))
	}
	for i, name := range want {
		if vars[i].Name != name {
			t.Errorf("symbol %d = %q; want %q", i, vars[i].Name, name)
		}
	}
	// counter is a longword cell, so its value is read; main is a code
	// block, so only its address shows.
	if counter := variableByName(t, vars, "counter"); counter.Value != "0xcafebabe" {
		t.Errorf("counter = %q; want its cell value", counter.Value)
	}
	if main := variableByName(t, vars, "main"); main.Value != "0x00001000" {
		t.Errorf("main = %q; want its address", main.Value)
	}
}

func TestSegmentScope(t *testing.T) {
	m := newVars(newFakeEmulator())

	vars, err := m.Variables(scopeByName(t, m.Scopes(), "Segments").Reference)
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 2 {
		t.Fatalf("got %d segments; want 2", len(vars))
	}
	if vars[0].Name != "code" || vars[0].Value != "0x00001000 (4096 bytes, any)" {
		t.Errorf("segment 0 = %+v", vars[0])
	}
	if vars[1].Name != "data" || vars[1].Value != "0x00008000 (2048 bytes, chip)" {
		t.Errorf("segment 1 = %+v", vars[1])
	}
}

func TestCustomScope(t *testing.T) {
	emu := newFakeEmulator()
	emu.custom = []emulator.CustomRegister{
		{Name: "INTENA", Address: 0xdff01c, Value: 0xc000},
		{Name: "DMACON", Address: 0xdff002, Value: 0x0200},
	}
	m := newVars(emu)

	vars, err := m.Variables(scopeByName(t, m.Scopes(), "Custom").Reference)
	if err != nil {
		t.Fatal(err)
	}
	// Sorted by chipset address, not by name.
	if vars[0].Name != "DMACON" || vars[1].Name != "INTENA" {
		t.Errorf("order = %q, %q; want DMACON, INTENA", vars[0].Name, vars[1].Name)
	}
	if vars[1].Value != "0xc000 [1100 0000 0000 0000]" {
		t.Errorf("INTENA = %q", vars[1].Value)
	}
}

func TestArrayExpansion(t *testing.T) {
	emu := newFakeEmulator()
	m := newVars(emu)

	arr := ArrayValue{BaseAddress: 0x8000, ElemSize: 2, Values: []uint32{0x1234, 0x5678}}
	ref := m.handles.create(arr)

	vars, err := m.Variables(ref)
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 2 {
		t.Fatalf("got %d elements; want 2", len(vars))
	}
	if vars[0].Name != "0" || vars[0].Value != "1234" || vars[0].MemoryReference != "0x00008000" {
		t.Errorf("element 0 = %+v", vars[0])
	}
	if vars[1].MemoryReference != "0x00008002" {
		t.Errorf("element 1 memory reference = %q; want 0x00008002", vars[1].MemoryReference)
	}
}

func TestSetVariable(t *testing.T) {
	emu := newFakeEmulator()
	m := newVars(emu)
	scopes := m.Scopes()

	symbols := scopeByName(t, scopes, "Symbols").Reference
	v, err := m.SetVariable(symbols, "counter", "0x1234")
	if err != nil {
		t.Fatal(err)
	}
	if v.Value != "0x1234 = 4660" {
		t.Errorf("result = %q", v.Value)
	}
	// counter is a longword, so the write is 4 bytes wide.
	if got, _ := emu.Peek32(0x87fc); got != 0x1234 {
		t.Errorf("memory at counter = %#x; want 0x1234", got)
	}

	if _, err := m.SetVariable(scopeByName(t, scopes, "Registers").Reference, "d0", "1"); err == nil {
		t.Error("register write succeeded; registers are read-only")
	}
	if _, err := m.SetVariable(symbols, "nonesuch", "1"); err == nil {
		t.Error("unknown symbol write succeeded")
	}
	if _, err := m.SetVariable(symbols, "counter", "banana"); err == nil {
		t.Error("unparseable value accepted")
	}
}

func TestCompleteSymbols(t *testing.T) {
	m := newVars(newFakeEmulator())

	got := m.CompleteSymbols("c")
	want := []string{"copperlist", "counter"}
	if len(got) != len(want) {
		t.Fatalf("got %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("completion %d = %q; want %q", i, got[i], want[i])
		}
	}
	if got := m.CompleteSymbols("zz"); len(got) != 0 {
		t.Errorf("got %v; want none", got)
	}
}
