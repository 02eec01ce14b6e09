// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import (
	"strings"
	"testing"

	"github.com/uaedap/uaedap/arch"
	"github.com/uaedap/uaedap/emulator"
)

func newEval(emu *fakeEmulator) *EvaluateManager {
	src := testSourceMap()
	handles := newHandlesMap()
	disasm := NewDisassemblyManager(emu, src, &arch.M68K)
	return NewEvaluateManager(emu, src, disasm, handles)
}

func TestEvaluateArithmetic(t *testing.T) {
	m := newEval(newFakeEmulator())

	tests := []struct {
		expr string
		want int64
	}{
		{"2 + 3 * 4", 14},
		{"0x1000 + 16", 0x1010},
		{"(1 << 8) | 0x0f", 0x10f},
		{"max(3, 7) * 2", 14},
	}
	for _, tt := range tests {
		r, err := m.Evaluate(tt.expr, nil)
		if err != nil {
			t.Errorf("Evaluate(%q): %v", tt.expr, err)
			continue
		}
		n, ok := r.(NumberValue)
		if !ok || n.Value != tt.want {
			t.Errorf("Evaluate(%q) = %v; want %d", tt.expr, r, tt.want)
		}
	}
}

func TestEvaluateNumberDisplay(t *testing.T) {
	m := newEval(newFakeEmulator())
	r, err := m.Evaluate("10 + 4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Display(); got != "0xe = 14" {
		t.Errorf("Display() = %q; want %q", got, "0xe = 14")
	}
	if r.Kind() != "PARSED" {
		t.Errorf("Kind() = %q; want PARSED", r.Kind())
	}
}

func TestEvaluateSymbol(t *testing.T) {
	emu := newFakeEmulator()
	m := newEval(emu)

	r, err := m.Evaluate("main", nil)
	if err != nil {
		t.Fatal(err)
	}
	sym, ok := r.(SymbolValue)
	if !ok {
		t.Fatalf("got %T; want SymbolValue", r)
	}
	if sym.Address != 0x1000 || sym.Length != 0x100 {
		t.Errorf("main = %+v; want address 0x1000 length 0x100", sym)
	}
	if sym.Pointee != nil {
		t.Error("main has a pointee despite its length")
	}
	if r.Kind() != "SYMBOL" {
		t.Errorf("Kind() = %q; want SYMBOL", r.Kind())
	}
}

func TestEvaluateSymbolDereference(t *testing.T) {
	emu := newFakeEmulator()
	emu.setLong(0x87fc, 0xcafebabe)
	m := newEval(emu)

	// counter is exactly a longword wide, so its cell is shown.
	r, err := m.Evaluate("counter", nil)
	if err != nil {
		t.Fatal(err)
	}
	sym := r.(SymbolValue)
	if sym.Pointee == nil || *sym.Pointee != 0xcafebabe || sym.PointeeSize != 4 {
		t.Fatalf("counter = %+v; want a longword pointee 0xcafebabe", sym)
	}
	if got := sym.Display(); got != "0x000087fc = counter -> 0xcafebabe" {
		t.Errorf("Display() = %q", got)
	}
}

func TestEvaluateRegisters(t *testing.T) {
	emu := newFakeEmulator()
	emu.cpu.A[0] = 0x1100
	emu.cpu.D[1] = 0xffff8000
	m := newEval(emu)

	r, err := m.Evaluate("a0", nil)
	if err != nil {
		t.Fatal(err)
	}
	reg := r.(RegisterValue)
	if !reg.IsAddress || reg.Symbol != "copperlist" || reg.SymbolOffset != 0 {
		t.Errorf("a0 = %+v; want copperlist+0", reg)
	}
	if got := reg.Display(); got != "0x00001100 = copperlist" {
		t.Errorf("a0 Display() = %q", got)
	}

	r, err = m.Evaluate("d1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Display(); got != "0xffff8000 = 4294934528" {
		t.Errorf("d1 Display() = %q", got)
	}

	// A hover over a signed word instruction narrows the display.
	r, err = m.Evaluate("d1", &SizeHint{Bytes: 2, Signed: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Display(); got != "0x8000 = -32768" {
		t.Errorf("hinted d1 Display() = %q", got)
	}
}

func TestEvaluateCustomRegister(t *testing.T) {
	emu := newFakeEmulator()
	emu.custom = []emulator.CustomRegister{
		{Name: "INTENA", Address: 0xdff01c, Value: 0x2000},
	}
	m := newEval(emu)

	r, err := m.Evaluate("intena", nil)
	if err != nil {
		t.Fatal(err)
	}
	reg, ok := r.(CustomRegisterValue)
	if !ok || reg.Address != 0xdff01c || reg.Value != 0x2000 {
		t.Fatalf("intena = %+v; want the INTENA register", r)
	}
}

func TestEvaluatePeekSingleRead(t *testing.T) {
	emu := newFakeEmulator()
	emu.setLong(0x8000, 1234)
	m := newEval(emu)

	r, err := m.Evaluate("peekU32(sprite)", nil)
	if err != nil {
		t.Fatal(err)
	}
	n, ok := r.(NumberValue)
	if !ok || n.Value != 1234 {
		t.Fatalf("got %v; want 1234", r)
	}
	if emu.readMemoryCalls != 1 {
		t.Errorf("peekU32 issued %d reads; want 1", emu.readMemoryCalls)
	}
}

func TestEvaluateSignedPeekInArithmetic(t *testing.T) {
	emu := newFakeEmulator()
	emu.setWord(0x8000, 0xfffe) // -2 as a signed word
	m := newEval(emu)

	r, err := m.Evaluate("peekI16(0x8000) + 10", nil)
	if err != nil {
		t.Fatal(err)
	}
	n := r.(NumberValue)
	if n.Value != 8 {
		t.Errorf("got %d; want 8", n.Value)
	}
}

func TestEvaluateNestedPeek(t *testing.T) {
	emu := newFakeEmulator()
	emu.setLong(0x8000, 0x8010)
	emu.setWord(0x8010, 42)
	m := newEval(emu)

	// Inner call resolves first, its value feeds the outer address.
	r, err := m.Evaluate("peekU16(peekU32(sprite))", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := r.(NumberValue); n.Value != 42 {
		t.Errorf("got %d; want 42", n.Value)
	}
}

func TestEvaluatePokeComposesAndWrites(t *testing.T) {
	emu := newFakeEmulator()
	m := newEval(emu)

	r, err := m.Evaluate("poke16(sprite, 0x1234) + 1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := r.(NumberValue); n.Value != 0x1235 {
		t.Errorf("got %d; want %d", n.Value, 0x1235)
	}
	if v, _ := emu.Peek16(0x8000); v != 0x1234 {
		t.Errorf("memory at sprite = %#x; want 0x1234", v)
	}
}

func TestEvaluateReadWords(t *testing.T) {
	emu := newFakeEmulator()
	emu.setWord(0x8000, 1)
	emu.setWord(0x8002, 2)
	emu.setWord(0x8004, 3)
	m := newEval(emu)

	r, err := m.Evaluate("readWords(sprite, 3)", nil)
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := r.(ArrayValue)
	if !ok {
		t.Fatalf("got %T; want ArrayValue", r)
	}
	if arr.BaseAddress != 0x8000 || arr.ElemSize != 2 {
		t.Errorf("array = %+v; want words at 0x8000", arr)
	}
	if len(arr.Values) != 3 || arr.Values[0] != 1 || arr.Values[1] != 2 || arr.Values[2] != 3 {
		t.Errorf("values = %v; want [1 2 3]", arr.Values)
	}
	if arr.Handle < startHandle {
		t.Errorf("handle = %d; want >= %d", arr.Handle, startHandle)
	}
	if v, ok := m.handles.get(arr.Handle); !ok {
		t.Error("array handle not registered")
	} else if _, ok := v.(ArrayValue); !ok {
		t.Errorf("handle resolves to %T; want ArrayValue", v)
	}
}

func TestEvaluateArrayFuncNested(t *testing.T) {
	m := newEval(newFakeEmulator())

	for _, expr := range []string{
		"readBytes(0x100, 2) + 1",
		"1 + disassemble(0x1000)",
	} {
		_, err := m.Evaluate(expr, nil)
		if err == nil || !strings.Contains(err.Error(), "complex expressions") {
			t.Errorf("Evaluate(%q) err = %v; want a nesting diagnostic", expr, err)
		}
	}
}

func TestEvaluateDisassembleDefaultCount(t *testing.T) {
	emu := newFakeEmulator()
	fixedListing(emu, 0x1000, 64)
	m := newEval(emu)

	r, err := m.Evaluate("disassemble(main)", nil)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := r.(DisassemblyValue)
	if !ok {
		t.Fatalf("got %T; want DisassemblyValue", r)
	}
	if len(d.Instructions) != defaultDisassembleCount {
		t.Errorf("got %d instructions; want %d", len(d.Instructions), defaultDisassembleCount)
	}
	if d.Instructions[0].Address != 0x1000 {
		t.Errorf("first instruction at %#x; want 0x1000", d.Instructions[0].Address)
	}
}

func TestEvaluateArgumentCount(t *testing.T) {
	m := newEval(newFakeEmulator())

	_, err := m.Evaluate("peekU8(1, 2)", nil)
	if err == nil || !strings.Contains(err.Error(), "peekU8(address)") {
		t.Errorf("err = %v; want the usage string", err)
	}
	_, err = m.Evaluate("readWords(0x8000)", nil)
	if err == nil || !strings.Contains(err.Error(), "readWords(address, count)") {
		t.Errorf("err = %v; want the usage string", err)
	}
}

func TestEvaluateUnknownIdentifier(t *testing.T) {
	m := newEval(newFakeEmulator())

	_, err := m.Evaluate("bogus + 1", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown variable") {
		t.Errorf("err = %v; want unknown variable", err)
	}
}

func TestEvaluateAddress(t *testing.T) {
	emu := newFakeEmulator()
	emu.cpu.A[1] = 0x4000
	m := newEval(emu)

	tests := []struct {
		expr string
		want uint32
	}{
		{"sprite", 0x8000},
		{"a1", 0x4000},
		{"0x1000 + 0x10", 0x1010},
	}
	for _, tt := range tests {
		addr, err := m.EvaluateAddress(tt.expr)
		if err != nil {
			t.Errorf("EvaluateAddress(%q): %v", tt.expr, err)
			continue
		}
		if addr != tt.want {
			t.Errorf("EvaluateAddress(%q) = %#x; want %#x", tt.expr, addr, tt.want)
		}
	}
}
