// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/uaedap/uaedap/arch"
	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/internal/srcmap"
)

// SizeHint carries hover-derived width and signedness for data
// register display ("move.w d0" hovers d0 as a signed word).
type SizeHint struct {
	Bytes  int
	Signed bool
}

// EvalResult is the tagged result of an expression evaluation. Each
// kind carries exactly the fields it needs; the session layer formats
// them per kind.
type EvalResult interface {
	// Kind is the result type reported to the client.
	Kind() string
	// Display is the one-line rendering of the result.
	Display() string
}

// NumberValue is a plain computed number.
type NumberValue struct {
	Value int64
}

func (NumberValue) Kind() string { return "PARSED" }

func (v NumberValue) Display() string {
	return fmt.Sprintf("0x%x = %d", arch.U32(v.Value), v.Value)
}

// SymbolValue is a known symbol: its address, its derived byte length
// and, when the length is a machine width, the value it points at.
type SymbolValue struct {
	Name    string
	Address uint32
	Length  uint32

	// Pointee is set when Length is 1, 2 or 4.
	Pointee     *uint32
	PointeeSize int
}

func (SymbolValue) Kind() string { return "SYMBOL" }

func (v SymbolValue) Display() string {
	s := fmt.Sprintf("%s = %s", arch.Hex32(v.Address), v.Name)
	if v.Pointee != nil {
		if v.PointeeSize == 4 {
			s += " -> " + arch.Hex32(*v.Pointee)
		} else {
			s += fmt.Sprintf(" -> 0x%x = %d", *v.Pointee, *v.Pointee)
		}
	}
	return s
}

// RegisterValue is a CPU register. Address registers annotate their
// value with the nearest symbol; data registers honor the hover hint.
type RegisterValue struct {
	Name      string
	Value     uint32
	IsAddress bool

	// Symbol annotation for address registers, when resolvable.
	Symbol       string
	SymbolOffset uint32

	Hint *SizeHint
}

func (v RegisterValue) Kind() string { return "REGISTER" }

func (v RegisterValue) Display() string {
	if v.IsAddress {
		s := arch.Hex32(v.Value)
		if v.Symbol != "" {
			if v.SymbolOffset == 0 {
				s += " = " + v.Symbol
			} else {
				s += fmt.Sprintf(" = %s+%#x", v.Symbol, v.SymbolOffset)
			}
		}
		return s
	}
	// Data register: width and signedness follow the hover hint,
	// defaulting to 32 bits.
	if v.Hint != nil {
		switch v.Hint.Bytes {
		case 1:
			if v.Hint.Signed {
				return fmt.Sprintf("%s = %d", arch.Hex8(uint8(v.Value)), arch.I8(uint8(v.Value)))
			}
			return fmt.Sprintf("%s = %d", arch.Hex8(uint8(v.Value)), uint8(v.Value))
		case 2:
			if v.Hint.Signed {
				return fmt.Sprintf("%s = %d", arch.Hex16(uint16(v.Value)), arch.I16(uint16(v.Value)))
			}
			return fmt.Sprintf("%s = %d", arch.Hex16(uint16(v.Value)), uint16(v.Value))
		case 4:
			if v.Hint.Signed {
				return fmt.Sprintf("%s = %d", arch.Hex32(v.Value), arch.I32(v.Value))
			}
		}
	}
	return fmt.Sprintf("%s = %d", arch.Hex32(v.Value), v.Value)
}

// CustomRegisterValue is a custom chip register with its chipset
// address.
type CustomRegisterValue struct {
	Name    string
	Address uint32
	Value   uint32
}

func (CustomRegisterValue) Kind() string { return "CUSTOM_REGISTER" }

func (v CustomRegisterValue) Display() string {
	return fmt.Sprintf("%s = %d [%s]", arch.Hex16(uint16(v.Value)), v.Value, arch.Bin16(uint16(v.Value)))
}

// ArrayValue is a memory block read by readBytes/Words/Longs: a
// summary line plus a handle for lazy expansion.
type ArrayValue struct {
	BaseAddress uint32
	ElemSize    int
	Values      []uint32
	Handle      int
}

func (ArrayValue) Kind() string { return "ARRAY" }

func (v ArrayValue) Display() string {
	var s strings.Builder
	fmt.Fprintf(&s, "%d element(s) at %s:", len(v.Values), arch.Hex32(v.BaseAddress))
	for i, val := range v.Values {
		if i >= 8 {
			s.WriteString(" ...")
			break
		}
		fmt.Fprintf(&s, " %0*x", v.ElemSize*2, val)
	}
	return s.String()
}

// DisassemblyValue is a disassembled listing: a summary line plus a
// handle for lazy expansion.
type DisassemblyValue struct {
	BaseAddress  uint32
	Instructions []DisassembledInstruction
	Handle       int
}

func (DisassemblyValue) Kind() string { return "DISASSEMBLY" }

func (v DisassemblyValue) Display() string {
	return fmt.Sprintf("%d instruction(s) at %s", len(v.Instructions), arch.Hex32(v.BaseAddress))
}

// pseudoFunctions fixes the argument count bounds of every
// memory-access pseudo-function, checked before evaluation.
var pseudoFunctions = map[string]struct {
	min, max int
	usage    string
}{
	"peekU8":            {1, 1, "peekU8(address)"},
	"peekU16":           {1, 1, "peekU16(address)"},
	"peekU32":           {1, 1, "peekU32(address)"},
	"peekI8":            {1, 1, "peekI8(address)"},
	"peekI16":           {1, 1, "peekI16(address)"},
	"peekI32":           {1, 1, "peekI32(address)"},
	"poke8":             {2, 2, "poke8(address, value)"},
	"poke16":            {2, 2, "poke16(address, value)"},
	"poke32":            {2, 2, "poke32(address, value)"},
	"readBytes":         {2, 2, "readBytes(address, count)"},
	"readWords":         {2, 2, "readWords(address, count)"},
	"readLongs":         {2, 2, "readLongs(address, count)"},
	"disassemble":       {1, 2, "disassemble(address[, count])"},
	"disassembleCopper": {1, 2, "disassembleCopper(address[, count])"},
}

// arrayFunc matches a whole expression that is exactly one call of an
// array- or disassembly-producing function.
var arrayFunc = regexp.MustCompile(`^(readBytes|readWords|readLongs|disassembleCopper|disassemble)\s*\((.*)\)$`)

// arrayFuncAnywhere detects such a call occurring anywhere, for the
// "cannot nest" diagnostic.
var arrayFuncAnywhere = regexp.MustCompile(`\b(readBytes|readWords|readLongs|disassembleCopper|disassemble)\s*\(`)

var identifier = regexp.MustCompile(`^[A-Za-z_.][A-Za-z0-9_.$]*$`)

const defaultDisassembleCount = 10

// EvaluateManager evaluates console/watch/hover expressions. Plain
// arithmetic is parsed once into an expression tree; the memory-access
// pseudo-functions are ordinary functions of that tree whose bodies
// perform the emulator round trip, so nested calls resolve bottom-up
// in evaluation order with no textual substitution.
type EvaluateManager struct {
	emu     emulator.Emulator
	src     *srcmap.SourceMap
	disasm  *DisassemblyManager
	handles *handlesMap

	// symbolLengths is computed once per session from the source map.
	symbolLengths map[string]uint32
}

func NewEvaluateManager(emu emulator.Emulator, src *srcmap.SourceMap, disasm *DisassemblyManager, handles *handlesMap) *EvaluateManager {
	return &EvaluateManager{
		emu:           emu,
		src:           src,
		disasm:        disasm,
		handles:       handles,
		symbolLengths: src.SymbolLengths(),
	}
}

// Evaluate evaluates one expression. hint, when non-nil, shapes the
// display of a bare data register.
func (m *EvaluateManager) Evaluate(expression string, hint *SizeHint) (EvalResult, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return nil, newProtocolError(codeEvaluateFailed, nil, "empty expression")
	}

	// Array and disassembly producers are only legal as the entire
	// expression; they have no numeric value to embed in arithmetic.
	if match := arrayFunc.FindStringSubmatch(expr); match != nil {
		return m.evaluateArrayCall(match[1], match[2])
	}
	if loc := arrayFuncAnywhere.FindStringSubmatch(expr); loc != nil {
		return nil, newProtocolError(codeEvaluateFailed, nil,
			"%s cannot be used in complex expressions", loc[1])
	}

	// Plain-identifier fast path: classify a bare name by origin
	// without parsing. A name can coincide across categories; symbols
	// shadow address registers, which shadow data registers, which
	// shadow custom chip registers.
	if identifier.MatchString(expr) {
		if r, ok, err := m.classifyIdentifier(expr, hint); err != nil {
			return nil, err
		} else if ok {
			return r, nil
		}
	}

	n, err := m.evaluateNumeric(expr)
	if err != nil {
		return nil, err
	}
	return NumberValue{Value: n}, nil
}

// EvaluateAddress evaluates an expression that must produce an
// address, for the memory viewer and numeric arguments.
func (m *EvaluateManager) EvaluateAddress(expression string) (uint32, error) {
	r, err := m.Evaluate(expression, nil)
	if err != nil {
		return 0, err
	}
	switch v := r.(type) {
	case NumberValue:
		return arch.U32(v.Value), nil
	case SymbolValue:
		return v.Address, nil
	case RegisterValue:
		return v.Value, nil
	case CustomRegisterValue:
		return v.Address, nil
	}
	return 0, newProtocolError(codeEvaluateFailed, nil, "%q is not an address", expression)
}

// classifyIdentifier resolves a bare name in priority order: symbol,
// address register, data register, custom chip register.
func (m *EvaluateManager) classifyIdentifier(name string, hint *SizeHint) (EvalResult, bool, error) {
	if addr, ok := m.src.SymbolAddress(name); ok {
		return m.symbolResult(name, addr), true, nil
	}
	if isAddressRegisterName(name) || isDataRegisterName(name) {
		info, err := m.emu.GetCPUInfo()
		if err != nil {
			return nil, false, newProtocolError(codeEvaluateFailed, err, "reading CPU state")
		}
		v, _ := registerValue(&info, name)
		r := RegisterValue{Name: name, Value: v, IsAddress: isAddressRegisterName(name), Hint: hint}
		if r.IsAddress {
			if sym, off, ok := m.src.FindSymbolOffset(v); ok {
				r.Symbol, r.SymbolOffset = sym, off
			}
		}
		return r, true, nil
	}
	if reg, ok, err := m.customRegister(name); err != nil {
		return nil, false, err
	} else if ok {
		return CustomRegisterValue{Name: reg.Name, Address: reg.Address, Value: reg.Value}, true, nil
	}
	return nil, false, nil
}

func (m *EvaluateManager) symbolResult(name string, addr uint32) SymbolValue {
	r := SymbolValue{Name: name, Address: addr, Length: m.symbolLengths[name]}
	// A symbol of machine width doubles as a pointer/scalar cell:
	// dereference it for display.
	switch r.Length {
	case 1:
		if v, err := m.emu.Peek8(addr); err == nil {
			p := uint32(v)
			r.Pointee, r.PointeeSize = &p, 1
		}
	case 2:
		if v, err := m.emu.Peek16(addr); err == nil {
			p := uint32(v)
			r.Pointee, r.PointeeSize = &p, 2
		}
	case 4:
		if v, err := m.emu.Peek32(addr); err == nil {
			p := v
			r.Pointee, r.PointeeSize = &p, 4
		}
	}
	return r
}

func (m *EvaluateManager) customRegister(name string) (emulator.CustomRegister, bool, error) {
	regs, err := m.emu.GetAllCustomRegisters()
	if err != nil {
		return emulator.CustomRegister{}, false, newProtocolError(codeEvaluateFailed, err, "reading custom registers")
	}
	upper := strings.ToUpper(name)
	for _, reg := range regs {
		if strings.ToUpper(reg.Name) == upper {
			return reg, true, nil
		}
	}
	return emulator.CustomRegister{}, false, nil
}

// evaluateNumeric parses and evaluates an arithmetic expression. The
// pseudo-functions run their emulator round trips as the tree
// evaluates; identifiers resolve lazily through evalParams.
func (m *EvaluateManager) evaluateNumeric(expr string) (int64, error) {
	parsed, err := govaluate.NewEvaluableExpressionWithFunctions(expr, m.expressionFunctions())
	if err != nil {
		return 0, newProtocolError(codeEvaluateFailed, err, "cannot parse %q", expr)
	}
	result, err := parsed.Eval(&evalParams{m: m})
	if err != nil {
		var pe *protocolError
		if errors.As(err, &pe) {
			return 0, pe
		}
		return 0, newProtocolError(codeEvaluateFailed, err, "cannot evaluate %q", expr)
	}
	f, ok := result.(float64)
	if !ok {
		return 0, newProtocolError(codeEvaluateFailed, nil, "%q is not numeric", expr)
	}
	return int64(f), nil
}

// evalParams resolves identifiers during tree evaluation, against the
// same categories as the fast path and in the same order. Register and
// custom register state is fetched at most once per evaluation.
type evalParams struct {
	m       *EvaluateManager
	info    *emulator.CPUInfo
	customs []emulator.CustomRegister
}

func (p *evalParams) Get(name string) (interface{}, error) {
	if addr, ok := p.m.src.SymbolAddress(name); ok {
		return float64(addr), nil
	}
	if isAddressRegisterName(name) || isDataRegisterName(name) {
		if p.info == nil {
			info, err := p.m.emu.GetCPUInfo()
			if err != nil {
				return nil, newProtocolError(codeEvaluateFailed, err, "reading CPU state")
			}
			p.info = &info
		}
		if v, ok := registerValue(p.info, name); ok {
			return float64(v), nil
		}
	}
	if p.customs == nil {
		regs, err := p.m.emu.GetAllCustomRegisters()
		if err != nil {
			return nil, newProtocolError(codeEvaluateFailed, err, "reading custom registers")
		}
		p.customs = regs
	}
	upper := strings.ToUpper(name)
	for _, reg := range p.customs {
		if strings.ToUpper(reg.Name) == upper {
			return float64(reg.Value), nil
		}
	}
	return nil, newProtocolError(codeEvaluateFailed, nil, "unknown variable %q", name)
}

// expressionFunctions builds the function table: memory-access
// pseudo-functions backed by the emulator plus pure math builtins.
func (m *EvaluateManager) expressionFunctions() map[string]govaluate.ExpressionFunction {
	funcs := map[string]govaluate.ExpressionFunction{
		"peekU8": m.peekFunc("peekU8", func(addr uint32) (float64, error) {
			v, err := m.emu.Peek8(addr)
			return float64(v), err
		}),
		"peekU16": m.peekFunc("peekU16", func(addr uint32) (float64, error) {
			v, err := m.emu.Peek16(addr)
			return float64(v), err
		}),
		"peekU32": m.peekFunc("peekU32", func(addr uint32) (float64, error) {
			v, err := m.emu.Peek32(addr)
			return float64(v), err
		}),
		"peekI8": m.peekFunc("peekI8", func(addr uint32) (float64, error) {
			v, err := m.emu.Peek8(addr)
			return float64(arch.I8(v)), err
		}),
		"peekI16": m.peekFunc("peekI16", func(addr uint32) (float64, error) {
			v, err := m.emu.Peek16(addr)
			return float64(arch.I16(v)), err
		}),
		"peekI32": m.peekFunc("peekI32", func(addr uint32) (float64, error) {
			v, err := m.emu.Peek32(addr)
			return float64(arch.I32(v)), err
		}),
		"poke8": m.pokeFunc("poke8", func(addr uint32, v int64) error {
			return m.emu.Poke8(addr, arch.U8(v))
		}),
		"poke16": m.pokeFunc("poke16", func(addr uint32, v int64) error {
			return m.emu.Poke16(addr, arch.U16(v))
		}),
		"poke32": m.pokeFunc("poke32", func(addr uint32, v int64) error {
			return m.emu.Poke32(addr, arch.U32(v))
		}),
	}
	for name, fn := range mathBuiltins {
		funcs[name] = fn
	}
	return funcs
}

var mathBuiltins = map[string]govaluate.ExpressionFunction{
	"abs":   mathFunc1(math.Abs),
	"floor": mathFunc1(math.Floor),
	"ceil":  mathFunc1(math.Ceil),
	"round": mathFunc1(math.Round),
	"sqrt":  mathFunc1(math.Sqrt),
	"pow":   mathFunc2(math.Pow),
	"min":   mathFunc2(math.Min),
	"max":   mathFunc2(math.Max),
}

func mathFunc1(f func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("argument must be numeric")
		}
		return f(v), nil
	}
}

func mathFunc2(f func(float64, float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
		}
		a, aok := args[0].(float64)
		b, bok := args[1].(float64)
		if !aok || !bok {
			return nil, fmt.Errorf("arguments must be numeric")
		}
		return f(a, b), nil
	}
}

func (m *EvaluateManager) peekFunc(name string, peek func(addr uint32) (float64, error)) govaluate.ExpressionFunction {
	spec := pseudoFunctions[name]
	return func(args ...interface{}) (interface{}, error) {
		if err := checkArgCount(name, spec.min, spec.max, spec.usage, len(args)); err != nil {
			return nil, err
		}
		addr, err := numericArg(name, args[0])
		if err != nil {
			return nil, err
		}
		v, err := peek(arch.U32(addr))
		if err != nil {
			return nil, newProtocolError(codeMemoryReadFailed, err, "%s at %s", name, arch.Hex32(arch.U32(addr)))
		}
		return v, nil
	}
}

func (m *EvaluateManager) pokeFunc(name string, poke func(addr uint32, v int64) error) govaluate.ExpressionFunction {
	spec := pseudoFunctions[name]
	return func(args ...interface{}) (interface{}, error) {
		if err := checkArgCount(name, spec.min, spec.max, spec.usage, len(args)); err != nil {
			return nil, err
		}
		addr, err := numericArg(name, args[0])
		if err != nil {
			return nil, err
		}
		v, err := numericArg(name, args[1])
		if err != nil {
			return nil, err
		}
		if err := poke(arch.U32(addr), v); err != nil {
			return nil, newProtocolError(codeMemoryWriteFailed, err, "%s at %s", name, arch.Hex32(arch.U32(addr)))
		}
		// A poke evaluates to the written value, so it composes.
		return float64(v), nil
	}
}

func checkArgCount(name string, min, max int, usage string, got int) error {
	if got < min || got > max {
		return newProtocolError(codeEvaluateFailed, nil, "wrong number of arguments for %s; usage: %s", name, usage)
	}
	return nil
}

func numericArg(name string, arg interface{}) (int64, error) {
	f, ok := arg.(float64)
	if !ok {
		return 0, newProtocolError(codeEvaluateFailed, nil, "argument of %s must be numeric", name)
	}
	return int64(f), nil
}

// evaluateArrayCall handles the array/disassembly producers. Their
// arguments are full expressions in their own right, evaluated
// recursively.
func (m *EvaluateManager) evaluateArrayCall(name, argText string) (EvalResult, error) {
	spec := pseudoFunctions[name]
	args, err := splitArgs(argText)
	if err != nil {
		return nil, newProtocolError(codeEvaluateFailed, nil, "%s cannot be used in complex expressions", name)
	}
	if err := checkArgCount(name, spec.min, spec.max, spec.usage, len(args)); err != nil {
		return nil, err
	}
	values := make([]int64, len(args))
	for i, a := range args {
		v, err := m.evaluateNumeric(a)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	addr := arch.U32(values[0])

	switch name {
	case "readBytes", "readWords", "readLongs":
		elemSize := map[string]int{"readBytes": 1, "readWords": 2, "readLongs": 4}[name]
		count := int(values[1])
		if count <= 0 {
			return nil, newProtocolError(codeEvaluateFailed, nil, "%s: count must be positive", name)
		}
		data, err := m.emu.ReadMemory(addr, count*elemSize)
		if err != nil {
			return nil, newProtocolError(codeMemoryReadFailed, err, "%s at %s", name, arch.Hex32(addr))
		}
		elems := make([]uint32, 0, count)
		for i := 0; i+elemSize <= len(data); i += elemSize {
			switch elemSize {
			case 1:
				elems = append(elems, uint32(data[i]))
			case 2:
				elems = append(elems, uint32(arch.M68K.Word(data[i:])))
			case 4:
				elems = append(elems, arch.M68K.Long(data[i:]))
			}
		}
		r := ArrayValue{BaseAddress: addr, ElemSize: elemSize, Values: elems}
		r.Handle = m.handles.create(r)
		return r, nil

	case "disassemble", "disassembleCopper":
		count := defaultDisassembleCount
		if len(values) == 2 {
			count = int(values[1])
		}
		var (
			instructions []DisassembledInstruction
			derr         error
		)
		if name == "disassembleCopper" {
			instructions, derr = m.disasm.DisassembleCopper(addr, count)
		} else {
			instructions, derr = m.disasm.Disassemble(addr, 0, count)
		}
		if derr != nil {
			return nil, newProtocolError(codeDisassembleFailed, derr, "%s at %s", name, arch.Hex32(addr))
		}
		r := DisassemblyValue{BaseAddress: addr, Instructions: instructions}
		r.Handle = m.handles.create(r)
		return r, nil
	}
	return nil, newProtocolError(codeEvaluateFailed, nil, "unknown function %s", name)
}

// splitArgs splits an argument list at top-level commas, respecting
// nested parentheses. Unbalanced input is an error.
func splitArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var (
		args  []string
		depth int
		start int
	)
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	args = append(args, strings.TrimSpace(s[start:]))
	return args, nil
}
