// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import (
	"github.com/uaedap/uaedap/arch"
	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/internal/srcmap"
)

// Console bundles an evaluator and a symbol table for interactive use
// outside a protocol session.
type Console struct {
	eval *EvaluateManager
	vars *VariablesManager
}

// NewConsole builds a standalone evaluator against a live emulator. A
// nil source map evaluates with an empty symbol table.
func NewConsole(emu emulator.Emulator, src *srcmap.SourceMap) *Console {
	if src == nil {
		src = srcmap.New(nil, nil, nil, "")
	}
	handles := newHandlesMap()
	disasm := NewDisassemblyManager(emu, src, &arch.M68K)
	return &Console{
		eval: NewEvaluateManager(emu, src, disasm, handles),
		vars: NewVariablesManager(emu, src, handles),
	}
}

// Evaluate runs one expression and returns its display form.
func (c *Console) Evaluate(expression string) (string, error) {
	result, err := c.eval.Evaluate(expression, nil)
	if err != nil {
		return "", err
	}
	return result.Display(), nil
}

// Complete returns the symbol names starting with prefix.
func (c *Console) Complete(prefix string) []string {
	return c.vars.CompleteSymbols(prefix)
}
