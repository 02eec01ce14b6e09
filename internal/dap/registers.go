// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import (
	"strings"

	"github.com/uaedap/uaedap/emulator"
)

// dataRegisterNames and addressRegisterNames fix the display order of
// the CPU register scope.
var dataRegisterNames = []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7"}
var addressRegisterNames = []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7"}
var controlRegisterNames = []string{"pc", "sr", "usp", "ssp", "msp", "vbr"}

// isAddressRegisterName reports whether name denotes a register whose
// value is an address: a0-a7, pc, usp, msp, vbr (and ssp, the alias
// frame the emulator reports).
func isAddressRegisterName(name string) bool {
	switch strings.ToLower(name) {
	case "a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "pc", "usp", "ssp", "msp", "vbr":
		return true
	}
	return false
}

func isDataRegisterName(name string) bool {
	switch strings.ToLower(name) {
	case "d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7":
		return true
	}
	return false
}

// registerValue resolves a CPU register by name from a register
// snapshot.
func registerValue(info *emulator.CPUInfo, name string) (uint32, bool) {
	n := strings.ToLower(name)
	switch n {
	case "pc":
		return info.PC, true
	case "sr":
		return uint32(info.SR), true
	case "usp":
		return info.USP, true
	case "ssp", "sp":
		return info.SSP, true
	case "msp":
		return info.MSP, true
	case "vbr":
		return info.VBR, true
	}
	if len(n) == 2 && n[1] >= '0' && n[1] <= '7' {
		i := int(n[1] - '0')
		switch n[0] {
		case 'd':
			return info.D[i], true
		case 'a':
			return info.A[i], true
		}
	}
	return 0, false
}
