// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

const startHandle = 1000

// handlesMap maps expandable results (variable nodes, memory blocks,
// disassembly listings) to unique sequential ids handed to the client
// as variablesReference values. Ids grow monotonically and the whole
// arena is reset when execution resumes, so a stale reference from
// before a resume can never alias a new result.
// Based on the handle map of the vscode debugadapter libraries.
type handlesMap struct {
	nextHandle  int
	handleToVal map[int]interface{}
}

func newHandlesMap() *handlesMap {
	return &handlesMap{startHandle, make(map[int]interface{})}
}

// reset drops every live handle. The counter keeps growing so a stale
// reference from before a reset never resolves to a new value.
func (hs *handlesMap) reset() {
	hs.handleToVal = make(map[int]interface{})
}

func (hs *handlesMap) create(value interface{}) int {
	next := hs.nextHandle
	hs.nextHandle++
	hs.handleToVal[next] = value
	return next
}

func (hs *handlesMap) get(handle int) (interface{}, bool) {
	v, ok := hs.handleToVal[handle]
	return v, ok
}
