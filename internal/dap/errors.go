// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dap

import "fmt"

// Error codes carried in DAP error responses, grouped by area:
// 2000s launch/attach, 3000s execution control, 4000s variables and
// evaluation, 5000s memory, 6000s breakpoints.
const (
	codeLaunchFailed     = 2001
	codeAttachFailed     = 2002
	codeNoDebugInfo      = 2003
	codeDisconnectFailed = 2004

	codeStepFailed     = 3001
	codeContinueFailed = 3002
	codePauseFailed    = 3003
	codeStackFailed    = 3004

	codeVariablesFailed = 4001
	codeEvaluateFailed  = 4002
	codeSetVarFailed    = 4003

	codeMemoryReadFailed  = 5001
	codeMemoryWriteFailed = 5002
	codeDisassembleFailed = 5003

	codeBreakpointsFailed = 6001
)

// protocolError pairs an area code with a human-readable message and
// the underlying cause, if any. Request handlers convert it into a DAP
// error response; the cause is appended to the message, with the stack
// detail only shown when trace mode is on.
type protocolError struct {
	code    int
	message string
	cause   error
}

func (e *protocolError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *protocolError) Unwrap() error { return e.cause }

func newProtocolError(code int, cause error, format string, args ...interface{}) *protocolError {
	return &protocolError{code: code, message: fmt.Sprintf(format, args...), cause: cause}
}
