// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dap implements a Debug Adapter Protocol session against a
// running Amiga emulator. The session object wires client requests to
// the breakpoint, stack, disassembly, evaluate and variables managers,
// and emulator notifications back to DAP events.
package dap

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/google/go-dap"

	"github.com/uaedap/uaedap/arch"
	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/internal/srcmap"
)

// maxMemoryChunk bounds a single readMemory request.
const maxMemoryChunk = 4096

const threadID = 1

// launchConfig is the launch/attach request payload.
type launchConfig struct {
	// Program is the executable whose debug symbols are loaded.
	Program string `json:"program"`
	// Emulator is the debug server url (tcp:// or ws://).
	Emulator string `json:"emulator"`
	// StopOnEntry halts at the program entry instead of running.
	StopOnEntry bool `json:"stopOnEntry"`
	// Trace enables verbose diagnostics in error responses.
	Trace bool `json:"trace"`
}

// DialFunc connects to an emulator; LoadFunc builds the source map for
// a program once the loader has reported its segment addresses. Both
// are injection points for tests and for embedders with their own
// transports or symbol pipelines.
type DialFunc func(url string) (emulator.Emulator, error)
type LoadFunc func(program string, segments []emulator.LoadSegment) (*srcmap.SourceMap, error)

// Session is one DAP debug session. Sessions are single-threaded: one
// goroutine runs the event loop, alternating between client requests
// and emulator notifications, so manager state needs no locking. A
// collaborator that needs the live session (such as the memory viewer)
// is handed the *Session explicitly; there is no package-level current
// session.
type Session struct {
	conn io.ReadWriteCloser
	rd   *bufio.Reader

	dial DialFunc
	load LoadFunc
	logw io.Writer

	seq   int
	trace bool

	// linesStartAt1 mirrors the client's initialize arguments.
	linesStartAt1 bool

	arch *arch.Architecture
	emu  emulator.Emulator
	src  *srcmap.SourceMap

	handles     *handlesMap
	breakpoints *BreakpointManager
	stack       *StackManager
	disasm      *DisassemblyManager
	eval        *EvaluateManager
	vars        *VariablesManager

	stopOnEntry bool
	guesses     []StackGuess
}

// NewSession creates a session speaking DAP over conn. dial and load
// may be nil to use the defaults (the RPC client and objfile loading,
// wired up by the caller to avoid a dependency cycle).
func NewSession(conn io.ReadWriteCloser, dial DialFunc, load LoadFunc, logw io.Writer) *Session {
	if logw == nil {
		logw = os.Stderr
	}
	return &Session{
		conn:          conn,
		rd:            bufio.NewReader(conn),
		dial:          dial,
		load:          load,
		logw:          logw,
		linesStartAt1: true,
		arch:          &arch.M68K,
		handles:       newHandlesMap(),
	}
}

// SetTrace forces trace diagnostics on, independent of the launch
// configuration's trace setting.
func (s *Session) SetTrace(on bool) {
	if on {
		s.trace = true
	}
}

// Run drives the session until the client disconnects or the transport
// fails. Client requests and emulator notifications are serviced from
// one loop; a notification arriving while a request is outstanding is
// delivered in order and never corrupts the in-flight response.
func (s *Session) Run() error {
	requests := make(chan dap.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := dap.ReadProtocolMessage(s.rd)
			if err != nil {
				readErr <- err
				close(requests)
				return
			}
			requests <- msg
		}
	}()

	var events <-chan emulator.Event
	for {
		if s.emu != nil {
			events = s.emu.Events()
		}
		select {
		case msg, ok := <-requests:
			if !ok {
				err := <-readErr
				if err == io.EOF {
					return nil
				}
				return err
			}
			if done := s.dispatch(msg); done {
				return nil
			}
		case ev, ok := <-events:
			if !ok {
				// Emulator went away. The closed channel must not be
				// selected on again; it would never block.
				s.event(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
				s.emu = nil
				events = nil
				continue
			}
			s.handleEmulatorEvent(ev)
		}
	}
}

// dispatch routes one client message. It reports true when the session
// is over.
func (s *Session) dispatch(msg dap.Message) bool {
	switch request := msg.(type) {
	case *dap.InitializeRequest:
		s.onInitialize(request)
	case *dap.LaunchRequest:
		s.onLaunch(request.Request, request.Arguments)
	case *dap.AttachRequest:
		s.onLaunch(request.Request, request.Arguments)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDone(request)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpoints(request)
	case *dap.SetInstructionBreakpointsRequest:
		s.onSetInstructionBreakpoints(request)
	case *dap.SetFunctionBreakpointsRequest:
		s.onSetFunctionBreakpoints(request)
	case *dap.SetDataBreakpointsRequest:
		s.onSetDataBreakpoints(request)
	case *dap.SetExceptionBreakpointsRequest:
		s.onSetExceptionBreakpoints(request)
	case *dap.DataBreakpointInfoRequest:
		s.onDataBreakpointInfo(request)
	case *dap.ThreadsRequest:
		s.onThreads(request)
	case *dap.StackTraceRequest:
		s.onStackTrace(request)
	case *dap.ScopesRequest:
		s.onScopes(request)
	case *dap.VariablesRequest:
		s.onVariables(request)
	case *dap.SetVariableRequest:
		s.onSetVariable(request)
	case *dap.EvaluateRequest:
		s.onEvaluate(request)
	case *dap.CompletionsRequest:
		s.onCompletions(request)
	case *dap.ContinueRequest:
		s.onContinue(request)
	case *dap.NextRequest:
		s.onNext(request)
	case *dap.StepInRequest:
		s.onStepIn(request)
	case *dap.StepOutRequest:
		s.onStepOut(request)
	case *dap.StepBackRequest:
		s.onStepBack(request)
	case *dap.ReverseContinueRequest:
		s.onReverseContinue(request)
	case *dap.PauseRequest:
		s.onPause(request)
	case *dap.ReadMemoryRequest:
		s.onReadMemory(request)
	case *dap.WriteMemoryRequest:
		s.onWriteMemory(request)
	case *dap.DisassembleRequest:
		s.onDisassemble(request)
	case *dap.DisconnectRequest:
		s.onDisconnect(request)
		return true
	default:
		if req, ok := msg.(dap.RequestMessage); ok {
			s.sendError(*req.GetRequest(), newProtocolError(codeLaunchFailed, nil,
				"unsupported request %q", req.GetRequest().Command))
		}
	}
	return false
}

// --- outgoing message plumbing ---

func (s *Session) nextSeq() int {
	s.seq++
	return s.seq
}

func (s *Session) newResponse(request dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.nextSeq(), Type: "response"},
		Command:         request.Command,
		RequestSeq:      request.Seq,
		Success:         true,
	}
}

func (s *Session) newEvent(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.nextSeq(), Type: "event"},
		Event:           name,
	}
}

func (s *Session) send(msg dap.Message) {
	if err := dap.WriteProtocolMessage(s.conn, msg); err != nil {
		fmt.Fprintf(s.logw, "uaedap: write: %v\n", err)
	}
}

func (s *Session) event(msg dap.Message) { s.send(msg) }

// sendError converts an error into a DAP error response carrying the
// area code and, in trace mode, the full cause chain.
func (s *Session) sendError(request dap.Request, err error) {
	pe, ok := err.(*protocolError)
	if !ok {
		pe = newProtocolError(codeLaunchFailed, err, "request failed")
	}
	format := pe.message
	if pe.cause != nil {
		format = fmt.Sprintf("%s: %v", pe.message, pe.cause)
	}
	if s.trace {
		fmt.Fprintf(s.logw, "uaedap: %s: %+v\n", request.Command, err)
	}
	resp := s.newResponse(request)
	resp.Success = false
	resp.Message = pe.message
	s.send(&dap.ErrorResponse{
		Response: resp,
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{
				Id:       pe.code,
				Format:   format,
				ShowUser: true,
			},
		},
	})
}

func (s *Session) output(category, text string) {
	e := &dap.OutputEvent{Event: s.newEvent("output")}
	e.Body.Category = category
	e.Body.Output = text
	s.event(e)
}

// ready guards requests that need an attached session. Touching the
// managers before attach is a contract violation reported to the
// client, never a crash.
func (s *Session) ready() error {
	if s.emu == nil || s.src == nil {
		return newProtocolError(codeLaunchFailed, nil, "no program is being debugged")
	}
	return nil
}

func (s *Session) lineToClient(line int) int {
	if s.linesStartAt1 {
		return line
	}
	return line - 1
}

func (s *Session) lineFromClient(line int) int {
	if s.linesStartAt1 {
		return line
	}
	return line + 1
}

func (s *Session) source(p string) *dap.Source {
	return &dap.Source{Name: path.Base(srcmap.NormalizePath(p)), Path: p}
}

// --- session lifecycle ---

func (s *Session) onInitialize(request *dap.InitializeRequest) {
	s.linesStartAt1 = request.Arguments.LinesStartAt1

	response := &dap.InitializeResponse{Response: s.newResponse(request.Request)}
	response.Body = dap.Capabilities{
		SupportsConfigurationDoneRequest:  true,
		SupportsFunctionBreakpoints:       true,
		SupportsInstructionBreakpoints:    true,
		SupportsDataBreakpoints:           true,
		SupportsHitConditionalBreakpoints: true,
		SupportsEvaluateForHovers:         true,
		SupportsSetVariable:               true,
		SupportsDisassembleRequest:        true,
		SupportsReadMemoryRequest:         true,
		SupportsWriteMemoryRequest:        true,
		SupportsStepBack:                  true,
		SupportsCompletionsRequest:        true,
		ExceptionBreakpointFilters: []dap.ExceptionBreakpointsFilter{
			{Filter: "2", Label: "Bus error"},
			{Filter: "3", Label: "Address error"},
			{Filter: "4", Label: "Illegal instruction"},
			{Filter: "5", Label: "Division by zero"},
			{Filter: "8", Label: "Privilege violation"},
		},
	}
	s.send(response)
}

func (s *Session) onLaunch(request dap.Request, rawArgs json.RawMessage) {
	var cfg launchConfig
	if err := json.Unmarshal(rawArgs, &cfg); err != nil {
		s.sendError(request, newProtocolError(codeLaunchFailed, err, "malformed launch arguments"))
		return
	}
	s.trace = s.trace || cfg.Trace
	s.stopOnEntry = cfg.StopOnEntry

	emu, err := s.dial(cfg.Emulator)
	if err != nil {
		s.sendError(request, newProtocolError(codeAttachFailed, err, "cannot reach emulator"))
		return
	}

	// The emulator reports the loader's segment addresses in its
	// attached notification; everything else waits on that. Output
	// arriving first is forwarded rather than dropped.
	var segments []emulator.LoadSegment
	attached := false
	for ev := range emu.Events() {
		if ev.Kind == emulator.EventAttached {
			segments = ev.Segments
			attached = true
			break
		}
		if ev.Kind == emulator.EventOutput {
			s.output("stdout", ev.Output)
		}
	}
	if !attached {
		emu.Close()
		s.sendError(request, newProtocolError(codeAttachFailed, nil, "emulator closed the connection before attach"))
		return
	}

	src, err := s.load(cfg.Program, segments)
	if err != nil {
		// No usable debug symbols is fatal for the session: emit a
		// diagnostic, terminate, and fail the request.
		s.output("console", fmt.Sprintf("cannot load debug information for %s: %v\n", cfg.Program, err))
		emu.Close()
		s.event(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
		s.sendError(request, newProtocolError(codeNoDebugInfo, err, "cannot load debug information"))
		return
	}

	s.emu = emu
	s.src = src
	s.breakpoints = NewBreakpointManager(emu, src)
	s.stack = NewStackManager(emu, src, s.arch)
	s.disasm = NewDisassemblyManager(emu, src, s.arch)
	s.eval = NewEvaluateManager(emu, src, s.disasm, s.handles)
	s.vars = NewVariablesManager(emu, src, s.handles)

	s.send(&dap.LaunchResponse{Response: s.newResponse(request)})
	s.event(&dap.InitializedEvent{Event: s.newEvent("initialized")})
}

func (s *Session) onConfigurationDone(request *dap.ConfigurationDoneRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	s.send(&dap.ConfigurationDoneResponse{Response: s.newResponse(request.Request)})
	if s.stopOnEntry {
		s.sendStopped("entry", nil)
		return
	}
	if err := s.emu.Run(); err != nil {
		s.output("console", fmt.Sprintf("cannot start execution: %v\n", err))
	}
}

func (s *Session) onDisconnect(request *dap.DisconnectRequest) {
	if s.breakpoints != nil {
		// Leave the emulator clean: every breakpoint of every kind
		// goes, at the emulator layer, not just locally.
		if err := s.breakpoints.ClearAll(); err != nil {
			fmt.Fprintf(s.logw, "uaedap: clearing breakpoints: %v\n", err)
		}
	}
	if s.emu != nil {
		s.emu.Close()
		s.emu = nil
	}
	s.send(&dap.DisconnectResponse{Response: s.newResponse(request.Request)})
}

// --- emulator notifications ---

func (s *Session) handleEmulatorEvent(ev emulator.Event) {
	switch ev.Kind {
	case emulator.EventOutput:
		s.output("stdout", ev.Output)
	case emulator.EventStateChanged:
		switch ev.State {
		case emulator.StateRunning:
			e := &dap.ContinuedEvent{Event: s.newEvent("continued")}
			e.Body.ThreadId = threadID
			e.Body.AllThreadsContinued = true
			s.event(e)
		case emulator.StatePaused, emulator.StateStopped:
			s.handleStop(ev.Stop)
		}
	}
}

func (s *Session) handleStop(stop *emulator.StopInfo) {
	// A halt invalidates every expansion handle from the previous
	// stop; references grow monotonically so stale ones cannot alias.
	s.handles.reset()
	s.guesses = nil

	if stop == nil {
		s.sendStopped("pause", nil)
		return
	}
	switch stop.Kind {
	case emulator.StopStep:
		s.sendStopped("step", nil)
	case emulator.StopPause:
		s.sendStopped("pause", nil)
	default:
		c := s.breakpoints.HandleBreakpointStop(*stop)
		s.sendStopped(c.Reason, c.HitIDs)
	}
}

func (s *Session) sendStopped(reason string, hitIDs []int) {
	e := &dap.StoppedEvent{Event: s.newEvent("stopped")}
	e.Body.Reason = reason
	e.Body.ThreadId = threadID
	e.Body.AllThreadsStopped = true
	e.Body.HitBreakpointIds = hitIDs
	s.event(e)
}

// --- breakpoints ---

func hitCount(condition string) int {
	if condition == "" {
		return 0
	}
	n, err := strconv.Atoi(condition)
	if err != nil {
		return 0
	}
	return n
}

func (s *Session) toClientBreakpoint(r BreakpointResult) dap.Breakpoint {
	b := dap.Breakpoint{
		Id:       r.ID,
		Verified: r.Verified,
		Message:  r.Message,
	}
	if r.Verified {
		b.InstructionReference = arch.Hex32(r.Address)
	}
	if r.Path != "" {
		b.Source = s.source(r.Path)
		b.Line = s.lineToClient(r.Line)
	}
	return b
}

func (s *Session) onSetBreakpoints(request *dap.SetBreakpointsRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	args := request.Arguments
	specs := make([]SourceBreakpointSpec, len(args.Breakpoints))
	for i, bp := range args.Breakpoints {
		specs[i] = SourceBreakpointSpec{
			Line:     s.lineFromClient(bp.Line),
			HitCount: hitCount(bp.HitCondition),
		}
	}
	results, err := s.breakpoints.SetSourceBreakpoints(args.Source.Path, specs)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeBreakpointsFailed, err, "cannot set breakpoints"))
		return
	}
	response := &dap.SetBreakpointsResponse{Response: s.newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(results))
	for i, r := range results {
		response.Body.Breakpoints[i] = s.toClientBreakpoint(r)
	}
	s.send(response)
}

func (s *Session) onSetInstructionBreakpoints(request *dap.SetInstructionBreakpointsRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	specs := make([]InstructionBreakpointSpec, len(request.Arguments.Breakpoints))
	for i, bp := range request.Arguments.Breakpoints {
		specs[i] = InstructionBreakpointSpec{
			Reference: bp.InstructionReference,
			Offset:    bp.Offset,
			HitCount:  hitCount(bp.HitCondition),
		}
	}
	results, err := s.breakpoints.SetInstructionBreakpoints(specs)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeBreakpointsFailed, err, "cannot set instruction breakpoints"))
		return
	}
	response := &dap.SetInstructionBreakpointsResponse{Response: s.newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(results))
	for i, r := range results {
		response.Body.Breakpoints[i] = s.toClientBreakpoint(r)
	}
	s.send(response)
}

func (s *Session) onSetFunctionBreakpoints(request *dap.SetFunctionBreakpointsRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	specs := make([]FunctionBreakpointSpec, len(request.Arguments.Breakpoints))
	for i, bp := range request.Arguments.Breakpoints {
		specs[i] = FunctionBreakpointSpec{
			Name:     bp.Name,
			HitCount: hitCount(bp.HitCondition),
		}
	}
	results, err := s.breakpoints.SetFunctionBreakpoints(specs)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeBreakpointsFailed, err, "cannot set function breakpoints"))
		return
	}
	response := &dap.SetFunctionBreakpointsResponse{Response: s.newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(results))
	for i, r := range results {
		response.Body.Breakpoints[i] = s.toClientBreakpoint(r)
	}
	s.send(response)
}

func (s *Session) onSetDataBreakpoints(request *dap.SetDataBreakpointsRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	specs := make([]DataBreakpointSpec, len(request.Arguments.Breakpoints))
	for i, bp := range request.Arguments.Breakpoints {
		specs[i] = DataBreakpointSpec{
			DataID:   bp.DataId,
			HitCount: hitCount(bp.HitCondition),
		}
	}
	results, err := s.breakpoints.SetDataBreakpoints(specs)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeBreakpointsFailed, err, "cannot set data breakpoints"))
		return
	}
	response := &dap.SetDataBreakpointsResponse{Response: s.newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(results))
	for i, r := range results {
		response.Body.Breakpoints[i] = s.toClientBreakpoint(r)
	}
	s.send(response)
}

func (s *Session) onSetExceptionBreakpoints(request *dap.SetExceptionBreakpointsRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	var specs []ExceptionBreakpointSpec
	for _, filter := range request.Arguments.Filters {
		vector, err := strconv.ParseUint(filter, 0, 32)
		if err != nil {
			continue
		}
		specs = append(specs, ExceptionBreakpointSpec{Vector: uint32(vector)})
	}
	results, err := s.breakpoints.SetExceptionBreakpoints(specs)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeBreakpointsFailed, err, "cannot set catchpoints"))
		return
	}
	response := &dap.SetExceptionBreakpointsResponse{Response: s.newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(results))
	for i, r := range results {
		response.Body.Breakpoints[i] = dap.Breakpoint{Id: r.ID, Verified: r.Verified, Message: r.Message}
	}
	s.send(response)
}

func (s *Session) onDataBreakpointInfo(request *dap.DataBreakpointInfoRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	name := request.Arguments.Name
	response := &dap.DataBreakpointInfoResponse{Response: s.newResponse(request.Request)}
	if _, ok := s.src.SymbolAddress(name); ok {
		response.Body.DataId = "symbols:" + name
		response.Body.Description = fmt.Sprintf("watch %s", name)
	} else if isAddressRegisterName(name) || isDataRegisterName(name) {
		response.Body.DataId = "registers:" + name
		response.Body.Description = fmt.Sprintf("watch the address in %s", name)
	} else {
		response.Body.Description = fmt.Sprintf("cannot watch %q", name)
	}
	s.send(response)
}

// --- inspection ---

func (s *Session) onThreads(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{Response: s.newResponse(request.Request)}
	response.Body.Threads = []dap.Thread{{Id: threadID, Name: "cpu"}}
	s.send(response)
}

func (s *Session) onStackTrace(request *dap.StackTraceRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	args := request.Arguments
	levels := args.Levels
	if levels <= 0 {
		levels = 16
	}
	guesses, err := s.stack.GuessStack(args.StartFrame + levels)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeStackFailed, err, "cannot read the stack"))
		return
	}
	s.guesses = guesses

	frames := s.stack.StackFrames(guesses, args.StartFrame, levels)
	response := &dap.StackTraceResponse{Response: s.newResponse(request.Request)}
	response.Body.StackFrames = make([]dap.StackFrame, len(frames))
	for i, f := range frames {
		sf := dap.StackFrame{
			Id:                          f.ID,
			Name:                        f.Name,
			InstructionPointerReference: arch.Hex32(f.Address),
		}
		if f.HasSource {
			sf.Source = s.source(f.Path)
			sf.Line = s.lineToClient(f.Line)
		}
		response.Body.StackFrames[i] = sf
	}
	response.Body.TotalFrames = len(guesses)
	s.send(response)
}

func (s *Session) onScopes(request *dap.ScopesRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	scopes := s.vars.Scopes()
	response := &dap.ScopesResponse{Response: s.newResponse(request.Request)}
	response.Body.Scopes = make([]dap.Scope, len(scopes))
	for i, sc := range scopes {
		response.Body.Scopes[i] = dap.Scope{
			Name:               sc.Name,
			VariablesReference: sc.Reference,
		}
	}
	s.send(response)
}

func (s *Session) onVariables(request *dap.VariablesRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	vars, err := s.vars.Variables(request.Arguments.VariablesReference)
	if err != nil {
		s.sendError(request.Request, err)
		return
	}
	response := &dap.VariablesResponse{Response: s.newResponse(request.Request)}
	response.Body.Variables = make([]dap.Variable, len(vars))
	for i, v := range vars {
		response.Body.Variables[i] = dap.Variable{
			Name:               v.Name,
			Value:              v.Value,
			Type:               v.Type,
			VariablesReference: v.Reference,
			MemoryReference:    v.MemoryReference,
		}
	}
	s.send(response)
}

func (s *Session) onSetVariable(request *dap.SetVariableRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	args := request.Arguments
	v, err := s.vars.SetVariable(args.VariablesReference, args.Name, args.Value)
	if err != nil {
		s.sendError(request.Request, err)
		return
	}
	response := &dap.SetVariableResponse{Response: s.newResponse(request.Request)}
	response.Body.Value = v.Value
	response.Body.Type = v.Type
	s.send(response)
}

func (s *Session) onEvaluate(request *dap.EvaluateRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	var hint *SizeHint
	if request.Arguments.Context == "hover" {
		hint = s.hoverHint()
	}
	result, err := s.eval.Evaluate(request.Arguments.Expression, hint)
	if err != nil {
		s.sendError(request.Request, err)
		return
	}
	response := &dap.EvaluateResponse{Response: s.newResponse(request.Request)}
	response.Body.Result = result.Display()
	response.Body.Type = result.Kind()
	switch v := result.(type) {
	case SymbolValue:
		response.Body.MemoryReference = arch.Hex32(v.Address)
	case RegisterValue:
		if v.IsAddress {
			response.Body.MemoryReference = arch.Hex32(v.Value)
		}
	case CustomRegisterValue:
		response.Body.MemoryReference = arch.Hex32(v.Address)
	case ArrayValue:
		response.Body.MemoryReference = arch.Hex32(v.BaseAddress)
		response.Body.VariablesReference = v.Handle
		response.Body.IndexedVariables = len(v.Values)
	case DisassemblyValue:
		response.Body.MemoryReference = arch.Hex32(v.BaseAddress)
		response.Body.VariablesReference = v.Handle
		response.Body.IndexedVariables = len(v.Instructions)
	}
	s.send(response)
}

// hoverHint derives a display width and signedness for hover
// evaluation from the instruction under the program counter, so a
// hover over d0 in "move.w d0,(a0)" reads as a word. Probe failures
// fall back to the default 32-bit display.
func (s *Session) hoverHint() *SizeHint {
	cpu, err := s.emu.GetCPUInfo()
	if err != nil {
		return nil
	}
	instructions, err := s.emu.Disassemble(cpu.PC, 1)
	if err != nil || len(instructions) == 0 {
		return nil
	}
	return instructionSizeHint(instructions[0].Instruction)
}

// unsignedMnemonics are operations whose operands read as unsigned;
// everything else with a size suffix hovers as signed, matching how
// 68k arithmetic treats data registers.
var unsignedMnemonics = map[string]bool{
	"mulu": true, "divu": true, "lsr": true, "lsl": true,
	"and": true, "andi": true, "or": true, "ori": true,
	"eor": true, "eori": true, "not": true,
	"rol": true, "ror": true, "roxl": true, "roxr": true,
}

// instructionSizeHint parses the mnemonic's .b/.w/.l size suffix.
// Instructions without one carry no hint.
func instructionSizeHint(text string) *SizeHint {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	mnemonic := strings.ToLower(fields[0])
	dot := strings.IndexByte(mnemonic, '.')
	if dot < 0 {
		return nil
	}
	hint := &SizeHint{Signed: !unsignedMnemonics[mnemonic[:dot]]}
	switch mnemonic[dot+1:] {
	case "b":
		hint.Bytes = 1
	case "w":
		hint.Bytes = 2
	case "l":
		hint.Bytes = 4
	default:
		return nil
	}
	return hint
}

// onCompletions offers symbol names matching the last identifier of
// the typed text, for the debug console.
func (s *Session) onCompletions(request *dap.CompletionsRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	text := request.Arguments.Text
	start := len(text)
	for start > 0 && isIdentifierByte(text[start-1]) {
		start--
	}
	prefix := text[start:]
	response := &dap.CompletionsResponse{Response: s.newResponse(request.Request)}
	if prefix != "" {
		for _, name := range s.vars.CompleteSymbols(prefix) {
			response.Body.Targets = append(response.Body.Targets, dap.CompletionItem{
				Label: name,
				Type:  "variable",
			})
		}
	}
	s.send(response)
}

func isIdentifierByte(c byte) bool {
	return c == '_' || c == '.' ||
		'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

// --- execution control ---

func (s *Session) onContinue(request *dap.ContinueRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	if err := s.emu.Run(); err != nil {
		s.sendError(request.Request, newProtocolError(codeContinueFailed, err, "cannot continue"))
		return
	}
	response := &dap.ContinueResponse{Response: s.newResponse(request.Request)}
	response.Body.AllThreadsContinued = true
	s.send(response)
}

func (s *Session) onPause(request *dap.PauseRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	if err := s.emu.Pause(); err != nil {
		s.sendError(request.Request, newProtocolError(codePauseFailed, err, "cannot pause"))
		return
	}
	s.send(&dap.PauseResponse{Response: s.newResponse(request.Request)})
}

func (s *Session) onStepIn(request *dap.StepInRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	if err := s.emu.StepInto(); err != nil {
		s.sendError(request.Request, newProtocolError(codeStepFailed, err, "cannot step"))
		return
	}
	s.send(&dap.StepInResponse{Response: s.newResponse(request.Request)})
}

// onNext steps over a call: when the current instruction is a jsr/bsr
// a temporary breakpoint goes on the following instruction and the
// program runs to it; otherwise it is a plain step. Probe failures
// degrade to a plain step rather than hang the request.
func (s *Session) onNext(request *dap.NextRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	if err := s.stepOver(); err != nil {
		s.sendError(request.Request, newProtocolError(codeStepFailed, err, "cannot step over"))
		return
	}
	s.send(&dap.NextResponse{Response: s.newResponse(request.Request)})
}

func (s *Session) stepOver() error {
	info, err := s.emu.GetCPUInfo()
	if err != nil {
		// The CPU probe failed; a plain step still makes progress.
		return s.emu.StepInto()
	}
	instructions, err := s.emu.Disassemble(info.PC, 2)
	if err != nil || len(instructions) < 2 {
		return s.emu.StepInto()
	}
	first := instructions[0]
	if len(first.Bytes) < 2 || !arch.IsCallOpcode(s.arch.Word(first.Bytes)) {
		return s.emu.StepInto()
	}
	if err := s.breakpoints.AddTemporary(instructions[1].Address, "step"); err != nil {
		return err
	}
	return s.emu.Run()
}

// onStepOut runs to the return address of the current frame, guessed
// from stack memory.
func (s *Session) onStepOut(request *dap.StepOutRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	guesses, err := s.stack.GuessStack(2)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeStepFailed, err, "cannot step out"))
		return
	}
	if len(guesses) < 2 {
		s.sendError(request.Request, newProtocolError(codeStepFailed, nil, "no caller frame found"))
		return
	}
	if err := s.breakpoints.AddTemporary(guesses[1][1], "step"); err != nil {
		s.sendError(request.Request, newProtocolError(codeStepFailed, err, "cannot step out"))
		return
	}
	if err := s.emu.Run(); err != nil {
		s.sendError(request.Request, newProtocolError(codeStepFailed, err, "cannot step out"))
		return
	}
	s.send(&dap.StepOutResponse{Response: s.newResponse(request.Request)})
}

func (s *Session) onStepBack(request *dap.StepBackRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	if err := s.emu.StepBack(); err != nil {
		s.sendError(request.Request, newProtocolError(codeStepFailed, err, "cannot step back"))
		return
	}
	s.send(&dap.StepBackResponse{Response: s.newResponse(request.Request)})
}

func (s *Session) onReverseContinue(request *dap.ReverseContinueRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	if err := s.emu.ContinueReverse(); err != nil {
		s.sendError(request.Request, newProtocolError(codeContinueFailed, err, "cannot run in reverse"))
		return
	}
	s.send(&dap.ReverseContinueResponse{Response: s.newResponse(request.Request)})
}

// --- memory and disassembly ---

func (s *Session) onReadMemory(request *dap.ReadMemoryRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	args := request.Arguments
	base, err := parseAddress(args.MemoryReference)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeMemoryReadFailed, err, "bad memory reference"))
		return
	}
	addr := uint32(int64(base) + int64(args.Offset))
	count := args.Count
	if count > maxMemoryChunk {
		count = maxMemoryChunk
	}
	response := &dap.ReadMemoryResponse{Response: s.newResponse(request.Request)}
	response.Body.Address = arch.Hex32(addr)
	if count > 0 {
		data, err := s.emu.ReadMemory(addr, count)
		if err != nil {
			s.sendError(request.Request, newProtocolError(codeMemoryReadFailed, err, "cannot read %d bytes at %s", count, arch.Hex32(addr)))
			return
		}
		response.Body.Data = base64.StdEncoding.EncodeToString(data)
		response.Body.UnreadableBytes = count - len(data)
	}
	s.send(response)
}

func (s *Session) onWriteMemory(request *dap.WriteMemoryRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	args := request.Arguments
	base, err := parseAddress(args.MemoryReference)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeMemoryWriteFailed, err, "bad memory reference"))
		return
	}
	data, err := base64.StdEncoding.DecodeString(args.Data)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeMemoryWriteFailed, err, "bad memory data"))
		return
	}
	addr := uint32(int64(base) + int64(args.Offset))
	if err := s.emu.WriteMemory(addr, data); err != nil {
		s.sendError(request.Request, newProtocolError(codeMemoryWriteFailed, err, "cannot write %d bytes at %s", len(data), arch.Hex32(addr)))
		return
	}
	response := &dap.WriteMemoryResponse{Response: s.newResponse(request.Request)}
	response.Body.BytesWritten = len(data)
	s.send(response)
}

func (s *Session) onDisassemble(request *dap.DisassembleRequest) {
	if err := s.ready(); err != nil {
		s.sendError(request.Request, err)
		return
	}
	args := request.Arguments
	base, err := parseAddress(args.MemoryReference)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeDisassembleFailed, err, "bad memory reference"))
		return
	}
	addr := uint32(int64(base) + int64(args.Offset))
	instructions, err := s.disasm.Disassemble(addr, args.InstructionOffset, args.InstructionCount)
	if err != nil {
		s.sendError(request.Request, newProtocolError(codeDisassembleFailed, err, "cannot disassemble at %s", arch.Hex32(addr)))
		return
	}

	response := &dap.DisassembleResponse{Response: s.newResponse(request.Request)}
	response.Body.Instructions = make([]dap.DisassembledInstruction, len(instructions))
	lastPath := ""
	for i, inst := range instructions {
		di := dap.DisassembledInstruction{
			Address:          arch.Hex32(inst.Address),
			Instruction:      inst.Instruction,
			InstructionBytes: formatInstructionBytes(inst.Bytes),
			Symbol:           inst.Symbol,
		}
		if inst.HasSource {
			// Location only on file changes, per protocol convention.
			if inst.Path != lastPath {
				di.Location = s.source(inst.Path)
				lastPath = inst.Path
			}
			di.Line = s.lineToClient(inst.Line)
		}
		response.Body.Instructions[i] = di
	}
	s.send(response)
}
