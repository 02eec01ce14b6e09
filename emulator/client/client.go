// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client provides remote access to an emulator debug server.
package client

import (
	"fmt"
	"io"
	"net"
	"net/rpc"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/emulator/emurpc"
)

var _ emulator.Emulator = (*Emulator)(nil)

// Emulator implements the emulator.Emulator interface over an RPC
// connection to the emulator's debug server.
type Emulator struct {
	client *rpc.Client
	events chan emulator.Event
}

// Dial connects to the emulator debug server named by rawurl. Two
// schemes are supported: tcp://host:port for a raw socket and
// ws://host:port/path for a WebSocket carrying the same stream. The
// event pump starts immediately; consume Events or notifications will
// back up in the transport.
func Dial(rawurl string) (*Emulator, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("emulator url %q: %v", rawurl, err)
	}
	var conn io.ReadWriteCloser
	switch u.Scheme {
	case "tcp":
		conn, err = net.Dial("tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("connecting to emulator at %s: %v", u.Host, err)
		}
	case "ws", "wss":
		wsConn, _, err := websocket.DefaultDialer.Dial(rawurl, nil)
		if err != nil {
			return nil, fmt.Errorf("connecting to emulator at %s: %v", rawurl, err)
		}
		conn = &wsStream{conn: wsConn}
	default:
		return nil, fmt.Errorf("emulator url %q: unsupported scheme %q", rawurl, u.Scheme)
	}
	return New(conn), nil
}

// New wraps an established connection. Ownership of conn passes to the
// returned Emulator.
func New(conn io.ReadWriteCloser) *Emulator {
	e := &Emulator{
		client: rpc.NewClient(conn),
		events: make(chan emulator.Event, 16),
	}
	go e.pumpEvents()
	return e
}

// pumpEvents long-polls the server for notifications. net/rpc
// multiplexes concurrent calls over the one connection, so a pending
// NextEvent never blocks ordinary requests.
func (e *Emulator) pumpEvents() {
	defer close(e.events)
	for {
		var resp emurpc.NextEventResponse
		if err := e.client.Call("Emulator.NextEvent", &emurpc.NextEventRequest{}, &resp); err != nil {
			return
		}
		e.events <- resp.Event
	}
}

// Events returns the notification stream. The channel closes when the
// connection goes away.
func (e *Emulator) Events() <-chan emulator.Event {
	return e.events
}

// Close tears down the connection. Pending calls fail with
// rpc.ErrShutdown.
func (e *Emulator) Close() error {
	return e.client.Close()
}

func (e *Emulator) GetCPUInfo() (emulator.CPUInfo, error) {
	var resp emurpc.GetCPUInfoResponse
	err := e.client.Call("Emulator.GetCPUInfo", &emurpc.GetCPUInfoRequest{}, &resp)
	return resp.Info, err
}

func (e *Emulator) GetAllCustomRegisters() ([]emulator.CustomRegister, error) {
	var resp emurpc.GetAllCustomRegistersResponse
	err := e.client.Call("Emulator.GetAllCustomRegisters", &emurpc.GetAllCustomRegistersRequest{}, &resp)
	return resp.Registers, err
}

func (e *Emulator) peek(addr uint32, size int) (uint32, error) {
	var resp emurpc.PeekResponse
	err := e.client.Call("Emulator.Peek", &emurpc.PeekRequest{Address: addr, Size: size}, &resp)
	return resp.Value, err
}

func (e *Emulator) Peek8(addr uint32) (uint8, error) {
	v, err := e.peek(addr, 1)
	return uint8(v), err
}

func (e *Emulator) Peek16(addr uint32) (uint16, error) {
	v, err := e.peek(addr, 2)
	return uint16(v), err
}

func (e *Emulator) Peek32(addr uint32) (uint32, error) {
	return e.peek(addr, 4)
}

func (e *Emulator) poke(addr uint32, size int, v uint32) error {
	var resp emurpc.PokeResponse
	return e.client.Call("Emulator.Poke", &emurpc.PokeRequest{Address: addr, Size: size, Value: v}, &resp)
}

func (e *Emulator) Poke8(addr uint32, v uint8) error   { return e.poke(addr, 1, uint32(v)) }
func (e *Emulator) Poke16(addr uint32, v uint16) error { return e.poke(addr, 2, uint32(v)) }
func (e *Emulator) Poke32(addr uint32, v uint32) error { return e.poke(addr, 4, v) }

func (e *Emulator) ReadMemory(addr uint32, length int) ([]byte, error) {
	var resp emurpc.ReadMemoryResponse
	err := e.client.Call("Emulator.ReadMemory", &emurpc.ReadMemoryRequest{Address: addr, Length: length}, &resp)
	return resp.Data, err
}

func (e *Emulator) WriteMemory(addr uint32, data []byte) error {
	var resp emurpc.WriteMemoryResponse
	return e.client.Call("Emulator.WriteMemory", &emurpc.WriteMemoryRequest{Address: addr, Data: data}, &resp)
}

func (e *Emulator) IsValidAddress(addr uint32) (bool, error) {
	var resp emurpc.IsValidAddressResponse
	err := e.client.Call("Emulator.IsValidAddress", &emurpc.IsValidAddressRequest{Address: addr}, &resp)
	return resp.Valid, err
}

func (e *Emulator) disassemble(addr uint32, count int, copper bool) ([]emulator.Instruction, error) {
	var resp emurpc.DisassembleResponse
	req := &emurpc.DisassembleRequest{Address: addr, Count: count, Copper: copper}
	err := e.client.Call("Emulator.Disassemble", req, &resp)
	return resp.Instructions, err
}

func (e *Emulator) Disassemble(addr uint32, count int) ([]emulator.Instruction, error) {
	return e.disassemble(addr, count, false)
}

func (e *Emulator) DisassembleCopper(addr uint32, count int) ([]emulator.Instruction, error) {
	return e.disassemble(addr, count, true)
}

func (e *Emulator) SetBreakpoint(addr uint32, ignoreCount int) error {
	var resp emurpc.SetBreakpointResponse
	return e.client.Call("Emulator.SetBreakpoint", &emurpc.SetBreakpointRequest{Address: addr, IgnoreCount: ignoreCount}, &resp)
}

func (e *Emulator) RemoveBreakpoint(addr uint32) error {
	var resp emurpc.RemoveBreakpointResponse
	return e.client.Call("Emulator.RemoveBreakpoint", &emurpc.RemoveBreakpointRequest{Address: addr}, &resp)
}

func (e *Emulator) SetWatchpoint(addr uint32, ignoreCount int) error {
	var resp emurpc.SetWatchpointResponse
	return e.client.Call("Emulator.SetWatchpoint", &emurpc.SetWatchpointRequest{Address: addr, IgnoreCount: ignoreCount}, &resp)
}

func (e *Emulator) RemoveWatchpoint(addr uint32) error {
	var resp emurpc.RemoveWatchpointResponse
	return e.client.Call("Emulator.RemoveWatchpoint", &emurpc.RemoveWatchpointRequest{Address: addr}, &resp)
}

func (e *Emulator) SetCatchpoint(vector uint32, ignoreCount int) error {
	var resp emurpc.SetCatchpointResponse
	return e.client.Call("Emulator.SetCatchpoint", &emurpc.SetCatchpointRequest{Vector: vector, IgnoreCount: ignoreCount}, &resp)
}

func (e *Emulator) RemoveCatchpoint(vector uint32) error {
	var resp emurpc.RemoveCatchpointResponse
	return e.client.Call("Emulator.RemoveCatchpoint", &emurpc.RemoveCatchpointRequest{Vector: vector}, &resp)
}

func (e *Emulator) Run() error {
	var resp emurpc.RunResponse
	return e.client.Call("Emulator.Run", &emurpc.RunRequest{}, &resp)
}

func (e *Emulator) Pause() error {
	var resp emurpc.PauseResponse
	return e.client.Call("Emulator.Pause", &emurpc.PauseRequest{}, &resp)
}

func (e *Emulator) StepInto() error {
	var resp emurpc.StepIntoResponse
	return e.client.Call("Emulator.StepInto", &emurpc.StepIntoRequest{}, &resp)
}

func (e *Emulator) StepBack() error {
	var resp emurpc.StepBackResponse
	return e.client.Call("Emulator.StepBack", &emurpc.StepBackRequest{}, &resp)
}

func (e *Emulator) ContinueReverse() error {
	var resp emurpc.ContinueReverseResponse
	return e.client.Call("Emulator.ContinueReverse", &emurpc.ContinueReverseRequest{}, &resp)
}

// wsStream adapts a WebSocket connection to the byte stream net/rpc
// expects. Writes become one binary message each; reads drain messages
// in order.
type wsStream struct {
	conn *websocket.Conn
	r    io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
