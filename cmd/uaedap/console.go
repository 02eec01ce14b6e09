// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/emulator/client"
	"github.com/uaedap/uaedap/internal/dap"
	"github.com/uaedap/uaedap/internal/objfile"
	"github.com/uaedap/uaedap/internal/srcmap"
)

// runConsole connects to the emulator, optionally loads a program's
// debug information, and runs a read-eval-print loop.
func runConsole(emulatorURL, program string) error {
	emu, err := client.Dial(emulatorURL)
	if err != nil {
		return err
	}
	defer emu.Close()

	// The emulator announces its loaded segments on attach; symbol
	// relocation needs them before any expression runs.
	var segments []emulator.LoadSegment
attach:
	for ev := range emu.Events() {
		switch ev.Kind {
		case emulator.EventAttached:
			segments = ev.Segments
			break attach
		case emulator.EventOutput:
			fmt.Print(ev.Output)
		}
	}

	var src *srcmap.SourceMap
	if program != "" {
		src, err = objfile.Load(program, segments)
		if err != nil {
			return fmt.Errorf("loading %s: %v", program, err)
		}
	}
	console := dap.NewConsole(emu, src)

	// Keep draining notifications so the event pump never backs up.
	go func() {
		for ev := range emu.Events() {
			if ev.Kind == emulator.EventOutput {
				fmt.Print(ev.Output)
			}
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "(uaedap) ",
		AutoComplete: &symbolCompleter{console: console},
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		result, err := console.Evaluate(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(result)
	}
}

// symbolCompleter completes the identifier under the cursor from the
// program's symbol table.
type symbolCompleter struct {
	console *dap.Console
}

func (c *symbolCompleter) Do(line []rune, pos int) ([][]rune, int) {
	start := pos
	for start > 0 && isIdentRune(line[start-1]) {
		start--
	}
	prefix := string(line[start:pos])
	if prefix == "" {
		return nil, 0
	}
	var candidates [][]rune
	for _, name := range c.console.Complete(prefix) {
		candidates = append(candidates, []rune(name[len(prefix):]))
	}
	return candidates, pos - start
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '.' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
