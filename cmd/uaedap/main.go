// Copyright 2025 The UAE DAP Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The uaedap command speaks the Debug Adapter Protocol on behalf of a
// UAE emulator. It mediates between a DAP client (an editor or IDE)
// and the emulator's debug server, translating protocol requests into
// emulator operations and source-level terms.
//
// Run "uaedap help" for a list of commands.
package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/uaedap/uaedap/emulator"
	"github.com/uaedap/uaedap/emulator/client"
	"github.com/uaedap/uaedap/internal/dap"
	"github.com/uaedap/uaedap/internal/objfile"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:           "uaedap",
		Short:         "Debug Adapter Protocol server for UAE emulators",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		listen      string
		emulatorURL string
		trace       bool
	)
	serve := &cobra.Command{
		Use:   "serve",
		Short: "serve the Debug Adapter Protocol",
		Long: `Serve the Debug Adapter Protocol on stdin/stdout, or on a TCP
listener when --listen is given. The emulator to attach to comes from
the client's launch configuration; --emulator supplies the address used
when the configuration omits one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(listen, emulatorURL, trace)
		},
	}
	serve.Flags().StringVar(&listen, "listen", "", "serve DAP on this TCP address instead of stdio")
	serve.Flags().StringVar(&emulatorURL, "emulator", "tcp://localhost:2345", "default emulator debug server url")
	serve.Flags().BoolVar(&trace, "trace", false, "log full protocol diagnostics")
	root.AddCommand(serve)

	console := &cobra.Command{
		Use:   "console [program]",
		Short: "evaluate expressions against a live emulator",
		Long: `Connect to a running emulator and evaluate expressions
interactively. With a program argument, its debug information is loaded
so symbols resolve in expressions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program := ""
			if len(args) == 1 {
				program = args[0]
			}
			return runConsole(emulatorURL, program)
		},
	}
	console.Flags().StringVar(&emulatorURL, "emulator", "tcp://localhost:2345", "emulator debug server url")
	root.AddCommand(console)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the uaedap version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("uaedap version %s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "uaedap: %v\n", err)
		os.Exit(1)
	}
}

// dialFunc returns the session dial hook, substituting the default
// emulator address when the launch configuration leaves it empty.
func dialFunc(defaultURL string) dap.DialFunc {
	return func(url string) (emulator.Emulator, error) {
		if url == "" {
			url = defaultURL
		}
		return client.Dial(url)
	}
}

func runServe(listen, emulatorURL string, trace bool) error {
	if listen == "" {
		// Stdout carries the protocol; all logging goes to stderr.
		conn := &stdioConn{in: os.Stdin, out: os.Stdout}
		session := dap.NewSession(conn, dialFunc(emulatorURL), objfile.Load, os.Stderr)
		session.SetTrace(trace)
		return session.Run()
	}

	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %v", listen, err)
	}
	defer l.Close()
	fmt.Fprintf(os.Stderr, "uaedap: serving DAP on %s\n", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			return fmt.Errorf("accepting connection: %v", err)
		}
		go func(conn net.Conn) {
			fmt.Fprintf(os.Stderr, "uaedap: session from %s\n", conn.RemoteAddr())
			session := dap.NewSession(conn, dialFunc(emulatorURL), objfile.Load, os.Stderr)
			session.SetTrace(trace)
			if err := session.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "uaedap: session from %s: %v\n", conn.RemoteAddr(), err)
			}
		}(conn)
	}
}

// stdioConn joins stdin and stdout into the single connection the
// session expects.
type stdioConn struct {
	in  io.ReadCloser
	out io.WriteCloser
}

func (c *stdioConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *stdioConn) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c *stdioConn) Close() error {
	c.in.Close()
	return c.out.Close()
}
