package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"fieldvm/internal/bytecode"
	"fieldvm/internal/compiler"
	"fieldvm/internal/examples"
	"fieldvm/internal/heap"
)

func runCompile(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	program := fs.String("program", "", "built-in program to compile")
	out := fs.String("out", "", "output bytecode file (CBOR)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *out == "" {
		fmt.Fprintln(stderr, "error: -out is required")
		fs.Usage()
		return 2
	}

	prog, ok := examples.Lookup(*program)
	if !ok || prog.Body == nil {
		fmt.Fprintf(stderr, "error: unknown -program %q (have: %v)\n", *program, examples.Names())
		return 2
	}

	log := newLogger(stderr)
	h := heap.New(log)
	table := &bytecode.Table{}
	if _, err := compiler.Compile(h, table, prog.Body); err != nil {
		fmt.Fprintln(stderr, "compile error:", err)
		return 1
	}

	data, err := table.MarshalCBOR()
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	log.Warn().Msg("a reloaded table's string constants are not re-interned into a fresh heap, and any prove{} body is dropped; only re-run against the heap that compiled it, or recompile from source")
	fmt.Fprintf(stdout, "wrote %s (%d bytes, %d prototypes)\n", *out, len(data), len(table.Prototypes))
	return 0
}
