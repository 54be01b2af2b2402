package main

import (
	"flag"
	"fmt"
	"io"

	"fieldvm/internal/bytecode"
	"fieldvm/internal/compiler"
	"fieldvm/internal/config"
	"fieldvm/internal/examples"
	"fieldvm/internal/heap"
	"fieldvm/internal/value"
)

func runRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	program := fs.String("program", "", "built-in program to run (see -program list)")
	stressGC := fs.Bool("stress-gc", false, "force a collection on every heap allocation")
	heapStats := fs.Bool("heap-stats", false, "print free-slot diagnostics after running")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	prog, ok := examples.Lookup(*program)
	if !ok || prog.Body == nil {
		fmt.Fprintf(stderr, "error: unknown -program %q (have: %v)\n", *program, examples.Names())
		return 2
	}

	log := newLogger(stderr)
	h := heap.New(log)
	cfg := config.Default()
	cfg.StressGC = *stressGC

	table := &bytecode.Table{}
	idx, err := compiler.Compile(h, table, prog.Body)
	if err != nil {
		fmt.Fprintln(stderr, "compile error:", err)
		return 1
	}

	m, err := cfg.NewVM(h, table)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	result, err := m.Run(idx, nil)
	if err != nil {
		fmt.Fprintln(stderr, "runtime error:", err)
		return 1
	}

	fmt.Fprintln(stdout, formatValue(h, result))

	if *heapStats {
		for kind, stats := range h.DiagnosticFreeSlots() {
			fmt.Fprintf(stderr, "heap-stats: %s free=%d compressed=%dB\n", kind, stats.Count, stats.CompressedBytes)
		}
	}
	return 0
}

// formatValue renders a VM result for CLI output, dereferencing heap
// handles just enough to be readable; nested containers print their tag
// rather than recursing, since cmd/fieldvm is a demonstration harness, not
// a general value printer.
func formatValue(h *heap.Heap, v value.Value) string {
	switch v.Tag() {
	case value.TagInt:
		i, _ := v.Int()
		return fmt.Sprintf("%d", i)
	case value.TagTrue, value.TagFalse:
		b, _ := v.Bool()
		return fmt.Sprintf("%t", b)
	case value.TagNil:
		return "nil"
	case value.TagString:
		if s, ok := h.String(v); ok {
			return string(s.Data)
		}
	case value.TagList:
		if l, ok := h.List(v); ok {
			return fmt.Sprintf("list[%d]", len(l.Items))
		}
	case value.TagMap:
		if m, ok := h.Map(v); ok {
			return fmt.Sprintf("map[%d]", len(m.Entries))
		}
	}
	return fmt.Sprintf("<%s>", v.Tag())
}
