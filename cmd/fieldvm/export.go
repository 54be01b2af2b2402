package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fieldvm/internal/examples"
	"fieldvm/internal/export"
	"fieldvm/internal/lower"
	"fieldvm/internal/r1cs"
)

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	program := fs.String("program", "", "built-in circuit program to export")
	outDir := fs.String("out-dir", ".", "directory to write prog.r1cs/prog.wtns into")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	prog, ok := examples.Lookup(*program)
	if !ok || prog.Circuit == nil {
		fmt.Fprintf(stderr, "error: %q has no circuit-rail fixture (have: %v)\n", *program, examples.Names())
		return 2
	}

	ssaProg, err := lower.Build(lower.DefaultConfig(), prog.Circuit)
	if err != nil {
		fmt.Fprintln(stderr, "lowering error:", err)
		return 1
	}
	sys, wit, err := r1cs.CompileWithWitness(ssaProg, prog.CircuitPublic, prog.CircuitWitness)
	if err != nil {
		fmt.Fprintln(stderr, "circuit compile error:", err)
		return 1
	}
	if err := sys.Check(wit); err != nil {
		fmt.Fprintln(stderr, "witness check failed:", err)
		return 1
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	r1csPath := filepath.Join(*outDir, *program+".r1cs")
	r1csFile, err := os.Create(r1csPath)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer r1csFile.Close()
	if err := export.WriteR1CS(sys, r1csFile); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	public := wit.Values[1 : 1+sys.NumPublic]
	witnessVals := wit.Values[1+sys.NumPublic : 1+sys.NumPublic+sys.NumWitness]
	wtnsPath := filepath.Join(*outDir, *program+".wtns")
	wtnsFile, err := os.Create(wtnsPath)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer wtnsFile.Close()
	if err := export.WriteWitness(public, witnessVals, wtnsFile); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	fmt.Fprintf(stdout, "wrote %s and %s (%d constraints, %d public, %d witness)\n",
		r1csPath, wtnsPath, len(sys.Constraints), sys.NumPublic, sys.NumWitness)
	return 0
}
