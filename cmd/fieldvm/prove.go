package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fieldvm/internal/config"
	"fieldvm/internal/examples"
	"fieldvm/internal/prove"
	"fieldvm/internal/proof"
)

func runProve(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("prove", flag.ContinueOnError)
	fs.SetOutput(stderr)
	program := fs.String("program", "", "built-in prove{} fixture to compile and prove")
	backend := fs.String("backend", "groth16", "proof backend: groth16 or plonk")
	outDir := fs.String("out-dir", ".", "directory to write proof.json/public.json/vkey.json into")
	cacheDir := fs.String("cache-dir", "", "optional on-disk cache for proving/verifying keys, keyed by circuit hash")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if _, err := config.ParseBackend(*backend); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	if *cacheDir != "" {
		if err := proof.SetCacheDir(*cacheDir); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
	}

	fixture, ok := examples.Lookup(*program)
	if !ok || fixture.Prove == nil {
		fmt.Fprintf(stderr, "error: %q has no prove{} fixture (have: %v)\n", *program, examples.Names())
		return 2
	}

	proofJSON, publicJSON, vkeyJSON, warnings, err := prove.Execute(fixture.Prove, *backend, fixture.ProveCaptured)
	if err != nil {
		fmt.Fprintln(stderr, "FAIL:", err)
		return 1
	}
	for _, w := range warnings {
		fmt.Fprintln(stderr, "warning:", w.String())
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	files := map[string]string{
		"proof.json":  proofJSON,
		"public.json": publicJSON,
		"vkey.json":   vkeyJSON,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(*outDir, name), []byte(content), 0o644); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
	}

	fmt.Fprintln(stdout, "SUCCESS: proof generated and written to", *outDir)
	return 0
}
