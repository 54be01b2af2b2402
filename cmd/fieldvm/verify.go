package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fieldvm/internal/prove"
)

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", ".", "directory containing proof.json/public.json/vkey.json")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	proofJSON, err := os.ReadFile(filepath.Join(*dir, "proof.json"))
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}
	publicJSON, err := os.ReadFile(filepath.Join(*dir, "public.json"))
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}
	vkeyJSON, err := os.ReadFile(filepath.Join(*dir, "vkey.json"))
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	ok, err := prove.Verify(string(proofJSON), string(publicJSON), string(vkeyJSON))
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(stdout, "FAIL: proof did not verify")
		return 1
	}

	fmt.Fprintln(stdout, "SUCCESS: proof verified")
	return 0
}
