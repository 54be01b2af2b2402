package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunFibonacci(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"run", "-program", "fib"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "55" {
		t.Fatalf("got %q, want 55 (fib(10))", got)
	}
}

func TestRunUnknownProgram(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"run", "-program", "does-not-exist"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit code %d, want 2", code)
	}
}

func TestCompileWritesBytecodeFile(t *testing.T) {
	dir := t.TempDir()
	out := dir + "/fib.fvc"
	var stdout, stderr bytes.Buffer
	code := run([]string{"compile", "-program", "fib", "-out", out}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
}

func TestExportWritesR1CSAndWitness(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := run([]string{"export", "-program", "mul-check", "-out-dir", dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
}

func TestProveAndVerifyRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is expensive; skipped with -short")
	}
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := run([]string{"prove", "-program", "mul-check", "-out-dir", dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("prove exit code %d, stderr: %s", code, stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	code = run([]string{"verify", "-dir", dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("verify exit code %d, stdout: %s, stderr: %s", code, stdout.String(), stderr.String())
	}
}

func TestVersionPrintsFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "fieldvm") {
		t.Fatalf("unexpected version output: %q", stdout.String())
	}
}

func TestNoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(nil, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit code %d, want 2", code)
	}
}
