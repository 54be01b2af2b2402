// Package config collects the few runtime knobs FieldVM exposes: the
// lowering pass's unroll ceiling, the VM's stack size and GC behavior, and
// the default proof backend. There is no config file format; values come
// from CLI flags or a struct literal in tests.
package config

import (
	"fieldvm/internal/bytecode"
	"fieldvm/internal/diag"
	"fieldvm/internal/heap"
	"fieldvm/internal/lower"
	"fieldvm/internal/proof"
	"fieldvm/internal/vm"
)

// Config is passed down into the lowering pass, the VM, and the proof
// glue by cmd/fieldvm's subcommands.
type Config struct {
	// UnrollCeiling caps how many iterations any single for-loop may unroll
	// to during lowering.
	UnrollCeiling int

	// StackSize is the VM's flat register-stack slot count.
	StackSize int

	// GCFloor is the minimum byte threshold the heap ever collects at;
	// zero means use the heap package's own floor.
	GCFloor uint64

	// StressGC forces a collection on every heap allocation, for testing.
	StressGC bool

	// Backend selects the default proof handler a `prove { }` block or the
	// `fieldvm prove`/`fieldvm verify` subcommands use when the program
	// doesn't name one explicitly.
	Backend proof.Backend
}

// Default returns the configuration used when no flags override it.
func Default() Config {
	return Config{
		UnrollCeiling: lower.DefaultConfig().UnrollCeiling,
		StackSize:     vm.DefaultStackSize,
		Backend:       proof.Groth16,
	}
}

// LowerConfig projects the fields internal/lower's Build needs.
func (c Config) LowerConfig() lower.Config {
	return lower.Config{UnrollCeiling: c.UnrollCeiling}
}

// ApplyToHeap sets the GC knobs c carries on an already-constructed heap.
// Zero-value GCFloor leaves the heap's own floor threshold untouched.
func (c Config) ApplyToHeap(h *heap.Heap) {
	if c.GCFloor > 0 {
		h.Threshold = c.GCFloor
	}
	h.Stress = c.StressGC
}

// NewVM applies c's GC knobs to h and builds a VM over h and table, for
// cmd/fieldvm's subcommands.
func (c Config) NewVM(h *heap.Heap, table *bytecode.Table) (*vm.VM, error) {
	c.ApplyToHeap(h)
	stackSize := c.StackSize
	if stackSize <= 0 {
		stackSize = vm.DefaultStackSize
	}
	return vm.NewSized(h, table, stackSize)
}

// BackendName returns the flag-facing name for c.Backend ("groth16" or
// "plonk"), the inverse of the name parsing cmd/fieldvm's flags perform.
func (c Config) BackendName() string {
	if c.Backend == proof.Plonk {
		return "plonk"
	}
	return "groth16"
}

// ParseBackend maps a CLI-supplied backend name to a proof.Backend, mirroring
// internal/prove's own backend-name convention ("", "r1cs", "groth16" all
// mean Groth16; "plonk" means the gated back-end).
func ParseBackend(name string) (proof.Backend, error) {
	switch name {
	case "", "r1cs", "groth16":
		return proof.Groth16, nil
	case "plonk":
		return proof.Plonk, nil
	}
	return 0, diag.New(diag.ErrProveHandlerUnavailable, diag.Location{Function: "config"}, "unknown backend %q", name)
}
