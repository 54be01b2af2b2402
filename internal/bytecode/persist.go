package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Table is the per-process table of loaded function prototypes, indexed by
// load order.
type Table struct {
	Prototypes []*Prototype
}

// Add registers a prototype and returns its table index.
func (t *Table) Add(p *Prototype) int {
	t.Prototypes = append(t.Prototypes, p)
	return len(t.Prototypes) - 1
}

// Get returns the prototype at index idx.
func (t *Table) Get(idx int) (*Prototype, bool) {
	if idx < 0 || idx >= len(t.Prototypes) {
		return nil, false
	}
	return t.Prototypes[idx], true
}

// MarshalCBOR serializes the prototype table to an on-disk persisted
// form. ProveBlock.Body (pre-lowered syntax) is not round-tripped: a
// restored table can run ordinary bytecode but any `prove` expression in
// it must be recompiled from source before use.
func (t *Table) MarshalCBOR() ([]byte, error) {
	b, err := cbor.Marshal(t.Prototypes)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal prototype table: %w", err)
	}
	return b, nil
}

// UnmarshalTable restores a prototype table previously produced by
// MarshalCBOR.
func UnmarshalTable(data []byte) (*Table, error) {
	var protos []*Prototype
	if err := cbor.Unmarshal(data, &protos); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal prototype table: %w", err)
	}
	return &Table{Prototypes: protos}, nil
}
