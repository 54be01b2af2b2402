// Package ssa defines the flat single-static-assignment instruction stream
// shared by both constraint back-ends: the typed tree lowers to this form
// once, and internal/r1cs and internal/plonk each consume it
// independently.
package ssa

import "fieldvm/internal/field"

// Op identifies one SSA instruction kind.
type Op int

const (
	OpConst Op = iota
	OpInput
	OpAdd
	OpSub
	OpNeg
	OpMul
	OpDiv
	OpMux
	OpAssertEq
	OpAssert
	OpPoseidonHash
	OpRangeCheck
	OpNot
	OpAnd
	OpOr
	OpIsEq
	OpIsNeq
	OpIsLt
	OpIsLe
)

func (op Op) String() string {
	names := [...]string{
		"const", "input", "add", "sub", "neg", "mul", "div", "mux",
		"assert_eq", "assert", "poseidon_hash", "range_check",
		"not", "and", "or", "is_eq", "is_neq", "is_lt", "is_le",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "unknown"
}

// ID is the index of an instruction within a Program's Instrs slice; it
// doubles as that instruction's SSA value name.
type ID int

// Instr is one SSA instruction. Args holds operand IDs in operator order
// (e.g. Mux's Args are [cond, ifTrue, ifFalse]); Const holds the immediate
// for OpConst; Bits holds the bit width for OpRangeCheck.
type Instr struct {
	Op    Op
	Args  []ID
	Const field.Element
	Bits  int

	// Name, when nonempty, is the source identifier this instruction's
	// result was bound to; carried purely for diagnostics (unused-input
	// warnings, witness export field names), never consulted for
	// semantics.
	Name string
}

// InputKind distinguishes a circuit input's visibility.
type InputKind int

const (
	Public InputKind = iota
	Witness
)

// InputDecl records one flattened scalar input: for an array-shaped
// `public x(4)` declaration, lowering emits four InputDecls named
// "x_0".."x_3", recorded together under ArrayShapes["x"] = 4 so the
// witness/export layers can re-nest them.
type InputDecl struct {
	Name string
	Kind InputKind
	ID   ID
}

// Program is the complete flattened SSA form of one circuit (the body of
// a `prove { }` block, or the whole program when compiled directly to a
// constraint system).
type Program struct {
	Instrs      []Instr
	Inputs      []InputDecl
	ArrayShapes map[string]int
}

// Add appends an instruction and returns its ID.
func (p *Program) Add(ins Instr) ID {
	id := ID(len(p.Instrs))
	p.Instrs = append(p.Instrs, ins)
	return id
}

// Get returns the instruction for id.
func (p *Program) Get(id ID) Instr {
	return p.Instrs[id]
}

// PublicInputs returns the IDs of every public input, in declaration order.
func (p *Program) PublicInputs() []ID {
	var out []ID
	for _, d := range p.Inputs {
		if d.Kind == Public {
			out = append(out, d.ID)
		}
	}
	return out
}

// WitnessInputs returns the IDs of every witness input, in declaration order.
func (p *Program) WitnessInputs() []ID {
	var out []ID
	for _, d := range p.Inputs {
		if d.Kind == Witness {
			out = append(out, d.ID)
		}
	}
	return out
}
