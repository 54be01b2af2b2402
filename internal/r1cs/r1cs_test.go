package r1cs

import (
	"math/big"
	"testing"

	"fieldvm/internal/field"
	"fieldvm/internal/poseidon"
	"fieldvm/internal/ssa"
)

func buildMulProgram() *ssa.Program {
	p := &ssa.Program{}
	x := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "x"})
	y := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "y"})
	p.Inputs = []ssa.InputDecl{
		{Name: "x", Kind: ssa.Public, ID: x},
		{Name: "y", Kind: ssa.Witness, ID: y},
	}
	prod := p.Add(ssa.Instr{Op: ssa.OpMul, Args: []ssa.ID{x, y}})
	six := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(6)})
	p.Add(ssa.Instr{Op: ssa.OpAssertEq, Args: []ssa.ID{prod, six}})
	return p
}

func TestCompileWithWitnessSatisfiesConstraints(t *testing.T) {
	p := buildMulProgram()
	sys, w, err := CompileWithWitness(p,
		map[string]field.Element{"x": field.FromInt64(2)},
		map[string]field.Element{"y": field.FromInt64(3)})
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Check(w); err != nil {
		t.Fatal(err)
	}
	if sys.NumPublic != 1 || sys.NumWitness != 1 {
		t.Fatalf("got NumPublic=%d NumWitness=%d", sys.NumPublic, sys.NumWitness)
	}
}

func TestCompileWithWitnessRejectsWrongProduct(t *testing.T) {
	p := buildMulProgram()
	_, _, err := CompileWithWitness(p,
		map[string]field.Element{"x": field.FromInt64(2)},
		map[string]field.Element{"y": field.FromInt64(4)})
	if err == nil {
		t.Fatal("expected assert_eq failure for 2*4 != 6")
	}
}

func TestCompileStructureOnly(t *testing.T) {
	p := buildMulProgram()
	sys, _, err := CompileWithWitness(p, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sys.Constraints) == 0 {
		t.Fatal("expected at least one constraint")
	}
}

func TestRangeCheckGadget(t *testing.T) {
	p := &ssa.Program{}
	x := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "x"})
	p.Inputs = []ssa.InputDecl{{Name: "x", Kind: ssa.Witness, ID: x}}
	p.Add(ssa.Instr{Op: ssa.OpRangeCheck, Args: []ssa.ID{x}, Bits: 8})

	sys, w, err := CompileWithWitness(p, nil, map[string]field.Element{"x": field.FromInt64(200)})
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Check(w); err != nil {
		t.Fatal(err)
	}
}

func TestCompareGadget(t *testing.T) {
	p := &ssa.Program{}
	a := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "a"})
	bID := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "b"})
	p.Inputs = []ssa.InputDecl{
		{Name: "a", Kind: ssa.Witness, ID: a},
		{Name: "b", Kind: ssa.Witness, ID: bID},
	}
	lt := p.Add(ssa.Instr{Op: ssa.OpIsLt, Args: []ssa.ID{a, bID}})
	one := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.One()})
	p.Add(ssa.Instr{Op: ssa.OpAssertEq, Args: []ssa.ID{lt, one}})

	sys, w, err := CompileWithWitness(p, nil, map[string]field.Element{
		"a": field.FromInt64(3), "b": field.FromInt64(5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Check(w); err != nil {
		t.Fatal(err)
	}
}

// TestCompareGadgetBoundaryMagnitudes exercises IsLt across the operand
// magnitudes the default CompareBits=253 decomposition must cover:
// 2^128, 2^192, 2^252, and 2^253. Values in this range only satisfy the
// gadget's shifted-bit-decomposition constraint if the default bound is
// wide enough to hold the shifted difference without truncation.
func TestCompareGadgetBoundaryMagnitudes(t *testing.T) {
	shifts := []uint{128, 192, 252, 253}
	for _, shift := range shifts {
		n := new(big.Int).Lsh(big.NewInt(1), shift)
		a := new(big.Int).Sub(n, big.NewInt(1))

		p := &ssa.Program{}
		aID := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "a"})
		bID := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "b"})
		p.Inputs = []ssa.InputDecl{
			{Name: "a", Kind: ssa.Witness, ID: aID},
			{Name: "b", Kind: ssa.Witness, ID: bID},
		}
		lt := p.Add(ssa.Instr{Op: ssa.OpIsLt, Args: []ssa.ID{aID, bID}})
		one := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.One()})
		p.Add(ssa.Instr{Op: ssa.OpAssertEq, Args: []ssa.ID{lt, one}})

		sys, w, err := CompileWithWitness(p, nil, map[string]field.Element{
			"a": field.FromBigInt(a), "b": field.FromBigInt(n),
		})
		if err != nil {
			t.Fatalf("shift=2^%d: %v", shift, err)
		}
		if err := sys.Check(w); err != nil {
			t.Fatalf("shift=2^%d: %v", shift, err)
		}
	}
}

func TestPoseidonGadgetMatchesNativeHash(t *testing.T) {
	p := &ssa.Program{}
	a := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "a"})
	bID := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "b"})
	p.Inputs = []ssa.InputDecl{
		{Name: "a", Kind: ssa.Witness, ID: a},
		{Name: "b", Kind: ssa.Witness, ID: bID},
	}
	h := p.Add(ssa.Instr{Op: ssa.OpPoseidonHash, Args: []ssa.ID{a, bID}})
	hOut := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "expected"})
	p.Inputs = append(p.Inputs, ssa.InputDecl{Name: "expected", Kind: ssa.Public, ID: hOut})
	p.Add(ssa.Instr{Op: ssa.OpAssertEq, Args: []ssa.ID{h, hOut}})

	av := field.FromInt64(11)
	bv := field.FromInt64(22)
	want := poseidon.Hash([]field.Element{av, bv})

	_, _, err := CompileWithWitness(p,
		map[string]field.Element{"expected": want},
		map[string]field.Element{"a": av, "b": bv})
	if err != nil {
		t.Fatalf("gadget poseidon did not match native poseidon.Hash: %v", err)
	}
}
