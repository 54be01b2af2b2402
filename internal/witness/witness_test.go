package witness

import (
	"testing"

	"fieldvm/internal/field"
	"fieldvm/internal/ssa"
)

func TestEvalArithmetic(t *testing.T) {
	p := &ssa.Program{}
	x := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "x"})
	p.Inputs = []ssa.InputDecl{{Name: "x", Kind: ssa.Public, ID: x}}
	sq := p.Add(ssa.Instr{Op: ssa.OpMul, Args: []ssa.ID{x, x}})
	p.Add(ssa.Instr{Op: ssa.OpAssertEq, Args: []ssa.ID{sq, p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(9)})}})

	tr, err := Eval(p, map[string]field.Element{"x": field.FromInt64(3)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.PublicValues) != 1 || !tr.PublicValues[0].Equal(field.FromInt64(3)) {
		t.Fatalf("unexpected public values %v", tr.PublicValues)
	}
}

func TestEvalAssertEqFailure(t *testing.T) {
	p := &ssa.Program{}
	a := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(1)})
	b := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(2)})
	p.Add(ssa.Instr{Op: ssa.OpAssertEq, Args: []ssa.ID{a, b}})

	if _, err := Eval(p, nil, nil); err == nil {
		t.Fatal("expected assert_eq failure")
	}
}

func TestEvalDivisionByZero(t *testing.T) {
	p := &ssa.Program{}
	a := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(1)})
	z := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.Zero()})
	p.Add(ssa.Instr{Op: ssa.OpDiv, Args: []ssa.ID{a, z}})

	if _, err := Eval(p, nil, nil); err == nil {
		t.Fatal("expected division-by-zero error")
	}
}

func TestEvalMuxNonBooleanCondition(t *testing.T) {
	p := &ssa.Program{}
	cond := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(2)})
	a := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(10)})
	b := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(20)})
	p.Add(ssa.Instr{Op: ssa.OpMux, Args: []ssa.ID{cond, a, b}})

	if _, err := Eval(p, nil, nil); err == nil {
		t.Fatal("expected non-boolean mux condition error")
	}
}
