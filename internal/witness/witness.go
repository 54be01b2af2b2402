// Package witness replays an SSA program (internal/ssa) directly against
// concrete input values, independent of which constraint back-end will
// eventually consume it. This is the fast path the inline `prove { }`
// state machine uses to validate a circuit body and compute its public
// outputs before paying for the much more expensive R1CS/Plonk
// compilation and proving step: if the plain evaluation already fails an
// assertion, there is no point building a constraint system at all.
package witness

import (
	"fieldvm/internal/diag"
	"fieldvm/internal/field"
	"fieldvm/internal/poseidon"
	"fieldvm/internal/ssa"
)

// Trace is the result of replaying a program: every SSA value, plus the
// public input values in declaration order (the proof's public outputs).
type Trace struct {
	Values        []field.Element
	PublicValues  []field.Element
	PublicNames   []string
	WitnessValues []field.Element
	WitnessNames  []string
}

// Eval replays prog against the given input values. publicInputs and
// witnessInputs are keyed by the names the program declared with `public`
// and `witness`; a name missing from its map evaluates as zero.
func Eval(prog *ssa.Program, publicInputs, witnessInputs map[string]field.Element) (*Trace, error) {
	values := make([]field.Element, len(prog.Instrs))
	bound := map[ssa.ID]bool{}

	for _, d := range prog.Inputs {
		var v field.Element
		switch d.Kind {
		case ssa.Public:
			v = publicInputs[d.Name]
		case ssa.Witness:
			v = witnessInputs[d.Name]
		}
		values[d.ID] = v
		bound[d.ID] = true
	}

	for id, ins := range prog.Instrs {
		if bound[ssa.ID(id)] {
			continue
		}
		v, err := evalOne(values, ins, ssa.ID(id))
		if err != nil {
			return nil, err
		}
		values[id] = v
	}

	t := &Trace{Values: values}
	for _, d := range prog.Inputs {
		switch d.Kind {
		case ssa.Public:
			t.PublicValues = append(t.PublicValues, values[d.ID])
			t.PublicNames = append(t.PublicNames, d.Name)
		case ssa.Witness:
			t.WitnessValues = append(t.WitnessValues, values[d.ID])
			t.WitnessNames = append(t.WitnessNames, d.Name)
		}
	}
	return t, nil
}

func evalOne(values []field.Element, ins ssa.Instr, id ssa.ID) (field.Element, error) {
	loc := diag.Location{Function: "witness"}
	arg := func(i int) field.Element { return values[ins.Args[i]] }

	switch ins.Op {
	case ssa.OpConst:
		return ins.Const, nil
	case ssa.OpAdd:
		return arg(0).Add(arg(1)), nil
	case ssa.OpSub:
		return arg(0).Sub(arg(1)), nil
	case ssa.OpNeg:
		return arg(0).Neg(), nil
	case ssa.OpMul:
		return arg(0).Mul(arg(1)), nil
	case ssa.OpDiv:
		v, ok := arg(0).Div(arg(1))
		if !ok {
			return field.Zero(), diag.New(diag.ErrDivisionByZero, loc, "division by zero")
		}
		return v, nil
	case ssa.OpMux:
		cond := arg(0)
		if cond.Equal(field.One()) {
			return arg(1), nil
		}
		if cond.IsZero() {
			return arg(2), nil
		}
		return field.Zero(), diag.New(diag.ErrNonBooleanMuxCond, loc, "mux condition must be 0 or 1, got %s", cond.String())
	case ssa.OpAssertEq:
		if !arg(0).Equal(arg(1)) {
			return field.Zero(), diag.New(diag.ErrProveBlockFailed, loc, "assert_eq(%s, %s) failed", arg(0).String(), arg(1).String())
		}
		return field.Zero(), nil
	case ssa.OpAssert:
		if !arg(0).Equal(field.One()) {
			return field.Zero(), diag.New(diag.ErrProveBlockFailed, loc, "assert failed")
		}
		return field.One(), nil
	case ssa.OpNot:
		if arg(0).IsZero() {
			return field.One(), nil
		}
		return field.Zero(), nil
	case ssa.OpAnd:
		if arg(0).Equal(field.One()) && arg(1).Equal(field.One()) {
			return field.One(), nil
		}
		return field.Zero(), nil
	case ssa.OpOr:
		if arg(0).Equal(field.One()) || arg(1).Equal(field.One()) {
			return field.One(), nil
		}
		return field.Zero(), nil
	case ssa.OpIsEq:
		return boolElem(arg(0).Equal(arg(1))), nil
	case ssa.OpIsNeq:
		return boolElem(!arg(0).Equal(arg(1))), nil
	case ssa.OpIsLt:
		return boolElem(arg(0).BigInt().Cmp(arg(1).BigInt()) < 0), nil
	case ssa.OpIsLe:
		return boolElem(arg(0).BigInt().Cmp(arg(1).BigInt()) <= 0), nil
	case ssa.OpRangeCheck:
		x := arg(0)
		if x.BigInt().BitLen() > ins.Bits {
			return field.Zero(), diag.New(diag.ErrProveBlockFailed, loc, "range_check: value exceeds %d bits", ins.Bits)
		}
		return x, nil
	case ssa.OpPoseidonHash:
		elems := make([]field.Element, len(ins.Args))
		for i := range ins.Args {
			elems[i] = arg(i)
		}
		return poseidon.Hash(elems), nil
	}
	return field.Zero(), diag.New(diag.ErrUnsupportedOperation, loc, "witness: unhandled ssa op %s for id %d", ins.Op, id)
}

func boolElem(b bool) field.Element {
	if b {
		return field.One()
	}
	return field.Zero()
}
