// Package r1cs compiles an SSA program (internal/ssa) into a rank-one
// constraint system over BN254, the Groth16-compatible back-end. Variable
// 0 is always the constant wire (fixed to 1); public inputs are numbered
// next, then witness inputs, then every internal wire a gadget needs;
// public-before-witness is a deliberate fix relative to an ordering bug
// in the reference this package is modeled on (see DESIGN.md).
//
// Structure (the A/B/C linear combinations) and witness values are built
// in the same pass, via the `CompileWithWitness` entry point: a
// setup-only caller passes empty input maps and discards the returned
// Witness, since the constraint shape never depends on the concrete
// values flowing through it.
package r1cs

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"fieldvm/internal/diag"
	"fieldvm/internal/field"
	"fieldvm/internal/poseidon"
	"fieldvm/internal/ssa"
)

// CompareBits is the default operand-width bound OpIsLt/OpIsLe's gadget
// decomposes against unless both operands are known to be narrower. When
// both operands are results of range_check instructions, the bound narrows
// to the larger of their two widths (see builder.rangeChecked/rangeBits
// below).
const CompareBits = 253

// Term is one addend of a linear combination: Coeff * wire[Var].
type Term struct {
	Var   int
	Coeff field.Element
}

// LC is a linear combination over wires.
type LC []Term

func lcConst(v field.Element) LC { return LC{{Var: 0, Coeff: v}} }
func lcVar(v int) LC             { return LC{{Var: v, Coeff: field.One()}} }

func (lc LC) add(o LC) LC {
	out := make(LC, 0, len(lc)+len(o))
	out = append(out, lc...)
	out = append(out, o...)
	return out
}

func (lc LC) scale(c field.Element) LC {
	out := make(LC, len(lc))
	for i, t := range lc {
		out[i] = Term{Var: t.Var, Coeff: t.Coeff.Mul(c)}
	}
	return out
}

func (lc LC) neg() LC { return lc.scale(field.FromInt64(-1)) }

// eval evaluates lc against a concrete assignment (wire 0 implicitly 1).
func (lc LC) eval(assign []field.Element) field.Element {
	acc := field.Zero()
	for _, t := range lc {
		acc = acc.Add(t.Coeff.Mul(assign[t.Var]))
	}
	return acc
}

// Constraint is one rank-one constraint A . w * B . w = C . w.
type Constraint struct {
	A, B, C LC
}

// System is a compiled constraint system plus its I/O layout.
type System struct {
	NumPublic   int
	NumWitness  int
	NumWires    int // total wires including the constant wire
	PublicNames []string
	WitnessNames []string
	Constraints []Constraint
}

// Witness is a concrete wire assignment matching a System's numbering.
type Witness struct {
	Values []field.Element
}

// builder threads structure- and value-construction through one SSA walk.
type builder struct {
	prog     *ssa.Program
	sys      *System
	lcOf     map[ssa.ID]LC
	valOf    []field.Element // parallel to wires, indexed by wire number
	inputs   map[string]field.Element
	haveVals bool

	// rangeChecked marks which SSA ids have a known tighter-than-default
	// bit bound (the id of a range_check instruction itself, since that
	// instruction's result is the checked value); rangeBits holds the
	// bound for each marked id. Comparisons between two such ids size
	// their bit-decomposition gadget to the larger of the two bounds instead of the
	// CompareBits default.
	rangeChecked *bitset.BitSet
	rangeBits    []int
}

func (b *builder) newWire(val field.Element) int {
	idx := len(b.valOf)
	b.valOf = append(b.valOf, val)
	b.sys.NumWires++
	return idx
}

func (b *builder) constraint(a, c, d LC) {
	b.sys.Constraints = append(b.sys.Constraints, Constraint{A: a, B: c, C: d})
}

// materialize forces an LC to a single wire backed by a fresh variable
// when the gadget needs to reference its value as an R1CS variable rather
// than a symbolic combination (e.g. as an operand of a multiplication).
func (b *builder) materialize(lc LC) (LC, int) {
	if len(lc) == 1 && lc[0].Var != 0 && lc[0].Coeff.Equal(field.One()) {
		return lc, lc[0].Var
	}
	val := lc.eval(b.valOf)
	w := b.newWire(val)
	// w === lc, enforced as a multiplicative identity: lc * 1 = w.
	b.constraint(lc, lcConst(field.One()), lcVar(w))
	return lcVar(w), w
}

// CompileWithWitness builds the constraint system for prog and, if
// publicInputs/witnessInputs are non-nil, a matching Witness. When both
// maps are nil the returned Witness still has the right shape (inputs read as zero)
// so setup-only callers can ignore it.
func CompileWithWitness(prog *ssa.Program, publicInputs, witnessInputs map[string]field.Element) (*System, *Witness, error) {
	b := &builder{
		prog:         prog,
		sys:          &System{},
		lcOf:         make(map[ssa.ID]LC, len(prog.Instrs)),
		inputs:       map[string]field.Element{},
		haveVals:     publicInputs != nil || witnessInputs != nil,
		rangeChecked: bitset.New(uint(len(prog.Instrs))),
		rangeBits:    make([]int, len(prog.Instrs)),
	}
	for k, v := range publicInputs {
		b.inputs[k] = v
	}
	for k, v := range witnessInputs {
		b.inputs[k] = v
	}
	b.newWire(field.One()) // wire 0: the constant

	for _, d := range prog.Inputs {
		v := b.inputs[d.Name]
		w := b.newWire(v)
		switch d.Kind {
		case ssa.Public:
			b.sys.NumPublic++
			b.sys.PublicNames = append(b.sys.PublicNames, d.Name)
		case ssa.Witness:
			b.sys.NumWitness++
			b.sys.WitnessNames = append(b.sys.WitnessNames, d.Name)
		}
		b.lcOf[d.ID] = lcVar(w)
	}

	for id, ins := range prog.Instrs {
		if ins.Op == ssa.OpInput {
			continue // already bound above
		}
		lc, err := b.lowerInstr(ssa.ID(id), ins)
		if err != nil {
			return nil, nil, err
		}
		b.lcOf[ssa.ID(id)] = lc
	}

	w := &Witness{Values: b.valOf}
	return b.sys, w, nil
}

func (b *builder) val(id ssa.ID) field.Element { return b.lcOf[id].eval(b.valOf) }

func (b *builder) lowerInstr(id ssa.ID, ins ssa.Instr) (LC, error) {
	loc := diag.Location{Function: "r1cs", Line: 0}
	switch ins.Op {
	case ssa.OpConst:
		return lcConst(ins.Const), nil

	case ssa.OpAdd:
		return b.lcOf[ins.Args[0]].add(b.lcOf[ins.Args[1]]), nil

	case ssa.OpSub:
		return b.lcOf[ins.Args[0]].add(b.lcOf[ins.Args[1]].neg()), nil

	case ssa.OpNeg:
		return b.lcOf[ins.Args[0]].neg(), nil

	case ssa.OpMul:
		av, _ := b.materialize(b.lcOf[ins.Args[0]])
		bv, _ := b.materialize(b.lcOf[ins.Args[1]])
		prod := b.val(ins.Args[0]).Mul(b.val(ins.Args[1]))
		w := b.newWire(prod)
		b.constraint(av, bv, lcVar(w))
		return lcVar(w), nil

	case ssa.OpDiv:
		numer := b.val(ins.Args[0])
		denom := b.val(ins.Args[1])
		var quot field.Element
		if inv, ok := denom.Inverse(); ok {
			quot = numer.Mul(inv)
		} else {
			quot = field.Zero()
		}
		qw := b.newWire(quot)
		_, bw := b.materialize(b.lcOf[ins.Args[1]])
		_, aw := b.materialize(b.lcOf[ins.Args[0]])
		b.constraint(lcVar(qw), lcVar(bw), lcVar(aw)) // q*b = a
		// bInv*b = 1, proving b is invertible (forces b != 0).
		binv, ok := denom.Inverse()
		if !ok {
			binv = field.Zero()
		}
		bInvW := b.newWire(binv)
		b.constraint(lcVar(bInvW), lcVar(bw), lcConst(field.One()))
		return lcVar(qw), nil

	case ssa.OpMux:
		cond := b.lcOf[ins.Args[0]]
		condVal := cond.eval(b.valOf)
		_, condW := b.materialize(cond)
		b.constraint(lcVar(condW), lcVar(condW).add(lcConst(field.FromInt64(-1))), lcConst(field.Zero()))

		t := b.lcOf[ins.Args[1]]
		f := b.lcOf[ins.Args[2]]
		diff := t.add(f.neg())
		diffVal := diff.eval(b.valOf)
		_, diffW := b.materialize(diff)
		mVal := condVal.Mul(diffVal)
		mW := b.newWire(mVal)
		b.constraint(lcVar(condW), lcVar(diffW), lcVar(mW))
		return lcVar(mW).add(f), nil

	case ssa.OpAssertEq:
		a := b.lcOf[ins.Args[0]]
		c := b.lcOf[ins.Args[1]]
		diff := a.add(c.neg())
		if !diff.eval(b.valOf).IsZero() && b.haveVals {
			return nil, diag.New(diag.ErrProveBlockFailed, loc, "assert_eq failed")
		}
		b.constraint(diff, lcConst(field.One()), lcConst(field.Zero()))
		return lcConst(field.Zero()), nil

	case ssa.OpAssert:
		cond := b.lcOf[ins.Args[0]]
		val := cond.eval(b.valOf)
		if b.haveVals && !val.Equal(field.One()) {
			return nil, diag.New(diag.ErrProveBlockFailed, loc, "assert failed")
		}
		_, cw := b.materialize(cond)
		b.constraint(lcVar(cw), lcVar(cw).add(lcConst(field.FromInt64(-1))), lcConst(field.Zero()))
		b.constraint(lcVar(cw), lcConst(field.One()), lcConst(field.One()))
		return lcConst(field.One()), nil

	case ssa.OpNot:
		x := b.lcOf[ins.Args[0]]
		_, xw := b.materialize(x)
		b.constraint(lcVar(xw), lcVar(xw).add(lcConst(field.FromInt64(-1))), lcConst(field.Zero()))
		return lcConst(field.One()).add(x.neg()), nil

	case ssa.OpAnd:
		av, _ := b.materialize(b.lcOf[ins.Args[0]])
		bv, _ := b.materialize(b.lcOf[ins.Args[1]])
		prod := b.val(ins.Args[0]).Mul(b.val(ins.Args[1]))
		w := b.newWire(prod)
		b.constraint(av, bv, lcVar(w))
		return lcVar(w), nil

	case ssa.OpOr:
		a := b.lcOf[ins.Args[0]]
		c := b.lcOf[ins.Args[1]]
		_, aw := b.materialize(a)
		_, cw := b.materialize(c)
		prod := b.val(ins.Args[0]).Mul(b.val(ins.Args[1]))
		w := b.newWire(prod)
		b.constraint(lcVar(aw), lcVar(cw), lcVar(w))
		return a.add(c).add(lcVar(w).neg()), nil

	case ssa.OpIsEq, ssa.OpIsNeq:
		a := b.lcOf[ins.Args[0]]
		c := b.lcOf[ins.Args[1]]
		diff := a.add(c.neg())
		diffVal := diff.eval(b.valOf)
		_, diffW := b.materialize(diff)
		var invVal field.Element
		if inv, ok := diffVal.Inverse(); ok {
			invVal = inv
		} else {
			invVal = field.Zero()
		}
		invW := b.newWire(invVal)
		isZero := field.Zero()
		if diffVal.IsZero() {
			isZero = field.One()
		}
		rW := b.newWire(isZero)
		// diff*inv = 1 - r
		b.constraint(lcVar(diffW), lcVar(invW), lcConst(field.One()).add(lcVar(rW).neg()))
		// r*diff = 0
		b.constraint(lcVar(rW), lcVar(diffW), lcConst(field.Zero()))
		if ins.Op == ssa.OpIsEq {
			return lcVar(rW), nil
		}
		return lcConst(field.One()).add(lcVar(rW).neg()), nil

	case ssa.OpIsLt, ssa.OpIsLe:
		return b.lowerCompare(ins)

	case ssa.OpRangeCheck:
		lc, err := b.lowerRangeCheck(ins)
		if err != nil {
			return nil, err
		}
		b.rangeChecked.Set(uint(id))
		b.rangeBits[id] = ins.Bits
		return lc, nil

	case ssa.OpPoseidonHash:
		return b.lowerPoseidon(ins)
	}
	return nil, diag.New(diag.ErrUnsupportedOperation, loc, "r1cs: unhandled ssa op %s", ins.Op)
}

func (b *builder) bitDecompose(val field.Element, bits int) ([]int, field.Element) {
	v := val.BigInt()
	wires := make([]int, bits)
	sum := field.Zero()
	two := field.FromInt64(2)
	pow := field.One()
	for i := 0; i < bits; i++ {
		bit := int64(0)
		if v.Bit(i) == 1 {
			bit = 1
		}
		bv := field.FromInt64(bit)
		w := b.newWire(bv)
		b.constraint(lcVar(w), lcVar(w).add(lcConst(field.FromInt64(-1))), lcConst(field.Zero()))
		wires[i] = w
		sum = sum.Add(bv.Mul(pow))
		pow = pow.Mul(two)
	}
	return wires, sum
}

func (b *builder) lowerRangeCheck(ins ssa.Instr) (LC, error) {
	x := b.lcOf[ins.Args[0]]
	xVal := x.eval(b.valOf)
	wires, _ := b.bitDecompose(xVal, ins.Bits)
	sumLC := LC{}
	pow := field.One()
	two := field.FromInt64(2)
	for _, w := range wires {
		sumLC = sumLC.add(LC{{Var: w, Coeff: pow}})
		pow = pow.Mul(two)
	}
	b.constraint(x, lcConst(field.One()), sumLC)
	return x, nil
}

// effectiveCompareBits returns the bit-decomposition width a comparison
// between argA and argC needs: CompareBits by default, or the larger (wider)
// of the two operands' known range_check bounds when both have one.
func (b *builder) effectiveCompareBits(argA, argC ssa.ID) int {
	if !b.rangeChecked.Test(uint(argA)) || !b.rangeChecked.Test(uint(argC)) {
		return CompareBits
	}
	bound := b.rangeBits[argA]
	if b.rangeBits[argC] > bound {
		bound = b.rangeBits[argC]
	}
	if bound >= CompareBits {
		return CompareBits
	}
	return bound
}

func (b *builder) lowerCompare(ins ssa.Instr) (LC, error) {
	argA, argC := ins.Args[0], ins.Args[1]
	a := b.lcOf[argA]
	c := b.lcOf[argC]
	if ins.Op == ssa.OpIsLe {
		a, c = c, a // le(a,b) == !lt(b,a)
		argA, argC = argC, argA
	}
	bits := b.effectiveCompareBits(argA, argC)
	aVal := a.eval(b.valOf)
	cVal := c.eval(b.valOf)
	shift := field.One()
	for i := 0; i < bits; i++ {
		shift = shift.Add(shift)
	}
	diffLC := a.add(c.neg()).add(lcConst(shift))
	diffVal := aVal.Sub(cVal).Add(shift)
	wires, _ := b.bitDecompose(diffVal, bits+1)
	sumLC := LC{}
	pow := field.One()
	two := field.FromInt64(2)
	for _, w := range wires {
		sumLC = sumLC.add(LC{{Var: w, Coeff: pow}})
		pow = pow.Mul(two)
	}
	b.constraint(diffLC, lcConst(field.One()), sumLC)
	topBit := lcVar(wires[bits])
	if ins.Op == ssa.OpIsLe {
		return topBit, nil
	}
	// a < b  <=>  NOT(topBit) in the shifted-subtraction (a-b) encoding
	return lcConst(field.One()).add(topBit.neg()), nil
}

// lowerPoseidon replicates internal/poseidon.Hash's exact sponge
// construction (padding, block absorption, and Permute's round schedule)
// as constraints, so the gadget and the out-of-circuit native function
// (internal/vm) always agree, including for more than Rate inputs.
func (b *builder) lowerPoseidon(ins ssa.Instr) (LC, error) {
	blocks := b.poseidonBlocks(ins.Args)

	state := make([]LC, poseidon.Width)
	for i := range state {
		state[i] = lcConst(field.Zero())
	}
	for _, block := range blocks {
		for i := 0; i < poseidon.Rate; i++ {
			state[i] = state[i].add(block[i])
		}
		state = b.permuteLC(state)
	}
	return state[0], nil
}

// poseidonBlocks mirrors poseidon.Hash's padding: a trailing constant-1
// element is appended whenever the input count isn't already a multiple
// of the rate, then zero-padded up to the next multiple, exactly as
// poseidon.Hash does with concrete field.Element values.
func (b *builder) poseidonBlocks(args []ssa.ID) [][poseidon.Rate]LC {
	padded := make([]LC, len(args))
	for i, a := range args {
		padded[i] = b.lcOf[a]
	}
	if len(padded) == 0 || len(padded)%poseidon.Rate != 0 {
		padded = append(padded, lcConst(field.One()))
	}
	for len(padded)%poseidon.Rate != 0 {
		padded = append(padded, lcConst(field.Zero()))
	}
	var blocks [][poseidon.Rate]LC
	for i := 0; i < len(padded); i += poseidon.Rate {
		var blk [poseidon.Rate]LC
		for j := 0; j < poseidon.Rate; j++ {
			blk[j] = padded[i+j]
		}
		blocks = append(blocks, blk)
	}
	return blocks
}

func (b *builder) permuteLC(state []LC) []LC {
	for r := 0; r < poseidon.TotalRounds(); r++ {
		for i := range state {
			state[i] = state[i].add(lcConst(poseidon.RoundConstant(r, i)))
		}
		full := poseidon.IsFullRound(r)
		for i := range state {
			if i > 0 && !full {
				continue
			}
			state[i] = b.sbox(state[i])
		}
		next := make([]LC, poseidon.Width)
		for i := range next {
			acc := lcConst(field.Zero())
			for j := range state {
				acc = acc.add(state[j].scale(poseidon.MDSEntry(i, j)))
			}
			next[i] = acc
		}
		state = next
	}
	return state
}

func (b *builder) sbox(x LC) LC {
	xv := x.eval(b.valOf)
	_, xw := b.materialize(x)
	x2v := xv.Mul(xv)
	x2w := b.newWire(x2v)
	b.constraint(lcVar(xw), lcVar(xw), lcVar(x2w))
	x4v := x2v.Mul(x2v)
	x4w := b.newWire(x4v)
	b.constraint(lcVar(x2w), lcVar(x2w), lcVar(x4w))
	x5v := x4v.Mul(xv)
	x5w := b.newWire(x5v)
	b.constraint(lcVar(x4w), lcVar(xw), lcVar(x5w))
	return lcVar(x5w)
}

// Check verifies every constraint is satisfied by w; used by tests and
// by internal/proof before handing a system to a real proving backend.
func (s *System) Check(w *Witness) error {
	for i, c := range s.Constraints {
		av := c.A.eval(w.Values)
		bv := c.B.eval(w.Values)
		cv := c.C.eval(w.Values)
		if !av.Mul(bv).Equal(cv) {
			return fmt.Errorf("r1cs: constraint %d unsatisfied", i)
		}
	}
	return nil
}
