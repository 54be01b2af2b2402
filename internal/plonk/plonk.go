// Package plonk compiles an SSA program into a Plonk-style gated
// constraint system: four advice columns (A, B, C, D) per row, a single
// arithmetic gate s_arith*(a*b+c-d)=0, copy constraints linking cells
// that must carry equal values, and a lookup
// table for small range checks. Every materialized value lives in column
// D of the row that produced it, by convention: multiplication rows wire
// their two factors into A and B with C fixed to zero, and linear
// combinations accumulate one term per row with the running sum copied
// from D into the next row's C.
package plonk

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"fieldvm/internal/diag"
	"fieldvm/internal/field"
	"fieldvm/internal/poseidon"
	"fieldvm/internal/ssa"
)

// Column identifies one of a row's four advice cells.
type Column int

const (
	ColA Column = iota
	ColB
	ColC
	ColD
)

// CompareBits is the default OpIsLt/OpIsLe operand-width bound, mirroring
// internal/r1cs; narrower when both operands have already passed a
// range_check to fewer bits (see builder.rangeChecked/rangeBits).
const CompareBits = 253

// LookupMaxBits is the largest bit width range_check services via the
// lookup table rather than per-bit boolean decomposition: lookup tables
// with per-row selectors are limited to <=16-bit range checks.
const LookupMaxBits = 16

// Cell identifies one advice cell: a row and a column within it.
type Cell struct {
	Row int
	Col Column
}

// Row is one constraint-system row. A nil Fixed entry means that column
// is a free advice wire for this row; a non-nil entry fixes its value
// (most commonly to zero, for the "c" operand of a pure multiplication,
// or to a constant coefficient, for a linear-combination term).
type Row struct {
	Fixed    [4]*field.Element
	SelArith bool
	Lookup   bool // row's D cell must appear in the range-check table
}

// System is the compiled gate system plus its I/O layout and copy
// constraints.
type System struct {
	Rows         []Row
	PublicCells  []Cell
	PublicNames  []string
	WitnessCells []Cell
	WitnessNames []string

	// copy constraints: parent[cell] implements a union-find over cells
	// required to carry equal witness values.
	parent map[Cell]Cell
}

func (s *System) find(c Cell) Cell {
	p, ok := s.parent[c]
	if !ok || p == c {
		return c
	}
	root := s.find(p)
	s.parent[c] = root
	return root
}

func (s *System) unify(a, b Cell) {
	ra, rb := s.find(a), s.find(b)
	if ra != rb {
		s.parent[ra] = rb
	}
}

// Witness is a concrete row-major assignment matching a System's shape.
type Witness struct {
	Values [][4]field.Element
}

func (w *Witness) get(c Cell) field.Element { return w.Values[c.Row][c.Col] }

// Expr is a deferred linear expression: Const + sum(Coeff_i * value(Cell_i)).
// Add/Sub/Neg never allocate a row; only an operation that genuinely needs
// a concrete wire (a multiplication operand, an assertion, a copy
// constraint target) forces materialization.
type Expr struct {
	Const field.Element
	Terms []term
}

type term struct {
	Coeff field.Element
	Cell  Cell
}

func exprConst(v field.Element) Expr { return Expr{Const: v} }
func exprCell(c Cell) Expr           { return Expr{Const: field.Zero(), Terms: []term{{Coeff: field.One(), Cell: c}}} }

func (e Expr) add(o Expr) Expr {
	out := Expr{Const: e.Const.Add(o.Const)}
	out.Terms = append(out.Terms, e.Terms...)
	out.Terms = append(out.Terms, o.Terms...)
	return out
}

func (e Expr) scale(c field.Element) Expr {
	out := Expr{Const: e.Const.Mul(c)}
	for _, t := range e.Terms {
		out.Terms = append(out.Terms, term{Coeff: t.Coeff.Mul(c), Cell: t.Cell})
	}
	return out
}

func (e Expr) neg() Expr { return e.scale(field.FromInt64(-1)) }

type builder struct {
	prog     *ssa.Program
	sys      *System
	exprOf   map[ssa.ID]Expr
	valOf    map[ssa.ID]field.Element // cached evaluated value, for gadgets that branch on it
	rows     [][4]field.Element
	inputs   map[string]field.Element
	haveVals bool

	// rangeChecked/rangeBits mirror internal/r1cs's builder: rangeChecked
	// marks which SSA ids (range_check instructions themselves) carry a
	// known tighter-than-default bit bound, rangeBits holds that bound.
	rangeChecked *bitset.BitSet
	rangeBits    []int
}

func (b *builder) newRow(r Row, vals [4]field.Element) int {
	idx := len(b.sys.Rows)
	b.sys.Rows = append(b.sys.Rows, r)
	b.rows = append(b.rows, vals)
	return idx
}

func fp(v field.Element) *field.Element { return &v }

func (b *builder) eval(e Expr) field.Element {
	acc := e.Const
	for _, t := range e.Terms {
		acc = acc.Add(t.Coeff.Mul(b.rows[t.Cell.Row][t.Cell.Col]))
	}
	return acc
}

// constRow materializes a constant into a trivially-true gate row: with
// A and B fixed to zero, 0*0 + C - D = 0 forces C == D, and both are
// assigned the constant value.
func (b *builder) constRow(v field.Element) Cell {
	row := Row{Fixed: [4]*field.Element{fp(field.Zero()), fp(field.Zero()), nil, nil}, SelArith: true}
	idx := b.newRow(row, [4]field.Element{field.Zero(), field.Zero(), v, v})
	return Cell{Row: idx, Col: ColD}
}

// addTerm extends a running accumulator by coeff*value(src): A is fixed
// to coeff, B is copy-constrained to src, C is copy-constrained to the
// previous accumulator, and D receives the new sum.
func (b *builder) addTerm(acc Cell, coeff field.Element, src Cell) Cell {
	accVal := b.rows[acc.Row][acc.Col]
	srcVal := b.rows[src.Row][src.Col]
	next := accVal.Add(coeff.Mul(srcVal))
	row := Row{Fixed: [4]*field.Element{fp(coeff), nil, nil, nil}, SelArith: true}
	idx := b.newRow(row, [4]field.Element{coeff, srcVal, accVal, next})
	b.sys.unify(Cell{Row: idx, Col: ColB}, src)
	b.sys.unify(Cell{Row: idx, Col: ColC}, acc)
	return Cell{Row: idx, Col: ColD}
}

// materialize forces an Expr to a concrete cell.
func (b *builder) materialize(e Expr) Cell {
	if len(e.Terms) == 1 && e.Terms[0].Coeff.Equal(field.One()) && e.Const.IsZero() {
		return e.Terms[0].Cell
	}
	acc := b.constRow(e.Const)
	for _, t := range e.Terms {
		acc = b.addTerm(acc, t.Coeff, t.Cell)
	}
	return acc
}

// mulGate computes a*b via A, B wired to the factors and C fixed to zero:
// a*b + 0 - d = 0 forces d == a*b.
func (b *builder) mulGate(a, c Expr) Cell {
	av := b.eval(a)
	cv := b.eval(c)
	aCell := b.materialize(a)
	cCell := b.materialize(c)
	prod := av.Mul(cv)
	row := Row{Fixed: [4]*field.Element{nil, nil, fp(field.Zero()), nil}, SelArith: true}
	idx := b.newRow(row, [4]field.Element{av, cv, field.Zero(), prod})
	b.sys.unify(Cell{Row: idx, Col: ColA}, aCell)
	b.sys.unify(Cell{Row: idx, Col: ColB}, cCell)
	return Cell{Row: idx, Col: ColD}
}

// boolCheck forces cell's value to be 0 or 1 via x*x - x = 0.
func (b *builder) boolCheck(c Cell) {
	v := b.rows[c.Row][c.Col]
	row := Row{SelArith: true}
	idx := b.newRow(row, [4]field.Element{v, v, field.Zero(), v})
	b.sys.unify(Cell{Row: idx, Col: ColA}, c)
	b.sys.unify(Cell{Row: idx, Col: ColB}, c)
	b.sys.unify(Cell{Row: idx, Col: ColD}, c)
	row2 := &b.sys.Rows[idx]
	row2.Fixed[2] = fp(field.Zero())
}

// CompileWithWitness builds the gate system for prog and, if
// publicInputs/witnessInputs are non-nil, a matching row-major Witness.
func CompileWithWitness(prog *ssa.Program, publicInputs, witnessInputs map[string]field.Element) (*System, *Witness, error) {
	b := &builder{
		prog:         prog,
		sys:          &System{parent: map[Cell]Cell{}},
		exprOf:       map[ssa.ID]Expr{},
		valOf:        map[ssa.ID]field.Element{},
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

	for _, d := range prog.Inputs {
		v := b.inputs[d.Name]
		cell := b.constRow(v)
		b.exprOf[d.ID] = exprCell(cell)
		b.valOf[d.ID] = v
		switch d.Kind {
		case ssa.Public:
			b.sys.PublicCells = append(b.sys.PublicCells, cell)
			b.sys.PublicNames = append(b.sys.PublicNames, d.Name)
		case ssa.Witness:
			b.sys.WitnessCells = append(b.sys.WitnessCells, cell)
			b.sys.WitnessNames = append(b.sys.WitnessNames, d.Name)
		}
	}

	for id, ins := range prog.Instrs {
		if ins.Op == ssa.OpInput {
			continue
		}
		e, err := b.lowerInstr(ssa.ID(id), ins)
		if err != nil {
			return nil, nil, err
		}
		b.exprOf[ssa.ID(id)] = e
		b.valOf[ssa.ID(id)] = b.eval(e)
	}

	w := &Witness{Values: b.rows}
	return b.sys, w, nil
}

func (b *builder) lowerInstr(id ssa.ID, ins ssa.Instr) (Expr, error) {
	loc := diag.Location{Function: "plonk"}
	switch ins.Op {
	case ssa.OpConst:
		return exprConst(ins.Const), nil

	case ssa.OpAdd:
		return b.exprOf[ins.Args[0]].add(b.exprOf[ins.Args[1]]), nil

	case ssa.OpSub:
		return b.exprOf[ins.Args[0]].add(b.exprOf[ins.Args[1]].neg()), nil

	case ssa.OpNeg:
		return b.exprOf[ins.Args[0]].neg(), nil

	case ssa.OpMul:
		return exprCell(b.mulGate(b.exprOf[ins.Args[0]], b.exprOf[ins.Args[1]])), nil

	case ssa.OpDiv:
		numer := b.valOf[ins.Args[0]]
		denom := b.valOf[ins.Args[1]]
		var quot field.Element
		if inv, ok := denom.Inverse(); ok {
			quot = numer.Mul(inv)
		}
		qCell := b.constRow(quot)
		mulRes := b.mulGate(exprCell(qCell), b.exprOf[ins.Args[1]])
		b.sys.unify(mulRes, b.materialize(b.exprOf[ins.Args[0]]))
		binv, _ := denom.Inverse()
		binvCell := b.constRow(binv)
		one := b.mulGate(exprCell(binvCell), b.exprOf[ins.Args[1]])
		b.sys.unify(one, b.constRow(field.One()))
		return exprCell(qCell), nil

	case ssa.OpMux:
		cond := b.exprOf[ins.Args[0]]
		condCell := b.materialize(cond)
		b.boolCheck(condCell)
		t := b.exprOf[ins.Args[1]]
		f := b.exprOf[ins.Args[2]]
		diff := t.add(f.neg())
		m := b.mulGate(exprCell(condCell), diff)
		return exprCell(m).add(f), nil

	case ssa.OpAssertEq:
		a := b.exprOf[ins.Args[0]]
		c := b.exprOf[ins.Args[1]]
		if b.haveVals && !b.eval(a).Equal(b.eval(c)) {
			return Expr{}, diag.New(diag.ErrProveBlockFailed, loc, "assert_eq failed")
		}
		b.sys.unify(b.materialize(a), b.materialize(c))
		return exprConst(field.Zero()), nil

	case ssa.OpAssert:
		cond := b.exprOf[ins.Args[0]]
		if b.haveVals && !b.eval(cond).Equal(field.One()) {
			return Expr{}, diag.New(diag.ErrProveBlockFailed, loc, "assert failed")
		}
		c := b.materialize(cond)
		b.boolCheck(c)
		b.sys.unify(c, b.constRow(field.One()))
		return exprConst(field.One()), nil

	case ssa.OpNot:
		x := b.exprOf[ins.Args[0]]
		b.boolCheck(b.materialize(x))
		return exprConst(field.One()).add(x.neg()), nil

	case ssa.OpAnd:
		return exprCell(b.mulGate(b.exprOf[ins.Args[0]], b.exprOf[ins.Args[1]])), nil

	case ssa.OpOr:
		a := b.exprOf[ins.Args[0]]
		c := b.exprOf[ins.Args[1]]
		prod := b.mulGate(a, c)
		return a.add(c).add(exprCell(prod).neg()), nil

	case ssa.OpIsEq, ssa.OpIsNeq:
		a := b.exprOf[ins.Args[0]]
		c := b.exprOf[ins.Args[1]]
		diff := a.add(c.neg())
		diffVal := b.eval(diff)
		diffCell := b.materialize(diff)
		var invVal field.Element
		if inv, ok := diffVal.Inverse(); ok {
			invVal = inv
		}
		isZero := field.Zero()
		if diffVal.IsZero() {
			isZero = field.One()
		}
		rCell := b.constRow(isZero)
		invCell := b.constRow(invVal)
		// diff*inv = 1 - r
		m := b.mulGate(exprCell(diffCell), exprCell(invCell))
		b.sys.unify(m, b.materialize(exprConst(field.One()).add(exprCell(rCell).neg())))
		// r*diff = 0
		m2 := b.mulGate(exprCell(rCell), exprCell(diffCell))
		b.sys.unify(m2, b.constRow(field.Zero()))
		if ins.Op == ssa.OpIsEq {
			return exprCell(rCell), nil
		}
		return exprConst(field.One()).add(exprCell(rCell).neg()), nil

	case ssa.OpIsLt, ssa.OpIsLe:
		return b.lowerCompare(ins)

	case ssa.OpRangeCheck:
		e, err := b.lowerRangeCheck(ins)
		if err != nil {
			return Expr{}, err
		}
		b.rangeChecked.Set(uint(id))
		b.rangeBits[id] = ins.Bits
		return e, nil

	case ssa.OpPoseidonHash:
		return b.lowerPoseidon(ins)
	}
	return Expr{}, diag.New(diag.ErrUnsupportedOperation, loc, "plonk: unhandled ssa op %s", ins.Op)
}

func (b *builder) bitDecompose(val field.Element, bits int) []Cell {
	v := val.BigInt()
	cells := make([]Cell, bits)
	for i := 0; i < bits; i++ {
		bit := field.Zero()
		if v.Bit(i) == 1 {
			bit = field.One()
		}
		c := b.constRow(bit)
		b.boolCheck(c)
		cells[i] = c
	}
	return cells
}

func sumExpr(cells []Cell) Expr {
	e := exprConst(field.Zero())
	pow := field.One()
	two := field.FromInt64(2)
	for _, c := range cells {
		e = e.add(Expr{Const: field.Zero(), Terms: []term{{Coeff: pow, Cell: c}}})
		pow = pow.Mul(two)
	}
	return e
}

func (b *builder) lowerRangeCheck(ins ssa.Instr) (Expr, error) {
	x := b.exprOf[ins.Args[0]]
	xVal := b.eval(x)
	if ins.Bits <= LookupMaxBits {
		xCell := b.materialize(x)
		idx := xCell.Row
		b.sys.Rows[idx].Lookup = true
		_ = xVal
		return x, nil
	}
	cells := b.bitDecompose(xVal, ins.Bits)
	sum := sumExpr(cells)
	b.sys.unify(b.materialize(x), b.materialize(sum))
	return x, nil
}

// effectiveCompareBits mirrors internal/r1cs's builder method of the same
// name: CompareBits by default, or the larger (wider) of the two operands'
// known range_check bounds when both have one.
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

func (b *builder) lowerCompare(ins ssa.Instr) (Expr, error) {
	argA, argC := ins.Args[0], ins.Args[1]
	a := b.exprOf[argA]
	c := b.exprOf[argC]
	if ins.Op == ssa.OpIsLe {
		a, c = c, a
		argA, argC = argC, argA
	}
	bits := b.effectiveCompareBits(argA, argC)
	aVal := b.eval(a)
	cVal := b.eval(c)
	shift := field.One()
	for i := 0; i < bits; i++ {
		shift = shift.Add(shift)
	}
	diffExpr := a.add(c.neg()).add(exprConst(shift))
	diffVal := aVal.Sub(cVal).Add(shift)
	cells := b.bitDecompose(diffVal, bits+1)
	sum := sumExpr(cells)
	b.sys.unify(b.materialize(diffExpr), b.materialize(sum))
	topBit := exprCell(cells[bits])
	if ins.Op == ssa.OpIsLe {
		return topBit, nil
	}
	return exprConst(field.One()).add(topBit.neg()), nil
}

func (b *builder) lowerPoseidon(ins ssa.Instr) (Expr, error) {
	blocks := b.poseidonBlocks(ins.Args)
	state := make([]Expr, poseidon.Width)
	for i := range state {
		state[i] = exprConst(field.Zero())
	}
	for _, block := range blocks {
		for i := 0; i < poseidon.Rate; i++ {
			state[i] = state[i].add(block[i])
		}
		state = b.permute(state)
	}
	return state[0], nil
}

func (b *builder) poseidonBlocks(args []ssa.ID) [][poseidon.Rate]Expr {
	padded := make([]Expr, len(args))
	for i, a := range args {
		padded[i] = b.exprOf[a]
	}
	if len(padded) == 0 || len(padded)%poseidon.Rate != 0 {
		padded = append(padded, exprConst(field.One()))
	}
	for len(padded)%poseidon.Rate != 0 {
		padded = append(padded, exprConst(field.Zero()))
	}
	var blocks [][poseidon.Rate]Expr
	for i := 0; i < len(padded); i += poseidon.Rate {
		var blk [poseidon.Rate]Expr
		for j := 0; j < poseidon.Rate; j++ {
			blk[j] = padded[i+j]
		}
		blocks = append(blocks, blk)
	}
	return blocks
}

func (b *builder) permute(state []Expr) []Expr {
	for r := 0; r < poseidon.TotalRounds(); r++ {
		for i := range state {
			state[i] = state[i].add(exprConst(poseidon.RoundConstant(r, i)))
		}
		full := poseidon.IsFullRound(r)
		for i := range state {
			if i > 0 && !full {
				continue
			}
			state[i] = b.sbox(state[i])
		}
		next := make([]Expr, poseidon.Width)
		for i := range next {
			acc := exprConst(field.Zero())
			for j := range state {
				acc = acc.add(state[j].scale(poseidon.MDSEntry(i, j)))
			}
			next[i] = acc
		}
		state = next
	}
	return state
}

func (b *builder) sbox(x Expr) Expr {
	x2 := exprCell(b.mulGate(x, x))
	x4 := exprCell(b.mulGate(x2, x2))
	return exprCell(b.mulGate(x4, x))
}

// Check verifies every SelArith row's equation, every copy constraint,
// and every lookup-flagged row's value is within range; used by tests
// and by internal/proof before handing the system to a real backend.
func (s *System) Check(w *Witness) error {
	for i, row := range s.Rows {
		vals := w.Values[i]
		if row.SelArith {
			a, bb, c, d := vals[0], vals[1], vals[2], vals[3]
			if !a.Mul(bb).Add(c).Equal(d) {
				return fmt.Errorf("plonk: row %d gate unsatisfied", i)
			}
		}
		for col := Column(0); col < 4; col++ {
			if f := row.Fixed[col]; f != nil && !vals[col].Equal(*f) {
				return fmt.Errorf("plonk: row %d col %d fixed mismatch", i, col)
			}
		}
	}
	classes := map[Cell][]Cell{}
	for r := range s.Rows {
		for col := Column(0); col < 4; col++ {
			c := Cell{Row: r, Col: col}
			root := s.find(c)
			classes[root] = append(classes[root], c)
		}
	}
	for _, cells := range classes {
		if len(cells) < 2 {
			continue
		}
		first := w.get(cells[0])
		for _, c := range cells[1:] {
			if !w.get(c).Equal(first) {
				return fmt.Errorf("plonk: copy constraint violated at row %d col %d", c.Row, c.Col)
			}
		}
	}
	for i, row := range s.Rows {
		if !row.Lookup {
			continue
		}
		v := w.Values[i][ColD].BigInt()
		if v.BitLen() > LookupMaxBits {
			return fmt.Errorf("plonk: row %d value exceeds %d-bit lookup table", i, LookupMaxBits)
		}
	}
	return nil
}
