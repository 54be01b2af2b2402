package proof

import (
	"github.com/consensys/gnark/frontend"

	"fieldvm/internal/diag"
	"fieldvm/internal/field"
	"fieldvm/internal/poseidon"
	"fieldvm/internal/ssa"
)

// circuit replays an SSA program (internal/ssa) through a gnark
// frontend.API, so the Groth16 and Plonk handlers both compile the exact
// same relation that internal/r1cs and internal/plonk compile directly;
// gnark's own arithmetization is the one actually fed to Setup/Prove, the
// hand-rolled back-ends serve export and cost-estimation. Field widths
// for Public/Witness are fixed at construction time, matching how many
// `public`/`witness` declarations the program has.
type circuit struct {
	Public  []frontend.Variable `gnark:",public"`
	Witness []frontend.Variable

	prog *ssa.Program
}

func newCircuit(prog *ssa.Program) *circuit {
	c := &circuit{prog: prog}
	for _, d := range prog.Inputs {
		switch d.Kind {
		case ssa.Public:
			c.Public = append(c.Public, nil)
		case ssa.Witness:
			c.Witness = append(c.Witness, nil)
		}
	}
	return c
}

func (c *circuit) assign(publicInputs, witnessInputs map[string]field.Element) {
	pi, wi := 0, 0
	for _, d := range c.prog.Inputs {
		switch d.Kind {
		case ssa.Public:
			c.Public[pi] = publicInputs[d.Name].BigInt()
			pi++
		case ssa.Witness:
			c.Witness[wi] = witnessInputs[d.Name].BigInt()
			wi++
		}
	}
}

// Define implements frontend.Circuit. It interprets the program exactly
// once per compile, producing gnark constraints for every op instead of
// evaluating to a concrete value.
func (c *circuit) Define(api frontend.API) error {
	values := make([]frontend.Variable, len(c.prog.Instrs))
	bound := make([]bool, len(c.prog.Instrs))
	// rangeBits[id] is the bit width ins id was range-checked to, or 0 if
	// it never passed through an OpRangeCheck; defineCompare uses it to
	// narrow below the CompareBits default the same way internal/r1cs and
	// internal/plonk do.
	rangeBits := make([]int, len(c.prog.Instrs))

	pi, wi := 0, 0
	for _, d := range c.prog.Inputs {
		switch d.Kind {
		case ssa.Public:
			values[d.ID] = c.Public[pi]
			pi++
		case ssa.Witness:
			values[d.ID] = c.Witness[wi]
			wi++
		}
		bound[d.ID] = true
	}

	for id, ins := range c.prog.Instrs {
		if bound[id] {
			continue
		}
		v, err := defineOne(api, values, rangeBits, ins)
		if err != nil {
			return err
		}
		values[id] = v
		if ins.Op == ssa.OpRangeCheck {
			rangeBits[id] = ins.Bits
		}
	}
	return nil
}

func defineOne(api frontend.API, values []frontend.Variable, rangeBits []int, ins ssa.Instr) (frontend.Variable, error) {
	arg := func(i int) frontend.Variable { return values[ins.Args[i]] }
	loc := diag.Location{Function: "proof.circuit"}

	switch ins.Op {
	case ssa.OpConst:
		return ins.Const.BigInt(), nil
	case ssa.OpAdd:
		return api.Add(arg(0), arg(1)), nil
	case ssa.OpSub:
		return api.Sub(arg(0), arg(1)), nil
	case ssa.OpNeg:
		return api.Neg(arg(0)), nil
	case ssa.OpMul:
		return api.Mul(arg(0), arg(1)), nil
	case ssa.OpDiv:
		return api.Div(arg(0), arg(1)), nil
	case ssa.OpMux:
		return api.Select(arg(0), arg(1), arg(2)), nil
	case ssa.OpAssertEq:
		api.AssertIsEqual(arg(0), arg(1))
		return 0, nil
	case ssa.OpAssert:
		api.AssertIsEqual(arg(0), 1)
		return 1, nil
	case ssa.OpNot:
		return api.Sub(1, arg(0)), nil
	case ssa.OpAnd:
		return api.And(arg(0), arg(1)), nil
	case ssa.OpOr:
		return api.Or(arg(0), arg(1)), nil
	case ssa.OpIsEq:
		return api.IsZero(api.Sub(arg(0), arg(1))), nil
	case ssa.OpIsNeq:
		return api.Sub(1, api.IsZero(api.Sub(arg(0), arg(1)))), nil
	case ssa.OpIsLt, ssa.OpIsLe:
		return defineCompare(api, ins, rangeBits, arg(0), arg(1)), nil
	case ssa.OpRangeCheck:
		bits := api.ToBinary(arg(0), ins.Bits)
		api.AssertIsEqual(api.FromBinary(bits...), arg(0))
		return arg(0), nil
	case ssa.OpPoseidonHash:
		elems := make([]frontend.Variable, len(ins.Args))
		for i := range ins.Args {
			elems[i] = arg(i)
		}
		return definePoseidon(api, elems), nil
	}
	return nil, diag.New(diag.ErrUnsupportedOperation, loc, "proof circuit: unhandled ssa op %s", ins.Op)
}

// effectiveCompareBits returns CompareBits by default, or the larger of
// argA/argC's known range-checked widths, when both have already passed an
// OpRangeCheck; mirrors internal/r1cs's and internal/plonk's builder method
// of the same name.
func effectiveCompareBits(rangeBits []int, argA, argC ssa.ID) int {
	boundA, boundC := rangeBits[argA], rangeBits[argC]
	if boundA == 0 || boundC == 0 {
		return CompareBits
	}
	bound := boundA
	if boundC > bound {
		bound = boundC
	}
	if bound >= CompareBits {
		return CompareBits
	}
	return bound
}

// defineCompare mirrors internal/r1cs.lowerCompare's shifted-bit-decomposition
// trick: diff = 2^bits + a - b is decomposed into bits+1 bits; the top bit
// is 1 iff a >= b.
func defineCompare(api frontend.API, ins ssa.Instr, rangeBits []int, a, b frontend.Variable) frontend.Variable {
	argA, argC := ins.Args[0], ins.Args[1]
	if ins.Op == ssa.OpIsLe {
		a, b = b, a
		argA, argC = argC, argA
	}
	bits := effectiveCompareBits(rangeBits, argA, argC)
	shift := frontend.Variable(1)
	for i := 0; i < bits; i++ {
		shift = api.Add(shift, shift)
	}
	diff := api.Add(api.Sub(a, b), shift)
	bitVars := api.ToBinary(diff, bits+1)
	api.AssertIsEqual(api.FromBinary(bitVars...), diff)
	top := bitVars[bits]
	if ins.Op == ssa.OpIsLe {
		return top
	}
	return api.Sub(1, top)
}

// definePoseidon replays internal/poseidon.Hash's sponge construction
// (same padding, same multi-block absorption) gate by gate, against the
// same round constants and MDS matrix internal/poseidon derives, so a
// proof produced here can never disagree with the out-of-circuit native
// the VM exposes to ordinary (non-prove) code.
func definePoseidon(api frontend.API, inputs []frontend.Variable) frontend.Variable {
	blocks := poseidonBlocks(api, inputs)
	state := [poseidon.Width]frontend.Variable{0, 0, 0}
	for _, block := range blocks {
		for i := 0; i < poseidon.Rate; i++ {
			state[i] = api.Add(state[i], block[i])
		}
		state = poseidonPermute(api, state)
	}
	return state[0]
}

func poseidonBlocks(api frontend.API, inputs []frontend.Variable) [][poseidon.Rate]frontend.Variable {
	padded := make([]frontend.Variable, len(inputs))
	copy(padded, inputs)
	if len(padded) == 0 || len(padded)%poseidon.Rate != 0 {
		padded = append(padded, frontend.Variable(1))
	}
	for len(padded)%poseidon.Rate != 0 {
		padded = append(padded, frontend.Variable(0))
	}
	blocks := make([][poseidon.Rate]frontend.Variable, len(padded)/poseidon.Rate)
	for i := range blocks {
		for j := 0; j < poseidon.Rate; j++ {
			blocks[i][j] = padded[i*poseidon.Rate+j]
		}
	}
	return blocks
}

func poseidonSbox(api frontend.API, x frontend.Variable) frontend.Variable {
	x2 := api.Mul(x, x)
	x4 := api.Mul(x2, x2)
	return api.Mul(x4, x)
}

func poseidonPermute(api frontend.API, state [poseidon.Width]frontend.Variable) [poseidon.Width]frontend.Variable {
	for round := 0; round < poseidon.TotalRounds(); round++ {
		for i := range state {
			state[i] = api.Add(state[i], poseidon.RoundConstant(round, i).BigInt())
		}
		if poseidon.IsFullRound(round) {
			for i := range state {
				state[i] = poseidonSbox(api, state[i])
			}
		} else {
			state[0] = poseidonSbox(api, state[0])
		}
		var next [poseidon.Width]frontend.Variable
		for i := 0; i < poseidon.Width; i++ {
			acc := frontend.Variable(0)
			for j := 0; j < poseidon.Width; j++ {
				acc = api.Add(acc, api.Mul(poseidon.MDSEntry(i, j).BigInt(), state[j]))
			}
			next[i] = acc
		}
		state = next
	}
	return state
}
