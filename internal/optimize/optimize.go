// Package optimize runs a fixed pipeline of SSA-to-SSA passes: constant
// folding, dead-code elimination, boolean propagation, and a taint
// analysis that reports under-constrained witnesses and unused inputs as
// warnings, never hard errors; they are lint-style diagnostics a caller
// may choose to reject.
package optimize

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"fieldvm/internal/field"
	"fieldvm/internal/ssa"
)

// Warning is a non-fatal finding from the taint pass.
type Warning struct {
	Kind    string // "under_constrained_witness" or "unused_input"
	Name    string
	Message string
}

func (w Warning) String() string { return fmt.Sprintf("%s: %s: %s", w.Kind, w.Name, w.Message) }

// Result is the optimized program plus whatever the taint pass flagged.
type Result struct {
	Program  *ssa.Program
	Warnings []Warning
}

// Run executes the full pipeline in order: fold, eliminate dead code,
// propagate booleans, then analyze taint on the final program.
func Run(prog *ssa.Program) Result {
	prog = foldConstants(prog)
	prog = eliminateDeadCode(prog)
	prog = propagateBooleans(prog)
	warnings := analyzeTaint(prog)
	return Result{Program: prog, Warnings: warnings}
}

func isArithmetic(op ssa.Op) bool {
	switch op {
	case ssa.OpAdd, ssa.OpSub, ssa.OpMul, ssa.OpDiv, ssa.OpIsEq, ssa.OpIsNeq:
		return true
	}
	return false
}

func evalBinaryConst(op ssa.Op, a, b field.Element) (field.Element, bool) {
	switch op {
	case ssa.OpAdd:
		return a.Add(b), true
	case ssa.OpSub:
		return a.Sub(b), true
	case ssa.OpMul:
		return a.Mul(b), true
	case ssa.OpDiv:
		return a.Div(b)
	case ssa.OpIsEq:
		return boolElement(a.Equal(b)), true
	case ssa.OpIsNeq:
		return boolElement(!a.Equal(b)), true
	}
	return field.Zero(), false
}

func boolElement(b bool) field.Element {
	if b {
		return field.One()
	}
	return field.Zero()
}

// foldConstants replaces an Add/Sub/Mul/Div/IsEq/IsNeq whose two operands
// are both OpConst, or a Neg of an OpConst, with a single OpConst carrying
// the computed value. Comparisons (IsLt/IsLe), boolean ops, Mux and
// algebraic identities such as x*1 are not folded. Division by
// the constant zero is left unfolded: it is a genuine circuit error that
// belongs to witness evaluation, not the optimizer, to report.
func foldConstants(prog *ssa.Program) *ssa.Program {
	out := &ssa.Program{Inputs: nil, ArrayShapes: prog.ArrayShapes}
	remap := make([]ssa.ID, len(prog.Instrs))

	for i, ins := range prog.Instrs {
		newArgs := make([]ssa.ID, len(ins.Args))
		for j, a := range ins.Args {
			newArgs[j] = remap[a]
		}
		folded := ins
		folded.Args = newArgs

		if isArithmetic(ins.Op) && len(newArgs) == 2 {
			ca := out.Instrs[newArgs[0]]
			cb := out.Instrs[newArgs[1]]
			if ca.Op == ssa.OpConst && cb.Op == ssa.OpConst {
				if v, ok := evalBinaryConst(ins.Op, ca.Const, cb.Const); ok {
					folded = ssa.Instr{Op: ssa.OpConst, Const: v, Name: ins.Name}
				}
			}
		} else if ins.Op == ssa.OpNeg && len(newArgs) == 1 {
			ca := out.Instrs[newArgs[0]]
			if ca.Op == ssa.OpConst {
				folded = ssa.Instr{Op: ssa.OpConst, Const: ca.Const.Neg(), Name: ins.Name}
			}
		}

		remap[i] = out.Add(folded)
	}

	for _, d := range prog.Inputs {
		out.Inputs = append(out.Inputs, ssa.InputDecl{Name: d.Name, Kind: d.Kind, ID: remap[d.ID]})
	}
	return out
}

// eliminateDeadCode drops any instruction never reachable, through the
// argument graph, from a side-effecting instruction (AssertEq/Assert/
// RangeCheck) or a declared input, keeping the program's observable
// constraints unchanged.
func eliminateDeadCode(prog *ssa.Program) *ssa.Program {
	live := make([]bool, len(prog.Instrs))
	var mark func(id ssa.ID)
	mark = func(id ssa.ID) {
		if live[id] {
			return
		}
		live[id] = true
		for _, a := range prog.Instrs[id].Args {
			mark(a)
		}
	}
	for id, ins := range prog.Instrs {
		switch ins.Op {
		case ssa.OpAssertEq, ssa.OpAssert, ssa.OpRangeCheck:
			mark(ssa.ID(id))
		}
	}
	for _, d := range prog.Inputs {
		mark(d.ID)
	}

	out := &ssa.Program{Inputs: nil, ArrayShapes: prog.ArrayShapes}
	remap := make([]ssa.ID, len(prog.Instrs))
	for id, ins := range prog.Instrs {
		if !live[id] {
			continue
		}
		newArgs := make([]ssa.ID, len(ins.Args))
		for i, a := range ins.Args {
			newArgs[i] = remap[a]
		}
		newIns := ins
		newIns.Args = newArgs
		remap[id] = out.Add(newIns)
	}
	for _, d := range prog.Inputs {
		out.Inputs = append(out.Inputs, ssa.InputDecl{Name: d.Name, Kind: d.Kind, ID: remap[d.ID]})
	}
	return out
}

func isBooleanProducing(op ssa.Op) bool {
	switch op {
	case ssa.OpIsEq, ssa.OpIsNeq, ssa.OpIsLt, ssa.OpIsLe, ssa.OpNot, ssa.OpAnd, ssa.OpOr:
		return true
	}
	return false
}

// propagateBooleans rewrites `mux(cond, x, y)`-shaped instructions into
// equivalent cheaper arithmetic when cond is known boolean-producing and
// x/y are the constants 1/0 (or 0/1): `mux(c, 1, 0)` becomes `c` itself,
// and `mux(c, 0, 1)` becomes `not(c)`, both saving a constraint downstream
// in the R1CS and Plonk back-ends.
func propagateBooleans(prog *ssa.Program) *ssa.Program {
	out := &ssa.Program{Inputs: nil, ArrayShapes: prog.ArrayShapes}
	remap := make([]ssa.ID, len(prog.Instrs))

	isConst := func(origID ssa.ID, want field.Element) bool {
		ins := out.Instrs[remap[origID]]
		return ins.Op == ssa.OpConst && ins.Const.Equal(want)
	}

	for id, ins := range prog.Instrs {
		newArgs := make([]ssa.ID, len(ins.Args))
		for i, a := range ins.Args {
			newArgs[i] = remap[a]
		}
		newIns := ins
		newIns.Args = newArgs

		if ins.Op == ssa.OpMux && len(ins.Args) == 3 && isBooleanProducing(prog.Instrs[ins.Args[0]].Op) {
			cond := newArgs[0]
			if isConst(ins.Args[1], field.One()) && isConst(ins.Args[2], field.Zero()) {
				remap[id] = cond
				continue
			}
			if isConst(ins.Args[1], field.Zero()) && isConst(ins.Args[2], field.One()) {
				remap[id] = out.Add(ssa.Instr{Op: ssa.OpNot, Args: []ssa.ID{cond}})
				continue
			}
		}

		remap[id] = out.Add(newIns)
	}

	for _, d := range prog.Inputs {
		out.Inputs = append(out.Inputs, ssa.InputDecl{Name: d.Name, Kind: d.Kind, ID: remap[d.ID]})
	}
	return out
}

// analyzeTaint flags witness inputs that never reach an assertion (an
// under-constrained witness: the prover could supply any value for it
// without the constraint system noticing) and any input never read.
func analyzeTaint(prog *ssa.Program) []Warning {
	reachesAssert := make([]bool, len(prog.Instrs))
	used := make([]bool, len(prog.Instrs))

	dependents := make(map[ssa.ID][]ssa.ID, len(prog.Instrs))
	for id, ins := range prog.Instrs {
		for _, a := range ins.Args {
			dependents[a] = append(dependents[a], ssa.ID(id))
			used[a] = true
		}
	}

	// AssertEq/Assert/RangeCheck seed the "constrained" set; it propagates
	// backward, upstream through each instruction's own Args, toward the
	// inputs that produced it.
	var markUpstream func(id ssa.ID)
	markUpstream = func(id ssa.ID) {
		if reachesAssert[id] {
			return
		}
		reachesAssert[id] = true
		for _, a := range prog.Instrs[id].Args {
			markUpstream(a)
		}
	}
	for id, ins := range prog.Instrs {
		switch ins.Op {
		case ssa.OpAssertEq, ssa.OpAssert, ssa.OpRangeCheck:
			markUpstream(ssa.ID(id))
		}
	}

	var warnings []Warning
	for _, d := range prog.Inputs {
		if !used[d.ID] && len(dependents[d.ID]) == 0 {
			warnings = append(warnings, Warning{
				Kind: "unused_input", Name: d.Name,
				Message: "declared input is never referenced",
			})
			continue
		}
		if d.Kind == ssa.Witness && !reachesAssert[d.ID] {
			warnings = append(warnings, Warning{
				Kind: "under_constrained_witness", Name: d.Name,
				Message: "witness value never reaches an assertion or range check",
			})
		}
	}

	slices.SortFunc(warnings, func(a, b Warning) int { return strings.Compare(a.Name, b.Name) })
	return warnings
}
