// Package lower translates the typed syntax tree (internal/ast) into the
// flat SSA form (internal/ssa) that both constraint back-ends consume.
// Let-bindings become SSA aliases, if/else becomes a Mux over both
// branches (both sides are always evaluated; a circuit has no
// control-flow divergence), for-loops are unrolled up to a configured
// ceiling, and function calls are inlined with a recursion guard.
// while/break/continue/return are rejected inside
// a circuit context, since none of them have a constant-size constraint
// encoding.
package lower

import (
	"fmt"

	"fieldvm/internal/ast"
	"fieldvm/internal/diag"
	"fieldvm/internal/field"
	"fieldvm/internal/ssa"
)

// Config bounds the lowering pass. UnrollCeiling caps the total number of
// iterations any single for-loop may unroll to, guarding against runaway
// constraint-system size.
type Config struct {
	UnrollCeiling int
}

// DefaultConfig is a generous ceiling suitable for typical worked examples.
func DefaultConfig() Config { return Config{UnrollCeiling: 1 << 16} }

// binding is what a name in scope resolves to: either a single scalar SSA
// value or a fixed-size array of them.
type binding struct {
	scalar ssa.ID
	array  []ssa.ID
	isArr  bool
}

type scope map[string]binding

func (s scope) clone() scope {
	out := make(scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Lowerer holds the state threaded through one Build call.
type Lowerer struct {
	cfg     Config
	prog    *ssa.Program
	scope   scope
	funcs   map[string]*ast.FuncDecl
	inlined map[string]bool // recursion guard: names currently being inlined
	fn      string          // current function name, for diagnostics
}

// New creates a Lowerer for a fresh circuit body.
func New(cfg Config) *Lowerer {
	return &Lowerer{
		cfg:     cfg,
		prog:    &ssa.Program{ArrayShapes: map[string]int{}},
		scope:   scope{},
		funcs:   map[string]*ast.FuncDecl{},
		inlined: map[string]bool{},
		fn:      "<circuit>",
	}
}

// Build lowers a top-level block (a `prove { }` body, or a whole program
// compiled directly as a circuit) into an ssa.Program.
func Build(cfg Config, body *ast.Block) (prog *ssa.Program, err error) {
	defer recoverBuild(&err)
	l := New(cfg)
	// First pass: hoist function declarations so forward references work.
	for _, st := range body.Stmts {
		if fd, ok := st.(*ast.FuncDecl); ok {
			l.funcs[fd.Name] = fd
		}
	}
	l.lowerBlock(body)
	return l.prog, nil
}

func (l *Lowerer) loc(n ast.Node) diag.Location {
	return diag.Location{Function: l.fn, Line: n.Position().Line}
}

func (l *Lowerer) err(kind diag.Kind, n ast.Node, format string, args ...any) error {
	return diag.New(kind, l.loc(n), format, args...)
}

// lowerBlock lowers every statement in sequence, returning the value of
// the last ExprStmt (a block's implicit result), or false if the block
// ends with anything else.
func (l *Lowerer) lowerBlock(b *ast.Block) (ssa.ID, bool) {
	var last ssa.ID
	var have bool
	for _, st := range b.Stmts {
		id, ok, err := l.lowerStmt(st)
		if err != nil {
			panicErr(err)
		}
		last, have = id, ok
	}
	return last, have
}

// circuitError lets lowerStmt/lowerExpr propagate an error up through the
// unrecovered panic/recover pair Build uses internally, keeping the public
// signature of lowerBlock/lowerExpr free of a second return value at every
// call site. This mirrors how recursive-descent lowerers in the reference
// pack thread a single terminal error out of deep recursion without
// plumbing `error` through every helper.
type circuitErr struct{ err error }

func panicErr(err error) {
	if err != nil {
		panic(circuitErr{err})
	}
}

// Build recovers a circuitErr panic and turns it back into a normal error.
func recoverBuild(errOut *error) {
	if r := recover(); r != nil {
		if ce, ok := r.(circuitErr); ok {
			*errOut = ce.err
			return
		}
		panic(r)
	}
}

func (l *Lowerer) lowerStmt(n ast.Node) (id ssa.ID, have bool, err error) {
	defer recoverBuild(&err)

	switch s := n.(type) {
	case *ast.LetStmt:
		v := l.lowerExpr(s.Value)
		l.bindValue(s.Name, v)
		return 0, false, nil

	case *ast.AssignStmt:
		v := l.lowerExpr(s.Value)
		l.bindValue(s.Name, v)
		return 0, false, nil

	case *ast.PublicDecl:
		l.declareInput(s.Name, s.Count, ssa.Public, n)
		return 0, false, nil

	case *ast.WitnessDecl:
		l.declareInput(s.Name, s.Count, ssa.Witness, n)
		return 0, false, nil

	case *ast.FuncDecl:
		l.funcs[s.Name] = s
		return 0, false, nil

	case *ast.ForStmt:
		l.lowerFor(s)
		return 0, false, nil

	case *ast.WhileStmt, *ast.BreakStmt, *ast.ContinueStmt, *ast.ReturnStmt:
		panicErr(l.err(diag.ErrUnsupportedOperation, n,
			"%T is not supported inside a circuit body", n))
		return 0, false, nil

	case *ast.ExprStmt:
		v := l.lowerExpr(s.X)
		return v.scalar, true, nil

	default:
		panicErr(l.err(diag.ErrUnsupportedOperation, n, "unrecognized statement %T", n))
		return 0, false, nil
	}
}

func (l *Lowerer) bindValue(name string, v exprValue) {
	if v.isArr {
		l.scope[name] = binding{array: v.array, isArr: true}
	} else {
		l.scope[name] = binding{scalar: v.scalar}
	}
}

func (l *Lowerer) declareInput(name string, count int, kind ssa.InputKind, n ast.Node) {
	if _, exists := l.scope[name]; exists {
		panicErr(l.err(diag.ErrDuplicateInput, n, "%q already declared", name))
	}
	if count <= 0 {
		id := l.prog.Add(ssa.Instr{Op: ssa.OpInput, Name: name})
		l.prog.Inputs = append(l.prog.Inputs, ssa.InputDecl{Name: name, Kind: kind, ID: id})
		l.scope[name] = binding{scalar: id}
		return
	}
	ids := make([]ssa.ID, count)
	for i := 0; i < count; i++ {
		elName := fmt.Sprintf("%s_%d", name, i)
		id := l.prog.Add(ssa.Instr{Op: ssa.OpInput, Name: elName})
		l.prog.Inputs = append(l.prog.Inputs, ssa.InputDecl{Name: elName, Kind: kind, ID: id})
		ids[i] = id
	}
	l.prog.ArrayShapes[name] = count
	l.scope[name] = binding{array: ids, isArr: true}
}

func (l *Lowerer) lowerFor(s *ast.ForStmt) {
	lo, loOK := constInt(s.Lo)
	hi, hiOK := constInt(s.Hi)
	if !loOK || !hiOK {
		panicErr(l.err(diag.ErrUnsupportedOperation, s, "for-loop bounds must be compile-time constants"))
	}
	if hi < lo {
		return
	}
	count := hi - lo
	if count > int64(l.cfg.UnrollCeiling) {
		panicErr(l.err(diag.ErrExcessiveUnroll, s, "loop of %d iterations exceeds ceiling %d", count, l.cfg.UnrollCeiling))
	}
	saved, hadSaved := l.scope[s.Var]
	for i := lo; i < hi; i++ {
		id := l.prog.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(i)})
		l.scope[s.Var] = binding{scalar: id}
		l.lowerBlock(s.Body)
	}
	if hadSaved {
		l.scope[s.Var] = saved
	} else {
		delete(l.scope, s.Var)
	}
}

func constInt(n ast.Node) (int64, bool) {
	lit, ok := n.(*ast.IntLit)
	if !ok {
		return 0, false
	}
	return lit.Value, true
}

// exprValue is the lowered result of an expression: either a scalar SSA
// id or a fixed-size array of them (arrays never nest).
type exprValue struct {
	scalar ssa.ID
	array  []ssa.ID
	isArr  bool
}

func scalarValue(id ssa.ID) exprValue { return exprValue{scalar: id} }

func (l *Lowerer) lowerExpr(n ast.Node) exprValue {
	switch e := n.(type) {
	case *ast.IntLit:
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(e.Value)}))

	case *ast.BoolLit:
		v := int64(0)
		if e.Value {
			v = 1
		}
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(v)}))

	case *ast.Ident:
		b, ok := l.scope[e.Name]
		if !ok {
			panicErr(l.err(diag.ErrUnknownIdentifier, n, "%q", e.Name))
		}
		if b.isArr {
			return exprValue{array: b.array, isArr: true}
		}
		return scalarValue(b.scalar)

	case *ast.ArrayLit:
		ids := make([]ssa.ID, len(e.Elements))
		for i, el := range e.Elements {
			v := l.lowerExpr(el)
			if v.isArr {
				panicErr(l.err(diag.ErrNestedArray, el, "array literals cannot contain arrays"))
			}
			ids[i] = v.scalar
		}
		return exprValue{array: ids, isArr: true}

	case *ast.IndexExpr:
		base := l.lowerExpr(e.Base)
		if !base.isArr {
			panicErr(l.err(diag.ErrUnsupportedOperation, e, "indexed value is not an array"))
		}
		idx, ok := constInt(e.Index)
		if !ok {
			panicErr(l.err(diag.ErrNonConstantIndex, e, "array index must be a compile-time constant"))
		}
		if idx < 0 || int(idx) >= len(base.array) {
			panicErr(l.err(diag.ErrNonConstantIndex, e, "index %d out of range for array of length %d", idx, len(base.array)))
		}
		return scalarValue(base.array[idx])

	case *ast.UnaryExpr:
		x := l.lowerExpr(e.X).scalar
		switch e.Op {
		case ast.OpNeg:
			return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpNeg, Args: []ssa.ID{x}}))
		case ast.OpNot:
			return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpNot, Args: []ssa.ID{x}}))
		}

	case *ast.BinaryExpr:
		return l.lowerBinary(e)

	case *ast.IfExpr:
		return l.lowerIf(e)

	case *ast.CallExpr:
		return l.lowerCall(e)

	case *ast.ProveExpr:
		panicErr(l.err(diag.ErrUnsupportedOperation, e, "nested prove blocks are not supported"))

	case *ast.EmptyMapLit:
		panicErr(l.err(diag.ErrUnsupportedOperation, e, "map values are not supported inside a circuit body"))
	}
	panicErr(l.err(diag.ErrUnsupportedOperation, n, "unrecognized expression %T", n))
	return exprValue{}
}

func (l *Lowerer) lowerBinary(e *ast.BinaryExpr) exprValue {
	lv := l.lowerExpr(e.L).scalar
	rv := l.lowerExpr(e.R).scalar
	bin := func(op ssa.Op) exprValue { return scalarValue(l.prog.Add(ssa.Instr{Op: op, Args: []ssa.ID{lv, rv}})) }
	switch e.Op {
	case ast.OpAdd:
		return bin(ssa.OpAdd)
	case ast.OpSub:
		return bin(ssa.OpSub)
	case ast.OpMul:
		return bin(ssa.OpMul)
	case ast.OpDiv:
		return bin(ssa.OpDiv)
	case ast.OpEq:
		return bin(ssa.OpIsEq)
	case ast.OpNeq:
		return bin(ssa.OpIsNeq)
	case ast.OpLt:
		return bin(ssa.OpIsLt)
	case ast.OpLe:
		return bin(ssa.OpIsLe)
	case ast.OpGt:
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpIsLt, Args: []ssa.ID{rv, lv}}))
	case ast.OpGe:
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpIsLe, Args: []ssa.ID{rv, lv}}))
	case ast.OpAnd:
		return bin(ssa.OpAnd)
	case ast.OpOr:
		return bin(ssa.OpOr)
	case ast.OpPow:
		exp, ok := constInt(e.R)
		if !ok || exp < 0 {
			panicErr(l.err(diag.ErrUnsupportedOperation, e, "`**` exponent must be a non-negative compile-time constant"))
		}
		return scalarValue(l.powUnroll(lv, exp))
	}
	panicErr(l.err(diag.ErrUnsupportedOperation, e, "unrecognized binary operator"))
	return exprValue{}
}

// powUnroll implements x**n as n-1 chained multiplications (x*x*...*x),
// and x**0 as the constant 1; `**` is syntactic sugar rather than a
// circuit primitive.
func (l *Lowerer) powUnroll(base ssa.ID, exp int64) ssa.ID {
	if exp == 0 {
		return l.prog.Add(ssa.Instr{Op: ssa.OpConst, Const: field.One()})
	}
	result := base
	for i := int64(1); i < exp; i++ {
		result = l.prog.Add(ssa.Instr{Op: ssa.OpMul, Args: []ssa.ID{result, base}})
	}
	return result
}

// lowerIf lowers both branches unconditionally (a circuit has no runtime
// control flow) and muxes both the expression's own value and every
// variable either branch reassigned.
func (l *Lowerer) lowerIf(e *ast.IfExpr) exprValue {
	cond := l.lowerExpr(e.Cond).scalar

	before := l.scope.clone()

	l.scope = before.clone()
	thenVal, thenHas := l.lowerBlock(e.Then)
	thenScope := l.scope

	l.scope = before.clone()
	var elseVal ssa.ID
	var elseHas bool
	if e.Else != nil {
		elseVal, elseHas = l.lowerBlock(e.Else)
	}
	elseScope := l.scope

	merged := before.clone()
	names := map[string]bool{}
	for k := range thenScope {
		names[k] = true
	}
	for k := range elseScope {
		names[k] = true
	}
	for name := range names {
		tb, tOK := thenScope[name]
		eb, eOK := elseScope[name]
		base := before[name]
		if !tOK {
			tb = base
		}
		if !eOK {
			eb = base
		}
		if tb.isArr || eb.isArr {
			// Arrays are structural (indices resolved at compile time);
			// a branch either doesn't touch the name or rebinds the whole
			// array, so prefer whichever branch actually assigned it.
			if tOK {
				merged[name] = tb
			} else if eOK {
				merged[name] = eb
			} else {
				merged[name] = base
			}
			continue
		}
		if tb.scalar == eb.scalar {
			merged[name] = tb
			continue
		}
		muxed := l.prog.Add(ssa.Instr{Op: ssa.OpMux, Args: []ssa.ID{cond, tb.scalar, eb.scalar}})
		merged[name] = binding{scalar: muxed}
	}
	l.scope = merged

	if !thenHas && !elseHas {
		return exprValue{}
	}
	if !thenHas {
		thenVal = l.prog.Add(ssa.Instr{Op: ssa.OpConst, Const: field.Zero()})
	}
	if !elseHas {
		elseVal = l.prog.Add(ssa.Instr{Op: ssa.OpConst, Const: field.Zero()})
	}
	return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpMux, Args: []ssa.ID{cond, thenVal, elseVal}}))
}

var builtinArity = map[string]int{
	"assert_eq": 2, "assert": 1, "poseidon": 2, "mux": 3, "range_check": 2,
}

func (l *Lowerer) lowerCall(e *ast.CallExpr) exprValue {
	switch e.Callee {
	case "assert_eq":
		a := l.lowerExpr(e.Args[0]).scalar
		b := l.lowerExpr(e.Args[1]).scalar
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpAssertEq, Args: []ssa.ID{a, b}}))

	case "assert":
		cond := l.lowerExpr(e.Args[0]).scalar
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpAssert, Args: []ssa.ID{cond}}))

	case "mux":
		cond := l.lowerExpr(e.Args[0]).scalar
		a := l.lowerExpr(e.Args[1]).scalar
		b := l.lowerExpr(e.Args[2]).scalar
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpMux, Args: []ssa.ID{cond, a, b}}))

	case "range_check":
		x := l.lowerExpr(e.Args[0]).scalar
		bits, ok := constInt(e.Args[1])
		if !ok {
			panicErr(l.err(diag.ErrUnsupportedOperation, e, "range_check bit width must be a compile-time constant"))
		}
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpRangeCheck, Args: []ssa.ID{x}, Bits: int(bits)}))

	case "poseidon":
		var args []ssa.ID
		for _, a := range e.Args {
			args = append(args, flatten(l.lowerExpr(a))...)
		}
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpPoseidonHash, Args: args}))

	case "poseidon_many":
		var args []ssa.ID
		for _, a := range e.Args {
			args = append(args, flatten(l.lowerExpr(a))...)
		}
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpPoseidonHash, Args: args}))

	case "merkle_verify":
		return l.lowerMerkleVerify(e)

	case "len":
		v := l.lowerExpr(e.Args[0])
		n := int64(1)
		if v.isArr {
			n = int64(len(v.array))
		}
		return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(n)}))
	}

	if fd, ok := l.funcs[e.Callee]; ok {
		return l.inlineCall(fd, e)
	}
	panicErr(l.err(diag.ErrUnknownBuiltin, e, "%q", e.Callee))
	return exprValue{}
}

func flatten(v exprValue) []ssa.ID {
	if v.isArr {
		return v.array
	}
	return []ssa.ID{v.scalar}
}

// lowerMerkleVerify checks a Merkle inclusion proof: args are (leaf,
// siblings array, index-bits array, root). At each level the current
// accumulator and the sibling are ordered by the corresponding index bit
// (0 = accumulator is the left child) before hashing with Poseidon.
func (l *Lowerer) lowerMerkleVerify(e *ast.CallExpr) exprValue {
	if len(e.Args) != 4 {
		panicErr(l.err(diag.ErrUnsupportedOperation, e, "merkle_verify expects (leaf, siblings, index_bits, root)"))
	}
	leaf := l.lowerExpr(e.Args[0]).scalar
	siblings := flatten(l.lowerExpr(e.Args[1]))
	bits := flatten(l.lowerExpr(e.Args[2]))
	root := l.lowerExpr(e.Args[3]).scalar
	if len(siblings) != len(bits) {
		panicErr(l.err(diag.ErrUnsupportedOperation, e, "merkle_verify siblings/index_bits length mismatch"))
	}
	cur := leaf
	for i, sib := range siblings {
		bit := bits[i]
		left := l.prog.Add(ssa.Instr{Op: ssa.OpMux, Args: []ssa.ID{bit, sib, cur}})
		right := l.prog.Add(ssa.Instr{Op: ssa.OpMux, Args: []ssa.ID{bit, cur, sib}})
		cur = l.prog.Add(ssa.Instr{Op: ssa.OpPoseidonHash, Args: []ssa.ID{left, right}})
	}
	return scalarValue(l.prog.Add(ssa.Instr{Op: ssa.OpIsEq, Args: []ssa.ID{cur, root}}))
}

func (l *Lowerer) inlineCall(fd *ast.FuncDecl, call *ast.CallExpr) exprValue {
	if l.inlined[fd.Name] {
		panicErr(l.err(diag.ErrRecursiveInline, call, "%q", fd.Name))
	}
	if len(call.Args) != len(fd.Params) {
		panicErr(l.err(diag.ErrUnsupportedOperation, call,
			"%q expects %d argument(s), got %d", fd.Name, len(fd.Params), len(call.Args)))
	}
	args := make([]exprValue, len(call.Args))
	for i, a := range call.Args {
		args[i] = l.lowerExpr(a)
	}

	saved := l.scope
	savedFn := l.fn
	l.scope = saved.clone()
	for i, p := range fd.Params {
		l.bindValue(p, args[i])
	}
	l.inlined[fd.Name] = true
	l.fn = fd.Name

	val, has := l.lowerBlock(fd.Body)

	l.inlined[fd.Name] = false
	l.fn = savedFn
	l.scope = saved

	if !has {
		return exprValue{}
	}
	return scalarValue(val)
}
