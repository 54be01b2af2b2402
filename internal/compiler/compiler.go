// Package compiler is the bytecode-compiler rail of FieldVM's two-rail
// pipeline: it walks the same typed syntax tree (internal/ast) the
// SSA-lowering rail (internal/lower) consumes, but emits register-machine
// bytecode (internal/bytecode) for internal/vm to execute instead of a
// constraint system. Unlike the circuit rail, control flow here is real:
// if/while/for compile to actual jumps, not a Mux over both branches, and
// while/break/continue/return (rejected inside a circuit, per
// internal/lower's doc comment) are all supported.
package compiler

import (
	"fieldvm/internal/ast"
	"fieldvm/internal/bytecode"
	"fieldvm/internal/diag"
	"fieldvm/internal/heap"
	"fieldvm/internal/value"
)

// Compile compiles a top-level program into table, returning the index of
// its entry prototype ("main", arity 0). String literals and global names
// are interned directly into h, so the returned table can only be run
// against a VM sharing this exact heap (mirrors internal/vm's own
// assumption that a prototype's Constants already hold resolved heap
// values).
func Compile(h *heap.Heap, table *bytecode.Table, body *ast.Block) (int, error) {
	proto := &bytecode.Prototype{Name: "main"}
	idx := table.Add(proto)
	fc := newFuncCompiler(h, table, proto, nil)
	blk := fc.pushBlock()
	if err := fc.compileStmts(blk, body.Stmts); err != nil {
		return 0, err
	}
	fc.closeBlock(blk)
	fc.emit(bytecode.OpReturn, 0, 0, 0)
	proto.MaxSlots = int(fc.maxReg)
	return idx, nil
}

// loopCtx tracks the patch lists for break/continue inside one enclosing
// loop.
type loopCtx struct {
	breaks    []int
	continues []int
}

// blockScope is one lexical block within a function: the register each
// name it declares lives in, and the register the block started at (for
// OpCloseUpvals and register reuse on exit).
type blockScope struct {
	base   int32
	locals map[string]int32
}

// funcCompiler holds the state threaded through compiling one function
// prototype (top-level "main", or one FuncDecl, possibly nested).
type funcCompiler struct {
	h      *heap.Heap
	table  *bytecode.Table
	proto  *bytecode.Prototype
	parent *funcCompiler

	blocks []*blockScope
	loops  []*loopCtx

	nextReg int32
	maxReg  int32

	upvalIndex map[string]int32 // name -> already-resolved upvalue index in this func
}

func newFuncCompiler(h *heap.Heap, table *bytecode.Table, proto *bytecode.Prototype, parent *funcCompiler) *funcCompiler {
	return &funcCompiler{
		h:          h,
		table:      table,
		proto:      proto,
		parent:     parent,
		upvalIndex: map[string]int32{},
	}
}

func (fc *funcCompiler) pushBlock() *blockScope {
	b := &blockScope{base: fc.nextReg, locals: map[string]int32{}}
	fc.blocks = append(fc.blocks, b)
	return b
}

// closeBlock emits OpCloseUpvals for every register the block owned (so any
// closure that captured one gets a stable closed value) and reclaims the
// registers for reuse.
func (fc *funcCompiler) closeBlock(b *blockScope) {
	if fc.nextReg > b.base {
		fc.emit(bytecode.OpCloseUpvals, b.base, 0, 0)
	}
	fc.nextReg = b.base
	fc.blocks = fc.blocks[:len(fc.blocks)-1]
}

func (fc *funcCompiler) alloc() int32 {
	r := fc.nextReg
	fc.nextReg++
	if fc.nextReg > fc.maxReg {
		fc.maxReg = fc.nextReg
	}
	return r
}

func (fc *funcCompiler) freeTo(mark int32) { fc.nextReg = mark }

func (fc *funcCompiler) declareLocal(b *blockScope, name string) int32 {
	r := fc.alloc()
	b.locals[name] = r
	return r
}

func (fc *funcCompiler) emit(op bytecode.OpCode, a, b, c int32) int {
	fc.proto.Code = append(fc.proto.Code, bytecode.Instruction{Op: op, A: a, B: b, C: c})
	return len(fc.proto.Code) - 1
}

func (fc *funcCompiler) here() int32 { return int32(len(fc.proto.Code)) }

// patchJump sets instruction idx's jump offset (its B operand) so the jump
// lands at the next instruction to be emitted.
func (fc *funcCompiler) patchJump(idx int) {
	fc.proto.Code[idx].B = fc.here() - int32(idx) - 1
}

func (fc *funcCompiler) patchJumpTo(idx int, target int32) {
	fc.proto.Code[idx].B = target - int32(idx) - 1
}

func (fc *funcCompiler) addConst(v value.Value) int32 {
	fc.proto.Constants = append(fc.proto.Constants, v)
	return int32(len(fc.proto.Constants) - 1)
}

func (fc *funcCompiler) internString(s string) (int32, error) {
	v, err := fc.h.AllocString([]byte(s))
	if err != nil {
		return 0, err
	}
	return fc.addConst(v), nil
}

// varKind is what an identifier resolved to.
type varKind int

const (
	varLocal varKind = iota
	varUpvalue
	varGlobal
)

// resolve looks up name in fc's own blocks, then (capturing an upvalue
// chain as needed) in enclosing functions, finally falling back to a
// global/native reference by name.
func (fc *funcCompiler) resolve(name string) (varKind, int32) {
	for i := len(fc.blocks) - 1; i >= 0; i-- {
		if r, ok := fc.blocks[i].locals[name]; ok {
			return varLocal, r
		}
	}
	if idx, ok := fc.upvalIndex[name]; ok {
		return varUpvalue, idx
	}
	if fc.parent == nil {
		return varGlobal, 0
	}
	kind, idx := fc.parent.resolve(name)
	switch kind {
	case varLocal:
		d := bytecode.UpvalueDescriptor{FromStack: true, Index: idx}
		fc.proto.Upvalues = append(fc.proto.Upvalues, d)
		newIdx := int32(len(fc.proto.Upvalues) - 1)
		fc.upvalIndex[name] = newIdx
		return varUpvalue, newIdx
	case varUpvalue:
		d := bytecode.UpvalueDescriptor{FromStack: false, Index: idx}
		fc.proto.Upvalues = append(fc.proto.Upvalues, d)
		newIdx := int32(len(fc.proto.Upvalues) - 1)
		fc.upvalIndex[name] = newIdx
		return varUpvalue, newIdx
	default:
		return varGlobal, 0
	}
}

func (fc *funcCompiler) loc(n ast.Node) diag.Location {
	p := n.Position()
	return diag.Location{Function: fc.proto.Name, Line: p.Line}
}

// compileStmts compiles a sequence of statements in blk. Sibling function
// declarations are only name-reserved up front (so mutually-recursive
// functions in the same block resolve each other regardless of order); each
// body is still compiled, and its OpClosure emitted, at its own original
// position, so a function capturing a `let` declared earlier in the same
// block sees that binding (declareFuncDecl below doesn't touch blk.locals
// for anything but the function's own name).
func (fc *funcCompiler) compileStmts(blk *blockScope, stmts []ast.Node) error {
	pending := make(map[*ast.FuncDecl]*funcDeclState)
	for _, s := range stmts {
		if fd, ok := s.(*ast.FuncDecl); ok {
			pending[fd] = fc.declareFuncDecl(blk, fd)
		}
	}
	for _, s := range stmts {
		if fd, ok := s.(*ast.FuncDecl); ok {
			if err := fc.defineFuncDecl(pending[fd]); err != nil {
				return err
			}
			continue
		}
		if err := fc.compileStmt(blk, s); err != nil {
			return err
		}
	}
	return nil
}

func (fc *funcCompiler) compileBlock(stmts *ast.Block) error {
	b := fc.pushBlock()
	err := fc.compileStmts(b, stmts.Stmts)
	fc.closeBlock(b)
	return err
}

func (fc *funcCompiler) compileStmt(blk *blockScope, n ast.Node) error {
	switch s := n.(type) {
	case *ast.LetStmt:
		// Compiled before the name is bound: `let x = x + 1` must read
		// whatever x resolves to in the enclosing scope, not the new local.
		reg := fc.alloc()
		if err := fc.compileExpr(blk, s.Value, reg); err != nil {
			return err
		}
		blk.locals[s.Name] = reg
		return nil

	case *ast.AssignStmt:
		kind, idx := fc.resolve(s.Name)
		switch kind {
		case varLocal:
			return fc.compileExpr(blk, s.Value, idx)
		case varUpvalue:
			mark := fc.nextReg
			tmp := fc.alloc()
			if err := fc.compileExpr(blk, s.Value, tmp); err != nil {
				return err
			}
			fc.emit(bytecode.OpSetUpval, tmp, idx, 0)
			fc.freeTo(mark)
			return nil
		default:
			return diag.New(diag.ErrUnknownIdentifier, fc.loc(s), "assignment to undeclared name %q", s.Name)
		}

	case *ast.ExprStmt:
		mark := fc.nextReg
		dest := fc.alloc()
		if err := fc.compileExpr(blk, s.X, dest); err != nil {
			return err
		}
		fc.freeTo(mark)
		return nil

	case *ast.WhileStmt:
		return fc.compileWhile(s)

	case *ast.ForStmt:
		return fc.compileFor(s)

	case *ast.BreakStmt:
		if len(fc.loops) == 0 {
			return diag.New(diag.ErrUnsupportedOperation, fc.loc(s), "break outside a loop")
		}
		idx := fc.emit(bytecode.OpJump, 0, 0, 0)
		lp := fc.loops[len(fc.loops)-1]
		lp.breaks = append(lp.breaks, idx)
		return nil

	case *ast.ContinueStmt:
		if len(fc.loops) == 0 {
			return diag.New(diag.ErrUnsupportedOperation, fc.loc(s), "continue outside a loop")
		}
		idx := fc.emit(bytecode.OpJump, 0, 0, 0)
		lp := fc.loops[len(fc.loops)-1]
		lp.continues = append(lp.continues, idx)
		return nil

	case *ast.ReturnStmt:
		if s.Value == nil {
			fc.emit(bytecode.OpReturn, 0, 0, 0)
			return nil
		}
		mark := fc.nextReg
		reg := fc.alloc()
		if err := fc.compileExpr(blk, s.Value, reg); err != nil {
			return err
		}
		fc.emit(bytecode.OpReturn, reg, 1, 0)
		fc.freeTo(mark)
		return nil

	case *ast.PublicDecl, *ast.WitnessDecl:
		// Only meaningful inside a prove { } body, where compileProve reads
		// them directly out of the block's statement list; outside one they
		// declare nothing at the bytecode-rail level.
		return nil

	case *ast.FuncDecl:
		return nil // compileStmts declares and defines these directly, never via compileStmt

	default:
		return diag.New(diag.ErrUnsupportedOperation, diag.Location{Function: fc.proto.Name}, "unsupported statement %T", n)
	}
}

func (fc *funcCompiler) compileWhile(s *ast.WhileStmt) error {
	start := fc.here()
	mark := fc.nextReg
	condReg := fc.alloc()
	if err := fc.compileExpr(fc.blocks[len(fc.blocks)-1], s.Cond, condReg); err != nil {
		return err
	}
	jmpEnd := fc.emit(bytecode.OpJumpIfFalse, condReg, 0, 0)
	fc.freeTo(mark)

	fc.loops = append(fc.loops, &loopCtx{})
	if err := fc.compileBlock(s.Body); err != nil {
		return err
	}
	lp := fc.loops[len(fc.loops)-1]
	fc.loops = fc.loops[:len(fc.loops)-1]

	for _, c := range lp.continues {
		fc.patchJumpTo(c, start)
	}
	fc.emit(bytecode.OpJump, 0, start-fc.here()-1, 0)
	fc.patchJump(jmpEnd)
	for _, b := range lp.breaks {
		fc.patchJump(b)
	}
	return nil
}

// compileFor compiles `for i in lo..hi { body }` as a real counting loop
// (not unrolled; unrolling is specific to the circuit rail's constant-size
// requirement, per internal/lower; the VM has real conditional jumps).
func (fc *funcCompiler) compileFor(s *ast.ForStmt) error {
	// Lo/Hi are compiled in the enclosing scope, before the loop variable is
	// bound, so `for i in 0..i` reads the outer i rather than shadowing
	// itself. They land in the two registers the loop's own block will then
	// claim as i and the hidden hi bound, so no extra copy is needed: the
	// registers are freed (bookkeeping only, the stack slots keep their
	// values) and immediately reclaimed by pushBlock/declareLocal below.
	outerBlk := fc.blocks[len(fc.blocks)-1]
	preMark := fc.nextReg
	loReg := fc.alloc()
	if err := fc.compileExpr(outerBlk, s.Lo, loReg); err != nil {
		return err
	}
	hiPre := fc.alloc()
	if err := fc.compileExpr(outerBlk, s.Hi, hiPre); err != nil {
		return err
	}
	fc.freeTo(preMark)

	blk := fc.pushBlock()
	iReg := fc.declareLocal(blk, s.Var)
	mark := fc.nextReg
	hiReg := fc.alloc()

	start := fc.here()
	condReg := fc.alloc()
	fc.emit(bytecode.OpLt, condReg, iReg, hiReg)
	jmpEnd := fc.emit(bytecode.OpJumpIfFalse, condReg, 0, 0)
	fc.freeTo(mark + 1) // keep hiReg live, drop condReg

	fc.loops = append(fc.loops, &loopCtx{})
	if err := fc.compileBlock(s.Body); err != nil {
		return err
	}
	lp := fc.loops[len(fc.loops)-1]
	fc.loops = fc.loops[:len(fc.loops)-1]

	incrAt := fc.here()
	for _, c := range lp.continues {
		fc.patchJumpTo(c, incrAt)
	}
	oneMark := fc.nextReg
	oneReg := fc.alloc()
	oneVal, err := value.IntValue(1)
	if err != nil {
		return err
	}
	fc.emit(bytecode.OpLoadConst, oneReg, fc.addConst(oneVal), 0)
	fc.emit(bytecode.OpAdd, iReg, iReg, oneReg)
	fc.freeTo(oneMark)
	fc.emit(bytecode.OpJump, 0, start-fc.here()-1, 0)
	fc.patchJump(jmpEnd)
	for _, b := range lp.breaks {
		fc.patchJump(b)
	}

	fc.freeTo(mark)
	fc.closeBlock(blk)
	return nil
}

// funcDeclState is the bookkeeping declareFuncDecl produces for one sibling
// function, consumed by defineFuncDecl once it's that declaration's turn.
type funcDeclState struct {
	decl     *ast.FuncDecl
	dest     int32
	proto    *bytecode.Prototype
	protoIdx int
}

// declareFuncDecl reserves s's enclosing local and its prototype slot so
// every sibling declaration in the same compileStmts call can see every
// other one (mutual recursion) regardless of textual order, without
// touching any name but s.Name; a `let` earlier in the same block is
// still resolved normally when s's body is actually compiled.
func (fc *funcCompiler) declareFuncDecl(blk *blockScope, s *ast.FuncDecl) *funcDeclState {
	dest := fc.declareLocal(blk, s.Name)
	proto := &bytecode.Prototype{Name: s.Name, Arity: len(s.Params)}
	protoIdx := fc.table.Add(proto)
	return &funcDeclState{decl: s, dest: dest, proto: proto, protoIdx: protoIdx}
}

// defineFuncDecl compiles st's body into its reserved prototype and emits
// the OpClosure binding it to st's reserved local, at the caller's current
// position in fc's instruction stream.
func (fc *funcCompiler) defineFuncDecl(st *funcDeclState) error {
	s := st.decl
	child := newFuncCompiler(fc.h, fc.table, st.proto, fc)

	cb := child.pushBlock()
	for _, p := range s.Params {
		child.declareLocal(cb, p)
	}
	if err := child.compileStmts(cb, s.Body.Stmts); err != nil {
		return err
	}
	child.closeBlock(cb)
	child.emit(bytecode.OpReturn, 0, 0, 0)
	st.proto.MaxSlots = int(child.maxReg)

	fc.emit(bytecode.OpClosure, st.dest, int32(st.protoIdx), 0)
	return nil
}

// compileExpr compiles n so its value ends up in register dest.
func (fc *funcCompiler) compileExpr(blk *blockScope, n ast.Node, dest int32) error {
	switch e := n.(type) {
	case *ast.IntLit:
		v, err := value.IntValue(e.Value)
		if err != nil {
			return diag.New(diag.ErrUnsupportedOperation, fc.loc(e), "%v", err)
		}
		fc.emit(bytecode.OpLoadConst, dest, fc.addConst(v), 0)
		return nil

	case *ast.BoolLit:
		b := int32(0)
		if e.Value {
			b = 1
		}
		fc.emit(bytecode.OpLoadBool, dest, b, 0)
		return nil

	case *ast.StringLit:
		idx, err := fc.internString(e.Value)
		if err != nil {
			return err
		}
		fc.emit(bytecode.OpLoadConst, dest, idx, 0)
		return nil

	case *ast.EmptyMapLit:
		fc.emit(bytecode.OpNewMap, dest, 0, 0)
		return nil

	case *ast.Ident:
		kind, idx := fc.resolve(e.Name)
		switch kind {
		case varLocal:
			if idx != dest {
				fc.emit(bytecode.OpMove, dest, idx, 0)
			}
			return nil
		case varUpvalue:
			fc.emit(bytecode.OpGetUpval, dest, idx, 0)
			return nil
		default:
			nameIdx, err := fc.internString(e.Name)
			if err != nil {
				return err
			}
			fc.emit(bytecode.OpGetGlobal, dest, nameIdx, 0)
			return nil
		}

	case *ast.ArrayLit:
		fc.emit(bytecode.OpNewList, dest, int32(len(e.Elements)), 0)
		mark := fc.nextReg
		for i, el := range e.Elements {
			idxReg := fc.alloc()
			idxVal, err := value.IntValue(int64(i))
			if err != nil {
				return err
			}
			fc.emit(bytecode.OpLoadConst, idxReg, fc.addConst(idxVal), 0)
			valReg := fc.alloc()
			if err := fc.compileExpr(blk, el, valReg); err != nil {
				return err
			}
			fc.emit(bytecode.OpSetIndex, dest, idxReg, valReg)
			fc.freeTo(mark)
		}
		return nil

	case *ast.IndexExpr:
		mark := fc.nextReg
		baseReg := fc.alloc()
		if err := fc.compileExpr(blk, e.Base, baseReg); err != nil {
			return err
		}
		idxReg := fc.alloc()
		if err := fc.compileExpr(blk, e.Index, idxReg); err != nil {
			return err
		}
		fc.emit(bytecode.OpGetIndex, dest, baseReg, idxReg)
		fc.freeTo(mark)
		return nil

	case *ast.UnaryExpr:
		mark := fc.nextReg
		xReg := fc.alloc()
		if err := fc.compileExpr(blk, e.X, xReg); err != nil {
			return err
		}
		switch e.Op {
		case ast.OpNeg:
			fc.emit(bytecode.OpNeg, dest, xReg, 0)
		case ast.OpNot:
			fc.emit(bytecode.OpNot, dest, xReg, 0)
		default:
			return diag.New(diag.ErrUnsupportedOperation, fc.loc(e), "unknown unary operator")
		}
		fc.freeTo(mark)
		return nil

	case *ast.BinaryExpr:
		return fc.compileBinary(blk, e, dest)

	case *ast.IfExpr:
		// ast.Block has no tail-expression slot (Stmts only), so unlike the
		// circuit rail's Mux-on-both-branches encoding there is nothing for
		// an if/else used in expression position to produce here; it always
		// evaluates to nil. ExprStmt{X: IfExpr} (genuine control flow) is
		// the form that matters and is unaffected: it discards dest anyway.
		if err := fc.compileIf(blk, e); err != nil {
			return err
		}
		fc.emit(bytecode.OpLoadNil, dest, 0, 0)
		return nil

	case *ast.CallExpr:
		return fc.compileCall(blk, e, dest)

	case *ast.ProveExpr:
		return fc.compileProve(blk, e, dest)

	default:
		return diag.New(diag.ErrUnsupportedOperation, diag.Location{Function: fc.proto.Name}, "unsupported expression %T", n)
	}
}

func (fc *funcCompiler) compileBinary(blk *blockScope, e *ast.BinaryExpr, dest int32) error {
	if e.Op == ast.OpAnd || e.Op == ast.OpOr {
		mark := fc.nextReg
		lReg := fc.alloc()
		if err := fc.compileExpr(blk, e.L, lReg); err != nil {
			return err
		}
		rReg := fc.alloc()
		if err := fc.compileExpr(blk, e.R, rReg); err != nil {
			return err
		}
		op := bytecode.OpAnd
		if e.Op == ast.OpOr {
			op = bytecode.OpOr
		}
		fc.emit(op, dest, lReg, rReg)
		fc.freeTo(mark)
		return nil
	}

	// ** only ever appears with a constant exponent outside a circuit
	// (internal/lower handles the circuit case by repeated multiplication
	// against the same constant). Special-cased before the generic
	// operand compilation below so the exponent never occupies a
	// register of its own.
	if e.Op == ast.OpPow {
		return fc.compilePow(blk, dest, e)
	}

	mark := fc.nextReg
	lReg := fc.alloc()
	if err := fc.compileExpr(blk, e.L, lReg); err != nil {
		return err
	}
	rReg := fc.alloc()
	if err := fc.compileExpr(blk, e.R, rReg); err != nil {
		return err
	}

	switch e.Op {
	case ast.OpAdd:
		fc.emit(bytecode.OpAdd, dest, lReg, rReg)
	case ast.OpSub:
		fc.emit(bytecode.OpSub, dest, lReg, rReg)
	case ast.OpMul:
		fc.emit(bytecode.OpMul, dest, lReg, rReg)
	case ast.OpDiv:
		fc.emit(bytecode.OpDiv, dest, lReg, rReg)
	case ast.OpEq:
		fc.emit(bytecode.OpEq, dest, lReg, rReg)
	case ast.OpNeq:
		fc.emit(bytecode.OpNeq, dest, lReg, rReg)
	case ast.OpLt:
		fc.emit(bytecode.OpLt, dest, lReg, rReg)
	case ast.OpLe:
		fc.emit(bytecode.OpLe, dest, lReg, rReg)
	case ast.OpGt:
		fc.emit(bytecode.OpLt, dest, rReg, lReg)
	case ast.OpGe:
		fc.emit(bytecode.OpLe, dest, rReg, lReg)
	default:
		return diag.New(diag.ErrUnsupportedOperation, fc.loc(e), "unknown binary operator")
	}
	fc.freeTo(mark)
	return nil
}

// compilePow requires a compile-time-constant, non-negative exponent and
// expands it to repeated multiplication; the bytecode rail has no use for
// a variable exponent the way a circuit's fixed-depth Mul chain does not
// either, so a non-constant exponent is rejected outright.
func (fc *funcCompiler) compilePow(blk *blockScope, dest int32, e *ast.BinaryExpr) error {
	lit, ok := e.R.(*ast.IntLit)
	if !ok || lit.Value < 0 {
		return diag.New(diag.ErrUnsupportedOperation, fc.loc(e), "** requires a non-negative constant exponent outside a circuit")
	}
	mark := fc.nextReg
	baseReg := fc.alloc()
	if err := fc.compileExpr(blk, e.L, baseReg); err != nil {
		return err
	}
	one, err := value.IntValue(1)
	if err != nil {
		return err
	}
	fc.emit(bytecode.OpLoadConst, dest, fc.addConst(one), 0)
	for i := int64(0); i < lit.Value; i++ {
		fc.emit(bytecode.OpMul, dest, dest, baseReg)
	}
	fc.freeTo(mark)
	return nil
}

func (fc *funcCompiler) compileIf(blk *blockScope, e *ast.IfExpr) error {
	mark := fc.nextReg
	condReg := fc.alloc()
	if err := fc.compileExpr(blk, e.Cond, condReg); err != nil {
		return err
	}
	jmpFalse := fc.emit(bytecode.OpJumpIfFalse, condReg, 0, 0)
	fc.freeTo(mark)

	if err := fc.compileBlock(e.Then); err != nil {
		return err
	}
	if e.Else != nil {
		jmpEnd := fc.emit(bytecode.OpJump, 0, 0, 0)
		fc.patchJump(jmpFalse)
		if err := fc.compileBlock(e.Else); err != nil {
			return err
		}
		fc.patchJump(jmpEnd)
	} else {
		fc.patchJump(jmpFalse)
	}
	return nil
}

func (fc *funcCompiler) compileCall(blk *blockScope, e *ast.CallExpr, dest int32) error {
	mark := fc.nextReg
	calleeReg := fc.alloc()
	if err := fc.compileExpr(blk, &ast.Ident{Name: e.Callee}, calleeReg); err != nil {
		return err
	}
	for _, a := range e.Args {
		argReg := fc.alloc()
		if err := fc.compileExpr(blk, a, argReg); err != nil {
			return err
		}
	}
	fc.emit(bytecode.OpCall, dest, calleeReg, int32(len(e.Args)))
	fc.freeTo(mark)
	return nil
}

// compileProve compiles `prove { body }`: body's own public/witness
// declarations name the values to capture by reading them, by name, out of
// the enclosing scope. The captured values are laid out contiguously
// (public names then witness names) starting at a base register, matching
// internal/vm's OpProve calling convention.
func (fc *funcCompiler) compileProve(blk *blockScope, e *ast.ProveExpr, dest int32) error {
	var publicNames, witnessNames []string
	for _, s := range e.Body.Stmts {
		switch d := s.(type) {
		case *ast.PublicDecl:
			publicNames = append(publicNames, d.Name)
		case *ast.WitnessDecl:
			witnessNames = append(witnessNames, d.Name)
		}
	}

	mark := fc.nextReg
	base := fc.nextReg
	for _, name := range append(append([]string{}, publicNames...), witnessNames...) {
		kind, _ := fc.resolve(name)
		if kind == varGlobal {
			return diag.New(diag.ErrUnknownIdentifier, fc.loc(e), "prove block captures undeclared name %q", name)
		}
		reg := fc.alloc()
		if err := fc.compileExpr(blk, &ast.Ident{Name: name}, reg); err != nil {
			return err
		}
	}

	pb := bytecode.ProveBlock{
		PublicNames:  publicNames,
		WitnessNames: witnessNames,
		Body:         e.Body,
		Backend:      "",
	}
	fc.proto.ProveBlocks = append(fc.proto.ProveBlocks, pb)
	blockIdx := int32(len(fc.proto.ProveBlocks) - 1)

	fc.emit(bytecode.OpProve, dest, blockIdx, base)
	fc.freeTo(mark)
	return nil
}
