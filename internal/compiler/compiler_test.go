package compiler

import (
	"testing"

	"github.com/rs/zerolog"

	"fieldvm/internal/ast"
	"fieldvm/internal/bytecode"
	"fieldvm/internal/heap"
	"fieldvm/internal/vm"
)

func ident(name string) *ast.Ident { return &ast.Ident{Name: name} }

func intLit(v int64) *ast.IntLit { return &ast.IntLit{Value: v} }

func compileAndRun(t *testing.T, body *ast.Block) (int64, error) {
	t.Helper()
	h := heap.New(zerolog.Nop())
	table := &bytecode.Table{}
	idx, err := Compile(h, table, body)
	if err != nil {
		return 0, err
	}
	m, err := vm.New(h, table)
	if err != nil {
		return 0, err
	}
	result, err := m.Run(idx, nil)
	if err != nil {
		return 0, err
	}
	i, ok := result.Int()
	if !ok {
		t.Fatalf("result %v is not an int", result)
	}
	return i, nil
}

// TestReturnArithmetic runs `return 2 + 3 * 4`.
func TestReturnArithmetic(t *testing.T) {
	body := &ast.Block{Stmts: []ast.Node{
		&ast.ReturnStmt{Value: &ast.BinaryExpr{
			Op: ast.OpAdd,
			L:  intLit(2),
			R:  &ast.BinaryExpr{Op: ast.OpMul, L: intLit(3), R: intLit(4)},
		}},
	}}
	got, err := compileAndRun(t, body)
	if err != nil {
		t.Fatal(err)
	}
	if got != 14 {
		t.Fatalf("got %d, want 14", got)
	}
}

// TestLetShadowingReadsOuterBinding runs:
//
//	let x = 5
//	let x = x + 1
//	return x
//
// checking that the second let's right-hand side reads the first x (5), not
// itself, landing on 6.
func TestLetShadowingReadsOuterBinding(t *testing.T) {
	body := &ast.Block{Stmts: []ast.Node{
		&ast.LetStmt{Name: "x", Value: intLit(5)},
		&ast.LetStmt{Name: "x", Value: &ast.BinaryExpr{Op: ast.OpAdd, L: ident("x"), R: intLit(1)}},
		&ast.ReturnStmt{Value: ident("x")},
	}}
	got, err := compileAndRun(t, body)
	if err != nil {
		t.Fatal(err)
	}
	if got != 6 {
		t.Fatalf("got %d, want 6", got)
	}
}

// TestWhileLoopSum runs:
//
//	let mutable i = 0
//	let mutable sum = 0
//	while i < 5 {
//	    sum = sum + i
//	    i = i + 1
//	}
//	return sum
func TestWhileLoopSum(t *testing.T) {
	body := &ast.Block{Stmts: []ast.Node{
		&ast.LetStmt{Name: "i", Mutable: true, Value: intLit(0)},
		&ast.LetStmt{Name: "sum", Mutable: true, Value: intLit(0)},
		&ast.WhileStmt{
			Cond: &ast.BinaryExpr{Op: ast.OpLt, L: ident("i"), R: intLit(5)},
			Body: &ast.Block{Stmts: []ast.Node{
				&ast.AssignStmt{Name: "sum", Value: &ast.BinaryExpr{Op: ast.OpAdd, L: ident("sum"), R: ident("i")}},
				&ast.AssignStmt{Name: "i", Value: &ast.BinaryExpr{Op: ast.OpAdd, L: ident("i"), R: intLit(1)}},
			}},
		},
		&ast.ReturnStmt{Value: ident("sum")},
	}}
	got, err := compileAndRun(t, body)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10 {
		t.Fatalf("got %d, want 10 (0+1+2+3+4)", got)
	}
}

// TestForLoopBreakAndContinue runs:
//
//	let mutable total = 0
//	for i in 0..10 {
//	    if i == 7 { break }
//	    if i == 2 { continue }
//	    total = total + i
//	}
//	return total
//
// summing 0,1,3,4,5,6 (2 skipped, loop broken before 7).
func TestForLoopBreakAndContinue(t *testing.T) {
	body := &ast.Block{Stmts: []ast.Node{
		&ast.LetStmt{Name: "total", Mutable: true, Value: intLit(0)},
		&ast.ForStmt{
			Var: "i",
			Lo:  intLit(0),
			Hi:  intLit(10),
			Body: &ast.Block{Stmts: []ast.Node{
				&ast.ExprStmt{X: &ast.IfExpr{
					Cond: &ast.BinaryExpr{Op: ast.OpEq, L: ident("i"), R: intLit(7)},
					Then: &ast.Block{Stmts: []ast.Node{&ast.BreakStmt{}}},
				}},
				&ast.ExprStmt{X: &ast.IfExpr{
					Cond: &ast.BinaryExpr{Op: ast.OpEq, L: ident("i"), R: intLit(2)},
					Then: &ast.Block{Stmts: []ast.Node{&ast.ContinueStmt{}}},
				}},
				&ast.AssignStmt{Name: "total", Value: &ast.BinaryExpr{Op: ast.OpAdd, L: ident("total"), R: ident("i")}},
			}},
		},
		&ast.ReturnStmt{Value: ident("total")},
	}}
	got, err := compileAndRun(t, body)
	if err != nil {
		t.Fatal(err)
	}
	if got != 19 {
		t.Fatalf("got %d, want 19 (0+1+3+4+5+6)", got)
	}
}

// TestClosureCapturesLocal runs:
//
//	let x = 10
//	fn addX(y) { return x + y }
//	return addX(5)
func TestClosureCapturesLocal(t *testing.T) {
	body := &ast.Block{Stmts: []ast.Node{
		&ast.LetStmt{Name: "x", Value: intLit(10)},
		&ast.FuncDecl{Name: "addX", Params: []string{"y"}, Body: &ast.Block{Stmts: []ast.Node{
			&ast.ReturnStmt{Value: &ast.BinaryExpr{Op: ast.OpAdd, L: ident("x"), R: ident("y")}},
		}}},
		&ast.ReturnStmt{Value: &ast.CallExpr{Callee: "addX", Args: []ast.Node{intLit(5)}}},
	}}
	got, err := compileAndRun(t, body)
	if err != nil {
		t.Fatal(err)
	}
	if got != 15 {
		t.Fatalf("got %d, want 15", got)
	}
}

// TestRecursiveFuncDecl runs a self-recursive factorial and checks fact(5) == 120.
func TestRecursiveFuncDecl(t *testing.T) {
	body := &ast.Block{Stmts: []ast.Node{
		&ast.FuncDecl{Name: "fact", Params: []string{"n"}, Body: &ast.Block{Stmts: []ast.Node{
			&ast.ExprStmt{X: &ast.IfExpr{
				Cond: &ast.BinaryExpr{Op: ast.OpLe, L: ident("n"), R: intLit(1)},
				Then: &ast.Block{Stmts: []ast.Node{&ast.ReturnStmt{Value: intLit(1)}}},
			}},
			&ast.ReturnStmt{Value: &ast.BinaryExpr{
				Op: ast.OpMul,
				L:  ident("n"),
				R: &ast.CallExpr{Callee: "fact", Args: []ast.Node{
					&ast.BinaryExpr{Op: ast.OpSub, L: ident("n"), R: intLit(1)},
				}},
			}},
		}}},
		&ast.ReturnStmt{Value: &ast.CallExpr{Callee: "fact", Args: []ast.Node{intLit(5)}}},
	}}
	got, err := compileAndRun(t, body)
	if err != nil {
		t.Fatal(err)
	}
	if got != 120 {
		t.Fatalf("got %d, want 120", got)
	}
}

// TestNativeLenOfArrayLiteral runs `return len([1, 2, 3])`.
func TestNativeLenOfArrayLiteral(t *testing.T) {
	body := &ast.Block{Stmts: []ast.Node{
		&ast.ReturnStmt{Value: &ast.CallExpr{
			Callee: "len",
			Args:   []ast.Node{&ast.ArrayLit{Elements: []ast.Node{intLit(1), intLit(2), intLit(3)}}},
		}},
	}}
	got, err := compileAndRun(t, body)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

// TestPowWithConstantExponent runs `return 2 ** 5`.
func TestPowWithConstantExponent(t *testing.T) {
	body := &ast.Block{Stmts: []ast.Node{
		&ast.ReturnStmt{Value: &ast.BinaryExpr{Op: ast.OpPow, L: intLit(2), R: intLit(5)}},
	}}
	got, err := compileAndRun(t, body)
	if err != nil {
		t.Fatal(err)
	}
	if got != 32 {
		t.Fatalf("got %d, want 32", got)
	}
}

// TestPowRejectsNonConstantExponent checks `2 ** n` is rejected at compile
// time outside a circuit, since the bytecode rail only expands a
// compile-time-constant exponent.
func TestPowRejectsNonConstantExponent(t *testing.T) {
	body := &ast.Block{Stmts: []ast.Node{
		&ast.LetStmt{Name: "n", Value: intLit(3)},
		&ast.ReturnStmt{Value: &ast.BinaryExpr{Op: ast.OpPow, L: intLit(2), R: ident("n")}},
	}}
	h := heap.New(zerolog.Nop())
	table := &bytecode.Table{}
	if _, err := Compile(h, table, body); err == nil {
		t.Fatal("expected an error for a non-constant exponent")
	}
}

// TestProveExprProducesVerifiableProof compiles and runs:
//
//	let x = 2
//	let y = 3
//	let p = prove {
//	    public x
//	    witness y
//	    assert_eq(x * y, 6)
//	}
//	return verify_proof(p)
//
// exercising OpProve end-to-end against the real Groth16 backend.
func TestProveExprProducesVerifiableProof(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is expensive; skipped with -short")
	}
	proveBody := &ast.Block{Stmts: []ast.Node{
		&ast.PublicDecl{Name: "x"},
		&ast.WitnessDecl{Name: "y"},
		&ast.ExprStmt{X: &ast.CallExpr{
			Callee: "assert_eq",
			Args: []ast.Node{
				&ast.BinaryExpr{Op: ast.OpMul, L: ident("x"), R: ident("y")},
				intLit(6),
			},
		}},
	}}
	body := &ast.Block{Stmts: []ast.Node{
		&ast.LetStmt{Name: "x", Value: intLit(2)},
		&ast.LetStmt{Name: "y", Value: intLit(3)},
		&ast.LetStmt{Name: "p", Value: &ast.ProveExpr{Body: proveBody}},
		&ast.ReturnStmt{Value: &ast.CallExpr{Callee: "verify_proof", Args: []ast.Node{ident("p")}}},
	}}

	h := heap.New(zerolog.Nop())
	table := &bytecode.Table{}
	idx, err := Compile(h, table, body)
	if err != nil {
		t.Fatal(err)
	}
	m, err := vm.New(h, table)
	if err != nil {
		t.Fatal(err)
	}
	result, err := m.Run(idx, nil)
	if err != nil {
		t.Fatal(err)
	}
	ok, isBool := result.Bool()
	if !isBool || !ok {
		t.Fatalf("expected verify_proof to return true, got %v", result)
	}
}

// TestProveExprRejectsUndeclaredCapture checks a prove block naming a
// public/witness variable that isn't in scope fails to compile.
func TestProveExprRejectsUndeclaredCapture(t *testing.T) {
	proveBody := &ast.Block{Stmts: []ast.Node{
		&ast.PublicDecl{Name: "x"},
		&ast.WitnessDecl{Name: "missing"},
	}}
	body := &ast.Block{Stmts: []ast.Node{
		&ast.LetStmt{Name: "x", Value: intLit(2)},
		&ast.ExprStmt{X: &ast.ProveExpr{Body: proveBody}},
	}}
	h := heap.New(zerolog.Nop())
	table := &bytecode.Table{}
	if _, err := Compile(h, table, body); err == nil {
		t.Fatal("expected an error for an undeclared capture")
	}
}
