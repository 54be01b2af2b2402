// Package examples is a small registry of hand-built ast.Block fixtures,
// selectable by name, that cmd/fieldvm's subcommands operate on. A real
// front end would parse these from source text, but parsing is out of
// scope here; hand-building the tree directly is the same idiom
// internal/prove's and internal/compiler's own tests use (mulBlock-style
// fixtures) to exercise the rest of the pipeline without one.
package examples

import (
	"sort"

	"fieldvm/internal/ast"
	"fieldvm/internal/field"
)

// Program bundles one fixture in each shape a subcommand might need it in.
type Program struct {
	Name string

	// Body is a complete top-level program for the bytecode rail
	// (cmd/fieldvm run/compile): real control flow, closures, recursion.
	Body *ast.Block

	// Circuit is a complete top-level program for the circuit rail
	// (cmd/fieldvm export): its own public/witness declarations, with fixed
	// sample inputs to drive witness generation.
	Circuit        *ast.Block
	CircuitPublic  map[string]field.Element
	CircuitWitness map[string]field.Element

	// Prove is a prove{}-body fixture for cmd/fieldvm prove: the block
	// internal/prove.Execute expects, plus the values it captures from its
	// (here, implicit) enclosing scope.
	Prove         *ast.Block
	ProveCaptured map[string]field.Element
}

var registry = map[string]*Program{}

func register(p *Program) { registry[p.Name] = p }

// Lookup returns the named program, or ok=false if none is registered.
func Lookup(name string) (*Program, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names returns every registered program name, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ident(name string) *ast.Ident { return &ast.Ident{Name: name} }
func intLit(v int64) *ast.IntLit   { return &ast.IntLit{Value: v} }

func init() {
	register(fibonacci())
	register(mulCheck())
}

// fibonacci is:
//
//	fn fib(n) {
//	    if n <= 1 { return n }
//	    return fib(n - 1) + fib(n - 2)
//	}
//	return fib(10)
//
// a bytecode-rail fixture exercising recursion and real (non-unrolled) if
// control flow through cmd/fieldvm run/compile.
func fibonacci() *Program {
	fibBody := &ast.Block{Stmts: []ast.Node{
		&ast.ExprStmt{X: &ast.IfExpr{
			Cond: &ast.BinaryExpr{Op: ast.OpLe, L: ident("n"), R: intLit(1)},
			Then: &ast.Block{Stmts: []ast.Node{&ast.ReturnStmt{Value: ident("n")}}},
		}},
		&ast.ReturnStmt{Value: &ast.BinaryExpr{
			Op: ast.OpAdd,
			L: &ast.CallExpr{Callee: "fib", Args: []ast.Node{
				&ast.BinaryExpr{Op: ast.OpSub, L: ident("n"), R: intLit(1)},
			}},
			R: &ast.CallExpr{Callee: "fib", Args: []ast.Node{
				&ast.BinaryExpr{Op: ast.OpSub, L: ident("n"), R: intLit(2)},
			}},
		}},
	}}
	body := &ast.Block{Stmts: []ast.Node{
		&ast.FuncDecl{Name: "fib", Params: []string{"n"}, Body: fibBody},
		&ast.ReturnStmt{Value: &ast.CallExpr{Callee: "fib", Args: []ast.Node{intLit(10)}}},
	}}
	return &Program{Name: "fib", Body: body}
}

// mulCheckCore is `public x; witness y; assert_eq(x * y, 6)`, satisfiable
// by x=2, y=3. It is used, unmodified, both as a top-level circuit program
// (export) and as a prove{} body (prove); internal/lower treats a
// PublicDecl/WitnessDecl the same in either position.
func mulCheckCore() *ast.Block {
	return &ast.Block{Stmts: []ast.Node{
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
}

func mulCheck() *Program {
	return &Program{
		Name:           "mul-check",
		Circuit:        mulCheckCore(),
		CircuitPublic:  map[string]field.Element{"x": field.FromInt64(2)},
		CircuitWitness: map[string]field.Element{"y": field.FromInt64(3)},
		Prove:          mulCheckCore(),
		ProveCaptured:  map[string]field.Element{"x": field.FromInt64(2), "y": field.FromInt64(3)},
	}
}
