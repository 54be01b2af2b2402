package prove

import (
	"testing"

	"fieldvm/internal/ast"
	"fieldvm/internal/field"
)

// mulBlock builds `public x; witness y; assert_eq(x*y, 6)` by hand, since
// the front-end that would normally parse this is out of scope here.
func mulBlock() *ast.Block {
	return &ast.Block{Stmts: []ast.Node{
		&ast.PublicDecl{Name: "x"},
		&ast.WitnessDecl{Name: "y"},
		&ast.ExprStmt{X: &ast.CallExpr{
			Callee: "assert_eq",
			Args: []ast.Node{
				&ast.BinaryExpr{Op: ast.OpMul, L: &ast.Ident{Name: "x"}, R: &ast.Ident{Name: "y"}},
				&ast.IntLit{Value: 6},
			},
		}},
	}}
}

func TestExecuteAndVerifyGroth16(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is expensive; skipped with -short")
	}
	captured := map[string]field.Element{"x": field.FromInt64(2), "y": field.FromInt64(3)}
	proofJSON, publicJSON, vkeyJSON, warnings, err := Execute(mulBlock(), "groth16", captured)
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no taint warnings for a fully-constrained circuit, got %v", warnings)
	}
	ok, err := Verify(proofJSON, publicJSON, vkeyJSON)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected proof to verify")
	}
}

func TestExecuteRejectsFailingWitness(t *testing.T) {
	captured := map[string]field.Element{"x": field.FromInt64(2), "y": field.FromInt64(4)}
	if _, _, _, _, err := Execute(mulBlock(), "groth16", captured); err == nil {
		t.Fatal("expected the fast witness-evaluation path to reject x*y != 6")
	}
}

// unconstrainedBlock declares a witness z that is never referenced by any
// assertion: `public x; witness y; witness z; assert_eq(x*y, 6)`.
func unconstrainedBlock() *ast.Block {
	b := mulBlock()
	b.Stmts = append([]ast.Node{&ast.WitnessDecl{Name: "z"}}, b.Stmts...)
	return b
}

func TestExecuteSurfacesUnderConstrainedWitness(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is expensive; skipped with -short")
	}
	captured := map[string]field.Element{"x": field.FromInt64(2), "y": field.FromInt64(3), "z": field.FromInt64(0)}
	_, _, _, warnings, err := Execute(unconstrainedBlock(), "groth16", captured)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range warnings {
		if w.Kind == "under_constrained_witness" && w.Name == "z" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an under_constrained_witness warning for z, got %v", warnings)
	}
}

func TestBackendFromNameUnknown(t *testing.T) {
	if _, err := backendFromName("bogus"); err == nil {
		t.Fatal("expected error for unknown backend name")
	}
}
