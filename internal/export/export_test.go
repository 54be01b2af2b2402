package export

import (
	"bytes"
	"testing"

	"fieldvm/internal/field"
	"fieldvm/internal/r1cs"
	"fieldvm/internal/ssa"
)

func buildSys(t *testing.T) (*r1cs.System, *r1cs.Witness) {
	t.Helper()
	p := &ssa.Program{}
	x := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "x"})
	y := p.Add(ssa.Instr{Op: ssa.OpInput, Name: "y"})
	p.Inputs = []ssa.InputDecl{
		{Name: "x", Kind: ssa.Public, ID: x},
		{Name: "y", Kind: ssa.Witness, ID: y},
	}
	prod := p.Add(ssa.Instr{Op: ssa.OpMul, Args: []ssa.ID{x, y}})
	six := p.Add(ssa.Instr{Op: ssa.OpConst, Const: field.FromInt64(6)})
	p.Add(ssa.Instr{Op: ssa.OpAssertEq, Args: []ssa.ID{prod, six}})

	sys, w, err := r1cs.CompileWithWitness(p,
		map[string]field.Element{"x": field.FromInt64(2)},
		map[string]field.Element{"y": field.FromInt64(3)})
	if err != nil {
		t.Fatal(err)
	}
	return sys, w
}

func TestR1CSRoundTrip(t *testing.T) {
	sys, _ := buildSys(t)

	var buf bytes.Buffer
	if err := WriteR1CS(sys, &buf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadR1CS(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.NumPublic != sys.NumPublic || got.NumWitness != sys.NumWitness || got.NumWires != sys.NumWires {
		t.Fatalf("layout mismatch: got %+v, want %+v", got, sys)
	}
	if len(got.Constraints) != len(sys.Constraints) {
		t.Fatalf("constraint count mismatch: got %d, want %d", len(got.Constraints), len(sys.Constraints))
	}
}

func TestWitnessRoundTrip(t *testing.T) {
	_, w := buildSys(t)
	public := w.Values[1:2]
	wit := w.Values[2:]

	buf, err := EncodeWitness(public, wit)
	if err != nil {
		t.Fatal(err)
	}
	gotPub, gotWit, err := ReadWitness(bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	if len(gotPub) != len(public) || !gotPub[0].Equal(public[0]) {
		t.Fatalf("public mismatch: got %v, want %v", gotPub, public)
	}
	if len(gotWit) != len(wit) || !gotWit[0].Equal(wit[0]) {
		t.Fatalf("witness mismatch: got %v, want %v", gotWit, wit)
	}
}

func TestReadR1CSRejectsBadMagic(t *testing.T) {
	if _, err := ReadR1CS(bytes.NewReader([]byte("not an r1cs file"))); err == nil {
		t.Fatal("expected bad-magic error")
	}
}
