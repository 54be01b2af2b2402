// Package proof wires a compiled SSA program (internal/ssa) to gnark's
// Groth16 and Plonk backends, turning it into an actual BN254 proof
// rather than just the hand-rolled constraint systems internal/r1cs and
// internal/plonk produce for export. It backs the inline `prove { }`
// construct: compile once, cache the keys, prove, verify, and hand the
// caller back a first-class proof value.
package proof

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/consensys/gnark-crypto/ecc"
	bn254kzg "github.com/consensys/gnark-crypto/ecc/bn254/kzg"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/plonk"
	gnarkwitness "github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/frontend/cs/scs"

	"fieldvm/internal/diag"
	"fieldvm/internal/field"
	"fieldvm/internal/ssa"
)

// CompareBits mirrors internal/r1cs.CompareBits / internal/plonk.CompareBits:
// the default operand-width bound for IsLt/IsLe, narrowed by defineCompare
// when both operands have already passed an OpRangeCheck, so all three
// comparison gadgets bound operands identically.
const CompareBits = 253

// Backend selects which proof system a Proof is produced with.
type Backend int

const (
	Groth16 Backend = iota
	Plonk
)

func (b Backend) String() string {
	if b == Plonk {
		return "plonk"
	}
	return "groth16"
}

// Proof is the artifact a `prove { }` block allocates on the VM heap:
// the serialized proof bytes, the public inputs it was proven against,
// and enough of the verifying key to check it again later.
type Proof struct {
	Backend      Backend
	ProofBytes   []byte
	VerifyingKey []byte
	PublicInputs []field.Element
}

// Handler is the uniform interface `internal/prove` drives; exactly one
// implementation per Backend.
type Handler interface {
	Prove(prog *ssa.Program, publicInputs, witnessInputs map[string]field.Element) (*Proof, error)
	Verify(p *Proof) error
}

// setupCache memoizes the (expensive) compile+setup step for a given
// program, keyed by a blake2b hash of its instruction stream; a `prove`
// block that recompiles the same circuit body on every call (e.g. inside
// a loop) reuses the proving/verifying keys instead of paying setup cost
// each time. golang.org/x/sync/singleflight collapses concurrent setups
// for the same key into one.
type setupCache struct {
	mu    sync.Mutex
	group singleflight.Group

	groth16 map[[32]byte]*groth16Setup
	plonk   map[[32]byte]*plonkSetup

	// dir is an optional on-disk cache directory (see SetCacheDir); empty
	// means in-memory only, scoped to this process.
	dir string
}

type groth16Setup struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

type plonkSetup struct {
	ccs constraint.ConstraintSystem
	pk  plonk.ProvingKey
	vk  plonk.VerifyingKey
}

func newSetupCache() *setupCache {
	return &setupCache{
		groth16: make(map[[32]byte]*groth16Setup),
		plonk:   make(map[[32]byte]*plonkSetup),
	}
}

func programKey(prog *ssa.Program) [32]byte {
	var buf bytes.Buffer
	for _, ins := range prog.Instrs {
		fmt.Fprintf(&buf, "%d|%v|%s|%d;", ins.Op, ins.Args, ins.Const.String(), ins.Bits)
	}
	for _, d := range prog.Inputs {
		fmt.Fprintf(&buf, "%d:%s;", d.Kind, d.Name)
	}
	return blake2b.Sum256(buf.Bytes())
}

var globalCache = newSetupCache()

func (c *setupCache) groth16Setup(prog *ssa.Program) (*groth16Setup, error) {
	key := programKey(prog)

	c.mu.Lock()
	if s, ok := c.groth16[key]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(fmt.Sprintf("groth16:%x", key), func() (interface{}, error) {
		c.mu.Lock()
		dir := c.dir
		c.mu.Unlock()
		if s, ok := loadGroth16Disk(dir, key); ok {
			c.mu.Lock()
			c.groth16[key] = s
			c.mu.Unlock()
			return s, nil
		}

		cc := newCircuit(prog)
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, cc)
		if err != nil {
			return nil, fmt.Errorf("proof: groth16 compile: %w", err)
		}
		pk, vk, err := groth16.Setup(ccs)
		if err != nil {
			return nil, fmt.Errorf("proof: groth16 setup: %w", err)
		}
		s := &groth16Setup{ccs: ccs, pk: pk, vk: vk}
		saveGroth16Disk(dir, key, s)
		c.mu.Lock()
		c.groth16[key] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*groth16Setup), nil
}

func (c *setupCache) plonkSetup(prog *ssa.Program) (*plonkSetup, error) {
	key := programKey(prog)

	c.mu.Lock()
	if s, ok := c.plonk[key]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(fmt.Sprintf("plonk:%x", key), func() (interface{}, error) {
		c.mu.Lock()
		dir := c.dir
		c.mu.Unlock()
		if s, ok := loadPlonkDisk(dir, key); ok {
			c.mu.Lock()
			c.plonk[key] = s
			c.mu.Unlock()
			return s, nil
		}

		cc := newCircuit(prog)
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, cc)
		if err != nil {
			return nil, fmt.Errorf("proof: plonk compile: %w", err)
		}
		numGates := ecc.NextPowerOfTwo(uint64(ccs.GetNbConstraints() + ccs.GetNbPublicVariables()))
		// Test-only SRS: BN254 has no public trusted-setup ceremony wired
		// here, so this falls back to an insecure SRS for BN254, the same
		// tradeoff gnark's own Plonk examples make (see DESIGN.md).
		srs, err := bn254kzg.NewSRS(numGates+5, big.NewInt(-1))
		if err != nil {
			return nil, fmt.Errorf("proof: plonk srs: %w", err)
		}
		pk, vk, err := plonk.Setup(ccs, srs)
		if err != nil {
			return nil, fmt.Errorf("proof: plonk setup: %w", err)
		}
		s := &plonkSetup{ccs: ccs, pk: pk, vk: vk}
		savePlonkDisk(dir, key, s)
		c.mu.Lock()
		c.plonk[key] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*plonkSetup), nil
}

// groth16Handler proves/verifies via gnark's Groth16 backend.
type groth16Handler struct{ cache *setupCache }

// NewGroth16Handler returns a Handler backed by gnark's Groth16
// implementation and the package-level setup cache.
func NewGroth16Handler() Handler { return &groth16Handler{cache: globalCache} }

func (h *groth16Handler) Prove(prog *ssa.Program, publicInputs, witnessInputs map[string]field.Element) (*Proof, error) {
	setup, err := h.cache.groth16Setup(prog)
	if err != nil {
		return nil, err
	}
	cc := newCircuit(prog)
	cc.assign(publicInputs, witnessInputs)

	w, err := frontend.NewWitness(cc, ecc.BN254.ScalarField())
	if err != nil {
		return nil, diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "build witness: %v", err)
	}
	pub, err := w.Public()
	if err != nil {
		return nil, diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "extract public witness: %v", err)
	}
	pr, err := groth16.Prove(setup.ccs, setup.pk, w)
	if err != nil {
		return nil, diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "groth16 prove: %v", err)
	}
	if err := groth16.Verify(pr, setup.vk, pub); err != nil {
		return nil, diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "groth16 self-verify: %v", err)
	}

	var proofBuf, vkBuf bytes.Buffer
	if _, err := pr.WriteTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("proof: serialize proof: %w", err)
	}
	if _, err := setup.vk.WriteTo(&vkBuf); err != nil {
		return nil, fmt.Errorf("proof: serialize vk: %w", err)
	}

	publicOut := publicInputValues(prog, publicInputs)
	return &Proof{Backend: Groth16, ProofBytes: proofBuf.Bytes(), VerifyingKey: vkBuf.Bytes(), PublicInputs: publicOut}, nil
}

func (h *groth16Handler) Verify(p *Proof) error {
	if p.Backend != Groth16 {
		return diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "groth16 handler cannot verify a %s proof", p.Backend)
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(p.VerifyingKey)); err != nil {
		return fmt.Errorf("proof: parse vk: %w", err)
	}
	pr := groth16.NewProof(ecc.BN254)
	if _, err := pr.ReadFrom(bytes.NewReader(p.ProofBytes)); err != nil {
		return fmt.Errorf("proof: parse proof: %w", err)
	}
	w, err := publicWitness(p.PublicInputs)
	if err != nil {
		return err
	}
	if err := groth16.Verify(pr, vk, w); err != nil {
		return diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "groth16 verify: %v", err)
	}
	return nil
}

// plonkHandler proves/verifies via gnark's Plonk backend.
type plonkHandler struct{ cache *setupCache }

// NewPlonkHandler returns a Handler backed by gnark's Plonk
// implementation and the package-level setup cache.
func NewPlonkHandler() Handler { return &plonkHandler{cache: globalCache} }

func (h *plonkHandler) Prove(prog *ssa.Program, publicInputs, witnessInputs map[string]field.Element) (*Proof, error) {
	setup, err := h.cache.plonkSetup(prog)
	if err != nil {
		return nil, err
	}
	cc := newCircuit(prog)
	cc.assign(publicInputs, witnessInputs)

	w, err := frontend.NewWitness(cc, ecc.BN254.ScalarField())
	if err != nil {
		return nil, diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "build witness: %v", err)
	}
	pub, err := w.Public()
	if err != nil {
		return nil, diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "extract public witness: %v", err)
	}
	pr, err := plonk.Prove(setup.ccs, setup.pk, w)
	if err != nil {
		return nil, diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "plonk prove: %v", err)
	}
	if err := plonk.Verify(pr, setup.vk, pub); err != nil {
		return nil, diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "plonk self-verify: %v", err)
	}

	var proofBuf, vkBuf bytes.Buffer
	if _, err := pr.WriteTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("proof: serialize proof: %w", err)
	}
	if _, err := setup.vk.WriteTo(&vkBuf); err != nil {
		return nil, fmt.Errorf("proof: serialize vk: %w", err)
	}

	publicOut := publicInputValues(prog, publicInputs)
	return &Proof{Backend: Plonk, ProofBytes: proofBuf.Bytes(), VerifyingKey: vkBuf.Bytes(), PublicInputs: publicOut}, nil
}

func (h *plonkHandler) Verify(p *Proof) error {
	if p.Backend != Plonk {
		return diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "plonk handler cannot verify a %s proof", p.Backend)
	}
	vk := plonk.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(p.VerifyingKey)); err != nil {
		return fmt.Errorf("proof: parse vk: %w", err)
	}
	pr := plonk.NewProof(ecc.BN254)
	if _, err := pr.ReadFrom(bytes.NewReader(p.ProofBytes)); err != nil {
		return fmt.Errorf("proof: parse proof: %w", err)
	}
	w, err := publicWitness(p.PublicInputs)
	if err != nil {
		return err
	}
	if err := plonk.Verify(pr, vk, w); err != nil {
		return diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "proof"}, "plonk verify: %v", err)
	}
	return nil
}

func publicInputValues(prog *ssa.Program, publicInputs map[string]field.Element) []field.Element {
	var out []field.Element
	for _, d := range prog.Inputs {
		if d.Kind == ssa.Public {
			out = append(out, publicInputs[d.Name])
		}
	}
	return out
}

func publicWitness(values []field.Element) (gnarkwitness.Witness, error) {
	vars := make([]frontend.Variable, len(values))
	for i, v := range values {
		vars[i] = v.BigInt()
	}
	w, err := frontend.NewWitness(&struct {
		Public []frontend.Variable `gnark:",public"`
	}{Public: vars}, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("proof: rebuild public witness: %w", err)
	}
	return w, nil
}

// NewHandler returns the Handler for the requested backend, or
// ErrProveHandlerUnavailable if b is not recognized.
func NewHandler(b Backend) (Handler, error) {
	switch b {
	case Groth16:
		return NewGroth16Handler(), nil
	case Plonk:
		return NewPlonkHandler(), nil
	}
	return nil, diag.New(diag.ErrProveHandlerUnavailable, diag.Location{Function: "proof"}, "unknown backend %d", b)
}
