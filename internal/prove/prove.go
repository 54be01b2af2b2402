// Package prove is the state machine behind the inline `prove { }`
// expression: lower the block's body to SSA, replay it against the
// values captured from the enclosing scope to fail fast on a broken
// circuit, then hand the same program to internal/proof for an actual
// Groth16 or Plonk proof, and marshal the result into the three JSON
// strings a heap-resident proof value carries.
package prove

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"fieldvm/internal/ast"
	"fieldvm/internal/diag"
	"fieldvm/internal/field"
	"fieldvm/internal/lower"
	"fieldvm/internal/optimize"
	"fieldvm/internal/proof"
	"fieldvm/internal/ssa"
	"fieldvm/internal/witness"
)

// proofDoc/publicDoc/vkeyDoc are the JSON shapes a proof value's three
// fields are serialized as: hex for binary blobs, decimal strings for
// field elements.
type proofDoc struct {
	Backend string `json:"backend"`
	Proof   string `json:"proof"`
}

type publicDoc struct {
	Inputs []string `json:"inputs"`
}

type vkeyDoc struct {
	Backend      string `json:"backend"`
	VerifyingKey string `json:"verifyingKey"`
}

func backendFromName(name string) (proof.Backend, error) {
	switch name {
	case "", "r1cs", "groth16":
		return proof.Groth16, nil
	case "plonk":
		return proof.Plonk, nil
	}
	return 0, diag.New(diag.ErrProveHandlerUnavailable, diag.Location{Function: "prove"}, "unknown backend %q", name)
}

// Execute lowers body, validates it against the captured values via the
// fast witness-evaluation path, and only if that succeeds compiles and
// proves it through the requested backend. captured supplies concrete
// values by name for every `public`/`witness` declaration the block's own
// body contains; a name with no entry evaluates as zero, matching
// internal/witness.Eval's convention. The returned warnings are the taint
// pass's findings (UnderConstrainedWitness, UnusedInput) on the optimized
// program; they never block the proof, but a caller should surface them.
func Execute(body *ast.Block, backendName string, captured map[string]field.Element) (proofJSON, publicJSON, vkeyJSON string, warnings []optimize.Warning, err error) {
	backend, err := backendFromName(backendName)
	if err != nil {
		return "", "", "", nil, err
	}

	prog, err := lower.Build(lower.DefaultConfig(), body)
	if err != nil {
		return "", "", "", nil, err
	}

	public, wit := splitCaptures(prog, captured)

	opt := optimize.Run(prog)
	prog = opt.Program
	warnings = opt.Warnings

	if _, err := witness.Eval(prog, public, wit); err != nil {
		return "", "", "", warnings, diag.New(diag.ErrProveBlockFailed, diag.Location{Function: "prove"}, "witness evaluation: %v", err)
	}

	handler, err := proof.NewHandler(backend)
	if err != nil {
		return "", "", "", warnings, err
	}
	pr, err := handler.Prove(prog, public, wit)
	if err != nil {
		return "", "", "", warnings, err
	}

	proofJSON, publicJSON, vkeyJSON, err = marshal(pr)
	return proofJSON, publicJSON, vkeyJSON, warnings, err
}

// splitCaptures partitions the names captured runtime values by whether
// the lowered program declared them public or witness, leaving untouched
// (and unused) any capture that doesn't correspond to a declared input.
func splitCaptures(prog *ssa.Program, captured map[string]field.Element) (public, wit map[string]field.Element) {
	public = map[string]field.Element{}
	wit = map[string]field.Element{}
	for _, d := range prog.Inputs {
		v := captured[d.Name]
		switch d.Kind {
		case ssa.Public:
			public[d.Name] = v
		case ssa.Witness:
			wit[d.Name] = v
		}
	}
	return public, wit
}

// Verify re-proves nothing; it parses the three JSON documents a proof
// value carries and asks the matching backend handler to check them.
// A malformed document is an error; a well-formed but invalid proof
// returns (false, nil).
func Verify(proofJSON, publicJSON, vkeyJSON string) (bool, error) {
	var pd proofDoc
	if err := json.Unmarshal([]byte(proofJSON), &pd); err != nil {
		return false, fmt.Errorf("prove: parse proof json: %w", err)
	}
	var pub publicDoc
	if err := json.Unmarshal([]byte(publicJSON), &pub); err != nil {
		return false, fmt.Errorf("prove: parse public json: %w", err)
	}
	var vk vkeyDoc
	if err := json.Unmarshal([]byte(vkeyJSON), &vk); err != nil {
		return false, fmt.Errorf("prove: parse vkey json: %w", err)
	}

	backend, err := backendFromName(pd.Backend)
	if err != nil {
		return false, err
	}
	proofBytes, err := hex.DecodeString(pd.Proof)
	if err != nil {
		return false, fmt.Errorf("prove: decode proof hex: %w", err)
	}
	vkBytes, err := hex.DecodeString(vk.VerifyingKey)
	if err != nil {
		return false, fmt.Errorf("prove: decode vkey hex: %w", err)
	}
	publicValues := make([]field.Element, len(pub.Inputs))
	for i, s := range pub.Inputs {
		e, err := field.FromDecimalString(s)
		if err != nil {
			return false, fmt.Errorf("prove: decode public input %d: %w", i, err)
		}
		publicValues[i] = e
	}

	handler, err := proof.NewHandler(backend)
	if err != nil {
		return false, err
	}
	p := &proof.Proof{Backend: backend, ProofBytes: proofBytes, VerifyingKey: vkBytes, PublicInputs: publicValues}
	if err := handler.Verify(p); err != nil {
		return false, nil
	}
	return true, nil
}

func marshal(pr *proof.Proof) (proofJSON, publicJSON, vkeyJSON string, err error) {
	pd := proofDoc{Backend: pr.Backend.String(), Proof: hex.EncodeToString(pr.ProofBytes)}
	pb, err := json.Marshal(pd)
	if err != nil {
		return "", "", "", fmt.Errorf("prove: marshal proof json: %w", err)
	}

	inputs := make([]string, len(pr.PublicInputs))
	for i, e := range pr.PublicInputs {
		inputs[i] = e.String()
	}
	pub, err := json.Marshal(publicDoc{Inputs: inputs})
	if err != nil {
		return "", "", "", fmt.Errorf("prove: marshal public json: %w", err)
	}

	vk, err := json.Marshal(vkeyDoc{Backend: pr.Backend.String(), VerifyingKey: hex.EncodeToString(pr.VerifyingKey)})
	if err != nil {
		return "", "", "", fmt.Errorf("prove: marshal vkey json: %w", err)
	}

	return string(pb), string(pub), string(vk), nil
}
