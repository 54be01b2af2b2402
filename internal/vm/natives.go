package vm

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"fieldvm/internal/diag"
	"fieldvm/internal/field"
	"fieldvm/internal/heap"
	"fieldvm/internal/poseidon"
	"fieldvm/internal/prove"
	"fieldvm/internal/value"
)

// registerNatives installs the fixed native-function table: introspection
// (type_of, len, native_names), assertion, time, list/map mutation,
// strings, field-element construction, Poseidon
// hashing, and proof inspection/verification for values produced by a
// `prove { }` block.
func (m *VM) registerNatives() {
	m.defineNative("print", nativePrint)
	m.defineNative("type_of", nativeTypeOf)
	m.defineNative("len", nativeLen)
	m.defineNative("assert", nativeAssert)
	m.defineNative("time", nativeTime)

	m.defineNative("list_push", nativeListPush)
	m.defineNative("list_pop", nativeListPop)
	m.defineNative("list_get", nativeListGet)
	m.defineNative("list_set", nativeListSet)

	m.defineNative("map_get", nativeMapGet)
	m.defineNative("map_set", nativeMapSet)
	m.defineNative("map_delete", nativeMapDelete)

	m.defineNative("string_concat", nativeStringConcat)

	m.defineNative("field", nativeField)
	m.defineNative("poseidon", nativePoseidon)
	m.defineNative("poseidon_many", nativePoseidon)

	m.defineNative("proof_json", nativeProofJSON)
	m.defineNative("proof_public", nativeProofPublic)
	m.defineNative("proof_vkey", nativeProofVKey)
	m.defineNative("verify_proof", nativeVerifyProof)

	m.defineNative("native_names", nativeNativeNames)
}

func argErr(name string, want int, got int) error {
	return diag.New(diag.ErrTypeMismatch, diag.Location{Function: name}, "expects %d argument(s), got %d", want, got)
}

func nativePrint(m *VM, args []value.Value) (value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = m.describe(a)
	}
	m.heap.Log.Info().Strs("args", parts).Msg("print")
	return value.Nil, nil
}

// describe renders a value for diagnostics; it is not the language's
// user-facing string conversion (that belongs to the front-end), only
// what the native print() and error messages need.
func (m *VM) describe(v value.Value) string {
	switch v.Tag() {
	case value.TagInt:
		i, _ := v.Int()
		return fmt.Sprintf("%d", i)
	case value.TagNil:
		return "nil"
	case value.TagFalse, value.TagTrue:
		b, _ := v.Bool()
		return fmt.Sprintf("%t", b)
	case value.TagString:
		s, _ := m.stringBytes(v)
		return string(s)
	case value.TagField:
		e, _ := m.heap.Field(v)
		return e.String()
	default:
		return fmt.Sprintf("<%s>", v.Tag())
	}
}

func nativeTypeOf(m *VM, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Nil, argErr("type_of", 1, len(args))
	}
	return m.heap.AllocString([]byte(args[0].Tag().TypeName()))
}

func nativeLen(m *VM, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Nil, argErr("len", 1, len(args))
	}
	switch args[0].Tag() {
	case value.TagList:
		obj, _ := m.heap.List(args[0])
		return value.IntValue(int64(len(obj.Items)))
	case value.TagMap:
		obj, _ := m.heap.Map(args[0])
		return value.IntValue(int64(len(obj.Entries)))
	case value.TagString:
		s, _ := m.heap.String(args[0])
		return value.IntValue(int64(len(s.Data)))
	}
	return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "len"}, "value of type %s has no length", args[0].Tag())
}

func nativeAssert(m *VM, args []value.Value) (value.Value, error) {
	if len(args) < 1 {
		return value.Nil, argErr("assert", 1, len(args))
	}
	b, ok := args[0].Bool()
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "assert"}, "condition is not a bool")
	}
	if !b {
		msg := "assertion failed"
		if len(args) > 1 {
			msg = m.describe(args[1])
		}
		return value.Nil, fmt.Errorf("assert: %s", msg)
	}
	return value.Nil, nil
}

func nativeTime(m *VM, args []value.Value) (value.Value, error) {
	return value.IntValue(time.Now().Unix())
}

func nativeListPush(m *VM, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Nil, argErr("list_push", 2, len(args))
	}
	obj, ok := m.heap.List(args[0])
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "list_push"}, "not a list")
	}
	next := append(append([]value.Value{}, obj.Items...), args[1])
	m.heap.SetList(args[0], next)
	return args[0], nil
}

func nativeListPop(m *VM, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Nil, argErr("list_pop", 1, len(args))
	}
	obj, ok := m.heap.List(args[0])
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "list_pop"}, "not a list")
	}
	if len(obj.Items) == 0 {
		return value.Nil, diag.New(diag.ErrIndexOutOfRange, diag.Location{Function: "list_pop"}, "pop from an empty list")
	}
	last := obj.Items[len(obj.Items)-1]
	m.heap.SetList(args[0], obj.Items[:len(obj.Items)-1])
	return last, nil
}

func nativeListGet(m *VM, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Nil, argErr("list_get", 2, len(args))
	}
	obj, ok := m.heap.List(args[0])
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "list_get"}, "not a list")
	}
	idx, ok := args[1].Int()
	if !ok || idx < 0 || int(idx) >= len(obj.Items) {
		return value.Nil, diag.New(diag.ErrIndexOutOfRange, diag.Location{Function: "list_get"}, "index out of range")
	}
	return obj.Items[idx], nil
}

func nativeListSet(m *VM, args []value.Value) (value.Value, error) {
	if len(args) != 3 {
		return value.Nil, argErr("list_set", 3, len(args))
	}
	obj, ok := m.heap.List(args[0])
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "list_set"}, "not a list")
	}
	idx, ok := args[1].Int()
	if !ok || idx < 0 || int(idx) >= len(obj.Items) {
		return value.Nil, diag.New(diag.ErrIndexOutOfRange, diag.Location{Function: "list_set"}, "index out of range")
	}
	obj.Items[idx] = args[2]
	return args[0], nil
}

func nativeMapGet(m *VM, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Nil, argErr("map_get", 2, len(args))
	}
	obj, ok := m.heap.Map(args[0])
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "map_get"}, "not a map")
	}
	key, ok := m.stringBytes(args[1])
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "map_get"}, "key is not a string")
	}
	v, ok := obj.Entries[string(key)]
	if !ok {
		return value.Nil, nil
	}
	return v, nil
}

func nativeMapSet(m *VM, args []value.Value) (value.Value, error) {
	if len(args) != 3 {
		return value.Nil, argErr("map_set", 3, len(args))
	}
	key, ok := m.stringBytes(args[1])
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "map_set"}, "key is not a string")
	}
	m.heap.SetMapEntry(args[0], string(key), args[2])
	return args[0], nil
}

func nativeMapDelete(m *VM, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Nil, argErr("map_delete", 2, len(args))
	}
	key, ok := m.stringBytes(args[1])
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "map_delete"}, "key is not a string")
	}
	m.heap.DeleteMapEntry(args[0], string(key))
	return args[0], nil
}

func nativeStringConcat(m *VM, args []value.Value) (value.Value, error) {
	var buf []byte
	for _, a := range args {
		s, ok := m.stringBytes(a)
		if !ok {
			return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "string_concat"}, "argument is not a string")
		}
		buf = append(buf, s...)
	}
	return m.heap.AllocString(buf)
}

// nativeField constructs a field-element value from an int or a decimal
// string, for code outside a circuit body that still needs to hand
// concrete BN254 scalars to poseidon() or a `prove` block's captures.
func nativeField(m *VM, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Nil, argErr("field", 1, len(args))
	}
	switch args[0].Tag() {
	case value.TagInt:
		i, _ := args[0].Int()
		return m.heap.AllocField(field.FromInt64(i))
	case value.TagString:
		s, _ := m.stringBytes(args[0])
		e, err := field.FromDecimalString(string(s))
		if err != nil {
			return value.Nil, fmt.Errorf("field: %w", err)
		}
		return m.heap.AllocField(e)
	case value.TagField:
		return args[0], nil
	}
	return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{Function: "field"}, "cannot construct a field element from %s", args[0].Tag())
}

// nativePoseidon backs both poseidon() and poseidon_many(): the native
// side of the hash, used outside a circuit body, must derive from the
// same internal/poseidon implementation the R1CS/Plonk/gnark gadgets do,
// or a program could compute one hash natively and a different one inside
// a `prove` block over the same inputs.
func nativePoseidon(m *VM, args []value.Value) (value.Value, error) {
	elems := make([]field.Element, len(args))
	for i, a := range args {
		fe, err := m.toFieldElement(a)
		if err != nil {
			return value.Nil, err
		}
		elems[i] = fe
	}
	return m.heap.AllocField(poseidon.Hash(elems))
}

func nativeProofJSON(m *VM, args []value.Value) (value.Value, error) {
	p, ok := m.proofArg(args, "proof_json")
	if !ok {
		return value.Nil, proofArgErr("proof_json")
	}
	return m.heap.AllocString([]byte(p.ProofJSON))
}

func nativeProofPublic(m *VM, args []value.Value) (value.Value, error) {
	p, ok := m.proofArg(args, "proof_public")
	if !ok {
		return value.Nil, proofArgErr("proof_public")
	}
	return m.heap.AllocString([]byte(p.PublicJSON))
}

func nativeProofVKey(m *VM, args []value.Value) (value.Value, error) {
	p, ok := m.proofArg(args, "proof_vkey")
	if !ok {
		return value.Nil, proofArgErr("proof_vkey")
	}
	return m.heap.AllocString([]byte(p.VKeyJSON))
}

func nativeVerifyProof(m *VM, args []value.Value) (value.Value, error) {
	p, ok := m.proofArg(args, "verify_proof")
	if !ok {
		return value.Nil, proofArgErr("verify_proof")
	}
	ok2, err := prove.Verify(p.ProofJSON, p.PublicJSON, p.VKeyJSON)
	if err != nil {
		return value.Nil, err
	}
	return value.BoolValue(ok2), nil
}

func (m *VM) proofArg(args []value.Value, name string) (*heap.ProofObj, bool) {
	if len(args) != 1 {
		return nil, false
	}
	p, ok := m.heap.Proof(args[0])
	if !ok {
		return nil, false
	}
	return p, true
}

func proofArgErr(name string) error {
	return diag.New(diag.ErrTypeMismatch, diag.Location{Function: name}, "expects a single proof-typed argument")
}

// nativeNativeNames lists every installed native in sorted order, letting
// scripts introspect the runtime's builtin surface.
func nativeNativeNames(m *VM, args []value.Value) (value.Value, error) {
	names := slices.Clone(m.nativeNames)
	slices.Sort(names)
	items := make([]value.Value, len(names))
	for i, n := range names {
		v, err := m.heap.AllocString([]byte(n))
		if err != nil {
			return value.Nil, err
		}
		items[i] = v
	}
	return m.heap.AllocList(items)
}
