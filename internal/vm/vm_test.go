package vm

import (
	"testing"

	"github.com/rs/zerolog"

	"fieldvm/internal/bytecode"
	"fieldvm/internal/heap"
	"fieldvm/internal/value"
)

func newTestVM(t *testing.T, table *bytecode.Table) *VM {
	t.Helper()
	m, err := New(heap.New(zerolog.Nop()), table)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func constInt(i int64) value.Value {
	v, err := value.IntValue(i)
	if err != nil {
		panic(err)
	}
	return v
}

// TestArithmeticAndReturn runs `return 2 + 3 * 4` entirely in registers.
func TestArithmeticAndReturn(t *testing.T) {
	proto := &bytecode.Prototype{
		Name:     "main",
		MaxSlots: 4,
		Constants: []value.Value{
			constInt(2), constInt(3), constInt(4),
		},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadConst, A: 0, B: 0},
			{Op: bytecode.OpLoadConst, A: 1, B: 1},
			{Op: bytecode.OpLoadConst, A: 2, B: 2},
			{Op: bytecode.OpMul, A: 1, B: 1, C: 2},
			{Op: bytecode.OpAdd, A: 0, B: 0, C: 1},
			{Op: bytecode.OpReturn, A: 0, B: 1},
		},
	}
	table := &bytecode.Table{}
	table.Add(proto)
	m := newTestVM(t, table)

	result, err := m.Run(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	i, ok := result.Int()
	if !ok || i != 14 {
		t.Fatalf("got %v (ok=%v), want 14", i, ok)
	}
}

// TestCallReturnsValueToCaller exercises OpCall/OpReturn across two
// prototypes: main() calls double(5) and returns its result plus 1, checking
// that the call's return value lands in the destination register the
// *caller's* OpCall named, not a register the callee's OpReturn names.
func TestCallReturnsValueToCaller(t *testing.T) {
	double := &bytecode.Prototype{
		Name:     "double",
		Arity:    1,
		MaxSlots: 2,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpAdd, A: 1, B: 0, C: 0},
			{Op: bytecode.OpReturn, A: 1, B: 1},
		},
	}
	table := &bytecode.Table{}
	doubleIdx := table.Add(double)

	main := &bytecode.Prototype{
		Name:     "main",
		MaxSlots: 4,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadConst, A: 0, B: 0},  // reg0 = double (function)
			{Op: bytecode.OpLoadConst, A: 1, B: 1},  // reg1 = 5 (argument)
			{Op: bytecode.OpCall, A: 2, B: 0, C: 1}, // reg2 = double(reg1)
			{Op: bytecode.OpLoadConst, A: 1, B: 2},  // reg1 = 1
			{Op: bytecode.OpAdd, A: 0, B: 2, C: 1},  // reg0 = reg2 + 1
			{Op: bytecode.OpReturn, A: 0, B: 1},
		},
	}
	mainIdx := table.Add(main)

	m := newTestVM(t, table)
	funcVal := value.HandleValue(value.TagFunction, m.protoHandles[doubleIdx])
	main.Constants = []value.Value{funcVal, constInt(5), constInt(1)}

	result, err := m.Run(mainIdx, nil)
	if err != nil {
		t.Fatal(err)
	}
	i, ok := result.Int()
	if !ok || i != 11 {
		t.Fatalf("got %v (ok=%v), want 11 (double(5)+1)", i, ok)
	}
}

// TestClosureCapturesOpenUpvalue builds a counter-style closure: an outer
// function holds a local in reg0, creates a closure over it via
// OpClosure, and the closure reads it with OpGetUpval.
func TestClosureCapturesOpenUpvalue(t *testing.T) {
	reader := &bytecode.Prototype{
		Name:     "reader",
		MaxSlots: 1,
		Upvalues: []bytecode.UpvalueDescriptor{{FromStack: true, Index: 0}},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpGetUpval, A: 0, B: 0},
			{Op: bytecode.OpReturn, A: 0, B: 1},
		},
	}
	table := &bytecode.Table{}
	readerIdx := table.Add(reader)

	outer := &bytecode.Prototype{
		Name:     "outer",
		MaxSlots: 2,
		Constants: []value.Value{
			constInt(42),
		},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadConst, A: 0, B: 0},           // reg0 = 42 (captured local)
			{Op: bytecode.OpClosure, A: 1, B: int32(readerIdx)}, // reg1 = closure(reader)
			{Op: bytecode.OpCall, A: 1, B: 1, C: 0},          // reg1 = reader()
			{Op: bytecode.OpReturn, A: 1, B: 1},
		},
	}
	outerIdx := table.Add(outer)

	m := newTestVM(t, table)
	result, err := m.Run(outerIdx, nil)
	if err != nil {
		t.Fatal(err)
	}
	i, ok := result.Int()
	if !ok || i != 42 {
		t.Fatalf("got %v (ok=%v), want 42", i, ok)
	}
}

// TestNativeCallLenOfList exercises OpNewList/OpGetGlobal/OpCall against the
// "len" native, and confirms globals expose natives by name.
func TestNativeCallLenOfList(t *testing.T) {
	main := &bytecode.Prototype{
		MaxSlots: 4,
		Name:     "main",
		Code: []bytecode.Instruction{
			{Op: bytecode.OpNewList, A: 1, B: 3}, // reg1 = new list[3]
			{Op: bytecode.OpGetGlobal, A: 0, B: 0},
			{Op: bytecode.OpCall, A: 0, B: 0, C: 1},
			{Op: bytecode.OpReturn, A: 0, B: 1},
		},
	}
	table := &bytecode.Table{}
	idx := table.Add(main)
	m := newTestVM(t, table)

	nameVal, err := m.heap.AllocString([]byte("len"))
	if err != nil {
		t.Fatal(err)
	}
	main.Constants = []value.Value{nameVal}

	result, err := m.Run(idx, nil)
	if err != nil {
		t.Fatal(err)
	}
	i, ok := result.Int()
	if !ok || i != 3 {
		t.Fatalf("got %v (ok=%v), want 3", i, ok)
	}
}

func TestDivisionByZeroReportsDiagnostic(t *testing.T) {
	main := &bytecode.Prototype{
		Name:     "main",
		MaxSlots: 3,
		Constants: []value.Value{
			constInt(1), constInt(0),
		},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadConst, A: 0, B: 0},
			{Op: bytecode.OpLoadConst, A: 1, B: 1},
			{Op: bytecode.OpDiv, A: 2, B: 0, C: 1},
			{Op: bytecode.OpReturn, A: 2, B: 1},
		},
	}
	table := &bytecode.Table{}
	idx := table.Add(main)
	m := newTestVM(t, table)

	if _, err := m.Run(idx, nil); err == nil {
		t.Fatal("expected a division-by-zero error")
	}
}

func TestNativeNamesIsSortedAndIncludesBuiltins(t *testing.T) {
	table := &bytecode.Table{}
	m := newTestVM(t, table)

	result, err := nativeNativeNames(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	obj, ok := m.heap.List(result)
	if !ok {
		t.Fatal("native_names did not return a list")
	}
	if len(obj.Items) == 0 {
		t.Fatal("expected a nonempty native table")
	}
	prev := ""
	for _, item := range obj.Items {
		s, ok := m.heap.String(item)
		if !ok {
			t.Fatal("native_names entry is not a string")
		}
		if string(s.Data) < prev {
			t.Fatalf("native_names is not sorted: %q before %q", prev, string(s.Data))
		}
		prev = string(s.Data)
	}
}
