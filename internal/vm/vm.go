// Package vm executes compiled bytecode (internal/bytecode) against the
// tagged value model (internal/value) and the garbage-collected heap
// (internal/heap): a flat register stack shared across call frames,
// open/closed upvalues for closures, snapshot iterators for for-in
// loops, and an OpProve instruction that hands a captured-variable
// snapshot to internal/prove to compile and run an inline `prove { }`
// block.
package vm

import (
	"fmt"

	"fieldvm/internal/ast"
	"fieldvm/internal/bytecode"
	"fieldvm/internal/diag"
	"fieldvm/internal/field"
	"fieldvm/internal/heap"
	"fieldvm/internal/prove"
	"fieldvm/internal/value"
)

// DefaultStackSize is the flat register stack's slot count.
const DefaultStackSize = 65536

// frame is one active call's view into the shared stack: base is the
// absolute stack index of register 0 for this call. destReg is where, in
// the calling frame, this call's return value must be written; it is
// meaningless for the outermost frame a Run call pushes.
type frame struct {
	proto         *bytecode.Prototype
	base          int
	pc            int
	closureHandle uint32
	hasClosure    bool
	destReg       int32
}

// nativeFunc is a built-in implemented in Go rather than bytecode.
type nativeFunc func(m *VM, args []value.Value) (value.Value, error)

// VM is one execution context: its own stack and call frames, sharing a
// heap and prototype table with whatever loaded them.
type VM struct {
	stack  []value.Value
	frames []frame

	heap  *heap.Heap
	table *bytecode.Table

	// protoHandles[i] is the heap arena handle backing table.Prototypes[i],
	// allocated once at load time so OpClosure can hand it to
	// heap.AllocClosure without re-allocating the prototype object.
	protoHandles []uint32

	globals       map[string]value.Value
	globalMutable map[string]bool

	// openUpvalues maps an absolute stack index to the still-open upvalue
	// object that captures it, so two closures capturing the same local
	// share one upvalue instead of aliasing diverging copies.
	openUpvalues map[int]uint32

	natives     []nativeFunc
	nativeNames []string
	nativeIndex map[string]int

	// fault is set by reg/setReg when an instruction's register operand
	// falls outside the current frame's declared slot range, and checked
	// once per dispatch-loop iteration: a malformed prototype (e.g. a
	// corrupted CBOR-persisted bytecode.Table) becomes this hard error
	// instead of a stack-index panic.
	fault error
}

// New returns a VM sharing h and loaded from table, with the default stack
// size. Every prototype in table is allocated into h up front so closures
// can be built from it.
func New(h *heap.Heap, table *bytecode.Table) (*VM, error) {
	return NewSized(h, table, DefaultStackSize)
}

// NewSized is New with an explicit stack size, for callers (internal/config)
// that expose it as a tunable.
func NewSized(h *heap.Heap, table *bytecode.Table, stackSize int) (*VM, error) {
	m := &VM{
		stack:         make([]value.Value, stackSize),
		heap:          h,
		table:         table,
		protoHandles:  make([]uint32, len(table.Prototypes)),
		globals:       map[string]value.Value{},
		globalMutable: map[string]bool{},
		openUpvalues:  map[int]uint32{},
		nativeIndex:   map[string]int{},
	}
	for i := range m.stack {
		m.stack[i] = value.Nil
	}
	for i, p := range table.Prototypes {
		v, err := h.AllocPrototype(p)
		if err != nil {
			return nil, err
		}
		handle, _ := v.Handle()
		m.protoHandles[i] = handle
	}
	m.registerNatives()
	return m, nil
}

func (m *VM) defineNative(name string, fn nativeFunc) {
	idx := len(m.natives)
	m.natives = append(m.natives, fn)
	m.nativeNames = append(m.nativeNames, name)
	m.nativeIndex[name] = idx
	m.globals[name] = value.NativeValue(uint32(idx))
	m.globalMutable[name] = false
}

// Run executes the prototype at protoIndex as a fresh top-level call with
// the given arguments, returning whatever it returns.
func (m *VM) Run(protoIndex int, args []value.Value) (value.Value, error) {
	proto, ok := m.table.Get(protoIndex)
	if !ok {
		return value.Nil, diag.New(diag.ErrUndefinedVar, diag.Location{Function: "vm"}, "no prototype at index %d", protoIndex)
	}
	if proto.MaxSlots > len(m.stack) {
		return value.Nil, diag.New(diag.ErrStackOverflow, diag.Location{Function: proto.Name}, "prototype requires %d slots, stack has %d", proto.MaxSlots, len(m.stack))
	}
	for i, a := range args {
		if i >= proto.MaxSlots {
			break
		}
		m.stack[i] = a
	}
	m.frames = append(m.frames, frame{proto: proto, base: 0, destReg: -1})
	return m.exec()
}

func (m *VM) current() *frame { return &m.frames[len(m.frames)-1] }

// registerIndex validates i against both the current frame's declared
// slot count and the backing stack, returning the absolute stack index.
// An out-of-range i sets m.fault rather than letting the caller index the
// stack slice directly and panic.
func (m *VM) registerIndex(f *frame, i int32) (int, bool) {
	if i < 0 || int(i) >= f.proto.MaxSlots {
		m.fault = diag.New(diag.ErrStackOverflow, m.loc(f), "register %d out of range for frame %q with %d slots", i, f.proto.Name, f.proto.MaxSlots)
		return 0, false
	}
	idx := f.base + int(i)
	if idx < 0 || idx >= len(m.stack) {
		m.fault = diag.New(diag.ErrStackOverflow, m.loc(f), "register %d out of range for the %d-slot stack", i, len(m.stack))
		return 0, false
	}
	return idx, true
}

func (m *VM) reg(f *frame, i int32) value.Value {
	idx, ok := m.registerIndex(f, i)
	if !ok {
		return value.Nil
	}
	return m.stack[idx]
}

func (m *VM) setReg(f *frame, i int32, v value.Value) {
	idx, ok := m.registerIndex(f, i)
	if !ok {
		return
	}
	m.stack[idx] = v
}

func (m *VM) loc(f *frame) diag.Location {
	return diag.Location{Function: f.proto.Name, Line: f.proto.LineFor(f.pc - 1)}
}

func (m *VM) pushFrame(proto *bytecode.Prototype, base int, closureHandle uint32, destReg int32) error {
	if base+proto.MaxSlots > len(m.stack) {
		return diag.New(diag.ErrStackOverflow, diag.Location{Function: proto.Name}, "call would exceed the %d-slot stack", len(m.stack))
	}
	m.frames = append(m.frames, frame{proto: proto, base: base, closureHandle: closureHandle, hasClosure: true, destReg: destReg})
	return nil
}

// closeUpvaluesFrom closes (snapshots the current value of) every open
// upvalue whose captured stack slot is >= threshold, removing it from the
// open set; called when a frame returns or a block it owns exits.
func (m *VM) closeUpvaluesFrom(threshold int) {
	for abs, handle := range m.openUpvalues {
		if abs >= threshold {
			m.heap.CloseUpvalue(handle, m.stack[abs])
			delete(m.openUpvalues, abs)
		}
	}
}

// maybeCollect runs a collection if the heap has requested one, supplying
// the precise root set the collector requires: every occupied stack
// slot across all active frames, every global, and every open upvalue.
func (m *VM) maybeCollect() {
	if !m.heap.CollectRequested {
		return
	}
	top := 0
	for i := range m.frames {
		end := m.frames[i].base + m.frames[i].proto.MaxSlots
		if end > top {
			top = end
		}
	}
	values := make([]value.Value, 0, top+len(m.globals))
	values = append(values, m.stack[:top]...)
	for _, v := range m.globals {
		values = append(values, v)
	}
	openHandles := make([]uint32, 0, len(m.openUpvalues))
	for _, h := range m.openUpvalues {
		openHandles = append(openHandles, h)
	}
	m.heap.Collect(heap.RootSet{Values: values, OpenUpvalues: openHandles})
}

func (m *VM) toFieldElement(v value.Value) (field.Element, error) {
	switch v.Tag() {
	case value.TagField:
		e, _ := m.heap.Field(v)
		return e, nil
	case value.TagInt:
		i, _ := v.Int()
		return field.FromInt64(i), nil
	}
	return field.Element{}, fmt.Errorf("vm: value of type %s cannot be used as a circuit input", v.Tag())
}

func (m *VM) stringBytes(v value.Value) ([]byte, bool) {
	s, ok := m.heap.String(v)
	if !ok {
		return nil, false
	}
	return s.Data, true
}

// exec runs instructions until the outermost frame Run pushed returns.
func (m *VM) exec() (value.Value, error) {
	for {
		if m.fault != nil {
			err := m.fault
			m.fault = nil
			return value.Nil, err
		}
		m.maybeCollect()

		f := m.current()
		if f.pc >= len(f.proto.Code) {
			return value.Nil, diag.New(diag.ErrStackOverflow, m.loc(f), "fell off the end of bytecode without a return")
		}
		ins := f.proto.Code[f.pc]
		f.pc++

		switch ins.Op {
		case bytecode.OpLoadConst:
			m.setReg(f, ins.A, f.proto.Constants[ins.B])

		case bytecode.OpMove:
			m.setReg(f, ins.A, m.reg(f, ins.B))

		case bytecode.OpLoadNil:
			m.setReg(f, ins.A, value.Nil)

		case bytecode.OpLoadBool:
			m.setReg(f, ins.A, value.BoolValue(ins.B != 0))

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv:
			r, err := m.arith(f, ins)
			if err != nil {
				return value.Nil, err
			}
			m.setReg(f, ins.A, r)

		case bytecode.OpNeg:
			x, ok := m.reg(f, ins.B).Int()
			if !ok {
				return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "neg: operand is not an int")
			}
			r, err := value.IntValue(-x)
			if err != nil {
				return value.Nil, diag.New(diag.ErrIntegerOverflow, m.loc(f), "%v", err)
			}
			m.setReg(f, ins.A, r)

		case bytecode.OpEq:
			m.setReg(f, ins.A, value.BoolValue(m.valuesEqual(m.reg(f, ins.B), m.reg(f, ins.C))))

		case bytecode.OpNeq:
			m.setReg(f, ins.A, value.BoolValue(!m.valuesEqual(m.reg(f, ins.B), m.reg(f, ins.C))))

		case bytecode.OpLt, bytecode.OpLe:
			r, err := m.compare(f, ins)
			if err != nil {
				return value.Nil, err
			}
			m.setReg(f, ins.A, r)

		case bytecode.OpNot:
			b, ok := m.reg(f, ins.B).Bool()
			if !ok {
				return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "not: operand is not a bool")
			}
			m.setReg(f, ins.A, value.BoolValue(!b))

		case bytecode.OpAnd, bytecode.OpOr:
			r, err := m.logical(f, ins)
			if err != nil {
				return value.Nil, err
			}
			m.setReg(f, ins.A, r)

		case bytecode.OpNewList:
			items := make([]value.Value, ins.B)
			for i := range items {
				items[i] = value.Nil
			}
			v, err := m.heap.AllocList(items)
			if err != nil {
				return value.Nil, err
			}
			m.setReg(f, ins.A, v)

		case bytecode.OpNewMap:
			v, err := m.heap.AllocMap(nil)
			if err != nil {
				return value.Nil, err
			}
			m.setReg(f, ins.A, v)

		case bytecode.OpGetIndex:
			r, err := m.getIndex(f, m.reg(f, ins.B), m.reg(f, ins.C))
			if err != nil {
				return value.Nil, err
			}
			m.setReg(f, ins.A, r)

		case bytecode.OpSetIndex:
			if err := m.setIndex(f, m.reg(f, ins.A), m.reg(f, ins.B), m.reg(f, ins.C)); err != nil {
				return value.Nil, err
			}

		case bytecode.OpGetGlobal:
			name, ok := m.stringBytes(f.proto.Constants[ins.B])
			if !ok {
				return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "global name constant is not a string")
			}
			v, ok := m.globals[string(name)]
			if !ok {
				return value.Nil, diag.New(diag.ErrUndefinedVar, m.loc(f), "%q", string(name))
			}
			m.setReg(f, ins.A, v)

		case bytecode.OpSetGlobal:
			name, ok := m.stringBytes(f.proto.Constants[ins.B])
			if !ok {
				return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "global name constant is not a string")
			}
			n := string(name)
			if _, ok := m.globals[n]; !ok {
				return value.Nil, diag.New(diag.ErrUndefinedVar, m.loc(f), "%q", n)
			}
			if !m.globalMutable[n] {
				return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "global %q is not mutable", n)
			}
			m.globals[n] = m.reg(f, ins.A)

		case bytecode.OpDefGlobal:
			name, ok := m.stringBytes(f.proto.Constants[ins.B])
			if !ok {
				return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "global name constant is not a string")
			}
			n := string(name)
			m.globals[n] = m.reg(f, ins.A)
			m.globalMutable[n] = ins.C != 0

		case bytecode.OpClosure:
			v, err := m.makeClosure(f, int(ins.B))
			if err != nil {
				return value.Nil, err
			}
			m.setReg(f, ins.A, v)

		case bytecode.OpGetUpval:
			v, err := m.getUpval(f, ins.B)
			if err != nil {
				return value.Nil, err
			}
			m.setReg(f, ins.A, v)

		case bytecode.OpSetUpval:
			if err := m.setUpval(f, ins.B, m.reg(f, ins.A)); err != nil {
				return value.Nil, err
			}

		case bytecode.OpCloseUpvals:
			m.closeUpvaluesFrom(f.base + int(ins.A))

		case bytecode.OpJump:
			f.pc += int(ins.B)

		case bytecode.OpJumpIfFalse:
			cond, ok := m.reg(f, ins.A).Bool()
			if !ok {
				return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "jump condition is not a bool")
			}
			if !cond {
				f.pc += int(ins.B)
			}

		case bytecode.OpCall:
			if err := m.call(f, ins); err != nil {
				return value.Nil, err
			}

		case bytecode.OpReturn:
			var rv value.Value
			if ins.B == 0 {
				rv = value.Nil
			} else {
				rv = m.reg(f, ins.A)
			}
			m.closeUpvaluesFrom(f.base)
			destReg := f.destReg
			m.frames = m.frames[:len(m.frames)-1]
			if len(m.frames) == 0 {
				return rv, nil
			}
			if destReg >= 0 {
				m.setReg(m.current(), destReg, rv)
			}

		case bytecode.OpGetIter:
			v, err := m.getIter(m.reg(f, ins.B))
			if err != nil {
				return value.Nil, err
			}
			m.setReg(f, ins.A, v)

		case bytecode.OpForIter:
			if err := m.forIter(f, ins); err != nil {
				return value.Nil, err
			}

		case bytecode.OpProve:
			if err := m.prove(f, ins); err != nil {
				return value.Nil, err
			}

		default:
			return value.Nil, diag.New(diag.ErrUnsupportedOperation, m.loc(f), "unhandled opcode %s", ins.Op)
		}
	}
}

func (m *VM) prove(f *frame, ins bytecode.Instruction) error {
	if int(ins.B) >= len(f.proto.ProveBlocks) {
		return diag.New(diag.ErrTypeMismatch, m.loc(f), "no prove block at index %d", ins.B)
	}
	pb := f.proto.ProveBlocks[ins.B]
	names := make([]string, 0, len(pb.PublicNames)+len(pb.WitnessNames))
	names = append(names, pb.PublicNames...)
	names = append(names, pb.WitnessNames...)

	captured := make(map[string]field.Element, len(names))
	for i, name := range names {
		v := m.reg(f, ins.C+int32(i))
		if m.fault != nil {
			err := m.fault
			m.fault = nil
			return err
		}
		fe, err := m.toFieldElement(v)
		if err != nil {
			return err
		}
		captured[name] = fe
	}

	body, ok := pb.Body.(*ast.Block)
	if !ok {
		return diag.New(diag.ErrProveBlockFailed, m.loc(f), "prove block %d has no lowered body", ins.B)
	}
	proofJSON, publicJSON, vkeyJSON, warnings, err := prove.Execute(body, pb.Backend, captured)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		m.heap.Log.Warn().Str("kind", w.Kind).Str("name", w.Name).Msg(w.Message)
	}
	pv, err := m.heap.AllocProof(proofJSON, publicJSON, vkeyJSON)
	if err != nil {
		return err
	}
	m.setReg(f, ins.A, pv)
	return nil
}
