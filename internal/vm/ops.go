package vm

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"fieldvm/internal/bytecode"
	"fieldvm/internal/diag"
	"fieldvm/internal/value"
)

func (m *VM) arith(f *frame, ins bytecode.Instruction) (value.Value, error) {
	a, ok := m.reg(f, ins.B).Int()
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "%s: left operand is not an int", ins.Op)
	}
	b, ok := m.reg(f, ins.C).Int()
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "%s: right operand is not an int", ins.Op)
	}
	var r int64
	switch ins.Op {
	case bytecode.OpAdd:
		r = a + b
	case bytecode.OpSub:
		r = a - b
	case bytecode.OpMul:
		r = a * b
	case bytecode.OpDiv:
		if b == 0 {
			return value.Nil, diag.New(diag.ErrDivisionByZero, m.loc(f), "division by zero")
		}
		r = a / b
	}
	v, err := value.IntValue(r)
	if err != nil {
		return value.Nil, diag.New(diag.ErrIntegerOverflow, m.loc(f), "%v", err)
	}
	return v, nil
}

func (m *VM) compare(f *frame, ins bytecode.Instruction) (value.Value, error) {
	a, ok := m.reg(f, ins.B).Int()
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "%s: left operand is not an int", ins.Op)
	}
	b, ok := m.reg(f, ins.C).Int()
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "%s: right operand is not an int", ins.Op)
	}
	if ins.Op == bytecode.OpLt {
		return value.BoolValue(a < b), nil
	}
	return value.BoolValue(a <= b), nil
}

func (m *VM) logical(f *frame, ins bytecode.Instruction) (value.Value, error) {
	a, ok := m.reg(f, ins.B).Bool()
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "%s: left operand is not a bool", ins.Op)
	}
	b, ok := m.reg(f, ins.C).Bool()
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "%s: right operand is not a bool", ins.Op)
	}
	if ins.Op == bytecode.OpAnd {
		return value.BoolValue(a && b), nil
	}
	return value.BoolValue(a || b), nil
}

// valuesEqual implements == / !=. Strings compare by content; every other
// heap-backed variant compares by handle (reference identity): structural
// equality for lists and maps is left to an explicit helper, not `==`.
func (m *VM) valuesEqual(a, b value.Value) bool {
	if a.Tag() != b.Tag() {
		return false
	}
	if a.Tag() == value.TagString {
		sa, _ := m.stringBytes(a)
		sb, _ := m.stringBytes(b)
		return string(sa) == string(sb)
	}
	return a == b
}

func (m *VM) getIndex(f *frame, base, key value.Value) (value.Value, error) {
	switch base.Tag() {
	case value.TagList:
		obj, ok := m.heap.List(base)
		if !ok {
			return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "index: not a list")
		}
		idx, ok := key.Int()
		if !ok {
			return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "list index is not an int")
		}
		if idx < 0 || int(idx) >= len(obj.Items) {
			return value.Nil, diag.New(diag.ErrIndexOutOfRange, m.loc(f), "index %d out of range for list of length %d", idx, len(obj.Items))
		}
		return obj.Items[idx], nil

	case value.TagMap:
		obj, ok := m.heap.Map(base)
		if !ok {
			return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "index: not a map")
		}
		k, ok := m.stringBytes(key)
		if !ok {
			return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "map key is not a string")
		}
		v, ok := obj.Entries[string(k)]
		if !ok {
			return value.Nil, nil
		}
		return v, nil
	}
	return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "value of type %s is not indexable", base.Tag())
}

func (m *VM) setIndex(f *frame, base, key, v value.Value) error {
	switch base.Tag() {
	case value.TagList:
		obj, ok := m.heap.List(base)
		if !ok {
			return diag.New(diag.ErrTypeMismatch, m.loc(f), "index assignment: not a list")
		}
		idx, ok := key.Int()
		if !ok {
			return diag.New(diag.ErrTypeMismatch, m.loc(f), "list index is not an int")
		}
		if idx < 0 || int(idx) >= len(obj.Items) {
			return diag.New(diag.ErrIndexOutOfRange, m.loc(f), "index %d out of range for list of length %d", idx, len(obj.Items))
		}
		obj.Items[idx] = v
		return nil

	case value.TagMap:
		k, ok := m.stringBytes(key)
		if !ok {
			return diag.New(diag.ErrTypeMismatch, m.loc(f), "map key is not a string")
		}
		m.heap.SetMapEntry(base, string(k), v)
		return nil
	}
	return diag.New(diag.ErrTypeMismatch, m.loc(f), "value of type %s is not indexable", base.Tag())
}

// makeClosure instantiates table.Prototypes[protoIdx] as a closure,
// capturing each declared upvalue either from the current frame's still-
// open stack slots or by forwarding a handle already held by the current
// frame's own closure (the nested-closure case).
func (m *VM) makeClosure(f *frame, protoIdx int) (value.Value, error) {
	target, ok := m.table.Get(protoIdx)
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "no prototype at index %d", protoIdx)
	}
	handles := make([]uint32, len(target.Upvalues))
	for i, d := range target.Upvalues {
		if d.FromStack {
			abs := f.base + int(d.Index)
			h, ok := m.openUpvalues[abs]
			if !ok {
				var err error
				h, err = m.heap.AllocOpenUpvalue(abs)
				if err != nil {
					return value.Nil, err
				}
				m.openUpvalues[abs] = h
			}
			handles[i] = h
		} else {
			if !f.hasClosure {
				return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "closure upvalue capture outside any enclosing closure")
			}
			enclosing, ok := m.heap.Closure(value.HandleValue(value.TagClosure, f.closureHandle))
			if !ok {
				return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "enclosing closure handle is invalid")
			}
			handles[i] = enclosing.Upvalues[d.Index]
		}
	}
	return m.heap.AllocClosure(m.protoHandles[protoIdx], handles)
}

func (m *VM) getUpval(f *frame, idx int32) (value.Value, error) {
	if !f.hasClosure {
		return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "get_upval outside any closure")
	}
	closure, ok := m.heap.Closure(value.HandleValue(value.TagClosure, f.closureHandle))
	if !ok || int(idx) >= len(closure.Upvalues) {
		return value.Nil, diag.New(diag.ErrIndexOutOfRange, m.loc(f), "no upvalue at index %d", idx)
	}
	obj, ok := m.heap.Upvalue(closure.Upvalues[idx])
	if !ok {
		return value.Nil, diag.New(diag.ErrTypeMismatch, m.loc(f), "upvalue handle is invalid")
	}
	if obj.Open {
		return m.stack[obj.StackIdx], nil
	}
	return obj.Closed, nil
}

func (m *VM) setUpval(f *frame, idx int32, v value.Value) error {
	if !f.hasClosure {
		return diag.New(diag.ErrTypeMismatch, m.loc(f), "set_upval outside any closure")
	}
	closure, ok := m.heap.Closure(value.HandleValue(value.TagClosure, f.closureHandle))
	if !ok || int(idx) >= len(closure.Upvalues) {
		return diag.New(diag.ErrIndexOutOfRange, m.loc(f), "no upvalue at index %d", idx)
	}
	handle := closure.Upvalues[idx]
	obj, ok := m.heap.Upvalue(handle)
	if !ok {
		return diag.New(diag.ErrTypeMismatch, m.loc(f), "upvalue handle is invalid")
	}
	if obj.Open {
		m.stack[obj.StackIdx] = v
	} else {
		m.heap.CloseUpvalue(handle, v)
	}
	return nil
}

func (m *VM) call(f *frame, ins bytecode.Instruction) error {
	callee := m.reg(f, ins.B)
	argc := int(ins.C)
	switch callee.Tag() {
	case value.TagNative:
		idx, _ := callee.NativeIndex()
		if int(idx) >= len(m.natives) {
			return diag.New(diag.ErrNotCallable, m.loc(f), "native index %d out of range", idx)
		}
		args := make([]value.Value, argc)
		for i := 0; i < argc; i++ {
			args[i] = m.reg(f, ins.B+1+int32(i))
		}
		result, err := m.natives[idx](m, args)
		if err != nil {
			return err
		}
		m.setReg(f, ins.A, result)
		return nil

	case value.TagClosure:
		handle, _ := callee.Handle()
		closure, ok := m.heap.Closure(callee)
		if !ok {
			return diag.New(diag.ErrNotCallable, m.loc(f), "closure handle is invalid")
		}
		proto, ok := m.heap.PrototypeAt(closure.ProtoHandle)
		if !ok {
			return diag.New(diag.ErrNotCallable, m.loc(f), "closure's prototype is invalid")
		}
		newBase := f.base + int(ins.B) + 1
		return m.pushFrame(proto, newBase, handle, ins.A)

	case value.TagFunction:
		proto, ok := m.heap.Prototype(callee)
		if !ok {
			return diag.New(diag.ErrNotCallable, m.loc(f), "function handle is invalid")
		}
		newBase := f.base + int(ins.B) + 1
		return m.pushFrame(proto, newBase, 0, ins.A)
	}
	return diag.New(diag.ErrNotCallable, m.loc(f), "value of type %s is not callable", callee.Tag())
}

// getIter snapshots a list or map for a for-in loop. Map iteration order is
// the sorted key order: golang.org/x/exp/maps + slices give a deterministic
// traversal without the VM hand-rolling a sort over a second copy of the key
// set on every loop.
func (m *VM) getIter(base value.Value) (value.Value, error) {
	switch base.Tag() {
	case value.TagList:
		obj, ok := m.heap.List(base)
		if !ok {
			return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{}, "get_iter: not a list")
		}
		snapshot := append([]value.Value{}, obj.Items...)
		return m.heap.AllocIterator(snapshot)

	case value.TagMap:
		obj, ok := m.heap.Map(base)
		if !ok {
			return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{}, "get_iter: not a map")
		}
		keys := maps.Keys(obj.Entries)
		slices.Sort(keys)
		snapshot := make([]value.Value, len(keys))
		for i, k := range keys {
			keyVal, err := m.heap.AllocString([]byte(k))
			if err != nil {
				return value.Nil, err
			}
			pair, err := m.heap.AllocList([]value.Value{keyVal, obj.Entries[k]})
			if err != nil {
				return value.Nil, err
			}
			snapshot[i] = pair
		}
		return m.heap.AllocIterator(snapshot)
	}
	return value.Nil, diag.New(diag.ErrTypeMismatch, diag.Location{}, "get_iter: value of type %s is not iterable", base.Tag())
}

func (m *VM) forIter(f *frame, ins bytecode.Instruction) error {
	iterVal := m.reg(f, ins.B)
	obj, ok := m.heap.Iterator(iterVal)
	if !ok {
		return diag.New(diag.ErrTypeMismatch, m.loc(f), "for_iter: not an iterator")
	}
	if obj.Cursor >= len(obj.Snapshot) {
		f.pc += int(ins.C)
		return nil
	}
	m.setReg(f, ins.A, obj.Snapshot[obj.Cursor])
	m.heap.AdvanceIterator(iterVal, obj.Cursor+1)
	return nil
}
