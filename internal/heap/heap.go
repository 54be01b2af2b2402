// Package heap implements the virtual machine's typed arenas and
// mark-and-sweep garbage collector. Each heap-allocated variant (string,
// list, map, function prototype, closure, upvalue, iterator, field,
// proof) lives in its own dense arena with a free-slot
// set for O(1) reuse of handles.
package heap

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/ronanh/intcomp"
	"github.com/rs/zerolog"

	"fieldvm/internal/bytecode"
	"fieldvm/internal/field"
	"fieldvm/internal/value"
)

// ErrHeapOverflow is raised when an arena would need to hold more than
// 2^32-1 live objects of one kind.
var ErrHeapOverflow = errors.New("heap: arena index saturation (2^32 live objects)")

const floorThreshold = 1 << 20 // 1 MiB minimum collection threshold.

// StringObj is a UTF-8 byte buffer.
type StringObj struct{ Data []byte }

// ListObj is an ordered vector of tagged values.
type ListObj struct{ Items []value.Value }

// MapObj maps strings to tagged values; insertion order is not preserved.
type MapObj struct{ Entries map[string]value.Value }

// PrototypeObj wraps a loaded function prototype so it can be traced for
// its constant-handle references during GC.
type PrototypeObj struct{ Proto *bytecode.Prototype }

// ClosureObj is a prototype handle plus its captured upvalue handles.
type ClosureObj struct {
	ProtoHandle uint32
	Upvalues    []uint32 // handles into the Upvalues arena
}

// UpvalueObj is either Open (pointing at a live VM stack slot) or Closed
// (owning its value directly); never a raw pointer.
type UpvalueObj struct {
	Open      bool
	StackIdx  int
	Closed    value.Value
}

// IteratorObj snapshots a collection at creation time so that mutating the
// source collection afterwards cannot change what the iterator yields.
type IteratorObj struct {
	Snapshot []value.Value
	Cursor   int
}

// FieldObj wraps a single field element.
type FieldObj struct{ Elem field.Element }

// ProofObj holds the three UTF-8 JSON strings that make up a proof value.
type ProofObj struct {
	ProofJSON  string
	PublicJSON string
	VKeyJSON   string
}

// arena is a dense, typed slot vector with free-slot reuse.
type arena[T any] struct {
	slots  []T
	charge []uint64 // bytes charged per slot, for exact sweep decrement
	free   *bitset.BitSet
	kind   string
}

func newArena[T any](kind string) *arena[T] {
	return &arena[T]{free: bitset.New(0), kind: kind}
}

func (a *arena[T]) alloc(v T, charge uint64) (uint32, error) {
	if idx, ok := a.free.NextSet(0); ok {
		a.free.Clear(idx)
		a.slots[idx] = v
		a.charge[idx] = charge
		return uint32(idx), nil
	}
	if uint64(len(a.slots)) >= 1<<32-1 {
		return 0, fmt.Errorf("%w: kind=%s", ErrHeapOverflow, a.kind)
	}
	idx := uint32(len(a.slots))
	a.slots = append(a.slots, v)
	a.charge = append(a.charge, charge)
	return idx, nil
}

func (a *arena[T]) get(idx uint32) (T, bool) {
	var zero T
	if idx >= uint32(len(a.slots)) || a.free.Test(uint(idx)) {
		return zero, false
	}
	return a.slots[idx], true
}

func (a *arena[T]) set(idx uint32, v T) {
	a.slots[idx] = v
}

// sweepUnmarked frees every live slot whose index bit is not set in marked,
// returning the total bytes reclaimed.
func (a *arena[T]) sweepUnmarked(marked *bitset.BitSet) uint64 {
	var reclaimed uint64
	var zero T
	for i := 0; i < len(a.slots); i++ {
		if a.free.Test(uint(i)) {
			continue
		}
		if marked == nil || !marked.Test(uint(i)) {
			reclaimed += a.charge[i]
			a.slots[i] = zero
			a.charge[i] = 0
			a.free.Set(uint(i))
		}
	}
	return reclaimed
}

// freeSlotIndices returns the sorted list of currently-free slot indices,
// used for diagnostics.
func (a *arena[T]) freeSlotIndices() []uint32 {
	out := make([]uint32, 0, a.free.Count())
	for i, ok := a.free.NextSet(0); ok; i, ok = a.free.NextSet(i + 1) {
		out = append(out, uint32(i))
	}
	return out
}

const (
	stringBaseCost    = 32
	listBaseCost      = 24
	mapBaseCost       = 24
	prototypeBaseCost = 64
	closureBaseCost   = 24
	upvalueBaseCost   = 16
	iteratorBaseCost  = 24
	fieldBaseCost     = 40
	proofBaseCost     = 24
)

// Heap owns one arena per heap-allocated variant plus the byte-accounted
// allocation threshold used to schedule collections.
type Heap struct {
	Strings    *arena[StringObj]
	Lists      *arena[ListObj]
	Maps       *arena[MapObj]
	Prototypes *arena[PrototypeObj]
	Closures   *arena[ClosureObj]
	Upvalues   *arena[UpvalueObj]
	Iterators  *arena[IteratorObj]
	Fields     *arena[FieldObj]
	Proofs     *arena[ProofObj]

	BytesAllocated   uint64
	Threshold        uint64
	CollectRequested bool
	Stress           bool // forces a collect-requested flag on every allocation; tests only.

	Log zerolog.Logger
}

// New returns an empty heap with the floor collection threshold.
func New(log zerolog.Logger) *Heap {
	return &Heap{
		Strings:    newArena[StringObj]("string"),
		Lists:      newArena[ListObj]("list"),
		Maps:       newArena[MapObj]("map"),
		Prototypes: newArena[PrototypeObj]("prototype"),
		Closures:   newArena[ClosureObj]("closure"),
		Upvalues:   newArena[UpvalueObj]("upvalue"),
		Iterators:  newArena[IteratorObj]("iterator"),
		Fields:     newArena[FieldObj]("field"),
		Proofs:     newArena[ProofObj]("proof"),
		Threshold:  floorThreshold,
		Log:        log,
	}
}

func (h *Heap) noteAllocation(charge uint64) {
	h.BytesAllocated += charge
	if h.Stress || h.BytesAllocated >= h.Threshold {
		h.CollectRequested = true
	}
}

// AllocString allocates a new string object, charging its byte capacity.
func (h *Heap) AllocString(data []byte) (value.Value, error) {
	idx, err := h.Strings.alloc(StringObj{Data: data}, uint64(stringBaseCost+len(data)))
	if err != nil {
		return 0, err
	}
	h.noteAllocation(uint64(stringBaseCost + len(data)))
	return value.HandleValue(value.TagString, idx), nil
}

// AllocList allocates a new list object.
func (h *Heap) AllocList(items []value.Value) (value.Value, error) {
	charge := uint64(listBaseCost + 8*len(items))
	idx, err := h.Lists.alloc(ListObj{Items: items}, charge)
	if err != nil {
		return 0, err
	}
	h.noteAllocation(charge)
	return value.HandleValue(value.TagList, idx), nil
}

// AllocMap allocates a new map object.
func (h *Heap) AllocMap(entries map[string]value.Value) (value.Value, error) {
	if entries == nil {
		entries = map[string]value.Value{}
	}
	charge := uint64(mapBaseCost + 40*len(entries))
	idx, err := h.Maps.alloc(MapObj{Entries: entries}, charge)
	if err != nil {
		return 0, err
	}
	h.noteAllocation(charge)
	return value.HandleValue(value.TagMap, idx), nil
}

// AllocPrototype allocates a new function-prototype object.
func (h *Heap) AllocPrototype(p *bytecode.Prototype) (value.Value, error) {
	idx, err := h.Prototypes.alloc(PrototypeObj{Proto: p}, prototypeBaseCost)
	if err != nil {
		return 0, err
	}
	h.noteAllocation(prototypeBaseCost)
	return value.HandleValue(value.TagFunction, idx), nil
}

// AllocClosure allocates a new closure object.
func (h *Heap) AllocClosure(protoHandle uint32, upvalues []uint32) (value.Value, error) {
	charge := uint64(closureBaseCost + 4*len(upvalues))
	idx, err := h.Closures.alloc(ClosureObj{ProtoHandle: protoHandle, Upvalues: upvalues}, charge)
	if err != nil {
		return 0, err
	}
	h.noteAllocation(charge)
	return value.HandleValue(value.TagClosure, idx), nil
}

// AllocOpenUpvalue allocates a new open upvalue pointing at a stack index.
func (h *Heap) AllocOpenUpvalue(stackIdx int) (uint32, error) {
	idx, err := h.Upvalues.alloc(UpvalueObj{Open: true, StackIdx: stackIdx}, upvalueBaseCost)
	if err != nil {
		return 0, err
	}
	h.noteAllocation(upvalueBaseCost)
	return idx, nil
}

// CloseUpvalue converts an open upvalue in place into a closed one.
func (h *Heap) CloseUpvalue(handle uint32, v value.Value) {
	h.Upvalues.set(handle, UpvalueObj{Open: false, Closed: v})
}

// Upvalue returns the upvalue object for handle.
func (h *Heap) Upvalue(handle uint32) (UpvalueObj, bool) { return h.Upvalues.get(handle) }

// AllocIterator allocates a new iterator over a value snapshot.
func (h *Heap) AllocIterator(snapshot []value.Value) (value.Value, error) {
	charge := uint64(iteratorBaseCost + 8*len(snapshot))
	idx, err := h.Iterators.alloc(IteratorObj{Snapshot: snapshot}, charge)
	if err != nil {
		return 0, err
	}
	h.noteAllocation(charge)
	return value.HandleValue(value.TagIterator, idx), nil
}

// AllocField allocates a new field-element object.
func (h *Heap) AllocField(e field.Element) (value.Value, error) {
	idx, err := h.Fields.alloc(FieldObj{Elem: e}, fieldBaseCost)
	if err != nil {
		return 0, err
	}
	h.noteAllocation(fieldBaseCost)
	return value.HandleValue(value.TagField, idx), nil
}

// AllocProof allocates a new proof object; bytes are charged for all three
// JSON payload capacities.
func (h *Heap) AllocProof(proofJSON, publicJSON, vkeyJSON string) (value.Value, error) {
	charge := uint64(proofBaseCost + len(proofJSON) + len(publicJSON) + len(vkeyJSON))
	idx, err := h.Proofs.alloc(ProofObj{ProofJSON: proofJSON, PublicJSON: publicJSON, VKeyJSON: vkeyJSON}, charge)
	if err != nil {
		return 0, err
	}
	h.noteAllocation(charge)
	return value.HandleValue(value.TagProof, idx), nil
}

// SetMapEntry sets key to val in a tagged map value, charging additional
// bytes when key is new (mirrors SetList's growth accounting).
func (h *Heap) SetMapEntry(v value.Value, key string, val value.Value) {
	idx, ok := handleOf(v, value.TagMap)
	if !ok {
		return
	}
	o, _ := h.Maps.get(idx)
	_, existed := o.Entries[key]
	o.Entries[key] = val
	if !existed {
		h.Maps.charge[idx] += 40
		h.noteAllocation(40)
	}
}

// DeleteMapEntry removes key from a tagged map value, if present.
func (h *Heap) DeleteMapEntry(v value.Value, key string) {
	idx, ok := handleOf(v, value.TagMap)
	if !ok {
		return
	}
	o, _ := h.Maps.get(idx)
	delete(o.Entries, key)
}

// handleOf is a small helper asserting the tag before extracting the handle.
func handleOf(v value.Value, tag value.Tag) (uint32, bool) {
	if v.Tag() != tag {
		return 0, false
	}
	h, _ := v.Handle()
	return h, true
}

// String returns the string object for a tagged string value.
func (h *Heap) String(v value.Value) (*StringObj, bool) {
	idx, ok := handleOf(v, value.TagString)
	if !ok {
		return nil, false
	}
	o, ok := h.Strings.get(idx)
	if !ok {
		return nil, false
	}
	return &o, true
}

// List returns the list object for a tagged list value.
func (h *Heap) List(v value.Value) (*ListObj, bool) {
	idx, ok := handleOf(v, value.TagList)
	if !ok {
		return nil, false
	}
	o, ok := h.Lists.get(idx)
	if !ok {
		return nil, false
	}
	return &o, true
}

// SetList replaces the contents of a list object in place (mutation helpers
// like push/pop go through this).
func (h *Heap) SetList(v value.Value, items []value.Value) {
	idx, ok := handleOf(v, value.TagList)
	if !ok {
		return
	}
	old, _ := h.Lists.get(idx)
	h.Lists.set(idx, ListObj{Items: items})
	delta := int64(8*len(items)) - int64(8*len(old.Items))
	if delta > 0 {
		h.Lists.charge[idx] += uint64(delta)
		h.noteAllocation(uint64(delta))
	}
}

// Map returns the map object for a tagged map value.
func (h *Heap) Map(v value.Value) (*MapObj, bool) {
	idx, ok := handleOf(v, value.TagMap)
	if !ok {
		return nil, false
	}
	o, ok := h.Maps.get(idx)
	if !ok {
		return nil, false
	}
	return &o, true
}

// Prototype returns the function prototype for a tagged function value.
func (h *Heap) Prototype(v value.Value) (*bytecode.Prototype, bool) {
	idx, ok := handleOf(v, value.TagFunction)
	if !ok {
		return nil, false
	}
	o, ok := h.Prototypes.get(idx)
	if !ok {
		return nil, false
	}
	return o.Proto, true
}

// PrototypeAt returns the prototype stored at a raw arena handle (used by
// closures, which store a prototype handle directly rather than a tagged
// value).
func (h *Heap) PrototypeAt(handle uint32) (*bytecode.Prototype, bool) {
	o, ok := h.Prototypes.get(handle)
	if !ok {
		return nil, false
	}
	return o.Proto, true
}

// Closure returns the closure object for a tagged closure value.
func (h *Heap) Closure(v value.Value) (*ClosureObj, bool) {
	idx, ok := handleOf(v, value.TagClosure)
	if !ok {
		return nil, false
	}
	o, ok := h.Closures.get(idx)
	if !ok {
		return nil, false
	}
	return &o, true
}

// Iterator returns the iterator object for a tagged iterator value.
func (h *Heap) Iterator(v value.Value) (*IteratorObj, bool) {
	idx, ok := handleOf(v, value.TagIterator)
	if !ok {
		return nil, false
	}
	o, ok := h.Iterators.get(idx)
	if !ok {
		return nil, false
	}
	return &o, true
}

// AdvanceIterator writes back the cursor position after a step.
func (h *Heap) AdvanceIterator(v value.Value, cursor int) {
	idx, ok := handleOf(v, value.TagIterator)
	if !ok {
		return
	}
	o, _ := h.Iterators.get(idx)
	o.Cursor = cursor
	h.Iterators.set(idx, o)
}

// Field returns the field element for a tagged field value.
func (h *Heap) Field(v value.Value) (field.Element, bool) {
	idx, ok := handleOf(v, value.TagField)
	if !ok {
		return field.Element{}, false
	}
	o, ok := h.Fields.get(idx)
	if !ok {
		return field.Element{}, false
	}
	return o.Elem, true
}

// Proof returns the proof object for a tagged proof value.
func (h *Heap) Proof(v value.Value) (*ProofObj, bool) {
	idx, ok := handleOf(v, value.TagProof)
	if !ok {
		return nil, false
	}
	o, ok := h.Proofs.get(idx)
	if !ok {
		return nil, false
	}
	return &o, true
}

// FreeSlotStats summarizes one arena's free-slot list for the CLI's
// --heap-stats output: how many free slots it holds, and how many bytes
// its delta + bit-packed (intcomp) encoding actually takes, so the
// reported number reflects the compression rather than discarding it.
type FreeSlotStats struct {
	Count           int
	CompressedBytes int
}

// DiagnosticFreeSlots reports every arena's free-slot count and
// compressed size. The lists are sorted integers, so delta + bit-pack
// compression (intcomp) is a good fit.
func (h *Heap) DiagnosticFreeSlots() map[string]FreeSlotStats {
	raw := map[string][]uint32{
		"string":    h.Strings.freeSlotIndices(),
		"list":      h.Lists.freeSlotIndices(),
		"map":       h.Maps.freeSlotIndices(),
		"prototype": h.Prototypes.freeSlotIndices(),
		"closure":   h.Closures.freeSlotIndices(),
		"upvalue":   h.Upvalues.freeSlotIndices(),
		"iterator":  h.Iterators.freeSlotIndices(),
		"field":     h.Fields.freeSlotIndices(),
		"proof":     h.Proofs.freeSlotIndices(),
	}
	out := make(map[string]FreeSlotStats, len(raw))
	for kind, ids := range raw {
		stats := FreeSlotStats{Count: len(ids)}
		if len(ids) > 0 {
			packed := intcomp.CompressUint32(ids, nil)
			stats.CompressedBytes = len(packed) * 4
		}
		out[kind] = stats
	}
	return out
}
