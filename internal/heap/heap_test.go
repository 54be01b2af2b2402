package heap

import (
	"testing"

	"github.com/rs/zerolog"

	"fieldvm/internal/value"
)

func newTestHeap() *Heap {
	return New(zerolog.Nop())
}

func TestAllocAndFetchString(t *testing.T) {
	h := newTestHeap()
	v, err := h.AllocString([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	s, ok := h.String(v)
	if !ok || string(s.Data) != "hello" {
		t.Fatalf("got %v, ok=%v", s, ok)
	}
}

func TestCollectReclaimsUnreachable(t *testing.T) {
	h := newTestHeap()
	keep, _ := h.AllocString([]byte("keep"))
	_, _ = h.AllocString([]byte("garbage-collected-away"))

	before := h.BytesAllocated
	if before == 0 {
		t.Fatal("expected nonzero bytes_allocated before collection")
	}

	h.Collect(RootSet{Values: []value.Value{keep}})

	if _, ok := h.String(keep); !ok {
		t.Fatal("rooted string should survive collection")
	}

	// Bytes allocated should now equal exactly the surviving object's charge.
	remaining := h.BytesAllocated
	kept, _ := h.String(keep)
	if remaining != uint64(stringBaseCost+len(kept.Data)) {
		t.Fatalf("bytes_allocated after collect = %d, want %d", remaining, stringBaseCost+len(kept.Data))
	}
}

func TestCollectTracesListsAndMaps(t *testing.T) {
	h := newTestHeap()
	str, _ := h.AllocString([]byte("nested"))
	lst, _ := h.AllocList([]value.Value{str})
	m, _ := h.AllocMap(map[string]value.Value{"k": lst})

	h.Collect(RootSet{Values: []value.Value{m}})

	if _, ok := h.Map(m); !ok {
		t.Fatal("map should survive")
	}
	if _, ok := h.List(lst); !ok {
		t.Fatal("list reachable from map should survive")
	}
	if _, ok := h.String(str); !ok {
		t.Fatal("string reachable from list should survive")
	}
}

func TestCollectSweepsUnreachableNested(t *testing.T) {
	h := newTestHeap()
	str, _ := h.AllocString([]byte("orphan"))
	_, _ = h.AllocList([]value.Value{str})

	h.Collect(RootSet{}) // nothing rooted

	if _, ok := h.String(str); ok {
		t.Fatal("unrooted string should have been swept")
	}
	if h.BytesAllocated != 0 {
		t.Fatalf("bytes_allocated should be 0 after full sweep, got %d", h.BytesAllocated)
	}
}

func TestFreeSlotReuse(t *testing.T) {
	h := newTestHeap()
	a, _ := h.AllocString([]byte("a"))
	ah, _ := a.Handle()

	h.Collect(RootSet{}) // frees a's slot

	b, _ := h.AllocString([]byte("b"))
	bh, _ := b.Handle()
	if ah != bh {
		t.Fatalf("expected freed slot %d to be reused, got %d", ah, bh)
	}
}

func TestOpenUpvalueIsARootUntilClosed(t *testing.T) {
	h := newTestHeap()
	idx, err := h.AllocOpenUpvalue(3)
	if err != nil {
		t.Fatal(err)
	}
	h.Collect(RootSet{OpenUpvalues: []uint32{idx}})
	if _, ok := h.Upvalue(idx); !ok {
		t.Fatal("open upvalue listed as a root should survive collection")
	}
}

func TestClosedUpvalueTracesItsValue(t *testing.T) {
	h := newTestHeap()
	str, _ := h.AllocString([]byte("closed-over"))
	idx, _ := h.AllocOpenUpvalue(0)
	h.CloseUpvalue(idx, str)

	closureV, err := h.AllocClosure(0, []uint32{idx})
	if err != nil {
		t.Fatal(err)
	}

	h.Collect(RootSet{Values: []value.Value{closureV}})

	if _, ok := h.Upvalue(idx); !ok {
		t.Fatal("upvalue reachable from closure should survive")
	}
	if _, ok := h.String(str); !ok {
		t.Fatal("string closed over by the upvalue should survive")
	}
}

func TestStressModeAlwaysRequestsCollection(t *testing.T) {
	h := newTestHeap()
	h.Stress = true
	if _, err := h.AllocString([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if !h.CollectRequested {
		t.Fatal("stress mode should request a collection on every allocation")
	}
}

func TestThresholdHysteresis(t *testing.T) {
	h := newTestHeap()
	oldThreshold := h.Threshold
	h.BytesAllocated = oldThreshold + 1
	h.Collect(RootSet{})
	if h.Threshold < floorThreshold {
		t.Fatalf("threshold should never fall below the floor, got %d", h.Threshold)
	}
}

func TestDiagnosticFreeSlotsRoundTrip(t *testing.T) {
	h := newTestHeap()
	for i := 0; i < 5; i++ {
		_, _ = h.AllocString([]byte("x"))
	}
	h.Collect(RootSet{}) // frees all 5
	snap := h.DiagnosticFreeSlots()
	if snap["string"].Count != 5 {
		t.Fatalf("expected 5 free string slots, got %d", snap["string"].Count)
	}
	if snap["string"].CompressedBytes <= 0 {
		t.Fatalf("expected a nonzero compressed size, got %d", snap["string"].CompressedBytes)
	}
}
