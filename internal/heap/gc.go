package heap

import (
	"github.com/bits-and-blooms/bitset"

	"fieldvm/internal/value"
)

// RootSet is the precise root set the caller (the virtual machine) must
// supply for a collection:
//
//   - Values holds every occupied VM-stack slot up to the logical top,
//     every global, and (during inline-proof execution) every value in the
//     capture map being built.
//   - OpenUpvalues holds the arena handle of every currently-open upvalue
//     (the VM's open-upvalue list), which are roots in their own right
//     independent of whether any live closure still references them.
type RootSet struct {
	Values       []value.Value
	OpenUpvalues []uint32
}

// Collect runs a full mark-and-sweep pass. Loaded prototypes are treated
// as permanently live (they belong to the per-process prototype table)
// and are never swept; their constant pools are, however, traced as
// additional roots so the heap values they reference survive.
func (h *Heap) Collect(roots RootSet) {
	markedStrings := bitset.New(0)
	markedLists := bitset.New(0)
	markedMaps := bitset.New(0)
	markedClosures := bitset.New(0)
	markedUpvalues := bitset.New(0)
	markedIterators := bitset.New(0)
	markedFields := bitset.New(0)
	markedProofs := bitset.New(0)

	for _, u := range roots.OpenUpvalues {
		markedUpvalues.Set(uint(u))
	}

	worklist := make([]value.Value, 0, len(roots.Values)+16)
	worklist = append(worklist, roots.Values...)

	for i := 0; i < len(h.Prototypes.slots); i++ {
		if h.Prototypes.free.Test(uint(i)) {
			continue
		}
		if p := h.Prototypes.slots[i].Proto; p != nil {
			worklist = append(worklist, p.Constants...)
		}
	}

	for len(worklist) > 0 {
		v := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		handle, ok := v.Handle()
		if !ok {
			continue // not a heap-backed value (int, bool, nil)
		}

		switch v.Tag() {
		case value.TagString:
			markedStrings.Set(uint(handle))

		case value.TagList:
			if markedLists.Test(uint(handle)) {
				continue
			}
			markedLists.Set(uint(handle))
			if obj, ok := h.Lists.get(handle); ok {
				worklist = append(worklist, obj.Items...)
			}

		case value.TagMap:
			if markedMaps.Test(uint(handle)) {
				continue
			}
			markedMaps.Set(uint(handle))
			if obj, ok := h.Maps.get(handle); ok {
				for _, mv := range obj.Entries {
					worklist = append(worklist, mv)
				}
			}

		case value.TagClosure:
			if markedClosures.Test(uint(handle)) {
				continue
			}
			markedClosures.Set(uint(handle))
			if obj, ok := h.Closures.get(handle); ok {
				for _, uh := range obj.Upvalues {
					if markedUpvalues.Test(uint(uh)) {
						continue
					}
					markedUpvalues.Set(uint(uh))
					if up, ok := h.Upvalues.get(uh); ok && !up.Open {
						worklist = append(worklist, up.Closed)
					}
				}
			}

		case value.TagIterator:
			if markedIterators.Test(uint(handle)) {
				continue
			}
			markedIterators.Set(uint(handle))
			if obj, ok := h.Iterators.get(handle); ok {
				worklist = append(worklist, obj.Snapshot...)
			}

		case value.TagField:
			markedFields.Set(uint(handle))

		case value.TagProof:
			markedProofs.Set(uint(handle))

		case value.TagFunction:
			// Prototypes are always alive; nothing further to trace here
			// (their constants were already seeded above).
		}
	}

	var reclaimed uint64
	reclaimed += h.Strings.sweepUnmarked(markedStrings)
	reclaimed += h.Lists.sweepUnmarked(markedLists)
	reclaimed += h.Maps.sweepUnmarked(markedMaps)
	reclaimed += h.Closures.sweepUnmarked(markedClosures)
	reclaimed += h.Upvalues.sweepUnmarked(markedUpvalues)
	reclaimed += h.Iterators.sweepUnmarked(markedIterators)
	reclaimed += h.Fields.sweepUnmarked(markedFields)
	reclaimed += h.Proofs.sweepUnmarked(markedProofs)

	if reclaimed > h.BytesAllocated {
		h.BytesAllocated = 0
	} else {
		h.BytesAllocated -= reclaimed
	}

	next := 2 * h.BytesAllocated
	if alt := h.Threshold + h.Threshold/2; alt > next {
		next = alt
	}
	if next < floorThreshold {
		next = floorThreshold
	}
	h.Threshold = next
	h.CollectRequested = false

	h.Log.Debug().
		Uint64("reclaimed_bytes", reclaimed).
		Uint64("bytes_allocated", h.BytesAllocated).
		Uint64("next_threshold", h.Threshold).
		Msg("gc.collect")
}
