// Package value implements the virtual machine's tagged 64-bit value
// model: a 4-bit tag in the high nibble discriminates a 60-bit payload that
// is either an inline signed integer or a 32-bit heap arena handle.
package value

import (
	"errors"
	"fmt"
)

// Tag discriminates a Value's variant.
type Tag uint8

const (
	TagInt Tag = iota
	TagNil
	TagFalse
	TagTrue
	TagString
	TagList
	TagMap
	TagFunction
	TagField
	TagProof
	TagNative
	TagClosure
	TagIterator

	tagCount
)

func (t Tag) String() string {
	switch t {
	case TagInt:
		return "int"
	case TagNil:
		return "nil"
	case TagFalse, TagTrue:
		return "bool"
	case TagString:
		return "string"
	case TagList:
		return "list"
	case TagMap:
		return "map"
	case TagFunction:
		return "function"
	case TagField:
		return "field"
	case TagProof:
		return "proof"
	case TagNative:
		return "function"
	case TagClosure:
		return "function"
	case TagIterator:
		return "iterator"
	default:
		return "unknown"
	}
}

// TypeName implements the VM's typeof: one of
// "int"|"number"|"bool"|"nil"|"string"|"list"|"map"|"function"|"field"|"proof"|"iterator".
// "number" is reserved for a future floating type; this implementation's
// numeric inline type is always "int".
func (t Tag) TypeName() string { return t.String() }

const (
	tagShift  = 60
	tagMask   = uint64(0xF) << tagShift
	payload60 = uint64(1)<<60 - 1
	handleBits = 32
	handleMask = uint64(1)<<handleBits - 1

	// IntMin and IntMax bound the signed 60-bit inline integer range.
	IntMin = -(int64(1) << 59)
	IntMax = int64(1)<<59 - 1
)

var ErrIntegerOverflow = errors.New("value: integer overflow (outside -2^59 .. 2^59-1)")

// Value is a single 64-bit tagged word.
type Value uint64

// Nil, False and True are the singleton non-integer, non-heap values.
var (
	Nil   = pack(TagNil, 0)
	False = pack(TagFalse, 0)
	True  = pack(TagTrue, 0)
)

func pack(tag Tag, payload uint64) Value {
	return Value((uint64(tag) << tagShift) | (payload & payload60))
}

// Tag returns the variant discriminator.
func (v Value) Tag() Tag { return Tag(uint64(v) >> tagShift) }

// IsNil, IsBool, IsInt, IsHeap report the coarse variant family.
func (v Value) IsNil() bool  { return v.Tag() == TagNil }
func (v Value) IsBool() bool { return v.Tag() == TagFalse || v.Tag() == TagTrue }
func (v Value) IsInt() bool  { return v.Tag() == TagInt }
func (v Value) IsHeap() bool {
	switch v.Tag() {
	case TagString, TagList, TagMap, TagFunction, TagField, TagProof, TagClosure, TagIterator:
		return true
	default:
		return false
	}
}

// Bool returns the boolean value and whether v was a boolean.
func (v Value) Bool() (bool, bool) {
	switch v.Tag() {
	case TagTrue:
		return true, true
	case TagFalse:
		return false, true
	default:
		return false, false
	}
}

// Truthy reports a boolean's truth value. Panics if v is not a boolean;
// callers in the VM must type-check first (the Mux/Assert gadgets
// require an explicit boolean, never a truthy-coercion of other types).
func (v Value) Truthy() bool {
	b, ok := v.Bool()
	if !ok {
		panic("value: Truthy called on non-boolean")
	}
	return b
}

// BoolValue packs a Go bool into a tagged boolean Value.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// Int returns the inline integer and whether v held one.
func (v Value) Int() (int64, bool) {
	if v.Tag() != TagInt {
		return 0, false
	}
	payload := uint64(v) & payload60
	// sign-extend from bit 59
	if payload&(1<<59) != 0 {
		payload |= ^payload60
	}
	return int64(payload), true
}

// IntValue packs a signed integer, failing with ErrIntegerOverflow if it
// does not fit the inline 60-bit range.
func IntValue(i int64) (Value, error) {
	if i < IntMin || i > IntMax {
		return 0, fmt.Errorf("%w: %d", ErrIntegerOverflow, i)
	}
	return pack(TagInt, uint64(i)&payload60), nil
}

// Handle returns the 32-bit heap handle and whether v carried one.
func (v Value) Handle() (uint32, bool) {
	if !v.IsHeap() {
		return 0, false
	}
	return uint32(uint64(v) & handleMask), true
}

// HandleValue packs a heap handle under the given tag.
func HandleValue(tag Tag, handle uint32) Value {
	return pack(tag, uint64(handle))
}

// NativeValue packs a native-function table index.
func NativeValue(index uint32) Value {
	return pack(TagNative, uint64(index))
}

// NativeIndex returns the native-function table index and whether v held one.
func (v Value) NativeIndex() (uint32, bool) {
	if v.Tag() != TagNative {
		return 0, false
	}
	return uint32(uint64(v) & handleMask), true
}
