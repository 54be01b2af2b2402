// Package bytecode defines the register-based instruction set the virtual
// machine executes and the function-prototype container produced by the
// bytecode compiler.
//
// Instructions are encoded as a struct {Op, A, B, C} rather than packed
// into a single 32-bit word: unlike the register-VM reference this package
// is styled after (a packed iABC/iABx/iAsBx scheme), this VM's programs are
// produced directly by an in-process compiler rather than read from a
// shared binary cross-process format, so there is no byte-budget pressure
// forcing a packed encoding. Every register operand is still bounds-checked
// against the owning prototype's MaxSlots at dispatch time.
package bytecode

import "fieldvm/internal/value"

// OpCode identifies one of the roughly three dozen instructions the
// register machine supports.
type OpCode uint8

const (
	OpLoadConst  OpCode = iota // A = K[Bx]
	OpMove                     // A = B
	OpLoadNil                  // A = nil
	OpLoadBool                 // A = bool(B)
	OpAdd                      // A = B + C
	OpSub                      // A = B - C
	OpMul                      // A = B * C
	OpDiv                      // A = B / C
	OpNeg                      // A = -B
	OpEq                       // A = (B == C)
	OpNeq                      // A = (B != C)
	OpLt                       // A = (B < C)
	OpLe                       // A = (B <= C)
	OpNot                      // A = !B
	OpAnd                      // A = B && C
	OpOr                       // A = B || C
	OpNewList                  // A = new list of size B
	OpNewMap                   // A = new map
	OpGetIndex                 // A = B[C]
	OpSetIndex                 // A[B] = C
	OpGetGlobal                // A = Globals[Bx]
	OpSetGlobal                // Globals[Bx] = A
	OpDefGlobal                // define Globals[Bx] = A; C != 0 means mutable
	OpClosure                  // A = closure(Proto[B]); capture layout comes from that prototype's Upvalues
	OpGetUpval                 // A = Upvalue[B]
	OpSetUpval                 // Upvalue[B] = A
	OpCloseUpvals              // close every open upvalue with stack index >= A
	OpJump                     // pc += sBx (encoded in B)
	OpJumpIfFalse              // if !bool(A) then pc += sBx (encoded in B)
	OpCall                     // A = call(B, args in B+1..B+C)
	OpReturn                   // return A (or nil if B == 0)
	OpGetIter                  // A = iterator over B
	OpForIter                  // A = next(B); if exhausted pc += sBx (encoded in C), else pc++
	OpProve                    // A = evaluate prove-block Bx against captures described by C
)

func (op OpCode) String() string {
	names := [...]string{
		"LOADCONST", "MOVE", "LOADNIL", "LOADBOOL",
		"ADD", "SUB", "MUL", "DIV", "NEG",
		"EQ", "NEQ", "LT", "LE", "NOT", "AND", "OR",
		"NEWLIST", "NEWMAP", "GETINDEX", "SETINDEX",
		"GETGLOBAL", "SETGLOBAL", "DEFGLOBAL",
		"CLOSURE", "GETUPVAL", "SETUPVAL", "CLOSEUPVALS",
		"JUMP", "JUMPIFFALSE",
		"CALL", "RETURN",
		"GETITER", "FORITER",
		"PROVE",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "UNKNOWN"
}

// Instruction is one bytecode instruction. Not every field is meaningful
// for every opcode; see the OpCode comments above for the operand layout.
type Instruction struct {
	Op OpCode
	A  int32
	B  int32
	C  int32
}

// UpvalueDescriptor says how a closure's Nth upvalue is captured: either
// from the enclosing frame's still-open stack slot (FromStack=true, Index
// is a stack index) or from the enclosing closure's own Nth upvalue
// (FromStack=false, Index is an upvalue index).
type UpvalueDescriptor struct {
	FromStack bool
	Index     int32
}

// ProveBlock holds everything the inline-proof glue (internal/prove) needs
// to compile and execute a `prove { ... }` expression at the point it is
// reached: the declared public/witness names it must capture from lexical
// scope by name, and the pre-lowered body (stored as syntax, not raw
// source text, so it is never re-parsed).
type ProveBlock struct {
	PublicNames  []string
	WitnessNames []string
	Body         interface{} `cbor:"-"` // *ast.Block; interface{} avoids an import cycle with internal/ast
	Backend      string      // "" or "r1cs"/"groth16" select Groth16, "plonk" selects Plonk
}

// DebugSymbol maps an instruction index to a source location, the minimal
// slice of a debug-symbol sidecar that runtime errors are recovered from.
// A full disassembler and debug-symbol format is out of scope here; this
// is just enough for FieldVM's own error reporting.
type DebugSymbol struct {
	Line int
}

// Prototype is a compiled function: its bytecode, constant pool, debug
// symbols, arity and maximum register usage.
type Prototype struct {
	Name        string
	Arity       int
	MaxSlots    int
	Code        []Instruction
	Constants   []value.Value
	ProveBlocks []ProveBlock
	Upvalues    []UpvalueDescriptor
	Debug       []DebugSymbol
}

// LineFor returns the source line for instruction index ip, or 0 if no
// debug symbol was recorded.
func (p *Prototype) LineFor(ip int) int {
	if ip < 0 || ip >= len(p.Debug) {
		return 0
	}
	return p.Debug[ip].Line
}
