// Package vm implements smog's bytecode interpreter: the tight
// switch-on-opcode dispatch loop, arithmetic coercion and metamethod
// fallback, protected calls, and the host API a front-end or an
// embedder drives it through.
//
// Architecture:
//
// Bytecode is byte-addressed. Each instruction's first byte is its
// Opcode; the bytes that follow are interpreted according to the
// opcode's format:
//
//	I     - no operand
//	IS    - one 1-byte operand
//	ISS   - two 1-byte operands
//	IL    - one 3-byte little-endian operand
//	ILS   - one 3-byte operand, one 1-byte operand
//	ILL   - two 3-byte operands
//	ILLS  - two 3-byte operands, one 1-byte operand
//	ILLL  - three 3-byte operands
//
// A short (S) operand is zero-extended unless documented as a signed
// immediate; a long (L) operand is a 24-bit little-endian unsigned
// value, enough to index a prototype's constant pool, local slots, or
// jump offsets without the encoding overflowing in realistic programs.
package vm

// Opcode is one bytecode instruction.
type Opcode byte

// Format reports how many operand bytes follow an opcode and how they
// are split.
type Format byte

const (
	FormatI Format = iota
	FormatIS
	FormatISS
	FormatIL
	FormatILS
	FormatILL
	FormatILLS
	FormatILLL
)

const (
	// --- Constants and literals ---

	// OpLoadK pushes Constants[long] onto the stack.
	OpLoadK Opcode = iota
	// OpLoadKS pushes Constants[short] (fast path for the first 256
	// constants, avoids the wider encoding in the common case).
	OpLoadKS
	// OpLoadInt pushes a signed immediate as an integer: the long
	// operand is bias-encoded (add 0x800000) the same way jump offsets
	// are, giving a [-2^23, 2^23) range without a constant-pool entry.
	OpLoadInt
	// OpLoadFloat pushes Constants[long] but asserts it is a float
	// (used by the compiler when a float literal matches an existing
	// int constant's bit pattern, to keep the two distinguishable).
	OpLoadFloat
	OpLoadNil
	OpLoadTrue
	OpLoadFalse
	// OpPopN discards the short-encoded count of values from the top.
	OpPopN

	// --- Locals, upvalues, globals ---

	OpGetLocal
	OpSetLocal
	OpGetUpval
	OpSetUpval
	// OpGetGlobal/OpSetGlobal take a long constant-pool index naming
	// the global (an interned short string).
	OpGetGlobal
	OpSetGlobal

	// --- Aggregate construction ---

	// OpNewList takes a short size hint and pushes an empty list.
	OpNewList
	// OpNewTable takes a short size hint and pushes an empty table.
	OpNewTable
	// OpNewClass takes a long constant-pool index (the class name) and
	// a short flag (bit 0: allocate a metatable) and pushes a fresh,
	// superclass-less class.
	OpNewClass

	// --- Indexing ---

	// OpGetIndex: stack [obj, key] -> [value]; generic get, dispatches
	// on obj's type and falls back to __getidx on miss.
	OpGetIndex
	// OpSetIndex: stack [obj, key, value] -> []; generic set.
	OpSetIndex
	// OpGetField: stack [obj] -> [value]; key is Constants[long], a
	// string (the common "obj.name" case, skipping a LoadK+GetIndex
	// pair).
	OpGetField
	// OpSetField: stack [obj, value] -> []; key is Constants[long].
	OpSetField
	// OpGetIndexImm: stack [obj] -> [value]; key is the short
	// immediate itself (list numeric index fast path).
	OpGetIndexImm
	// OpSetIndexImm: stack [obj, value] -> []; key is the short
	// immediate.
	OpSetIndexImm

	// --- Classes ---

	// OpMethod: stack [class, closure] -> [class]; stores closure into
	// class's method table under the name at Constants[long].
	OpMethod
	// OpTagMethod: stack [class, closure] -> [class]; stores closure
	// into class's metatable under the event name at Constants[long].
	OpTagMethod
	// OpInherit: stack [subclass, superclass] -> [subclass]; copies
	// the superclass's method table and metatable into subclass.
	OpInherit
	// OpSuperGet: stack [receiver] -> [boundMethod]; looks the method
	// named at Constants[long] up starting at the *enclosing* class's
	// recorded superclass, binding it to receiver.
	OpSuperGet

	// --- Arithmetic: stack operand ---

	// OpAddStack and friends: stack [a, b] -> [result]. Always
	// immediately followed in the instruction stream by an OpMBin
	// carrying the same event; a fast numeric path advances PC past
	// it, a non-numeric operand falls through into OpMBin's
	// metamethod dispatch.
	OpAddStack
	OpSubStack
	OpMulStack
	OpDivStack
	OpModStack
	OpIDivStack
	OpPowStack
	// OpUnmStack: stack [a] -> [-a] (unary minus has no commutative
	// swap flag and is never immediately paired with an MBIN, since it
	// takes only one operand).
	OpUnmStack

	// --- Arithmetic: constant operand ---

	// OpAddK and friends take a long constant-pool index for the
	// right-hand operand: stack [a] -> [result].
	OpAddK
	OpSubK
	OpMulK
	OpDivK
	OpModK
	OpIDivK
	OpPowK

	// --- Arithmetic: immediate operand ---

	// OpAddImm and friends take a signed long immediate for the
	// right-hand operand, bias-encoded like jump offsets.
	OpAddImm
	OpSubImm

	// --- Bitwise ---

	OpBAndStack
	OpBOrStack
	OpBXorStack
	OpShlStack
	OpShrStack
	OpBNotStack

	// --- Metamethod fallback ---

	// OpMBin carries, in its short operand, the arithmetic/bitwise
	// event tag for the binary op that preceded it in the stream; only
	// reached when the fast numeric path could not handle the
	// operands.
	OpMBin

	// --- Comparison ---

	// OpEq/OpLt/OpLe: stack [a, b] -> [bool]; the short operand's bit 0
	// inverts the result so != shares code with ==, and > / >= share
	// code with < / <= by operand order at compile time.
	OpEq
	OpLt
	OpLe

	// --- Control flow ---

	// OpJump: unconditional; long operand is a signed relative offset
	// encoded as offset+0x800000 so small backward jumps stay
	// representable.
	OpJump
	// OpTest: stack [cond] -> [cond]; does not pop. Short operand bit 0
	// set means "jump if truthy", clear means "jump if falsy"; the jump
	// offset is a bias-encoded long operand right after the flag inside
	// the same instruction (no separate OpJump follows), and the
	// instruction falls through otherwise.
	OpTest
	// OpTestPop: stack [cond] -> []; pops, otherwise identical to
	// OpTest.
	OpTestPop

	// --- Calls ---

	// OpCall: stack [callee, arg1..argN] -> [result1..resultM]. Long
	// operand 1 is the argument count, taken literally (it has no
	// MultRet form); long operand 2 is the requested result count,
	// bias-encoded like jump offsets so MultRet (-1) is representable.
	OpCall
	// OpTailCall: same operands and stack shape as OpCall and executed
	// exactly like it; the current frame is not reused.
	OpTailCall
	// OpReturn: short operand bit 0 means "close upvalues/TBC from
	// base first". Long operand 1 is the base slot of the first
	// returned value, long operand 2 is how many values are returned
	// (MultRet meaning "everything above base").
	OpReturn

	// --- Varargs ---

	// OpVarargPrep is a no-op marker emitted once, at the very start of a
	// vararg prototype's code: callClosure has already recorded the
	// vararg base and count on the frame, and no arguments are rotated.
	OpVarargPrep
	// OpVarargExpand pushes every extra vararg value (or, with a
	// nonzero short operand, that many, nil-padded).
	OpVarargExpand

	// --- Closures ---

	// OpClosure: long operand indexes Nested; for each of the new
	// prototype's upvalue descriptors, either finds/creates an open
	// upvalue over a local slot of the *current* frame or copies a
	// reference to one of the current closure's own upvalues.
	OpClosure

	// --- Generic for ---

	// OpForPrep: long operand is the jump-to-body offset. Creates a
	// to-be-closed upvalue for the iterator-state slot if its value is
	// not false or nil, then jumps to the body.
	OpForPrep
	// OpForCall: copies iterator/state/control to a fresh call base
	// above the loop's working slots and invokes the iterator, exactly
	// like OpCall with a fixed 2-argument (state, control), MultRet-result
	// shape.
	OpForCall
	// OpForLoop: long operand is the jump-back-to-prep-successor
	// offset. If the first result the iterator call just produced is
	// nil, falls through (loop ends); otherwise stores it as the new
	// control variable and jumps back.
	OpForLoop

	// --- To-be-closed ---

	// OpMarkTBC: short operand is the stack slot (relative to base) to
	// thread onto the frame's TBC list.
	OpMarkTBC
	// OpCloseUpto: short operand is the stack slot (relative to base)
	// to close upvalues and run __close on TBC variables down to,
	// inclusive, without returning from the frame (a `<close>`
	// variable's block-scope exit).
	OpCloseUpto
)

// eventNames maps an OpMBin event operand to a metamethod name, using
// the same numbering as metaEventName; EventName has no caller in this
// repository (Disassemble prints the bare integer).
var eventNames = [...]string{
	"__add", "__sub", "__mul", "__div", "__mod", "__idiv", "__pow",
	"__unm", "__band", "__bor", "__bxor", "__shl", "__shr",
}

// EventName resolves an OpMBin event tag to its metamethod name.
func EventName(event byte) string {
	if int(event) < len(eventNames) {
		return eventNames[event]
	}
	return "?"
}
