// Package proto implements smog's function prototype and closure
// objects (spec §4.6, §6): the immutable artifact the parser/compiler
// front-end hands the VM, and the two closure flavours (language and
// native) built from it at runtime.
package proto

import "github.com/kristofer/smog/pkg/value"

// UpvalKind classifies how an upvalue descriptor should be resolved when
// a CLOSURE instruction materialises a new closure (spec §3, §4.6).
type UpvalKind uint8

const (
	UpvalRegular UpvalKind = iota
	UpvalFinal             // captured binding is never reassigned after capture
	UpvalToBeClosed         // upvalue's value must run __close on scope exit
)

// UpvalDesc is one entry of a prototype's upvalue descriptor array.
type UpvalDesc struct {
	Name     *value.OString // nil if the front-end didn't retain a name
	Index    uint8          // source index: local slot or enclosing upvalue index
	InStack  bool           // true: Index is a local slot of the *enclosing* frame
	Kind     UpvalKind
}

// LineInfo is the per-opcode debug line table (spec §6): a signed delta
// per instruction from the previous instruction's line, with a sentinel
// meaning "consult the absolute table", which is refreshed at least
// every 128 opcodes or whenever a delta would overflow a signed byte.
type LineInfo struct {
	Deltas    []int8
	AbsAnchor []AbsLine
}

type AbsLine struct {
	PC   int
	Line int
}

const lineDeltaSentinel = -128
const maxOpcodesBetweenAnchors = 128

// LineAt resolves the source line for pc by walking back to the nearest
// absolute anchor and re-summing deltas, exactly mirroring the format
// described in spec §6.
func (li *LineInfo) LineAt(pc int) int {
	anchorPC, anchorLine := -1, 0
	for _, a := range li.AbsAnchor {
		if a.PC <= pc {
			anchorPC, anchorLine = a.PC, a.Line
		} else {
			break
		}
	}
	line := anchorLine
	for i := anchorPC + 1; i <= pc && i < len(li.Deltas); i++ {
		if int(li.Deltas[i]) == lineDeltaSentinel {
			continue // an anchor already supplied this line, never reached in practice
		}
		line += int(li.Deltas[i])
	}
	return line
}

// LocalDesc is a debug-only local-variable descriptor (spec §3, §6).
type LocalDesc struct {
	Name    *value.OString
	StartPC int
	EndPC   int
}

// Prototype is the immutable, parser-produced function template (spec
// §3 "Prototype", §6 "Prototype format"). It is shared by every closure
// created from it; closures only add the upvalue array.
type Prototype struct {
	hdr value.Header

	Arity       int
	IsVararg    bool
	MaxStack    int
	Constants   []value.Value
	Nested      []*Prototype
	Code        []byte // terminated by a RETURN opcode, per spec §6
	Upvalues    []UpvalDesc
	Lines       LineInfo
	PCTable     []int // sparse PC index -> byte offset, for O(log n) mapping
	Locals      []LocalDesc
	Source      *value.OString
}

func (p *Prototype) Header() *value.Header { return &p.hdr }
func (p *Prototype) TypeTag() value.Type   { return value.TypeFunction } // not itself a callable Value

// Upvalue is a captured variable cell: "open" while it still points at a
// live stack slot, "closed" once its value has been copied into the
// upvalue object itself (spec §3, §4.6).
type Upvalue struct {
	hdr value.Header

	// Open state: Stack/Index locate the live slot. Closed state: Index
	// is ignored and Closed holds the value directly. The accessor is the
	// stack object itself rather than its backing array, so growing the
	// stack leaves an open upvalue valid without any re-pointing.
	open   bool
	stack  StackAccessor
	index  int
	closed value.Value

	// Next/Prev thread the intrusive open-upvalue list on the owning
	// thread (spec §3: "intrusive open-upvalue doubly-linked list").
	Next, Prev *Upvalue
}

// StackAccessor is the minimal read/write-by-index contract pkg/state's
// Stack type satisfies; kept as an interface here so pkg/proto does not
// import pkg/state (which in turn must import pkg/proto for closures —
// this interface breaks that cycle).
type StackAccessor interface {
	At(i int) value.Value
	SetAt(i int, v value.Value)
}

func (u *Upvalue) Header() *value.Header { return &u.hdr }
func (u *Upvalue) TypeTag() value.Type   { return value.TypeNone } // never a directly-tagged Value

func NewOpenUpvalue(stack StackAccessor, index int) *Upvalue {
	return &Upvalue{open: true, stack: stack, index: index}
}

func (u *Upvalue) IsOpen() bool { return u.open }

func (u *Upvalue) Get() value.Value {
	if u.open {
		return u.stack.At(u.index)
	}
	return u.closed
}

func (u *Upvalue) Set(v value.Value) {
	if u.open {
		u.stack.SetAt(u.index, v)
		return
	}
	u.closed = v
}

// Close promotes this upvalue to the closed state, embedding its current
// value. Called when the owning scope's stack slot is about to be
// reused or the stack shrinks past it (spec §4.6, §4.7).
func (u *Upvalue) Close() {
	if !u.open {
		return
	}
	u.closed = u.stack.At(u.index)
	u.open = false
	u.stack = nil
}

// StackIndex reports the slot an open upvalue currently watches, or -1
// if closed; used by the owning thread to decide which upvalues a
// CLOSE instruction at a given base must promote.
func (u *Upvalue) StackIndex() int {
	if !u.open {
		return -1
	}
	return u.index
}

// NativeFunc is the Go-level shape of a C-closure's native body: it
// receives the arguments already on the call stack (via the VM
// collaborator interface in pkg/vm) and returns results or an error.
type NativeFunc func(args []value.Value) ([]value.Value, error)

// Closure is smog's "function" value in its two variants (spec §3):
// a language closure wraps a Prototype and an upvalue array; a C
// closure wraps a native Go function and an inline upvalue array of
// plain values (no indirection, since native upvalues never need to be
// shared with a language-level open-upvalue list).
type Closure struct {
	hdr value.Header

	Proto       *Prototype   // nil for C closures
	Upvalues    []*Upvalue   // language closures: heap-allocated, possibly shared
	Native      NativeFunc   // nil for language closures
	NativeUpval []value.Value
	Name        string // debug-only, e.g. for stack traces
}

func (c *Closure) Header() *value.Header { return &c.hdr }
func (c *Closure) TypeTag() value.Type   { return value.TypeFunction }

func (c *Closure) IsNative() bool { return c.Native != nil }

func (c *Closure) Value() value.Value {
	if c.IsNative() {
		return value.Object(value.VariantCClosure, c)
	}
	return value.Object(value.VariantClosure, c)
}

func NewLanguageClosure(p *Prototype) *Closure {
	return &Closure{Proto: p, Upvalues: make([]*Upvalue, len(p.Upvalues))}
}

func NewNativeClosure(name string, fn NativeFunc, upvalues []value.Value) *Closure {
	return &Closure{Native: fn, NativeUpval: upvalues, Name: name}
}
