package state

import (
	"github.com/google/uuid"
	"github.com/kristofer/smog/pkg/proto"
	"github.com/kristofer/smog/pkg/value"
)

// HookMask bits select which debug hook events fire (collaborator
// surface, spec §1 "debug-introspection is out of scope" — only the
// mask storage lives here, the hook dispatch itself belongs to the
// debug/introspection collaborator named in spec §2).
type HookMask uint8

const (
	HookCall HookMask = 1 << iota
	HookReturn
	HookLine
	HookCount
)

// Thread is smog's execution state ("toku_State" in spec §3): the
// current and base call frame, the value stack, the open-upvalue list,
// the TBC list head, and the handful of per-thread hook/error fields.
//
// Coroutine resume/yield are unimplemented stubs per spec §9's Open
// Questions: Resume/YieldK/IsYieldable below return the documented
// no-op values rather than guessing at intended semantics.
type Thread struct {
	hdr value.Header
	ID  uuid.UUID

	Globals *GlobalState

	Stack   *Stack
	Frames  FramePool
	TBC     TBCList

	OpenUpvalues *proto.Upvalue // head of the intrusive doubly linked list

	ErrorFunc  value.Value
	HookMask   HookMask
	CCallDepth int

	// recoveryDepth is not read or written anywhere; protected calls in
	// pkg/vm unwind through returned errors and Go's panic/recover (spec
	// §9's "result-type or panic/catch convention").
	recoveryDepth int
}

func (t *Thread) Header() *value.Header { return &t.hdr }
func (t *Thread) TypeTag() value.Type   { return value.TypeThread }
func (t *Thread) Value() value.Value    { return value.Object(value.VariantNone, t) }

func NewThread(g *GlobalState, stackSize int) *Thread {
	return &Thread{
		ID:      uuid.New(),
		Globals: g,
		Stack:   NewStack(stackSize),
		TBC:     TBCList{head: -1},
	}
}

// LinkOpenUpvalue inserts uv at the head of this thread's open-upvalue
// list (spec §3).
func (t *Thread) LinkOpenUpvalue(uv *proto.Upvalue) {
	uv.Next = t.OpenUpvalues
	uv.Prev = nil
	if t.OpenUpvalues != nil {
		t.OpenUpvalues.Prev = uv
	}
	t.OpenUpvalues = uv
}

func (t *Thread) UnlinkOpenUpvalue(uv *proto.Upvalue) {
	if uv.Prev != nil {
		uv.Prev.Next = uv.Next
	} else if t.OpenUpvalues == uv {
		t.OpenUpvalues = uv.Next
	}
	if uv.Next != nil {
		uv.Next.Prev = uv.Prev
	}
	uv.Next, uv.Prev = nil, nil
}

// FindOpenUpvalue returns an already-open upvalue at the given stack
// index if one exists, so CLOSURE creation shares a single Upvalue per
// slot rather than creating aliases.
func (t *Thread) FindOpenUpvalue(index int) *proto.Upvalue {
	for uv := t.OpenUpvalues; uv != nil; uv = uv.Next {
		if uv.IsOpen() && uv.StackIndex() == index {
			return uv
		}
	}
	return nil
}

// CloseUpvaluesFrom closes every open upvalue at or above floor,
// unlinking each from the thread's list (spec §4.6, §4.7).
func (t *Thread) CloseUpvaluesFrom(floor int) {
	uv := t.OpenUpvalues
	for uv != nil {
		next := uv.Next
		if uv.IsOpen() && uv.StackIndex() >= floor {
			uv.Close()
			t.UnlinkOpenUpvalue(uv)
		}
		uv = next
	}
}

// Resume/YieldK/IsYieldable are documented stubs (spec §9 Open
// Questions): "toku_resume/toku_yieldk/toku_isyieldable are stubs
// (return 0) — intent unclear; do not guess, replicate as no-ops."
func (t *Thread) Resume([]value.Value) (int, error) { return 0, nil }
func (t *Thread) YieldK([]value.Value) (int, error) { return 0, nil }
func (t *Thread) IsYieldable() bool                  { return false }
