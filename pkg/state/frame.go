package state

import "github.com/kristofer/smog/pkg/proto"

// FrameStatus bits (spec §4.7: "a CFST_FRESH bit marks the first frame
// of a reentrant interpreter invocation").
type FrameStatus uint8

const (
	FrameFresh FrameStatus = 1 << iota // distinguishes "return to host" from "return to caller"
	FrameTail                          // this frame was entered via a tail call
)

// CallFrame is a single activation record. Frames form a doubly linked
// free-chain per thread (spec §4.7) so calling and returning in a loop
// doesn't allocate once the chain has grown to its high-water mark.
type CallFrame struct {
	Prev, Next *CallFrame

	Closure    *proto.Closure
	IP         int // program counter into Closure.Proto.Code
	Base       int // stack index of local slot 0
	FuncSlot   int // stack index of the callee value itself (for vararg restore)
	Top        int // highest stack index this frame may use
	NumResults int // MULTRET == -1
	VarargBase int // stack index where extra vararg values begin, if IsVararg
	VarargN    int

	Status FrameStatus

	// Name/Selector are debug-only breadcrumbs for call-stack rendering
	// (pkg/vm Debugger.ShowCallStack) and mirror vmerr.StackFrame's shape.
	Name     string
	Selector string
}

const MultRet = -1

func (f *CallFrame) IsFresh() bool { return f.Status&FrameFresh != 0 }
func (f *CallFrame) IsTail() bool  { return f.Status&FrameTail != 0 }

// FramePool is the free-chain allocator for CallFrame (spec §4.7).
type FramePool struct {
	free *CallFrame
	top  *CallFrame
}

// Push returns a frame linked above top, reusing a freed frame if one is
// available instead of allocating.
func (p *FramePool) Push() *CallFrame {
	var f *CallFrame
	if p.free != nil {
		f = p.free
		p.free = f.Next
		*f = CallFrame{Prev: p.top}
	} else {
		f = &CallFrame{Prev: p.top}
	}
	if p.top != nil {
		p.top.Next = f
	}
	p.top = f
	return f
}

// Pop unlinks top and returns it to the free list for reuse.
func (p *FramePool) Pop() *CallFrame {
	f := p.top
	if f == nil {
		return nil
	}
	p.top = f.Prev
	if p.top != nil {
		p.top.Next = nil
	}
	f.Next = p.free
	p.free = f
	return f
}

func (p *FramePool) Top() *CallFrame { return p.top }
