// Package state implements smog's per-thread execution state (spec §3,
// §4.7): the contiguous resizable value stack, the call-frame chain, the
// to-be-closed variable list threaded through stack slots, and the
// shared GlobalState every thread of one VM "open" hangs off of.
package state

import "github.com/kristofer/smog/pkg/value"

// extraStack is the guard region appended past the logical top, reserved
// for metamethod scratch space during arithmetic/comparison fallbacks
// (spec §4.7: "a fixed guard (EXTRA_STACK)").
const extraStack = 8

// noTBC is the delta value meaning "this slot is not on the TBC list".
const noTBC = 0

// Slot is one value-stack cell: the tagged value plus the TBC delta
// field (spec §3 "Stack slot"). Delta is the distance in slots from this
// slot to the next TBC-marked slot toward the stack base; 0 means "not
// on the list" or "last entry", and the cap maxDelta below means "at
// least this far, walk further", giving an O(1) singly linked list
// threaded through the stack without a side allocation.
type Slot struct {
	Value value.Value
	Delta uint16
}

const maxDelta = ^uint16(0)

// Stack is the VM's contiguous value stack. It grows by copying into a
// bigger backing array (spec §4.7). Open upvalues hold this *Stack and a
// slot index rather than a pointer into the array, so nothing needs
// re-pointing on growth.
type Stack struct {
	slots []Slot
	top   int // index of the next free slot
}

func NewStack(initial int) *Stack {
	return &Stack{slots: make([]Slot, initial+extraStack)}
}

// At/SetAt implement proto.StackAccessor so open upvalues can read
// through the stack without pkg/proto importing pkg/state.
func (s *Stack) At(i int) value.Value     { return s.slots[i].Value }
func (s *Stack) SetAt(i int, v value.Value) { s.slots[i].Value = v }

func (s *Stack) Top() int      { return s.top }
func (s *Stack) Cap() int      { return len(s.slots) }
func (s *Stack) SetTop(i int)  { s.top = i }

func (s *Stack) Get(i int) value.Value { return s.slots[i].Value }
func (s *Stack) Set(i int, v value.Value) {
	s.slots[i].Value = v
}

func (s *Stack) Push(v value.Value) int {
	s.ensure(s.top + 1)
	s.slots[s.top].Value = v
	s.top++
	return s.top - 1
}

func (s *Stack) Pop() value.Value {
	s.top--
	v := s.slots[s.top].Value
	s.slots[s.top] = Slot{}
	return v
}

// ensure grows the backing array (doubling) so index n is addressable,
// preserving all previously reachable slots including the guard region.
func (s *Stack) ensure(n int) {
	if n+extraStack <= len(s.slots) {
		return
	}
	newCap := len(s.slots) * 2
	for newCap < n+extraStack {
		newCap *= 2
	}
	newSlots := make([]Slot, newCap)
	copy(newSlots, s.slots)
	s.slots = newSlots
}

// Reserve grows the stack so that at least n more slots beyond top are
// addressable; used before entering a new call frame (spec §4.7).
func (s *Stack) Reserve(n int) { s.ensure(s.top + n) }

// tbcDelta returns the slot-count distance from `from` to `to`, capping
// at maxDelta (0xFFFF) the way the source's compressed encoding does:
// a capped delta tells the walker to advance by maxDelta and re-read the
// next node rather than treating the cap as "no further entries". Since
// `from` is always strictly above `to` on this list, a real delta is
// never 0, which leaves 0 free as the "list ends here" sentinel.
func tbcDelta(from, to int) uint16 {
	d := from - to
	if d >= int(maxDelta) {
		return maxDelta
	}
	return uint16(d)
}
