package state

// TBCList threads to-be-closed stack slots through Slot.Delta, walking
// from the top of the list (highest stack index) toward the base (spec
// §3, §4.7, §8 item 5: "walking the TBC list from head yields strictly
// decreasing stack levels").
//
// The list head is the highest-index TBC slot currently registered;
// Delta on each node is the distance down to the next one, so the whole
// structure costs zero extra memory beyond the Slot.Delta field already
// present in every stack cell.
type TBCList struct {
	head int // -1 when empty
}

func NewTBCList() *TBCList { return &TBCList{head: -1} }

func (l *TBCList) Empty() bool { return l.head < 0 }
func (l *TBCList) Head() int   { return l.head }

// Insert registers index as a new TBC slot. index must be above every
// slot currently on the list (the VM only ever marks TBC slots as it
// pushes them, so this always holds in practice).
func (l *TBCList) Insert(s *Stack, index int) {
	if l.head < 0 {
		s.slots[index].Delta = 0
	} else {
		s.slots[index].Delta = tbcDelta(index, l.head)
	}
	l.head = index
}

// PopTo unwinds the list down to (and including) floor, returning
// the indices in the order they must be __close'd: highest first, since
// that is stack-unwind order (spec §4.11: TBC scopes close innermost
// first).
func (l *TBCList) PopTo(s *Stack, floor int) []int {
	var out []int
	cur := l.head
	for cur >= floor {
		out = append(out, cur)
		d := s.slots[cur].Delta
		if d == 0 {
			cur = -1
			break
		}
		cur -= int(d) // d == maxDelta just means "at least this far, keep walking"
	}
	l.head = cur
	return out
}
