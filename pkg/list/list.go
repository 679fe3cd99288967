// Package list implements smog's dense list type (spec §4.4): a
// length-tracked array of tagged values plus the small set of named
// accessors ("list-field" keys like len/size/last/x/y/z) that let list
// code read geometry-flavoured fields without a full table lookup.
package list

import "github.com/kristofer/smog/pkg/value"

// minCapacity is the smallest non-zero capacity a List grows into; below
// this, Size is reported as 0 (spec §4.4: "size is 0 or a power of two >= 4").
const minCapacity = 4

// maxCapacity caps list growth; doubling stops once this is reached.
const maxCapacity = 1 << 24

// List is smog's dense array value. Length is authoritative: indices
// [0, Len) always hold non-nil values (spec §8 item 3).
type List struct {
	hdr   value.Header
	slots []value.Value
	len   int32
}

func (l *List) Header() *value.Header  { return &l.hdr }
func (l *List) TypeTag() value.Type    { return value.TypeList }

// New allocates an empty list with the requested initial capacity
// rounded up to the list's capacity rule.
func New(initialCapacity int) *List {
	cap := 0
	if initialCapacity > 0 {
		cap = nextCapacity(initialCapacity)
	}
	return &List{slots: make([]value.Value, cap)}
}

func (l *List) Value() value.Value { return value.Object(value.VariantNone, l) }

func (l *List) Len() int  { return int(l.len) }
func (l *List) Size() int { return len(l.slots) }

func nextCapacity(want int) int {
	c := minCapacity
	for c < want {
		if c >= maxCapacity {
			return maxCapacity
		}
		c *= 2
	}
	return c
}

func (l *List) grow(want int) {
	if want <= len(l.slots) {
		return
	}
	newCap := nextCapacity(want)
	newSlots := make([]value.Value, newCap)
	copy(newSlots, l.slots)
	l.slots = newSlots
}

// Get returns the element at idx, or Nil if idx >= Len (spec §4.4:
// "read past length returns nil").
func (l *List) Get(idx int) value.Value {
	if idx < 0 || idx >= int(l.len) {
		return value.Nil
	}
	return l.slots[idx]
}

// SetError reports the one way List.Set can fail: writing strictly
// beyond the current length (spec §4.4: "write beyond len is an error").
type SetError struct{ Index, Len int }

func (e *SetError) Error() string {
	return "list: index out of bounds for append"
}

// Set implements the full write-path semantics from spec §4.4:
//   - idx in [0, len) with non-nil v: overwrite in place.
//   - idx == len with non-nil v: append, len++ (the only case where a
//     non-nil write changes len; gaps do not fuse).
//   - idx in [0, len) with nil v: truncate len to idx.
//   - idx >= len with nil v: no-op.
//   - idx > len with non-nil v: error.
func (l *List) Set(idx int, v value.Value) error {
	n := int(l.len)
	switch {
	case v.IsNil():
		if idx >= n {
			return nil // no-op past length
		}
		l.slots[idx] = value.Nil
		l.len = int32(idx) // write with nil in bounds truncates len to idx
		return nil
	default:
		switch {
		case idx < n:
			l.slots[idx] = v
			return nil
		case idx == n:
			l.grow(n + 1)
			l.slots[idx] = v
			l.len = int32(n + 1)
			return nil
		default:
			return &SetError{Index: idx, Len: n}
		}
	}
}

// Append is the convenience path OP_NEWLIST / literal construction uses;
// equivalent to Set(Len(), v) when v is non-nil.
func (l *List) Append(v value.Value) {
	_ = l.Set(int(l.len), v)
}

// Named list-field accessors (spec §4.4 and §3: len, size, last, x, y, z).
const (
	FieldLen  = "len"
	FieldSize = "size"
	FieldLast = "last"
	FieldX    = "x"
	FieldY    = "y"
	FieldZ    = "z"
)

// FieldIndex maps x/y/z/last to the integer index Set/Get should use;
// len/size are handled separately since they aren't element accesses.
func FieldIndex(name string, length int) (int, bool) {
	switch name {
	case FieldLast:
		return length - 1, true
	case FieldX:
		return 0, true
	case FieldY:
		return 1, true
	case FieldZ:
		return 2, true
	default:
		return 0, false
	}
}

// UnknownFieldError is raised when a list is indexed by a string that is
// not one of the recognised list-field names (spec §4.4, §8).
type UnknownFieldError struct{ Name string }

func (e *UnknownFieldError) Error() string { return "list has no field '" + e.Name + "'" }

// ForbiddenFieldError is raised on an attempt to assign len/size
// directly (spec §4.4: "setting len or size is forbidden").
type ForbiddenFieldError struct{ Name string }

func (e *ForbiddenFieldError) Error() string {
	return "cannot assign to list field '" + e.Name + "'"
}
