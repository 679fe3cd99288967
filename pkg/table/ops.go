package table

import (
	"github.com/kristofer/smog/pkg/value"
)

// sizeForPopulation returns the smallest power-of-two node count with a
// hard minimum of 4 that can hold pop entries without immediately
// rehashing again.
func sizeForPopulation(pop int) int {
	size := 4
	for size < pop {
		size *= 2
	}
	return size
}

// rehash grows (or shrinks; callers can pass a smaller newSize after a
// GC sweep) the node array to newSize, splitting the dummy-node case out
// so a 0-entry table never allocates.
func (t *Table) rehash(newSize int) {
	old := t.nodes
	oldDummy := t.usesDummy()

	if newSize <= 0 {
		t.nodes = nil
		t.log2size = 0
		t.flags |= flagDummy
		t.lastfree = 0
		return
	}
	log2 := 0
	for (1 << log2) < newSize {
		log2++
	}
	t.nodes = make([]node, 1<<log2)
	t.log2size = uint8(log2)
	t.flags &^= flagDummy
	t.lastfree = int32(len(t.nodes))

	if !oldDummy {
		for i := range old {
			n := &old[i]
			if n.keyTag == keyLive {
				t.rawInsertFresh(n.key(), n.val)
			}
		}
	}
}

// freeCell walks lastfree downward looking for an empty node, the
// policy spec §4.3 names explicitly.
func (t *Table) freeCell() int {
	for t.lastfree > 0 {
		t.lastfree--
		if t.nodes[t.lastfree].isEmpty() {
			return int(t.lastfree)
		}
	}
	return -1
}

// rawInsertFresh inserts key/val assuming key is not already present and
// the table is not in dummy mode; used by rehash to redistribute
// surviving entries, and by Finishset for brand-new keys.
func (t *Table) rawInsertFresh(key, v value.Value) {
	mp := t.mainPosition(key)
	main := &t.nodes[mp]
	if !main.isEmpty() {
		// Collision: Brent-style rehash. If the colliding node is not
		// itself in its main position, evict it to a free cell and take
		// its place; otherwise chain the new entry after it.
		collidingMain := t.mainPosition(main.key())
		if collidingMain != mp {
			free := t.freeCell()
			if free < 0 {
				t.growAndRetry(key, v)
				return
			}
			// relocate the node currently occupying our main position
			t.relocate(mp, free)
			main = &t.nodes[mp]
			main.keyTag, main.val = keyEmpty, value.Value{}
		} else {
			free := t.freeCell()
			if free < 0 {
				t.growAndRetry(key, v)
				return
			}
			newNode := &t.nodes[free]
			newNode.setKey(key)
			newNode.val = v
			newNode.hasNext = main.hasNext
			newNode.next = main.next - int32(free-mp)
			main.hasNext = true
			main.next = int32(free - mp)
			return
		}
	}
	main.setKey(key)
	main.val = v
}

func (t *Table) relocate(from, to int) {
	src := &t.nodes[from]
	dst := &t.nodes[to]
	*dst = *src
	if src.hasNext {
		dst.next = src.next + int32(from-to)
	}
	// fix predecessors in the chain that point at `from`
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.hasNext && i+int(n.next) == from {
			n.next = int32(to - i)
		}
	}
}

func (t *Table) growAndRetry(key, v value.Value) {
	pop := t.population() + 1
	t.rehash(sizeForPopulation(pop))
	t.rawInsertFresh(key, v)
}

func (t *Table) population() int {
	n := 0
	for i := range t.nodes {
		if t.nodes[i].keyTag == keyLive {
			n++
		}
	}
	return n
}

// Get result codes (spec §4.3: "get returns the variant tag of the
// stored value, or nil-variant 'empty'").
func (t *Table) Get(key value.Value) value.Value {
	if t.usesDummy() {
		return value.AbsentKey
	}
	n := t.findNode(key)
	if n == nil || n.keyTag != keyLive {
		return value.AbsentKey
	}
	return n.val
}

func (t *Table) findNode(key value.Value) *node {
	if t.usesDummy() {
		return nil
	}
	idx := t.mainPosition(key)
	for {
		n := &t.nodes[idx]
		if n.keyTag == keyLive && value.RawEqual(n.key(), key) {
			return n
		}
		if !n.hasNext {
			return nil
		}
		idx += int(n.next)
	}
}

// Pset result codes, matching spec §4.3's protocol exactly.
type PsetResult int

const (
	HOK PsetResult = iota
	HNotFound
	HFreeSlot // never returned by Pset
)

// Pset looks for key; if present it overwrites val directly and returns
// HOK. If absent, it returns HNotFound (caller must validate the key —
// reject nil, reject NaN — before calling Finishset). It never returns
// HFreeSlot and the returned index is always 0; Finishset locates the
// insertion slot itself.
func (t *Table) Pset(key value.Value, v value.Value) (PsetResult, int) {
	if !t.usesDummy() {
		if n := t.findNode(key); n != nil {
			n.val = v
			t.invalidateCache()
			return HOK, 0
		}
	}
	return HNotFound, 0
}

// Finishset performs the validated insertion for a key that Pset
// reported as HNotFound, rehashing the table if no free slot remains.
func (t *Table) Finishset(key, v value.Value) {
	if t.usesDummy() || t.freeCellPeek() < 0 {
		t.growAndRetry(key, v)
	} else {
		t.rawInsertFresh(key, v)
	}
	t.invalidateCache()
}

func (t *Table) freeCellPeek() int {
	for i := t.lastfree - 1; i >= 0; i-- {
		if t.nodes[i].isEmpty() {
			return int(i)
		}
	}
	return -1
}

// Remove clears the value at key, turning the key into the dead-key
// sentinel so an in-flight Next iteration keeps working (spec §4.3
// "Dead keys"). A no-op if key isn't present.
func (t *Table) Remove(key value.Value) {
	n := t.findNode(key)
	if n == nil {
		return
	}
	if n.keyObj != nil {
		n.keyTag = keyDead
	} else {
		n.keyTag = keyEmpty
	}
	n.val = value.Value{}
	t.invalidateCache()
}

// Next implements table iteration (spec §4.3): converts key to a node
// offset and scans forward for the next live entry. An empty key starts
// iteration from the top. Returns ok=false when iteration is exhausted.
func (t *Table) Next(key value.Value) (k, v value.Value, ok bool, err error) {
	start := 0
	if !key.IsNil() {
		n := t.findNode(key)
		if n == nil {
			return value.Value{}, value.Value{}, false, &InvalidKeyError{}
		}
		start = t.indexOf(n) + 1
	}
	for i := start; i < len(t.nodes); i++ {
		if t.nodes[i].keyTag == keyLive {
			return t.nodes[i].key(), t.nodes[i].val, true, nil
		}
	}
	return value.Value{}, value.Value{}, false, nil
}

func (t *Table) indexOf(n *node) int {
	for i := range t.nodes {
		if &t.nodes[i] == n {
			return i
		}
	}
	return -1
}

// InvalidKeyError is raised when Next is called with a key not present
// in the table (spec §4.3: "an invalid key is a runtime error").
type InvalidKeyError struct{}

func (e *InvalidKeyError) Error() string { return "invalid key to 'next'" }

// Metamethod-absence cache (spec §4.3 "Metamethod cache").
func (t *Table) CachesAbsence(f MetaFlag) bool { return t.flags&f != 0 }
func (t *Table) MarkAbsent(f MetaFlag)          { t.flags |= f }
func (t *Table) invalidateCache() {
	t.flags &^= FlagNoGetIdx | FlagNoSetIdx | FlagNoGC | FlagNoCall | FlagNoEq | FlagNoName | FlagNoInit
}

func (t *Table) Len() int { return t.population() }
