// Package table implements smog's hash table (spec §4.3): an
// open-addressed chained hash with a shared "dummy" empty node, a
// Brent-style rehash on collision, and a metamethod-absence cache so the
// VM's fast paths for __getidx/__setidx/__gc/__call/__eq/__name/__init
// can skip a real lookup once a miss has been observed.
//
// There is deliberately no separate "array part": integer-keyed runs
// live in the same hash part as everything else, matching the source
// (which merged the array and hash parts for this engine generation).
package table

import (
	"math"
	"reflect"

	"github.com/kristofer/smog/pkg/value"
)

// node is one hash-table slot: a key (tag + payload, not a full Value so
// dead keys can hold a sentinel tag without fabricating a fake object)
// plus its value and a signed offset to the next node in its collision
// chain, relative to this node's own index (meaningful only when hasNext
// is set).
type node struct {
	keyTag  keyTag
	keyI    int64
	keyF    float64
	keyObj  value.GCObject
	keyVar  value.Variant
	val     value.Value
	hasNext bool
	next    int32 // relative offset, matching the source's compact encoding
}

type keyTag uint8

const (
	keyEmpty keyTag = iota
	keyDead         // dead-key sentinel (spec §4.3 "Dead keys")
	keyLive
)

func (n *node) isEmpty() bool { return n.keyTag == keyEmpty }

func (n *node) key() value.Value {
	switch n.keyTag {
	case keyLive:
		switch n.keyVar {
		case value.VariantInt:
			return value.Int(n.keyI)
		case value.VariantFloat:
			return value.Float(n.keyF)
		default:
			if n.keyObj != nil {
				return value.Object(n.keyVar, n.keyObj)
			}
			return value.Bool(n.keyI != 0)
		}
	default:
		return value.Nil
	}
}

func (n *node) setKey(k value.Value) {
	n.keyTag = keyLive
	n.keyVar = k.Variant()
	switch k.Type() {
	case value.TypeNumber:
		if k.IsInt() {
			n.keyI = k.AsInt()
		} else {
			n.keyF = k.AsFloat()
		}
	case value.TypeBool:
		if k.AsBool() {
			n.keyI = 1
		} else {
			n.keyI = 0
		}
	default:
		n.keyObj = k.Object()
	}
}

// dummyNode is a shared empty node; no code path references it. A
// zero-size table is recognised through usesDummy() instead.
var dummyNode = &node{}

// Flags cache bits: one bit per fast-path metamethod the VM consults
// often enough to be worth a monomorphic "definitely absent" check
// without walking the metatable.
type MetaFlag uint8

const (
	FlagNoGetIdx MetaFlag = 1 << iota
	FlagNoSetIdx
	FlagNoGC
	FlagNoCall
	FlagNoEq
	FlagNoName
	FlagNoInit
	flagDummy MetaFlag = 1 << 7 // mirrors BITDUMMY in the source layout
)

// Table is smog's hash table value.
type Table struct {
	hdr      value.Header
	nodes    []node
	log2size uint8
	lastfree int32 // cursor used to find empty cells for Brent's rehash
	flags    MetaFlag
	seed     uint64
}

func (t *Table) Header() *value.Header { return &t.hdr }
func (t *Table) TypeTag() value.Type   { return value.TypeTable }

// New allocates an empty table sized to hold at least hint entries
// without an immediate rehash (0 is the dummy-node table, spec §4.3).
func New(hint int, seed uint64) *Table {
	t := &Table{seed: seed, flags: flagDummy}
	if hint > 0 {
		t.rehash(sizeForPopulation(hint))
	}
	return t
}

func (t *Table) Value() value.Value { return value.Object(value.VariantNone, t) }

func (t *Table) usesDummy() bool { return t.flags&flagDummy != 0 }

func (t *Table) size() int {
	if t.usesDummy() {
		return 0
	}
	return 1 << t.log2size
}

// mainPositionMask is `(size-1)|1`, the odd mask the source uses so main
// positions are well distributed even though size is a power of two.
func (t *Table) mainPositionMask() uint64 {
	return (uint64(t.size()-1) | 1)
}

// mainPosition implements spec §4.3's hashing rules per key kind.
func (t *Table) mainPosition(k value.Value) int {
	if t.usesDummy() {
		return 0
	}
	mask := t.mainPositionMask()
	switch k.Type() {
	case value.TypeNumber:
		if k.IsInt() {
			i := k.AsInt()
			if i >= 0 {
				return int(uint64(i) % mask)
			}
			return int(uint64(-i) % mask)
		}
		mant, exp := math.Frexp(k.AsFloat())
		combined := uint64(mant*(-minIntAsFloat)) + uint64(exp)
		return int(combined % mask)
	case value.TypeString:
		s := k.Object().(interface{ Hash(uint64) uint64 })
		return int(s.Hash(t.seed) % mask)
	case value.TypeBool:
		if k.AsBool() {
			return int(1 % mask)
		}
		return 0
	default:
		// pointer/function/light-userdata identity: hash the Go pointer
		// value itself, the nearest equivalent to hashing a raw address.
		return int(pointerHash(k.Object()) % mask)
	}
}

const minIntAsFloat = -9223372036854775808.0

func pointerHash(obj value.GCObject) uint64 {
	if obj == nil {
		return 0
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Ptr {
		return uint64(rv.Pointer())
	}
	return 0
}
