package value

import "unsafe"

// ShortStringLimit is the maximum byte length eligible for interning
// (spec §3: "Short strings (<= a configured maximum, e.g. 40)").
const ShortStringLimit = 40

// String extra-byte flags (spec §3: "an 8-bit extra byte used to flag
// reserved words, metamethod keys, and list-field names").
const (
	ExtraNone      uint8 = 0
	ExtraReserved  uint8 = 1 << 0
	ExtraMetamethod uint8 = 1 << 1
	ExtraListField uint8 = 1 << 2
)

// OString is smog's string object. Short strings are interned (compared
// by pointer identity thereafter); long strings are not, and compute
// their hash lazily the first time it's needed.
type OString struct {
	hdr   Header
	bytes []byte

	variant Variant // VariantShortString or VariantLongString
	hash    uint64
	hasHash bool
	extra   uint8 // reserved/metamethod/list-field flag bits (short strings only)
}

func (s *OString) Header() *Header { return &s.hdr }
func (s *OString) TypeTag() Type   { return TypeString }

func (s *OString) Bytes() []byte   { return s.bytes }
func (s *OString) String() string  { return string(s.bytes) }
func (s *OString) Len() int        { return len(s.bytes) }
func (s *OString) IsShort() bool   { return s.variant == VariantShortString }
func (s *OString) Extra() uint8    { return s.extra }
func (s *OString) SetExtra(e uint8) { s.extra = e }

// Hash returns the string's hash, computing and caching it for long
// strings on first use (spec §4.2: "their hash is computed lazily the
// first time it is needed").
func (s *OString) Hash(seed uint64) uint64 {
	if s.variant == VariantShortString || s.hasHash {
		return s.hash
	}
	s.hash = hashBytes(s.bytes, seed)
	s.hasHash = true
	return s.hash
}

// hashBytes is smog's content hash: an FNV-1a variant seeded per global
// state, mirroring the source's practice of seeding the string hash with
// a value derived from process/start-up entropy so hash-flooding attacks
// against the intern table aren't predictable across runs.
func hashBytes(b []byte, seed uint64) uint64 {
	h := seed ^ 0xcbf29ce484222325
	for _, c := range b {
		h ^= uint64(c)
		h *= 0x100000001b3
	}
	return h
}

// NewString allocates a fresh OString over b (not copied; callers that
// need an independent buffer should copy first), tagged short or long by
// ShortStringLimit. It is the constructor every allocator path (the
// intern pool, long-string literals, string concatenation results) goes
// through so the GC header starts out correctly zeroed.
func NewString(b []byte) *OString {
	variant := VariantLongString
	if len(b) <= ShortStringLimit {
		variant = VariantShortString
	}
	return &OString{bytes: b, variant: variant}
}

// Value wraps this string into a tagged Value.
func (s *OString) Value() Value {
	v := VariantLongString
	if s.variant == VariantShortString {
		v = VariantShortString
	}
	return Object(v, s)
}

// StringPool is the global short-string intern table (spec §4.2): an
// open chained hash whose bucket count is always a power of two, grown
// when population reaches capacity and shrunk by the collector when
// occupancy drops under a quarter.
type StringPool struct {
	buckets [][]*OString
	count   int
	seed    uint64
}

const minStringPoolBuckets = 32
const maxStringPoolBuckets = 1 << 20

func NewStringPool(seed uint64) *StringPool {
	return &StringPool{
		buckets: make([][]*OString, minStringPoolBuckets),
		seed:    seed,
	}
}

func (p *StringPool) Len() int { return p.count }

func (p *StringPool) bucketFor(h uint64) int {
	return int(h & uint64(len(p.buckets)-1))
}

// Intern returns the interned OString for bytes, allocating one via
// newWhite if no match exists. currentWhite/otherWhite let the pool
// resurrect a match that is dead-white in the running GC cycle instead
// of handing back an object the sweeper is about to free (spec §4.2:
// "resurrects any match that is dead-white in the current cycle").
func (p *StringPool) Intern(b []byte, currentWhite, otherWhite Color, newWhite func([]byte, uint64) *OString) *OString {
	if len(b) > ShortStringLimit {
		// Long strings are never interned; caller allocates directly.
		return newWhite(b, hashBytes(b, p.seed))
	}
	h := hashBytes(b, p.seed)
	idx := p.bucketFor(h)
	for _, s := range p.buckets[idx] {
		if s.hash == h && string(s.bytes) == string(b) {
			if s.hdr.IsDeadWhite(currentWhite, otherWhite) {
				s.hdr.MarkWhite(currentWhite)
			}
			return s
		}
	}
	s := newWhite(b, h)
	s.hash = h
	s.hasHash = true
	s.variant = VariantShortString
	p.insert(idx, s)
	if p.count >= len(p.buckets) && len(p.buckets) < maxStringPoolBuckets {
		p.resize(len(p.buckets) * 2)
	}
	return s
}

func (p *StringPool) insert(idx int, s *OString) {
	p.buckets[idx] = append(p.buckets[idx], s)
	p.count++
}

func (p *StringPool) resize(newSize int) {
	newBuckets := make([][]*OString, newSize)
	for _, chain := range p.buckets {
		for _, s := range chain {
			idx := int(s.hash & uint64(newSize-1))
			newBuckets[idx] = append(newBuckets[idx], s)
		}
	}
	p.buckets = newBuckets
}

// ShrinkIfSparse halves the table when occupancy falls under a quarter
// of capacity, the policy the collector applies between GC cycles
// (spec §4.8 "String table maintenance").
func (p *StringPool) ShrinkIfSparse() {
	if len(p.buckets) > minStringPoolBuckets && p.count < len(p.buckets)/4 {
		p.resize(len(p.buckets) / 2)
	}
}

// Sweep removes dead-white entries from every bucket, as the collector's
// sweep phase does for the rest of the heap; short strings are swept
// here rather than via the general object list because the pool must
// also drop its own slice reference.
func (p *StringPool) Sweep(currentWhite Color, free func(*OString)) {
	for i, chain := range p.buckets {
		kept := chain[:0]
		for _, s := range chain {
			if s.hdr.IsWhite() && s.hdr.Mark&currentWhite == 0 {
				free(s)
				p.count--
			} else {
				s.hdr.MarkWhite(currentWhite)
				kept = append(kept, s)
			}
		}
		p.buckets[i] = kept
	}
}

// PointerIdentity returns a stable identity key for the pointer cache
// (spec §4.2's "tiny per-state pointer-keyed cache"); Go strings backing
// literals aren't addressable the way C string literals are, so the
// cache keys on the OString pointer itself once a string has been
// interned at least once.
func PointerIdentity(s *OString) uintptr {
	return uintptr(unsafe.Pointer(s))
}
