package value

// StringCache is the small N×M pointer-keyed cache described in spec
// §4.2: hot call sites look up the same literal address repeatedly (a
// method selector used on every call, say), so caching the last few
// OStrings seen at each of N cache lines avoids a full intern-table walk.
//
// Go doesn't hand us stable C-string addresses for literals, so the
// cache keys on the *OString pointer itself (set once a literal has been
// interned the first time) rather than a raw byte-string address; this
// is the same "address of the thing, not its content" identity the
// original exploits, just anchored to the interned object instead of the
// source text.
type StringCache struct {
	lines [][]*OString // N rows of M entries
	m     int
}

const (
	cacheRows = 53 // STRCACHE_N in the original's sizing
	cacheCols = 2  // STRCACHE_M
)

func NewStringCache() *StringCache {
	lines := make([][]*OString, cacheRows)
	for i := range lines {
		lines[i] = make([]*OString, cacheCols)
	}
	return &StringCache{lines: lines, m: cacheCols}
}

func (c *StringCache) row(p uintptr) int {
	return int(p % uintptr(len(c.lines)))
}

// Lookup returns a cached OString for ptr if present, else nil.
func (c *StringCache) Lookup(ptr uintptr) *OString {
	row := c.lines[c.row(ptr)]
	for _, s := range row {
		if s != nil && PointerIdentity(s) == ptr {
			return s
		}
	}
	return nil
}

// Store inserts s into its cache line, evicting the oldest entry.
func (c *StringCache) Store(ptr uintptr, s *OString) {
	row := c.lines[c.row(ptr)]
	copy(row[1:], row[:len(row)-1])
	row[0] = s
}

// ReplaceDeadEntries scans every line for a dead-white OString and swaps
// it for the shared out-of-memory sentinel, so the cache stays valid
// (readable without nil-checks) across the GC cycle that just collected
// it (spec §4.2, SPEC_FULL item 5).
func (c *StringCache) ReplaceDeadEntries(currentWhite, otherWhite Color, oom *OString) {
	for _, row := range c.lines {
		for i, s := range row {
			if s != nil && s.hdr.IsDeadWhite(currentWhite, otherWhite) {
				row[i] = oom
			}
		}
	}
}

// NewOOMString builds the preallocated, non-collectable sentinel string
// used both for StringCache replacement and as the error object for
// memory errors (spec §4.2, §7: "Memory errors reuse a preallocated
// error string so the raise itself never allocates").
func NewOOMString(text string) *OString {
	s := &OString{bytes: []byte(text), variant: VariantShortString}
	s.hdr.MarkBlack() // fixed object: never swept, never needs marking
	return s
}
