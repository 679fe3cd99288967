package value

// RawEqual implements spec §4.1's raweq mode: variant-sensitive equality
// that never consults a metamethod. Values with different variant tags
// are unequal unless both are numbers, in which case an integer that
// round-trips exactly through float64 is compared against the float.
//
// Short strings compare by pointer identity (callers must have interned
// both sides); long strings compare by contents after a length check.
// Collectable non-string values (lists, tables, instances, userdata,
// classes, bound methods) compare by identity only — RawEqual never
// performs the "both userdata/instances of the same class with __eq"
// fallback; that belongs to the metamethod-aware Equal in pkg/vm, which
// calls RawEqual first and only then considers __eq.
func RawEqual(a, b Value) bool {
	if a.tag.Type != b.tag.Type {
		return false
	}
	switch a.tag.Type {
	case TypeNil:
		return true
	case TypeBool:
		return a.i == b.i
	case TypeNumber:
		return numberEqual(a, b)
	case TypeString:
		return stringEqual(a.obj.(*OString), b.obj.(*OString))
	default:
		return a.obj == b.obj
	}
}

func numberEqual(a, b Value) bool {
	if a.tag.Variant == b.tag.Variant {
		if a.tag.Variant == VariantInt {
			return a.i == b.i
		}
		return a.f == b.f // IEEE equality: NaN != NaN falls out naturally
	}
	// mixed int/float: convert whichever side can convert exactly
	var ival int64
	var fval float64
	if a.tag.Variant == VariantInt {
		ival, fval = a.i, b.f
	} else {
		ival, fval = b.i, a.f
	}
	if FitsExactlyInFloat(ival) {
		return float64(ival) == fval
	}
	asInt, ok := FloatToIntExact(fval)
	return ok && asInt == ival
}

func stringEqual(a, b *OString) bool {
	if a == b {
		return true
	}
	if a.variant == VariantShortString && b.variant == VariantShortString {
		return false // distinct interned objects with distinct identity differ
	}
	if len(a.bytes) != len(b.bytes) {
		return false
	}
	return string(a.bytes) == string(b.bytes)
}

// Order is the result of comparing two values; NaN and type mismatches
// that have no metamethod produce OrderNone, which callers must turn
// into an error (ordering is not reflexive-by-default like equality is).
type Order int

const (
	OrderNone Order = iota
	OrderLess
	OrderEqual
	OrderGreater
)

// CompareNumbers orders two number values; used directly by '<'/'<=' for
// number/number and as a building block for the VM's order metamethod
// fallback. NaN comparisons always yield OrderNone (spec §8: "Float
// comparison with NaN yields neither <, <=, nor == true").
func CompareNumbers(a, b Value) Order {
	var af, bf float64
	var bothInt bool
	if a.tag.Variant == VariantInt && b.tag.Variant == VariantInt {
		bothInt = true
	}
	if bothInt {
		switch {
		case a.i < b.i:
			return OrderLess
		case a.i > b.i:
			return OrderGreater
		default:
			return OrderEqual
		}
	}
	af, bf = a.AsFloatValue(), b.AsFloatValue()
	if af != af || bf != bf { // either is NaN
		return OrderNone
	}
	switch {
	case af < bf:
		return OrderLess
	case af > bf:
		return OrderGreater
	default:
		return OrderEqual
	}
}

// CompareStrings orders two strings lexicographically by byte value,
// locale-independent, aware of embedded NUL bytes (a direct byte
// comparison already has both properties since Go strings are just byte
// slices, unlike C's NUL-terminated char*).
func CompareStrings(a, b *OString) Order {
	switch {
	case string(a.bytes) < string(b.bytes):
		return OrderLess
	case string(a.bytes) > string(b.bytes):
		return OrderGreater
	default:
		return OrderEqual
	}
}

// CoerceArithOperand implements the "string that parses as a number
// coerces to number for raw arithmetic" rule (spec §4.1). It returns
// ok=false (not an error) when the value is not a number and not a
// string that parses as one, so the caller can fall through to
// metamethod dispatch.
func CoerceArithOperand(v Value) (Value, bool) {
	if v.tag.Type == TypeNumber {
		return v, true
	}
	if v.tag.Type == TypeString {
		n, err := ParseNumber(v.obj.(*OString).String())
		if err != nil {
			return Value{}, false
		}
		return n, true
	}
	return Value{}, false
}
