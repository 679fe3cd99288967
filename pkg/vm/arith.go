package vm

import (
	"math"

	"github.com/kristofer/smog/pkg/state"
	"github.com/kristofer/smog/pkg/value"
	"github.com/kristofer/smog/pkg/vmerr"
)

// arithEvent maps a with-stack arithmetic opcode to its MBIN event tag
// (spec §4.9: "always immediately followed... by an MBIN fallback
// instruction carrying the event tag").
func arithEvent(op Opcode) byte {
	switch op {
	case OpAddStack:
		return 0
	case OpSubStack:
		return 1
	case OpMulStack:
		return 2
	case OpDivStack:
		return 3
	case OpModStack:
		return 4
	case OpIDivStack:
		return 5
	case OpPowStack:
		return 6
	default:
		return 0
	}
}

func arithEventK(op Opcode) byte {
	switch op {
	case OpAddK, OpAddImm:
		return 0
	case OpSubK, OpSubImm:
		return 1
	case OpMulK:
		return 2
	case OpDivK:
		return 3
	case OpModK:
		return 4
	case OpIDivK:
		return 5
	case OpPowK:
		return 6
	default:
		return 0
	}
}

// tryArith attempts the fast numeric path for a with-stack binary op,
// reporting handled=false (never an error) when either operand is not
// already a number, so the caller can fall through to the paired
// OpMBin instruction instead.
func (vm *Interp) tryArith(event byte, a, b value.Value) (value.Value, bool, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return value.Value{}, false, nil
	}
	r, err := vm.numericArith(event, a, b)
	if err != nil {
		return value.Value{}, true, err
	}
	return r, true, nil
}

// arith performs a constant/immediate-operand arithmetic op, coercing
// string operands the way spec §4.1 allows, and falling back to a
// metamethod lookup on the receiver for anything else.
func (vm *Interp) arith(t *state.Thread, event byte, a, b value.Value, f *state.CallFrame, ip int) (value.Value, error) {
	ca, aok := value.CoerceArithOperand(a)
	cb, bok := value.CoerceArithOperand(b)
	if aok && bok {
		return vm.numericArith(event, ca, cb)
	}
	return vm.metaBinary(t, event, a, b, f, ip)
}

func (vm *Interp) numericArith(event byte, a, b value.Value) (value.Value, error) {
	bothInt := a.IsInt() && b.IsInt()
	switch event {
	case 0: // add
		if bothInt {
			return value.Int(a.AsInt() + b.AsInt()), nil
		}
		return value.Float(a.AsFloatValue() + b.AsFloatValue()), nil
	case 1: // sub
		if bothInt {
			return value.Int(a.AsInt() - b.AsInt()), nil
		}
		return value.Float(a.AsFloatValue() - b.AsFloatValue()), nil
	case 2: // mul
		if bothInt {
			return value.Int(a.AsInt() * b.AsInt()), nil
		}
		return value.Float(a.AsFloatValue() * b.AsFloatValue()), nil
	case 3: // div: always float, per spec §4.1 (true division)
		return value.Float(a.AsFloatValue() / b.AsFloatValue()), nil
	case 4: // mod
		if bothInt {
			r, err := value.IntMod(a.AsInt(), b.AsInt())
			if err != nil {
				return value.Value{}, vmerr.New(err.Error(), nil)
			}
			return value.Int(r), nil
		}
		return value.Float(value.FloatMod(a.AsFloatValue(), b.AsFloatValue())), nil
	case 5: // idiv
		if bothInt {
			r, err := value.IntDiv(a.AsInt(), b.AsInt())
			if err != nil {
				return value.Value{}, vmerr.New(err.Error(), nil)
			}
			return value.Int(r), nil
		}
		fa, fb := a.AsFloatValue(), b.AsFloatValue()
		return value.Float(math.Floor(fa / fb)), nil
	case 6: // pow: always float
		return value.Float(math.Pow(a.AsFloatValue(), b.AsFloatValue())), nil
	default:
		return value.Value{}, vmerr.New("invalid arithmetic event", nil)
	}
}

func (vm *Interp) unaryMinus(t *state.Thread, a value.Value, f *state.CallFrame, ip int) (value.Value, error) {
	if a.IsInt() {
		return value.Int(-a.AsInt()), nil
	}
	if a.IsFloat() {
		return value.Float(-a.AsFloat()), nil
	}
	if c, ok := value.CoerceArithOperand(a); ok {
		return vm.unaryMinus(t, c, f, ip)
	}
	return vm.metaBinary(t, 7 /*unm*/, a, a, f, ip)
}

func (vm *Interp) bitwise(op Opcode, a, b value.Value, f *state.CallFrame, ip int) (value.Value, error) {
	ia, aok := toInteger(a)
	ib, bok := toInteger(b)
	if !aok || !bok {
		return value.Value{}, vmerr.New(vmerr.TypeError("perform bitwise operation on", pickNonInt(a, b, aok), nil, value.Nil, ""), nil)
	}
	switch op {
	case OpBAndStack:
		return value.Int(ia & ib), nil
	case OpBOrStack:
		return value.Int(ia | ib), nil
	case OpBXorStack:
		return value.Int(ia ^ ib), nil
	case OpShlStack:
		return value.Int(shiftLeft(ia, ib)), nil
	case OpShrStack:
		return value.Int(shiftLeft(ia, -ib)), nil
	default:
		return value.Value{}, vmerr.New("invalid bitwise op", nil)
	}
}

func (vm *Interp) bitwiseNot(a value.Value, f *state.CallFrame, ip int) (value.Value, error) {
	ia, ok := toInteger(a)
	if !ok {
		return value.Value{}, vmerr.New(vmerr.TypeError("perform bitwise operation on", a, nil, value.Nil, ""), nil)
	}
	return value.Int(^ia), nil
}

func shiftLeft(a, n int64) int64 {
	if n <= -64 || n >= 64 {
		return 0
	}
	if n >= 0 {
		return int64(uint64(a) << uint(n))
	}
	return int64(uint64(a) >> uint(-n))
}

func toInteger(v value.Value) (int64, bool) {
	if v.IsInt() {
		return v.AsInt(), true
	}
	if v.IsFloat() {
		return value.FloatToIntExact(v.AsFloat())
	}
	return 0, false
}

func pickNonInt(a, b value.Value, aok bool) value.Value {
	if !aok {
		return a
	}
	return b
}

