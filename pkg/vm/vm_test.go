package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/proto"
	"github.com/kristofer/smog/pkg/state"
	"github.com/kristofer/smog/pkg/value"
)

// newTestVM builds a fresh GlobalState/Thread/Interp triple the way
// cmd/smog does before running a script, without going through the
// front-end pipeline — these tests hand-assemble bytecode directly so
// they exercise the dispatch loop in isolation.
func newTestVM(t *testing.T) (*Interp, *state.Thread) {
	t.Helper()
	g := state.NewGlobalState(1)
	th := state.NewThread(g, 256)
	g.RegisterMainThread(th)
	vm := New(g)
	return vm, th
}

func u24(n int) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16)}
}

func biased(n int) []byte { return u24(n + jumpBias) }

func runProto(t *testing.T, vm *Interp, th *state.Thread, p *proto.Prototype) []value.Value {
	t.Helper()
	cl := proto.NewLanguageClosure(p)
	vm.Track(p)
	results, err := vm.Call(th, value.Object(value.VariantNone, cl), nil, state.MultRet)
	require.NoError(t, err)
	return results
}

// TestReturnIntegerLiteral exercises OpLoadInt + OpReturn: `return 42`.
func TestReturnIntegerLiteral(t *testing.T) {
	vm, th := newTestVM(t)

	code := []byte{byte(OpLoadInt)}
	code = append(code, biased(42)...)
	code = append(code, byte(OpReturn), 0)
	code = append(code, u24(4)...)  // base: MaxStack, where LoadInt pushed above the pre-filled local window
	code = append(code, biased(1)...) // n=1 result, bias-encoded (unlike the base operand above)

	p := &proto.Prototype{MaxStack: 4, Code: code}
	results := runProto(t, vm, th, p)
	require.Len(t, results, 1)
	require.True(t, results[0].IsInt())
	require.Equal(t, int64(42), results[0].AsInt())
}

// TestStackAddition exercises OpAddStack's fast numeric path skipping
// the paired OpMBin fallback: `return 2 + 3`.
func TestStackAddition(t *testing.T) {
	vm, th := newTestVM(t)

	code := []byte{byte(OpLoadInt)}
	code = append(code, biased(2)...)
	code = append(code, byte(OpLoadInt))
	code = append(code, biased(3)...)
	code = append(code, byte(OpAddStack))
	code = append(code, byte(OpMBin), 0) // event 0 == __add, skipped on the fast path
	code = append(code, byte(OpReturn), 0)
	code = append(code, u24(4)...)
	code = append(code, biased(1)...)

	p := &proto.Prototype{MaxStack: 4, Code: code}
	results := runProto(t, vm, th, p)
	require.Len(t, results, 1)
	require.Equal(t, int64(5), results[0].AsInt())
}

// TestLoadConstantString exercises OpLoadK against the prototype's
// constant pool.
func TestLoadConstantString(t *testing.T) {
	vm, th := newTestVM(t)

	s := vm.G.Intern("hello")
	code := []byte{byte(OpLoadK)}
	code = append(code, u24(0)...)
	code = append(code, byte(OpReturn), 0)
	code = append(code, u24(4)...)
	code = append(code, biased(1)...)

	p := &proto.Prototype{MaxStack: 4, Code: code, Constants: []value.Value{s.Value()}}
	results := runProto(t, vm, th, p)
	require.Len(t, results, 1)
	str, ok := results[0].Object().(*value.OString)
	require.True(t, ok)
	require.Equal(t, "hello", str.String())
}

// TestIntegerDivisionByZero exercises numericArith's int path raising a
// real error rather than panicking on a Go-level divide-by-zero.
func TestIntegerDivisionByZero(t *testing.T) {
	vm, th := newTestVM(t)

	code := []byte{byte(OpLoadInt)}
	code = append(code, biased(1)...)
	code = append(code, byte(OpLoadInt))
	code = append(code, biased(0)...)
	code = append(code, byte(OpIDivStack))
	code = append(code, byte(OpMBin), 5) // event 5 == __idiv
	code = append(code, byte(OpReturn), 0)
	code = append(code, u24(0)...)
	code = append(code, biased(1)...)

	p := &proto.Prototype{MaxStack: 4, Code: code}
	_, err := vm.Call(th, value.Object(value.VariantNone, proto.NewLanguageClosure(p)), nil, state.MultRet)
	require.Error(t, err)
}
