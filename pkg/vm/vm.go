// Package vm implements smog's bytecode interpreter: the tight
// switch-on-opcode dispatch loop, arithmetic coercion and metamethod
// fallback, protected calls, and the host API a front-end or an
// embedder drives it through (spec §4.9 "VM dispatch").
//
// Execution Model:
//
// The loop keeps a frame-local cache of the running closure, its
// constant pool, the frame's base stack slot, and the program counter,
// the same four values spec §4.9 names explicitly. After every
// instruction it checks the collector's debt counter at a safe point
// (Interp.GC.MaybeStep) rather than trapping mid-instruction, since
// nothing here needs to reallocate the stack out from under a
// partially-decoded instruction the way a hook-triggered trap would.
//
// Design Philosophy:
//
// Binary arithmetic that may need a metamethod is always compiled as a
// fast opcode immediately followed by an OpMBin carrying the same event
// tag (spec §4.9): the fast path advances past OpMBin entirely, the
// slow path (a non-numeric operand) falls straight into it. Comparison
// and equality opcodes carry an invert bit so `!=` reuses `==`'s code
// and `>`/`>=` are compiled as `<`/`<=` with swapped operands, matching
// spec §4.9's "a boolean invert bit" note.
package vm

import (
	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/list"
	"github.com/kristofer/smog/pkg/object"
	"github.com/kristofer/smog/pkg/proto"
	"github.com/kristofer/smog/pkg/state"
	"github.com/kristofer/smog/pkg/table"
	"github.com/kristofer/smog/pkg/value"
	"github.com/kristofer/smog/pkg/vmerr"
)

// jumpBias is added to every encoded jump/immediate-int operand so a
// negative offset is representable inside an unsigned 24-bit field
// (spec §6: "arguments are concatenated short or long fields").
const jumpBias = 1 << 23

// Interp is the interpreter entry point: one per GlobalState, wrapping
// the collector it drives safe-point steps through.
type Interp struct {
	G  *state.GlobalState
	GC *gc.Collector
}

func New(g *state.GlobalState) *Interp {
	return &Interp{G: g, GC: gc.New(g)}
}

// Track routes every allocation made by the interpreter (new lists,
// tables, classes, instances, closures, upvalues) through the
// collector so it is registered white and reachable from the global
// object list.
func (vm *Interp) Track(obj value.GCObject) { vm.GC.Track(obj) }

// Call invokes fn with args on t, requesting nresults results (MultRet
// for "all") and returning them directly; this is the host entry point
// described in spec §6.
func (vm *Interp) Call(t *state.Thread, fn value.Value, args []value.Value, nresults int) ([]value.Value, error) {
	funcSlot := t.Stack.Push(fn)
	for _, a := range args {
		t.Stack.Push(a)
	}
	n, err := vm.callValue(t, fn, funcSlot, len(args), nresults)
	if err != nil {
		t.Stack.SetTop(funcSlot)
		return nil, err
	}
	out := make([]value.Value, n)
	start := t.Stack.Top() - n
	for i := 0; i < n; i++ {
		out[i] = t.Stack.Get(start + i)
	}
	t.Stack.SetTop(funcSlot)
	return out, nil
}

// callValue dispatches to a language closure, a native closure, or (by
// splicing the receiver in as argument 0) a bound method. Returns the
// number of results left on the stack above funcSlot.
func (vm *Interp) callValue(t *state.Thread, fn value.Value, funcSlot, nargs, nresults int) (int, error) {
	if fn.Type() != value.TypeFunction {
		if bm, ok := fn.Object().(*object.BoundMethod); ok {
			t.Stack.Set(funcSlot, bm.Method())
			t.Stack.Push(value.Value{})
			for i := t.Stack.Top() - 1; i > funcSlot+1; i-- {
				t.Stack.Set(i, t.Stack.Get(i-1))
			}
			t.Stack.Set(funcSlot+1, bm.Receiver())
			return vm.callValue(t, bm.Method(), funcSlot, nargs+1, nresults)
		}
		return 0, vmerr.New(vmerr.TypeError("call", fn, nil, value.Nil, ""), nil)
	}
	cl := fn.Object().(*proto.Closure)
	if cl.IsNative() {
		return vm.callNative(t, cl, funcSlot, nargs, nresults)
	}
	return vm.callClosure(t, cl, funcSlot, nargs, nresults)
}

func (vm *Interp) callNative(t *state.Thread, cl *proto.Closure, funcSlot, nargs, nresults int) (int, error) {
	args := make([]value.Value, nargs)
	for i := 0; i < nargs; i++ {
		args[i] = t.Stack.Get(funcSlot + 1 + i)
	}
	results, err := cl.Native(args)
	if err != nil {
		return 0, err
	}
	t.Stack.SetTop(funcSlot)
	n := len(results)
	if nresults != state.MultRet && n > nresults {
		n = nresults
	}
	for i := 0; i < n; i++ {
		t.Stack.Push(results[i])
	}
	for i := n; nresults != state.MultRet && i < nresults; i++ {
		t.Stack.Push(value.Nil)
	}
	return n, nil
}

func (vm *Interp) callClosure(t *state.Thread, cl *proto.Closure, funcSlot, nargs, nresults int) (int, error) {
	p := cl.Proto
	t.Stack.Reserve(p.MaxStack + 8)
	base := funcSlot + 1

	for i := nargs; i < p.Arity; i++ {
		t.Stack.Set(base+i, value.Nil)
	}
	varargBase, varargN := 0, 0
	if p.IsVararg && nargs > p.Arity {
		varargN = nargs - p.Arity
		varargBase = base + p.Arity
	}
	top := base + p.MaxStack
	if top > t.Stack.Top() {
		t.Stack.SetTop(top)
	}

	f := t.Frames.Push()
	f.Closure = cl
	f.IP = 0
	f.Base = base
	f.FuncSlot = funcSlot
	f.Top = top
	f.NumResults = nresults
	f.VarargBase = varargBase
	f.VarargN = varargN
	f.Name = cl.Name
	if f.Prev == nil {
		f.Status |= state.FrameFresh
	}

	n, err := vm.run(t, f)
	t.Frames.Pop()
	return n, err
}

// run executes frame f to completion (a RETURN opcode), returning the
// number of result values left on the stack above f.FuncSlot.
func (vm *Interp) run(t *state.Thread, f *state.CallFrame) (int, error) {
	p := f.Closure.Proto
	code := p.Code
	base := f.Base

	for {
		vm.GC.MaybeStep()
		ip := f.IP
		op := Opcode(code[ip])
		ip++

		switch op {
		case OpLoadK:
			idx := readU24(code, ip)
			ip += 3
			t.Stack.Push(p.Constants[idx])

		case OpLoadKS:
			idx := code[ip]
			ip++
			t.Stack.Push(p.Constants[idx])

		case OpLoadInt:
			raw := int32(readU24(code, ip)) - jumpBias
			ip += 3
			t.Stack.Push(value.Int(int64(raw)))

		case OpLoadFloat:
			idx := readU24(code, ip)
			ip += 3
			t.Stack.Push(p.Constants[idx])

		case OpLoadNil:
			t.Stack.Push(value.Nil)
		case OpLoadTrue:
			t.Stack.Push(value.Bool(true))
		case OpLoadFalse:
			t.Stack.Push(value.Bool(false))

		case OpPopN:
			n := int(code[ip])
			ip++
			t.Stack.SetTop(t.Stack.Top() - n)

		case OpGetLocal:
			slot := int(code[ip])
			ip++
			t.Stack.Push(t.Stack.Get(base + slot))

		case OpSetLocal:
			slot := int(code[ip])
			ip++
			t.Stack.Set(base+slot, t.Stack.Pop())

		case OpGetUpval:
			idx := int(code[ip])
			ip++
			t.Stack.Push(f.Closure.Upvalues[idx].Get())

		case OpSetUpval:
			idx := int(code[ip])
			ip++
			f.Closure.Upvalues[idx].Set(t.Stack.Pop())
			vm.GC.WriteBarrierBack(f.Closure)

		case OpGetGlobal:
			idx := readU24(code, ip)
			ip += 3
			name := p.Constants[idx]
			v := vm.G.Globals().Get(name)
			if v.Type() == value.TypeNil {
				v = value.Nil
			}
			t.Stack.Push(v)

		case OpSetGlobal:
			idx := readU24(code, ip)
			ip += 3
			name := p.Constants[idx]
			v := t.Stack.Pop()
			globals := vm.G.Globals()
			res, _ := globals.Pset(name, v)
			if res == table.HNotFound {
				globals.Finishset(name, v)
			}

		case OpNewList:
			hint := int(code[ip])
			ip++
			l := list.New(hint)
			vm.Track(l)
			t.Stack.Push(l.Value())

		case OpNewTable:
			hint := int(code[ip])
			ip++
			tb := table.New(hint, vm.G.Seed)
			vm.Track(tb)
			t.Stack.Push(tb.Value())

		case OpNewClass:
			idx := readU24(code, ip)
			ip += 3
			flags := code[ip]
			ip++
			name, _ := p.Constants[idx].Object().(*value.OString)
			cls := object.New(name, flags&1 != 0, vm.G.Seed)
			vm.Track(cls)
			t.Stack.Push(cls.Value())

		case OpGetIndex:
			key := t.Stack.Pop()
			obj := t.Stack.Pop()
			v, err := vm.index(obj, key, f, ip-1)
			if err != nil {
				return 0, err
			}
			t.Stack.Push(v)

		case OpSetIndex:
			v := t.Stack.Pop()
			key := t.Stack.Pop()
			obj := t.Stack.Pop()
			if err := vm.setIndex(obj, key, v, f, ip-1); err != nil {
				return 0, err
			}

		case OpGetField:
			idx := readU24(code, ip)
			ip += 3
			key := p.Constants[idx]
			obj := t.Stack.Pop()
			v, err := vm.index(obj, key, f, ip-4)
			if err != nil {
				return 0, err
			}
			t.Stack.Push(v)

		case OpSetField:
			idx := readU24(code, ip)
			ip += 3
			key := p.Constants[idx]
			v := t.Stack.Pop()
			obj := t.Stack.Pop()
			if err := vm.setIndex(obj, key, v, f, ip-4); err != nil {
				return 0, err
			}

		case OpGetIndexImm:
			n := int(code[ip])
			ip++
			obj := t.Stack.Pop()
			v, err := vm.index(obj, value.Int(int64(n)), f, ip-2)
			if err != nil {
				return 0, err
			}
			t.Stack.Push(v)

		case OpSetIndexImm:
			n := int(code[ip])
			ip++
			v := t.Stack.Pop()
			obj := t.Stack.Pop()
			if err := vm.setIndex(obj, value.Int(int64(n)), v, f, ip-2); err != nil {
				return 0, err
			}

		case OpMethod:
			idx := readU24(code, ip)
			ip += 3
			name := p.Constants[idx].Object().(*value.OString)
			closure := t.Stack.Pop()
			classV := t.Stack.Get(t.Stack.Top() - 1)
			cls := classV.Object().(*object.Class)
			methods := cls.EnsureMethods(vm.G.Seed)
			res, _ := methods.Pset(name.Value(), closure)
			if res == table.HNotFound {
				methods.Finishset(name.Value(), closure)
			}
			vm.GC.WriteBarrierBack(cls)

		case OpTagMethod:
			idx := readU24(code, ip)
			ip += 3
			name := p.Constants[idx].Object().(*value.OString)
			closure := t.Stack.Pop()
			classV := t.Stack.Get(t.Stack.Top() - 1)
			cls := classV.Object().(*object.Class)
			mt := cls.EnsureMetatable(vm.G.Seed)
			res, _ := mt.Pset(name.Value(), closure)
			if res == table.HNotFound {
				mt.Finishset(name.Value(), closure)
			}
			vm.GC.WriteBarrierBack(cls)

		case OpInherit:
			superV := t.Stack.Pop()
			subV := t.Stack.Get(t.Stack.Top() - 1)
			sub := subV.Object().(*object.Class)
			super, ok := superV.Object().(*object.Class)
			if !ok {
				return 0, vmerr.New("cannot inherit from a non-class value", nil)
			}
			sub.Inherit(super, vm.G.Seed)
			vm.GC.WriteBarrierBack(sub)

		case OpSuperGet:
			idx := readU24(code, ip)
			ip += 3
			name := p.Constants[idx].Object().(*value.OString)
			receiver := t.Stack.Pop()
			self, _ := receiver.Object().(*object.Instance)
			if self == nil || self.Class().Super() == nil {
				return 0, vmerr.New("no superclass method '"+name.String()+"'", nil)
			}
			m, ok := self.Class().Super().GetMethod(name)
			if !ok {
				return 0, vmerr.New("no superclass method '"+name.String()+"'", nil)
			}
			bm := object.NewBoundMethodInstance(self, m)
			vm.Track(bm)
			t.Stack.Push(bm.Value())

		case OpAddStack, OpSubStack, OpMulStack, OpDivStack, OpModStack, OpIDivStack, OpPowStack:
			b := t.Stack.Get(t.Stack.Top() - 1)
			a := t.Stack.Get(t.Stack.Top() - 2)
			event := arithEvent(op)
			r, handled, err := vm.tryArith(event, a, b)
			if err != nil {
				return 0, err
			}
			t.Stack.SetTop(t.Stack.Top() - 2)
			if handled {
				t.Stack.Push(r)
				ip += 2 // skip the paired OpMBin
			} else {
				t.Stack.Push(a)
				t.Stack.Push(b)
			}

		case OpUnmStack:
			a := t.Stack.Pop()
			r, err := vm.unaryMinus(t, a, f, ip-1)
			if err != nil {
				return 0, err
			}
			t.Stack.Push(r)

		case OpAddK, OpSubK, OpMulK, OpDivK, OpModK, OpIDivK, OpPowK:
			idx := readU24(code, ip)
			ip += 3
			b := p.Constants[idx]
			a := t.Stack.Pop()
			r, err := vm.arith(t, arithEventK(op), a, b, f, ip-4)
			if err != nil {
				return 0, err
			}
			t.Stack.Push(r)

		case OpAddImm, OpSubImm:
			raw := int32(readU24(code, ip)) - jumpBias
			ip += 3
			a := t.Stack.Pop()
			b := value.Int(int64(raw))
			r, err := vm.arith(t, arithEventK(op), a, b, f, ip-4)
			if err != nil {
				return 0, err
			}
			t.Stack.Push(r)

		case OpBAndStack, OpBOrStack, OpBXorStack, OpShlStack, OpShrStack:
			b := t.Stack.Pop()
			a := t.Stack.Pop()
			r, err := vm.bitwise(op, a, b, f, ip-1)
			if err != nil {
				return 0, err
			}
			t.Stack.Push(r)

		case OpBNotStack:
			a := t.Stack.Pop()
			r, err := vm.bitwiseNot(a, f, ip-1)
			if err != nil {
				return 0, err
			}
			t.Stack.Push(r)

		case OpMBin:
			event := code[ip]
			ip++
			b := t.Stack.Pop()
			a := t.Stack.Pop()
			r, err := vm.metaBinary(t, event, a, b, f, ip-2)
			if err != nil {
				return 0, err
			}
			t.Stack.Push(r)

		case OpEq:
			invert := code[ip]&1 != 0
			ip++
			b := t.Stack.Pop()
			a := t.Stack.Pop()
			eq := vm.equals(t, a, b)
			if invert {
				eq = !eq
			}
			t.Stack.Push(value.Bool(eq))

		case OpLt, OpLe:
			invert := code[ip]&1 != 0
			ip++
			b := t.Stack.Pop()
			a := t.Stack.Pop()
			ord, err := vm.compare(a, b, f, ip-2)
			if err != nil {
				return 0, err
			}
			var r bool
			if op == OpLt {
				r = ord == value.OrderLess
			} else {
				r = ord == value.OrderLess || ord == value.OrderEqual
			}
			if invert {
				r = !r
			}
			t.Stack.Push(value.Bool(r))

		case OpJump:
			off := int32(readU24(code, ip)) - jumpBias
			ip += 3
			ip += int(off)

		case OpTest:
			flag := code[ip]
			ip++
			cond := t.Stack.Get(t.Stack.Top() - 1)
			jumpIfTrue := flag&1 != 0
			truthy := !cond.IsFalsy()
			if truthy == jumpIfTrue {
				off := int32(readU24(code, ip)) - jumpBias
				ip += 3 + int(off)
			} else {
				ip += 3 // skip the embedded jump offset
			}

		case OpTestPop:
			flag := code[ip]
			ip++
			cond := t.Stack.Pop()
			jumpIfTrue := flag&1 != 0
			truthy := !cond.IsFalsy()
			if truthy == jumpIfTrue {
				off := int32(readU24(code, ip)) - jumpBias
				ip += 3 + int(off)
			} else {
				ip += 3
			}

		case OpClosure:
			idx := readU24(code, ip)
			ip += 3
			nested := p.Nested[idx]
			newCl := proto.NewLanguageClosure(nested)
			for i, uv := range nested.Upvalues {
				if uv.InStack {
					slot := base + int(uv.Index)
					if open := t.FindOpenUpvalue(slot); open != nil {
						newCl.Upvalues[i] = open
					} else {
						o := proto.NewOpenUpvalue(t.Stack, slot)
						t.LinkOpenUpvalue(o)
						vm.Track(o)
						newCl.Upvalues[i] = o
					}
				} else {
					newCl.Upvalues[i] = f.Closure.Upvalues[uv.Index]
				}
			}
			vm.Track(newCl)
			t.Stack.Push(newCl.Value())

		case OpMarkTBC:
			slot := int(code[ip])
			ip++
			t.TBC.Insert(t.Stack, base+slot)

		case OpCloseUpto:
			slot := int(code[ip])
			ip++
			floor := base + slot
			if err := vm.closeFrom(t, floor); err != nil {
				return 0, err
			}

		case OpVarargPrep:
			// Vararg setup already happened in callClosure; this opcode
			// is a no-op marker kept so disassembly matches spec §4.7's
			// description of where it's emitted.

		case OpVarargExpand:
			want := int(code[ip])
			ip++
			n := f.VarargN
			if want != 0 {
				n = want
			}
			for i := 0; i < n; i++ {
				if i < f.VarargN {
					t.Stack.Push(t.Stack.Get(f.VarargBase + i))
				} else {
					t.Stack.Push(value.Nil)
				}
			}

		case OpCall, OpTailCall:
			nargs := int(readU24(code, ip))
			ip += 3
			nres := int(int32(readU24(code, ip)) - jumpBias)
			ip += 3
			funcSlot := t.Stack.Top() - nargs - 1
			fn := t.Stack.Get(funcSlot)
			f.IP = ip
			_, err := vm.callValue(t, fn, funcSlot, nargs, nres)
			if err != nil {
				return 0, err
			}
			ip = f.IP

		case OpForPrep:
			off := int32(readU24(code, ip)) - jumpBias
			ip += 3
			iterState := t.Stack.Top() - 2
			if !t.Stack.Get(iterState).IsFalsy() {
				t.TBC.Insert(t.Stack, iterState)
			}
			ip += int(off)

		case OpForCall:
			callBase := t.Stack.Top() - 3
			iter := t.Stack.Get(callBase)
			t.Stack.Push(iter)
			t.Stack.Push(t.Stack.Get(callBase + 1))
			t.Stack.Push(t.Stack.Get(callBase + 2))
			fSlot := t.Stack.Top() - 3
			f.IP = ip
			_, err := vm.callValue(t, iter, fSlot, 2, state.MultRet)
			if err != nil {
				return 0, err
			}
			ip = f.IP

		case OpForLoop:
			off := int32(readU24(code, ip)) - jumpBias
			ip += 3
			result := t.Stack.Get(t.Stack.Top() - 1)
			if !result.IsNil() {
				t.Stack.Set(t.Stack.Top()-4, result) // new control variable
				ip += int(off)
			}

		case OpReturn:
			flag := code[ip]
			rbase := int(readU24(code, ip+1))
			nres := int32(readU24(code, ip+4)) - jumpBias

			if flag&1 != 0 {
				if err := vm.closeFrom(t, base); err != nil {
					return 0, err
				}
			}
			t.CloseUpvaluesFrom(base)

			n := int(nres)
			srcBase := base + rbase
			if nres == state.MultRet {
				n = t.Stack.Top() - srcBase
			}
			dst := f.FuncSlot
			for i := 0; i < n; i++ {
				t.Stack.Set(dst+i, t.Stack.Get(srcBase+i))
			}
			t.Stack.SetTop(dst + n)
			return n, nil

		default:
			return 0, vmerr.New("unimplemented opcode", nil)
		}

		f.IP = ip
	}
}

func readU24(code []byte, i int) int {
	return int(code[i]) | int(code[i+1])<<8 | int(code[i+2])<<16
}

// closeFrom runs __close on every TBC variable from the current
// thread's list down to (and including) floor, innermost first (spec
// §4.11). A failing __close updates the propagated error but does not
// stop remaining closes from running.
func (vm *Interp) closeFrom(t *state.Thread, floor int) error {
	indices := t.TBC.PopTo(t.Stack, floor)
	var first error
	for _, idx := range indices {
		v := t.Stack.Get(idx)
		if v.IsFalsy() {
			continue
		}
		closeFn, ok := vm.lookupMeta(v, vm.G.Meta.Close)
		if !ok {
			continue
		}
		if _, err := vm.Call(t, closeFn, []value.Value{v}, 0); err != nil && first == nil {
			first = err
		}
	}
	t.CloseUpvaluesFrom(floor)
	return first
}
