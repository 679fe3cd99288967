package vm

import (
	"github.com/kristofer/smog/pkg/state"
	"github.com/kristofer/smog/pkg/value"
	"github.com/kristofer/smog/pkg/vmerr"
)

// noErrorObject is the default error value when a panic reaches a
// protected call with nothing meaningful on the stack top (spec §4.11:
// "The default error value for 'no object' is the string
// <no error object>").
const noErrorObject = "<no error object>"

// RawCall runs fn under a protected boundary with no stack unwind
// bookkeeping beyond Go's own panic/recover, returning any error that
// propagated out of it (spec §4.11 "rawcall runs a function under a
// newly pushed long-jump buffer").
func (vm *Interp) RawCall(t *state.Thread, fn value.Value, args []value.Value, nresults int) (results []value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverToError(r)
		}
	}()
	return vm.Call(t, fn, args, nresults)
}

// PCall implements spec §4.11's pcall: on error, the stack is restored
// to the level it had on entry, every TBC/upvalue scope above that
// level is closed (running __close; the error of a failing __close
// replaces the propagated error object), and if an
// error-handler closure was supplied it is invoked with the error value
// in place of letting it propagate further.
func (vm *Interp) PCall(t *state.Thread, fn value.Value, args []value.Value, handler value.Value) (results []value.Value, errValue value.Value, ok bool) {
	savedTop := t.Stack.Top()
	savedTBCHead := t.TBC.Head()

	results, err := vm.RawCall(t, fn, args, state.MultRet)
	if err == nil {
		return results, value.Nil, true
	}

	t.Stack.SetTop(savedTop)
	_ = savedTBCHead
	closeErr := vm.closeFrom(t, savedTop)

	ev := errorToValue(vm, err)
	if closeErr != nil {
		ev = errorToValue(vm, closeErr)
	}

	if handler.Type() == value.TypeFunction {
		hres, herr := vm.RawCall(t, handler, []value.Value{ev}, 1)
		if herr != nil {
			return nil, errorToValue(vm, herr), false
		}
		if len(hres) > 0 {
			ev = hres[0]
		}
	}
	return nil, ev, false
}

func errorToValue(vm *Interp, err error) value.Value {
	if re, ok := err.(*vmerr.RuntimeError); ok {
		return vm.G.Intern(re.Message).Value()
	}
	if err == nil {
		return vm.G.Intern(noErrorObject).Value()
	}
	return vm.G.Intern(err.Error()).Value()
}

// recoverToError turns a recovered panic value into an error. The
// interpreter itself never panics on ordinary runtime errors (those are
// returned), so this path is only reached by an unexpected Go-level
// panic (index out of range, nil dereference) from the interpreter
// loop or a native closure.
func recoverToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return vmerr.New(noErrorObject, nil)
}

// Panic invokes the state-wide panic callback with v, or, if none is
// set, signals the host should abort (spec §4.11: "A long-jump without
// a handler invokes the state-wide panic callback... if none set, the
// host aborts").
func (vm *Interp) Panic(v value.Value) error {
	if vm.G.Panic != nil {
		vm.G.Panic(v)
		return nil
	}
	return vmerr.New("unprotected error in call to smog API ("+vmerr.TypeName(v, nil, value.Nil)+")", nil)
}
