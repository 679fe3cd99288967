package vm

import (
	"github.com/kristofer/smog/pkg/list"
	"github.com/kristofer/smog/pkg/object"
	"github.com/kristofer/smog/pkg/state"
	"github.com/kristofer/smog/pkg/table"
	"github.com/kristofer/smog/pkg/value"
	"github.com/kristofer/smog/pkg/vmerr"
)

// metatableOf returns the metatable governing metamethod lookups for v,
// if any (spec §4.10): tables, classes/instances and userdata carry their own;
// every other type currently has none (no global per-type metatable
// registry, unlike the original's string/number type metatables — not
// named as a requirement here, so not added speculatively).
func (vm *Interp) metatableOf(v value.Value) *table.Table {
	switch o := v.Object().(type) {
	case *table.Table:
		return o
	case *object.Class:
		return o.Metatable()
	case *object.Instance:
		return o.Class().Metatable()
	case *object.Userdata:
		return o.Metatable()
	default:
		return nil
	}
}

func (vm *Interp) lookupMeta(v value.Value, name *value.OString) (value.Value, bool) {
	mt := vm.metatableOf(v)
	if mt == nil {
		return value.Value{}, false
	}
	r := mt.Get(name.Value())
	if r.Type() == value.TypeNil {
		return value.Value{}, false
	}
	return r, true
}

// metaBinary is OP_MBIN's handler: the fast numeric path already failed
// (or was skipped for constant/immediate operands), so this looks up
// the event's metamethod on either operand's metatable and calls it
// with (a, b), per spec §4.10.
func (vm *Interp) metaBinary(t *state.Thread, event byte, a, b value.Value, f *state.CallFrame, ip int) (value.Value, error) {
	name := metaEventName(vm, event)
	if fn, ok := vm.lookupMeta(a, name); ok {
		return vm.call1(t, fn, a, b)
	}
	if fn, ok := vm.lookupMeta(b, name); ok {
		return vm.call1(t, fn, a, b)
	}
	bad := a
	if bad.IsNumber() {
		bad = b
	}
	symbol := symbolicName(f, ip)
	return value.Value{}, vmerr.New(vmerr.TypeError("perform arithmetic on", bad, vm.metatableOf(bad), vm.G.Meta.Name.Value(), symbol), nil)
}

func metaEventName(vm *Interp, event byte) *value.OString {
	switch event {
	case 0:
		return vm.G.Meta.Add
	case 1:
		return vm.G.Meta.Sub
	case 2:
		return vm.G.Meta.Mul
	case 3:
		return vm.G.Meta.Div
	case 4:
		return vm.G.Meta.Mod
	case 5:
		return vm.G.Meta.IDiv
	case 6:
		return vm.G.Meta.Pow
	case 7:
		return vm.G.Meta.Unm
	default:
		return vm.G.Meta.Add
	}
}

func (vm *Interp) call1(t *state.Thread, fn value.Value, a, b value.Value) (value.Value, error) {
	results, err := vm.Call(t, fn, []value.Value{a, b}, 1)
	if err != nil {
		return value.Value{}, err
	}
	if len(results) == 0 {
		return value.Nil, nil
	}
	return results[0], nil
}

// equals implements == with the __eq fallback (spec §4.1, §4.10): raw
// equality first, then (only when both operands are the same
// collectable type and raw equality failed) a metamethod.
func (vm *Interp) equals(t *state.Thread, a, b value.Value) bool {
	if value.RawEqual(a, b) {
		return true
	}
	if a.Type() != b.Type() || !a.IsCollectable() {
		return false
	}
	if fn, ok := vm.lookupMeta(a, vm.G.Meta.Eq); ok {
		r, err := vm.call1(t, fn, a, b)
		return err == nil && !r.IsFalsy()
	}
	return false
}

// compare implements < and <= (spec §4.1): numbers and strings compare
// directly; any other operand pair is a type error. __lt/__le
// metamethods are not consulted.
func (vm *Interp) compare(a, b value.Value, f *state.CallFrame, ip int) (value.Order, error) {
	if a.IsNumber() && b.IsNumber() {
		return value.CompareNumbers(a, b), nil
	}
	if sa, ok := a.Object().(*value.OString); ok {
		if sb, ok := b.Object().(*value.OString); ok {
			return value.CompareStrings(sa, sb), nil
		}
	}
	bad := a
	if a.IsNumber() || a.Type() == value.TypeString {
		bad = b
	}
	symbol := symbolicName(f, ip)
	return value.OrderNone, vmerr.New(vmerr.TypeError("compare", bad, vm.metatableOf(bad), vm.G.Meta.Name.Value(), symbol), nil)
}

// index implements generic OP_GETINDEX (spec §4.3, §4.4, §4.5): lists
// index by integer or named field, tables read directly, instances
// consult fields then methods, and any other type is a type error;
// __getidx is looked up only for tables.
func (vm *Interp) index(obj, key value.Value, f *state.CallFrame, ip int) (value.Value, error) {
	switch o := obj.Object().(type) {
	case *list.List:
		return vm.indexList(o, key)
	case *table.Table:
		v := o.Get(key)
		if v.Variant() == value.VariantNilAbsentKey {
			if fn, ok := vm.lookupMeta(obj, vm.G.Meta.GetIdx); ok {
				return fn, nil // caller resolves via OpCall if the result is itself callable; direct field access otherwise
			}
			return value.Nil, nil
		}
		return v, nil
	case *object.Instance:
		s, ok := key.Object().(*value.OString)
		if !ok {
			return value.Value{}, vmerr.New("instance fields are indexed by string name only", nil)
		}
		v, ok := o.GetField(s)
		if !ok {
			return value.Nil, nil
		}
		return v, nil
	case *object.Class:
		s, ok := key.Object().(*value.OString)
		if !ok {
			return value.Value{}, vmerr.New("class fields are indexed by string name only", nil)
		}
		if m, ok := o.GetMethod(s); ok {
			return m, nil
		}
		return value.Nil, nil
	default:
		symbol := symbolicName(f, ip)
		return value.Value{}, vmerr.New(vmerr.TypeError("index", obj, vm.metatableOf(obj), vm.G.Meta.Name.Value(), symbol), nil)
	}
}

func (vm *Interp) indexList(l *list.List, key value.Value) (value.Value, error) {
	if key.IsInt() {
		i := int(key.AsInt())
		if i < 0 || i >= l.Len() {
			return value.Nil, nil
		}
		return l.Get(i), nil
	}
	s, ok := key.Object().(*value.OString)
	if !ok {
		return value.Value{}, vmerr.New("list index must be a number or a field name", nil)
	}
	switch s.String() {
	case list.FieldLen, list.FieldSize:
		if s.String() == list.FieldLen {
			return value.Int(int64(l.Len())), nil
		}
		return value.Int(int64(l.Size())), nil
	default:
		idx, ok := list.FieldIndex(s.String(), l.Len())
		if !ok {
			return value.Value{}, vmerr.New((&list.UnknownFieldError{Name: s.String()}).Error(), nil)
		}
		return l.Get(idx), nil
	}
}

// setIndex implements generic OP_SETINDEX.
func (vm *Interp) setIndex(obj, key, v value.Value, f *state.CallFrame, ip int) error {
	switch o := obj.Object().(type) {
	case *list.List:
		return vm.setIndexList(o, key, v)
	case *table.Table:
		res, _ := o.Pset(key, v)
		if res == table.HNotFound {
			if fn, ok := vm.lookupMeta(obj, vm.G.Meta.SetIdx); ok {
				_ = fn // __setidx is looked up but not invoked; the key is always stored raw
			}
			o.Finishset(key, v)
		}
		vm.GC.WriteBarrierBack(o)
		return nil
	case *object.Instance:
		s, ok := key.Object().(*value.OString)
		if !ok {
			return vmerr.New("instance fields are indexed by string name only", nil)
		}
		fields := o.EnsureFields(vm.G.Seed)
		res, _ := fields.Pset(s.Value(), v)
		if res == table.HNotFound {
			fields.Finishset(s.Value(), v)
		}
		vm.GC.WriteBarrierBack(o)
		return nil
	default:
		symbol := symbolicName(f, ip)
		return vmerr.New(vmerr.TypeError("index", obj, vm.metatableOf(obj), vm.G.Meta.Name.Value(), symbol), nil)
	}
}

func (vm *Interp) setIndexList(l *list.List, key, v value.Value) error {
	if key.IsInt() {
		if err := l.Set(int(key.AsInt()), v); err != nil {
			return err
		}
		return nil
	}
	s, ok := key.Object().(*value.OString)
	if !ok {
		return vmerr.New("list index must be a number or a field name", nil)
	}
	switch s.String() {
	case list.FieldLen, list.FieldSize:
		return &list.ForbiddenFieldError{Name: s.String()}
	default:
		idx, ok := list.FieldIndex(s.String(), l.Len())
		if !ok {
			return &list.UnknownFieldError{Name: s.String()}
		}
		return l.Set(idx, v)
	}
}
