// Package object implements smog's class-based object model (spec
// §4.5): classes (with an optional superclass, metatable and method
// table), instances (a class pointer plus a lazily-allocated field
// table), bound methods, and userdata.
package object

import (
	"github.com/kristofer/smog/pkg/table"
	"github.com/kristofer/smog/pkg/value"
)

// Class is a smog class value. There is no per-class instance shape —
// instances carry their own field table — so Class only needs to own
// the method table and an optional metatable.
type Class struct {
	hdr        value.Header
	name       *value.OString
	super      *Class
	metatable  *table.Table // may be nil
	methods    *table.Table // may be nil until the first method is defined
}

func (c *Class) Header() *value.Header { return &c.hdr }
func (c *Class) TypeTag() value.Type   { return value.TypeClass }
func (c *Class) Value() value.Value    { return value.Object(value.VariantNone, c) }

// New allocates an empty class, optionally with a fresh metatable (spec
// §4.5: "allocates an empty class optionally carrying a fresh empty
// metatable"). The method table starts nil and is created on first
// OpMethod store.
func New(name *value.OString, withMetatable bool, seed uint64) *Class {
	c := &Class{name: name}
	if withMetatable {
		c.metatable = table.New(0, seed)
	}
	return c
}

func (c *Class) Name() *value.OString { return c.name }
func (c *Class) Super() *Class        { return c.super }
func (c *Class) Metatable() *table.Table { return c.metatable }
func (c *Class) Methods() *table.Table   { return c.methods }

func (c *Class) EnsureMetatable(seed uint64) *table.Table {
	if c.metatable == nil {
		c.metatable = table.New(0, seed)
	}
	return c.metatable
}

func (c *Class) EnsureMethods(seed uint64) *table.Table {
	if c.methods == nil {
		c.methods = table.New(0, seed)
	}
	return c.methods
}

// Inherit copies the superclass's method table and metatable into c
// (spec §4.5: "Inheritance copies the superclass's method table and
// metatable into the subclass (shallow copy of both tables)"), and
// records the superclass pointer for OP_SUPER lookups.
func (c *Class) Inherit(super *Class, seed uint64) {
	c.super = super
	if super.methods != nil {
		c.methods = shallowCopy(super.methods, seed)
	}
	if super.metatable != nil {
		c.metatable = shallowCopy(super.metatable, seed)
	}
}

func shallowCopy(src *table.Table, seed uint64) *table.Table {
	dst := table.New(src.Len(), seed)
	k := value.Nil
	for {
		nk, v, ok, err := src.Next(k)
		if err != nil || !ok {
			break
		}
		res, _ := dst.Pset(nk, v)
		if res == table.HNotFound {
			dst.Finishset(nk, v)
		}
		k = nk
	}
	return dst
}

// GetMethod looks up name in the class's own method table only (no
// superclass walk: Inherit already flattened the chain by copying).
func (c *Class) GetMethod(name *value.OString) (value.Value, bool) {
	if c.methods == nil {
		return value.Value{}, false
	}
	v := c.methods.Get(name.Value())
	if v.Type() == value.TypeNil {
		return value.Value{}, false
	}
	return v, true
}

// Instance is a smog instance: a class pointer and a lazily-allocated
// field table (spec §4.5: "Indexed get on an instance first consults
// its field table; on miss, consults the method table of its class").
type Instance struct {
	hdr    value.Header
	class  *Class
	fields *table.Table
}

func (i *Instance) Header() *value.Header { return &i.hdr }
func (i *Instance) TypeTag() value.Type   { return value.TypeInstance }
func (i *Instance) Value() value.Value    { return value.Object(value.VariantNone, i) }

func NewInstance(class *Class) *Instance {
	return &Instance{class: class}
}

func (i *Instance) Class() *Class { return i.class }

func (i *Instance) EnsureFields(seed uint64) *table.Table {
	if i.fields == nil {
		i.fields = table.New(0, seed)
	}
	return i.fields
}

func (i *Instance) Fields() *table.Table { return i.fields }

// GetField implements the instance/class lookup chain: field table
// first, then method table (materialising a BoundMethod on a method
// hit). Returns ok=false if neither has the key.
func (i *Instance) GetField(name *value.OString) (value.Value, bool) {
	if i.fields != nil {
		v := i.fields.Get(name.Value())
		if v.Type() != value.TypeNil {
			return v, true
		}
	}
	if m, ok := i.class.GetMethod(name); ok {
		bm := NewBoundMethodInstance(i, m)
		return bm.Value(), true
	}
	return value.Value{}, false
}

// BoundMethod closes a receiver (instance or userdata) over a function
// value (spec §4.5: "Bound methods close over receiver + function").
type BoundMethod struct {
	hdr      value.Header
	receiver value.Value // instance or userdata
	method   value.Value // the underlying function
}

func (b *BoundMethod) Header() *value.Header { return &b.hdr }
func (b *BoundMethod) TypeTag() value.Type   { return value.TypeBoundMethod }

func NewBoundMethodInstance(inst *Instance, method value.Value) *BoundMethod {
	return &BoundMethod{receiver: inst.Value(), method: method}
}

func NewBoundMethodUserdata(ud *Userdata, method value.Value) *BoundMethod {
	return &BoundMethod{receiver: ud.Value(), method: method}
}

func (b *BoundMethod) Value() value.Value {
	variant := value.VariantBoundInstance
	if b.receiver.Type() == value.TypeUserdata {
		variant = value.VariantBoundUserdata
	}
	return value.Object(variant, b)
}

func (b *BoundMethod) Receiver() value.Value { return b.receiver }
func (b *BoundMethod) Method() value.Value   { return b.method }

// Equal implements structural bound-method equality: same receiver and
// same underlying method (spec §4.5: "Equality is structural on
// receiver and method").
func (b *BoundMethod) Equal(other *BoundMethod) bool {
	return value.RawEqual(b.receiver, other.receiver) && value.RawEqual(b.method, other.method)
}

// Userdata wraps an opaque host payload with optional user values and a
// metatable (spec §3).
type Userdata struct {
	hdr       value.Header
	metatable *table.Table
	uservals  []value.Value // 0..65535 tagged values
	payload   []byte
}

func (u *Userdata) Header() *value.Header { return &u.hdr }
func (u *Userdata) TypeTag() value.Type   { return value.TypeUserdata }
func (u *Userdata) Value() value.Value    { return value.Object(value.VariantNone, u) }

func NewUserdata(payloadSize int, nuv int) *Userdata {
	return &Userdata{payload: make([]byte, payloadSize), uservals: make([]value.Value, nuv)}
}

func (u *Userdata) Metatable() *table.Table     { return u.metatable }
func (u *Userdata) SetMetatable(t *table.Table) { u.metatable = t }
func (u *Userdata) Payload() []byte             { return u.payload }
func (u *Userdata) NumUserValues() int          { return len(u.uservals) }
func (u *Userdata) UserValue(i int) value.Value { return u.uservals[i] }
func (u *Userdata) SetUserValue(i int, v value.Value) { u.uservals[i] = v }
