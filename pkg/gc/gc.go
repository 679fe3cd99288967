// Package gc implements smog's incremental tri-colour mark-and-sweep
// collector (spec §4.8): the state machine that walks reachable objects
// from a thread's roots, the write barriers that keep a black object
// from ever pointing at a white one once marking has started, and the
// finaliser queue.
//
// The design note in spec §9 calls for "intrusive gray lists threaded
// through gclist fields" to become "a Vec/slice of indices instead of
// intrusive next-pointers... so cycles do not require weak references".
// This package follows that: GlobalState.Gray/GrayAgain/Fin/ToBeFin are
// plain []value.GCObject slices, and nothing here holds an owning Go
// pointer cycle — objects reference each other (closure -> upvalue ->
// thread) through ordinary fields, and Go's own garbage collector is
// what actually reclaims memory once this package has logically
// "swept" an object by dropping it from GlobalState.Objects.
package gc

import (
	"github.com/kristofer/smog/pkg/list"
	"github.com/kristofer/smog/pkg/object"
	"github.com/kristofer/smog/pkg/proto"
	"github.com/kristofer/smog/pkg/state"
	"github.com/kristofer/smog/pkg/table"
	"github.com/kristofer/smog/pkg/value"
)

// bytesPerSlot is the fixed conversion ratio spec §4.8 uses to turn
// "work done" into the same currency as the byte-denominated debt
// counter, since this port doesn't track allocation sizes byte-for-byte
// the way a C allocator wrapper would.
const bytesPerSlot = 32

// Collector drives one GlobalState's collection cycle. It holds no
// state of its own beyond a reference to the GlobalState it collects;
// all persistent bookkeeping (phase, debt, lists) lives on GlobalState
// itself so that emergency collection, triggered from deep inside an
// allocator call, can always find a consistent place to resume.
type Collector struct {
	g *state.GlobalState
}

func New(g *state.GlobalState) *Collector { return &Collector{g: g} }

// Track links a freshly allocated object into the global object list,
// coloured the current white (spec §3 "Lifecycles"). Every allocator
// path in pkg/vm must call this immediately after construction.
func (c *Collector) Track(obj value.GCObject) {
	obj.Header().MarkWhite(c.g.CurrentWhite)
	c.g.Objects = append(c.g.Objects, obj)
	c.g.TotalBytes += bytesPerSlot
	c.g.GCDebt += bytesPerSlot
}

// MaybeStep runs one incremental step if debt has gone positive,
// matching spec §4.8: "when gcdebt > 0 at a safe point, a step runs and
// subtracts the work done". Called by the VM dispatch loop between
// instructions.
func (c *Collector) MaybeStep() {
	if c.g.Emergency {
		return
	}
	if c.g.GCDebt > 0 {
		c.Step()
	}
}

// Step performs one quantum of incremental work sized by the configured
// step multiplier and size, advancing the phase machine by as much work
// as that budget allows.
func (c *Collector) Step() {
	budget := int64(1<<c.g.Params.StepSizeLog2) * int64(c.g.Params.StepMultiplier) / 100
	work := c.runPhases(budget)
	c.g.GCDebt -= work
}

// runPhases advances through pause -> propagate -> enteratomic -> atomic
// -> sweepall -> sweepfin -> sweeptofin -> sweepend -> callfin -> pause,
// spending up to budget units of work and returning how much was spent.
func (c *Collector) runPhases(budget int64) int64 {
	spent := int64(0)
	for spent < budget {
		switch c.g.Phase {
		case state.GCPause:
			c.beginCycle()
			spent++
		case state.GCPropagate:
			if len(c.g.Gray) == 0 {
				c.g.Phase = state.GCEnterAtomic
				continue
			}
			c.propagateOne()
			spent++
		case state.GCEnterAtomic:
			c.atomic()
			c.g.Phase = state.GCAtomic
			spent++
		case state.GCAtomic:
			c.g.Phase = state.GCSweepAll
			spent++
		case state.GCSweepAll:
			c.sweepAll()
			c.g.Phase = state.GCSweepFin
			spent++
		case state.GCSweepFin:
			c.sweepList(&c.g.Fin)
			c.g.Phase = state.GCSweepToFin
			spent++
		case state.GCSweepToFin:
			c.sweepList(&c.g.ToBeFin)
			c.g.Phase = state.GCSweepEnd
			spent++
		case state.GCSweepEnd:
			c.g.Strings.ShrinkIfSparse()
			c.g.Phase = state.GCCallFin
			spent++
		case state.GCCallFin:
			if !c.g.Emergency {
				spent += c.runFinalizers(budget - spent)
			}
			c.g.Phase = state.GCPause
			return spent
		}
	}
	return spent
}

func (c *Collector) beginCycle() {
	c.g.Gray = c.g.Gray[:0]
	c.g.GrayAgain = c.g.GrayAgain[:0]
	if c.g.MainThread != nil {
		c.markObject(c.g.MainThread)
	}
	c.markObject(c.g.Registry)
	c.g.Phase = state.GCPropagate
}

// markObject transitions a white object to gray and queues it for
// traversal; black/gray objects and nil are no-ops (spec §4.8
// "Marking").
func (c *Collector) markObject(obj value.GCObject) {
	if obj == nil {
		return
	}
	h := obj.Header()
	if !h.IsWhite() {
		return
	}
	if isLeaf(obj) {
		h.MarkBlack()
		return
	}
	h.MarkGray()
	h.SetOnGrayList(true)
	c.g.Gray = append(c.g.Gray, obj)
}

// isLeaf reports objects with no outgoing references: they go directly
// to black without a trip through the gray list (spec §4.8 "Marking").
func isLeaf(obj value.GCObject) bool {
	switch obj.(type) {
	case *value.OString:
		return true
	default:
		return false
	}
}

// markValue marks a tagged Value's underlying object, if it carries one.
func (c *Collector) markValue(v value.Value) {
	if v.IsCollectable() && v.Object() != nil {
		c.markObject(v.Object())
	}
}

func (c *Collector) propagateOne() {
	n := len(c.g.Gray) - 1
	obj := c.g.Gray[n]
	c.g.Gray = c.g.Gray[:n]
	obj.Header().SetOnGrayList(false)
	c.traverse(obj)
	if !obj.Header().IsGray() {
		return
	}
	obj.Header().MarkBlack()
}

// traverse visits obj's children, marking each. Threads are handled
// specially: spec §4.8 says they are "always re-linked into grayagain"
// during propagate and only fully remarked in the atomic phase, since
// their stacks can be mutated by the running VM right up to a safe point.
func (c *Collector) traverse(obj value.GCObject) {
	switch o := obj.(type) {
	case *table.Table:
		c.traverseTable(o)
	case *list.List:
		c.traverseList(o)
	case *object.Class:
		c.traverseClass(o)
	case *object.Instance:
		c.traverseInstance(o)
	case *object.BoundMethod:
		c.markValue(o.Receiver())
		c.markValue(o.Method())
	case *object.Userdata:
		c.traverseUserdata(o)
	case *proto.Closure:
		c.traverseClosure(o)
	case *proto.Prototype:
		c.traversePrototype(o)
	case *proto.Upvalue:
		if o.IsOpen() {
			return // open upvalues are marked through the owning thread's stack
		}
		c.markValue(o.Get())
	case *state.Thread:
		c.traverseThread(o)
		if !obj.Header().OnGrayList() {
			obj.Header().SetOnGrayList(true)
			c.g.GrayAgain = append(c.g.GrayAgain, obj)
		}
	}
}

func (c *Collector) traverseTable(t *table.Table) {
	k := value.Nil
	for {
		nk, v, ok, err := t.Next(k)
		if err != nil || !ok {
			break
		}
		if v.IsNil() {
			// value-empty slot: the dead-key sentinel keeps the chain
			// intact, handled inside Table.Remove already.
			k = nk
			continue
		}
		c.markValue(nk)
		c.markValue(v)
		k = nk
	}
}

func (c *Collector) traverseList(l *list.List) {
	for i := 0; i < l.Len(); i++ {
		c.markValue(l.Get(i))
	}
}

func (c *Collector) traverseClass(cl *object.Class) {
	if cl.Super() != nil {
		c.markObject(cl.Super())
	}
	if cl.Methods() != nil {
		c.markObject(cl.Methods())
	}
	if cl.Metatable() != nil {
		c.markObject(cl.Metatable())
	}
	c.markObject(cl.Name())
}

func (c *Collector) traverseInstance(inst *object.Instance) {
	c.markObject(inst.Class())
	if inst.Fields() != nil {
		c.markObject(inst.Fields())
	}
}

func (c *Collector) traverseUserdata(u *object.Userdata) {
	if u.Metatable() != nil {
		c.markObject(u.Metatable())
	}
	for i := 0; i < u.NumUserValues(); i++ {
		c.markValue(u.UserValue(i))
	}
}

func (c *Collector) traverseClosure(cl *proto.Closure) {
	if cl.Proto != nil {
		c.markObject(cl.Proto)
	}
	for _, uv := range cl.Upvalues {
		if uv != nil {
			c.markObject(uv)
		}
	}
	for _, v := range cl.NativeUpval {
		c.markValue(v)
	}
}

func (c *Collector) traversePrototype(p *proto.Prototype) {
	for _, k := range p.Constants {
		c.markValue(k)
	}
	for _, n := range p.Nested {
		c.markObject(n)
	}
	if p.Source != nil {
		c.markObject(p.Source)
	}
	for _, l := range p.Locals {
		if l.Name != nil {
			c.markObject(l.Name)
		}
	}
	for _, u := range p.Upvalues {
		if u.Name != nil {
			c.markObject(u.Name)
		}
	}
}

func (c *Collector) traverseThread(t *state.Thread) {
	for i := 0; i < t.Stack.Top(); i++ {
		c.markValue(t.Stack.Get(i))
	}
	for uv := t.OpenUpvalues; uv != nil; uv = uv.Next {
		// open upvalues are effectively just aliases into the stack
		// slots already marked above; nothing further to traverse.
		_ = uv
	}
}

// atomic is the stop-the-world-equivalent phase: it drains grayagain
// (threads re-queued during propagate), rescans the string cache for
// dead entries, and moves any still-white finalisable object into
// ToBeFin (spec §4.8 "Finalisers").
func (c *Collector) atomic() {
	save := c.g.GrayAgain
	c.g.GrayAgain = nil
	for _, obj := range save {
		obj.Header().SetOnGrayList(false)
		c.traverse(obj)
		obj.Header().MarkBlack()
	}

	c.g.ShortCache.ReplaceDeadEntries(c.g.CurrentWhite, c.g.OtherWhite, c.g.OOMString)

	kept := c.g.Fin[:0]
	for _, obj := range c.g.Fin {
		if obj.Header().IsWhite() {
			obj.Header().MarkWhite(c.g.CurrentWhite) // resurrect: keep alive one more cycle
			c.g.ToBeFin = append(c.g.ToBeFin, obj)
		} else {
			kept = append(kept, obj)
		}
	}
	c.g.Fin = kept
}

// sweepAll reclaims every object still carrying the dead (non-current)
// white, converting table dead-keys as needed along the way (handled
// lazily by Table itself; sweep here just drops the object reference).
func (c *Collector) sweepAll() {
	kept := c.g.Objects[:0]
	for _, obj := range c.g.Objects {
		h := obj.Header()
		if h.Mark&c.g.OtherWhite != 0 && !h.IsBlack() {
			// dead: drop it. Go's runtime reclaims the memory once no
			// reference remains; this list is the only "owning" one.
			continue
		}
		h.MarkWhite(c.g.CurrentWhite)
		kept = append(kept, obj)
	}
	c.g.Objects = kept
	c.g.Strings.Sweep(c.g.CurrentWhite, func(*value.OString) {})
	c.g.CurrentWhite, c.g.OtherWhite = c.g.OtherWhite, c.g.CurrentWhite
}

func (c *Collector) sweepList(list *[]value.GCObject) {
	kept := (*list)[:0]
	for _, obj := range *list {
		if obj.Header().Mark&c.g.OtherWhite != 0 {
			continue
		}
		kept = append(kept, obj)
	}
	*list = kept
}

// runFinalizers executes up to a budget-bounded number of pending
// finalisers from ToBeFin, each charged a fixed work cost (spec §4.8:
// "executing at most a bounded number of finalisers per step with a
// per-call charge added to GC work") and returns the total charge. Hooks
// are not disabled and the collector is not paused around a finaliser;
// a failing finaliser is reported to the warn-function, never
// propagated (spec §4.8, §7).
func (c *Collector) runFinalizers(budget int64) int64 {
	const perCallCharge = 4
	n := 0
	for len(c.g.ToBeFin) > 0 && int64(n)*perCallCharge < budget {
		obj := c.g.ToBeFin[0]
		c.g.ToBeFin = c.g.ToBeFin[1:]
		c.runOneFinalizer(obj)
		n++
	}
	return int64(n) * perCallCharge
}

// Finalizer is the hook runOneFinalizer invokes for each pending object,
// so this package never needs to know how to invoke a smog closure.
// Nothing in this repository assigns it; while it is nil, pending
// objects are dequeued from ToBeFin without any finaliser running.
var Finalizer func(g *state.GlobalState, obj value.GCObject) error

func (c *Collector) runOneFinalizer(obj value.GCObject) {
	if Finalizer == nil {
		return
	}
	if err := Finalizer(c.g, obj); err != nil && c.g.Warn != nil {
		c.g.Warn("finalizer error: " + err.Error())
	}
}

// FullCollect runs the phase machine to completion from wherever it
// currently stands, used by explicit "collect now" API calls and as the
// first step of EmergencyCollect.
func (c *Collector) FullCollect() {
	for i := 0; i < 1_000_000; i++ { // generous but finite: never spin forever
		before := c.g.Phase
		c.runPhases(1 << 30)
		if c.g.Phase == state.GCPause && before != state.GCPause {
			return
		}
		if before == state.GCPause && c.g.Phase == state.GCPause {
			// completed a whole cycle, pause back to pause, in one
			// runPhases call; sweep has already run.
			return
		}
	}
}

// EmergencyCollect implements spec §4.8's emergency path: triggered when
// an allocation fails, it runs one full cycle with finalisers disabled
// and then signals the caller to retry (SPEC_FULL supplemented feature 6).
func (c *Collector) EmergencyCollect() {
	c.g.Emergency = true
	defer func() { c.g.Emergency = false }()
	c.FullCollect()
}

// WriteBarrierForward implements the forward barrier (spec §4.8 "Write
// barriers"): called when a black object src is about to store a
// reference to a white object dst. During propagation this marks dst
// gray immediately; during sweep it's cheaper to just re-whiten src so
// the invariant is restored without touching dst at all.
func (c *Collector) WriteBarrierForward(src, dst value.GCObject) {
	if dst == nil || !dst.Header().IsWhite() {
		return
	}
	if !src.Header().IsBlack() {
		return
	}
	switch c.g.Phase {
	case state.GCPropagate, state.GCEnterAtomic, state.GCAtomic:
		c.markObject(dst)
	default:
		src.Header().MarkWhite(c.g.CurrentWhite)
	}
}

// WriteBarrierBack implements the back barrier: re-link src into
// grayagain, used for objects that are written to repeatedly (tables,
// instances, lists, userdata) where re-marking the object wholesale on
// every write is cheaper than a field-granular forward barrier.
func (c *Collector) WriteBarrierBack(src value.GCObject) {
	if !src.Header().IsBlack() {
		return
	}
	src.Header().MarkGray()
	if !src.Header().OnGrayList() {
		src.Header().SetOnGrayList(true)
		c.g.GrayAgain = append(c.g.GrayAgain, src)
	}
}

// MarkFinalizable moves obj into the Fin list and flags it: called when
// a metatable defining __gc is attached to obj (spec §3 "Lifecycles",
// §4.8 "Finalisers").
func (c *Collector) MarkFinalizable(obj value.GCObject) {
	if obj.Header().Finalizable {
		return
	}
	obj.Header().Finalizable = true
	c.g.Fin = append(c.g.Fin, obj)
}
