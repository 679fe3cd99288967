package state

import (
	"github.com/google/uuid"
	"github.com/kristofer/smog/pkg/table"
	"github.com/kristofer/smog/pkg/value"
)

// GCPhase enumerates the collector state machine (spec §4.8): "pause ->
// propagate -> enteratomic -> atomic -> sweepall -> sweepfin ->
// sweeptofin -> sweepend -> callfin -> pause". The phase transitions
// themselves are implemented in pkg/gc; GlobalState only stores the
// current phase and the bookkeeping every phase reads or writes.
type GCPhase uint8

const (
	GCPause GCPhase = iota
	GCPropagate
	GCEnterAtomic
	GCAtomic
	GCSweepAll
	GCSweepFin
	GCSweepToFin
	GCSweepEnd
	GCCallFin
)

var gcPhaseNames = [...]string{
	GCPause:       "pause",
	GCPropagate:   "propagate",
	GCEnterAtomic: "enteratomic",
	GCAtomic:      "atomic",
	GCSweepAll:    "sweepall",
	GCSweepFin:    "sweepfin",
	GCSweepToFin:  "sweeptofin",
	GCSweepEnd:    "sweepend",
	GCCallFin:     "callfin",
}

func (p GCPhase) String() string {
	if int(p) < len(gcPhaseNames) {
		return gcPhaseNames[p]
	}
	return "unknown"
}

// GCParams are the user-tunable knobs from spec §4.8.
type GCParams struct {
	PausePercent   int // scales the live-set estimate between full cycles
	StepMultiplier int
	StepSizeLog2   uint
}

func DefaultGCParams() GCParams {
	return GCParams{PausePercent: 200, StepMultiplier: 100, StepSizeLog2: 13}
}

// MetamethodNames indexes the fixed, pre-interned event-name strings
// (spec §3: "metamethod names"). Order matches table.MetaFlag's bit
// order for the cached subset so the VM can map one to the other.
type MetamethodNames struct {
	GetIdx *value.OString
	SetIdx *value.OString
	GC     *value.OString
	Call   *value.OString
	Eq     *value.OString
	Name   *value.OString
	Init   *value.OString
	Add    *value.OString
	Sub    *value.OString
	Mul    *value.OString
	Div    *value.OString
	Mod    *value.OString
	IDiv   *value.OString
	Pow    *value.OString
	Unm    *value.OString
	Lt     *value.OString
	Le     *value.OString
	Concat *value.OString
	Close  *value.OString
	Len    *value.OString
}

// GlobalState is shared by every thread created from one VM "open"
// (spec §3 "Global state"). It owns the allocator-adjacent bookkeeping:
// the string intern table and short-string cache, the metamethod and
// list-field name tables, the GC's colour/phase/debt counters and
// object lists, the main thread, and the reserved API registry (index 0
// = globals table, index 1 = main thread, per spec §3/§6).
type GlobalState struct {
	ID uuid.UUID

	Seed uint64

	Strings    *value.StringPool
	ShortCache *value.StringCache
	OOMString  *value.OString

	Meta       MetamethodNames
	ListFields [6]*value.OString // len, size, last, x, y, z

	// GC bookkeeping (spec §3, §4.8).
	CurrentWhite value.Color
	OtherWhite   value.Color
	Phase        GCPhase
	GCDebt       int64
	TotalBytes   uint64
	Params       GCParams
	Emergency    bool

	Objects   []value.GCObject // global collectable-object list
	Gray      []value.GCObject
	GrayAgain []value.GCObject
	Fin       []value.GCObject // objects with a pending finaliser, awaiting death
	ToBeFin   []value.GCObject // objects confirmed dead, finaliser not yet run

	MainThread *Thread
	Registry   *table.Table // index 0: globals table; index 1: main thread

	// Warn receives finaliser failures and other non-fatal diagnostics
	// (spec §4.8 "Finalisers... failures are reported to the
	// warn-function rather than propagated"); wired to zap in cmd/smog,
	// nil-safe (silently dropped) for library embedders that don't set one.
	Warn func(msg string)
	Panic func(v value.Value)
}

func NewGlobalState(seed uint64) *GlobalState {
	g := &GlobalState{
		ID:           uuid.New(),
		Seed:         seed,
		Strings:      value.NewStringPool(seed),
		ShortCache:   value.NewStringCache(),
		CurrentWhite: value.White0,
		OtherWhite:   value.White1,
		Phase:        GCPause,
		Params:       DefaultGCParams(),
	}
	g.OOMString = value.NewOOMString("out of memory")
	g.Registry = table.New(2, seed)

	intern := func(s string) *value.OString {
		oc := g.Intern(s)
		oc.SetExtra(oc.Extra() | value.ExtraMetamethod)
		return oc
	}
	g.Meta = MetamethodNames{
		GetIdx: intern("__getidx"), SetIdx: intern("__setidx"), GC: intern("__gc"),
		Call: intern("__call"), Eq: intern("__eq"), Name: intern("__name"), Init: intern("__init"),
		Add: intern("__add"), Sub: intern("__sub"), Mul: intern("__mul"), Div: intern("__div"),
		Mod: intern("__mod"), IDiv: intern("__idiv"), Pow: intern("__pow"), Unm: intern("__unm"),
		Lt: intern("__lt"), Le: intern("__le"), Concat: intern("__concat"), Close: intern("__close"),
		Len: intern("__len"),
	}
	fieldNames := [6]string{"len", "size", "last", "x", "y", "z"}
	for i, n := range fieldNames {
		s := g.Intern(n)
		s.SetExtra(s.Extra() | value.ExtraListField)
		g.ListFields[i] = s
	}

	globals := table.New(0, seed)
	res, _ := g.Registry.Pset(value.Int(0), globals.Value())
	if res == table.HNotFound {
		g.Registry.Finishset(value.Int(0), globals.Value())
	}
	return g
}

// Globals returns the registry's reserved slot 0: the global variable
// table every OpGetGlobal/OpSetGlobal reads and writes.
func (g *GlobalState) Globals() *table.Table {
	v := g.Registry.Get(value.Int(0))
	return v.Object().(*table.Table)
}

// RegisterMainThread stores t in the registry's reserved slot 1 and as
// GlobalState.MainThread (spec §3: "reserved API list (index 0 =
// globals table, index 1 = main thread)").
func (g *GlobalState) RegisterMainThread(t *Thread) {
	g.MainThread = t
	g.Registry.Finishset(value.Int(1), t.Value())
}

// Intern wraps the GlobalState's string pool for convenience call sites
// (compiler, VM constant loading) that don't want to reach through two
// fields to get an interned OString.
func (g *GlobalState) Intern(s string) *value.OString {
	return g.Strings.Intern([]byte(s), g.CurrentWhite, g.OtherWhite, func(b []byte, h uint64) *value.OString {
		return newString(b, g.CurrentWhite)
	})
}

func newString(b []byte, white value.Color) *value.OString {
	cp := make([]byte, len(b))
	copy(cp, b)
	s := value.NewString(cp)
	s.Header().MarkWhite(white)
	return s
}
