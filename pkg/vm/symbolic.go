package vm

import (
	"fmt"

	"github.com/kristofer/smog/pkg/proto"
	"github.com/kristofer/smog/pkg/state"
)

// symbolicName implements a reduced version of the original's reverse
// symbolic execution (spec §7, SPEC_FULL supplemented feature 4): rather
// than a full dataflow walk, it decodes the active prototype's code from
// the top of the frame up to the failing instruction and remembers the
// last "load" opcode decoded — the one whose pushed value is what the
// failing instruction just consumed — then names it the way the
// original's `getobjname`/`isEnv` do: local/upvalue/global/field.
func symbolicName(f *state.CallFrame, failIP int) string {
	if f == nil || f.Closure == nil || f.Closure.Proto == nil {
		return ""
	}
	p := f.Closure.Proto
	code := p.Code
	kind, arg := "", -1
	pc := 0
	for pc < failIP && pc < len(code) {
		op := Opcode(code[pc])
		start := pc
		pc++
		switch op {
		case OpLoadKS:
			pc++
		case OpLoadK, OpLoadFloat, OpGetGlobal, OpGetField, OpSetField,
			OpMethod, OpTagMethod, OpSuperGet, OpAddK, OpSubK, OpMulK, OpDivK, OpModK,
			OpIDivK, OpPowK, OpAddImm, OpSubImm, OpLoadInt, OpJump, OpForPrep, OpForLoop:
			pc += 3
		case OpSetGlobal:
			pc += 3
		case OpNewClass:
			pc += 4 // 3-byte constant index + 1-byte flags
		case OpTest, OpTestPop:
			pc += 4 // 1-byte invert flag + 3-byte jump operand, either branch
		case OpGetLocal, OpSetLocal, OpGetUpval, OpSetUpval, OpPopN, OpNewList, OpNewTable,
			OpGetIndexImm, OpSetIndexImm, OpMarkTBC, OpCloseUpto, OpMBin, OpEq, OpLt, OpLe,
			OpVarargExpand:
			pc++
		case OpClosure:
			pc += 3
		case OpCall, OpTailCall, OpForCall:
			if op != OpForCall {
				pc += 6
			}
		case OpReturn:
			pc += 7
		default:
			// zero-operand opcodes (OpLoadNil/True/False, OpGetIndex,
			// OpSetIndex, OpInherit, arithmetic/bitwise stack forms,
			// OpUnmStack, OpBNotStack, OpVarargPrep): nothing to skip.
		}

		switch op {
		case OpGetLocal:
			kind, arg = "local", int(code[start+1])
		case OpGetUpval:
			kind, arg = "upvalue", int(code[start+1])
		case OpGetGlobal:
			kind, arg = "global", readU24(code, start+1)
		case OpGetField:
			kind, arg = "field", readU24(code, start+1)
		case OpSuperGet:
			kind, arg = "method", readU24(code, start+1)
		default:
			if op != OpLoadKS && op != OpLoadK {
				kind = ""
			}
		}
	}
	if kind == "" {
		return ""
	}
	return formatVarInfo(kind, arg, p, failIP)
}

// formatVarInfo renders a kind+argument pair into the "local 'x'" style
// description spec §7 asks for, pulling names from the prototype's
// constant pool (globals/fields/methods) or local/upvalue descriptors.
func formatVarInfo(kind string, arg int, p *proto.Prototype, pc int) string {
	var name string
	switch kind {
	case "local":
		name = localNameAt(p, arg, pc)
	case "upvalue":
		if arg >= 0 && arg < len(p.Upvalues) && p.Upvalues[arg].Name != nil {
			name = p.Upvalues[arg].Name.String()
		}
	case "global", "field", "method":
		if arg >= 0 && arg < len(p.Constants) {
			if s, ok := p.Constants[arg].Object().(interface{ String() string }); ok {
				name = s.String()
			}
		}
	}
	if name == "" {
		return ""
	}
	return fmt.Sprintf("%s '%s'", kind, name)
}

// localNameAt resolves slot to a declared name. The prototype's Locals
// array is built by the compiler in slot order, so slot doubles as an
// index into it; a pc whose local's live range (StartPC, EndPC) doesn't
// cover it means the slot has since been reused by an inner scope, in
// which case no name is reported rather than guessing wrong.
func localNameAt(p *proto.Prototype, slot, pc int) string {
	if slot < 0 || slot >= len(p.Locals) {
		return ""
	}
	l := p.Locals[slot]
	if pc < l.StartPC || pc >= l.EndPC || l.Name == nil {
		return ""
	}
	return l.Name.String()
}
