package vm

import (
	"fmt"
	"strings"

	"github.com/kristofer/smog/pkg/proto"
)

// opcodeNames mirrors the const block in opcode.go; kept as a lookup
// table rather than a stringer-generated file since the opcode set is
// hand-maintained in lockstep with the dispatch loop in vm.go.
var opcodeNames = map[Opcode]string{
	OpLoadK: "LOADK", OpLoadKS: "LOADKS", OpLoadInt: "LOADINT", OpLoadFloat: "LOADFLOAT",
	OpLoadNil: "LOADNIL", OpLoadTrue: "LOADTRUE", OpLoadFalse: "LOADFALSE", OpPopN: "POPN",
	OpGetLocal: "GETLOCAL", OpSetLocal: "SETLOCAL", OpGetUpval: "GETUPVAL", OpSetUpval: "SETUPVAL",
	OpGetGlobal: "GETGLOBAL", OpSetGlobal: "SETGLOBAL",
	OpNewList: "NEWLIST", OpNewTable: "NEWTABLE", OpNewClass: "NEWCLASS",
	OpGetIndex: "GETINDEX", OpSetIndex: "SETINDEX", OpGetField: "GETFIELD", OpSetField: "SETFIELD",
	OpGetIndexImm: "GETINDEXIMM", OpSetIndexImm: "SETINDEXIMM",
	OpMethod: "METHOD", OpTagMethod: "TAGMETHOD", OpInherit: "INHERIT", OpSuperGet: "SUPERGET",
	OpAddStack: "ADD", OpSubStack: "SUB", OpMulStack: "MUL", OpDivStack: "DIV",
	OpModStack: "MOD", OpIDivStack: "IDIV", OpPowStack: "POW", OpUnmStack: "UNM",
	OpAddK: "ADDK", OpSubK: "SUBK", OpMulK: "MULK", OpDivK: "DIVK",
	OpModK: "MODK", OpIDivK: "IDIVK", OpPowK: "POWK",
	OpAddImm: "ADDIMM", OpSubImm: "SUBIMM",
	OpBAndStack: "BAND", OpBOrStack: "BOR", OpBXorStack: "BXOR",
	OpShlStack: "SHL", OpShrStack: "SHR", OpBNotStack: "BNOT",
	OpMBin: "MBIN",
	OpEq:   "EQ", OpLt: "LT", OpLe: "LE",
	OpJump: "JUMP", OpTest: "TEST", OpTestPop: "TESTPOP",
	OpCall: "CALL", OpTailCall: "TAILCALL", OpReturn: "RETURN",
	OpVarargPrep: "VARARGPREP", OpVarargExpand: "VARARGEXPAND",
	OpClosure: "CLOSURE",
	OpForPrep: "FORPREP", OpForCall: "FORCALL", OpForLoop: "FORLOOP",
	OpMarkTBC: "MARKTBC", OpCloseUpto: "CLOSEUPTO",
}

func opcodeName(op Opcode) string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("OP(%d)", op)
}

// Disassemble renders p's code into one line per instruction, the way
// cmd/smog's `disassemble` subcommand and the interactive debugger's
// `list` command both need it.
func Disassemble(p *proto.Prototype) []string {
	var lines []string
	code := p.Code
	pc := 0
	for pc < len(code) {
		start := pc
		op := Opcode(code[pc])
		pc++
		var operands string
		switch op {
		case OpLoadKS, OpGetLocal, OpSetLocal, OpGetUpval, OpSetUpval, OpPopN,
			OpNewList, OpNewTable, OpGetIndexImm, OpSetIndexImm, OpMarkTBC, OpCloseUpto,
			OpMBin, OpEq, OpLt, OpLe, OpVarargExpand:
			operands = fmt.Sprintf("%d", code[pc])
			pc++
		case OpNewClass:
			idx := readU24(code, pc)
			pc += 3
			flags := code[pc]
			pc++
			operands = fmt.Sprintf("const=%d flags=%d", idx, flags)
		case OpTest, OpTestPop:
			invert := code[pc]
			pc++
			off := readU24(code, pc) - jumpBias
			pc += 3
			operands = fmt.Sprintf("invert=%d ->%d", invert, start+1+4+off)
		case OpLoadK, OpLoadFloat, OpGetGlobal, OpSetGlobal, OpGetField, OpSetField,
			OpMethod, OpTagMethod, OpSuperGet, OpAddK, OpSubK, OpMulK, OpDivK, OpModK,
			OpIDivK, OpPowK, OpClosure:
			operands = fmt.Sprintf("%d", readU24(code, pc))
			pc += 3
		case OpLoadInt, OpAddImm, OpSubImm:
			operands = fmt.Sprintf("%d", readU24(code, pc)-jumpBias)
			pc += 3
		case OpJump, OpForPrep, OpForLoop:
			off := readU24(code, pc) - jumpBias
			pc += 3
			operands = fmt.Sprintf("->%d", start+1+3+off)
		case OpCall, OpTailCall:
			nargs := readU24(code, pc)
			pc += 3
			nres := readU24(code, pc) - jumpBias
			pc += 3
			operands = fmt.Sprintf("nargs=%d nres=%d", nargs, nres)
		case OpReturn:
			closeFlag := code[pc]
			pc++
			base := readU24(code, pc)
			pc += 3
			n := readU24(code, pc) - jumpBias
			pc += 3
			operands = fmt.Sprintf("close=%d base=%d n=%d", closeFlag, base, n)
		case OpForCall:
			// no operand bytes; base/argument shape is fixed.
		}
		line := fmt.Sprintf("%4d  %-12s %s", start, opcodeName(op), operands)
		lines = append(lines, strings.TrimRight(line, " "))
	}
	return lines
}
