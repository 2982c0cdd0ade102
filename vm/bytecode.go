package vm

// Opcode is the VM's instruction set. Values below 128 encode to a single
// byte; values at or above 128 encode to two bytes, paired with a
// name<->opcode lookup table built in init().
type Opcode byte

const (
	OpNop Opcode = iota

	// Arithmetic (broadcasting).
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpMin
	OpMax
	OpAbs
	OpNeg
	OpSign
	OpExp
	OpLn
	OpLog
	OpSqrt
	OpPow
	OpRecip
	OpFloor
	OpNot

	// Comparison.
	OpEq
	OpNeq
	OpLt
	OpLe
	OpGt
	OpGe

	// Stack (list-aware).
	OpDup
	OpDrop
	OpSwap
	OpOver
	OpNip
	OpTuck
	OpRot
	OpRevRot
	OpPick

	// Control flow.
	OpBranch
	OpBranchCall
	OpCall
	OpExit
	OpExitCode
	OpAbort
	OpEval
	OpIf
	OpElse
	OpDo
	OpEnd
	OpCase
	OpOf
	OpDefault
	OpEndCase

	// Literals.
	OpLitNumber
	OpLitString
	OpLitAddress

	// Lists.
	OpOpenList
	OpCloseList
	OpLength
	OpSize
	OpGetAt
	OpSetAt
	OpPrepend
	OpAppend
	OpElem

	// Dictionary.
	OpDefine
	OpLookup
	OpLoad
	OpStore

	// Heap.
	OpGMark
	OpGSweep
	OpGPush
	OpGPop
	OpGPeek

	// Meta.
	OpPushSymbolRef
	OpPrint

	// Group markers.
	OpGroupLeft
	OpGroupRight

	OpHalt

	opcodeCount
)

const extendedOpcodeBase = 128

var opcodeNames = [opcodeCount]string{
	OpNop:           "nop",
	OpAdd:           "add",
	OpSub:           "sub",
	OpMul:           "mul",
	OpDiv:           "div",
	OpMod:           "mod",
	OpMin:           "min",
	OpMax:           "max",
	OpAbs:           "abs",
	OpNeg:           "neg",
	OpSign:          "sign",
	OpExp:           "exp",
	OpLn:            "ln",
	OpLog:           "log",
	OpSqrt:          "sqrt",
	OpPow:           "pow",
	OpRecip:         "recip",
	OpFloor:         "floor",
	OpNot:           "not",
	OpEq:            "eq",
	OpNeq:           "neq",
	OpLt:            "lt",
	OpLe:            "le",
	OpGt:            "gt",
	OpGe:            "ge",
	OpDup:           "dup",
	OpDrop:          "drop",
	OpSwap:          "swap",
	OpOver:          "over",
	OpNip:           "nip",
	OpTuck:          "tuck",
	OpRot:           "rot",
	OpRevRot:        "revrot",
	OpPick:          "pick",
	OpBranch:        "branch",
	OpBranchCall:    "branchCall",
	OpCall:          "call",
	OpExit:          "exit",
	OpExitCode:      "exitCode",
	OpAbort:         "abort",
	OpEval:          "eval",
	OpIf:            "if",
	OpElse:          "else",
	OpDo:            "do",
	OpEnd:           "end",
	OpCase:          "case",
	OpOf:            "of",
	OpDefault:       "default",
	OpEndCase:       "endcase",
	OpLitNumber:     "literalNumber",
	OpLitString:     "literalString",
	OpLitAddress:    "literalAddress",
	OpOpenList:      "openList",
	OpCloseList:     "closeList",
	OpLength:        "length",
	OpSize:          "size",
	OpGetAt:         "getAt",
	OpSetAt:         "setAt",
	OpPrepend:       "prepend",
	OpAppend:        "append",
	OpElem:          "elem",
	OpDefine:        "define",
	OpLookup:        "lookup",
	OpLoad:          "load",
	OpStore:         "store",
	OpGMark:         "gmark",
	OpGSweep:        "gsweep",
	OpGPush:         "gpush",
	OpGPop:          "gpop",
	OpGPeek:         "gpeek",
	OpPushSymbolRef: "pushSymbolRef",
	OpPrint:         "print",
	OpGroupLeft:     "groupLeft",
	OpGroupRight:    "groupRight",
	OpHalt:          "halt",
}

var nameToOpcode map[string]Opcode

func init() {
	nameToOpcode = make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		if name != "" {
			nameToOpcode[name] = Opcode(op)
		}
	}
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return "?unknown-opcode?"
}

func LookupOpcode(name string) (Opcode, bool) {
	op, ok := nameToOpcode[name]
	return op, ok
}

// OpcodeByteWidth reports how many bytes an opcode's encoding occupies,
// a single byte if n<128, else the two-byte extended form.
func OpcodeByteWidth(op Opcode) int {
	if int(op) < extendedOpcodeBase {
		return 1
	}
	return 2
}
