package vm

import (
	"fmt"
	"strings"
)

// VM owns every piece of mutable interpreter state as plain fields on one
// struct, constructed explicitly and passed to every builtin: no
// package-level singleton, so more than one VM can exist in a process at
// once.
type VM struct {
	mem    *Memory
	ds     *Stack
	rs     *Stack
	digest *Digest
	heap   *Heap
	dict   *Dictionary
	comp   *Compiler

	ip       int // absolute byte offset into SegCode
	bp       int // absolute cell index into the RSTACK region: current frame root
	running  bool
	exitCode int

	listMarks []int
	listDepth int

	debug    bool
	debugOut *strings.Builder

	table [opcodeCount]func(*VM) error
}

// NewVM assembles Memory, Digest, Heap, Dictionary and Compiler and wires
// the builtin dictionary, allocating every collaborator up front rather
// than lazily.
func NewVM(debug bool) *VM {
	mem := NewMemory()
	digest := NewDigest(mem)
	heap := NewHeap(mem, digest)

	vm := &VM{
		mem:    mem,
		ds:     NewDataStack(mem),
		rs:     NewReturnStack(mem),
		digest: digest,
		heap:   heap,
		dict:   NewDictionary(heap),
		comp:   NewCompiler(mem),
		bp:     RStackBaseCells,
		debug:  debug,
	}
	if debug {
		vm.debugOut = &strings.Builder{}
	}
	vm.installDispatchTable()
	vm.installBuiltinWords()
	return vm
}

func (vm *VM) Memory() *Memory         { return vm.mem }
func (vm *VM) DataStack() *Stack       { return vm.ds }
func (vm *VM) ReturnStack() *Stack     { return vm.rs }
func (vm *VM) Digest() *Digest         { return vm.digest }
func (vm *VM) Heap() *Heap             { return vm.heap }
func (vm *VM) Dictionary() *Dictionary { return vm.dict }
func (vm *VM) Compiler() *Compiler     { return vm.comp }
func (vm *VM) ExitCode() int           { return vm.exitCode }
func (vm *VM) IsRunning() bool         { return vm.running }
func (vm *VM) IP() int                 { return vm.ip }
func (vm *VM) SetIP(ip int)            { vm.ip = ip }

func (vm *VM) debugf(format string, args ...any) {
	if vm.debugOut != nil {
		fmt.Fprintf(vm.debugOut, format, args...)
	}
}

// installDispatchTable wires every Opcode to its implementation. A
// missing entry is left nil and execNext reports InvalidOpcodeError.
func (vm *VM) installDispatchTable() {
	t := &vm.table

	t[OpNop] = func(vm *VM) error { return nil }

	t[OpAdd] = binaryArithOp(addF)
	t[OpSub] = binaryArithOp(subF)
	t[OpMul] = binaryArithOp(mulF)
	t[OpDiv] = binaryArithOp(divF)
	t[OpMod] = binaryArithOp(modF)
	t[OpMin] = binaryArithOp(minF)
	t[OpMax] = binaryArithOp(maxF)
	t[OpPow] = binaryArithOp(powF)

	t[OpAbs] = unaryArithOp(absF)
	t[OpNeg] = unaryArithOp(negF)
	t[OpSign] = unaryArithOp(signF)
	t[OpExp] = unaryArithOp(expF)
	t[OpLn] = unaryArithOp(lnF)
	t[OpLog] = unaryArithOp(logF)
	t[OpSqrt] = unaryArithOp(sqrtF)
	t[OpRecip] = unaryArithOp(recipF)
	t[OpFloor] = unaryArithOp(floorF)
	t[OpNot] = unaryArithOp(notF)

	t[OpEq] = binaryArithOp(boolF(func(a, b float32) bool { return a == b }))
	t[OpNeq] = binaryArithOp(boolF(func(a, b float32) bool { return a != b }))
	t[OpLt] = binaryArithOp(boolF(func(a, b float32) bool { return a < b }))
	t[OpLe] = binaryArithOp(boolF(func(a, b float32) bool { return a <= b }))
	t[OpGt] = binaryArithOp(boolF(func(a, b float32) bool { return a > b }))
	t[OpGe] = binaryArithOp(boolF(func(a, b float32) bool { return a >= b }))

	t[OpDup] = (*VM).opDup
	t[OpDrop] = func(vm *VM) error { return vm.ds.DropList() }
	t[OpSwap] = (*VM).opSwap
	t[OpOver] = (*VM).opOver
	t[OpNip] = (*VM).opNip
	t[OpTuck] = (*VM).opTuck
	t[OpRot] = (*VM).opRot
	t[OpRevRot] = (*VM).opRevRot
	t[OpPick] = (*VM).opPick

	t[OpBranch] = (*VM).opBranch
	t[OpBranchCall] = (*VM).opBranchCall
	t[OpCall] = (*VM).opCall
	t[OpExit] = (*VM).opExit
	t[OpExitCode] = (*VM).opExitCode
	t[OpAbort] = (*VM).opAbort
	t[OpEval] = (*VM).opEval
	t[OpIf] = (*VM).opIf
	t[OpElse] = (*VM).opElse
	t[OpDo] = (*VM).opDo
	t[OpEnd] = (*VM).opEnd
	t[OpCase] = (*VM).opCase
	t[OpOf] = (*VM).opOf
	t[OpDefault] = (*VM).opDefault
	t[OpEndCase] = (*VM).opEndCase

	t[OpLitNumber] = (*VM).opLitNumber
	t[OpLitString] = (*VM).opLitString
	t[OpLitAddress] = (*VM).opLitAddress

	t[OpOpenList] = func(vm *VM) error { vm.OpenList(); return nil }
	t[OpCloseList] = (*VM).CloseList
	t[OpLength] = (*VM).opLength
	t[OpSize] = (*VM).opSize
	t[OpGetAt] = (*VM).GetAt
	t[OpSetAt] = (*VM).SetAt
	t[OpPrepend] = (*VM).Prepend
	t[OpAppend] = (*VM).Append
	t[OpElem] = (*VM).opElem

	t[OpDefine] = (*VM).opDefine
	t[OpLookup] = (*VM).opLookup
	t[OpLoad] = (*VM).opLoad
	t[OpStore] = (*VM).opStore

	t[OpGMark] = (*VM).opGMark
	t[OpGSweep] = (*VM).opGSweep
	t[OpGPush] = (*VM).opGPush
	t[OpGPop] = (*VM).opGPop
	t[OpGPeek] = (*VM).opGPeek

	t[OpPushSymbolRef] = (*VM).opPushSymbolRef
	t[OpPrint] = (*VM).opPrint

	t[OpGroupLeft] = (*VM).opGroupLeft
	t[OpGroupRight] = (*VM).opGroupRight

	t[OpHalt] = func(vm *VM) error { vm.running = false; return nil }
}

// execNext fetches, decodes and dispatches a single instruction.
func (vm *VM) execNext() error {
	op, width, err := vm.comp.DecodeOpcode(vm.ip)
	if err != nil {
		return err
	}
	vm.ip += width

	if int(op) >= len(vm.table) || vm.table[op] == nil {
		return fmt.Errorf("%w: %d", errInvalidOpcode, op)
	}
	return vm.table[op](vm)
}

// Run executes from ip until running is cleared (abort/exit/exitCode at
// the top level) or an error occurs. On error, the message is wrapped
// with a stack snapshot so a failure is diagnosable without a debugger.
func (vm *VM) Run(entry int) error {
	vm.ip = entry
	vm.running = true
	for vm.running {
		if err := vm.execNext(); err != nil {
			return fmt.Errorf("Error executing word (stack: %s): %w", vm.stackSnapshot(), err)
		}
	}
	return nil
}

// DataStackString renders the data stack for REPL/debug output.
func (vm *VM) DataStackString() string { return vm.stackSnapshot() }

func (vm *VM) stackSnapshot() string {
	var b strings.Builder
	depth := vm.ds.Depth()
	b.WriteByte('[')
	for i := depth - 1; i >= 0; i-- {
		v, err := vm.ds.PeekAt(i)
		if err != nil {
			break
		}
		if i != depth-1 {
			b.WriteString(", ")
		}
		b.WriteString(formatCell(v))
	}
	b.WriteByte(']')
	return b.String()
}
