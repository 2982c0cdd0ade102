package vm

import "fmt"

// Frame protocol, branches and structured control flow. Call/exit/eval
// are the only places BP and the return stack's CODE/ADDRESS cells are
// touched directly; everything else goes through Stack's ordinary
// push/pop.

func (vm *VM) readOffset() (int16, error) {
	u, err := vm.mem.Read16(SegCode, vm.ip)
	if err != nil {
		return 0, err
	}
	vm.ip += 2
	return int16(u), nil
}

func (vm *VM) readAddr() (uint16, error) {
	u, err := vm.mem.Read16(SegCode, vm.ip)
	if err != nil {
		return 0, err
	}
	vm.ip += 2
	return u, nil
}

func (vm *VM) opBranch() error {
	offset, err := vm.readOffset()
	if err != nil {
		return err
	}
	vm.ip += int(offset)
	return nil
}

func (vm *VM) opBranchCall() error {
	offset, err := vm.readOffset()
	if err != nil {
		return err
	}
	if err := vm.rs.Push(MakeCode(uint16(vm.ip), false)); err != nil {
		return err
	}
	vm.ip += int(offset)
	return nil
}

func (vm *VM) opCall() error {
	addr, err := vm.readAddr()
	if err != nil {
		return err
	}
	return vm.doCall(int(addr))
}

// doCall implements the call convention: push return IP, push caller BP,
// set BP = RSP, set IP = addr.
func (vm *VM) doCall(addr int) error {
	if err := vm.rs.Push(MakeCode(uint16(vm.ip), false)); err != nil {
		return err
	}
	if err := vm.rs.Push(MakeAddress(uint16(vm.bp))); err != nil {
		return err
	}
	vm.bp = vm.rs.SP()
	vm.ip = addr
	return nil
}

// opExit unifies the return path for both frame kinds eval can produce: a
// full call leaves {retAddr(CODE), BP(ADDRESS)} on RSTACK with BP on top;
// a block leaves only {retAddr(CODE)}. The tag on top disambiguates which
// protocol to run, so both return conventions fold into this one
// dispatch rather than needing a separate block-return opcode.
func (vm *VM) opExit() error {
	if vm.rs.Depth() < 1 {
		vm.running = false
		return nil
	}
	top, err := vm.rs.Peek()
	if err != nil {
		return err
	}
	switch FromTaggedValue(top).Tag {
	case TagCode:
		retCell, err := vm.rs.Pop()
		if err != nil {
			return err
		}
		vm.ip = int(FromTaggedValue(retCell).Value)
		return nil

	case TagAddress:
		if vm.rs.Depth() < 2 {
			vm.running = false
			return nil
		}
		vm.rs.SetSP(vm.bp)
		bpCell, err := vm.rs.Pop()
		if err != nil {
			return err
		}
		vm.bp = int(FromTaggedValue(bpCell).Value)

		retCell, err := vm.rs.Pop()
		if err != nil {
			return err
		}
		retTv := FromTaggedValue(retCell)
		if retTv.Tag != TagCode {
			return fmt.Errorf("%w: corrupt frame (bad return address)", errMemoryAccess)
		}
		vm.ip = int(retTv.Value)
		return nil

	default:
		return fmt.Errorf("%w: corrupt frame", errMemoryAccess)
	}
}

func (vm *VM) opExitCode() error {
	v, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	idx, ok := toIndex(v)
	if !ok {
		idx = 0
	}
	vm.exitCode = idx
	vm.running = false
	return nil
}

func (vm *VM) opAbort() error {
	vm.running = false
	return nil
}

// opEval pops the top value and dispatches it per its tag: a block (CODE,
// meta=1) only needs a return address; a function (CODE, meta=0) gets the
// full call convention; a BUILTIN dispatches directly; anything else is
// pushed back unchanged (soft fallback, not an error).
func (vm *VM) opEval() error {
	v, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(v)
	switch tv.Tag {
	case TagCode:
		if tv.Meta == 1 {
			if err := vm.rs.Push(MakeCode(uint16(vm.ip), false)); err != nil {
				return err
			}
			vm.ip = int(tv.Value)
			return nil
		}
		return vm.doCall(int(tv.Value))
	case TagBuiltin:
		op := Opcode(tv.Value)
		if int(op) >= len(vm.table) || vm.table[op] == nil {
			return fmt.Errorf("%w: %d", errInvalidOpcode, op)
		}
		return vm.table[op](vm)
	default:
		return vm.ds.Push(v)
	}
}

// opIf: pop a condition; if zero (false), branch by the inline offset;
// else fall through into the true-branch, which the compiler follows
// with an opElse-compiled unconditional branch around the false-branch.
func (vm *VM) opIf() error {
	offset, err := vm.readOffset()
	if err != nil {
		return err
	}
	cond, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	if cond == 0 {
		vm.ip += int(offset)
	}
	return nil
}

func (vm *VM) opElse() error {
	return vm.opBranch()
}

// opDo/opEnd implement a post-condition loop: opDo marks the loop top on
// the return stack; opEnd pops a condition and branches back to the
// marker while the condition is false (0), discarding the marker once
// it's true. Tacit has no counted loop opcode, so "do/end" is implemented
// as the condition-guarded repeat its control-flow primitives (branch,
// sentinel markers) most directly support; see DESIGN.md.
func (vm *VM) opDo() error {
	return vm.rs.Push(MakeAddress(uint16(vm.ip)))
}

func (vm *VM) opEnd() error {
	markCell, err := vm.rs.Peek()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(markCell)
	if tv.Tag != TagAddress {
		return fmt.Errorf("%w: end without matching do", errSyntaxError)
	}

	cond, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	if cond == 0 {
		vm.ip = int(tv.Value)
		return nil
	}
	_, err = vm.rs.Pop()
	return err
}

const caseSentinelID = 0xCA5E

// opCase marks entry to a case construct with a SENTINEL on the return
// stack, so opEndCase can validate it is unwinding the right construct.
func (vm *VM) opCase() error {
	return vm.rs.Push(MakeSentinel(caseSentinelID))
}

// opOf: pops the arm's test value and compares it against the selector
// (left on the data stack below it). On match, the selector is consumed
// and execution falls through into the arm body; the body is compiled to
// end with a branch to the case's endcase. On mismatch, the inline offset
// skips to the next arm, leaving the selector in place.
func (vm *VM) opOf() error {
	offset, err := vm.readOffset()
	if err != nil {
		return err
	}
	test, err := vm.ds.Pop()
	if err != nil {
		return err
	}
	selector, err := vm.ds.Peek()
	if err != nil {
		return err
	}
	if test == selector {
		_, err := vm.ds.Pop()
		return err
	}
	vm.ip += int(offset)
	return nil
}

// opDefault unconditionally consumes the selector and falls through to
// the default body.
func (vm *VM) opDefault() error {
	_, err := vm.ds.Pop()
	return err
}

func (vm *VM) opEndCase() error {
	marker, err := vm.rs.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(marker)
	if tv.Tag != TagSentinel || tv.Value != caseSentinelID {
		return fmt.Errorf("%w: endcase without matching case", errSyntaxError)
	}
	return nil
}

func (vm *VM) opGroupLeft() error {
	return vm.rs.Push(MakeAddress(uint16(vm.ds.SP())))
}

func (vm *VM) opGroupRight() error {
	marker, err := vm.rs.Pop()
	if err != nil {
		return err
	}
	tv := FromTaggedValue(marker)
	if tv.Tag != TagAddress {
		return fmt.Errorf("%w: groupRight without matching groupLeft", errSyntaxError)
	}
	count := vm.ds.SP() - int(tv.Value)
	return vm.ds.Push(MakeInteger(int16(count)))
}

// installBuiltinWords defines every named opcode in the dictionary so the
// parser can resolve barewords (and @name forms) to BUILTIN-tagged
// values.
func (vm *VM) installBuiltinWords() {
	for op, name := range opcodeNames {
		if name == "" {
			continue
		}
		_ = vm.dict.DefineBuiltin(name, uint16(op))
	}
}
