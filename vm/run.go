package vm

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"
)

// RunProgram executes the bytecode compiled from entry to completion: the
// GC is disabled for the duration of the tight fetch/decode/dispatch loop
// and, on return, set to TACIT_GOGC (100 when that is unset). A panic inside a builtin is recovered
// and reported as a memory access error rather than crashing the host
// process, guarding against internal bugs surfacing as Go panics.
func RunProgram(vm *VM, entry int) (exitCode int, err error) {
	gcPercent := env.Int("TACIT_GOGC", 100)

	defer debug.SetGCPercent(gcPercent)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v (stack: %s)", errMemoryAccess, r, vm.stackSnapshot())
		}
	}()

	debug.SetGCPercent(-1)

	if runErr := vm.Run(entry); runErr != nil && !errors.Is(runErr, errProgramFinished) {
		return vm.ExitCode(), runErr
	}
	return vm.ExitCode(), nil
}

// RunProgramDebugMode drives the VM one instruction at a time from stdin,
// using an n/r/b vocabulary (next/run/break) against this VM's
// IP/opcode-table shape.
func RunProgramDebugMode(vm *VM, entry int) error {
	fmt.Printf("Commands:\n\tn or next: execute next instruction\n\tr or run: run program\n\tb or break <addr>: break on code address (or remove break)\n\n")

	vm.ip = entry
	vm.running = true
	printState(vm)

	reader := bufio.NewReader(os.Stdin)
	waitForInput := true
	breakAddrs := make(map[int]struct{})
	lastBreakAddr := -1

	for vm.running {
		line := ""
		if waitForInput {
			fmt.Print("\n->")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else if _, ok := breakAddrs[vm.ip]; lastBreakAddr != vm.ip && ok {
			fmt.Println("breakpoint")
			printState(vm)
			waitForInput = true
			lastBreakAddr = vm.ip
			continue
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			lastBreakAddr = -1
			if err := vm.execNext(); err != nil {
				if !errors.Is(err, errProgramFinished) {
					fmt.Printf("%v at address %d\n", err, vm.ip)
				}
				return nil
			}
			if waitForInput {
				printState(vm)
			}
		case line == "program":
			printProgram(vm)
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "b"))
			arg = strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(arg, "reak")), " ")
			addr, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Println("unknown address:", arg)
				continue
			}
			if _, ok := breakAddrs[addr]; ok {
				delete(breakAddrs, addr)
			} else {
				breakAddrs[addr] = struct{}{}
			}
		}
	}
	return nil
}

func printState(vm *VM) {
	fmt.Printf("ip=%d bp=%d data=%s rstack-depth=%d\n", vm.ip, vm.bp, vm.stackSnapshot(), vm.rs.Depth())
}

// printProgram disassembles the CODE segment from 0 up to the compiler's
// write head, one opcode per line, for the "program" debug command.
func printProgram(vm *VM) {
	addr := 0
	cp := vm.comp.CP()
	for addr < cp {
		op, width, err := vm.comp.DecodeOpcode(addr)
		if err != nil {
			fmt.Printf("%5d: <decode error: %v>\n", addr, err)
			return
		}
		marker := " "
		if addr == vm.ip {
			marker = ">"
		}
		fmt.Printf("%s%5d: %s\n", marker, addr, op)
		addr += width
		addr += operandWidth(op)
	}
}

// operandWidth returns the number of inline operand bytes following an
// opcode, so the disassembler can skip past literals and branch offsets.
func operandWidth(op Opcode) int {
	switch op {
	case OpLitNumber, OpLitAddress:
		return 4
	case OpLitString, OpBranch, OpBranchCall, OpCall, OpIf, OpElse, OpOf:
		return 2
	default:
		return 0
	}
}
