package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"

	"github.com/tacit-lang/tacit/vm"
)

func main() {
	var noInteractive bool
	var debugMode bool

	rootCmd := &cobra.Command{
		Use:   "tacit [file...]",
		Short: "Tacit — a concatenative stack language with an embedded NaN-boxed bytecode VM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTacit(args, noInteractive, debugMode)
		},
	}
	rootCmd.Flags().BoolVar(&noInteractive, "no-interactive", false, "exit after executing the given files instead of dropping to a REPL")
	rootCmd.Flags().BoolVar(&debugMode, "debug", env.Bool("TACIT_DEBUG"), "single-step/breakpoint debug driver instead of free-running execution")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runTacit(files []string, noInteractive, debugMode bool) error {
	m := vm.NewVM(debugMode)
	parser := vm.NewParser(m)

	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := compileAndRun(m, parser, string(src), debugMode); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	if noInteractive {
		return nil
	}
	return repl(m, parser, debugMode)
}

// compileAndRun compiles src onto the compiler's current write head and
// runs from there. A failing compile rewinds CP back to BCP so a bad
// line/file leaves no half-compiled bytecode in CODE; a successful
// compile advances BCP to CP so later lines build on top of it.
func compileAndRun(m *vm.VM, parser *vm.Parser, src string, debugMode bool) error {
	comp := m.Compiler()
	entry := comp.CP()

	if err := parser.Compile(src); err != nil {
		comp.SetPreserve(false)
		comp.Reset()
		return err
	}
	if err := comp.EmitOpcode(vm.OpHalt); err != nil {
		comp.SetPreserve(false)
		comp.Reset()
		return err
	}
	comp.SetPreserve(true)
	comp.Reset()

	if debugMode {
		return vm.RunProgramDebugMode(m, entry)
	}
	_, err := vm.RunProgram(m, entry)
	return err
}

// repl runs Tacit's line-oriented interactive loop: each line compiles
// and executes against the same VM, so dictionary definitions persist
// across lines.
func repl(m *vm.VM, parser *vm.Parser, debugMode bool) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("tacit> Ctrl-D or 'exit' to quit")

	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" {
			return nil
		}

		if err := compileAndRun(m, parser, line, debugMode); err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		fmt.Println(m.DataStackString())
	}
}
