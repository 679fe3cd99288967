package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/kristofer/smog/pkg/proto"
	"github.com/kristofer/smog/pkg/state"
	"github.com/kristofer/smog/pkg/value"
	"github.com/kristofer/smog/pkg/vm"
)

// replCommand drives demo prototypes interactively: since source-level
// evaluation is out of scope (no compiler survives the rework), the
// shell picks among the built-in demos and runs them to completion
// ("step" also prints the disassembly and, via vm.Debugger, the
// globals) rather than accepting arbitrary source text.
var replCommand = &cli.Command{
	Name:  "repl",
	Usage: "interactively run demo prototypes under the debugger",
	Flags: []cli.Flag{gcConfigFlag, logLevelFlag},
	Action: func(c *cli.Context) error {
		interp, th, logger, err := newInterp(c)
		if err != nil {
			return err
		}
		defer logger.Sync()

		rl, err := readline.New("smog> ")
		if err != nil {
			return fmt.Errorf("starting readline: %w", err)
		}
		defer rl.Close()

		fmt.Println("smog repl — type 'help' for commands, 'quit' to exit")
		for {
			line, err := rl.Readline()
			if err == io.EOF || err == readline.ErrInterrupt {
				return nil
			}
			if err != nil {
				return err
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			switch fields[0] {
			case "help", "h":
				printReplHelp()
			case "quit", "q", "exit":
				return nil
			case "demos":
				fmt.Println(demoNames())
			case "run", "step":
				if len(fields) < 2 {
					fmt.Println("usage: run <demo>")
					continue
				}
				d := findDemo(fields[1])
				if d == nil {
					fmt.Printf("no such demo %q (known: %s)\n", fields[1], demoNames())
					continue
				}
				runUnderDebugger(interp, th, d, fields[0] == "step")
			default:
				fmt.Printf("unknown command %q (type 'help')\n", fields[0])
			}
		}
	},
}

func printReplHelp() {
	fmt.Println("commands:")
	fmt.Println("  demos          list available demo prototypes")
	fmt.Println("  run <demo>     run a demo to completion")
	fmt.Println("  step <demo>    run a demo, printing its disassembly and globals")
	fmt.Println("  quit           exit")
}

// runUnderDebugger runs d to completion, using vm.Debugger's inspection
// methods to narrate the call before and after. The dispatch loop has no
// per-instruction pause hook (debug-introspection is out of scope per
// spec §1/§2 beyond naming where it lives), so "step" here means "show
// more" rather than single-instruction pausing.
func runUnderDebugger(interp *vm.Interp, th *state.Thread, d *demo, verbose bool) {
	p := d.proto(interp.G)
	interp.Track(p)
	cl := proto.NewLanguageClosure(p)

	dbg := vm.NewDebugger(interp, th)
	if verbose {
		fmt.Println(strings.Join(vm.Disassemble(p), "\n"))
	}

	results, err := interp.Call(th, value.Object(value.VariantNone, cl), nil, state.MultRet)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if verbose {
		dbg.ShowGlobals()
	}
	for i, r := range results {
		fmt.Printf("result[%d] = %s\n", i, describeResult(r))
	}
}
