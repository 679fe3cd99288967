// Package vm - debugger support
package vm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kristofer/smog/pkg/state"
	"github.com/kristofer/smog/pkg/value"
)

// describeValue renders a value for debugger display; nil, booleans and
// numbers print their plain Go formatting, strings print unquoted, and
// every other value prints as "<type N>" with its numeric Type.
func describeValue(v value.Value) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsBool():
		return fmt.Sprintf("%v", v.AsBool())
	case v.IsInt():
		return fmt.Sprintf("%d", v.AsInt())
	case v.IsFloat():
		return fmt.Sprintf("%g", v.AsFloat())
	}
	if s, ok := v.Object().(*value.OString); ok {
		return s.String()
	}
	return fmt.Sprintf("<type %d>", v.Type())
}

// Debugger provides interactive debugging capabilities over a running
// thread: breakpoints by instruction offset within the active frame's
// prototype, single-step mode, and stack/frame/global inspection. It is
// the collaborator spec §2 leaves unspecified ("debug-introspection is
// out of scope") beyond naming where it lives.
type Debugger struct {
	vm          *Interp
	t           *state.Thread
	breakpoints map[int]bool
	stepMode    bool
	enabled     bool
}

// NewDebugger creates a debugger that inspects t's execution under vm.
func NewDebugger(vm *Interp, t *state.Thread) *Debugger {
	return &Debugger{
		vm:          vm,
		t:           t,
		breakpoints: make(map[int]bool),
	}
}

func (d *Debugger) Enable()               { d.enabled = true }
func (d *Debugger) Disable()              { d.enabled = false }
func (d *Debugger) SetStepMode(on bool)   { d.stepMode = on }
func (d *Debugger) AddBreakpoint(ip int)  { d.breakpoints[ip] = true }
func (d *Debugger) RemoveBreakpoint(ip int) { delete(d.breakpoints, ip) }
func (d *Debugger) ClearBreakpoints()     { d.breakpoints = make(map[int]bool) }

// ShouldPause reports whether execution at the active frame's current
// instruction should pause: always in step mode, otherwise only at a
// registered breakpoint.
func (d *Debugger) ShouldPause() bool {
	if !d.enabled {
		return false
	}
	if d.stepMode {
		return true
	}
	f := d.t.Frames.Top()
	return f != nil && d.breakpoints[f.IP]
}

// ShowCurrentInstruction prints the instruction the active frame is
// about to execute.
func (d *Debugger) ShowCurrentInstruction() {
	f := d.t.Frames.Top()
	if f == nil || f.Closure == nil || f.Closure.Proto == nil {
		fmt.Println("no active frame")
		return
	}
	lines := Disassemble(f.Closure.Proto)
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), fmt.Sprintf("%d", f.IP)) {
			fmt.Println(line)
			return
		}
	}
	fmt.Printf("  %4d: <out of range>\n", f.IP)
}

// ShowStack prints the thread's value stack, top first.
func (d *Debugger) ShowStack() {
	fmt.Println("Stack (top to bottom):")
	top := d.t.Stack.Top()
	if top == 0 {
		fmt.Println("  (empty)")
		return
	}
	for i := top - 1; i >= 0; i-- {
		fmt.Printf("  [%d] %s\n", i, describeValue(d.t.Stack.Get(i)))
	}
}

// ShowLocals prints the active frame's declared locals that are live at
// its current instruction.
func (d *Debugger) ShowLocals() {
	fmt.Println("Local variables:")
	f := d.t.Frames.Top()
	if f == nil || f.Closure == nil || f.Closure.Proto == nil {
		fmt.Println("  (no active frame)")
		return
	}
	p := f.Closure.Proto
	hasAny := false
	for slot, l := range p.Locals {
		if l.Name == nil || f.IP < l.StartPC || f.IP >= l.EndPC {
			continue
		}
		hasAny = true
		fmt.Printf("  [%d] %s = %s\n", slot, l.Name.String(), describeValue(d.t.Stack.Get(f.Base+slot)))
	}
	if !hasAny {
		fmt.Println("  (none live here)")
	}
}

// ShowGlobals prints every name currently bound in the globals table.
func (d *Debugger) ShowGlobals() {
	fmt.Println("Global variables:")
	globals := d.vm.G.Globals()
	k, v, ok, _ := globals.Next(value.Nil)
	if !ok {
		fmt.Println("  (none)")
		return
	}
	for ok {
		fmt.Printf("  %s = %s\n", describeValue(k), describeValue(v))
		k, v, ok, _ = globals.Next(k)
	}
}

// ShowCallStack prints every active frame, innermost first.
func (d *Debugger) ShowCallStack() {
	fmt.Println("Call stack (top to bottom):")
	f := d.t.Frames.Top()
	if f == nil {
		fmt.Println("  (empty)")
		return
	}
	for ; f != nil; f = f.Prev {
		name := f.Name
		if name == "" {
			name = "<closure>"
		}
		fmt.Printf("  %s", name)
		if f.Selector != "" {
			fmt.Printf(" (via %s)", f.Selector)
		}
		fmt.Printf(" [ip=%d]\n", f.IP)
	}
}

// InteractivePrompt is called when execution pauses at a breakpoint or
// in step mode; it returns whether to resume execution.
func (d *Debugger) InteractivePrompt() (continueExecution bool) {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("\n=== Debugger Paused ===")
	d.ShowCurrentInstruction()

	for {
		fmt.Print("debug> ")
		if !scanner.Scan() {
			return false
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		switch parts[0] {
		case "help", "h", "?":
			d.printHelp()
		case "continue", "c":
			d.SetStepMode(false)
			return true
		case "step", "s":
			d.SetStepMode(true)
			return true
		case "next", "n":
			return true
		case "stack", "st":
			d.ShowStack()
		case "locals", "l":
			d.ShowLocals()
		case "globals", "g":
			d.ShowGlobals()
		case "callstack", "cs":
			d.ShowCallStack()
		case "instruction", "i":
			d.ShowCurrentInstruction()
		case "breakpoint", "b":
			if len(parts) < 2 {
				fmt.Println("Usage: breakpoint <ip>")
				continue
			}
			ip, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("Invalid instruction number")
				continue
			}
			d.AddBreakpoint(ip)
			fmt.Printf("Breakpoint added at %d\n", ip)
		case "delete", "d":
			if len(parts) < 2 {
				fmt.Println("Usage: delete <ip>")
				continue
			}
			ip, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("Invalid instruction number")
				continue
			}
			d.RemoveBreakpoint(ip)
			fmt.Printf("Breakpoint removed at %d\n", ip)
		case "list", "ls":
			d.listInstructions()
		case "quit", "q":
			return false
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", parts[0])
		}
	}
}

func (d *Debugger) printHelp() {
	fmt.Println("Debugger Commands:")
	fmt.Println("  help, h, ?           Show this help")
	fmt.Println("  continue, c          Continue execution")
	fmt.Println("  step, s              Enable step mode (pause after each instruction)")
	fmt.Println("  next, n              Execute next instruction")
	fmt.Println("  stack, st            Show the value stack")
	fmt.Println("  locals, l            Show live locals in the active frame")
	fmt.Println("  globals, g           Show global variables")
	fmt.Println("  callstack, cs        Show the call stack")
	fmt.Println("  instruction, i       Show the current instruction")
	fmt.Println("  breakpoint <n>, b    Add a breakpoint at instruction offset n")
	fmt.Println("  delete <n>, d        Remove breakpoint at instruction offset n")
	fmt.Println("  list, ls             List all instructions in the active prototype")
	fmt.Println("  quit, q              Quit debugging (abort execution)")
}

func (d *Debugger) listInstructions() {
	f := d.t.Frames.Top()
	if f == nil || f.Closure == nil || f.Closure.Proto == nil {
		fmt.Println("no active frame")
		return
	}
	fmt.Println("Instructions:")
	for _, line := range Disassemble(f.Closure.Proto) {
		fmt.Println("  " + line)
	}
}
