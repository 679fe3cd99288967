// Command smog runs the bytecode interpreter described in SPEC_FULL.md
// against the hand-built demo prototypes in demos.go, since source-level
// compilation and a serialized file format are both explicitly out of
// scope (spec.md's Non-goals; spec §6). It exposes run/disassemble/
// gc-stats/repl subcommands over github.com/urfave/cli/v2.
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/kristofer/smog/internal/obs"
	"github.com/kristofer/smog/pkg/gc"
	"github.com/kristofer/smog/pkg/proto"
	"github.com/kristofer/smog/pkg/state"
	"github.com/kristofer/smog/pkg/value"
	"github.com/kristofer/smog/pkg/vm"
)

var (
	gcConfigFlag = &cli.StringFlag{Name: "gc-config", Usage: "YAML file overriding GC pause/step tuning"}
	logLevelFlag = &cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, or error"}
)

func main() {
	app := &cli.App{
		Name:  "smog",
		Usage: "register/stack-frame bytecode VM",
		Commands: []*cli.Command{
			runCommand,
			disassembleCommand,
			gcStatsCommand,
			replCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newInterp builds the GlobalState/Thread/Interp triple every subcommand
// needs, wiring a zap-backed obs.Logger into the state's Warn/Panic hooks
// and applying a GC tuning file when --gc-config is set.
func newInterp(c *cli.Context) (*vm.Interp, *state.Thread, *obs.Logger, error) {
	logger, err := obs.New(c.String(logLevelFlag.Name))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building logger: %w", err)
	}

	g := state.NewGlobalState(uint64(os.Getpid()))
	g.Warn = logger.Warn
	g.Panic = func(v value.Value) { logger.Panic(fmt.Sprintf("%v", v)) }

	if path := c.String(gcConfigFlag.Name); path != "" {
		params, err := gc.LoadTuning(path)
		if err != nil {
			logger.Sync()
			return nil, nil, nil, fmt.Errorf("loading gc tuning: %w", err)
		}
		g.Params = params
	}

	th := state.NewThread(g, 256)
	g.RegisterMainThread(th)

	interp := vm.New(g)
	interp.RegisterStdlib()
	return interp, th, logger, nil
}

func demoArg(c *cli.Context) (*demo, error) {
	name := c.Args().First()
	if name == "" {
		return nil, fmt.Errorf("usage: %s %s <demo>", c.App.Name, c.Command.Name)
	}
	d := findDemo(name)
	if d == nil {
		return nil, fmt.Errorf("no such demo %q (known: %s)", name, demoNames())
	}
	return d, nil
}

func demoNames() string {
	s := ""
	for i, d := range demos {
		if i > 0 {
			s += ", "
		}
		s += d.name
	}
	return s
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run a demo prototype to completion",
	ArgsUsage: "<demo>",
	Flags:     []cli.Flag{gcConfigFlag, logLevelFlag},
	Action: func(c *cli.Context) error {
		d, err := demoArg(c)
		if err != nil {
			return err
		}
		interp, th, logger, err := newInterp(c)
		if err != nil {
			return err
		}
		defer logger.Sync()

		p := d.proto(interp.G)
		interp.Track(p)
		cl := proto.NewLanguageClosure(p)

		logger.RunStart(interp.G.ID.String(), th.ID.String())
		results, err := interp.Call(th, value.Object(value.VariantNone, cl), nil, state.MultRet)
		logger.RunEnd(err)
		if err != nil {
			return err
		}
		for i, r := range results {
			fmt.Printf("result[%d] = %s\n", i, describeResult(r))
		}
		return nil
	},
}

func describeResult(v value.Value) string {
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
		return fmt.Sprintf("%q", s.String())
	}
	return fmt.Sprintf("%v", v)
}

var disassembleCommand = &cli.Command{
	Name:      "disassemble",
	Aliases:   []string{"dis"},
	Usage:     "print a demo prototype's bytecode",
	ArgsUsage: "<demo>",
	Action: func(c *cli.Context) error {
		d, err := demoArg(c)
		if err != nil {
			return err
		}
		g := state.NewGlobalState(1)
		for _, line := range vm.Disassemble(d.proto(g)) {
			fmt.Println(line)
		}
		return nil
	},
}

var gcStatsCommand = &cli.Command{
	Name:      "gc-stats",
	Usage:     "run a demo and print collector stats afterward",
	ArgsUsage: "<demo>",
	Flags:     []cli.Flag{gcConfigFlag, logLevelFlag},
	Action: func(c *cli.Context) error {
		d, err := demoArg(c)
		if err != nil {
			return err
		}
		interp, th, logger, err := newInterp(c)
		if err != nil {
			return err
		}
		defer logger.Sync()

		p := d.proto(interp.G)
		interp.Track(p)
		cl := proto.NewLanguageClosure(p)
		if _, err := interp.Call(th, value.Object(value.VariantNone, cl), nil, state.MultRet); err != nil {
			return err
		}

		stats := interp.GC.Stats()
		fmt.Printf("phase:       %s\n", stats.Phase)
		fmt.Printf("total bytes: %s\n", humanize.Bytes(stats.TotalBytes))
		fmt.Printf("debt:        %d\n", stats.Debt)
		fmt.Printf("objects:     %d\n", stats.ObjectCount)
		fmt.Printf("gray:        %d\n", stats.GrayCount)
		fmt.Printf("finalizers:  %d\n", stats.FinCount)
		return nil
	},
}
