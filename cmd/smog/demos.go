package main

import (
	"github.com/kristofer/smog/pkg/proto"
	"github.com/kristofer/smog/pkg/state"
	"github.com/kristofer/smog/pkg/value"
	"github.com/kristofer/smog/pkg/vm"
)

// Source-level compilation is explicitly out of scope (spec.md's
// Non-goals), and file formats for a serialized prototype are "not
// covered... beyond in-memory prototype shape" (spec §6). demos.go is
// this binary's stand-in for a front-end: a small set of prototypes
// built directly against pkg/proto, the way a parser collaborator would
// hand them to the VM, so `run`/`disassemble`/`repl`/`gc-stats` have
// something real to execute.

const jumpBias = 1 << 23

func u24(n int) []byte { return []byte{byte(n), byte(n >> 8), byte(n >> 16)} }
func biased(n int) []byte { return u24(n + jumpBias) }

func ret(base, n int) []byte {
	b := []byte{byte(vm.OpReturn), 0}
	b = append(b, u24(base)...)
	b = append(b, biased(n)...)
	return b
}

// demo registers a named prototype runnable from the command line.
type demo struct {
	name string
	proto func(g *state.GlobalState) *proto.Prototype
}

var demos = []demo{
	{
		name: "hello",
		proto: func(g *state.GlobalState) *proto.Prototype {
			// MaxStack slots [0,2) are the local window callClosure
			// pre-fills before dispatch starts; OpLoadK pushes above it,
			// so the returned value lands at rel offset MaxStack.
			s := g.Intern("hello, smog")
			code := []byte{byte(vm.OpLoadK)}
			code = append(code, u24(0)...)
			code = append(code, ret(2, 1)...)
			return &proto.Prototype{
				MaxStack:  2,
				Code:      code,
				Constants: []value.Value{s.Value()},
				Source:    g.Intern("demos/hello"),
			}
		},
	},
	{
		name: "arith",
		proto: func(g *state.GlobalState) *proto.Prototype {
			code := []byte{byte(vm.OpLoadInt)}
			code = append(code, biased(19)...)
			code = append(code, byte(vm.OpLoadInt))
			code = append(code, biased(23)...)
			code = append(code, byte(vm.OpAddStack))
			code = append(code, byte(vm.OpMBin), 0)
			code = append(code, ret(4, 1)...)
			return &proto.Prototype{
				MaxStack: 4,
				Code:     code,
				Source:   g.Intern("demos/arith"),
			}
		},
	},
	{
		name: "list",
		proto: func(g *state.GlobalState) *proto.Prototype {
			// Builds [1, 2, 3] and returns it. The freshly made list is
			// stashed in local slot 0 right away, since OpSetIndexImm
			// consumes both its operands off the stack and pushes
			// nothing back — each iteration has to re-fetch the list
			// with GETLOCAL before indexing into it again.
			code := []byte{byte(vm.OpNewList), 3}
			code = append(code, byte(vm.OpSetLocal), 0)
			for i := 0; i < 3; i++ {
				code = append(code, byte(vm.OpGetLocal), 0)
				code = append(code, byte(vm.OpLoadInt))
				code = append(code, biased(i+1)...)
				code = append(code, byte(vm.OpSetIndexImm), byte(i))
			}
			code = append(code, byte(vm.OpGetLocal), 0)
			code = append(code, ret(4, 1)...)
			return &proto.Prototype{
				MaxStack: 4,
				Code:     code,
				Source:   g.Intern("demos/list"),
			}
		},
	},
}

func findDemo(name string) *demo {
	for i := range demos {
		if demos[i].name == name {
			return &demos[i]
		}
	}
	return nil
}
