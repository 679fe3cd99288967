// Package vmerr is the host-visible error boundary: it wraps the VM's
// internal RuntimeError/StackFrame shape (kept from the teacher's
// pkg/vm/errors.go) with github.com/pkg/errors so embedders calling into
// smog from Go get a stack-annotated error rather than a bare string,
// and it implements the type-name resolution a raised type error needs
// (spec §7, SPEC_FULL supplemented feature 3).
package vmerr

import (
	"fmt"
	"strings"

	"github.com/kristofer/smog/pkg/table"
	"github.com/kristofer/smog/pkg/value"
	"github.com/pkg/errors"
)

// StackFrame mirrors the teacher's vm.StackFrame shape so error
// rendering stays identical across the refactor.
type StackFrame struct {
	Name       string
	Selector   string
	IP         int
	SourceLine int
	SourceCol  int
}

// RuntimeError is the error type every protected call eventually
// surfaces to host code. Message is the already-formatted description
// (symbolic variable names resolved, type names resolved via __name);
// StackTrace is captured at raise time, innermost frame last.
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
	cause      error
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.StackTrace) > 0 {
		b.WriteString("\n\nStack trace:")
		for i := len(e.StackTrace) - 1; i >= 0; i-- {
			f := e.StackTrace[i]
			b.WriteString(fmt.Sprintf("\n  at %s", f.Name))
			if f.Selector != "" {
				b.WriteString(fmt.Sprintf(" (selector: %s)", f.Selector))
			}
			if f.SourceLine > 0 {
				b.WriteString(fmt.Sprintf(" [line %d:%d]", f.SourceLine, f.SourceCol))
			}
			if f.IP >= 0 {
				b.WriteString(fmt.Sprintf(" [IP: %d]", f.IP))
			}
		}
	}
	return b.String()
}

// Unwrap lets errors.Is/errors.As reach whatever Go error triggered
// this RuntimeError (an allocator failure, a host-native function's
// returned error), when there is one; Cause does the same for
// errors.Cause.
func (e *RuntimeError) Unwrap() error { return e.cause }

func (e *RuntimeError) Cause() error { return e.cause }

// New builds a RuntimeError with a stack-trace-annotated cause, so a
// host embedder inspecting err with errors.Cause sees exactly where in
// smog's own source the wrap happened, not just the VM's message.
func New(message string, frames []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: frames, cause: errors.New(message)}
}

// Wrap attaches frames to an error raised by something other than the
// interpreter loop itself (a failed native function call, an I/O error
// from a primitive): the returned RuntimeError keeps cause reachable via
// Unwrap/errors.Cause while still rendering a stack trace like any other
// runtime error.
func Wrap(cause error, message string, frames []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: frames, cause: errors.Wrap(cause, message)}
}

// TypeName resolves the display name spec §7's error messages use for a
// value: a metatable __name string if the value's type carries a
// metatable defining one, else the type's static name (SPEC_FULL
// supplemented feature 3, grounded on tdebug.c's typename()).
func TypeName(v value.Value, meta *table.Table, nameKey value.Value) string {
	if meta != nil {
		if n := meta.Get(nameKey); n.Type() == value.TypeString {
			if s, ok := n.Object().(*value.OString); ok {
				return s.String()
			}
		}
	}
	return staticTypeName(v.Type())
}

func staticTypeName(t value.Type) string {
	switch t {
	case value.TypeNil:
		return "nil"
	case value.TypeBool:
		return "boolean"
	case value.TypeNumber:
		return "number"
	case value.TypeString:
		return "string"
	case value.TypeList:
		return "list"
	case value.TypeTable:
		return "table"
	case value.TypeFunction:
		return "function"
	case value.TypeBoundMethod:
		return "bound method"
	case value.TypeClass:
		return "class"
	case value.TypeInstance:
		return "instance"
	case value.TypeUserdata, value.TypeLightUserdata:
		return "userdata"
	case value.TypeThread:
		return "thread"
	default:
		return "no value"
	}
}

// TypeError formats the standard "attempt to X a Y value" message
// (spec §7), optionally naming the offending slot via a symbolic
// description supplied by pkg/vm/symbolic.go.
func TypeError(action string, v value.Value, meta *table.Table, nameKey value.Value, symbolic string) string {
	name := TypeName(v, meta, nameKey)
	if symbolic == "" {
		return fmt.Sprintf("attempt to %s a %s value", action, name)
	}
	return fmt.Sprintf("attempt to %s a %s value (%s)", action, name, symbolic)
}
