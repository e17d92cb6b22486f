// Package command defines the serializable remote operations: Create, Call and Get.
//
// A command is pure data plus an Execute contract. It never touches the
// registry or class catalog directly; both are reached through Env so the
// same command value can be executed by any executor.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/astaric/orangeremote/errors"
)

// Reference names a value held in an executor's registry.
type Reference string

// String returns the identifier.
func (r Reference) String() string { return string(r) }

// Kind is the envelope discriminator.
type Kind string

const (
	KindCreate Kind = "create"
	KindCall   Kind = "call"
	KindGet    Kind = "get"
)

// Valid reports whether k is one of the three command kinds.
func (k Kind) Valid() bool {
	return k == KindCreate || k == KindCall || k == KindGet
}

// Header carries the fields every command shares.
type Header struct {
	// Result is the registry slot the outcome is stored under.
	Result Reference
	// ReturnResult asks the executor to send the literal value back.
	ReturnResult bool
}

// Head returns the header, making every embedding type satisfy Command.
func (h *Header) Head() *Header { return h }

// Dispatcher performs the operations a command needs on live values.
type Dispatcher interface {
	Construct(module, class string, args []any, kwargs map[string]any) (any, error)
	Invoke(self any, method string, args []any, kwargs map[string]any) (any, error)
	Member(self any, name string) (any, error)
}

// Resolver looks up the live value a reference names. It returns a
// ReferenceNotFound error for unknown references and the stored failure for
// references whose producing command failed.
type Resolver interface {
	Resolve(ctx context.Context, ref Reference) (any, error)
}

// Env is what a command executes against.
type Env struct {
	Resolver   Resolver
	Dispatcher Dispatcher
}

// Command is one remote operation.
type Command interface {
	Kind() Kind
	Head() *Header
	// Execute runs the command. Arguments must already be resolved.
	Execute(ctx context.Context, env Env) (any, error)
	// Describe renders the attempted call for logs and error reports.
	Describe() string
}

// Create instantiates Class from Module.
type Create struct {
	Header
	Module string
	Class  string
	Args   []any
	Kwargs map[string]any
}

func (c *Create) Kind() Kind { return KindCreate }

func (c *Create) Execute(ctx context.Context, env Env) (any, error) {
	v, err := env.Dispatcher.Construct(c.Module, c.Class, c.Args, c.Kwargs)
	if err != nil {
		return nil, failure(err, errors.ExecutionFailed, "command.create", c.Describe())
	}
	return v, nil
}

func (c *Create) Describe() string {
	return fmt.Sprintf("%s.%s(*%s, **%s)", c.Module, c.Class, formatArgs(c.Args), formatKwargs(c.Kwargs))
}

// Call invokes Method on the object Object names.
type Call struct {
	Header
	Object Reference
	Method string
	Args   []any
	Kwargs map[string]any
}

func (c *Call) Kind() Kind { return KindCall }

func (c *Call) Execute(ctx context.Context, env Env) (any, error) {
	self, err := env.Resolver.Resolve(ctx, c.Object)
	if err != nil {
		return nil, unresolved(err, "command.call", c.Describe())
	}
	v, err := env.Dispatcher.Invoke(self, c.Method, c.Args, c.Kwargs)
	if err != nil {
		return nil, failure(err, errors.ExecutionFailed, "command.call", c.Describe())
	}
	return v, nil
}

func (c *Call) Describe() string {
	return fmt.Sprintf("<%s>.%s(*%s, **%s)", c.Object, c.Method, formatArgs(c.Args), formatKwargs(c.Kwargs))
}

// Get reads Member from the object Object names. An empty Member returns the
// object itself.
type Get struct {
	Header
	Object Reference
	Member string
}

func (g *Get) Kind() Kind { return KindGet }

func (g *Get) Execute(ctx context.Context, env Env) (any, error) {
	self, err := env.Resolver.Resolve(ctx, g.Object)
	if err != nil {
		return nil, unresolved(err, "command.get", g.Describe())
	}
	if g.Member == "" {
		return self, nil
	}
	v, err := env.Dispatcher.Member(self, g.Member)
	if err != nil {
		return nil, failure(err, errors.ExecutionFailed, "command.get", g.Describe())
	}
	return v, nil
}

func (g *Get) Describe() string {
	if g.Member == "" {
		return fmt.Sprintf("<%s>", g.Object)
	}
	return fmt.Sprintf("<%s>.%s", g.Object, g.Member)
}

// failure classifies err, keeping an existing kind, and attaches the call.
func failure(err error, kind errors.Kind, op, call string) error {
	if k := errors.KindOf(err); k != errors.KindUnknown {
		kind = k
	}
	return &errors.Error{Kind: kind, Op: op, Call: call, Err: err}
}

// unresolved reports a target that could not be resolved as a failure of the
// command itself. The cause stays reachable with errors.Is.
func unresolved(err error, op, call string) error {
	return &errors.Error{Kind: errors.ExecutionFailed, Op: op, Call: call, Err: err}
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = formatValue(a)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatKwargs(kwargs map[string]any) string {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%q: %s", k, formatValue(kwargs[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatValue(v any) string {
	switch x := v.(type) {
	case Reference:
		return "<" + string(x) + ">"
	case string:
		return fmt.Sprintf("%q", x)
	case []any:
		return formatArgs(x)
	case map[string]any:
		return formatKwargs(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
