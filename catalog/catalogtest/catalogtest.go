// Package catalogtest provides a catalog of small classes for tests that
// exercise an executor end to end.
package catalogtest

import (
	"fmt"
	"sync"

	"github.com/astaric/orangeremote/catalog"
)

// Module is the module every class here is registered under.
const Module = "tests"

// Dummy has one method and one attribute.
type Dummy struct {
	B string
}

// Counter counts calls to incr.
type Counter struct {
	mu sync.Mutex
	N  int
}

// New returns a catalog holding the builtins plus tests.Dummy and
// tests.Counter.
//
// Dummy.a() returns "a", Dummy.b is "b", Dummy.echo(x) returns x and
// Dummy.boom() panics. Counter(start).incr(by=1) adds to Counter.n and
// returns the new total.
func New() *catalog.Catalog {
	c := catalog.New()
	c.MustRegister(
		catalog.Define[*Dummy](Module, "Dummy").
			Constructor(func(args []any, kwargs map[string]any) (*Dummy, error) {
				return &Dummy{B: "b"}, nil
			}).
			Method("a", func(d *Dummy, args []any, kwargs map[string]any) (any, error) {
				return "a", nil
			}).
			Method("echo", func(d *Dummy, args []any, kwargs map[string]any) (any, error) {
				if len(args) == 0 {
					return nil, fmt.Errorf("TypeError: echo() missing 1 required positional argument")
				}
				return args[0], nil
			}).
			Method("boom", func(d *Dummy, args []any, kwargs map[string]any) (any, error) {
				panic("boom")
			}).
			Member("b", func(d *Dummy) any { return d.B }).
			Class(),
		catalog.Define[*Counter](Module, "Counter").
			Constructor(func(args []any, kwargs map[string]any) (*Counter, error) {
				start, err := catalog.OptArg(args, kwargs, 0, "start", 0)
				if err != nil {
					return nil, err
				}
				return &Counter{N: start}, nil
			}).
			Method("incr", func(c *Counter, args []any, kwargs map[string]any) (any, error) {
				by, err := catalog.OptArg(args, kwargs, 0, "by", 1)
				if err != nil {
					return nil, err
				}
				c.mu.Lock()
				defer c.mu.Unlock()
				c.N += by
				return c.N, nil
			}).
			Member("n", func(c *Counter) any {
				c.mu.Lock()
				defer c.mu.Unlock()
				return c.N
			}).
			Class(),
	)
	return c
}
