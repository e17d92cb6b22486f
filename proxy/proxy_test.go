package proxy

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/astaric/orangeremote/catalog/catalogtest"
	"github.com/astaric/orangeremote/errors"
	"github.com/astaric/orangeremote/executor"
	"github.com/astaric/orangeremote/queue"
	"github.com/astaric/orangeremote/server"
	"github.com/astaric/orangeremote/transport"
)

func newExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	exec := executor.New(catalogtest.New(), executor.WithWaitTimeout(2*time.Second))
	t.Cleanup(func() { exec.Close() })
	return exec
}

func httpClient(t *testing.T) *Client {
	t.Helper()
	ts := httptest.NewServer(server.New(newExecutor(t)).Handler())
	t.Cleanup(ts.Close)
	c := Open(transport.NewHTTP(ts.URL, transport.WithHTTPClient(ts.Client())), WithTimeout(5*time.Second))
	t.Cleanup(func() { c.Close() })
	return c
}

func natsClient(t *testing.T) *Client {
	t.Helper()
	ns, err := queue.RunEmbedded("127.0.0.1", -1)
	if err != nil {
		t.Fatalf("RunEmbedded: %v", err)
	}
	t.Cleanup(ns.Shutdown)
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	t.Cleanup(nc.Close)

	consumer := queue.NewConsumer(nc, newExecutor(t))
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { consumer.Stop() })

	tr, err := queue.NewTransport(nc)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	c := Open(tr, WithTimeout(5*time.Second))
	t.Cleanup(func() { c.Close() })
	return c
}

// forEachTransport runs fn against an HTTP and a NATS backed client.
func forEachTransport(t *testing.T, fn func(t *testing.T, c *Client)) {
	clients := []struct {
		name string
		open func(*testing.T) *Client
	}{
		{"http", httpClient},
		{"nats", natsClient},
	}
	for _, tc := range clients {
		t.Run(tc.name, func(t *testing.T) {
			fn(t, tc.open(t))
		})
	}
}

func mustGet(t *testing.T, p *Proxy) any {
	t.Helper()
	v, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get(%s): %v", p, err)
	}
	return v
}

func TestProxy_MethodAndAttribute(t *testing.T) {
	forEachTransport(t, func(t *testing.T, c *Client) {
		ctx := context.Background()
		dummy, err := c.Class(catalogtest.Module, "Dummy").New(ctx)
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		a, err := dummy.Call(ctx, "a")
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		if a.Reference() == dummy.Reference() {
			t.Fatal("Call returned the receiver instead of a new proxy")
		}
		if got := mustGet(t, a); got != "a" {
			t.Fatalf("a() = %v, want a", got)
		}

		b, err := dummy.Attr(ctx, "b")
		if err != nil {
			t.Fatalf("Attr: %v", err)
		}
		if got := mustGet(t, b); got != "b" {
			t.Fatalf("b = %v, want b", got)
		}

		viaInvoke, err := dummy.Invoke(ctx, ".b")
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if got := mustGet(t, viaInvoke); got != "b" {
			t.Fatalf("Invoke(.b) = %v, want b", got)
		}
	})
}

func TestProxy_Sequence(t *testing.T) {
	forEachTransport(t, func(t *testing.T, c *Client) {
		ctx := context.Background()
		list, err := c.Class("builtins", "list").New(ctx, []any{"a"})
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		for i := 0; i < 3; i++ {
			n, err := list.Len(ctx)
			if err != nil {
				t.Fatalf("Len: %v", err)
			}
			if n != 1 {
				t.Fatalf("Len #%d = %d, want 1", i, n)
			}
		}

		for i := 0; i < 2; i++ {
			first, err := list.Index(ctx, 0)
			if err != nil {
				t.Fatalf("Index: %v", err)
			}
			if got := mustGet(t, first); got != "a" {
				t.Fatalf("[0] = %v, want a", got)
			}
		}

		var items []any
		for item, err := range list.All(ctx) {
			if err != nil {
				t.Fatalf("All: %v", err)
			}
			items = append(items, mustGet(t, item))
		}
		if len(items) != 1 || items[0] != "a" {
			t.Fatalf("All yielded %v, want [a]", items)
		}

		missing, err := list.Index(ctx, 5)
		if err != nil {
			t.Fatalf("Index(5): %v", err)
		}
		if _, err := missing.Get(ctx); !errors.Is(err, errors.ExecutionFailed) {
			t.Fatalf("Get of [5] = %v, want ExecutionFailed", err)
		}
	})
}

func TestProxy_FailuresSurfaceAtGet(t *testing.T) {
	forEachTransport(t, func(t *testing.T, c *Client) {
		ctx := context.Background()
		bad, err := c.Class("builtins", "int").New(ctx, "a")
		if err != nil {
			t.Fatalf("New(int(\"a\")) failed eagerly: %v", err)
		}
		if _, err := bad.Get(ctx); !errors.Is(err, errors.ExecutionFailed) {
			t.Fatalf("Get = %v, want ExecutionFailed", err)
		}

		chained, err := bad.Call(ctx, "bit_length")
		if err != nil {
			t.Fatalf("Call on a failed reference failed eagerly: %v", err)
		}
		if _, err := chained.Get(ctx); !errors.Is(err, errors.ExecutionFailed) {
			t.Fatalf("chained Get = %v, want ExecutionFailed", err)
		}

		if _, err := c.Ref("no-such-id").Get(ctx); !errors.Is(err, errors.ReferenceNotFound) {
			t.Fatalf("Get(unknown) = %v, want ReferenceNotFound", err)
		}
	})
}

func TestProxy_ArgumentsAndValues(t *testing.T) {
	forEachTransport(t, func(t *testing.T, c *Client) {
		ctx := context.Background()
		counter, err := c.Class(catalogtest.Module, "Counter").New(ctx, Kwargs{"start": 2})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		total, err := counter.Call(ctx, "incr", Kwargs{"by": 3})
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		if got := mustGet(t, total); got != uint64(5) {
			t.Fatalf("incr(by=3) = %#v, want 5", got)
		}

		list, err := c.Class("builtins", "list").New(ctx, []any{"x", "y"})
		if err != nil {
			t.Fatalf("New(list): %v", err)
		}
		dummy, err := c.Class(catalogtest.Module, "Dummy").New(ctx)
		if err != nil {
			t.Fatalf("New(Dummy): %v", err)
		}
		echoed, err := dummy.Call(ctx, "echo", list)
		if err != nil {
			t.Fatalf("echo: %v", err)
		}
		n, err := echoed.Len(ctx)
		if err != nil || n != 2 {
			t.Fatalf("len(echo(list)) = %d, %v", n, err)
		}

		s, err := echoed.Str(ctx)
		if err != nil {
			t.Fatalf("Str: %v", err)
		}
		if s == "" {
			t.Fatal("Str returned an empty string")
		}

		type point struct {
			X     int    `cbor:"x"`
			Label string `cbor:"label"`
		}
		uploaded, err := c.Upload(ctx, map[string]any{"x": 7, "label": "p"})
		if err != nil {
			t.Fatalf("Upload: %v", err)
		}
		var pt point
		if err := uploaded.Decode(ctx, &pt); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if pt.X != 7 || pt.Label != "p" {
			t.Fatalf("decoded %+v", pt)
		}
	})
}

func TestProxy_ReservedAttributes(t *testing.T) {
	// No transport: reserved names must not reach it.
	c := Open(nil)
	p := c.Ref("x")
	for name := range reservedAttrs {
		_, err := p.Attr(context.Background(), name)
		if !IsAttributeAbsent(err) {
			t.Errorf("Attr(%q) = %v, want ErrAttributeAbsent", name, err)
		}
		if !errors.Is(err, errors.AttributeAbsent) {
			t.Errorf("Attr(%q) kind = %v", name, errors.KindOf(err))
		}
	}
}

func TestClient_Timeout(t *testing.T) {
	c := Open(nil, WithTimeout(10*time.Millisecond))
	ctx, cancel := c.withTimeout(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("no deadline applied")
	}

	parent, cancelParent := context.WithTimeout(context.Background(), time.Hour)
	defer cancelParent()
	ctx, cancel = c.withTimeout(parent)
	defer cancel()
	if d, _ := ctx.Deadline(); time.Until(d) < time.Minute {
		t.Fatal("caller deadline was shortened")
	}
}

func TestSplitArgs(t *testing.T) {
	args, kwargs := splitArgs([]any{1, Kwargs{"a": 1}, "x", Kwargs{"b": 2}})
	if len(args) != 2 || args[0] != 1 || args[1] != "x" {
		t.Fatalf("args = %v", args)
	}
	if len(kwargs) != 2 || kwargs["a"] != 1 || kwargs["b"] != 2 {
		t.Fatalf("kwargs = %v", kwargs)
	}
	if _, kwargs := splitArgs([]any{1}); kwargs != nil {
		t.Fatalf("kwargs without Kwargs = %v", kwargs)
	}
}
