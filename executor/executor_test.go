package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/astaric/orangeremote/archive"
	"github.com/astaric/orangeremote/catalog"
	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/errors"
)

type dummy struct {
	B string
}

type recorder struct {
	mu   sync.Mutex
	seen []int
}

func testCatalog() *catalog.Catalog {
	c := catalog.New()
	c.MustRegister(
		catalog.Define[*dummy]("tests", "Dummy").
			Constructor(func(args []any, kwargs map[string]any) (*dummy, error) {
				return &dummy{B: "b"}, nil
			}).
			Method("a", func(d *dummy, args []any, kwargs map[string]any) (any, error) {
				return "a", nil
			}).
			Method("boom", func(d *dummy, args []any, kwargs map[string]any) (any, error) {
				panic("exploded")
			}).
			Method("echo", func(d *dummy, args []any, kwargs map[string]any) (any, error) {
				return args[0], nil
			}).
			Class(),
		catalog.Define[*recorder]("tests", "Recorder").
			Constructor(func(args []any, kwargs map[string]any) (*recorder, error) {
				return &recorder{}, nil
			}).
			Method("record", func(r *recorder, args []any, kwargs map[string]any) (any, error) {
				n, err := catalog.Arg[int](args, kwargs, 0, "n")
				if err != nil {
					return nil, err
				}
				r.mu.Lock()
				r.seen = append(r.seen, n)
				r.mu.Unlock()
				return n, nil
			}).
			Class(),
	)
	return c
}

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	opts = append([]Option{WithWaitTimeout(2 * time.Second)}, opts...)
	e := New(testCatalog(), opts...)
	t.Cleanup(func() { e.Close() })
	return e
}

func encode(t *testing.T, cmd command.Command) []byte {
	t.Helper()
	data, err := codec.Encode(cmd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func accept(t *testing.T, e *Executor, key string, cmd command.Command) command.Reference {
	t.Helper()
	accepted, err := e.Accept(context.Background(), key, encode(t, cmd))
	if err != nil {
		t.Fatalf("Accept(%s): %v", cmd.Describe(), err)
	}
	return accepted.Head().Result
}

func TestExecutor_CreateCallGet(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	obj := accept(t, e, "k", &command.Create{Module: "tests", Class: "Dummy"})
	a := accept(t, e, "k", &command.Call{Object: obj, Method: "a"})
	b := accept(t, e, "k", &command.Get{Object: obj, Member: "B"})

	if v, err := e.Wait(ctx, a); err != nil || v != "a" {
		t.Errorf("a() = %v, %v", v, err)
	}
	if v, err := e.Wait(ctx, b); err != nil || v != "b" {
		t.Errorf("b = %v, %v", v, err)
	}
	if v, err := e.Wait(ctx, obj); err != nil {
		t.Errorf("Wait(obj): %v", err)
	} else if _, ok := v.(*dummy); !ok {
		t.Errorf("obj is %T", v)
	}
}

func TestExecutor_ClientChosenResult(t *testing.T) {
	e := newTestExecutor(t)
	ref := accept(t, e, "k", &command.Create{
		Header: command.Header{Result: "chosen"},
		Module: "builtins", Class: "str", Args: []any{"x"},
	})
	if ref != "chosen" {
		t.Fatalf("result = %s, want chosen", ref)
	}
	_, err := e.Accept(context.Background(), "k", encode(t, &command.Get{
		Header: command.Header{Result: "chosen"}, Object: "chosen",
	}))
	if !errors.Is(err, errors.ValidationFailed) {
		t.Errorf("reusing a result id = %v, want ValidationFailed", err)
	}
}

func TestExecutor_ReferenceArguments(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	obj := accept(t, e, "k", &command.Create{Module: "tests", Class: "Dummy"})
	n := accept(t, e, "k", &command.Create{Module: "builtins", Class: "int", Args: []any{"41"}})
	echoed := accept(t, e, "k", &command.Call{Object: obj, Method: "echo", Args: []any{n}})

	if v, err := e.Wait(ctx, echoed); err != nil || v != 41 {
		t.Errorf("echo(<n>) = %v, %v", v, err)
	}
}

func TestExecutor_FailuresAreStored(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	bad := accept(t, e, "k", &command.Create{Module: "builtins", Class: "int", Args: []any{"a"}})
	_, err := e.Wait(ctx, bad)
	if !errors.Is(err, errors.ExecutionFailed) {
		t.Fatalf("int(\"a\") = %v, want ExecutionFailed", err)
	}
	if !strings.Contains(err.Error(), `builtins.int(*["a"], **{})`) {
		t.Errorf("error lacks call description: %v", err)
	}

	chained := accept(t, e, "k", &command.Call{Object: bad, Method: "bit_length"})
	_, err = e.Wait(ctx, chained)
	if !errors.Is(err, errors.ExecutionFailed) {
		t.Errorf("chained call = %v, want ExecutionFailed", err)
	}

	// A missing target fails the command; only the lookup of an unknown
	// result is ReferenceNotFound.
	missing := accept(t, e, "k", &command.Call{Object: "nope", Method: "a"})
	_, err = e.Wait(ctx, missing)
	if !errors.Is(err, errors.ExecutionFailed) || !stderrors.Is(err, errors.ErrReferenceNotFound) {
		t.Errorf("call on unknown = %v, want ExecutionFailed caused by ReferenceNotFound", err)
	}
	missingArg := accept(t, e, "k", &command.Create{Module: "builtins", Class: "str", Args: []any{command.Reference("nope")}})
	_, err = e.Wait(ctx, missingArg)
	if !errors.Is(err, errors.ExecutionFailed) || !stderrors.Is(err, errors.ErrReferenceNotFound) {
		t.Errorf("unknown argument = %v, want ExecutionFailed caused by ReferenceNotFound", err)
	}

	// The executor keeps going after failures and panics.
	obj := accept(t, e, "k", &command.Create{Module: "tests", Class: "Dummy"})
	boom := accept(t, e, "k", &command.Call{Object: obj, Method: "boom"})
	if _, err := e.Wait(ctx, boom); !errors.Is(err, errors.ExecutionFailed) || !strings.Contains(err.Error(), "exploded") {
		t.Errorf("panic = %v, want ExecutionFailed", err)
	}
	ok := accept(t, e, "k", &command.Call{Object: obj, Method: "a"})
	if v, err := e.Wait(ctx, ok); err != nil || v != "a" {
		t.Errorf("after failures a() = %v, %v", v, err)
	}
}

func TestExecutor_ValidationFailure(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Accept(context.Background(), "k", []byte(`{"create": {"module": "m"}}`))
	if !errors.Is(err, errors.ValidationFailed) {
		t.Errorf("Accept = %v, want ValidationFailed", err)
	}
	if e.Len() != 0 {
		t.Errorf("Len = %d after rejected message", e.Len())
	}
}

func TestExecutor_Submit(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	obj := accept(t, e, "k", &command.Create{Module: "tests", Class: "Dummy"})
	res, err := e.Submit(ctx, "k", encode(t, &command.Call{
		Header: command.Header{ReturnResult: true}, Object: obj, Method: "__len__",
	}))
	if !errors.Is(err, errors.ExecutionFailed) {
		t.Errorf("len(Dummy) = %v, %v; want ExecutionFailed", res, err)
	}

	list := accept(t, e, "k", &command.Create{Module: "builtins", Class: "list", Args: []any{[]any{"a"}}})
	res, err = e.Submit(ctx, "k", encode(t, &command.Call{
		Header: command.Header{ReturnResult: true}, Object: list, Method: "__len__",
	}))
	if err != nil || !res.HasValue || res.Value != 1 {
		t.Errorf("len(list) = %+v, %v", res, err)
	}

	res, err = e.Submit(ctx, "k", encode(t, &command.Get{Object: list}))
	if err != nil || res.HasValue || res.Reference == "" {
		t.Errorf("async submit = %+v, %v", res, err)
	}
}

func TestExecutor_PerKeyOrder(t *testing.T) {
	e := newTestExecutor(t, WithWorkers(4))
	ctx := context.Background()

	rec := accept(t, e, "shared", &command.Create{Module: "tests", Class: "Recorder"})
	var last command.Reference
	for i := 0; i < 50; i++ {
		last = accept(t, e, "shared", &command.Call{Object: rec, Method: "record", Args: []any{i}})
	}
	if _, err := e.Wait(ctx, last); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	v, err := e.Wait(ctx, rec)
	if err != nil {
		t.Fatalf("Wait(rec): %v", err)
	}
	r := v.(*recorder)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.seen {
		if n != i {
			t.Fatalf("commands ran out of order: %v", r.seen)
		}
	}
}

func TestExecutor_FetchUpload(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	data, _ := codec.MarshalValue([]any{"x", int64(2)})
	ref, err := e.Upload(ctx, "k", data)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := e.Fetch(ctx, ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Fetch = %x, want %x", got, data)
	}

	if _, err := e.Upload(ctx, "k", []byte{0xff, 0xff}); !errors.Is(err, errors.ValidationFailed) {
		t.Errorf("corrupt upload = %v, want ValidationFailed", err)
	}
	if _, err := e.Fetch(ctx, "unknown"); !errors.Is(err, errors.ReferenceNotFound) {
		t.Errorf("Fetch(unknown) = %v, want ReferenceNotFound", err)
	}
}

func TestExecutor_Release(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	a := accept(t, e, "s1", &command.Create{Module: "builtins", Class: "str"})
	accept(t, e, "s1", &command.Create{Module: "builtins", Class: "str"})
	c := accept(t, e, "s2", &command.Create{Module: "builtins", Class: "str"})
	e.Wait(ctx, c)

	if !e.Release(ctx, c) {
		t.Error("Release(c) = false")
	}
	if n := e.ReleaseSession(ctx, "s1"); n != 2 {
		t.Errorf("ReleaseSession = %d, want 2", n)
	}
	if _, err := e.Wait(ctx, a); !errors.Is(err, errors.ReferenceNotFound) {
		t.Errorf("released reference = %v, want ReferenceNotFound", err)
	}
}

func TestExecutor_SweptValuesAreArchived(t *testing.T) {
	a, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}
	e := newTestExecutor(t, WithArchive(a), WithTTL(time.Millisecond, 5*time.Millisecond))
	ctx := context.Background()

	ref := accept(t, e, "k", &command.Create{Module: "builtins", Class: "str", Args: []any{"kept"}})
	if _, err := e.Wait(ctx, ref); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	obj := accept(t, e, "k", &command.Create{Module: "tests", Class: "Dummy"})
	if _, err := e.Wait(ctx, obj); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := a.Count(ctx); n >= 2 && e.Len() == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sweeper never evicted the references")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Values stay readable.
	v, err := e.Wait(ctx, ref)
	if err != nil || v != "kept" {
		t.Errorf("archived value = %v, %v", v, err)
	}
	if _, err := e.Fetch(ctx, obj); err != nil {
		t.Errorf("Fetch(<archived object>) = %v", err)
	}

	// The live objects are gone: commands on them fail instead of acting on
	// a decoded copy.
	call := accept(t, e, "k", &command.Call{Object: obj, Method: "a"})
	if _, err := e.Wait(ctx, call); !errors.Is(err, errors.ExecutionFailed) || !stderrors.Is(err, errors.ErrReferenceNotFound) {
		t.Errorf("call on swept object = %v, want ExecutionFailed caused by ReferenceNotFound", err)
	}
	arg := accept(t, e, "k", &command.Create{Module: "builtins", Class: "str", Args: []any{ref}})
	if _, err := e.Wait(ctx, arg); !errors.Is(err, errors.ExecutionFailed) || !strings.Contains(err.Error(), "evicted") {
		t.Errorf("str(<swept>) = %v, want an eviction failure", err)
	}
}

func TestExecutor_CloseDrains(t *testing.T) {
	e := New(testCatalog())
	var refs []command.Reference
	for i := 0; i < 10; i++ {
		refs = append(refs, accept(t, e, fmt.Sprint(i), &command.Create{Module: "builtins", Class: "int", Args: []any{i}}))
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, ref := range refs {
		if v, err := e.Wait(context.Background(), ref); err != nil || v != i {
			t.Errorf("ref %d = %v, %v", i, v, err)
		}
	}
	if _, err := e.Accept(context.Background(), "k", encode(t, &command.Get{Object: refs[0]})); !errors.Is(err, errors.TransportFailure) {
		t.Errorf("Accept after Close = %v, want TransportFailure", err)
	}
}
