package transport

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/astaric/orangeremote/catalog/catalogtest"
	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/errors"
	"github.com/astaric/orangeremote/executor"
	"github.com/astaric/orangeremote/server"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	exec := executor.New(catalogtest.New(), executor.WithWaitTimeout(2*time.Second))
	ts := httptest.NewServer(server.New(exec).Handler())
	t.Cleanup(func() {
		ts.Close()
		exec.Close()
	})
	return ts
}

func transports(t *testing.T, ts *httptest.Server) map[string]Transport {
	t.Helper()
	g, err := NewGRPC(strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatalf("NewGRPC: %v", err)
	}
	return map[string]Transport{
		"http":         NewHTTP(ts.URL, WithHTTPClient(ts.Client())),
		"connect":      NewConnect(ts.URL, WithConnectHTTPClient(ts.Client())),
		"connect-grpc": NewConnect(ts.URL, WithGRPC()),
		"grpc":         g,
	}
}

func newRef() command.Reference {
	return command.Reference(uuid.NewString())
}

func TestTransports(t *testing.T) {
	ts := startServer(t)
	for name, tr := range transports(t, ts) {
		t.Run(name, func(t *testing.T) {
			defer tr.Close()
			ctx := context.Background()

			obj := newRef()
			reply, err := tr.Send(ctx, Outbound{
				Command: &command.Create{Header: command.Header{Result: obj}, Module: catalogtest.Module, Class: "Dummy"},
				Mode:    ModeReference,
			})
			if err != nil {
				t.Fatalf("Send(create): %v", err)
			}
			if reply.Reference != obj {
				t.Fatalf("reference = %q, want %q", reply.Reference, obj)
			}

			reply, err = tr.Send(ctx, Outbound{
				Command: &command.Call{Header: command.Header{Result: newRef()}, Object: obj, Method: "a"},
				Mode:    ModeValue,
			})
			if err != nil {
				t.Fatalf("Send(call): %v", err)
			}
			v, err := codec.UnmarshalValue(reply.Value)
			if err != nil || v != "a" {
				t.Fatalf("a() = %v, %v", v, err)
			}

			attr := newRef()
			if _, err := tr.Send(ctx, Outbound{
				Command: &command.Get{Header: command.Header{Result: attr}, Object: obj, Member: "b"},
			}); err != nil {
				t.Fatalf("Send(get): %v", err)
			}
			data, err := tr.Fetch(ctx, attr)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if v, _ := codec.UnmarshalValue(data); v != "b" {
				t.Fatalf("b = %v", v)
			}

			blob, _ := codec.MarshalValue(map[string]any{"k": "v"})
			ref, err := tr.Upload(ctx, blob)
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if data, err := tr.Fetch(ctx, ref); err != nil || string(data) != string(blob) {
				t.Fatalf("Fetch(upload) = %x, %v", data, err)
			}
		})
	}
}

func TestTransports_Errors(t *testing.T) {
	ts := startServer(t)
	for name, tr := range transports(t, ts) {
		t.Run(name, func(t *testing.T) {
			defer tr.Close()
			ctx := context.Background()

			_, err := tr.Fetch(ctx, "missing")
			if !errors.Is(err, errors.ReferenceNotFound) {
				t.Fatalf("Fetch(missing) = %v, want ReferenceNotFound", err)
			}

			_, err = tr.Send(ctx, Outbound{
				Command: &command.Create{Header: command.Header{Result: newRef()}, Module: "builtins", Class: "int", Args: []any{"a"}},
				Mode:    ModeValue,
			})
			if !errors.Is(err, errors.ExecutionFailed) {
				t.Fatalf("int(\"a\") = %v, want ExecutionFailed", err)
			}
			if !strings.Contains(err.Error(), "invalid literal") {
				t.Fatalf("error lost its message: %v", err)
			}

			_, err = tr.Upload(ctx, []byte{0xff, 0xff})
			if !errors.Is(err, errors.ValidationFailed) {
				t.Fatalf("Upload(garbage) = %v, want ValidationFailed", err)
			}
		})
	}
}

func TestHTTP_Unreachable(t *testing.T) {
	ts := httptest.NewServer(nil)
	addr := ts.URL
	ts.Close()

	tr := NewHTTP(addr)
	_, err := tr.Fetch(context.Background(), "x")
	if !errors.Is(err, errors.TransportFailure) {
		t.Fatalf("Fetch from a closed server = %v, want TransportFailure", err)
	}
}

func TestClassify(t *testing.T) {
	expired, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want errors.Kind
	}{
		{"transport", context.Background(), io.ErrUnexpectedEOF, errors.TransportFailure},
		{"deadline", context.Background(), context.DeadlineExceeded, errors.Timeout},
		{"expired context", expired, io.ErrUnexpectedEOF, errors.Timeout},
		{"classified", context.Background(), errors.Newf(errors.ReferenceNotFound, "x", "gone"), errors.ReferenceNotFound},
	}
	for _, tt := range tests {
		if got := errors.KindOf(Classify(tt.ctx, "test", tt.err)); got != tt.want {
			t.Errorf("%s: kind = %v, want %v", tt.name, got, tt.want)
		}
	}
	if Classify(context.Background(), "test", nil) != nil {
		t.Error("Classify(nil) != nil")
	}
}

func TestNewHTTP_Address(t *testing.T) {
	t.Setenv("ORANGE_SERVER", "example.com:8000")
	if got := NewHTTP("").base; got != "http://example.com:8000" {
		t.Fatalf("base = %q", got)
	}
	if got := NewHTTP("localhost:1/").base; got != "http://localhost:1" {
		t.Fatalf("base = %q", got)
	}
}
