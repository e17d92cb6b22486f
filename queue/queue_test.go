package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astaric/orangeremote/catalog/catalogtest"
	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/config"
	"github.com/astaric/orangeremote/errors"
	"github.com/astaric/orangeremote/executor"
	"github.com/astaric/orangeremote/transport"
)

type fixture struct {
	nc       *nats.Conn
	exec     *executor.Executor
	consumer *Consumer
	client   *Transport
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ns, err := RunEmbedded("127.0.0.1", -1)
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	exec := executor.New(catalogtest.New(), executor.WithWaitTimeout(2*time.Second))
	t.Cleanup(func() { exec.Close() })

	consumer := NewConsumer(nc, exec)
	require.NoError(t, consumer.Start(context.Background()))
	t.Cleanup(func() { consumer.Stop() })

	client, err := NewTransport(nc)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &fixture{nc: nc, exec: exec, consumer: consumer, client: client}
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQueue_CreateCallFetch(t *testing.T) {
	f := setup(t)
	ctx := ctxTimeout(t)

	reply, err := f.client.Send(ctx, transport.Outbound{
		Command: &command.Create{Module: catalogtest.Module, Class: "Dummy"},
		Mode:    transport.ModeReference,
	})
	require.NoError(t, err)
	require.NotEmpty(t, reply.Reference)
	obj := reply.Reference

	// Fire-and-forget; the follow-up fetch is ordered after it.
	call, err := f.client.Send(ctx, transport.Outbound{
		Command: &command.Call{Object: obj, Method: "a"},
		Mode:    transport.ModeAsync,
	})
	require.NoError(t, err)
	require.NotEmpty(t, call.Reference)

	data, err := f.client.Fetch(ctx, call.Reference)
	require.NoError(t, err)
	v, err := codec.UnmarshalValue(data)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	value, err := f.client.Send(ctx, transport.Outbound{
		Command: &command.Get{Object: obj, Member: "b"},
		Mode:    transport.ModeValue,
	})
	require.NoError(t, err)
	v, err = codec.UnmarshalValue(value.Value)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestQueue_ValueReadsKeepNoReferences(t *testing.T) {
	f := setup(t)
	ctx := ctxTimeout(t)

	reply, err := f.client.Send(ctx, transport.Outbound{
		Command: &command.Create{Module: "builtins", Class: "list", Args: []any{"ab"}},
		Mode:    transport.ModeReference,
	})
	require.NoError(t, err)
	list := reply.Reference
	item, err := f.client.Send(ctx, transport.Outbound{
		Command: &command.Call{Object: list, Method: "__getitem__", Args: []any{0}},
		Mode:    transport.ModeAsync,
	})
	require.NoError(t, err)
	_, err = f.client.Fetch(ctx, item.Reference)
	require.NoError(t, err)
	held := f.exec.Len()
	require.Equal(t, 2, held)

	for i := 0; i < 5; i++ {
		_, err := f.client.Fetch(ctx, list)
		require.NoError(t, err)
		n, err := f.client.Send(ctx, transport.Outbound{
			Command: &command.Call{Object: list, Method: "__len__"},
			Mode:    transport.ModeValue,
		})
		require.NoError(t, err)
		v, err := codec.UnmarshalValue(n.Value)
		require.NoError(t, err)
		assert.EqualValues(t, 2, v)
	}
	assert.Equal(t, held, f.exec.Len())
}

func TestQueue_Errors(t *testing.T) {
	f := setup(t)
	ctx := ctxTimeout(t)

	_, err := f.client.Fetch(ctx, command.Reference(uuid.NewString()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ReferenceNotFound), "got %v", err)

	reply, err := f.client.Send(ctx, transport.Outbound{
		Command: &command.Create{Module: "builtins", Class: "int", Args: []any{"a"}},
		Mode:    transport.ModeReference,
	})
	require.NoError(t, err, "a failing constructor still yields a reference")
	_, err = f.client.Fetch(ctx, reply.Reference)
	assert.True(t, errors.Is(err, errors.ExecutionFailed), "got %v", err)

	msg := nats.NewMsg(config.DefaultSubject)
	msg.Data = []byte(`{"delete": {}}`)
	msg.Header.Set(HeaderReply, replyReference)
	id, err := f.client.Publish(msg)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok, _ := f.client.Result(id)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestQueue_ResultPolling(t *testing.T) {
	f := setup(t)

	body, err := codec.Encode(&command.Create{
		Header: command.Header{Result: command.Reference(uuid.NewString()), ReturnResult: true},
		Module: "builtins",
		Class:  "list",
		Args:   []any{"ab"},
	})
	require.NoError(t, err)
	msg := nats.NewMsg(config.DefaultSubject)
	msg.Data = body
	msg.Header.Set(HeaderReply, replyValue)

	id, err := f.client.Publish(msg)
	require.NoError(t, err)

	var (
		data      []byte
		resultErr error
	)
	require.Eventually(t, func() bool {
		d, ok, err := f.client.Result(id)
		data, resultErr = d, err
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, resultErr)

	v, err := codec.UnmarshalValue(data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)

	_, _, err = f.client.Result(id)
	assert.True(t, errors.Is(err, errors.ReferenceNotFound), "results are delivered once")
}

func TestQueue_Upload(t *testing.T) {
	f := setup(t)
	ctx := ctxTimeout(t)

	blob, err := codec.MarshalValue(map[string]any{"k": "v"})
	require.NoError(t, err)
	ref, err := f.client.Upload(ctx, blob)
	require.NoError(t, err)

	data, err := f.client.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, blob, data)

	_, err = f.client.Upload(ctx, []byte{0xff, 0xff})
	assert.True(t, errors.Is(err, errors.ValidationFailed), "got %v", err)
}

func TestQueue_SendTimeout(t *testing.T) {
	ns, err := RunEmbedded("127.0.0.1", -1)
	require.NoError(t, err)
	defer ns.Shutdown()
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	// Nobody consumes the work subject.
	client, err := NewTransport(nc)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Send(ctx, transport.Outbound{
		Command: &command.Create{Module: "builtins", Class: "int"},
		Mode:    transport.ModeReference,
	})
	assert.True(t, errors.Is(err, errors.Timeout), "got %v", err)
}

func TestConsumer_StartStop(t *testing.T) {
	f := setup(t)
	assert.ErrorIs(t, f.consumer.Start(context.Background()), ErrStarted)
	require.NoError(t, f.consumer.Stop())
	require.NoError(t, f.consumer.Stop())
	require.NoError(t, f.consumer.Start(context.Background()))
}
