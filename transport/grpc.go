package transport

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/config"
	"github.com/astaric/orangeremote/rpc"
)

// GRPC calls the ExecutorService with grpc-go. Messages use the same CBOR
// codec as the Connect binding.
type GRPC struct {
	conn    *grpc.ClientConn
	session string
}

// NewGRPC dials the server at target (host:port) without TLS. An empty
// target reads ORANGE_SERVER. Extra dial options are appended.
func NewGRPC(target string, opts ...grpc.DialOption) (*GRPC, error) {
	if target == "" {
		target = config.ServerAddress()
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rpc.Codec{})),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPC{conn: conn, session: uuid.NewString()}, nil
}

func (t *GRPC) Send(ctx context.Context, out Outbound) (Reply, error) {
	Prepare(out)
	env, err := codec.Encode(out.Command)
	if err != nil {
		return Reply{}, err
	}
	var resp rpc.SubmitResponse
	req := &rpc.SubmitRequest{Envelope: env, Session: t.session}
	if err := t.conn.Invoke(ctx, rpc.ExecutorServiceSubmitProcedure, req, &resp); err != nil {
		return Reply{}, t.fail(ctx, "transport.send", err)
	}
	return Reply{Reference: command.Reference(resp.Reference), Value: resp.Value}, nil
}

func (t *GRPC) Fetch(ctx context.Context, ref command.Reference) ([]byte, error) {
	var resp rpc.FetchResponse
	if err := t.conn.Invoke(ctx, rpc.ExecutorServiceFetchProcedure, &rpc.FetchRequest{Reference: string(ref)}, &resp); err != nil {
		return nil, t.fail(ctx, "transport.fetch", err)
	}
	return resp.Value, nil
}

func (t *GRPC) Upload(ctx context.Context, data []byte) (command.Reference, error) {
	var resp rpc.UploadResponse
	if err := t.conn.Invoke(ctx, rpc.ExecutorServiceUploadProcedure, &rpc.UploadRequest{Value: data, Session: t.session}, &resp); err != nil {
		return "", t.fail(ctx, "transport.upload", err)
	}
	return command.Reference(resp.Reference), nil
}

// Close releases the session's references and closes the connection.
func (t *GRPC) Close() error {
	ctx := context.Background()
	var resp rpc.ReleaseResponse
	err := t.conn.Invoke(ctx, rpc.ExecutorServiceReleaseProcedure, &rpc.ReleaseRequest{Session: t.session}, &resp)
	if cerr := t.conn.Close(); err == nil && cerr != nil {
		return cerr
	}
	return t.fail(ctx, "transport.close", err)
}

func (t *GRPC) fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return Classify(ctx, op, err)
	}
	return rpc.FromGRPCError(err, op)
}
