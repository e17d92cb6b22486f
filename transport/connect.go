package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/config"
	"github.com/astaric/orangeremote/rpc"
)

// Connect calls the ExecutorService with connect-go, speaking the Connect
// protocol or, with WithGRPC, gRPC over cleartext HTTP/2.
type Connect struct {
	client  *rpc.ExecutorServiceClient
	session string
}

type connectOptions struct {
	httpClient connect.HTTPClient
	grpc       bool
	session    string
	client     []connect.ClientOption
}

// ConnectOption configures a Connect transport.
type ConnectOption func(*connectOptions)

// WithGRPC speaks gRPC instead of the Connect protocol.
func WithGRPC() ConnectOption {
	return func(o *connectOptions) { o.grpc = true }
}

// WithConnectHTTPClient replaces the HTTP client used for calls.
func WithConnectHTTPClient(c connect.HTTPClient) ConnectOption {
	return func(o *connectOptions) { o.httpClient = c }
}

// WithConnectSession sets the session the server files references under.
func WithConnectSession(session string) ConnectOption {
	return func(o *connectOptions) { o.session = session }
}

// WithClientOptions passes options through to connect.NewClient.
func WithClientOptions(opts ...connect.ClientOption) ConnectOption {
	return func(o *connectOptions) { o.client = append(o.client, opts...) }
}

// NewConnect creates a transport for the server at addr. An empty addr
// reads ORANGE_SERVER.
func NewConnect(addr string, opts ...ConnectOption) *Connect {
	o := connectOptions{session: uuid.NewString()}
	for _, opt := range opts {
		opt(&o)
	}
	if addr == "" {
		addr = config.ServerAddress()
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	if o.grpc {
		o.client = append(o.client, connect.WithGRPC())
		if o.httpClient == nil {
			o.httpClient = H2CClient()
		}
	}
	if o.httpClient == nil {
		o.httpClient = http.DefaultClient
	}
	return &Connect{
		client:  rpc.NewExecutorServiceClient(o.httpClient, addr, o.client...),
		session: o.session,
	}
}

// H2CClient returns an HTTP client that speaks HTTP/2 without TLS.
func H2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

func (t *Connect) Send(ctx context.Context, out Outbound) (Reply, error) {
	Prepare(out)
	env, err := codec.Encode(out.Command)
	if err != nil {
		return Reply{}, err
	}
	resp, err := t.client.Submit(ctx, connect.NewRequest(&rpc.SubmitRequest{Envelope: env, Session: t.session}))
	if err != nil {
		return Reply{}, t.fail(ctx, "transport.send", err)
	}
	return Reply{Reference: command.Reference(resp.Msg.Reference), Value: resp.Msg.Value}, nil
}

func (t *Connect) Fetch(ctx context.Context, ref command.Reference) ([]byte, error) {
	resp, err := t.client.Fetch(ctx, connect.NewRequest(&rpc.FetchRequest{Reference: string(ref)}))
	if err != nil {
		return nil, t.fail(ctx, "transport.fetch", err)
	}
	return resp.Msg.Value, nil
}

func (t *Connect) Upload(ctx context.Context, data []byte) (command.Reference, error) {
	resp, err := t.client.Upload(ctx, connect.NewRequest(&rpc.UploadRequest{Value: data, Session: t.session}))
	if err != nil {
		return "", t.fail(ctx, "transport.upload", err)
	}
	return command.Reference(resp.Msg.Reference), nil
}

// Close releases every reference of this transport's session.
func (t *Connect) Close() error {
	ctx := context.Background()
	_, err := t.client.Release(ctx, connect.NewRequest(&rpc.ReleaseRequest{Session: t.session}))
	return t.fail(ctx, "transport.close", err)
}

func (t *Connect) fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return Classify(ctx, op, err)
	}
	return rpc.FromConnectError(err, op)
}
