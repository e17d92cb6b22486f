// Package proxy is the client side of the runtime: local stand-ins for
// objects living in an executor.
//
// A Client wraps one transport. Client.Class names a remote class without a
// round trip; BoundProxy.New creates an instance and blocks until its
// reference is known. Every operation on a Proxy sends a command and returns
// a new Proxy for the result, except Len and Str, which return literal
// values, and Get and Decode, which fetch the current value. Failures of the
// remote operation surface when a value is fetched.
package proxy

import (
	"context"
	stderrors "errors"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/astaric/orangeremote/catalog"
	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/errors"
	"github.com/astaric/orangeremote/transport"
)

var log = commonlog.GetLogger("orange.proxy")

// DefaultTimeout bounds every blocking call whose context has no deadline.
const DefaultTimeout = 30 * time.Second

// ErrAttributeAbsent is returned for attributes that would copy or serialize
// the proxy itself.
var ErrAttributeAbsent = errors.ErrAttributeAbsent

var reservedAttrs = map[string]bool{
	"__getnewargs__":    true,
	"__getnewargs_ex__": true,
	"__getstate__":      true,
	"__setstate__":      true,
	"__reduce__":        true,
	"__reduce_ex__":     true,
}

// Kwargs passes keyword arguments. It may appear anywhere in an argument
// list; multiple Kwargs are merged.
type Kwargs map[string]any

// Client sends commands for proxies over one transport.
type Client struct {
	transport transport.Transport
	timeout   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout replaces DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Open creates a Client using t.
func Open(t transport.Transport, opts ...Option) *Client {
	c := &Client{transport: t, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Class returns a proxy for the class module.name. No command is sent.
func (c *Client) Class(module, name string) *BoundProxy {
	return &BoundProxy{client: c, module: module, name: name}
}

// Ref returns a proxy for an existing reference.
func (c *Client) Ref(ref command.Reference) *Proxy {
	return &Proxy{client: c, ref: ref}
}

// Upload stores v in the executor and returns a proxy for it.
func (c *Client) Upload(ctx context.Context, v any) (*Proxy, error) {
	data, err := codec.MarshalValue(v)
	if err != nil {
		return nil, errors.New(errors.ValidationFailed, "proxy.upload", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	ref, err := c.transport.Upload(ctx, data)
	if err != nil {
		return nil, transport.Classify(ctx, "proxy.upload", err)
	}
	return c.Ref(ref), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) send(ctx context.Context, cmd command.Command, mode transport.Mode) (transport.Reply, error) {
	cmd.Head().Result = command.Reference(uuid.NewString())
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log.Debugf("sending %s (%s)", cmd.Describe(), mode)
	reply, err := c.transport.Send(ctx, transport.Outbound{Command: cmd, Mode: mode})
	if err != nil {
		return reply, transport.Classify(ctx, "proxy.send", err)
	}
	if reply.Reference == "" {
		reply.Reference = cmd.Head().Result
	}
	return reply, nil
}

func (c *Client) value(ctx context.Context, cmd command.Command) (any, error) {
	reply, err := c.send(ctx, cmd, transport.ModeValue)
	if err != nil {
		return nil, err
	}
	v, err := codec.UnmarshalValue(reply.Value)
	if err != nil {
		return nil, errors.New(errors.TransportFailure, "proxy.value", err)
	}
	return v, nil
}

// BoundProxy stands for a remote class.
type BoundProxy struct {
	client *Client
	module string
	name   string
}

// Module returns the module the class is looked up in.
func (b *BoundProxy) Module() string { return b.module }

// Name returns the class name.
func (b *BoundProxy) Name() string { return b.name }

// New creates an instance. It blocks until the executor has accepted the
// command but not until the constructor has run: a failing constructor is
// reported by Get on the returned proxy.
func (b *BoundProxy) New(ctx context.Context, args ...any) (*Proxy, error) {
	a, kw := splitArgs(args)
	reply, err := b.client.send(ctx, &command.Create{Module: b.module, Class: b.name, Args: a, Kwargs: kw}, transport.ModeReference)
	if err != nil {
		return nil, err
	}
	return b.client.Ref(reply.Reference), nil
}

// Proxy stands for a remote value. Copies share the reference.
type Proxy struct {
	client *Client
	ref    command.Reference
}

// Reference returns the identifier of the remote value. Proxies passed as
// arguments travel as this reference.
func (p *Proxy) Reference() command.Reference {
	return p.ref
}

func (p *Proxy) String() string {
	return "<proxy " + string(p.ref) + ">"
}

// Invoke sends any named operation. Names starting with "." read an
// attribute (".b" is Attr("b")); every other name calls that method, which
// includes the protocol operations such as __getitem__ and __len__.
func (p *Proxy) Invoke(ctx context.Context, name string, args ...any) (*Proxy, error) {
	if len(name) > 1 && name[0] == '.' {
		return p.Attr(ctx, name[1:])
	}
	a, kw := splitArgs(args)
	return p.async(ctx, &command.Call{Object: p.ref, Method: name, Args: a, Kwargs: kw})
}

// Call calls method with args.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (*Proxy, error) {
	return p.Invoke(ctx, method, args...)
}

// Attr reads the attribute name.
func (p *Proxy) Attr(ctx context.Context, name string) (*Proxy, error) {
	if reservedAttrs[name] {
		return nil, errors.Newf(errors.AttributeAbsent, "proxy.attr", "%s has no attribute %q", p, name)
	}
	return p.async(ctx, &command.Get{Object: p.ref, Member: name})
}

// Index reads element key.
func (p *Proxy) Index(ctx context.Context, key any) (*Proxy, error) {
	return p.async(ctx, &command.Call{Object: p.ref, Method: "__getitem__", Args: []any{key}})
}

// Len returns the length of the remote value.
func (p *Proxy) Len(ctx context.Context) (int, error) {
	v, err := p.client.value(ctx, &command.Call{Object: p.ref, Method: "__len__"})
	if err != nil {
		return 0, err
	}
	n, err := catalog.As[int](v)
	if err != nil {
		return 0, errors.New(errors.ExecutionFailed, "proxy.len", err)
	}
	return n, nil
}

// Str returns the string form of the remote value.
func (p *Proxy) Str(ctx context.Context) (string, error) {
	v, err := p.client.value(ctx, &command.Call{Object: p.ref, Method: "__str__"})
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Newf(errors.ExecutionFailed, "proxy.str", "__str__ returned %T", v)
	}
	return s, nil
}

// All yields a proxy for every element, reading the length once.
func (p *Proxy) All(ctx context.Context) iter.Seq2[*Proxy, error] {
	return func(yield func(*Proxy, error) bool) {
		n, err := p.Len(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for i := range n {
			item, err := p.Index(ctx, i)
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

// Get fetches the current value, waiting while it is being computed.
func (p *Proxy) Get(ctx context.Context) (any, error) {
	data, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}
	v, err := codec.UnmarshalValue(data)
	if err != nil {
		return nil, errors.New(errors.TransportFailure, "proxy.get", err)
	}
	return v, nil
}

// Decode fetches the current value into out, which must be a pointer.
func (p *Proxy) Decode(ctx context.Context, out any) error {
	data, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	if err := codec.UnmarshalInto(data, out); err != nil {
		return errors.New(errors.ValidationFailed, "proxy.decode", err)
	}
	return nil
}

func (p *Proxy) fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := p.client.withTimeout(ctx)
	defer cancel()
	data, err := p.client.transport.Fetch(ctx, p.ref)
	if err != nil {
		return nil, transport.Classify(ctx, "proxy.get", err)
	}
	return data, nil
}

func (p *Proxy) async(ctx context.Context, cmd command.Command) (*Proxy, error) {
	reply, err := p.client.send(ctx, cmd, transport.ModeAsync)
	if err != nil {
		return nil, err
	}
	return p.client.Ref(reply.Reference), nil
}

func splitArgs(args []any) ([]any, map[string]any) {
	var (
		positional []any
		kwargs     map[string]any
	)
	for _, a := range args {
		kw, ok := a.(Kwargs)
		if !ok {
			positional = append(positional, a)
			continue
		}
		if kwargs == nil {
			kwargs = make(map[string]any, len(kw))
		}
		for k, v := range kw {
			kwargs[k] = v
		}
	}
	return positional, kwargs
}

// IsAttributeAbsent reports whether err refused a reserved attribute.
func IsAttributeAbsent(err error) bool {
	return stderrors.Is(err, ErrAttributeAbsent)
}
