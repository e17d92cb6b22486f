package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/config"
	"github.com/astaric/orangeremote/errors"
	"github.com/astaric/orangeremote/transport"
)

// Transport publishes commands to the work subject. Replies arrive on a
// private inbox and are filed by correlation id in a results table that
// blocking calls wait on and Result polls.
type Transport struct {
	nc      *nats.Conn
	subject string
	session string
	inbox   string
	sub     *nats.Subscription

	mu      sync.Mutex
	results map[string]*pending
}

type pending struct {
	done chan struct{}
	data []byte
	err  error
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithWorkSubject sets the subject commands are published to.
func WithWorkSubject(subject string) TransportOption {
	return func(t *Transport) { t.subject = subject }
}

// WithSession sets the session the executor files references under.
func WithSession(session string) TransportOption {
	return func(t *Transport) { t.session = session }
}

// NewTransport subscribes to a fresh inbox on nc and returns a Transport
// publishing to the work subject.
func NewTransport(nc *nats.Conn, opts ...TransportOption) (*Transport, error) {
	t := &Transport{
		nc:      nc,
		subject: config.DefaultSubject,
		session: uuid.NewString(),
		inbox:   nc.NewInbox(),
		results: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(t)
	}
	sub, err := nc.Subscribe(t.inbox, t.receive)
	if err != nil {
		return nil, errors.New(errors.TransportFailure, "queue.transport", err)
	}
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, errors.New(errors.TransportFailure, "queue.transport", err)
	}
	t.sub = sub
	return t, nil
}

// Session returns the session this transport files references under.
func (t *Transport) Session() string {
	return t.session
}

// receive files a reply under its correlation id.
func (t *Transport) receive(msg *nats.Msg) {
	id := msg.Header.Get(HeaderCorrelation)
	t.mu.Lock()
	p, ok := t.results[id]
	t.mu.Unlock()
	if !ok {
		log.Debugf("reply with unknown correlation id %q", id)
		return
	}
	select {
	case <-p.done:
		log.Debugf("duplicate reply for correlation id %q", id)
		return
	default:
	}
	if kind := msg.Header.Get(HeaderErrorKind); kind != "" {
		p.err = errors.Unmarshal(msg.Data, "queue.reply", errors.ParseKind(kind))
	} else {
		p.data = msg.Data
	}
	close(p.done)
}

// Send publishes the command. ModeAsync returns once the message is
// published; the other modes wait for the executor's reply.
func (t *Transport) Send(ctx context.Context, out transport.Outbound) (transport.Reply, error) {
	transport.Prepare(out)
	head := out.Command.Head()
	if head.Result == "" {
		head.Result = command.Reference(uuid.NewString())
	}
	body, err := codec.Encode(out.Command)
	if err != nil {
		return transport.Reply{}, err
	}

	msg := nats.NewMsg(t.subject)
	msg.Data = body
	msg.Header.Set(HeaderSession, t.session)
	if out.Mode == transport.ModeAsync {
		if err := t.nc.PublishMsg(msg); err != nil {
			return transport.Reply{}, errors.New(errors.TransportFailure, "queue.send", err)
		}
		return transport.Reply{Reference: head.Result}, nil
	}

	reply := replyReference
	if out.Mode == transport.ModeValue {
		reply = replyValue
	}
	msg.Header.Set(HeaderReply, reply)
	data, err := t.request(ctx, "queue.send", msg)
	if err != nil {
		return transport.Reply{}, err
	}
	if out.Mode == transport.ModeValue {
		return transport.Reply{Reference: head.Result, Value: data}, nil
	}
	return transport.Reply{Reference: command.Reference(data)}, nil
}

// Fetch asks for the value of ref. Unlike a Get command it reserves no
// reference, and an unknown ref fails with ReferenceNotFound.
func (t *Transport) Fetch(ctx context.Context, ref command.Reference) ([]byte, error) {
	msg := nats.NewMsg(t.subject)
	msg.Header.Set(HeaderSession, t.session)
	msg.Header.Set(HeaderFetch, string(ref))
	msg.Header.Set(HeaderReply, replyValue)
	return t.request(ctx, "queue.fetch", msg)
}

func (t *Transport) Upload(ctx context.Context, data []byte) (command.Reference, error) {
	msg := nats.NewMsg(t.subject)
	msg.Data = data
	msg.Header.Set(HeaderSession, t.session)
	msg.Header.Set(HeaderContentType, contentTypeBinary)
	msg.Header.Set(HeaderReply, replyReference)
	id, err := t.request(ctx, "queue.upload", msg)
	if err != nil {
		return "", err
	}
	return command.Reference(id), nil
}

// Publish sends msg with a fresh correlation id and returns the id without
// waiting. The reply is collected with Result.
func (t *Transport) Publish(msg *nats.Msg) (string, error) {
	id := uuid.NewString()
	msg.Reply = t.inbox
	msg.Header.Set(HeaderCorrelation, id)

	t.mu.Lock()
	t.results[id] = &pending{done: make(chan struct{})}
	t.mu.Unlock()

	if err := t.nc.PublishMsg(msg); err != nil {
		t.forget(id)
		return "", errors.New(errors.TransportFailure, "queue.publish", err)
	}
	return id, nil
}

// Result polls the results table. It reports false while the reply for id
// has not arrived; a delivered result is removed from the table.
func (t *Transport) Result(id string) ([]byte, bool, error) {
	t.mu.Lock()
	p, ok := t.results[id]
	t.mu.Unlock()
	if !ok {
		return nil, false, errors.Newf(errors.ReferenceNotFound, "queue.result", "no request with correlation id %s", id)
	}
	select {
	case <-p.done:
		t.forget(id)
		return p.data, true, p.err
	default:
		return nil, false, nil
	}
}

func (t *Transport) request(ctx context.Context, op string, msg *nats.Msg) ([]byte, error) {
	id, err := t.Publish(msg)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	p := t.results[id]
	t.mu.Unlock()

	select {
	case <-p.done:
		t.forget(id)
		return p.data, p.err
	case <-ctx.Done():
		t.forget(id)
		return nil, errors.New(errors.Timeout, op, ctx.Err())
	}
}

func (t *Transport) forget(id string) {
	t.mu.Lock()
	delete(t.results, id)
	t.mu.Unlock()
}

// Close unsubscribes the inbox. The connection stays open.
func (t *Transport) Close() error {
	return t.sub.Unsubscribe()
}

var _ transport.Transport = (*Transport)(nil)
