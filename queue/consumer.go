package queue

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/config"
	"github.com/astaric/orangeremote/errors"
	"github.com/astaric/orangeremote/executor"
	"github.com/astaric/orangeremote/metrics"
)

// ErrStarted is returned by Start on a running Consumer.
var ErrStarted = stderrors.New("queue: consumer already started")

// Consumer feeds messages from the work subject to an executor.
type Consumer struct {
	nc      *nats.Conn
	exec    *executor.Executor
	subject string
	group   string
	metrics *metrics.Metrics

	mu      sync.Mutex
	sub     *nats.Subscription
	cancel  context.CancelFunc
	stopped bool
	// waiters counts running handlers and pending value replies.
	waiters sync.WaitGroup
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithSubject sets the work subject.
func WithSubject(subject string) ConsumerOption {
	return func(c *Consumer) { c.subject = subject }
}

// WithGroup sets the queue group. Consumers sharing a group split the work.
func WithGroup(group string) ConsumerOption {
	return func(c *Consumer) { c.group = group }
}

// WithMetrics records request metrics into m.
func WithMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// NewConsumer creates a Consumer reading from nc. It does nothing until Start.
func NewConsumer(nc *nats.Conn, exec *executor.Executor, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		nc:      nc,
		exec:    exec,
		subject: config.DefaultSubject,
		group:   config.DefaultGroup,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to the work subject. Messages are handled one at a time in
// receipt order; value replies are sent once the command has run, without
// holding up later messages.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return ErrStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	sub, err := c.nc.QueueSubscribe(c.subject, c.group, func(msg *nats.Msg) {
		if !c.enter() {
			return
		}
		defer c.waiters.Done()
		c.handle(ctx, msg)
	})
	if err != nil {
		cancel()
		return errors.New(errors.TransportFailure, "queue.start", err)
	}
	if err := c.nc.Flush(); err != nil {
		sub.Unsubscribe()
		cancel()
		return errors.New(errors.TransportFailure, "queue.start", err)
	}
	c.sub = sub
	c.cancel = cancel
	c.stopped = false
	log.Infof("consuming %q in group %q", c.subject, c.group)
	return nil
}

// Stop unsubscribes and waits for pending value replies.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	sub, cancel := c.sub, c.cancel
	c.sub, c.cancel = nil, nil
	c.stopped = true
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Unsubscribe()
	c.waiters.Wait()
	cancel()
	log.Infof("stopped consuming %q", c.subject)
	return err
}

func (c *Consumer) enter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.waiters.Add(1)
	return true
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	key := msg.Header.Get(HeaderSession)
	if key == "" {
		key = msg.Reply
	}
	mode := msg.Header.Get(HeaderReply)

	if msg.Header.Get(HeaderContentType) == contentTypeBinary {
		ref, err := c.exec.Upload(ctx, key, msg.Data)
		c.reply(msg, "upload", []byte(ref), err)
		return
	}

	if ref := msg.Header.Get(HeaderFetch); ref != "" {
		c.waitAndReply(msg, "fetch", func() ([]byte, error) {
			return c.exec.Fetch(ctx, command.Reference(ref))
		})
		return
	}

	cmd, err := c.exec.Accept(ctx, key, msg.Data)
	if err != nil || mode != replyValue {
		var ref []byte
		if cmd != nil {
			ref = []byte(cmd.Head().Result)
		}
		c.reply(msg, "submit", ref, err)
		return
	}

	// The value travels back by copy, so its slot is not kept.
	ref := cmd.Head().Result
	c.waitAndReply(msg, "submit", func() ([]byte, error) {
		defer c.exec.Release(ctx, ref)
		v, err := c.exec.Wait(ctx, ref)
		if err != nil {
			return nil, err
		}
		data, err := codec.MarshalValue(v)
		if err != nil {
			return nil, errors.New(errors.ExecutionFailed, "queue.submit", err)
		}
		return data, nil
	})
}

// waitAndReply answers msg from a goroutine once read returns, so later
// messages are not held up.
func (c *Consumer) waitAndReply(msg *nats.Msg, op string, read func() ([]byte, error)) {
	c.waiters.Add(1)
	go func() {
		defer c.waiters.Done()
		data, err := read()
		c.reply(msg, op, data, err)
	}()
}

// reply answers msg if it asked for an answer. Errors are always reported to
// a waiting client, even for reference replies.
func (c *Consumer) reply(msg *nats.Msg, op string, data []byte, err error) {
	status := "ok"
	if err != nil {
		status = errors.KindOf(err).String()
		log.Debugf("%s on %q: %v", op, c.subject, err)
	}
	c.metrics.RecordRequest("nats", op, status)

	if msg.Reply == "" || msg.Header.Get(HeaderReply) == "" {
		if err != nil && msg.Reply == "" {
			log.Warningf("dropping failure of fire-and-forget message: %v", err)
		}
		return
	}
	out := nats.NewMsg(msg.Reply)
	out.Header.Set(HeaderCorrelation, msg.Header.Get(HeaderCorrelation))
	if err != nil {
		out.Header.Set(HeaderErrorKind, errors.KindOf(err).String())
		out.Data = errors.Marshal(err)
	} else {
		out.Data = data
	}
	if err := c.nc.PublishMsg(out); err != nil {
		log.Errorf("cannot reply to %s: %v", msg.Reply, err)
	}
}

// Subject returns the work subject.
func (c *Consumer) Subject() string {
	return c.subject
}
