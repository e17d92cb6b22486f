// Package executor runs commands against the objects held in its registry.
//
// Every accepted message moves through Received, Decoded and Executing to
// either Stored or Failed. Accept returns as soon as the result slot is
// reserved; execution happens on a worker chosen by the caller's key, so
// messages sharing a key run in arrival order. A failing command never stops
// the executor: its failure is stored under its result reference and surfaces
// when the reference is read.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/astaric/orangeremote/archive"
	"github.com/astaric/orangeremote/catalog"
	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/errors"
	"github.com/astaric/orangeremote/metrics"
	"github.com/astaric/orangeremote/registry"
)

var log = commonlog.GetLogger("orange.executor")

const (
	DefaultWorkers     = 1
	DefaultWaitTimeout = 30 * time.Second
	queueBuffer        = 256
)

// Executor owns a registry, a catalog and a worker pool.
type Executor struct {
	catalog  *catalog.Catalog
	registry *registry.Registry
	archive  *archive.Archive
	metrics  *metrics.Metrics
	pool     *pool

	workers       int
	waitTimeout   time.Duration
	ttl           time.Duration
	sweepInterval time.Duration
	stopSweeper   func()

	closeOnce sync.Once
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers sets the number of workers. Keys are hashed onto workers, so
// per-key ordering holds for any n.
func WithWorkers(n int) Option {
	return func(e *Executor) { e.workers = n }
}

// WithWaitTimeout bounds how long Wait, Fetch and argument resolution block
// on a pending reference.
func WithWaitTimeout(d time.Duration) Option {
	return func(e *Executor) { e.waitTimeout = d }
}

// WithTTL starts a sweeper that evicts references unused for ttl, checking
// every interval.
func WithTTL(ttl, interval time.Duration) Option {
	return func(e *Executor) {
		e.ttl = ttl
		e.sweepInterval = interval
	}
}

// WithArchive keeps the values of swept references in a, readable through
// Wait and Fetch. The executor closes a on Close.
func WithArchive(a *archive.Archive) Option {
	return func(e *Executor) { e.archive = a }
}

// WithMetrics records execution metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an executor dispatching on cat and starts its workers.
func New(cat *catalog.Catalog, opts ...Option) *Executor {
	e := &Executor{
		catalog:     cat,
		workers:     DefaultWorkers,
		waitTimeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.registry = registry.New(registry.WithEvictFunc(e.evicted))
	e.pool = newPool(e.workers, queueBuffer)
	if e.ttl > 0 && e.sweepInterval > 0 {
		e.stopSweeper = e.startSweeper()
	}
	log.Infof("executor started with %d worker(s)", e.workers)
	return e
}

// Close stops accepting work, drains queued commands and releases the
// sweeper and archive.
func (e *Executor) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.stopSweeper != nil {
			e.stopSweeper()
		}
		e.pool.close()
		if e.archive != nil {
			err = e.archive.Close()
		}
		log.Info("executor stopped")
	})
	return err
}

// Catalog returns the class catalog.
func (e *Executor) Catalog() *catalog.Catalog {
	return e.catalog
}

// Len returns the number of references held in the registry.
func (e *Executor) Len() int {
	return e.registry.Len()
}

// Accept parses body, reserves its result reference and queues it for
// execution on the worker for key. Validation failures are returned
// immediately and nothing is queued. The returned command carries the
// result reference.
func (e *Executor) Accept(ctx context.Context, key string, body []byte) (command.Command, error) {
	log.Debugf("received %d bytes from %q", len(body), key)

	cmd, err := codec.Decode(body)
	if err != nil {
		log.Debugf("rejected message from %q: %v", key, err)
		return nil, err
	}
	head := cmd.Head()
	if head.Result == "" {
		head.Result = command.Reference(uuid.NewString())
	}
	log.Debugf("decoded %s -> %s", cmd.Describe(), head.Result)

	if err := e.registry.Reserve(head.Result, key); err != nil {
		return nil, err
	}
	e.metrics.QueueAdd(1)
	e.metrics.SetSlots(e.registry.Len())

	if !e.pool.submit(key, func() { e.execute(cmd) }) {
		err := errors.Newf(errors.TransportFailure, "executor.accept", "executor is closed")
		e.registry.Fail(head.Result, err)
		e.metrics.QueueAdd(-1)
		return nil, err
	}
	return cmd, nil
}

// Submit is Accept followed, for commands asking for their result, by a wait
// on that result.
func (e *Executor) Submit(ctx context.Context, key string, body []byte) (Result, error) {
	cmd, err := e.Accept(ctx, key, body)
	if err != nil {
		return Result{}, err
	}
	res := Result{Reference: cmd.Head().Result}
	if !cmd.Head().ReturnResult {
		return res, nil
	}
	v, err := e.Wait(ctx, res.Reference)
	if err != nil {
		return res, err
	}
	res.Value, res.HasValue = v, true
	return res, nil
}

// Result is the outcome of Submit.
type Result struct {
	Reference command.Reference
	// Value is set when the command asked for its result.
	Value    any
	HasValue bool
}

func (e *Executor) execute(cmd command.Command) {
	head := cmd.Head()
	start := time.Now()
	e.metrics.QueueAdd(-1)
	log.Debugf("executing %s", cmd.Describe())

	ctx, cancel := context.WithTimeout(context.Background(), e.waitTimeout)
	defer cancel()

	v, err := e.executeSafely(ctx, cmd)
	e.metrics.RecordCommand(string(cmd.Kind()), err, time.Since(start))
	if !e.registry.Complete(head.Result, v, err) {
		log.Debugf("discarded result of %s: reference was released", head.Result)
		return
	}
	if err != nil {
		log.Errorf("failed %s: %v", head.Result, err)
		return
	}
	log.Debugf("stored %s (%T)", head.Result, v)
}

func (e *Executor) executeSafely(ctx context.Context, cmd command.Command) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = &errors.Error{
				Kind: errors.ExecutionFailed,
				Op:   "executor.execute",
				Call: cmd.Describe(),
				Err:  fmt.Errorf("panic: %v", r),
			}
		}
	}()

	if err := codec.Resolve(ctx, cmd, e); err != nil {
		return nil, &errors.Error{Kind: errors.ExecutionFailed, Op: "executor.resolve", Call: cmd.Describe(), Err: err}
	}
	return cmd.Execute(ctx, command.Env{Resolver: e, Dispatcher: e.catalog})
}

// Resolve returns the live value ref names, waiting for pending references.
// A reference whose command failed resolves to that failure. Swept
// references are not live any more: the archive only serves their value to
// Wait and Fetch, so Resolve reports them as not found.
func (e *Executor) Resolve(ctx context.Context, ref command.Reference) (any, error) {
	v, err := e.registry.Wait(ctx, ref)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, errors.ReferenceNotFound) {
		if _, aerr := e.loadArchived(ctx, ref); aerr == nil {
			return nil, errors.Newf(errors.ReferenceNotFound, "executor.resolve", "reference %s was evicted; only its value can be read", ref)
		}
		return nil, err
	}
	if errors.Is(err, errors.Timeout) {
		return nil, err
	}
	return nil, fmt.Errorf("reference %s holds a failure: %w", ref, err)
}

// Wait blocks until ref resolves, bounded by the wait timeout, and returns
// its value or stored failure.
func (e *Executor) Wait(ctx context.Context, ref command.Reference) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.waitTimeout)
	defer cancel()

	v, err := e.registry.Wait(ctx, ref)
	if err == nil || !errors.Is(err, errors.ReferenceNotFound) {
		return v, err
	}
	data, aerr := e.loadArchived(ctx, ref)
	if aerr != nil {
		return nil, err
	}
	return codec.UnmarshalValue(data)
}

// Fetch is Wait returning the CBOR encoding of the value.
func (e *Executor) Fetch(ctx context.Context, ref command.Reference) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.waitTimeout)
	defer cancel()

	v, err := e.registry.Wait(ctx, ref)
	if err != nil {
		if errors.Is(err, errors.ReferenceNotFound) {
			if data, aerr := e.loadArchived(ctx, ref); aerr == nil {
				return data, nil
			}
		}
		return nil, err
	}
	data, err := codec.MarshalValue(v)
	if err != nil {
		return nil, errors.New(errors.ExecutionFailed, "executor.fetch", err).WithCall(fmt.Sprintf("<%s>", ref))
	}
	return data, nil
}

// Upload stores a CBOR-encoded value under a new reference owned by key.
func (e *Executor) Upload(ctx context.Context, key string, data []byte) (command.Reference, error) {
	v, err := codec.UnmarshalValue(data)
	if err != nil {
		return "", errors.New(errors.ValidationFailed, "executor.upload", err)
	}
	ref := command.Reference(uuid.NewString())
	if err := e.registry.Reserve(ref, key); err != nil {
		return "", err
	}
	e.registry.Put(ref, v)
	e.metrics.SetSlots(e.registry.Len())
	log.Debugf("uploaded %d bytes as %s", len(data), ref)
	return ref, nil
}

// Release forgets ref. It reports whether ref was held.
func (e *Executor) Release(ctx context.Context, ref command.Reference) bool {
	held := e.registry.Release(ref)
	if e.archive != nil {
		if n, err := e.archive.Delete(ctx, ref); err != nil {
			log.Warningf("releasing %s from archive: %v", ref, err)
		} else if n > 0 {
			held = true
		}
	}
	if held {
		e.metrics.RecordEvictions("released", 1)
		e.metrics.SetSlots(e.registry.Len())
	}
	return held
}

// ReleaseSession forgets every reference owned by session and returns how
// many were held.
func (e *Executor) ReleaseSession(ctx context.Context, session string) int {
	ids := e.registry.ReleaseSession(session)
	if e.archive != nil && len(ids) > 0 {
		if _, err := e.archive.Delete(ctx, ids...); err != nil {
			log.Warningf("releasing session %q from archive: %v", session, err)
		}
	}
	e.metrics.RecordEvictions("session", len(ids))
	e.metrics.SetSlots(e.registry.Len())
	log.Infof("released %d reference(s) of session %q", len(ids), session)
	return len(ids)
}

func (e *Executor) startSweeper() func() {
	return e.registry.StartSweeper(e.sweepInterval, e.ttl, func(n int) {
		e.metrics.RecordEvictions("expired", n)
		e.metrics.SetSlots(e.registry.Len())
		log.Debugf("swept %d reference(s)", n)
	})
}

// evicted archives a swept value.
func (e *Executor) evicted(ref command.Reference, value any) {
	if e.archive == nil {
		return
	}
	data, err := codec.MarshalValue(value)
	if err != nil {
		log.Warningf("cannot archive %s: %v", ref, err)
		return
	}
	if err := e.archive.Save(context.Background(), ref, data); err != nil {
		log.Errorf("archiving %s: %v", ref, err)
	}
}

func (e *Executor) loadArchived(ctx context.Context, ref command.Reference) ([]byte, error) {
	if e.archive == nil {
		return nil, archive.ErrNotFound
	}
	return e.archive.Load(ctx, ref)
}
