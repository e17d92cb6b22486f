// Package registry maps references to the values an executor holds.
//
// A slot is pending until the command producing it finishes, then holds either
// a value or the failure that command raised. Readers can wait on pending
// slots. Slots live until released explicitly, released with their session,
// or swept after a period without access.
package registry

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/errors"
)

// ErrNotFound matches lookups of references the registry does not hold.
var ErrNotFound = errors.ErrReferenceNotFound

// ErrPending is returned by Get for a slot whose command has not finished.
var ErrPending = stderrors.New("registry: value pending")

type slot struct {
	id       command.Reference
	session  string
	value    any
	err      error
	done     chan struct{}
	created  time.Time
	lastUsed atomic.Int64
}

func (s *slot) resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *slot) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// EvictFunc receives the value of a slot removed by Sweep.
type EvictFunc func(id command.Reference, value any)

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	slots map[command.Reference]*slot
	evict EvictFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithEvictFunc installs a hook called for every value slot Sweep removes.
func WithEvictFunc(fn EvictFunc) Option {
	return func(r *Registry) { r.evict = fn }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{slots: make(map[command.Reference]*slot)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newSlot(id command.Reference, session string) *slot {
	s := &slot{id: id, session: session, done: make(chan struct{}), created: time.Now()}
	s.touch()
	return s
}

// Reserve creates a pending slot owned by session. Reserving an id that is
// already present is a ValidationFailed error.
func (r *Registry) Reserve(id command.Reference, session string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[id]; ok {
		return errors.Newf(errors.ValidationFailed, "registry.reserve", "reference %s already in use", id)
	}
	r.slots[id] = newSlot(id, session)
	return nil
}

// Put stores value under id, resolving a pending slot or replacing a
// resolved one.
func (r *Registry) Put(id command.Reference, value any) {
	r.resolve(id, value, nil)
}

// Fail records err as the outcome of the command producing id.
func (r *Registry) Fail(id command.Reference, err error) {
	r.resolve(id, nil, err)
}

// Complete resolves the pending slot id with value or err. It reports false,
// storing nothing, when id was released or already resolved.
func (r *Registry) Complete(id command.Reference, value any, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.resolved() {
		return false
	}
	s.value, s.err = value, err
	s.touch()
	close(s.done)
	return true
}

func (r *Registry) resolve(id command.Reference, value any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.resolved() {
		session := ""
		if ok {
			session = s.session
		}
		s = newSlot(id, session)
		r.slots[id] = s
	}
	s.value, s.err = value, err
	s.touch()
	close(s.done)
}

// Get returns the value stored under id without waiting. It returns
// ErrNotFound for unknown ids, ErrPending for unfinished ones and the stored
// failure for failed ones.
func (r *Registry) Get(id command.Reference) (any, error) {
	s, err := r.lookup(id, "registry.get")
	if err != nil {
		return nil, err
	}
	if !s.resolved() {
		return nil, ErrPending
	}
	return s.value, s.err
}

// Wait blocks until the slot for id resolves or ctx is done.
func (r *Registry) Wait(ctx context.Context, id command.Reference) (any, error) {
	s, err := r.lookup(id, "registry.wait")
	if err != nil {
		return nil, err
	}
	select {
	case <-s.done:
		s.touch()
		return s.value, s.err
	case <-ctx.Done():
		return nil, errors.Newf(errors.Timeout, "registry.wait", "waiting for %s: %v", id, ctx.Err())
	}
}

func (r *Registry) lookup(id command.Reference, op string) (*slot, error) {
	r.mu.RLock()
	s, ok := r.slots[id]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ReferenceNotFound, op, "reference %s not found", id)
	}
	s.touch()
	return s, nil
}

// Contains reports whether id names a slot, pending or resolved.
func (r *Registry) Contains(id command.Reference) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.slots[id]
	return ok
}

// Len returns the number of slots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.slots)
}

// Release removes id. It reports whether the slot existed. Waiters on a
// pending slot are woken with ReferenceNotFound.
func (r *Registry) Release(id command.Reference) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return false
	}
	r.drop(s, "registry.release")
	return true
}

// drop removes s. Callers hold r.mu.
func (r *Registry) drop(s *slot, op string) {
	delete(r.slots, s.id)
	if !s.resolved() {
		s.err = errors.Newf(errors.ReferenceNotFound, op, "reference %s was released", s.id)
		close(s.done)
	}
}

// ReleaseSession removes every slot owned by session and returns their ids.
func (r *Registry) ReleaseSession(session string) []command.Reference {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []command.Reference
	for id, s := range r.slots {
		if s.session == session {
			r.drop(s, "registry.release_session")
			released = append(released, id)
		}
	}
	return released
}

// Sweep removes resolved slots that have not been accessed within ttl.
// Pending slots are never swept.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl).UnixNano()

	var evicted []*slot
	r.mu.Lock()
	for id, s := range r.slots {
		if s.resolved() && s.lastUsed.Load() < cutoff {
			delete(r.slots, id)
			evicted = append(evicted, s)
		}
	}
	r.mu.Unlock()

	if r.evict != nil {
		for _, s := range evicted {
			if s.err == nil {
				r.evict(s.id, s.value)
			}
		}
	}
	return len(evicted)
}

// StartSweeper runs periodic TTL sweeps in the background, passing the
// number of removed slots of every non-empty sweep to swept, which may be nil.
// Returns a stop function.
func (r *Registry) StartSweeper(interval, ttl time.Duration, swept func(n int)) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := r.Sweep(ttl); n > 0 && swept != nil {
					swept(n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
