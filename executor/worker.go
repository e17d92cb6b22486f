package executor

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// worker runs jobs one at a time on a dedicated goroutine, in submission
// order.
type worker struct {
	requests chan func()
	done     chan struct{}
}

func newWorker(buffer int) *worker {
	w := &worker{
		requests: make(chan func(), buffer),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer close(w.done)
	for fn := range w.requests {
		if err := run(fn); err != nil {
			log.Errorf("worker job panicked: %v", err)
		}
	}
}

// run calls fn, recovering from panics.
func run(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}

// pool routes each key to one worker so jobs sharing a key run in FIFO order.
type pool struct {
	mu      sync.RWMutex
	closed  bool
	workers []*worker
}

func newPool(n, buffer int) *pool {
	if n < 1 {
		n = 1
	}
	p := &pool{workers: make([]*worker, n)}
	for i := range p.workers {
		p.workers[i] = newWorker(buffer)
	}
	return p
}

func (p *pool) pick(key string) *worker {
	if len(p.workers) == 1 {
		return p.workers[0]
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return p.workers[h.Sum32()%uint32(len(p.workers))]
}

// submit enqueues fn on the worker for key. It blocks while that worker's
// queue is full and reports false once the pool is closed.
func (p *pool) submit(key string, fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}
	p.pick(key).requests <- fn
	return true
}

// close stops accepting jobs and waits for queued ones to finish.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.requests)
	}
	p.mu.Unlock()

	for _, w := range p.workers {
		<-w.done
	}
}
