// Package loop provides the execution pool shared by the listening endpoint
// and every connection: a fixed group of event loops, each a goroutine that
// runs its queued tasks one at a time.
//
// A connection is bound to one loop when it is accepted and all mutation of
// its pipeline state happens in tasks on that loop, so connections never
// contend on a common lock. Blocking work (socket reads and writes, responder
// calls) stays on its own goroutines and only posts results to the loop.
package loop

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// queueSize is the per-loop task buffer; Execute blocks while it is full.
const queueSize = 1024

// Loop runs submitted tasks serially in submission order.
type Loop struct {
	id      int
	mu      sync.RWMutex
	closed  bool
	tasks   chan func()
	quit    chan struct{}
	done    chan struct{}
	onPanic func(loop int, v any)
}

// ID returns the loop's index within its group.
func (l *Loop) ID() int { return l.id }

// Execute queues task. It returns false, without running task, once the
// loop has been shut down.
func (l *Loop) Execute(task func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.tasks <- task
	return true
}

func (l *Loop) stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	close(l.quit)
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case task := <-l.tasks:
			l.call(task)
		case <-l.quit:
			// Run what was queued before shutdown.
			for {
				select {
				case task := <-l.tasks:
					l.call(task)
				default:
					return
				}
			}
		}
	}
}

func (l *Loop) call(task func()) {
	defer func() {
		if v := recover(); v != nil && l.onPanic != nil {
			l.onPanic(l.id, v)
		}
	}()
	task()
}

// Group is a fixed set of loops.
type Group struct {
	loops []*Loop
	next  atomic.Uint64
	once  sync.Once
}

// Option configures a Group.
type Option func(*Group)

// WithPanicHandler sets the function told about a panic raised by a task.
// The loop keeps running after a panicking task.
func WithPanicHandler(fn func(loop int, v any)) Option {
	return func(g *Group) {
		for _, l := range g.loops {
			l.onPanic = fn
		}
	}
}

// NewGroup starts n loops; n <= 0 means one per available CPU.
func NewGroup(n int, opts ...Option) *Group {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	g := &Group{loops: make([]*Loop, n)}
	for i := range g.loops {
		g.loops[i] = &Loop{
			id:    i,
			tasks: make(chan func(), queueSize),
			quit:  make(chan struct{}),
			done:  make(chan struct{}),
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, l := range g.loops {
		go l.run()
	}
	return g
}

// Next returns the loop for a new connection, round-robin.
func (g *Group) Next() *Loop {
	i := g.next.Add(1) - 1
	return g.loops[i%uint64(len(g.loops))]
}

// Len returns the number of loops.
func (g *Group) Len() int { return len(g.loops) }

// Shutdown stops every loop after its already queued tasks and waits for the
// loop goroutines to exit. It is safe to call more than once.
func (g *Group) Shutdown() {
	g.once.Do(func() {
		for _, l := range g.loops {
			l.stop()
		}
		for _, l := range g.loops {
			<-l.done
		}
	})
}

// IsShutdown reports whether Shutdown has been called.
func (g *Group) IsShutdown() bool {
	select {
	case <-g.loops[0].quit:
		return true
	default:
		return false
	}
}
