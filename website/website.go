// Package website is a minimal HTTP server shell. A Website owns a pool of
// event loops, binds one listening socket and attaches an httpx.Pipeline to
// every accepted connection; what each request is answered with is decided
// by the single Responder it was built with.
package website

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"dqx0.com/go/website/httpx"
	"dqx0.com/go/website/internal/listener"
	"dqx0.com/go/website/internal/loop"
	"dqx0.com/go/website/internal/obs"
)

type state int

const (
	stateIdle state = iota
	stateBinding
	stateRunning
)

// Website serves HTTP/1.x with responder R.
type Website[R httpx.Responder] struct {
	cfg      Config
	log      *zap.Logger
	group    *loop.Group
	pipeline *httpx.Pipeline[R]

	ctx    context.Context // parent of every connection
	cancel context.CancelFunc
	listen func(context.Context, listener.Config) (net.Listener, error)

	mu       sync.Mutex
	state    state
	closed   bool
	stopping bool
	// pendingStop is a Stop that arrived during bind.
	pendingStop bool
	ln          net.Listener
	done        chan struct{} // closed when the accept loop exits
	conns       map[net.Conn]struct{}
	// idle is closed when the last tracked connection ends; nil while none
	// are open.
	idle chan struct{}
}

// New creates the execution pool and a Website that is not yet listening.
func New[R httpx.Responder](responder R, opts ...Option) (*Website[R], error) {
	o := options{cfg: DefaultConfig(), log: zap.NewNop(), meter: obs.NopMeter{}}
	for _, opt := range opts {
		opt(&o)
	}
	if any(responder) == nil {
		return nil, fmt.Errorf("%w: nil responder", ErrInvalidConfig)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	log := o.log.Named("website")
	w := &Website[R]{
		cfg: o.cfg,
		log: log,
		group: loop.NewGroup(o.cfg.Loops, loop.WithPanicHandler(func(id int, v any) {
			log.Error("loop task panicked", zap.Int("loop", id), zap.Any("panic", v))
		})),
		pipeline: &httpx.Pipeline[R]{
			Responder:           responder,
			Logger:              log,
			Meter:               o.meter,
			MaxHeaderBytes:      o.cfg.MaxHeaderBytes,
			MaxTotalHeaderBytes: o.cfg.MaxTotalHeaderBytes,
			MaxBodyBytes:        o.cfg.MaxBodyBytes,
			MaxPipelined:        o.cfg.MaxPipelined,
			ReadHeaderTimeout:   o.cfg.ReadHeaderTimeout,
			IdleTimeout:         o.cfg.IdleTimeout,
			WriteTimeout:        o.cfg.WriteTimeout,
		},
		conns:  make(map[net.Conn]struct{}),
		listen: listener.Listen,
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w, nil
}

// Config returns the settings the Website was built with.
func (w *Website[R]) Config() Config { return w.cfg }

// Pool returns the execution pool.
func (w *Website[R]) Pool() *loop.Group { return w.group }

// Run binds the listening socket and serves until it is closed by Stop,
// Shutdown or Close, then returns nil. Calling Run while the Website is
// already running does nothing and returns nil.
func (w *Website[R]) Run() error {
	started, err := w.start()
	if err != nil || !started {
		return err
	}
	w.Wait()
	return nil
}

// Start binds and begins accepting without blocking. Use Wait to block
// until the listener closes.
func (w *Website[R]) Start() error {
	_, err := w.start()
	return err
}

func (w *Website[R]) start() (bool, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false, ErrClosed
	}
	if w.state != stateIdle {
		w.mu.Unlock()
		w.log.Warn("run called while already running")
		return false, nil
	}
	w.state = stateBinding
	w.pendingStop = false
	w.stopping = false
	w.mu.Unlock()

	addr := w.cfg.Address()
	ln, err := w.listen(w.ctx, w.cfg.listener())

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.state = stateIdle
		w.log.Error("bind failed", zap.String("address", addr), zap.Error(err))
		return false, fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}
	if w.closed {
		w.state = stateIdle
		_ = ln.Close()
		return false, ErrClosed
	}
	w.ln = ln
	w.done = make(chan struct{})
	w.state = stateRunning
	w.log.Info("server started and listening",
		zap.Stringer("address", ln.Addr()),
		zap.Int("loops", w.group.Len()),
		zap.Int("backlog", w.cfg.Backlog))
	go w.accept(ln, w.done)
	if w.pendingStop {
		w.log.Info("stop requested during bind")
		w.stopLocked()
	}
	return true, nil
}

// Wait blocks until the current listener has closed and the accept loop has
// exited. It returns at once if the Website is not running.
func (w *Website[R]) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Addr returns the bound address while running and nil otherwise.
func (w *Website[R]) Addr() net.Addr {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != stateRunning || w.ln == nil {
		return nil
	}
	return w.ln.Addr()
}

// Stop closes the listening socket without waiting; Run then returns.
// Accepted connections keep being served. Stop is a no-op when the Website
// is not running and may be called any number of times. A Stop issued while
// the socket is being bound takes effect as soon as the bind completes.
func (w *Website[R]) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case stateBinding:
		w.pendingStop = true
	case stateRunning:
		w.stopLocked()
	}
}

// stopAndWait stops the current listener and waits for its accept loop, not
// for one started by a later Run.
func (w *Website[R]) stopAndWait() {
	w.mu.Lock()
	done := w.done
	switch w.state {
	case stateBinding:
		w.pendingStop = true
	case stateRunning:
		w.stopLocked()
	}
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (w *Website[R]) stopLocked() {
	if w.stopping {
		return
	}
	w.stopping = true
	w.log.Info("stopping listener", zap.Stringer("address", w.ln.Addr()))
	_ = w.ln.Close()
}

// Shutdown stops the listener and waits for the connections open at that
// point to end. When ctx is done first, the remaining connections are closed
// and ctx's error is returned. It may overlap a concurrent Run; connections
// accepted by that Run are not waited for.
func (w *Website[R]) Shutdown(ctx context.Context) error {
	w.stopAndWait()
	select {
	case <-w.connsIdle():
		w.log.Info("shutdown complete")
		return nil
	case <-ctx.Done():
		n := w.closeConns()
		w.log.Warn("shutdown deadline reached, closing connections", zap.Int("connections", n))
		return ctx.Err()
	}
}

// Close stops the listener, tears down open connections and the execution
// pool. The Website cannot be run again.
func (w *Website[R]) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.stopAndWait()
	w.cancel()
	<-w.connsIdle()
	w.group.Shutdown()
	return nil
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// connsIdle returns a channel closed once the currently open connections
// have ended.
func (w *Website[R]) connsIdle() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.idle == nil {
		return closedChan
	}
	return w.idle
}

func (w *Website[R]) closeConns() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.conns {
		_ = c.Close()
	}
	return len(w.conns)
}

func (w *Website[R]) accept(ln net.Listener, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.ln == ln {
			w.ln = nil
			w.state = stateIdle
		}
		w.mu.Unlock()
		close(done)
		w.log.Info("listener closed")
	}()
	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Resource exhaustion and aborted handshakes; back off and retry.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			w.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0
		w.serve(c)
	}
}

func (w *Website[R]) serve(c net.Conn) {
	w.mu.Lock()
	w.conns[c] = struct{}{}
	if w.idle == nil {
		w.idle = make(chan struct{})
	}
	w.mu.Unlock()

	l := w.group.Next()
	go func() {
		defer func() {
			w.mu.Lock()
			delete(w.conns, c)
			if len(w.conns) == 0 {
				close(w.idle)
				w.idle = nil
			}
			w.mu.Unlock()
		}()
		w.pipeline.ServeConn(w.ctx, c, l)
	}()
}
