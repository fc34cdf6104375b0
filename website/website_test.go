package website

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dqx0.com/go/website/httpx"
	"dqx0.com/go/website/internal/listener"
)

func okResponder() httpx.ResponderFunc {
	return func(_ context.Context, req *httpx.Request) (*httpx.Response, error) {
		return httpx.Text(200, "hello "+req.URL.Path), nil
	}
}

func newTestSite(t *testing.T, opts ...Option) *Website[httpx.ResponderFunc] {
	t.Helper()
	opts = append([]Option{WithHost("127.0.0.1"), WithPort(0), WithLoops(2)}, opts...)
	w, err := New(okResponder(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// runSite starts w.Run in the background and waits for the bound address.
func runSite(t *testing.T, w *Website[httpx.ResponderFunc]) (string, <-chan error) {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- w.Run() }()
	require.Eventually(t, func() bool { return w.Addr() != nil }, 2*time.Second, 5*time.Millisecond)
	return w.Addr().String(), errc
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "::1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 256, cfg.Backlog)
	assert.True(t, cfg.ReuseAddr)
	assert.Equal(t, 0, cfg.Loops)
	assert.Equal(t, "[::1]:8080", cfg.Address())
	assert.NoError(t, cfg.Validate())
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"backlog zero", WithBacklog(0)},
		{"backlog too large", WithBacklog(listener.MaxBacklog + 1)},
		{"port", WithPort(70000)},
		{"loops", WithLoops(-1)},
		{"limits", WithLimits(-1, 0, 0)},
		{"timeouts", WithTimeouts(0, -time.Second, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(okResponder(), tt.opt)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("nil responder", func(t *testing.T) {
		var r httpx.Responder
		_, err := New(r)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestWebsite_ServeThenStop(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	w := newTestSite(t, WithLogger(zap.New(core)))
	assert.Equal(t, 2, w.Pool().Len())
	assert.Nil(t, w.Addr())

	addr, errc := runSite(t, w)

	c := &httpx.Client{Timeout: 5 * time.Second}
	res, err := c.Get(context.Background(), "http://"+addr+"/index")
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "hello /index", string(res.Body))

	w.Stop()
	require.NoError(t, waitRun(t, errc))
	assert.Nil(t, w.Addr())

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "listener still accepting after Stop")

	started := logs.FilterMessage("server started and listening").All()
	require.Len(t, started, 1)
	assert.Equal(t, addr, started[0].ContextMap()["address"])
}

func TestWebsite_StopIsIdempotent(t *testing.T) {
	w := newTestSite(t)
	// Not running: nothing happens.
	w.Stop()
	w.Stop()

	_, errc := runSite(t, w)
	w.Stop()
	w.Stop()
	require.NoError(t, waitRun(t, errc))
	w.Stop()
}

func TestWebsite_RunWhileRunning(t *testing.T) {
	w := newTestSite(t)
	addr, errc := runSite(t, w)

	assert.NoError(t, w.Run())
	assert.Equal(t, addr, w.Addr().String())

	w.Stop()
	require.NoError(t, waitRun(t, errc))
}

func TestWebsite_RunAgainAfterStop(t *testing.T) {
	w := newTestSite(t)
	_, errc := runSite(t, w)
	w.Stop()
	require.NoError(t, waitRun(t, errc))

	addr, errc := runSite(t, w)
	res, err := (&httpx.Client{Timeout: 5 * time.Second}).Get(context.Background(), "http://"+addr+"/again")
	require.NoError(t, err)
	assert.Equal(t, "hello /again", string(res.Body))
	w.Stop()
	require.NoError(t, waitRun(t, errc))
}

func TestWebsite_BindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	core, logs := observer.New(zapcore.ErrorLevel)
	w := newTestSite(t, WithPort(port), WithLogger(zap.New(core)))
	err = w.Run()
	require.ErrorIs(t, err, ErrBind)
	assert.Contains(t, err.Error(), taken.Addr().String())
	assert.Nil(t, w.Addr())
	assert.Equal(t, 1, logs.FilterMessage("bind failed").Len())

	// No partial state: the same Website can bind once the port is free.
	require.NoError(t, taken.Close())
	require.NoError(t, w.Start())
	assert.NotNil(t, w.Addr())
}

func TestWebsite_StopDuringBind(t *testing.T) {
	w := newTestSite(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	w.listen = func(ctx context.Context, cfg listener.Config) (net.Listener, error) {
		close(entered)
		<-release
		return listener.Listen(ctx, cfg)
	}

	errc := make(chan error, 1)
	go func() { errc <- w.Run() }()
	<-entered
	w.Stop()
	close(release)

	require.NoError(t, waitRun(t, errc))
	assert.Nil(t, w.Addr())
}

func TestWebsite_MalformedConnectionIsolated(t *testing.T) {
	w := newTestSite(t)
	addr, _ := runSite(t, w)

	good, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer good.Close()
	bad, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer bad.Close()
	require.NoError(t, good.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, bad.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(bad, "\x00\x01 garbage\r\n\r\n")
	require.NoError(t, err)
	raw, err := io.ReadAll(bad)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "HTTP/1.1 400 "), "got %q", raw)

	_, err = io.WriteString(good, "GET /still HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	line, err := bufio.NewReader(good).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", line)
}

func TestWebsite_Shutdown(t *testing.T) {
	t.Run("no connections", func(t *testing.T) {
		w := newTestSite(t)
		_, errc := runSite(t, w)
		require.NoError(t, w.Shutdown(context.Background()))
		require.NoError(t, waitRun(t, errc))
	})

	t.Run("deadline closes idle connections", func(t *testing.T) {
		w := newTestSite(t, WithTimeouts(0, 0, 0))
		addr, errc := runSite(t, w)

		c, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer c.Close()
		require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
		_, err = io.WriteString(c, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		require.NoError(t, err)
		br := bufio.NewReader(c)
		_, err = br.ReadString('\n')
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, w.Shutdown(ctx), context.DeadlineExceeded)
		require.NoError(t, waitRun(t, errc))

		_, err = io.Copy(io.Discard, br)
		assert.NoError(t, err, "connection should end with EOF")
	})
}

func TestWebsite_ShutdownOverlapsRun(t *testing.T) {
	w := newTestSite(t)
	const rounds = 20
	results := make(chan error, rounds)
	var clients sync.WaitGroup
	for i := 0; i < rounds; i++ {
		addr, errc := runSite(t, w)

		clients.Add(1)
		go func() {
			defer clients.Done()
			if c, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
				_ = c.SetDeadline(time.Now().Add(3 * time.Second))
				_, _ = io.WriteString(c, "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
				_, _ = io.Copy(io.Discard, c)
				_ = c.Close()
			}
		}()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			results <- w.Shutdown(ctx)
		}()
		// The next Run starts while this Shutdown may still be waiting.
		require.NoError(t, waitRun(t, errc))
	}
	for i := 0; i < rounds; i++ {
		select {
		case err := <-results:
			if err != nil {
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Shutdown did not return")
		}
	}
	clients.Wait()
}

func TestWebsite_Close(t *testing.T) {
	w, err := New(okResponder(), WithHost("127.0.0.1"), WithPort(0), WithLoops(1))
	require.NoError(t, err)
	_, errc := runSite(t, w)

	require.NoError(t, w.Close())
	require.NoError(t, waitRun(t, errc))
	assert.True(t, w.Pool().IsShutdown())
	assert.ErrorIs(t, w.Run(), ErrClosed)
	assert.ErrorIs(t, w.Start(), ErrClosed)
	assert.NoError(t, w.Close())
	w.Stop()
}
