package httpserver_test

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/httpserver"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

// startServer runs srv in the background and waits for the start hook.
func startServer(t *testing.T, ctx context.Context, opts ...httpserver.Option) (*httpserver.Server, <-chan error) {
	t.Helper()
	started := make(chan struct{})
	opts = append([]httpserver.Option{
		httpserver.WithAddr("127.0.0.1:0"),
		httpserver.WithShutdownTimeout(100 * time.Millisecond),
		httpserver.WithStartHook(func(_ *slog.Logger) { close(started) }),
	}, opts...)
	srv := httpserver.New(opts...)

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, okHandler()) }()

	select {
	case <-started:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	return srv, done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err, "run")
	case <-time.After(2 * time.Second):
		require.Fail(t, "run did not finish")
	}
}

func TestRunAndCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, done := startServer(t, ctx)

	resp, err := http.Get("http://" + srv.Addr())
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	waitDone(t, done)
	require.NoError(t, srv.Shutdown(context.Background()), "repeated shutdown")
}

func TestManualShutdown(t *testing.T) {
	t.Parallel()
	srv, done := startServer(t, context.Background())

	require.NoError(t, srv.Shutdown(context.Background()))
	waitDone(t, done)
}

func TestStartError(t *testing.T) {
	t.Parallel()

	t.Run("invalid address", func(t *testing.T) {
		t.Parallel()
		srv := httpserver.New(httpserver.WithAddr(":invalid"))
		err := srv.Run(context.Background(), okHandler())
		assert.ErrorIs(t, err, httpserver.ErrStart)
	})

	t.Run("address in use", func(t *testing.T) {
		t.Parallel()
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		t.Cleanup(func() { _ = ln.Close() })

		var started atomic.Bool
		srv := httpserver.New(
			httpserver.WithAddr(ln.Addr().String()),
			httpserver.WithStartHook(func(_ *slog.Logger) { started.Store(true) }),
		)
		err = srv.Run(context.Background(), okHandler())
		assert.ErrorIs(t, err, httpserver.ErrStart)
		assert.False(t, started.Load(), "start hook must not run when bind fails")
	})
}

func TestStopHook(t *testing.T) {
	t.Parallel()
	var stopped atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())

	_, done := startServer(t, ctx, httpserver.WithStopHook(func(_ *slog.Logger) { stopped.Store(true) }))
	cancel()
	waitDone(t, done)

	assert.True(t, stopped.Load())
}

func TestAlreadyRunning(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, done := startServer(t, ctx)
	err := srv.Run(context.Background(), okHandler())
	assert.ErrorIs(t, err, httpserver.ErrStart)

	cancel()
	waitDone(t, done)
}

func TestShutdownBeforeRun(t *testing.T) {
	t.Parallel()
	srv := httpserver.New()
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, ":8080", srv.Addr())
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()
	srv := httpserver.NewFromConfig(httpserver.Config{Addr: "127.0.0.1:9999", ReadTimeout: time.Second})
	assert.Equal(t, "127.0.0.1:9999", srv.Addr())
}

func TestZeroOptionsKeepDefaults(t *testing.T) {
	t.Parallel()
	srv := httpserver.New(
		httpserver.WithAddr(""),
		httpserver.WithReadTimeout(0),
		httpserver.WithReadHeaderTimeout(-time.Second),
		httpserver.WithShutdownTimeout(0),
		httpserver.WithStartHook(nil),
		httpserver.WithLogger(nil),
	)
	assert.Equal(t, ":8080", srv.Addr())

	srv = httpserver.NewFromConfig(httpserver.Config{})
	assert.Equal(t, ":8080", srv.Addr())
}
