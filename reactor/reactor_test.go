//go:build linux

package reactor_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-sock/addr"
	"github.com/momentics/hioload-sock/api"
	"github.com/momentics/hioload-sock/control"
	"github.com/momentics/hioload-sock/reactor"
	"github.com/momentics/hioload-sock/socket"
)

const waitFor = 2 * time.Second

type accepted struct {
	server *socket.TCPServer
	client *socket.TCPClient
}

type dataEvent struct {
	client *socket.TCPClient
	data   []byte
	err    error
	ctx    any
}

type closedEvent struct {
	client *socket.TCPClient
	server *socket.TCPServer
	err    error
	ctx    any
}

// recorder forwards every callback to a channel. When register is set,
// accepted clients are added to the reactor with ctx set to their remote
// address string.
type recorder struct {
	register bool
	stopOn   string

	accepts chan accepted
	data    chan dataEvent
	closed  chan closedEvent
}

func newRecorder(register bool) *recorder {
	return &recorder{
		register: register,
		accepts:  make(chan accepted, 16),
		data:     make(chan dataEvent, 16),
		closed:   make(chan closedEvent, 16),
	}
}

func (rec *recorder) OnAccept(r *reactor.Reactor, server *socket.TCPServer, client *socket.TCPClient) {
	if rec.register {
		if err := r.AddClient(client, client.RemoteAddress().String()); err != nil {
			panic(err)
		}
	}
	rec.accepts <- accepted{server: server, client: client}
}

func (rec *recorder) OnServerClosed(r *reactor.Reactor, server *socket.TCPServer, err error) {
	rec.closed <- closedEvent{server: server, err: err}
}

func (rec *recorder) OnData(r *reactor.Reactor, client *socket.TCPClient, ctx any) {
	data, err := client.Read(64)
	if rec.stopOn != "" && string(data) == rec.stopOn {
		_ = r.RequestStop(false)
	}
	rec.data <- dataEvent{client: client, data: data, err: err, ctx: ctx}
}

func (rec *recorder) OnClientClosed(r *reactor.Reactor, client *socket.TCPClient, err error, ctx any) {
	rec.closed <- closedEvent{client: client, err: err, ctx: ctx}
}

type harness struct {
	r       *reactor.Reactor
	rec     *recorder
	metrics *control.MetricsRegistry
	runErr  chan error
}

func start(t *testing.T, backend string, rec *recorder) *harness {
	t.Helper()
	metrics := control.NewMetricsRegistry()
	r, err := reactor.New(rec, reactor.WithBackend(backend), reactor.WithMetrics(metrics))
	require.NoError(t, err)

	h := &harness{r: r, rec: rec, metrics: metrics, runErr: make(chan error, 1)}
	go func() { h.runErr <- r.Run() }()
	require.Eventually(t, func() bool { return r.State() == reactor.Running }, waitFor, time.Millisecond)

	t.Cleanup(func() {
		if r.State() == reactor.Running {
			_ = r.Stop(true)
		}
		_ = r.Close()
	})
	return h
}

func listen(t *testing.T) *socket.TCPServer {
	t.Helper()
	srv, err := socket.NewTCPServer(0, addr.IPv4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	require.NoError(t, srv.Bind())
	require.NoError(t, srv.Listen(socket.DefaultBacklog))
	return srv
}

func connect(t *testing.T, port uint16) *socket.TCPClient {
	t.Helper()
	c, err := socket.NewTCPClient(addr.Localhost(port, addr.IPv4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Connect())
	return c
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %T", *new(T))
	}
	panic("unreachable")
}

func quiet[T any](t *testing.T, ch chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra event %+v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend string)) {
	for _, b := range []string{control.BackendEpoll, control.BackendPoll} {
		t.Run(b, func(t *testing.T) { fn(t, b) })
	}
}

func TestReactor_AcceptDataAndPeerClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := start(t, backend, newRecorder(true))
		srv := listen(t)
		require.NoError(t, h.r.AddServer(srv))

		// Scenario 1: one inbound connection whose peer is the client's ephemeral port.
		client := connect(t, srv.Port())
		local, err := client.Handle().LocalAddress()
		require.NoError(t, err)

		acc := receive(t, h.rec.accepts)
		t.Cleanup(func() { _ = acc.client.Close() })
		assert.Same(t, srv, acc.server)
		assert.Equal(t, local.Port(), acc.client.RemoteAddress().Port())
		assert.Equal(t, "127.0.0.1", acc.client.RemoteAddress().Host())
		quiet(t, h.rec.accepts)

		// Scenario 2: exactly one data-ready callback yielding "ping".
		require.NoError(t, client.Write([]byte("ping")))
		ev := receive(t, h.rec.data)
		require.NoError(t, ev.err)
		assert.Same(t, acc.client, ev.client)
		assert.Equal(t, []byte("ping"), ev.data)
		assert.Equal(t, acc.client.RemoteAddress().String(), ev.ctx)
		quiet(t, h.rec.data)

		// Scenario 3: exactly one clean client-closed callback.
		require.NoError(t, client.Close())
		closed := receive(t, h.rec.closed)
		assert.Same(t, acc.client, closed.client)
		assert.NoError(t, closed.err)
		assert.Equal(t, acc.client.RemoteAddress().String(), closed.ctx)
		quiet(t, h.rec.closed)

		assert.Equal(t, 1, h.r.Len(), "only the server stays registered")
		assert.Equal(t, 1.0, h.metrics.Get(control.MetricAccepts))
		assert.Equal(t, 1.0, h.metrics.Get(control.MetricDisconnects))
		assert.GreaterOrEqual(t, h.metrics.Get(control.MetricWakeups), 1.0)
	})
}

func TestReactor_StopClosesAllRegisteredSockets(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := start(t, backend, newRecorder(true))
		srv := listen(t)
		require.NoError(t, h.r.AddServer(srv))

		var peers []*socket.TCPClient
		for i := 0; i < 3; i++ {
			connect(t, srv.Port())
			peers = append(peers, receive(t, h.rec.accepts).client)
		}
		require.Eventually(t, func() bool { return h.r.Len() == 4 }, waitFor, time.Millisecond)

		require.NoError(t, h.r.Stop(true))
		assert.Equal(t, reactor.Stopped, h.r.State())
		assert.True(t, srv.Handle().Closed())
		assert.Equal(t, socket.ModeClosed, srv.Mode().State)
		for _, p := range peers {
			assert.True(t, p.Handle().Closed())
		}
		assert.Equal(t, 0, h.r.Len())
		assert.NoError(t, receive(t, h.runErr))
	})
}

func TestReactor_StopWithoutCloseKeepsSockets(t *testing.T) {
	h := start(t, control.BackendEpoll, newRecorder(false))
	srv := listen(t)
	require.NoError(t, h.r.AddServer(srv))

	require.NoError(t, h.r.Stop(false))
	assert.Equal(t, reactor.Stopped, h.r.State())
	assert.False(t, srv.Handle().Closed())
	assert.Equal(t, 1, h.r.Len())

	// A stopped reactor can run again with its registrations intact.
	go func() { h.runErr <- h.r.Run() }()
	assert.NoError(t, receive(t, h.runErr))
	require.Eventually(t, func() bool { return h.r.State() == reactor.Running }, waitFor, time.Millisecond)

	connect(t, srv.Port())
	acc := receive(t, h.rec.accepts)
	defer acc.client.Close()
	assert.Same(t, srv, acc.server)
}

func TestReactor_LifecycleErrors(t *testing.T) {
	r, err := reactor.New(newRecorder(false))
	require.NoError(t, err)
	assert.Equal(t, reactor.Stopped, r.State())

	err = r.Stop(false)
	assert.ErrorIs(t, err, api.ErrInternalInconsistency)

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run() }()
	require.Eventually(t, func() bool { return r.State() == reactor.Running }, waitFor, time.Millisecond)

	assert.ErrorIs(t, r.Run(), api.ErrInternalInconsistency)
	assert.ErrorIs(t, r.Close(), api.ErrInternalInconsistency)

	require.NoError(t, r.Stop(false))
	assert.NoError(t, <-runErr)

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Close(), api.ErrClosed)
	assert.ErrorIs(t, r.Run(), api.ErrClosed)

	_, err = reactor.New(nil)
	assert.ErrorIs(t, err, api.ErrInternalInconsistency)
	_, err = reactor.New(newRecorder(false), reactor.WithBackend("kqueue"))
	assert.ErrorIs(t, err, api.ErrNotSupported)
}

func TestReactor_RemoveStopsNotifications(t *testing.T) {
	h := start(t, control.BackendEpoll, newRecorder(true))
	srv := listen(t)
	require.NoError(t, h.r.AddServer(srv))

	client := connect(t, srv.Port())
	acc := receive(t, h.rec.accepts)
	defer acc.client.Close()

	require.NoError(t, client.Write([]byte("one")))
	assert.Equal(t, []byte("one"), receive(t, h.rec.data).data)

	require.NoError(t, h.r.Remove(acc.client))
	assert.ErrorIs(t, h.r.Remove(acc.client), api.ErrInternalInconsistency)

	require.NoError(t, client.Write([]byte("two")))
	quiet(t, h.rec.data)

	data, err := acc.client.Read(16)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)

	closed, err := socket.NewTCPClient(addr.Localhost(1, addr.IPv4))
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	assert.ErrorIs(t, h.r.AddClient(closed, nil), api.ErrClosed)
}

func TestReactor_RequestStopFromCallback(t *testing.T) {
	rec := newRecorder(true)
	rec.stopOn = "quit"
	h := start(t, control.BackendEpoll, rec)
	srv := listen(t)
	require.NoError(t, h.r.AddServer(srv))

	client := connect(t, srv.Port())
	acc := receive(t, rec.accepts)
	defer acc.client.Close()

	require.NoError(t, client.Write([]byte("quit")))
	assert.Equal(t, []byte("quit"), receive(t, rec.data).data)
	assert.NoError(t, receive(t, h.runErr))
	assert.Equal(t, reactor.Stopped, h.r.State())
}

func TestReactor_ProbesAndReadEOF(t *testing.T) {
	h := start(t, control.BackendEpoll, newRecorder(false))
	dp := control.NewDebugProbes()
	h.r.RegisterProbes(dp)
	state := dp.DumpState()
	assert.Equal(t, "running", state["reactor.state"])
	assert.Equal(t, 0, state["reactor.registrations"])
	assert.Equal(t, control.BackendEpoll, state["reactor.backend"])

	srv := listen(t)
	require.NoError(t, h.r.AddServer(srv))
	client := connect(t, srv.Port())
	acc := receive(t, h.rec.accepts)
	defer acc.client.Close()

	require.NoError(t, client.Close())
	data, err := acc.client.Read(8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, data)
}

func TestReactor_AddServerSwitchesToNonBlocking(t *testing.T) {
	h := start(t, control.BackendEpoll, newRecorder(false))
	srv := listen(t)
	require.NoError(t, srv.Handle().SetNonBlocking(false))

	require.NoError(t, h.r.AddServer(srv))
	on, err := srv.Handle().NonBlocking()
	require.NoError(t, err)
	assert.True(t, on)
}

func TestReactor_AcceptFailureEndsServerRegistration(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := start(t, backend, newRecorder(false))

		// Bound but never listening: the kernel reports it ready and accept fails.
		srv, err := socket.NewTCPServer(0, addr.IPv4)
		require.NoError(t, err)
		t.Cleanup(func() { _ = srv.Close() })
		require.NoError(t, srv.Bind())
		require.NoError(t, h.r.AddServer(srv))

		closed := receive(t, h.rec.closed)
		assert.Same(t, srv, closed.server)
		require.Error(t, closed.err)
		assert.ErrorIs(t, closed.err, unix.EINVAL)
		errno, ok := api.Errno(closed.err)
		require.True(t, ok)
		assert.NotZero(t, errno)
		quiet(t, h.rec.closed)

		assert.Equal(t, 0, h.r.Len())
		assert.False(t, srv.Handle().Closed(), "the reactor does not close the server")
	})
}

func TestReactor_PeerResetCarriesSocketError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := start(t, backend, newRecorder(true))
		srv := listen(t)
		require.NoError(t, h.r.AddServer(srv))

		client := connect(t, srv.Port())
		acc := receive(t, h.rec.accepts)
		t.Cleanup(func() { _ = acc.client.Close() })
		require.Eventually(t, func() bool { return h.r.Len() == 2 }, waitFor, time.Millisecond)

		// A zero linger turns close into a reset.
		require.NoError(t, unix.SetsockoptLinger(client.Handle().FD(), unix.SOL_SOCKET, unix.SO_LINGER,
			&unix.Linger{Onoff: 1, Linger: 0}))
		require.NoError(t, client.Close())

		closed := receive(t, h.rec.closed)
		assert.Same(t, acc.client, closed.client)
		assert.ErrorIs(t, closed.err, unix.ECONNRESET)
		assert.Equal(t, api.ErrCodeOperationFailure, api.CodeOf(closed.err))
		assert.Equal(t, acc.client.RemoteAddress().String(), closed.ctx)
		quiet(t, h.rec.closed)
		assert.Equal(t, 1, h.r.Len())
	})
}

func TestReactor_SimultaneousHangupsEachDeliverOneClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := start(t, backend, newRecorder(true))
		srv := listen(t)
		require.NoError(t, h.r.AddServer(srv))

		var peers []*socket.TCPClient
		accepted := make(map[*socket.TCPClient]bool)
		for i := 0; i < 3; i++ {
			peers = append(peers, connect(t, srv.Port()))
			acc := receive(t, h.rec.accepts)
			t.Cleanup(func() { _ = acc.client.Close() })
			accepted[acc.client] = true
		}
		require.Eventually(t, func() bool { return h.r.Len() == 4 }, waitFor, time.Millisecond)

		for _, p := range peers {
			require.NoError(t, p.Close())
		}
		for i := 0; i < len(peers); i++ {
			ev := receive(t, h.rec.closed)
			assert.NoError(t, ev.err)
			assert.True(t, accepted[ev.client], "closed callback for an unknown client")
			delete(accepted, ev.client)
		}
		quiet(t, h.rec.closed)
		assert.Empty(t, accepted)
		assert.Equal(t, 1, h.r.Len())
	})
}

func TestReactor_ClosedWithoutRemoveIsDropped(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := start(t, backend, newRecorder(true))
		srv := listen(t)
		require.NoError(t, h.r.AddServer(srv))

		connect(t, srv.Port())
		acc := receive(t, h.rec.accepts)
		require.Eventually(t, func() bool { return h.r.Len() == 2 }, waitFor, time.Millisecond)

		require.NoError(t, acc.client.Close())
		assert.Equal(t, 1, h.r.Len())

		// The loop keeps serving the remaining sockets.
		second := connect(t, srv.Port())
		acc2 := receive(t, h.rec.accepts)
		t.Cleanup(func() { _ = acc2.client.Close() })
		require.NoError(t, second.Write([]byte("next")))
		ev := receive(t, h.rec.data)
		assert.Same(t, acc2.client, ev.client)
		assert.Equal(t, []byte("next"), ev.data)
		quiet(t, h.rec.closed)

		require.NoError(t, h.r.Stop(true))
		assert.True(t, acc2.client.Handle().Closed())
	})
}
