//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"sort"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-sock/api"
	"github.com/momentics/hioload-sock/control"
	"github.com/momentics/hioload-sock/socket"
)

// registration is the callback info stored per watched descriptor. Exactly
// one of server and client is set.
type registration struct {
	id     uint64
	server *socket.TCPServer
	client *socket.TCPClient
	ctx    any
}

func (reg *registration) close() error {
	if reg.server != nil {
		return reg.server.Close()
	}
	return reg.client.Close()
}

// Reactor multiplexes readiness for registered TCP sockets.
type Reactor struct {
	delegate Delegate
	cfg      control.Config
	metrics  *control.MetricsRegistry
	log      *logrus.Entry

	backend backend
	wake    *wakeup

	mu     sync.Mutex
	state  State
	table  map[int]*registration
	nextID uint64
	dirty  bool
	done   chan struct{}
	closed bool
}

// New creates a reactor with its backend and wake-up channel. The reactor is
// Stopped until Run is called.
func New(delegate Delegate, opts ...Option) (*Reactor, error) {
	if delegate == nil {
		return nil, api.Internal("reactor new", "nil delegate")
	}
	o := options{cfg: control.DefaultConfig(), logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	wake, err := newWakeup()
	if err != nil {
		return nil, err
	}
	be, err := newBackend(o.cfg.Backend, wake.r, o.cfg.MaxEvents)
	if err != nil {
		_ = wake.close()
		return nil, err
	}
	r := &Reactor{
		delegate: delegate,
		cfg:      o.cfg,
		metrics:  o.metrics,
		log:      o.logger.WithField("component", "reactor"),
		backend:  be,
		wake:     wake,
		table:    make(map[int]*registration),
		done:     make(chan struct{}),
	}
	close(r.done)
	r.log.WithFields(logrus.Fields{
		"function":   "reactor.New",
		"backend":    o.cfg.Backend,
		"max_events": o.cfg.MaxEvents,
	}).Debug("reactor created")
	return r, nil
}

// State returns the loop lifecycle state.
func (r *Reactor) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Len returns the number of registered sockets.
func (r *Reactor) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return len(r.table)
}

// AddServer watches a listening server for inbound connections. The server is
// switched to non-blocking mode.
func (r *Reactor) AddServer(s *socket.TCPServer) error {
	if err := s.Handle().SetNonBlocking(true); err != nil {
		return err
	}
	return r.add(s.Handle(), &registration{server: s})
}

// AddClient watches a connected client; ctx is handed back in callbacks.
func (r *Reactor) AddClient(c *socket.TCPClient, ctx any) error {
	return r.add(c.Handle(), &registration{client: c, ctx: ctx})
}

// Remove stops watching a client. It does not close it. Call Remove before
// closing a registered socket; a socket closed while registered is dropped
// without a callback.
func (r *Reactor) Remove(c *socket.TCPClient) error {
	return r.remove(c.Handle())
}

// RemoveServer stops watching a server. It does not close it.
func (r *Reactor) RemoveServer(s *socket.TCPServer) error {
	return r.remove(s.Handle())
}

func (r *Reactor) add(h *socket.Handle, reg *registration) error {
	if h.Closed() {
		return api.Closed("reactor add")
	}
	fd := h.FD()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return api.Closed("reactor add")
	}
	r.nextID++
	reg.id = r.nextID
	r.table[fd] = reg
	r.dirty = true
	running := r.state == Running
	r.mu.Unlock()

	r.metrics.Add(control.MetricRegistrations, 1)
	r.log.WithFields(logrus.Fields{
		"function": "Reactor.add",
		"fd":       fd,
		"server":   reg.server != nil,
	}).Debug("socket registered")
	return r.notify(running)
}

func (r *Reactor) remove(h *socket.Handle) error {
	fd := h.FD()
	r.mu.Lock()
	reg, ok := r.table[fd]
	if !ok || reg.handle() != h {
		r.mu.Unlock()
		return api.Internal("reactor remove", "socket is not registered")
	}
	delete(r.table, fd)
	r.dirty = true
	running := r.state == Running
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"function": "Reactor.remove",
		"fd":       fd,
	}).Debug("socket unregistered")
	return r.notify(running)
}

func (reg *registration) handle() *socket.Handle {
	if reg.server != nil {
		return reg.server.Handle()
	}
	return reg.client.Handle()
}

// notify rings the wake-up channel when the loop may be blocked in a wait.
func (r *Reactor) notify(running bool) error {
	if !running {
		return nil
	}
	if err := r.wake.signal(); err != nil {
		return errors.Wrap(err, "reactor notify")
	}
	return nil
}

// snapshotLocked copies the watch set. Callers hold r.mu.
func (r *Reactor) snapshotLocked() []watchEntry {
	set := make([]watchEntry, 0, len(r.table))
	for fd, reg := range r.table {
		set = append(set, watchEntry{fd: fd, id: reg.id})
	}
	sort.Slice(set, func(i, j int) bool { return set[i].fd < set[j].fd })
	return set
}

// Run executes the wait loop on the calling goroutine until Stop. It fails
// unless the reactor is Stopped.
func (r *Reactor) Run() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return api.Closed("reactor run")
	}
	if r.state != Stopped {
		state := r.state
		r.mu.Unlock()
		return api.Internal("reactor run", "reactor is "+state.String())
	}
	r.state = Running
	r.dirty = true
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	r.log.WithField("function", "Reactor.Run").Info("reactor loop started")
	defer func() {
		r.mu.Lock()
		r.state = Stopped
		r.mu.Unlock()
		close(done)
		r.log.WithField("function", "Reactor.Run").Info("reactor loop stopped")
	}()

	events := make([]readiness, r.cfg.MaxEvents)
	pending := queue.New()
	for {
		r.mu.Lock()
		if r.state != Running {
			r.mu.Unlock()
			return nil
		}
		r.pruneLocked()
		var set []watchEntry
		dirty := r.dirty
		if dirty {
			set = r.snapshotLocked()
			r.dirty = false
		}
		r.mu.Unlock()

		if dirty {
			if err := r.backend.update(set); err != nil {
				r.log.WithFields(logrus.Fields{
					"function": "Reactor.Run",
					"error":    err.Error(),
				}).Error("failed to update watch set")
				return err
			}
		}

		n, err := r.backend.wait(events)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"function": "Reactor.Run",
				"error":    err.Error(),
			}).Error("readiness wait failed")
			return errors.Wrap(err, "reactor run")
		}
		if r.classify(events[:n], pending) {
			if _, err := r.wake.drain(); err != nil {
				r.log.WithFields(logrus.Fields{
					"function": "Reactor.Run",
					"error":    err.Error(),
				}).Warn("failed to drain wake-up channel")
			}
			r.metrics.Add(control.MetricWakeups, 1)
		}
		for pending.Length() > 0 {
			w := pending.Remove().(work)
			if r.State() != Running {
				continue
			}
			r.deliver(w)
		}
	}
}

// work is a classified ready event awaiting delivery.
type work struct {
	reg    *registration
	closed bool // already removed from the table
	failed bool
}

// classify resolves a batch of ready events against the table under a single
// lock and queues the resulting work. Hung-up and failed clients are removed
// here, before any callback of the batch runs. It reports whether the wake-up
// channel was among the events.
func (r *Reactor) classify(events []readiness, pending *queue.Queue) bool {
	woken := false
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	for _, ev := range events {
		if ev.fd == r.wake.r {
			woken = true
			continue
		}
		reg, ok := r.table[ev.fd]
		if !ok {
			continue
		}
		switch {
		case reg.server != nil:
			// A listening socket has no peer; any condition is settled by accept.
			pending.Add(work{reg: reg})
		case ev.hangup || ev.failed:
			delete(r.table, ev.fd)
			r.dirty = true
			pending.Add(work{reg: reg, closed: true, failed: ev.failed})
		case ev.readable:
			pending.Add(work{reg: reg})
		}
	}
	return woken
}

// pruneLocked drops registrations whose socket was closed by the application
// without Remove. Callers hold r.mu.
func (r *Reactor) pruneLocked() {
	for fd, reg := range r.table {
		if !reg.handle().Closed() {
			continue
		}
		delete(r.table, fd)
		r.dirty = true
		r.log.WithFields(logrus.Fields{
			"function": "Reactor.pruneLocked",
			"fd":       fd,
		}).Debug("dropping registration of closed socket")
	}
}

// registered reports whether reg is still the live entry for its descriptor.
func (r *Reactor) registered(reg *registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.table[reg.handle().FD()]
	return ok && cur == reg && !reg.handle().Closed()
}

// deliver runs the callback for one unit of work on the loop goroutine.
func (r *Reactor) deliver(w work) {
	r.metrics.Add(control.MetricEvents, 1)
	if w.closed {
		var err error
		if w.failed {
			err = r.pendingError(w.reg)
		}
		r.metrics.Add(control.MetricDisconnects, 1)
		r.deliverClosed(w.reg, err)
		return
	}
	// An earlier callback of the same batch may have removed or closed it.
	if !r.registered(w.reg) {
		return
	}
	if w.reg.server != nil {
		r.acceptOne(w.reg)
		return
	}
	r.delegate.OnData(r, w.reg.client, w.reg.ctx)
}

// acceptOne accepts a single connection. A nil result or an error ends the
// server's registration.
func (r *Reactor) acceptOne(reg *registration) {
	client, err := reg.server.Accept()
	if err == nil && client != nil {
		r.metrics.Add(control.MetricAccepts, 1)
		r.log.WithFields(logrus.Fields{
			"function": "Reactor.acceptOne",
			"peer":     client.RemoteAddress().String(),
		}).Debug("accepted connection")
		r.delegate.OnAccept(r, reg.server, client)
		return
	}
	if err == nil {
		err = api.OSError("tcp accept", unix.EAGAIN)
	}
	r.log.WithFields(logrus.Fields{
		"function": "Reactor.acceptOne",
		"port":     reg.server.Port(),
		"error":    err.Error(),
	}).Warn("accept failed, dropping server registration")

	r.mu.Lock()
	fd := reg.server.Handle().FD()
	if cur, ok := r.table[fd]; ok && cur == reg {
		delete(r.table, fd)
		r.dirty = true
	}
	r.mu.Unlock()
	r.delegate.OnServerClosed(r, reg.server, err)
}

func (r *Reactor) pendingError(reg *registration) error {
	err := reg.handle().PendingError()
	if err == nil {
		err = api.OSError("socket error", unix.ECONNRESET)
	}
	return err
}

func (r *Reactor) deliverClosed(reg *registration, err error) {
	if reg.server != nil {
		r.delegate.OnServerClosed(r, reg.server, err)
		return
	}
	r.delegate.OnClientClosed(r, reg.client, err, reg.ctx)
}

// RequestStop moves a Running reactor to Stopping and, if closeAll is set,
// closes every registered socket. It does not wait for the loop; it is the
// form to use from inside a Delegate callback.
func (r *Reactor) RequestStop(closeAll bool) error {
	_, err := r.requestStop(closeAll)
	return err
}

// requestStop returns the done channel of the run being stopped, or nil when
// the reactor was not Running.
func (r *Reactor) requestStop(closeAll bool) (<-chan struct{}, error) {
	r.mu.Lock()
	if r.state != Running {
		state := r.state
		r.mu.Unlock()
		return nil, api.Internal("reactor stop", "reactor is "+state.String())
	}
	r.state = Stopping
	done := r.done
	r.pruneLocked()
	var errs error
	if closeAll {
		for fd, reg := range r.table {
			// Best effort: one failure does not keep the rest open.
			if err := reg.close(); err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "close fd=%d", fd))
			}
			delete(r.table, fd)
		}
		r.dirty = true
	}
	r.mu.Unlock()

	if errs != nil {
		r.log.WithFields(logrus.Fields{
			"function": "Reactor.RequestStop",
			"error":    errs.Error(),
		}).Warn("some sockets failed to close")
	}
	return done, multierr.Append(errs, r.notify(true))
}

// Stop requests Stopping and blocks until the loop goroutine has exited and
// the reactor is Stopped. It must not be called from a Delegate callback.
// While waiting, the wake-up channel is rung again every StopPollInterval.
func (r *Reactor) Stop(closeAll bool) error {
	done, err := r.requestStop(closeAll)
	if done == nil {
		return err
	}

	tick := time.NewTicker(r.cfg.StopPollInterval)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return err
		case <-tick.C:
			_ = r.wake.signal()
		}
	}
}

// Close releases the backend and the wake-up channel. Registered sockets are
// left open. The reactor must be Stopped.
func (r *Reactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return api.Closed("reactor close")
	}
	if r.state != Stopped {
		return api.Internal("reactor close", "reactor is "+r.state.String())
	}
	r.closed = true
	r.table = make(map[int]*registration)
	return multierr.Combine(r.backend.close(), r.wake.close())
}

// RegisterProbes exposes reactor state through debug probes.
func (r *Reactor) RegisterProbes(dp *control.DebugProbes) {
	dp.RegisterProbe("reactor.state", func() any { return r.State().String() })
	dp.RegisterProbe("reactor.registrations", func() any { return r.Len() })
	dp.RegisterProbe("reactor.backend", func() any { return r.cfg.Backend })
}
