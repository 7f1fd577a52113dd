//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-sock/control"
)

type options struct {
	cfg     control.Config
	metrics *control.MetricsRegistry
	logger  *logrus.Logger
}

// Option customizes a Reactor.
type Option func(*options)

// WithConfig replaces the whole configuration.
func WithConfig(cfg control.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithBackend selects control.BackendEpoll or control.BackendPoll.
func WithBackend(name string) Option {
	return func(o *options) { o.cfg.Backend = name }
}

// WithMetrics records reactor counters into m.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger used by the reactor.
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}
