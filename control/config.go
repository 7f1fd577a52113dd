// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed runtime configuration and a thread-safe override store with reload
// listeners.

package control

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-sock/api"
)

// Backend names accepted by Config.Backend.
const (
	BackendEpoll = "epoll"
	BackendPoll  = "poll"
)

// Config keys understood by Apply.
const (
	KeyBackend          = "reactor.backend"
	KeyMaxEvents        = "reactor.max_events"
	KeyStopPollInterval = "reactor.stop_poll_interval"
	KeyListenBacklog    = "tcp.listen_backlog"
	KeyUDPSendBuffer    = "udp.send_buffer"
	KeyLogLevel         = "log.level"
)

// Config holds the tunables of the runtime.
type Config struct {
	Backend          string        // readiness backend: epoll or poll
	MaxEvents        int           // events fetched per wait call
	StopPollInterval time.Duration // re-signal interval while Stop waits
	ListenBacklog    int
	UDPSendBuffer    int
	LogLevel         logrus.Level
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Backend:          BackendEpoll,
		MaxEvents:        128,
		StopPollInterval: 10 * time.Millisecond,
		ListenBacklog:    128,
		UDPSendBuffer:    900,
		LogLevel:         logrus.InfoLevel,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendEpoll, BackendPoll:
	default:
		return fmt.Errorf("config: backend %q: %w", c.Backend, api.ErrNotSupported)
	}
	if c.MaxEvents <= 0 {
		return fmt.Errorf("config: max events must be positive, got %d", c.MaxEvents)
	}
	if c.StopPollInterval <= 0 {
		return fmt.Errorf("config: stop poll interval must be positive, got %v", c.StopPollInterval)
	}
	if c.ListenBacklog <= 0 {
		return fmt.Errorf("config: listen backlog must be positive, got %d", c.ListenBacklog)
	}
	return nil
}

// Apply folds a store snapshot into c. Unknown keys are ignored; values of the
// wrong type are an error.
func (c Config) Apply(snapshot map[string]any) (Config, error) {
	for k, v := range snapshot {
		var ok bool
		switch k {
		case KeyBackend:
			c.Backend, ok = v.(string)
		case KeyMaxEvents:
			c.MaxEvents, ok = v.(int)
		case KeyListenBacklog:
			c.ListenBacklog, ok = v.(int)
		case KeyUDPSendBuffer:
			c.UDPSendBuffer, ok = v.(int)
		case KeyStopPollInterval:
			c.StopPollInterval, ok = v.(time.Duration)
		case KeyLogLevel:
			var s string
			if s, ok = v.(string); ok {
				lvl, err := logrus.ParseLevel(s)
				if err != nil {
					return c, fmt.Errorf("config: %s: %w", k, err)
				}
				c.LogLevel = lvl
			}
		default:
			continue
		}
		if !ok {
			return c, fmt.Errorf("config: %s: unexpected type %T", k, v)
		}
	}
	return c, c.Validate()
}

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Config returns DefaultConfig with the stored overrides applied.
func (cs *ConfigStore) Config() (Config, error) {
	return DefaultConfig().Apply(cs.GetSnapshot())
}

// SetConfig merges new values and notifies listeners.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	listeners := append([]func(){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// OnReload registers a listener called synchronously after each SetConfig.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
