// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for the socket
// runtime.
//
// Provides concurrent-safe state handling primitives including:
//   - Typed Config with defaults, folded from a ConfigStore snapshot
//   - Reload listeners on the store
//   - A metrics registry exported as a Prometheus collector
//   - Debug probes for state dumps
package control
