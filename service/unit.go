/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs the parts of vlimitd (HTTP server, periodic tasks, worker processes)
// as units with a common lifecycle.
package service

// Unit is a part of the service with its own lifecycle.
type Unit interface {
	// Start runs the unit. It may return right after initialization or block until the unit is stopped.
	// A unit that cannot run reports the reason to fatalErr before returning and never uses the channel afterwards.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start failed or was never called.
	// With gracefully set to false the unit releases its resources without waiting for in-progress work.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units that export Prometheus metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
