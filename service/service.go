/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/acronis/go-vlimit/log"
)

// DefaultShutdownSignals are signals that make the service stop gracefully.
var DefaultShutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// Opts represents an options for Service.
type Opts struct {
	ShutdownSignals []os.Signal
}

// Service runs a unit until a shutdown signal is received, the context is canceled or the unit fails.
// Metrics of the unit are registered for the time it runs.
type Service struct {
	Unit   Unit
	Logger log.FieldLogger
	Opts   Opts

	// Signals receives notifications about ShutdownSignals.
	Signals chan os.Signal
}

// New creates a new Service that stops on SIGINT and SIGTERM.
func New(logger log.FieldLogger, unit Unit) *Service {
	return NewWithOpts(logger, unit, Opts{ShutdownSignals: DefaultShutdownSignals})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts(logger log.FieldLogger, unit Unit, opts Opts) *Service {
	return &Service{Unit: unit, Logger: logger, Opts: opts, Signals: make(chan os.Signal, 1)}
}

// Start runs the service with the background context.
func (s *Service) Start() error {
	return s.Run(context.Background())
}

// Run starts the unit in a separate goroutine and blocks until it has to be stopped.
// On a shutdown signal or context cancellation the unit is stopped gracefully,
// and non-gracefully if the graceful stop fails.
// On a fatal error it's stopped non-gracefully, so no worker process outlives the service.
// Run returns only after the unit's Start has returned.
func (s *Service) Run(ctx context.Context) error {
	if mr, ok := s.Unit.(MetricsRegisterer); ok {
		mr.MustRegisterMetrics()
		defer mr.UnregisterMetrics()
	}

	signal.Notify(s.Signals, s.Opts.ShutdownSignals...)
	defer signal.Stop(s.Signals)

	fatalErr := make(chan error, 1)
	startReturned := make(chan struct{})
	go func() {
		defer close(startReturned)
		s.Unit.Start(fatalErr)
	}()

	var reason string
	select {
	case err := <-fatalErr:
		s.Logger.Error("service has failed, stopping it", log.Error(err))
		if stopErr := s.Unit.Stop(false); stopErr != nil {
			s.Logger.Error("error while stopping failed service", log.Error(stopErr))
		}
		<-startReturned
		return fmt.Errorf("fatal error: %w", err)
	case sig := <-s.Signals:
		reason = "signal " + sig.String()
	case <-ctx.Done():
		reason = "context canceled"
	}

	s.Logger.Info("stopping service gracefully", log.String("reason", reason))
	if err := s.Unit.Stop(true); err != nil {
		s.Logger.Error("failed to stop service gracefully, stopping it forcibly", log.Error(err))
		if stopErr := s.Unit.Stop(false); stopErr != nil {
			s.Logger.Error("error while stopping service forcibly", log.Error(stopErr))
		}
		<-startReturned
		return fmt.Errorf("stop service gracefully: %w", err)
	}
	<-startReturned
	s.Logger.Info("service has been stopped")
	return nil
}
