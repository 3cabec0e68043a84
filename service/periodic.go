/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-vlimit/log"
)

// ErrPeriodicTaskStop may be returned by a periodic task for interrupting the loop.
var ErrPeriodicTaskStop = errors.New("stop periodic task")

// ErrStopTimeoutExceeded is returned when the unit was not stopped gracefully within the timeout.
var ErrStopTimeoutExceeded = errors.New("unit stop timeout exceeded")

// PeriodicTask is a function that is called by PeriodicUnit.
type PeriodicTask func(ctx context.Context) error

// PeriodicUnitOpts contains optional parameters for constructing PeriodicUnit.
type PeriodicUnitOpts struct {
	InitialDelay        time.Duration
	GracefulStopTimeout time.Duration
}

// PeriodicUnit is a Unit that runs the task with a fixed delay between runs until it's stopped.
// Errors of the task are logged and don't stop the loop.
type PeriodicUnit struct {
	name     string
	task     PeriodicTask
	interval time.Duration
	logger   log.FieldLogger
	opts     PeriodicUnitOpts

	ctx       context.Context
	ctxCancel context.CancelFunc
	started   atomic.Bool
	done      chan struct{}
}

var _ Unit = (*PeriodicUnit)(nil)

// NewPeriodicUnit creates a new PeriodicUnit.
func NewPeriodicUnit(name string, interval time.Duration, task PeriodicTask, logger log.FieldLogger) *PeriodicUnit {
	return NewPeriodicUnitWithOpts(name, interval, task, logger, PeriodicUnitOpts{})
}

// NewPeriodicUnitWithOpts is a more configurable version of NewPeriodicUnit.
func NewPeriodicUnitWithOpts(
	name string, interval time.Duration, task PeriodicTask, logger log.FieldLogger, opts PeriodicUnitOpts,
) *PeriodicUnit {
	ctx, ctxCancel := context.WithCancel(context.Background())
	return &PeriodicUnit{
		name:      name,
		task:      task,
		interval:  interval,
		logger:    logger.With(log.String("periodic_task", name)),
		opts:      opts,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		done:      make(chan struct{}),
	}
}

// Start runs the loop. It blocks until the unit is stopped or the task returns ErrPeriodicTaskStop.
func (u *PeriodicUnit) Start(_ chan<- error) {
	if !u.started.CompareAndSwap(false, true) {
		return
	}
	defer close(u.done)
	defer func() {
		if p := recover(); p != nil {
			const logStackSize = 8192
			stack := make([]byte, logStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			u.logger.Error(fmt.Sprintf("panic: %+v", p), log.Bytes("stack", stack))
			panic(p)
		}
		u.logger.Info("periodic task stopped")
	}()

	u.logger.Info("running periodic task...",
		log.Duration("initial_delay", u.opts.InitialDelay), log.Duration("interval", u.interval))

	timer := time.NewTimer(u.opts.InitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-u.ctx.Done():
			return
		case <-timer.C:
		}
		if err := u.task(u.ctx); err != nil {
			if errors.Is(err, ErrPeriodicTaskStop) {
				return
			}
			u.logger.Error("periodic task finished with error", log.Error(err))
		}
		timer.Reset(u.interval)
	}
}

// Stop interrupts the loop. Graceful stop waits for the running task to finish.
func (u *PeriodicUnit) Stop(gracefully bool) error {
	u.ctxCancel()
	if !gracefully || !u.started.Load() {
		return nil
	}
	if u.opts.GracefulStopTimeout == 0 {
		<-u.done
		return nil
	}
	select {
	case <-u.done:
		return nil
	case <-time.After(u.opts.GracefulStopTimeout):
		return ErrStopTimeoutExceeded
	}
}
