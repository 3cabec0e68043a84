/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-vlimit/log/logtest"
)

func TestService_Run(t *testing.T) {
	t.Run("shutdown signal", func(t *testing.T) {
		logger := logtest.NewRecorder()
		var running atomic.Int32
		unit := newMockUnit("http server", &running)
		svc := New(logger, unit)

		runErr := make(chan error, 1)
		go func() { runErr <- svc.Start() }()
		require.Eventually(t, func() bool { return running.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
		require.Equal(t, int32(1), unit.metricsRegistered.Load())

		svc.Signals <- syscall.SIGTERM

		select {
		case err := <-runErr:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			require.Fail(t, "service should be stopped")
		}
		require.Equal(t, int32(1), unit.stopGracefullyCalled.Load())
		require.Equal(t, int32(1), unit.metricsUnregistered.Load())
		entry, found := logger.FindEntry("stopping service gracefully")
		require.True(t, found)
		reason, found := entry.FindField("reason")
		require.True(t, found)
		require.Equal(t, "signal terminated", string(reason.Bytes))
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var running atomic.Int32
		unit := newMockUnit("occupancy", &running)
		svc := NewWithOpts(logtest.NewRecorder(), unit, Opts{ShutdownSignals: []os.Signal{syscall.SIGUSR2}})

		runErr := make(chan error, 1)
		go func() { runErr <- svc.Run(ctx) }()
		require.Eventually(t, func() bool { return running.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

		cancel()

		select {
		case err := <-runErr:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			require.Fail(t, "service should be stopped")
		}
		require.Equal(t, int32(1), unit.stopGracefullyCalled.Load())
		require.Equal(t, int32(0), running.Load())
	})

	t.Run("graceful stop fails", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var running atomic.Int32
		unit := newMockUnit("http server", &running)
		unit.stopErr = errors.New("shutdown timeout exceeded")

		err := New(logtest.NewRecorder(), unit).Run(ctx)
		require.ErrorIs(t, err, unit.stopErr)
		require.Equal(t, int32(2), unit.stopCalled.Load(), "unit should be stopped forcibly after a failed graceful stop")
		require.Equal(t, int32(1), unit.stopGracefullyCalled.Load())
		require.Equal(t, int32(0), running.Load())
	})

	t.Run("waits for unit to return", func(t *testing.T) {
		const drainDelay = 200 * time.Millisecond
		ctx, cancel := context.WithCancel(context.Background())
		var running atomic.Int32
		unit := newMockUnit("http server", &running)
		unit.drainDelay = drainDelay

		runErr := make(chan error, 1)
		go func() { runErr <- New(logtest.NewRecorder(), unit).Run(ctx) }()
		require.Eventually(t, func() bool { return running.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

		canceledAt := time.Now()
		cancel()
		require.NoError(t, <-runErr)
		require.Equal(t, int32(0), running.Load(), "Run should not return while Start is still running")
		require.GreaterOrEqual(t, time.Since(canceledAt), drainDelay)
	})

	t.Run("fatal error", func(t *testing.T) {
		logger := logtest.NewRecorder()
		var running atomic.Int32
		unit := newMockUnit("process pool", &running)
		unit.startErr = errors.New("worker 0 cannot be started")

		err := New(logger, unit).Start()
		require.ErrorIs(t, err, unit.startErr)
		require.Equal(t, int32(1), unit.stopCalled.Load())
		require.Equal(t, int32(0), unit.stopGracefullyCalled.Load(), "unit should be stopped non-gracefully")
		_, found := logger.FindEntry("service has failed, stopping it")
		require.True(t, found)
	})
}
