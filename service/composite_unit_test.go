/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-vlimit/log"
)

// stopLog records the order in which units are stopped.
type stopLog struct {
	mu    sync.Mutex
	names []string
}

func (l *stopLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *stopLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

type mockUnit struct {
	name     string
	startErr error
	stopErr  error
	stopLog  *stopLog
	// drainDelay is how long Start keeps running after Stop, like a server finishing requests.
	drainDelay time.Duration

	running              *atomic.Int32
	stopped              chan struct{}
	stopOnce             sync.Once
	startCalled          atomic.Int32
	stopCalled           atomic.Int32
	stopGracefullyCalled atomic.Int32
	metricsRegistered    atomic.Int32
	metricsUnregistered  atomic.Int32
}

func newMockUnit(name string, running *atomic.Int32) *mockUnit {
	return &mockUnit{name: name, running: running, stopped: make(chan struct{})}
}

func (u *mockUnit) Start(fatalErr chan<- error) {
	u.startCalled.Inc()
	if u.startErr != nil {
		fatalErr <- u.startErr
		return
	}
	u.running.Inc()
	<-u.stopped
	time.Sleep(u.drainDelay)
	u.running.Dec()
}

func (u *mockUnit) Stop(gracefully bool) error {
	u.stopCalled.Inc()
	if gracefully {
		u.stopGracefullyCalled.Inc()
	}
	if u.stopLog != nil {
		u.stopLog.add(u.name)
	}
	u.stopOnce.Do(func() { close(u.stopped) })
	return u.stopErr
}

func (u *mockUnit) MustRegisterMetrics() {
	u.metricsRegistered.Inc()
}

func (u *mockUnit) UnregisterMetrics() {
	u.metricsUnregistered.Inc()
}

func startInBackground(unit Unit) (fatalErr chan error, returned chan struct{}) {
	fatalErr = make(chan error, 1)
	returned = make(chan struct{})
	go func() {
		defer close(returned)
		unit.Start(fatalErr)
	}()
	return fatalErr, returned
}

func requireClosed(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		require.Fail(t, msg)
	}
}

func TestCompositeUnit_StartAndStop(t *testing.T) {
	t.Run("units are stopped in reverse order", func(t *testing.T) {
		var running atomic.Int32
		order := &stopLog{}
		server := newMockUnit("http server", &running)
		server.stopLog = order
		occupancy := newMockUnit("occupancy", &running)
		occupancy.stopLog = order
		cu := NewCompositeUnit(server, occupancy)

		fatalErr, returned := startInBackground(cu)
		require.Eventually(t, func() bool { return running.Load() == 2 }, 3*time.Second, 10*time.Millisecond)

		require.NoError(t, cu.Stop(true))
		requireClosed(t, returned, "Start should return after all units are stopped")
		require.Empty(t, fatalErr)
		require.Equal(t, []string{"occupancy", "http server"}, order.get())
		require.Equal(t, int32(1), server.stopGracefullyCalled.Load())
		require.Equal(t, int32(1), occupancy.stopGracefullyCalled.Load())
		require.Equal(t, int32(0), running.Load())
	})

	t.Run("stop errors are joined", func(t *testing.T) {
		var running atomic.Int32
		units := make([]Unit, 0, 10)
		var stopErrs []error
		for i := 0; i < 10; i++ {
			u := newMockUnit(fmt.Sprintf("worker#%d", i), &running)
			if i%3 == 0 {
				u.stopErr = fmt.Errorf("worker#%d: process did not exit", i)
				stopErrs = append(stopErrs, u.stopErr)
			}
			units = append(units, u)
		}
		cu := NewCompositeUnit(units...)

		_, returned := startInBackground(cu)
		require.Eventually(t, func() bool { return running.Load() == 10 }, 3*time.Second, 10*time.Millisecond)

		err := cu.Stop(true)
		require.Error(t, err)
		for _, stopErr := range stopErrs {
			require.ErrorIs(t, err, stopErr)
		}
		requireClosed(t, returned, "Start should return after all units are stopped")
	})

	t.Run("failed unit stops the rest", func(t *testing.T) {
		var running atomic.Int32
		server := newMockUnit("http server", &running)
		server.stopErr = errors.New("listener is already closed")
		occupancy := newMockUnit("occupancy", &running)
		pool := newMockUnit("process pool", &running)
		pool.startErr = errors.New("worker 0 cannot be started")
		cu := NewCompositeUnit(server, occupancy, pool)

		fatalErr, returned := startInBackground(cu)
		requireClosed(t, returned, "Start should return after the failure")

		require.Len(t, fatalErr, 1)
		err := <-fatalErr
		require.ErrorIs(t, err, pool.startErr)
		require.ErrorIs(t, err, server.stopErr)
		for _, u := range []*mockUnit{server, occupancy, pool} {
			require.Equal(t, int32(1), u.stopCalled.Load(), "%s should be stopped", u.name)
			require.Equal(t, int32(0), u.stopGracefullyCalled.Load(), "%s should be stopped non-gracefully", u.name)
		}
		require.Equal(t, int32(0), running.Load())
	})

	t.Run("no units", func(t *testing.T) {
		cu := NewCompositeUnit()
		fatalErr, returned := startInBackground(cu)
		requireClosed(t, returned, "Start should return immediately")
		require.Empty(t, fatalErr)
		require.NoError(t, cu.Stop(true))
	})
}

func TestCompositeUnit_Metrics(t *testing.T) {
	var running atomic.Int32
	server := newMockUnit("http server", &running)
	cu := NewCompositeUnit(server, NewPeriodicUnit("occupancy", time.Hour, nil, log.NewDisabledLogger()))

	cu.MustRegisterMetrics()
	cu.UnregisterMetrics()
	require.Equal(t, int32(1), server.metricsRegistered.Load())
	require.Equal(t, int32(1), server.metricsUnregistered.Load())
}
