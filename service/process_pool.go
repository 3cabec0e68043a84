//go:build unix

/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"

	"github.com/acronis/go-vlimit/log"
)

// Default values for ProcessPoolOpts.
const (
	DefaultProcessStopTimeout  = 30 * time.Second
	DefaultProcessStableUptime = 10 * time.Second
)

// ProcessCommandFunc creates a command for starting the i-th worker process.
// It's called again every time the process is restarted.
type ProcessCommandFunc func(i int) *exec.Cmd

// ProcessPoolOpts represents options for ProcessPool.
type ProcessPoolOpts struct {
	// StopSignal is sent to worker processes on graceful stop. SIGTERM is used by default.
	StopSignal os.Signal
	// StopTimeout is the time worker processes are given to exit after StopSignal.
	// After it's exceeded, they are killed.
	StopTimeout time.Duration
	// NewRestartBackOff creates a back-off policy of restarting a worker process that has exited unexpectedly.
	NewRestartBackOff func() backoff.BackOff
	// StableUptime is the uptime after which the worker process restart back-off is reset.
	StableUptime time.Duration
}

// ProcessPool is a Unit that runs a fixed number of worker processes and restarts the ones that exit
// while the pool is running. Stopping the pool forwards the stop signal to every worker process.
type ProcessPool struct {
	size    int
	command ProcessCommandFunc
	logger  log.FieldLogger
	opts    ProcessPoolOpts

	mu       sync.Mutex
	procs    []*os.Process
	started  atomic.Bool
	stopping atomic.Bool
	stopCh   chan struct{}
	done     chan struct{}
}

var _ Unit = (*ProcessPool)(nil)

// NewProcessPool creates a new ProcessPool.
func NewProcessPool(size int, command ProcessCommandFunc, logger log.FieldLogger, opts ProcessPoolOpts) *ProcessPool {
	if opts.StopSignal == nil {
		opts.StopSignal = syscall.SIGTERM
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = DefaultProcessStopTimeout
	}
	if opts.NewRestartBackOff == nil {
		opts.NewRestartBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 0
			return bo
		}
	}
	if opts.StableUptime == 0 {
		opts.StableUptime = DefaultProcessStableUptime
	}
	return &ProcessPool{
		size:    size,
		command: command,
		logger:  logger,
		opts:    opts,
		procs:   make([]*os.Process, size),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start starts worker processes and blocks until all of them exit after the pool is stopped.
// If a worker process cannot be started, the error is sent to the fatalError channel.
func (p *ProcessPool) Start(fatalError chan<- error) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	defer close(p.done)

	p.logger.Info("starting worker processes...", log.Int("workers", p.size))

	var fatalOnce sync.Once
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := p.supervise(i); err != nil {
				fatalOnce.Do(func() { fatalError <- err })
			}
		}(i)
	}
	wg.Wait()
}

func (p *ProcessPool) supervise(i int) error {
	logger := p.logger.With(log.Int("worker", i))
	bo := p.opts.NewRestartBackOff()
	for {
		cmd := p.command(i)
		if err := p.startProcess(i, cmd); err != nil {
			if errors.Is(err, errPoolStopping) {
				return nil
			}
			logger.Error("failed to start worker process", log.Error(err))
			return fmt.Errorf("start worker process %d: %w", i, err)
		}
		pid := cmd.Process.Pid
		startedAt := time.Now()
		logger.Info("worker process started", log.Int("pid", pid))

		waitErr := cmd.Wait()
		p.setProcess(i, nil)
		if p.stopping.Load() {
			logger.Info("worker process exited", log.Int("pid", pid), log.Error(waitErr))
			return nil
		}

		if time.Since(startedAt) >= p.opts.StableUptime {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("worker process %d exited: %v", i, waitErr)
		}
		logger.Warn("worker process exited unexpectedly, restarting",
			log.Int("pid", pid), log.Error(waitErr), log.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-p.stopCh:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

var errPoolStopping = errors.New("process pool is stopping")

func (p *ProcessPool) startProcess(i int, cmd *exec.Cmd) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping.Load() {
		return errPoolStopping
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	p.procs[i] = cmd.Process
	return nil
}

func (p *ProcessPool) setProcess(i int, proc *os.Process) {
	p.mu.Lock()
	p.procs[i] = proc
	p.mu.Unlock()
}

// Pids returns process ids of running worker processes.
func (p *ProcessPool) Pids() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	pids := make([]int, 0, len(p.procs))
	for _, proc := range p.procs {
		if proc != nil {
			pids = append(pids, proc.Pid)
		}
	}
	return pids
}

func (p *ProcessPool) signal(sig os.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, proc := range p.procs {
		if proc == nil {
			continue
		}
		if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("failed to signal worker process",
				log.Int("pid", proc.Pid), log.String("signal", sig.String()), log.Error(err))
		}
	}
}

// Stop stops worker processes. Graceful stop sends StopSignal and waits up to StopTimeout
// before killing the remaining ones, otherwise they are killed at once.
func (p *ProcessPool) Stop(gracefully bool) error {
	p.mu.Lock()
	if p.stopping.CompareAndSwap(false, true) {
		close(p.stopCh)
	}
	p.mu.Unlock()

	if !p.started.Load() {
		return nil
	}

	if !gracefully {
		p.logger.Info("killing worker processes...")
		p.signal(syscall.SIGKILL)
		<-p.done
		return nil
	}

	p.logger.Info("stopping worker processes...",
		log.String("signal", p.opts.StopSignal.String()), log.Duration("timeout", p.opts.StopTimeout))
	p.signal(p.opts.StopSignal)
	timer := time.NewTimer(p.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
		p.logger.Info("worker processes stopped")
		return nil
	case <-timer.C:
	}
	p.logger.Warn("worker processes were not stopped in time, killing them")
	p.signal(syscall.SIGKILL)
	<-p.done
	return ErrStopTimeoutExceeded
}
