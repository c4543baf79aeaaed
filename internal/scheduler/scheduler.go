// Package scheduler serializes named background jobs behind an idle gate and
// a TTL lock. Jobs submitted with RunWhenIdle run one at a time in a single
// run-loop goroutine; concurrent requests for the same name share one
// execution. Gate and WithAdmission give non-job callers the same idle
// discipline without the serialization.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"photovault/internal/lock"
	"photovault/internal/logging"
	"photovault/internal/metrics"
)

// Job states exported via the per-job state gauge.
const (
	stateIdle        = 0
	stateQueued      = 1
	stateWaitingIdle = 2
	stateLocking     = 3
	stateRunning     = 4
)

// JobFunc is a schedulable unit of background work.
type JobFunc func(ctx context.Context) error

// Options tunes one job submission. Zero values take the defaults below.
type Options struct {
	StartDelay        time.Duration
	RetryInterval     time.Duration
	IdleCheckInterval time.Duration
	MaxIdleWait       time.Duration
	LockTTL           time.Duration
	Timeout           time.Duration // 0 means no job deadline
	Category          string
}

func (o Options) withDefaults() Options {
	if o.RetryInterval <= 0 {
		o.RetryInterval = 30 * time.Second
	}
	if o.IdleCheckInterval <= 0 {
		o.IdleCheckInterval = 2 * time.Second
	}
	if o.MaxIdleWait <= 0 {
		o.MaxIdleWait = 2 * time.Minute
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 5 * time.Minute
	}
	if o.Category == "" {
		o.Category = "background"
	}
	return o
}

type submission struct {
	name string
	fn   JobFunc
	opts Options
	done chan error
}

type jobDone struct {
	name string
	err  error
}

// Scheduler is the singleton orchestrator. All scheduling state lives inside
// the run loop goroutine; callers interact through channels only.
type Scheduler struct {
	locker *lock.Locker
	idle   *IdleChecker

	submitCh chan submission
	doneCh   chan jobDone
	cancel   context.CancelFunc
	stopped  chan struct{}
}

// New builds a Scheduler. Call Start to launch the run loop.
func New(locker *lock.Locker, idle *IdleChecker) *Scheduler {
	return &Scheduler{
		locker:   locker,
		idle:     idle,
		submitCh: make(chan submission),
		doneCh:   make(chan jobDone),
		stopped:  make(chan struct{}),
	}
}

// Start launches the run loop. The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.runLoop(ctx)
}

// Stop cancels the run loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.stopped
}

// RunWhenIdle submits a named job and returns a channel that receives the
// job's final error (nil on success) exactly once. Concurrent submissions of
// the same name share one execution and all receive its outcome.
func (s *Scheduler) RunWhenIdle(name string, fn JobFunc, opts Options) <-chan error {
	done := make(chan error, 1)
	select {
	case s.submitCh <- submission{name: name, fn: fn, opts: opts.withDefaults(), done: done}:
	case <-s.stopped:
		done <- fmt.Errorf("scheduler stopped")
	}
	return done
}

// Gate blocks until an idle window opens or MaxIdleWait elapses, whichever
// comes first. It always returns once the wait is over; the idle gate is a
// yield, not a hard barrier.
func (s *Scheduler) Gate(ctx context.Context, kind string, opts Options) {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.MaxIdleWait)

	for {
		idle, reason := s.idle.Idle(ctx)
		if idle {
			return
		}
		if time.Now().After(deadline) {
			logging.Debug("Gate %s: max idle wait elapsed (last reason: %s)", kind, reason)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.IdleCheckInterval):
		}
	}
}

// WithAdmission waits for an idle window, then runs fn.
func (s *Scheduler) WithAdmission(ctx context.Context, kind string, fn JobFunc, opts Options) error {
	s.Gate(ctx, kind, opts)
	return fn(ctx)
}

// runLoop is the actor: it owns the waiter map and the FIFO queue, starts at
// most one job at a time, and fans completion out to every waiter.
func (s *Scheduler) runLoop(ctx context.Context) {
	defer close(s.stopped)

	waiters := make(map[string][]chan error)
	var queue []submission
	running := ""

	startNext := func() {
		if running != "" || len(queue) == 0 {
			return
		}
		next := queue[0]
		queue = queue[1:]
		running = next.name
		go func(sub submission) {
			err := s.execute(ctx, sub)
			select {
			case s.doneCh <- jobDone{name: sub.name, err: err}:
			case <-ctx.Done():
			}
		}(next)
	}

	for {
		select {
		case <-ctx.Done():
			for name, chans := range waiters {
				for _, ch := range chans {
					ch <- fmt.Errorf("scheduler stopped before job %s completed", name)
				}
			}
			return

		case sub := <-s.submitCh:
			if _, pending := waiters[sub.name]; pending {
				// Dedupe: join the in-flight or queued job.
				waiters[sub.name] = append(waiters[sub.name], sub.done)
				continue
			}
			waiters[sub.name] = []chan error{sub.done}
			queue = append(queue, sub)
			metrics.SchedulerJobState.WithLabelValues(sub.name).Set(stateQueued)
			logging.Debug("Job %s queued (category %s)", sub.name, sub.opts.Category)
			startNext()

		case done := <-s.doneCh:
			status := "success"
			if done.err != nil {
				status = "error"
			}
			metrics.SchedulerJobsCompleted.WithLabelValues(done.name, status).Inc()
			metrics.SchedulerJobState.WithLabelValues(done.name).Set(stateIdle)
			for _, ch := range waiters[done.name] {
				ch <- done.err
			}
			delete(waiters, done.name)
			running = ""
			startNext()
		}
	}
}

// execute drives one job through its lifecycle: start delay, idle wait, lock
// acquisition, run. Idle and lock misses loop with RetryInterval until the
// scheduler context is cancelled.
func (s *Scheduler) execute(ctx context.Context, sub submission) error {
	if sub.opts.StartDelay > 0 {
		select {
		case <-time.After(sub.opts.StartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		metrics.SchedulerJobState.WithLabelValues(sub.name).Set(stateWaitingIdle)
		if !s.waitForIdle(ctx, sub) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-time.After(sub.opts.RetryInterval):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		metrics.SchedulerJobState.WithLabelValues(sub.name).Set(stateLocking)
		handle, err := s.locker.TryAcquire(ctx, "job:"+sub.name, sub.opts.LockTTL)
		if err != nil || handle == nil {
			if err != nil {
				logging.Warn("Job %s lock error: %v", sub.name, err)
			} else {
				logging.Debug("Job %s lock held elsewhere, retrying in %v", sub.name, sub.opts.RetryInterval)
			}
			select {
			case <-time.After(sub.opts.RetryInterval):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		metrics.SchedulerJobState.WithLabelValues(sub.name).Set(stateRunning)
		logging.Info("Job %s starting", sub.name)
		start := time.Now()

		runCtx := ctx
		var cancel context.CancelFunc
		if sub.opts.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, sub.opts.Timeout)
		}
		err = sub.fn(runCtx)
		if cancel != nil {
			cancel()
		}

		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		handle.Release(releaseCtx)
		releaseCancel()

		if err == nil {
			logging.Info("Job %s completed in %v", sub.name, time.Since(start).Round(time.Millisecond))
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// Job deadline: abandon rather than retry, the lock is released.
			logging.Error("Job %s abandoned after timeout %v", sub.name, sub.opts.Timeout)
			return err
		}
		logging.Error("Job %s failed after %v: %v (retrying in %v)",
			sub.name, time.Since(start).Round(time.Millisecond), err, sub.opts.RetryInterval)
		select {
		case <-time.After(sub.opts.RetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitForIdle polls the predicate until idle or MaxIdleWait elapses.
// Returns false when the wait timed out without a window.
func (s *Scheduler) waitForIdle(ctx context.Context, sub submission) bool {
	deadline := time.Now().Add(sub.opts.MaxIdleWait)
	for {
		idle, reason := s.idle.Idle(ctx)
		if idle {
			return true
		}
		if time.Now().After(deadline) {
			logging.Debug("Job %s: no idle window within %v (last reason: %s)",
				sub.name, sub.opts.MaxIdleWait, reason)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(sub.opts.IdleCheckInterval):
		}
	}
}
