package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photovault/internal/kv"
	"photovault/internal/lock"
)

func testScheduler(t *testing.T, demand DemandFunc) *Scheduler {
	t.Helper()
	store := kv.NewLocal()
	t.Cleanup(func() { store.Close() })

	idle := NewIdleChecker(nil, nil, demand, 3)
	idle.loadThreshold = 1e9 // keep host load out of the tests
	idle.cacheTTL = 0

	s := New(lock.New(store), idle)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func fastOpts() Options {
	return Options{
		RetryInterval:     10 * time.Millisecond,
		IdleCheckInterval: 5 * time.Millisecond,
		MaxIdleWait:       100 * time.Millisecond,
		LockTTL:           time.Minute,
	}
}

func TestRunWhenIdleCompletes(t *testing.T) {
	s := testScheduler(t, nil)

	var ran atomic.Bool
	done := s.RunWhenIdle("noop", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}, fastOpts())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not complete")
	}
	assert.True(t, ran.Load())
}

func TestRunWhenIdleDeduplicates(t *testing.T) {
	s := testScheduler(t, nil)

	var runs atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}

	d1 := s.RunWhenIdle("dedupe", fn, fastOpts())
	time.Sleep(50 * time.Millisecond) // let the first submission start
	d2 := s.RunWhenIdle("dedupe", fn, fastOpts())
	time.Sleep(50 * time.Millisecond)
	close(release)

	for _, d := range []<-chan error{d1, d2} {
		select {
		case err := <-d:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("waiter never notified")
		}
	}
	assert.Equal(t, int32(1), runs.Load(), "same-name submissions must share one execution")
}

func TestJobsRunSerially(t *testing.T) {
	s := testScheduler(t, nil)

	var concurrent, peak atomic.Int32
	fn := func(ctx context.Context) error {
		n := concurrent.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(30 * time.Millisecond)
		concurrent.Add(-1)
		return nil
	}

	d1 := s.RunWhenIdle("job-a", fn, fastOpts())
	d2 := s.RunWhenIdle("job-b", fn, fastOpts())
	d3 := s.RunWhenIdle("job-c", fn, fastOpts())

	for _, d := range []<-chan error{d1, d2, d3} {
		select {
		case err := <-d:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("job did not complete")
		}
	}
	assert.Equal(t, int32(1), peak.Load(), "at most one job may run at a time")
}

func TestIdleGating(t *testing.T) {
	var queued atomic.Int32
	queued.Store(10) // over the threshold of 3
	s := testScheduler(t, func() (int, int) { return 0, int(queued.Load()) })

	var ranAt atomic.Int64
	done := s.RunWhenIdle("gated", func(ctx context.Context) error {
		ranAt.Store(time.Now().UnixNano())
		return nil
	}, fastOpts())

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, ranAt.Load(), "job must wait while demand is high")

	drained := time.Now()
	queued.Store(0)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran after demand drained")
	}
	assert.GreaterOrEqual(t, ranAt.Load(), drained.UnixNano())
}

func TestJobRetriesOnError(t *testing.T) {
	s := testScheduler(t, nil)

	var attempts atomic.Int32
	done := s.RunWhenIdle("flaky", func(ctx context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastOpts())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not complete")
	}
	assert.Equal(t, int32(3), attempts.Load())
}

func TestJobTimeoutAbandons(t *testing.T) {
	s := testScheduler(t, nil)

	opts := fastOpts()
	opts.Timeout = 30 * time.Millisecond
	done := s.RunWhenIdle("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, opts)

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("timed-out job was retried instead of abandoned")
	}
}

func TestGateReturnsAfterMaxWait(t *testing.T) {
	s := testScheduler(t, func() (int, int) { return 100, 100 }) // never idle

	opts := fastOpts()
	opts.MaxIdleWait = 50 * time.Millisecond
	start := time.Now()
	s.Gate(context.Background(), "index-batch", opts)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second, "gate must return once max wait elapses")
}

func TestWithAdmissionRunsFn(t *testing.T) {
	s := testScheduler(t, nil)

	var ran bool
	err := s.WithAdmission(context.Background(), "index-batch", func(ctx context.Context) error {
		ran = true
		return nil
	}, fastOpts())
	require.NoError(t, err)
	assert.True(t, ran)
}
