package memory

import (
	"testing"
	"time"
)

func TestMonitorNoLimit(t *testing.T) {
	t.Parallel()

	m := NewMonitor(Config{
		MemoryLimitBytes:  0,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     time.Second,
	})

	// Without a limit, backpressure is fully disabled.
	if m.OverBudget() {
		t.Error("OverBudget() should be false with no limit")
	}
	if m.IsPaused() {
		t.Error("IsPaused() should be false with no limit")
	}
	if !m.WaitIfPaused() {
		t.Error("WaitIfPaused() should return true immediately with no limit")
	}
	if m.Usage() != 0 {
		t.Error("Usage() should be 0 with no limit")
	}
}

func TestMonitorOverBudget(t *testing.T) {
	t.Parallel()

	// A 1-byte limit guarantees any live heap exceeds the high water mark.
	m := NewMonitor(Config{
		MemoryLimitBytes:  1,
		HighWaterMark:     0.5,
		CriticalWaterMark: 0.9,
		CheckInterval:     time.Hour,
	})
	m.checkMemory()

	if !m.OverBudget() {
		t.Error("OverBudget() should be true with a 1-byte limit")
	}
	if !m.IsPaused() {
		t.Error("IsPaused() should be true with a 1-byte limit")
	}
}

func TestMonitorRecovery(t *testing.T) {
	t.Parallel()

	// A huge limit means usage is effectively zero; a paused monitor must
	// release waiters once a check observes recovery.
	m := NewMonitor(Config{
		MemoryLimitBytes:  1 << 50,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     time.Hour,
	})
	m.mu.Lock()
	m.isPaused = true
	m.mu.Unlock()

	done := make(chan bool, 1)
	go func() { done <- m.WaitIfPaused() }()

	m.checkMemory()

	select {
	case ok := <-done:
		if !ok {
			t.Error("WaitIfPaused() returned false after recovery")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIfPaused() did not return after recovery")
	}
}

func TestMonitorStats(t *testing.T) {
	t.Parallel()

	m := NewMonitor(Config{MemoryLimitBytes: 1 << 30, CheckInterval: time.Hour})
	m.checkMemory()

	current, limit, usage := m.Stats()
	if current <= 0 {
		t.Error("current allocation should be positive after a check")
	}
	if limit != 1<<30 {
		t.Errorf("limit = %d, want %d", limit, 1<<30)
	}
	if usage <= 0 || usage >= 1 {
		t.Errorf("usage = %f, want (0, 1)", usage)
	}
}
