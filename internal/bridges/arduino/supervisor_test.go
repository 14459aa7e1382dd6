package arduino

import (
	"testing"
	"time"
)

func TestRetryBudget_Take(t *testing.T) {
	b := RetryBudget{Delay: time.Second, Max: 3}

	for i := 1; i <= 3; i++ {
		attempt, ok := b.take()
		if !ok || attempt != i {
			t.Fatalf("take() #%d = (%d, %v), want (%d, true)", i, attempt, ok, i)
		}
	}
	if !b.Exhausted() {
		t.Error("Exhausted() = false after max attempts")
	}
	if _, ok := b.take(); ok {
		t.Error("take() after max = ok, want refused")
	}
	if b.Attempts() != 4 {
		t.Errorf("Attempts() = %d, want 4 (refused calls still count)", b.Attempts())
	}

	b.reset()
	if _, ok := b.take(); !ok {
		t.Error("take() after reset refused")
	}
}

func TestSupervisor_ScheduleRetry(t *testing.T) {
	s := supervisor{budget: RetryBudget{Delay: 5 * time.Millisecond, Max: 2}}
	fired := make(chan uint64, 1)

	s.budget.take()
	if !s.scheduleRetry(func(gen uint64) { fired <- gen }) {
		t.Fatal("scheduleRetry() = false with budget left")
	}
	select {
	case gen := <-fired:
		if gen != s.retryGen {
			t.Errorf("fired gen = %d, want %d", gen, s.retryGen)
		}
	case <-time.After(time.Second):
		t.Fatal("retry timer did not fire")
	}

	s.budget.take()
	if s.scheduleRetry(func(uint64) {}) {
		t.Error("scheduleRetry() = true with budget exhausted")
	}
}

func TestSupervisor_CancelRetry(t *testing.T) {
	s := supervisor{budget: RetryBudget{Delay: 20 * time.Millisecond, Max: 3}}
	fired := make(chan uint64, 1)

	s.scheduleRetry(func(gen uint64) { fired <- gen })
	armed := s.retryGen
	s.cancelRetry()

	select {
	case <-fired:
		t.Error("cancelled retry fired")
	case <-time.After(60 * time.Millisecond):
	}
	if s.retryGen == armed {
		t.Error("cancelRetry() did not advance the generation")
	}
}
