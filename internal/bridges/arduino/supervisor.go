package arduino

import (
	"io"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-arduino/internal/transport"
)

// RetryBudget bounds connection attempts. It is never reset automatically.
type RetryBudget struct {
	Delay    time.Duration
	Max      int
	attempts int
}

// take counts an attempt and reports whether it may proceed. The counter
// is incremented before the check, so a spent budget keeps counting.
func (b *RetryBudget) take() (attempt int, ok bool) {
	n := b.attempts
	b.attempts++
	return b.attempts, n < b.Max
}

// Exhausted reports whether no attempt remains.
func (b *RetryBudget) Exhausted() bool { return b.attempts >= b.Max }

// Attempts returns the number of connect calls counted so far.
func (b *RetryBudget) Attempts() int { return b.attempts }

func (b *RetryBudget) reset() { b.attempts = 0 }

// supervisor holds the connection bookkeeping: stored settings, state,
// retry budget and the pending retry timer.
type supervisor struct {
	settings transport.Settings
	state    stateMachine[ConnState]
	budget   RetryBudget

	// session increments on every connect so stale callbacks can be dropped.
	session uint64

	retryTimer *time.Timer
	retryGen   uint64
}

// cancelRetry stops any pending automatic reconnect.
func (s *supervisor) cancelRetry() {
	s.retryGen++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// scheduleRetry arms the retry timer. fire is called with the generation
// it was armed for.
func (s *supervisor) scheduleRetry(fire func(gen uint64)) bool {
	if s.budget.Exhausted() {
		return false
	}
	s.cancelRetry()
	gen := s.retryGen
	s.retryTimer = time.AfterFunc(s.budget.Delay, func() { fire(gen) })
	return true
}

// pendingConns holds transports opened but not yet handed to the driver
// goroutine. Once closed, later opens are refused and closed by the caller.
type pendingConns struct {
	mu     sync.Mutex
	conns  map[uint64]io.ReadWriteCloser
	closed bool
}

func (p *pendingConns) add(session uint64, conn io.ReadWriteCloser) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if p.conns == nil {
		p.conns = make(map[uint64]io.ReadWriteCloser)
	}
	p.conns[session] = conn
	return true
}

func (p *pendingConns) take(session uint64) {
	p.mu.Lock()
	delete(p.conns, session)
	p.mu.Unlock()
}

func (p *pendingConns) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for session, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, session)
	}
}
