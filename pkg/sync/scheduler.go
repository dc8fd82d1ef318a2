package sync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultCooldown is the coalescing window used when Options.Cooldown
// is left at zero.
const DefaultCooldown = 1000 * time.Millisecond

// ErrSchedulerDisposed is returned to any caller still waiting when
// Dispose runs.
var ErrSchedulerDisposed = errors.New("sync: scheduler disposed")

// Scheduler throttles many concurrent local-change signals into a small
// number of actual sync cycles (spec §4.G "Scheduler (throttled)"): the
// first trigger after an idle period runs immediately. Every trigger
// that arrives while a cycle is in flight, or during the cooldown
// window that follows one, coalesces into exactly one follow-up cycle
// fired when the cooldown expires; callers of those coalesced triggers
// receive the result of that follow-up, never the cycle already running
// when they called Trigger.
type Scheduler struct {
	run      func(ctx context.Context) error
	cooldown time.Duration

	mu             sync.Mutex
	inFlight       bool
	pending        bool
	cooldownActive bool
	currentWaiters []chan error
	nextWaiters    []chan error
	disposed       bool
}

// NewScheduler wraps run (typically Engine.SyncAll or
// Engine.SyncCollection bound to one collection) with throttled
// coalescing.
func NewScheduler(run func(ctx context.Context) error, cooldown time.Duration) *Scheduler {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Scheduler{run: run, cooldown: cooldown}
}

// Trigger requests a cycle. The returned channel receives exactly one
// result: either from the cycle this call started, or from the
// coalesced follow-up if one was already in flight or cooling down.
func (s *Scheduler) Trigger(ctx context.Context) <-chan error {
	result := make(chan error, 1)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		result <- ErrSchedulerDisposed
		return result
	}
	if !s.inFlight && !s.cooldownActive {
		s.inFlight = true
		s.currentWaiters = append(s.currentWaiters, result)
		s.mu.Unlock()
		go s.runCycle(ctx)
		return result
	}
	s.pending = true
	s.nextWaiters = append(s.nextWaiters, result)
	s.mu.Unlock()
	return result
}

func (s *Scheduler) runCycle(ctx context.Context) {
	err := s.run(ctx)

	s.mu.Lock()
	waiters := s.currentWaiters
	s.currentWaiters = nil
	s.inFlight = false
	s.cooldownActive = !s.disposed
	startCooldown := s.cooldownActive
	s.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}

	if !startCooldown {
		return
	}

	time.AfterFunc(s.cooldown, func() {
		s.mu.Lock()
		if s.disposed {
			s.mu.Unlock()
			return
		}
		s.cooldownActive = false
		if !s.pending {
			s.mu.Unlock()
			return
		}
		s.pending = false
		waiters := s.nextWaiters
		s.nextWaiters = nil
		s.currentWaiters = waiters
		s.inFlight = true
		s.mu.Unlock()
		s.runCycle(ctx)
	})
}

// Flush runs run immediately, bypassing the throttle entirely (spec:
// "flush/flushAll bypass throttling"). It does not interact with
// pending/coalesced triggers; per-collection mutual exclusion is
// Engine's responsibility, not the scheduler's.
func (s *Scheduler) Flush(ctx context.Context) error {
	return s.run(ctx)
}

// Dispose rejects every queued (but not in-flight) waiter and prevents
// further coalescing. A cycle already running completes normally.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	s.disposed = true
	waiters := s.nextWaiters
	s.nextWaiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		w <- ErrSchedulerDisposed
	}
}
