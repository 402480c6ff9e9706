package resolver

import (
	"sync"
	"time"
)

// Scheduler decides when an open batch is flushed. Schedule is called once
// per batch, when its first resolution joins; flush closes the batch and
// dispatches its fetch.
type Scheduler interface {
	Schedule(flush func())
}

// TimerScheduler flushes every batch Window after it opened.
type TimerScheduler struct {
	Window time.Duration
}

func (s TimerScheduler) Schedule(flush func()) {
	if s.Window <= 0 {
		go flush()
		return
	}
	time.AfterFunc(s.Window, flush)
}

// ManualScheduler holds flushes until Tick. Tests use it to control exactly
// which resolutions share a batch.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []func()
}

func (s *ManualScheduler) Schedule(flush func()) {
	s.mu.Lock()
	s.pending = append(s.pending, flush)
	s.mu.Unlock()
}

// Tick runs every flush scheduled so far and reports how many ran.
func (s *ManualScheduler) Tick() int {
	s.mu.Lock()
	fns := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Pending reports how many flushes wait for Tick.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
