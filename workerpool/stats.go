package workerpool

import (
	"sync"
	"time"
)

// Stats collects the durations of the successful operations of a Pool.
type Stats struct {
	mu       sync.Mutex
	finished int64
	busy     time.Duration
	slowest  time.Duration
}

// NewStats ...
func NewStats() *Stats {
	return &Stats{}
}

// Update records one successful operation.
func (s *Stats) Update(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished++
	s.busy += d
	if d > s.slowest {
		s.slowest = d
	}
}

// Finished returns the number of successful operations.
func (s *Stats) Finished() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Average returns the mean operation duration, 0 before the first one finished.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished == 0 {
		return 0
	}
	return s.busy / time.Duration(s.finished)
}

// Slowest returns the longest operation duration.
func (s *Stats) Slowest() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slowest
}
