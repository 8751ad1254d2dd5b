package ingest

import (
	"sync"

	"github.com/srg/vibro/internal/reading"
)

// Session is the in-memory list of readings received since process start.
// A positive capacity keeps only the newest readings; zero keeps all of them.
type Session struct {
	mu       sync.RWMutex
	readings []reading.Reading
	capacity int
	dropped  int
}

func NewSession(capacity int) *Session {
	if capacity < 0 {
		capacity = 0
	}
	return &Session{capacity: capacity}
}

func (s *Session) Append(r reading.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readings = append(s.readings, r)
	if s.capacity > 0 && len(s.readings) > s.capacity {
		over := len(s.readings) - s.capacity
		s.readings = append(s.readings[:0], s.readings[over:]...)
		s.dropped += over
	}
}

// Snapshot returns a copy of the buffered readings, oldest first.
func (s *Session) Snapshot() []reading.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]reading.Reading, len(s.readings))
	copy(out, s.readings)
	return out
}

// Latest returns the newest reading.
func (s *Session) Latest() (reading.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.readings) == 0 {
		return reading.Reading{}, false
	}
	return s.readings[len(s.readings)-1], true
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

// Dropped counts readings evicted by the capacity limit.
func (s *Session) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}
