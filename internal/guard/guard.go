// Package guard rejects re-entry into actions that have a server round trip
// in flight.
package guard

import (
	"errors"
	"sync"
	"time"
)

var ErrBusy = errors.New("action already in progress")

// Set tracks busy action keys. A key stays busy until its release function
// is called (plus the cooldown) or until the acquire timeout elapses.
type Set struct {
	mu       sync.Mutex
	cooldown time.Duration
	held     map[string]uint64
	gen      uint64
}

func New(cooldown time.Duration) *Set {
	return &Set{cooldown: cooldown, held: make(map[string]uint64)}
}

// Acquire marks key busy. The returned release frees it after the cooldown;
// calling it more than once is harmless. A positive timeout frees the key
// even if release is never called.
func (s *Set) Acquire(key string, timeout time.Duration) (release func(), err error) {
	s.mu.Lock()
	if _, busy := s.held[key]; busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.gen++
	gen := s.gen
	s.held[key] = gen
	s.mu.Unlock()

	if timeout > 0 {
		time.AfterFunc(timeout, func() { s.free(key, gen) })
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if s.cooldown <= 0 {
				s.free(key, gen)
				return
			}
			time.AfterFunc(s.cooldown, func() { s.free(key, gen) })
		})
	}, nil
}

// Hold marks key busy for d. It is the shape of fire-and-forget actions such
// as undoing a payment.
func (s *Set) Hold(key string, d time.Duration) error {
	s.mu.Lock()
	if _, busy := s.held[key]; busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.gen++
	gen := s.gen
	s.held[key] = gen
	s.mu.Unlock()

	time.AfterFunc(d, func() { s.free(key, gen) })
	return nil
}

func (s *Set) Busy(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.held[key]
	return busy
}

// Reset frees every key, e.g. when the view that owned them is closed.
func (s *Set) Reset() {
	s.mu.Lock()
	s.held = make(map[string]uint64)
	s.mu.Unlock()
}

func (s *Set) free(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[key] == gen {
		delete(s.held, key)
	}
}
