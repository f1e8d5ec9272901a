package companion

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sampler posts a tick to the loop on a fixed period. A tick that is still
// queued when the next one fires is not posted twice.
type Sampler struct {
	loop   *Loop
	onTick func()

	mu       sync.Mutex
	stop     chan struct{}
	interval time.Duration
	pending  atomic.Bool
}

// NewSampler binds a tick callback to a loop.
func NewSampler(loop *Loop, onTick func()) *Sampler {
	return &Sampler{loop: loop, onTick: onTick}
}

// Start installs the timer, replacing any running one.
func (s *Sampler) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	stop := make(chan struct{})
	s.stop = stop
	s.interval = interval

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !s.pending.CompareAndSwap(false, true) {
					continue
				}
				if !s.loop.Post(s.fire) {
					return
				}
			}
		}
	}()
}

// Reconfigure changes the period of a running sampler. Stopped samplers stay stopped.
func (s *Sampler) Reconfigure(interval time.Duration) {
	if !s.Running() {
		return
	}
	s.Start(interval)
}

// Stop cancels the timer.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Running reports whether a timer is installed.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Interval returns the current period.
func (s *Sampler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Sampler) fire() {
	s.pending.Store(false)
	if s.Running() {
		s.onTick()
	}
}

func (s *Sampler) stopLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}
