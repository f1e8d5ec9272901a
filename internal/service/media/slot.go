// Package media provides frame sources for scene sessions.
package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
)

// ErrClosed is returned when publishing into a released slot.
var ErrClosed = errors.New("media released")

// FrameSlot is a single-slot mailbox holding the latest frame a client pushed.
// Publishing never blocks; a frame that was never captured is overwritten.
type FrameSlot struct {
	mu       sync.Mutex
	frame    *scene.Frame
	captured bool
	closed   bool

	dropped     atomic.Uint64
	onOverwrite func()
}

// NewFrameSlot returns an empty slot. onOverwrite, if set, is called each
// time an uncaptured frame is replaced.
func NewFrameSlot(onOverwrite func()) *FrameSlot {
	return &FrameSlot{onOverwrite: onOverwrite}
}

// Put replaces the current frame.
func (s *FrameSlot) Put(frame *scene.Frame) error {
	if frame.Empty() {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	overwrote := s.frame != nil && !s.captured
	s.frame = frame
	s.captured = false
	s.mu.Unlock()

	if overwrote {
		s.dropped.Add(1)
		if s.onOverwrite != nil {
			s.onOverwrite()
		}
	}
	return nil
}

// Capture returns the latest frame. The same frame is returned until a newer
// one arrives, like reading a still off a live camera.
func (s *FrameSlot) Capture() (*scene.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.frame == nil {
		return nil, false
	}
	s.captured = true
	return s.frame, true
}

// Close releases the slot and drops the frame.
func (s *FrameSlot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.frame = nil
	return nil
}

// Closed reports whether the slot was released.
func (s *FrameSlot) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dropped returns how many frames were overwritten before being captured.
func (s *FrameSlot) Dropped() uint64 {
	return s.dropped.Load()
}
