package session

import (
	"sync"

	"github.com/zhouzirui/scene-guide/backend/internal/service/speech"
)

// SendFunc writes one typed message to a connected client.
type SendFunc func(msgType string, data any) error

// Link is the session's route to whichever client connection is current.
// Sessions outlive connections; a detached link reports speech.ErrDisconnected.
type Link struct {
	mu   sync.RWMutex
	send SendFunc
	gen  int
}

// Send delivers a message to the attached client.
func (l *Link) Send(msgType string, data any) error {
	l.mu.RLock()
	send := l.send
	l.mu.RUnlock()
	if send == nil {
		return speech.ErrDisconnected
	}
	return send(msgType, data)
}

// Attach routes messages to fn, replacing any previous connection. The
// returned detach func is a no-op once another connection has attached and
// reports whether it actually detached.
func (l *Link) Attach(fn SendFunc) (detach func() bool) {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.send = fn
	l.mu.Unlock()

	return func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.gen != gen || l.send == nil {
			return false
		}
		l.send = nil
		return true
	}
}

// Attached reports whether a client is connected.
func (l *Link) Attached() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.send != nil
}
