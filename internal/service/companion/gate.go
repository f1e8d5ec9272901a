package companion

import "sync"

// Gate admits at most one holder at a time.
type Gate struct {
	ch chan struct{}
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{}, 1)}
}

// TryAcquire takes the gate without blocking. The returned release func is
// safe to call any number of times from any goroutine.
func (g *Gate) TryAcquire() (release func(), ok bool) {
	select {
	case g.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-g.ch })
		}, true
	default:
		return nil, false
	}
}

// Held reports whether someone holds the gate.
func (g *Gate) Held() bool {
	return len(g.ch) == 1
}
