package companion

import (
	"sync"
	"time"
)

// Loop runs posted callbacks one at a time on a single goroutine. Every
// mutation of session state happens inside a loop callback.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// NewLoop starts the loop goroutine.
func NewLoop() *Loop {
	l := &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post enqueues fn. It never blocks and reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// Do runs fn on the loop and waits for it. Must not be called from a loop callback.
func (l *Loop) Do(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// After posts fn once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Close stops accepting callbacks. Already queued callbacks still run.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.stopped)
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()
		}
	}
}
