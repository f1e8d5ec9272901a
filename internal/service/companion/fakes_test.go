package companion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeMedia struct {
	mu     sync.Mutex
	frame  *scene.Frame
	closed int
}

func (m *fakeMedia) Capture() (*scene.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame, m.frame != nil
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *fakeMedia) setFrame(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = &scene.Frame{Data: data, CapturedAt: time.Now()}
}

func (m *fakeMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeDevices struct {
	media *fakeMedia
	err   error

	mu  sync.Mutex
	req MediaRequest
}

func (d *fakeDevices) Acquire(_ context.Context, req MediaRequest) (Media, error) {
	d.mu.Lock()
	d.req = req
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.media, nil
}

type fakeDescriber struct {
	mu    sync.Mutex
	calls []scene.AnalysisRequest
	fn    func(ctx context.Context, req scene.AnalysisRequest) (string, error)
}

func (d *fakeDescriber) Describe(ctx context.Context, req scene.AnalysisRequest) (string, error) {
	d.mu.Lock()
	d.calls = append(d.calls, req)
	fn := d.fn
	d.mu.Unlock()
	if fn == nil {
		return "", errors.New("no answer")
	}
	return fn(ctx, req)
}

func (d *fakeDescriber) count(origin scene.Origin) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Origin == origin {
			n++
		}
	}
	return n
}

// fakeSynth records utterances. When hold is set Speak blocks until the
// utterance is cancelled; otherwise it returns err.
type fakeSynth struct {
	hold bool
	err  error

	mu     sync.Mutex
	spoken []speech.Utterance
}

func (s *fakeSynth) Speak(ctx context.Context, u speech.Utterance) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, u)
	s.mu.Unlock()
	if s.hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func (s *fakeSynth) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	for i, u := range s.spoken {
		out[i] = u.Text
	}
	return out
}

func (s *fakeSynth) said(text string) bool {
	for _, t := range s.texts() {
		if t == text {
			return true
		}
	}
	return false
}

type fakeRecognizer struct {
	mu        sync.Mutex
	starts    int
	stops     int
	failNext  int
	emit      func(speech.RecognitionEvent)
	lastOpts  speech.RecognitionOptions
	alwaysErr error
	stopErr   error
}

func (r *fakeRecognizer) Start(opts speech.RecognitionOptions, emit func(speech.RecognitionEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.alwaysErr != nil {
		return r.alwaysErr
	}
	if r.failNext > 0 {
		r.failNext--
		return errors.New("recognizer busy")
	}
	r.starts++
	r.emit = emit
	r.lastOpts = opts
	return nil
}

func (r *fakeRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return r.stopErr
}

func (r *fakeRecognizer) send(ev speech.RecognitionEvent) {
	r.mu.Lock()
	emit := r.emit
	r.mu.Unlock()
	emit(ev)
}

func (r *fakeRecognizer) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(kind string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == kind {
			n++
		}
	}
	return n
}
