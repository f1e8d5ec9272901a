package companion

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/metrics"
	"github.com/zhouzirui/scene-guide/backend/internal/model/session"
	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

// ErrRecognitionUnavailable is returned when no recognizer is configured.
var ErrRecognitionUnavailable = errors.New("speech recognition not supported")

const (
	msgMicrophoneDenied = "Microphone access denied. Please allow microphone access and try again."
	msgStartFailed      = "Failed to start voice recognition. Please try again."
)

// InputHooks are the callbacks the input session drives. All run on the loop.
type InputHooks struct {
	// Listening fires on every entry into the listening state.
	Listening func()
	Question  func(text string)
	Interim   func(text string)
	State     func(state session.ListenState)
	Fatal     func(message string)
}

// InputSession is the speech recognition state machine:
// idle -> listening -> (ended while wanted) restarting -> listening ... -> idle.
// All methods run on the loop.
type InputSession struct {
	loop    *Loop
	rec     Recognizer
	opts    speech.RecognitionOptions
	hooks   InputHooks
	metrics *metrics.Metrics

	restartDelay time.Duration
	maxDelay     time.Duration
	backoff      time.Duration

	state   session.ListenState
	intent  bool
	interim string
	run     int
	timer   *time.Timer
}

// NewInputSession builds an idle session. restartDelay is the pause before an
// automatic restart; failed restarts double it up to maxDelay.
func NewInputSession(loop *Loop, rec Recognizer, opts speech.RecognitionOptions, restartDelay, maxDelay time.Duration, m *metrics.Metrics, hooks InputHooks) *InputSession {
	if restartDelay <= 0 {
		restartDelay = 100 * time.Millisecond
	}
	if maxDelay < restartDelay {
		maxDelay = restartDelay
	}
	return &InputSession{
		loop:         loop,
		rec:          rec,
		opts:         opts,
		hooks:        hooks,
		metrics:      m,
		restartDelay: restartDelay,
		maxDelay:     maxDelay,
		backoff:      restartDelay,
		state:        session.ListenIdle,
	}
}

// State returns the state machine position.
func (s *InputSession) State() session.ListenState { return s.state }

// Interim returns the buffered interim transcript.
func (s *InputSession) Interim() string { return s.interim }

// HasInterim reports whether the user is mid-utterance.
func (s *InputSession) HasInterim() bool { return s.interim != "" }

// Wanted reports whether the user asked to listen.
func (s *InputSession) Wanted() bool { return s.intent }

// Start begins listening. Starting an already wanted session is a no-op.
func (s *InputSession) Start() error {
	if s.rec == nil {
		return ErrRecognitionUnavailable
	}
	if s.intent {
		return nil
	}
	s.intent = true
	s.backoff = s.restartDelay
	if err := s.begin(); err != nil {
		s.intent = false
		s.setState(session.ListenIdle)
		log.Printf("[speech] recognizer start failed: %v", err)
		return errors.New(msgStartFailed)
	}
	return nil
}

// Stop ends listening and drops any pending restart.
func (s *InputSession) Stop() error {
	s.intent = false
	s.cancelTimer()
	s.run++

	var err error
	if s.state != session.ListenIdle && s.rec != nil {
		err = s.rec.Stop()
	}
	s.setInterim("")
	s.setState(session.ListenIdle)
	return err
}

func (s *InputSession) begin() error {
	s.run++
	run := s.run
	err := s.rec.Start(s.opts, func(ev speech.RecognitionEvent) {
		s.loop.Post(func() { s.handle(run, ev) })
	})
	if err != nil {
		return err
	}
	s.enterListening()
	return nil
}

func (s *InputSession) enterListening() {
	s.backoff = s.restartDelay
	s.setState(session.ListenListening)
	if s.hooks.Listening != nil {
		s.hooks.Listening()
	}
}

func (s *InputSession) handle(run int, ev speech.RecognitionEvent) {
	if run != s.run {
		return
	}

	switch ev.Kind {
	case speech.RecognitionStarted:
		if s.intent {
			s.enterListening()
		}

	case speech.RecognitionResult:
		if ev.IsFinal {
			s.setInterim("")
			if text := strings.TrimSpace(ev.Transcript); text != "" && s.hooks.Question != nil {
				s.hooks.Question(text)
			}
			return
		}
		s.setInterim(ev.Transcript)

	case speech.RecognitionError:
		if ev.Error == speech.ErrorNotAllowed {
			s.intent = false
			s.cancelTimer()
			s.run++
			if err := s.rec.Stop(); err != nil {
				log.Printf("[speech] stop recognizer after permission denial: %v", err)
			}
			s.setInterim("")
			s.setState(session.ListenIdle)
			if s.hooks.Fatal != nil {
				s.hooks.Fatal(msgMicrophoneDenied)
			}
			return
		}
		log.Printf("[speech] recognition error: %s", ev.Error)
		s.setInterim("")

	case speech.RecognitionEnded:
		if !s.intent {
			s.setState(session.ListenIdle)
			return
		}
		s.setState(session.ListenRestarting)
		s.scheduleRestart()
	}
}

func (s *InputSession) scheduleRestart() {
	s.cancelTimer()
	run := s.run
	s.timer = s.loop.After(s.backoff, func() { s.restart(run) })
}

func (s *InputSession) restart(run int) {
	if run != s.run {
		return
	}
	s.timer = nil
	if !s.intent || s.state != session.ListenRestarting {
		return
	}
	if err := s.begin(); err != nil {
		s.backoff *= 2
		if s.backoff > s.maxDelay {
			s.backoff = s.maxDelay
		}
		log.Printf("[speech] recognizer restart failed, retrying in %s: %v", s.backoff, err)
		s.scheduleRestart()
		return
	}
	s.metrics.RecognitionRestart()
}

func (s *InputSession) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *InputSession) setInterim(text string) {
	if s.interim == text {
		return
	}
	s.interim = text
	if s.hooks.Interim != nil {
		s.hooks.Interim(text)
	}
}

func (s *InputSession) setState(state session.ListenState) {
	if s.state == state {
		return
	}
	s.state = state
	if s.hooks.State != nil {
		s.hooks.State(state)
	}
}
