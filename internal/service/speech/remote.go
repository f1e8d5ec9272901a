package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

// Messages sent to the client that owns the speaker and microphone.
const (
	MsgSpeak            = "speak"
	MsgSpeakCancel      = "speak_cancel"
	MsgRecognitionStart = "recognition_start"
	MsgRecognitionStop  = "recognition_stop"
)

var (
	ErrDisconnected     = errors.New("client disconnected")
	ErrPermissionDenied = errors.New("speech permission denied")
	ErrPlaybackTimeout  = errors.New("playback not acknowledged")
)

// Sender delivers a typed message to the client.
type Sender interface {
	Send(msgType string, data any) error
}

// Renderer turns text into audio on the server.
type Renderer interface {
	Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// SpeakPayload is the body of a speak message. Audio is set when the server
// rendered the utterance; otherwise the client synthesises Text itself.
type SpeakPayload struct {
	speech.Utterance
	Audio  string `json:"audio,omitempty"`
	Format string `json:"format,omitempty"`
}

// RemoteSynthesizer plays utterances on the client and blocks until the
// client acknowledges the end of playback.
type RemoteSynthesizer struct {
	sender    Sender
	renderer  Renderer
	sessionID string

	// Timeout bounds one utterance when the client never answers.
	Timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan error
}

// NewRemoteSynthesizer wires a sender. renderer may be nil.
func NewRemoteSynthesizer(sender Sender, renderer Renderer, sessionID string) *RemoteSynthesizer {
	return &RemoteSynthesizer{
		sender:    sender,
		renderer:  renderer,
		sessionID: sessionID,
		Timeout:   2 * time.Minute,
		pending:   make(map[string]chan error),
	}
}

// Speak implements companion.Synthesizer.
func (s *RemoteSynthesizer) Speak(ctx context.Context, u speech.Utterance) error {
	done := make(chan error, 1)
	s.mu.Lock()
	s.pending[u.ID] = done
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, u.ID)
		s.mu.Unlock()
	}()

	payload := SpeakPayload{Utterance: u}
	if s.renderer != nil {
		resp, err := s.renderer.Synthesize(ctx, &speech.TTSRequest{
			SessionID: s.sessionID,
			Text:      u.Text,
			Voice:     u.Voice,
			Speed:     float32(u.Rate),
			Volume:    float32(u.Volume),
			Language:  u.Language,
		})
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Printf("[speech] server synthesis failed, falling back to client voice: %v", err)
		default:
			payload.Audio = base64.StdEncoding.EncodeToString(resp.AudioData)
			payload.Format = resp.Format
		}
	}

	if err := s.sender.Send(MsgSpeak, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	timer := time.NewTimer(s.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = s.sender.Send(MsgSpeakCancel, map[string]string{"id": u.ID})
		return ctx.Err()
	case <-timer.C:
		return ErrPlaybackTimeout
	}
}

// Finished routes a client acknowledgement. An empty code means playback
// completed. It reports whether the utterance was still pending.
func (s *RemoteSynthesizer) Finished(id, code string) bool {
	s.mu.Lock()
	done, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return false
	}

	var err error
	switch code {
	case "":
	case speech.ErrorNotAllowed:
		err = ErrPermissionDenied
	default:
		err = fmt.Errorf("playback failed: %s", code)
	}
	select {
	case done <- err:
	default:
	}
	return true
}

// Disconnected fails every pending utterance.
func (s *RemoteSynthesizer) Disconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, done := range s.pending {
		select {
		case done <- ErrDisconnected:
		default:
		}
	}
}

// RemoteRecognizer drives the client's own speech recognizer and forwards
// its events.
type RemoteRecognizer struct {
	sender Sender

	mu   sync.Mutex
	emit func(speech.RecognitionEvent)
}

// NewRemoteRecognizer wires a sender.
func NewRemoteRecognizer(sender Sender) *RemoteRecognizer {
	return &RemoteRecognizer{sender: sender}
}

// Start implements companion.Recognizer.
func (r *RemoteRecognizer) Start(opts speech.RecognitionOptions, emit func(speech.RecognitionEvent)) error {
	if err := r.sender.Send(MsgRecognitionStart, opts); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	r.mu.Lock()
	r.emit = emit
	r.mu.Unlock()
	return nil
}

// Stop implements companion.Recognizer.
func (r *RemoteRecognizer) Stop() error {
	r.mu.Lock()
	r.emit = nil
	r.mu.Unlock()
	if err := r.sender.Send(MsgRecognitionStop, nil); err != nil && !errors.Is(err, ErrDisconnected) {
		return err
	}
	return nil
}

// Deliver forwards a client event. It reports false when nothing is listening.
func (r *RemoteRecognizer) Deliver(ev speech.RecognitionEvent) bool {
	r.mu.Lock()
	emit := r.emit
	r.mu.Unlock()
	if emit == nil {
		return false
	}
	emit(ev)
	return true
}

// Disconnected reports the loss of the client as the end of recognition.
func (r *RemoteRecognizer) Disconnected() {
	r.Deliver(speech.RecognitionEvent{Kind: speech.RecognitionEnded})
}
