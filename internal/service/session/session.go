package session

import (
	"errors"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
	sessionmodel "github.com/zhouzirui/scene-guide/backend/internal/model/session"
	speechmodel "github.com/zhouzirui/scene-guide/backend/internal/model/speech"
	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
	"github.com/zhouzirui/scene-guide/backend/internal/service/media"
	"github.com/zhouzirui/scene-guide/backend/internal/service/speech"
)

var (
	ErrNotStreaming     = errors.New("session has no active camera")
	ErrAudioUnsupported = errors.New("server recognition not enabled")
)

// clientRecognizer is a recognizer fed by messages from the client.
type clientRecognizer interface {
	companion.Recognizer
	Deliver(ev speechmodel.RecognitionEvent) bool
	Disconnected()
}

// Session binds a controller to the client connection that feeds it.
type Session struct {
	ID         string
	Controller *companion.Controller
	Hub        *Hub
	CreatedAt  time.Time

	link       *Link
	devices    *media.RemoteDevices
	synth      *speech.RemoteSynthesizer
	recognizer clientRecognizer
	buffered   *speech.BufferedRecognizer
}

// Attach routes outgoing messages to a new connection. The returned func
// must be called when the connection closes.
func (s *Session) Attach(send SendFunc) (detach func()) {
	release := s.link.Attach(send)
	return func() {
		if !release() {
			return
		}
		s.devices.Disconnected()
		s.synth.Disconnected()
		s.recognizer.Disconnected()
	}
}

// Connected reports whether a client is attached.
func (s *Session) Connected() bool {
	return s.link.Attached()
}

// Frame stores a camera frame pushed by the client.
func (s *Session) Frame(f *scene.Frame) error {
	if err := s.devices.Frame(f); err != nil {
		if errors.Is(err, media.ErrNoMedia) || errors.Is(err, media.ErrClosed) {
			return ErrNotStreaming
		}
		return err
	}
	return nil
}

// MediaReady answers a pending media request.
func (s *Session) MediaReady() bool {
	return s.devices.Ready()
}

// MediaFailed refuses a pending media request with the client's reason.
func (s *Session) MediaFailed(reason string) bool {
	return s.devices.Failed(reason)
}

// Recognition forwards a client-side recognizer event.
func (s *Session) Recognition(ev speechmodel.RecognitionEvent) bool {
	return s.recognizer.Deliver(ev)
}

// Audio feeds microphone audio to the server recognizer.
func (s *Session) Audio(chunk []byte, final bool) error {
	if s.buffered == nil {
		return ErrAudioUnsupported
	}
	s.buffered.Audio(chunk, final)
	return nil
}

// UtteranceFinished acknowledges client playback. code is empty on success.
func (s *Session) UtteranceFinished(id, code string) bool {
	return s.synth.Finished(id, code)
}

// Info is the REST view of a session.
type Info struct {
	ID        string                `json:"id"`
	GuideID   string                `json:"guideId"`
	Connected bool                  `json:"connected"`
	CreatedAt time.Time             `json:"createdAt"`
	State     sessionmodel.Snapshot `json:"state"`
}

// Info summarises the session.
func (s *Session) Info() Info {
	return Info{
		ID:        s.ID,
		GuideID:   s.Controller.Guide().ID,
		Connected: s.Connected(),
		CreatedAt: s.CreatedAt,
		State:     s.Controller.Snapshot(),
	}
}
