package companion

import (
	"context"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

// FrameSource yields the most recent camera frame, if any.
type FrameSource interface {
	Capture() (*scene.Frame, bool)
}

// Media is an acquired camera (and optionally microphone) stream.
type Media interface {
	FrameSource
	Close() error
}

// MediaRequest mirrors a combined video and audio acquisition.
type MediaRequest struct {
	Video  bool `json:"video"`
	Width  int  `json:"width"`
	Height int  `json:"height"`
	Audio  bool `json:"audio"`
}

// Devices acquires media. Denial is reported as an error.
type Devices interface {
	Acquire(ctx context.Context, req MediaRequest) (Media, error)
}

// Recognizer is a continuous speech recognizer. Events may be emitted from
// any goroutine, including from inside Start.
type Recognizer interface {
	Start(opts speech.RecognitionOptions, emit func(speech.RecognitionEvent)) error
	Stop() error
}

// Synthesizer plays one utterance, blocking until playback ends or ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, u speech.Utterance) error
}

// Describer asks the description service about a frame.
type Describer interface {
	Describe(ctx context.Context, req scene.AnalysisRequest) (string, error)
}

// Event types published to a Notifier.
const (
	EventState       = "state"
	EventDescription = "description"
	EventTurn        = "turn"
	EventTranscript  = "transcript"
	EventError       = "error"
)

// Event is a change published by a session.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier receives session events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }
