package session

import (
	"errors"
	"fmt"
	"time"
)

const (
	MinCaptureInterval     = 600 * time.Millisecond
	MaxCaptureInterval     = 15000 * time.Millisecond
	DefaultCaptureInterval = 600 * time.Millisecond
	DefaultChangeThreshold = 0.1
)

// ErrInvalidSettings is returned when a settings update is out of range.
var ErrInvalidSettings = errors.New("invalid session settings")

// Settings are the user-tunable knobs of a session.
type Settings struct {
	CaptureInterval time.Duration `json:"-"`
	ChangeThreshold float64       `json:"changeThreshold"`
	AudioEnabled    bool          `json:"audioEnabled"`
}

// DefaultSettings returns the settings a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{
		CaptureInterval: DefaultCaptureInterval,
		ChangeThreshold: DefaultChangeThreshold,
		AudioEnabled:    true,
	}
}

// Validate checks the capture interval and threshold bounds.
func (s Settings) Validate() error {
	if s.CaptureInterval < MinCaptureInterval || s.CaptureInterval > MaxCaptureInterval {
		return fmt.Errorf("%w: capture interval %dms outside [%d, %d]", ErrInvalidSettings,
			s.CaptureInterval.Milliseconds(), MinCaptureInterval.Milliseconds(), MaxCaptureInterval.Milliseconds())
	}
	if s.ChangeThreshold <= 0 || s.ChangeThreshold > 1 {
		return fmt.Errorf("%w: change threshold %.2f outside (0, 1]", ErrInvalidSettings, s.ChangeThreshold)
	}
	return nil
}

// Clamp forces the settings into range, for values coming from configuration.
func (s Settings) Clamp() Settings {
	switch {
	case s.CaptureInterval < MinCaptureInterval:
		s.CaptureInterval = MinCaptureInterval
	case s.CaptureInterval > MaxCaptureInterval:
		s.CaptureInterval = MaxCaptureInterval
	}
	if s.ChangeThreshold <= 0 || s.ChangeThreshold > 1 {
		s.ChangeThreshold = DefaultChangeThreshold
	}
	return s
}

// SettingsPatch is a partial update; nil fields are left untouched.
type SettingsPatch struct {
	CaptureIntervalMs *int64   `json:"captureIntervalMs,omitempty"`
	ChangeThreshold   *float64 `json:"changeThreshold,omitempty"`
	AudioEnabled      *bool    `json:"audioEnabled,omitempty"`
}

// Apply returns a copy of s with the patch applied. The result is validated.
func (p SettingsPatch) Apply(s Settings) (Settings, error) {
	if p.CaptureIntervalMs != nil {
		s.CaptureInterval = time.Duration(*p.CaptureIntervalMs) * time.Millisecond
	}
	if p.ChangeThreshold != nil {
		s.ChangeThreshold = *p.ChangeThreshold
	}
	if p.AudioEnabled != nil {
		s.AudioEnabled = *p.AudioEnabled
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// State holds the runtime flags of one session.
type State struct {
	Streaming bool
	Analyzing bool
	Listening bool
	Speaking  bool
}

// ListenState is the speech input state machine position.
type ListenState string

const (
	ListenIdle       ListenState = "idle"
	ListenListening  ListenState = "listening"
	ListenRestarting ListenState = "restarting"
)

// Snapshot is the read-only view of a session handed to clients.
type Snapshot struct {
	ID                string      `json:"id"`
	GuideID           string      `json:"guideId"`
	Streaming         bool        `json:"isStreaming"`
	Analyzing         bool        `json:"isAnalyzing"`
	Listening         bool        `json:"isListening"`
	Speaking          bool        `json:"isSpeaking"`
	ListenState       ListenState `json:"listenState"`
	AudioEnabled      bool        `json:"audioEnabled"`
	ChangeThreshold   float64     `json:"changeThreshold"`
	CaptureIntervalMs int64       `json:"captureIntervalMs"`
	Description       string      `json:"description,omitempty"`
	Interim           string      `json:"interimTranscript,omitempty"`
	Error             string      `json:"error,omitempty"`
	Turns             int         `json:"turns"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}
