package speech

// RecognitionEventKind enumerates what a recognizer can report.
type RecognitionEventKind string

const (
	RecognitionStarted RecognitionEventKind = "start"
	RecognitionResult  RecognitionEventKind = "result"
	RecognitionEnded   RecognitionEventKind = "end"
	RecognitionError   RecognitionEventKind = "error"
)

// Error codes a recognizer may report. Only ErrorNotAllowed is fatal.
const (
	ErrorNotAllowed = "not-allowed"
	ErrorNoSpeech   = "no-speech"
	ErrorNetwork    = "network"
	ErrorAborted    = "aborted"
)

// RecognitionEvent is one callback from a continuous recognizer.
type RecognitionEvent struct {
	Kind       RecognitionEventKind `json:"kind"`
	Transcript string               `json:"transcript,omitempty"`
	IsFinal    bool                 `json:"isFinal,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// RecognitionOptions are handed to a recognizer when it starts.
type RecognitionOptions struct {
	Language       string `json:"language"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interimResults"`
}

// Utterance is one piece of text queued for playback.
type Utterance struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Volume   float64 `json:"volume"`
}

// Default playback parameters.
const (
	DefaultRate   = 0.9
	DefaultPitch  = 1.0
	DefaultVolume = 0.8
)
