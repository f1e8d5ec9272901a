package speech

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

// LineRecognizer treats every line read from an io.Reader as a final
// transcript. Lines read while stopped are dropped.
type LineRecognizer struct {
	reader io.Reader

	once sync.Once
	done chan struct{}

	mu   sync.Mutex
	emit func(speech.RecognitionEvent)
}

// NewLineRecognizer reads from r, typically os.Stdin.
func NewLineRecognizer(r io.Reader) *LineRecognizer {
	return &LineRecognizer{reader: r, done: make(chan struct{})}
}

// Start implements companion.Recognizer.
func (r *LineRecognizer) Start(_ speech.RecognitionOptions, emit func(speech.RecognitionEvent)) error {
	select {
	case <-r.done:
		return io.EOF
	default:
	}

	r.mu.Lock()
	r.emit = emit
	r.mu.Unlock()
	r.once.Do(func() { go r.read() })
	return nil
}

// Stop implements companion.Recognizer.
func (r *LineRecognizer) Stop() error {
	r.mu.Lock()
	r.emit = nil
	r.mu.Unlock()
	return nil
}

// Done is closed once the reader is exhausted.
func (r *LineRecognizer) Done() <-chan struct{} {
	return r.done
}

func (r *LineRecognizer) read() {
	defer close(r.done)
	scanner := bufio.NewScanner(r.reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.mu.Lock()
		emit := r.emit
		r.mu.Unlock()
		if emit != nil {
			emit(speech.RecognitionEvent{Kind: speech.RecognitionResult, Transcript: line, IsFinal: true})
		}
	}
}

// LogSynthesizer writes utterances to Out instead of playing them. With a
// Renderer and Dir set, each utterance is also rendered to an audio file.
// Playback time is simulated from the word count unless Instant is set.
type LogSynthesizer struct {
	Out      io.Writer
	Renderer Renderer
	Dir      string
	Instant  bool
}

// Speak implements companion.Synthesizer.
func (s *LogSynthesizer) Speak(ctx context.Context, u speech.Utterance) error {
	out := s.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "speak: %s\n", u.Text)

	if s.Renderer != nil && s.Dir != "" {
		resp, err := s.Renderer.Synthesize(ctx, &speech.TTSRequest{
			SessionID: u.ID,
			Text:      u.Text,
			Voice:     u.Voice,
			Speed:     float32(u.Rate),
			Volume:    float32(u.Volume),
			Language:  u.Language,
		})
		if err != nil {
			return fmt.Errorf("render utterance: %w", err)
		}
		path := filepath.Join(s.Dir, u.ID+"."+resp.Format)
		if err := os.WriteFile(path, resp.AudioData, 0o644); err != nil {
			return fmt.Errorf("write utterance: %w", err)
		}
		fmt.Fprintf(out, "   saved %s\n", path)
	}

	if s.Instant {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(speakingTime(u)):
		return nil
	}
}

// speakingTime estimates playback at 150 words per minute scaled by rate.
func speakingTime(u speech.Utterance) time.Duration {
	words := len(strings.Fields(u.Text))
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	return time.Duration(float64(words) / (2.5 * rate) * float64(time.Second))
}
