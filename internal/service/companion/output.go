package companion

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/scene-guide/backend/internal/metrics"
	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

type activeUtterance struct {
	id     string
	cancel context.CancelFunc
}

// OutputQueue holds at most one active utterance. All methods run on the loop.
type OutputQueue struct {
	loop    *Loop
	synth   Synthesizer
	metrics *metrics.Metrics

	// Voice and Language are copied onto every utterance.
	Voice    string
	Language string

	enabled  func() bool
	busy     func() bool
	onChange func(speaking bool)

	current *activeUtterance
}

// NewOutputQueue wires a synthesizer. enabled reports whether audio output is
// on; busy reports whether the user is mid-utterance; onChange observes the
// speaking flag.
func NewOutputQueue(loop *Loop, synth Synthesizer, m *metrics.Metrics, enabled, busy func() bool, onChange func(bool)) *OutputQueue {
	return &OutputQueue{
		loop:     loop,
		synth:    synth,
		metrics:  m,
		enabled:  enabled,
		busy:     busy,
		onChange: onChange,
	}
}

// Speak cancels whatever is playing and starts text. It reports whether an
// utterance was started.
func (q *OutputQueue) Speak(text string) bool {
	text = strings.TrimSpace(text)
	if q.synth == nil || text == "" || !q.enabled() {
		return false
	}
	if q.busy != nil && q.busy() {
		q.metrics.Utterance("suppressed")
		return false
	}

	q.Cancel()

	u := speech.Utterance{
		ID:       uuid.NewString(),
		Text:     text,
		Voice:    q.Voice,
		Language: q.Language,
		Rate:     speech.DefaultRate,
		Pitch:    speech.DefaultPitch,
		Volume:   speech.DefaultVolume,
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.current = &activeUtterance{id: u.ID, cancel: cancel}
	q.onChange(true)

	go func() {
		err := q.synth.Speak(ctx, u)
		q.loop.Post(func() { q.finish(u.ID, err) })
	}()
	return true
}

// Cancel stops the active utterance, if any.
func (q *OutputQueue) Cancel() {
	if q.current == nil {
		return
	}
	q.current.cancel()
	q.current = nil
	q.metrics.Utterance("cancelled")
	q.onChange(false)
}

// Speaking reports whether an utterance is active.
func (q *OutputQueue) Speaking() bool {
	return q.current != nil
}

func (q *OutputQueue) finish(id string, err error) {
	if q.current == nil || q.current.id != id {
		return
	}
	q.current.cancel()
	q.current = nil

	switch {
	case err == nil:
		q.metrics.Utterance("completed")
	case errors.Is(err, context.Canceled):
		q.metrics.Utterance("cancelled")
	default:
		log.Printf("[speech] utterance %s failed: %v", id, err)
		q.metrics.Utterance("error")
	}
	q.onChange(false)
}
