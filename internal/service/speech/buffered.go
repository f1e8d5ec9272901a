package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

// MaxUtteranceBytes caps one buffered utterance: 30s of 16kHz 16bit mono.
const MaxUtteranceBytes = 30 * 32000

// Transcriber turns buffered audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
}

// BufferedRecognizer collects raw audio streamed by the client and
// transcribes each utterance on the server when the client marks its end.
type BufferedRecognizer struct {
	sender      Sender
	transcriber Transcriber
	sessionID   string
	format      string
	timeout     time.Duration

	mu     sync.Mutex
	emit   func(speech.RecognitionEvent)
	opts   speech.RecognitionOptions
	buf    bytes.Buffer
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBufferedRecognizer wires a transcriber. format is the client's audio
// encoding, "pcm" when empty.
func NewBufferedRecognizer(sender Sender, transcriber Transcriber, sessionID, format string, timeout time.Duration) *BufferedRecognizer {
	if format == "" {
		format = "pcm"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BufferedRecognizer{
		sender:      sender,
		transcriber: transcriber,
		sessionID:   sessionID,
		format:      format,
		timeout:     timeout,
	}
}

type audioCapture struct {
	speech.RecognitionOptions
	Mode   string `json:"mode"`
	Format string `json:"format"`
}

// Start implements companion.Recognizer. The client is asked to stream audio.
func (r *BufferedRecognizer) Start(opts speech.RecognitionOptions, emit func(speech.RecognitionEvent)) error {
	if err := r.sender.Send(MsgRecognitionStart, audioCapture{RecognitionOptions: opts, Mode: "audio", Format: r.format}); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.emit = emit
	r.opts = opts
	r.buf.Reset()
	r.mu.Unlock()
	return nil
}

// Stop implements companion.Recognizer. Buffered audio is discarded.
func (r *BufferedRecognizer) Stop() error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.emit = nil
	r.buf.Reset()
	r.mu.Unlock()

	if err := r.sender.Send(MsgRecognitionStop, nil); err != nil && !errors.Is(err, ErrDisconnected) {
		return err
	}
	return nil
}

// Audio appends a chunk. When final is set, or the buffer is full, the
// collected utterance is transcribed in the background.
func (r *BufferedRecognizer) Audio(chunk []byte, final bool) {
	r.mu.Lock()
	if r.emit == nil {
		r.mu.Unlock()
		return
	}
	r.buf.Write(chunk)
	full := r.buf.Len() >= MaxUtteranceBytes
	if !final && !full {
		emit := r.emit
		r.mu.Unlock()
		emit(speech.RecognitionEvent{Kind: speech.RecognitionResult, Transcript: "…"})
		return
	}

	audio := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	emit, ctx, language := r.emit, r.ctx, r.opts.Language
	r.mu.Unlock()

	if len(audio) == 0 {
		return
	}
	go r.transcribe(ctx, emit, audio, language)
}

func (r *BufferedRecognizer) transcribe(ctx context.Context, emit func(speech.RecognitionEvent), audio []byte, language string) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.transcriber.Transcribe(ctx, &speech.ASRRequest{
		SessionID: r.sessionID,
		AudioData: bytes.NewReader(audio),
		Format:    r.format,
		Language:  language,
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("[speech] transcription failed: %v", err)
		emit(speech.RecognitionEvent{Kind: speech.RecognitionError, Error: speech.ErrorNetwork})
		return
	}
	if strings.TrimSpace(resp.Text) == "" {
		emit(speech.RecognitionEvent{Kind: speech.RecognitionError, Error: speech.ErrorNoSpeech})
		return
	}
	emit(speech.RecognitionEvent{Kind: speech.RecognitionResult, Transcript: resp.Text, IsFinal: true})
}

// Deliver forwards a client event such as a microphone permission error.
func (r *BufferedRecognizer) Deliver(ev speech.RecognitionEvent) bool {
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
func (r *BufferedRecognizer) Disconnected() {
	r.Deliver(speech.RecognitionEvent{Kind: speech.RecognitionEnded})
}
