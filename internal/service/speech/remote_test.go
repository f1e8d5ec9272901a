package speech

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

type sentMessage struct {
	Type string
	Data any
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *recordingSender) Send(msgType string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{Type: msgType, Data: data})
	return nil
}

func (s *recordingSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.Type
	}
	return out
}

func (s *recordingSender) waitFor(t *testing.T, msgType string) sentMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, m := range s.sent {
			if m.Type == msgType {
				s.mu.Unlock()
				return m
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s message sent", msgType)
	return sentMessage{}
}

type stubRenderer struct {
	err error
}

func (r stubRenderer) Synthesize(_ context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &speech.TTSResponse{AudioData: []byte("audio:" + req.Text), Format: "mp3"}, nil
}

func TestRemoteSynthesizerWaitsForAck(t *testing.T) {
	sender := &recordingSender{}
	synth := NewRemoteSynthesizer(sender, nil, "s-1")

	done := make(chan error, 1)
	go func() {
		done <- synth.Speak(context.Background(), speech.Utterance{ID: "u-1", Text: "Look at the arch.", Rate: 0.9})
	}()

	msg := sender.waitFor(t, MsgSpeak)
	payload := msg.Data.(SpeakPayload)
	if payload.ID != "u-1" || payload.Audio != "" || payload.Rate != 0.9 {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if !synth.Finished("u-1", "") {
		t.Fatal("utterance should be pending")
	}
	if err := <-done; err != nil {
		t.Fatalf("Speak err: %v", err)
	}
	if synth.Finished("u-1", "") {
		t.Fatal("finished utterance should no longer be pending")
	}
}

func TestRemoteSynthesizerCancel(t *testing.T) {
	sender := &recordingSender{}
	synth := NewRemoteSynthesizer(sender, nil, "s-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- synth.Speak(ctx, speech.Utterance{ID: "u-2", Text: "hello"}) }()

	sender.waitFor(t, MsgSpeak)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	sender.waitFor(t, MsgSpeakCancel)
}

func TestRemoteSynthesizerRendersOnServer(t *testing.T) {
	sender := &recordingSender{}
	synth := NewRemoteSynthesizer(sender, stubRenderer{}, "s-1")
	synth.Timeout = 50 * time.Millisecond

	err := synth.Speak(context.Background(), speech.Utterance{ID: "u-3", Text: "Bab Agnaou"})
	if !errors.Is(err, ErrPlaybackTimeout) {
		t.Fatalf("expected timeout without ack, got %v", err)
	}
	payload := sender.waitFor(t, MsgSpeak).Data.(SpeakPayload)
	if payload.Audio == "" || payload.Format != "mp3" {
		t.Fatalf("expected rendered audio, got %+v", payload)
	}
}

func TestRemoteSynthesizerFallsBackToClientVoice(t *testing.T) {
	sender := &recordingSender{}
	synth := NewRemoteSynthesizer(sender, stubRenderer{err: errors.New("tts down")}, "s-1")

	done := make(chan error, 1)
	go func() { done <- synth.Speak(context.Background(), speech.Utterance{ID: "u-4", Text: "hi"}) }()

	payload := sender.waitFor(t, MsgSpeak).Data.(SpeakPayload)
	if payload.Audio != "" {
		t.Fatal("failed render must fall back to text")
	}
	synth.Finished("u-4", speech.ErrorNotAllowed)
	if err := <-done; !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestRemoteSynthesizerDisconnected(t *testing.T) {
	sender := &recordingSender{err: errors.New("no connection")}
	synth := NewRemoteSynthesizer(sender, nil, "s-1")
	if err := synth.Speak(context.Background(), speech.Utterance{ID: "u-5", Text: "hi"}); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}

	live := &recordingSender{}
	synth = NewRemoteSynthesizer(live, nil, "s-1")
	done := make(chan error, 1)
	go func() { done <- synth.Speak(context.Background(), speech.Utterance{ID: "u-6", Text: "hi"}) }()
	live.waitFor(t, MsgSpeak)
	synth.Disconnected()
	if err := <-done; !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestRemoteRecognizerForwardsEvents(t *testing.T) {
	sender := &recordingSender{}
	rec := NewRemoteRecognizer(sender)

	if rec.Deliver(speech.RecognitionEvent{Kind: speech.RecognitionStarted}) {
		t.Fatal("events before start should be dropped")
	}

	var got []speech.RecognitionEvent
	if err := rec.Start(speech.RecognitionOptions{Language: "en-US", Continuous: true}, func(ev speech.RecognitionEvent) {
		got = append(got, ev)
	}); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	rec.Deliver(speech.RecognitionEvent{Kind: speech.RecognitionResult, Transcript: "hello", IsFinal: true})
	rec.Disconnected()
	if len(got) != 2 || got[1].Kind != speech.RecognitionEnded {
		t.Fatalf("unexpected events %+v", got)
	}

	rec.Stop()
	if types := sender.types(); len(types) != 2 || types[0] != MsgRecognitionStart || types[1] != MsgRecognitionStop {
		t.Fatalf("unexpected messages %v", types)
	}
}

type stubTranscriber struct {
	text string
	err  error

	mu  sync.Mutex
	got []byte
}

func (s *stubTranscriber) Transcribe(_ context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	data, _ := io.ReadAll(req.AudioData)
	s.mu.Lock()
	s.got = data
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &speech.ASRResponse{Text: s.text}, nil
}

func TestBufferedRecognizerTranscribesUtterance(t *testing.T) {
	sender := &recordingSender{}
	transcriber := &stubTranscriber{text: "how old is this wall"}
	rec := NewBufferedRecognizer(sender, transcriber, "s-1", "", time.Second)

	events := make(chan speech.RecognitionEvent, 8)
	rec.Start(speech.RecognitionOptions{Language: "en-US"}, func(ev speech.RecognitionEvent) { events <- ev })

	rec.Audio([]byte("abc"), false)
	if ev := <-events; ev.IsFinal {
		t.Fatal("partial audio should only produce an interim marker")
	}
	rec.Audio([]byte("def"), true)

	select {
	case ev := <-events:
		if !ev.IsFinal || ev.Transcript != "how old is this wall" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transcript")
	}

	transcriber.mu.Lock()
	defer transcriber.mu.Unlock()
	if !bytes.Equal(transcriber.got, []byte("abcdef")) {
		t.Fatalf("unexpected audio %q", transcriber.got)
	}
}

func TestBufferedRecognizerReportsFailure(t *testing.T) {
	rec := NewBufferedRecognizer(&recordingSender{}, &stubTranscriber{err: errors.New("asr down")}, "s-1", "pcm", time.Second)

	events := make(chan speech.RecognitionEvent, 8)
	rec.Start(speech.RecognitionOptions{}, func(ev speech.RecognitionEvent) { events <- ev })
	rec.Audio([]byte("abc"), true)

	select {
	case ev := <-events:
		if ev.Kind != speech.RecognitionError || ev.Error != speech.ErrorNetwork {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
}

func TestLineRecognizer(t *testing.T) {
	rec := NewLineRecognizer(strings.NewReader("what is this?\n\n  tell me more  \n"))

	var mu sync.Mutex
	var got []string
	rec.Start(speech.RecognitionOptions{}, func(ev speech.RecognitionEvent) {
		mu.Lock()
		got = append(got, ev.Transcript)
		mu.Unlock()
	})

	select {
	case <-rec.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader not drained")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "what is this?" || got[1] != "tell me more" {
		t.Fatalf("unexpected transcripts %q", got)
	}
	if err := rec.Start(speech.RecognitionOptions{}, func(speech.RecognitionEvent) {}); !errors.Is(err, io.EOF) {
		t.Fatalf("exhausted reader should refuse to start, got %v", err)
	}
}

func TestLogSynthesizer(t *testing.T) {
	var out bytes.Buffer
	dir := t.TempDir()
	synth := &LogSynthesizer{Out: &out, Renderer: stubRenderer{}, Dir: dir, Instant: true}

	if err := synth.Speak(context.Background(), speech.Utterance{ID: "u-9", Text: "The souk opens at dawn."}); err != nil {
		t.Fatalf("Speak err: %v", err)
	}
	if !strings.Contains(out.String(), "The souk opens at dawn.") || !strings.Contains(out.String(), "u-9.mp3") {
		t.Fatalf("unexpected output %q", out.String())
	}

	slow := &LogSynthesizer{Out: io.Discard}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := slow.Speak(ctx, speech.Utterance{Text: "a long sentence that would take a while"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
