package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/conversation"
	"github.com/zhouzirui/scene-guide/backend/internal/model/guide"
	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
	"github.com/zhouzirui/scene-guide/backend/internal/model/session"
	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
	convstore "github.com/zhouzirui/scene-guide/backend/internal/service/conversation"
)

const courtyard = "A tiled courtyard with a carved cedar doorway and a central fountain."

type controllerHarness struct {
	c         *Controller
	media     *fakeMedia
	devices   *fakeDevices
	describer *fakeDescriber
	synth     *fakeSynth
	rec       *fakeRecognizer
	events    *eventLog
}

func testGuide() guide.Guide {
	return guide.Guide{
		ID:          "test-guide",
		Name:        "Test",
		OpeningLine: "Welcome to the test tour!",
		Language:    "en-US",
	}
}

func newControllerHarness(t *testing.T, describer *fakeDescriber) *controllerHarness {
	t.Helper()
	h := &controllerHarness{
		media:     &fakeMedia{},
		describer: describer,
		synth:     &fakeSynth{},
		rec:       &fakeRecognizer{},
		events:    &eventLog{},
	}
	h.devices = &fakeDevices{media: h.media}

	settings := session.DefaultSettings()
	settings.CaptureInterval = 10 * time.Millisecond

	opts := Options{
		SessionID:       "s-1",
		Guide:           testGuide(),
		Settings:        settings,
		RestartDelay:    5 * time.Millisecond,
		RestartMaxDelay: 20 * time.Millisecond,
		Devices:         h.devices,
		Recognizer:      h.rec,
		Synthesizer:     h.synth,
		Store:           convstore.NewStore(convstore.NewMemoryBackend(), "test:conversation:s-1"),
		Notifier:        h.events,
	}
	if describer != nil {
		opts.Describer = describer
	}
	h.c = New(opts)
	t.Cleanup(func() { h.c.Shutdown(context.Background()) })
	return h
}

func staticDescriber(text string) *fakeDescriber {
	return &fakeDescriber{fn: func(context.Context, scene.AnalysisRequest) (string, error) {
		return text, nil
	}}
}

func turnTexts(turns []conversation.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = string(t.Role) + ":" + t.Text
	}
	return out
}

func TestStartWithoutDescriber(t *testing.T) {
	h := newControllerHarness(t, nil)

	err := h.c.Start(context.Background())
	if !errors.Is(err, ErrDescriberUnavailable) {
		t.Fatalf("expected ErrDescriberUnavailable, got %v", err)
	}
	snap := h.c.Snapshot()
	if snap.Streaming || snap.Error != msgDescriberMissing {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestStartMediaDenied(t *testing.T) {
	h := newControllerHarness(t, staticDescriber(courtyard))
	h.devices.err = errors.New("Permission denied")

	err := h.c.Start(context.Background())
	if !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}
	snap := h.c.Snapshot()
	if snap.Streaming {
		t.Fatal("session must not stream after media failure")
	}
	if snap.Error != "Failed to access camera/microphone: Permission denied" {
		t.Fatalf("unexpected error %q", snap.Error)
	}
}

func TestStartGreetsAndDescribes(t *testing.T) {
	h := newControllerHarness(t, staticDescriber(courtyard))
	h.media.setFrame([]byte(strings.Repeat("a", 4000)))

	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("start err: %v", err)
	}
	if req := h.devices.req; !req.Video || req.Width != 640 || req.Height != 480 || !req.Audio {
		t.Fatalf("unexpected media request %+v", req)
	}

	turns := h.c.Turns()
	if len(turns) != 1 || turns[0].Text != "Welcome to the test tour!" || turns[0].Role != conversation.RoleAssistant {
		t.Fatalf("expected welcome turn, got %v", turnTexts(turns))
	}

	waitFor(t, "description", func() bool { return h.c.Snapshot().Description == courtyard })
	waitFor(t, "description spoken", func() bool { return h.synth.said(courtyard) })
	if !h.synth.said("Welcome to the test tour!") {
		t.Fatal("welcome should be spoken")
	}
	if h.events.count(EventDescription) == 0 {
		t.Fatal("expected a description event")
	}
}

func TestUnchangedFrameIsNotResent(t *testing.T) {
	h := newControllerHarness(t, staticDescriber(courtyard))
	h.media.setFrame([]byte(strings.Repeat("a", 4000)))

	h.c.Start(context.Background())
	waitFor(t, "first description", func() bool { return h.c.Snapshot().Description == courtyard })
	time.Sleep(60 * time.Millisecond)

	if n := h.describer.count(scene.OriginAutonomous); n != 1 {
		t.Fatalf("identical frames should be described once, got %d", n)
	}

	h.media.setFrame([]byte(strings.Repeat("b", 4000)))
	waitFor(t, "changed frame described", func() bool { return h.describer.count(scene.OriginAutonomous) == 2 })
}

func TestShortDescriptionNotSpoken(t *testing.T) {
	h := newControllerHarness(t, staticDescriber("Exploring..."))
	h.media.setFrame([]byte("frame"))

	h.c.Start(context.Background())
	waitFor(t, "description", func() bool { return h.c.Snapshot().Description == "Exploring..." })
	if h.synth.said("Exploring...") {
		t.Fatal("placeholder narration must not be spoken")
	}
}

func TestAutonomousFailureRetriesNextTick(t *testing.T) {
	describer := &fakeDescriber{fn: func(context.Context, scene.AnalysisRequest) (string, error) {
		return "", errors.New("API Error: 500 - upstream")
	}}
	h := newControllerHarness(t, describer)
	h.media.setFrame([]byte("frame"))

	h.c.Start(context.Background())
	waitFor(t, "error surfaced", func() bool {
		return h.c.Snapshot().Error == "Analysis failed: API Error: 500 - upstream"
	})
	waitFor(t, "retry", func() bool { return describer.count(scene.OriginAutonomous) >= 2 })
}

func TestAskWithoutCamera(t *testing.T) {
	h := newControllerHarness(t, staticDescriber(courtyard))

	if !h.c.Ask("what is this?") {
		t.Fatal("question should be accepted")
	}
	got := turnTexts(h.c.Turns())
	want := []string{"user:what is this?", "assistant:" + msgNeedCamera}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected turns %v", got)
	}
	waitFor(t, "camera prompt spoken", func() bool { return h.synth.said(msgNeedCamera) })
	if h.describer.count(scene.OriginVoice) != 0 {
		t.Fatal("no request should be sent without a frame")
	}
}

func TestAskIgnoresBlank(t *testing.T) {
	h := newControllerHarness(t, staticDescriber(courtyard))
	if h.c.Ask("   ") {
		t.Fatal("blank question should be ignored")
	}
	if len(h.c.Turns()) != 0 {
		t.Fatal("blank question must not append turns")
	}
}

func TestAskAnswersFromFrame(t *testing.T) {
	describer := &fakeDescriber{fn: func(_ context.Context, req scene.AnalysisRequest) (string, error) {
		if req.Origin == scene.OriginVoice {
			return "That is a zellige mosaic made of hand-cut tiles.", nil
		}
		return courtyard, nil
	}}
	h := newControllerHarness(t, describer)
	h.media.setFrame([]byte("frame"))
	h.c.Start(context.Background())

	h.c.Ask("what are these tiles?")
	waitFor(t, "answer turn", func() bool { return len(h.c.Turns()) == 3 })

	got := turnTexts(h.c.Turns())
	if got[1] != "user:what are these tiles?" || got[2] != "assistant:That is a zellige mosaic made of hand-cut tiles." {
		t.Fatalf("unexpected turns %v", got)
	}
	waitFor(t, "answer spoken", func() bool { return h.synth.said("That is a zellige mosaic made of hand-cut tiles.") })
}

func TestAskFailureApologises(t *testing.T) {
	describer := &fakeDescriber{fn: func(_ context.Context, req scene.AnalysisRequest) (string, error) {
		if req.Origin == scene.OriginVoice {
			return "", errors.New("timeout")
		}
		return courtyard, nil
	}}
	h := newControllerHarness(t, describer)
	h.media.setFrame([]byte("frame"))
	h.c.Start(context.Background())

	h.c.Ask("who built this?")
	waitFor(t, "apology turn", func() bool { return len(h.c.Turns()) == 3 })

	last := h.c.Turns()[2]
	want := `I apologize, but I encountered an error processing your question: "who built this?". Please try asking again.`
	if last.Text != want {
		t.Fatalf("unexpected apology %q", last.Text)
	}
	if h.synth.said(want) {
		t.Fatal("apology must not be spoken")
	}
}

func TestSpokenQuestionFlowsThroughRecognizer(t *testing.T) {
	describer := &fakeDescriber{fn: func(_ context.Context, req scene.AnalysisRequest) (string, error) {
		return "The gate is Bab Agnaou, built in the twelfth century.", nil
	}}
	h := newControllerHarness(t, describer)
	h.media.setFrame([]byte("frame"))
	h.c.Start(context.Background())

	if err := h.c.Listen(); err != nil {
		t.Fatalf("listen err: %v", err)
	}
	if !h.c.Snapshot().Listening {
		t.Fatal("snapshot should report listening")
	}

	h.rec.send(speech.RecognitionEvent{Kind: speech.RecognitionResult, Transcript: "which gate is this", IsFinal: true})
	waitFor(t, "voice request", func() bool { return h.describer.count(scene.OriginVoice) == 1 })

	if err := h.c.Unlisten(); err != nil {
		t.Fatalf("unlisten err: %v", err)
	}
	if h.c.Snapshot().Listening {
		t.Fatal("snapshot should stop listening")
	}
}

func TestUpdateSettings(t *testing.T) {
	h := newControllerHarness(t, staticDescriber(courtyard))

	bad := int64(100)
	if _, err := h.c.UpdateSettings(session.SettingsPatch{CaptureIntervalMs: &bad}); !errors.Is(err, session.ErrInvalidSettings) {
		t.Fatalf("expected invalid settings, got %v", err)
	}

	interval := int64(2000)
	off := false
	got, err := h.c.UpdateSettings(session.SettingsPatch{CaptureIntervalMs: &interval, AudioEnabled: &off})
	if err != nil {
		t.Fatalf("update err: %v", err)
	}
	if got.CaptureInterval != 2*time.Second || got.AudioEnabled {
		t.Fatalf("unexpected settings %+v", got)
	}
	snap := h.c.Snapshot()
	if snap.CaptureIntervalMs != 2000 || snap.AudioEnabled {
		t.Fatalf("snapshot not updated %+v", snap)
	}
}

func TestStopTearsEverythingDown(t *testing.T) {
	h := newControllerHarness(t, staticDescriber(courtyard))
	h.media.setFrame([]byte("frame"))
	h.c.Start(context.Background())
	h.c.Listen()
	waitFor(t, "description", func() bool { return h.c.Snapshot().Description != "" })

	if err := h.c.Stop(context.Background()); err != nil {
		t.Fatalf("stop err: %v", err)
	}

	snap := h.c.Snapshot()
	if snap.Streaming || snap.Listening || snap.Analyzing || snap.Speaking {
		t.Fatalf("flags should reset, got %+v", snap)
	}
	if snap.Description != "" || snap.Turns != 0 {
		t.Fatalf("description and conversation should clear, got %+v", snap)
	}
	if h.media.closeCount() != 1 {
		t.Fatalf("media should be released once, got %d", h.media.closeCount())
	}

	calls := h.describer.count(scene.OriginAutonomous)
	time.Sleep(40 * time.Millisecond)
	if h.describer.count(scene.OriginAutonomous) != calls {
		t.Fatal("sampling should stop after Stop")
	}
}

func TestOpenRestoresConversation(t *testing.T) {
	backend := convstore.NewMemoryBackend()
	key := "test:conversation:restore"
	seed := convstore.NewStore(backend, key)
	if _, err := seed.Append(context.Background(), conversation.Turn{Role: conversation.RoleUser, Text: "hello"}); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	c := New(Options{SessionID: "restore", Guide: testGuide(), Settings: session.DefaultSettings(), Store: convstore.NewStore(backend, key)})
	defer c.Shutdown(context.Background())

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("open err: %v", err)
	}
	if len(c.Turns()) != 1 {
		t.Fatalf("expected restored turn, got %d", len(c.Turns()))
	}
	waitFor(t, "snapshot turn count", func() bool { return c.Snapshot().Turns == 1 })
}

func TestShutdownRejectsCalls(t *testing.T) {
	h := newControllerHarness(t, staticDescriber(courtyard))
	h.c.Shutdown(context.Background())

	if err := h.c.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestListenCancelsActiveUtterance(t *testing.T) {
	h := newControllerHarness(t, staticDescriber(courtyard))
	h.synth.hold = true

	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("start err: %v", err)
	}
	waitFor(t, "welcome playing", func() bool { return h.c.Snapshot().Speaking })

	if err := h.c.Listen(); err != nil {
		t.Fatalf("listen err: %v", err)
	}
	snap := h.c.Snapshot()
	if snap.Speaking || !snap.Listening {
		t.Fatalf("listening should cut the welcome short: %+v", snap)
	}
}

func TestAutonomousRequestsNeverOverlap(t *testing.T) {
	describer := &fakeDescriber{}
	h := newControllerHarness(t, describer)

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
		frames   int
	)
	describer.mu.Lock()
	describer.fn = func(_ context.Context, req scene.AnalysisRequest) (string, error) {
		if req.Origin == scene.OriginVoice {
			return "These are Saadian tombs from the sixteenth century.", nil
		}
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		frames++
		next := frames
		mu.Unlock()

		time.Sleep(15 * time.Millisecond)
		// the camera keeps moving so every tick sees a changed scene
		h.media.setFrame([]byte(fmt.Sprintf("frame-%d", next)))

		mu.Lock()
		inFlight--
		mu.Unlock()
		return courtyard, nil
	}
	describer.mu.Unlock()

	h.media.setFrame([]byte("frame-0"))
	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("start err: %v", err)
	}
	waitFor(t, "several descriptions", func() bool { return describer.count(scene.OriginAutonomous) >= 3 })

	before := len(h.c.Turns())
	h.c.Ask("whose tombs are these?")
	waitFor(t, "answer turn", func() bool { return len(h.c.Turns()) == before+2 })
	waitFor(t, "more descriptions", func() bool { return describer.count(scene.OriginAutonomous) >= 6 })

	mu.Lock()
	defer mu.Unlock()
	if maxSeen != 1 {
		t.Fatalf("autonomous requests overlapped: %d in flight", maxSeen)
	}
}
