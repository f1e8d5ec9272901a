package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/conversation"
	"github.com/zhouzirui/scene-guide/backend/internal/model/session"
	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
)

func TestSettingsPatch(t *testing.T) {
	opts := runOptions{interval: 2 * time.Second, threshold: 0.3, mute: true}
	got, err := opts.settingsPatch().Apply(session.DefaultSettings())
	if err != nil {
		t.Fatalf("Apply err: %v", err)
	}
	if got.CaptureInterval != 2*time.Second || got.ChangeThreshold != 0.3 || got.AudioEnabled {
		t.Fatalf("unexpected settings %+v", got)
	}

	got, err = runOptions{}.settingsPatch().Apply(session.DefaultSettings())
	if err != nil || got != session.DefaultSettings() {
		t.Fatalf("empty flags should keep defaults, got %+v err=%v", got, err)
	}

	if _, err := (runOptions{interval: 100 * time.Millisecond}).settingsPatch().Apply(session.DefaultSettings()); err == nil {
		t.Fatal("interval below the minimum should be rejected")
	}
}

func TestPrinter(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)
	now := time.Now()

	p.Notify(companion.Event{Type: companion.EventTurn, Data: conversation.Turn{Role: conversation.RoleUser, Text: "what is this?"}, Timestamp: now})
	p.Notify(companion.Event{Type: companion.EventError, Data: map[string]string{"message": "Analysis failed: timeout"}, Timestamp: now})
	p.Notify(companion.Event{Type: companion.EventTranscript, Data: map[string]any{"interim": ""}, Timestamp: now})
	p.Notify(companion.Event{Type: companion.EventState, Data: session.Snapshot{}, Timestamp: now})

	got := out.String()
	if !strings.Contains(got, "user: what is this?") || !strings.Contains(got, "error: Analysis failed: timeout") {
		t.Fatalf("unexpected output %q", got)
	}
	if strings.Count(got, "\n") != 2 {
		t.Fatalf("expected 2 lines, got %q", got)
	}
}

func TestAudioFormat(t *testing.T) {
	if got := audioFormat("clip.PCM"); got != "pcm" {
		t.Fatalf("unexpected %q", got)
	}
	if got := audioFormat("clip"); got != "wav" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"run", "tts", "asr"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %s not registered: %v", name, err)
		}
	}
}
