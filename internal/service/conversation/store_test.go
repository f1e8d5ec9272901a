package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/conversation"
)

func TestStoreAppendPersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	key := Key("test", "s1")

	store := NewStore(backend, key)
	if err := store.Open(ctx); err != nil {
		t.Fatalf("Open err: %v", err)
	}

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	if _, err := store.Append(ctx, conversation.Turn{Role: conversation.RoleUser, Text: "What is this?", CapturedAt: base}); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if _, err := store.Append(ctx, conversation.Turn{Role: conversation.RoleAssistant, Text: "A riad courtyard.", CapturedAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	raw, err := backend.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	var records []map[string]string
	if err := json.Unmarshal(raw, &records); err != nil {
		t.Fatalf("persisted form is not a JSON array: %v", err)
	}
	if _, legacy := records[0]["type"]; legacy {
		t.Fatalf("records must not carry a type key: %v", records)
	}
	if len(records) != 2 || records[0]["role"] != "user" || records[1]["content"] != "A riad courtyard." {
		t.Fatalf("unexpected persisted records %v", records)
	}
	if records[0]["timestamp"] != "2024-05-01T09:00:00Z" {
		t.Fatalf("unexpected timestamp %q", records[0]["timestamp"])
	}

	restored := NewStore(backend, key)
	if err := restored.Open(ctx); err != nil {
		t.Fatalf("Open err: %v", err)
	}
	turns := restored.Turns()
	if len(turns) != 2 || !turns[1].CapturedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("unexpected restored turns %+v", turns)
	}
}

func TestStoreAppendKeepsOrderMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), "k")

	late := time.Date(2024, 5, 1, 9, 0, 5, 0, time.UTC)
	if _, err := store.Append(ctx, conversation.Turn{Role: conversation.RoleUser, Text: "first", CapturedAt: late}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Append(ctx, conversation.Turn{Role: conversation.RoleAssistant, Text: "second", CapturedAt: late.Add(-time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if !got.CapturedAt.Equal(late) {
		t.Fatalf("expected clamped capture time, got %v", got.CapturedAt)
	}

	store.now = func() time.Time { return late.Add(time.Minute) }
	got, _ = store.Append(ctx, conversation.Turn{Role: conversation.RoleUser, Text: "third"})
	if !got.CapturedAt.Equal(late.Add(time.Minute)) {
		t.Fatalf("expected stamped capture time, got %v", got.CapturedAt)
	}

	turns := store.Turns()
	for i := 1; i < len(turns); i++ {
		if turns[i].CapturedAt.Before(turns[i-1].CapturedAt) {
			t.Fatalf("turn %d out of order", i)
		}
	}
}

func TestStoreRejectsEmptyTurn(t *testing.T) {
	store := NewStore(NewMemoryBackend(), "k")
	if _, err := store.Append(context.Background(), conversation.Turn{Role: conversation.RoleUser, Text: "   "}); !errors.Is(err, ErrEmptyTurn) {
		t.Fatalf("expected ErrEmptyTurn, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("empty turn must not be stored")
	}
}

func TestStoreClearWipesBothCopies(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := NewStore(backend, "k")
	if _, err := store.Append(ctx, conversation.Turn{Role: conversation.RoleUser, Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear err: %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("memory copy not cleared")
	}
	if _, err := backend.Load(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("persisted copy not cleared: %v", err)
	}
}

type failingBackend struct{ *MemoryBackend }

func (f *failingBackend) Save(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestStoreAppendKeepsTurnWhenPersistFails(t *testing.T) {
	store := NewStore(&failingBackend{MemoryBackend: NewMemoryBackend()}, "k")
	if _, err := store.Append(context.Background(), conversation.Turn{Role: conversation.RoleUser, Text: "hello"}); err == nil {
		t.Fatal("expected persist error")
	}
	if store.Len() != 1 {
		t.Fatal("turn should stay in memory")
	}
}

func TestStoreOpenRejectsCorruptData(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	_ = backend.Save(ctx, "k", []byte(`{"not":"an array"}`))

	if err := NewStore(backend, "k").Open(ctx); err == nil {
		t.Fatal("expected decode error")
	}
	if err := NewStore(backend, "").Open(ctx); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend err: %v", err)
	}

	key := Key("sceneguide", "abc")
	if _, err := backend.Load(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := backend.Save(ctx, key, []byte(`[]`)); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	data, err := backend.Load(ctx, key)
	if err != nil || string(data) != "[]" {
		t.Fatalf("unexpected load %q %v", data, err)
	}
	if err := backend.Delete(ctx, key); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if err := backend.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("sceneguide", "s1"); got != "sceneguide:conversation:s1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := Key("", "s1"); got != "conversation:s1" {
		t.Fatalf("unexpected key %q", got)
	}
}
