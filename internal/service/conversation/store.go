package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/conversation"
)

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrInvalidID = errors.New("conversation key is required")
	ErrEmptyTurn = errors.New("turn text is empty")
)

// Backend persists one serialized transcript per key.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Key builds the persistence key of a session transcript.
func Key(prefix, sessionID string) string {
	if prefix == "" {
		return "conversation:" + sessionID
	}
	return prefix + ":conversation:" + sessionID
}

// Store is the append-only transcript of one session. Every append rewrites
// the persisted copy; Clear wipes memory and persistence together.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	key     string
	turns   []conversation.Turn
	now     func() time.Time
}

// NewStore binds a transcript to a backend key.
func NewStore(backend Backend, key string) *Store {
	return &Store{backend: backend, key: key, now: time.Now}
}

// Open restores any persisted transcript. A missing entry is not an error.
func (s *Store) Open(ctx context.Context) error {
	if s.key == "" {
		return ErrInvalidID
	}

	data, err := s.backend.Load(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		s.mu.Lock()
		s.turns = nil
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	turns, err := decode(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.turns = turns
	s.mu.Unlock()
	return nil
}

// Append adds a turn. A zero capture time is stamped with now; a capture time
// earlier than the last turn is moved up to it so the sequence stays ordered.
// The turn stays in memory even if persisting it fails.
func (s *Store) Append(ctx context.Context, turn conversation.Turn) (conversation.Turn, error) {
	if strings.TrimSpace(turn.Text) == "" {
		return conversation.Turn{}, ErrEmptyTurn
	}

	s.mu.Lock()
	if turn.CapturedAt.IsZero() {
		turn.CapturedAt = s.now()
	}
	if n := len(s.turns); n > 0 && turn.CapturedAt.Before(s.turns[n-1].CapturedAt) {
		turn.CapturedAt = s.turns[n-1].CapturedAt
	}
	s.turns = append(s.turns, turn)
	data, err := encode(s.turns)
	s.mu.Unlock()

	if err != nil {
		return turn, err
	}
	if err := s.backend.Save(ctx, s.key, data); err != nil {
		return turn, fmt.Errorf("persist conversation: %w", err)
	}
	return turn, nil
}

// Turns returns a copy of the transcript.
func (s *Store) Turns() []conversation.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]conversation.Turn(nil), s.turns...)
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear drops the transcript from memory and from the backend.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()

	if err := s.backend.Delete(ctx, s.key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func encode(turns []conversation.Turn) ([]byte, error) {
	records := make([]conversation.Record, 0, len(turns))
	for _, t := range turns {
		records = append(records, t.ToRecord())
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation: %w", err)
	}
	return data, nil
}

func decode(data []byte) ([]conversation.Turn, error) {
	var records []conversation.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}

	turns := make([]conversation.Turn, 0, len(records))
	for i, r := range records {
		t, err := conversation.FromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("conversation record %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}
