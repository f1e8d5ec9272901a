package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/scene-guide/backend/internal/config"
	"github.com/zhouzirui/scene-guide/backend/internal/metrics"
	"github.com/zhouzirui/scene-guide/backend/internal/model/guide"
	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
	"github.com/zhouzirui/scene-guide/backend/internal/service/conversation"
	"github.com/zhouzirui/scene-guide/backend/internal/service/media"
	"github.com/zhouzirui/scene-guide/backend/internal/service/speech"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrGuideNotFound   = errors.New("guide not found")
	ErrInvalidID       = errors.New("invalid session id")
)

const maxIDLength = 128

// Deps are the shared services every session is built from.
type Deps struct {
	Guides  guide.Store
	Backend conversation.Backend
	Metrics *metrics.Metrics
	Session config.SessionConfig
	Prefix  string

	// Describer is nil when no description service is configured.
	Describer companion.Describer
	// UnavailableMessage is shown when a session cannot start without a describer.
	UnavailableMessage string

	// Renderer renders speech on the server; nil leaves it to the client.
	Renderer speech.Renderer
	// Transcriber recognizes buffered client audio; nil uses the client recognizer.
	Transcriber speech.Transcriber
	AudioFormat string
	ASRTimeout  time.Duration
}

// Manager is the registry of live sessions.
type Manager struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager wires the shared services.
func NewManager(deps Deps) *Manager {
	if deps.Backend == nil {
		deps.Backend = conversation.NewMemoryBackend()
	}
	return &Manager{deps: deps, sessions: make(map[string]*Session)}
}

// Create returns the live session with id, or builds one and restores its
// persisted conversation. An empty id allocates a new one.
func (m *Manager) Create(ctx context.Context, id, guideID string) (*Session, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	} else if !validID(id) {
		return nil, false, ErrInvalidID
	}

	if s, err := m.Get(id); err == nil {
		return s, false, nil
	}

	if guideID == "" {
		guideID = m.deps.Session.GuideID
	}
	if guideID == "" {
		guideID = guide.DefaultID
	}
	g, ok := m.deps.Guides.FindByID(guideID)
	if !ok {
		return nil, false, ErrGuideNotFound
	}
	if g.Language == "" {
		g.Language = m.deps.Session.Language
	}

	s := m.build(id, g)
	if err := s.Controller.Open(ctx); err != nil {
		_ = s.Controller.Shutdown(ctx)
		s.Hub.Close()
		return nil, false, fmt.Errorf("restore conversation: %w", err)
	}

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		_ = s.Controller.Shutdown(ctx)
		s.Hub.Close()
		return existing, false, nil
	}
	m.sessions[id] = s
	m.mu.Unlock()

	log.Printf("[session] %s created guide=%s", id, g.ID)
	return s, true, nil
}

func (m *Manager) build(id string, g guide.Guide) *Session {
	link := &Link{}
	hub := NewHub()

	s := &Session{
		ID:        id,
		Hub:       hub,
		CreatedAt: time.Now().UTC(),
		link:      link,
		devices:   media.NewRemoteDevices(link, m.deps.Metrics.FrameOverwritten),
		synth:     speech.NewRemoteSynthesizer(link, m.deps.Renderer, id),
	}
	if m.deps.Transcriber != nil {
		s.buffered = speech.NewBufferedRecognizer(link, m.deps.Transcriber, id, m.deps.AudioFormat, m.deps.ASRTimeout)
		s.recognizer = s.buffered
	} else {
		s.recognizer = speech.NewRemoteRecognizer(link)
	}

	s.Controller = companion.New(companion.Options{
		SessionID:          id,
		Guide:              g,
		Settings:           m.deps.Session.Settings(),
		RestartDelay:       m.deps.Session.RestartDelay,
		RestartMaxDelay:    m.deps.Session.RestartMaxDelay,
		Devices:            s.devices,
		Recognizer:         s.recognizer,
		Synthesizer:        s.synth,
		Describer:          m.deps.Describer,
		Store:              conversation.NewStore(m.deps.Backend, conversation.Key(m.deps.Prefix, id)),
		Notifier:           hub,
		Metrics:            m.deps.Metrics,
		UnavailableMessage: m.deps.UnavailableMessage,
	})
	return s
}

// Get looks up a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Remove shuts a session down and forgets it. The persisted conversation is kept.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	err := s.Controller.Shutdown(ctx)
	s.Hub.Close()
	log.Printf("[session] %s removed", id)
	return err
}

// Shutdown closes every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		if err := s.Controller.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
		s.Hub.Close()
	}
	return errors.Join(errs...)
}

func validID(id string) bool {
	if len(id) > maxIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
