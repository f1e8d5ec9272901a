package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/analysis/narration"
	"github.com/zhouzirui/scene-guide/backend/internal/config"
	"github.com/zhouzirui/scene-guide/backend/internal/model/guide"
	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
)

var (
	ErrOracleUnavailable = errors.New("description service not configured")
	ErrNoFrame           = errors.New("no frame to describe")
	ErrGuideNotFound     = errors.New("guide not found")
)

// Backend performs one completion against a concrete provider.
type Backend interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Name() string
}

// Service turns analysis requests into descriptions.
type Service struct {
	backend Backend
	guides  guide.Store
	cfg     config.OracleConfig
}

// NewService wires a backend with the guide store used for prompt framing.
func NewService(backend Backend, guides guide.Store, cfg config.OracleConfig) *Service {
	return &Service{backend: backend, guides: guides, cfg: cfg}
}

// Describe asks the oracle about the request's frame. Blank answers come back
// as narration.NoDescription rather than as an error.
func (s *Service) Describe(ctx context.Context, req scene.AnalysisRequest) (string, error) {
	if s == nil || s.backend == nil {
		return "", ErrOracleUnavailable
	}
	if req.Frame.Empty() {
		return "", ErrNoFrame
	}

	g, ok := s.guides.FindByID(req.GuideID)
	if !ok {
		if g, ok = s.guides.FindByID(guide.DefaultID); !ok {
			return "", fmt.Errorf("%w: %s", ErrGuideNotFound, req.GuideID)
		}
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	prompt := BuildPrompt(g, req, s.cfg)
	started := time.Now()
	text, err := s.backend.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%s oracle: %w", s.backend.Name(), err)
	}

	log.Printf("[oracle] %s %s request=%s took=%s length=%d", s.backend.Name(), req.Origin, req.ID, time.Since(started).Round(time.Millisecond), len(text))
	return narration.Normalize(text), nil
}
