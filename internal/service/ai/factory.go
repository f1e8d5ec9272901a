package ai

import (
	"context"
	"log"
	"net/http"

	"github.com/zhouzirui/scene-guide/backend/internal/config"
	"github.com/zhouzirui/scene-guide/backend/internal/model/guide"
)

// NewFromConfig builds the service for the configured provider: a raw
// chat-completions endpoint for azure/openai, an eino Ark model otherwise.
func NewFromConfig(ctx context.Context, cfg *config.Config, guides guide.Store) (*Service, error) {
	if cfg.Oracle.UsesHTTP() {
		backend, err := NewHTTPBackend(cfg.Oracle, &http.Client{})
		if err != nil {
			return nil, err
		}
		log.Printf("[oracle] using %s endpoint", backend.Name())
		return NewService(backend, guides, cfg.Oracle), nil
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("[oracle] using ark model %s", cfg.AI.Model)
	return NewService(NewChatModelBackend(chatModel, config.ProviderArk), guides, cfg.Oracle), nil
}
