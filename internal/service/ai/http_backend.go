package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/zhouzirui/scene-guide/backend/internal/analysis/narration"
	"github.com/zhouzirui/scene-guide/backend/internal/config"
)

// APIError carries a non-2xx oracle response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error: %d - %s", e.Status, e.Body)
}

// HTTPBackend talks to an OpenAI-style chat-completions endpoint.
type HTTPBackend struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
	provider string
}

// NewHTTPBackend creates a backend for the azure or openai provider.
func NewHTTPBackend(cfg config.OracleConfig, client *http.Client) (*HTTPBackend, error) {
	if !cfg.UsesHTTP() {
		return nil, fmt.Errorf("provider %s is not served over raw http", cfg.Provider)
	}
	if cfg.APIKey == "" {
		if cfg.Provider == config.ProviderAzure {
			return nil, fmt.Errorf("%w: Azure OpenAI API key not configured", ErrOracleUnavailable)
		}
		return nil, fmt.Errorf("%w: API key not configured", ErrOracleUnavailable)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint not configured", ErrOracleUnavailable)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{
		client:   client,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		provider: cfg.Provider,
	}, nil
}

// Name identifies the provider in logs.
func (b *HTTPBackend) Name() string { return b.provider }

type chatContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *chatImagePart `json:"image_url,omitempty"`
}

type chatImagePart struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model,omitempty"`
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens"`
	Temperature         float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete posts one multimodal chat-completions request.
func (b *HTTPBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	body := chatRequest{
		Model: b.model,
		Messages: []chatMessage{
			{Role: "system", Content: p.SystemPrompt},
			{Role: "user", Content: []chatContentPart{
				{Type: "text", Text: p.UserPrompt},
				{Type: "image_url", ImageURL: &chatImagePart{URL: p.ImageURL, Detail: ImageDetail}},
			}},
		},
		MaxCompletionTokens: p.MaxOutputTokens,
		Temperature:         p.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.provider == config.ProviderAzure {
		req.Header.Set("api-key", b.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		log.Printf("[oracle] malformed response body: %v", err)
		return narration.NoDescription, nil
	}
	if len(parsed.Choices) == 0 {
		return narration.NoDescription, nil
	}
	return parsed.Choices[0].Message.Content, nil
}
