package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// ChatModelBackend drives an eino chat model, used for the Ark provider.
type ChatModelBackend struct {
	chatModel model.BaseChatModel
	template  prompt.ChatTemplate
	name      string
}

// NewChatModelBackend wraps an eino chat model.
func NewChatModelBackend(chatModel model.BaseChatModel, name string) *ChatModelBackend {
	return &ChatModelBackend{
		chatModel: chatModel,
		template: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage("{system}"),
			schema.UserMessage("{query}"),
		),
		name: name,
	}
}

// Name identifies the provider in logs.
func (b *ChatModelBackend) Name() string { return b.name }

// Complete renders the prompt template, attaches the frame to the user turn
// and generates a single reply.
func (b *ChatModelBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	messages, err := b.buildMessages(ctx, p)
	if err != nil {
		return "", err
	}

	resp, err := b.chatModel.Generate(ctx, messages,
		model.WithMaxTokens(p.MaxOutputTokens),
		model.WithTemperature(p.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

func (b *ChatModelBackend) buildMessages(ctx context.Context, p Prompt) ([]*schema.Message, error) {
	messages, err := b.template.Format(ctx, map[string]any{
		"system": p.SystemPrompt,
		"query":  p.UserPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}

	user := messages[len(messages)-1]
	user.MultiContent = []schema.ChatMessagePart{
		{Type: schema.ChatMessagePartTypeText, Text: user.Content},
		{
			Type: schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{
				URL:    p.ImageURL,
				Detail: schema.ImageURLDetailLow,
			},
		},
	}
	user.Content = ""
	return messages, nil
}
