package ai

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
)

const systemPrompt = "You are an expert equity trading analyst. Answer with a single JSON object and nothing else."

// chatModel is the part of the eino chat model we use.
type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ChatBackend adapts an eino chat model to Backend.
type ChatBackend struct {
	name  string
	model chatModel
}

// ChatOptions configures the OpenAI compatible and DeepSeek backends.
type ChatOptions struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

func NewOpenAI(ctx context.Context, opts ChatOptions) (*ChatBackend, error) {
	if opts.APIKey == "" {
		return nil, ErrBackendAbsent
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:   opts.BaseURL,
		APIKey:    opts.APIKey,
		Model:     opts.Model,
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create openai chat model")
	}
	return &ChatBackend{name: "openai", model: cm}, nil
}

func NewDeepSeek(ctx context.Context, opts ChatOptions) (*ChatBackend, error) {
	if opts.APIKey == "" {
		return nil, ErrBackendAbsent
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
		APIKey:    opts.APIKey,
		Model:     opts.Model,
		BaseURL:   opts.BaseURL,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create deepseek chat model")
	}
	return &ChatBackend{name: "deepseek", model: cm}, nil
}

// Generate sends the prompt as a user message under a fixed system prompt.
func (b *ChatBackend) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := b.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(ErrTimeout, err.Error())
		}
		return "", errors.Wrapf(ErrBackendUnavailable, "%s: %v", b.name, err)
	}
	if msg == nil {
		return "", errors.Wrapf(ErrMalformedResponse, "%s returned no message", b.name)
	}
	return msg.Content, nil
}
