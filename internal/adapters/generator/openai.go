package generator

import (
	"context"
	"errors"
	"strings"

	"autopost/internal/domain"
	openai "autopost/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var errEmptyCompletion = errors.New("empty completion")

const systemPrompt = "Ты редактор технических новостей. Пиши коротко, по фактам из материала, без выдумок."

// OpenAI реализует domain.TextCompletion через Chat Completions.
type OpenAI struct {
	client chatClient
	model  string
}

var _ domain.TextCompletion = (*OpenAI)(nil)

// NewOpenAI создаёт генератор.
func NewOpenAI(client chatClient, model string) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	return &OpenAI{client: client, model: model}
}

// Complete отправляет промпт и возвращает текст ответа. Любой сбой
// заворачивается в domain.GenerationUnavailable.
func (g *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.4,
		MaxTokens:   400,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ResponseFormat{Type: openai.ResponseFormatJSONObject},
	})
	if err != nil {
		return "", &domain.GenerationUnavailable{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &domain.GenerationUnavailable{Err: errEmptyCompletion}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &domain.GenerationUnavailable{Err: errEmptyCompletion}
	}
	return content, nil
}
