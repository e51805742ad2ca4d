package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"autopost/internal/infra/metrics"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client выполняет Chat Completions запросы.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient создаёт клиента OpenAI. Таймаут запроса задаёт вызывающий через ctx,
// здесь только страховочный лимит HTTP-клиента.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout + 5*time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// ChatCompletionRequest описывает тело запроса.
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatMessage представляет сообщение в диалоге.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ResponseFormat задаёт формат ответа.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ResponseFormatJSONObject просит вернуть объект JSON.
const ResponseFormatJSONObject = "json_object"

// ChatCompletionResponse описывает ответ модели.
type ChatCompletionResponse struct {
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *Usage                 `json:"usage,omitempty"`
}

// ChatCompletionChoice содержит сообщение модели.
type ChatCompletionChoice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// Usage описывает расход токенов.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError описывает ответ API с кодом ошибки.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openai: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("openai: status %d: %s", e.Status, e.Message)
}

// CreateChatCompletion вызывает /chat/completions.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	start := time.Now()
	resp, err := c.createChatCompletion(ctx, req)
	metrics.ObserveNetworkRequest("openai", "chat_completions", req.Model, start, err)
	if err != nil {
		return ChatCompletionResponse{}, err
	}
	if resp.Usage != nil {
		metrics.ObserveLLMGeneration(req.Model, time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	}
	return resp, nil
}

func (c *Client) createChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	if c.apiKey == "" {
		return ChatCompletionResponse{}, fmt.Errorf("openai: api key is empty")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("openai: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &payload) == nil {
			apiErr.Message = payload.Error.Message
		}
		return ChatCompletionResponse{}, apiErr
	}
	var completion ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("openai: decode response: %w", err)
	}
	return completion, nil
}
