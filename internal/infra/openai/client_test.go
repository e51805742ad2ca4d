package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("неожиданный путь %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("нет заголовка авторизации")
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("тело запроса: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != ResponseFormatJSONObject {
			t.Errorf("ожидали json_object")
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"text\":\"hi\"}"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL+"/", time.Second)
	resp, err := c.CreateChatCompletion(context.Background(), ChatCompletionRequest{
		Model:          "gpt-test",
		Messages:       []ChatMessage{{Role: RoleUser, Content: "hello"}},
		ResponseFormat: &ResponseFormat{Type: ResponseFormatJSONObject},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != `{"text":"hi"}` {
		t.Fatalf("неожиданный ответ: %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Fatalf("нет статистики токенов: %+v", resp.Usage)
	}
}

func TestCreateChatCompletionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := NewClient("key", srv.URL, time.Second).CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests || apiErr.Message != "rate limited" {
		t.Fatalf("ожидали APIError 429, получили %v", err)
	}
}

func TestCreateChatCompletionWithoutKey(t *testing.T) {
	if _, err := NewClient("", "", 0).CreateChatCompletion(context.Background(), ChatCompletionRequest{}); err == nil {
		t.Fatalf("ожидали ошибку без ключа")
	}
}
