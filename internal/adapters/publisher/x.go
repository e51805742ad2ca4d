package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

const (
	platformX      = "x"
	defaultXAPIURL = "https://api.twitter.com"
)

// X публикует посты через X API v2.
type X struct {
	http    *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
}

var _ domain.Publisher = (*X)(nil)

// NewX создаёт клиента. postsPerMinute <= 0 отключает ограничение частоты.
func NewX(token, baseURL string, postsPerMinute float64) *X {
	if baseURL == "" {
		baseURL = defaultXAPIURL
	}
	limit := rate.Inf
	if postsPerMinute > 0 {
		limit = rate.Limit(postsPerMinute / 60)
	}
	return &X{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		limiter: rate.NewLimiter(limit, 1),
	}
}

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// Publish отправляет текст. Ошибки заворачиваются в domain.PublishError.
func (x *X) Publish(ctx context.Context, text string) (domain.PublishResult, error) {
	start := time.Now()
	id, err := x.publish(ctx, text)
	metrics.ObserveNetworkRequest("x_api", "create_tweet", platformX, start, err)
	metrics.ObservePublish(platformX, err)
	if err != nil {
		return domain.PublishResult{}, &domain.PublishError{Platform: platformX, Err: err}
	}
	return domain.PublishResult{ID: id}, nil
}

func (x *X) publish(ctx context.Context, text string) (string, error) {
	if x.token == "" {
		return "", errors.New("bearer token is empty")
	}
	if err := x.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	body, err := json.Marshal(tweetRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.token)

	resp, err := x.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var parsed tweetResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= 300 {
		detail := parsed.Detail
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, detail)
	}
	if parsed.Data.ID == "" {
		return "", errors.New("response without post id")
	}
	return parsed.Data.ID, nil
}
