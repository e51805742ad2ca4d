package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

const enrichMaxRunes = 1000

// Enricher дополняет материалы без описания текстом статьи.
type Enricher struct {
	http *http.Client
}

// NewEnricher создаёт обогатитель.
func NewEnricher(timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Enricher{http: &http.Client{Timeout: timeout}}
}

// Enrich возвращает материал с заполненным описанием. Материал с описанием
// или без ссылки возвращается как есть.
func (e *Enricher) Enrich(ctx context.Context, item domain.ContentItem) (domain.ContentItem, error) {
	if strings.TrimSpace(item.Description) != "" || item.URL == "" {
		return item, nil
	}
	parsed, err := url.Parse(item.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return item, fmt.Errorf("invalid URL: %s", item.URL)
	}
	start := time.Now()
	text, err := e.extract(ctx, parsed)
	metrics.ObserveNetworkRequest("readability", "extract", parsed.Hostname(), start, err)
	if err != nil {
		return item, err
	}
	item.Description = clipRunes(text, enrichMaxRunes)
	return item, nil
}

func (e *Enricher) extract(ctx context.Context, pageURL *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	article, err := readability.FromReader(io.LimitReader(resp.Body, 4<<20), pageURL)
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}
	return strings.Join(strings.Fields(article.TextContent), " "), nil
}

func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
