package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

const userAgent = "autopost/1.0"

// RSS читает RSS/Atom ленту.
type RSS struct {
	http   *http.Client
	parser *gofeed.Parser
	feed   string
	name   string
}

var _ domain.Source = (*RSS)(nil)

// NewRSS создаёт источник. Имя источника — хост ленты без www.
func NewRSS(feedURL string, timeout time.Duration) (*RSS, error) {
	parsed, err := url.Parse(strings.TrimSpace(feedURL))
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid feed url %q", feedURL)
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &RSS{
		http:   &http.Client{Timeout: timeout},
		parser: gofeed.NewParser(),
		feed:   parsed.String(),
		name:   strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www."),
	}, nil
}

// Name возвращает имя источника.
func (r *RSS) Name() string { return r.name }

// Fetch скачивает ленту и переводит элементы в ContentItem.
func (r *RSS) Fetch(ctx context.Context) ([]domain.ContentItem, error) {
	start := time.Now()
	items, err := r.fetch(ctx)
	metrics.ObserveNetworkRequest("rss", "fetch_feed", r.name, start, err)
	if err != nil {
		return nil, err
	}
	metrics.SourceItemsFetched.WithLabelValues(r.name).Add(float64(len(items)))
	return items, nil
}

func (r *RSS) fetch(ctx context.Context) ([]domain.ContentItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.feed, nil)
	if err != nil {
		return nil, fmt.Errorf("rss: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss: do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss: unexpected status %d", resp.StatusCode)
	}
	feed, err := r.parser.Parse(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("rss: parse feed: %w", err)
	}

	out := make([]domain.ContentItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		title := strings.TrimSpace(it.Title)
		link := strings.TrimSpace(it.Link)
		if title == "" && link == "" {
			continue
		}
		item := domain.ContentItem{
			Title:       title,
			URL:         link,
			Source:      r.name,
			Description: plainText(coalesce(it.Description, it.Content)),
		}
		switch {
		case it.PublishedParsed != nil:
			item.PublishedAt = it.PublishedParsed.UTC()
		case it.UpdatedParsed != nil:
			item.PublishedAt = it.UpdatedParsed.UTC()
		}
		out = append(out, item)
	}
	return out, nil
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
