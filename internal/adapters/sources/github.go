package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

const (
	githubSourceName = "github"
	defaultGitHubAPI = "https://api.github.com"
)

// GitHub ищет репозитории через Search API.
type GitHub struct {
	http    *http.Client
	baseURL string
	token   string
	query   string
	perPage int
}

var _ domain.Source = (*GitHub)(nil)

// NewGitHub создаёт источник. Пустой baseURL означает публичный API.
func NewGitHub(baseURL, token, query string, timeout time.Duration) *GitHub {
	if baseURL == "" {
		baseURL = defaultGitHubAPI
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &GitHub{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		query:   query,
		perPage: 20,
	}
}

// Name возвращает имя источника.
func (g *GitHub) Name() string { return githubSourceName }

type githubSearchResponse struct {
	Items []struct {
		FullName    string    `json:"full_name"`
		HTMLURL     string    `json:"html_url"`
		Description string    `json:"description"`
		Language    string    `json:"language"`
		Stars       int       `json:"stargazers_count"`
		CreatedAt   time.Time `json:"created_at"`
		PushedAt    time.Time `json:"pushed_at"`
	} `json:"items"`
}

// Fetch возвращает репозитории, отсортированные по звёздам.
func (g *GitHub) Fetch(ctx context.Context) ([]domain.ContentItem, error) {
	start := time.Now()
	items, err := g.fetch(ctx)
	metrics.ObserveNetworkRequest("github", "search_repositories", githubSourceName, start, err)
	if err != nil {
		return nil, err
	}
	metrics.SourceItemsFetched.WithLabelValues(githubSourceName).Add(float64(len(items)))
	return items, nil
}

func (g *GitHub) fetch(ctx context.Context) ([]domain.ContentItem, error) {
	params := url.Values{}
	params.Set("q", g.query)
	params.Set("sort", "stars")
	params.Set("order", "desc")
	params.Set("per_page", strconv.Itoa(g.perPage))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search/repositories?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github: unexpected status %d", resp.StatusCode)
	}
	var payload githubSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("github: decode response: %w", err)
	}

	out := make([]domain.ContentItem, 0, len(payload.Items))
	for _, repo := range payload.Items {
		if repo.FullName == "" {
			continue
		}
		description := strings.TrimSpace(repo.Description)
		if repo.Language != "" {
			description = strings.TrimSpace(fmt.Sprintf("%s (%s, %d★)", description, repo.Language, repo.Stars))
		}
		published := repo.PushedAt
		if published.IsZero() {
			published = repo.CreatedAt
		}
		out = append(out, domain.ContentItem{
			Title:       repo.FullName,
			URL:         repo.HTMLURL,
			Source:      githubSourceName,
			PublishedAt: published.UTC(),
			Description: description,
		})
	}
	return out, nil
}
