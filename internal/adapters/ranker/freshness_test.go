package ranker

import (
	"strings"
	"testing"
	"time"

	"autopost/internal/domain"
)

func TestRankPrefersFreshAndDescribed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewFreshness(24)
	r.now = func() time.Time { return now }

	items := []domain.ContentItem{
		{URL: "https://a/old", PublishedAt: now.Add(-30 * time.Hour)},
		{URL: "https://a/fresh-short", PublishedAt: now.Add(-time.Hour)},
		{URL: "https://a/fresh-long", PublishedAt: now.Add(-time.Hour), Description: strings.Repeat("слово ", 100)},
		{URL: "https://a/undated"},
	}
	ranked := r.Rank(items)
	if len(ranked) != 4 {
		t.Fatalf("ожидали 4 элемента, получили %d", len(ranked))
	}
	if ranked[0].URL != "https://a/fresh-long" || ranked[1].URL != "https://a/fresh-short" {
		t.Fatalf("неожиданный порядок: %s, %s", ranked[0].URL, ranked[1].URL)
	}
	if items[0].URL != "https://a/old" {
		t.Fatalf("исходный срез не должен меняться")
	}
}

func TestRankKeepsOrderOnTies(t *testing.T) {
	r := NewFreshness(0)
	items := []domain.ContentItem{{URL: "https://a/1"}, {URL: "https://a/2"}}
	ranked := r.Rank(items)
	if ranked[0].URL != "https://a/1" {
		t.Fatalf("при равных оценках порядок сохраняется")
	}
}
