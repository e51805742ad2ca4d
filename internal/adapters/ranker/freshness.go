package ranker

import (
	"sort"
	"strings"
	"time"

	"autopost/internal/domain"
)

// Freshness применяет эвристический скоринг к кандидатам на публикацию.
type Freshness struct {
	MaxFreshnessHours float64
	now               func() time.Time
}

// NewFreshness создаёт ранжировщик.
func NewFreshness(maxFreshnessHours float64) *Freshness {
	if maxFreshnessHours <= 0 {
		maxFreshnessHours = 48
	}
	return &Freshness{MaxFreshnessHours: maxFreshnessHours, now: time.Now}
}

// Rank упорядочивает материалы по убыванию оценки. Исходный срез не меняется.
func (r *Freshness) Rank(items []domain.ContentItem) []domain.ContentItem {
	type scored struct {
		item  domain.ContentItem
		score float64
	}
	now := r.now().UTC()
	list := make([]scored, 0, len(items))
	for _, it := range items {
		list = append(list, scored{item: it, score: r.score(it, now)})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
	out := make([]domain.ContentItem, len(list))
	for i, s := range list {
		out[i] = s.item
	}
	return out
}

func (r *Freshness) score(it domain.ContentItem, now time.Time) float64 {
	freshScore := 0.0
	if !it.PublishedAt.IsZero() {
		age := now.Sub(it.PublishedAt).Hours()
		if age < 0 {
			age = 0
		}
		freshScore = 1 - minFloat(age/r.MaxFreshnessHours, 1)
	}
	words := float64(len(strings.Fields(it.Description)))
	hasLink := 0.0
	if it.URL != "" {
		hasLink = 1
	}
	return 0.6*freshScore + 0.3*minFloat(words/100, 1) + 0.1*hasLink
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
