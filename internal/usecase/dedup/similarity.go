package dedup

import (
	"strings"
	"unicode/utf8"
)

const (
	minTitleTokenLen   = 4
	minCommonTokens    = 3
	contentShingleSize = 3
)

// titleTokens режет заголовок по пробелам и оставляет слова длиннее трёх символов.
func titleTokens(title string) map[string]struct{} {
	fields := strings.Fields(Normalize(title))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTitleTokenLen {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// titleOverlap возвращает число общих токенов и их долю от большего набора.
func titleOverlap(left, right map[string]struct{}) (int, float64) {
	if len(left) == 0 || len(right) == 0 {
		return 0, 0
	}
	common := 0
	for token := range left {
		if _, ok := right[token]; ok {
			common++
		}
	}
	larger := len(left)
	if len(right) > larger {
		larger = len(right)
	}
	return common, float64(common) / float64(larger)
}

// shingles строит множество символьных n-грамм нормализованного текста.
func shingles(text string) map[string]struct{} {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return nil
	}
	runes := []rune(normalized)
	if len(runes) < contentShingleSize {
		return map[string]struct{}{normalized: {}}
	}
	set := make(map[string]struct{}, len(runes)-contentShingleSize+1)
	for i := 0; i+contentShingleSize <= len(runes); i++ {
		set[string(runes[i:i+contentShingleSize])] = struct{}{}
	}
	return set
}

// jaccard считает меру Жаккара для двух множеств.
func jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	union := len(left) + len(right) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
