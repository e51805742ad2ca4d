package budget

import (
	"strings"

	"autopost/internal/domain"
)

// Limit — лимит символов публикации.
const Limit = 280

// DefaultSuffix добавляется к обрезанному тексту.
const DefaultSuffix = "..."

const urlSeparator = 2

// Validation — результат проверки длины.
type Validation struct {
	Valid     bool `json:"valid"`
	Length    int  `json:"length"`
	Remaining int  `json:"remaining"`
}

// EstimateLength оценивает длину поста: тело, пустая строка и ссылка, затем блок
// хэштегов. Пробел после последнего тега тоже учитывается.
func EstimateLength(body, url string, hashtags []string) int {
	length := GraphemeLength(body)
	if url != "" {
		length += urlSeparator + GraphemeLength(url)
	}
	if len(hashtags) > 0 {
		length++
		for _, tag := range hashtags {
			length += GraphemeLength(tag) + 1
		}
	}
	return length
}

// Validate проверяет, помещается ли пост в Limit.
func Validate(body, url string, hashtags []string) Validation {
	length := EstimateLength(body, url, hashtags)
	remaining := Limit - length
	if remaining < 0 {
		remaining = 0
	}
	return Validation{Valid: length <= Limit, Length: length, Remaining: remaining}
}

// ValidateDraft проверяет готовый черновик.
func ValidateDraft(d domain.TweetDraft) Validation {
	return Validate(d.Body, d.URL, d.Hashtags)
}

// Fit укладывает черновик в лимит. Сначала тело обрезается под резерв ссылки,
// затем по очереди отбрасываются хэштеги: все, первые два, первый, ни одного.
// Тело второй раз не режется; если не помогло, возвращается *domain.ValidationError.
func Fit(body, url string, hashtags []string) (domain.TweetDraft, Validation, error) {
	body = strings.TrimSpace(body)
	url = strings.TrimSpace(url)
	tags := NormalizeHashtags(hashtags)

	reserved := 0
	if url != "" {
		reserved = urlSeparator + GraphemeLength(url)
	}
	body = TruncateToLimit(body, Limit-reserved, DefaultSuffix)

	var last Validation
	for _, candidate := range degradations(tags) {
		last = Validate(body, url, candidate)
		if last.Valid {
			return domain.TweetDraft{Body: body, URL: url, Hashtags: candidate}, last, nil
		}
	}
	return domain.TweetDraft{Body: body, URL: url}, last, &domain.ValidationError{Length: last.Length, Limit: Limit}
}

func degradations(tags []string) [][]string {
	steps := [][]string{tags}
	if len(tags) > 2 {
		steps = append(steps, tags[:2])
	}
	if len(tags) > 1 {
		steps = append(steps, tags[:1])
	}
	if len(tags) > 0 {
		steps = append(steps, nil)
	}
	return steps
}

// NormalizeHashtags добавляет "#", убирает пробелы и повторы без учёта регистра.
func NormalizeHashtags(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		tag := strings.TrimSpace(v)
		tag = strings.Join(strings.Fields(tag), "")
		if tag == "" || tag == "#" {
			continue
		}
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
