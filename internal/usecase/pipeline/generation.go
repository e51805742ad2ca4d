package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"autopost/internal/domain"
)

const promptDescriptionRunes = 600

type generationPayload struct {
	Text     string   `json:"text"`
	Hashtags []string `json:"hashtags"`
}

func buildPrompt(item domain.ContentItem) string {
	var b strings.Builder
	b.WriteString("Напиши короткий пост для X о материале ниже: до 200 символов, без ссылки и без хэштегов в тексте.\n")
	b.WriteString(`Верни JSON {"text": "...", "hashtags": ["#..."]} с 1-3 хэштегами.` + "\n\n")
	fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(item.Title))
	if item.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", item.Source)
	}
	if desc := strings.TrimSpace(item.Description); desc != "" {
		runes := []rune(desc)
		if len(runes) > promptDescriptionRunes {
			desc = string(runes[:promptDescriptionRunes])
		}
		fmt.Fprintf(&b, "Description: %s\n", desc)
	}
	return b.String()
}

// parseGeneration разбирает ответ модели. Если это не JSON, хэштеги в конце
// текста отделяются от тела.
func parseGeneration(raw string) (string, []string) {
	cleaned := stripFence(strings.TrimSpace(raw))
	var payload generationPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil && strings.TrimSpace(payload.Text) != "" {
		return strings.TrimSpace(payload.Text), payload.Hashtags
	}

	tokens := strings.Fields(cleaned)
	cut := len(tokens)
	for cut > 1 && isHashtag(tokens[cut-1]) {
		cut--
	}
	return strings.Join(tokens[:cut], " "), tokens[cut:]
}

func isHashtag(token string) bool {
	return len(token) > 1 && strings.HasPrefix(token, "#")
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
