package generator

import (
	"context"
	"strings"

	"autopost/internal/domain"
)

// Stub собирает текст без обращения к модели. Используется, когда ключ API не задан.
type Stub struct{}

var _ domain.TextCompletion = Stub{}

// NewStub создаёт заглушку.
func NewStub() Stub { return Stub{} }

// Complete берёт заголовок из строки "Title:" промпта.
func (Stub) Complete(_ context.Context, prompt string) (string, error) {
	for _, line := range strings.Split(prompt, "\n") {
		if title, ok := strings.CutPrefix(strings.TrimSpace(line), "Title:"); ok {
			if title = strings.TrimSpace(title); title != "" {
				return "Новое: " + title, nil
			}
		}
	}
	return "Новый материал", nil
}
