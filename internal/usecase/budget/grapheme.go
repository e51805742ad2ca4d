package budget

import "github.com/rivo/uniseg"

// GraphemeLength считает воспринимаемые пользователем символы: эмодзи, флаг
// или буква с комбинируемыми знаками дают единицу.
func GraphemeLength(s string) int {
	if s == "" {
		return 0
	}
	return uniseg.GraphemeClusterCount(s)
}

// TruncateToLimit обрезает текст до maxChars графем вместе с suffix.
// Если suffix не помещается, возвращает пустую строку.
func TruncateToLimit(text string, maxChars int, suffix string) string {
	if GraphemeLength(text) <= maxChars {
		return text
	}
	room := maxChars - GraphemeLength(suffix)
	if room <= 0 {
		return ""
	}
	out := make([]byte, 0, len(text))
	count := 0
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		if count+1 > room {
			break
		}
		out = append(out, g.Str()...)
		count++
	}
	return string(out) + suffix
}
