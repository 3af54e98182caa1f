package textutil

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	jsonBlockRegex = regexp.MustCompile("(?s)```json\\s*([\\s\\S]*?)\\s*```")
	anyBlockRegex  = regexp.MustCompile("(?s)```\\s*([\\s\\S]*?)\\s*```")
)

// isValidJSON проверяет, можно ли распарсить строку как JSON.
func isValidJSON(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}

// processPotentialJSON пытается привести строку к валидному JSON
// (trim, балансировка скобок через Sanitize).
func processPotentialJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if isValidJSON(trimmed) {
		return trimmed
	}
	repaired := Sanitize(trimmed)
	// Sanitize не дописывает недостающие '}', а для оборванного JSON это
	// самый частый дефект.
	if deficit := strings.Count(repaired, "{") - strings.Count(repaired, "}"); deficit > 0 {
		repaired += strings.Repeat("}", deficit)
	}
	if isValidJSON(repaired) {
		return repaired
	}
	return ""
}

// ExtractJSONContent вытаскивает JSON-объект из сырого ответа модели:
// сначала из блока ```json ... ```, потом из любого ``` ... ```, потом
// между первой '{' и последней '}'.
func ExtractJSONContent(rawText string) string {
	rawText = strings.TrimSpace(rawText)

	matches := jsonBlockRegex.FindStringSubmatch(rawText)
	if len(matches) > 1 {
		if result := processPotentialJSON(matches[1]); result != "" {
			return result
		}
	}

	matches = anyBlockRegex.FindStringSubmatch(rawText)
	if len(matches) > 1 {
		if result := processPotentialJSON(matches[1]); result != "" {
			return result
		}
	}

	firstBrace := strings.Index(rawText, "{")
	lastBrace := strings.LastIndex(rawText, "}")
	if firstBrace != -1 && lastBrace > firstBrace {
		if result := processPotentialJSON(rawText[firstBrace : lastBrace+1]); result != "" {
			return result
		}
	}
	if firstBrace != -1 {
		// Оборванный объект без единой закрывающей '}': чиним хвост.
		if result := processPotentialJSON(rawText[firstBrace:]); result != "" {
			return result
		}
		return strings.TrimSpace(rawText[firstBrace:])
	}

	return ""
}
