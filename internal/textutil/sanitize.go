package textutil

import (
	"strings"
)

// Sanitize исправляет типичные артефакты обрыва генерации: незакрытые
// кавычки, несбалансированные скобки, оборванную markdown-разметку.
// Функция тотальна (определена для любой строки, включая пустую),
// детерминирована и идемпотентна. Это best-effort починка, не парсер.
func Sanitize(text string) string {
	if text == "" {
		return text
	}

	// Прогоняем правила до неподвижной точки: обрезка хвоста (правило
	// фигурных скобок) может съесть кавычку или скобку, дописанную
	// предыдущим правилом. Лимит итераций страхует от патологий.
	for i := 0; i < 16; i++ {
		fixed := sanitizePass(text)
		if fixed == text {
			return fixed
		}
		text = fixed
	}
	return text
}

func sanitizePass(text string) string {
	fixed := closeDanglingQuote(text)
	fixed = balanceSquareBrackets(fixed)
	fixed = stripUnpairedAsterisk(fixed)
	fixed = trimCurlyOverflow(fixed)
	fixed = stripTrailingQuoteRuns(fixed)
	return fixed
}

// closeDanglingQuote закрывает оборванную цитату: если в тексте нечетное
// число кавычек и за последней кавычкой еще идет содержимое, дописываем
// закрывающую кавычку в конец (оборачиваем хвостовой фрагмент).
func closeDanglingQuote(text string) string {
	if strings.Count(text, `"`)%2 == 0 {
		return text
	}
	last := strings.LastIndex(text, `"`)
	if last >= 0 && last < len(text)-1 {
		return text + `"`
	}
	// Кавычка — последний символ: хвостового фрагмента нет, оставляем как есть.
	return text
}

// balanceSquareBrackets выравнивает баланс квадратных скобок.
// Недостающие закрывающие дописываются в конец; лишние закрывающие
// удаляются, если перед другой ']' нет открывающей '[' между ними.
func balanceSquareBrackets(text string) string {
	opens := strings.Count(text, "[")
	closes := strings.Count(text, "]")

	if opens > closes {
		return text + strings.Repeat("]", opens-closes)
	}

	for surplus := closes - opens; surplus > 0; surplus-- {
		removed := false
		prev := -1 // позиция предыдущей ']' без '[' после нее
		for i, r := range text {
			switch r {
			case '[':
				prev = -1
			case ']':
				if prev >= 0 {
					text = text[:prev] + text[prev+1:]
					removed = true
				} else {
					prev = i
				}
			}
			if removed {
				break
			}
		}
		if !removed {
			break
		}
	}
	return text
}

// stripUnpairedAsterisk убирает одиночную хвостовую '*' при нечетном
// количестве звездочек (оборванное markdown-выделение).
func stripUnpairedAsterisk(text string) string {
	if strings.Count(text, "*")%2 == 1 && strings.HasSuffix(text, "*") {
		return text[:len(text)-1]
	}
	return text
}

// trimCurlyOverflow обрезает хвост строки на величину перевеса '}' над '{'.
// Повторяем, пока перевес не исчезнет: обрезанный хвост мог не содержать
// скобок, и тогда одна итерация не восстанавливает баланс.
func trimCurlyOverflow(text string) string {
	for {
		surplus := strings.Count(text, "}") - strings.Count(text, "{")
		if surplus <= 0 {
			return text
		}
		runes := []rune(text)
		if surplus > len(runes) {
			surplus = len(runes)
		}
		text = string(runes[:len(runes)-surplus])
		if text == "" {
			return text
		}
	}
}

// stripTrailingQuoteRuns убирает хвостовые повторы кавычек и обрывки
// вида `"}` — типичный мусор на границе оборванного JSON.
func stripTrailingQuoteRuns(text string) string {
	for {
		switch {
		case strings.HasSuffix(text, `""`):
			text = text[:len(text)-1]
		case strings.HasSuffix(text, `"}`):
			text = text[:len(text)-2]
		default:
			return text
		}
	}
}
