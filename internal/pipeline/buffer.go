package pipeline

import (
	"sync"

	"storybook-server/internal/models"
)

// ContentBuffer — индексированный буфер страниц, который пайплайн
// мутирует во время прогона. Записи по индексам коммутативны: картинка
// страницы 3 не зависит от состояния страницы 2, поэтому параллельное
// завершение задач буфер не ломает. В хранилище всегда уходит полный
// снапшот, никогда — частичный дифф.
type ContentBuffer struct {
	mu      sync.Mutex
	title   string
	pages   []models.Page
	prompts []string
	length  int // количество тел-страниц (без обложек)
}

// NewContentBuffer строит буфер из персистентного состояния истории.
// Если сохраненный контент отсутствует или не совпадает по размеру,
// буфер начинается с чистого листа нужного размера.
func NewContentBuffer(story *models.Story) *ContentBuffer {
	total := story.TotalSlots()

	pages := make([]models.Page, total)
	if len(story.Content) == total {
		copy(pages, story.Content)
	}

	prompts := make([]string, total)
	if len(story.ImagesPrompts) == total {
		copy(prompts, story.ImagesPrompts)
	}

	return &ContentBuffer{
		title:   story.Title,
		pages:   pages,
		prompts: prompts,
		length:  story.Length,
	}
}

func (b *ContentBuffer) SetTitle(title string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.title = title
}

func (b *ContentBuffer) SetText(index int, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index >= 0 && index < len(b.pages) {
		b.pages[index].Text = text
	}
}

func (b *ContentBuffer) SetImageURL(index int, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index >= 0 && index < len(b.pages) {
		b.pages[index].ImageURL = url
	}
}

func (b *ContentBuffer) SetImagePrompt(index int, prompt string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index >= 0 && index < len(b.prompts) {
		b.prompts[index] = prompt
	}
}

// Page возвращает копию страницы по индексу.
func (b *ContentBuffer) Page(index int) models.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.pages) {
		return models.Page{}
	}
	return b.pages[index]
}

func (b *ContentBuffer) Title() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.title
}

// Snapshot возвращает полный снимок буфера для персиста.
func (b *ContentBuffer) Snapshot() *models.StoryContentPatch {
	b.mu.Lock()
	defer b.mu.Unlock()

	pages := make([]models.Page, len(b.pages))
	copy(pages, b.pages)
	prompts := make([]string, len(b.prompts))
	copy(prompts, b.prompts)

	title := b.title
	return &models.StoryContentPatch{
		Title:         &title,
		Content:       pages,
		ImagesPrompts: prompts,
	}
}

// AllBodyTextsFilled сообщает, есть ли текст у всех тел-страниц.
// Только тогда структуру можно восстановить локально при резюме, без
// обращения к модели: иначе пустым страницам неоткуда взять описания.
func (b *ContentBuffer) AllBodyTextsFilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 1; i <= b.length && i < len(b.pages); i++ {
		if !b.pages[i].HasText() {
			return false
		}
	}
	return b.length > 0
}

// BodyTexts возвращает тексты тел-страниц (индексы 1..length).
func (b *ContentBuffer) BodyTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	texts := make([]string, 0, b.length)
	for i := 1; i <= b.length && i < len(b.pages); i++ {
		texts = append(texts, b.pages[i].Text)
	}
	return texts
}

// FirstUnfilledBodyIndex — точка резюме: первый индекс тела, у которого
// пуст текст или картинка. Если все заполнено, возвращается 1.
func (b *ContentBuffer) FirstUnfilledBodyIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 1; i <= b.length && i < len(b.pages); i++ {
		if !b.pages[i].HasText() || !b.pages[i].HasImage() {
			return i
		}
	}
	return 1
}
