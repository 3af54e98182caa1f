package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"storybook-server/internal/ai"
	"storybook-server/internal/models"
	"storybook-server/internal/textutil"
)

// PromptKind различает назначение промпта для генератора изображений.
type PromptKind string

const (
	PromptKindCover PromptKind = "cover"
	PromptKindPage  PromptKind = "page"
)

// Capabilities — узкие интерфейсы внешних генераторов, через которые
// работает пайплайн. Каждый вызов платный снаружи и заменяемый в тестах.
type Capabilities interface {
	// DevelopIdea разворачивает короткую идею пользователя в развернутый
	// текст, который служит входом для построения структуры.
	DevelopIdea(ctx context.Context, userID string, length int, rawIdea string, characters string) (string, error)

	// BuildStoryIndex строит заголовок и по одному описанию на страницу.
	BuildStoryIndex(ctx context.Context, userID string, refinedIdea string, characters string, length int) (*models.StoryIndex, error)

	// BuildImagePrompt собирает текст промпта для генератора изображений.
	BuildImagePrompt(ctx context.Context, userID string, kind PromptKind, sourceText string, characters string, extra string) (string, error)

	// RenderCoverImage генерирует изображение обложки и возвращает URL.
	RenderCoverImage(ctx context.Context, prompt string, title string, reference string) (string, error)

	// RenderPageImage генерирует иллюстрацию страницы и возвращает URL.
	RenderPageImage(ctx context.Context, prompt string, reference string) (string, error)
}

const (
	developIdeaSystemPrompt = `Ты детский писатель. Разверни короткую идею пользователя в связный замысел иллюстрированной книги: сюжетная арка, настроение, ключевые образы. Ответ — обычный текст без разметки.`

	buildIndexSystemPrompt = `Ты редактор детских книг. По замыслу книги составь заголовок и ровно по одному короткому описанию сюжета на каждую страницу. Ответ строго в формате JSON: {"title": "...", "pageSummaries": ["...", ...]}.`

	coverPromptSystemPrompt = `Ты составляешь промпты для генератора изображений. По тексту составь один насыщенный визуальный промпт для обложки книги. Ответ — только текст промпта.`

	pagePromptSystemPrompt = `Ты составляешь промпты для генератора изображений. По тексту страницы составь один визуальный промпт для иллюстрации. Ответ — только текст промпта.`
)

// Compile-time check
var _ Capabilities = (*aiCapabilities)(nil)

type aiCapabilities struct {
	text   ai.TextClient
	images ai.ImageClient
	logger *zap.Logger
}

func NewAICapabilities(text ai.TextClient, images ai.ImageClient, logger *zap.Logger) Capabilities {
	return &aiCapabilities{
		text:   text,
		images: images,
		logger: logger.Named("Capabilities"),
	}
}

func (c *aiCapabilities) DevelopIdea(ctx context.Context, userID string, length int, rawIdea string, characters string) (string, error) {
	userInput := fmt.Sprintf("Идея: %s\nСтраниц: %d", rawIdea, length)
	if characters != "" {
		userInput += "\nГерои: " + characters
	}

	refined, usage, err := c.text.GenerateText(ctx, userID, developIdeaSystemPrompt, userInput, ai.GenerationParams{})
	if err != nil {
		return "", fmt.Errorf("develop idea: %w", err)
	}
	c.logger.Debug("Idea developed", zap.Int("totalTokens", usage.TotalTokens))
	return textutil.Sanitize(refined), nil
}

func (c *aiCapabilities) BuildStoryIndex(ctx context.Context, userID string, refinedIdea string, characters string, length int) (*models.StoryIndex, error) {
	userInput := fmt.Sprintf("Замысел: %s\nСтраниц: %s", refinedIdea, strconv.Itoa(length))
	if characters != "" {
		userInput += "\nГерои: " + characters
	}

	raw, usage, err := c.text.GenerateText(ctx, userID, buildIndexSystemPrompt, userInput, ai.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("build story index: %w", err)
	}
	c.logger.Debug("Story index received", zap.Int("totalTokens", usage.TotalTokens))

	// Модель может вернуть JSON в code fence или с оборванным хвостом.
	cleaned := textutil.ExtractJSONContent(raw)
	var index models.StoryIndex
	if err := json.Unmarshal([]byte(cleaned), &index); err != nil {
		return nil, fmt.Errorf("build story index: некорректный JSON от модели: %w", err)
	}
	if index.Title == "" || len(index.PageSummaries) == 0 {
		return nil, fmt.Errorf("build story index: пустой заголовок или описания страниц")
	}
	if len(index.PageSummaries) < length {
		return nil, fmt.Errorf("build story index: модель вернула %d описаний вместо %d", len(index.PageSummaries), length)
	}
	return &index, nil
}

func (c *aiCapabilities) BuildImagePrompt(ctx context.Context, userID string, kind PromptKind, sourceText string, characters string, extra string) (string, error) {
	systemPrompt := pagePromptSystemPrompt
	if kind == PromptKindCover {
		systemPrompt = coverPromptSystemPrompt
	}

	userInput := sourceText
	if characters != "" {
		userInput += "\nГерои: " + characters
	}
	if extra != "" {
		userInput += "\n" + extra
	}

	prompt, _, err := c.text.GenerateText(ctx, userID, systemPrompt, userInput, ai.GenerationParams{})
	if err != nil {
		return "", fmt.Errorf("build image prompt (%s): %w", kind, err)
	}
	return textutil.Sanitize(prompt), nil
}

func (c *aiCapabilities) RenderCoverImage(ctx context.Context, prompt string, title string, reference string) (string, error) {
	fullPrompt := prompt
	if title != "" {
		fullPrompt = fmt.Sprintf("%s, book cover for \"%s\"", prompt, title)
	}
	url, err := c.images.RenderImage(ctx, fullPrompt, "2:3", reference)
	if err != nil {
		return "", fmt.Errorf("render cover image: %w", err)
	}
	return url, nil
}

func (c *aiCapabilities) RenderPageImage(ctx context.Context, prompt string, reference string) (string, error) {
	url, err := c.images.RenderImage(ctx, prompt, "2:3", reference)
	if err != nil {
		return "", fmt.Errorf("render page image: %w", err)
	}
	return url, nil
}
