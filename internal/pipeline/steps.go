package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"storybook-server/internal/credits"
	"storybook-server/internal/models"
	"storybook-server/internal/repository"
	"storybook-server/internal/retry"
)

// Steps — платные шаги генерации. Каждый шаг: списать кредиты (до
// вызова, пессимистично), дернуть внешний генератор через ретраер,
// записать результат в буфер. Исчерпанные ретраи уходят в журнал
// ошибок; возврат кредитов за весь прогон делает оркестратор.
type Steps struct {
	ledger  credits.Ledger
	caps    Capabilities
	retryer *retry.Executor
	sink    repository.ErrorSink
	costs   CostTable
	logger  *zap.Logger
}

func NewSteps(ledger credits.Ledger, caps Capabilities, retryer *retry.Executor, sink repository.ErrorSink, costs CostTable, logger *zap.Logger) *Steps {
	return &Steps{
		ledger:  ledger,
		caps:    caps,
		retryer: retryer,
		sink:    sink,
		costs:   costs,
		logger:  logger.Named("Steps"),
	}
}

// spend списывает стоимость шага и учитывает ее в прогоне. Отказ
// леджера — жесткий стоп без ретраев.
func (s *Steps) spend(ctx context.Context, run *PipelineRun, step models.StepKind, cost int64) error {
	if cost == 0 {
		return nil
	}
	if _, err := s.ledger.Spend(ctx, run.UserID, cost, string(step)); err != nil {
		return fmt.Errorf("шаг %s: %w", step, err)
	}
	run.AddSpent(cost)
	creditsSpentTotal.Add(float64(cost))
	return nil
}

func (s *Steps) markDone(run *PipelineRun, step models.StepKind) {
	run.MarkCompleted(step)
	stepsTotal.WithLabelValues(string(step), "success").Inc()
}

// recordFailure пишет структурированную запись в журнал ошибок. Сама
// запись best-effort: ее провал не подменяет исходную ошибку шага.
func (s *Steps) recordFailure(ctx context.Context, run *PipelineRun, step models.StepKind, stepErr error, payload map[string]string) {
	rec := &models.GenerationErrorRecord{
		UserID:  run.UserID,
		StoryID: run.StoryID,
		Step:    step,
		Message: stepErr.Error(),
		Payload: payload,
	}
	if err := s.sink.Record(ctx, rec); err != nil {
		s.logger.Warn("Error sink write failed", zap.String("step", string(step)), zap.Error(err))
	}
	stepsTotal.WithLabelValues(string(step), "failure").Inc()
}

// DevelopIdea — шаг развития идеи. Всегда платный: развернутый текст
// идеи отдельно не сохраняется.
func (s *Steps) DevelopIdea(ctx context.Context, run *PipelineRun, story *models.Story) (string, error) {
	if err := s.spend(ctx, run, models.StepIdeation, s.costs.Ideation); err != nil {
		return "", err
	}

	refined, err := retry.DoValue(ctx, s.retryer, "develop_idea", func(ctx context.Context) (string, error) {
		return s.caps.DevelopIdea(ctx, userIDLabel(run), story.Length, story.Idea, story.ProtagonistsSummary)
	})
	if err != nil {
		s.recordFailure(ctx, run, models.StepIdeation, err, map[string]string{"idea": story.Idea})
		return "", err
	}
	s.markDone(run, models.StepIdeation)
	return refined, nil
}

// BuildIndex — шаг построения структуры: заголовок и описания страниц.
func (s *Steps) BuildIndex(ctx context.Context, run *PipelineRun, story *models.Story, refinedIdea string) (*models.StoryIndex, error) {
	if err := s.spend(ctx, run, models.StepStructure, s.costs.Structure); err != nil {
		return nil, err
	}

	index, err := retry.DoValue(ctx, s.retryer, "build_story_index", func(ctx context.Context) (*models.StoryIndex, error) {
		idx, err := s.caps.BuildStoryIndex(ctx, userIDLabel(run), refinedIdea, story.ProtagonistsSummary, story.Length)
		if err != nil {
			return nil, err
		}
		// Структура обязана покрыть каждую тел-страницу, иначе дальше
		// уйдут платные генерации иллюстраций к пустым текстам.
		if len(idx.PageSummaries) < story.Length {
			return nil, fmt.Errorf("структура покрывает %d страниц из %d", len(idx.PageSummaries), story.Length)
		}
		return idx, nil
	})
	if err != nil {
		s.recordFailure(ctx, run, models.StepStructure, err, map[string]string{"refined_idea": refinedIdea})
		return nil, err
	}
	s.markDone(run, models.StepStructure)
	return index, nil
}

// BuildImagePrompt — платный подшаг сборки промпта (обложка или страница).
func (s *Steps) BuildImagePrompt(ctx context.Context, run *PipelineRun, story *models.Story, kind PromptKind, sourceText string, extra string) (string, error) {
	if err := s.spend(ctx, run, models.StepPromptBuild, s.costs.PromptBuild); err != nil {
		return "", err
	}

	prompt, err := retry.DoValue(ctx, s.retryer, "build_image_prompt", func(ctx context.Context) (string, error) {
		return s.caps.BuildImagePrompt(ctx, userIDLabel(run), kind, sourceText, story.ProtagonistsSummary, extra)
	})
	if err != nil {
		s.recordFailure(ctx, run, models.StepPromptBuild, err, map[string]string{
			"kind":        string(kind),
			"source_text": sourceText,
		})
		return "", err
	}
	s.markDone(run, models.StepPromptBuild)
	return prompt, nil
}

// RenderCover — генерация обложки. front выбирает цену и имя шага.
func (s *Steps) RenderCover(ctx context.Context, run *PipelineRun, story *models.Story, prompt string, front bool) (string, error) {
	step := models.StepFrontCover
	cost := s.costs.FrontCover
	reference := fmt.Sprintf("%s_cover_front", story.ID)
	if !front {
		step = models.StepBackCover
		cost = s.costs.BackCover
		reference = fmt.Sprintf("%s_cover_back", story.ID)
	}

	if err := s.spend(ctx, run, step, cost); err != nil {
		return "", err
	}

	url, err := retry.DoValue(ctx, s.retryer, string(step), func(ctx context.Context) (string, error) {
		return s.caps.RenderCoverImage(ctx, prompt, story.Title, reference)
	})
	if err != nil {
		s.recordFailure(ctx, run, step, err, map[string]string{"prompt": prompt})
		return "", err
	}
	s.markDone(run, step)
	return url, nil
}

// RenderPageImage — генерация иллюстрации страницы по готовому промпту.
func (s *Steps) RenderPageImage(ctx context.Context, run *PipelineRun, story *models.Story, pageIndex int, prompt string) (string, error) {
	if err := s.spend(ctx, run, models.StepPageImage, s.costs.PageImage); err != nil {
		return "", err
	}

	reference := fmt.Sprintf("%s_page_%d", story.ID, pageIndex)
	url, err := retry.DoValue(ctx, s.retryer, "render_page_image", func(ctx context.Context) (string, error) {
		return s.caps.RenderPageImage(ctx, prompt, reference)
	})
	if err != nil {
		s.recordFailure(ctx, run, models.StepPageImage, err, map[string]string{
			"prompt":     prompt,
			"page_index": fmt.Sprintf("%d", pageIndex),
		})
		return "", err
	}
	s.markDone(run, models.StepPageImage)
	return url, nil
}

func userIDLabel(run *PipelineRun) string {
	return fmt.Sprintf("%d", run.UserID)
}
