package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"storybook-server/internal/credits"
	"storybook-server/internal/locks"
	"storybook-server/internal/models"
	"storybook-server/internal/repository"
	"storybook-server/internal/retry"
	"storybook-server/internal/textutil"
)

// Orchestrator — конечный автомат прогона генерации:
// Ideation → Structure → Covers → Pages → Done, терминальный Failed.
// На старте решает по сохраненной истории, какие шаги уже закрыты
// (и оплачены), и не перегенерирует их. Провал любого шага после
// ретраев валит весь прогон: кредиты прогона возвращаются целиком,
// уже сохраненный частичный контент остается для будущего резюме.
type Orchestrator struct {
	steps   *Steps
	ledger  credits.Ledger
	repo    repository.StoryRepository
	lock    locks.RunLock
	retryer *retry.Executor
	logger  *zap.Logger

	redevelopIdeaOnResume bool
	imageConcurrency      int
}

func NewOrchestrator(
	steps *Steps,
	ledger credits.Ledger,
	repo repository.StoryRepository,
	lock locks.RunLock,
	retryer *retry.Executor,
	redevelopIdeaOnResume bool,
	imageConcurrency int,
	logger *zap.Logger,
) *Orchestrator {
	if imageConcurrency < 1 {
		imageConcurrency = 1
	}
	return &Orchestrator{
		steps:                 steps,
		ledger:                ledger,
		repo:                  repo,
		lock:                  lock,
		retryer:               retryer,
		logger:                logger.Named("Orchestrator"),
		redevelopIdeaOnResume: redevelopIdeaOnResume,
		imageConcurrency:      imageConcurrency,
	}
}

// Run выполняет один прогон пайплайна для истории. Прогон стартует не
// больше одного раза (защелка) и не больше одного на историю во всей
// системе (серверный лок по storyId).
func (o *Orchestrator) Run(ctx context.Context, run *PipelineRun, story *models.Story, tracker *Tracker) error {
	if !run.Begin() {
		return models.ErrRunAlreadyStarted
	}

	acquired, err := o.lock.Acquire(ctx, story.ID)
	if err != nil {
		return fmt.Errorf("не удалось взять лок прогона: %w", err)
	}
	if !acquired {
		return models.ErrGenerationInProgress
	}
	// Лок снимаем даже при отмене контекста.
	defer func() {
		if err := o.lock.Release(context.Background(), story.ID); err != nil {
			o.logger.Warn("Failed to release run lock", zap.String("storyID", story.ID.String()), zap.Error(err))
		}
	}()

	log := o.logger.With(zap.String("storyID", story.ID.String()), zap.Uint64("userID", run.UserID))
	log.Info("Pipeline run started", zap.Int("length", story.Length))

	buffer := NewContentBuffer(story)

	if err := o.execute(ctx, run, story, buffer, tracker); err != nil {
		o.failRun(ctx, run, story, buffer, tracker, err)
		return err
	}

	tracker.MarkDone()
	runsTotal.WithLabelValues("done").Inc()
	log.Info("Pipeline run finished", zap.Int64("creditsSpent", run.CreditsSpent()))
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, run *PipelineRun, story *models.Story, buffer *ContentBuffer, tracker *Tracker) error {
	// Резюме: сохраненный контент с хоть каким-то прогрессом означает,
	// что заполненные индексы уже оплачены и пропускаются.
	resumed := len(story.Content) == story.TotalSlots() && story.HasAnyProgress()

	// --- Ideation ---
	tracker.SetStage(models.StageIdeation)
	refinedIdea := story.Idea
	if !resumed || o.redevelopIdeaOnResume {
		// Развернутая идея не персистится, поэтому на резюме шаг
		// повторяется (и повторно оплачивается), если не отключено.
		refined, err := o.steps.DevelopIdea(ctx, run, story)
		if err != nil {
			return err
		}
		refinedIdea = refined
	}

	// --- Structure ---
	tracker.SetStage(models.StageStructure)
	var index *models.StoryIndex
	if resumed && buffer.AllBodyTextsFilled() {
		// Структура восстанавливается из уже сгенерированных страниц,
		// без обращения к модели и без списаний.
		index = &models.StoryIndex{
			Title:         buffer.Title(),
			PageSummaries: buffer.BodyTexts(),
		}
	} else {
		built, err := o.steps.BuildIndex(ctx, run, story, refinedIdea)
		if err != nil {
			return err
		}
		index = built
		buffer.SetTitle(index.Title)
		if err := o.persist(ctx, run, buffer); err != nil {
			return err
		}
	}

	// --- Covers ---
	tracker.SetStage(models.StageCovers)
	if err := o.renderCoverIfMissing(ctx, run, story, buffer, refinedIdea, true); err != nil {
		return err
	}
	if err := o.renderCoverIfMissing(ctx, run, story, buffer, refinedIdea, false); err != nil {
		return err
	}

	// --- Pages ---
	// Тексты страниц идут строго последовательно, задачи на картинки
	// копятся и выполняются параллельным пулом после цикла.
	resumeIdx := buffer.FirstUnfilledBodyIndex()
	var imageTasks []imageTask

	for i := resumeIdx; i <= story.Length; i++ {
		tracker.SetPage(i)

		if !buffer.Page(i).HasText() {
			text := textutil.Sanitize(pageSummary(index, i))
			buffer.SetText(i, text)
			// Текст сохраняется сразу: UI показывает его до картинки.
			if err := o.persist(ctx, run, buffer); err != nil {
				return err
			}
		}

		if !buffer.Page(i).HasImage() {
			prompt, err := o.steps.BuildImagePrompt(ctx, run, story, PromptKindPage, buffer.Page(i).Text, "")
			if err != nil {
				return err
			}
			buffer.SetImagePrompt(i, prompt)
			imageTasks = append(imageTasks, imageTask{index: i, prompt: prompt})
		}
	}

	if err := o.renderPageImages(ctx, run, story, buffer, imageTasks); err != nil {
		return err
	}

	// --- Done ---
	return o.persist(ctx, run, buffer)
}

// renderCoverIfMissing генерирует обложку (с платным подшагом промпта),
// только если ее картинка еще пуста.
func (o *Orchestrator) renderCoverIfMissing(ctx context.Context, run *PipelineRun, story *models.Story, buffer *ContentBuffer, refinedIdea string, front bool) error {
	coverIdx := 0
	extra := "Передняя обложка книги."
	if !front {
		coverIdx = story.BackCoverIndex()
		extra = "Задняя обложка книги."
	}

	if buffer.Page(coverIdx).HasImage() {
		return nil
	}

	prompt, err := o.steps.BuildImagePrompt(ctx, run, story, PromptKindCover, refinedIdea, extra)
	if err != nil {
		return err
	}
	buffer.SetImagePrompt(coverIdx, prompt)

	url, err := o.steps.RenderCover(ctx, run, story, prompt, front)
	if err != nil {
		return err
	}
	buffer.SetImageURL(coverIdx, url)

	return o.persist(ctx, run, buffer)
}

type imageTask struct {
	index  int
	prompt string
}

// renderPageImages выполняет накопленные задачи ограниченным пулом и
// ждет барьер "все завершились или любая упала". Записи в буфер
// индексированы, порядок завершения значения не имеет.
func (o *Orchestrator) renderPageImages(ctx context.Context, run *PipelineRun, story *models.Story, buffer *ContentBuffer, tasks []imageTask) error {
	if len(tasks) == 0 {
		return nil
	}

	sem := make(chan struct{}, o.imageConcurrency)
	errCh := make(chan error, len(tasks))
	var wg sync.WaitGroup

	for _, task := range tasks {
		wg.Add(1)
		go func(t imageTask) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			url, err := o.steps.RenderPageImage(ctx, run, story, t.index, t.prompt)
			if err != nil {
				errCh <- err
				return
			}
			buffer.SetImageURL(t.index, url)

			if err := o.persist(ctx, run, buffer); err != nil {
				errCh <- err
			}
		}(task)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// persist пишет полный снапшот буфера. Потеря записи — потеря уже
// оплаченного контента, поэтому персист ретраится и при исчерпании
// попыток валит прогон.
func (o *Orchestrator) persist(ctx context.Context, run *PipelineRun, buffer *ContentBuffer) error {
	snapshot := buffer.Snapshot()
	err := o.retryer.Do(ctx, "persist_story_content", func(ctx context.Context) error {
		return o.repo.UpdateContent(ctx, run.StoryID, snapshot)
	})
	if err != nil {
		return fmt.Errorf("персист контента истории: %w", err)
	}
	return nil
}

// failRun — терминальный провал: полный возврат кредитов прогона,
// ошибка наружу, сохраненный частичный контент остается на диске.
func (o *Orchestrator) failRun(ctx context.Context, run *PipelineRun, story *models.Story, buffer *ContentBuffer, tracker *Tracker, cause error) {
	log := o.logger.With(zap.String("storyID", story.ID.String()), zap.Uint64("userID", run.UserID))
	log.Error("Pipeline run failed", zap.Error(cause), zap.Int64("creditsSpent", run.CreditsSpent()))

	// Снапшот пробуем сохранить best-effort: что успели сгенерировать,
	// то останется для резюме.
	if err := o.persist(context.Background(), run, buffer); err != nil {
		log.Warn("Failed to persist partial content after failure", zap.Error(err))
	}

	if spent := run.CreditsSpent(); spent > 0 {
		// Возврат идет даже при отмененном контексте: списания должны
		// свестись к нулю.
		if _, err := o.ledger.Refund(context.Background(), run.UserID, spent, "pipeline_failed"); err != nil {
			log.Error("Failed to refund credits after pipeline failure",
				zap.Int64("amount", spent), zap.Error(err))
		} else {
			creditsRefundedTotal.Add(float64(spent))
		}
	}

	tracker.MarkFailed(cause.Error())
	runsTotal.WithLabelValues("failed").Inc()
}

// pageSummary возвращает описание для тел-страницы i (1-базный индекс).
func pageSummary(index *models.StoryIndex, i int) string {
	if index == nil || i-1 < 0 || i-1 >= len(index.PageSummaries) {
		return ""
	}
	return index.PageSummaries[i-1]
}
