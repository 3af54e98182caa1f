package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/credits"
	"storybook-server/internal/models"
	"storybook-server/internal/pipeline"
	"storybook-server/internal/repository"
	"storybook-server/internal/runs"
)

// CreateStoryInput — параметры создания черновика истории.
type CreateStoryInput struct {
	Idea                string
	ProtagonistsSummary string
	Length              int
}

// StartResult — итог попытки запуска генерации. Прогон стартует только
// при Decision == proceed; иначе UI показывает подтверждение или магазин.
type StartResult struct {
	Decision        credits.Decision `json:"decision"`
	RunID           uuid.UUID        `json:"run_id,omitempty"`
	RequiredCredits int64            `json:"required_credits"`
	Balance         int64            `json:"balance"`
}

// GenerationService defines the use-case surface of the storybook server:
// draft CRUD plus starting and observing generation runs.
type GenerationService interface {
	CreateStory(ctx context.Context, userID uint64, input CreateStoryInput) (*models.Story, error)
	GetStory(ctx context.Context, storyID uuid.UUID, userID uint64) (*models.Story, error)
	ListStories(ctx context.Context, userID uint64) ([]models.Story, error)
	DeleteStory(ctx context.Context, storyID uuid.UUID, userID uint64) error

	StartGeneration(ctx context.Context, storyID uuid.UUID, userID uint64, confirmed bool) (*StartResult, error)
	GetProgress(ctx context.Context, storyID uuid.UUID, userID uint64) (*models.ProgressSnapshot, error)

	// PruneTrackers drops in-memory progress trackers for runs already
	// evicted by the run manager's retention cleanup.
	PruneTrackers()
}

type generationServiceImpl struct {
	repo         repository.StoryRepository
	ledger       credits.Ledger
	orchestrator *pipeline.Orchestrator
	runs         runs.Manager
	costs        pipeline.CostTable
	cfg          *config.Config
	logger       *zap.Logger

	mu          sync.RWMutex
	trackers    map[uuid.UUID]*pipeline.Tracker // storyID -> трекер последнего прогона
	makeTracker func(story *models.Story) *pipeline.Tracker
}

// NewGenerationService creates a new instance of GenerationService.
func NewGenerationService(
	repo repository.StoryRepository,
	ledger credits.Ledger,
	orchestrator *pipeline.Orchestrator,
	runManager runs.Manager,
	costs pipeline.CostTable,
	makeTracker func(story *models.Story) *pipeline.Tracker,
	cfg *config.Config,
	logger *zap.Logger,
) GenerationService {
	return &generationServiceImpl{
		repo:         repo,
		ledger:       ledger,
		orchestrator: orchestrator,
		runs:         runManager,
		costs:        costs,
		cfg:          cfg,
		logger:       logger.Named("GenerationService"),
		trackers:     make(map[uuid.UUID]*pipeline.Tracker),
		makeTracker:  makeTracker,
	}
}

// CreateStory validates the input and persists a new draft with an empty
// content array sized for the requested length.
func (s *generationServiceImpl) CreateStory(ctx context.Context, userID uint64, input CreateStoryInput) (*models.Story, error) {
	idea := strings.TrimSpace(input.Idea)
	if idea == "" {
		return nil, fmt.Errorf("%w: idea is required", models.ErrInvalidInput)
	}
	if input.Length <= 0 {
		return nil, fmt.Errorf("%w: length must be positive", models.ErrInvalidInput)
	}

	now := time.Now().UTC()
	story := &models.Story{
		ID:                  uuid.New(),
		AuthorID:            userID,
		Idea:                idea,
		ProtagonistsSummary: strings.TrimSpace(input.ProtagonistsSummary),
		Length:              input.Length,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.repo.Create(ctx, story); err != nil {
		s.logger.Error("Failed to create story draft", zap.Uint64("userID", userID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Story draft created",
		zap.String("storyID", story.ID.String()),
		zap.Uint64("userID", userID),
		zap.Int("length", story.Length))
	return story, nil
}

// GetStory returns a story if it belongs to the given user.
func (s *generationServiceImpl) GetStory(ctx context.Context, storyID uuid.UUID, userID uint64) (*models.Story, error) {
	story, err := s.repo.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.AuthorID != userID {
		return nil, models.ErrForbidden
	}
	return story, nil
}

// ListStories returns all stories of the user, newest first.
func (s *generationServiceImpl) ListStories(ctx context.Context, userID uint64) ([]models.Story, error) {
	return s.repo.ListByAuthor(ctx, userID)
}

// DeleteStory removes the user's story. Deletion is refused while a
// generation run for the story is active.
func (s *generationServiceImpl) DeleteStory(ctx context.Context, storyID uuid.UUID, userID uint64) error {
	if run, ok := s.runs.GetByStory(storyID); ok &&
		(run.Status == runs.RunStatusPending || run.Status == runs.RunStatusRunning) {
		return models.ErrGenerationInProgress
	}
	return s.repo.Delete(ctx, storyID, userID)
}

// StartGeneration проверяет баланс, принимает решение о подтверждении и
// (при proceed) запускает прогон пайплайна в фоне.
func (s *generationServiceImpl) StartGeneration(ctx context.Context, storyID uuid.UUID, userID uint64, confirmed bool) (*StartResult, error) {
	log := s.logger.With(zap.String("storyID", storyID.String()), zap.Uint64("userID", userID))

	story, err := s.GetStory(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}

	if run, ok := s.runs.GetByStory(storyID); ok &&
		(run.Status == runs.RunStatusPending || run.Status == runs.RunStatusRunning) {
		return nil, models.ErrGenerationInProgress
	}

	required := s.estimateRunCost(story)

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		log.Error("Failed to read balance before run", zap.Error(err))
		return nil, err
	}

	decision := credits.ConfirmIfLow(balance, required, int64(s.cfg.LowBalanceThreshold))
	result := &StartResult{Decision: decision, RequiredCredits: required, Balance: balance}

	switch decision {
	case credits.DecisionPurchaseRequired:
		log.Info("Generation blocked: purchase required",
			zap.Int64("required", required), zap.Int64("balance", balance))
		return result, nil
	case credits.DecisionConfirmRequired:
		if !confirmed {
			log.Info("Generation awaits confirmation",
				zap.Int64("required", required), zap.Int64("balance", balance))
			return result, nil
		}
	}

	run := pipeline.NewPipelineRun(story.ID, userID)
	tracker := s.makeTracker(story)

	runID, err := s.runs.Submit(ctx, story.ID, func(runCtx context.Context) error {
		return s.orchestrator.Run(runCtx, run, story, tracker)
	})
	if err != nil {
		log.Error("Failed to submit generation run", zap.Error(err))
		if errors.Is(err, runs.ErrStoryBusy) {
			return nil, models.ErrGenerationInProgress
		}
		return nil, err
	}

	s.mu.Lock()
	s.trackers[story.ID] = tracker
	s.mu.Unlock()

	result.RunID = runID
	log.Info("Generation run submitted",
		zap.String("runID", runID.String()),
		zap.Int64("required", required),
		zap.Int64("balance", balance))
	return result, nil
}

// PruneTrackers выбрасывает трекеры историй, чьи прогоны уже удалены
// менеджером по ретеншену: прогресс таких историй дальше
// восстанавливается из сохраненного контента.
func (s *generationServiceImpl) PruneTrackers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for storyID := range s.trackers {
		if _, ok := s.runs.GetByStory(storyID); !ok {
			delete(s.trackers, storyID)
		}
	}
}

// GetProgress возвращает прогресс активного прогона, а при его
// отсутствии восстанавливает терминальное состояние из сохраненного
// контента.
func (s *generationServiceImpl) GetProgress(ctx context.Context, storyID uuid.UUID, userID uint64) (*models.ProgressSnapshot, error) {
	story, err := s.GetStory(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	tracker, ok := s.trackers[storyID]
	s.mu.RUnlock()
	if ok {
		snap := tracker.Snapshot()
		return &snap, nil
	}

	snap := snapshotFromStory(story)
	return &snap, nil
}

// estimateRunCost считает предстоящие списания по сохраненному
// состоянию истории: уже оплаченные и сохраненные шаги не учитываются.
func (s *generationServiceImpl) estimateRunCost(story *models.Story) int64 {
	if len(story.Content) != story.TotalSlots() || !story.HasAnyProgress() {
		return s.costs.TotalForFreshRun(story.Length)
	}

	var total int64
	if s.cfg.RedevelopIdeaOnResume {
		total += s.costs.Ideation
	}

	allTexts := true
	for i := 1; i <= story.Length; i++ {
		if !story.Content[i].HasText() {
			allTexts = false
			break
		}
	}
	if !allTexts {
		total += s.costs.Structure
	}

	if !story.Content[0].HasImage() {
		total += s.costs.PromptBuild + s.costs.FrontCover
	}
	if !story.Content[story.BackCoverIndex()].HasImage() {
		total += s.costs.PromptBuild + s.costs.BackCover
	}

	for i := 1; i <= story.Length; i++ {
		if !story.Content[i].HasImage() {
			total += s.costs.PromptBuild + s.costs.PageImage
		}
	}
	return total
}

// snapshotFromStory восстанавливает прогресс по персистентному контенту
// после рестарта сервера, когда трекера в памяти уже нет.
func snapshotFromStory(story *models.Story) models.ProgressSnapshot {
	snap := models.ProgressSnapshot{
		Stage:      models.StageIdeation,
		TotalPages: story.Length,
	}
	if len(story.Content) != story.TotalSlots() {
		return snap
	}

	done := story.Content[0].HasImage() && story.Content[story.BackCoverIndex()].HasImage()
	for i := 1; i <= story.Length; i++ {
		if !story.Content[i].HasText() || !story.Content[i].HasImage() {
			done = false
			snap.Stage = models.StagePages
			snap.CurrentPageIndex = i
			break
		}
	}
	if done {
		snap.Stage = models.StagePages
		snap.CurrentPageIndex = story.Length
		snap.IsDone = true
	}
	return snap
}
