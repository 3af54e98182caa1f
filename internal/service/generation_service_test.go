package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/credits"
	"storybook-server/internal/locks"
	"storybook-server/internal/models"
	"storybook-server/internal/pipeline"
	"storybook-server/internal/retry"
	"storybook-server/internal/runs"
)

// --- fakes ---

type stubLedger struct {
	mu      sync.Mutex
	balance int64
}

func (l *stubLedger) GetBalance(ctx context.Context, userID uint64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

func (l *stubLedger) Authorize(ctx context.Context, userID uint64, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance < amount {
		return models.ErrInsufficientCredits
	}
	return nil
}

func (l *stubLedger) Spend(ctx context.Context, userID uint64, amount int64, reason string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance < amount {
		return l.balance, models.ErrInsufficientCredits
	}
	l.balance -= amount
	return l.balance, nil
}

func (l *stubLedger) Refund(ctx context.Context, userID uint64, amount int64, reason string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += amount
	return l.balance, nil
}

type memoryRepo struct {
	mu      sync.Mutex
	stories map[uuid.UUID]*models.Story
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{stories: make(map[uuid.UUID]*models.Story)}
}

func (r *memoryRepo) Create(ctx context.Context, story *models.Story) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(story.Content) == 0 {
		story.Content = make([]models.Page, story.TotalSlots())
	}
	clone := *story
	r.stories[story.ID] = &clone
	return nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[id]
	if !ok {
		return nil, models.ErrStoryNotFound
	}
	clone := *story
	return &clone, nil
}

func (r *memoryRepo) ListByAuthor(ctx context.Context, authorID uint64) ([]models.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Story
	for _, story := range r.stories {
		if story.AuthorID == authorID {
			out = append(out, *story)
		}
	}
	return out, nil
}

func (r *memoryRepo) UpdateContent(ctx context.Context, id uuid.UUID, patch *models.StoryContentPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[id]
	if !ok {
		return models.ErrStoryNotFound
	}
	if patch.Title != nil {
		story.Title = *patch.Title
	}
	story.Content = patch.Content
	story.ImagesPrompts = patch.ImagesPrompts
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id uuid.UUID, authorID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[id]
	if !ok || story.AuthorID != authorID {
		return models.ErrStoryNotFound
	}
	delete(r.stories, id)
	return nil
}

type stubSink struct{}

func (stubSink) Record(ctx context.Context, rec *models.GenerationErrorRecord) error { return nil }

// instantCaps генерирует все мгновенно и успешно.
type instantCaps struct{}

func (instantCaps) DevelopIdea(ctx context.Context, userID string, length int, rawIdea string, characters string) (string, error) {
	return "refined " + rawIdea, nil
}

func (instantCaps) BuildStoryIndex(ctx context.Context, userID string, refinedIdea string, characters string, length int) (*models.StoryIndex, error) {
	summaries := make([]string, length)
	for i := range summaries {
		summaries[i] = "page summary"
	}
	return &models.StoryIndex{Title: "Title", PageSummaries: summaries}, nil
}

func (instantCaps) BuildImagePrompt(ctx context.Context, userID string, kind pipeline.PromptKind, sourceText string, characters string, extra string) (string, error) {
	return "prompt", nil
}

func (instantCaps) RenderCoverImage(ctx context.Context, prompt string, title string, reference string) (string, error) {
	return "https://img.test/" + reference + ".jpg", nil
}

func (instantCaps) RenderPageImage(ctx context.Context, prompt string, reference string) (string, error) {
	return "https://img.test/" + reference + ".jpg", nil
}

// --- env ---

type serviceEnv struct {
	svc    GenerationService
	repo   *memoryRepo
	ledger *stubLedger
	runs   runs.Manager
}

func testConfig() *config.Config {
	return &config.Config{
		LowBalanceThreshold:   50,
		RedevelopIdeaOnResume: true,
		CostIdeation:          1,
		CostStructure:         1,
		CostFrontCover:        7,
		CostBackCover:         7,
		CostPromptBuild:       1,
		CostPageImage:         6,
	}
}

func newServiceEnv(t *testing.T, balance int64) *serviceEnv {
	t.Helper()

	cfg := testConfig()
	logger := zap.NewNop()
	ledger := &stubLedger{balance: balance}
	repo := newMemoryRepo()
	costs := pipeline.NewCostTable(cfg)

	retryer := retry.NewExecutor(2, time.Millisecond, logger)
	steps := pipeline.NewSteps(ledger, instantCaps{}, retryer, stubSink{}, costs, logger)
	orch := pipeline.NewOrchestrator(steps, ledger, repo, locks.NoopRunLock{}, retryer, cfg.RedevelopIdeaOnResume, 2, logger)

	runManager := runs.New(runs.Config{MaxRuns: 4})
	t.Cleanup(runManager.Close)

	makeTracker := func(story *models.Story) *pipeline.Tracker {
		return pipeline.NewTracker(story.ID, story.AuthorID, story.Length, nil, logger)
	}

	svc := NewGenerationService(repo, ledger, orch, runManager, costs, makeTracker, cfg, logger)
	return &serviceEnv{svc: svc, repo: repo, ledger: ledger, runs: runManager}
}

func createDraft(t *testing.T, env *serviceEnv, userID uint64, length int) *models.Story {
	t.Helper()
	story, err := env.svc.CreateStory(context.Background(), userID, CreateStoryInput{
		Idea:   "a hedgehog sails the ocean",
		Length: length,
	})
	require.NoError(t, err)
	return story
}

func waitForRunEnd(t *testing.T, env *serviceEnv, storyID uuid.UUID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, ok := env.runs.GetByStory(storyID)
		require.True(t, ok)
		if run.Status != runs.RunStatusPending && run.Status != runs.RunStatusRunning {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("прогон не завершился вовремя")
}

// --- tests ---

func TestCreateStory_Validation(t *testing.T) {
	env := newServiceEnv(t, 100)

	_, err := env.svc.CreateStory(context.Background(), 42, CreateStoryInput{Idea: "  ", Length: 6})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = env.svc.CreateStory(context.Background(), 42, CreateStoryInput{Idea: "ok", Length: 0})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	story, err := env.svc.CreateStory(context.Background(), 42, CreateStoryInput{Idea: "ok", Length: 6})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), story.AuthorID)
	assert.Equal(t, 6, story.Length)
}

func TestCreateStory_StampsTimestamps(t *testing.T) {
	env := newServiceEnv(t, 100)
	before := time.Now().UTC()

	story, err := env.svc.CreateStory(context.Background(), 42, CreateStoryInput{Idea: "ok", Length: 2})
	require.NoError(t, err)

	// ListByAuthor сортирует по created_at: нулевые отметки ломают порядок.
	assert.False(t, story.CreatedAt.IsZero())
	assert.False(t, story.CreatedAt.Before(before))
	assert.Equal(t, story.CreatedAt, story.UpdatedAt)

	persisted, err := env.repo.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, story.CreatedAt, persisted.CreatedAt)
}

func TestGetStory_OwnershipEnforced(t *testing.T) {
	env := newServiceEnv(t, 100)
	story := createDraft(t, env, 42, 4)

	_, err := env.svc.GetStory(context.Background(), story.ID, 999)
	assert.ErrorIs(t, err, models.ErrForbidden)

	got, err := env.svc.GetStory(context.Background(), story.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, story.ID, got.ID)
}

func TestStartGeneration_ProceedRunsToCompletion(t *testing.T) {
	env := newServiceEnv(t, 200)
	story := createDraft(t, env, 42, 6)

	result, err := env.svc.StartGeneration(context.Background(), story.ID, 42, false)
	require.NoError(t, err)
	assert.Equal(t, credits.DecisionProceed, result.Decision)
	assert.Equal(t, int64(60), result.RequiredCredits)
	require.NotEqual(t, uuid.UUID{}, result.RunID)

	waitForRunEnd(t, env, story.ID)

	run, ok := env.runs.GetByStory(story.ID)
	require.True(t, ok)
	assert.Equal(t, runs.RunStatusCompleted, run.Status)
	assert.Equal(t, int64(140), env.ledger.balance)

	stored, err := env.repo.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, "Title", stored.Title)
	for i, page := range stored.Content {
		assert.NotEmpty(t, page.ImageURL, "slot %d", i)
	}

	snap, err := env.svc.GetProgress(context.Background(), story.ID, 42)
	require.NoError(t, err)
	assert.True(t, snap.IsDone)
}

func TestStartGeneration_PurchaseRequired(t *testing.T) {
	env := newServiceEnv(t, 59)
	story := createDraft(t, env, 42, 6)

	result, err := env.svc.StartGeneration(context.Background(), story.ID, 42, false)
	require.NoError(t, err)
	assert.Equal(t, credits.DecisionPurchaseRequired, result.Decision)
	assert.Equal(t, uuid.UUID{}, result.RunID)

	// Прогон не стартовал, кредиты не тронуты.
	_, ok := env.runs.GetByStory(story.ID)
	assert.False(t, ok)
	assert.Equal(t, int64(59), env.ledger.balance)
}

func TestStartGeneration_ConfirmRequiredThenConfirmed(t *testing.T) {
	// 100 - 60 = 40 < 50: нужен явный confirm.
	env := newServiceEnv(t, 100)
	story := createDraft(t, env, 42, 6)

	result, err := env.svc.StartGeneration(context.Background(), story.ID, 42, false)
	require.NoError(t, err)
	assert.Equal(t, credits.DecisionConfirmRequired, result.Decision)
	assert.Equal(t, uuid.UUID{}, result.RunID)

	result, err = env.svc.StartGeneration(context.Background(), story.ID, 42, true)
	require.NoError(t, err)
	assert.Equal(t, credits.DecisionConfirmRequired, result.Decision)
	require.NotEqual(t, uuid.UUID{}, result.RunID)

	waitForRunEnd(t, env, story.ID)
	assert.Equal(t, int64(40), env.ledger.balance)
}

func TestStartGeneration_RefusedWhileRunActive(t *testing.T) {
	env := newServiceEnv(t, 500)
	story := createDraft(t, env, 42, 6)

	_, err := env.svc.StartGeneration(context.Background(), story.ID, 42, false)
	require.NoError(t, err)

	// Пока прогон не завершился, второй запуск отклоняется. Прогон
	// может успеть завершиться; тогда второй запуск легален.
	_, err = env.svc.StartGeneration(context.Background(), story.ID, 42, false)
	if err != nil {
		assert.ErrorIs(t, err, models.ErrGenerationInProgress)
	}
	waitForRunEnd(t, env, story.ID)
}

func TestStartGeneration_ResumeEstimatesOnlyRemainingWork(t *testing.T) {
	env := newServiceEnv(t, 200)
	story := createDraft(t, env, 42, 4)

	// Прерванное состояние: все, кроме картинок страниц 3 и 4.
	content := make([]models.Page, story.TotalSlots())
	content[0] = models.Page{ImageURL: "https://img.test/front.jpg"}
	content[5] = models.Page{ImageURL: "https://img.test/back.jpg"}
	for i := 1; i <= 4; i++ {
		content[i] = models.Page{Text: "text"}
	}
	content[1].ImageURL = "u1"
	content[2].ImageURL = "u2"
	require.NoError(t, env.repo.UpdateContent(context.Background(), story.ID, &models.StoryContentPatch{
		Content:       content,
		ImagesPrompts: make([]string, story.TotalSlots()),
	}))

	result, err := env.svc.StartGeneration(context.Background(), story.ID, 42, false)
	require.NoError(t, err)
	// 1 (идея) + 2*(1+6) = 15: структура и обложки уже оплачены.
	assert.Equal(t, int64(15), result.RequiredCredits)
	assert.Equal(t, credits.DecisionProceed, result.Decision)

	waitForRunEnd(t, env, story.ID)
	assert.Equal(t, int64(185), env.ledger.balance)
}

func TestDeleteStory_RefusedWhileRunActive(t *testing.T) {
	env := newServiceEnv(t, 500)
	story := createDraft(t, env, 42, 6)

	_, err := env.svc.StartGeneration(context.Background(), story.ID, 42, false)
	require.NoError(t, err)

	err = env.svc.DeleteStory(context.Background(), story.ID, 42)
	if err != nil {
		assert.ErrorIs(t, err, models.ErrGenerationInProgress)
	}

	waitForRunEnd(t, env, story.ID)
	require.NoError(t, env.svc.DeleteStory(context.Background(), story.ID, 42))
	_, err = env.svc.GetStory(context.Background(), story.ID, 42)
	assert.ErrorIs(t, err, models.ErrStoryNotFound)
}

func TestPruneTrackers_DropsEvictedRuns(t *testing.T) {
	env := newServiceEnv(t, 100)
	story := createDraft(t, env, 42, 2)

	res, err := env.svc.StartGeneration(context.Background(), story.ID, 42, false)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.RunID)
	waitForRunEnd(t, env, story.ID)

	impl, ok := env.svc.(*generationServiceImpl)
	require.True(t, ok)

	// Прогон еще в менеджере: трекер остается.
	env.svc.PruneTrackers()
	impl.mu.RLock()
	assert.Len(t, impl.trackers, 1)
	impl.mu.RUnlock()

	// После ретеншн-уборки трекер выбрасывается, а прогресс
	// восстанавливается из сохраненного контента.
	env.runs.Cleanup(0)
	env.svc.PruneTrackers()
	impl.mu.RLock()
	assert.Empty(t, impl.trackers)
	impl.mu.RUnlock()

	snap, err := env.svc.GetProgress(context.Background(), story.ID, 42)
	require.NoError(t, err)
	assert.True(t, snap.IsDone)
}

func TestGetProgress_FromPersistedStateAfterRestart(t *testing.T) {
	env := newServiceEnv(t, 100)
	story := createDraft(t, env, 42, 2)

	content := make([]models.Page, story.TotalSlots())
	content[0] = models.Page{ImageURL: "front"}
	content[1] = models.Page{Text: "t", ImageURL: "u"}
	content[2] = models.Page{Text: "t"} // картинка не готова
	content[3] = models.Page{ImageURL: "back"}
	require.NoError(t, env.repo.UpdateContent(context.Background(), story.ID, &models.StoryContentPatch{
		Content:       content,
		ImagesPrompts: make([]string, story.TotalSlots()),
	}))

	snap, err := env.svc.GetProgress(context.Background(), story.ID, 42)
	require.NoError(t, err)
	assert.False(t, snap.IsDone)
	assert.Equal(t, models.StagePages, snap.Stage)
	assert.Equal(t, 2, snap.CurrentPageIndex)
}
