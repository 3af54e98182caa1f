package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
)

// Tracker — чистый наблюдатель прогресса. Обновляется синхронно на
// каждом переходе оркестратора и ничего в пайплайне не блокирует:
// публикация обновлений best-effort, ошибки только логируются.
type Tracker struct {
	storyID   uuid.UUID
	userID    uint64
	publisher messaging.ProgressPublisher
	logger    *zap.Logger

	mu       sync.Mutex
	snapshot models.ProgressSnapshot
}

func NewTracker(storyID uuid.UUID, userID uint64, totalPages int, publisher messaging.ProgressPublisher, logger *zap.Logger) *Tracker {
	return &Tracker{
		storyID:   storyID,
		userID:    userID,
		publisher: publisher,
		logger:    logger.Named("ProgressTracker"),
		snapshot: models.ProgressSnapshot{
			Stage:      models.StageIdeation,
			TotalPages: totalPages,
		},
	}
}

// Snapshot возвращает текущее состояние для UI.
func (t *Tracker) Snapshot() models.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

func (t *Tracker) SetStage(stage models.StageKind) {
	t.mu.Lock()
	t.snapshot.Stage = stage
	snap := t.snapshot
	t.mu.Unlock()

	t.publish(models.UpdateTypeStoryProgress, snap, nil)
}

func (t *Tracker) SetPage(index int) {
	t.mu.Lock()
	t.snapshot.Stage = models.StagePages
	t.snapshot.CurrentPageIndex = index
	snap := t.snapshot
	t.mu.Unlock()

	t.publish(models.UpdateTypeStoryProgress, snap, nil)
}

func (t *Tracker) MarkDone() {
	t.mu.Lock()
	t.snapshot.IsDone = true
	snap := t.snapshot
	t.mu.Unlock()

	t.publish(models.UpdateTypeStoryDone, snap, nil)
}

func (t *Tracker) MarkFailed(details string) {
	t.mu.Lock()
	t.snapshot.IsFailed = true
	snap := t.snapshot
	t.mu.Unlock()

	t.publish(models.UpdateTypeStoryFailed, snap, &details)
}

func (t *Tracker) publish(updateType string, snap models.ProgressSnapshot, errDetails *string) {
	if t.publisher == nil {
		return
	}
	update := models.ClientStoryUpdate{
		StoryID:      t.storyID,
		UserID:       t.userID,
		UpdateType:   updateType,
		Stage:        snap.Stage,
		PageIndex:    snap.CurrentPageIndex,
		TotalPages:   snap.TotalPages,
		ErrorDetails: errDetails,
	}
	if err := t.publisher.PublishClientUpdate(context.Background(), update); err != nil {
		t.logger.Warn("Failed to publish client update",
			zap.String("storyID", t.storyID.String()),
			zap.String("updateType", updateType),
			zap.Error(err))
	}
}
