package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"storybook-server/internal/models"
)

// PipelineRun — эфемерное состояние одного прогона генерации. Живет
// от запроса до терминального состояния и нигде не сохраняется, кроме
// самой истории, которую мутирует.
type PipelineRun struct {
	StoryID uuid.UUID
	UserID  uint64

	// Идемпотентная защелка: прогон стартует не больше одного раза.
	started atomic.Bool

	mu             sync.Mutex
	creditsSpent   int64
	stepsCompleted map[models.StepKind]int
}

func NewPipelineRun(storyID uuid.UUID, userID uint64) *PipelineRun {
	return &PipelineRun{
		StoryID:        storyID,
		UserID:         userID,
		stepsCompleted: make(map[models.StepKind]int),
	}
}

// Begin взводит защелку. false означает, что прогон уже стартовал и
// повторный вызов надо отвергнуть.
func (r *PipelineRun) Begin() bool {
	return r.started.CompareAndSwap(false, true)
}

// AddSpent учитывает списанные за шаг кредиты.
func (r *PipelineRun) AddSpent(amount int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creditsSpent += amount
}

// CreditsSpent возвращает сумму, списанную за этот прогон. Именно она
// возвращается целиком при провале пайплайна.
func (r *PipelineRun) CreditsSpent() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creditsSpent
}

// MarkCompleted отмечает успешно завершенный шаг.
func (r *PipelineRun) MarkCompleted(step models.StepKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stepsCompleted[step]++
}

// CompletedCount возвращает число завершений шага за прогон.
func (r *PipelineRun) CompletedCount(step models.StepKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepsCompleted[step]
}
