package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager определяет интерфейс для управления фоновыми прогонами генерации
type Manager interface {
	Submit(ctx context.Context, storyID uuid.UUID, runFunc RunFunc) (uuid.UUID, error)
	Get(runID uuid.UUID) (*Run, error)
	GetByStory(storyID uuid.UUID) (*Run, bool)
	Cancel(runID uuid.UUID) error
	Cleanup(age time.Duration)
	Close()
	Shutdown(ctx context.Context) error
}

// RunFunc представляет функцию прогона, выполняемую в фоне
type RunFunc func(ctx context.Context) error

// RunStatus представляет статус прогона
type RunStatus string

// Возможные статусы прогонов
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ErrTooManyRuns возвращается при превышении лимита активных прогонов.
var ErrTooManyRuns = errors.New("превышено максимальное количество активных прогонов")

// ErrStoryBusy возвращается, когда по истории уже идет прогон.
var ErrStoryBusy = errors.New("по этой истории уже выполняется прогон")

// Run представляет фоновый прогон генерации одной истории
type Run struct {
	ID        uuid.UUID
	StoryID   uuid.UUID
	Status    RunStatus
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
	Cancel    context.CancelFunc
}

func (r *Run) active() bool {
	return r.Status == RunStatusPending || r.Status == RunStatusRunning
}

// Config содержит конфигурацию менеджера прогонов
type Config struct {
	MaxRuns int
}

type manager struct {
	runs    map[uuid.UUID]*Run
	byStory map[uuid.UUID]uuid.UUID // storyID -> активный runID
	mu      sync.RWMutex
	maxRuns int
	closing chan struct{}
	wg      sync.WaitGroup
}

var _ Manager = (*manager)(nil)

// New создает новый менеджер прогонов
func New(cfg Config) Manager {
	maxRuns := cfg.MaxRuns
	if maxRuns <= 0 {
		maxRuns = 10
	}

	return &manager{
		runs:    make(map[uuid.UUID]*Run),
		byStory: make(map[uuid.UUID]uuid.UUID),
		maxRuns: maxRuns,
		closing: make(chan struct{}),
	}
}

// Submit создает и запускает новый прогон. По одной истории может идти
// не больше одного активного прогона.
func (m *manager) Submit(ctx context.Context, storyID uuid.UUID, runFunc RunFunc) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.closing:
		return uuid.UUID{}, errors.New("менеджер прогонов останавливается")
	default:
	}

	if runID, ok := m.byStory[storyID]; ok {
		if run, exists := m.runs[runID]; exists && run.active() {
			return uuid.UUID{}, ErrStoryBusy
		}
	}

	activeRuns := 0
	for _, run := range m.runs {
		if run.active() {
			activeRuns++
		}
	}
	if activeRuns >= m.maxRuns {
		return uuid.UUID{}, ErrTooManyRuns
	}

	runID := uuid.New()

	// Прогон живет в независимом контексте: отмена HTTP-запроса,
	// который его породил, не должна ронять генерацию.
	baseCtx, cancel := context.WithCancel(context.Background())
	runLogger := log.Ctx(ctx)
	runCtx := runLogger.WithContext(baseCtx)

	run := &Run{
		ID:        runID,
		StoryID:   storyID,
		Status:    RunStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Cancel:    cancel,
	}

	m.runs[runID] = run
	m.byStory[storyID] = runID

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		m.execute(runCtx, run, runFunc)
	}()

	return runID, nil
}

func (m *manager) execute(ctx context.Context, run *Run, runFunc RunFunc) {
	m.updateStatus(ctx, run, RunStatusRunning, "Прогон запущен")

	err := runFunc(ctx)

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		log.Ctx(ctx).Info().Str("runID", run.ID.String()).Msg("Контекст прогона был отменен")
		m.updateStatus(ctx, run, RunStatusCancelled, "Прогон отменен")
		return
	}

	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("runID", run.ID.String()).Msg("Прогон завершился с ошибкой")
		m.updateStatus(ctx, run, RunStatusFailed, fmt.Sprintf("Ошибка: %v", err))
		return
	}

	log.Ctx(ctx).Info().Str("runID", run.ID.String()).Msg("Прогон успешно выполнен")
	m.updateStatus(ctx, run, RunStatusCompleted, "Прогон успешно выполнен")
}

func (m *manager) updateStatus(ctx context.Context, run *Run, status RunStatus, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run.Status = status
	run.Message = message
	run.UpdatedAt = time.Now()

	log.Ctx(ctx).Info().
		Str("runID", run.ID.String()).
		Str("storyID", run.StoryID.String()).
		Str("newStatus", string(run.Status)).
		Str("message", run.Message).
		Msg("Статус прогона обновлен")
}

// Get возвращает информацию о прогоне по ID
func (m *manager) Get(runID uuid.UUID) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("прогон с ID %s не найден", runID)
	}
	return run, nil
}

// GetByStory возвращает последний прогон по истории
func (m *manager) GetByStory(storyID uuid.UUID) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runID, ok := m.byStory[storyID]
	if !ok {
		return nil, false
	}
	run, ok := m.runs[runID]
	return run, ok
}

// Cancel отменяет выполнение прогона
func (m *manager) Cancel(runID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("прогон с ID %s не найден", runID)
	}

	if !run.active() {
		return fmt.Errorf("невозможно отменить прогон в статусе %s", run.Status)
	}

	if run.Cancel != nil {
		run.Cancel()
	}

	run.Status = RunStatusCancelled
	run.Message = "Прогон отменен пользователем"
	run.UpdatedAt = time.Now()

	return nil
}

// Cleanup удаляет завершенные прогоны старше указанного возраста
func (m *manager) Cleanup(age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, run := range m.runs {
		if !run.active() && now.Sub(run.UpdatedAt) > age {
			delete(m.runs, id)
			if current, ok := m.byStory[run.StoryID]; ok && current == id {
				delete(m.byStory, run.StoryID)
			}
		}
	}
}

// Close отменяет все активные прогоны и ждет их завершения
func (m *manager) Close() {
	close(m.closing)
	m.mu.Lock()
	for _, run := range m.runs {
		if run.active() && run.Cancel != nil {
			run.Cancel()
		}
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// Shutdown ожидает завершения всех прогонов с таймаутом
func (m *manager) Shutdown(ctx context.Context) error {
	close(m.closing)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("таймаут при ожидании завершения прогонов")
	}
}
