package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storybook-server/internal/database"
	"storybook-server/internal/models"
)

const (
	createStoryQuery = `
        INSERT INTO stories
            (id, author_id, title, idea, protagonists_summary, length, content, images_prompts, created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	getStoryByIDQuery = `
        SELECT id, author_id, title, idea, protagonists_summary, length, content, images_prompts, created_at, updated_at
        FROM stories
        WHERE id = $1
    `
	listStoriesByAuthorQuery = `
        SELECT id, author_id, title, idea, protagonists_summary, length, content, images_prompts, created_at, updated_at
        FROM stories
        WHERE author_id = $1
        ORDER BY created_at DESC
    `
	// Контент всегда пишется целиком, никаких диффов: частичный снапшот
	// в буфере уже полон относительно того, что сгенерировано.
	updateStoryContentQuery = `
        UPDATE stories SET
            title = COALESCE($2, title),
            content = $3,
            images_prompts = $4,
            updated_at = $5
        WHERE id = $1
    `
	deleteStoryQuery = `DELETE FROM stories WHERE id = $1 AND author_id = $2`
)

// Compile-time check
var _ StoryRepository = (*pgStoryRepository)(nil)

type pgStoryRepository struct {
	db     database.DBTX
	logger *zap.Logger
}

// NewPgStoryRepository создает новый экземпляр pgStoryRepository.
func NewPgStoryRepository(db database.DBTX, logger *zap.Logger) StoryRepository {
	return &pgStoryRepository{
		db:     db,
		logger: logger.Named("PgStoryRepo"),
	}
}

func (r *pgStoryRepository) Create(ctx context.Context, story *models.Story) error {
	logFields := []zap.Field{zap.String("storyID", story.ID.String()), zap.Uint64("authorID", story.AuthorID)}
	r.logger.Debug("Creating story", logFields...)

	if story.Content == nil {
		story.Content = make([]models.Page, story.TotalSlots())
	}
	if story.ImagesPrompts == nil {
		story.ImagesPrompts = []string{}
	}

	_, err := r.db.Exec(ctx, createStoryQuery,
		story.ID,
		story.AuthorID,
		story.Title,
		story.Idea,
		story.ProtagonistsSummary,
		story.Length,
		story.Content,
		story.ImagesPrompts,
		story.CreatedAt,
		story.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create story", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка создания истории: %w", err)
	}
	r.logger.Info("Story created successfully", logFields...)
	return nil
}

func (r *pgStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	var story models.Story
	err := pgxscan.Get(ctx, r.db, &story, getStoryByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("Story not found by ID", zap.String("storyID", id.String()))
			return nil, models.ErrStoryNotFound
		}
		r.logger.Error("Failed to get story by ID", zap.String("storyID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения истории %s: %w", id, err)
	}
	return &story, nil
}

func (r *pgStoryRepository) ListByAuthor(ctx context.Context, authorID uint64) ([]models.Story, error) {
	var stories []models.Story
	err := pgxscan.Select(ctx, r.db, &stories, listStoriesByAuthorQuery, authorID)
	if err != nil {
		r.logger.Error("Failed to list stories by author", zap.Uint64("authorID", authorID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения историй пользователя %d: %w", authorID, err)
	}
	return stories, nil
}

func (r *pgStoryRepository) UpdateContent(ctx context.Context, id uuid.UUID, patch *models.StoryContentPatch) error {
	logFields := []zap.Field{zap.String("storyID", id.String())}
	r.logger.Debug("Updating story content snapshot", logFields...)

	content := patch.Content
	if content == nil {
		content = []models.Page{}
	}
	prompts := patch.ImagesPrompts
	if prompts == nil {
		prompts = []string{}
	}

	tag, err := r.db.Exec(ctx, updateStoryContentQuery,
		id,
		patch.Title,
		content,
		prompts,
		time.Now().UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to update story content", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка обновления контента истории %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Story not found while updating content", logFields...)
		return models.ErrStoryNotFound
	}
	r.logger.Debug("Story content updated successfully", logFields...)
	return nil
}

func (r *pgStoryRepository) Delete(ctx context.Context, id uuid.UUID, authorID uint64) error {
	logFields := []zap.Field{zap.String("storyID", id.String()), zap.Uint64("authorID", authorID)}

	tag, err := r.db.Exec(ctx, deleteStoryQuery, id, authorID)
	if err != nil {
		r.logger.Error("Failed to delete story", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка удаления истории %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStoryNotFound
	}
	r.logger.Info("Story deleted", logFields...)
	return nil
}
