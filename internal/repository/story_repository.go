package repository

import (
	"context"

	"github.com/google/uuid"

	"storybook-server/internal/models"
)

// StoryRepository определяет работу с черновиками историй.
type StoryRepository interface {
	// Create inserts a new story draft.
	Create(ctx context.Context, story *models.Story) error

	// GetByID retrieves a story by its unique ID regardless of owner.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error)

	// ListByAuthor retrieves all stories of a user, newest first.
	ListByAuthor(ctx context.Context, authorID uint64) ([]models.Story, error)

	// UpdateContent persists a full snapshot of the generated content.
	// Content and ImagesPrompts always replace the stored values entirely.
	UpdateContent(ctx context.Context, id uuid.UUID, patch *models.StoryContentPatch) error

	// Delete removes a story owned by the given user.
	Delete(ctx context.Context, id uuid.UUID, authorID uint64) error
}
