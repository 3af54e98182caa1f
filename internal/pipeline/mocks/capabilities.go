package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
	"storybook-server/internal/pipeline"
)

// Mock Capabilities
type Capabilities struct {
	mock.Mock
}

func (m *Capabilities) DevelopIdea(ctx context.Context, userID string, length int, rawIdea string, characters string) (string, error) {
	args := m.Called(ctx, userID, length, rawIdea, characters)
	return args.String(0), args.Error(1)
}

func (m *Capabilities) BuildStoryIndex(ctx context.Context, userID string, refinedIdea string, characters string, length int) (*models.StoryIndex, error) {
	args := m.Called(ctx, userID, refinedIdea, characters, length)
	if idx, ok := args.Get(0).(*models.StoryIndex); ok {
		return idx, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Capabilities) BuildImagePrompt(ctx context.Context, userID string, kind pipeline.PromptKind, sourceText string, characters string, extra string) (string, error) {
	args := m.Called(ctx, userID, kind, sourceText, characters, extra)
	return args.String(0), args.Error(1)
}

func (m *Capabilities) RenderCoverImage(ctx context.Context, prompt string, title string, reference string) (string, error) {
	args := m.Called(ctx, prompt, title, reference)
	return args.String(0), args.Error(1)
}

func (m *Capabilities) RenderPageImage(ctx context.Context, prompt string, reference string) (string, error) {
	args := m.Called(ctx, prompt, reference)
	return args.String(0), args.Error(1)
}

// Mock ProgressPublisher
type ProgressPublisher struct {
	mock.Mock
}

func (m *ProgressPublisher) PublishClientUpdate(ctx context.Context, payload models.ClientStoryUpdate) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}
