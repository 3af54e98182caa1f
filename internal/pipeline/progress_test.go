package pipeline_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/pipeline"
	"storybook-server/internal/pipeline/mocks"
)

func TestTracker_PublishesStageTransitions(t *testing.T) {
	storyID := uuid.New()
	pub := new(mocks.ProgressPublisher)
	tracker := pipeline.NewTracker(storyID, 42, 6, pub, zap.NewNop())

	pub.On("PublishClientUpdate", mock.Anything, mock.MatchedBy(func(u models.ClientStoryUpdate) bool {
		return u.StoryID == storyID && u.UserID == 42 &&
			u.UpdateType == models.UpdateTypeStoryProgress &&
			u.Stage == models.StageStructure
	})).Return(nil).Once()

	tracker.SetStage(models.StageStructure)
	pub.AssertExpectations(t)

	snap := tracker.Snapshot()
	assert.Equal(t, models.StageStructure, snap.Stage)
	assert.Equal(t, 6, snap.TotalPages)
}

func TestTracker_SetPageForcesPagesStage(t *testing.T) {
	pub := new(mocks.ProgressPublisher)
	pub.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil)
	tracker := pipeline.NewTracker(uuid.New(), 42, 6, pub, zap.NewNop())

	tracker.SetPage(3)

	snap := tracker.Snapshot()
	assert.Equal(t, models.StagePages, snap.Stage)
	assert.Equal(t, 3, snap.CurrentPageIndex)
}

func TestTracker_MarkFailedCarriesDetails(t *testing.T) {
	pub := new(mocks.ProgressPublisher)
	tracker := pipeline.NewTracker(uuid.New(), 42, 6, pub, zap.NewNop())

	pub.On("PublishClientUpdate", mock.Anything, mock.MatchedBy(func(u models.ClientStoryUpdate) bool {
		return u.UpdateType == models.UpdateTypeStoryFailed &&
			u.ErrorDetails != nil && *u.ErrorDetails == "image backend down"
	})).Return(nil).Once()

	tracker.MarkFailed("image backend down")
	pub.AssertExpectations(t)

	snap := tracker.Snapshot()
	require.True(t, snap.IsFailed)
	assert.False(t, snap.IsDone)
}

func TestTracker_PublishErrorDoesNotBlock(t *testing.T) {
	pub := new(mocks.ProgressPublisher)
	pub.On("PublishClientUpdate", mock.Anything, mock.Anything).
		Return(errors.New("broker down"))
	tracker := pipeline.NewTracker(uuid.New(), 42, 6, pub, zap.NewNop())

	tracker.SetStage(models.StageCovers)
	tracker.MarkDone()

	// Состояние обновляется несмотря на провал публикации.
	assert.True(t, tracker.Snapshot().IsDone)
}

func TestTracker_NilPublisherTolerated(t *testing.T) {
	tracker := pipeline.NewTracker(uuid.New(), 42, 6, nil, zap.NewNop())

	tracker.SetStage(models.StagePages)
	tracker.SetPage(1)
	tracker.MarkDone()

	assert.True(t, tracker.Snapshot().IsDone)
}
