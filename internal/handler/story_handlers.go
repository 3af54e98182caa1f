package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/service"
)

// createStoryRequest — тело запроса на создание черновика.
type createStoryRequest struct {
	Idea                string `json:"idea" binding:"required"`
	ProtagonistsSummary string `json:"protagonists_summary"`
	Length              int    `json:"length" binding:"required,gt=0"`
}

// startGenerationRequest — тело запроса на запуск генерации.
type startGenerationRequest struct {
	Confirmed bool `json:"confirmed"`
}

func (h *StorybookHandler) createStory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		handleServiceError(c, h.logger, models.ErrUnauthorized)
		return
	}

	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid create story request", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	story, err := h.service.CreateStory(c.Request.Context(), userID, service.CreateStoryInput{
		Idea:                req.Idea,
		ProtagonistsSummary: req.ProtagonistsSummary,
		Length:              req.Length,
	})
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	storiesCreatedTotal.Inc()
	c.JSON(http.StatusCreated, story)
}

func (h *StorybookHandler) listStories(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		handleServiceError(c, h.logger, models.ErrUnauthorized)
		return
	}

	stories, err := h.service.ListStories(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	if stories == nil {
		stories = []models.Story{}
	}
	c.JSON(http.StatusOK, stories)
}

func (h *StorybookHandler) getStory(c *gin.Context) {
	userID, storyID, ok := h.storyRequestIDs(c)
	if !ok {
		return
	}

	story, err := h.service.GetStory(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *StorybookHandler) deleteStory(c *gin.Context) {
	userID, storyID, ok := h.storyRequestIDs(c)
	if !ok {
		return
	}

	if err := h.service.DeleteStory(c.Request.Context(), storyID, userID); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StorybookHandler) startGeneration(c *gin.Context) {
	userID, storyID, ok := h.storyRequestIDs(c)
	if !ok {
		return
	}

	// Тело опционально: без него запуск считается неподтвержденным.
	var req startGenerationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
			return
		}
	}

	result, err := h.service.StartGeneration(c.Request.Context(), storyID, userID, req.Confirmed)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	generationStartsTotal.WithLabelValues(string(result.Decision)).Inc()
	c.JSON(http.StatusAccepted, result)
}

func (h *StorybookHandler) getProgress(c *gin.Context) {
	userID, storyID, ok := h.storyRequestIDs(c)
	if !ok {
		return
	}

	snap, err := h.service.GetProgress(c.Request.Context(), storyID, userID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// storyRequestIDs достает user_id из контекста и story id из пути.
func (h *StorybookHandler) storyRequestIDs(c *gin.Context) (uint64, uuid.UUID, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		handleServiceError(c, h.logger, models.ErrUnauthorized)
		return 0, uuid.UUID{}, false
	}

	storyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid story ID format"})
		return 0, uuid.UUID{}, false
	}
	return userID, storyID, true
}
