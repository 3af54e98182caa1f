package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/service"
)

// StorybookHandler обрабатывает HTTP запросы сервиса генерации книжек.
type StorybookHandler struct {
	service service.GenerationService
	logger  *zap.Logger
	cfg     *config.Config
}

// NewStorybookHandler создает новый StorybookHandler.
func NewStorybookHandler(s service.GenerationService, cfg *config.Config, logger *zap.Logger) *StorybookHandler {
	return &StorybookHandler{
		service: s,
		logger:  logger.Named("StorybookHandler"),
		cfg:     cfg,
	}
}

// RegisterRoutes регистрирует маршруты сервиса.
func (h *StorybookHandler) RegisterRoutes(router *gin.Engine) {
	storiesGroup := router.Group("/api/stories")
	storiesGroup.Use(h.AuthMiddleware())
	{
		storiesGroup.POST("", h.createStory)
		storiesGroup.GET("", h.listStories)
		storiesGroup.GET("/:id", h.getStory)
		storiesGroup.DELETE("/:id", h.deleteStory)
		storiesGroup.POST("/:id/generate", h.startGeneration)
		storiesGroup.GET("/:id/progress", h.getProgress)
	}
}
