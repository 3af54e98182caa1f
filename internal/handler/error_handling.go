package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

func handleServiceError(c *gin.Context, logger *zap.Logger, err error) {
	var statusCode int
	var errResp APIError

	switch {
	case errors.Is(err, models.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
		errResp = APIError{Message: "Unauthorized"}
	case errors.Is(err, models.ErrTokenInvalid), errors.Is(err, models.ErrTokenMalformed):
		statusCode = http.StatusUnauthorized
		errResp = APIError{Message: "Token is invalid or malformed"}
	case errors.Is(err, models.ErrTokenExpired):
		statusCode = http.StatusUnauthorized
		errResp = APIError{Message: "Token has expired"}
	case errors.Is(err, models.ErrForbidden):
		statusCode = http.StatusForbidden
		errResp = APIError{Message: "Access to this story is forbidden"}
	case errors.Is(err, models.ErrStoryNotFound), errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
		errResp = APIError{Message: "Story not found"}
	case errors.Is(err, models.ErrUserNotFound):
		statusCode = http.StatusNotFound
		errResp = APIError{Message: "User not found"}
	case errors.Is(err, models.ErrGenerationInProgress):
		statusCode = http.StatusConflict
		errResp = APIError{Message: "Generation is already in progress for this story"}
	case errors.Is(err, models.ErrInsufficientCredits):
		statusCode = http.StatusPaymentRequired
		errResp = APIError{Message: "Insufficient credits"}
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrBadRequest):
		statusCode = http.StatusBadRequest
		errResp = APIError{Message: err.Error()}
	default:
		logger.Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResp = APIError{Message: "An unexpected internal error occurred"}
	}

	c.AbortWithStatusJSON(statusCode, errResp)
}
