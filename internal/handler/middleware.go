package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

const userIDContextKey = "user_id"

// AuthMiddleware проверяет Bearer-токен (HS256) и кладет user_id из
// claims в контекст запроса.
func (h *StorybookHandler) AuthMiddleware() gin.HandlerFunc {
	secret := []byte(h.cfg.JWTSecret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			h.logger.Warn("Authorization header missing")
			tokenVerificationsTotal.WithLabelValues("failure").Inc()
			handleServiceError(c, h.logger, models.ErrTokenInvalid)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			h.logger.Warn("Invalid Authorization header format")
			tokenVerificationsTotal.WithLabelValues("failure").Inc()
			handleServiceError(c, h.logger, models.ErrTokenMalformed)
			return
		}

		userID, err := verifyAccessToken(parts[1], secret)
		if err != nil {
			h.logger.Warn("Access token verification failed", zap.Error(err))
			tokenVerificationsTotal.WithLabelValues("failure").Inc()
			handleServiceError(c, h.logger, err)
			return
		}

		tokenVerificationsTotal.WithLabelValues("success").Inc()
		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

func verifyAccessToken(tokenString string, secret []byte) (uint64, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", models.ErrTokenInvalid, t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, models.ErrTokenExpired
		}
		return 0, models.ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, models.ErrTokenInvalid
	}

	rawUserID, ok := claims["user_id"]
	if !ok {
		return 0, models.ErrTokenMalformed
	}
	userIDFloat, ok := rawUserID.(float64)
	if !ok || userIDFloat < 0 {
		return 0, models.ErrTokenMalformed
	}
	return uint64(userIDFloat), nil
}

// currentUserID достает user_id, положенный AuthMiddleware.
func currentUserID(c *gin.Context) (uint64, bool) {
	raw, ok := c.Get(userIDContextKey)
	if !ok {
		return 0, false
	}
	userID, ok := raw.(uint64)
	return userID, ok
}
