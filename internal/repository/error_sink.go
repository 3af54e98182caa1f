package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"storybook-server/internal/database"
	"storybook-server/internal/models"
)

const insertGenerationErrorQuery = `
    INSERT INTO generation_errors (user_id, story_id, step, message, payload)
    VALUES ($1, $2, $3, $4, $5)
`

// ErrorSink принимает записи об окончательно проваленных шагах генерации.
type ErrorSink interface {
	Record(ctx context.Context, rec *models.GenerationErrorRecord) error
}

// Compile-time check
var _ ErrorSink = (*pgErrorSink)(nil)

type pgErrorSink struct {
	db     database.DBTX
	logger *zap.Logger
}

func NewPgErrorSink(db database.DBTX, logger *zap.Logger) ErrorSink {
	return &pgErrorSink{
		db:     db,
		logger: logger.Named("PgErrorSink"),
	}
}

func (s *pgErrorSink) Record(ctx context.Context, rec *models.GenerationErrorRecord) error {
	payload := rec.Payload
	if payload == nil {
		payload = map[string]string{}
	}

	_, err := s.db.Exec(ctx, insertGenerationErrorQuery,
		rec.UserID,
		rec.StoryID,
		rec.Step,
		rec.Message,
		payload,
	)
	if err != nil {
		// Сам синк не должен валить пайплайн: ошибку логируем и отдаем
		// наверх, решение за вызывающим.
		s.logger.Error("Failed to record generation error",
			zap.String("storyID", rec.StoryID.String()),
			zap.String("step", string(rec.Step)),
			zap.Error(err))
		return fmt.Errorf("ошибка записи в журнал ошибок генерации: %w", err)
	}
	return nil
}
