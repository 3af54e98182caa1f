package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storybook-server/internal/database"
	"storybook-server/internal/models"
)

// Ledger отвечает за баланс кредитов пользователя. Списание атомарное:
// баланс не может уйти в минус.
type Ledger interface {
	GetBalance(ctx context.Context, userID uint64) (int64, error)
	// Authorize — чистая проверка без списания.
	Authorize(ctx context.Context, userID uint64, amount int64) error
	Spend(ctx context.Context, userID uint64, amount int64, reason string) (int64, error)
	Refund(ctx context.Context, userID uint64, amount int64, reason string) (int64, error)
}

// Compile-time check
var _ Ledger = (*pgLedger)(nil)

type pgLedger struct {
	db     database.DBTX
	logger *zap.Logger
}

func NewPgLedger(db database.DBTX, logger *zap.Logger) Ledger {
	return &pgLedger{
		db:     db,
		logger: logger.Named("PgLedger"),
	}
}

func (l *pgLedger) GetBalance(ctx context.Context, userID uint64) (int64, error) {
	query := `SELECT credits FROM users WHERE id = $1`

	var balance int64
	err := l.db.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			l.logger.Warn("User not found while reading balance", zap.Uint64("userID", userID))
			return 0, models.ErrUserNotFound
		}
		l.logger.Error("Failed to read balance", zap.Uint64("userID", userID), zap.Error(err))
		return 0, fmt.Errorf("%w: чтение баланса: %v", models.ErrLedgerUnavailable, err)
	}
	return balance, nil
}

func (l *pgLedger) Authorize(ctx context.Context, userID uint64, amount int64) error {
	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return err
	}
	if balance < amount {
		return models.ErrInsufficientCredits
	}
	return nil
}

// Spend списывает amount кредитов одним условным UPDATE. Если кредитов
// не хватает, строка не обновляется и возвращается ErrInsufficientCredits.
func (l *pgLedger) Spend(ctx context.Context, userID uint64, amount int64, reason string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: отрицательная сумма списания %d", models.ErrBadRequest, amount)
	}

	query := `
        UPDATE users SET credits = credits - $2, updated_at = NOW()
        WHERE id = $1 AND credits >= $2
        RETURNING credits
    `
	logFields := []zap.Field{
		zap.Uint64("userID", userID),
		zap.Int64("amount", amount),
		zap.String("reason", reason),
	}

	var remaining int64
	err := l.db.QueryRow(ctx, query, userID, amount).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Либо пользователя нет, либо не хватило кредитов — различаем.
			balance, balErr := l.GetBalance(ctx, userID)
			if balErr != nil {
				return 0, balErr
			}
			l.logger.Warn("Insufficient credits", append(logFields, zap.Int64("balance", balance))...)
			return balance, models.ErrInsufficientCredits
		}
		l.logger.Error("Failed to spend credits", append(logFields, zap.Error(err))...)
		return 0, fmt.Errorf("%w: списание кредитов: %v", models.ErrLedgerUnavailable, err)
	}

	l.logger.Info("Credits spent", append(logFields, zap.Int64("remaining", remaining))...)
	return remaining, nil
}

func (l *pgLedger) Refund(ctx context.Context, userID uint64, amount int64, reason string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: отрицательная сумма возврата %d", models.ErrBadRequest, amount)
	}
	if amount == 0 {
		return l.GetBalance(ctx, userID)
	}

	query := `
        UPDATE users SET credits = credits + $2, updated_at = NOW()
        WHERE id = $1
        RETURNING credits
    `
	logFields := []zap.Field{
		zap.Uint64("userID", userID),
		zap.Int64("amount", amount),
		zap.String("reason", reason),
	}

	var balance int64
	err := l.db.QueryRow(ctx, query, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			l.logger.Warn("User not found while refunding", logFields...)
			return 0, models.ErrUserNotFound
		}
		l.logger.Error("Failed to refund credits", append(logFields, zap.Error(err))...)
		return 0, fmt.Errorf("%w: возврат кредитов: %v", models.ErrLedgerUnavailable, err)
	}

	l.logger.Info("Credits refunded", append(logFields, zap.Int64("balance", balance))...)
	return balance, nil
}
