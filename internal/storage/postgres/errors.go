package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

const opTimeout = 5 * time.Second

// wrapErr классифицирует ошибку драйвера. Нарушения ограничений и ошибки данных
// возвращаются как есть, всё остальное считается временной недоступностью хранилища.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) || pgerrcode.IsDataException(pgErr.Code) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

// nullable превращает пустую строку в NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
