package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
)

// mapError converts driver errors into application errors. what names the
// entity for messages, e.g. "overtime request".
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.New(apperrors.KindNotFound, apperrors.CodeNotFound, what+" not found")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return apperrors.Wrap(apperrors.KindConflict, apperrors.CodeDuplicate, err,
				fmt.Sprintf("%s already exists", what))
		case pqForeignKeyViolation, pqCheckViolation:
			return apperrors.Wrap(apperrors.KindValidation, apperrors.CodeInvalid, err,
				fmt.Sprintf("invalid %s reference", what))
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// IsUniqueViolation reports whether err is a unique constraint failure
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
