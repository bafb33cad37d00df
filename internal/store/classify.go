package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/tenantcore/internal/errs"
)

// PostgreSQL SQLSTATE codes for integrity constraint violations.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Classify maps driver constraint errors to typed errors:
//   - unique or primary key violation -> errs.Duplicate
//   - foreign key violation -> errs.ForeignKey
//
// Anything else (connection loss, syntax, cancellation) is wrapped with op
// and returned unchanged in kind. A nil err returns nil.
func Classify(err error, op, entity string) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return errs.Duplicate(entity, err)
		case sqlite3.ErrConstraintForeignKey:
			return errs.ForeignKey(entity, err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errs.Duplicate(entity, err)
		case pgForeignKeyViolation:
			return errs.ForeignKey(entity, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// IsUniqueViolation reports whether err is a unique or primary key violation
// from either driver.
func IsUniqueViolation(err error) bool {
	return errs.IsDuplicate(Classify(err, "", ""))
}
