package httpkit

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUndefinedTable reports whether err is Postgres undefined_table (42P01).
func IsUndefinedTable(err error) bool {
	return pgErrCode(err) == "42P01"
}

// IsUniqueViolation reports whether err is Postgres unique_violation (23505).
func IsUniqueViolation(err error) bool {
	return pgErrCode(err) == "23505"
}
