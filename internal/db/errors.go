package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// DescribeError renders server errors from either driver with their SQLSTATE
// and detail. Other errors are returned as err.Error().
func DescribeError(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return describe(pgErr.Message, pgErr.Code, pgErr.Detail)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return describe(pqErr.Message, string(pqErr.Code), pqErr.Detail)
	}
	return err.Error()
}

// SQLState returns the SQLSTATE code carried by err, or "".
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func describe(msg, code, detail string) string {
	out := fmt.Sprintf("%s (SQLSTATE %s)", msg, code)
	if detail != "" {
		out += ": " + detail
	}
	return out
}
