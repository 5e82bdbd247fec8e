package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapProductInsertErrUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "products_url_key"}

	assert.ErrorIs(t, mapProductInsertErr(pgErr), ErrProductExists)
	assert.ErrorIs(t, mapProductInsertErr(fmt.Errorf("scan row: %w", pgErr)), ErrProductExists)
}

func TestMapProductInsertErrOtherErrors(t *testing.T) {
	mapped := mapProductInsertErr(&pgconn.PgError{Code: "23503"})
	assert.NotErrorIs(t, mapped, ErrProductExists)

	plain := errors.New("connection reset")
	mapped = mapProductInsertErr(plain)
	assert.NotErrorIs(t, mapped, ErrProductExists)
	assert.ErrorIs(t, mapped, plain)
}
