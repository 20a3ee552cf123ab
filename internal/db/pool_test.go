package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT 1", Rebind("SELECT 1"))
	assert.Equal(t,
		"UPDATE jobs SET owner = $1 WHERE id = $2 AND status IN ($3, $4)",
		Rebind("UPDATE jobs SET owner = ? WHERE id = ? AND status IN (?, ?)"),
	)
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "jobs_one_active_per_type"}

	assert.True(t, IsUniqueViolation(pgErr, ""))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert job: %w", pgErr), "jobs_one_active_per_type"))
	assert.False(t, IsUniqueViolation(pgErr, "prospects_natural_key_key"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(eris.New("boom"), ""))
	assert.False(t, IsUniqueViolation(nil, ""))
}
