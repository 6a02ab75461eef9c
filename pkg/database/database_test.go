package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scan-attendance/pkg/config"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
)

func openTestDB(t *testing.T) config.DatabaseConfig {
	t.Helper()
	return config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "attendance.db"),
	}
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	cfg := openTestDB(t)

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))

	var applied int
	require.NoError(t, db.GetContext(ctx, &applied, "SELECT COUNT(*) FROM schema_migrations"))
	ms, err := loadMigrations()
	require.NoError(t, err)
	assert.Equal(t, len(ms), applied)
	require.NoError(t, db.Close())

	reopened, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.GetContext(ctx, &applied, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, len(ms), applied)
}

func TestClassifySQLiteUniqueViolation(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, openTestDB(t))
	require.NoError(t, err)
	defer db.Close()

	insert := `INSERT INTO students (student_id, scan_code, first_name, last_name, grad_year, email, created_at_ms, updated_at_ms)
VALUES (?, ?, 'A', 'B', 2026, '', 1, 1)`
	_, err = db.ExecContext(ctx, insert, "s-1", "CODE1")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert, "s-2", "CODE1")
	require.Error(t, err)

	classified := Classify(err)
	assert.True(t, errors.Is(classified, appErrors.ErrConstraintViolation))
	assert.True(t, IsUniqueOn(err, "scan_code"))
	assert.False(t, IsUniqueOn(err, "external_id"))
}

func TestClassifyDeactivatedCodeIsReusable(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, openTestDB(t))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `INSERT INTO students (student_id, scan_code, first_name, last_name, grad_year, email, deactivated_at_ms, created_at_ms, updated_at_ms)
VALUES ('old', 'CODE1', 'A', 'B', 2020, '', 5, 1, 1)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO students (student_id, scan_code, first_name, last_name, grad_year, email, created_at_ms, updated_at_ms)
VALUES ('new', 'CODE1', 'C', 'D', 2026, '', 1, 1)`)
	require.NoError(t, err)
}

func TestClassifyPostgresErrors(t *testing.T) {
	unique := &pq.Error{Code: "23505", Constraint: "ux_students_active_scan_code"}
	assert.True(t, errors.Is(Classify(unique), appErrors.ErrConstraintViolation))
	assert.True(t, IsUniqueOn(unique, "scan_code"))

	fk := &pq.Error{Code: "23503"}
	assert.True(t, errors.Is(Classify(fk), appErrors.ErrValidation))

	down := &pq.Error{Code: "57P01"}
	assert.True(t, errors.Is(Classify(down), appErrors.ErrStorageUnavailable))

	conn := &pq.Error{Code: "08006"}
	assert.True(t, errors.Is(Classify(conn), appErrors.ErrStorageUnavailable))
}

func TestClassifyGenericErrors(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.True(t, errors.Is(Classify(fmt.Errorf("exec: %w", driver.ErrBadConn)), appErrors.ErrStorageUnavailable))
	assert.True(t, errors.Is(Classify(context.DeadlineExceeded), appErrors.ErrStorageUnavailable))
	assert.Equal(t, sql.ErrNoRows, Classify(sql.ErrNoRows))

	plain := errors.New("syntax error")
	assert.Equal(t, plain, Classify(plain))
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("0002_report_jobs.sql")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = parseVersion("init.sql")
	assert.Error(t, err)
}
