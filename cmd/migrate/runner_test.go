package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

func migrationsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"002_second.sql": "CREATE TABLE b (id INT);",
		"001_first.sql":  "CREATE TABLE a (id INT);",
		"003_empty.sql":  "   \n",
		"README.md":      "not a migration",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	return dir
}

func TestFilesSorted(t *testing.T) {
	files, err := Files(migrationsDir(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"001_first.sql", "002_second.sql", "003_empty.sql"}, files)
}

func TestRunSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT name, applied_at FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}).AddRow("001_first.sql", time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("002_second.sql").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	r := &Runner{db: db, log: logger.Nop()}
	res, err := r.Run(context.Background(), migrationsDir(t))
	require.NoError(t, err)
	assert.Equal(t, Result{Applied: 1, Skipped: 2}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStopsOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT name, applied_at FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id INT);")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	r := &Runner{db: db, log: logger.Nop()}
	res, err := r.Run(context.Background(), migrationsDir(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_first.sql")
	assert.Equal(t, 0, res.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
