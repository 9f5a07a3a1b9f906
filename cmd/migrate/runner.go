package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name       TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Runner applies .sql files in name order, each in its own transaction,
// and records them in schema_migrations so a rerun skips them.
type Runner struct {
	db  *sql.DB
	log *logger.Logger
}

// Result counts one run.
type Result struct {
	Applied int
	Skipped int
}

// AppliedMigration is one row of schema_migrations.
type AppliedMigration struct {
	Name      string
	AppliedAt time.Time
}

// Files returns the non-empty .sql files in dir, sorted by name.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Run stops at the first failing file; earlier files stay applied.
func (r *Runner) Run(ctx context.Context, dir string) (Result, error) {
	var res Result
	files, err := Files(dir)
	if err != nil {
		return res, err
	}
	if _, err := r.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return res, fmt.Errorf("create schema_migrations: %w", err)
	}

	done := map[string]bool{}
	applied, err := r.Applied(ctx)
	if err != nil {
		return res, err
	}
	for _, a := range applied {
		done[a.Name] = true
	}

	for _, f := range files {
		if done[f] {
			res.Skipped++
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return res, fmt.Errorf("read %s: %w", f, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			res.Skipped++
			continue
		}
		if err := r.apply(ctx, f, string(data)); err != nil {
			return res, err
		}
		r.log.Info("applied migration", "file", f)
		res.Applied++
	}
	return res, nil
}

func (r *Runner) apply(ctx context.Context, name, content string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("%s: record: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", name, err)
	}
	return nil
}

// Applied lists recorded migrations, oldest first.
func (r *Runner) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, applied_at FROM schema_migrations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		if err := rows.Scan(&a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
