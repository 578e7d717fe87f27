// Package migrate applies the embedded schema and seed SQL. Files ship
// inside the binary so the migrate container needs no volume mounts.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql seeds/*.sql
var files embed.FS

const trackingTable = "schema_migrations"

// Runner applies migrations and seeds against one database.
type Runner struct {
	db *sql.DB
}

func NewRunner(db *sql.DB) *Runner { return &Runner{db: db} }

// Up applies all pending schema migrations in filename order.
func (r *Runner) Up(ctx context.Context) error {
	return r.apply(ctx, "sql")
}

// Seed applies seed files idempotently. Seeds and migrations share the
// tracking table; filenames are namespaced by directory.
func (r *Runner) Seed(ctx context.Context) error {
	return r.apply(ctx, "seeds")
}

// Status returns applied entries in application order.
func (r *Runner) Status(ctx context.Context) ([]string, error) {
	if err := r.ensureTracking(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`select name from `+trackingTable+` order by applied_at asc, name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var applied []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied = append(applied, name)
	}
	return applied, rows.Err()
}

func (r *Runner) apply(ctx context.Context, dir string) error {
	if err := r.ensureTracking(ctx); err != nil {
		return err
	}
	done, err := r.appliedSet(ctx)
	if err != nil {
		return err
	}
	entries, err := files.ReadDir(dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		key := dir + "/" + name
		if done[key] {
			continue
		}
		body, err := files.ReadFile(key)
		if err != nil {
			return err
		}
		if err := r.execFile(ctx, key, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", key, err)
		}
	}
	return nil
}

// execFile runs one file's statements and records it in a single
// transaction, so a half-applied file is retried whole.
func (r *Runner) execFile(ctx context.Context, key, body string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range strings.Split(body, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`insert into `+trackingTable+`(name, applied_at) values ($1, $2)`,
		key, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Runner) ensureTracking(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		create table if not exists `+trackingTable+` (
			name text primary key,
			applied_at timestamptz not null default now()
		)`)
	return err
}

func (r *Runner) appliedSet(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `select name from `+trackingTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}
