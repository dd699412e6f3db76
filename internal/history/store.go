package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"time"
	"unicode/utf8"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tubepilot.app/internal/identity"
	"tubepilot.app/internal/panels"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema migrations for the panel history table.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	// DefaultLimit is the page size of Recent when none is given.
	DefaultLimit = 20
	// MaxLimit caps the page size of Recent.
	MaxLimit = 100
	// maxStoredOutput truncates stored model output.
	maxStoredOutput = 16 << 10
)

// ErrNoEmail is returned when a run or query has no principal email.
var ErrNoEmail = errors.New("history: email is required")

// Store keeps panel runs in PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ panels.Recorder = (*Store)(nil)

// Open connects through the pgx database/sql driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Record inserts one panel run.
func (s *Store) Record(ctx context.Context, run panels.Run) error {
	email := identity.NormalizeEmail(run.Email)
	if email == "" {
		return ErrNoEmail
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into panel_runs(id, email, panel, input, output, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, run.ID, email, run.Panel, run.Input, truncate(run.Output, maxStoredOutput), created)
	return err
}

// Recent returns the newest runs for email, newest first.
func (s *Store) Recent(ctx context.Context, email string, limit int) ([]panels.Run, error) {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return nil, ErrNoEmail
	}
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, email, panel, input, output, created_at
		from panel_runs
		where email = $1
		order by created_at desc, id desc
		limit $2
	`, email, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]panels.Run, 0, limit)
	for rows.Next() {
		var r panels.Run
		if err := rows.Scan(&r.ID, &r.Email, &r.Panel, &r.Input, &r.Output, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
