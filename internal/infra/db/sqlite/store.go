// Package sqlite is the single-file archive backend for local workers and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bryanwahyu/casegate/internal/domain/archive"
	"github.com/bryanwahyu/casegate/internal/domain/cases"
	"github.com/bryanwahyu/casegate/internal/infra/db"
)

//go:embed schema.sql
var schemaSQL string

// Open creates or opens the database at path, applies pragmas and the schema.
// SQLite has a single writer, so the pool is held to one connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func applyPragmas(ctx context.Context, conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return nil
}

// Migrate is idempotent
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

type CaseRepository struct {
	db *sql.DB
}

func NewCaseRepository(db *sql.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

func (r *CaseRepository) Save(ctx context.Context, c *archive.Case) error {
	const q = `
INSERT INTO archived_cases
  (id, created_at, archived_at, name, phone, handle, image_key)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  archived_at=excluded.archived_at,
  name=excluded.name,
  phone=excluded.phone,
  handle=excluded.handle,
  image_key=excluded.image_key;
`
	_, err := r.db.ExecContext(ctx, q,
		string(c.ID), db.OrNow(c.CreatedAt), db.OrNow(c.ArchivedAt),
		db.OrDash(c.Name), db.OrDash(c.Phone), db.OrDash(c.Handle), c.ImageKey,
	)
	return err
}

func (r *CaseRepository) SaveAssessment(ctx context.Context, id cases.ID, a cases.Assessment, at time.Time) error {
	const q = `
UPDATE archived_cases
SET ai_level=?, ai_prob=?, ai_suggestion=?, assessed_at=?
WHERE id=?;
`
	res, err := r.db.ExecContext(ctx, q, a.Level, a.Prob, a.Suggestion, db.OrNow(at), string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return archive.ErrNotFound
	}
	return nil
}

func (r *CaseRepository) Get(ctx context.Context, id cases.ID) (*archive.Case, error) {
	q := `SELECT ` + db.CaseColumns + ` FROM archived_cases WHERE id=? LIMIT 1;`
	var row db.Row
	if err := r.db.QueryRowContext(ctx, q, string(id)).Scan(row.Dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, archive.ErrNotFound
		}
		return nil, err
	}
	return row.Build(), nil
}

var _ archive.Repository = (*CaseRepository)(nil)
