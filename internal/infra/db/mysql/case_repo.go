package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/casegate/internal/domain/archive"
	"github.com/bryanwahyu/casegate/internal/domain/cases"
	"github.com/bryanwahyu/casegate/internal/infra/db"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the archive table if it is missing
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("mysql migrate: %w", err)
	}
	return nil
}

type CaseRepository struct {
	db *sql.DB
}

func NewCaseRepository(db *sql.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// Save insert/update the archived case. Assessment columns are left alone so
// a re-archive after a lost confirm keeps an earlier result.
func (r *CaseRepository) Save(ctx context.Context, c *archive.Case) error {
	const q = `
INSERT INTO archived_cases
(id, created_at, archived_at, name, phone, handle, image_key)
VALUES (?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 archived_at=VALUES(archived_at),
 name=VALUES(name), phone=VALUES(phone), handle=VALUES(handle),
 image_key=VALUES(image_key);
`
	_, err := r.db.ExecContext(ctx, q,
		string(c.ID), db.OrNow(c.CreatedAt), db.OrNow(c.ArchivedAt),
		db.OrDash(c.Name), db.OrDash(c.Phone), db.OrDash(c.Handle), c.ImageKey,
	)
	return err
}

// SaveAssessment needs clientFoundRows in the DSN so an unchanged row still counts.
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
	if n, err := res.RowsAffected(); err == nil && n == 0 {
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
