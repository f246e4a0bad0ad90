package postgres

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

func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

type CaseRepository struct {
	db *sql.DB
}

func NewCaseRepository(db *sql.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// Save inserts or updates an archived case, keeping any recorded assessment
func (r *CaseRepository) Save(ctx context.Context, c *archive.Case) error {
	const q = `
INSERT INTO archived_cases
  (id, created_at, archived_at, name, phone, handle, image_key)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  archived_at=EXCLUDED.archived_at,
  name=EXCLUDED.name,
  phone=EXCLUDED.phone,
  handle=EXCLUDED.handle,
  image_key=EXCLUDED.image_key;
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
SET ai_level=$1, ai_prob=$2, ai_suggestion=$3, assessed_at=$4
WHERE id=$5;
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
	q := `SELECT ` + db.CaseColumns + ` FROM archived_cases WHERE id=$1 LIMIT 1;`
	var row db.Row
	if err := r.db.QueryRowContext(ctx, q, string(id)).Scan(row.Dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, archive.ErrNotFound
		}
		return nil, err
	}
	return row.Build(), nil
}
