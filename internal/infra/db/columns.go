// Package db holds what the archive repositories share across drivers.
package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/bryanwahyu/casegate/internal/domain/archive"
)

// CaseColumns is the select list used by every driver, in scan order.
const CaseColumns = `id, created_at, archived_at, name, phone, handle, image_key,
       ai_level, ai_prob, ai_suggestion, assessed_at`

// Row is a scan target for one archived_cases row.
type Row struct {
	Case       archive.Case
	Level      sql.NullInt64
	Prob       sql.NullFloat64
	Suggestion sql.NullString
	AssessedAt sql.NullTime
}

// Dest returns pointers in CaseColumns order.
func (r *Row) Dest() []any {
	return []any{
		&r.Case.ID, &r.Case.CreatedAt, &r.Case.ArchivedAt,
		&r.Case.Name, &r.Case.Phone, &r.Case.Handle, &r.Case.ImageKey,
		&r.Level, &r.Prob, &r.Suggestion, &r.AssessedAt,
	}
}

// Build folds the nullable columns into the entity.
func (r *Row) Build() *archive.Case {
	c := r.Case
	if r.Level.Valid {
		v := int(r.Level.Int64)
		c.AILevel = &v
	}
	if r.Prob.Valid {
		v := r.Prob.Float64
		c.AIProb = &v
	}
	if r.Suggestion.Valid {
		v := r.Suggestion.String
		c.AISuggestion = &v
	}
	if r.AssessedAt.Valid {
		v := r.AssessedAt.Time.UTC()
		c.AssessedAt = &v
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.ArchivedAt = c.ArchivedAt.UTC()
	return &c
}

// OrNow falls back to now for a zero time
func OrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// OrDash stores "-" for a blank personal field so NOT NULL columns never hold ''.
func OrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
