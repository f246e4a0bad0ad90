package archive

import (
	"time"

	"github.com/bryanwahyu/casegate/internal/domain/cases"
)

// Case is the worker's durable copy of a claimed case. It holds the personal
// fields the gateway purges on confirm; the receipt is never stored.
type Case struct {
	ID         cases.ID  `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ArchivedAt time.Time `json:"archived_at"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Handle     string    `json:"handle"`
	ImageKey   string    `json:"image_key"`

	AILevel      *int       `json:"ai_level,omitempty"`
	AIProb       *float64   `json:"ai_prob,omitempty"`
	AISuggestion *string    `json:"ai_suggestion,omitempty"`
	AssessedAt   *time.Time `json:"assessed_at,omitempty"`
}

// FromRecord copies the personal fields of a claimed record.
func FromRecord(r *cases.Record, imageKey string, now time.Time) *Case {
	return &Case{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		ArchivedAt: now,
		Name:       r.Name,
		Phone:      r.Phone,
		Handle:     r.Handle,
		ImageKey:   imageKey,
	}
}

// ImageKey is the object key an image is archived under
func ImageKey(id cases.ID, ext string) string {
	return "cases/" + string(id) + ext
}
