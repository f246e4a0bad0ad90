package cases

import (
	"time"
)

// ID identifies one case across record, stub and blob
type ID string

// Partition is one of the directories a Case Record can live in
type Partition string

const (
	PartitionPending    Partition = "pending"
	PartitionProcessing Partition = "processing"
	PartitionError      Partition = "error"
)

// Record carries personal data. It lives in exactly one partition, or nowhere once purged.
type Record struct {
	ID            ID        `json:"id"`
	Receipt       string    `json:"receipt"`
	CreatedAt     time.Time `json:"created_at"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	Handle        string    `json:"handle"`
	ImageFilename string    `json:"image_filename"`
	Status        Status    `json:"status"`
	// ClaimedAt is stamped by the claimer once it holds the record. Leases
	// expire from this time. A released record keeps its last stamp and
	// status until it is claimed again.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// Stub is the permanent, PII-free projection of a case.
// Receipt stays on the stub so result-update still works after purge.
type Stub struct {
	ID           ID         `json:"id"`
	Receipt      string     `json:"receipt"`
	CreatedAt    time.Time  `json:"created_at"`
	Status       Status     `json:"status"`
	AILevel      *int       `json:"ai_level"`
	AIProb       *float64   `json:"ai_prob"`
	AISuggestion *string    `json:"ai_suggestion"`
	Note         string     `json:"note,omitempty"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	PurgedAt     *time.Time `json:"purged_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	ErrorAt      *time.Time `json:"error_at,omitempty"`
}

// HasResult reports whether a result-update has already landed.
func (s *Stub) HasResult() bool {
	return s.AILevel != nil || s.AIProb != nil || s.AISuggestion != nil
}

// PublicView is the only shape a stub is ever rendered in outside the trusted boundary.
type PublicView struct {
	ID           ID         `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	Status       Status     `json:"status"`
	AILevel      *int       `json:"ai_level"`
	AIProb       *float64   `json:"ai_prob"`
	AISuggestion *string    `json:"ai_suggestion"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// Public projects a stub into its public view.
func (s *Stub) Public() PublicView {
	return PublicView{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		Status:       s.Status,
		AILevel:      s.AILevel,
		AIProb:       s.AIProb,
		AISuggestion: s.AISuggestion,
		UpdatedAt:    s.UpdatedAt,
	}
}

// Assessment is what a worker reports back through result-update
type Assessment struct {
	Level      int     `json:"ai_level"`
	Prob       float64 `json:"ai_prob"`
	Suggestion string  `json:"ai_suggestion"`
}

// Same reports whether the stub already carries exactly this assessment.
func (a Assessment) Same(s *Stub) bool {
	return s.AILevel != nil && *s.AILevel == a.Level &&
		s.AIProb != nil && *s.AIProb == a.Prob &&
		s.AISuggestion != nil && *s.AISuggestion == a.Suggestion
}

// ClaimStatus enum
type ClaimStatus string

const (
	ClaimOK    ClaimStatus = "ok"
	ClaimEmpty ClaimStatus = "empty"
	ClaimError ClaimStatus = "error"
)

// ClaimResult is returned to a worker by claim.
// On ClaimError the record is already quarantined; ID and Receipt are still set.
type ClaimResult struct {
	Status   ClaimStatus `json:"status"`
	ID       ID          `json:"id,omitempty"`
	Receipt  string      `json:"receipt,omitempty"`
	Record   *Record     `json:"record,omitempty"`
	ImageB64 string      `json:"image_b64,omitempty"`
	ImageExt string      `json:"image_ext,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// ConfirmResult reports non-fatal cleanup problems after the record itself is gone.
type ConfirmResult struct {
	ID       ID       `json:"id"`
	Already  bool     `json:"already_confirmed,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Depth counts records per partition. It carries no personal data.
type Depth struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Error      int `json:"error"`
}
