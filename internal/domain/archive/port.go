package archive

import (
	"context"
	"time"

	"github.com/bryanwahyu/casegate/internal/domain/cases"
)

//go:generate mockgen -source=port.go -destination=mocks/port_mock.go -package=mocks

// Repository port for the archived copy of each case
type Repository interface {
	Save(ctx context.Context, c *Case) error
	SaveAssessment(ctx context.Context, id cases.ID, a cases.Assessment, at time.Time) error
	Get(ctx context.Context, id cases.ID) (*Case, error)
}

// ImageStore archives the raw image outside the gateway
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Analyzer produces the assessment reported back through result-update
type Analyzer interface {
	Assess(ctx context.Context, image []byte, ext string) (cases.Assessment, error)
}
