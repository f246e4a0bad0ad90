package archive

import "errors"

var (
	ErrNotFound = errors.New("archived case not found")
	// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
	ErrQuotaExceeded = errors.New("ai quota exceeded")
	ErrBadAssessment = errors.New("analyzer returned an unusable assessment")
)
