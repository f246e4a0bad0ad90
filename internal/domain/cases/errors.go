package cases

import "errors"

var (
	// ErrNotFound means the record or stub is absent.
	ErrNotFound = errors.New("case not found")
	// ErrConflict means another caller won the move for the same source.
	ErrConflict = errors.New("case transition lost race")
	// ErrReceiptMismatch rejects a protocol call carrying the wrong receipt.
	ErrReceiptMismatch = errors.New("receipt mismatch")
	// ErrUnauthorized rejects a missing or wrong shared secret.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPayloadTooLarge means an upload or claim transfer exceeded its ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrQuarantined means claim found an unprocessable case and isolated it.
	ErrQuarantined = errors.New("case quarantined")
	// ErrInvalidInput covers missing fields and unsupported images.
	ErrInvalidInput = errors.New("invalid input")
	// ErrResultRecorded rejects a second, different result-update.
	ErrResultRecorded = errors.New("result already recorded")
)
