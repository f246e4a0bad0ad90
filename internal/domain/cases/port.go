package cases

import (
	"context"
	"io"
)

// RecordStore persists Case Records, one JSON document per id per partition.
type RecordStore interface {
	// Create writes a new record into the pending partition.
	Create(ctx context.Context, r *Record) error
	Read(ctx context.Context, p Partition, id ID) (*Record, error)
	// Write replaces a record in place. Only the holder of p may call it.
	Write(ctx context.Context, p Partition, r *Record) error
	List(ctx context.Context, p Partition) ([]*Record, error)
	DeleteRecord(ctx context.Context, p Partition, id ID) error

	// Transition moves id from one partition to another. Under concurrent
	// callers racing on the same source, at most one gets nil; the others get
	// ErrConflict (source vanished mid-call) or ErrNotFound (absent up front).
	Transition(ctx context.Context, id ID, from, to Partition) error
}

// StubStore persists the public projection. Stubs are never deleted.
type StubStore interface {
	WriteStub(ctx context.Context, s *Stub) error
	ReadStub(ctx context.Context, id ID) (*Stub, error)
}

// BlobStore holds image blobs named {id}{ext}.
type BlobStore interface {
	// PutBlob streams r into name and fails with ErrPayloadTooLarge past max bytes,
	// leaving nothing behind.
	PutBlob(ctx context.Context, name string, r io.Reader, max int64) (int64, error)
	OpenBlob(ctx context.Context, name string) (io.ReadCloser, int64, error)
	DeleteBlob(ctx context.Context, name string) error
	// QuarantineBlob relocates a blob next to its quarantined record.
	QuarantineBlob(ctx context.Context, name string) error
}

// Store is everything the case service needs from persistence
type Store interface {
	RecordStore
	StubStore
	BlobStore
}

//go:generate mockgen -destination=mocks/gateway_mock.go -package=mocks . Gateway

// Gateway is the four-verb protocol a worker speaks.
type Gateway interface {
	Claim(ctx context.Context) (*ClaimResult, error)
	Confirm(ctx context.Context, id ID, receipt string) (*ConfirmResult, error)
	Abort(ctx context.Context, id ID, receipt, reason string) error
	UpdateResult(ctx context.Context, id ID, receipt string, a Assessment) error
}

// Recorder counts protocol events for observability
type Recorder interface {
	Record(event string)
}

// NopRecorder discards events.
type NopRecorder struct{}

func (NopRecorder) Record(string) {}
