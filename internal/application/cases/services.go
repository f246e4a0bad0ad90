package cases

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/casegate/internal/application"
	domain "github.com/bryanwahyu/casegate/internal/domain/cases"
)

const (
	DefaultMaxUploadBytes int64 = 5 << 20
	DefaultMaxClaimBytes  int64 = 8 << 20
	DefaultClaimBudget          = 8

	maxReasonLen     = 200
	maxSuggestionLen = 2000
)

// Event names reported to the Recorder
const (
	EventSubmitted       = "submitted"
	EventClaimed         = "claimed"
	EventClaimEmpty      = "claim_empty"
	EventClaimConflict   = "claim_conflict"
	EventQuarantined     = "quarantined"
	EventConfirmed       = "confirmed"
	EventAborted         = "aborted"
	EventResultRecorded  = "result_recorded"
	EventReceiptMismatch = "receipt_mismatch"
	EventSwept           = "swept"
)

// Quarantine notes written to the stub
const (
	NoteImageMissing  = "image missing"
	NoteImageTooLarge = "image exceeds transfer limit"
	NoteUnreadable    = "case unreadable"
	NoteLeaseExpired  = "lease expired"
)

// Service runs the case handoff protocol on top of a Store.
// It holds no in-process locks; every exclusive step goes through Store.Transition,
// so any number of Service instances may share one store.
type Service struct {
	Store   domain.Store
	Clock   application.Clock
	Metrics domain.Recorder

	MaxUploadBytes int64
	MaxClaimBytes  int64
	ClaimBudget    int
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return application.SystemClock{}.Now()
	}
	return s.Clock.Now()
}

func (s *Service) record(event string) {
	if s.Metrics != nil {
		s.Metrics.Record(event)
	}
}

func (s *Service) maxUpload() int64 {
	if s.MaxUploadBytes > 0 {
		return s.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

func (s *Service) maxClaim() int64 {
	if s.MaxClaimBytes > 0 {
		return s.MaxClaimBytes
	}
	return DefaultMaxClaimBytes
}

func (s *Service) budget() int {
	if s.ClaimBudget > 0 {
		return s.ClaimBudget
	}
	return DefaultClaimBudget
}

func receiptOK(want, got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func (s *Service) mismatch(op string, id domain.ID) error {
	s.record(EventReceiptMismatch)
	log.Printf("security: receipt mismatch op=%s id=%s", op, id)
	return domain.ErrReceiptMismatch
}

//
// ==== SUBMIT ====
//

// SubmitCommand carries one public submission
type SubmitCommand struct {
	Name   string
	Phone  string
	Handle string
	Image  io.Reader
}

// Submit stores the image, the stub and the pending record, in that order,
// so a claimable record always has both.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (domain.ID, error) {
	name, phone, handle := strings.TrimSpace(cmd.Name), strings.TrimSpace(cmd.Phone), strings.TrimSpace(cmd.Handle)
	if name == "" || phone == "" || handle == "" {
		return "", fmt.Errorf("%w: name, phone and handle are required", domain.ErrInvalidInput)
	}
	if cmd.Image == nil {
		return "", fmt.Errorf("%w: image is required", domain.ErrInvalidInput)
	}

	br := bufio.NewReaderSize(cmd.Image, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", err
	}
	if len(head) == 0 {
		return "", fmt.Errorf("%w: empty image", domain.ErrInvalidInput)
	}
	ext, ok := SniffExt(head)
	if !ok {
		return "", fmt.Errorf("%w: unsupported image type", domain.ErrInvalidInput)
	}

	id := domain.ID(uuid.NewString())
	now := s.now()
	rec := &domain.Record{
		ID:            id,
		Receipt:       uuid.NewString(),
		CreatedAt:     now,
		Name:          name,
		Phone:         phone,
		Handle:        handle,
		ImageFilename: string(id) + ext,
		Status:        domain.StatusPending,
	}

	size, err := s.Store.PutBlob(ctx, rec.ImageFilename, br, s.maxUpload())
	if err != nil {
		return "", err
	}

	stub := &domain.Stub{ID: id, Receipt: rec.Receipt, CreatedAt: now, Status: domain.StatusPending}
	if err := s.Store.WriteStub(ctx, stub); err != nil {
		s.dropBlob(ctx, rec.ImageFilename)
		return "", fmt.Errorf("write stub: %w", err)
	}
	if err := s.Store.Create(ctx, rec); err != nil {
		s.dropBlob(ctx, rec.ImageFilename)
		stub.Status = domain.StatusError
		stub.Note = "submission failed"
		stub.ErrorAt = &now
		if werr := s.Store.WriteStub(ctx, stub); werr != nil {
			log.Printf("warn: stub update after failed submit id=%s err=%v", id, werr)
		}
		return "", fmt.Errorf("create record: %w", err)
	}

	s.record(EventSubmitted)
	log.Printf("case submitted id=%s bytes=%d ext=%s", id, size, ext)
	return id, nil
}

func (s *Service) dropBlob(ctx context.Context, name string) {
	if err := s.Store.DeleteBlob(ctx, name); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Printf("warn: blob cleanup name=%s err=%v", name, err)
	}
}

//
// ==== CLAIM ====
//

// Claim locks the oldest pending case it can win, within the candidate budget.
// Losing a race skips to the next candidate. An unprocessable case is moved to
// the error partition and reported with ClaimError instead of being retried.
func (s *Service) Claim(ctx context.Context) (*domain.ClaimResult, error) {
	pending, err := s.Store.List(ctx, domain.PartitionPending)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	for i, cand := range pending {
		if i >= s.budget() {
			break
		}
		err := s.Store.Transition(ctx, cand.ID, domain.PartitionPending, domain.PartitionProcessing)
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			s.record(EventClaimConflict)
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.prepare(ctx, cand)
	}

	s.record(EventClaimEmpty)
	return &domain.ClaimResult{Status: domain.ClaimEmpty}, nil
}

// prepare runs while this caller holds the record in processing.
func (s *Service) prepare(ctx context.Context, listed *domain.Record) (*domain.ClaimResult, error) {
	rec, err := s.Store.Read(ctx, domain.PartitionProcessing, listed.ID)
	if err != nil {
		return s.quarantine(ctx, listed, NoteUnreadable, err)
	}
	claimedAt := s.now()
	rec.Status = domain.StatusProcessing
	rec.ClaimedAt = &claimedAt
	if err := s.Store.Write(ctx, domain.PartitionProcessing, rec); err != nil {
		return s.quarantine(ctx, rec, NoteUnreadable, err)
	}

	rc, size, err := s.Store.OpenBlob(ctx, rec.ImageFilename)
	if errors.Is(err, domain.ErrNotFound) {
		return s.quarantine(ctx, rec, NoteImageMissing, err)
	}
	if err != nil {
		return s.quarantine(ctx, rec, NoteUnreadable, err)
	}
	defer rc.Close()

	limit := s.maxClaim()
	if size > limit {
		return s.quarantine(ctx, rec, NoteImageTooLarge, domain.ErrPayloadTooLarge)
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return s.quarantine(ctx, rec, NoteUnreadable, err)
	}
	if int64(len(data)) > limit {
		return s.quarantine(ctx, rec, NoteImageTooLarge, domain.ErrPayloadTooLarge)
	}

	s.moveStub(ctx, rec, domain.EventClaimed, func(st *domain.Stub) {
		st.ProcessingAt = &claimedAt
		st.Note = ""
	})

	s.record(EventClaimed)
	log.Printf("case claimed id=%s bytes=%d", rec.ID, len(data))
	return &domain.ClaimResult{
		Status:   domain.ClaimOK,
		ID:       rec.ID,
		Receipt:  rec.Receipt,
		Record:   rec,
		ImageB64: base64.StdEncoding.EncodeToString(data),
		ImageExt: filepath.Ext(rec.ImageFilename),
	}, nil
}

// quarantine takes the held record out of the active cycle for good.
func (s *Service) quarantine(ctx context.Context, rec *domain.Record, note string, cause error) (*domain.ClaimResult, error) {
	rec.Status = domain.StatusError
	if err := s.Store.Write(ctx, domain.PartitionProcessing, rec); err != nil {
		log.Printf("warn: quarantine status write id=%s err=%v", rec.ID, err)
	}
	if err := s.Store.Transition(ctx, rec.ID, domain.PartitionProcessing, domain.PartitionError); err != nil {
		return nil, fmt.Errorf("quarantine %s: %w", rec.ID, err)
	}
	if rec.ImageFilename != "" {
		if err := s.Store.QuarantineBlob(ctx, rec.ImageFilename); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Printf("warn: quarantine blob id=%s err=%v", rec.ID, err)
		}
	}

	now := s.now()
	s.moveStub(ctx, rec, domain.EventQuarantined, func(st *domain.Stub) {
		st.Note = note
		st.ErrorAt = &now
	})

	s.record(EventQuarantined)
	log.Printf("case quarantined id=%s note=%q cause=%v", rec.ID, note, cause)
	return &domain.ClaimResult{
		Status:  domain.ClaimError,
		ID:      rec.ID,
		Receipt: rec.Receipt,
		Error:   note,
	}, nil
}

// moveStub applies e to the stub of rec, rebuilding the stub from the record
// if it went missing. Stub writes are not safety-critical; failures are logged.
func (s *Service) moveStub(ctx context.Context, rec *domain.Record, e domain.Event, mutate func(*domain.Stub)) {
	st, err := s.Store.ReadStub(ctx, rec.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Printf("warn: read stub id=%s err=%v", rec.ID, err)
		}
		st = &domain.Stub{ID: rec.ID, Receipt: rec.Receipt, CreatedAt: rec.CreatedAt, Status: domain.StatusPending}
	}
	next, expected := st.Status.Apply(e)
	if !expected {
		log.Printf("warn: stub id=%s event=%s from status=%s", rec.ID, e, st.Status)
	}
	st.Status = next
	mutate(st)
	if err := s.Store.WriteStub(ctx, st); err != nil {
		log.Printf("warn: write stub id=%s err=%v", rec.ID, err)
	}
}

//
// ==== RECONCILIATION ====
//

// Confirm purges personal data of a claimed case. Calling it again after
// success returns Already=true with no side effects.
func (s *Service) Confirm(ctx context.Context, id domain.ID, receipt string) (*domain.ConfirmResult, error) {
	rec, err := s.Store.Read(ctx, domain.PartitionProcessing, id)
	if errors.Is(err, domain.ErrNotFound) {
		return s.confirmAgain(ctx, id, receipt)
	}
	if err != nil {
		return nil, err
	}
	if !receiptOK(rec.Receipt, receipt) {
		return nil, s.mismatch("confirm", id)
	}

	// Removing the record decides any race with a sweep moving it back to
	// pending. The blob goes only once the record is ours to purge.
	if err := s.Store.DeleteRecord(ctx, domain.PartitionProcessing, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.confirmAgain(ctx, id, receipt)
		}
		return nil, fmt.Errorf("delete record: %w", err)
	}
	res := &domain.ConfirmResult{ID: id}
	if err := s.Store.DeleteBlob(ctx, rec.ImageFilename); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Printf("warn: confirm blob delete id=%s err=%v", id, err)
		res.Warnings = append(res.Warnings, "image cleanup failed")
	}

	now := s.now()
	st, err := s.Store.ReadStub(ctx, id)
	if err != nil {
		st = &domain.Stub{ID: id, Receipt: rec.Receipt, CreatedAt: rec.CreatedAt, Status: domain.StatusProcessing}
	}
	next, expected := st.Status.Apply(domain.EventPurged)
	if !expected {
		log.Printf("warn: stub id=%s event=%s from status=%s", id, domain.EventPurged, st.Status)
	}
	st.Status = next
	st.PurgedAt = &now
	st.Note = ""
	if err := s.Store.WriteStub(ctx, st); err != nil {
		log.Printf("warn: confirm stub write id=%s err=%v", id, err)
		res.Warnings = append(res.Warnings, "stub update failed")
	}

	s.record(EventConfirmed)
	log.Printf("case confirmed id=%s warnings=%d", id, len(res.Warnings))
	return res, nil
}

// confirmAgain handles confirm when the record is no longer in processing.
// Only confirm deletes records, so a case whose record is in no partition
// has been purged; a stub that missed its purge stamp is repaired here.
func (s *Service) confirmAgain(ctx context.Context, id domain.ID, receipt string) (*domain.ConfirmResult, error) {
	st, err := s.Store.ReadStub(ctx, id)
	if err != nil {
		return nil, err
	}
	if !receiptOK(st.Receipt, receipt) {
		return nil, s.mismatch("confirm", id)
	}
	if st.PurgedAt != nil {
		return &domain.ConfirmResult{ID: id, Already: true}, nil
	}

	for _, p := range []domain.Partition{domain.PartitionPending, domain.PartitionError, domain.PartitionProcessing} {
		_, err := s.Store.Read(ctx, p, id)
		if err == nil {
			return nil, fmt.Errorf("%w: case %s is in %s, not held in processing", domain.ErrNotFound, id, p)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	now := s.now()
	next, expected := st.Status.Apply(domain.EventPurged)
	if !expected {
		log.Printf("warn: stub id=%s event=%s from status=%s", id, domain.EventPurged, st.Status)
	}
	st.Status = next
	st.PurgedAt = &now
	st.Note = ""
	if err := s.Store.WriteStub(ctx, st); err != nil {
		return nil, fmt.Errorf("repair stub: %w", err)
	}
	log.Printf("case confirm repaired stub id=%s", id)
	return &domain.ConfirmResult{ID: id, Already: true}, nil
}

// Abort releases a claimed case back to pending.
func (s *Service) Abort(ctx context.Context, id domain.ID, receipt, reason string) error {
	rec, err := s.Store.Read(ctx, domain.PartitionProcessing, id)
	if err != nil {
		return err
	}
	if !receiptOK(rec.Receipt, receipt) {
		return s.mismatch("abort", id)
	}

	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	note := "aborted by worker"
	if reason != "" {
		note += ": " + reason
	}
	// the stub moves first; once the record is back in pending the next
	// claimer owns the stub
	s.moveStub(ctx, rec, domain.EventReleased, func(st *domain.Stub) {
		st.Note = note
		st.ProcessingAt = nil
	})
	if err := s.Store.Transition(ctx, id, domain.PartitionProcessing, domain.PartitionPending); err != nil {
		return err
	}

	s.record(EventAborted)
	log.Printf("case aborted id=%s", id)
	return nil
}

func validateAssessment(a domain.Assessment) error {
	if a.Level < 0 {
		return fmt.Errorf("%w: ai_level must be >= 0", domain.ErrInvalidInput)
	}
	if math.IsNaN(a.Prob) || a.Prob < 0 || a.Prob > 1 {
		return fmt.Errorf("%w: ai_prob must be within [0,1]", domain.ErrInvalidInput)
	}
	if len(a.Suggestion) > maxSuggestionLen {
		return fmt.Errorf("%w: ai_suggestion too long", domain.ErrInvalidInput)
	}
	return nil
}

// UpdateResult records the assessment on the stub. It is checked against the
// stub's receipt so it works before or after confirm. Result fields are set
// once; repeating the same values succeeds, different values are rejected.
func (s *Service) UpdateResult(ctx context.Context, id domain.ID, receipt string, a domain.Assessment) error {
	if err := validateAssessment(a); err != nil {
		return err
	}
	st, err := s.Store.ReadStub(ctx, id)
	if err != nil {
		return err
	}
	if !receiptOK(st.Receipt, receipt) {
		return s.mismatch("result", id)
	}
	if st.HasResult() {
		if a.Same(st) {
			return nil
		}
		return domain.ErrResultRecorded
	}

	next, expected := st.Status.Apply(domain.EventResulted)
	if !expected {
		log.Printf("warn: result-update id=%s from unexpected status=%s", id, st.Status)
	}
	now := s.now()
	level, prob, suggestion := a.Level, a.Prob, a.Suggestion
	st.AILevel = &level
	st.AIProb = &prob
	st.AISuggestion = &suggestion
	st.Status = next
	st.UpdatedAt = &now
	if err := s.Store.WriteStub(ctx, st); err != nil {
		return fmt.Errorf("write stub: %w", err)
	}

	s.record(EventResultRecorded)
	log.Printf("case result recorded id=%s level=%d", id, a.Level)
	return nil
}

//
// ==== READ SIDE + MAINTENANCE ====
//

// Result returns the public projection of a case.
func (s *Service) Result(ctx context.Context, id domain.ID) (domain.PublicView, error) {
	st, err := s.Store.ReadStub(ctx, id)
	if err != nil {
		return domain.PublicView{}, err
	}
	return st.Public(), nil
}

// SweepStale returns processing cases whose claim is older than olderThan to
// pending. A worker that crashed between claim and confirm loses its lease here.
// The sweep never writes into processing: the move is its only mutation of a
// held record, and a record without a claim stamp is left alone.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	held, err := s.Store.List(ctx, domain.PartitionProcessing)
	if err != nil {
		return 0, fmt.Errorf("list processing: %w", err)
	}
	now := s.now()
	expired := func(r *domain.Record) bool {
		return r.ClaimedAt != nil && now.Sub(*r.ClaimedAt) >= olderThan
	}

	swept := 0
	for _, listed := range held {
		if !expired(listed) {
			continue
		}
		// the listing may predate a release and a fresh claim
		rec, err := s.Store.Read(ctx, domain.PartitionProcessing, listed.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return swept, err
		}
		if !expired(rec) {
			continue
		}
		err = s.Store.Transition(ctx, rec.ID, domain.PartitionProcessing, domain.PartitionPending)
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return swept, err
		}

		s.expireStub(ctx, rec)
		s.record(EventSwept)
		log.Printf("case lease expired id=%s claimed_at=%s", rec.ID, rec.ClaimedAt.Format(time.RFC3339))
		swept++
	}
	return swept, nil
}

// expireStub marks the stub pending unless a newer claim already stamped it.
func (s *Service) expireStub(ctx context.Context, rec *domain.Record) {
	st, err := s.Store.ReadStub(ctx, rec.ID)
	if err != nil {
		log.Printf("warn: read stub id=%s err=%v", rec.ID, err)
		return
	}
	if st.ProcessingAt != nil && !st.ProcessingAt.Equal(*rec.ClaimedAt) {
		return
	}
	next, expected := st.Status.Apply(domain.EventReleased)
	if !expected {
		log.Printf("warn: stub id=%s event=%s from status=%s", rec.ID, domain.EventReleased, st.Status)
	}
	st.Status = next
	st.Note = NoteLeaseExpired
	st.ProcessingAt = nil
	if err := s.Store.WriteStub(ctx, st); err != nil {
		log.Printf("warn: write stub id=%s err=%v", rec.ID, err)
	}
}

// Depth reports how many records sit in each partition.
func (s *Service) Depth(ctx context.Context) (domain.Depth, error) {
	var d domain.Depth
	for p, n := range map[domain.Partition]*int{
		domain.PartitionPending:    &d.Pending,
		domain.PartitionProcessing: &d.Processing,
		domain.PartitionError:      &d.Error,
	} {
		recs, err := s.Store.List(ctx, p)
		if err != nil {
			return domain.Depth{}, fmt.Errorf("list %s: %w", p, err)
		}
		*n = len(recs)
	}
	return d, nil
}

var _ domain.Gateway = (*Service)(nil)
