package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"mime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/casegate/internal/application"
	"github.com/bryanwahyu/casegate/internal/domain/archive"
	"github.com/bryanwahyu/casegate/internal/domain/cases"
)

// Outcome of one ProcessOne pass
type Outcome string

const (
	OutcomeEmpty       Outcome = "empty"
	OutcomeQuarantined Outcome = "quarantined"
	OutcomeAborted     Outcome = "aborted"
	// OutcomeConfirmed means the case was archived and purged but no result was recorded.
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
)

const abortTimeout = 10 * time.Second

// Service is the trusted worker: it moves personal data out of the gateway
// into the archive and reports an assessment back.
// Images may be nil, in which case the image is not archived.
type Service struct {
	Gateway  cases.Gateway
	Repo     archive.Repository
	Images   archive.ImageStore
	Analyzer archive.Analyzer
	Clock    application.Clock
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return application.SystemClock{}.Now()
	}
	return s.Clock.Now()
}

// ProcessOne claims at most one case and drives it through
// archive, confirm, assess and result-update.
// Nothing is confirmed unless the archive write succeeded.
func (s *Service) ProcessOne(ctx context.Context) (Outcome, error) {
	res, err := s.Gateway.Claim(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("claim: %w", err)
	}
	switch res.Status {
	case cases.ClaimEmpty:
		return OutcomeEmpty, nil
	case cases.ClaimError:
		log.Printf("worker: case quarantined by gateway id=%s note=%q", res.ID, res.Error)
		return OutcomeQuarantined, nil
	case cases.ClaimOK:
	default:
		return OutcomeFailed, fmt.Errorf("claim: unknown status %q", res.Status)
	}

	image, err := s.archive(ctx, res)
	if err != nil {
		if aerr := s.abort(ctx, res, err); aerr != nil {
			return OutcomeFailed, errors.Join(err, aerr)
		}
		return OutcomeAborted, err
	}

	conf, err := s.Gateway.Confirm(ctx, res.ID, res.Receipt)
	if err != nil {
		// still held; a sweep hands it back and the archive write is an upsert
		return OutcomeFailed, fmt.Errorf("confirm %s: %w", res.ID, err)
	}
	for _, w := range conf.Warnings {
		log.Printf("worker: confirm warning id=%s warning=%q", res.ID, w)
	}

	a, err := s.Analyzer.Assess(ctx, image, res.ImageExt)
	if err != nil {
		return OutcomeConfirmed, fmt.Errorf("assess %s: %w", res.ID, err)
	}
	if err := s.Gateway.UpdateResult(ctx, res.ID, res.Receipt, a); err != nil {
		return OutcomeConfirmed, fmt.Errorf("result-update %s: %w", res.ID, err)
	}
	if err := s.Repo.SaveAssessment(ctx, res.ID, a, s.now()); err != nil {
		log.Printf("worker: warn archive assessment id=%s err=%v", res.ID, err)
	}

	log.Printf("worker: case processed id=%s level=%d", res.ID, a.Level)
	return OutcomeProcessed, nil
}

// archive persists the claimed case and returns the decoded image.
func (s *Service) archive(ctx context.Context, res *cases.ClaimResult) ([]byte, error) {
	if res.Record == nil {
		return nil, errors.New("claim carried no record")
	}
	image, err := base64.StdEncoding.DecodeString(res.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	key := ""
	if s.Images != nil {
		key = archive.ImageKey(res.ID, res.ImageExt)
		if _, err := s.Images.Put(ctx, key, image, mime.TypeByExtension(res.ImageExt)); err != nil {
			return nil, fmt.Errorf("archive image: %w", err)
		}
	}
	if err := s.Repo.Save(ctx, archive.FromRecord(res.Record, key, s.now())); err != nil {
		return nil, fmt.Errorf("archive case: %w", err)
	}
	return image, nil
}

// abort hands the case back even when ctx is already cancelled.
func (s *Service) abort(ctx context.Context, res *cases.ClaimResult, cause error) error {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	log.Printf("worker: aborting id=%s err=%v", res.ID, cause)
	if err := s.Gateway.Abort(actx, res.ID, res.Receipt, cause.Error()); err != nil {
		return fmt.Errorf("abort %s: %w", res.ID, err)
	}
	return nil
}

// Run polls with lanes concurrent loops until ctx is done. Lanes sleep
// pollInterval after an empty claim or a failure.
func (s *Service) Run(ctx context.Context, lanes int, pollInterval time.Duration) error {
	if lanes < 1 {
		lanes = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for lane := 0; lane < lanes; lane++ {
		g.Go(func() error {
			return s.lane(gctx, lane, pollInterval)
		})
	}
	return g.Wait()
}

func (s *Service) lane(ctx context.Context, lane int, poll time.Duration) error {
	log.Printf("worker: lane started lane=%d", lane)
	for {
		if ctx.Err() != nil {
			log.Printf("worker: lane stopped lane=%d", lane)
			return nil
		}
		out, err := s.ProcessOne(ctx)
		if err != nil {
			log.Printf("worker: lane=%d outcome=%s err=%v", lane, out, err)
		}
		if err == nil && out != OutcomeEmpty {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(poll):
		}
	}
}
