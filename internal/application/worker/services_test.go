package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/bryanwahyu/casegate/internal/application"
	appcases "github.com/bryanwahyu/casegate/internal/application/cases"
	"github.com/bryanwahyu/casegate/internal/domain/archive"
	archmocks "github.com/bryanwahyu/casegate/internal/domain/archive/mocks"
	"github.com/bryanwahyu/casegate/internal/domain/cases"
	casemocks "github.com/bryanwahyu/casegate/internal/domain/cases/mocks"
	"github.com/bryanwahyu/casegate/internal/infra/fsstore"
)

var (
	testNow   = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	testImage = []byte{0xFF, 0xD8, 0xFF, 0xE0, 'j', 'p', 'e', 'g'}
	testLevel = cases.Assessment{Level: 2, Prob: 0.87, Suggestion: "observe"}
)

type mocked struct {
	gw       *casemocks.MockGateway
	repo     *archmocks.MockRepository
	images   *archmocks.MockImageStore
	analyzer *archmocks.MockAnalyzer
	svc      *Service
}

func newMocked(t *testing.T) *mocked {
	ctrl := gomock.NewController(t)
	m := &mocked{
		gw:       casemocks.NewMockGateway(ctrl),
		repo:     archmocks.NewMockRepository(ctrl),
		images:   archmocks.NewMockImageStore(ctrl),
		analyzer: archmocks.NewMockAnalyzer(ctrl),
	}
	m.svc = &Service{
		Gateway:  m.gw,
		Repo:     m.repo,
		Images:   m.images,
		Analyzer: m.analyzer,
		Clock:    &application.FixedClock{T: testNow},
	}
	return m
}

func claimed() *cases.ClaimResult {
	return &cases.ClaimResult{
		Status:  cases.ClaimOK,
		ID:      "c1",
		Receipt: "r1",
		Record: &cases.Record{
			ID: "c1", Receipt: "r1", CreatedAt: testNow.Add(-time.Hour),
			Name: "Ann", Phone: "1", Handle: "ann", ImageFilename: "c1.jpg",
			Status: cases.StatusProcessing,
		},
		ImageB64: base64.StdEncoding.EncodeToString(testImage),
		ImageExt: ".jpg",
	}
}

func TestProcessOne_Empty(t *testing.T) {
	m := newMocked(t)
	m.gw.EXPECT().Claim(gomock.Any()).Return(&cases.ClaimResult{Status: cases.ClaimEmpty}, nil)

	out, err := m.svc.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, out)
}

func TestProcessOne_Quarantined(t *testing.T) {
	m := newMocked(t)
	m.gw.EXPECT().Claim(gomock.Any()).Return(&cases.ClaimResult{Status: cases.ClaimError, ID: "c9", Error: "image missing"}, nil)

	out, err := m.svc.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuarantined, out)
}

func TestProcessOne_ClaimFails(t *testing.T) {
	m := newMocked(t)
	m.gw.EXPECT().Claim(gomock.Any()).Return(nil, errors.New("connection refused"))

	out, err := m.svc.ProcessOne(context.Background())
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)
}

func TestProcessOne_HappyPath(t *testing.T) {
	m := newMocked(t)
	gomock.InOrder(
		m.gw.EXPECT().Claim(gomock.Any()).Return(claimed(), nil),
		m.images.EXPECT().Put(gomock.Any(), "cases/c1.jpg", testImage, "image/jpeg").Return("cases/c1.jpg", nil),
		m.repo.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c *archive.Case) error {
			assert.Equal(t, cases.ID("c1"), c.ID)
			assert.Equal(t, "Ann", c.Name)
			assert.Equal(t, "cases/c1.jpg", c.ImageKey)
			assert.Equal(t, testNow, c.ArchivedAt)
			return nil
		}),
		m.gw.EXPECT().Confirm(gomock.Any(), cases.ID("c1"), "r1").Return(&cases.ConfirmResult{ID: "c1", Warnings: []string{"image cleanup failed"}}, nil),
		m.analyzer.EXPECT().Assess(gomock.Any(), testImage, ".jpg").Return(testLevel, nil),
		m.gw.EXPECT().UpdateResult(gomock.Any(), cases.ID("c1"), "r1", testLevel).Return(nil),
		m.repo.EXPECT().SaveAssessment(gomock.Any(), cases.ID("c1"), testLevel, testNow).Return(nil),
	)

	out, err := m.svc.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)
}

func TestProcessOne_NoImageStore(t *testing.T) {
	m := newMocked(t)
	m.svc.Images = nil
	m.gw.EXPECT().Claim(gomock.Any()).Return(claimed(), nil)
	m.repo.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c *archive.Case) error {
		assert.Empty(t, c.ImageKey)
		return nil
	})
	m.gw.EXPECT().Confirm(gomock.Any(), cases.ID("c1"), "r1").Return(&cases.ConfirmResult{ID: "c1"}, nil)
	m.analyzer.EXPECT().Assess(gomock.Any(), testImage, ".jpg").Return(testLevel, nil)
	m.gw.EXPECT().UpdateResult(gomock.Any(), cases.ID("c1"), "r1", testLevel).Return(nil)
	m.repo.EXPECT().SaveAssessment(gomock.Any(), cases.ID("c1"), testLevel, testNow).Return(errors.New("db gone"))

	out, err := m.svc.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)
}

func TestProcessOne_ArchiveFailureAborts(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *mocked)
	}{
		{
			name: "repository save",
			setup: func(m *mocked) {
				m.images.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("k", nil)
				m.repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("db down"))
			},
		},
		{
			name: "image put",
			setup: func(m *mocked) {
				m.images.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("bucket gone"))
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newMocked(t)
			m.gw.EXPECT().Claim(gomock.Any()).Return(claimed(), nil)
			tc.setup(m)
			m.gw.EXPECT().Abort(gomock.Any(), cases.ID("c1"), "r1", gomock.Any()).Return(nil)

			out, err := m.svc.ProcessOne(context.Background())
			assert.Error(t, err)
			assert.Equal(t, OutcomeAborted, out)
		})
	}
}

func TestProcessOne_BadImageAborts(t *testing.T) {
	m := newMocked(t)
	res := claimed()
	res.ImageB64 = "%%%"
	m.gw.EXPECT().Claim(gomock.Any()).Return(res, nil)
	m.gw.EXPECT().Abort(gomock.Any(), cases.ID("c1"), "r1", gomock.Any()).Return(nil)

	out, err := m.svc.ProcessOne(context.Background())
	assert.Error(t, err)
	assert.Equal(t, OutcomeAborted, out)
}

func TestProcessOne_AbortSurvivesCancelledContext(t *testing.T) {
	m := newMocked(t)
	ctx, cancel := context.WithCancel(context.Background())
	m.gw.EXPECT().Claim(gomock.Any()).Return(claimed(), nil)
	m.images.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string, []byte, string) (string, error) {
			cancel()
			return "", context.Canceled
		})
	m.gw.EXPECT().Abort(gomock.Any(), cases.ID("c1"), "r1", gomock.Any()).DoAndReturn(
		func(actx context.Context, _ cases.ID, _, _ string) error {
			assert.NoError(t, actx.Err())
			return nil
		})

	out, err := m.svc.ProcessOne(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeAborted, out)
}

func TestProcessOne_AbortFails(t *testing.T) {
	m := newMocked(t)
	m.gw.EXPECT().Claim(gomock.Any()).Return(claimed(), nil)
	m.images.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("k", nil)
	m.repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("db down"))
	m.gw.EXPECT().Abort(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(cases.ErrReceiptMismatch)

	out, err := m.svc.ProcessOne(context.Background())
	assert.ErrorIs(t, err, cases.ErrReceiptMismatch)
	assert.Equal(t, OutcomeFailed, out)
}

func TestProcessOne_AssessFailsAfterConfirm(t *testing.T) {
	m := newMocked(t)
	m.gw.EXPECT().Claim(gomock.Any()).Return(claimed(), nil)
	m.images.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("k", nil)
	m.repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)
	m.gw.EXPECT().Confirm(gomock.Any(), cases.ID("c1"), "r1").Return(&cases.ConfirmResult{ID: "c1"}, nil)
	m.analyzer.EXPECT().Assess(gomock.Any(), gomock.Any(), gomock.Any()).Return(cases.Assessment{}, archive.ErrQuotaExceeded)

	out, err := m.svc.ProcessOne(context.Background())
	assert.ErrorIs(t, err, archive.ErrQuotaExceeded)
	assert.Equal(t, OutcomeConfirmed, out)
}

func TestProcessOne_ConfirmFails(t *testing.T) {
	m := newMocked(t)
	m.gw.EXPECT().Claim(gomock.Any()).Return(claimed(), nil)
	m.images.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("k", nil)
	m.repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)
	m.gw.EXPECT().Confirm(gomock.Any(), cases.ID("c1"), "r1").Return(nil, cases.ErrNotFound)

	out, err := m.svc.ProcessOne(context.Background())
	assert.ErrorIs(t, err, cases.ErrNotFound)
	assert.Equal(t, OutcomeFailed, out)
}

//
// ==== against a real gateway service ====
//

type memRepo struct {
	mu    sync.Mutex
	fail  error
	cases map[cases.ID]*archive.Case
}

func (r *memRepo) Save(_ context.Context, c *archive.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if r.cases == nil {
		r.cases = map[cases.ID]*archive.Case{}
	}
	cp := *c
	r.cases[c.ID] = &cp
	return nil
}

func (r *memRepo) SaveAssessment(_ context.Context, id cases.ID, a cases.Assessment, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return archive.ErrNotFound
	}
	c.AILevel, c.AIProb, c.AISuggestion, c.AssessedAt = &a.Level, &a.Prob, &a.Suggestion, &at
	return nil
}

func (r *memRepo) Get(_ context.Context, id cases.ID) (*archive.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, archive.ErrNotFound
	}
	return c, nil
}

func (r *memRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cases)
}

type fixedAnalyzer struct{}

func (fixedAnalyzer) Assess(context.Context, []byte, string) (cases.Assessment, error) {
	return testLevel, nil
}

func newGateway(t *testing.T) (*appcases.Service, *fsstore.Store) {
	t.Helper()
	st, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	return &appcases.Service{Store: st, Clock: &application.FixedClock{T: testNow}}, st
}

func submit(t *testing.T, gw *appcases.Service, name string) cases.ID {
	t.Helper()
	img := make([]byte, 2048)
	copy(img, testImage)
	id, err := gw.Submit(context.Background(), appcases.SubmitCommand{
		Name: name, Phone: "1", Handle: name, Image: bytes.NewReader(img),
	})
	require.NoError(t, err)
	return id
}

func TestProcessOne_AgainstGateway(t *testing.T) {
	ctx := context.Background()
	gw, st := newGateway(t)
	id := submit(t, gw, "Ann")
	repo := &memRepo{}
	w := &Service{Gateway: gw, Repo: repo, Analyzer: fixedAnalyzer{}, Clock: &application.FixedClock{T: testNow}}

	out, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
	require.NotNil(t, got.AILevel)
	assert.Equal(t, 2, *got.AILevel)

	view, err := gw.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cases.StatusDone, view.Status)
	_, err = st.Read(ctx, cases.PartitionProcessing, id)
	assert.ErrorIs(t, err, cases.ErrNotFound)

	out, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, out)
}

func TestProcessOne_ArchiveDownReleasesCase(t *testing.T) {
	ctx := context.Background()
	gw, st := newGateway(t)
	id := submit(t, gw, "Bea")
	w := &Service{Gateway: gw, Repo: &memRepo{fail: errors.New("db down")}, Analyzer: fixedAnalyzer{}}

	out, err := w.ProcessOne(ctx)
	assert.Error(t, err)
	assert.Equal(t, OutcomeAborted, out)

	rec, err := st.Read(ctx, cases.PartitionPending, id)
	require.NoError(t, err)
	assert.Equal(t, "Bea", rec.Name)
	view, err := gw.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cases.StatusPending, view.Status)
}

func TestRun_DrainsQueue(t *testing.T) {
	gw, _ := newGateway(t)
	const total = 12
	for i := 0; i < total; i++ {
		submit(t, gw, "n")
	}
	repo := &memRepo{}
	w := &Service{Gateway: gw, Repo: repo, Analyzer: fixedAnalyzer{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 4, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return repo.len() == total }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
