package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsentry/internal/evaluator"
	"mailsentry/internal/model"
)

const phishingBody = "URGENT: verify your account at https://paypa1-secure.example.com/login or it will be suspended"

func newTestDetectionService(store *memoryStore, eval *fakeEvaluator) (*DetectionService, *fakeNotifier) {
	notifier := &fakeNotifier{}
	orch := NewOrchestrator(store, notifier, 3, time.Second, zap.NewNop())
	svc := NewDetectionService(store, store, eval, eval, eval, orch, 0.6, zap.NewNop())
	return svc, notifier
}

func addTestEmail(store *memoryStore, userID int) *model.Email {
	return store.addEmail(model.Email{
		UserID:  userID,
		Subject: "Account notice",
		Sender:  "security@paypa1.example.com",
		Body:    phishingBody,
		Headers: "From: security@paypa1.example.com\nSubject: Account notice\nDate: Mon, 02 Jan 2006 15:04:05 -0700",
	})
}

func waitForParallelDone(t *testing.T, store *memoryStore, emailID int) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec := store.record(emailID)
		return rec != nil && rec.ParallelCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartInitializesRecordAndFansOut(t *testing.T) {
	store := newMemoryStore()
	eval := newFakeEvaluator()
	svc, _ := newTestDetectionService(store, eval)
	email := addTestEmail(store, 7)

	require.NoError(t, svc.Start(context.Background(), 7, email.ID))

	rec := store.record(email.ID)
	require.NotNil(t, rec)
	assert.Equal(t, model.StageParallel, rec.Stage)
	assert.InDelta(t, 1.0, rec.Content.Weight+rec.URL.Weight+rec.Metadata.Weight, 1e-6)

	e, err := store.GetByID(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DetectionRunning, e.DetectionStatus)

	waitForParallelDone(t, store, email.ID)
	assert.Equal(t, 1, eval.callCount("content"))
	assert.Equal(t, 1, eval.callCount("url"))
	assert.Equal(t, 1, eval.callCount("metadata"))
}

func TestStartRejectsReinitialization(t *testing.T) {
	store := newMemoryStore()
	eval := newFakeEvaluator()
	svc, _ := newTestDetectionService(store, eval)
	email := addTestEmail(store, 7)

	require.NoError(t, svc.Start(context.Background(), 7, email.ID))
	waitForParallelDone(t, store, email.ID)

	err := svc.Start(context.Background(), 7, email.ID)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, 1, eval.callCount("content"))
}

func TestStartRejectsForeignEmail(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestDetectionService(store, newFakeEvaluator())
	email := addTestEmail(store, 7)

	err := svc.Start(context.Background(), 8, email.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	err = svc.Start(context.Background(), 7, email.ID+100)
	assert.ErrorIs(t, err, ErrEmailNotFound)
}

func TestStartSkipsInapplicableSignals(t *testing.T) {
	store := newMemoryStore()
	eval := newFakeEvaluator()
	svc, _ := newTestDetectionService(store, eval)
	email := store.addEmail(model.Email{
		UserID:  7,
		Body:    "plain text without links",
		Headers: "From: someone@example.com",
	})

	require.NoError(t, svc.Start(context.Background(), 7, email.ID))
	waitForParallelDone(t, store, email.ID)

	rec := store.record(email.ID)
	assert.Equal(t, model.SignalSkipped, rec.URL.Status)
	assert.Zero(t, rec.URL.Weight)
	assert.Equal(t, 0, eval.callCount("url"))
	assert.Equal(t, 1, eval.callCount("content"))
}

func TestFuseRequiresAllSignalsDone(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestDetectionService(store, newFakeEvaluator())
	email := addTestEmail(store, 7)

	rec := &model.DetectionRecord{
		EmailID: email.ID,
		Stage:   model.StageParallel,
		Content: model.SignalState{Weight: 1, Status: model.SignalRunning},
		URL:     model.SignalState{Status: model.SignalSkipped},
		Metadata: model.SignalState{
			Status: model.SignalSkipped,
		},
	}
	_, err := store.CreateRecord(context.Background(), rec)
	require.NoError(t, err)

	_, err = svc.Fuse(context.Background(), 7, email.ID)
	assert.ErrorIs(t, err, ErrNotAllSignalsDone)
}

func TestFullPipelineFusesAndExplains(t *testing.T) {
	store := newMemoryStore()
	eval := newFakeEvaluator()
	eval.content = evaluator.Result{Verdict: evaluator.VerdictPhishing, Probability: 0.9, Confidence: 0.8, Reasons: "urgent language"}
	eval.url = evaluator.Result{Verdict: evaluator.VerdictLegitimate, Probability: 0.2, Confidence: 0.9, Reasons: "known domain"}
	eval.metadata = evaluator.Result{Verdict: evaluator.VerdictLegitimate, Probability: 0.3, Confidence: 0.7, Reasons: "headers consistent"}
	svc, notifier := newTestDetectionService(store, eval)
	email := addTestEmail(store, 7)

	require.NoError(t, svc.Start(context.Background(), 7, email.ID))
	waitForParallelDone(t, store, email.ID)
	assert.Equal(t, 1, notifier.count())

	outcome, err := svc.Fuse(context.Background(), 7, email.ID)
	require.NoError(t, err)

	// 0.5*0.72 + 0.3*0.18 + 0.2*0.21 = 0.456
	assert.InDelta(t, 0.456, outcome.Score, 1e-9)
	assert.False(t, outcome.Verdict)
	assert.Equal(t, "synthesized explanation", outcome.Explanation)

	rec := store.record(email.ID)
	assert.Equal(t, model.StageFusion, rec.Stage)
	assert.InDelta(t, 0.456, rec.FusedScore, 1e-9)

	e, err := store.GetByID(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DetectionSuccess, e.DetectionStatus)
}

func TestFuseExplanationFallsBack(t *testing.T) {
	store := newMemoryStore()
	eval := newFakeEvaluator()
	eval.explainErr = errEvaluatorDown
	svc, _ := newTestDetectionService(store, eval)
	email := addTestEmail(store, 7)

	require.NoError(t, svc.Start(context.Background(), 7, email.ID))
	waitForParallelDone(t, store, email.ID)

	outcome, err := svc.Fuse(context.Background(), 7, email.ID)
	require.NoError(t, err)
	assert.Equal(t, explanationFallback, outcome.Explanation)
}

func TestEnrichRequiresFusion(t *testing.T) {
	store := newMemoryStore()
	eval := newFakeEvaluator()
	svc, _ := newTestDetectionService(store, eval)
	email := addTestEmail(store, 7)

	require.NoError(t, svc.Start(context.Background(), 7, email.ID))
	waitForParallelDone(t, store, email.ID)

	_, err := svc.Enrich(context.Background(), 7, email.ID)
	assert.ErrorIs(t, err, ErrFusionNotDone)

	_, err = svc.Fuse(context.Background(), 7, email.ID)
	require.NoError(t, err)

	scheduleTime := time.Date(2026, 9, 15, 10, 0, 0, 0, time.Local)
	eval.enrichment = model.Enrichment{
		Summary:      "account verification request",
		Category:     "security",
		Urgency:      model.UrgencyUrgent,
		Importance:   model.ImportanceHigh,
		NeedSchedule: true,
		ScheduleName: "verify account",
		ScheduleTime: &scheduleTime,
	}

	enr, err := svc.Enrich(context.Background(), 7, email.ID)
	require.NoError(t, err)
	assert.Equal(t, "account verification request", enr.Summary)

	rec := store.record(email.ID)
	assert.Equal(t, model.StageEnriched, rec.Stage)
	assert.Equal(t, model.UrgencyUrgent, rec.Urgency)
	assert.True(t, rec.NeedSchedule)
}

func TestEnrichSurfacesEvaluatorError(t *testing.T) {
	store := newMemoryStore()
	eval := newFakeEvaluator()
	eval.enrichErr = errEvaluatorDown
	svc, _ := newTestDetectionService(store, eval)
	email := addTestEmail(store, 7)

	require.NoError(t, svc.Start(context.Background(), 7, email.ID))
	waitForParallelDone(t, store, email.ID)
	_, err := svc.Fuse(context.Background(), 7, email.ID)
	require.NoError(t, err)

	_, err = svc.Enrich(context.Background(), 7, email.ID)
	assert.ErrorIs(t, err, errEvaluatorDown)

	rec := store.record(email.ID)
	assert.Equal(t, model.StageFusion, rec.Stage)
}

func TestConfirmPhishingIsIdempotentAndMonotone(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestDetectionService(store, newFakeEvaluator())
	email := addTestEmail(store, 7)

	require.NoError(t, svc.ConfirmPhishing(context.Background(), 7, email.ID))
	require.NoError(t, svc.ConfirmPhishing(context.Background(), 7, email.ID))

	rec := store.record(email.ID)
	assert.Equal(t, model.StageEnriched, rec.Stage)
	assert.True(t, rec.Confirmed)
	assert.True(t, rec.FusedVerdict)

	// The bypass never back-fills per-signal state.
	assert.Equal(t, model.SignalNotStarted, rec.Content.Status)
	assert.Zero(t, rec.Content.Probability)

	e, err := store.GetByID(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DetectionSuccess, e.DetectionStatus)
}

func TestStageNeverRegresses(t *testing.T) {
	store := newMemoryStore()
	eval := newFakeEvaluator()
	svc, _ := newTestDetectionService(store, eval)
	email := addTestEmail(store, 7)

	require.NoError(t, svc.ConfirmPhishing(context.Background(), 7, email.ID))
	require.Equal(t, model.StageEnriched, store.record(email.ID).Stage)

	// A later explicit fusion on the confirmed record must not move the
	// stage backwards.
	err := svc.Start(context.Background(), 7, email.ID)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, model.StageEnriched, store.record(email.ID).Stage)
}

func TestDetailAndOverview(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestDetectionService(store, newFakeEvaluator())
	email := addTestEmail(store, 7)
	other := addTestEmail(store, 8)

	require.NoError(t, svc.ConfirmPhishing(context.Background(), 7, email.ID))

	rec, err := svc.Detail(context.Background(), 7, email.ID)
	require.NoError(t, err)
	assert.True(t, rec.Confirmed)

	_, err = svc.Detail(context.Background(), 7, other.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	overview, err := svc.Overview(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, overview.Total)
	assert.Equal(t, 1, overview.Phishing)

	emails, err := svc.List(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, emails, 1)
}
