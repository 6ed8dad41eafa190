package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"mailsentry/internal/evaluator"
	"mailsentry/internal/mailbox"
	"mailsentry/internal/model"
	"mailsentry/internal/repository"
	"mailsentry/pkg/metrics"
)

// Sentinel errors surfaced to API callers. Evaluator and transient
// failures are absorbed inside the pipeline and never appear here.
var (
	ErrEmailNotFound      = repository.ErrEmailNotFound
	ErrRecordNotFound     = repository.ErrRecordNotFound
	ErrAlreadyInitialized = repository.ErrAlreadyInitialized
	ErrNotAllSignalsDone  = repository.ErrNotAllSignalsDone
	ErrFusionNotDone      = errors.New("fusion not completed")
	ErrForbidden          = errors.New("email belongs to another user")
)

const explanationFallback = "explanation unavailable"

// EmailStore is the email persistence surface the detection service
// uses.
type EmailStore interface {
	GetByID(ctx context.Context, id int) (*model.Email, error)
	SetDetectionStatus(ctx context.Context, id int, status model.DetectionStatus) error
	ListByUser(ctx context.Context, userID int) ([]model.Email, error)
}

// RecordStore is the detection record persistence surface.
type RecordStore interface {
	CompletionStore
	CreateRecord(ctx context.Context, rec *model.DetectionRecord) (int, error)
	GetByEmailID(ctx context.Context, emailID int) (*model.DetectionRecord, error)
	MarkSignalsRunning(ctx context.Context, emailID int) error
	BeginFusion(ctx context.Context, emailID int) (*model.DetectionRecord, error)
	SaveFusion(ctx context.Context, emailID int, score float64, verdict bool, explanation string) error
	SaveEnrichment(ctx context.Context, emailID int, e *model.Enrichment) error
	ConfirmPhishing(ctx context.Context, emailID int) error
	Overview(ctx context.Context, userID int) (*model.DetectionOverview, error)
}

// FusionOutcome couples the numeric fusion result with its synthesized
// explanation.
type FusionOutcome struct {
	FusionResult
	Explanation string
}

// DetectionService drives the per-email detection lifecycle: weight
// initialization, parallel signal fan-out, fusion, enrichment, and the
// confirmed-phishing bypass.
type DetectionService struct {
	emails    EmailStore
	records   RecordStore
	evaluator evaluator.SignalEvaluator
	synth     evaluator.Synthesizer
	enricher  evaluator.Enricher
	orch      *Orchestrator
	threshold float64
	logger    *zap.Logger
}

func NewDetectionService(
	emails EmailStore,
	records RecordStore,
	eval evaluator.SignalEvaluator,
	synth evaluator.Synthesizer,
	enricher evaluator.Enricher,
	orch *Orchestrator,
	threshold float64,
	logger *zap.Logger,
) *DetectionService {
	if threshold <= 0 {
		threshold = DefaultFusionThreshold
	}
	return &DetectionService{
		emails:    emails,
		records:   records,
		evaluator: eval,
		synth:     synth,
		enricher:  enricher,
		orch:      orch,
		threshold: threshold,
		logger:    logger,
	}
}

// Start initializes the detection record for an email and fans out one
// task per applicable signal. A second call for the same email returns
// ErrAlreadyInitialized rather than re-submitting tasks.
func (s *DetectionService) Start(ctx context.Context, userID, emailID int) error {
	email, err := s.ownedEmail(ctx, userID, emailID)
	if err != nil {
		return err
	}

	weights := ComputeWeights(email.Body, email.Headers)

	rec := &model.DetectionRecord{
		EmailID: emailID,
		Stage:   model.StageParallel,
	}
	for _, kind := range model.AllSignals {
		state := rec.Signal(kind)
		if weights.Applicable(kind) {
			state.Weight = weights.Of(kind)
			state.Status = model.SignalNotStarted
		} else {
			state.Status = model.SignalSkipped
		}
	}

	if _, err := s.records.CreateRecord(ctx, rec); err != nil {
		return err
	}
	if err := s.emails.SetDetectionStatus(ctx, emailID, model.DetectionRunning); err != nil {
		return err
	}
	if err := s.records.MarkSignalsRunning(ctx, emailID); err != nil {
		return err
	}

	body := email.Body
	headers := mailbox.ParseHeaderMap(email.Headers)
	for _, kind := range model.AllSignals {
		if !weights.Applicable(kind) {
			continue
		}
		var run EvaluateFunc
		switch kind {
		case model.SignalContent:
			run = func(ctx context.Context) (evaluator.Result, error) {
				return s.evaluator.EvaluateContent(ctx, body)
			}
		case model.SignalURL:
			run = func(ctx context.Context) (evaluator.Result, error) {
				return s.evaluator.EvaluateURL(ctx, body)
			}
		case model.SignalMetadata:
			run = func(ctx context.Context) (evaluator.Result, error) {
				return s.evaluator.EvaluateMetadata(ctx, headers)
			}
		}
		s.orch.Submit(userID, emailID, kind, run)
	}

	s.logger.Info("Detection started",
		zap.Int("email_id", emailID),
		zap.Int("user_id", userID),
	)
	return nil
}

// Fuse advances an email to the fusion stage and computes the composite
// verdict. It re-validates that every non-skipped signal is DONE, so an
// explicit call can never race the orchestrator into a premature fusion.
func (s *DetectionService) Fuse(ctx context.Context, userID, emailID int) (*FusionOutcome, error) {
	if _, err := s.ownedEmail(ctx, userID, emailID); err != nil {
		return nil, err
	}

	rec, err := s.records.BeginFusion(ctx, emailID)
	if err != nil {
		return nil, err
	}

	result := FuseScores(rec, s.threshold)
	if result.Degenerate {
		s.logger.Warn("Fusion ran with zero active signals, failing closed",
			zap.Int("email_id", emailID),
		)
	}

	explanation := s.explain(ctx, rec, result)

	if err := s.records.SaveFusion(ctx, emailID, result.Score, result.Verdict, explanation); err != nil {
		return nil, err
	}
	if err := s.emails.SetDetectionStatus(ctx, emailID, model.DetectionSuccess); err != nil {
		return nil, err
	}

	verdictLabel := "legitimate"
	if result.Verdict {
		verdictLabel = "phishing"
	}
	metrics.IncrementFusionVerdict(verdictLabel)
	s.logger.Info("Fusion completed",
		zap.Int("email_id", emailID),
		zap.Float64("score", result.Score),
		zap.String("verdict", verdictLabel),
	)

	return &FusionOutcome{FusionResult: result, Explanation: explanation}, nil
}

// explain asks the synthesizer to reconcile per-signal reasons with the
// fused outcome. The numeric verdict is already final; a failed
// explanation call degrades to a fixed string.
func (s *DetectionService) explain(ctx context.Context, rec *model.DetectionRecord, result FusionResult) string {
	in := evaluator.SynthesisInput{
		Score:     result.Score,
		Threshold: result.Threshold,
		Verdict:   evaluator.VerdictLegitimate,
	}
	if result.Verdict {
		in.Verdict = evaluator.VerdictPhishing
	}
	for _, kind := range rec.ActiveSignals() {
		state := rec.Signal(kind)
		res := &evaluator.Result{
			Verdict:     evaluator.VerdictLegitimate,
			Probability: state.Probability,
			Confidence:  state.Confidence,
			Reasons:     state.Reason,
		}
		if state.Verdict {
			res.Verdict = evaluator.VerdictPhishing
		}
		switch kind {
		case model.SignalContent:
			in.Content = res
		case model.SignalURL:
			in.URL = res
		case model.SignalMetadata:
			in.Metadata = res
		}
	}

	explanation, err := s.synth.Explain(ctx, in)
	if err != nil || explanation == "" {
		if err != nil {
			s.logger.Warn("Explanation synthesis failed",
				zap.Int("email_id", rec.EmailID),
				zap.Error(err),
			)
		}
		return explanationFallback
	}
	return explanation
}

// Enrich runs the stage-four summarization pass over the raw email
// body. It requires fusion to have run but is independent of the
// verdict.
func (s *DetectionService) Enrich(ctx context.Context, userID, emailID int) (*model.Enrichment, error) {
	email, err := s.ownedEmail(ctx, userID, emailID)
	if err != nil {
		return nil, err
	}
	rec, err := s.records.GetByEmailID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if rec.Stage < model.StageFusion {
		return nil, ErrFusionNotDone
	}

	enr, err := s.enricher.Enrich(ctx, email.Body)
	if err != nil {
		s.logger.Error("Enrichment failed",
			zap.Int("email_id", emailID),
			zap.Error(err),
		)
		return nil, err
	}
	if err := s.records.SaveEnrichment(ctx, emailID, &enr); err != nil {
		return nil, err
	}
	s.logger.Info("Enrichment completed", zap.Int("email_id", emailID))
	return &enr, nil
}

// ConfirmPhishing forces a terminal confirmed-phishing outcome without
// running the signal pipeline. Idempotent; the stage never regresses
// and per-signal fields are not back-filled.
func (s *DetectionService) ConfirmPhishing(ctx context.Context, userID, emailID int) error {
	if _, err := s.ownedEmail(ctx, userID, emailID); err != nil {
		return err
	}
	if err := s.records.ConfirmPhishing(ctx, emailID); err != nil {
		return err
	}
	return s.emails.SetDetectionStatus(ctx, emailID, model.DetectionSuccess)
}

// Detail returns the detection record for one of the user's emails.
func (s *DetectionService) Detail(ctx context.Context, userID, emailID int) (*model.DetectionRecord, error) {
	if _, err := s.ownedEmail(ctx, userID, emailID); err != nil {
		return nil, err
	}
	return s.records.GetByEmailID(ctx, emailID)
}

// List returns the user's emails, newest first.
func (s *DetectionService) List(ctx context.Context, userID int) ([]model.Email, error) {
	return s.emails.ListByUser(ctx, userID)
}

// Overview aggregates detection outcomes across the user's mailbox.
func (s *DetectionService) Overview(ctx context.Context, userID int) (*model.DetectionOverview, error) {
	return s.records.Overview(ctx, userID)
}

func (s *DetectionService) ownedEmail(ctx context.Context, userID, emailID int) (*model.Email, error) {
	email, err := s.emails.GetByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email.UserID != userID {
		return nil, ErrForbidden
	}
	return email, nil
}
