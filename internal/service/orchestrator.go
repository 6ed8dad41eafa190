package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailsentry/internal/evaluator"
	"mailsentry/internal/model"
	"mailsentry/pkg/metrics"
)

// Fallback written when an evaluator call fails. Probability stays
// neutral and confidence is capped low so a failed signal can never
// dominate fusion.
const (
	fallbackProbability = 0.5
	fallbackConfidence  = 0.3
)

// CompletionStore is the slice of the detection repository the
// orchestrator needs: atomically record one signal's outcome and learn
// whether that completion finished the parallel stage.
type CompletionStore interface {
	CompleteSignal(ctx context.Context, emailID int, kind model.SignalKind, out model.SignalOutcome) (bool, *model.DetectionRecord, error)
}

// DetectionCompletedEvent is the payload published when every signal of
// an email has finished.
type DetectionCompletedEvent struct {
	UserID   int            `json:"user_id"`
	EmailID  int            `json:"email_id"`
	Stage    int            `json:"stage"`
	Signals  map[string]int `json:"signals"`
	Message  string         `json:"message"`
	Occurred time.Time      `json:"occurred_at"`
}

// Notifier delivers the stage-completion event to downstream consumers.
type Notifier interface {
	DetectionCompleted(ctx context.Context, event DetectionCompletedEvent) error
}

// EvaluateFunc runs one signal evaluation. The orchestrator supplies
// the context, which carries the per-task timeout.
type EvaluateFunc func(ctx context.Context) (evaluator.Result, error)

// TaskKey identifies one detection task. At most one task per key is
// ever in flight.
type TaskKey struct {
	EmailID int
	Signal  model.SignalKind
}

// TaskHandle tracks one submitted detection task. Done is closed when
// the task has finished and its outcome has been persisted.
type TaskHandle struct {
	Key  TaskKey
	done chan struct{}
}

// Done returns a channel closed when the task completes.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Orchestrator runs detection tasks on a bounded worker pool,
// deduplicating submissions by task key. Tasks run to completion; a
// repeated submission never cancels and restarts an in-flight task.
type Orchestrator struct {
	store    CompletionStore
	notifier Notifier
	logger   *zap.Logger

	timeout time.Duration
	sem     chan struct{}

	mu       sync.Mutex
	inflight map[TaskKey]*TaskHandle
}

func NewOrchestrator(store CompletionStore, notifier Notifier, workers int, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 3
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Orchestrator{
		store:    store,
		notifier: notifier,
		logger:   logger,
		timeout:  timeout,
		sem:      make(chan struct{}, workers),
		inflight: make(map[TaskKey]*TaskHandle),
	}
}

// Submit schedules one signal evaluation for an email. If a task with
// the same key is already in flight, the existing handle is returned
// and no second evaluation runs. The evaluation itself happens
// asynchronously; failures are absorbed into a neutral DONE outcome so
// the record never gets stuck.
func (o *Orchestrator) Submit(userID, emailID int, kind model.SignalKind, run EvaluateFunc) *TaskHandle {
	key := TaskKey{EmailID: emailID, Signal: kind}

	o.mu.Lock()
	if existing, ok := o.inflight[key]; ok {
		o.mu.Unlock()
		o.logger.Debug("Detection task already in flight",
			zap.Int("email_id", emailID),
			zap.String("signal", string(kind)),
		)
		return existing
	}
	handle := &TaskHandle{Key: key, done: make(chan struct{})}
	o.inflight[key] = handle
	o.mu.Unlock()

	go o.execute(userID, handle, run)
	return handle
}

func (o *Orchestrator) execute(userID int, handle *TaskHandle, run EvaluateFunc) {
	defer func() {
		o.mu.Lock()
		delete(o.inflight, handle.Key)
		o.mu.Unlock()
		close(handle.done)
	}()

	o.sem <- struct{}{}
	defer func() { <-o.sem }()

	emailID := handle.Key.EmailID
	kind := handle.Key.Signal

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	var out model.SignalOutcome
	res, err := run(ctx)
	if err != nil {
		out = model.SignalOutcome{
			Probability: fallbackProbability,
			Confidence:  fallbackConfidence,
			Verdict:     false,
			Reason:      fmt.Sprintf("detection failed: %v", err),
		}
		metrics.IncrementDetectionTask(string(kind), "fallback")
		o.logger.Warn("Signal evaluation failed, using neutral fallback",
			zap.Int("email_id", emailID),
			zap.String("signal", string(kind)),
			zap.Error(err),
		)
	} else {
		out = model.SignalOutcome{
			Probability: res.Probability,
			Confidence:  res.Confidence,
			Verdict:     res.IsPhishing(),
			Reason:      res.Reasons,
		}
		metrics.IncrementDetectionTask(string(kind), "success")
	}

	// Persistence gets its own context: the evaluation deadline must not
	// leave the record stuck in RUNNING.
	storeCtx, storeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer storeCancel()

	completedNow, rec, err := o.store.CompleteSignal(storeCtx, emailID, kind, out)
	if err != nil {
		o.logger.Error("Failed to persist signal result",
			zap.Int("email_id", emailID),
			zap.String("signal", string(kind)),
			zap.Error(err),
		)
		return
	}

	if completedNow {
		o.notifyCompleted(storeCtx, userID, rec)
	}
}

func (o *Orchestrator) notifyCompleted(ctx context.Context, userID int, rec *model.DetectionRecord) {
	signals := make(map[string]int, len(model.AllSignals))
	for _, kind := range model.AllSignals {
		signals[string(kind)] = int(rec.Signal(kind).Status)
	}
	event := DetectionCompletedEvent{
		UserID:   userID,
		EmailID:  rec.EmailID,
		Stage:    int(rec.Stage),
		Signals:  signals,
		Message:  "parallel detection completed",
		Occurred: time.Now(),
	}
	if err := o.notifier.DetectionCompleted(ctx, event); err != nil {
		o.logger.Error("Failed to publish detection.completed event",
			zap.Int("email_id", rec.EmailID),
			zap.Error(err),
		)
		return
	}
	o.logger.Info("Published detection.completed event",
		zap.Int("email_id", rec.EmailID),
		zap.Int("user_id", userID),
	)
}
