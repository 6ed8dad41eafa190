package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsentry/internal/evaluator"
	"mailsentry/internal/model"
)

func newTestRecord(emailID int) *model.DetectionRecord {
	return &model.DetectionRecord{
		EmailID: emailID,
		Stage:   model.StageParallel,
		Content: model.SignalState{Weight: 0.5 / 0.8, Status: model.SignalRunning},
		URL:     model.SignalState{Weight: 0.3 / 0.8, Status: model.SignalRunning},
		Metadata: model.SignalState{
			Status: model.SignalSkipped,
		},
	}
}

func TestSubmitDeduplicatesInFlightTasks(t *testing.T) {
	store := newMemoryStore()
	store.records[1] = newTestRecord(1)
	notifier := &fakeNotifier{}
	orch := NewOrchestrator(store, notifier, 3, time.Second, zap.NewNop())

	var calls atomic.Int32
	release := make(chan struct{})
	run := func(ctx context.Context) (evaluator.Result, error) {
		calls.Add(1)
		<-release
		return evaluator.Result{
			Verdict:     evaluator.VerdictLegitimate,
			Probability: 0.1,
			Confidence:  0.9,
		}, nil
	}

	first := orch.Submit(7, 1, model.SignalContent, run)
	second := orch.Submit(7, 1, model.SignalContent, run)
	require.Same(t, first, second)

	close(release)
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not complete")
	}

	assert.Equal(t, int32(1), calls.Load())
	rec := store.record(1)
	assert.Equal(t, model.SignalDone, rec.Content.Status)
	assert.InDelta(t, 0.1, rec.Content.Probability, 1e-9)
}

func TestSubmitAllowsResubmissionAfterCompletion(t *testing.T) {
	store := newMemoryStore()
	store.records[1] = newTestRecord(1)
	orch := NewOrchestrator(store, &fakeNotifier{}, 3, time.Second, zap.NewNop())

	run := func(ctx context.Context) (evaluator.Result, error) {
		return evaluator.Result{Verdict: evaluator.VerdictLegitimate, Probability: 0.1, Confidence: 0.9}, nil
	}

	first := orch.Submit(7, 1, model.SignalContent, run)
	<-first.Done()

	second := orch.Submit(7, 1, model.SignalContent, run)
	<-second.Done()
	assert.NotSame(t, first, second)
}

func TestFailedEvaluationFallsBackToNeutralDone(t *testing.T) {
	store := newMemoryStore()
	store.records[1] = newTestRecord(1)
	notifier := &fakeNotifier{}
	orch := NewOrchestrator(store, notifier, 3, time.Second, zap.NewNop())

	failing := func(ctx context.Context) (evaluator.Result, error) {
		return evaluator.Result{}, errEvaluatorDown
	}

	for _, kind := range []model.SignalKind{model.SignalContent, model.SignalURL} {
		handle := orch.Submit(7, 1, kind, failing)
		select {
		case <-handle.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("task did not complete")
		}
	}

	rec := store.record(1)
	for _, kind := range []model.SignalKind{model.SignalContent, model.SignalURL} {
		state := rec.Signal(kind)
		assert.Equal(t, model.SignalDone, state.Status)
		assert.InDelta(t, 0.5, state.Probability, 1e-9)
		assert.InDelta(t, 0.3, state.Confidence, 1e-9)
		assert.Contains(t, state.Reason, "detection failed")
	}

	// The parallel stage finished despite every evaluation failing, so
	// fusion is reachable.
	assert.True(t, rec.ParallelCompleted)
	_, err := store.BeginFusion(context.Background(), 1)
	require.NoError(t, err)
}

func TestExactlyOneCompletionNotification(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := newMemoryStore()
		rec := newTestRecord(1)
		rec.Metadata = model.SignalState{Weight: 0.2, Status: model.SignalRunning}
		store.records[1] = rec

		notifier := &fakeNotifier{}
		orch := NewOrchestrator(store, notifier, 3, time.Second, zap.NewNop())

		start := make(chan struct{})
		run := func(ctx context.Context) (evaluator.Result, error) {
			<-start
			return evaluator.Result{Verdict: evaluator.VerdictLegitimate, Probability: 0.2, Confidence: 0.8}, nil
		}

		var handles []*TaskHandle
		for _, kind := range model.AllSignals {
			handles = append(handles, orch.Submit(7, 1, kind, run))
		}
		close(start)

		var wg sync.WaitGroup
		for _, h := range handles {
			wg.Add(1)
			go func(h *TaskHandle) {
				defer wg.Done()
				<-h.Done()
			}(h)
		}
		wg.Wait()

		require.Equal(t, 1, notifier.count(), "iteration %d", i)
		event := notifier.events[0]
		assert.Equal(t, 1, event.EmailID)
		assert.Equal(t, 7, event.UserID)
		assert.Equal(t, int(model.SignalDone), event.Signals[string(model.SignalContent)])
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	store := newMemoryStore()
	rec := newTestRecord(1)
	rec.Metadata = model.SignalState{Weight: 0.2, Status: model.SignalRunning}
	store.records[1] = rec

	orch := NewOrchestrator(store, &fakeNotifier{}, 1, time.Second, zap.NewNop())

	var running, peak atomic.Int32
	run := func(ctx context.Context) (evaluator.Result, error) {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return evaluator.Result{Verdict: evaluator.VerdictLegitimate, Probability: 0.1, Confidence: 0.9}, nil
	}

	var handles []*TaskHandle
	for _, kind := range model.AllSignals {
		handles = append(handles, orch.Submit(7, 1, kind, run))
	}
	for _, h := range handles {
		<-h.Done()
	}

	assert.Equal(t, int32(1), peak.Load())
}
