package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"mailsentry/internal/evaluator"
	"mailsentry/internal/mailbox"
	"mailsentry/internal/model"
	"mailsentry/internal/repository"
)

// memoryStore is an in-memory RecordStore and EmailStore with the same
// atomicity contract as the pgx repositories: signal completion and the
// all-done decision happen under one lock.
type memoryStore struct {
	mu      sync.Mutex
	emails  map[int]*model.Email
	records map[int]*model.DetectionRecord
	nextID  int

	completeCalls int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		emails:  make(map[int]*model.Email),
		records: make(map[int]*model.DetectionRecord),
		nextID:  1,
	}
}

func (s *memoryStore) addEmail(e model.Email) *model.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.nextID
		s.nextID++
	}
	stored := e
	s.emails[stored.ID] = &stored
	return &stored
}

func (s *memoryStore) GetByID(_ context.Context, id int) (*model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[id]
	if !ok || e.IsDeleted {
		return nil, repository.ErrEmailNotFound
	}
	copied := *e
	return &copied, nil
}

func (s *memoryStore) SetDetectionStatus(_ context.Context, id int, status model.DetectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[id]
	if !ok {
		return repository.ErrEmailNotFound
	}
	e.DetectionStatus = status
	return nil
}

func (s *memoryStore) ListByUser(_ context.Context, userID int) ([]model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Email
	for _, e := range s.emails {
		if e.UserID == userID && !e.IsDeleted {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *memoryStore) CreateRecord(_ context.Context, rec *model.DetectionRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.EmailID]; exists {
		return 0, repository.ErrAlreadyInitialized
	}
	copied := *rec
	copied.ID = s.nextID
	s.nextID++
	s.records[rec.EmailID] = &copied
	return copied.ID, nil
}

func (s *memoryStore) GetByEmailID(_ context.Context, emailID int) (*model.DetectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[emailID]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *memoryStore) MarkSignalsRunning(_ context.Context, emailID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[emailID]
	if !ok {
		return repository.ErrRecordNotFound
	}
	for _, kind := range model.AllSignals {
		state := rec.Signal(kind)
		if state.Status == model.SignalNotStarted {
			state.Status = model.SignalRunning
		}
	}
	return nil
}

func (s *memoryStore) CompleteSignal(_ context.Context, emailID int, kind model.SignalKind, out model.SignalOutcome) (bool, *model.DetectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCalls++

	rec, ok := s.records[emailID]
	if !ok {
		return false, nil, repository.ErrRecordNotFound
	}

	state := rec.Signal(kind)
	state.Status = model.SignalDone
	state.Probability = out.Probability
	state.Confidence = out.Confidence
	state.Verdict = out.Verdict
	state.Reason = out.Reason

	completedNow := false
	if !rec.ParallelCompleted && rec.ParallelDone() {
		rec.ParallelCompleted = true
		completedNow = true
	}

	copied := *rec
	return completedNow, &copied, nil
}

func (s *memoryStore) BeginFusion(_ context.Context, emailID int) (*model.DetectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[emailID]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	if !rec.ParallelDone() {
		return nil, repository.ErrNotAllSignalsDone
	}
	if rec.Stage < model.StageFusion {
		rec.Stage = model.StageFusion
	}
	copied := *rec
	return &copied, nil
}

func (s *memoryStore) SaveFusion(_ context.Context, emailID int, score float64, verdict bool, explanation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[emailID]
	if !ok {
		return repository.ErrRecordNotFound
	}
	rec.FusedScore = score
	rec.FusedVerdict = verdict
	rec.FusedExplanation = explanation
	return nil
}

func (s *memoryStore) SaveEnrichment(_ context.Context, emailID int, e *model.Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[emailID]
	if !ok {
		return repository.ErrRecordNotFound
	}
	rec.Summary = e.Summary
	rec.Category = e.Category
	rec.Urgency = e.Urgency
	rec.Importance = e.Importance
	rec.NeedSchedule = e.NeedSchedule
	rec.ScheduleName = e.ScheduleName
	rec.ScheduleTime = e.ScheduleTime
	if rec.Stage < model.StageEnriched {
		rec.Stage = model.StageEnriched
	}
	return nil
}

func (s *memoryStore) ConfirmPhishing(_ context.Context, emailID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[emailID]
	if !ok {
		rec = &model.DetectionRecord{EmailID: emailID, ID: s.nextID}
		s.nextID++
		s.records[emailID] = rec
	}
	rec.FusedVerdict = true
	rec.Confirmed = true
	if rec.Stage < model.StageEnriched {
		rec.Stage = model.StageEnriched
	}
	return nil
}

func (s *memoryStore) Overview(_ context.Context, userID int) (*model.DetectionOverview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &model.DetectionOverview{}
	for _, e := range s.emails {
		if e.UserID != userID || e.IsDeleted {
			continue
		}
		o.Total++
		rec, ok := s.records[e.ID]
		if !ok || rec.Stage < model.StageFusion {
			o.Pending++
			continue
		}
		if rec.FusedVerdict {
			o.Phishing++
		} else {
			o.Legitimate++
		}
	}
	return o, nil
}

// record returns the live record for assertions.
func (s *memoryStore) record(emailID int) *model.DetectionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[emailID]
	if !ok {
		return nil
	}
	copied := *rec
	return &copied
}

// fakeNotifier counts completion events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []DetectionCompletedEvent
	err    error
}

func (n *fakeNotifier) DetectionCompleted(_ context.Context, event DetectionCompletedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// fakeEvaluator returns canned per-signal results, optionally failing.
type fakeEvaluator struct {
	mu    sync.Mutex
	calls map[string]int

	content  evaluator.Result
	url      evaluator.Result
	metadata evaluator.Result
	err      error

	explanation string
	explainErr  error
	enrichment  model.Enrichment
	enrichErr   error
}

func newFakeEvaluator() *fakeEvaluator {
	legit := evaluator.Result{
		Verdict:     evaluator.VerdictLegitimate,
		Probability: 0.2,
		Confidence:  0.9,
		Reasons:     "looks fine",
	}
	return &fakeEvaluator{
		calls:       make(map[string]int),
		content:     legit,
		url:         legit,
		metadata:    legit,
		explanation: "synthesized explanation",
	}
}

func (f *fakeEvaluator) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeEvaluator) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeEvaluator) EvaluateContent(_ context.Context, _ string) (evaluator.Result, error) {
	f.record("content")
	return f.content, f.err
}

func (f *fakeEvaluator) EvaluateURL(_ context.Context, _ string) (evaluator.Result, error) {
	f.record("url")
	return f.url, f.err
}

func (f *fakeEvaluator) EvaluateMetadata(_ context.Context, _ map[string]string) (evaluator.Result, error) {
	f.record("metadata")
	return f.metadata, f.err
}

func (f *fakeEvaluator) Explain(_ context.Context, _ evaluator.SynthesisInput) (string, error) {
	f.record("explain")
	return f.explanation, f.explainErr
}

func (f *fakeEvaluator) Enrich(_ context.Context, _ string) (model.Enrichment, error) {
	f.record("enrich")
	return f.enrichment, f.enrichErr
}

// fakeFetcher serves scripted batches per binding.
type fakeFetcher struct {
	mu      sync.Mutex
	batches map[int][]mailbox.Message
	errs    map[int]error
	calls   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		batches: make(map[int][]mailbox.Message),
		errs:    make(map[int]error),
	}
}

func (f *fakeFetcher) FetchNew(_ context.Context, binding *model.MailboxBinding, lastUID uint32) ([]mailbox.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[binding.ID]; err != nil {
		return nil, err
	}
	var out []mailbox.Message
	for _, msg := range f.batches[binding.ID] {
		if msg.UID > lastUID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// fakeBatchStore implements EmailBatchStore and BindingStore with the
// same (binding_id, uid) dedup the real repository enforces.
type fakeBatchStore struct {
	mu       sync.Mutex
	bindings []model.MailboxBinding
	stored   map[string]model.Email
}

func newFakeBatchStore(bindings ...model.MailboxBinding) *fakeBatchStore {
	return &fakeBatchStore{
		bindings: bindings,
		stored:   make(map[string]model.Email),
	}
}

func (s *fakeBatchStore) ListActive(_ context.Context) ([]model.MailboxBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MailboxBinding, len(s.bindings))
	copy(out, s.bindings)
	return out, nil
}

func (s *fakeBatchStore) StoreBatch(_ context.Context, bindingID int, lastUID string, emails []model.Email) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := 0
	for _, e := range emails {
		key := fmt.Sprintf("%d/%s", bindingID, e.EmailUID)
		if _, exists := s.stored[key]; exists {
			continue
		}
		s.stored[key] = e
		stored++
	}
	for i := range s.bindings {
		if s.bindings[i].ID == bindingID {
			s.bindings[i].LastUID = lastUID
		}
	}
	return stored, nil
}

func (s *fakeBatchStore) lastUID(bindingID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		if b.ID == bindingID {
			return b.LastUID
		}
	}
	return ""
}

func (s *fakeBatchStore) rowCount(bindingID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	prefix := strconv.Itoa(bindingID) + "/"
	for key := range s.stored {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			count++
		}
	}
	return count
}

// fakeLocker grants or denies every lock.
type fakeLocker struct {
	deny bool
}

func (l *fakeLocker) TryLock(_ context.Context, _ int) (func(), bool) {
	if l.deny {
		return func() {}, false
	}
	return func() {}, true
}

var errEvaluatorDown = errors.New("evaluator unavailable")
