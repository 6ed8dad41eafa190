package model

import "time"

// SignalKind identifies one independent analytical dimension of an email.
// The set is closed: dispatch on it with a switch, not string keys.
type SignalKind string

const (
	SignalContent  SignalKind = "content"
	SignalURL      SignalKind = "url"
	SignalMetadata SignalKind = "metadata"
)

// AllSignals lists every signal kind in a stable order.
var AllSignals = []SignalKind{SignalContent, SignalURL, SignalMetadata}

// SignalStatus is the per-signal detection lifecycle.
type SignalStatus int

const (
	SignalNotStarted SignalStatus = iota
	SignalRunning
	SignalDone
	SignalSkipped
)

// Stage is the detection record's position in its four-phase lifecycle.
// It only ever moves forward.
type Stage int

const (
	StageIngested Stage = 1 // email stored, weights not yet computed
	StageParallel Stage = 2 // independent signal detections running
	StageFusion   Stage = 3 // signals fused into one verdict
	StageEnriched Stage = 4 // summary/schedule extraction done
)

// Urgency and importance labels for the enrichment pass.
const (
	UrgencyNormal = "normal"
	UrgencyUrgent = "urgent"

	ImportanceLow    = "low"
	ImportanceMedium = "medium"
	ImportanceHigh   = "high"
)

// Enrichment is the stage-four analysis extracted from the raw email
// body: a summary, categorization, and an optional schedule suggestion.
type Enrichment struct {
	Summary      string
	Category     string
	Urgency      string
	Importance   string
	NeedSchedule bool
	ScheduleName string
	ScheduleTime *time.Time
}

// DetectionOverview aggregates detection outcomes across one user's
// mailbox.
type DetectionOverview struct {
	Total      int `json:"total"`
	Phishing   int `json:"phishing"`
	Legitimate int `json:"legitimate"`
	Pending    int `json:"pending"`
}

// SignalOutcome is the result of one finished signal evaluation, as
// written back into the record.
type SignalOutcome struct {
	Probability float64
	Confidence  float64
	Verdict     bool
	Reason      string
}

// SignalState is one signal's slice of a detection record.
type SignalState struct {
	Weight      float64
	Status      SignalStatus
	Probability float64
	Confidence  float64
	Verdict     bool
	Reason      string
}

// DetectionRecord tracks the full detection lifecycle of one email,
// one-to-one with the emails table.
type DetectionRecord struct {
	ID      int
	EmailID int

	Stage             Stage
	ParallelCompleted bool

	Content  SignalState
	URL      SignalState
	Metadata SignalState

	FusedScore       float64
	FusedVerdict     bool
	FusedExplanation string

	// Confirmed marks the terminal bypass: an operator forced a confirmed
	// phishing outcome without running the signal pipeline. Per-signal
	// fields are deliberately not back-filled on that path.
	Confirmed bool

	Summary      string
	Category     string
	Urgency      string
	Importance   string
	NeedSchedule bool
	ScheduleName string
	ScheduleTime *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Signal returns a pointer to the state for the given kind.
func (r *DetectionRecord) Signal(kind SignalKind) *SignalState {
	switch kind {
	case SignalContent:
		return &r.Content
	case SignalURL:
		return &r.URL
	case SignalMetadata:
		return &r.Metadata
	}
	return nil
}

// ParallelDone reports whether every non-skipped signal has finished.
func (r *DetectionRecord) ParallelDone() bool {
	for _, kind := range AllSignals {
		s := r.Signal(kind)
		if s.Status != SignalDone && s.Status != SignalSkipped {
			return false
		}
	}
	return true
}

// ActiveSignals returns the kinds whose detection actually ran to
// completion, in stable order.
func (r *DetectionRecord) ActiveSignals() []SignalKind {
	var active []SignalKind
	for _, kind := range AllSignals {
		if r.Signal(kind).Status == SignalDone {
			active = append(active, kind)
		}
	}
	return active
}
