package evaluator

import (
	"context"

	"mailsentry/internal/model"
)

// Verdict is a single evaluator's classification of an email.
type Verdict string

const (
	VerdictPhishing   Verdict = "Phishing"
	VerdictLegitimate Verdict = "Legitimate"
)

// Result is the outcome of one signal evaluation.
type Result struct {
	Verdict     Verdict `json:"verdict"`
	Probability float64 `json:"phishing_probability"`
	Confidence  float64 `json:"confidence"`
	Reasons     string  `json:"reasons"`
}

// IsPhishing reports whether the evaluator classified the email as phishing.
func (r Result) IsPhishing() bool {
	return r.Verdict == VerdictPhishing
}

// SignalEvaluator produces independent phishing assessments from the three
// analytical dimensions of an email. Each method carries its own typed
// payload: body text for content and URL analysis, parsed header fields for
// metadata analysis.
type SignalEvaluator interface {
	EvaluateContent(ctx context.Context, body string) (Result, error)
	EvaluateURL(ctx context.Context, body string) (Result, error)
	EvaluateMetadata(ctx context.Context, headers map[string]string) (Result, error)
}

// SynthesisInput carries everything the explanation step needs: the three
// raw per-signal results (nil when the signal was skipped) and the already
// computed fusion outcome. The explanation never influences the numbers.
type SynthesisInput struct {
	Content   *Result
	URL       *Result
	Metadata  *Result
	Score     float64
	Threshold float64
	Verdict   Verdict
}

// Synthesizer reconciles the per-signal reasons with the fused outcome into
// one plain-language explanation.
type Synthesizer interface {
	Explain(ctx context.Context, in SynthesisInput) (string, error)
}

// Enricher produces the stage-four summary/scheduling analysis,
// independent of the phishing verdict.
type Enricher interface {
	Enrich(ctx context.Context, body string) (model.Enrichment, error)
}
