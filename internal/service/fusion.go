package service

import "mailsentry/internal/model"

// DefaultFusionThreshold is the composite score at or above which an
// email is classified as phishing.
const DefaultFusionThreshold = 0.6

// SignalContribution is one signal's share of the composite score, kept
// for auditability.
type SignalContribution struct {
	Signal       model.SignalKind `json:"signal"`
	Weight       float64          `json:"weight"`
	Probability  float64          `json:"probability"`
	Confidence   float64          `json:"confidence"`
	Contribution float64          `json:"contribution"`
}

// FusionResult is the numeric half of the fusion outcome. The
// explanation is produced separately and never influences these values.
type FusionResult struct {
	Score     float64
	Verdict   bool
	Threshold float64
	Breakdown []SignalContribution
	// Degenerate is set when no signal actually ran and the fail-closed
	// default was applied. Needs operator attention.
	Degenerate bool
}

// FuseScores combines the finished per-signal results into one composite
// phishing score. Each active signal contributes weight * probability *
// confidence; weights are re-normalized over the signals actually
// present so a skipped or missing signal never dilutes the score.
//
// With zero active signals the verdict fails closed: phishing at score
// 0.5 rather than silently reporting safe.
func FuseScores(rec *model.DetectionRecord, threshold float64) FusionResult {
	if threshold <= 0 {
		threshold = DefaultFusionThreshold
	}

	active := rec.ActiveSignals()
	if len(active) == 0 {
		return FusionResult{
			Score:      0.5,
			Verdict:    true,
			Threshold:  threshold,
			Degenerate: true,
		}
	}

	weightSum := 0.0
	for _, kind := range active {
		weightSum += rec.Signal(kind).Weight
	}

	result := FusionResult{Threshold: threshold}
	for _, kind := range active {
		s := rec.Signal(kind)
		weight := s.Weight
		if weightSum > 0 {
			weight = s.Weight / weightSum
		} else {
			weight = 1.0 / float64(len(active))
		}
		contribution := weight * s.Probability * s.Confidence
		result.Score += contribution
		result.Breakdown = append(result.Breakdown, SignalContribution{
			Signal:       kind,
			Weight:       weight,
			Probability:  s.Probability,
			Confidence:   s.Confidence,
			Contribution: contribution,
		})
	}
	result.Verdict = result.Score >= threshold
	return result
}
