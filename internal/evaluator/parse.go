package evaluator

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencePattern    = regexp.MustCompile("(?i)^```(?:json)?\\s*|\\s*```$")
	objectPattern   = regexp.MustCompile(`\{[\s\S]*?\}`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// parseResult extracts a Result from a model reply. Models occasionally wrap
// the JSON in code fences or prose, rename keys, or emit out-of-range
// numbers; all of that is repaired here. A reply that cannot be salvaged at
// all yields an error so the caller can fall back to a neutral result.
func parseResult(content string) (Result, error) {
	raw, err := extractObject(content)
	if err != nil {
		return Result{}, err
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Result{}, err
	}

	return resultFromFields(fields), nil
}

// extractObject finds the first JSON object in a model reply.
func extractObject(content string) (string, error) {
	s := strings.TrimSpace(content)
	s = fencePattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if !(strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) {
		m := objectPattern.FindString(s)
		if m == "" {
			return "", errNoJSONObject
		}
		s = m
	}

	s = strings.NewReplacer("\u2028", "", "\u2029", "", "\ufeff", "").Replace(s)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return s, nil
}

// resultFromFields maps a loosely-typed reply onto a Result, tolerating key
// aliases and clamping numeric fields to [0,1].
func resultFromFields(fields map[string]any) Result {
	r := Result{
		Verdict:     VerdictPhishing,
		Probability: 0.5,
		Confidence:  0.5,
	}

	if v, ok := stringField(fields, "verdict"); ok {
		r.Verdict = Verdict(v)
	}
	if p, ok := floatField(fields, "phishing_probability", "probability", "score", "phish_prob", "phishing_score"); ok {
		r.Probability = clamp01(p)
	}
	if c, ok := floatField(fields, "confidence"); ok {
		r.Confidence = clamp01(c)
	}
	if s, ok := stringField(fields, "reasons", "reason"); ok {
		r.Reasons = s
	}

	if r.Verdict != VerdictPhishing && r.Verdict != VerdictLegitimate {
		if r.Probability >= 0.5 {
			r.Verdict = VerdictPhishing
		} else {
			r.Verdict = VerdictLegitimate
		}
	}
	return r
}

func stringField(fields map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := fields[k].(string); ok {
			return v, true
		}
	}
	return "", false
}

func floatField(fields map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case float64:
			return v, true
		case string:
			var f float64
			if err := json.Unmarshal([]byte(v), &f); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
