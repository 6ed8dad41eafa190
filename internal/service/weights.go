package service

import (
	"regexp"
	"strings"

	"mailsentry/internal/model"
)

// Base weights before normalization. Content dominates because body text
// carries most of the phishing signal; URL and header analysis refine it.
const (
	baseContentWeight  = 0.5
	baseURLWeight      = 0.3
	baseMetadataWeight = 0.2
)

var (
	// A literal URL extraction, not a full parse. Anything that looks like
	// an http(s) link makes the URL signal worth running.
	urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

	// Header lines worth analyzing. A raw header blob with none of these
	// gives the metadata evaluator nothing to work with.
	headerLinePattern = regexp.MustCompile(`(?im)^(from|subject|to|date|reply-to|return-path|message-id|mime-version|content-type|content-transfer-encoding|received|dkim-signature):`)
)

// Weights holds the normalized per-signal weights. A zero weight means
// the signal is not applicable and must be skipped.
type Weights struct {
	Content  float64
	URL      float64
	Metadata float64
}

// Of returns the weight for the given signal kind.
func (w Weights) Of(kind model.SignalKind) float64 {
	switch kind {
	case model.SignalContent:
		return w.Content
	case model.SignalURL:
		return w.URL
	case model.SignalMetadata:
		return w.Metadata
	}
	return 0
}

// Applicable reports whether the signal should run at all.
func (w Weights) Applicable(kind model.SignalKind) bool {
	return w.Of(kind) > 0
}

// ComputeWeights decides which signals apply to an email and in what
// relative proportion. Weights over the applicable subset sum to 1;
// non-applicable signals get exactly 0.
//
// Content applies whenever any body text exists. URL applies only when
// the body contains at least one http(s) link. Metadata applies only
// when the raw header text contains at least one recognized header line.
func ComputeWeights(body, headers string) Weights {
	applicable := map[model.SignalKind]bool{
		model.SignalContent:  strings.TrimSpace(body) != "",
		model.SignalURL:      urlPattern.MatchString(body),
		model.SignalMetadata: headerLinePattern.MatchString(headers),
	}
	base := map[model.SignalKind]float64{
		model.SignalContent:  baseContentWeight,
		model.SignalURL:      baseURLWeight,
		model.SignalMetadata: baseMetadataWeight,
	}

	sum := 0.0
	count := 0
	for kind, ok := range applicable {
		if ok {
			sum += base[kind]
			count++
		}
	}
	if count == 0 {
		return Weights{}
	}

	var w Weights
	for _, kind := range model.AllSignals {
		if !applicable[kind] {
			continue
		}
		var weight float64
		if sum > 0 {
			weight = base[kind] / sum
		} else {
			weight = 1.0 / float64(count)
		}
		switch kind {
		case model.SignalContent:
			w.Content = weight
		case model.SignalURL:
			w.URL = weight
		case model.SignalMetadata:
			w.Metadata = weight
		}
	}
	return w
}
