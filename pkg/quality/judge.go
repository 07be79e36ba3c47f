package quality

import (
	"unicode"
	"unicode/utf8"

	"github.com/lehigh-university-libraries/ocrworker/pkg/textmetrics"
)

// Rejection reasons reported in a Verdict.
const (
	ReasonTooShort      = "too_short"
	ReasonLowAlpha      = "low_alpha_ratio"
	ReasonLowConfidence = "low_confidence"
	ReasonTooManyEdits  = "too_many_edits"
)

// Verdict explains the outcome of Judge.
type Verdict struct {
	Accepted           bool   `json:"accepted"`
	EditDistance       int    `json:"editDistance"`
	AllowedEdits       int    `json:"allowedEdits"`
	NormalizedExpected string `json:"normalizedExpected"`
	NormalizedActual   string `json:"normalizedActual"`
	Reason             string `json:"reason,omitempty"`
}

// JudgeQuality reports whether actual is an acceptable reading of expected.
func JudgeQuality(expected, actual string, confidence float64, cfg Config) bool {
	return Judge(expected, actual, confidence, cfg).Accepted
}

// Judge applies the checks in a fixed order and stops at the first rejection.
// EditDistance is only computed once the cheaper checks have passed; it is -1
// otherwise.
func Judge(expected, actual string, confidence float64, cfg Config) Verdict {
	opts := textmetrics.NormalizeOptions{NFKC: cfg.normalizeNFKC, IgnoreCase: cfg.ignoreCase}
	exp := textmetrics.Normalize(expected, opts)
	act := textmetrics.Normalize(actual, opts)

	v := Verdict{
		EditDistance:       -1,
		NormalizedExpected: exp,
		NormalizedActual:   act,
	}

	lenExp := utf8.RuneCountInString(exp)
	lenAct := utf8.RuneCountInString(act)

	minLen := max(1, int(float64(lenExp)*cfg.minLengthRatio))
	if lenAct < minLen {
		v.Reason = ReasonTooShort
		return v
	}

	if alphaRatio(act) < cfg.minAlphaRatio {
		v.Reason = ReasonLowAlpha
		return v
	}

	if lenAct >= cfg.minConfLength && confidence < cfg.minConfidence {
		v.Reason = ReasonLowConfidence
		return v
	}

	v.EditDistance = textmetrics.EditDistance(exp, act)
	v.AllowedEdits = max(cfg.baseErrorFloor, min(cfg.maxAbsEdit, int(float64(lenExp)*cfg.maxRelEdit)))
	if v.EditDistance > v.AllowedEdits {
		v.Reason = ReasonTooManyEdits
		return v
	}

	v.Accepted = true
	return v
}

// alphaRatio is the fraction of runes that are letters, numbers or whitespace.
func alphaRatio(s string) float64 {
	total, good := 0, 0
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			good++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(good) / float64(total)
}
