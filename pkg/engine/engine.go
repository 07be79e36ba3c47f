package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lehigh-university-libraries/ocrworker/pkg/hocr"
)

// Kind tells which fallback tier an engine belongs to.
type Kind string

const (
	KindPrimary   Kind = "primary"
	KindSecondary Kind = "secondary"
)

// Key identifies one constructed engine handle.
type Key struct {
	Kind        Kind
	Language    string
	Orientation bool
	Params      string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/orientation=%t/%s", k.Kind, k.Language, k.Orientation, k.Params)
}

// Image is an encoded image ready to hand to an engine.
type Image struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Fragment is one recognized piece of text. Confidence and Box are nil when
// the engine does not report them.
type Fragment struct {
	Text       string     `json:"text"`
	Confidence *float64   `json:"confidence,omitempty"`
	Box        *hocr.Rect `json:"box,omitempty"`
}

// Result is the ordered output of one recognition call.
type Result struct {
	Fragments []Fragment
	Kind      Kind
	Engine    string
	Elapsed   time.Duration
}

// CombinedText concatenates fragment texts in order.
func (r Result) CombinedText() string {
	var b strings.Builder
	for _, f := range r.Fragments {
		b.WriteString(f.Text)
	}
	return b.String()
}

// Empty reports whether the result carries no visible text.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.CombinedText()) == ""
}

func (r Result) scores() []float64 {
	var s []float64
	for _, f := range r.Fragments {
		if f.Confidence != nil {
			s = append(s, *f.Confidence)
		}
	}
	return s
}

// MeanConfidence averages the fragments that carry a confidence. ok is false
// when none do.
func (r Result) MeanConfidence() (mean float64, ok bool) {
	s := r.scores()
	if len(s) == 0 {
		return 0, false
	}
	return stat.Mean(s, nil), true
}

// MinConfidence is the lowest fragment confidence. ok is false when no
// fragment carries one.
func (r Result) MinConfidence() (lowest float64, ok bool) {
	s := r.scores()
	if len(s) == 0 {
		return 0, false
	}
	return floats.Min(s), true
}

// Words returns the fragments that have a box, for region grouping.
func (r Result) Words() []hocr.Word {
	var words []hocr.Word
	for _, f := range r.Fragments {
		if f.Box == nil {
			continue
		}
		words = append(words, hocr.Word{Box: *f.Box, Text: f.Text, Confidence: f.Confidence})
	}
	return words
}

// Engine recognizes text in images. Implementations need not be safe for
// concurrent use; the registry serializes calls per handle.
type Engine interface {
	Recognize(ctx context.Context, img Image) (Result, error)
	Close() error
}

// Backend constructs engines for a key.
type Backend interface {
	Name() string
	Open(ctx context.Context, key Key) (Engine, error)
}

// ConstructionError reports that a backend could not build an engine.
type ConstructionError struct {
	Key Key
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to construct engine %s: %v", e.Key, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// NormalizeLanguage maps user-facing language hints to canonical codes.
// "auto" and the empty string resolve to def.
func NormalizeLanguage(hint, def string) string {
	switch l := strings.ToLower(strings.TrimSpace(hint)); l {
	case "", "auto":
		if def == "" || strings.EqualFold(def, "auto") {
			return "ja"
		}
		return NormalizeLanguage(def, "ja")
	case "en", "eng", "english":
		return "en"
	case "ja", "jp", "jpn", "japan", "japanese":
		return "ja"
	default:
		return l
	}
}

// Float returns a pointer to f, for building fragments.
func Float(f float64) *float64 {
	return &f
}
