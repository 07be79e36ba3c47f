package tesseract

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/hocr"
)

// Options configure every client the backend opens.
type Options struct {
	// PageSegMode is used when orientation detection is off. Zero selects
	// single block mode.
	PageSegMode int
	// TessdataPrefix overrides the tessdata directory.
	TessdataPrefix string
	// Variables are passed to SetVariable, e.g. preserve_interword_spaces.
	Variables map[string]string
}

// Fingerprint summarizes the options for engine keys.
func (o Options) Fingerprint() string {
	parts := []string{fmt.Sprintf("psm=%d", o.pageSegMode(false))}
	keys := make([]string, 0, len(o.Variables))
	for k := range o.Variables {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+o.Variables[k])
	}
	return strings.Join(parts, ",")
}

func (o Options) pageSegMode(orientation bool) gosseract.PageSegMode {
	if orientation {
		return gosseract.PSM_AUTO_OSD
	}
	if o.PageSegMode > 0 {
		return gosseract.PageSegMode(o.PageSegMode)
	}
	return gosseract.PSM_SINGLE_BLOCK
}

// Backend opens gosseract clients.
type Backend struct {
	opts Options
}

// New creates a Tesseract backend
func New(opts Options) *Backend {
	return &Backend{opts: opts}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "tesseract"
}

// Fingerprint identifies the options for engine keys.
func (b *Backend) Fingerprint() string {
	return b.opts.Fingerprint()
}

// Open creates a client configured for the key's language and orientation.
// Tesseract loads traineddata lazily, so a missing language surfaces on the
// first Recognize call.
func (b *Backend) Open(ctx context.Context, key engine.Key) (engine.Engine, error) {
	c := gosseract.NewClient()

	if b.opts.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(b.opts.TessdataPrefix); err != nil {
			c.Close()
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(LanguageCodes(key.Language)...); err != nil {
		c.Close()
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(b.opts.pageSegMode(key.Orientation)); err != nil {
		c.Close()
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	for k, v := range b.opts.Variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			c.Close()
			return nil, fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	return &Engine{client: c}, nil
}

// Engine wraps one gosseract client. It is not safe for concurrent use.
type Engine struct {
	client *gosseract.Client
}

// Recognize returns one fragment per text line.
func (e *Engine) Recognize(ctx context.Context, img engine.Image) (engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}
	start := time.Now()

	if err := e.client.SetImageFromBytes(img.Data); err != nil {
		return engine.Result{}, fmt.Errorf("set image: %w", err)
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return engine.Result{}, fmt.Errorf("recognize text: %w", err)
	}

	return engine.Result{
		Fragments: fragmentsFromBoxes(boxes),
		Engine:    "tesseract",
		Elapsed:   time.Since(start),
	}, nil
}

// Close frees the native client.
func (e *Engine) Close() error {
	return e.client.Close()
}

func fragmentsFromBoxes(boxes []gosseract.BoundingBox) []engine.Fragment {
	fragments := make([]engine.Fragment, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		conf := min(max(b.Confidence/100.0, 0), 1)
		fragments = append(fragments, engine.Fragment{
			Text:       text,
			Confidence: &conf,
			Box:        &hocr.Rect{X1: b.Box.Min.X, Y1: b.Box.Min.Y, X2: b.Box.Max.X, Y2: b.Box.Max.Y},
		})
	}
	return fragments
}

// LanguageCodes maps a canonical language to Tesseract traineddata names.
// Languages Tesseract already names are passed through; "+" joins several.
func LanguageCodes(lang string) []string {
	var codes []string
	for _, l := range strings.Split(lang, "+") {
		switch l = strings.TrimSpace(l); l {
		case "":
			continue
		case "en":
			codes = append(codes, "eng")
		case "ja":
			codes = append(codes, "jpn")
		default:
			codes = append(codes, l)
		}
	}
	if len(codes) == 0 {
		return []string{"eng"}
	}
	return codes
}

// Version reports the linked Tesseract library version.
func Version() string {
	return gosseract.Version()
}
