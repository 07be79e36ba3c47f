package vision

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/hocr"
)

// Config holds the Cloud Vision settings. CredentialsFile falls back to
// application default credentials when empty.
type Config struct {
	CredentialsFile string
}

// Backend implements the Google Cloud Vision document text backend
type Backend struct {
	cfg Config
}

// New creates a new Cloud Vision backend
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "vision"
}

// Open dials the annotator service.
func (b *Backend) Open(ctx context.Context, key engine.Key) (engine.Engine, error) {
	var opts []option.ClientOption
	if b.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(b.cfg.CredentialsFile))
	}
	c, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &Engine{client: c, language: key.Language}, nil
}

// Engine runs DOCUMENT_TEXT_DETECTION on one image at a time.
type Engine struct {
	client   *vision.ImageAnnotatorClient
	language string
}

// Recognize returns one fragment per detected word, each carrying the
// separator Vision detected after it.
func (e *Engine) Recognize(ctx context.Context, img engine.Image) (engine.Result, error) {
	start := time.Now()
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image:    &visionpb.Image{Content: img.Data},
				Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
				ImageContext: &visionpb.ImageContext{
					LanguageHints: []string{e.language},
				},
			},
		},
	}

	resp, err := e.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return engine.Result{}, fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return engine.Result{Engine: "vision", Elapsed: time.Since(start)}, nil
	}
	r := resp.GetResponses()[0]
	if st := r.GetError(); st != nil && st.GetCode() != 0 {
		return engine.Result{}, fmt.Errorf("vision annotate: %d - %s", st.GetCode(), st.GetMessage())
	}

	return engine.Result{
		Fragments: fragmentsFromAnnotation(r.GetFullTextAnnotation()),
		Engine:    "vision",
		Elapsed:   time.Since(start),
	}, nil
}

// Close closes the gRPC connection.
func (e *Engine) Close() error {
	return e.client.Close()
}

func fragmentsFromAnnotation(annotation *visionpb.TextAnnotation) []engine.Fragment {
	var fragments []engine.Fragment
	for _, page := range annotation.GetPages() {
		for _, block := range page.GetBlocks() {
			for _, paragraph := range block.GetParagraphs() {
				for _, word := range paragraph.GetWords() {
					var b strings.Builder
					for _, symbol := range word.GetSymbols() {
						b.WriteString(symbol.GetText())
						b.WriteString(breakText(symbol.GetProperty().GetDetectedBreak()))
					}
					if strings.TrimSpace(b.String()) == "" {
						continue
					}

					f := engine.Fragment{Text: b.String()}
					if c := word.GetConfidence(); c > 0 {
						f.Confidence = engine.Float(math.Round(float64(c)*1e4) / 1e4)
					}
					if r, ok := boundingRect(word.GetBoundingBox()); ok {
						f.Box = &r
					}
					fragments = append(fragments, f)
				}
			}
		}
	}
	return fragments
}

func breakText(br *visionpb.TextAnnotation_DetectedBreak) string {
	switch br.GetType() {
	case visionpb.TextAnnotation_DetectedBreak_SPACE, visionpb.TextAnnotation_DetectedBreak_SURE_SPACE:
		return " "
	case visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE, visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
		return "\n"
	}
	return ""
}

// boundingRect converts a possibly rotated polygon to its enclosing rect.
func boundingRect(poly *visionpb.BoundingPoly) (hocr.Rect, bool) {
	vertices := poly.GetVertices()
	if len(vertices) == 0 {
		return hocr.Rect{}, false
	}
	r := hocr.Rect{X1: math.MaxInt, Y1: math.MaxInt, X2: math.MinInt, Y2: math.MinInt}
	for _, v := range vertices {
		x, y := int(v.GetX()), int(v.GetY())
		r.X1, r.Y1 = min(r.X1, x), min(r.Y1, y)
		r.X2, r.Y2 = max(r.X2, x), max(r.Y2, y)
	}
	return r, r.Valid()
}
