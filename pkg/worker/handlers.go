package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/ocrworker/internal/utils"
	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/hocr"
	"github.com/lehigh-university-libraries/ocrworker/pkg/imageprep"
	"github.com/lehigh-university-libraries/ocrworker/pkg/quality"
)

// ErrNoClipboard is returned for clipboard requests when the worker was
// started without an ImageSource.
var ErrNoClipboard = errors.New("clipboard capture is not available in this worker")

// ping must stay cheap: it is the parent's heartbeat and must never wait on
// an engine.
func (d *Dispatcher) ping() pingResponse {
	return pingResponse{
		OK:              true,
		TS:              time.Now().UnixMilli(),
		PID:             os.Getpid(),
		EngineVersion:   d.opts.EngineVersion,
		WarmedLanguages: d.registry.WarmedLanguages(),
		UptimeMs:        time.Since(d.started).Milliseconds(),
		Requests:        d.perf.count(),
		LatencyP95Ms:    d.perf.quantile(0.95),
	}
}

func (d *Dispatcher) warmup(ctx context.Context, raw json.RawMessage) (warmupResponse, error) {
	var req WarmupRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return warmupResponse{}, fmt.Errorf("invalid warmup request: %w", err)
	}

	langs := req.Languages
	if len(langs) == 0 && strings.TrimSpace(req.Language) != "" {
		langs = []string{req.Language}
	}
	if len(langs) == 0 {
		langs = d.opts.WarmupLanguages
	}

	warmed, err := d.registry.WarmLanguages(ctx, langs, req.Force)
	if err != nil {
		slog.Warn("Warmup failed", "langs", langs, "err", utils.MaskSensitiveError(err))
		return warmupResponse{OK: false, WarmedLanguages: warmed, Error: utils.ErrorMessage(err, maxErrorLen)}, nil
	}
	return warmupResponse{OK: true, WarmedLanguages: warmed}, nil
}

func (d *Dispatcher) perform(ctx context.Context, raw json.RawMessage) (OcrResponse, error) {
	var req OcrRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return OcrResponse{}, fmt.Errorf("invalid ocr request: %w", err)
	}

	original, err := d.loadImage(ctx, req)
	if err != nil {
		return OcrResponse{}, err
	}
	img, err := imageprep.Prepare(original, d.opts.Prepare)
	if err != nil {
		return OcrResponse{}, err
	}

	res, outcome := d.registry.RecognizeWithFallback(ctx, img, req.Language, d.opts.PrimaryTimeout)
	res.Fragments = rescale(res.Fragments, img, original)

	text := res.CombinedText()
	confidence, _ := res.MeanConfidence()

	out := OcrResponse{
		Text:       text,
		Confidence: confidence,
		Engine:     res.Engine,
		Language:   outcome.Language,
		Fragments:  res.Fragments,
		Regions:    regions(res.Fragments, d.opts.Merge),
		Attempts:   outcome.Attempts,
	}
	if out.Fragments == nil {
		out.Fragments = []engine.Fragment{}
	}

	if req.Expected != nil {
		v := quality.Judge(*req.Expected, text, confidence, d.opts.Quality)
		out.Verdict = &v
		out.RawText = text
		out.Text = v.NormalizedActual
	}

	if strings.EqualFold(req.Format, "hocr") {
		lines := hocr.GroupLines(res.Words(), d.opts.Merge)
		out.HOCR = hocr.RenderHOCR(lines, hocr.Rect{X2: original.Width, Y2: original.Height})
	}

	return out, nil
}

func (d *Dispatcher) loadImage(ctx context.Context, req OcrRequest) (engine.Image, error) {
	source := req.Source
	if source == "" {
		source = SourceClipboard
		if req.ImageBase64 != "" {
			source = SourceImageBase64
		}
	}

	switch source {
	case SourceImageBase64:
		img, err := imageprep.DecodeBase64(req.ImageBase64)
		if errors.Is(err, imageprep.ErrEmptyImage) {
			return engine.Image{}, fmt.Errorf("source=imageBase64 requires imageBase64: %w", err)
		}
		return img, err
	case SourceClipboard:
		if d.opts.Clipboard == nil {
			return engine.Image{}, ErrNoClipboard
		}
		img, err := d.opts.Clipboard.Capture(ctx)
		if err != nil {
			return engine.Image{}, fmt.Errorf("clipboard capture: %w", err)
		}
		return img, nil
	default:
		return engine.Image{}, fmt.Errorf("unsupported source %q", source)
	}
}

// regions merges fragment boxes into text regions.
func regions(fragments []engine.Fragment, opts hocr.MergeOptions) []hocr.Rect {
	var rects []hocr.Rect
	for _, f := range fragments {
		if f.Box != nil {
			rects = append(rects, *f.Box)
		}
	}
	merged := hocr.MergeTextBoxes(rects, opts)
	if merged == nil {
		merged = []hocr.Rect{}
	}
	return merged
}

// rescale maps boxes found on the prepared image back onto the caller's image.
func rescale(fragments []engine.Fragment, prepared, original engine.Image) []engine.Fragment {
	if prepared.Width == original.Width && prepared.Height == original.Height {
		return fragments
	}
	if prepared.Width <= 0 || prepared.Height <= 0 {
		return fragments
	}
	sx := float64(original.Width) / float64(prepared.Width)
	sy := float64(original.Height) / float64(prepared.Height)

	out := make([]engine.Fragment, len(fragments))
	for i, f := range fragments {
		out[i] = f
		if f.Box == nil {
			continue
		}
		b := hocr.Rect{
			X1: int(float64(f.Box.X1) * sx),
			Y1: int(float64(f.Box.Y1) * sy),
			X2: int(float64(f.Box.X2)*sx + 0.5),
			Y2: int(float64(f.Box.Y2)*sy + 0.5),
		}
		out[i].Box = &b
	}
	return out
}
