package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/hocr"
)

// ErrNotConfigured is returned by Open when the endpoint or key is missing.
var ErrNotConfigured = errors.New("AZURE_OCR_ENDPOINT and AZURE_OCR_API_KEY environment variables must be set")

// Config holds the Azure Computer Vision settings.
type Config struct {
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
	MaxPolls     int
	Timeout      time.Duration
}

// Backend implements the Azure Computer Vision Read backend
type Backend struct {
	cfg    Config
	client *http.Client
}

// New creates a new Azure backend
func New(cfg Config) *Backend {
	cfg.Endpoint = strings.TrimSuffix(strings.TrimSpace(cfg.Endpoint), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Backend{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "azure"
}

// Open checks the endpoint settings and returns an engine for the key's
// language.
func (b *Backend) Open(ctx context.Context, key engine.Key) (engine.Engine, error) {
	if b.cfg.Endpoint == "" || b.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	return &Engine{backend: b, language: key.Language}, nil
}

// Engine submits images to the Read API and polls for the result.
type Engine struct {
	backend  *Backend
	language string
}

type readResult struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		// v3.2
		ReadResults []struct {
			Lines []readLine `json:"lines"`
		} `json:"readResults"`
		// v4.0
		Pages []struct {
			Lines []readLine `json:"lines"`
		} `json:"pages"`
	} `json:"analyzeResult"`
}

type readLine struct {
	Text        string     `json:"text"`
	Content     string     `json:"content"`
	BoundingBox []float64  `json:"boundingBox"`
	Words       []readWord `json:"words"`
}

type readWord struct {
	Text        string    `json:"text"`
	Content     string    `json:"content"`
	BoundingBox []float64 `json:"boundingBox"`
	Polygon     []float64 `json:"polygon"`
	Confidence  *float64  `json:"confidence"`
}

// Recognize returns one fragment per word, with box and confidence, each
// followed by the separator implied by its position in the line.
func (e *Engine) Recognize(ctx context.Context, img engine.Image) (engine.Result, error) {
	start := time.Now()
	operationURL, err := e.backend.analyze(ctx, img.Data)
	if err != nil {
		return engine.Result{}, err
	}

	result, err := e.backend.poll(ctx, operationURL)
	if err != nil {
		return engine.Result{}, err
	}

	return engine.Result{
		Fragments: fragmentsFromResult(result, wordSeparator(e.language)),
		Engine:    "azure",
		Elapsed:   time.Since(start),
	}, nil
}

// Close is a no-op.
func (e *Engine) Close() error {
	return nil
}

func (b *Backend) analyze(ctx context.Context, data []byte) (string, error) {
	readURL := b.cfg.Endpoint + "/vision/v3.2/read/analyze"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, readURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", b.cfg.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("azure OCR API error: %d - %s", resp.StatusCode, engine.TruncateBody(body))
	}

	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return "", fmt.Errorf("no operation location returned from Azure OCR")
	}
	return operationURL, nil
}

func (b *Backend) poll(ctx context.Context, operationURL string) (readResult, error) {
	for range b.cfg.MaxPolls {
		select {
		case <-ctx.Done():
			return readResult{}, ctx.Err()
		case <-time.After(b.cfg.PollInterval):
		}

		result, done, err := b.fetch(ctx, operationURL)
		if err != nil {
			return readResult{}, err
		}
		if done {
			return result, nil
		}
	}
	return readResult{}, fmt.Errorf("azure OCR operation timed out")
}

func (b *Backend) fetch(ctx context.Context, operationURL string) (readResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return readResult{}, false, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", b.cfg.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return readResult{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readResult{}, false, nil
	}

	var result readResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return readResult{}, false, fmt.Errorf("failed to decode azure OCR result: %w", err)
	}

	switch result.Status {
	case "succeeded":
		return result, true, nil
	case "failed":
		return readResult{}, false, fmt.Errorf("azure OCR analysis failed")
	case "":
		return readResult{}, false, fmt.Errorf("invalid response format from Azure OCR")
	}
	// notStarted or running
	return readResult{}, false, nil
}

// wordSeparator is the text placed between words of one line. Japanese is
// written without spaces, and the Read API splits it into single characters.
func wordSeparator(lang string) string {
	if lang == "ja" {
		return ""
	}
	return " "
}

func fragmentsFromResult(result readResult, sep string) []engine.Fragment {
	var lines []readLine
	for _, r := range result.AnalyzeResult.ReadResults {
		lines = append(lines, r.Lines...)
	}
	if len(lines) == 0 {
		for _, p := range result.AnalyzeResult.Pages {
			lines = append(lines, p.Lines...)
		}
	}

	var fragments []engine.Fragment
	for _, line := range lines {
		if len(line.Words) == 0 {
			text := firstNonEmpty(line.Text, line.Content)
			if strings.TrimSpace(text) == "" {
				continue
			}
			f := engine.Fragment{Text: text + "\n"}
			if r, ok := boundingRect(line.BoundingBox); ok {
				f.Box = &r
			}
			fragments = append(fragments, f)
			continue
		}

		for i, w := range line.Words {
			text := firstNonEmpty(w.Text, w.Content)
			if strings.TrimSpace(text) == "" {
				continue
			}
			if i == len(line.Words)-1 {
				text += "\n"
			} else {
				text += sep
			}
			f := engine.Fragment{Text: text}
			if w.Confidence != nil {
				f.Confidence = engine.Float(math.Round(*w.Confidence*1e4) / 1e4)
			}
			if r, ok := boundingRect(firstPolygon(w.BoundingBox, w.Polygon)); ok {
				f.Box = &r
			}
			fragments = append(fragments, f)
		}
	}
	return fragments
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstPolygon(a, b []float64) []float64 {
	if len(a) > 0 {
		return a
	}
	return b
}

// boundingRect converts a flat x,y polygon to its enclosing rect.
func boundingRect(poly []float64) (hocr.Rect, bool) {
	if len(poly) < 4 || len(poly)%2 != 0 {
		return hocr.Rect{}, false
	}
	r := hocr.Rect{X1: math.MaxInt, Y1: math.MaxInt, X2: math.MinInt, Y2: math.MinInt}
	for i := 0; i < len(poly); i += 2 {
		x, y := int(math.Round(poly[i])), int(math.Round(poly[i+1]))
		r.X1, r.Y1 = min(r.X1, x), min(r.Y1, y)
		r.X2, r.Y2 = max(r.X2, x), max(r.Y2, y)
	}
	return r, r.Valid()
}
