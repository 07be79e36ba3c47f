package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
)

const DefaultModel = "gemini-1.5-flash"

// ErrMissingAPIKey is returned by Open when no API key is configured.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is empty")

// Config holds the Gemini settings.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
}

// Backend implements the Google Gemini vision backend
type Backend struct {
	cfg Config
}

// New creates a new Gemini backend
func New(cfg Config) *Backend {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Backend{cfg: cfg}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "gemini"
}

// Fingerprint identifies the model for engine keys.
func (b *Backend) Fingerprint() string {
	return "model=" + b.cfg.Model
}

// Open creates an API client for the key's language.
func (b *Backend) Open(ctx context.Context, key engine.Key) (engine.Engine, error) {
	if b.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(b.cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	m := cl.GenerativeModel(b.cfg.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: &b.cfg.Temperature,
	}

	return &Engine{client: cl, model: m, language: key.Language}, nil
}

// Engine sends images to one Gemini model.
type Engine struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	language string
}

// Recognize transcribes img. The result is a single fragment without
// confidence or box.
func (e *Engine) Recognize(ctx context.Context, img engine.Image) (engine.Result, error) {
	start := time.Now()
	resp, err := e.model.GenerateContent(ctx,
		genai.Text(engine.TranscriptionPrompt(e.language)),
		&genai.Blob{MIMEType: mimeType(img), Data: img.Data},
	)
	if err != nil {
		return engine.Result{}, fmt.Errorf("gemini generate: %w", err)
	}

	res := engine.Result{Engine: "gemini", Elapsed: time.Since(start)}
	if text := engine.CleanResponse(firstText(resp)); text != "" {
		res.Fragments = []engine.Fragment{{Text: text}}
	}
	return res, nil
}

// Close closes the API client.
func (e *Engine) Close() error {
	return e.client.Close()
}

func mimeType(img engine.Image) string {
	if img.MIME != "" {
		return img.MIME
	}
	return "image/png"
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
