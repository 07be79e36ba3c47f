package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/imageprep"
)

const (
	DefaultURL   = "http://localhost:11434"
	DefaultModel = "llava"
)

// Config holds the Ollama connection settings.
type Config struct {
	URL         string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Backend implements the Ollama local vision model backend
type Backend struct {
	cfg    Config
	client *http.Client
}

// New creates a new Ollama backend
func New(cfg Config) *Backend {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		// local inference is slow on CPU
		cfg.Timeout = 300 * time.Second
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "ollama"
}

// Fingerprint identifies the model for engine keys.
func (b *Backend) Fingerprint() string {
	return "model=" + b.cfg.Model
}

// Open returns a lightweight engine bound to the key's language. No
// connection is made until the first Recognize call.
func (b *Backend) Open(ctx context.Context, key engine.Key) (engine.Engine, error) {
	return &Engine{backend: b, language: key.Language}, nil
}

// Engine sends images to /api/generate.
type Engine struct {
	backend  *Backend
	language string
}

// Recognize transcribes img with the configured model. The result is a single
// fragment without confidence or box.
func (e *Engine) Recognize(ctx context.Context, img engine.Image) (engine.Result, error) {
	start := time.Now()
	text, err := e.backend.generate(ctx, engine.TranscriptionPrompt(e.language), imageprep.Base64(img))
	if err != nil {
		return engine.Result{}, err
	}

	res := engine.Result{Engine: "ollama", Elapsed: time.Since(start)}
	if text != "" {
		res.Fragments = []engine.Fragment{{Text: text}}
	}
	return res, nil
}

// Close is a no-op; the HTTP client is shared by the backend.
func (e *Engine) Close() error {
	return nil
}

func (b *Backend) generate(ctx context.Context, prompt, imageBase64 string) (string, error) {
	requestBody := map[string]any{
		"model":  b.cfg.Model,
		"prompt": prompt,
		"images": []string{imageBase64},
		"stream": false,
		"options": map[string]any{
			"temperature": b.cfg.Temperature,
		},
	}

	requestJSON, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", strings.TrimSuffix(b.cfg.URL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestJSON))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error: %d - %s", resp.StatusCode, engine.TruncateBody(body))
	}

	var ollamaResp struct {
		Response *string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if ollamaResp.Response == nil {
		return "", fmt.Errorf("no response from Ollama")
	}

	return engine.CleanResponse(*ollamaResp.Response), nil
}
