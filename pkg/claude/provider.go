package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/imageprep"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-3-5-sonnet-latest"
	apiVersion     = "2023-06-01"
)

// ErrMissingAPIKey is returned by Open when no API key is configured.
var ErrMissingAPIKey = errors.New("ANTHROPIC_API_KEY environment variable not set")

// Config holds the Anthropic settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Response represents an Anthropic API response
type Response struct {
	Content []struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Backend implements the Anthropic Claude vision backend
type Backend struct {
	cfg    Config
	client *http.Client
}

// New creates a new Claude backend
func New(cfg Config) *Backend {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Backend{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "claude"
}

// Fingerprint identifies the model for engine keys.
func (b *Backend) Fingerprint() string {
	return "model=" + b.cfg.Model
}

// Open checks the API key and returns an engine bound to the key's language.
func (b *Backend) Open(ctx context.Context, key engine.Key) (engine.Engine, error) {
	if b.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &Engine{backend: b, language: key.Language}, nil
}

// Engine sends images to the messages endpoint.
type Engine struct {
	backend  *Backend
	language string
}

// Recognize transcribes img. The result is a single fragment without
// confidence or box.
func (e *Engine) Recognize(ctx context.Context, img engine.Image) (engine.Result, error) {
	start := time.Now()
	text, err := e.backend.message(ctx, engine.TranscriptionPrompt(e.language), img)
	if err != nil {
		return engine.Result{}, err
	}

	res := engine.Result{Engine: "claude", Elapsed: time.Since(start)}
	if text != "" {
		res.Fragments = []engine.Fragment{{Text: text}}
	}
	return res, nil
}

// Close is a no-op.
func (e *Engine) Close() error {
	return nil
}

func (b *Backend) message(ctx context.Context, prompt string, img engine.Image) (string, error) {
	// Claude uses "media_type" instead of "mime_type"
	mediaType := img.MIME
	if mediaType == "" {
		mediaType = "image/png"
	}

	requestBody := map[string]any{
		"model":      b.cfg.Model,
		"max_tokens": b.cfg.MaxTokens,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{
						"type": "image",
						"source": map[string]any{
							"type":       "base64",
							"media_type": mediaType,
							"data":       imageprep.Base64(img),
						},
					},
					{
						"type": "text",
						"text": prompt,
					},
				},
			},
		},
	}
	if b.cfg.Temperature > 0 {
		requestBody["temperature"] = b.cfg.Temperature
	}

	requestJSON, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(b.cfg.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestJSON))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", b.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("claude API error: %d - %s", resp.StatusCode, engine.TruncateBody(body))
	}

	var claudeResp Response
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return "", fmt.Errorf("failed to decode claude response: %w", err)
	}
	if len(claudeResp.Content) == 0 {
		return "", fmt.Errorf("no response from Claude")
	}
	slog.Debug("Claude usage", "input_tokens", claudeResp.Usage.InputTokens, "output_tokens", claudeResp.Usage.OutputTokens)

	for _, content := range claudeResp.Content {
		if content.Type == "text" {
			return engine.CleanResponse(content.Text), nil
		}
	}
	return "", fmt.Errorf("no text content in Claude response")
}
