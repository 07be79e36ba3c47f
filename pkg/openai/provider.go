package openai

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
	"text/template"
	"time"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/imageprep"
)

const (
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "gpt-4o"
)

// ErrMissingAPIKey is returned by Open when no API key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY environment variable not set")

// Config holds the OpenAI settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Response represents an OpenAI API response
type Response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// TemplateData represents data for API request template
type TemplateData struct {
	Model       string
	Prompt      string
	Temperature float64
	ImageBase64 string
	MimeType    string
}

var requestTemplate = template.Must(template.New("openai").Parse(`{
  "model": "{{.Model}}",
  "temperature": {{.Temperature}},
  "messages": [
    {
      "role": "user",
      "content": [
        {
          "type": "text",
          "text": "{{.Prompt}}"
        },
        {
          "type": "image_url",
          "image_url": {
            "url": "data:{{.MimeType}};base64,{{.ImageBase64}}"
          }
        }
      ]
    }
  ]
}`))

// Backend implements the OpenAI vision backend
type Backend struct {
	cfg    Config
	client *http.Client
}

// New creates a new OpenAI backend
func New(cfg Config) *Backend {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Backend{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "openai"
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

// Engine sends images to the chat completions endpoint.
type Engine struct {
	backend  *Backend
	language string
}

// Recognize transcribes img. The result is a single fragment without
// confidence or box.
func (e *Engine) Recognize(ctx context.Context, img engine.Image) (engine.Result, error) {
	start := time.Now()
	text, usage, err := e.backend.complete(ctx, engine.TranscriptionPrompt(e.language), img)
	if err != nil {
		return engine.Result{}, err
	}

	res := engine.Result{Engine: "openai", Elapsed: time.Since(start)}
	if text != "" {
		res.Fragments = []engine.Fragment{{Text: text}}
	}
	slog.Debug("OpenAI usage", "prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
	return res, nil
}

// Close is a no-op.
func (e *Engine) Close() error {
	return nil
}

type usageInfo struct {
	PromptTokens     int
	CompletionTokens int
}

func (b *Backend) complete(ctx context.Context, prompt string, img engine.Image) (string, usageInfo, error) {
	mimeType := img.MIME
	if mimeType == "" {
		mimeType = "image/png"
	}

	var requestBuffer bytes.Buffer
	if err := requestTemplate.Execute(&requestBuffer, TemplateData{
		Model:       jsonEscape(b.cfg.Model),
		Prompt:      jsonEscape(prompt),
		Temperature: b.cfg.Temperature,
		ImageBase64: imageprep.Base64(img),
		MimeType:    jsonEscape(mimeType),
	}); err != nil {
		return "", usageInfo{}, fmt.Errorf("failed to execute template: %w", err)
	}

	url := strings.TrimSuffix(b.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &requestBuffer)
	if err != nil {
		return "", usageInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", usageInfo{}, err
	}
	defer resp.Body.Close()

	// Read response body once for both parsing and error logging
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", usageInfo{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", usageInfo{}, fmt.Errorf("openAI API error: %d - %s", resp.StatusCode, engine.TruncateBody(body))
	}

	var openaiResp Response
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return "", usageInfo{}, fmt.Errorf("failed to parse JSON response: %w - body: %s", err, engine.TruncateBody(body))
	}
	if len(openaiResp.Choices) == 0 {
		return "", usageInfo{}, fmt.Errorf("no response from OpenAI - body: %s", engine.TruncateBody(body))
	}

	return engine.CleanResponse(openaiResp.Choices[0].Message.Content), usageInfo{
		PromptTokens:     openaiResp.Usage.PromptTokens,
		CompletionTokens: openaiResp.Usage.CompletionTokens,
	}, nil
}

// jsonEscape escapes s for use inside a JSON string literal.
func jsonEscape(s string) string {
	escaped, _ := json.Marshal(s)
	return string(escaped[1 : len(escaped)-1])
}
