package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
)

func TestBackend_Name(t *testing.T) {
	b := New(Config{})
	if b.Name() != "gemini" {
		t.Errorf("Expected name 'gemini', got '%s'", b.Name())
	}
	if b.Fingerprint() != "model="+DefaultModel {
		t.Errorf("Fingerprint() = %q", b.Fingerprint())
	}
}

func TestBackend_OpenWithoutKey(t *testing.T) {
	b := New(Config{APIKey: "   "})
	_, err := b.Open(context.Background(), engine.Key{Kind: engine.KindSecondary, Language: "ja"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Open() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestFirstText(t *testing.T) {
	tests := []struct {
		name     string
		resp     *genai.GenerateContentResponse
		expected string
	}{
		{
			name:     "nil response",
			resp:     nil,
			expected: "",
		},
		{
			name:     "no candidates",
			resp:     &genai.GenerateContentResponse{},
			expected: "",
		},
		{
			name: "candidate without content",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{}},
			},
			expected: "",
		},
		{
			name: "first text part wins",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{
					{Content: &genai.Content{Parts: []genai.Part{genai.Blob{MIMEType: "image/png"}, genai.Text("こんにちは"), genai.Text("ignored")}}},
				},
			},
			expected: "こんにちは",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstText(tt.resp); got != tt.expected {
				t.Errorf("firstText() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestMimeType(t *testing.T) {
	if got := mimeType(engine.Image{MIME: "image/jpeg"}); got != "image/jpeg" {
		t.Errorf("mimeType() = %q", got)
	}
	if got := mimeType(engine.Image{}); got != "image/png" {
		t.Errorf("mimeType() default = %q", got)
	}
}
