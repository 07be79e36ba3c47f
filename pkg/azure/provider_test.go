package azure

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/hocr"
)

func TestBackend_Name(t *testing.T) {
	if New(Config{}).Name() != "azure" {
		t.Error("Expected name 'azure'")
	}
}

func TestBackend_Open(t *testing.T) {
	tests := []struct {
		name        string
		endpoint    string
		apiKey      string
		expectError bool
	}{
		{name: "valid configuration", endpoint: "https://test.cognitiveservices.azure.com", apiKey: "test-key"},
		{name: "missing endpoint", apiKey: "test-key", expectError: true},
		{name: "missing API key", endpoint: "https://test.cognitiveservices.azure.com", expectError: true},
		{name: "missing both", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Endpoint: tt.endpoint, APIKey: tt.apiKey}).Open(context.Background(), engine.Key{Language: "en"})
			if tt.expectError && !errors.Is(err, ErrNotConfigured) {
				t.Errorf("Expected ErrNotConfigured, got %v", err)
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestEngine_Recognize(t *testing.T) {
	tests := []struct {
		name              string
		language          string
		analyzeStatus     int
		operationLocation string
		resultResponses   []string
		expectedText      string
		expectedBoxes     int
		expectError       bool
		errorContains     string
	}{
		{
			name:              "v3.2 words with boxes",
			language:          "en",
			analyzeStatus:     http.StatusAccepted,
			operationLocation: "/operations/test-id",
			resultResponses: []string{
				`{"status": "running"}`,
				`{
					"status": "succeeded",
					"analyzeResult": {
						"readResults": [{
							"lines": [
								{"text": "Line one", "words": [
									{"text": "Line", "boundingBox": [10,10,50,10,50,30,10,30], "confidence": 0.98},
									{"text": "one", "boundingBox": [55,10,80,10,80,30,55,30], "confidence": 0.91}
								]},
								{"text": "two", "words": [
									{"text": "two", "boundingBox": [10,40,40,40,40,60,10,60], "confidence": 0.5}
								]}
							]
						}]
					}
				}`,
			},
			expectedText:  "Line one\ntwo\n",
			expectedBoxes: 3,
		},
		{
			name:              "japanese words are joined without spaces",
			language:          "ja",
			analyzeStatus:     http.StatusAccepted,
			operationLocation: "/operations/test-id",
			resultResponses: []string{`{
				"status": "succeeded",
				"analyzeResult": {"readResults": [{"lines": [{"text": "東京", "words": [
					{"text": "東", "boundingBox": [0,0,10,0,10,10,0,10], "confidence": 0.9},
					{"text": "京", "boundingBox": [10,0,20,0,20,10,10,10], "confidence": 0.9}
				]}]}]}
			}`},
			expectedText:  "東京\n",
			expectedBoxes: 2,
		},
		{
			name:              "v4.0 lines without words",
			language:          "en",
			analyzeStatus:     http.StatusAccepted,
			operationLocation: "/operations/test-id",
			resultResponses: []string{`{
				"status": "succeeded",
				"analyzeResult": {"pages": [{"lines": [{"content": "Page 1 line 1"}, {"content": "Page 1 line 2"}]}]}
			}`},
			expectedText: "Page 1 line 1\nPage 1 line 2\n",
		},
		{
			name:          "analyze request error",
			analyzeStatus: http.StatusBadRequest,
			expectError:   true,
			errorContains: "azure OCR API error: 400",
		},
		{
			name:          "missing operation location",
			analyzeStatus: http.StatusAccepted,
			expectError:   true,
			errorContains: "no operation location",
		},
		{
			name:              "operation failed",
			analyzeStatus:     http.StatusAccepted,
			operationLocation: "/operations/test-id",
			resultResponses:   []string{`{"status": "failed"}`},
			expectError:       true,
			errorContains:     "azure OCR analysis failed",
		},
		{
			name:              "operation never finishes",
			analyzeStatus:     http.StatusAccepted,
			operationLocation: "/operations/test-id",
			resultResponses:   []string{`{"status": "running"}`},
			expectError:       true,
			errorContains:     "timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var serverURL string
			polls := 0

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Ocp-Apim-Subscription-Key") != "test-key" {
					t.Error("Expected Ocp-Apim-Subscription-Key header")
				}

				switch {
				case strings.HasSuffix(r.URL.Path, "/read/analyze"):
					if r.Method != http.MethodPost {
						t.Errorf("Expected POST request for analyze, got %s", r.Method)
					}
					if r.Header.Get("Content-Type") != "application/octet-stream" {
						t.Errorf("Expected application/octet-stream content type")
					}
					if tt.operationLocation != "" {
						w.Header().Set("Operation-Location", serverURL+tt.operationLocation)
					}
					w.WriteHeader(tt.analyzeStatus)
				case strings.HasPrefix(r.URL.Path, "/operations/"):
					if r.Method != http.MethodGet {
						t.Errorf("Expected GET request for result, got %s", r.Method)
					}
					body := tt.resultResponses[min(polls, len(tt.resultResponses)-1)]
					polls++
					if _, err := w.Write([]byte(body)); err != nil {
						t.Errorf("Failed to write result response: %v", err)
					}
				default:
					t.Errorf("Unexpected path %s", r.URL.Path)
				}
			}))
			serverURL = server.URL
			defer server.Close()

			b := New(Config{Endpoint: server.URL + "/", APIKey: "test-key", PollInterval: time.Millisecond, MaxPolls: 5})
			e, err := b.Open(context.Background(), engine.Key{Language: tt.language})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			res, err := e.Recognize(ctx, engine.Image{Data: []byte("test image data")})
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error to contain '%s', got: %v", tt.errorContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if got := res.CombinedText(); got != tt.expectedText {
				t.Errorf("Expected text %q, got %q", tt.expectedText, got)
			}
			if got := len(res.Words()); got != tt.expectedBoxes {
				t.Errorf("Expected %d boxed words, got %d", tt.expectedBoxes, got)
			}
		})
	}
}

func TestEngine_RecognizeHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Operation-Location", "http://"+r.Host+"/operations/x")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b := New(Config{Endpoint: server.URL, APIKey: "k", PollInterval: time.Hour})
	e, _ := b.Open(context.Background(), engine.Key{Language: "en"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.Recognize(ctx, engine.Image{Data: []byte("x")}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestFragmentsFromResult(t *testing.T) {
	var result readResult
	raw := `{"analyzeResult": {"readResults": [{"lines": [
		{"text": "a b", "words": [
			{"text": "a", "boundingBox": [0.4,0,10,0,10,10.6,0,10], "confidence": 0.123456},
			{"text": " ", "boundingBox": [10,0,12,0,12,10,10,10]},
			{"text": "b", "boundingBox": [1,1,1,1]}
		]}
	]}]}}`
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatal(err)
	}

	fragments := fragmentsFromResult(result, " ")
	if len(fragments) != 2 {
		t.Fatalf("Expected blank words to be skipped, got %d fragments", len(fragments))
	}
	if fragments[0].Text != "a " || fragments[1].Text != "b\n" {
		t.Errorf("Unexpected fragment texts %q %q", fragments[0].Text, fragments[1].Text)
	}
	if fragments[0].Box == nil || *fragments[0].Box != (hocr.Rect{X1: 0, Y1: 0, X2: 10, Y2: 11}) {
		t.Errorf("Unexpected box %v", fragments[0].Box)
	}
	if fragments[0].Confidence == nil || *fragments[0].Confidence != 0.1235 {
		t.Errorf("Expected rounded confidence, got %v", fragments[0].Confidence)
	}
	if fragments[1].Box != nil || fragments[1].Confidence != nil {
		t.Error("Degenerate box and missing confidence should stay nil")
	}
}
