package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"

	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/hocr"
	"github.com/lehigh-university-libraries/ocrworker/pkg/quality"
)

// Error codes carried in error payloads.
const (
	CodeInvalidJSON = "invalid_json"
	CodeUnknownType = "unknown_type"
	CodeException   = "exception"
)

// Message types. Dotted and underscored spellings are synonyms.
const (
	TypeHealthCheck    = "health_check"
	TypeHealthCheckDot = "health.check"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeWarmup         = "warmup"
	TypeWarmupDot      = "ocr.warmup"
	TypePerform        = "ocr_perform"
	TypePerformDot     = "ocr.perform"
	TypeError          = "error"
)

// Sources an ocr.perform request can read its image from.
const (
	SourceClipboard   = "clipboard"
	SourceImageBase64 = "imageBase64"
)

var errMissingType = errors.New(`envelope has no "type"`)

// Envelope is one request line. ID is kept as raw JSON so it can be echoed
// verbatim.
type Envelope struct {
	ID      json.RawMessage `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type response struct {
	ID      json.RawMessage `json:"id"`
	Type    string          `json:"type"`
	Payload any             `json:"payload"`
}

// ErrorPayload is the payload of every failed request.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var emptyID = json.RawMessage(`""`)

var idPattern = regexp.MustCompile(`"id"\s*:\s*("(?:[^"\\]|\\.)*"|-?[0-9][0-9.eE+\-]*)`)

// parseEnvelope decodes one line. On failure the returned envelope still
// carries whatever id could be salvaged from the line.
func parseEnvelope(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{ID: salvageID(line)}, err
	}
	env.ID = normalizeID(env.ID)
	if env.Type == "" {
		return env, errMissingType
	}
	if p := bytes.TrimSpace(env.Payload); len(p) == 0 || bytes.Equal(p, []byte("null")) {
		env.Payload = json.RawMessage(`{}`)
	}
	return env, nil
}

func normalizeID(id json.RawMessage) json.RawMessage {
	id = bytes.TrimSpace(id)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return emptyID
	}
	return id
}

func salvageID(line []byte) json.RawMessage {
	m := idPattern.FindSubmatch(line)
	if m == nil || !json.Valid(m[1]) {
		return emptyID
	}
	return json.RawMessage(m[1])
}

type healthResponse struct {
	Message string `json:"message"`
}

type pingResponse struct {
	OK              bool     `json:"ok"`
	TS              int64    `json:"ts"`
	PID             int      `json:"pid"`
	EngineVersion   string   `json:"engineVersion"`
	WarmedLanguages []string `json:"warmedLanguages"`
	UptimeMs        int64    `json:"uptimeMs"`
	Requests        int64    `json:"requests"`
	LatencyP95Ms    float64  `json:"latencyP95Ms"`
}

// WarmupRequest asks for one or more languages to be warmed. Languages wins
// over Language; with neither the configured startup set is used.
type WarmupRequest struct {
	Languages []string `json:"languages"`
	Language  string   `json:"language"`
	Force     bool     `json:"force"`
}

type warmupResponse struct {
	OK              bool     `json:"ok"`
	WarmedLanguages []string `json:"warmedLanguages"`
	Error           string   `json:"error,omitempty"`
}

// OcrRequest is the payload of ocr.perform. Expected is nil when the caller
// does not want the result graded.
type OcrRequest struct {
	Language    string  `json:"language"`
	Source      string  `json:"source"`
	ImageBase64 string  `json:"imageBase64"`
	Expected    *string `json:"expected"`
	Format      string  `json:"format"`
}

// OcrResponse is the payload answered to ocr.perform. When the request was
// graded Text is the normalized text and RawText what the engine returned.
type OcrResponse struct {
	Text       string            `json:"text"`
	RawText    string            `json:"rawText,omitempty"`
	Confidence float64           `json:"confidence"`
	Engine     string            `json:"engine"`
	Language   string            `json:"language"`
	Fragments  []engine.Fragment `json:"fragments"`
	Regions    []hocr.Rect       `json:"regions"`
	Attempts   []engine.Attempt  `json:"attempts"`
	Verdict    *quality.Verdict  `json:"verdict,omitempty"`
	HOCR       string            `json:"hocr,omitempty"`
}

type bootLine struct {
	Boot    string `json:"_boot"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

type warmupLine struct {
	Warmup string   `json:"_warmup"`
	Langs  []string `json:"langs"`
	Error  string   `json:"error,omitempty"`
}
