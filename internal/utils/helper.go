package utils

import (
	"log/slog"
	"os"
	"regexp"
)

var (
	// ?key=VALUE, &api_key=VALUE, apiKey=VALUE, api-key=VALUE
	queryKeyPattern = regexp.MustCompile(`([?&])(api[_\-]?[kK]ey|key)=([^&\s"]+)`)
	bearerPattern   = regexp.MustCompile(`Bearer\s+([A-Za-z0-9_\-\.]+)`)
	// Google API keys, as used by Gemini
	googleKeyPattern = regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`)
	// x-goog-api-key header
	googHeaderPattern = regexp.MustCompile(`(?i)x-goog-api-key:\s*([^\s]+)`)
)

// MaskSensitiveData masks API keys and other sensitive information in strings.
// Everything the worker writes to stdout or stderr about a failure goes
// through it.
func MaskSensitiveData(s string) string {
	if s == "" {
		return s
	}

	s = queryKeyPattern.ReplaceAllString(s, `${1}${2}=***MASKED***`)
	s = bearerPattern.ReplaceAllString(s, `Bearer ***MASKED***`)
	s = googHeaderPattern.ReplaceAllString(s, `x-goog-api-key: ***MASKED***`)
	s = googleKeyPattern.ReplaceAllString(s, `***MASKED***`)

	return s
}

// MaskSensitiveError wraps an error and masks sensitive data when the error is converted to string
func MaskSensitiveError(err error) error {
	if err == nil {
		return nil
	}
	return &maskedError{err: err}
}

type maskedError struct {
	err error
}

func (e *maskedError) Error() string {
	return MaskSensitiveData(e.err.Error())
}

func (e *maskedError) Unwrap() error {
	return e.err
}

// ErrorMessage renders err for a response payload: masked, and cut to
// limit runes when limit > 0.
func ErrorMessage(err error, limit int) string {
	if err == nil {
		return ""
	}
	msg := MaskSensitiveData(err.Error())
	if limit > 0 {
		if r := []rune(msg); len(r) > limit {
			msg = string(r[:limit]) + "..."
		}
	}
	return msg
}

func ExitOnError(msg string, err error) {
	slog.Error(msg, "err", MaskSensitiveError(err))
	os.Exit(1)
}
