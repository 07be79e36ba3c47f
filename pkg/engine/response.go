package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// chatterPatterns strip the preambles vision language models put before the
// transcription.
var chatterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(the\s+)?text\s+in\s+(the\s+)?image\s+(is|says|reads):?\s*`),
	regexp.MustCompile(`(?i)^(the\s+)?image\s+contains\s+(the\s+following\s+)?text:?\s*`),
	regexp.MustCompile(`(?i)^here'?s?\s+(the\s+)?text\s+(extracted\s+)?from\s+(the\s+)?image:?\s*`),
	regexp.MustCompile(`(?i)^(i\s+can\s+see\s+)?text\s+(that\s+says|reading):?\s*`),
	regexp.MustCompile(`(?i)^certainly!\s+here'?s?\s+(the\s+)?text\s+(extracted\s+)?from\s+(the\s+)?image:?\s*`),
	regexp.MustCompile(`(?i)^here'?s?\s+the\s+extracted\s+text\s+from\s+(the\s+)?image:?\s*`),
	regexp.MustCompile(`(?i)^(画像の)?テキスト[はを]?[:：]\s*`),
}

// CleanResponse removes model chatter, wrapping quotes and code fences from
// a generative transcription.
func CleanResponse(response string) string {
	response = strings.TrimSpace(response)

	for _, re := range chatterPatterns {
		response = strings.TrimSpace(re.ReplaceAllString(response, ""))
	}

	response = strings.Trim(response, `"'`)

	if strings.HasPrefix(response, "```") && strings.HasSuffix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}

	return response
}

// TruncateBody truncates a response body to a maximum length for error messages.
// Default maxLen is 500 if not specified.
func TruncateBody(body []byte, maxLen ...int) string {
	limit := 500
	if len(maxLen) > 0 && maxLen[0] > 0 {
		limit = maxLen[0]
	}
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "... (truncated)"
	}
	return s
}

// TranscriptionPrompt asks a vision language model for a plain transcription.
func TranscriptionPrompt(lang string) string {
	name := lang
	switch lang {
	case "ja":
		name = "Japanese"
	case "en":
		name = "English"
	}
	return fmt.Sprintf("Transcribe all %s text in this image exactly as written. Preserve line breaks. Output only the text, with no commentary. If there is no text, output nothing.", name)
}
