package tesseract

import (
	"image"
	"slices"
	"testing"

	"github.com/otiai10/gosseract/v2"

	"github.com/lehigh-university-libraries/ocrworker/pkg/hocr"
)

func TestBackend_Name(t *testing.T) {
	b := New(Options{})
	if b.Name() != "tesseract" {
		t.Errorf("Expected name 'tesseract', got '%s'", b.Name())
	}
}

func TestLanguageCodes(t *testing.T) {
	tests := []struct {
		lang     string
		expected []string
	}{
		{"en", []string{"eng"}},
		{"ja", []string{"jpn"}},
		{"ja+en", []string{"jpn", "eng"}},
		{"deu", []string{"deu"}},
		{"", []string{"eng"}},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			if got := LanguageCodes(tt.lang); !slices.Equal(got, tt.expected) {
				t.Errorf("LanguageCodes(%q) = %v, want %v", tt.lang, got, tt.expected)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	opts := Options{Variables: map[string]string{"tessedit_do_invert": "0", "preserve_interword_spaces": "1"}}
	if got := opts.Fingerprint(); got != "psm=6,preserve_interword_spaces=1,tessedit_do_invert=0" {
		t.Errorf("Fingerprint() = %q", got)
	}
	if got := opts.pageSegMode(true); got != gosseract.PSM_AUTO_OSD {
		t.Errorf("pageSegMode(orientation) = %v, want PSM_AUTO_OSD", got)
	}
	if got := (Options{PageSegMode: 7}).pageSegMode(false); got != gosseract.PSM_SINGLE_LINE {
		t.Errorf("pageSegMode(7) = %v, want PSM_SINGLE_LINE", got)
	}
}

func TestFragmentsFromBoxes(t *testing.T) {
	boxes := []gosseract.BoundingBox{
		{Box: image.Rect(0, 0, 100, 20), Word: "hello world\n", Confidence: 91.5},
		{Box: image.Rect(0, 30, 10, 40), Word: "   ", Confidence: 10},
		{Box: image.Rect(0, 50, 80, 70), Word: "second", Confidence: 120},
	}

	fragments := fragmentsFromBoxes(boxes)
	if len(fragments) != 2 {
		t.Fatalf("fragmentsFromBoxes() returned %d fragments, want 2", len(fragments))
	}
	if fragments[0].Text != "hello world" {
		t.Errorf("text = %q", fragments[0].Text)
	}
	if *fragments[0].Confidence != 0.915 {
		t.Errorf("confidence = %v, want 0.915", *fragments[0].Confidence)
	}
	if *fragments[0].Box != (hocr.Rect{X1: 0, Y1: 0, X2: 100, Y2: 20}) {
		t.Errorf("box = %v", *fragments[0].Box)
	}
	if *fragments[1].Confidence != 1 {
		t.Errorf("confidence should be clamped to 1, got %v", *fragments[1].Confidence)
	}
}
