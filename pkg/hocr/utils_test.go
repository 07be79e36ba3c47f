package hocr

import (
	"strings"
	"testing"
)

func TestRenderHOCR(t *testing.T) {
	conf := 0.876
	lines := []Line{
		{
			Box: Rect{X1: 0, Y1: 0, X2: 100, Y2: 20},
			Words: []Word{
				{Box: Rect{X1: 0, Y1: 0, X2: 40, Y2: 20}, Text: "hello", Confidence: &conf},
				{Box: Rect{X1: 45, Y1: 0, X2: 100, Y2: 20}, Text: "a<b"},
			},
		},
		{
			Box:   Rect{X1: 0, Y1: 30, X2: 50, Y2: 50},
			Words: []Word{{Box: Rect{X1: 0, Y1: 30, X2: 50, Y2: 50}, Text: "R&D"}},
		},
	}

	tests := []struct {
		name string
		page Rect
		want []string
	}{
		{
			name: "explicit page",
			page: Rect{X1: 0, Y1: 0, X2: 640, Y2: 480},
			want: []string{
				"<!DOCTYPE html",
				"title='bbox 0 0 640 480'",
				"<span class='ocr_line' id='line_1' title='bbox 0 0 100 20'>",
				"<span class='ocrx_word' id='word_1_1' title='bbox 0 0 40 20; x_wconf 88'>hello</span>",
				"<span class='ocrx_word' id='word_1_2' title='bbox 45 0 100 20'>a&lt;b</span>",
				"<span class='ocr_line' id='line_2' title='bbox 0 30 50 50'>",
				">R&amp;D</span>",
			},
		},
		{
			name: "page from lines",
			want: []string{
				"<div class='ocr_page' id='page_1' title='bbox 0 0 100 50'>",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderHOCR(lines, tt.page)
			for _, want := range tt.want {
				if !strings.Contains(result, want) {
					t.Errorf("RenderHOCR() missing %q in\n%s", want, result)
				}
			}
		})
	}
}

func TestWrapInHOCRDocument(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty content", ""},
		{"simple content", "<span>test</span>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := WrapInHOCRDocument(tt.content, Rect{X2: 10, Y2: 10})
			if !strings.Contains(result, "<!DOCTYPE html") {
				t.Errorf("WrapInHOCRDocument() missing DOCTYPE")
			}
			if !strings.Contains(result, tt.content) {
				t.Errorf("WrapInHOCRDocument() missing content")
			}
			if !strings.Contains(result, "ocr-system") {
				t.Errorf("WrapInHOCRDocument() missing ocr-system meta")
			}
		})
	}
}

func TestEscapeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "hello", "hello"},
		{"bare ampersand", "R&D", "R&amp;D"},
		{"existing entity", "a &amp; b", "a &amp; b"},
		{"numeric entity", "&#169; 2024", "&#169; 2024"},
		{"broken numeric entity", "&#abc;", "&amp;#abc;"},
		{"angle brackets", "<tag>", "&lt;tag&gt;"},
		{"multibyte", "日本&語", "日本&amp;語"},
		{"trailing ampersand", "end&", "end&amp;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeText(tt.input); got != tt.expected {
				t.Errorf("escapeText(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
