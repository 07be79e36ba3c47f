package hocr

import (
	"fmt"
	"strings"
)

// RenderHOCR renders lines as an hOCR document. Page is the page bbox; pass
// the zero Rect when the image size is unknown and the union of all lines is
// used instead.
func RenderHOCR(lines []Line, page Rect) string {
	if !page.Valid() {
		for i, l := range lines {
			if i == 0 {
				page = l.Box
				continue
			}
			page = page.Union(l.Box)
		}
	}

	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "<span class='ocr_line' id='line_%d' title='%s'>", i+1, line.Box)
		for j, w := range line.Words {
			title := w.Box.String()
			if w.Confidence != nil {
				title += fmt.Sprintf("; x_wconf %d", int(*w.Confidence*100+0.5))
			}
			fmt.Fprintf(&b, "<span class='ocrx_word' id='word_%d_%d' title='%s'>%s</span>", i+1, j+1, title, escapeText(w.Text))
		}
		b.WriteString("</span>")
		if i < len(lines)-1 {
			b.WriteString("\n")
		}
	}

	return WrapInHOCRDocument(b.String(), page)
}

// WrapInHOCRDocument wraps content in a complete hOCR HTML document
func WrapInHOCRDocument(content string, page Rect) string {
	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
<head>
<title></title>
<meta http-equiv="Content-Type" content="text/html;charset=utf-8" />
<meta name='ocr-system' content='ocrworker' />
<meta name='ocr-capabilities' content='ocr_page ocr_line ocrx_word' />
</head>
<body>
<div class='ocr_page' id='page_1' title='%s'>
%s
</div>
</body>
</html>`, page, content)
}

var validEntities = []string{"&amp;", "&lt;", "&gt;", "&quot;", "&apos;", "&#39;"}

// escapeText makes recognized text safe inside a span. Entities that are
// already well formed are kept as is.
func escapeText(text string) string {
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		switch c := text[i]; c {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			if n := entityLen(text[i:]); n > 0 {
				b.WriteString(text[i : i+n])
				i += n - 1
				continue
			}
			b.WriteString("&amp;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// entityLen returns the length of the entity starting at s, or 0.
func entityLen(s string) int {
	for _, entity := range validEntities {
		if strings.HasPrefix(s, entity) {
			return len(entity)
		}
	}
	if len(s) > 2 && s[1] == '#' {
		j := 2
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j > 2 && j < len(s) && s[j] == ';' {
			return j + 1
		}
	}
	return 0
}
