package hocr

import "fmt"

// Rect is an axis-aligned box in image pixels; (X1,Y1) is the top-left corner
// and (X2,Y2) the bottom-right one.
type Rect struct {
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
	X2 int `json:"x2" yaml:"x2"`
	Y2 int `json:"y2" yaml:"y2"`
}

// Valid reports whether r has a positive width and height.
func (r Rect) Valid() bool {
	return r.X2 > r.X1 && r.Y2 > r.Y1
}

func (r Rect) Width() int  { return r.X2 - r.X1 }
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Union returns the smallest rect containing r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		X1: min(r.X1, o.X1),
		Y1: min(r.Y1, o.Y1),
		X2: max(r.X2, o.X2),
		Y2: max(r.Y2, o.Y2),
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("bbox %d %d %d %d", r.X1, r.Y1, r.X2, r.Y2)
}

// Word is a recognized fragment with its box.
type Word struct {
	Box        Rect
	Text       string
	Confidence *float64
}

// Line is a merged region and the words that were folded into it, in
// left-to-right order.
type Line struct {
	Box   Rect
	Words []Word
}
