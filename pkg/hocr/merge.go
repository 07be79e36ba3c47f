package hocr

import (
	"cmp"
	"slices"
	"strings"
)

// MergeOptions are the pairwise merge tolerances.
type MergeOptions struct {
	// YOverlapRatio is the minimum vertical overlap divided by the smaller height.
	YOverlapRatio float64
	// XGap is the exclusive upper bound on the horizontal gap in pixels.
	XGap int
}

// DefaultMergeOptions returns the tolerances used for single-line captures.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{YOverlapRatio: 0.5, XGap: 10}
}

// shouldMerge reports whether a and b sit on the same text line and are close
// enough horizontally to be one region.
func (o MergeOptions) shouldMerge(a, b Rect) bool {
	overlap := max(0, min(a.Y2, b.Y2)-max(a.Y1, b.Y1))
	ratio := float64(overlap) / float64(min(a.Height(), b.Height()))
	if ratio < o.YOverlapRatio {
		return false
	}
	gap := max(0, b.X1-a.X2, a.X1-b.X2)
	return gap < o.XGap
}

// MergeTextBoxes drops invalid rects and replaces every group of mergeable
// rects with their union until no pair is mergeable. The result depends only
// on the set of inputs, never on their order, and is sorted by top, left,
// bottom, right.
func MergeTextBoxes(rects []Rect, opts MergeOptions) []Rect {
	merged, _ := mergeRects(rects, opts)
	return merged
}

// GroupLines merges the boxes of words and attaches each word to the region
// its box ended up in. Words without a valid box are skipped.
func GroupLines(words []Word, opts MergeOptions) []Line {
	rects := make([]Rect, len(words))
	for i, w := range words {
		rects[i] = w.Box
	}

	merged, owner := mergeRects(rects, opts)
	lines := make([]Line, len(merged))
	for i, r := range merged {
		lines[i].Box = r
	}
	for i, w := range words {
		if owner[i] < 0 {
			continue
		}
		lines[owner[i]].Words = append(lines[owner[i]].Words, w)
	}
	for i := range lines {
		slices.SortStableFunc(lines[i].Words, func(a, b Word) int {
			return cmp.Or(cmp.Compare(a.Box.X1, b.Box.X1), cmp.Compare(a.Box.Y1, b.Box.Y1))
		})
	}

	return lines
}

// Text joins the words of the line with single spaces.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Words))
	for _, w := range l.Words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// mergeRects runs merge rounds to a fixpoint. owner maps every input index to
// its output index, or -1 for dropped rects.
func mergeRects(rects []Rect, opts MergeOptions) ([]Rect, []int) {
	owner := make([]int, len(rects))
	current := make([]Rect, 0, len(rects))
	for i, r := range rects {
		if !r.Valid() {
			owner[i] = -1
			continue
		}
		owner[i] = len(current)
		current = append(current, r)
	}

	for {
		uf := newUnionFind(len(current))
		joined := false
		for i := 0; i < len(current); i++ {
			for j := i + 1; j < len(current); j++ {
				if opts.shouldMerge(current[i], current[j]) && uf.union(i, j) {
					joined = true
				}
			}
		}
		if !joined {
			break
		}

		next := make([]Rect, 0, len(current))
		slot := make(map[int]int, len(current))
		remap := make([]int, len(current))
		for i, r := range current {
			root := uf.find(i)
			k, ok := slot[root]
			if !ok {
				k = len(next)
				slot[root] = k
				next = append(next, r)
			} else {
				next[k] = next[k].Union(r)
			}
			remap[i] = k
		}
		for i := range owner {
			if owner[i] >= 0 {
				owner[i] = remap[owner[i]]
			}
		}
		current = next
	}

	order := make([]int, len(current))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		return compareRects(current[a], current[b])
	})

	sorted := make([]Rect, len(current))
	position := make([]int, len(current))
	for pos, idx := range order {
		sorted[pos] = current[idx]
		position[idx] = pos
	}
	for i := range owner {
		if owner[i] >= 0 {
			owner[i] = position[owner[i]]
		}
	}

	return sorted, owner
}

func compareRects(a, b Rect) int {
	return cmp.Or(
		cmp.Compare(a.Y1, b.Y1),
		cmp.Compare(a.X1, b.X1),
		cmp.Compare(a.Y2, b.Y2),
		cmp.Compare(a.X2, b.X2),
	)
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union links the sets of i and j and reports whether they were disjoint.
func (u *unionFind) union(i, j int) bool {
	ri, rj := u.find(i), u.find(j)
	if ri == rj {
		return false
	}
	u.parent[rj] = ri
	return true
}
