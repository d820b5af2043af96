package impact

import (
	"sort"

	"github.com/buildlens/buildlens/internal/diff"
)

// Overlaps reports whether the closed line intervals [aStart,aEnd] and
// [bStart,bEnd] share at least one line. Touching spans overlap.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart <= bEnd && aEnd >= bStart
}

// RangeIndex indexes one file's declarations by line span.
type RangeIndex struct {
	decls []Declaration // sorted by StartLine, EndLine, Name
}

// NewRangeIndex builds an index over decls. The input slice is not modified.
func NewRangeIndex(decls []Declaration) *RangeIndex {
	sorted := make([]Declaration, len(decls))
	copy(sorted, decls)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.EndLine != b.EndLine {
			return a.EndLine < b.EndLine
		}
		return a.Name < b.Name
	})
	return &RangeIndex{decls: sorted}
}

// Len returns the number of indexed declarations.
func (ix *RangeIndex) Len() int {
	return len(ix.decls)
}

// All returns every declaration in start-line order.
func (ix *RangeIndex) All() []Declaration {
	return ix.decls
}

// FindOverlapping returns the declarations whose span intersects r, in
// start-line order. Nested declarations (a method and its enclosing arrow
// function, say) are all returned.
func (ix *RangeIndex) FindOverlapping(r diff.ChangedRange) []Declaration {
	var hits []Declaration
	for _, d := range ix.decls {
		if d.StartLine > r.EndLine {
			break
		}
		if Overlaps(d.StartLine, d.EndLine, r.StartLine, r.EndLine) {
			hits = append(hits, d)
		}
	}
	return hits
}
