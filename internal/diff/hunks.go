package diff

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ChangeType classifies a changed range.
type ChangeType string

const (
	// Added marks lines that only exist in the new file.
	Added ChangeType = "added"
	// Deleted marks a position in the new file where old lines were removed.
	Deleted ChangeType = "deleted"
	// Modified marks a run that mixes added and removed lines.
	Modified ChangeType = "modified"
)

// ChangedRange is a contiguous span of lines in the new version of a file.
type ChangedRange struct {
	StartLine int        `yaml:"start_line" json:"start_line"`
	EndLine   int        `yaml:"end_line" json:"end_line"`
	Type      ChangeType `yaml:"type" json:"type"`
}

// hunkHeaderRe matches "@@ -oldStart[,oldCount] +newStart[,newCount] @@".
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// hunkScanner is the line-oriented state machine behind ParseHunks.
// Line numbers are tracked in new-file coordinates. A hunk ends once the
// old and new line counts from its header are used up, so content lines
// that look like "---" or "+++" file markers are still counted.
type hunkScanner struct {
	inHunk  bool
	cursor  int
	oldLeft int
	newLeft int
	open    bool
	run     ChangedRange
	ranges  []ChangedRange
}

// ParseHunks extracts changed line ranges from the unified diff text of a
// single file. Ranges are returned in ascending order and never overlap.
func ParseHunks(text string) []ChangedRange {
	s := &hunkScanner{}
	for _, line := range strings.Split(text, "\n") {
		s.scan(strings.TrimSuffix(line, "\r"))
	}
	s.flush()
	return normalizeRanges(s.ranges)
}

func (s *hunkScanner) scan(line string) {
	if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
		s.flush()
		start, err := strconv.Atoi(m[3])
		if err != nil {
			s.inHunk = false
			return
		}
		s.inHunk = true
		s.oldLeft = hunkCount(m[2])
		s.newLeft = hunkCount(m[4])
		// An empty new file reports +0,0.
		s.cursor = max(start, 1)
		return
	}

	if !s.inHunk {
		return
	}
	if s.oldLeft <= 0 && s.newLeft <= 0 {
		// Past the hunk body: file headers and anything else until the next @@.
		s.flush()
		s.inHunk = false
		return
	}

	switch {
	case strings.HasPrefix(line, "+"):
		s.newLeft--
		s.added()
	case strings.HasPrefix(line, "-"):
		s.oldLeft--
		s.deleted()
	case line == "" || strings.HasPrefix(line, " "):
		s.oldLeft--
		s.newLeft--
		s.flush()
		s.cursor++
	case strings.HasPrefix(line, `\`):
		// "\ No newline at end of file"
	default:
		// Any other line (e.g. the next file's "diff --git" header) ends the hunk.
		s.flush()
		s.inHunk = false
	}
}

// hunkCount reads an optional ",count" group; an omitted count means 1.
func hunkCount(group string) int {
	if group == "" {
		return 1
	}
	n, err := strconv.Atoi(group)
	if err != nil {
		return 0
	}
	return n
}

func (s *hunkScanner) added() {
	if !s.open {
		s.open = true
		s.run = ChangedRange{StartLine: s.cursor, EndLine: s.cursor, Type: Added}
	} else if s.run.Type == Deleted {
		s.run.Type = Modified
	}
	s.run.EndLine = s.cursor
	s.cursor++
}

// Removed lines do not exist in the new file, so they anchor at the cursor
// without advancing it.
func (s *hunkScanner) deleted() {
	if !s.open {
		s.open = true
		s.run = ChangedRange{StartLine: s.cursor, EndLine: s.cursor, Type: Deleted}
		return
	}
	if s.run.Type == Added {
		s.run.Type = Modified
	}
}

func (s *hunkScanner) flush() {
	if !s.open {
		return
	}
	if s.run.EndLine >= s.run.StartLine {
		s.ranges = append(s.ranges, s.run)
	}
	s.open = false
}

// normalizeRanges sorts ranges and merges any that overlap. Well-formed git
// output never needs merging; hand-written or reordered hunks might.
func normalizeRanges(ranges []ChangedRange) []ChangedRange {
	if len(ranges) < 2 {
		return ranges
	}
	sort.SliceStable(ranges, func(i, j int) bool {
		if ranges[i].StartLine != ranges[j].StartLine {
			return ranges[i].StartLine < ranges[j].StartLine
		}
		return ranges[i].EndLine < ranges[j].EndLine
	})

	merged := ranges[:1]
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.StartLine > last.EndLine {
			merged = append(merged, r)
			continue
		}
		if r.EndLine > last.EndLine {
			last.EndLine = r.EndLine
		}
		if r.Type != last.Type {
			last.Type = Modified
		}
	}
	return merged
}
