package diff

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func lines(ls ...string) string {
	return strings.Join(ls, "\n") + "\n"
}

func TestParseHunks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []ChangedRange
	}{
		{
			name: "empty input",
			text: "",
			want: nil,
		},
		{
			name: "pure addition inside a function",
			text: lines(
				"@@ -10,5 +10,7 @@ export class UserService {",
				"   async createUser(name: string) {",
				"     const user = { name };",
				"+    validate(user);",
				"+    audit(user);",
				"     return this.repo.insert(user);",
				"   }",
				" ",
			),
			want: []ChangedRange{{StartLine: 12, EndLine: 13, Type: Added}},
		},
		{
			name: "pure deletion anchors at the new-file cursor",
			text: lines(
				"@@ -5,3 +5,2 @@",
				" a",
				"-b",
				" c",
			),
			want: []ChangedRange{{StartLine: 6, EndLine: 6, Type: Deleted}},
		},
		{
			name: "deletion followed by addition is modified",
			text: lines(
				"@@ -1,3 +1,3 @@",
				" a",
				"-b",
				"+B",
				" c",
			),
			want: []ChangedRange{{StartLine: 2, EndLine: 2, Type: Modified}},
		},
		{
			name: "addition followed by deletion is modified",
			text: lines(
				"@@ -1,3 +1,3 @@",
				" a",
				"+x",
				"-y",
				" c",
			),
			want: []ChangedRange{{StartLine: 2, EndLine: 2, Type: Modified}},
		},
		{
			name: "context line splits runs",
			text: lines(
				"@@ -1,4 +1,6 @@",
				" a",
				"+b",
				" c",
				"+d",
				"+e",
				" f",
			),
			want: []ChangedRange{
				{StartLine: 2, EndLine: 2, Type: Added},
				{StartLine: 4, EndLine: 5, Type: Added},
			},
		},
		{
			name: "open run is flushed by the next hunk header",
			text: lines(
				"@@ -1,1 +1,2 @@",
				" a",
				"+b",
				"@@ -10 +11,2 @@",
				"+c",
				" d",
			),
			want: []ChangedRange{
				{StartLine: 2, EndLine: 2, Type: Added},
				{StartLine: 11, EndLine: 11, Type: Added},
			},
		},
		{
			name: "open run is flushed at end of input",
			text: "@@ -3,0 +4,2 @@\n+x\n+y",
			want: []ChangedRange{{StartLine: 4, EndLine: 5, Type: Added}},
		},
		{
			name: "no newline marker is ignored",
			text: lines(
				"@@ -1 +1 @@",
				"-old",
				`\ No newline at end of file`,
				"+new",
				`\ No newline at end of file`,
			),
			want: []ChangedRange{{StartLine: 1, EndLine: 1, Type: Modified}},
		},
		{
			name: "new file",
			text: lines(
				"--- /dev/null",
				"+++ b/src/new.ts",
				"@@ -0,0 +1,3 @@",
				"+a",
				"+b",
				"+c",
			),
			want: []ChangedRange{{StartLine: 1, EndLine: 3, Type: Added}},
		},
		{
			name: "deleted file anchors at line one",
			text: lines(
				"--- a/src/old.ts",
				"+++ /dev/null",
				"@@ -1,2 +0,0 @@",
				"-a",
				"-b",
			),
			want: []ChangedRange{{StartLine: 1, EndLine: 1, Type: Deleted}},
		},
		{
			name: "lines outside a hunk are ignored",
			text: lines(
				"diff --git a/x.ts b/x.ts",
				"index 111..222 100644",
				"--- a/x.ts",
				"+++ b/x.ts",
				"+not in a hunk",
			),
			want: nil,
		},
		{
			name: "header for the next file ends the hunk",
			text: lines(
				"@@ -1 +1,2 @@",
				" a",
				"+b",
				"diff --git a/y.ts b/y.ts",
				"--- a/y.ts",
				"+++ b/y.ts",
				"+ignored",
			),
			want: []ChangedRange{{StartLine: 2, EndLine: 2, Type: Added}},
		},
		{
			name: "out of order hunks are sorted",
			text: lines(
				"@@ -20 +20,2 @@",
				" a",
				"+b",
				"@@ -1 +1,2 @@",
				" a",
				"+b",
			),
			want: []ChangedRange{
				{StartLine: 2, EndLine: 2, Type: Added},
				{StartLine: 21, EndLine: 21, Type: Added},
			},
		},
		{
			name: "removed line starting with dashes",
			text: lines(
				"@@ -1,3 +1,2 @@",
				" a",
				"---count;",
				" c",
			),
			want: []ChangedRange{{StartLine: 2, EndLine: 2, Type: Deleted}},
		},
		{
			name: "added line starting with pluses advances the cursor",
			text: lines(
				"@@ -1,2 +1,4 @@",
				" a",
				"+++count;",
				" b",
				"+x",
			),
			want: []ChangedRange{
				{StartLine: 2, EndLine: 2, Type: Added},
				{StartLine: 4, EndLine: 4, Type: Added},
			},
		},
		{
			name: "file markers after a finished hunk are skipped",
			text: lines(
				"@@ -1 +1,2 @@",
				" a",
				"+b",
				"--- a/y.ts",
				"+++ b/y.ts",
				"@@ -5 +5 @@",
				"-p",
				"+q",
			),
			want: []ChangedRange{
				{StartLine: 2, EndLine: 2, Type: Added},
				{StartLine: 5, EndLine: 5, Type: Modified},
			},
		},
		{
			name: "CRLF line endings",
			text: "@@ -1,2 +1,3 @@\r\n a\r\n+b\r\n c\r\n",
			want: []ChangedRange{{StartLine: 2, EndLine: 2, Type: Added}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseHunks(tt.text))
		})
	}
}

func TestNormalizeRanges(t *testing.T) {
	got := normalizeRanges([]ChangedRange{
		{StartLine: 5, EndLine: 8, Type: Added},
		{StartLine: 1, EndLine: 2, Type: Deleted},
		{StartLine: 7, EndLine: 10, Type: Deleted},
	})
	assert.Equal(t, []ChangedRange{
		{StartLine: 1, EndLine: 2, Type: Deleted},
		{StartLine: 5, EndLine: 10, Type: Modified},
	}, got)
}

// genDiff draws an arbitrary, possibly malformed, single-file diff body.
func genDiff(t *rapid.T) string {
	var b strings.Builder
	hunks := rapid.IntRange(0, 6).Draw(t, "hunks")
	for h := 0; h < hunks; h++ {
		start := rapid.IntRange(0, 200).Draw(t, "newStart")
		fmt.Fprintf(&b, "@@ -%d,3 +%d,3 @@\n", start, start)
		n := rapid.IntRange(0, 30).Draw(t, "lines")
		for i := 0; i < n; i++ {
			prefix := rapid.SampledFrom([]string{"+", "-", " ", `\`, "+++", "---"}).Draw(t, "prefix")
			b.WriteString(prefix + "x\n")
		}
	}
	return b.String()
}

func TestParseHunks_OrderedAndDisjoint(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ranges := ParseHunks(genDiff(t))
		for i, r := range ranges {
			if r.StartLine > r.EndLine {
				t.Fatalf("range %d inverted: %+v", i, r)
			}
			if r.StartLine < 1 {
				t.Fatalf("range %d starts before line 1: %+v", i, r)
			}
			switch r.Type {
			case Added, Deleted, Modified:
			default:
				t.Fatalf("range %d has unknown type %q", i, r.Type)
			}
			if i > 0 && ranges[i-1].EndLine >= r.StartLine {
				t.Fatalf("ranges %d and %d overlap or are unordered: %+v %+v", i-1, i, ranges[i-1], r)
			}
		}
	})
}

func TestParseHunks_PureAdditionsAreAdded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := rapid.IntRange(1, 500).Draw(t, "start")
		n := rapid.IntRange(1, 20).Draw(t, "added")
		text := fmt.Sprintf("@@ -%d,0 +%d,%d @@\n%s", start, start, n, strings.Repeat("+line\n", n))
		ranges := ParseHunks(text)
		if len(ranges) != 1 {
			t.Fatalf("expected one range, got %+v", ranges)
		}
		want := ChangedRange{StartLine: start, EndLine: start + n - 1, Type: Added}
		if ranges[0] != want {
			t.Fatalf("got %+v, want %+v", ranges[0], want)
		}
	})
}
