package coverage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userServiceCoverage = `{
  "/repo/src/user.service.ts": {
    "path": "/repo/src/user.service.ts",
    "fnMap": {
      "0": {
        "name": "createUser",
        "decl": {"start": {"line": 10, "column": 8}, "end": {"line": 10, "column": 18}},
        "loc": {"start": {"line": 10, "column": 40}, "end": {"line": 20, "column": 3}},
        "line": 10
      },
      "1": {
        "name": "deleteUser",
        "decl": {"start": {"line": 22, "column": 2}, "end": {"line": 30, "column": 3}},
        "loc": {"start": {"line": 22, "column": 2}, "end": {"line": 30, "column": 3}}
      },
      "2": {
        "name": "",
        "loc": {"start": {"line": 35, "column": 0}, "end": {"line": 37, "column": null}}
      }
    },
    "f": {"0": 1, "1": 0, "2": 4},
    "s": {"0": 1}
  },
  "/repo/src/user.service.spec.ts": {
    "path": "/repo/src/user.service.spec.ts",
    "fnMap": {
      "0": {"name": "(anonymous_0)", "decl": {"start": {"line": 3}, "end": {"line": 3}}}
    },
    "f": {"0": 2}
  }
}`

func TestParseSnapshot(t *testing.T) {
	snap, err := ParseSnapshot(strings.NewReader(userServiceCoverage), "/repo")
	require.NoError(t, err)

	assert.Equal(t, []string{"src/user.service.spec.ts", "src/user.service.ts"}, snap.Paths())

	fc := snap.Files["src/user.service.ts"]
	require.NotNil(t, fc)
	assert.Equal(t, "src/user.service.ts", fc.Path)

	fns := fc.Functions()
	require.Len(t, fns, 3)
	assert.Equal(t, CoveredFunction{Name: "createUser", StartLine: 10, EndLine: 10, Count: 1}, fns[0])
	assert.Equal(t, CoveredFunction{Name: "deleteUser", StartLine: 22, EndLine: 30, Count: 0}, fns[1])
	assert.Equal(t, CoveredFunction{Name: AnonymousName, StartLine: 35, EndLine: 37, Count: 4}, fns[2])

	covered := fc.CoveredFunctions()
	require.Len(t, covered, 2)
	assert.Equal(t, "createUser", covered[0].Name)
	assert.Equal(t, AnonymousName, covered[1].Name)
}

func TestParseSnapshot_ClampsInvertedSpan(t *testing.T) {
	input := `{"a.ts": {"fnMap": {"0": {"name": "f", "decl": {"start": {"line": 9}, "end": {"line": 4}}}}, "f": {"0": 1}}}`
	snap, err := ParseSnapshot(strings.NewReader(input), "")
	require.NoError(t, err)

	fns := snap.Files["a.ts"].Functions()
	require.Len(t, fns, 1)
	assert.Equal(t, 9, fns[0].StartLine)
	assert.Equal(t, 9, fns[0].EndLine)
}

func TestParseSnapshot_SkipsFunctionsWithoutSpan(t *testing.T) {
	input := `{"a.ts": {"fnMap": {"0": {"name": "f"}, "1": {"name": "g", "loc": {"start": {"line": 2}, "end": {"line": 3}}}}, "f": {"0": 1, "1": 1}}}`
	snap, err := ParseSnapshot(strings.NewReader(input), "")
	require.NoError(t, err)

	fns := snap.Files["a.ts"].Functions()
	require.Len(t, fns, 1)
	assert.Equal(t, "g", fns[0].Name)
}

func TestParseSnapshot_OrdersByNumericID(t *testing.T) {
	input := `{"a.ts": {"fnMap": {
		"10": {"name": "late", "decl": {"start": {"line": 5}, "end": {"line": 6}}},
		"2": {"name": "early", "decl": {"start": {"line": 5}, "end": {"line": 6}}}
	}, "f": {"10": 1, "2": 1}}}`
	snap, err := ParseSnapshot(strings.NewReader(input), "")
	require.NoError(t, err)

	fns := snap.Files["a.ts"].Functions()
	require.Len(t, fns, 2)
	assert.Equal(t, "early", fns[0].Name)
	assert.Equal(t, "late", fns[1].Name)
}

func TestParseSnapshot_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "coverage"},
		{"truncated", `{"a.ts": {"fnMap": `},
		{"wrong shape", `["a.ts"]`},
		{"bad count", `{"a.ts": {"fnMap": {}, "f": {"0": "one"}}}`},
		{"null entry", `{"a.ts": null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot(strings.NewReader(tt.input), "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedSnapshot), "got %v", err)
		})
	}
}

func TestParseSnapshotFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage-final.json")
	require.NoError(t, os.WriteFile(path, []byte(userServiceCoverage), 0644))

	snap, err := ParseSnapshotFile(path, "/repo")
	require.NoError(t, err)
	assert.Len(t, snap.Files, 2)

	_, err = ParseSnapshotFile(filepath.Join(dir, "missing.json"), "/repo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, errors.Is(err, ErrMalformedSnapshot))
}

func TestNormalizePath(t *testing.T) {
	root := filepath.FromSlash("/repo")
	tests := []struct {
		path string
		want string
	}{
		{filepath.FromSlash("/repo/src/a.ts"), "src/a.ts"},
		{"./src/a.ts", "src/a.ts"},
		{"src/a.ts", "src/a.ts"},
		{filepath.FromSlash("/elsewhere/a.ts"), "/elsewhere/a.ts"},
		{filepath.FromSlash("/repository/a.ts"), "/repository/a.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePath(tt.path, root))
		})
	}
}
