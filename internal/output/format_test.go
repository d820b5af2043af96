package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/buildlens/buildlens/internal/store"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"yaml", FormatYAML, false},
		{"YAML", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"", FormatYAML, false},
		{" json ", FormatJSON, false},
		{"cgf", "", true},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func sampleStatus() *StatusOutput {
	return &StatusOutput{Backend: "sqlite", Location: ".buildlens/graph.db", Tests: 2, Functions: 3, Links: 6, TestFiles: 2}
}

func TestYAMLFormatter(t *testing.T) {
	out, err := NewYAMLFormatter().Format(sampleStatus())
	require.NoError(t, err)

	assert.Contains(t, out, "backend: sqlite\n")
	assert.Contains(t, out, "links: 6\n")
	assert.NotContains(t, out, "unlearned", "empty lists are omitted")

	var back StatusOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &back))
	assert.Equal(t, *sampleStatus(), back)
}

func TestJSONFormatter(t *testing.T) {
	out, err := NewJSONFormatter().Format(sampleStatus())
	require.NoError(t, err)

	assert.Contains(t, out, "\n  \"backend\": \"sqlite\"")
	var back StatusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	assert.Equal(t, *sampleStatus(), back)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, map[string]int{"a": 1}))
	assert.JSONEq(t, `{"a": 1}`, buf.String())

	assert.Error(t, Write(&buf, Format("cgf"), nil))
}

func TestFormatLocation(t *testing.T) {
	assert.Equal(t, "src/a.ts:10-20", FormatLocation("src/a.ts", 10, 20))
	assert.Equal(t, "src/a.ts:7", FormatLocation("src/a.ts", 7, 7))
}

func TestNewFunctionTests(t *testing.T) {
	fn := store.Function{FilePath: "src/user.service.ts", FunctionName: "createUser", StartLine: 10, EndLine: 20, CommitHash: "abc"}
	tests := []store.Test{
		{FilePath: "src/z.spec.ts", TestName: "z"},
		{FilePath: "src/user.service.spec.ts", TestName: "UserService > should create a user"},
	}

	ft := NewFunctionTests(fn, tests)
	assert.Equal(t, FunctionTests{
		Name:     "createUser",
		Location: "src/user.service.ts:10-20",
		Commit:   "abc",
		Tests:    []string{"src/user.service.spec.ts::UserService > should create a user", "src/z.spec.ts::z"},
	}, ft)
}

func TestUniqueTestFiles(t *testing.T) {
	files := UniqueTestFiles([]store.Test{
		{FilePath: "b.spec.ts", TestName: "1"},
		{FilePath: "a.spec.ts", TestName: "2"},
		{FilePath: "b.spec.ts", TestName: "3"},
	})
	assert.Equal(t, []string{"a.spec.ts", "b.spec.ts"}, files)
	assert.Empty(t, UniqueTestFiles(nil))
}
