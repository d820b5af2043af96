package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToolName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"select", "buildlens_select"},
		{"buildlens_select", "buildlens_select"},
		{"status", "buildlens_status"},
		{"tests_for_file", "buildlens_tests_for_file"},
		{"nonexistent", "buildlens_nonexistent"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeToolName(tt.input), tt.input)
	}
}

func TestParseToolList(t *testing.T) {
	assert.Nil(t, parseToolList(""))
	assert.Equal(t, []string{"buildlens_select", "buildlens_status"}, parseToolList(" select, ,buildlens_status"))
}

func TestParseDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{"": 0, "0": 0, "30m": 30 * time.Minute, "90s": 90 * time.Second} {
		got, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseDuration("soon")
	assert.Error(t, err)
}

func TestCallCmdRequiresToolOrFlag(t *testing.T) {
	callList, callPipe = false, false
	err := runCall(callCmd, []string{})
	assert.ErrorContains(t, err, "tool name required")
}

func TestBuildCommandInfo(t *testing.T) {
	info := buildCommandInfo(rootCmd)
	assert.Equal(t, "buildlens", info.Name)

	names := make(map[string]CommandInfo)
	for _, sub := range info.Subcommands {
		names[sub.Name] = sub
	}
	for _, want := range []string{"init", "learn", "select", "status", "tests", "reset", "serve", "call"} {
		assert.Contains(t, names, want)
	}

	var flags []string
	for _, f := range names["select"].Flags {
		flags = append(flags, f.Name)
	}
	assert.Subset(t, flags, []string{"base", "head", "match", "no-fallback", "dry-run"})
}
