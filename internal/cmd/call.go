package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buildlens/buildlens/internal/mcp"
)

var (
	callList bool
	callPipe bool
)

var callCmd = &cobra.Command{
	Use:   "call [tool] [json-args]",
	Short: "Call an MCP tool once from the command line",
	Long: `Call any buildlens MCP tool with JSON input and print its JSON result.

Modes:
  buildlens call --list                       List tool names
  buildlens call <tool> '{"key":"value"}'     Call a tool with JSON args
  buildlens call --pipe                       Read JSON lines from stdin

Tool names accept shorthand: "status" is equivalent to "buildlens_status".

Examples:
  buildlens call status
  buildlens call select '{"base":"origin/main"}'
  buildlens call tests_for_file '{"file":"src/user.service.ts"}'
  echo '{"tool":"status","args":{}}' | buildlens call --pipe`,
	Args: cobra.MaximumNArgs(2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().BoolVar(&callList, "list", false, "List all available tools")
	callCmd.Flags().BoolVar(&callPipe, "pipe", false, "Read JSON lines from stdin (pipe mode)")
}

func runCall(cmd *cobra.Command, args []string) error {
	if callList {
		for _, name := range mcp.AllTools {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}
	if !callPipe && len(args) == 0 {
		return fmt.Errorf("tool name required (run 'buildlens call --list' to see available tools)")
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	srv, err := newMCPServer(s, mcp.AllTools, 0)
	if err != nil {
		return err
	}

	if callPipe {
		return runCallPipe(cmd, srv)
	}
	return runCallSingle(cmd, srv, args)
}

func runCallSingle(cmd *cobra.Command, srv *mcp.Server, args []string) error {
	toolArgs := make(map[string]any)
	if len(args) >= 2 {
		if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
			return fmt.Errorf("invalid JSON args: %w", err)
		}
	}

	result, err := srv.CallTool(cmd.Context(), normalizeToolName(args[0]), toolArgs)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

// pipeRequest is the JSON format for pipe mode input.
type pipeRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// pipeResponse is the JSON format for pipe mode output.
type pipeResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func runCallPipe(cmd *cobra.Command, srv *mcp.Server) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	scanner := bufio.NewScanner(cmd.InOrStdin())
	// Allow larger lines (1MB)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		enc.Encode(callLine(cmd, srv, line))
	}
	return scanner.Err()
}

func callLine(cmd *cobra.Command, srv *mcp.Server, line string) pipeResponse {
	var req pipeRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return pipeResponse{Error: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if req.Args == nil {
		req.Args = make(map[string]any)
	}

	result, err := srv.CallTool(cmd.Context(), normalizeToolName(req.Tool), req.Args)
	if err != nil {
		return pipeResponse{Error: err.Error()}
	}
	return pipeResponse{Result: json.RawMessage(result)}
}

// normalizeToolName converts shorthand names to full tool names.
// "status" -> "buildlens_status"
func normalizeToolName(name string) string {
	if !strings.HasPrefix(name, "buildlens_") {
		return "buildlens_" + name
	}
	return name
}
