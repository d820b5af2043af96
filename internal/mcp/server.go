// Package mcp provides an MCP (Model Context Protocol) server for buildlens.
// Agents can ask which tests a change impacts without running anything.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/buildlens/buildlens/internal/config"
	"github.com/buildlens/buildlens/internal/coverage"
	"github.com/buildlens/buildlens/internal/impact"
	"github.com/buildlens/buildlens/internal/output"
	"github.com/buildlens/buildlens/internal/store"
	"github.com/buildlens/buildlens/internal/workflow"
)

// Tool names.
const (
	ToolSelect       = "buildlens_select"
	ToolTestsForFile = "buildlens_tests_for_file"
	ToolStatus       = "buildlens_status"
)

// AllTools lists all available tools.
var AllTools = []string{ToolSelect, ToolTestsForFile, ToolStatus}

// Server wraps the MCP server with buildlens tools.
type Server struct {
	mcpServer    *server.MCPServer
	env          Env
	tools        map[string]bool
	lastActivity time.Time
	timeout      time.Duration
	mu           sync.RWMutex
}

// Config holds server configuration
type Config struct {
	Tools   []string      // Which tools to expose (empty = all)
	Timeout time.Duration // Inactivity timeout (0 = no timeout)
	Version string
}

// Env is what the tools read from. The server does not own it; callers
// close the store.
type Env struct {
	Project  *config.Config
	Store    *store.Store
	VCS      workflow.VCS
	Resolver *impact.Resolver
	Logger   *slog.Logger
}

// New creates a new MCP server over env.
func New(cfg Config, env Env) (*Server, error) {
	if env.Project == nil || env.Store == nil || env.VCS == nil || env.Resolver == nil {
		return nil, fmt.Errorf("mcp: incomplete environment")
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcpServer:    server.NewMCPServer("buildlens", version, server.WithToolCapabilities(false)),
		env:          env,
		tools:        make(map[string]bool),
		lastActivity: time.Now(),
		timeout:      cfg.Timeout,
	}

	toolsToRegister := cfg.Tools
	if len(toolsToRegister) == 0 {
		toolsToRegister = AllTools
	}
	for _, name := range toolsToRegister {
		if err := s.registerTool(name); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", name, err)
		}
		s.tools[name] = true
	}
	return s, nil
}

func (s *Server) registerTool(name string) error {
	switch name {
	case ToolSelect:
		s.mcpServer.AddTool(mcp.NewTool(ToolSelect,
			mcp.WithDescription("List the tests impacted by changes between two git refs. Never runs tests."),
			mcp.WithString("base", mcp.Description("Base ref to diff against (default: configured base ref)")),
			mcp.WithString("head", mcp.Description("Head ref (default: HEAD)")),
			mcp.WithString("match", mcp.Description("How changed functions map to stored ones: exact, overlap, file")),
		), s.handle(ToolSelect))
	case ToolTestsForFile:
		s.mcpServer.AddTool(mcp.NewTool(ToolTestsForFile,
			mcp.WithDescription("Show the learned tests linked to the functions of a source file."),
			mcp.WithString("file", mcp.Required(), mcp.Description("Source file path relative to the project root")),
			mcp.WithString("function", mcp.Description("Only this function or method")),
		), s.handle(ToolTestsForFile))
	case ToolStatus:
		s.mcpServer.AddTool(mcp.NewTool(ToolStatus,
			mcp.WithDescription("Show graph counts, the store backend and test files with no learned tests."),
		), s.handle(ToolStatus))
	default:
		return fmt.Errorf("unknown tool: %s", name)
	}
	return nil
}

func (s *Server) handle(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.updateActivity()
		result, err := s.CallTool(ctx, name, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	if s.timeout > 0 {
		go s.timeoutChecker()
	}
	return server.ServeStdio(s.mcpServer)
}

// timeoutChecker exits the process after the inactivity timeout.
func (s *Server) timeoutChecker() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if s.idle() > s.timeout {
			s.env.Logger.Info("mcp server idle, exiting", "timeout", s.timeout)
			os.Exit(0)
		}
	}
}

func (s *Server) idle() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActivity)
}

func (s *Server) updateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// ListTools returns the registered tool names, sorted.
func (s *Server) ListTools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]string, 0, len(s.tools))
	for t := range s.tools {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools
}

// CallTool dispatches a tool call by name and returns the JSON result.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.mu.RLock()
	registered := s.tools[name]
	s.mu.RUnlock()
	if !registered {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	var (
		v   any
		err error
	)
	switch name {
	case ToolSelect:
		base, _ := args["base"].(string)
		head, _ := args["head"].(string)
		match, _ := args["match"].(string)
		v, err = s.executeSelect(ctx, base, head, match)
	case ToolTestsForFile:
		file, _ := args["file"].(string)
		if file == "" {
			return "", fmt.Errorf("file parameter is required")
		}
		function, _ := args["function"].(string)
		v, err = workflow.LinkedTests(ctx, s.env.Store, coverage.NormalizePath(file, s.env.Project.Root), function)
	case ToolStatus:
		matcher := coverage.NewTestFileMatcher(s.env.Project.Learn.TestFilePatterns)
		v, err = workflow.Status(ctx, s.env.Store, s.env.Project.Root, matcher)
	}
	if err != nil {
		return "", err
	}
	return output.NewJSONFormatter().Format(v)
}

// executeSelect always dry-runs; a tool call never starts jest.
func (s *Server) executeSelect(ctx context.Context, base, head, match string) (*workflow.SelectReport, error) {
	cfg := s.env.Project
	if match == "" {
		match = cfg.Select.Match
	}
	mode, err := workflow.ParseMatchMode(match)
	if err != nil {
		return nil, err
	}
	if head == "" {
		head = cfg.Diff.HeadRef
	}

	flow := workflow.NewSelectWorkflow(s.env.VCS, nil, s.env.Resolver, s.env.Store,
		workflow.WithSelectLogger(s.env.Logger))
	report, err := flow.Run(ctx, workflow.SelectOptions{
		BaseRef:       config.ResolveBaseRef(base, cfg, os.Getenv),
		HeadRef:       head,
		Extensions:    cfg.Diff.Extensions,
		Match:         mode,
		FallbackToAll: cfg.Select.FallbackToAll,
		DryRun:        true,
	})
	if report != nil && err != nil && ctx.Err() == nil {
		// Fail-safe already chose the full suite; surface the cause in the report.
		report.Warnings = append(report.Warnings, impact.Warning{Message: err.Error()})
		return report, nil
	}
	return report, err
}
