package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildlens/buildlens/internal/config"
	"github.com/buildlens/buildlens/internal/diff"
	"github.com/buildlens/buildlens/internal/extract"
	"github.com/buildlens/buildlens/internal/impact"
	"github.com/buildlens/buildlens/internal/mcp"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server for AI agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Agents can ask which tests a change would run, or which tests cover a file,
without spawning the CLI for every question. Selection through MCP is always
a dry run; the server never starts jest.

Available Tools:
  buildlens_select          Impacted tests for a diff (dry run)
  buildlens_tests_for_file  Tests linked to a file's functions
  buildlens_status          Graph counts and unlearned test files

Examples:
  buildlens serve                        # Start with all tools
  buildlens serve --tools select,status  # Start with specific tools only
  buildlens serve --timeout 30m          # Auto-stop after 30 minutes idle
  buildlens serve --status               # Check if server is running
  buildlens serve --stop                 # Stop running server
  buildlens serve --list-tools           # Show available tools`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveTools     string
	serveTimeout   string
	serveStatus    bool
	serveStop      bool
	serveListTools bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveTools, "tools", "", "Comma-separated list of tools to expose (default: all)")
	serveCmd.Flags().StringVar(&serveTimeout, "timeout", "30m", "Inactivity timeout (0 for no timeout)")
	serveCmd.Flags().BoolVar(&serveStatus, "status", false, "Check if server is running")
	serveCmd.Flags().BoolVar(&serveStop, "stop", false, "Stop running server")
	serveCmd.Flags().BoolVar(&serveListTools, "list-tools", false, "List available tools")
}

func runServe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if serveListTools {
		fmt.Fprintln(out, "Available MCP tools:")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  buildlens_select          Impacted tests for a diff (dry run)")
		fmt.Fprintln(out, "  buildlens_tests_for_file  Tests linked to a file's functions")
		fmt.Fprintln(out, "  buildlens_status          Graph counts and unlearned test files")
		return nil
	}
	if serveStatus {
		return checkServerStatus(cmd)
	}
	if serveStop {
		return stopServer(cmd)
	}

	timeout, err := parseDuration(serveTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	server, err := newMCPServer(s, parseToolList(serveTools), timeout)
	if err != nil {
		return err
	}

	if err := writePIDFile(); err != nil {
		s.logger.Warn("could not write PID file", "error", err)
	}
	defer removePIDFile()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		s.logger.Info("mcp server shutting down")
		s.close()
		removePIDFile()
		os.Exit(0)
	}()

	// stdout carries the MCP protocol; logs stay on stderr.
	s.logger.Info("starting MCP server", "tools", server.ListTools(), "timeout", timeout)
	return server.ServeStdio()
}

// newMCPServer wires the MCP tools over an open session.
func newMCPServer(s *session, tools []string, timeout time.Duration) (*mcp.Server, error) {
	analyzer, err := extract.NewAnalyzer(s.cfg.Root, extract.DefaultCacheSize, s.logger)
	if err != nil {
		return nil, err
	}
	server, err := mcp.New(mcp.Config{
		Tools:   tools,
		Timeout: timeout,
		Version: Version,
	}, mcp.Env{
		Project:  s.cfg,
		Store:    s.store,
		VCS:      diff.NewGitDiff(s.cfg.Root),
		Resolver: impact.NewResolver(analyzer, impact.WithLogger(s.logger), impact.WithConcurrency(s.cfg.Select.Concurrency)),
		Logger:   s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	return server, nil
}

// parseToolList splits a comma-separated list of tool names.
func parseToolList(s string) []string {
	var tools []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tools = append(tools, normalizeToolName(t))
		}
	}
	return tools
}

func parseDuration(s string) (time.Duration, error) {
	if s == "0" || s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func getPIDFilePath() (string, error) {
	dir, err := config.FindConfigDir(".")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "serve.pid"), nil
}

func writePIDFile() error {
	pidPath, err := getPIDFilePath()
	if err != nil {
		return err
	}
	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func removePIDFile() {
	pidPath, err := getPIDFilePath()
	if err != nil {
		return
	}
	os.Remove(pidPath)
}

// readPID returns the running server's process, or nil with a reason.
func readPID() (*os.Process, int, string) {
	pidPath, err := getPIDFilePath()
	if err != nil {
		return nil, 0, "buildlens not initialized"
	}
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return nil, 0, ""
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		removePIDFile()
		return nil, 0, "invalid PID file"
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		removePIDFile()
		return nil, pid, ""
	}
	// On Unix, FindProcess always succeeds, so send signal 0 to check
	if err := process.Signal(syscall.Signal(0)); err != nil {
		removePIDFile()
		return nil, pid, "stale PID file"
	}
	return process, pid, ""
}

func checkServerStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	process, pid, reason := readPID()
	if process == nil {
		if reason != "" {
			fmt.Fprintf(out, "Status: not running (%s)\n", reason)
		} else {
			fmt.Fprintln(out, "Status: not running")
		}
		return nil
	}
	fmt.Fprintf(out, "Status: running (PID %d)\n", pid)
	return nil
}

func stopServer(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	process, pid, _ := readPID()
	if process == nil {
		fmt.Fprintln(out, "No server running")
		return nil
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile()
		fmt.Fprintln(out, "Server already stopped")
		return nil
	}
	fmt.Fprintf(out, "Stopped server (PID %d)\n", pid)
	return nil
}
