package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buildlens/buildlens/internal/store"
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear learned links",
	Long: `Clear learned test/function links so the next learn starts fresh.

Modes:
  buildlens reset                        # Clear every link
  buildlens reset --test file::name      # Clear the links of one test
  buildlens reset --hard --force         # Delete all tests and functions too

Until links are relearned, select falls back to the full suite for any
change whose functions lost their links.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

var (
	resetForce  bool   // Skip confirmation
	resetHard   bool   // Delete tests and functions
	resetTest   string // file::name of a single test
	resetDryRun bool   // Show what would happen
)

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetHard, "hard", false, "Delete all tests and functions (requires --force)")
	resetCmd.Flags().StringVar(&resetTest, "test", "", "Only clear the links of this test (file::name)")
	resetCmd.Flags().BoolVar(&resetDryRun, "dry-run", false, "Show what would be done without making changes")
}

func runReset(cmd *cobra.Command, args []string) error {
	if resetHard && resetTest != "" {
		return fmt.Errorf("--hard and --test are mutually exclusive")
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return err
	}

	var test *store.Test
	if resetTest != "" {
		file, name, ok := strings.Cut(resetTest, "::")
		if !ok || file == "" || name == "" {
			return fmt.Errorf("--test must be file::name, got %q", resetTest)
		}
		test, err = s.store.GetTest(ctx, file, name)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no learned test %s", resetTest)
		}
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "# buildlens reset")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Store: %s (%s)\n", s.store.Location(), s.store.Backend())
	fmt.Fprintf(out, "Tests: %d, functions: %d, links: %d\n", stats.Tests, stats.Functions, stats.Links)
	fmt.Fprintln(out)
	switch {
	case test != nil:
		fmt.Fprintf(out, "Mode: --test (clear links of %s)\n", resetTest)
	case resetHard:
		fmt.Fprintln(out, "Mode: --hard (delete all tests, functions and links)")
	default:
		fmt.Fprintln(out, "Mode: clear all links")
	}
	fmt.Fprintln(out)

	if resetDryRun {
		fmt.Fprintln(out, "[dry-run] No changes made")
		return nil
	}
	if resetHard && !resetForce {
		return fmt.Errorf("--hard requires --force flag to confirm deletion")
	}
	if !resetForce && !confirm(cmd) {
		fmt.Fprintln(out, "Reset cancelled")
		return nil
	}

	switch {
	case test != nil:
		n, err := s.store.ClearLinksForTest(ctx, test.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared %d links\n", n)
	case resetHard:
		if err := s.store.Purge(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Graph deleted")
	default:
		n, err := s.store.ClearAllLinks(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared %d links\n", n)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Run 'buildlens learn' to rebuild the links")
	return nil
}

func confirm(cmd *cobra.Command) bool {
	fmt.Fprint(cmd.OutOrStdout(), "Continue? [y/N] ")
	response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
