package cmd

import (
	"github.com/spf13/cobra"

	"github.com/buildlens/buildlens/internal/coverage"
	"github.com/buildlens/buildlens/internal/workflow"
)

// testsCmd represents the tests command
var testsCmd = &cobra.Command{
	Use:   "tests <file> [function]",
	Short: "Show the tests linked to a source file",
	Long: `List the learned functions of a source file and the tests linked to each.

A function argument narrows the output to that function. A bare method name
matches its class-qualified form, so "createUser" finds
"UserService.createUser".

Examples:
  buildlens tests src/user.service.ts
  buildlens tests src/user.service.ts createUser`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTests,
}

func init() {
	rootCmd.AddCommand(testsCmd)
}

func runTests(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	var function string
	if len(args) == 2 {
		function = args[1]
	}
	file := coverage.NormalizePath(absPath(args[0]), s.cfg.Root)

	out, err := workflow.LinkedTests(cmd.Context(), s.store, file, function)
	if err != nil {
		return err
	}
	if len(out.Functions) == 0 {
		s.logger.Warn("no learned functions", "file", file, "function", function)
	}
	return writeReport(cmd, out)
}
