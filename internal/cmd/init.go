package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/buildlens/buildlens/internal/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize .buildlens directory and graph store",
	Long: `Initialize the .buildlens directory in the current directory.

This writes a commented .buildlens/config.yaml and creates the graph store
schema. With the default sqlite backend the graph lives in .buildlens/graph.db.
Set store.backend (or DATABASE_URL) to use postgres or dolt instead.

Examples:
  buildlens init          # Initialize in current directory
  buildlens init --force  # Rewrite config.yaml with defaults`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	out := cmd.OutOrStdout()

	configFile := filepath.Join(cwd, config.ConfigDirName, config.ConfigFileName)
	_, err = os.Stat(configFile)
	switch {
	case err == nil && !initForce:
		fmt.Fprintf(out, "Already initialized at %s\n", config.ConfigDirName)
		return nil
	case err == nil || errors.Is(err, os.ErrNotExist):
		if err == nil {
			if err := os.Remove(configFile); err != nil {
				return fmt.Errorf("removing existing config: %w", err)
			}
		}
		if _, err := config.SaveDefault(cwd); err != nil {
			return err
		}
	default:
		return fmt.Errorf("checking config path: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Fprintf(out, "Initialized buildlens at %s (%s store: %s)\n", config.ConfigDirName, st.Backend(), st.Location())
	return nil
}
