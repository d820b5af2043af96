// Package main is the entry point for the buildlens CLI tool.
package main

import (
	"github.com/buildlens/buildlens/internal/cmd"
)

func main() {
	cmd.Execute()
}
