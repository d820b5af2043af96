// Package output renders command reports as YAML or JSON.
//
// YAML is the default and is meant to be read in CI logs. JSON carries the
// same structure for tools that post-process reports. Report types that
// belong to a single command live with that command's workflow; this
// package defines the shapes shared by the read-only commands (status,
// tests) and the MCP server.
package output
