// Package main provides the entry point for the agentconfig CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/agentconfig/cmd/agentconfig/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
