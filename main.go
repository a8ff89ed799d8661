// Package main is the entry point of the orgpulse CLI.
package main

import (
	"github.com/huangsam/orgpulse/cmd"
	"github.com/huangsam/orgpulse/internal/contract"
)

func main() {
	err := cmd.Execute()
	if closeErr := cmd.Shutdown(); closeErr != nil {
		contract.LogWarn("Failed to close store", closeErr)
	}
	if err != nil {
		contract.LogFatal("Command failed", err)
	}
}
