package main

import (
	"os"

	"golang.org/x/term"
)

// WantTUI returns true if the CLI should show the TUI: stdout is a terminal
// and --no-tui was not set. Setting SPOTIZERR_NO_TUI disables it globally.
func WantTUI(noTUIFlag bool) bool {
	if noTUIFlag {
		return false
	}
	if os.Getenv("SPOTIZERR_NO_TUI") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
