package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor decides whether CLI output gets ANSI colors. The
// conventions honored, in precedence order: NO_COLOR (any value
// disables, per no-color.org), CLICOLOR_FORCE=1 (color even when
// piped), CLICOLOR=0 (no color), then whether stdout is a terminal.
func ShouldUseColor() bool {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return false
	case strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1":
		return true
	case strings.TrimSpace(os.Getenv("CLICOLOR")) == "0":
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
