package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorWarn   = 178 // amber
	colorBad    = 167 // red
	colorGood   = 108 // green
	colorMuted  = 245 // medium gray
)

var noColor bool

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorAccent, s)
}

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorMuted, s)
}

// RenderState colors a row state: confirmed states green, pending
// states amber, failures red.
func RenderState(state string, failed bool) string {
	if noColor {
		if failed {
			return state + " (failed)"
		}
		return state
	}
	color := colorGood
	switch {
	case failed:
		color = colorBad
	case state == "pending_add" || state == "pending_remove" ||
		state == "pending_lock" || state == "pending_unlock":
		color = colorWarn
	}
	s := state
	if failed {
		s += " (failed)"
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
