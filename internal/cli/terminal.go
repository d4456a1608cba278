package cli

import (
	"log/slog"

	"golang.org/x/term"
)

// TerminalDetector reports whether a file descriptor is an interactive
// terminal. The stream command refuses to write its binary output to
// one; an interface keeps the check mockable in tests.
type TerminalDetector interface {
	IsTerminal(fd int) bool
}

// DefaultTerminalDetector is the production implementation using golang.org/x/term
type DefaultTerminalDetector struct{}

// IsTerminal implements TerminalDetector interface
func (d *DefaultTerminalDetector) IsTerminal(fd int) bool {
	isTerminal := term.IsTerminal(fd)

	slog.Debug("terminal detection result",
		"fd", fd,
		"is_terminal", isTerminal)

	return isTerminal
}

// isInteractiveTerminal checks the given file descriptor through the
// configured detector.
func (c *CLI) isInteractiveTerminal(fd int) bool {
	if c.terminalDetector == nil {
		c.terminalDetector = &DefaultTerminalDetector{}
	}

	return c.terminalDetector.IsTerminal(fd)
}
