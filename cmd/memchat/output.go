package main

import (
	"fmt"
	"os"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + ansiReset
}

// notify writes one tagged line to stderr. Chat replies go to stdout so
// piped output stays clean; everything about the session goes here.
func notify(color, tag, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, tag+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notify(ansiGreen, "✓", format, args...) }

func printError(format string, args ...any) { notify(ansiRed, "✗", format, args...) }

func printWarning(format string, args ...any) { notify(ansiYellow, "⚠", format, args...) }

// printStatus renders one "Label: value" line of the status report.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(ansiBold, label+":"), fmt.Sprintf(format, args...))
}

// printFact renders one freshly extracted fact under a chat reply.
func printFact(fact string) {
	fmt.Fprintln(os.Stderr, colorize(ansiCyan, "  + "+fact))
}
