package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

type checkState int

const (
	checkOK checkState = iota
	checkSkipped
	checkFailed
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

const checkLabelWidth = 20

func renderCheckLine(label string, state checkState, detail string, colorize bool) string {
	status := fmt.Sprintf("[%s]", checkStateLabel(state))
	if detail != "" {
		status += " " + detail
	}
	line := fmt.Sprintf("  %-*s %s", checkLabelWidth, label+":", status)
	if colorize {
		return checkStateColor(state) + line + ansiReset
	}
	return line
}

func checkStateLabel(state checkState) string {
	switch state {
	case checkOK:
		return "OK"
	case checkSkipped:
		return "WARN"
	default:
		return "FAIL"
	}
}

func checkStateColor(state checkState) string {
	switch state {
	case checkOK:
		return ansiGreen
	case checkSkipped:
		return ansiYellow
	default:
		return ansiRed
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
